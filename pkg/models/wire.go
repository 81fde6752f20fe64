package models

// Message is a single message in an upstream messages-API request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessageRequest is the JSON body of a messages-API call.
type MessageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []Message `json:"messages"`
}

// ContentBlock is a block of generated content in a messages-API response.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// MessageResponse is the JSON body of a successful messages-API response.
type MessageResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason,omitempty"`
}

// APIErrorDetail carries the upstream error type and message.
type APIErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// APIErrorResponse is the JSON error envelope returned by the upstream API.
type APIErrorResponse struct {
	Error APIErrorDetail `json:"error"`
}
