// Package httpapi implements backend.Invoker against an HTTP messages API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loran-ai/loran/pkg/backend"
	"github.com/loran-ai/loran/pkg/models"
)

const messagesPath = "/v1/messages"

// Client calls a messages-style text-generation endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// New creates a Client for the given endpoint. A zero timeout disables the
// client-side cap; per-call deadlines still apply through the context.
func New(baseURL, apiKey, model string, timeout time.Duration) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// Invoke sends one payload and returns the concatenated generated text.
// Non-2xx responses are returned as *backend.Error with the upstream status.
func (c *Client) Invoke(ctx context.Context, payload string, maxOutput int) (string, error) {
	body, err := json.Marshal(models.MessageRequest{
		Model:     c.model,
		MaxTokens: maxOutput,
		Messages:  []models.Message{{Role: "user", Content: payload}},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Surface the deadline through the context error so callers can
		// classify it, rather than the wrapped url.Error.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &backend.Error{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &backend.Error{Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &backend.Error{
			StatusCode: resp.StatusCode,
			Message:    upstreamMessage(respBody),
		}
	}

	var msg models.MessageResponse
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return "", &backend.Error{Message: fmt.Sprintf("decode response: %v", err)}
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "" || block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

// upstreamMessage extracts the error message from an API error envelope,
// falling back to the raw body.
func upstreamMessage(body []byte) string {
	var envelope models.APIErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}
