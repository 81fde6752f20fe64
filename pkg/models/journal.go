package models

import "time"

// CallRecord is the journal entry for one resolved gateway call.
type CallRecord struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	Kind      string    `json:"kind,omitempty"`
	Attempts  int       `json:"attempts"`
	CacheHit  bool      `json:"cache_hit"`
	Batched   bool      `json:"batched"`
	Fallback  bool      `json:"fallback"`
	Success   bool      `json:"success"`
	LatencyMs int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// OperationSummary aggregates journal records per operation label.
type OperationSummary struct {
	Operation    string  `json:"operation"`
	Calls        int64   `json:"calls"`
	Successes    int64   `json:"successes"`
	Failures     int64   `json:"failures"`
	CacheHits    int64   `json:"cache_hits"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}
