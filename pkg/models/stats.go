package models

import "time"

// CacheStats reports cache performance counters.
type CacheStats struct {
	Size      int   `json:"size"`
	MaxSize   int   `json:"max_size,omitempty"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions,omitempty"`
}

// BatchStats reports cumulative batch coalescing counters.
type BatchStats struct {
	Batches      int64   `json:"batches"`
	Items        int64   `json:"items"`
	AvgBatchSize float64 `json:"avg_batch_size"`
}

// RateStats reports the adaptive rate controller's state.
type RateStats struct {
	Successes    int64         `json:"successes"`
	Failures     int64         `json:"failures"`
	SuccessRate  float64       `json:"success_rate"`
	CurrentDelay time.Duration `json:"current_delay"`
}

// BreakerStats reports the circuit breaker's state.
type BreakerStats struct {
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// GatewayStats aggregates counters across all gateway components.
type GatewayStats struct {
	Calls     int64        `json:"calls"`
	Successes int64        `json:"successes"`
	Failures  int64        `json:"failures"`
	CacheHits int64        `json:"cache_hits"`
	Fallbacks int64        `json:"fallbacks"`
	Cache     CacheStats   `json:"cache"`
	Batch     BatchStats   `json:"batch"`
	Rate      RateStats    `json:"rate"`
	Breaker   BreakerStats `json:"breaker"`
}
