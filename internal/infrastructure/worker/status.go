package worker

import "time"

// Status reports worker health and counters
type Status struct {
	IsRunning      bool      `json:"is_running"`
	StartedAt      time.Time `json:"started_at"`
	LastProcessed  time.Time `json:"last_processed"`
	ProcessedCount int       `json:"processed_count"`
	FailedCount    int       `json:"failed_count"`
	QueueDepth     int       `json:"queue_depth"`
	QueueCapacity  int       `json:"queue_capacity,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}
