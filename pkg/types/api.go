package types

// TaskSnapshot is an atomically consistent view of one task, as returned by a poll.
type TaskSnapshot struct {
	// Task identifier.
	// example: 7
	ID int64 `json:"id"`
	// Correlates log lines of one task.
	TraceID string `json:"trace_id,omitempty"`
	// One of queued, running, finished, error, interrupted, invalid_id.
	// example: running
	Status string `json:"status"`
	// Generated text so far, truncated to the poll capacity.
	Text string `json:"text"`
	// True when Text was cut to fit the poll capacity.
	Truncated bool `json:"truncated,omitempty"`
	// Tokens generated so far.
	// example: 12
	GeneratedTokens int `json:"generated_tokens"`
	// Upper bound on generated tokens.
	// example: 128
	MaxTokens int `json:"max_tokens"`
	// Diagnostic for tasks that ended in error.
	Error string `json:"error,omitempty"`
	// True when this poll observed a terminal status and retired the task.
	Retired bool `json:"retired,omitempty"`
}

// StatusResponse summarizes the live tasks held by a manager.
type StatusResponse struct {
	// Live tasks per status.
	Queued      int `json:"queued"`
	Running     int `json:"running"`
	Finished    int `json:"finished"`
	Errored     int `json:"error"`
	Interrupted int `json:"interrupted"`
	// Tasks whose worker goroutine has not returned yet.
	// example: 2
	Workers int `json:"workers"`
	// Maximum concurrently decoding tasks, 0 when unbounded.
	// example: 4
	MaxConcurrent int `json:"max_concurrent"`
	// Next task id to be assigned.
	NextID int64 `json:"next_id"`
	// Uptime of the manager in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds"`
	// Total tokens generated since start.
	TokensTotal uint64 `json:"tokens_total"`
	// True after Shutdown.
	Closed bool `json:"closed,omitempty"`
}

// ErrorResponse is a consistent JSON error payload printed by the CLI.
type ErrorResponse struct {
	// Error message.
	// example: invalid task id 9
	Error string `json:"error"`
	// Process exit code.
	// example: 1
	Code int `json:"code"`
}
