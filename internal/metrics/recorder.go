// Package metrics records one outcome per processed protocol line and answers
// aggregate questions about them (per-tool usage, server totals, recent
// requests).
//
// The dispatcher only sees the Recorder interface. Recording is fire and
// forget: a Recorder never returns an error and must not block the caller
// for longer than a single local write.
package metrics

import "time"

// Recorder receives the outcome of each processed line.
type Recorder interface {
	RecordRequest(method string, toolName *string, elapsed time.Duration, responseSize int, success bool, errMsg *string)
}

// Nop discards every record. It is used when metrics are disabled or the
// metrics database cannot be opened.
type Nop struct{}

// RecordRequest implements Recorder.
func (Nop) RecordRequest(string, *string, time.Duration, int, bool, *string) {}

// Request is a single recorded outcome.
type Request struct {
	ID                int64   `json:"id"`
	Method            string  `json:"method"`
	ToolName          *string `json:"tool_name"`
	ResponseTimeMs    float64 `json:"response_time_ms"`
	ResponseSizeBytes int     `json:"response_size_bytes"`
	Success           bool    `json:"success"`
	ErrorMessage      *string `json:"error_message"`
	SessionID         string  `json:"session_id,omitempty"`
	Timestamp         int64   `json:"timestamp"`
}

// ToolStats aggregates all recorded calls of one tool.
type ToolStats struct {
	ToolName               string  `json:"tool_name"`
	TotalCalls             int64   `json:"total_calls"`
	SuccessCount           int64   `json:"success_count"`
	ErrorCount             int64   `json:"error_count"`
	AvgResponseTimeMs      float64 `json:"avg_response_time_ms"`
	TotalResponseSizeBytes int64   `json:"total_response_size_bytes"`
	LastCalled             *int64  `json:"last_called"`
}

// ServerStats aggregates every recorded request.
type ServerStats struct {
	TotalRequests     int64       `json:"total_requests"`
	TotalErrors       int64       `json:"total_errors"`
	AvgResponseTimeMs float64     `json:"avg_response_time_ms"`
	UptimeSeconds     int64       `json:"uptime_seconds"`
	ToolStats         []ToolStats `json:"tool_stats"`
}

// SuccessRate returns the percentage of successful requests, or 0 when
// nothing has been recorded.
func (s ServerStats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalRequests-s.TotalErrors) / float64(s.TotalRequests) * 100
}

// ErrorRate returns the percentage of failed requests, or 0 when nothing has
// been recorded.
func (s ServerStats) ErrorRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalErrors) / float64(s.TotalRequests) * 100
}
