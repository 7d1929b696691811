package models

import "time"

// TargetStatus is the state of one external target within a latency test.
type TargetStatus string

const (
	// TargetPending means the probe has not finished yet.
	TargetPending TargetStatus = "pending"
	// TargetSuccess means the probe completed and measured a latency.
	TargetSuccess TargetStatus = "success"
	// TargetFailed means the probe completed with a definitive error.
	TargetFailed TargetStatus = "failed"
	// TargetTimeout means the probe did not answer within its deadline.
	TargetTimeout TargetStatus = "timeout"
)

// Terminal reports whether the target reached a final state.
func (s TargetStatus) Terminal() bool {
	return s == TargetSuccess || s == TargetFailed || s == TargetTimeout
}

// TargetResult is the outcome of probing one external target.
type TargetResult struct {
	Target    string       `json:"target"`
	Status    TargetStatus `json:"status"`
	LatencyMs *int64       `json:"latency_ms,omitempty"`
}

// LatencyTestSession is one run of probing N external targets on behalf of
// a single client vantage point.
type LatencyTestSession struct {
	SessionID   string         `json:"session_id"`
	ClientIP    string         `json:"client_ip"`
	Targets     []TargetResult `json:"targets"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Done reports whether every target reached a terminal status.
func (s *LatencyTestSession) Done() bool {
	for _, t := range s.Targets {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// LatencyStats aggregates a session's terminal outcomes.
type LatencyStats struct {
	Total     int    `json:"total"`
	Pending   int    `json:"pending"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	TimedOut  int    `json:"timed_out"`
	AvgMs     *int64 `json:"avg_ms,omitempty"`
}

// Stats computes aggregate statistics over the session's targets.
func (s *LatencyTestSession) Stats() LatencyStats {
	stats := LatencyStats{Total: len(s.Targets)}
	var sum, count int64
	for _, t := range s.Targets {
		switch t.Status {
		case TargetSuccess:
			stats.Succeeded++
			if t.LatencyMs != nil {
				sum += *t.LatencyMs
				count++
			}
		case TargetFailed:
			stats.Failed++
		case TargetTimeout:
			stats.TimedOut++
		default:
			stats.Pending++
		}
	}
	if count > 0 {
		avg := sum / count
		stats.AvgMs = &avg
	}
	return stats
}
