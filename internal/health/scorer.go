// Package health derives presentation-ready health scores from node telemetry.
package health

import (
	"time"

	"github.com/probelabs/fleet-master/internal/models"
)

// bracket is one tiered penalty: the deduction applies once the metric
// exceeds the threshold. Brackets are checked from highest to lowest and
// only the first applicable one deducts.
type bracket struct {
	threshold float64
	penalty   int
}

var (
	cpuBrackets = []bracket{
		{90, 30},
		{80, 20},
		{70, 10},
		{60, 5},
	}
	memoryBrackets = cpuBrackets
	diskBrackets   = []bracket{
		{95, 20},
		{90, 15},
		{80, 8},
		{70, 3},
	}
)

// Scorer computes health scores and expiry flags from a node's latest
// telemetry. It holds no mutable state and is safe for concurrent use.
type Scorer struct {
	// StalenessWindow is how old the newest sample may be before the node
	// counts as expired.
	StalenessWindow time.Duration
}

// NewScorer creates a Scorer with the given staleness window.
func NewScorer(stalenessWindow time.Duration) *Scorer {
	return &Scorer{StalenessWindow: stalenessWindow}
}

// Score returns an integer health score in [0,100] for the node's current
// status and latest sample. Any non-online status forces a score of 0.
func (s *Scorer) Score(status models.NodeStatus, sample *models.HeartbeatSample) int {
	if status != models.NodeStatusOnline {
		return 0
	}

	score := 100
	if sample != nil {
		score -= penaltyFor(sample.CPUUsage, cpuBrackets)
		score -= penaltyFor(sample.MemoryUsage, memoryBrackets)
		score -= penaltyFor(sample.DiskUsage, diskBrackets)
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Expired reports whether the node's telemetry is older than the staleness
// window at the given instant. Nodes that never sent a heartbeat are
// measured from their registration time.
func (s *Scorer) Expired(sample *models.HeartbeatSample, createdAt, now time.Time) bool {
	reference := createdAt
	if sample != nil {
		reference = sample.CapturedAt
	}
	return now.Sub(reference) > s.StalenessWindow
}

// penaltyFor returns the deduction for the highest bracket the metric
// exceeds, or 0 when the metric is absent or below every threshold.
func penaltyFor(metric *float64, brackets []bracket) int {
	if metric == nil {
		return 0
	}
	for _, b := range brackets {
		if *metric > b.threshold {
			return b.penalty
		}
	}
	return 0
}
