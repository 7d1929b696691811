package models

import "time"

// DiagnosticKind identifies which diagnostic an agent is asked to run.
type DiagnosticKind string

const (
	// DiagnosticServiceRescan asks the agent to re-probe its monitored services.
	DiagnosticServiceRescan DiagnosticKind = "service-rescan"
	// DiagnosticUnlockProbe asks the agent to run its streaming-unlock probe.
	DiagnosticUnlockProbe DiagnosticKind = "unlock-probe"
)

// OutcomeState is the per-node result of a bulk trigger call.
type OutcomeState string

const (
	// OutcomeQueued means the agent acknowledged the trigger call.
	OutcomeQueued OutcomeState = "queued"
	// OutcomeRejected means the trigger call failed for this node only.
	OutcomeRejected OutcomeState = "rejected"
)

// Rejection reasons recorded for failed trigger calls.
const (
	ReasonUnreachable       = "UNREACHABLE"
	ReasonConnectionRefused = "connection-refused"
	ReasonTimeout           = "timeout"
	// Non-2xx responses are recorded as "http-<status>".
)

// NodeOutcome records the result of one node's trigger call.
type NodeOutcome struct {
	State  OutcomeState `json:"state"`
	Reason string       `json:"reason,omitempty"`
}

// BulkDiagnosticJob is one fan-out trigger across a node set.
// Invariant: QueuedCount + rejected count == TotalCount, and every requested
// node id appears exactly once in Outcomes.
type BulkDiagnosticJob struct {
	JobID       string                 `json:"job_id"`
	Kind        DiagnosticKind         `json:"kind"`
	Outcomes    map[string]NodeOutcome `json:"outcomes"`
	QueuedCount int                    `json:"queued_count"`
	TotalCount  int                    `json:"total_count"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
}

// NodeFailure is one rejected node in a bulk report.
type NodeFailure struct {
	NodeID string `json:"node_id"`
	Reason string `json:"reason"`
}

// BulkReport is the aggregate response for a bulk diagnostic job. A report
// with failures is still a successful response; partial failure is data.
type BulkReport struct {
	JobID    string        `json:"job_id"`
	Queued   int           `json:"queued"`
	Total    int           `json:"total"`
	Failures []NodeFailure `json:"failures"`
}

// Report derives the aggregate report from the job's outcomes.
func (j *BulkDiagnosticJob) Report() BulkReport {
	report := BulkReport{
		JobID:    j.JobID,
		Queued:   j.QueuedCount,
		Total:    j.TotalCount,
		Failures: []NodeFailure{},
	}
	for nodeID, outcome := range j.Outcomes {
		if outcome.State == OutcomeRejected {
			report.Failures = append(report.Failures, NodeFailure{
				NodeID: nodeID,
				Reason: outcome.Reason,
			})
		}
	}
	return report
}
