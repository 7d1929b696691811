package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/probelabs/fleet-master/internal/metrics"
	"github.com/probelabs/fleet-master/internal/models"
	"github.com/probelabs/fleet-master/pkg/config"
)

// ErrMissingAPIKey means the process-wide agent credential is absent. This
// is fatal for the whole job and is surfaced before any fan-out begins.
var ErrMissingAPIKey = errors.New("agent api key is not configured")

// NodeSource resolves node ids to their last known state.
type NodeSource interface {
	Get(nodeID string) (models.Node, bool)
}

// Dispatcher triggers a diagnostic on many agents concurrently. Per-node
// failures are recorded as rejections and never abort the batch; every
// call is bounded by the configured per-call timeout so one unreachable
// agent cannot delay the rest.
type Dispatcher struct {
	cfg    config.AgentConfig
	nodes  NodeSource
	client Client
	logger *slog.Logger
}

// New creates a dispatcher.
func New(cfg config.AgentConfig, nodes NodeSource, client Client, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:    cfg,
		nodes:  nodes,
		client: client,
		logger: logger,
	}
}

// Dispatch fans the trigger out to every requested node and aggregates the
// outcomes. Duplicate ids are collapsed; each surviving id gets exactly one
// outcome. The only error return is ErrMissingAPIKey.
func (d *Dispatcher) Dispatch(ctx context.Context, nodeIDs []string, kind models.DiagnosticKind) (*models.BulkDiagnosticJob, error) {
	if d.cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	ids := dedupe(nodeIDs)
	job := &models.BulkDiagnosticJob{
		JobID:      uuid.New().String(),
		Kind:       kind,
		Outcomes:   make(map[string]models.NodeOutcome, len(ids)),
		TotalCount: len(ids),
		StartedAt:  time.Now(),
	}

	var mu sync.Mutex
	record := func(nodeID string, outcome models.NodeOutcome) {
		mu.Lock()
		defer mu.Unlock()
		job.Outcomes[nodeID] = outcome
		if outcome.State == models.OutcomeQueued {
			job.QueuedCount++
		}
		metrics.DispatchOutcomes.WithLabelValues(string(outcome.State), outcome.Reason).Inc()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.DispatchConcurrency)

	for _, nodeID := range ids {
		nodeID := nodeID
		g.Go(func() error {
			record(nodeID, d.triggerOne(gctx, nodeID, kind))
			return nil
		})
	}

	// Tasks never return errors; rejections are data.
	_ = g.Wait()
	job.FinishedAt = time.Now()

	d.logger.Info("bulk diagnostic dispatched",
		"job_id", job.JobID,
		"kind", kind,
		"queued", job.QueuedCount,
		"total", job.TotalCount,
	)

	return job, nil
}

// triggerOne resolves and calls a single agent, classifying any failure.
func (d *Dispatcher) triggerOne(ctx context.Context, nodeID string, kind models.DiagnosticKind) models.NodeOutcome {
	node, ok := d.nodes.Get(nodeID)
	if !ok || !node.HasAddress() {
		return models.NodeOutcome{State: models.OutcomeRejected, Reason: models.ReasonUnreachable}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	if err := d.client.Trigger(callCtx, controlHost(node), kind); err != nil {
		reason := classifyReason(err)
		d.logger.Warn("agent trigger rejected",
			"node_id", nodeID,
			"reason", reason,
			"error", err,
		)
		return models.NodeOutcome{State: models.OutcomeRejected, Reason: reason}
	}

	return models.NodeOutcome{State: models.OutcomeQueued}
}

// controlHost picks the node's reachable control address, preferring IPv4.
// IPv6 literals are bracketed for URL use.
func controlHost(node models.Node) string {
	if node.IPv4 != "" {
		return node.IPv4
	}
	return fmt.Sprintf("[%s]", node.IPv6)
}

// classifyReason maps a trigger failure onto the closed rejection taxonomy.
// Transport errors other than timeouts collapse into connection-refused.
func classifyReason(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("http-%d", statusErr.StatusCode)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ReasonTimeout
	}

	return models.ReasonConnectionRefused
}

// dedupe removes duplicate ids while preserving first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
