// Package latency runs external-target latency tests: a server-side session
// service that probes targets on behalf of a client, and the client-side
// coordinator that starts a session and polls it to completion.
package latency

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

// ErrSessionNotFound is returned when polling an unknown session id.
var ErrSessionNotFound = errors.New("latency session not found")

// Prober measures the round-trip to one external target.
type Prober interface {
	// Probe returns the measured latency. It must respect the context
	// deadline; a deadline error is classified as a target timeout.
	Probe(ctx context.Context, target string) (time.Duration, error)
}

// TCPProber measures latency as the time to establish a TCP connection.
type TCPProber struct{}

// Probe dials the target and returns the connection setup time.
func (TCPProber) Probe(ctx context.Context, target string) (time.Duration, error) {
	var d net.Dialer
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return 0, fmt.Errorf("dialing %s: %w", target, err)
	}
	elapsed := time.Since(start)
	_ = conn.Close()
	return elapsed, nil
}

// retainCompleted is how long finished sessions stay pollable. Polling after
// completion is part of the contract; unbounded retention is not.
const retainCompleted = time.Hour

// Service owns latency test sessions. Starting a session kicks off parallel
// probes against every configured target; results accumulate in the session
// and polling is idempotent, safe at any time including after completion.
type Service struct {
	cfg    config.LatencyConfig
	prober Prober
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*models.LatencyTestSession
}

// NewService creates a session service. A nil prober defaults to TCP dialing.
func NewService(cfg config.LatencyConfig, prober Prober, logger *slog.Logger) *Service {
	if prober == nil {
		prober = TCPProber{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		prober:   prober,
		logger:   logger,
		sessions: make(map[string]*models.LatencyTestSession),
	}
}

// StartSession creates a session for the given client vantage point and
// begins probing every configured target concurrently. The returned session
// snapshot has all targets pending.
func (s *Service) StartSession(ctx context.Context, clientIP string) *models.LatencyTestSession {
	session := &models.LatencyTestSession{
		SessionID: uuid.New().String(),
		ClientIP:  clientIP,
		Targets:   make([]models.TargetResult, len(s.cfg.Targets)),
		StartedAt: time.Now(),
	}
	for i, target := range s.cfg.Targets {
		session.Targets[i] = models.TargetResult{Target: target, Status: models.TargetPending}
	}

	s.mu.Lock()
	s.prune(time.Now())
	s.sessions[session.SessionID] = session
	s.mu.Unlock()

	metrics.LatencySessionsActive.Inc()
	s.logger.Info("latency session started",
		"session_id", session.SessionID,
		"client_ip", clientIP,
		"targets", len(session.Targets),
	)

	go s.runProbes(session.SessionID)

	return s.snapshot(session)
}

// Results returns an idempotent snapshot of the session plus aggregate
// stats. Safe to call at any time, including after completion.
func (s *Service) Results(sessionID string) (*models.LatencyTestSession, models.LatencyStats, error) {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, models.LatencyStats{}, ErrSessionNotFound
	}

	s.mu.RLock()
	snap := s.snapshot(session)
	s.mu.RUnlock()
	return snap, snap.Stats(), nil
}

// runProbes probes every target in parallel, each bounded by the probe
// timeout, and records per-target outcomes as they arrive.
func (s *Service) runProbes(sessionID string) {
	defer metrics.LatencySessionsActive.Dec()

	g, ctx := errgroup.WithContext(context.Background())

	for i := range s.cfg.Targets {
		i := i
		target := s.cfg.Targets[i]
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
			defer cancel()

			elapsed, err := s.prober.Probe(probeCtx, target)

			result := models.TargetResult{Target: target}
			switch {
			case err == nil:
				ms := elapsed.Milliseconds()
				result.Status = models.TargetSuccess
				result.LatencyMs = &ms
			case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
				result.Status = models.TargetTimeout
			default:
				result.Status = models.TargetFailed
			}

			s.record(sessionID, i, result)
			return nil
		})
	}

	_ = g.Wait()

	s.mu.Lock()
	if session, ok := s.sessions[sessionID]; ok && session.CompletedAt == nil {
		now := time.Now()
		session.CompletedAt = &now
	}
	s.mu.Unlock()
}

// record writes one target outcome under the service lock.
func (s *Service) record(sessionID string, idx int, result models.TargetResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok || idx >= len(session.Targets) {
		return
	}
	session.Targets[idx] = result
}

// prune drops finished sessions older than the retention window. Caller
// holds the write lock.
func (s *Service) prune(now time.Time) {
	for id, session := range s.sessions {
		if session.CompletedAt != nil && now.Sub(*session.CompletedAt) > retainCompleted {
			delete(s.sessions, id)
		}
	}
}

// snapshot copies a session so callers never alias live state. Caller holds
// at least a read lock when the session is live.
func (s *Service) snapshot(session *models.LatencyTestSession) *models.LatencyTestSession {
	out := *session
	out.Targets = make([]models.TargetResult, len(session.Targets))
	copy(out.Targets, session.Targets)
	if session.CompletedAt != nil {
		completed := *session.CompletedAt
		out.CompletedAt = &completed
	}
	return &out
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
