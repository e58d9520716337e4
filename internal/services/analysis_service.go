// Package services exposes the analysis case operations consumed by the
// HTTP layer.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/torsightlabs/torsight-tca/internal/engine"
	"github.com/torsightlabs/torsight-tca/internal/metrics"
	"github.com/torsightlabs/torsight-tca/internal/models"
	"github.com/torsightlabs/torsight-tca/internal/utils"
)

// CaseStore defines the persistence operations the service needs for
// analysis cases.
type CaseStore interface {
	CreateCase(ctx context.Context, res models.CorrelationResult) error
	FinalizeCase(ctx context.Context, res models.CorrelationResult) error
	GetCase(ctx context.Context, caseID string) (models.CorrelationResult, error)
	ListCases(ctx context.Context, status models.CaseStatus) ([]models.CorrelationResult, error)
	UpdateNotes(ctx context.Context, caseID, notes string) error
	DeleteCase(ctx context.Context, caseID string) error
}

// WindowBounds clamp the analyst-supplied correlation window.
type WindowBounds struct {
	Default float64
	Min     float64
	Max     float64
}

// AnalysisService orchestrates case lifecycle around the correlation
// pipeline.
type AnalysisService struct {
	logger    *slog.Logger
	pipeline  *engine.Pipeline
	cases     CaseStore
	windows   WindowBounds
	latencies *utils.LatencyTracker

	mu        sync.Mutex
	caseLocks map[string]*sync.Mutex
}

// NewAnalysisService constructs the service facade.
func NewAnalysisService(logger *slog.Logger, pipeline *engine.Pipeline, cases CaseStore, windows WindowBounds) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	if windows.Default <= 0 {
		windows.Default = 5
	}
	if windows.Min <= 0 {
		windows.Min = 1
	}
	if windows.Max <= 0 {
		windows.Max = 30
	}
	return &AnalysisService{
		logger:    logger,
		pipeline:  pipeline,
		cases:     cases,
		windows:   windows,
		latencies: utils.NewLatencyTracker(1024),
		caseLocks: make(map[string]*sync.Mutex),
	}
}

// RunAnalysis executes a correlation run end to end: create the running
// case row, run the pipeline, and finalise the row as completed or failed.
func (s *AnalysisService) RunAnalysis(ctx context.Context, req models.AnalysisRequest) (models.CorrelationResult, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return models.CorrelationResult{}, utils.NewAppError("RunAnalysis", "session_id is required", nil)
	}
	req.TimeWindowSeconds = s.clampWindow(req.TimeWindowSeconds)

	caseID := newCaseID()
	stub := models.CorrelationResult{
		CaseID:            caseID,
		SessionID:         req.SessionID,
		TimeWindowSeconds: req.TimeWindowSeconds,
		AnalystNotes:      req.AnalystNotes,
		Status:            models.StatusRunning,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.cases.CreateCase(ctx, stub); err != nil {
		return models.CorrelationResult{}, fmt.Errorf("create case: %w", err)
	}

	s.logger.Info("analysis started",
		slog.String("case_id", caseID),
		slog.String("session_id", req.SessionID),
		slog.Float64("time_window", req.TimeWindowSeconds),
	)

	start := time.Now()
	result, runErr := s.pipeline.Run(ctx, caseID, req)
	duration := time.Since(start)

	switch {
	case runErr == nil:
		if err := s.cases.FinalizeCase(ctx, result); err != nil {
			metrics.ObserveAnalysis(duration, metrics.OutcomeError)
			return models.CorrelationResult{}, fmt.Errorf("finalize case: %w", err)
		}
		metrics.ObserveAnalysis(duration, metrics.OutcomeCompleted)
		s.observeLatency(duration)
		s.logger.Info("analysis completed",
			slog.String("case_id", caseID),
			slog.Float64("confidence", result.OverallConfidence),
			slog.Duration("elapsed", duration),
		)
		return result, nil

	case result.Status == models.StatusFailed:
		// Precondition aborts are a terminal case state, not a server error.
		if err := s.cases.FinalizeCase(ctx, result); err != nil {
			metrics.ObserveAnalysis(duration, metrics.OutcomeError)
			return models.CorrelationResult{}, fmt.Errorf("finalize failed case: %w", err)
		}
		metrics.ObserveAnalysis(duration, metrics.OutcomeFailed)
		s.logger.Warn("analysis failed",
			slog.String("case_id", caseID),
			slog.String("reason", result.FailureReason),
		)
		return result, runErr

	default:
		// The run never got off the ground (unknown session, storage
		// error). Remove the stub row rather than leaving it running
		// forever.
		if err := s.cases.DeleteCase(ctx, caseID); err != nil {
			s.logger.Warn("stub case cleanup failed", slog.String("case_id", caseID), slog.Any("error", err))
		}
		metrics.ObserveAnalysis(duration, metrics.OutcomeError)
		s.logger.Error("analysis aborted", slog.String("case_id", caseID), slog.Any("error", runErr))
		return models.CorrelationResult{}, runErr
	}
}

// GetCase returns one case record.
func (s *AnalysisService) GetCase(ctx context.Context, caseID string) (models.CorrelationResult, error) {
	return s.cases.GetCase(ctx, caseID)
}

// ListCases returns cases newest first, optionally filtered by status.
func (s *AnalysisService) ListCases(ctx context.Context, status models.CaseStatus) ([]models.CorrelationResult, error) {
	switch status {
	case "", models.StatusRunning, models.StatusCompleted, models.StatusFailed:
	default:
		return nil, utils.NewAppError("ListCases", fmt.Sprintf("unknown status %q", status), nil)
	}
	return s.cases.ListCases(ctx, status)
}

// UpdateNotes replaces the analyst notes on a case. Notes never touch the
// evidence seal, so no re-hash happens here.
func (s *AnalysisService) UpdateNotes(ctx context.Context, caseID, notes string) (models.CorrelationResult, error) {
	lock := s.lockCase(caseID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.cases.UpdateNotes(ctx, caseID, notes); err != nil {
		return models.CorrelationResult{}, err
	}
	return s.cases.GetCase(ctx, caseID)
}

// DeleteCase removes a case record.
func (s *AnalysisService) DeleteCase(ctx context.Context, caseID string) error {
	lock := s.lockCase(caseID)
	lock.Lock()
	defer lock.Unlock()

	return s.cases.DeleteCase(ctx, caseID)
}

// VerifyCase recomputes the evidence hash of a completed case and reports
// divergence as utils.ErrIntegrityMismatch.
func (s *AnalysisService) VerifyCase(ctx context.Context, caseID string) (models.CorrelationResult, error) {
	res, err := s.cases.GetCase(ctx, caseID)
	if err != nil {
		return models.CorrelationResult{}, err
	}
	if res.Status != models.StatusCompleted {
		return models.CorrelationResult{}, utils.NewAppError("VerifyCase",
			fmt.Sprintf("case %s is %s, only completed cases carry evidence", caseID, res.Status), nil)
	}
	if err := engine.VerifyEvidence(res); err != nil {
		return models.CorrelationResult{}, err
	}
	return res, nil
}

func (s *AnalysisService) clampWindow(window float64) float64 {
	if window <= 0 {
		return s.windows.Default
	}
	if window < s.windows.Min {
		return s.windows.Min
	}
	if window > s.windows.Max {
		return s.windows.Max
	}
	return window
}

func (s *AnalysisService) observeLatency(duration time.Duration) {
	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("analysis latency",
			slog.Duration("p95", s.latencies.Percentile(95)),
			slog.Int("samples", count),
		)
	}
}

// lockCase returns the mutex serialising note updates and deletes for one
// case.
func (s *AnalysisService) lockCase(caseID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.caseLocks[caseID]
	if !ok {
		lock = &sync.Mutex{}
		s.caseLocks[caseID] = lock
	}
	return lock
}

// newCaseID derives the analyst-facing case identifier from a random UUID.
func newCaseID() string {
	id := uuid.NewString()
	return "CASE-" + strings.ToUpper(strings.ReplaceAll(id, "-", "")[:8])
}
