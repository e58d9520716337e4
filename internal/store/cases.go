package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/torsightlabs/torsight-tca/internal/cache"
	"github.com/torsightlabs/torsight-tca/internal/models"
	"github.com/torsightlabs/torsight-tca/internal/utils"
)

const statsCacheKey = "stats:system"

// CreateCase inserts the initial running row for an analysis.
func (s *Store) CreateCase(ctx context.Context, res models.CorrelationResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analyses (case_id, session_id, time_window_seconds, status, analyst_notes, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?)`,
		res.CaseID, res.SessionID, res.TimeWindowSeconds, string(res.Status), res.AnalystNotes, res.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert case %s: %w", res.CaseID, err)
	}
	s.invalidateStats(ctx)
	return nil
}

// FinalizeCase writes the terminal state of a run over its running row.
func (s *Store) FinalizeCase(ctx context.Context, res models.CorrelationResult) error {
	circuitJSON, err := json.Marshal(res.Circuit)
	if err != nil {
		return fmt.Errorf("marshal circuit: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE analyses SET
			timing_score = ?, volume_score = ?, pattern_score = ?,
			overall_confidence = ?, circuit_json = ?, probable_origin = ?,
			justification = ?, evidence_hash = ?, status = ?,
			failure_reason = ?, completed_at_ns = ?
		WHERE case_id = ?`,
		res.Timing.Value, res.Volume.Value, res.Pattern.Value,
		res.OverallConfidence, string(circuitJSON), res.ProbableOrigin,
		res.Justification, res.EvidenceHash, string(res.Status),
		res.FailureReason, res.CompletedAt.UnixNano(),
		res.CaseID,
	)
	if err != nil {
		return fmt.Errorf("finalize case %s: %w", res.CaseID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("case %s: %w", res.CaseID, utils.ErrNotFound)
	}
	s.invalidateStats(ctx)
	return nil
}

// GetCase returns one case record.
func (s *Store) GetCase(ctx context.Context, caseID string) (models.CorrelationResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT case_id, session_id, time_window_seconds, timing_score, volume_score, pattern_score,
		       overall_confidence, circuit_json, probable_origin, justification, evidence_hash,
		       status, failure_reason, analyst_notes, created_at_ns, completed_at_ns
		FROM analyses WHERE case_id = ?`, caseID)
	res, err := scanCase(row)
	if err == sql.ErrNoRows {
		return models.CorrelationResult{}, fmt.Errorf("case %s: %w", caseID, utils.ErrNotFound)
	}
	if err != nil {
		return models.CorrelationResult{}, fmt.Errorf("query case: %w", err)
	}
	return res, nil
}

// ListCases returns cases newest first, optionally filtered by status.
func (s *Store) ListCases(ctx context.Context, status models.CaseStatus) ([]models.CorrelationResult, error) {
	query := `
		SELECT case_id, session_id, time_window_seconds, timing_score, volume_score, pattern_score,
		       overall_confidence, circuit_json, probable_origin, justification, evidence_hash,
		       status, failure_reason, analyst_notes, created_at_ns, completed_at_ns
		FROM analyses`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at_ns DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	var cases []models.CorrelationResult
	for rows.Next() {
		res, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		cases = append(cases, res)
	}
	return cases, rows.Err()
}

// UpdateNotes replaces the analyst notes on a case. Notes sit outside the
// evidence seal, so completed cases stay mutable here.
func (s *Store) UpdateNotes(ctx context.Context, caseID, notes string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE analyses SET analyst_notes = ? WHERE case_id = ?`, notes, caseID)
	if err != nil {
		return fmt.Errorf("update notes: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("case %s: %w", caseID, utils.ErrNotFound)
	}
	return nil
}

// DeleteCase removes a case record.
func (s *Store) DeleteCase(ctx context.Context, caseID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE case_id = ?`, caseID)
	if err != nil {
		return fmt.Errorf("delete case: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("case %s: %w", caseID, utils.ErrNotFound)
	}
	s.invalidateStats(ctx)
	return nil
}

// Stats returns dashboard counters, cached briefly when a cache is attached.
func (s *Store) Stats(ctx context.Context) (models.SystemStats, error) {
	if data, err := s.cache.Get(ctx, statsCacheKey); err == nil {
		var stats models.SystemStats
		if err := json.Unmarshal(data, &stats); err == nil {
			return stats, nil
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("stats cache read failed", slog.Any("error", err))
	}

	var stats models.SystemStats
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM relays),
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM analyses),
			(SELECT COUNT(*) FROM analyses WHERE status = 'completed'),
			(SELECT COUNT(*) FROM analyses WHERE status = 'failed')`)
	if err := row.Scan(&stats.TotalRelays, &stats.TotalSessions, &stats.TotalCases,
		&stats.CompletedCases, &stats.FailedCases); err != nil {
		return models.SystemStats{}, fmt.Errorf("query stats: %w", err)
	}

	if data, err := json.Marshal(stats); err == nil {
		if err := s.cache.Set(ctx, statsCacheKey, data, s.statsTTL); err != nil {
			s.logger.Warn("stats cache write failed", slog.Any("error", err))
		}
	}
	return stats, nil
}

func (s *Store) invalidateStats(ctx context.Context) {
	if err := s.cache.Del(ctx, statsCacheKey); err != nil {
		s.logger.Warn("stats cache invalidation failed", slog.Any("error", err))
	}
}

func scanCase(row rowScanner) (models.CorrelationResult, error) {
	var (
		res                    models.CorrelationResult
		circuitJSON, status    string
		createdNs, completedNs int64
	)
	if err := row.Scan(&res.CaseID, &res.SessionID, &res.TimeWindowSeconds,
		&res.Timing.Value, &res.Volume.Value, &res.Pattern.Value,
		&res.OverallConfidence, &circuitJSON, &res.ProbableOrigin,
		&res.Justification, &res.EvidenceHash, &status, &res.FailureReason,
		&res.AnalystNotes, &createdNs, &completedNs); err != nil {
		return models.CorrelationResult{}, err
	}

	res.Timing.Factor, res.Timing.Weight = models.FactorTiming, models.WeightCritical
	res.Volume.Factor, res.Volume.Weight = models.FactorVolume, models.WeightHigh
	res.Pattern.Factor, res.Pattern.Weight = models.FactorPattern, models.WeightMedium
	res.Status = models.CaseStatus(status)
	res.CreatedAt = time.Unix(0, createdNs).UTC()
	if completedNs > 0 {
		res.CompletedAt = time.Unix(0, completedNs).UTC()
	}
	if circuitJSON != "" {
		if err := json.Unmarshal([]byte(circuitJSON), &res.Circuit); err != nil {
			return models.CorrelationResult{}, fmt.Errorf("decode circuit: %w", err)
		}
	}
	return res, nil
}
