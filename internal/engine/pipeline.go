package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/torsightlabs/torsight-tca/internal/models"
	"github.com/torsightlabs/torsight-tca/internal/scorers"
	"github.com/torsightlabs/torsight-tca/internal/utils"
)

// SessionProvider supplies the ordered packet series for a session. An
// unknown session identifier must wrap utils.ErrNotFound.
type SessionProvider interface {
	GetPacketSeries(ctx context.Context, sessionID string) ([]models.PacketRecord, error)
}

// CatalogProvider supplies the known relay descriptors. The snapshot may be
// empty.
type CatalogProvider interface {
	GetCatalogSnapshot(ctx context.Context) ([]models.RelayDescriptor, error)
}

// Pipeline orchestrates one correlation run: signal scoring, aggregation,
// circuit reconstruction, evidence sealing, and justification. A run holds
// no shared mutable state, so concurrent runs never interfere.
type Pipeline struct {
	logger        *slog.Logger
	sessions      SessionProvider
	catalog       CatalogProvider
	reconstructor *CircuitReconstructor
	scorers       []scorers.Scorer
	now           func() time.Time
}

// NewPipeline constructs a correlation pipeline. When no scorers are given
// the standard timing/volume/pattern set is used.
func NewPipeline(
	logger *slog.Logger,
	sessions SessionProvider,
	catalog CatalogProvider,
	reconstructor *CircuitReconstructor,
	signalScorers ...scorers.Scorer,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if reconstructor == nil {
		reconstructor = NewCircuitReconstructor(DefaultSelectionPolicy(), logger)
	}
	if len(signalScorers) == 0 {
		signalScorers = []scorers.Scorer{
			scorers.NewTimingScorer(),
			scorers.NewVolumeScorer(),
			scorers.NewPatternScorer(),
		}
	}
	return &Pipeline{
		logger:        logger,
		sessions:      sessions,
		catalog:       catalog,
		reconstructor: reconstructor,
		scorers:       signalScorers,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Run executes the analysis for an already-created case. Precondition
// failures (empty session, empty catalog) return a result finalised as
// failed together with a wrapped utils.ErrPreconditionFailed; no partial
// scores are produced. Other errors leave the result unfinalised.
func (p *Pipeline) Run(ctx context.Context, caseID string, req models.AnalysisRequest) (models.CorrelationResult, error) {
	result := models.CorrelationResult{
		CaseID:            caseID,
		SessionID:         req.SessionID,
		TimeWindowSeconds: req.TimeWindowSeconds,
		AnalystNotes:      req.AnalystNotes,
		Status:            models.StatusRunning,
		CreatedAt:         p.now(),
	}

	if p.sessions == nil || p.catalog == nil {
		return result, fmt.Errorf("pipeline providers not configured")
	}

	packets, err := p.sessions.GetPacketSeries(ctx, req.SessionID)
	if err != nil {
		return result, fmt.Errorf("fetch packet series: %w", err)
	}

	// The catalog is captured by value here and never re-read during the
	// run, so concurrent catalog updates cannot alter this result.
	catalog, err := p.catalog.GetCatalogSnapshot(ctx)
	if err != nil {
		return result, fmt.Errorf("fetch catalog snapshot: %w", err)
	}

	if len(packets) == 0 {
		return p.fail(result, "session contains no packet records")
	}
	if len(catalog) == 0 {
		return p.fail(result, "relay catalog is empty")
	}

	// The scorers are independent; evaluate them in parallel and join
	// before aggregation.
	values := make([]float64, len(p.scorers))
	g, gctx := errgroup.WithContext(ctx)
	for i, scorer := range p.scorers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			values[i] = RoundScore(scorer.Score(packets, req.TimeWindowSeconds))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("score signals: %w", err)
	}

	for i, scorer := range p.scorers {
		score := models.SignalScore{Factor: scorer.Factor(), Weight: scorer.Weight(), Value: values[i]}
		switch scorer.Factor() {
		case models.FactorTiming:
			result.Timing = score
		case models.FactorVolume:
			result.Volume = score
		case models.FactorPattern:
			result.Pattern = score
		}
	}

	result.OverallConfidence = Aggregate(result.Timing.Value, result.Volume.Value, result.Pattern.Value)
	result.Circuit, result.ProbableOrigin = p.reconstructor.Reconstruct(result.OverallConfidence, catalog)

	result.Status = models.StatusCompleted
	result.CompletedAt = p.now()

	hash, err := SealEvidence(result)
	if err != nil {
		return result, fmt.Errorf("seal evidence: %w", err)
	}
	result.EvidenceHash = hash
	result.Justification = BuildJustification(result)

	p.logger.Debug("analysis run completed",
		slog.String("case_id", caseID),
		slog.String("session_id", req.SessionID),
		slog.Float64("confidence", result.OverallConfidence),
	)

	return result, nil
}

func (p *Pipeline) fail(result models.CorrelationResult, reason string) (models.CorrelationResult, error) {
	result.Status = models.StatusFailed
	result.FailureReason = reason
	result.CompletedAt = p.now()
	p.logger.Warn("analysis run aborted",
		slog.String("case_id", result.CaseID),
		slog.String("reason", reason),
	)
	return result, fmt.Errorf("%s: %w", reason, utils.ErrPreconditionFailed)
}
