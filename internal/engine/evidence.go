package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/torsightlabs/torsight-tca/internal/models"
	"github.com/torsightlabs/torsight-tca/internal/utils"
)

// evidencePayload is the exact field set covered by the evidence hash:
// case identifier, session identifier, time window, the three scores, the
// overall confidence, and the circuit role→fingerprint mapping. Analyst
// notes and prose are deliberately excluded.
type evidencePayload struct {
	CaseID            string             `json:"case_id"`
	SessionID         string             `json:"session_id"`
	TimeWindowSeconds float64            `json:"time_window_seconds"`
	Scores            map[string]float64 `json:"scores"`
	OverallConfidence float64            `json:"overall_confidence"`
	Circuit           map[string]string  `json:"circuit"`
}

// SealEvidence serializes the canonical result fields per RFC 8785 (JCS)
// and returns the sha256 hex digest. Byte-identical canonical input always
// yields the identical hash; any one-bit change to a covered field changes
// it. The seal is computed once at completion and never recomputed on read.
func SealEvidence(res models.CorrelationResult) (string, error) {
	payload := evidencePayload{
		CaseID:            res.CaseID,
		SessionID:         res.SessionID,
		TimeWindowSeconds: res.TimeWindowSeconds,
		Scores: map[string]float64{
			string(models.FactorTiming):  RoundScore(res.Timing.Value),
			string(models.FactorVolume):  RoundScore(res.Volume.Value),
			string(models.FactorPattern): RoundScore(res.Pattern.Value),
		},
		OverallConfidence: RoundScore(res.OverallConfidence),
		Circuit: map[string]string{
			"entry":  hopFingerprint(res.Circuit.Entry),
			"middle": hopFingerprint(res.Circuit.Middle),
			"exit":   hopFingerprint(res.Circuit.Exit),
		},
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal evidence payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize evidence payload: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyEvidence recomputes the seal from the stored fields and compares it
// against the stored hash. A divergence is surfaced as ErrIntegrityMismatch
// and never silently corrected.
func VerifyEvidence(res models.CorrelationResult) error {
	recomputed, err := SealEvidence(res)
	if err != nil {
		return err
	}
	if recomputed != res.EvidenceHash {
		return fmt.Errorf("case %s evidence hash diverged: %w", res.CaseID, utils.ErrIntegrityMismatch)
	}
	return nil
}

func hopFingerprint(ref *models.RelayRef) string {
	if ref == nil {
		return OriginNotDetected
	}
	return ref.Fingerprint
}
