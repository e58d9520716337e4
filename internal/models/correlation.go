package models

import "time"

// SignalFactor names one correlation signal.
type SignalFactor string

const (
	FactorTiming  SignalFactor = "timing"
	FactorVolume  SignalFactor = "volume"
	FactorPattern SignalFactor = "pattern"
)

// WeightClass ranks the evidentiary reliability of a signal. Classes are
// fixed constants, never learned or mutated per run.
type WeightClass string

const (
	WeightCritical WeightClass = "critical"
	WeightHigh     WeightClass = "high"
	WeightMedium   WeightClass = "medium"
)

// SignalScore is one scorer's output: a value in [0,100] with its factor
// name and fixed weight class.
type SignalScore struct {
	Factor SignalFactor `json:"factor"`
	Weight WeightClass  `json:"weight"`
	Value  float64      `json:"value"`
}

// ProbableCircuit holds up to one relay per role. A nil hop means the role
// could not be resolved from the catalog, which is a valid terminal state.
type ProbableCircuit struct {
	Entry  *RelayRef `json:"entry"`
	Middle *RelayRef `json:"middle"`
	Exit   *RelayRef `json:"exit"`
}

// CaseStatus tracks the analysis case state machine.
type CaseStatus string

const (
	StatusRunning   CaseStatus = "running"
	StatusCompleted CaseStatus = "completed"
	StatusFailed    CaseStatus = "failed"
)

// CorrelationResult is the persisted unit of one analysis run. Once status
// reaches completed the record is immutable except for AnalystNotes.
type CorrelationResult struct {
	CaseID            string          `json:"case_id"`
	SessionID         string          `json:"session_id"`
	TimeWindowSeconds float64         `json:"time_window_seconds"`
	Timing            SignalScore     `json:"timing"`
	Volume            SignalScore     `json:"volume"`
	Pattern           SignalScore     `json:"pattern"`
	OverallConfidence float64         `json:"overall_confidence"`
	Circuit           ProbableCircuit `json:"circuit"`
	ProbableOrigin    string          `json:"probable_origin,omitempty"`
	Justification     string          `json:"justification,omitempty"`
	EvidenceHash      string          `json:"evidence_hash,omitempty"`
	Status            CaseStatus      `json:"status"`
	FailureReason     string          `json:"failure_reason,omitempty"`
	AnalystNotes      string          `json:"analyst_notes,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	CompletedAt       time.Time       `json:"completed_at,omitempty"`
}

// Scores returns the three signal scores in fixed factor order.
func (r CorrelationResult) Scores() []SignalScore {
	return []SignalScore{r.Timing, r.Volume, r.Pattern}
}
