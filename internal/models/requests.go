package models

// AnalysisRequest describes one requested correlation run.
type AnalysisRequest struct {
	SessionID         string  `json:"session_id"`
	TimeWindowSeconds float64 `json:"time_window"`
	AnalystNotes      string  `json:"analyst_notes,omitempty"`
}

// SystemStats aggregates dashboard counters.
type SystemStats struct {
	TotalRelays    int `json:"total_relays"`
	TotalSessions  int `json:"total_sessions"`
	TotalCases     int `json:"total_cases"`
	CompletedCases int `json:"completed_cases"`
	FailedCases    int `json:"failed_cases"`
}
