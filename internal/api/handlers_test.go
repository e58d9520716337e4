package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/torsightlabs/torsight-tca/internal/models"
	"github.com/torsightlabs/torsight-tca/internal/utils"
)

type fakeAnalysis struct {
	cases map[string]models.CorrelationResult
}

func (f *fakeAnalysis) RunAnalysis(_ context.Context, req models.AnalysisRequest) (models.CorrelationResult, error) {
	switch req.SessionID {
	case "":
		return models.CorrelationResult{}, utils.NewAppError("RunAnalysis", "session_id is required", nil)
	case "sess-missing":
		return models.CorrelationResult{}, fmt.Errorf("session sess-missing: %w", utils.ErrNotFound)
	case "sess-empty":
		return models.CorrelationResult{
			CaseID:        "CASE-FA11FA11",
			SessionID:     req.SessionID,
			Status:        models.StatusFailed,
			FailureReason: "session contains no packet records",
		}, fmt.Errorf("session contains no packet records: %w", utils.ErrPreconditionFailed)
	default:
		return models.CorrelationResult{
			CaseID:            "CASE-1A2B3C4D",
			SessionID:         req.SessionID,
			TimeWindowSeconds: req.TimeWindowSeconds,
			OverallConfidence: 61.5,
			Status:            models.StatusCompleted,
			EvidenceHash:      "deadbeef",
			CreatedAt:         time.Now().UTC(),
		}, nil
	}
}

func (f *fakeAnalysis) GetCase(_ context.Context, caseID string) (models.CorrelationResult, error) {
	res, ok := f.cases[caseID]
	if !ok {
		return models.CorrelationResult{}, fmt.Errorf("case %s: %w", caseID, utils.ErrNotFound)
	}
	return res, nil
}

func (f *fakeAnalysis) ListCases(_ context.Context, status models.CaseStatus) ([]models.CorrelationResult, error) {
	if status != "" && status != models.StatusRunning && status != models.StatusCompleted && status != models.StatusFailed {
		return nil, utils.NewAppError("ListCases", fmt.Sprintf("unknown status %q", status), nil)
	}
	var out []models.CorrelationResult
	for _, res := range f.cases {
		if status == "" || res.Status == status {
			out = append(out, res)
		}
	}
	return out, nil
}

func (f *fakeAnalysis) UpdateNotes(ctx context.Context, caseID, notes string) (models.CorrelationResult, error) {
	res, err := f.GetCase(ctx, caseID)
	if err != nil {
		return models.CorrelationResult{}, err
	}
	res.AnalystNotes = notes
	f.cases[caseID] = res
	return res, nil
}

func (f *fakeAnalysis) DeleteCase(ctx context.Context, caseID string) error {
	if _, err := f.GetCase(ctx, caseID); err != nil {
		return err
	}
	delete(f.cases, caseID)
	return nil
}

func (f *fakeAnalysis) VerifyCase(ctx context.Context, caseID string) (models.CorrelationResult, error) {
	res, err := f.GetCase(ctx, caseID)
	if err != nil {
		return models.CorrelationResult{}, err
	}
	if res.EvidenceHash == "tampered" {
		return models.CorrelationResult{}, fmt.Errorf("case %s evidence hash diverged: %w", caseID, utils.ErrIntegrityMismatch)
	}
	return res, nil
}

type fakeInventory struct {
	sessions map[string]models.TrafficSession
	packets  map[string][]models.PacketRecord
	relays   []models.RelayDescriptor
}

func (f *fakeInventory) CreateSession(_ context.Context, session models.TrafficSession, packets []models.PacketRecord) (models.TrafficSession, error) {
	if strings.TrimSpace(session.Name) == "" {
		return models.TrafficSession{}, utils.NewAppError("CreateSession", "name is required", nil)
	}
	if session.SessionID == "" {
		session.SessionID = "sess-new"
	}
	session.PacketCount = len(packets)
	f.sessions[session.SessionID] = session
	f.packets[session.SessionID] = packets
	return session, nil
}

func (f *fakeInventory) GenerateDemoSession(ctx context.Context, packetCount int, _ int64) (models.TrafficSession, error) {
	if packetCount <= 0 {
		packetCount = 100
	}
	return f.CreateSession(ctx, models.TrafficSession{SessionID: "sess-demo", Name: "demo"},
		make([]models.PacketRecord, packetCount))
}

func (f *fakeInventory) GetSession(_ context.Context, sessionID string) (models.TrafficSession, error) {
	session, ok := f.sessions[sessionID]
	if !ok {
		return models.TrafficSession{}, fmt.Errorf("session %s: %w", sessionID, utils.ErrNotFound)
	}
	return session, nil
}

func (f *fakeInventory) ListSessions(context.Context) ([]models.TrafficSession, error) {
	var out []models.TrafficSession
	for _, session := range f.sessions {
		out = append(out, session)
	}
	return out, nil
}

func (f *fakeInventory) DeleteSession(_ context.Context, sessionID string) error {
	if _, ok := f.sessions[sessionID]; !ok {
		return fmt.Errorf("session %s: %w", sessionID, utils.ErrNotFound)
	}
	delete(f.sessions, sessionID)
	return nil
}

func (f *fakeInventory) GenerateRelays(_ context.Context, count int, _ int64) ([]models.RelayDescriptor, error) {
	if count <= 0 {
		count = 20
	}
	f.relays = make([]models.RelayDescriptor, count)
	for i := range f.relays {
		f.relays[i] = models.RelayDescriptor{Fingerprint: fmt.Sprintf("FP%04d", i), Role: models.RoleMiddle, Country: "DE"}
	}
	return f.relays, nil
}

func (f *fakeInventory) ListRelays(context.Context) ([]models.RelayDescriptor, error) {
	return f.relays, nil
}

func (f *fakeInventory) ListCountries(context.Context) ([]string, error) {
	return []string{"DE", "NL"}, nil
}

func (f *fakeInventory) DeleteAllRelays(context.Context) (int64, error) {
	n := int64(len(f.relays))
	f.relays = nil
	return n, nil
}

func (f *fakeInventory) Stats(context.Context) (models.SystemStats, error) {
	return models.SystemStats{TotalRelays: len(f.relays), TotalSessions: len(f.sessions)}, nil
}

func (f *fakeInventory) GetPacketSeries(_ context.Context, sessionID string) ([]models.PacketRecord, error) {
	packets, ok := f.packets[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, utils.ErrNotFound)
	}
	return packets, nil
}

func newTestHandler() (*Handler, *fakeAnalysis, *fakeInventory) {
	analysis := &fakeAnalysis{cases: map[string]models.CorrelationResult{}}
	inventory := &fakeInventory{
		sessions: map[string]models.TrafficSession{},
		packets:  map[string][]models.PacketRecord{},
	}
	return NewHandler(nil, analysis, inventory, inventory), analysis, inventory
}

func doRequest(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestRunAnalysisEndpoint(t *testing.T) {
	h, _, _ := newTestHandler()

	rec := doRequest(t, h, http.MethodPost, "/api/analysis/run", `{"session_id":"sess-001","time_window":5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var res models.CorrelationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.CaseID == "" || res.Status != models.StatusCompleted {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunAnalysisStatusMapping(t *testing.T) {
	h, _, _ := newTestHandler()

	cases := []struct {
		name string
		body string
		want int
	}{
		{name: "bad json", body: `{`, want: http.StatusBadRequest},
		{name: "missing session id", body: `{}`, want: http.StatusBadRequest},
		{name: "unknown session", body: `{"session_id":"sess-missing"}`, want: http.StatusNotFound},
		{name: "empty session", body: `{"session_id":"sess-empty"}`, want: http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPost, "/api/analysis/run", tc.body)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body)
			}
		})
	}
}

func TestRunAnalysisPreconditionReturnsFailedCase(t *testing.T) {
	h, _, _ := newTestHandler()

	rec := doRequest(t, h, http.MethodPost, "/api/analysis/run", `{"session_id":"sess-empty"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	var res models.CorrelationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Status != models.StatusFailed || res.FailureReason == "" {
		t.Fatalf("expected failed case payload, got %+v", res)
	}
}

func TestCaseEndpoints(t *testing.T) {
	h, analysis, _ := newTestHandler()
	analysis.cases["CASE-1A2B3C4D"] = models.CorrelationResult{
		CaseID: "CASE-1A2B3C4D", SessionID: "sess-001",
		Status: models.StatusCompleted, EvidenceHash: "deadbeef",
	}

	rec := doRequest(t, h, http.MethodGet, "/api/analysis/CASE-1A2B3C4D", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get case status = %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/analysis/CASE-MISSING", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing case status = %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/analysis", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/analysis?status=archived", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status filter = %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/analysis/CASE-1A2B3C4D/notes", `{"notes":"updated"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("notes status = %d", rec.Code)
	}
	var res models.CorrelationResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.AnalystNotes != "updated" {
		t.Fatalf("notes = %q", res.AnalystNotes)
	}

	rec = doRequest(t, h, http.MethodDelete, "/api/analysis/CASE-1A2B3C4D", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodDelete, "/api/analysis/CASE-1A2B3C4D", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("double delete status = %d", rec.Code)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	h, analysis, _ := newTestHandler()
	analysis.cases["CASE-OK"] = models.CorrelationResult{
		CaseID: "CASE-OK", Status: models.StatusCompleted, EvidenceHash: "deadbeef",
	}
	analysis.cases["CASE-BAD"] = models.CorrelationResult{
		CaseID: "CASE-BAD", Status: models.StatusCompleted, EvidenceHash: "tampered",
	}

	rec := doRequest(t, h, http.MethodGet, "/api/analysis/CASE-OK/verify", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["verified"] != true || payload["evidence_hash"] != "deadbeef" {
		t.Fatalf("verify payload = %v", payload)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/analysis/CASE-BAD/verify", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("tampered verify status = %d", rec.Code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	h, _, _ := newTestHandler()

	rec := doRequest(t, h, http.MethodPost, "/api/sessions",
		`{"name":"capture","packets":[{"timestamp":"2025-06-01T12:00:00Z","size":1200,"direction":"outbound"}]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	var session models.TrafficSession
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if session.PacketCount != 1 {
		t.Fatalf("packet count = %d", session.PacketCount)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/sessions", `{"packets":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("nameless create status = %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/sessions/"+session.SessionID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var detail struct {
		Session models.TrafficSession `json:"session"`
		Packets []models.PacketRecord `json:"packets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(detail.Packets) != 1 {
		t.Fatalf("detail packets = %d", len(detail.Packets))
	}

	rec = doRequest(t, h, http.MethodDelete, "/api/sessions/"+session.SessionID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodGet, "/api/sessions/"+session.SessionID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("deleted get status = %d", rec.Code)
	}
}

func TestGenerateDemoSessionEndpoint(t *testing.T) {
	h, _, _ := newTestHandler()

	rec := doRequest(t, h, http.MethodPost, "/api/sessions/generate-demo", `{"packet_count":50}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var session models.TrafficSession
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if session.PacketCount != 50 {
		t.Fatalf("packet count = %d, want 50", session.PacketCount)
	}
}

func TestRelayEndpoints(t *testing.T) {
	h, _, _ := newTestHandler()

	rec := doRequest(t, h, http.MethodPost, "/api/relays/generate", `{"count":10}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("generate status = %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/relays?role=middle", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var relays []models.RelayDescriptor
	if err := json.Unmarshal(rec.Body.Bytes(), &relays); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(relays) != 10 {
		t.Fatalf("filtered relays = %d", len(relays))
	}

	rec = doRequest(t, h, http.MethodGet, "/api/relays?role=exit", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &relays); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(relays) != 0 {
		t.Fatalf("exit filter matched %d relays", len(relays))
	}

	rec = doRequest(t, h, http.MethodGet, "/api/relays/countries", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("countries status = %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodDelete, "/api/relays", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	var deleted map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &deleted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if deleted["deleted"] != 10 {
		t.Fatalf("deleted = %d", deleted["deleted"])
	}
}

func TestStatsAndHealth(t *testing.T) {
	h, _, _ := newTestHandler()

	rec := doRequest(t, h, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}
