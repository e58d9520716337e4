package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/torsightlabs/torsight-tca/internal/models"
	"github.com/torsightlabs/torsight-tca/internal/utils"
)

// AnalysisAPI is the case-facing surface the handlers call.
type AnalysisAPI interface {
	RunAnalysis(ctx context.Context, req models.AnalysisRequest) (models.CorrelationResult, error)
	GetCase(ctx context.Context, caseID string) (models.CorrelationResult, error)
	ListCases(ctx context.Context, status models.CaseStatus) ([]models.CorrelationResult, error)
	UpdateNotes(ctx context.Context, caseID, notes string) (models.CorrelationResult, error)
	DeleteCase(ctx context.Context, caseID string) error
	VerifyCase(ctx context.Context, caseID string) (models.CorrelationResult, error)
}

// InventoryAPI is the data-management surface the handlers call.
type InventoryAPI interface {
	CreateSession(ctx context.Context, session models.TrafficSession, packets []models.PacketRecord) (models.TrafficSession, error)
	GenerateDemoSession(ctx context.Context, packetCount int, seed int64) (models.TrafficSession, error)
	GetSession(ctx context.Context, sessionID string) (models.TrafficSession, error)
	ListSessions(ctx context.Context) ([]models.TrafficSession, error)
	DeleteSession(ctx context.Context, sessionID string) error
	GenerateRelays(ctx context.Context, count int, seed int64) ([]models.RelayDescriptor, error)
	ListRelays(ctx context.Context) ([]models.RelayDescriptor, error)
	ListCountries(ctx context.Context) ([]string, error)
	DeleteAllRelays(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (models.SystemStats, error)
}

// PacketProvider supplies a session's packet series for detail views.
type PacketProvider interface {
	GetPacketSeries(ctx context.Context, sessionID string) ([]models.PacketRecord, error)
}

// Handler wires the HTTP routes to the service layer.
type Handler struct {
	logger    *slog.Logger
	analysis  AnalysisAPI
	inventory InventoryAPI
	packets   PacketProvider
}

// NewHandler constructs the route handler.
func NewHandler(logger *slog.Logger, analysis AnalysisAPI, inventory InventoryAPI, packets PacketProvider) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, analysis: analysis, inventory: inventory, packets: packets}
}

// Routes builds the request mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/analysis/run", h.runAnalysis)
	mux.HandleFunc("GET /api/analysis", h.listCases)
	mux.HandleFunc("GET /api/analysis/{caseID}", h.getCase)
	mux.HandleFunc("POST /api/analysis/{caseID}/notes", h.updateNotes)
	mux.HandleFunc("DELETE /api/analysis/{caseID}", h.deleteCase)
	mux.HandleFunc("GET /api/analysis/{caseID}/verify", h.verifyCase)

	mux.HandleFunc("POST /api/sessions", h.createSession)
	mux.HandleFunc("POST /api/sessions/generate-demo", h.generateDemoSession)
	mux.HandleFunc("GET /api/sessions", h.listSessions)
	mux.HandleFunc("GET /api/sessions/{sessionID}", h.getSession)
	mux.HandleFunc("DELETE /api/sessions/{sessionID}", h.deleteSession)

	mux.HandleFunc("POST /api/relays/generate", h.generateRelays)
	mux.HandleFunc("GET /api/relays", h.listRelays)
	mux.HandleFunc("GET /api/relays/countries", h.listCountries)
	mux.HandleFunc("DELETE /api/relays", h.deleteRelays)

	mux.HandleFunc("GET /api/stats", h.stats)
	mux.HandleFunc("GET /healthz", h.health)

	return mux
}

func (h *Handler) runAnalysis(w http.ResponseWriter, r *http.Request) {
	var req models.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.analysis.RunAnalysis(r.Context(), req)
	if err != nil {
		if errors.Is(err, utils.ErrPreconditionFailed) {
			// The failed case is a real, stored record; return it with
			// the precondition status.
			h.respondJSON(w, http.StatusUnprocessableEntity, result)
			return
		}
		h.respondMappedError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

func (h *Handler) listCases(w http.ResponseWriter, r *http.Request) {
	status := models.CaseStatus(r.URL.Query().Get("status"))
	cases, err := h.analysis.ListCases(r.Context(), status)
	if err != nil {
		h.respondMappedError(w, err)
		return
	}
	if cases == nil {
		cases = []models.CorrelationResult{}
	}
	h.respondJSON(w, http.StatusOK, cases)
}

func (h *Handler) getCase(w http.ResponseWriter, r *http.Request) {
	result, err := h.analysis.GetCase(r.Context(), r.PathValue("caseID"))
	if err != nil {
		h.respondMappedError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

func (h *Handler) updateNotes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := h.analysis.UpdateNotes(r.Context(), r.PathValue("caseID"), req.Notes)
	if err != nil {
		h.respondMappedError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

func (h *Handler) deleteCase(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("caseID")
	if err := h.analysis.DeleteCase(r.Context(), caseID); err != nil {
		h.respondMappedError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"deleted": caseID})
}

func (h *Handler) verifyCase(w http.ResponseWriter, r *http.Request) {
	result, err := h.analysis.VerifyCase(r.Context(), r.PathValue("caseID"))
	if err != nil {
		h.respondMappedError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"case_id":       result.CaseID,
		"evidence_hash": result.EvidenceHash,
		"verified":      true,
	})
}

type createSessionRequest struct {
	SessionID   string                `json:"session_id,omitempty"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Packets     []models.PacketRecord `json:"packets"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := h.inventory.CreateSession(r.Context(), models.TrafficSession{
		SessionID:   req.SessionID,
		Name:        req.Name,
		Description: req.Description,
	}, req.Packets)
	if err != nil {
		h.respondMappedError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, session)
}

func (h *Handler) generateDemoSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PacketCount int   `json:"packet_count"`
		Seed        int64 `json:"seed"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	session, err := h.inventory.GenerateDemoSession(r.Context(), req.PacketCount, req.Seed)
	if err != nil {
		h.respondMappedError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, session)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.inventory.ListSessions(r.Context())
	if err != nil {
		h.respondMappedError(w, err)
		return
	}
	if sessions == nil {
		sessions = []models.TrafficSession{}
	}
	h.respondJSON(w, http.StatusOK, sessions)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	session, err := h.inventory.GetSession(r.Context(), sessionID)
	if err != nil {
		h.respondMappedError(w, err)
		return
	}
	packets, err := h.packets.GetPacketSeries(r.Context(), sessionID)
	if err != nil {
		h.respondMappedError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"session": session,
		"packets": packets,
	})
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	if err := h.inventory.DeleteSession(r.Context(), sessionID); err != nil {
		h.respondMappedError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"deleted": sessionID})
}

func (h *Handler) generateRelays(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count int   `json:"count"`
		Seed  int64 `json:"seed"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	relays, err := h.inventory.GenerateRelays(r.Context(), req.Count, req.Seed)
	if err != nil {
		h.respondMappedError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, relays)
}

func (h *Handler) listRelays(w http.ResponseWriter, r *http.Request) {
	relays, err := h.inventory.ListRelays(r.Context())
	if err != nil {
		h.respondMappedError(w, err)
		return
	}

	role := r.URL.Query().Get("role")
	country := r.URL.Query().Get("country")
	filtered := make([]models.RelayDescriptor, 0, len(relays))
	for _, relay := range relays {
		if role != "" && string(relay.Role) != role {
			continue
		}
		if country != "" && relay.Country != country {
			continue
		}
		filtered = append(filtered, relay)
	}
	h.respondJSON(w, http.StatusOK, filtered)
}

func (h *Handler) listCountries(w http.ResponseWriter, r *http.Request) {
	countries, err := h.inventory.ListCountries(r.Context())
	if err != nil {
		h.respondMappedError(w, err)
		return
	}
	if countries == nil {
		countries = []string{}
	}
	h.respondJSON(w, http.StatusOK, countries)
}

func (h *Handler) deleteRelays(w http.ResponseWriter, r *http.Request) {
	n, err := h.inventory.DeleteAllRelays(r.Context())
	if err != nil {
		h.respondMappedError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.inventory.Stats(r.Context())
	if err != nil {
		h.respondMappedError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("response encoding failed", slog.Any("error", err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, msg string) {
	h.respondJSON(w, status, map[string]string{"error": msg})
}

// respondMappedError translates the error taxonomy onto HTTP statuses.
func (h *Handler) respondMappedError(w http.ResponseWriter, err error) {
	var appErr *utils.AppError
	switch {
	case errors.Is(err, utils.ErrNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, utils.ErrIntegrityMismatch):
		h.respondJSON(w, http.StatusConflict, map[string]any{
			"error":    err.Error(),
			"verified": false,
		})
	case errors.Is(err, utils.ErrPreconditionFailed):
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &appErr) && appErr.Err == nil:
		// Validation failures carry no wrapped cause.
		h.respondError(w, http.StatusBadRequest, appErr.Msg)
	default:
		h.logger.Error("request failed", slog.Any("error", err))
		h.respondError(w, http.StatusInternalServerError, "internal error")
	}
}
