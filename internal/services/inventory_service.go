package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/torsightlabs/torsight-tca/internal/models"
	"github.com/torsightlabs/torsight-tca/internal/simulate"
	"github.com/torsightlabs/torsight-tca/internal/utils"
)

// InventoryStore defines the persistence operations for sessions, packets,
// relays, and the stats rollup.
type InventoryStore interface {
	CreateSession(ctx context.Context, session models.TrafficSession, packets []models.PacketRecord) (models.TrafficSession, error)
	GetSession(ctx context.Context, sessionID string) (models.TrafficSession, error)
	ListSessions(ctx context.Context) ([]models.TrafficSession, error)
	DeleteSession(ctx context.Context, sessionID string) error
	InsertRelays(ctx context.Context, relays []models.RelayDescriptor) error
	ListRelays(ctx context.Context) ([]models.RelayDescriptor, error)
	ListCountries(ctx context.Context) ([]string, error)
	DeleteAllRelays(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (models.SystemStats, error)
}

// InventoryService manages the data the analysis pipeline consumes:
// capture sessions and the relay catalog.
type InventoryService struct {
	logger *slog.Logger
	store  InventoryStore
}

// NewInventoryService constructs the inventory facade.
func NewInventoryService(logger *slog.Logger, store InventoryStore) *InventoryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &InventoryService{logger: logger, store: store}
}

// CreateSession ingests a packet capture under a new or caller-supplied
// session identifier.
func (s *InventoryService) CreateSession(ctx context.Context, session models.TrafficSession, packets []models.PacketRecord) (models.TrafficSession, error) {
	if strings.TrimSpace(session.Name) == "" {
		return models.TrafficSession{}, utils.NewAppError("CreateSession", "name is required", nil)
	}
	if session.SessionID == "" {
		session.SessionID = "sess-" + uuid.NewString()[:8]
	}
	created, err := s.store.CreateSession(ctx, session, packets)
	if err != nil {
		return models.TrafficSession{}, err
	}
	s.logger.Info("session created",
		slog.String("session_id", created.SessionID),
		slog.Int("packets", created.PacketCount),
	)
	return created, nil
}

// GenerateDemoSession synthesises a traffic capture and stores it.
func (s *InventoryService) GenerateDemoSession(ctx context.Context, packetCount int, seed int64) (models.TrafficSession, error) {
	if packetCount <= 0 {
		packetCount = 100
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	sessionID := "sess-" + uuid.NewString()[:8]
	packets := simulate.GenerateSession(sessionID, packetCount, seed)
	session := models.TrafficSession{
		SessionID:   sessionID,
		Name:        fmt.Sprintf("Demo capture %s", sessionID),
		Description: "synthetic traffic for demonstration",
	}
	return s.store.CreateSession(ctx, session, packets)
}

// GetSession returns one session summary.
func (s *InventoryService) GetSession(ctx context.Context, sessionID string) (models.TrafficSession, error) {
	return s.store.GetSession(ctx, sessionID)
}

// ListSessions returns all session summaries.
func (s *InventoryService) ListSessions(ctx context.Context) ([]models.TrafficSession, error) {
	return s.store.ListSessions(ctx)
}

// DeleteSession removes a session and its packets.
func (s *InventoryService) DeleteSession(ctx context.Context, sessionID string) error {
	return s.store.DeleteSession(ctx, sessionID)
}

// GenerateRelays populates the catalog with synthetic descriptors.
func (s *InventoryService) GenerateRelays(ctx context.Context, count int, seed int64) ([]models.RelayDescriptor, error) {
	if count <= 0 {
		count = 20
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	relays := simulate.GenerateRelays(count, seed)
	if err := s.store.InsertRelays(ctx, relays); err != nil {
		return nil, err
	}
	s.logger.Info("relay catalog generated", slog.Int("count", len(relays)))
	return relays, nil
}

// ListRelays returns the current catalog.
func (s *InventoryService) ListRelays(ctx context.Context) ([]models.RelayDescriptor, error) {
	return s.store.ListRelays(ctx)
}

// ListCountries returns the distinct relay countries.
func (s *InventoryService) ListCountries(ctx context.Context) ([]string, error) {
	return s.store.ListCountries(ctx)
}

// DeleteAllRelays clears the catalog and reports how many rows went.
func (s *InventoryService) DeleteAllRelays(ctx context.Context) (int64, error) {
	return s.store.DeleteAllRelays(ctx)
}

// Stats returns the dashboard counters.
func (s *InventoryService) Stats(ctx context.Context) (models.SystemStats, error) {
	return s.store.Stats(ctx)
}
