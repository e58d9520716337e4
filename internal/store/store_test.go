package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torsightlabs/torsight-tca/internal/models"
	"github.com/torsightlabs/torsight-tca/internal/utils"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tca.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testDescriptor(fp string, role models.RelayRole) models.RelayDescriptor {
	return models.RelayDescriptor{
		Fingerprint:   fp,
		Nickname:      "relay-" + fp,
		Role:          role,
		MaskedIP:      "185.220.x.x",
		Port:          9001,
		Country:       "DE",
		BandwidthKBps: 5000,
		Flags:         "Fast,Stable",
		UptimeSeconds: 86400,
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "tca.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestRelayCatalogRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	relays := []models.RelayDescriptor{
		testDescriptor("AAAA0001", models.RoleGuard),
		testDescriptor("BBBB0001", models.RoleMiddle),
		testDescriptor("CCCC0001", models.RoleExit),
	}
	require.NoError(t, s.InsertRelays(ctx, relays))

	got, err := s.ListRelays(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "AAAA0001", got[0].Fingerprint)
	assert.Equal(t, models.RoleGuard, got[0].Role)
	assert.False(t, got[0].CreatedAt.IsZero())

	countries, err := s.ListCountries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"DE"}, countries)

	// Re-inserting the same fingerprint replaces rather than duplicates.
	updated := testDescriptor("AAAA0001", models.RoleGuard)
	updated.Nickname = "renamed"
	require.NoError(t, s.InsertRelays(ctx, []models.RelayDescriptor{updated}))
	got, err = s.ListRelays(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "renamed", got[0].Nickname)

	n, err := s.DeleteAllRelays(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	got, err = s.ListRelays(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCatalogVersionBumpsOnMutation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v0, err := s.catalogVersion(ctx)
	require.NoError(t, err)

	require.NoError(t, s.InsertRelays(ctx, []models.RelayDescriptor{testDescriptor("AAAA0001", models.RoleGuard)}))
	v1, err := s.catalogVersion(ctx)
	require.NoError(t, err)
	assert.Greater(t, v1, v0)

	_, err = s.DeleteAllRelays(ctx)
	require.NoError(t, err)
	v2, err := s.catalogVersion(ctx)
	require.NoError(t, err)
	assert.Greater(t, v2, v1)
}

func TestGetCatalogSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRelays(ctx, []models.RelayDescriptor{
		testDescriptor("AAAA0001", models.RoleGuard),
		testDescriptor("CCCC0001", models.RoleExit),
	}))

	snapshot, err := s.GetCatalogSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snapshot, 2)

	// The second read goes through the noop cache and must still work.
	again, err := s.GetCatalogSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, snapshot, again)
}

func TestSessionAndPacketRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	packets := []models.PacketRecord{
		{Timestamp: base, SrcAddr: "10.0.0.1", DstAddr: "185.220.101.5", Protocol: "TLS", Size: 1200, Direction: models.DirectionOutbound},
		{Timestamp: base.Add(30 * time.Millisecond), SrcAddr: "185.220.101.5", DstAddr: "10.0.0.1", Protocol: "TLS", Size: 600, Direction: models.DirectionInbound},
		{Timestamp: base.Add(90 * time.Millisecond), SrcAddr: "10.0.0.1", DstAddr: "185.220.101.5", Protocol: "TLS", Size: 900, Direction: models.DirectionOutbound},
	}
	session, err := s.CreateSession(ctx, models.TrafficSession{SessionID: "sess-001", Name: "capture one"}, packets)
	require.NoError(t, err)
	assert.Equal(t, 3, session.PacketCount)
	assert.EqualValues(t, 2700, session.TotalBytes)
	assert.Equal(t, base, session.StartTime)
	assert.Equal(t, base.Add(90*time.Millisecond), session.EndTime)

	got, err := s.GetSession(ctx, "sess-001")
	require.NoError(t, err)
	assert.Equal(t, "capture one", got.Name)

	series, err := s.GetPacketSeries(ctx, "sess-001")
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.Equal(t, models.DirectionOutbound, series[0].Direction)
	assert.True(t, series[0].Timestamp.Equal(base))

	list, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteSession(ctx, "sess-001"))
	_, err = s.GetPacketSeries(ctx, "sess-001")
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestGetPacketSeriesUnknownSession(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetPacketSeries(context.Background(), "sess-missing")
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestGetPacketSeriesEmptySession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, models.TrafficSession{SessionID: "sess-empty", Name: "empty"}, nil)
	require.NoError(t, err)

	series, err := s.GetPacketSeries(ctx, "sess-empty")
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestCaseLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	running := models.CorrelationResult{
		CaseID:            "CASE-1A2B3C4D",
		SessionID:         "sess-001",
		TimeWindowSeconds: 5,
		Status:            models.StatusRunning,
		AnalystNotes:      "initial",
		CreatedAt:         created,
	}
	require.NoError(t, s.CreateCase(ctx, running))

	got, err := s.GetCase(ctx, "CASE-1A2B3C4D")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)
	assert.True(t, got.CompletedAt.IsZero())

	entry := models.RelayRef{Fingerprint: "AAAA0001", Nickname: "guardAlpha", Country: "DE", MaskedIP: "185.220.x.x"}
	final := running
	final.Timing = models.SignalScore{Factor: models.FactorTiming, Weight: models.WeightCritical, Value: 82.14}
	final.Volume = models.SignalScore{Factor: models.FactorVolume, Weight: models.WeightHigh, Value: 64.5}
	final.Pattern = models.SignalScore{Factor: models.FactorPattern, Weight: models.WeightMedium, Value: 41}
	final.OverallConfidence = 68.62
	final.Circuit = models.ProbableCircuit{Entry: &entry}
	final.ProbableOrigin = "likely origin region DE via entry guardAlpha (probabilistic, not verified)"
	final.Justification = "narrative"
	final.EvidenceHash = "abc123"
	final.Status = models.StatusCompleted
	final.CompletedAt = created.Add(2 * time.Second)
	require.NoError(t, s.FinalizeCase(ctx, final))

	got, err = s.GetCase(ctx, "CASE-1A2B3C4D")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 82.14, got.Timing.Value)
	assert.Equal(t, models.WeightCritical, got.Timing.Weight)
	assert.Equal(t, 68.62, got.OverallConfidence)
	require.NotNil(t, got.Circuit.Entry)
	assert.Equal(t, "AAAA0001", got.Circuit.Entry.Fingerprint)
	assert.Nil(t, got.Circuit.Middle)
	assert.Equal(t, "abc123", got.EvidenceHash)
	assert.Equal(t, final.CompletedAt, got.CompletedAt)
}

func TestListCasesStatusFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, status := range []models.CaseStatus{models.StatusCompleted, models.StatusFailed, models.StatusCompleted} {
		res := models.CorrelationResult{
			CaseID:            "CASE-0000000" + string(rune('A'+i)),
			SessionID:         "sess-001",
			TimeWindowSeconds: 5,
			Status:            models.StatusRunning,
			CreatedAt:         base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.CreateCase(ctx, res))
		res.Status = status
		res.CompletedAt = res.CreatedAt.Add(time.Second)
		require.NoError(t, s.FinalizeCase(ctx, res))
	}

	all, err := s.ListCases(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, "CASE-0000000C", all[0].CaseID)

	completed, err := s.ListCases(ctx, models.StatusCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 2)

	failed, err := s.ListCases(ctx, models.StatusFailed)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestUpdateNotesAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res := models.CorrelationResult{
		CaseID:            "CASE-1A2B3C4D",
		SessionID:         "sess-001",
		TimeWindowSeconds: 5,
		Status:            models.StatusRunning,
		CreatedAt:         time.Now().UTC(),
	}
	require.NoError(t, s.CreateCase(ctx, res))

	require.NoError(t, s.UpdateNotes(ctx, "CASE-1A2B3C4D", "amended"))
	got, err := s.GetCase(ctx, "CASE-1A2B3C4D")
	require.NoError(t, err)
	assert.Equal(t, "amended", got.AnalystNotes)

	assert.ErrorIs(t, s.UpdateNotes(ctx, "CASE-MISSING", "x"), utils.ErrNotFound)

	require.NoError(t, s.DeleteCase(ctx, "CASE-1A2B3C4D"))
	_, err = s.GetCase(ctx, "CASE-1A2B3C4D")
	assert.ErrorIs(t, err, utils.ErrNotFound)
	assert.ErrorIs(t, s.DeleteCase(ctx, "CASE-1A2B3C4D"), utils.ErrNotFound)
}

func TestDeleteCaseLeavesInputsIntact(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRelays(ctx, []models.RelayDescriptor{testDescriptor("AAAA0001", models.RoleGuard)}))
	_, err := s.CreateSession(ctx, models.TrafficSession{SessionID: "sess-001", Name: "capture"}, nil)
	require.NoError(t, err)

	res := models.CorrelationResult{
		CaseID: "CASE-1A2B3C4D", SessionID: "sess-001", TimeWindowSeconds: 5,
		Status: models.StatusRunning, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateCase(ctx, res))
	require.NoError(t, s.DeleteCase(ctx, "CASE-1A2B3C4D"))

	_, err = s.GetSession(ctx, "sess-001")
	assert.NoError(t, err, "case deletion must not remove the session")
	relays, err := s.ListRelays(ctx)
	require.NoError(t, err)
	assert.Len(t, relays, 1, "case deletion must not touch the catalog")
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRelays(ctx, []models.RelayDescriptor{testDescriptor("AAAA0001", models.RoleGuard)}))
	_, err := s.CreateSession(ctx, models.TrafficSession{SessionID: "sess-001", Name: "one"}, nil)
	require.NoError(t, err)

	res := models.CorrelationResult{
		CaseID: "CASE-1A2B3C4D", SessionID: "sess-001", TimeWindowSeconds: 5,
		Status: models.StatusRunning, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateCase(ctx, res))
	res.Status = models.StatusFailed
	res.FailureReason = "session contains no packet records"
	res.CompletedAt = time.Now().UTC()
	require.NoError(t, s.FinalizeCase(ctx, res))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SystemStats{
		TotalRelays:    1,
		TotalSessions:  1,
		TotalCases:     1,
		CompletedCases: 0,
		FailedCases:    1,
	}, stats)
}
