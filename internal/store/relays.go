package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/torsightlabs/torsight-tca/internal/cache"
	"github.com/torsightlabs/torsight-tca/internal/models"
)

// InsertRelays stores descriptors, replacing any existing relay with the
// same fingerprint, and bumps the catalog version.
func (s *Store) InsertRelays(ctx context.Context, relays []models.RelayDescriptor) error {
	if len(relays) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO relays
			(fingerprint, nickname, role, masked_ip, port, country, bandwidth_kbps, flags, uptime_seconds, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare relay insert: %w", err)
	}
	defer stmt.Close()

	for _, relay := range relays {
		createdAt := relay.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			relay.Fingerprint, relay.Nickname, string(relay.Role), relay.MaskedIP, relay.Port,
			relay.Country, relay.BandwidthKBps, relay.Flags, relay.UptimeSeconds, createdAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert relay %s: %w", relay.Fingerprint, err)
		}
	}
	if err := s.bumpCatalogVersion(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit relay insert: %w", err)
	}
	return nil
}

// DeleteAllRelays clears the catalog.
func (s *Store) DeleteAllRelays(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM relays`)
	if err != nil {
		return 0, fmt.Errorf("delete relays: %w", err)
	}
	if err := s.bumpCatalogVersion(ctx, tx); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit relay delete: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListRelays returns all descriptors ordered by fingerprint.
func (s *Store) ListRelays(ctx context.Context) ([]models.RelayDescriptor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, nickname, role, masked_ip, port, country, bandwidth_kbps, flags, uptime_seconds, created_at_ns
		FROM relays ORDER BY fingerprint`)
	if err != nil {
		return nil, fmt.Errorf("query relays: %w", err)
	}
	defer rows.Close()

	var relays []models.RelayDescriptor
	for rows.Next() {
		var (
			relay       models.RelayDescriptor
			role        string
			createdAtNs int64
		)
		if err := rows.Scan(&relay.Fingerprint, &relay.Nickname, &role, &relay.MaskedIP, &relay.Port,
			&relay.Country, &relay.BandwidthKBps, &relay.Flags, &relay.UptimeSeconds, &createdAtNs); err != nil {
			return nil, fmt.Errorf("scan relay: %w", err)
		}
		relay.Role = models.RelayRole(role)
		relay.CreatedAt = time.Unix(0, createdAtNs).UTC()
		relays = append(relays, relay)
	}
	return relays, rows.Err()
}

// ListCountries returns the distinct relay countries, sorted.
func (s *Store) ListCountries(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT country FROM relays ORDER BY country`)
	if err != nil {
		return nil, fmt.Errorf("query countries: %w", err)
	}
	defer rows.Close()

	var countries []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan country: %w", err)
		}
		countries = append(countries, c)
	}
	return countries, rows.Err()
}

// GetCatalogSnapshot returns the current relay catalog, consulting the
// cache first. The cache key carries the catalog version, so mutations
// shift readers to a fresh key immediately.
func (s *Store) GetCatalogSnapshot(ctx context.Context) ([]models.RelayDescriptor, error) {
	version, err := s.catalogVersion(ctx)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("catalog:v%d", version)

	if data, err := s.cache.Get(ctx, key); err == nil {
		var relays []models.RelayDescriptor
		if err := json.Unmarshal(data, &relays); err == nil {
			return relays, nil
		}
		s.logger.Warn("discarding undecodable catalog cache entry", slog.String("key", key))
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("catalog cache read failed", slog.Any("error", err))
	}

	relays, err := s.ListRelays(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(relays); err == nil {
		if err := s.cache.Set(ctx, key, data, s.catalogTTL); err != nil {
			s.logger.Warn("catalog cache write failed", slog.Any("error", err))
		}
	}
	return relays, nil
}
