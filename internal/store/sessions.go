package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/torsightlabs/torsight-tca/internal/models"
	"github.com/torsightlabs/torsight-tca/internal/utils"
)

// CreateSession stores a session and its packet series in one transaction.
// The session summary fields (packet count, byte total, start/end) are
// derived from the packets, not trusted from the caller.
func (s *Store) CreateSession(ctx context.Context, session models.TrafficSession, packets []models.PacketRecord) (models.TrafficSession, error) {
	session.PacketCount = len(packets)
	session.TotalBytes = 0
	for _, pkt := range packets {
		session.TotalBytes += pkt.Size
	}
	if len(packets) > 0 {
		session.StartTime = packets[0].Timestamp
		session.EndTime = packets[len(packets)-1].Timestamp
		for _, pkt := range packets {
			if pkt.Timestamp.Before(session.StartTime) {
				session.StartTime = pkt.Timestamp
			}
			if pkt.Timestamp.After(session.EndTime) {
				session.EndTime = pkt.Timestamp
			}
		}
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.TrafficSession{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, name, description, start_ns, end_ns, packet_count, total_bytes, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.SessionID, session.Name, session.Description,
		session.StartTime.UnixNano(), session.EndTime.UnixNano(),
		session.PacketCount, session.TotalBytes, session.CreatedAt.UnixNano(),
	); err != nil {
		return models.TrafficSession{}, fmt.Errorf("insert session %s: %w", session.SessionID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO packets (session_id, timestamp_ns, src_addr, dst_addr, protocol, size, direction)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return models.TrafficSession{}, fmt.Errorf("prepare packet insert: %w", err)
	}
	defer stmt.Close()

	for _, pkt := range packets {
		if _, err := stmt.ExecContext(ctx,
			session.SessionID, pkt.Timestamp.UnixNano(), pkt.SrcAddr, pkt.DstAddr,
			pkt.Protocol, pkt.Size, string(pkt.Direction),
		); err != nil {
			return models.TrafficSession{}, fmt.Errorf("insert packet: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return models.TrafficSession{}, fmt.Errorf("commit session: %w", err)
	}
	return session, nil
}

// GetSession returns one session summary.
func (s *Store) GetSession(ctx context.Context, sessionID string) (models.TrafficSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, name, description, start_ns, end_ns, packet_count, total_bytes, created_at_ns
		FROM sessions WHERE session_id = ?`, sessionID)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return models.TrafficSession{}, fmt.Errorf("session %s: %w", sessionID, utils.ErrNotFound)
	}
	if err != nil {
		return models.TrafficSession{}, fmt.Errorf("query session: %w", err)
	}
	return session, nil
}

// ListSessions returns all session summaries, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]models.TrafficSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, name, description, start_ns, end_ns, packet_count, total_bytes, created_at_ns
		FROM sessions ORDER BY created_at_ns DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.TrafficSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and, via cascade, its packets.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, utils.ErrNotFound)
	}
	return nil
}

// GetPacketSeries returns a session's packets ordered by timestamp. An
// unknown session wraps utils.ErrNotFound; a known session with no packets
// returns an empty slice.
func (s *Store) GetPacketSeries(ctx context.Context, sessionID string) ([]models.PacketRecord, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session %s: %w", sessionID, utils.ErrNotFound)
		}
		return nil, fmt.Errorf("query session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp_ns, src_addr, dst_addr, protocol, size, direction
		FROM packets WHERE session_id = ? ORDER BY timestamp_ns, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query packets: %w", err)
	}
	defer rows.Close()

	packets := []models.PacketRecord{}
	for rows.Next() {
		var (
			pkt         models.PacketRecord
			timestampNs int64
			direction   string
		)
		if err := rows.Scan(&timestampNs, &pkt.SrcAddr, &pkt.DstAddr, &pkt.Protocol, &pkt.Size, &direction); err != nil {
			return nil, fmt.Errorf("scan packet: %w", err)
		}
		pkt.Timestamp = time.Unix(0, timestampNs).UTC()
		pkt.Direction = models.Direction(direction)
		packets = append(packets, pkt)
	}
	return packets, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (models.TrafficSession, error) {
	var (
		session        models.TrafficSession
		startNs, endNs int64
		createdNs      int64
	)
	if err := row.Scan(&session.SessionID, &session.Name, &session.Description,
		&startNs, &endNs, &session.PacketCount, &session.TotalBytes, &createdNs); err != nil {
		return models.TrafficSession{}, err
	}
	session.StartTime = time.Unix(0, startNs).UTC()
	session.EndTime = time.Unix(0, endNs).UTC()
	session.CreatedAt = time.Unix(0, createdNs).UTC()
	return session, nil
}
