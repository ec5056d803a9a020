package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/remote-agent-hub/backend/internal/model"
)

const defaultListLimit = 100

// ConnectionRepository journals agent connections. It is a history only;
// nothing is restored from it on start-up.
type ConnectionRepository struct {
	db *sql.DB
}

// NewConnectionRepository creates a new ConnectionRepository.
func NewConnectionRepository(db *sql.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// Create inserts a new connection record and sets its ID.
func (r *ConnectionRepository) Create(ctx context.Context, rec *model.ConnectionRecord) error {
	if rec.Status == "" {
		rec.Status = model.AgentStatusActive
	}

	query := `
		INSERT INTO agent_connections (agent_id, remote_addr, addressing, status, connected_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		rec.AgentID,
		rec.RemoteAddr,
		rec.Addressing,
		rec.Status,
		rec.ConnectedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create connection record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get connection record id: %w", err)
	}
	rec.ID = id
	return nil
}

// MarkClosed records the end of a connection.
func (r *ConnectionRepository) MarkClosed(ctx context.Context, id int64, reason string, at time.Time) error {
	query := `
		UPDATE agent_connections
		SET status = ?, close_reason = ?, disconnected_at = ?
		WHERE id = ? AND status = ?
	`

	_, err := r.db.ExecContext(ctx, query, model.AgentStatusDisconnected, reason, at, id, model.AgentStatusActive)
	if err != nil {
		return fmt.Errorf("failed to close connection record: %w", err)
	}
	return nil
}

// CloseDangling closes every record left open, e.g. by a crash, and returns
// how many were closed.
func (r *ConnectionRepository) CloseDangling(ctx context.Context, reason string) (int64, error) {
	query := `
		UPDATE agent_connections
		SET status = ?, close_reason = ?, disconnected_at = ?
		WHERE status = ?
	`

	result, err := r.db.ExecContext(ctx, query, model.AgentStatusDisconnected, reason, time.Now(), model.AgentStatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to close dangling connection records: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// ListByAgent returns the most recent connections of one agent, newest first.
func (r *ConnectionRepository) ListByAgent(ctx context.Context, agentID string, limit int) ([]*model.ConnectionRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT id, agent_id, remote_addr, addressing, status, close_reason, connected_at, disconnected_at
		FROM agent_connections
		WHERE agent_id = ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list connection records: %w", err)
	}
	defer rows.Close()

	var records []*model.ConnectionRecord
	for rows.Next() {
		rec := &model.ConnectionRecord{}
		var remoteAddr sql.NullString
		var closeReason sql.NullString
		var disconnectedAt sql.NullTime

		err := rows.Scan(
			&rec.ID,
			&rec.AgentID,
			&remoteAddr,
			&rec.Addressing,
			&rec.Status,
			&closeReason,
			&rec.ConnectedAt,
			&disconnectedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection record: %w", err)
		}

		if remoteAddr.Valid {
			rec.RemoteAddr = remoteAddr.String
		}
		if closeReason.Valid {
			rec.CloseReason = closeReason.String
		}
		if disconnectedAt.Valid {
			t := disconnectedAt.Time
			rec.DisconnectedAt = &t
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connection records: %w", err)
	}
	return records, nil
}

// CountOpen returns the number of connections not yet closed.
func (r *ConnectionRepository) CountOpen(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM agent_connections WHERE status = ?`

	var count int
	err := r.db.QueryRowContext(ctx, query, model.AgentStatusActive).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open connections: %w", err)
	}
	return count, nil
}
