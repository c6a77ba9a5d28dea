// Package cockroach persists the local call log.
package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"callcore/internal/domain"
	"callcore/pkg/errors"
)

// CallRepository stores finished call attempts. It implements the session
// store's CallRecorder; every terminal session lands here exactly once.
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a call log repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// Record implements call.CallRecorder
func (r *CallRepository) Record(ctx context.Context, rec *domain.CallRecord) error {
	query := `
		INSERT INTO call_log (
			call_id, peer_id, direction, media_kind,
			started_at, connected_at, ended_at, end_reason, duration
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (call_id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query,
		rec.CallID,
		rec.PeerID,
		rec.Direction,
		rec.MediaKind,
		rec.StartedAt,
		rec.ConnectedAt,
		rec.EndedAt,
		rec.EndReason,
		rec.Duration,
	)
	if err != nil {
		return errors.DatabaseError(fmt.Errorf("failed to record call: %w", err))
	}
	return nil
}

// GetByID retrieves one call log entry
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.CallRecord, error) {
	query := `
		SELECT call_id, peer_id, direction, media_kind,
		       started_at, connected_at, ended_at, end_reason, duration
		FROM call_log
		WHERE call_id = $1
	`

	rec := &domain.CallRecord{}
	err := r.pool.QueryRow(ctx, query, callID).Scan(
		&rec.CallID,
		&rec.PeerID,
		&rec.Direction,
		&rec.MediaKind,
		&rec.StartedAt,
		&rec.ConnectedAt,
		&rec.EndedAt,
		&rec.EndReason,
		&rec.Duration,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NotFoundError("Call")
		}
		return nil, errors.DatabaseError(err)
	}
	return rec, nil
}

// RecentWith lists the latest calls with one peer, newest first
func (r *CallRepository) RecentWith(ctx context.Context, peerID uuid.UUID, limit int) ([]*domain.CallRecord, error) {
	query := `
		SELECT call_id, peer_id, direction, media_kind,
		       started_at, connected_at, ended_at, end_reason, duration
		FROM call_log
		WHERE peer_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, peerID, limit)
	if err != nil {
		return nil, errors.DatabaseError(err)
	}
	defer rows.Close()

	var records []*domain.CallRecord
	for rows.Next() {
		rec := &domain.CallRecord{}
		if err := rows.Scan(
			&rec.CallID,
			&rec.PeerID,
			&rec.Direction,
			&rec.MediaKind,
			&rec.StartedAt,
			&rec.ConnectedAt,
			&rec.EndedAt,
			&rec.EndReason,
			&rec.Duration,
		); err != nil {
			return nil, errors.DatabaseError(err)
		}
		records = append(records, rec)
	}
	return records, nil
}
