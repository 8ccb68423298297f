package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/metrics"
)

// GetChannelSync возвращает состояние синхронизации канала.
func (p *Postgres) GetChannelSync(ctx context.Context, channelID string) (domain.ChannelSyncCheckpoint, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		cp      domain.ChannelSyncCheckpoint
		lastErr sql.NullString
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT channel_id, last_sync_at, last_cast_count, success, last_error
FROM channel_sync_checkpoints WHERE channel_id=$1
`, channelID).Scan(&cp.ChannelID, &cp.LastSyncAt, &cp.LastCastCount, &cp.Success, &lastErr)
	metrics.ObserveNetworkRequest("postgres", "channel_sync_get", "channel_sync_checkpoints", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ChannelSyncCheckpoint{}, false, nil
	}
	if err != nil {
		return domain.ChannelSyncCheckpoint{}, false, err
	}
	cp.LastError = lastErr.String
	return cp, true, nil
}

// SaveChannelSync записывает результат попытки синхронизации.
func (p *Postgres) SaveChannelSync(ctx context.Context, cp domain.ChannelSyncCheckpoint) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO channel_sync_checkpoints (channel_id, last_sync_at, last_cast_count, success, last_error)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (channel_id) DO UPDATE SET
    last_sync_at = EXCLUDED.last_sync_at,
    last_cast_count = EXCLUDED.last_cast_count,
    success = EXCLUDED.success,
    last_error = EXCLUDED.last_error
`, cp.ChannelID, cp.LastSyncAt, cp.LastCastCount, cp.Success, nullString(cp.LastError))
	metrics.ObserveNetworkRequest("postgres", "channel_sync_save", "channel_sync_checkpoints", start, err)
	return err
}

// LoadBackfill возвращает точку возобновления выгрузки.
func (p *Postgres) LoadBackfill(ctx context.Context, channelID string) (domain.BackfillCheckpoint, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		cp       domain.BackfillCheckpoint
		cursor   sql.NullString
		lastSeen sql.NullTime
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT channel_id, cursor, last_seen_at, processed, started_at, updated_at, completed
FROM backfill_checkpoints WHERE channel_id=$1
`, channelID).Scan(&cp.ChannelID, &cursor, &lastSeen, &cp.Processed, &cp.StartedAt, &cp.UpdatedAt, &cp.Completed)
	metrics.ObserveNetworkRequest("postgres", "backfill_load", "backfill_checkpoints", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BackfillCheckpoint{}, false, nil
	}
	if err != nil {
		return domain.BackfillCheckpoint{}, false, err
	}
	cp.Cursor = cursor.String
	if lastSeen.Valid {
		cp.LastSeenAt = lastSeen.Time.UTC()
	}
	return cp, true, nil
}

// SaveBackfill сохраняет прогресс выгрузки после страницы.
func (p *Postgres) SaveBackfill(ctx context.Context, cp domain.BackfillCheckpoint) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var lastSeen sql.NullTime
	if !cp.LastSeenAt.IsZero() {
		lastSeen = sql.NullTime{Time: cp.LastSeenAt, Valid: true}
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO backfill_checkpoints (channel_id, cursor, last_seen_at, processed, started_at, updated_at, completed)
VALUES ($1, $2, $3, $4, $5, now(), $6)
ON CONFLICT (channel_id) DO UPDATE SET
    cursor = EXCLUDED.cursor,
    last_seen_at = EXCLUDED.last_seen_at,
    processed = EXCLUDED.processed,
    updated_at = now(),
    completed = EXCLUDED.completed
`, cp.ChannelID, nullString(cp.Cursor), lastSeen, cp.Processed, cp.StartedAt, cp.Completed)
	metrics.ObserveNetworkRequest("postgres", "backfill_save", "backfill_checkpoints", start, err)
	return err
}

// DeleteBackfill сбрасывает прогресс выгрузки канала.
func (p *Postgres) DeleteBackfill(ctx context.Context, channelID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM backfill_checkpoints WHERE channel_id=$1`, channelID)
	metrics.ObserveNetworkRequest("postgres", "backfill_delete", "backfill_checkpoints", start, err)
	return err
}

// GetReactionTracking возвращает базовые счётчики по списку кастов.
func (p *Postgres) GetReactionTracking(ctx context.Context, hashes []string) (map[string]domain.ReactionTracking, error) {
	out := make(map[string]domain.ReactionTracking, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT cast_hash, likes_count, recasts_count, last_checked_at
FROM reaction_sync_tracking WHERE cast_hash = ANY($1)
`, hashes)
	metrics.ObserveNetworkRequest("postgres", "reaction_tracking_get", "reaction_sync_tracking", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var row domain.ReactionTracking
		if err := rows.Scan(&row.CastHash, &row.LikesCount, &row.RecastsCount, &row.LastCheckedAt); err != nil {
			return nil, err
		}
		out[row.CastHash] = row
	}
	return out, rows.Err()
}

// SaveReactionTracking обновляет базовые счётчики батчем.
func (p *Postgres) SaveReactionTracking(ctx context.Context, tracking []domain.ReactionTracking) error {
	if len(tracking) == 0 {
		return nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, row := range tracking {
		batch.Queue(`
INSERT INTO reaction_sync_tracking (cast_hash, likes_count, recasts_count, last_checked_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (cast_hash) DO UPDATE SET
    likes_count = EXCLUDED.likes_count,
    recasts_count = EXCLUDED.recasts_count,
    last_checked_at = EXCLUDED.last_checked_at
`, row.CastHash, row.LikesCount, row.RecastsCount, row.LastCheckedAt)
	}
	start := time.Now()
	br := p.pool.SendBatch(ctx, batch)
	metrics.ObserveNetworkRequest("postgres", "reaction_tracking_send_batch", "reaction_sync_tracking", start, nil)
	defer br.Close()
	for range tracking {
		start = time.Now()
		_, err := br.Exec()
		metrics.ObserveNetworkRequest("postgres", "reaction_tracking_batch_exec", "reaction_sync_tracking", start, err)
		if err != nil {
			return err
		}
	}
	return nil
}
