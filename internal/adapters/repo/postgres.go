package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/metrics"
)

const uniqueViolation = "23505"

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.CastRepo               = (*Postgres)(nil)
	_ domain.UserRepo               = (*Postgres)(nil)
	_ domain.EdgeRepo               = (*Postgres)(nil)
	_ domain.TrackRepo              = (*Postgres)(nil)
	_ domain.EnrichmentQueue        = (*Postgres)(nil)
	_ domain.SyncCheckpointRepo     = (*Postgres)(nil)
	_ domain.BackfillCheckpointRepo = (*Postgres)(nil)
	_ domain.ReactionTrackingRepo   = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// isUniqueViolation распознаёт конфликт уникального ключа по SQLSTATE, а не по тексту ошибки.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullString(value string) sql.NullString {
	trimmed := strings.TrimSpace(value)
	return sql.NullString{String: trimmed, Valid: trimmed != ""}
}

// UpsertCast сохраняет каст; повторный вызов с теми же полями ничего не меняет.
func (p *Postgres) UpsertCast(ctx context.Context, cast domain.Cast) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	embeds := cast.Embeds
	if embeds == nil {
		embeds = []string{}
	}
	embedsJSON, err := json.Marshal(embeds)
	if err != nil {
		return fmt.Errorf("marshal embeds: %w", err)
	}

	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO casts (hash, text, author_fid, parent_hash, root_parent_hash, channel, created_at, embeds)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (hash) DO UPDATE SET
    text = EXCLUDED.text,
    author_fid = EXCLUDED.author_fid,
    parent_hash = COALESCE(EXCLUDED.parent_hash, casts.parent_hash),
    root_parent_hash = COALESCE(EXCLUDED.root_parent_hash, casts.root_parent_hash),
    channel = COALESCE(NULLIF(EXCLUDED.channel, ''), casts.channel),
    embeds = EXCLUDED.embeds,
    updated_at = now()
`, cast.Hash, cast.Text, cast.AuthorFID, nullString(cast.ParentHash), nullString(cast.RootParentHash), cast.Channel, cast.CreatedAt, embedsJSON)
	metrics.ObserveNetworkRequest("postgres", "casts_upsert", "casts", start, err)
	return err
}

// CastExists проверяет наличие каста.
func (p *Postgres) CastExists(ctx context.Context, hash string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM casts WHERE hash=$1)`, hash).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "casts_exists", "casts", start, err)
	return exists, err
}

// LatestCastTimestamp возвращает время самого свежего каста канала.
func (p *Postgres) LatestCastTimestamp(ctx context.Context, channelID string) (time.Time, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var latest sql.NullTime
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT MAX(created_at) FROM casts WHERE channel=$1`, channelID).Scan(&latest)
	metrics.ObserveNetworkRequest("postgres", "casts_latest_timestamp", "casts", start, err)
	if err != nil {
		return time.Time{}, false, err
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time.UTC(), true, nil
}

// ListCastHashesSince возвращает касты, созданные после since, от новых к старым.
func (p *Postgres) ListCastHashesSince(ctx context.Context, since time.Time) ([]string, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT hash FROM casts WHERE created_at >= $1 ORDER BY created_at DESC`, since)
	metrics.ObserveNetworkRequest("postgres", "casts_list_since", "casts", start, err)
	if err != nil {
		return nil, err
	}
	hashes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return hashes, nil
}

// UpsertUser сохраняет профиль; пустые поля не затирают сохранённые значения.
func (p *Postgres) UpsertUser(ctx context.Context, user domain.User) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO users (fid, username, display_name, pfp_url)
VALUES ($1, $2, $3, $4)
ON CONFLICT (fid) DO UPDATE SET
    username = COALESCE(EXCLUDED.username, users.username),
    display_name = COALESCE(EXCLUDED.display_name, users.display_name),
    pfp_url = COALESCE(EXCLUDED.pfp_url, users.pfp_url),
    updated_at = now()
`, user.FID, nullString(user.Username), nullString(user.DisplayName), nullString(user.PfpURL))
	metrics.ObserveNetworkRequest("postgres", "users_upsert", "users", start, err)
	return err
}

// CreateEdge добавляет связь. Конфликт уникального ключа возвращается как domain.ErrAlreadyExists.
func (p *Postgres) CreateEdge(ctx context.Context, edge domain.InteractionEdge) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	createdAt := edge.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO interaction_edges (user_fid, cast_hash, kind, parent_cast_hash, created_at)
VALUES ($1, $2, $3, $4, $5)
`, edge.UserFID, edge.CastHash, string(edge.Kind), nullString(edge.ParentHash), createdAt)
	metrics.ObserveNetworkRequest("postgres", "edges_insert", "interaction_edges", start, err)
	if isUniqueViolation(err) {
		return fmt.Errorf("edge %s %s/%d: %w", edge.Kind, edge.CastHash, edge.UserFID, domain.ErrAlreadyExists)
	}
	return err
}

// CountEdges считает связи заданного типа у каста.
func (p *Postgres) CountEdges(ctx context.Context, castHash string, kind domain.EdgeKind) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var count int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM interaction_edges WHERE cast_hash=$1 AND kind=$2`, castHash, string(kind)).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "edges_count", "interaction_edges", start, err)
	return count, err
}
