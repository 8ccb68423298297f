package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/metrics"
)

func nullPtr(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return nullString(*value)
}

// UpsertTrack сохраняет трек по (platform, platform_id). Метаданные берутся из
// последней загрузки, но неудачная загрузка не стирает сохранённые значения.
// Статус обработки только растёт: unfetched → og_fetched → enriched.
func (p *Postgres) UpsertTrack(ctx context.Context, track domain.MusicTrack) (domain.MusicTrack, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var raw []byte
	if len(track.RawMetadata) > 0 {
		data, err := json.Marshal(track.RawMetadata)
		if err != nil {
			return domain.MusicTrack{}, err
		}
		raw = data
	}
	status := track.Status
	if status == "" {
		status = domain.TrackUnfetched
	}
	fetchedAt := track.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}

	var (
		saved    domain.MusicTrack
		title    sql.NullString
		artist   sql.NullString
		image    sql.NullString
		rawSaved []byte
		fetched  sql.NullTime
		statusDB string
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO music_tracks (platform, platform_id, source_url, title, artist, image_url, raw_metadata, processing_status, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (platform, platform_id) DO UPDATE SET
    source_url = EXCLUDED.source_url,
    title = COALESCE(EXCLUDED.title, music_tracks.title),
    artist = COALESCE(EXCLUDED.artist, music_tracks.artist),
    image_url = COALESCE(EXCLUDED.image_url, music_tracks.image_url),
    raw_metadata = COALESCE(EXCLUDED.raw_metadata, music_tracks.raw_metadata),
    processing_status = CASE
        WHEN (CASE music_tracks.processing_status WHEN 'enriched' THEN 2 WHEN 'og_fetched' THEN 1 ELSE 0 END)
           >= (CASE EXCLUDED.processing_status WHEN 'enriched' THEN 2 WHEN 'og_fetched' THEN 1 ELSE 0 END)
        THEN music_tracks.processing_status
        ELSE EXCLUDED.processing_status
    END,
    fetched_at = EXCLUDED.fetched_at
RETURNING platform, platform_id, source_url, title, artist, image_url, raw_metadata, processing_status, fetched_at
`, track.Platform, track.PlatformID, track.SourceURL, nullPtr(track.Title), nullPtr(track.Artist), nullPtr(track.ImageURL), raw, string(status), fetchedAt).
		Scan(&saved.Platform, &saved.PlatformID, &saved.SourceURL, &title, &artist, &image, &rawSaved, &statusDB, &fetched)
	metrics.ObserveNetworkRequest("postgres", "music_tracks_upsert", "music_tracks", start, err)
	if err != nil {
		return domain.MusicTrack{}, err
	}
	if title.Valid {
		saved.Title = &title.String
	}
	if artist.Valid {
		saved.Artist = &artist.String
	}
	if image.Valid {
		saved.ImageURL = &image.String
	}
	if len(rawSaved) > 0 {
		_ = json.Unmarshal(rawSaved, &saved.RawMetadata)
	}
	if fetched.Valid {
		saved.FetchedAt = fetched.Time
	}
	saved.Status = domain.TrackStatus(statusDB)
	return saved, nil
}

// LinkTrackToCast связывает каст с треком; повторная связь ничего не делает.
func (p *Postgres) LinkTrackToCast(ctx context.Context, link domain.CastTrack) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO cast_tracks (cast_hash, platform, platform_id, embed_index)
VALUES ($1, $2, $3, $4)
ON CONFLICT (cast_hash, platform, platform_id) DO NOTHING
`, link.CastHash, link.Platform, link.PlatformID, link.EmbedIndex)
	metrics.ObserveNetworkRequest("postgres", "cast_tracks_link", "cast_tracks", start, err)
	return err
}

// EnqueueIfAbsent ставит трек в очередь обогащения, не трогая существующую запись.
func (p *Postgres) EnqueueIfAbsent(ctx context.Context, platform, platformID string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
INSERT INTO music_enrichment_queue (platform, platform_id)
VALUES ($1, $2)
ON CONFLICT (platform, platform_id) DO NOTHING
`, platform, platformID)
	metrics.ObserveNetworkRequest("postgres", "enrichment_enqueue", "music_enrichment_queue", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}
