package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
	httpinfra "github.com/empty-block/vibe-playlist-sub001/internal/infra/http"
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/backfill"
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/channelsync"
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/ingest"
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/music"
	"github.com/empty-block/vibe-playlist-sub001/internal/usecase/reactions"
)

const maxProcessURLs = 50

type handlers struct {
	sync       *channelsync.Worker
	reactions  *reactions.Worker
	music      *music.Service
	engine     *ingest.Engine
	backfill   *backfill.Service
	signerUUID string
	log        zerolog.Logger
}

func mountRoutes(r chi.Router, h handlers) {
	r.Route("/internal", func(r chi.Router) {
		r.Post("/channels/{id}/sync", h.syncChannel)
		r.Get("/channels/{id}/status", h.channelStatus)
		r.Get("/channels/{id}/backfill", h.backfillStatus)
		r.Post("/casts", h.publishCast)
		r.Post("/casts/{hash}/reactions/sync", h.syncReactions)
		r.Post("/casts/{hash}/tracks", h.linkTrack)
		r.Post("/music/process", h.processMusic)
	})
}

type syncRequest struct {
	Force          bool `json:"force"`
	Limit          int  `json:"limit"`
	IncludeReplies bool `json:"include_replies"`
}

type syncResponse struct {
	ChannelID string   `json:"channel_id"`
	Skipped   bool     `json:"skipped"`
	Success   bool     `json:"success"`
	Processed int      `json:"processed"`
	NewCount  int      `json:"new_count"`
	Errors    []string `json:"errors,omitempty"`
}

func (h handlers) syncChannel(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	res, err := h.sync.SyncChannel(r.Context(), chi.URLParam(r, "id"), channelsync.SyncOptions{
		Force:          req.Force,
		Limit:          req.Limit,
		IncludeReplies: req.IncludeReplies,
	})
	resp := syncResponse{
		ChannelID: res.ChannelID,
		Skipped:   res.Skipped,
		Success:   res.Success,
		Processed: res.Processed,
		NewCount:  res.NewCount,
		Errors:    res.Errors,
	}
	switch {
	case errors.Is(err, channelsync.ErrSyncInProgress):
		httpinfra.WriteJSON(w, http.StatusConflict, resp)
	case err != nil:
		h.log.Error().Err(err).Str("channel", res.ChannelID).Msg("api: channel sync failed")
		httpinfra.WriteJSON(w, http.StatusBadGateway, resp)
	default:
		httpinfra.WriteJSON(w, http.StatusOK, resp)
	}
}

type checkpointResponse struct {
	ChannelID     string    `json:"channel_id"`
	LastSyncAt    time.Time `json:"last_sync_at"`
	LastCastCount int       `json:"last_cast_count"`
	Success       bool      `json:"success"`
	LastError     string    `json:"last_error,omitempty"`
}

func (h handlers) channelStatus(w http.ResponseWriter, r *http.Request) {
	cp, err := h.sync.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, checkpointResponse{
		ChannelID:     cp.ChannelID,
		LastSyncAt:    cp.LastSyncAt,
		LastCastCount: cp.LastCastCount,
		Success:       cp.Success,
		LastError:     cp.LastError,
	})
}

type backfillResponse struct {
	ChannelID  string    `json:"channel_id"`
	Cursor     string    `json:"cursor,omitempty"`
	LastSeenAt time.Time `json:"last_seen_at"`
	Processed  int       `json:"processed"`
	StartedAt  time.Time `json:"started_at"`
	Completed  bool      `json:"completed"`
}

func (h handlers) backfillStatus(w http.ResponseWriter, r *http.Request) {
	cp, err := h.backfill.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, backfillResponse{
		ChannelID:  cp.ChannelID,
		Cursor:     cp.Cursor,
		LastSeenAt: cp.LastSeenAt,
		Processed:  cp.Processed,
		StartedAt:  cp.StartedAt,
		Completed:  cp.Completed,
	})
}

type reactionsRequest struct {
	ViewerFID int64    `json:"viewer_fid"`
	Types     []string `json:"types"`
	Limit     int      `json:"limit"`
}

func (h handlers) syncReactions(w http.ResponseWriter, r *http.Request) {
	var req reactionsRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	opts := reactions.Options{Limit: req.Limit}
	for _, t := range req.Types {
		switch domain.ReactionType(t) {
		case domain.ReactionLike, domain.ReactionRecast:
			opts.Types = append(opts.Types, domain.ReactionType(t))
		default:
			httpinfra.WriteError(w, http.StatusBadRequest, fmt.Errorf("unknown reaction type %q", t))
			return
		}
	}
	added, err := h.reactions.SyncCastReactions(r.Context(), chi.URLParam(r, "hash"), req.ViewerFID, opts)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]int{"added": added})
}

type processRequest struct {
	URLs []string `json:"urls"`
}

type trackResponse struct {
	URL             string  `json:"url"`
	Platform        string  `json:"platform,omitempty"`
	PlatformID      string  `json:"platform_id,omitempty"`
	Success         bool    `json:"success"`
	MetadataFetched bool    `json:"metadata_fetched"`
	Enqueued        bool    `json:"enqueued"`
	Title           *string `json:"title,omitempty"`
	Artist          *string `json:"artist,omitempty"`
	ImageURL        *string `json:"image_url,omitempty"`
	Status          string  `json:"status,omitempty"`
	Error           string  `json:"error,omitempty"`
}

func (h handlers) processMusic(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if len(req.URLs) == 0 {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("urls is required"))
		return
	}
	if len(req.URLs) > maxProcessURLs {
		httpinfra.WriteError(w, http.StatusBadRequest, fmt.Errorf("at most %d urls per request", maxProcessURLs))
		return
	}
	results := h.music.ProcessBatch(r.Context(), req.URLs)
	out := make([]trackResponse, 0, len(results))
	for _, res := range results {
		item := trackResponse{
			URL:             res.URL,
			Platform:        res.Platform,
			PlatformID:      res.PlatformID,
			Success:         res.Success,
			MetadataFetched: res.MetadataFetched,
			Enqueued:        res.Enqueued,
		}
		if res.Success {
			item.Title = res.Track.Title
			item.Artist = res.Track.Artist
			item.ImageURL = res.Track.ImageURL
			item.Status = string(res.Track.Status)
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		out = append(out, item)
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"results": out})
}

type linkRequest struct {
	Platform   string `json:"platform"`
	PlatformID string `json:"platform_id"`
	EmbedIndex int    `json:"embed_index"`
}

func (h handlers) linkTrack(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.Platform == "" || req.PlatformID == "" {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("platform and platform_id are required"))
		return
	}
	if req.EmbedIndex < 0 {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("embed_index must not be negative"))
		return
	}
	if err := h.music.LinkTrackToCast(r.Context(), chi.URLParam(r, "hash"), req.Platform, req.PlatformID, req.EmbedIndex); err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type publishResponse struct {
	Hash           string   `json:"hash"`
	AuthorFID      int64    `json:"author_fid"`
	Tracks         int      `json:"tracks"`
	ParentResolved bool     `json:"parent_resolved"`
	Warnings       []string `json:"warnings,omitempty"`
}

func (h handlers) publishCast(w http.ResponseWriter, r *http.Request) {
	var params domain.PublishCastParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if params.SignerUUID == "" {
		params.SignerUUID = h.signerUUID
	}
	if params.Text == "" && len(params.Embeds) == 0 {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("text or embeds is required"))
		return
	}
	published, res, err := h.engine.Publish(r.Context(), params)
	if err != nil {
		h.log.Error().Err(err).Msg("api: publish failed")
		httpinfra.WriteError(w, http.StatusBadGateway, errors.New("failed to publish cast"))
		return
	}
	resp := publishResponse{Hash: published.Hash, AuthorFID: published.Author.FID, Tracks: res.Tracks, ParentResolved: res.ParentResolved}
	for _, e := range res.Errors {
		resp.Warnings = append(resp.Warnings, e.Error())
	}
	httpinfra.WriteJSON(w, http.StatusCreated, resp)
}

// decodeOptional разбирает тело, если оно есть. Пустое тело допустимо.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return false
	}
	return true
}

func (h handlers) writeErr(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		httpinfra.WriteError(w, http.StatusNotFound, err)
		return
	}
	h.log.Error().Err(err).Msg("api: request failed")
	httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("internal error"))
}
