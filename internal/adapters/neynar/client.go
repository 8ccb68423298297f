package neynar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/metrics"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/ratelimit"
	"github.com/empty-block/vibe-playlist-sub001/internal/infra/retry"
)

const (
	// MaxBulkCasts предел хэшей в одном запросе bulk-lookup.
	MaxBulkCasts = 100
	// MaxReactionsPage предел реакций на странице.
	MaxReactionsPage = 100
)

// Client реализует domain.FeedClient поверх HTTP API ленты.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	throttle   *ratelimit.Throttle
	policy     retry.Policy
	log        zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout <= 0 {
			return
		}
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

// WithRetryPolicy задаёт число попыток и базовую задержку.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.log = logger.With().Str("component", "neynar").Logger()
	}
}

// New создаёт клиента. Троттл обязателен и должен быть общим для всего процесса.
func New(baseURL, apiKey string, throttle *ratelimit.Throttle, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	if throttle == nil {
		return nil, fmt.Errorf("throttle is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	client := &Client{
		baseURL:    parsed,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		throttle:   throttle,
		policy:     retry.DefaultPolicy,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

var _ domain.FeedClient = (*Client)(nil)

// ListChannelFeed возвращает страницу ленты канала, от новых к старым.
func (c *Client) ListChannelFeed(ctx context.Context, channelID, cursor string, limit int) (domain.FeedPage, error) {
	q := url.Values{}
	q.Set("channel_ids", channelID)
	q.Set("with_recasts", "false")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp feedResponse
	if err := c.call(ctx, "list_channel_feed", http.MethodGet, "/v2/farcaster/feed/channels", q, nil, &resp); err != nil {
		return domain.FeedPage{}, err
	}
	page := domain.FeedPage{Casts: mapCasts(resp.Casts), NextCursor: resp.Next.Cursor}
	for i := range page.Casts {
		if page.Casts[i].ChannelID == "" {
			page.Casts[i].ChannelID = channelID
		}
	}
	return page, nil
}

// GetCastWithReplies возвращает каст с вложенными ответами до глубины replyDepth.
func (c *Client) GetCastWithReplies(ctx context.Context, hash string, replyDepth int) (domain.FeedCast, error) {
	q := url.Values{}
	q.Set("identifier", hash)
	q.Set("type", "hash")
	if replyDepth > 0 {
		q.Set("reply_depth", strconv.Itoa(replyDepth))
	}
	var resp conversationResponse
	if err := c.call(ctx, "cast_conversation", http.MethodGet, "/v2/farcaster/cast/conversation", q, nil, &resp); err != nil {
		return domain.FeedCast{}, err
	}
	if resp.Conversation.Cast.Hash == "" {
		return domain.FeedCast{}, fmt.Errorf("cast %s: %w", hash, domain.ErrNotFound)
	}
	return resp.Conversation.Cast.feedCast(), nil
}

// GetBulkCasts загружает касты пачками по MaxBulkCasts. Отсутствующие хэши в ответ не попадают.
func (c *Client) GetBulkCasts(ctx context.Context, hashes []string) ([]domain.FeedCast, error) {
	out := make([]domain.FeedCast, 0, len(hashes))
	for start := 0; start < len(hashes); start += MaxBulkCasts {
		end := start + MaxBulkCasts
		if end > len(hashes) {
			end = len(hashes)
		}
		q := url.Values{}
		q.Set("casts", strings.Join(hashes[start:end], ","))
		var resp bulkCastsResponse
		if err := c.call(ctx, "bulk_casts", http.MethodGet, "/v2/farcaster/casts", q, nil, &resp); err != nil {
			return nil, err
		}
		out = append(out, mapCasts(resp.Result.Casts)...)
	}
	return out, nil
}

// GetUserByFID возвращает профиль пользователя.
func (c *Client) GetUserByFID(ctx context.Context, fid int64) (domain.Profile, error) {
	q := url.Values{}
	q.Set("fids", strconv.FormatInt(fid, 10))
	var resp bulkUsersResponse
	if err := c.call(ctx, "user_bulk", http.MethodGet, "/v2/farcaster/user/bulk", q, nil, &resp); err != nil {
		return domain.Profile{}, err
	}
	if len(resp.Users) == 0 {
		return domain.Profile{}, fmt.Errorf("user %d: %w", fid, domain.ErrNotFound)
	}
	return resp.Users[0].profile(), nil
}

// GetCastReactions возвращает одну страницу реакций; limit ограничен MaxReactionsPage.
func (c *Client) GetCastReactions(ctx context.Context, hash string, query domain.ReactionQuery) (domain.ReactionPage, error) {
	types := query.Types
	if len(types) == 0 {
		types = []domain.ReactionType{domain.ReactionLike, domain.ReactionRecast}
	}
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}
	limit := query.Limit
	if limit <= 0 || limit > MaxReactionsPage {
		limit = MaxReactionsPage
	}

	q := url.Values{}
	q.Set("hash", hash)
	q.Set("types", strings.Join(names, ","))
	q.Set("limit", strconv.Itoa(limit))
	if query.Cursor != "" {
		q.Set("cursor", query.Cursor)
	}
	if query.ViewerFID > 0 {
		q.Set("viewer_fid", strconv.FormatInt(query.ViewerFID, 10))
	}
	var resp reactionsResponse
	if err := c.call(ctx, "cast_reactions", http.MethodGet, "/v2/farcaster/reactions/cast", q, nil, &resp); err != nil {
		return domain.ReactionPage{}, err
	}
	page := domain.ReactionPage{NextCursor: resp.Next.Cursor}
	for _, r := range resp.Reactions {
		reaction := domain.Reaction{User: r.User.profile(), Timestamp: r.ReactionTimestamp.UTC()}
		switch strings.ToLower(r.ReactionType) {
		case "like", "likes":
			page.Likes = append(page.Likes, reaction)
		case "recast", "recasts":
			page.Recasts = append(page.Recasts, reaction)
		}
	}
	return page, nil
}

// PublishCast публикует каст от имени подписанта.
func (c *Client) PublishCast(ctx context.Context, params domain.PublishCastParams) (domain.PublishedCast, error) {
	if strings.TrimSpace(params.SignerUUID) == "" {
		return domain.PublishedCast{}, fmt.Errorf("signer uuid is required")
	}
	var resp publishResponse
	if err := c.call(ctx, "publish_cast", http.MethodPost, "/v2/farcaster/cast", nil, params, &resp); err != nil {
		return domain.PublishedCast{}, err
	}
	if resp.Cast.Hash == "" {
		return domain.PublishedCast{}, fmt.Errorf("publish cast: empty hash in response")
	}
	return domain.PublishedCast{Hash: resp.Cast.Hash, Author: resp.Cast.Author.profile()}, nil
}

// call выполняет запрос с троттлингом и повторами. Каждая попытка проходит через троттл.
func (c *Client) call(ctx context.Context, op, method, endpoint string, query url.Values, body, out any) error {
	err := retry.Do(ctx, c.policy, func(attempt int) error {
		if err := c.throttle.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		req, err := c.newRequest(ctx, method, endpoint, query, body)
		if err != nil {
			return retry.Permanent(err)
		}
		start := time.Now()
		err = c.do(req, out)
		metrics.ObserveNetworkRequest("neynar", op, endpoint, start, err)
		if err != nil && !isRetryable(ctx, err) {
			return retry.Permanent(err)
		}
		return err
	}, func(err error, wait time.Duration) {
		c.log.Warn().Err(err).Str("op", op).Dur("wait", wait).Msg("neynar: retrying request")
	})
	if err != nil {
		return fmt.Errorf("neynar %s: %w", op, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body any) (*http.Request, error) {
	resolved := *c.baseURL
	basePath := strings.TrimSuffix(c.baseURL.Path, "/")
	resolved.Path = path.Clean(basePath + endpoint)
	if len(query) > 0 {
		resolved.RawQuery = query.Encode()
	}
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return newAPIError(resp.StatusCode, data)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// isRetryable относит к временным таймауты, сетевые ошибки, 429 и 5xx.
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var transport *transportError
	if errors.As(err, &transport) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded)
}
