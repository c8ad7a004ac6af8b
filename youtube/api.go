package youtube

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	ytv3 "google.golang.org/api/youtube/v3"

	"ytzim/internal/cache"
	"ytzim/internal/retry"
)

const (
	// maxResults is the page size and batch size cap of the Data API.
	maxResults = 50

	// probeChannelID is a well-known channel used to test credentials.
	probeChannelID = "UCBR8-60-B28hp2BmDPdntcQ"

	// AuthorsKey is the cache document mapping video ids to their author.
	AuthorsKey = "videos_channels"

	defaultRequestsPerSecond = 5
	defaultConcurrency       = 4
)

var channelParts = []string{"snippet", "contentDetails", "brandingSettings"}

// Options configures an APIClient.
type Options struct {
	// APIKey is the Data API v3 key. Required.
	APIKey string
	// Endpoint overrides the API base URL (tests).
	Endpoint string
	// RequestsPerSecond paces outgoing requests. Default 5.
	RequestsPerSecond float64
	// Retry configures retries of transient failures. Zero value uses retry.DefaultConfig().
	Retry retry.Config
	// Concurrency bounds concurrent batch lookups. Default 4.
	Concurrency int
}

// APIClient implements Platform on top of the YouTube Data API v3.
// Every listing is stored in the cache store and served from it afterwards.
type APIClient struct {
	service     *ytv3.Service
	store       *cache.Store
	limiter     *rate.Limiter
	retry       retry.Config
	concurrency int
	calls       atomic.Int64

	// authorsMu serializes read-modify-write of the authors document.
	authorsMu sync.Mutex
}

var _ Platform = (*APIClient)(nil)

// NewAPIClient creates a client. A nil store disables caching.
func NewAPIClient(ctx context.Context, opts Options, store *cache.Store) (*APIClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("youtube: api key required")
	}

	clientOpts := []option.ClientOption{option.WithAPIKey(opts.APIKey)}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	service, err := ytv3.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("youtube: create service: %w", err)
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	cfg := opts.Retry
	if cfg == (retry.Config{}) {
		cfg = retry.DefaultConfig()
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &APIClient{
		service:     service,
		store:       store,
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		retry:       cfg,
		concurrency: concurrency,
	}, nil
}

// Calls returns the number of HTTP requests issued so far, retries included.
func (c *APIClient) Calls() int64 {
	return c.calls.Load()
}

// CredentialsOK issues a minimal channels.list call. The result is never cached.
func (c *APIClient) CredentialsOK(ctx context.Context) (bool, error) {
	err := c.call(ctx, "channels.list", probeChannelID, func(ctx context.Context) error {
		_, err := c.service.Channels.List([]string{"id"}).Id(probeChannelID).Context(ctx).Do()
		return err
	})
	if errors.Is(err, ErrCredentials) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Channel resolves a channel by id or by username.
func (c *APIClient) Channel(ctx context.Context, id string, byUsername bool) (*Channel, error) {
	key := "channel_" + id
	if byUsername {
		key = "user_" + id
	}

	ch, err := cached(c, key, func() (Channel, error) {
		var resp *ytv3.ChannelListResponse
		err := c.call(ctx, "channels.list", id, func(ctx context.Context) error {
			call := c.service.Channels.List(channelParts).Context(ctx)
			if byUsername {
				call = call.ForUsername(id)
			} else {
				call = call.Id(id)
			}
			var err error
			resp, err = call.Do()
			return err
		})
		if err != nil {
			return Channel{}, err
		}
		if len(resp.Items) == 0 {
			return Channel{}, &APIError{Op: "channels.list", ID: id, Err: ErrNotFound}
		}
		return channelFromAPI(resp.Items[0]), nil
	})
	if err != nil {
		return nil, err
	}

	// A username lookup also warms the id lookup used by later stages.
	if byUsername && c.store != nil && !c.store.Has("channel_"+ch.ID) {
		if err := c.store.Save("channel_"+ch.ID, ch); err != nil {
			return nil, err
		}
	}
	return &ch, nil
}

// ChannelBranding returns the branding of a channel, sharing the channel cache document.
func (c *APIClient) ChannelBranding(ctx context.Context, channelID string) (*Branding, error) {
	ch, err := c.Channel(ctx, channelID, false)
	if err != nil {
		return nil, err
	}
	b := ch.Branding()
	return &b, nil
}

// ChannelPlaylists lists every playlist of a channel.
func (c *APIClient) ChannelPlaylists(ctx context.Context, channelID string) ([]PlaylistSummary, error) {
	return cached(c, "channel_"+channelID+"_playlists", func() ([]PlaylistSummary, error) {
		return collect(c.IterChannelPlaylists(ctx, channelID))
	})
}

// IterChannelPlaylists lazily walks the playlists of a channel page by page.
// It is not cached.
func (c *APIClient) IterChannelPlaylists(ctx context.Context, channelID string) iter.Seq2[PlaylistSummary, error] {
	return pages(ctx, c, "playlists.list", channelID, func(ctx context.Context, token string) ([]PlaylistSummary, string, error) {
		resp, err := c.service.Playlists.List([]string{"id", "snippet"}).
			ChannelId(channelID).
			MaxResults(maxResults).
			PageToken(token).
			Context(ctx).
			Do()
		if err != nil {
			return nil, "", err
		}
		items := make([]PlaylistSummary, 0, len(resp.Items))
		for _, p := range resp.Items {
			s := PlaylistSummary{ID: p.Id}
			if p.Snippet != nil {
				s.Title = p.Snippet.Title
			}
			items = append(items, s)
		}
		return items, resp.NextPageToken, nil
	})
}

// Playlist resolves a playlist id.
func (c *APIClient) Playlist(ctx context.Context, id string) (*Playlist, error) {
	p, err := cached(c, "playlist_"+id, func() (Playlist, error) {
		var resp *ytv3.PlaylistListResponse
		err := c.call(ctx, "playlists.list", id, func(ctx context.Context) error {
			var err error
			resp, err = c.service.Playlists.List([]string{"snippet"}).Id(id).Context(ctx).Do()
			return err
		})
		if err != nil {
			return Playlist{}, err
		}
		if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
			return Playlist{}, &APIError{Op: "playlists.list", ID: id, Err: ErrNotFound}
		}
		s := resp.Items[0].Snippet
		return NewPlaylist(id, s.Title, s.Description, s.ChannelId), nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PlaylistVideos lists the videos of a playlist in the order the API returns them.
func (c *APIClient) PlaylistVideos(ctx context.Context, playlistID string) ([]VideoItem, error) {
	return cached(c, PlaylistVideosKey(playlistID), func() ([]VideoItem, error) {
		return collect(c.IterPlaylistVideos(ctx, playlistID))
	})
}

// PlaylistVideosKey is the cache document holding a playlist's ordered listing.
func PlaylistVideosKey(playlistID string) string {
	return "playlist_" + playlistID + "_videos"
}

// IterPlaylistVideos lazily walks the items of a playlist page by page.
// It is not cached.
func (c *APIClient) IterPlaylistVideos(ctx context.Context, playlistID string) iter.Seq2[VideoItem, error] {
	return pages(ctx, c, "playlistItems.list", playlistID, func(ctx context.Context, token string) ([]VideoItem, string, error) {
		resp, err := c.service.PlaylistItems.List([]string{"snippet", "contentDetails"}).
			PlaylistId(playlistID).
			MaxResults(maxResults).
			PageToken(token).
			Context(ctx).
			Do()
		if err != nil {
			return nil, "", err
		}
		items := make([]VideoItem, 0, len(resp.Items))
		for _, it := range resp.Items {
			if v, ok := videoFromAPI(playlistID, it); ok {
				items = append(items, v)
			}
		}
		return items, resp.NextPageToken, nil
	})
}

// Authors maps video ids to their uploading channel.
//
// Known ids are read from the authors document; only the missing ones are
// looked up, in batches of 50 issued concurrently. Results are merged and
// saved once every batch has completed.
func (c *APIClient) Authors(ctx context.Context, videoIDs []string) (map[string]Author, error) {
	c.authorsMu.Lock()
	defer c.authorsMu.Unlock()

	authors := map[string]Author{}
	if c.store != nil {
		if _, err := c.store.Load(AuthorsKey, &authors); err != nil {
			return nil, err
		}
	}

	var missing []string
	seen := make(map[string]bool, len(videoIDs))
	for _, id := range videoIDs {
		if _, ok := authors[id]; ok || seen[id] {
			continue
		}
		seen[id] = true
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return authors, nil
	}

	chunks := slices.Collect(slices.Chunk(missing, maxResults))
	results := make([]map[string]Author, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			found, err := c.lookupAuthors(gctx, chunk)
			if err != nil {
				return err
			}
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, found := range results {
		for id, a := range found {
			authors[id] = a
		}
	}
	log.Debug().Int("looked_up", len(missing)).Int("total", len(authors)).Msg("youtube: authors resolved")

	if c.store != nil {
		if err := c.store.Save(AuthorsKey, authors); err != nil {
			return nil, err
		}
	}
	return authors, nil
}

func (c *APIClient) lookupAuthors(ctx context.Context, ids []string) (map[string]Author, error) {
	var resp *ytv3.VideoListResponse
	err := c.call(ctx, "videos.list", strings.Join(ids, ","), func(ctx context.Context) error {
		var err error
		resp, err = c.service.Videos.List([]string{"snippet"}).
			Id(ids...).
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	found := make(map[string]Author, len(resp.Items))
	for _, v := range resp.Items {
		if v.Snippet == nil {
			continue
		}
		found[v.Id] = Author{ChannelID: v.Snippet.ChannelId, ChannelTitle: v.Snippet.ChannelTitle}
	}
	return found, nil
}

// call runs fn under the rate limiter with retries, translating API errors
// into the package sentinels.
func (c *APIClient) call(ctx context.Context, op, id string, fn func(context.Context) error) error {
	err := retry.Do(ctx, c.retry, retry.IsRetryable, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		c.calls.Add(1)
		log.Debug().Str("op", op).Str("id", id).Msg("youtube: request")
		return classify(fn(ctx))
	})
	if err == nil {
		return nil
	}

	var exhausted *retry.RetryableError
	if errors.As(err, &exhausted) {
		err = fmt.Errorf("%w: %v", ErrAPIUnavailable, exhausted.Err)
	}
	return &APIError{Op: op, ID: id, Err: err}
}

// classify maps an API error to a sentinel. Credential and not-found
// errors, and other client errors, are marked permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}

	switch {
	case gerr.Code == http.StatusNotFound:
		return retry.Permanent(fmt.Errorf("%w: %s", ErrNotFound, gerr.Message))
	case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
		return err
	case gerr.Code == http.StatusForbidden && hasReason(gerr, "rateLimitExceeded", "userRateLimitExceeded"):
		return err
	case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
		return retry.Permanent(fmt.Errorf("%w: %s", ErrCredentials, gerr.Message))
	case gerr.Code == http.StatusBadRequest && (hasReason(gerr, "keyInvalid", "keyExpired") ||
		strings.Contains(gerr.Message, "API key")):
		return retry.Permanent(fmt.Errorf("%w: %s", ErrCredentials, gerr.Message))
	default:
		return retry.Permanent(err)
	}
}

func hasReason(gerr *googleapi.Error, reasons ...string) bool {
	for _, item := range gerr.Errors {
		if slices.Contains(reasons, item.Reason) {
			return true
		}
	}
	return false
}

// cached serves key from the store, or computes and saves it.
func cached[T any](c *APIClient, key string, fetch func() (T, error)) (T, error) {
	var v T
	if c.store != nil {
		found, err := c.store.Load(key, &v)
		if err != nil {
			return v, err
		}
		if found {
			return v, nil
		}
	}

	v, err := fetch()
	if err != nil {
		return v, err
	}
	if c.store != nil {
		if err := c.store.Save(key, v); err != nil {
			return v, err
		}
	}
	return v, nil
}

// pages yields the items of every page, following continuation tokens until exhausted.
// An error is yielded once and ends the sequence.
func pages[T any](ctx context.Context, c *APIClient, op, id string, fetch func(ctx context.Context, token string) ([]T, string, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		token := ""
		for {
			var items []T
			var next string
			err := c.call(ctx, op, id, func(ctx context.Context) error {
				var err error
				items, next, err = fetch(ctx, token)
				return err
			})
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
			if next == "" || next == token {
				return
			}
			token = next
		}
	}
}

func collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	out := []T{}
	for item, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func channelFromAPI(item *ytv3.Channel) Channel {
	ch := Channel{ID: item.Id}
	if s := item.Snippet; s != nil {
		ch.Title = s.Title
		ch.Description = s.Description
		ch.ProfileImageURL = bestThumbnail(s.Thumbnails)
	}
	if cd := item.ContentDetails; cd != nil && cd.RelatedPlaylists != nil {
		ch.UploadsPlaylistID = cd.RelatedPlaylists.Uploads
	}
	if bs := item.BrandingSettings; bs != nil && bs.Image != nil {
		ch.BannerImageURL = bs.Image.BannerExternalUrl
	}
	return ch
}

func bestThumbnail(t *ytv3.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*ytv3.Thumbnail{t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}

func videoFromAPI(playlistID string, it *ytv3.PlaylistItem) (VideoItem, bool) {
	v := VideoItem{PlaylistID: playlistID}
	var published string
	if cd := it.ContentDetails; cd != nil {
		v.ID = cd.VideoId
		published = cd.VideoPublishedAt
	}
	if s := it.Snippet; s != nil {
		if v.ID == "" && s.ResourceId != nil {
			v.ID = s.ResourceId.VideoId
		}
		v.Title = s.Title
		v.Description = s.Description
		v.Position = s.Position
		v.ChannelID = s.VideoOwnerChannelId
		if v.ChannelID == "" {
			v.ChannelID = s.ChannelId
		}
		if published == "" {
			published = s.PublishedAt
		}
	}
	if v.ID == "" {
		return VideoItem{}, false
	}
	if t, err := time.Parse(time.RFC3339, published); err == nil {
		v.PublishedAt = t.UTC()
	}
	return v, true
}
