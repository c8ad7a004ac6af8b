package branding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"ytzim/youtube"
)

const fetchConcurrency = 4

// AuthorChannels returns the distinct channel ids of authors, sorted.
func AuthorChannels(authors map[string]youtube.Author) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, a := range authors {
		if a.ChannelID == "" || seen[a.ChannelID] {
			continue
		}
		seen[a.ChannelID] = true
		ids = append(ids, a.ChannelID)
	}
	sort.Strings(ids)
	return ids
}

// imageError is a failed image download. It is fatal for the main channel only.
type imageError struct {
	channelID, name string
	err             error
}

func (e *imageError) Error() string {
	return fmt.Sprintf("branding: %s of %s: %v", e.name, e.channelID, e.err)
}

func (e *imageError) Unwrap() error { return e.err }

// FetchAuthors saves the profile image of every author channel to
// channelsDir/<id>/profile.jpg. Images already on disk are kept.
// Authors whose channel or image is gone are skipped.
func FetchAuthors(ctx context.Context, p youtube.Platform, f Fetcher, channelsDir string, authors map[string]youtube.Author) error {
	ids := AuthorChannels(authors)
	log.Info().Int("channels", len(ids)).Msg("branding: fetching author profiles")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			_, err := saveChannel(gctx, p, f, channelsDir, id, false)
			var imgErr *imageError
			switch {
			case errors.As(err, &imgErr) && gctx.Err() == nil:
				log.Warn().Err(imgErr.err).Str("channel_id", id).Msg("branding: author image unavailable, skipped")
				return nil
			case errors.Is(err, youtube.ErrNotFound):
				log.Warn().Str("channel_id", id).Msg("branding: author channel not found, skipped")
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// FetchMain saves the profile and banner of the main channel and returns its branding.
func FetchMain(ctx context.Context, p youtube.Platform, f Fetcher, channelsDir, channelID string) (*youtube.Branding, error) {
	return saveChannel(ctx, p, f, channelsDir, channelID, true)
}

func saveChannel(ctx context.Context, p youtube.Platform, f Fetcher, channelsDir, id string, withBanner bool) (*youtube.Branding, error) {
	b, err := p.ChannelBranding(ctx, id)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(channelsDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("branding: %w", err)
	}

	images := map[string]string{ProfileName: b.ProfileImageURL}
	if withBanner {
		images[BannerName] = b.BannerImageURL
	}
	for name, url := range images {
		dst := filepath.Join(dir, name)
		if url == "" || fileExists(dst) {
			continue
		}
		if err := f.Download(ctx, url, dst); err != nil {
			return nil, &imageError{channelID: id, name: name, err: err}
		}
		log.Debug().Str("channel_id", id).Str("image", name).Msg("branding: image saved")
	}
	return b, nil
}
