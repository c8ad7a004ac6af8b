// Package extract decides which playlists and videos belong to a collection
// and merges the per-playlist listings into one deduplicated video set.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"ytzim/internal/cache"
	"ytzim/youtube"
)

// VideosKey is the cache key of the merged video set.
const VideosKey = "videos"

// ErrUnsupportedKind indicates a collection descriptor of unknown kind.
var ErrUnsupportedKind = errors.New("extract: unsupported collection kind")

// Kind is the shape of a collection request.
type Kind string

const (
	Channel      Kind = "channel"
	User         Kind = "user"
	PlaylistList Kind = "playlist"
)

// ParseKind accepts "channel", "user" and "playlist" in any case.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Channel, User, PlaylistList:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
	}
}

// Descriptor is the user's collection request.
type Descriptor struct {
	Kind Kind
	// Identifier is a channel id, a username, or comma separated playlist ids.
	Identifier string
}

// PlaylistIDs splits a PlaylistList identifier, dropping blanks and duplicates.
func (d Descriptor) PlaylistIDs() []string {
	var ids []string
	seen := make(map[string]bool)
	for _, id := range strings.Split(d.Identifier, ",") {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// Resolution is the canonical set of playlists to process.
type Resolution struct {
	Playlists []youtube.Playlist
	// MainChannelID is the channel used for branding fallbacks.
	MainChannelID string
}

// ResolvePlaylists produces the playlists of a collection.
//
// For a channel or user, every playlist the channel owns is included, plus the
// channel's uploads playlist. For a playlist list, the main channel is the
// creator of the first listed playlist.
func ResolvePlaylists(ctx context.Context, p youtube.Platform, d Descriptor) (*Resolution, error) {
	var (
		ids  []string
		main string
	)

	switch d.Kind {
	case Channel, User:
		ch, err := p.Channel(ctx, d.Identifier, d.Kind == User)
		if err != nil {
			return nil, fmt.Errorf("resolve %s %q: %w", d.Kind, d.Identifier, err)
		}
		main = ch.ID

		summaries, err := p.ChannelPlaylists(ctx, ch.ID)
		if err != nil {
			return nil, fmt.Errorf("list playlists of %s: %w", ch.ID, err)
		}
		for _, s := range summaries {
			ids = append(ids, s.ID)
		}
		if ch.UploadsPlaylistID != "" {
			ids = append(ids, ch.UploadsPlaylistID)
		}
		ids = dedupe(ids)
	case PlaylistList:
		ids = d.PlaylistIDs()
		if len(ids) == 0 {
			return nil, fmt.Errorf("extract: no playlist id in %q", d.Identifier)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, d.Kind)
	}

	res := &Resolution{MainChannelID: main}
	for _, id := range ids {
		pl, err := p.Playlist(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve playlist %s: %w", id, err)
		}
		res.Playlists = append(res.Playlists, *pl)
	}
	if d.Kind == PlaylistList {
		res.MainChannelID = res.Playlists[0].CreatorID
	}

	log.Info().Str("kind", string(d.Kind)).Str("main_channel", res.MainChannelID).
		Int("playlists", len(res.Playlists)).Msg("extract: playlists resolved")
	return res, nil
}

// VideoSet maps video ids to their records, merged across playlists.
type VideoSet map[string]youtube.VideoItem

// IDs returns the video ids in lexical order.
func (s VideoSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ExtractVideos returns the merged video set of the playlists.
// A cached set is returned unchanged; otherwise every playlist is listed,
// merged last-write-wins by video id, and the result saved before returning.
func ExtractVideos(ctx context.Context, p youtube.Platform, store *cache.Store, playlists []youtube.Playlist) (VideoSet, error) {
	var set VideoSet
	ok, err := store.Load(VideosKey, &set)
	if err != nil {
		return nil, err
	}
	if ok {
		log.Info().Int("videos", len(set)).Msg("extract: using cached video set")
		return set, nil
	}

	set = make(VideoSet)
	for _, pl := range playlists {
		items, err := p.PlaylistVideos(ctx, pl.ID)
		if err != nil {
			return nil, fmt.Errorf("list videos of %s: %w", pl.ID, err)
		}
		for _, item := range items {
			set[item.ID] = item
		}
		log.Debug().Str("playlist_id", pl.ID).Int("videos", len(items)).Msg("extract: playlist listed")
	}

	if err := store.Save(VideosKey, set); err != nil {
		return nil, err
	}
	log.Info().Int("playlists", len(playlists)).Int("videos", len(set)).Msg("extract: video set saved")
	return set, nil
}

// PlaylistVideos returns a playlist's items ordered by their position in it.
func PlaylistVideos(ctx context.Context, p youtube.Platform, playlistID string) ([]youtube.VideoItem, error) {
	items, err := p.PlaylistVideos(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	sorted := make([]youtube.VideoItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Position < sorted[j].Position
	})
	return sorted, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
