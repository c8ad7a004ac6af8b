// Package youtube is the typed boundary to the YouTube Data API v3.
//
// Raw API documents never leave this package: every response is turned into
// one of the records below before it is cached or returned.
package youtube

import (
	"context"
	"errors"
	"strings"
	"time"

	"ytzim/internal/textutil"
)

// Sentinel errors for platform operations.
var (
	// ErrCredentials indicates an invalid, expired or quota-exhausted API key.
	// It is never retried.
	ErrCredentials = errors.New("youtube: invalid or exhausted API credentials")
	// ErrAPIUnavailable indicates transient failures that persisted after all retries.
	ErrAPIUnavailable = errors.New("youtube: API unavailable")
	// ErrNotFound indicates the requested channel, playlist or video does not exist.
	ErrNotFound = errors.New("youtube: not found")
)

// APIError wraps platform errors with context about the failing call.
//
//	var apiErr *youtube.APIError
//	if errors.As(err, &apiErr) {
//		fmt.Printf("%s(%s) failed: %v\n", apiErr.Op, apiErr.ID, apiErr.Err)
//	}
type APIError struct {
	// Op is the API operation ("channels.list", "playlistItems.list", ...).
	Op string
	// ID is the channel, playlist or video id the call was about.
	ID string
	// Err is the underlying error.
	Err error
}

// Error returns a string representation of the API error.
func (e *APIError) Error() string {
	return "youtube: " + e.Op + " " + e.ID + ": " + e.Err.Error()
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *APIError) Unwrap() error { return e.Err }

// Channel is a channel resolved by id or username.
type Channel struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	Description       string `json:"description"`
	UploadsPlaylistID string `json:"uploads_playlist_id"`
	ProfileImageURL   string `json:"profile_image_url,omitempty"`
	BannerImageURL    string `json:"banner_image_url,omitempty"`
}

// Branding returns the display identity of the channel.
func (c Channel) Branding() Branding {
	return Branding{
		ChannelID:       c.ID,
		Title:           c.Title,
		Description:     c.Description,
		ProfileImageURL: c.ProfileImageURL,
		BannerImageURL:  c.BannerImageURL,
	}
}

// PlaylistSummary is one entry of a channel's playlist listing.
type PlaylistSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Playlist is a playlist resolved from its id.
type Playlist struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatorID   string `json:"creator_id"`
	// Slug names the playlist in generated client data. It is a valid
	// JavaScript identifier suffix.
	Slug string `json:"slug"`
}

// NewPlaylist builds a Playlist, deriving its slug from the title.
func NewPlaylist(id, title, description, creatorID string) Playlist {
	return Playlist{
		ID:          id,
		Title:       title,
		Description: description,
		CreatorID:   creatorID,
		Slug:        strings.ReplaceAll(textutil.Slugify(title), "-", "_"),
	}
}

// VideoItem is one video of a playlist listing.
type VideoItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ChannelID   string    `json:"channel_id"`
	PublishedAt time.Time `json:"published_at"`
	// Position is the zero-based index of the video in PlaylistID.
	Position   int64  `json:"position"`
	PlaylistID string `json:"playlist_id"`
}

// URL returns the watch page of the video.
func (v VideoItem) URL() string {
	return "https://www.youtube.com/watch?v=" + v.ID
}

// Author is the channel that uploaded a video.
type Author struct {
	ChannelID    string `json:"channel_id"`
	ChannelTitle string `json:"channel_title"`
}

// Branding is a channel's display identity as reported by the API.
type Branding struct {
	ChannelID       string `json:"channel_id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	ProfileImageURL string `json:"profile_image_url"`
	BannerImageURL  string `json:"banner_image_url,omitempty"`
}

// Platform is the metadata API used by the scraper.
// Implementations cache every listing so repeated calls do not hit the network.
type Platform interface {
	// CredentialsOK probes the API with a cheap call. It reports false when
	// the key is rejected and an error for any other failure.
	CredentialsOK(ctx context.Context) (bool, error)

	// Channel resolves a channel by id, or by legacy username when byUsername is set.
	Channel(ctx context.Context, id string, byUsername bool) (*Channel, error)

	// ChannelPlaylists lists every playlist owned by a channel.
	ChannelPlaylists(ctx context.Context, channelID string) ([]PlaylistSummary, error)

	// Playlist resolves a single playlist id.
	Playlist(ctx context.Context, id string) (*Playlist, error)

	// PlaylistVideos lists the videos of a playlist in playlist order.
	PlaylistVideos(ctx context.Context, playlistID string) ([]VideoItem, error)

	// Authors maps each video id to the channel that uploaded it.
	Authors(ctx context.Context, videoIDs []string) (map[string]Author, error)

	// ChannelBranding returns the title, description and images of a channel.
	ChannelBranding(ctx context.Context, channelID string) (*Branding, error)
}
