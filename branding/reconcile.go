package branding

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"ytzim/extract"
	"ytzim/imageutil"
	"ytzim/internal/textutil"
	"ytzim/youtube"
	"ytzim/zim"
)

const (
	// DefaultPublisher publishes every archive unless overridden.
	DefaultPublisher = "Kiwix"
	// PlatformTag is the default tag of every archive.
	PlatformTag = "youtube"
	// VideosTag signals that the archive contains playable video.
	VideosTag = "_videos:yes"

	playlistsCreator = "Youtube Channels"
)

// Resolve returns user when it is set, derived otherwise.
func Resolve[T comparable](user, derived T) T {
	var zero T
	if user != zero {
		return user
	}
	return derived
}

// ResolveTags returns the user tags, or the platform tag when none are given,
// with the videos tag appended if absent. user is never modified.
func ResolveTags(user []string) []string {
	tags := slices.Clone(user)
	if len(tags) == 0 {
		tags = []string{PlatformTag}
	}
	if !slices.Contains(tags, VideosTag) {
		tags = append(tags, VideosTag)
	}
	return tags
}

// Overrides are the metadata values supplied by the user. Empty means unset.
type Overrides struct {
	Language       string
	Title          string
	Description    string
	Creator        string
	Publisher      string
	Name           string
	Tags           []string
	MainColor      string
	SecondaryColor string
}

// Derivation is what the run learned about the collection.
type Derivation struct {
	Descriptor  extract.Descriptor
	Playlists   []youtube.Playlist
	MainChannel youtube.Branding
	// MainColor and SecondaryColor are sampled from the profile image.
	MainColor      string
	SecondaryColor string
}

// singlePlaylist reports whether names come from the only requested playlist.
func (d Derivation) singlePlaylist() bool {
	return d.Descriptor.Kind == extract.PlaylistList && len(d.Playlists) == 1
}

func (d Derivation) title() string {
	if d.singlePlaylist() {
		return d.Playlists[0].Title
	}
	return strings.TrimSpace(d.MainChannel.Title)
}

func (d Derivation) description() string {
	if d.singlePlaylist() {
		return textutil.CleanText(d.Playlists[0].Description)
	}
	return textutil.CleanText(d.MainChannel.Description)
}

func (d Derivation) creator() string {
	if d.Descriptor.Kind == extract.PlaylistList {
		return playlistsCreator
	}
	return "Youtube Channel “" + d.MainChannel.Title + "”"
}

// Name returns the archive name youtube-<ident>_<lang>_all.
func Name(d extract.Descriptor, lang string) string {
	ident := d.Identifier
	if d.Kind == extract.PlaylistList {
		ident = strings.Join(d.PlaylistIDs(), "-")
	}
	return fmt.Sprintf("youtube-%s_%s_all", ident, lang)
}

// Reconcile computes the final archive metadata. Each field takes the user
// value when set and the derived one otherwise.
func Reconcile(o Overrides, d Derivation) zim.Metadata {
	return zim.Metadata{
		Language:       o.Language,
		Title:          Resolve(o.Title, d.title()),
		Description:    Resolve(o.Description, d.description()),
		Creator:        Resolve(o.Creator, d.creator()),
		Publisher:      Resolve(o.Publisher, DefaultPublisher),
		Name:           Resolve(o.Name, Name(d.Descriptor, o.Language)),
		Tags:           ResolveTags(o.Tags),
		MainColor:      Resolve(o.MainColor, d.MainColor),
		SecondaryColor: Resolve(o.SecondaryColor, d.SecondaryColor),
	}
}

// Finalize prepares the build root images and returns the reconciled metadata.
//
// Missing profile.jpg and banner.jpg are copied from the main channel's
// branding, colors are sampled from the profile only when one of them is not
// supplied, and favicon.jpg is derived from the profile.
func Finalize(buildDir, channelsDir string, o Overrides, d Derivation) (zim.Metadata, error) {
	mainDir := filepath.Join(channelsDir, d.MainChannel.ChannelID)
	for _, name := range []string{ProfileName, BannerName} {
		dst := filepath.Join(buildDir, name)
		if fileExists(dst) {
			continue
		}
		src := filepath.Join(mainDir, name)
		if !fileExists(src) {
			log.Warn().Str("image", name).Str("channel_id", d.MainChannel.ChannelID).
				Msg("branding: main channel has no such image")
			continue
		}
		if err := imageutil.Copy(src, dst); err != nil {
			return zim.Metadata{}, err
		}
	}

	profile := filepath.Join(buildDir, ProfileName)
	if o.MainColor == "" || o.SecondaryColor == "" {
		main, secondary, err := imageutil.Colors(profile)
		if err != nil {
			return zim.Metadata{}, fmt.Errorf("branding: derive colors: %w", err)
		}
		d.MainColor, d.SecondaryColor = main, secondary
	}

	if err := imageutil.Resize(profile, filepath.Join(buildDir, FaviconName),
		imageutil.FaviconWidth, imageutil.FaviconHeight, imageutil.Thumbnail); err != nil {
		return zim.Metadata{}, fmt.Errorf("branding: favicon: %w", err)
	}

	m := Reconcile(o, d)
	log.Info().Str("title", m.Title).Str("name", m.Name).Str("main_color", m.MainColor).
		Str("secondary_color", m.SecondaryColor).Msg("branding: metadata reconciled")
	return m, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
