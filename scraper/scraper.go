// Package scraper runs the archive pipeline: resolve playlists, extract
// videos, download media, reconcile branding, generate pages and package.
//
// Each stage takes the typed output of the previous one. Results persisted in
// the build directory's cache make an interrupted run resumable.
package scraper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ytzim/branding"
	"ytzim/download"
	"ytzim/extract"
	"ytzim/internal/cache"
	"ytzim/page"
	"ytzim/youtube"
	"ytzim/zim"
)

const (
	// ManifestKey is the cache key of the run manifest.
	ManifestKey = "run"

	videosDir   = "videos"
	channelsDir = "channels"

	lockTimeout = 5 * time.Second
)

// Options describes one run.
type Options struct {
	Descriptor extract.Descriptor
	BuildDir   string
	OutputDir  string
	// ZimFile names the archive. Empty derives it from the metadata name.
	ZimFile string

	Download     download.Options
	SkipDownload bool
	NoZim        bool
	KeepBuildDir bool

	Branding  branding.Inputs
	Overrides branding.Overrides
}

// PlatformFactory builds the platform client once the cache store exists.
type PlatformFactory func(ctx context.Context, store *cache.Store) (youtube.Platform, error)

// Deps are the collaborators of a run.
type Deps struct {
	Platform   PlatformFactory
	Fetcher    branding.Fetcher
	Runner     download.Runner
	Transcoder download.Transcoder
	Renderer   page.Renderer
	Packager   zim.Packager
}

// Manifest identifies a build directory's run. It is written once and kept
// across resumed runs.
type Manifest struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Identifier string    `json:"identifier"`
	StartedAt  time.Time `json:"started_at"`
}

// Report summarizes a finished run.
type Report struct {
	RunID     string
	Playlists int
	Videos    int
	Download  *download.Result
	Pages     *page.Result
	Metadata  zim.Metadata
	// Archive is the packaged file, empty when packaging was skipped.
	Archive string
}

// Scraper runs the pipeline.
type Scraper struct {
	opts Options
	deps Deps
	now  func() time.Time
}

// New creates a scraper.
func New(opts Options, deps Deps) *Scraper {
	return &Scraper{opts: opts, deps: deps, now: time.Now}
}

// Run executes every stage in order. Any error aborts the run before
// packaging, so no partial archive is ever produced.
func (s *Scraper) Run(ctx context.Context) (*Report, error) {
	build := s.opts.BuildDir
	lock, err := cache.Lock(build, lockTimeout)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	store, err := s.prepare()
	if err != nil {
		return nil, err
	}

	manifest, err := s.manifest(store)
	if err != nil {
		return nil, err
	}
	defer func(prev zerolog.Logger) { log.Logger = prev }(log.Logger)
	log.Logger = log.With().Str("run_id", manifest.ID).Logger()
	log.Info().Str("kind", string(s.opts.Descriptor.Kind)).Str("id", s.opts.Descriptor.Identifier).
		Str("build_dir", build).Msg("scraper: starting")

	platform, err := s.deps.Platform(ctx, store)
	if err != nil {
		return nil, err
	}

	ok, err := platform.CredentialsOK(ctx)
	if err != nil {
		return nil, fmt.Errorf("check credentials: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("unable to use the YouTube API, check the API key: %w", youtube.ErrCredentials)
	}

	if err := branding.Validate(ctx, build, s.opts.Branding, s.deps.Fetcher); err != nil {
		return nil, err
	}

	res, err := extract.ResolvePlaylists(ctx, platform, s.opts.Descriptor)
	if err != nil {
		return nil, err
	}
	videos, err := extract.ExtractVideos(ctx, platform, store, res.Playlists)
	if err != nil {
		return nil, err
	}
	report := &Report{RunID: manifest.ID, Playlists: len(res.Playlists), Videos: len(videos)}

	if s.opts.SkipDownload {
		log.Info().Msg("scraper: download skipped")
	} else {
		dl := s.opts.Download
		dl.VideosDir = filepath.Join(build, videosDir)
		report.Download, err = download.New(dl, s.deps.Runner, s.deps.Transcoder).Download(ctx, videos.IDs())
		if err != nil {
			return nil, err
		}
	}

	authors, err := platform.Authors(ctx, videos.IDs())
	if err != nil {
		return nil, err
	}
	channels := filepath.Join(build, channelsDir)
	if err := branding.FetchAuthors(ctx, platform, s.deps.Fetcher, channels, authors); err != nil {
		return nil, err
	}
	main, err := branding.FetchMain(ctx, platform, s.deps.Fetcher, channels, res.MainChannelID)
	if err != nil {
		return nil, fmt.Errorf("main channel branding: %w", err)
	}

	metadata, err := branding.Finalize(build, channels, s.opts.Overrides, branding.Derivation{
		Descriptor:  s.opts.Descriptor,
		Playlists:   res.Playlists,
		MainChannel: *main,
	})
	if err != nil {
		return nil, err
	}
	report.Metadata = metadata

	ordered := make(map[string][]youtube.VideoItem, len(res.Playlists))
	for _, pl := range res.Playlists {
		items, err := extract.PlaylistVideos(ctx, platform, pl.ID)
		if err != nil {
			return nil, err
		}
		ordered[pl.ID] = items
	}
	report.Pages, err = page.Generate(page.Input{
		BuildDir:       build,
		Format:         s.opts.Download.Format,
		Metadata:       metadata,
		Playlists:      res.Playlists,
		Videos:         videos,
		Authors:        authors,
		PlaylistVideos: ordered,
		IncludeMissing: s.opts.SkipDownload,
	}, s.deps.Renderer)
	if err != nil {
		return nil, err
	}

	if s.opts.NoZim {
		log.Info().Str("build_dir", build).Msg("scraper: packaging skipped, build directory left in place")
		return report, nil
	}
	filename := s.opts.ZimFile
	if filename == "" {
		filename = zim.DefaultFilename(metadata.Name, s.now())
	}
	report.Archive, err = s.deps.Packager.Pack(ctx, build, s.opts.OutputDir, filename, metadata)
	if err != nil {
		return nil, err
	}
	log.Info().Str("archive", report.Archive).Int("videos", report.Videos).Msg("scraper: done")
	return report, nil
}

// prepare creates the build tree, wiping a previous one unless it is kept.
func (s *Scraper) prepare() (*cache.Store, error) {
	build := s.opts.BuildDir
	if !s.opts.KeepBuildDir {
		if err := os.RemoveAll(build); err != nil {
			return nil, fmt.Errorf("clear build directory: %w", err)
		}
	}
	for _, dir := range []string{build, filepath.Join(build, videosDir), filepath.Join(build, channelsDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("prepare build directory: %w", err)
		}
	}
	return cache.Open(filepath.Join(build, cache.DirName))
}

// manifest loads the run manifest, creating it on the first run.
func (s *Scraper) manifest(store *cache.Store) (*Manifest, error) {
	var m Manifest
	ok, err := store.Load(ManifestKey, &m)
	if err != nil {
		return nil, err
	}
	if ok {
		return &m, nil
	}

	m = Manifest{
		ID:         uuid.NewString(),
		Kind:       string(s.opts.Descriptor.Kind),
		Identifier: s.opts.Descriptor.Identifier,
		StartedAt:  s.now().UTC(),
	}
	if err := store.Save(ManifestKey, m); err != nil {
		return nil, err
	}
	return &m, nil
}
