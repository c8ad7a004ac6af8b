// Package download fetches video files, subtitles and thumbnails for a set
// of video ids with an external downloader, then normalizes thumbnails.
//
// Groups of ids are downloaded concurrently into a staging directory and only
// moved into the videos directory once every group has finished, so later
// stages never observe a half-populated tree.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"ytzim/imageutil"
)

const (
	// ThumbnailName is the thumbnail file of every video directory.
	ThumbnailName = "video.jpg"
	// SubtitleFormat is the text track format requested from the downloader.
	SubtitleFormat = "vtt"

	stagingName = ".videos-staging"
)

// ErrToolMissing indicates the downloader (or transcoder) executable cannot be found.
var ErrToolMissing = errors.New("download: external tool not found")

// Options configures a download batch.
type Options struct {
	// VideosDir receives one <id>/ directory per video.
	VideosDir string
	// Format is the container of the downloaded video: "mp4" or "webm".
	Format string
	// LowQuality recompresses every video after download.
	LowQuality bool
	// AllSubtitles also fetches auto-generated subtitles in every language.
	AllSubtitles bool
	// ExternalDownloader is handed to the downloader (e.g. "aria2c"). Empty uses its native one.
	ExternalDownloader string
	// Concurrency is the number of groups downloaded in parallel. Default 1.
	Concurrency int
}

// Request is the declarative options bag handed to a Runner.
type Request struct {
	// OutputTemplate names files, with %(id)s and %(ext)s placeholders.
	OutputTemplate     string
	Format             string
	MergeOutputFormat  string
	WriteThumbnail     bool
	WriteSubtitles     bool
	SubtitleFormat     string
	AutoSubtitles      bool
	AllSubtitles       bool
	ExternalDownloader string
}

// NewRequest builds the request writing into dir/<id>/video.<ext>.
func NewRequest(dir string, opts Options) Request {
	return Request{
		OutputTemplate:     filepath.Join(dir, "%(id)s", "video.%(ext)s"),
		Format:             formatSelector(opts.Format),
		MergeOutputFormat:  opts.Format,
		WriteThumbnail:     true,
		WriteSubtitles:     true,
		SubtitleFormat:     SubtitleFormat,
		AutoSubtitles:      opts.AllSubtitles,
		AllSubtitles:       opts.AllSubtitles,
		ExternalDownloader: opts.ExternalDownloader,
	}
}

// formatSelector prefers a single file in the wanted container, then merged streams.
func formatSelector(format string) string {
	return fmt.Sprintf("best[ext=%[1]s]/bestvideo[ext=%[1]s]+bestaudio/best", format)
}

// Runner invokes the external downloader for a batch of ids.
// It must tolerate individual failures (a private or region-locked video)
// and only return an error when the batch as a whole could not run.
type Runner interface {
	Run(ctx context.Context, req Request, ids []string) error
}

// Transcoder recompresses a downloaded video in place.
type Transcoder interface {
	Transcode(ctx context.Context, path, format string) error
}

// toolChecker is implemented by transcoders that can tell whether their
// external tool is installed.
type toolChecker interface {
	Available() bool
}

// Result reports the outcome of a batch, computed from files on disk.
type Result struct {
	// Succeeded lists ids whose video file is present, sorted.
	Succeeded []string
	// Failed maps ids without a video file to a reason.
	Failed map[string]string
	// MissingThumbnails lists succeeded ids without a usable thumbnail.
	MissingThumbnails []string
}

// Orchestrator runs download batches.
type Orchestrator struct {
	opts       Options
	runner     Runner
	transcoder Transcoder
}

// New creates an orchestrator. The transcoder is only used in low-quality mode
// and may be nil otherwise.
func New(opts Options, runner Runner, transcoder Transcoder) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Orchestrator{opts: opts, runner: runner, transcoder: transcoder}
}

// Download fetches every id not already present, then resizes thumbnails.
func (o *Orchestrator) Download(ctx context.Context, ids []string) (*Result, error) {
	if o.opts.LowQuality && o.transcoder == nil {
		return nil, fmt.Errorf("download: low quality mode requires a transcoder")
	}
	if c, ok := o.transcoder.(toolChecker); ok && o.opts.LowQuality && !c.Available() {
		return nil, fmt.Errorf("download: low quality mode: %w", ErrToolMissing)
	}
	if err := os.MkdirAll(o.opts.VideosDir, 0755); err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}

	result := &Result{Failed: make(map[string]string)}
	var pending []string
	for _, id := range dedupe(ids) {
		if fileExists(o.mediaPath(o.opts.VideosDir, id)) {
			result.Succeeded = append(result.Succeeded, id)
			continue
		}
		pending = append(pending, id)
	}
	log.Info().Int("videos", len(ids)).Int("pending", len(pending)).
		Str("format", o.opts.Format).Bool("low_quality", o.opts.LowQuality).
		Msg("download: starting batch")

	fresh := make(map[string]bool)
	if len(pending) > 0 {
		moved, err := o.fetch(ctx, pending, result)
		if err != nil {
			return nil, err
		}
		for _, id := range moved {
			fresh[id] = true
		}
	}

	// Thumbnails of videos kept from an earlier run were resized by that run.
	sort.Strings(result.Succeeded)
	for _, id := range result.Succeeded {
		thumb := filepath.Join(o.opts.VideosDir, id, ThumbnailName)
		if !fileExists(thumb) {
			result.MissingThumbnails = append(result.MissingThumbnails, id)
			continue
		}
		if !fresh[id] {
			continue
		}
		if err := imageutil.Resize(thumb, thumb, imageutil.ThumbnailWidth, imageutil.ThumbnailHeight, imageutil.Cover); err != nil {
			log.Warn().Err(err).Str("video_id", id).Msg("download: thumbnail resize failed")
			result.MissingThumbnails = append(result.MissingThumbnails, id)
		}
	}

	log.Info().Int("succeeded", len(result.Succeeded)).Int("failed", len(result.Failed)).
		Int("missing_thumbnails", len(result.MissingThumbnails)).Msg("download: batch done")
	return result, nil
}

// fetch downloads pending ids into the staging directory in parallel groups,
// then moves complete video directories into place and returns their ids.
func (o *Orchestrator) fetch(ctx context.Context, pending []string, result *Result) ([]string, error) {
	staging := filepath.Join(filepath.Dir(filepath.Clean(o.opts.VideosDir)), stagingName)
	if err := os.RemoveAll(staging); err != nil {
		return nil, fmt.Errorf("download: clear staging: %w", err)
	}
	if err := os.MkdirAll(staging, 0755); err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer os.RemoveAll(staging)

	req := NewRequest(staging, o.opts)
	g, gctx := errgroup.WithContext(ctx)
	for _, group := range split(pending, o.opts.Concurrency) {
		g.Go(func() error {
			return o.runner.Run(gctx, req, group)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}

	var moved []string
	for _, id := range pending {
		src := filepath.Join(staging, id)
		media := o.mediaPath(staging, id)
		if !fileExists(media) {
			result.Failed[id] = "no video." + o.opts.Format + " produced"
			log.Warn().Str("video_id", id).Msg("download: video unavailable, skipped")
			continue
		}

		if o.opts.LowQuality {
			if err := o.transcoder.Transcode(ctx, media, o.opts.Format); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if errors.Is(err, ErrToolMissing) {
					return nil, fmt.Errorf("download: recompress %s: %w", id, err)
				}
				log.Warn().Err(err).Str("video_id", id).Msg("download: recompression failed, keeping original")
			}
		}

		dst := filepath.Join(o.opts.VideosDir, id)
		if err := os.RemoveAll(dst); err != nil {
			return nil, fmt.Errorf("download: replace %s: %w", dst, err)
		}
		if err := os.Rename(src, dst); err != nil {
			return nil, fmt.Errorf("download: move %s: %w", id, err)
		}
		result.Succeeded = append(result.Succeeded, id)
		moved = append(moved, id)
	}
	return moved, nil
}

func (o *Orchestrator) mediaPath(dir, id string) string {
	return filepath.Join(dir, id, "video."+o.opts.Format)
}

// split divides ids into at most n contiguous groups of near-equal size.
func split(ids []string, n int) [][]string {
	if n < 1 {
		n = 1
	}
	size := (len(ids) + n - 1) / n
	if size == 0 {
		return nil
	}
	var groups [][]string
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		groups = append(groups, ids[start:end])
	}
	return groups
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

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
