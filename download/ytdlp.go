package download

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/lrstanley/go-ytdlp"
	"github.com/rs/zerolog/log"
)

const defaultYtdlpPath = "yt-dlp"

// YtdlpRunner runs yt-dlp through go-ytdlp.
type YtdlpRunner struct {
	// Path is the yt-dlp executable. Defaults to "yt-dlp" from PATH.
	Path string
}

// NewYtdlpRunner creates a runner for the given executable.
func NewYtdlpRunner(path string) *YtdlpRunner {
	return &YtdlpRunner{Path: path}
}

// Command translates a request into a go-ytdlp command.
func (r *YtdlpRunner) Command(req Request) *ytdlp.Command {
	cmd := ytdlp.New().
		SetExecutable(r.path()).
		Output(req.OutputTemplate).
		Format(req.Format).
		IgnoreErrors().
		NoWarnings()

	if req.MergeOutputFormat != "" {
		cmd = cmd.MergeOutputFormat(req.MergeOutputFormat)
	}
	if req.WriteThumbnail {
		cmd = cmd.WriteThumbnail().ConvertThumbnails("jpg")
	}
	if req.WriteSubtitles {
		cmd = cmd.WriteSubs().SubFormat(req.SubtitleFormat)
	}
	if req.AutoSubtitles {
		cmd = cmd.WriteAutoSubs()
	}
	if req.AllSubtitles {
		cmd = cmd.SubLangs("all")
	}
	if req.ExternalDownloader != "" {
		cmd = cmd.Downloader(req.ExternalDownloader)
	}
	return cmd
}

// Run downloads ids. Per-video failures are left to yt-dlp (--ignore-errors);
// a non-zero exit is logged, not returned.
func (r *YtdlpRunner) Run(ctx context.Context, req Request, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := exec.LookPath(r.path()); err != nil {
		return fmt.Errorf("%w: %v", ErrToolMissing, err)
	}

	_, err := r.Command(req).Run(ctx, ids...)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		log.Warn().Err(err).Int("videos", len(ids)).Msg("download: yt-dlp reported failures")
	}
	return nil
}

func (r *YtdlpRunner) path() string {
	if r.Path != "" {
		return r.Path
	}
	return defaultYtdlpPath
}
