package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"ytzim/branding"
	"ytzim/config"
	"ytzim/download"
	"ytzim/extract"
	ythttp "ytzim/http"
	"ytzim/internal/cache"
	"ytzim/internal/logging"
	"ytzim/page"
	"ytzim/preview"
	"ytzim/scraper"
	"ytzim/youtube"
	"ytzim/zim"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "run":
		cmdRun(args)
	case "preview":
		cmdPreview(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `ytzim - turn a YouTube channel, user or playlists into a ZIM archive

Usage:
  ytzim run [flags]              Scrape a collection and package it
  ytzim preview [flags] <dir>    Browse a build directory over HTTP
  ytzim help                     Show this help message

Examples:
  ytzim run --type channel --id UCxxxxx --api-key KEY
  ytzim run --type playlist --id PL1,PL2 --format webm --low-quality
  ytzim run --type user --id someone --no-zim --keep
  ytzim preview output/build

Settings are read from ytzim.json (or $YTZIM_CONFIG), then YTZIM_* environment
variables, then flags.

For help on specific command: ytzim <command> -h
`)
}

func cmdRun(args []string) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.StringVar(&cfg.Kind, "type", cfg.Kind, "Collection type: channel, user or playlist")
	fs.StringVar(&cfg.ID, "id", cfg.ID, "Channel id, username, or comma-separated playlist ids")
	fs.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "YouTube Data API v3 key")
	fs.StringVar(&cfg.Language, "language", cfg.Language, "ISO 639-3 archive language")
	fs.StringVar(&cfg.Output, "output", cfg.Output, "Output directory")
	fs.StringVar(&cfg.BuildDir, "build-dir", cfg.BuildDir, "Build directory (default <output>/build)")
	fs.StringVar(&cfg.ZimFile, "zim-file", cfg.ZimFile, "Archive file name (default <name>_<YYYY-MM>.zim)")
	fs.StringVar(&cfg.Format, "format", cfg.Format, "Video format: mp4 or webm")
	fs.BoolVar(&cfg.LowQuality, "low-quality", cfg.LowQuality, "Recompress videos to reduce size")
	fs.BoolVar(&cfg.AllSubtitles, "all-subtitles", cfg.AllSubtitles, "Include auto-generated subtitles")
	fs.StringVar(&cfg.ExternalDownloader, "external-downloader", cfg.ExternalDownloader, "Downloader passed to yt-dlp (e.g. aria2c)")
	fs.BoolVar(&cfg.SkipDownload, "skip-download", cfg.SkipDownload, "Do not download videos")
	fs.BoolVar(&cfg.NoZim, "no-zim", cfg.NoZim, "Build the tree but do not package it")
	fs.BoolVar(&cfg.KeepBuildDir, "keep", cfg.KeepBuildDir, "Keep and resume from an existing build directory")
	fs.StringVar(&cfg.Profile, "profile", cfg.Profile, "Profile image (path or URL)")
	fs.StringVar(&cfg.Banner, "banner", cfg.Banner, "Banner image (path or URL)")
	fs.StringVar(&cfg.MainColor, "main-color", cfg.MainColor, "Main color (#RRGGBB)")
	fs.StringVar(&cfg.SecondaryColor, "secondary-color", cfg.SecondaryColor, "Secondary color (#RRGGBB)")
	fs.StringVar(&cfg.Title, "title", cfg.Title, "Archive title")
	fs.StringVar(&cfg.Description, "description", cfg.Description, "Archive description")
	fs.StringVar(&cfg.Creator, "creator", cfg.Creator, "Archive creator")
	fs.StringVar(&cfg.Publisher, "publisher", cfg.Publisher, "Archive publisher")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "Archive name")
	tags := fs.String("tags", strings.Join(cfg.Tags, ","), "Comma-separated archive tags")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Parallel download groups and lookups")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Verbose logging")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ytzim run [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)
	cfg.Tags = splitList(*tags)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		os.Exit(1)
	}
	logging.Setup(cfg.Debug, os.Stderr)

	kind, err := extract.ParseKind(cfg.Kind)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	renderer, err := page.NewTemplateRenderer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading templates: %v\n", err)
		os.Exit(1)
	}

	httpCfg := ythttp.DefaultConfig()
	httpCfg.Retry = cfg.Retry()
	fetcher := ythttp.New(httpCfg)
	defer fetcher.Close()

	s := scraper.New(scraper.Options{
		Descriptor: extract.Descriptor{Kind: kind, Identifier: cfg.ID},
		BuildDir:   cfg.ResolvedBuildDir(),
		OutputDir:  cfg.Output,
		ZimFile:    cfg.ZimFile,
		Download: download.Options{
			Format:             cfg.Format,
			LowQuality:         cfg.LowQuality,
			AllSubtitles:       cfg.AllSubtitles,
			ExternalDownloader: cfg.ExternalDownloader,
			Concurrency:        cfg.Concurrency,
		},
		SkipDownload: cfg.SkipDownload,
		NoZim:        cfg.NoZim,
		KeepBuildDir: cfg.KeepBuildDir,
		Branding: branding.Inputs{
			Profile:        cfg.Profile,
			Banner:         cfg.Banner,
			MainColor:      cfg.MainColor,
			SecondaryColor: cfg.SecondaryColor,
		},
		Overrides: branding.Overrides{
			Language:       cfg.Language,
			Title:          cfg.Title,
			Description:    cfg.Description,
			Creator:        cfg.Creator,
			Publisher:      cfg.Publisher,
			Name:           cfg.Name,
			Tags:           cfg.Tags,
			MainColor:      cfg.MainColor,
			SecondaryColor: cfg.SecondaryColor,
		},
	}, scraper.Deps{
		Platform: func(ctx context.Context, store *cache.Store) (youtube.Platform, error) {
			return youtube.NewAPIClient(ctx, youtube.Options{
				APIKey:            cfg.APIKey,
				RequestsPerSecond: cfg.RequestsPerSecond,
				Retry:             cfg.Retry(),
				Concurrency:       cfg.Concurrency,
			}, store)
		},
		Fetcher:    fetcher,
		Runner:     download.NewYtdlpRunner(cfg.YtdlpPath),
		Transcoder: download.NewFFmpegTranscoder(cfg.FFmpegPath),
		Renderer:   renderer,
		Packager:   zim.NewZimwriterfsPackager(cfg.ZimwriterfsPath),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := s.Run(ctx)
	if err != nil {
		logFailure(err)
		stop()
		os.Exit(1)
	}

	if report.Archive != "" {
		fmt.Fprintf(os.Stderr, "Archive written to: %s\n", report.Archive)
	} else {
		fmt.Fprintf(os.Stderr, "Build directory left in: %s\n", cfg.ResolvedBuildDir())
	}
	fmt.Fprintf(os.Stderr, "Playlists: %d, videos: %d, pages: %d\n",
		report.Playlists, report.Videos, report.Pages.Articles)
}

func cmdPreview(args []string) {
	fs := flag.NewFlagSet("preview", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:8080", "Listen address")
	debug := fs.Bool("debug", false, "Log every request")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ytzim preview [flags] <build-dir>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	argv := fs.Args()
	if len(argv) == 0 {
		fmt.Fprintf(os.Stderr, "Error: missing build-dir\n")
		fs.Usage()
		os.Exit(1)
	}
	logging.Setup(*debug, os.Stderr)

	srv, err := preview.New(argv[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Browse the archive at http://%s/\n", *addr)
	if err := srv.Run(ctx, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// logFailure reports a failed run with a hint matching its cause.
func logFailure(err error) {
	event := log.Error().Err(err)
	switch {
	case errors.Is(err, youtube.ErrCredentials):
		event.Msg("run: the API key was rejected")
	case errors.Is(err, youtube.ErrNotFound):
		event.Msg("run: the requested channel, user or playlist does not exist")
	case errors.Is(err, branding.ErrValidation):
		event.Msg("run: invalid branding value")
	case errors.Is(err, cache.ErrLocked):
		event.Msg("run: another run holds the build directory")
	case errors.Is(err, download.ErrToolMissing), errors.Is(err, zim.ErrPackager):
		event.Msg("run: an external tool is missing or failed")
	case errors.Is(err, context.Canceled):
		event.Msg("run: interrupted")
	default:
		event.Msg("run: failed")
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
