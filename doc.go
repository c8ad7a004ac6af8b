// Package ytzim turns a YouTube channel, user or list of playlists into an
// offline ZIM archive.
//
// Overview
//
// A run walks a fixed pipeline, each stage in its own package:
//
//   - extract: resolve the playlists of the collection and merge their videos
//   - download: fetch media, subtitles and thumbnails with yt-dlp
//   - branding: validate user branding, fetch channel images, reconcile metadata
//   - page: render one page per video, the homepage and the playlist data
//   - zim: package the build directory with zimwriterfs
//
// The scraper package wires them together. Every platform listing is cached
// under <build>/cache, so a run restarted with the same build directory
// resumes without repeating API calls or downloads.
//
// Quick Start
//
// From the command line:
//
//	ytzim run --type channel --id UCxxxxx --api-key KEY
//	ytzim preview output/build
//
// As a library:
//
//	s := scraper.New(scraper.Options{
//		Descriptor: extract.Descriptor{Kind: extract.Channel, Identifier: "UCxxxxx"},
//		BuildDir:   "output/build",
//		OutputDir:  "output",
//		Download:   download.Options{Format: "mp4"},
//		Overrides:  branding.Overrides{Language: "eng"},
//	}, deps)
//	report, err := s.Run(ctx)
//
// Configuration
//
// ytzim uses a configuration system that loads settings from multiple sources:
//
//   1. Command line flags (highest priority)
//   2. Environment variables
//   3. Config file (ytzim.json, $YTZIM_CONFIG or ~/.config/ytzim/ytzim.json)
//   4. Default values (lowest priority)
//
// Environment variables:
//
//   - YTZIM_API_KEY: YouTube Data API v3 key
//   - YTZIM_LANGUAGE: ISO 639-3 archive language
//   - YTZIM_OUTPUT: Output directory
//   - YTZIM_BUILD_DIR: Build directory
//   - YTZIM_FORMAT: Video format, mp4 or webm
//   - YTZIM_YTDLP_PATH, YTZIM_FFMPEG_PATH, YTZIM_ZIMWRITERFS_PATH: External tools
//   - YTZIM_MAX_RETRIES: Maximum retry attempts
//   - YTZIM_INITIAL_BACKOFF: Initial retry backoff duration
//   - YTZIM_MAX_BACKOFF: Maximum retry backoff duration
//   - YTZIM_RPS: API requests per second
//   - YTZIM_CONCURRENCY: Parallel download groups and lookups
//   - YTZIM_DEBUG: Verbose logging (true/false)
//
// Error Handling
//
// All operations return errors that implement standard Go error handling:
//
//	if errors.Is(err, ytzim.ErrNotFound) {
//		fmt.Println("No such channel or playlist")
//	}
//
//	var verr *ytzim.ValidationError
//	if errors.As(err, &verr) {
//		fmt.Printf("Invalid %s: %q\n", verr.Field, verr.Value)
//	}
//
// Dependencies
//
// ytzim requires yt-dlp (and ffmpeg for low quality mode) to download videos,
// and zimwriterfs to package the archive. Each may be set with its
// YTZIM_*_PATH variable.
//
package ytzim
