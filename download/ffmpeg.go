package download

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// FFmpegTranscoder recompresses videos with the ffmpeg command line tool.
type FFmpegTranscoder struct {
	Path string
}

// NewFFmpegTranscoder returns a transcoder. If path is empty, it looks for "ffmpeg" in PATH.
func NewFFmpegTranscoder(path string) *FFmpegTranscoder {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegTranscoder{Path: path}
}

// Available checks if ffmpeg is executable.
func (f *FFmpegTranscoder) Available() bool {
	_, err := exec.LookPath(f.Path)
	return err == nil
}

// Args returns the ffmpeg arguments recompressing in to out for format.
func (f *FFmpegTranscoder) Args(in, out, format string) ([]string, error) {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", in,
		"-vf", "scale='min(480,iw)':-2"}

	switch format {
	case "mp4":
		args = append(args,
			"-codec:v", "libx264", "-preset", "veryfast", "-crf", "28",
			"-codec:a", "aac", "-b:a", "64k", "-ar", "44100",
			"-movflags", "+faststart")
	case "webm":
		args = append(args,
			"-codec:v", "libvpx", "-crf", "36", "-b:v", "300k",
			"-codec:a", "libvorbis", "-b:a", "48k", "-ar", "44100")
	default:
		return nil, fmt.Errorf("download: cannot recompress format %q", format)
	}
	return append(args, out), nil
}

// Transcode recompresses path in place. The original is only replaced
// once ffmpeg succeeded.
func (f *FFmpegTranscoder) Transcode(ctx context.Context, path, format string) error {
	tmp := filepath.Join(filepath.Dir(path), ".recompress."+format)
	args, err := f.Args(path, tmp, format)
	if err != nil {
		return err
	}
	if _, err := exec.LookPath(f.Path); err != nil {
		return fmt.Errorf("%w: %v", ErrToolMissing, err)
	}

	cmd := exec.CommandContext(ctx, f.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
