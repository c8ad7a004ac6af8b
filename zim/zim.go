// Package zim hands a finished build directory to the external archive packager.
package zim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// Welcome is the entry page of every archive.
	Welcome = "home.html"
	// Favicon is the illustration of every archive.
	Favicon = "favicon.jpg"

	maxDescription = 80
)

// ErrPackager indicates the packager failed or could not be found.
var ErrPackager = errors.New("zim: packager failed")

// Metadata is the finalized description of an archive.
type Metadata struct {
	Language       string   `json:"language"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Creator        string   `json:"creator"`
	Publisher      string   `json:"publisher"`
	Name           string   `json:"name"`
	Tags           []string `json:"tags"`
	MainColor      string   `json:"main_color"`
	SecondaryColor string   `json:"secondary_color"`
}

// Validate checks the fields every archive must carry.
func (m Metadata) Validate() error {
	var missing []string
	for field, v := range map[string]string{
		"language": m.Language, "title": m.Title, "creator": m.Creator,
		"publisher": m.Publisher, "name": m.Name,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("zim: missing metadata %s", strings.Join(missing, ", "))
	}
	return nil
}

// DefaultFilename is the archive name used when none is configured: <name>_<YYYY-MM>.zim.
func DefaultFilename(name string, now time.Time) string {
	return fmt.Sprintf("%s_%s.zim", name, now.Format("2006-01"))
}

// Packager produces an archive from a build directory and returns its path.
type Packager interface {
	Pack(ctx context.Context, buildDir, outputDir, filename string, m Metadata) (string, error)
}

// ZimwriterfsPackager runs the zimwriterfs tool.
type ZimwriterfsPackager struct {
	Path string
}

// NewZimwriterfsPackager returns a packager. If path is empty, "zimwriterfs" is looked up in PATH.
func NewZimwriterfsPackager(path string) *ZimwriterfsPackager {
	if path == "" {
		path = "zimwriterfs"
	}
	return &ZimwriterfsPackager{Path: path}
}

// Args returns the zimwriterfs command line packing buildDir into out.
func (p *ZimwriterfsPackager) Args(buildDir, out string, m Metadata) []string {
	return []string{
		"--welcome=" + Welcome,
		"--favicon=" + Favicon,
		"--language=" + m.Language,
		"--title=" + m.Title,
		"--description=" + truncate(m.Description, maxDescription),
		"--creator=" + m.Creator,
		"--publisher=" + m.Publisher,
		"--name=" + m.Name,
		"--tags=" + strings.Join(m.Tags, ";"),
		buildDir,
		out,
	}
}

// Pack writes <outputDir>/<filename>.
func (p *ZimwriterfsPackager) Pack(ctx context.Context, buildDir, outputDir, filename string, m Metadata) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	if _, err := exec.LookPath(p.Path); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPackager, err)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("zim: %w", err)
	}

	out := filepath.Join(outputDir, filename)
	log.Info().Str("build_dir", buildDir).Str("output", out).Msg("zim: packaging")

	cmd := exec.CommandContext(ctx, p.Path, p.Args(buildDir, out, m)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %v: %s", ErrPackager, err, strings.TrimSpace(stderr.String()))
	}
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("%w: no archive at %s", ErrPackager, out)
	}
	return out, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
