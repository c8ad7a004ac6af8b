// Package branding validates user-supplied branding, fetches channel images
// and reconciles the final archive metadata.
package branding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"ytzim/imageutil"
)

const (
	// ProfileName and BannerName are the image files of the build root and of
	// every channels/<id>/ directory.
	ProfileName = "profile.jpg"
	BannerName  = "banner.jpg"
	// FaviconName is the archive illustration in the build root.
	FaviconName = "favicon.jpg"
)

// ErrValidation indicates an unusable user-supplied color or image.
var ErrValidation = errors.New("branding: invalid value")

// ValidationError reports which user-supplied value was rejected.
//
//	var vErr *branding.ValidationError
//	if errors.As(err, &vErr) {
//		fmt.Printf("bad %s: %v\n", vErr.Field, vErr.Err)
//	}
type ValidationError struct {
	Field string
	Value string
	Err   error
}

// Error returns a string representation of the validation error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("branding: invalid %s %q: %v", e.Field, e.Value, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *ValidationError) Unwrap() error { return e.Err }

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// ValidateColor accepts "#rrggbb" only.
func ValidateColor(field, value string) error {
	if !hexColor.MatchString(value) {
		return &ValidationError{Field: field, Value: value, Err: errors.New("not a #rrggbb hex color")}
	}
	return nil
}

// Fetcher downloads a remote file to dst.
type Fetcher interface {
	Download(ctx context.Context, url, dst string) error
}

// Inputs are the branding values supplied by the user. Images are local paths or http(s) URLs.
type Inputs struct {
	Profile        string
	Banner         string
	MainColor      string
	SecondaryColor string
}

func (in Inputs) empty() bool {
	return in.Profile == "" && in.Banner == "" && in.MainColor == "" && in.SecondaryColor == ""
}

// Validate checks user-supplied branding before any expensive work.
// Colors must be hex, local images must exist and remote images are fetched
// right away. Valid images are written to buildDir as profile.jpg and banner.jpg,
// resized for display.
func Validate(ctx context.Context, buildDir string, in Inputs, f Fetcher) error {
	if in.empty() {
		return nil
	}
	log.Info().Msg("branding: checking supplied branding values")

	if in.MainColor != "" {
		if err := ValidateColor("main color", in.MainColor); err != nil {
			return err
		}
	}
	if in.SecondaryColor != "" {
		if err := ValidateColor("secondary color", in.SecondaryColor); err != nil {
			return err
		}
	}

	images := []struct {
		field, src, name string
		width, height    int
	}{
		{"profile", in.Profile, ProfileName, imageutil.ProfileWidth, imageutil.ProfileHeight},
		{"banner", in.Banner, BannerName, imageutil.BannerWidth, imageutil.BannerHeight},
	}
	for _, img := range images {
		if img.src == "" {
			continue
		}
		dst := filepath.Join(buildDir, img.name)
		if err := materialize(ctx, f, img.field, img.src, dst); err != nil {
			return err
		}
		if err := imageutil.Resize(dst, dst, img.width, img.height, imageutil.Thumbnail); err != nil {
			return &ValidationError{Field: img.field, Value: img.src, Err: err}
		}
	}
	return nil
}

// materialize copies a local image or downloads a remote one to dst.
func materialize(ctx context.Context, f Fetcher, field, src, dst string) error {
	if isURL(src) {
		if f == nil {
			return &ValidationError{Field: field, Value: src, Err: errors.New("no fetcher for remote image")}
		}
		if err := f.Download(ctx, src, dst); err != nil {
			return &ValidationError{Field: field, Value: src, Err: err}
		}
		return nil
	}

	info, err := os.Stat(src)
	if err != nil {
		return &ValidationError{Field: field, Value: src, Err: err}
	}
	if info.IsDir() {
		return &ValidationError{Field: field, Value: src, Err: errors.New("is a directory")}
	}
	if err := imageutil.Copy(src, dst); err != nil {
		return &ValidationError{Field: field, Value: src, Err: err}
	}
	return nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
