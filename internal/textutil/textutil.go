// Package textutil holds the text normalization shared by playlists, pages and metadata.
package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// fallbackSlug is used when a title has no letter or digit left after normalization.
	fallbackSlug = "video"

	// MaxSlugBytes bounds a slug so "<slug>.html" fits in a 255 byte file name.
	MaxSlugBytes = 200
)

// Slugify derives a URL-safe slug from a title.
//
// Accents are stripped (NFKD then combining marks removed), letters are lowercased
// and every run of other characters becomes a single dash. Letters outside Latin
// scripts are kept as is. Slugs longer than MaxSlugBytes are cut on a rune
// boundary. Two different titles may produce the same slug.
func Slugify(title string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}

	if b.Len() == 0 {
		return fallbackSlug
	}
	return truncateSlug(b.String())
}

func truncateSlug(s string) string {
	if len(s) <= MaxSlugBytes {
		return s
	}
	cut := MaxSlugBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimRight(s[:cut], "-")
}

// CleanText removes control characters and collapses whitespace runs into a
// single space, trimming both ends.
func CleanText(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsControl(r) || r == unicode.ReplacementChar:
			// dropped
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
		}
	}
	return b.String()
}

// HTMLLineBreaks replaces newlines with <br /> for descriptions embedded in pages.
func HTMLLineBreaks(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "<br />")
}
