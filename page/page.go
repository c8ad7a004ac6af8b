// Package page generates the browsable tree of an archive: one page per
// video, a homepage, and the client-side data listing every playlist.
package page

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"

	"ytzim/extract"
	"ytzim/internal/cache"
	"ytzim/internal/textutil"
	"ytzim/youtube"
	"ytzim/zim"
)

const (
	// DateLayout formats publication dates on video pages.
	DateLayout = "2006-01-02 - 15:04"

	assetsDir = "assets"
	videosDir = "videos"
)

// Input is everything the generator needs, produced by earlier stages.
type Input struct {
	BuildDir string
	// Format is the video container: "mp4" or "webm".
	Format    string
	Metadata  zim.Metadata
	Playlists []youtube.Playlist
	Videos    extract.VideoSet
	Authors   map[string]youtube.Author
	// PlaylistVideos holds each playlist's items keyed by playlist id.
	PlaylistVideos map[string][]youtube.VideoItem
	// IncludeMissing renders pages and data.js entries for videos without
	// local media, as a run that skipped downloads expects.
	IncludeMissing bool
}

// Result summarizes a generation.
type Result struct {
	Articles int
	// Skipped lists videos without local media, sorted. It stays empty when
	// Input.IncludeMissing is set.
	Skipped []string
}

// Article is the data of article.html.
type Article struct {
	VideoID         string
	Format          string
	Author          youtube.Author
	Title           string
	Description     template.HTML
	Date            string
	Subtitles       []Subtitle
	URL             string
	ChannelID       string
	Color           string
	BackgroundColor string
}

// Home is the data of home.html.
type Home struct {
	Playlists       []youtube.Playlist
	Format          string
	Title           string
	Description     string
	Color           string
	BackgroundColor string
}

// Script is the data of assets/app.js.
type Script struct {
	Format string
}

// Entry is one video of a playlist in assets/data.js.
type Entry struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Thumbnail   string `json:"thumbnail"`
}

// Generate writes every page of the archive into in.BuildDir.
//
// Pages are named after the slug of the video title. Two videos with the
// same slug share one file, the later one in id order winning.
func Generate(in Input, r Renderer) (*Result, error) {
	if err := copyStatic(filepath.Join(in.BuildDir, assetsDir)); err != nil {
		return nil, err
	}

	res := &Result{}
	present := make(map[string]bool)
	for _, id := range in.Videos.IDs() {
		video := in.Videos[id]
		if !in.IncludeMissing && !fileExists(mediaPath(in.BuildDir, id, in.Format)) {
			res.Skipped = append(res.Skipped, id)
			log.Warn().Str("video_id", id).Msg("page: no local media, page skipped")
			continue
		}
		present[id] = true

		subs, err := Subtitles(filepath.Join(in.BuildDir, videosDir, id))
		if err != nil {
			return nil, fmt.Errorf("page: subtitles of %s: %w", id, err)
		}
		author, ok := in.Authors[id]
		if !ok {
			author = youtube.Author{ChannelID: video.ChannelID}
		}

		html, err := r.Render("article.html", Article{
			VideoID:         id,
			Format:          in.Format,
			Author:          author,
			Title:           video.Title,
			Description:     descriptionHTML(video.Description),
			Date:            video.PublishedAt.UTC().Format(DateLayout),
			Subtitles:       subs,
			URL:             video.URL(),
			ChannelID:       video.ChannelID,
			Color:           in.Metadata.MainColor,
			BackgroundColor: in.Metadata.SecondaryColor,
		})
		if err != nil {
			return nil, err
		}
		if err := cache.WriteFile(filepath.Join(in.BuildDir, textutil.Slugify(video.Title)+".html"), html); err != nil {
			return nil, fmt.Errorf("page: write article %s: %w", id, err)
		}
		res.Articles++
	}

	home, err := r.Render("home.html", Home{
		Playlists:       in.Playlists,
		Format:          in.Format,
		Title:           in.Metadata.Title,
		Description:     in.Metadata.Description,
		Color:           in.Metadata.MainColor,
		BackgroundColor: in.Metadata.SecondaryColor,
	})
	if err != nil {
		return nil, err
	}
	if err := cache.WriteFile(filepath.Join(in.BuildDir, zim.Welcome), home); err != nil {
		return nil, fmt.Errorf("page: write home: %w", err)
	}

	script, err := r.Render("assets/app.js", Script{Format: in.Format})
	if err != nil {
		return nil, err
	}
	if err := cache.WriteFile(filepath.Join(in.BuildDir, assetsDir, "app.js"), script); err != nil {
		return nil, fmt.Errorf("page: write app.js: %w", err)
	}

	data, err := DataJS(in.Playlists, in.PlaylistVideos, present)
	if err != nil {
		return nil, err
	}
	if err := cache.WriteFile(filepath.Join(in.BuildDir, assetsDir, "data.js"), data); err != nil {
		return nil, fmt.Errorf("page: write data.js: %w", err)
	}

	log.Info().Int("articles", res.Articles).Int("skipped", len(res.Skipped)).
		Int("playlists", len(in.Playlists)).Msg("page: archive tree generated")
	return res, nil
}

// DataJS renders one `var json_<slug> = [...];` line per playlist, each array
// ordered by position in the playlist. Only videos in present are listed.
func DataJS(playlists []youtube.Playlist, items map[string][]youtube.VideoItem, present map[string]bool) ([]byte, error) {
	var out bytes.Buffer
	for _, pl := range playlists {
		videos := append([]youtube.VideoItem(nil), items[pl.ID]...)
		sort.SliceStable(videos, func(i, j int) bool { return videos[i].Position < videos[j].Position })

		entries := make([]Entry, 0, len(videos))
		for _, v := range videos {
			if !present[v.ID] {
				continue
			}
			entries = append(entries, Entry{
				ID:          v.ID,
				Title:       v.Title,
				Slug:        textutil.Slugify(v.Title),
				Description: string(descriptionHTML(v.Description)),
				Thumbnail:   path.Join(videosDir, v.ID, "video.jpg"),
			})
		}

		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "    ")
		if err := enc.Encode(entries); err != nil {
			return nil, fmt.Errorf("page: encode playlist %s: %w", pl.ID, err)
		}
		fmt.Fprintf(&out, "var json_%s = %s;\n", pl.Slug, bytes.TrimRight(buf.Bytes(), "\n"))
	}
	return out.Bytes(), nil
}

// descriptionHTML escapes a description and keeps its line breaks.
func descriptionHTML(s string) template.HTML {
	return template.HTML(textutil.HTMLLineBreaks(template.HTMLEscapeString(s)))
}

func copyStatic(dst string) error {
	static, err := staticAssets()
	if err != nil {
		return err
	}
	return fs.WalkDir(static, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := fs.ReadFile(static, p)
		if err != nil {
			return err
		}
		if err := cache.WriteFile(filepath.Join(dst, filepath.FromSlash(p)), data); err != nil {
			return fmt.Errorf("page: copy asset %s: %w", p, err)
		}
		return nil
	})
}

func mediaPath(buildDir, id, format string) string {
	return filepath.Join(buildDir, videosDir, id, "video."+format)
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
