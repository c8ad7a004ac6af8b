package scraper

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"ytzim/branding"
	"ytzim/download"
	"ytzim/extract"
	"ytzim/internal/cache"
	"ytzim/page"
	"ytzim/youtube"
	"ytzim/zim"
)

// platform is a single channel UC1 whose uploads are v1 and v2, plus a
// playlist PLx by UC2 holding v3.
type platform struct {
	mu     sync.Mutex
	calls  int
	keyBad bool
}

func (p *platform) hit() {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
}

func (p *platform) CredentialsOK(context.Context) (bool, error) {
	p.hit()
	return !p.keyBad, nil
}

func (p *platform) Channel(_ context.Context, id string, _ bool) (*youtube.Channel, error) {
	p.hit()
	if id != "UC1" {
		return nil, &youtube.APIError{Op: "channels.list", ID: id, Err: youtube.ErrNotFound}
	}
	return &youtube.Channel{ID: "UC1", Title: "Channel One", Description: "All about one",
		UploadsPlaylistID: "UU1", ProfileImageURL: "https://img/UC1/p", BannerImageURL: "https://img/UC1/b"}, nil
}

func (p *platform) ChannelPlaylists(context.Context, string) ([]youtube.PlaylistSummary, error) {
	p.hit()
	return nil, nil
}

func (p *platform) Playlist(_ context.Context, id string) (*youtube.Playlist, error) {
	p.hit()
	switch id {
	case "UU1":
		pl := youtube.NewPlaylist("UU1", "Uploads from Channel One", "", "UC1")
		return &pl, nil
	case "PLx":
		pl := youtube.NewPlaylist("PLx", "Extra", "A list", "UC2")
		return &pl, nil
	}
	return nil, &youtube.APIError{Op: "playlists.list", ID: id, Err: youtube.ErrNotFound}
}

func (p *platform) PlaylistVideos(_ context.Context, id string) ([]youtube.VideoItem, error) {
	p.hit()
	at := time.Date(2022, 3, 1, 9, 30, 0, 0, time.UTC)
	switch id {
	case "UU1":
		return []youtube.VideoItem{
			{ID: "v2", Title: "Second", ChannelID: "UC1", PublishedAt: at, Position: 1, PlaylistID: id},
			{ID: "v1", Title: "First", ChannelID: "UC1", PublishedAt: at, Position: 0, PlaylistID: id},
		}, nil
	case "PLx":
		return []youtube.VideoItem{{ID: "v3", Title: "Third", ChannelID: "UC2", PublishedAt: at, PlaylistID: id}}, nil
	}
	return nil, nil
}

func (p *platform) Authors(_ context.Context, ids []string) (map[string]youtube.Author, error) {
	p.hit()
	out := make(map[string]youtube.Author)
	for _, id := range ids {
		ch := "UC1"
		if id == "v3" {
			ch = "UC2"
		}
		out[id] = youtube.Author{ChannelID: ch, ChannelTitle: "Title of " + ch}
	}
	return out, nil
}

func (p *platform) ChannelBranding(ctx context.Context, id string) (*youtube.Branding, error) {
	if id == "UC1" {
		ch, err := p.Channel(ctx, id, false)
		if err != nil {
			return nil, err
		}
		b := ch.Branding()
		return &b, nil
	}
	p.hit()
	return &youtube.Branding{ChannelID: id, Title: "Title of " + id,
		ProfileImageURL: "https://img/" + id + "/p", BannerImageURL: "https://img/" + id + "/b"}, nil
}

// fetcher writes a solid red image for every url.
type fetcher struct{}

func (fetcher) Download(_ context.Context, _ string, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return imaging.Save(imaging.New(64, 64, color.NRGBA{R: 255, A: 255}), dst)
}

// runner produces media for every id except those in fail.
type runner struct {
	fail map[string]bool
	runs int
}

func (r *runner) Run(_ context.Context, req download.Request, ids []string) error {
	r.runs++
	for _, id := range ids {
		if r.fail[id] {
			continue
		}
		base := strings.ReplaceAll(req.OutputTemplate, "%(id)s", id)
		video := strings.ReplaceAll(base, "%(ext)s", req.MergeOutputFormat)
		if err := os.MkdirAll(filepath.Dir(video), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(video, []byte("media"), 0644); err != nil {
			return err
		}
		img := image.NewNRGBA(image.Rect(0, 0, 320, 180))
		if err := imaging.Save(img, strings.ReplaceAll(base, "%(ext)s", "jpg")); err != nil {
			return err
		}
	}
	return nil
}

// packager records the metadata it was given and writes an empty archive.
type packager struct {
	metadata zim.Metadata
	filename string
}

func (p *packager) Pack(_ context.Context, buildDir, outputDir, filename string, m zim.Metadata) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(buildDir, zim.Welcome)); err != nil {
		return "", err
	}
	p.metadata, p.filename = m, filename
	out := filepath.Join(outputDir, filename)
	return out, os.WriteFile(out, nil, 0644)
}

func setup(t *testing.T, kind extract.Kind, ident string) (*Scraper, *platform, *runner, *packager) {
	t.Helper()
	out := t.TempDir()
	r, err := page.NewTemplateRenderer()
	if err != nil {
		t.Fatal(err)
	}
	p := &platform{}
	run := &runner{}
	pack := &packager{}
	s := New(Options{
		Descriptor: extract.Descriptor{Kind: kind, Identifier: ident},
		BuildDir:   filepath.Join(out, "build"),
		OutputDir:  out,
		Download:   download.Options{Format: "mp4", Concurrency: 2},
		Overrides:  branding.Overrides{Language: "eng"},
	}, Deps{
		Platform: func(context.Context, *cache.Store) (youtube.Platform, error) { return p, nil },
		Fetcher:  fetcher{},
		Runner:   run,
		Renderer: r,
		Packager: pack,
	})
	s.now = func() time.Time { return time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC) }
	return s, p, run, pack
}

func TestRunChannel(t *testing.T) {
	s, _, run, pack := setup(t, extract.Channel, "UC1")
	run.fail = map[string]bool{"v2": true}

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Playlists != 1 || report.Videos != 2 {
		t.Errorf("report = %+v", report)
	}
	if !reflect.DeepEqual(report.Download.Succeeded, []string{"v1"}) {
		t.Errorf("Succeeded = %v", report.Download.Succeeded)
	}
	if report.Pages.Articles != 1 || !reflect.DeepEqual(report.Pages.Skipped, []string{"v2"}) {
		t.Errorf("pages = %+v", report.Pages)
	}
	if report.RunID == "" {
		t.Error("RunID is empty")
	}

	want := "youtube-UC1_eng_all_2024-02.zim"
	if pack.filename != want || filepath.Base(report.Archive) != want {
		t.Errorf("archive = %q (packed %q), want %q", report.Archive, pack.filename, want)
	}
	m := pack.metadata
	if m.Title != "Channel One" || m.Description != "All about one" || m.Publisher != branding.DefaultPublisher {
		t.Errorf("metadata = %+v", m)
	}
	if m.MainColor == "" || m.SecondaryColor == "" {
		t.Errorf("colors not derived: %+v", m)
	}

	build := s.opts.BuildDir
	for _, name := range []string{"first.html", zim.Welcome, zim.Favicon, branding.ProfileName,
		branding.BannerName, "assets/data.js", "channels/UC1/profile.jpg", "videos/v1/video.jpg"} {
		if _, err := os.Stat(filepath.Join(build, name)); err != nil {
			t.Errorf("%s missing: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(build, "second.html")); !os.IsNotExist(err) {
		t.Error("page written for a failed download")
	}
}

func TestRunResumesFromCache(t *testing.T) {
	s, p, run, _ := setup(t, extract.Channel, "UC1")
	s.opts.KeepBuildDir = true

	first, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	callsBefore, runsBefore := p.calls, run.runs

	second, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if second.RunID != first.RunID {
		t.Errorf("RunID changed on resume: %q then %q", first.RunID, second.RunID)
	}
	if run.runs != runsBefore {
		t.Errorf("downloader invoked again for present videos")
	}
	// the video set comes from the cache, so the extraction listing is not repeated
	if resumed := p.calls - callsBefore; resumed >= callsBefore {
		t.Errorf("resumed run made %d platform calls, first made %d", resumed, callsBefore)
	}
}

func TestRunWipesBuildDir(t *testing.T) {
	s, _, _, _ := setup(t, extract.Channel, "UC1")
	stale := filepath.Join(s.opts.BuildDir, "stale.html")
	if err := os.MkdirAll(s.opts.BuildDir, 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(stale, []byte("old"), 0644)

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("previous build content survived")
	}
}

func TestRunPlaylists(t *testing.T) {
	s, _, _, pack := setup(t, extract.PlaylistList, "PLx")
	s.opts.ZimFile = "custom.zim"

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if pack.filename != "custom.zim" {
		t.Errorf("filename = %q", pack.filename)
	}
	if pack.metadata.Title != "Extra" || pack.metadata.Name != "youtube-PLx_eng_all" {
		t.Errorf("metadata = %+v", pack.metadata)
	}
	if report.Videos != 1 {
		t.Errorf("Videos = %d", report.Videos)
	}
}

func TestRunRejectedKey(t *testing.T) {
	s, p, run, pack := setup(t, extract.Channel, "UC1")
	p.keyBad = true

	_, err := s.Run(context.Background())
	if !errors.Is(err, youtube.ErrCredentials) {
		t.Fatalf("Run() error = %v, want ErrCredentials", err)
	}
	if run.runs != 0 || pack.filename != "" {
		t.Error("pipeline continued after a rejected key")
	}
}

func TestRunInvalidBranding(t *testing.T) {
	s, p, _, pack := setup(t, extract.Channel, "UC1")
	s.opts.Branding = branding.Inputs{MainColor: "red"}

	_, err := s.Run(context.Background())
	if !errors.Is(err, branding.ErrValidation) {
		t.Fatalf("Run() error = %v, want ErrValidation", err)
	}
	// only the credentials probe ran
	if p.calls != 1 || pack.filename != "" {
		t.Errorf("platform calls = %d, packed %q", p.calls, pack.filename)
	}
}

func TestRunSkipDownloadNoZim(t *testing.T) {
	s, _, run, pack := setup(t, extract.Channel, "UC1")
	s.opts.SkipDownload = true
	s.opts.NoZim = true

	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if run.runs != 0 || report.Download != nil {
		t.Error("downloader ran with downloads skipped")
	}
	if pack.filename != "" || report.Archive != "" {
		t.Error("packager ran with packaging skipped")
	}
	if report.Pages.Articles != report.Videos || len(report.Pages.Skipped) != 0 {
		t.Errorf("pages = %+v, want one article per video of %d", report.Pages, report.Videos)
	}
	data, err := os.ReadFile(filepath.Join(s.opts.BuildDir, "assets", "data.js"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"id": "v1"`) {
		t.Errorf("data.js lists no videos: %s", data)
	}
	if _, err := os.Stat(filepath.Join(s.opts.BuildDir, zim.Welcome)); err != nil {
		t.Errorf("build tree not left in place: %v", err)
	}
}

func TestRunUnknownChannel(t *testing.T) {
	s, _, _, _ := setup(t, extract.Channel, "UCnope")
	if _, err := s.Run(context.Background()); !errors.Is(err, youtube.ErrNotFound) {
		t.Errorf("Run() error = %v, want ErrNotFound", err)
	}
}
