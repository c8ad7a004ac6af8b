package branding

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"ytzim/extract"
	ythttp "ytzim/http"
	"ytzim/internal/retry"
	"ytzim/youtube"
)

func pngBytes(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// imageServer serves a 400x300 red PNG under /img/, 404 elsewhere, counting hits.
func imageServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	data := pngBytes(t, 400, 300, color.NRGBA{R: 255, A: 255})
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if len(r.URL.Path) < 5 || r.URL.Path[:5] != "/img/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testFetcher() *ythttp.Client {
	cfg := ythttp.DefaultConfig()
	cfg.RequestsPerSecond = -1
	cfg.Retry = retry.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2}
	return ythttp.New(cfg)
}

func TestValidateColor(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"#1a2b3c", true},
		{"#ABCDEF", true},
		{"red", false},
		{"#1a2b3", false},
		{"#1a2b3c4", false},
		{"1a2b3c", false},
		{"#1a2b3g", false},
		{"", false},
	}
	for _, tt := range tests {
		err := ValidateColor("main color", tt.value)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateColor(%q) error = %v, want ok=%v", tt.value, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrValidation) {
			t.Errorf("ValidateColor(%q) error does not match ErrValidation", tt.value)
		}
	}
}

func TestValidateNothingSupplied(t *testing.T) {
	if err := Validate(context.Background(), t.TempDir(), Inputs{}, nil); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	srv, _ := imageServer(t)
	tests := []struct {
		name  string
		in    Inputs
		field string
	}{
		{"bad main color", Inputs{MainColor: "red"}, "main color"},
		{"bad secondary color", Inputs{MainColor: "#000000", SecondaryColor: "#12345"}, "secondary color"},
		{"missing local profile", Inputs{Profile: "/does/not/exist.png"}, "profile"},
		{"missing remote banner", Inputs{Banner: srv.URL + "/gone.png"}, "banner"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(context.Background(), t.TempDir(), tt.in, testFetcher())
			var vErr *ValidationError
			if !errors.As(err, &vErr) || !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want ValidationError", err)
			}
			if vErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", vErr.Field, tt.field)
			}
		})
	}
}

func TestValidateMaterializesImages(t *testing.T) {
	srv, _ := imageServer(t)
	build := t.TempDir()
	local := filepath.Join(t.TempDir(), "me.png")
	if err := os.WriteFile(local, pngBytes(t, 300, 300, color.NRGBA{B: 255, A: 255}), 0644); err != nil {
		t.Fatal(err)
	}

	in := Inputs{Profile: local, Banner: srv.URL + "/img/banner.png", MainColor: "#1a2b3c"}
	if err := Validate(context.Background(), build, in, testFetcher()); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	checks := []struct {
		name string
		w, h int
	}{
		{ProfileName, 100, 100},
		{BannerName, 233, 175},
	}
	for _, c := range checks {
		img, err := imaging.Open(filepath.Join(build, c.name))
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		b := img.Bounds()
		if b.Dy() != c.h || b.Dx() < c.w-1 || b.Dx() > c.w+1 {
			t.Errorf("%s = %dx%d, want ~%dx%d", c.name, b.Dx(), b.Dy(), c.w, c.h)
		}
	}
	if _, err := os.Stat(local); err != nil {
		t.Error("local source image was removed")
	}
}

func TestResolve(t *testing.T) {
	if got := Resolve("X", "Y"); got != "X" {
		t.Errorf("Resolve(X, Y) = %q", got)
	}
	if got := Resolve("", "Y"); got != "Y" {
		t.Errorf("Resolve(\"\", Y) = %q", got)
	}
	if got := Resolve(0, 7); got != 7 {
		t.Errorf("Resolve(0, 7) = %d", got)
	}
}

func TestResolveTags(t *testing.T) {
	tests := []struct {
		name string
		user []string
		want []string
	}{
		{"default", nil, []string{"youtube", "_videos:yes"}},
		{"user tags", []string{"science"}, []string{"science", "_videos:yes"}},
		{"already present", []string{"_videos:yes", "x"}, []string{"_videos:yes", "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := append([]string(nil), tt.user...)
			if got := ResolveTags(user); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ResolveTags() = %v, want %v", got, tt.want)
			}
			if !reflect.DeepEqual(user, tt.user) && tt.user != nil {
				t.Errorf("input modified: %v", user)
			}
		})
	}
}

func channelDerivation() Derivation {
	return Derivation{
		Descriptor:     extract.Descriptor{Kind: extract.Channel, Identifier: "UC1"},
		Playlists:      []youtube.Playlist{youtube.NewPlaylist("PL1", "Only", "About\x00 it", "UC1")},
		MainChannel:    youtube.Branding{ChannelID: "UC1", Title: " Y ", Description: "Line one\n\n  line\ttwo"},
		MainColor:      "#111111",
		SecondaryColor: "#eeeeee",
	}
}

func TestReconcilePrecedence(t *testing.T) {
	d := channelDerivation()

	m := Reconcile(Overrides{Language: "eng", Title: "X", MainColor: "#ff0000"}, d)
	if m.Title != "X" {
		t.Errorf("Title = %q, want user value X", m.Title)
	}
	if m.MainColor != "#ff0000" || m.SecondaryColor != "#eeeeee" {
		t.Errorf("colors = %s/%s", m.MainColor, m.SecondaryColor)
	}

	m = Reconcile(Overrides{Language: "eng"}, d)
	want := map[string]string{
		"title":       "Y",
		"description": "Line one line two",
		"creator":     "Youtube Channel “ Y ”",
		"publisher":   "Kiwix",
		"name":        "youtube-UC1_eng_all",
	}
	got := map[string]string{
		"title": m.Title, "description": m.Description, "creator": m.Creator,
		"publisher": m.Publisher, "name": m.Name,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("derived = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(m.Tags, []string{"youtube", "_videos:yes"}) {
		t.Errorf("Tags = %v", m.Tags)
	}
}

func TestReconcilePlaylists(t *testing.T) {
	d := channelDerivation()
	d.Descriptor = extract.Descriptor{Kind: extract.PlaylistList, Identifier: "PL1"}

	m := Reconcile(Overrides{Language: "fra"}, d)
	if m.Title != "Only" || m.Description != "About it" {
		t.Errorf("single playlist names = %q / %q", m.Title, m.Description)
	}
	if m.Creator != "Youtube Channels" || m.Name != "youtube-PL1_fra_all" {
		t.Errorf("creator/name = %q / %q", m.Creator, m.Name)
	}

	d.Descriptor.Identifier = "PL1, PL2"
	d.Playlists = append(d.Playlists, youtube.NewPlaylist("PL2", "Other", "", "UC2"))
	m = Reconcile(Overrides{Language: "fra"}, d)
	if m.Title != "Y" || m.Name != "youtube-PL1-PL2_fra_all" {
		t.Errorf("multi playlist title/name = %q / %q", m.Title, m.Name)
	}
}

func TestFinalize(t *testing.T) {
	build := t.TempDir()
	channels := filepath.Join(build, "channels")
	mainDir := filepath.Join(channels, "UC1")
	if err := os.MkdirAll(mainDir, 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(mainDir, ProfileName), pngBytes(t, 200, 200, color.NRGBA{G: 255, A: 255}), 0644)
	os.WriteFile(filepath.Join(mainDir, BannerName), pngBytes(t, 20, 10, color.NRGBA{A: 255}), 0644)

	d := channelDerivation()
	d.MainColor, d.SecondaryColor = "", ""
	m, err := Finalize(build, channels, Overrides{Language: "eng", SecondaryColor: "#abcdef"}, d)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if m.MainColor != "#00ff00" {
		t.Errorf("MainColor = %q, want derived #00ff00", m.MainColor)
	}
	if m.SecondaryColor != "#abcdef" {
		t.Errorf("SecondaryColor = %q, want user value", m.SecondaryColor)
	}
	for _, name := range []string{ProfileName, BannerName, FaviconName} {
		if _, err := os.Stat(filepath.Join(build, name)); err != nil {
			t.Errorf("%s missing: %v", name, err)
		}
	}
	fav, err := imaging.Open(filepath.Join(build, FaviconName))
	if err != nil {
		t.Fatal(err)
	}
	if b := fav.Bounds(); b.Dx() != 48 || b.Dy() != 48 {
		t.Errorf("favicon = %dx%d", b.Dx(), b.Dy())
	}
}

func TestFinalizeKeepsSuppliedProfile(t *testing.T) {
	build := t.TempDir()
	channels := filepath.Join(build, "channels")
	os.MkdirAll(filepath.Join(channels, "UC1"), 0755)
	os.WriteFile(filepath.Join(channels, "UC1", ProfileName), pngBytes(t, 10, 10, color.NRGBA{G: 255, A: 255}), 0644)
	supplied := pngBytes(t, 10, 10, color.NRGBA{R: 255, A: 255})
	os.WriteFile(filepath.Join(build, ProfileName), supplied, 0644)

	m, err := Finalize(build, channels, Overrides{Language: "eng"}, channelDerivation())
	if err != nil {
		t.Fatal(err)
	}
	if m.MainColor != "#ff0000" {
		t.Errorf("MainColor = %q, want color of the supplied profile", m.MainColor)
	}
	if data, _ := os.ReadFile(filepath.Join(build, ProfileName)); !bytes.Equal(data, supplied) {
		t.Error("supplied profile was overwritten")
	}
}

type brandingPlatform struct {
	youtube.Platform
	brandings map[string]youtube.Branding
	calls     atomic.Int64
}

func (p *brandingPlatform) ChannelBranding(_ context.Context, id string) (*youtube.Branding, error) {
	p.calls.Add(1)
	b, ok := p.brandings[id]
	if !ok {
		return nil, &youtube.APIError{Op: "channels.list", ID: id, Err: youtube.ErrNotFound}
	}
	return &b, nil
}

func TestAuthorChannels(t *testing.T) {
	authors := map[string]youtube.Author{
		"v1": {ChannelID: "UCb"}, "v2": {ChannelID: "UCa"}, "v3": {ChannelID: "UCb"}, "v4": {},
	}
	if got := AuthorChannels(authors); !reflect.DeepEqual(got, []string{"UCa", "UCb"}) {
		t.Errorf("AuthorChannels() = %v", got)
	}
}

func TestFetchAuthors(t *testing.T) {
	srv, hits := imageServer(t)
	p := &brandingPlatform{brandings: map[string]youtube.Branding{
		"UCa": {ChannelID: "UCa", ProfileImageURL: srv.URL + "/img/a.png", BannerImageURL: srv.URL + "/img/ab.png"},
		"UCb": {ChannelID: "UCb", ProfileImageURL: srv.URL + "/img/b.png"},
		"UCc": {ChannelID: "UCc", ProfileImageURL: srv.URL + "/missing.png"},
	}}
	authors := map[string]youtube.Author{
		"v1": {ChannelID: "UCa"}, "v2": {ChannelID: "UCb"}, "v3": {ChannelID: "UCa"},
		"v4": {ChannelID: "UCc"}, "v5": {ChannelID: "UCgone"},
	}
	channels := t.TempDir()

	if err := FetchAuthors(context.Background(), p, testFetcher(), channels, authors); err != nil {
		t.Fatalf("FetchAuthors() error = %v", err)
	}
	if p.calls.Load() != 4 {
		t.Errorf("branding lookups = %d, want 4 distinct channels", p.calls.Load())
	}
	for _, id := range []string{"UCa", "UCb"} {
		if _, err := os.Stat(filepath.Join(channels, id, ProfileName)); err != nil {
			t.Errorf("%s profile missing: %v", id, err)
		}
	}
	if _, err := os.Stat(filepath.Join(channels, "UCa", BannerName)); !os.IsNotExist(err) {
		t.Error("author banner downloaded")
	}

	before := hits.Load()
	if err := FetchAuthors(context.Background(), p, testFetcher(), channels, authors); err != nil {
		t.Fatal(err)
	}
	// only the missing image of UCc is requested again
	if got := hits.Load() - before; got != 1 {
		t.Errorf("second run made %d image requests, want 1", got)
	}
}

func TestFetchMain(t *testing.T) {
	srv, _ := imageServer(t)
	p := &brandingPlatform{brandings: map[string]youtube.Branding{
		"UCm": {ChannelID: "UCm", Title: "Main", ProfileImageURL: srv.URL + "/img/p.png", BannerImageURL: srv.URL + "/img/b.png"},
		"UCx": {ChannelID: "UCx", ProfileImageURL: srv.URL + "/broken.png"},
	}}
	channels := t.TempDir()

	b, err := FetchMain(context.Background(), p, testFetcher(), channels, "UCm")
	if err != nil {
		t.Fatalf("FetchMain() error = %v", err)
	}
	if b.Title != "Main" {
		t.Errorf("Title = %q", b.Title)
	}
	for _, name := range []string{ProfileName, BannerName} {
		if _, err := os.Stat(filepath.Join(channels, "UCm", name)); err != nil {
			t.Errorf("%s missing: %v", name, err)
		}
	}

	if _, err := FetchMain(context.Background(), p, testFetcher(), channels, "UCx"); err == nil {
		t.Error("FetchMain() with a broken profile succeeded")
	}
}
