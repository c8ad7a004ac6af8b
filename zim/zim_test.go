package zim

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func validMetadata() Metadata {
	return Metadata{
		Language:  "eng",
		Title:     "Some Channel",
		Creator:   "Youtube Channel “Some Channel”",
		Publisher: "Kiwix",
		Name:      "youtube-UC1_eng_all",
		Tags:      []string{"youtube", "_videos:yes"},
	}
}

func TestMetadataValidate(t *testing.T) {
	if err := validMetadata().Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	m := validMetadata()
	m.Title = " "
	m.Name = ""
	err := m.Validate()
	if err == nil {
		t.Fatal("Validate() accepted missing fields")
	}
	if !strings.Contains(err.Error(), "name, title") {
		t.Errorf("error = %q, want sorted missing fields", err)
	}
}

func TestDefaultFilename(t *testing.T) {
	got := DefaultFilename("youtube-UC1_eng_all", time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC))
	if got != "youtube-UC1_eng_all_2024-03.zim" {
		t.Errorf("DefaultFilename() = %q", got)
	}
}

func TestArgs(t *testing.T) {
	m := validMetadata()
	m.Description = strings.Repeat("d", 100)
	args := NewZimwriterfsPackager("").Args("/build", "/out/a.zim", m)

	want := map[string]bool{
		"--welcome=home.html":        true,
		"--favicon=favicon.jpg":      true,
		"--language=eng":             true,
		"--tags=youtube;_videos:yes": true,
		"--name=youtube-UC1_eng_all": true,
		"--publisher=Kiwix":          true,
	}
	for _, a := range args {
		delete(want, a)
		if strings.HasPrefix(a, "--description=") {
			if n := len([]rune(strings.TrimPrefix(a, "--description="))); n != maxDescription {
				t.Errorf("description length = %d, want %d", n, maxDescription)
			}
		}
	}
	if len(want) > 0 {
		t.Errorf("missing args %v in %v", want, args)
	}
	if args[len(args)-2] != "/build" || args[len(args)-1] != "/out/a.zim" {
		t.Errorf("positional args = %v", args[len(args)-2:])
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 80); got != "short" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("ééééé", 3); got != "éé…" {
		t.Errorf("truncate() = %q", got)
	}
}

func TestPackMissingTool(t *testing.T) {
	p := NewZimwriterfsPackager(filepath.Join(t.TempDir(), "none"))
	_, err := p.Pack(context.Background(), t.TempDir(), t.TempDir(), "a.zim", validMetadata())
	if !errors.Is(err, ErrPackager) {
		t.Errorf("Pack() error = %v, want ErrPackager", err)
	}
}

func TestPackWithMock(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("mock script requires a POSIX shell")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "zimwriterfs")
	// the last argument is the archive path
	body := "#!/bin/sh\nfor a in \"$@\"; do out=\"$a\"; done\necho zim > \"$out\"\n"
	if err := os.WriteFile(script, []byte(body), 0755); err != nil {
		t.Fatal(err)
	}

	outDir := filepath.Join(dir, "output")
	path, err := NewZimwriterfsPackager(script).Pack(context.Background(), t.TempDir(), outDir, "a.zim", validMetadata())
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	if path != filepath.Join(outDir, "a.zim") {
		t.Errorf("path = %q", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("archive missing: %v", err)
	}
}

func TestPackFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("mock script requires a POSIX shell")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "zimwriterfs")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho bad metadata >&2\nexit 2\n"), 0755); err != nil {
		t.Fatal(err)
	}
	_, err := NewZimwriterfsPackager(script).Pack(context.Background(), t.TempDir(), dir, "a.zim", validMetadata())
	if !errors.Is(err, ErrPackager) || !strings.Contains(err.Error(), "bad metadata") {
		t.Errorf("Pack() error = %v", err)
	}
}
