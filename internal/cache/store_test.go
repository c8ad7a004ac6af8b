package cache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

type testVideo struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Position int64     `json:"position"`
	Date     time.Time `json:"date"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), DirName))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return store
}

func TestOpenCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "build", DirName)
	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if store.Dir() != dir {
		t.Errorf("Dir() = %q, want %q", store.Dir(), dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("cache directory was not created: %v", err)
	}
}

func TestLoadMissingKey(t *testing.T) {
	store := newTestStore(t)

	var got map[string]testVideo
	found, err := store.Load("videos", &got)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if found {
		t.Error("Load() found = true for a key never saved")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	want := map[string]testVideo{
		"v1": {ID: "v1", Title: "First", Position: 0, Date: time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)},
		"v2": {ID: "v2", Title: "Second <b>", Position: 1, Date: time.Date(2021, 6, 7, 8, 9, 10, 0, time.UTC)},
	}
	if err := store.Save("videos", want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	var got map[string]testVideo
	found, err := store.Load("videos", &got)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !found {
		t.Fatal("Load() found = false after Save()")
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

func TestSaveIsByteIdentical(t *testing.T) {
	store := newTestStore(t)
	doc := map[string]testVideo{
		"b": {ID: "b", Title: "B"},
		"a": {ID: "a", Title: "A"},
		"c": {ID: "c", Title: "C"},
	}

	if err := store.Save("videos", doc); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	first, err := os.ReadFile(filepath.Join(store.Dir(), "videos.json"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	if err := store.Save("videos", doc); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
	second, err := os.ReadFile(filepath.Join(store.Dir(), "videos.json"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Errorf("re-saving produced different bytes:\n%s\n---\n%s", first, second)
	}
}

func TestLoadCorruptDocument(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(store.Dir(), "videos.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	var got map[string]testVideo
	found, err := store.Load("videos", &got)
	if found {
		t.Error("Load() found = true for corrupt document")
	}
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Load() error = %v, want ErrCorrupt", err)
	}

	var cacheErr *Error
	if !errors.As(err, &cacheErr) {
		t.Fatalf("Load() error type = %T, want *Error", err)
	}
	if cacheErr.Op != "load" || cacheErr.Key != "videos" {
		t.Errorf("Error = {Op:%q Key:%q}, want {load videos}", cacheErr.Op, cacheErr.Key)
	}
}

func TestInvalidKeys(t *testing.T) {
	store := newTestStore(t)

	keys := []string{"", ".", "..", "../escape", "a/b", `a\b`, ".hidden"}
	for _, key := range keys {
		t.Run(key, func(t *testing.T) {
			if err := store.Save(key, 1); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Save(%q) error = %v, want ErrInvalidKey", key, err)
			}
			var v int
			if _, err := store.Load(key, &v); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Load(%q) error = %v, want ErrInvalidKey", key, err)
			}
		})
	}
}

func TestHasAndKeys(t *testing.T) {
	store := newTestStore(t)

	if store.Has("videos") {
		t.Error("Has() = true before Save()")
	}

	for _, key := range []string{"videos_channels", "videos", "playlist_PL1_videos"} {
		if err := store.Save(key, []string{key}); err != nil {
			t.Fatalf("Save(%q) error = %v", key, err)
		}
	}

	if !store.Has("videos") {
		t.Error("Has() = false after Save()")
	}

	keys, err := store.Keys()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	want := []string{"playlist_PL1_videos", "videos", "videos_channels"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("Keys() = %v, want %v", keys, want)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save("videos", map[string]int{"a": 1}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	entries, err := os.ReadDir(store.Dir())
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("cache dir contains %v, want only videos.json", names)
	}
}

func TestLockExcludesSecondRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "build")

	lock, err := Lock(dir, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	if _, err := Lock(dir, 50*time.Millisecond); !errors.Is(err, ErrLocked) {
		t.Errorf("second Lock() error = %v, want ErrLocked", err)
	}

	if err := lock.Unlock(); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	again, err := Lock(dir, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Lock() after Unlock error = %v", err)
	}
	again.Unlock()
}

func TestLockSiblingBuildDirs(t *testing.T) {
	parent := t.TempDir()
	a, b := filepath.Join(parent, "a"), filepath.Join(parent, "b")

	lockA, err := Lock(a, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Lock(a) error = %v", err)
	}
	defer lockA.Unlock()

	lockB, err := Lock(b+string(filepath.Separator), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Lock(b) while a is held: %v", err)
	}
	defer lockB.Unlock()

	if _, err := Lock(filepath.Join(parent, "x", "..", "a"), 50*time.Millisecond); !errors.Is(err, ErrLocked) {
		t.Errorf("Lock() on the same build dir error = %v, want ErrLocked", err)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath(filepath.Join("out", "build") + string(filepath.Separator))
	if want := filepath.Join("out", ".build.ytzim.lock"); got != want {
		t.Errorf("LockPath() = %q, want %q", got, want)
	}
}
