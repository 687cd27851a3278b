package store

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func writeArtifact(t *testing.T, s *Store, key, content string) Artifact {
	t.Helper()
	path, err := s.Allocate(key)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return s.Register(key, path)
}

func TestAllocate_confined(t *testing.T) {
	s := newTestStore(t)
	path, err := s.Allocate("video.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(path) != s.Root() {
		t.Errorf("path %q not directly under root %q", path, s.Root())
	}
	for _, bad := range []string{"", "../escape.mp4", "a/b.mp4", ".hidden"} {
		if _, err := s.Allocate(bad); err == nil {
			t.Errorf("Allocate(%q) should fail", bad)
		}
	}
}

func TestRegisterAndGet(t *testing.T) {
	s := newTestStore(t)
	art := writeArtifact(t, s, "track.mp3", "bytes")
	got, err := s.Get("track.mp3")
	if err != nil {
		t.Fatal(err)
	}
	if got.Path != art.Path || got.Key != "track.mp3" {
		t.Errorf("Get mismatch: %+v vs %+v", got, art)
	}
	if _, err := s.Get("missing.mp3"); err != ErrNotFound {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestRegister_sameKeyOverwrites(t *testing.T) {
	s := newTestStore(t)
	writeArtifact(t, s, "dup.mp4", "first")
	second := writeArtifact(t, s, "dup.mp4", "second")
	got, err := s.Get("dup.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if !got.CreatedAt.Equal(second.CreatedAt) {
		t.Error("re-register should replace the entry")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestOpenArtifact_readsContent(t *testing.T) {
	s := newTestStore(t)
	writeArtifact(t, s, "clip.mp4", "payload")
	f, err := s.OpenArtifact("clip.mp4")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Errorf("content = %q", data)
	}
	if _, err := s.OpenArtifact("gone.mp4"); err != ErrNotFound {
		t.Errorf("OpenArtifact(gone) = %v, want ErrNotFound", err)
	}
}

func TestSweepOnce_agePolicy(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.mp4")
	fresh := filepath.Join(dir, "fresh.mp4")
	for _, p := range []string{old, fresh} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	if n := s.SweepOnce(time.Hour); n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old.mp4 should be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh.mp4 should be retained")
	}
	// retained entry is still retrievable
	if _, err := s.Get("fresh.mp4"); err != nil {
		t.Errorf("fresh entry lost: %v", err)
	}
	if _, err := s.Get("old.mp4"); err != ErrNotFound {
		t.Errorf("old entry should be evicted, got %v", err)
	}
}

func TestExpired_exactAgeRetained(t *testing.T) {
	t0 := time.Now()
	d := 10 * time.Minute
	if expired(t0, t0.Add(d), d) {
		t.Error("entry aged exactly maxAge must be retained")
	}
	if !expired(t0, t0.Add(d+time.Nanosecond), d) {
		t.Error("entry aged past maxAge must be evicted")
	}
	if expired(t0, t0.Add(d-time.Nanosecond), d) {
		t.Error("entry younger than maxAge must be retained")
	}
}

func TestSweepOnce_openHandleIsPinned(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "held.mp4")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatal(err)
	}
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	f, err := s.OpenArtifact("held.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if n := s.SweepOnce(time.Minute); n != 0 {
		t.Errorf("sweep removed an open artifact (removed=%d)", n)
	}
	f.Close()
	if n := s.SweepOnce(time.Minute); n != 1 {
		t.Errorf("removed = %d after close, want 1", n)
	}
}

func TestSweepOnce_skipsLiveScratch(t *testing.T) {
	s := newTestStore(t)
	scratch := s.Scratch("work", ".mp4")
	if err := os.WriteFile(scratch, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(scratch, past, past); err != nil {
		t.Fatal(err)
	}
	if n := s.SweepOnce(time.Minute); n != 0 {
		t.Errorf("sweep removed a live scratch file (removed=%d)", n)
	}
	s.DiscardScratch(scratch)
	if _, err := os.Stat(scratch); !os.IsNotExist(err) {
		t.Error("DiscardScratch should remove the file")
	}
}

func TestScratch_uniquePerRequest(t *testing.T) {
	s := newTestStore(t)
	const n = 32
	var mu sync.Mutex
	seen := make(map[string]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := s.Scratch("video", ".mp4")
			if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
				t.Errorf("write scratch: %v", err)
				return
			}
			mu.Lock()
			if seen[p] {
				t.Errorf("scratch path collision: %s", p)
			}
			seen[p] = true
			mu.Unlock()
			s.DiscardScratch(p)
		}()
	}
	wg.Wait()
	dirents, err := os.ReadDir(s.Root())
	if err != nil {
		t.Fatal(err)
	}
	for _, de := range dirents {
		if strings.HasPrefix(de.Name(), scratchPrefix) {
			t.Errorf("scratch file left behind: %s", de.Name())
		}
	}
}

func TestNew_rebuildAndStaleScratchCleanup(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "kept.mp4"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(dir, scratchPrefix+"leftover-deadbeef.mp4")
	if err := os.WriteFile(stale, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
	if _, err := s.Get("kept.mp4"); err != nil {
		t.Errorf("kept.mp4 should be indexed: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale scratch should be removed at startup")
	}
}

func TestDiscardScratch_missingFileIsQuiet(t *testing.T) {
	s := newTestStore(t)
	p := s.Scratch("never-written", ".mp4")
	s.DiscardScratch(p) // must not panic or error
}
