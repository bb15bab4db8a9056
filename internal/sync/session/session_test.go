package session

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dl-alexandre/gsyncfs/internal/sync/conflict"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
)

func newTestSession() *Session {
	return New("sfs-test-app", "/app", filepath.FromSlash("/data/app"), "root", "app", conflict.PolicyLastWriteWin)
}

func TestSession_RelPath(t *testing.T) {
	s := newTestSession()

	tests := []struct {
		in      string
		want    string
		inScope bool
	}{
		{"/app/notes.txt", "notes.txt", true},
		{"/app/docs/a.md", "docs/a.md", true},
		{"app/notes.txt", "notes.txt", true},
		{"/app/../etc/passwd", "", false},
		{"/application/notes.txt", "", false},
		{"/other/notes.txt", "", false},
		{"/app", "", false},
		{"/app/", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := s.RelPath(tt.in)
			if !tt.inScope {
				if !utils.IsCode(err, utils.ErrCodeOutOfScope) {
					t.Fatalf("RelPath(%q) err = %v, want OUT_OF_SCOPE", tt.in, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("RelPath(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestSession_LocalMapping(t *testing.T) {
	s := newTestSession()

	local := s.LocalPath("docs/a.md")
	if local != filepath.FromSlash("/data/app/docs/a.md") {
		t.Errorf("LocalPath = %s", local)
	}
	if rel, ok := s.LocalRel(local); !ok || rel != "docs/a.md" {
		t.Errorf("LocalRel = %s, %v", rel, ok)
	}
	if _, ok := s.LocalRel(filepath.FromSlash("/data/other/x")); ok {
		t.Error("path outside LocalDir mapped")
	}
	if s.SyncPath("docs/a.md") != "/app/docs/a.md" {
		t.Errorf("SyncPath = %s", s.SyncPath("docs/a.md"))
	}
}

func TestCleanAppPath(t *testing.T) {
	if got, err := CleanAppPath("app/"); err != nil || got != "/app" {
		t.Errorf("CleanAppPath(app/) = %s, %v", got, err)
	}
	if _, err := CleanAppPath("/"); !utils.IsCode(err, utils.ErrCodeInvalidArgument) {
		t.Errorf("CleanAppPath(/) err = %v", err)
	}
}

func TestSession_MutableState(t *testing.T) {
	s := newTestSession()

	s.SetPolicy(conflict.PolicyManual)
	if s.Policy() != conflict.PolicyManual {
		t.Error("policy not stored")
	}
	s.SetDelay(2 * time.Second)
	if s.Delay() != 2*time.Second {
		t.Error("delay not stored")
	}
	if s.SetOnline(true) {
		t.Error("sessions start online")
	}
	if !s.SetOnline(false) || s.Online() {
		t.Error("offline transition not reported")
	}
}

func TestSession_LockSerializesPath(t *testing.T) {
	s := newTestSession()
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock("notes.txt")
			defer unlock()
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d", maxSeen)
	}
	if len(s.locks.held) != 0 {
		t.Errorf("locks leaked: %d", len(s.locks.held))
	}
}
