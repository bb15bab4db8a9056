package watch

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Event, 16)}
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.ch <- ev
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func newTestWatcher(t *testing.T) (*Watcher, afero.Fs, clockwork.FakeClock, *recorder) {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/data/app", 0755); err != nil {
		t.Fatal(err)
	}
	clock := clockwork.NewFakeClock()
	rec := newRecorder()
	return New("/data/app", fs, clock, rec.handle, nil), fs, clock, rec
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	w, fs, clock, rec := newTestWatcher(t)
	file := filepath.Join("/data/app", "notes.txt")
	if err := afero.WriteFile(fs, file, []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}

	w.handle(fsnotify.Event{Name: file, Op: fsnotify.Create})
	w.handle(fsnotify.Event{Name: file, Op: fsnotify.Write})
	w.handle(fsnotify.Event{Name: file, Op: fsnotify.Write})

	clock.Advance(DefaultDebounce / 2)
	if rec.count() != 0 {
		t.Fatal("write reported before the quiet period")
	}
	clock.Advance(DefaultDebounce)

	ev := rec.next(t)
	if ev.Path != file || ev.Op != OpWrite || ev.IsDir {
		t.Errorf("event = %+v", ev)
	}
	time.Sleep(20 * time.Millisecond)
	if rec.count() != 1 {
		t.Errorf("events = %d, want 1", rec.count())
	}
}

func TestWatcher_RemoveCancelsPendingWrite(t *testing.T) {
	w, fs, clock, rec := newTestWatcher(t)
	file := filepath.Join("/data/app", "tmp.txt")
	_ = afero.WriteFile(fs, file, []byte("x"), 0644)

	w.handle(fsnotify.Event{Name: file, Op: fsnotify.Write})
	_ = fs.Remove(file)
	w.handle(fsnotify.Event{Name: file, Op: fsnotify.Remove})

	ev := rec.next(t)
	if ev.Op != OpRemove || ev.Path != file {
		t.Errorf("event = %+v", ev)
	}
	clock.Advance(2 * DefaultDebounce)
	time.Sleep(20 * time.Millisecond)
	if rec.count() != 1 {
		t.Errorf("events = %d, want only the removal", rec.count())
	}
}

func TestWatcher_IgnoredPaths(t *testing.T) {
	w, fs, clock, rec := newTestWatcher(t)
	dir := filepath.Join("/data/app", "docs")
	file := filepath.Join(dir, "a.md")
	_ = fs.MkdirAll(dir, 0755)
	_ = afero.WriteFile(fs, file, []byte("x"), 0644)

	w.Ignore(dir)
	w.handle(fsnotify.Event{Name: file, Op: fsnotify.Write})
	w.handle(fsnotify.Event{Name: dir, Op: fsnotify.Remove})
	clock.Advance(2 * DefaultDebounce)
	time.Sleep(20 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("ignored paths reported %d events", rec.count())
	}

	clock.Advance(ignoreWindow)
	w.handle(fsnotify.Event{Name: file, Op: fsnotify.Remove})
	if ev := rec.next(t); ev.Path != file {
		t.Errorf("event after ignore window = %+v", ev)
	}
}

func TestWatcher_NewDirectory(t *testing.T) {
	w, fs, _, rec := newTestWatcher(t)
	dir := filepath.Join("/data/app", "photos")
	_ = fs.MkdirAll(dir, 0755)

	w.handle(fsnotify.Event{Name: dir, Op: fsnotify.Create})
	ev := rec.next(t)
	if !ev.IsDir || ev.Op != OpWrite || ev.Path != dir {
		t.Errorf("event = %+v", ev)
	}

	w.handle(fsnotify.Event{Name: "/data/app", Op: fsnotify.Write})
	w.handle(fsnotify.Event{Name: dir, Op: fsnotify.Chmod})
	time.Sleep(20 * time.Millisecond)
	if rec.count() != 1 {
		t.Errorf("events = %d, want 1", rec.count())
	}
}

func TestWatcher_StopDropsPending(t *testing.T) {
	w, fs, clock, rec := newTestWatcher(t)
	file := filepath.Join("/data/app", "late.txt")
	_ = afero.WriteFile(fs, file, []byte("x"), 0644)

	w.handle(fsnotify.Event{Name: file, Op: fsnotify.Write})
	w.Stop()
	w.Stop()
	clock.Advance(2 * DefaultDebounce)
	time.Sleep(20 * time.Millisecond)
	if rec.count() != 0 {
		t.Errorf("events after Stop = %d", rec.count())
	}
}
