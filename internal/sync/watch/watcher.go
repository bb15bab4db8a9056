// Package watch reports files dropped into the local sync root by other
// processes.
package watch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dl-alexandre/gsyncfs/internal/logging"
	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// Op is the kind of a reported change
type Op int

const (
	OpWrite Op = iota
	OpRemove
)

func (o Op) String() string {
	if o == OpRemove {
		return "remove"
	}
	return "write"
}

// Event is a debounced change below the watched root. Path is absolute.
type Event struct {
	Path  string
	Op    Op
	IsDir bool
}

// Handler receives events on the watcher's goroutines
type Handler func(Event)

const (
	// DefaultDebounce is the quiet period before a write is reported
	DefaultDebounce = time.Second
	// ignoreWindow bounds how long a path stays suppressed after Ignore
	ignoreWindow = 3 * time.Second
)

// Watcher wraps fsnotify with per-path debouncing. Directories are watched
// recursively; writes are reported after DefaultDebounce of quiet, removals
// at once.
type Watcher struct {
	root     string
	fs       afero.Fs
	clock    clockwork.Clock
	debounce time.Duration
	handler  Handler
	logger   logging.Logger

	fsw     *fsnotify.Watcher
	stop    chan struct{}
	stopped chan struct{}

	mu      sync.Mutex
	timers  map[string]clockwork.Timer
	ignored map[string]time.Time
}

// New creates a watcher for root. fs is used to inspect changed paths and
// is normally the OS filesystem.
func New(root string, fs afero.Fs, clock clockwork.Clock, handler Handler, logger logging.Logger) *Watcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Watcher{
		root:     filepath.Clean(root),
		fs:       fs,
		clock:    clock,
		debounce: DefaultDebounce,
		handler:  handler,
		logger:   logger.With(logging.F("component", "watch")),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		timers:   make(map[string]clockwork.Timer),
		ignored:  make(map[string]time.Time),
	}
}

// Start watches root and every directory below it
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	if err := w.addTree(w.root); err != nil {
		_ = fsw.Close()
		return err
	}
	go w.loop()
	w.logger.Debug("Watching local sync root", logging.F("root", w.root))
	return nil
}

// Stop shuts the watcher down and drops pending writes
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
	}
	close(w.stop)

	w.mu.Lock()
	for key, t := range w.timers {
		t.Stop()
		delete(w.timers, key)
	}
	w.mu.Unlock()

	if w.fsw != nil {
		_ = w.fsw.Close()
		<-w.stopped
	}
}

// Ignore suppresses events for path, and everything below it, for a short
// window. Used before the sync engine itself writes or removes local files.
func (w *Watcher) Ignore(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := filepath.Clean(path)
	w.ignored[key] = w.clock.Now().Add(ignoreWindow)
	if t, ok := w.timers[key]; ok {
		t.Stop()
		delete(w.timers, key)
	}
}

func (w *Watcher) isIgnored(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clock.Now()
	for key, until := range w.ignored {
		if now.After(until) {
			delete(w.ignored, key)
			continue
		}
		if path == key || strings.HasPrefix(path, key+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) addTree(dir string) error {
	return afero.Walk(w.fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(info.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			w.logger.Warn("Failed to watch directory", logging.F("path", p), logging.F("error", err.Error()))
		}
		return nil
	})
}

func (w *Watcher) loop() {
	defer close(w.stopped)
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", logging.F("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if path == w.root || w.isIgnored(path) {
		return
	}

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.cancel(path)
		w.emit(Event{Path: path, Op: OpRemove})
		return
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	info, err := w.fs.Stat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		if ev.Has(fsnotify.Create) {
			if w.fsw != nil {
				if err := w.addTree(path); err != nil {
					w.logger.Warn("Failed to watch new directory", logging.F("path", path), logging.F("error", err.Error()))
				}
			}
			w.emit(Event{Path: path, Op: OpWrite, IsDir: true})
		}
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = w.clock.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		if w.isIgnored(path) {
			return
		}
		w.emit(Event{Path: path, Op: OpWrite})
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) emit(ev Event) {
	select {
	case <-w.stop:
		return
	default:
	}
	w.logger.Debug("Local change detected", logging.F("path", ev.Path), logging.F("op", ev.Op.String()))
	w.handler(ev)
}
