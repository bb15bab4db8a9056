// Package session holds the state of one running sync session.
package session

import (
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dl-alexandre/gsyncfs/internal/sync/conflict"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
)

// Session is created by the engine for every synchronized app directory
// and handed to the pipelines. AppPath is the cleaned sync root ("/app"),
// LocalDir its location on the local filesystem, RootID the remote
// container holding every app directory and AppID the remote app
// directory. Those are fixed after creation; policy, delay and connectivity
// are guarded.
type Session struct {
	Namespace string
	AppPath   string
	LocalDir  string
	RootID    string
	AppID     string

	mu     sync.RWMutex
	policy conflict.Policy
	delay  time.Duration
	online bool

	locks pathLocks
}

// New creates a session. appPath must already be cleaned with CleanAppPath.
func New(namespace, appPath, localDir, rootID, appID string, policy conflict.Policy) *Session {
	return &Session{
		Namespace: namespace,
		AppPath:   appPath,
		LocalDir:  localDir,
		RootID:    rootID,
		AppID:     appID,
		policy:    policy,
		online:    true,
		locks:     pathLocks{held: make(map[string]*pathLock)},
	}
}

// CleanAppPath normalizes a requested sync root to "/seg[/seg...]"
func CleanAppPath(p string) (string, error) {
	cleaned := path.Clean("/" + strings.TrimSpace(p))
	if cleaned == "/" {
		return "", utils.NewCLIError(utils.ErrCodeInvalidArgument, "sync root must name a directory").
			WithContext("path", p).
			Err()
	}
	return cleaned, nil
}

// AppName is the last segment of the app path
func (s *Session) AppName() string {
	return path.Base(s.AppPath)
}

// RelPath maps an absolute sync path ("/app/docs/a.txt") to its path
// relative to the app directory ("docs/a.txt"). Paths outside the app
// directory, and the app directory itself, fail with OUT_OF_SCOPE.
func (s *Session) RelPath(p string) (string, error) {
	cleaned := path.Clean("/" + p)
	prefix := s.AppPath + "/"
	if !strings.HasPrefix(cleaned, prefix) || len(cleaned) == len(prefix) {
		return "", utils.NewCLIError(utils.ErrCodeOutOfScope,
			"path is outside the sync root: "+p).
			WithContext("path", p).
			WithContext("syncRoot", s.AppPath).
			Err()
	}
	return strings.TrimPrefix(cleaned, prefix), nil
}

// SyncPath is the inverse of RelPath
func (s *Session) SyncPath(rel string) string {
	return path.Join(s.AppPath, rel)
}

// LocalPath maps a relative path to its location on the local filesystem
func (s *Session) LocalPath(rel string) string {
	return filepath.Join(s.LocalDir, filepath.FromSlash(rel))
}

// LocalRel maps a local filesystem path back to a relative path, reporting
// false for paths outside LocalDir
func (s *Session) LocalRel(local string) (string, bool) {
	rel, err := filepath.Rel(s.LocalDir, local)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (s *Session) Policy() conflict.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

func (s *Session) SetPolicy(p conflict.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = p
}

// Delay is the current poll interval
func (s *Session) Delay() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.delay
}

func (s *Session) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Online is the last observed connectivity state
func (s *Session) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// SetOnline records connectivity and reports whether it changed
func (s *Session) SetOnline(online bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.online != online
	s.online = online
	return changed
}

// Lock serializes work on one relative path across the push and pull
// pipelines. The returned function releases it.
func (s *Session) Lock(rel string) func() {
	return s.locks.lock(rel)
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

type pathLocks struct {
	mu   sync.Mutex
	held map[string]*pathLock
}

func (l *pathLocks) lock(key string) func() {
	l.mu.Lock()
	pl, ok := l.held[key]
	if !ok {
		pl = &pathLock{}
		l.held[key] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.held, key)
		}
		l.mu.Unlock()
	}
}
