// Package localfs wraps the local filesystem so writes and removals made
// through it are synchronized.
package localfs

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// Hooks receives completed local mutations below the sync root. Paths are
// absolute local paths.
type Hooks interface {
	FileWritten(path string)
	DirCreated(path string)
	Removed(path string, isDir bool)
}

// SyncFs is an afero.Fs that reports mutations below root to its hooks. A
// file counts as written when a handle opened for writing is closed.
type SyncFs struct {
	afero.Fs
	root  string
	hooks Hooks
}

var _ afero.Fs = (*SyncFs)(nil)

// New decorates base. Mutations outside root pass through silently.
func New(base afero.Fs, root string, hooks Hooks) *SyncFs {
	return &SyncFs{Fs: base, root: filepath.Clean(root), hooks: hooks}
}

func (s *SyncFs) Name() string {
	return "SyncFs"
}

// Root is the local directory being synchronized
func (s *SyncFs) Root() string {
	return s.root
}

func (s *SyncFs) inScope(name string) bool {
	name = filepath.Clean(name)
	return strings.HasPrefix(name, s.root+string(filepath.Separator))
}

func (s *SyncFs) Create(name string) (afero.File, error) {
	f, err := s.Fs.Create(name)
	if err != nil {
		return nil, err
	}
	return s.wrap(f, name, true), nil
}

func (s *SyncFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	f, err := s.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) == 0 {
		return f, nil
	}
	return s.wrap(f, name, flag&(os.O_CREATE|os.O_TRUNC) != 0), nil
}

func (s *SyncFs) Mkdir(name string, perm os.FileMode) error {
	if err := s.Fs.Mkdir(name, perm); err != nil {
		return err
	}
	if s.inScope(name) {
		s.hooks.DirCreated(filepath.Clean(name))
	}
	return nil
}

func (s *SyncFs) MkdirAll(name string, perm os.FileMode) error {
	var created []string
	for p := filepath.Clean(name); s.inScope(p); p = filepath.Dir(p) {
		if _, err := s.Fs.Stat(p); err == nil {
			break
		}
		created = append(created, p)
	}
	if err := s.Fs.MkdirAll(name, perm); err != nil {
		return err
	}
	// shallowest first so parents exist remotely before children
	for i := len(created) - 1; i >= 0; i-- {
		s.hooks.DirCreated(created[i])
	}
	return nil
}

func (s *SyncFs) Remove(name string) error {
	isDir := s.isDir(name)
	if err := s.Fs.Remove(name); err != nil {
		return err
	}
	if s.inScope(name) {
		s.hooks.Removed(filepath.Clean(name), isDir)
	}
	return nil
}

func (s *SyncFs) RemoveAll(name string) error {
	_, statErr := s.Fs.Stat(name)
	isDir := s.isDir(name)
	if err := s.Fs.RemoveAll(name); err != nil {
		return err
	}
	if statErr == nil && s.inScope(name) {
		s.hooks.Removed(filepath.Clean(name), isDir)
	}
	return nil
}

// Rename reports the old path as removed and the new one as written. A
// renamed directory reports every file below its new location.
func (s *SyncFs) Rename(oldname, newname string) error {
	isDir := s.isDir(oldname)
	if err := s.Fs.Rename(oldname, newname); err != nil {
		return err
	}
	if s.inScope(oldname) {
		s.hooks.Removed(filepath.Clean(oldname), isDir)
	}
	if !s.inScope(newname) {
		return nil
	}
	if !isDir {
		s.hooks.FileWritten(filepath.Clean(newname))
		return nil
	}
	return afero.Walk(s.Fs, newname, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			s.hooks.DirCreated(filepath.Clean(p))
		} else {
			s.hooks.FileWritten(filepath.Clean(p))
		}
		return nil
	})
}

func (s *SyncFs) isDir(name string) bool {
	info, err := s.Fs.Stat(name)
	return err == nil && info.IsDir()
}

func (s *SyncFs) wrap(f afero.File, name string, created bool) afero.File {
	if !s.inScope(name) {
		return f
	}
	return &syncFile{File: f, fs: s, path: filepath.Clean(name), dirty: created}
}

// syncFile reports itself on Close when it was created or modified
type syncFile struct {
	afero.File
	fs   *SyncFs
	path string

	mu     sync.Mutex
	dirty  bool
	closed bool
}

func (f *syncFile) touch() {
	f.mu.Lock()
	f.dirty = true
	f.mu.Unlock()
}

func (f *syncFile) Write(p []byte) (int, error) {
	n, err := f.File.Write(p)
	if n > 0 {
		f.touch()
	}
	return n, err
}

func (f *syncFile) WriteAt(p []byte, off int64) (int, error) {
	n, err := f.File.WriteAt(p, off)
	if n > 0 {
		f.touch()
	}
	return n, err
}

func (f *syncFile) WriteString(s string) (int, error) {
	n, err := f.File.WriteString(s)
	if n > 0 {
		f.touch()
	}
	return n, err
}

func (f *syncFile) Truncate(size int64) error {
	if err := f.File.Truncate(size); err != nil {
		return err
	}
	f.touch()
	return nil
}

func (f *syncFile) Close() error {
	err := f.File.Close()

	f.mu.Lock()
	notify := f.dirty && !f.closed && err == nil
	f.closed = true
	f.mu.Unlock()

	if notify {
		f.fs.hooks.FileWritten(f.path)
	}
	return err
}
