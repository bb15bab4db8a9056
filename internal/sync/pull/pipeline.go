// Package pull applies the remote change feed to the local copy.
package pull

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dl-alexandre/gsyncfs/internal/logging"
	"github.com/dl-alexandre/gsyncfs/internal/remote"
	"github.com/dl-alexandre/gsyncfs/internal/sync/conflict"
	"github.com/dl-alexandre/gsyncfs/internal/sync/events"
	"github.com/dl-alexandre/gsyncfs/internal/sync/exclude"
	"github.com/dl-alexandre/gsyncfs/internal/sync/index"
	"github.com/dl-alexandre/gsyncfs/internal/sync/scanner"
	"github.com/dl-alexandre/gsyncfs/internal/sync/session"
	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	"github.com/spf13/afero"
)

// Ignorer is told about local writes the pipeline is about to make so a
// filesystem watcher does not push them back
type Ignorer interface {
	Ignore(localPath string)
}

// Pipeline polls the change feed of one cache namespace
type Pipeline struct {
	store    remote.Store
	cache    *index.Cache
	bus      *events.Bus
	fs       afero.Fs
	matcher  *exclude.Matcher
	pageSize int
	logger   logging.Logger

	mu       sync.Mutex
	ignorer  Ignorer
	deferred []*types.Change
}

// NewPipeline wires a pull pipeline. fs must be the undecorated local
// filesystem so applied changes are not pushed again.
func NewPipeline(store remote.Store, cache *index.Cache, bus *events.Bus, fs afero.Fs, matcher *exclude.Matcher, pageSize int, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if pageSize <= 0 || pageSize > utils.MaxChangePageSize {
		pageSize = utils.MaxChangePageSize
	}
	return &Pipeline{
		store:    store,
		cache:    cache,
		bus:      bus,
		fs:       fs,
		matcher:  matcher,
		pageSize: pageSize,
		logger:   logger.With(logging.F("component", "pull")),
	}
}

// SetIgnorer registers the watcher to notify before local writes
func (p *Pipeline) SetIgnorer(ig Ignorer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ignorer = ig
}

// PollOnce fetches one page of the change feed starting at the persisted
// cursor and applies it. The cursor moves to one past the highest sequence
// seen before any change is applied, and stays put when the page is empty
// or the fetch fails. The returned count covers changes that altered local
// state; echoes of our own pushes and out of scope changes are not counted.
//
// Changes that fail with a retryable error are kept in memory and applied
// first on the next call.
func (p *Pipeline) PollOnce(ctx context.Context, sess *session.Session) (int, error) {
	cursor, err := p.cache.GetCursor(ctx)
	if err != nil {
		return 0, err
	}

	page, err := p.store.Changes(ctx, cursor, p.pageSize)
	if err != nil {
		p.logger.Warn("Change feed unavailable",
			logging.F("cursor", cursor),
			logging.F("code", utils.ErrorCode(err)),
			logging.F("error", err.Error()),
		)
		return 0, err
	}

	if len(page.Changes) > 0 {
		next := page.MaxSequence() + 1
		if next > cursor {
			if err := p.cache.SetCursor(ctx, next); err != nil {
				return 0, err
			}
		}
		p.logger.Debug("Fetched changes",
			logging.F("count", len(page.Changes)),
			logging.F("cursor", cursor),
			logging.F("next", next),
		)
	}

	p.mu.Lock()
	pending := append(p.deferred, page.Changes...)
	p.deferred = nil
	p.mu.Unlock()

	relevant := 0
	for i, ch := range pending {
		n, err := p.apply(ctx, sess, ch)
		if err != nil {
			if retryable(err) {
				p.mu.Lock()
				p.deferred = append(p.deferred, pending[i:]...)
				p.mu.Unlock()
				return relevant, err
			}
			p.logger.Error("Remote change not applied",
				logging.F("fileId", ch.FileID),
				logging.F("sequence", ch.Sequence),
				logging.F("code", utils.ErrorCode(err)),
				logging.F("error", err.Error()),
			)
			continue
		}
		relevant += n
	}
	return relevant, nil
}

// Deferred reports how many changes wait for a retry
func (p *Pipeline) Deferred() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.deferred)
}

// Reset drops deferred changes, used when the cache is cleared
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deferred = nil
}

func (p *Pipeline) apply(ctx context.Context, sess *session.Session, ch *types.Change) (int, error) {
	if ch.IsDeletion() || (ch.File != nil && ch.File.Trashed) {
		return p.applyDelete(ctx, sess, ch.FileID, false)
	}
	if ch.File == nil {
		return 0, nil
	}

	rel, parentID, ok, err := p.scope(ctx, sess, ch.File)
	if err != nil {
		return 0, err
	}
	if !ok {
		// possibly moved out of the sync root
		return p.applyDelete(ctx, sess, ch.FileID, true)
	}
	if p.matcher.IsExcluded(rel, ch.File.IsFolder()) {
		return 0, nil
	}
	if ch.File.IsFolder() {
		return p.applyFolder(ctx, sess, rel, parentID, ch.File)
	}
	if utils.IsWorkspaceMimeType(ch.File.MimeType) {
		p.logger.Debug("Skipping native document", logging.F("path", rel), logging.F("mimeType", ch.File.MimeType))
		return 0, nil
	}
	return p.applyFile(ctx, sess, rel, parentID, ch.File)
}

// scope maps a remote object to its path relative to the sync root and the
// parent it was found under. Only objects whose parent is the app directory
// or a directory already tracked below it are in scope.
func (p *Pipeline) scope(ctx context.Context, sess *session.Session, f *types.DriveFile) (string, string, bool, error) {
	if !validName(f.Name) {
		return "", "", false, nil
	}
	for _, parent := range f.Parents {
		if parent == sess.AppID {
			return f.Name, parent, true, nil
		}
		dir, err := p.cache.FindByRemoteID(ctx, parent)
		if err != nil {
			return "", "", false, err
		}
		if dir != nil && dir.IsDir && dir.LocalPath != "" {
			return dir.LocalPath + "/" + f.Name, parent, true, nil
		}
	}
	return "", "", false, nil
}

func (p *Pipeline) applyFolder(ctx context.Context, sess *session.Session, rel, parentID string, f *types.DriveFile) (int, error) {
	local, ok := p.localPath(sess, rel)
	if !ok {
		return 0, nil
	}
	unlock := sess.Lock(rel)
	defer unlock()

	prior, err := p.cache.FindByRemoteID(ctx, f.ID)
	if err != nil {
		return 0, err
	}
	if prior != nil && prior.IsDir && prior.LocalPath == rel {
		return 0, nil
	}
	if prior != nil && prior.IsDir && prior.LocalPath != "" {
		// renamed or moved: drop the old tree, its files come back with
		// their own changes
		if _, err := p.removeTree(ctx, sess, *prior); err != nil {
			return 0, err
		}
	}

	if err := p.fs.MkdirAll(local, 0755); err != nil {
		return 0, localError(err, rel)
	}
	if err := p.cache.PutDir(ctx, parentID, f.Name, rel, f.ID, f.ModifiedTime); err != nil {
		return 0, err
	}
	p.logger.Info("Pulled directory", logging.F("path", rel), logging.F("remoteId", f.ID))
	return 1, nil
}

func (p *Pipeline) applyFile(ctx context.Context, sess *session.Session, rel, parentID string, f *types.DriveFile) (int, error) {
	local, ok := p.localPath(sess, rel)
	if !ok {
		return 0, nil
	}
	unlock := sess.Lock(rel)
	defer unlock()

	relevant := 0
	prior, err := p.cache.FindByRemoteID(ctx, f.ID)
	if err != nil {
		return 0, err
	}
	if prior != nil && !prior.IsDir && prior.Path != rel {
		// renamed remotely
		if err := p.removeFile(ctx, sess, *prior); err != nil {
			return 0, err
		}
		relevant++
	}

	cached, err := p.cache.Get(ctx, rel)
	if err != nil {
		return relevant, err
	}

	if cached != nil && cached.RemoteID == f.ID && cached.LastModified == f.ModifiedTime {
		p.logger.Debug("Ignoring echoed change", logging.F("path", rel), logging.F("modified", f.ModifiedTime))
		return relevant, nil
	}

	status := types.SyncStatusNA
	if cached != nil {
		status = cached.SyncStatus
	}
	switch conflict.Decide(sess.Policy(), status) {
	case conflict.DecisionKeepConflicting:
		return relevant + 1, nil
	case conflict.DecisionMarkConflicting:
		if err := p.cache.SetStatus(ctx, rel, types.SyncStatusConflicting); err != nil {
			return relevant, err
		}
		p.logger.Warn("Remote change conflicts with a local edit",
			logging.F("path", rel),
			logging.F("remoteId", f.ID),
		)
		p.publish(sess, rel, types.SyncStatusConflicting, types.ActionUpdated)
		return relevant + 1, nil
	}

	if cached != nil && cached.SyncStatus == types.SyncStatusSynced &&
		f.MD5Checksum != "" && f.MD5Checksum == cached.ContentHash {
		// metadata only change, nothing to download
		entry := *cached
		entry.RemoteID = f.ID
		entry.LastModified = f.ModifiedTime
		return relevant, p.cache.Put(ctx, entry)
	}

	content, err := p.store.Download(ctx, f.ID)
	if err != nil {
		return relevant, err
	}

	if err := p.fs.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return relevant, localError(err, rel)
	}
	p.ignore(local)
	if err := afero.WriteFile(p.fs, local, content, 0644); err != nil {
		return relevant, localError(err, rel)
	}

	entry := index.CacheEntry{
		Path:         rel,
		RemoteID:     f.ID,
		ParentID:     parentID,
		LastModified: f.ModifiedTime,
		SyncStatus:   types.SyncStatusSynced,
		ContentHash:  scanner.HashBytes(content),
	}
	if err := p.cache.Put(ctx, entry); err != nil {
		return relevant, err
	}

	action := types.ActionUpdated
	if cached == nil {
		action = types.ActionAdded
	}
	p.logger.Info("Pulled file",
		logging.F("path", rel),
		logging.F("action", string(action)),
		logging.F("remoteId", f.ID),
		logging.F("bytes", len(content)),
	)
	p.publish(sess, rel, types.SyncStatusSynced, action)
	return relevant + 1, nil
}

// applyDelete removes the local counterpart of a deleted remote object.
// Objects that were never synchronized are ignored. movedOut marks an
// object that still exists outside the sync root.
func (p *Pipeline) applyDelete(ctx context.Context, sess *session.Session, remoteID string, movedOut bool) (int, error) {
	entry, err := p.cache.FindByRemoteID(ctx, remoteID)
	if err != nil {
		return 0, err
	}
	if entry == nil {
		return 0, nil
	}

	if entry.IsDir {
		if entry.LocalPath == "" {
			if movedOut {
				return 0, nil
			}
			// the app directory or the container above it
			p.logger.Warn("Remote sync root removed", logging.F("remoteId", remoteID))
			return 0, p.cache.RemoveEntry(ctx, *entry)
		}
		unlock := sess.Lock(entry.LocalPath)
		defer unlock()
		return p.removeTree(ctx, sess, *entry)
	}

	unlock := sess.Lock(entry.Path)
	defer unlock()
	if err := p.removeFile(ctx, sess, *entry); err != nil {
		return 0, err
	}
	return 1, nil
}

func (p *Pipeline) removeFile(ctx context.Context, sess *session.Session, entry index.CacheEntry) error {
	if local, ok := p.localPath(sess, entry.Path); ok {
		p.ignore(local)
		if err := p.fs.Remove(local); err != nil && !os.IsNotExist(err) {
			return localError(err, entry.Path)
		}
	}
	if err := p.cache.Remove(ctx, entry.Path); err != nil {
		return err
	}
	p.logger.Info("Removed local file", logging.F("path", entry.Path), logging.F("remoteId", entry.RemoteID))
	p.publish(sess, entry.Path, types.SyncStatusNA, types.ActionDeleted)
	return nil
}

// removeTree deletes a local directory and every cache entry below it
func (p *Pipeline) removeTree(ctx context.Context, sess *session.Session, dir index.CacheEntry) (int, error) {
	prefix := dir.LocalPath + "/"

	files, err := p.cache.List(ctx)
	if err != nil {
		return 0, err
	}
	var removed []string
	for _, e := range files {
		if !strings.HasPrefix(e.Path, prefix) {
			continue
		}
		if err := p.cache.Remove(ctx, e.Path); err != nil {
			return 0, err
		}
		removed = append(removed, e.Path)
	}

	dirs, err := p.cache.ListDirs(ctx)
	if err != nil {
		return 0, err
	}
	for _, d := range dirs {
		if d.LocalPath == dir.LocalPath || strings.HasPrefix(d.LocalPath, prefix) {
			if err := p.cache.RemoveEntry(ctx, d); err != nil {
				return 0, err
			}
		}
	}

	if local, ok := p.localPath(sess, dir.LocalPath); ok {
		p.ignore(local)
		if err := p.fs.RemoveAll(local); err != nil {
			return 0, localError(err, dir.LocalPath)
		}
	}
	p.logger.Info("Removed local directory",
		logging.F("path", dir.LocalPath),
		logging.F("files", len(removed)),
	)
	for _, rel := range removed {
		p.publish(sess, rel, types.SyncStatusNA, types.ActionDeleted)
	}
	return len(removed) + 1, nil
}

// validName reports whether a remote title can be used as one local path
// segment
func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.Contains(name, "/")
}

// localPath maps rel to the local filesystem and reports false when the
// result would not lie strictly inside the local sync root
func (p *Pipeline) localPath(sess *session.Session, rel string) (string, bool) {
	local := sess.LocalPath(rel)
	back, ok := sess.LocalRel(local)
	if !ok || back != rel {
		p.logger.Warn("Remote change escapes the sync root, skipped",
			logging.F("path", rel),
			logging.F("localDir", sess.LocalDir),
		)
		return "", false
	}
	return local, true
}

func (p *Pipeline) publish(sess *session.Session, rel string, status types.SyncStatus, action types.SyncAction) {
	p.bus.PublishFileStatus(types.FileStatusEvent{
		Path:      path.Join(sess.AppPath, rel),
		Status:    status,
		Action:    action,
		Direction: types.DirectionRemoteToLocal,
	})
}

func (p *Pipeline) ignore(local string) {
	p.mu.Lock()
	ig := p.ignorer
	p.mu.Unlock()
	if ig != nil {
		ig.Ignore(local)
	}
}

func retryable(err error) bool {
	switch utils.ErrorCode(err) {
	case utils.ErrCodeTransportFailed, utils.ErrCodeRateLimited, utils.ErrCodeCancelled, utils.ErrCodeAuthFailed:
		return true
	}
	return utils.IsRetryable(err)
}

func localError(err error, rel string) error {
	return utils.NewCLIError(utils.ErrCodeInternalError, err.Error()).
		WithContext("path", rel).
		Err()
}
