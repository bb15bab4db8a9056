// Package push uploads local changes to the remote store.
package push

import (
	"context"
	"os"
	"path"
	"strings"

	"github.com/dl-alexandre/gsyncfs/internal/logging"
	"github.com/dl-alexandre/gsyncfs/internal/remote"
	"github.com/dl-alexandre/gsyncfs/internal/resolver"
	"github.com/dl-alexandre/gsyncfs/internal/sync/events"
	"github.com/dl-alexandre/gsyncfs/internal/sync/exclude"
	"github.com/dl-alexandre/gsyncfs/internal/sync/index"
	"github.com/dl-alexandre/gsyncfs/internal/sync/scanner"
	"github.com/dl-alexandre/gsyncfs/internal/sync/session"
	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	"github.com/spf13/afero"
)

// Entry is a local file or directory to synchronize, addressed by its
// absolute sync path ("/app/docs/a.txt")
type Entry struct {
	Path  string
	IsDir bool
}

// Result describes what a push or delete did. Skipped is set when no
// remote mutation was needed; Steps lists the states visited.
type Result struct {
	Path     string
	Action   types.SyncAction
	RemoteID string
	Skipped  bool
	Excluded bool
	Steps    []Step
	Outcome  Outcome
}

// Pipeline runs pushes and deletes for one session at a time
type Pipeline struct {
	store    remote.Store
	cache    *index.Cache
	resolver *resolver.PathResolver
	bus      *events.Bus
	fs       afero.Fs
	matcher  *exclude.Matcher
	logger   logging.Logger
}

// NewPipeline wires a pipeline. fs must be the undecorated local filesystem.
func NewPipeline(store remote.Store, cache *index.Cache, res *resolver.PathResolver, bus *events.Bus, fs afero.Fs, matcher *exclude.Matcher, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Pipeline{
		store:    store,
		cache:    cache,
		resolver: res,
		bus:      bus,
		fs:       fs,
		matcher:  matcher,
		logger:   logger.With(logging.F("component", "push")),
	}
}

type pushState struct {
	entry      Entry
	rel        string
	name       string
	parentID   string
	cached     *index.CacheEntry
	prevStatus types.SyncStatus
	content    []byte
	hash       string
	match      *types.DriveFile
	targetID   string
	fromCache  bool
	result     *types.DriveFile
	action     types.SyncAction
	skipped    bool
	deleted    []string
}

// Push uploads a local file, or ensures a local directory exists remotely.
// Paths outside the session's app directory fail with OUT_OF_SCOPE before
// any remote call.
func (p *Pipeline) Push(ctx context.Context, sess *session.Session, entry Entry) (Result, error) {
	rel, err := sess.RelPath(entry.Path)
	if err != nil {
		return Result{Path: entry.Path, Outcome: OutcomeFatal}, err
	}
	if p.matcher.IsExcluded(rel, entry.IsDir) {
		return Result{Path: entry.Path, Skipped: true, Excluded: true}, nil
	}

	unlock := sess.Lock(rel)
	defer unlock()

	st := &pushState{entry: entry, rel: rel, name: path.Base(rel)}
	return p.run(ctx, sess, st, StepStart)
}

// Delete removes the remote counterpart of a locally deleted file or
// directory. Entries that are not SYNCED are never deleted remotely.
func (p *Pipeline) Delete(ctx context.Context, sess *session.Session, entry Entry) (Result, error) {
	rel, err := sess.RelPath(entry.Path)
	if err != nil {
		return Result{Path: entry.Path, Outcome: OutcomeFatal}, err
	}
	if p.matcher.IsExcluded(rel, entry.IsDir) {
		return Result{Path: entry.Path, Skipped: true, Excluded: true}, nil
	}

	unlock := sess.Lock(rel)
	defer unlock()

	st := &pushState{entry: entry, rel: rel, name: path.Base(rel), action: types.ActionDeleted}
	return p.run(ctx, sess, st, StepResolveRemote)
}

// Reconcile finishes the work a PENDING cache entry stands for: the local
// file is pushed if it still exists, otherwise the remote copy is deleted.
func (p *Pipeline) Reconcile(ctx context.Context, sess *session.Session, entry index.CacheEntry) (Result, error) {
	local := sess.LocalPath(entry.Path)
	if _, err := p.fs.Stat(local); err == nil {
		return p.Push(ctx, sess, Entry{Path: sess.SyncPath(entry.Path)})
	} else if !os.IsNotExist(err) {
		return Result{Path: sess.SyncPath(entry.Path), Outcome: OutcomeFatal}, err
	}

	unlock := sess.Lock(entry.Path)
	defer unlock()

	st := &pushState{
		entry:  Entry{Path: sess.SyncPath(entry.Path)},
		rel:    entry.Path,
		name:   path.Base(entry.Path),
		action: types.ActionDeleted,
		cached: &entry,
	}
	if entry.RemoteID == "" {
		if err := p.cache.Remove(ctx, entry.Path); err != nil {
			return Result{Path: st.entry.Path, Outcome: OutcomeFatal}, err
		}
		return Result{Path: st.entry.Path, Skipped: true}, nil
	}
	st.targetID = entry.RemoteID
	return p.run(ctx, sess, st, StepDeleteRemote)
}

func (p *Pipeline) run(ctx context.Context, sess *session.Session, st *pushState, first Step) (Result, error) {
	res := Result{Path: st.entry.Path}
	for step := first; step != StepDone; {
		res.Steps = append(res.Steps, step)
		out := p.step(ctx, sess, st, step)
		if out.err != nil {
			res.Outcome = out.outcome
			p.logger.Warn("Push aborted",
				logging.F("path", st.rel),
				logging.F("step", string(step)),
				logging.F("outcome", out.outcome.String()),
				logging.F("error", out.err.Error()),
			)
			return res, out.err
		}
		p.logger.Debug("Push step", logging.F("path", st.rel), logging.F("step", string(step)), logging.F("next", string(out.next)))
		step = out.next
	}
	res.Action = st.action
	res.Skipped = st.skipped
	if st.result != nil {
		res.RemoteID = st.result.ID
	} else if st.targetID != "" {
		res.RemoteID = st.targetID
	}
	return res, nil
}

func (p *Pipeline) step(ctx context.Context, sess *session.Session, st *pushState, step Step) stepResult {
	switch step {
	case StepStart:
		return p.start(ctx, sess, st)
	case StepResolveParent:
		return p.resolveParent(ctx, sess, st)
	case StepEnsureRemote:
		if _, err := p.resolver.ResolvePath(ctx, sess.AppID, st.rel, true); err != nil {
			return failed(err)
		}
		return next(StepDone)
	case StepCheckRemote:
		return p.checkRemote(ctx, st)
	case StepUpload:
		created, err := p.store.CreateFile(ctx, st.name, st.parentID, st.content)
		if err != nil {
			return failed(err)
		}
		st.result = created
		st.action = types.ActionAdded
		return next(StepCacheUpdate)
	case StepUpdate:
		updated, err := p.store.UpdateFile(ctx, st.targetID, st.content)
		if err != nil {
			if st.fromCache && utils.IsNotFound(err) {
				// the cached object is gone remotely, recreate it
				return next(StepUpload)
			}
			return failed(err)
		}
		st.result = updated
		st.action = types.ActionUpdated
		return next(StepCacheUpdate)
	case StepSkip:
		st.result = st.match
		st.skipped = true
		st.action = types.ActionUpdated
		return next(StepCacheUpdate)
	case StepResolveRemote:
		return p.resolveRemote(ctx, sess, st)
	case StepDeleteRemote:
		return p.deleteRemote(ctx, sess, st)
	case StepCacheUpdate:
		return p.cacheUpdate(ctx, st)
	case StepNotify:
		p.notify(sess, st)
		return next(StepDone)
	}
	return failed(utils.NewCLIError(utils.ErrCodeInternalError, "unknown push step: "+string(step)).Err())
}

func (p *Pipeline) start(ctx context.Context, sess *session.Session, st *pushState) stepResult {
	if st.entry.IsDir {
		return next(StepResolveParent)
	}

	content, err := afero.ReadFile(p.fs, sess.LocalPath(st.rel))
	if err != nil {
		if os.IsNotExist(err) {
			return failed(utils.NewCLIError(utils.ErrCodeNotFound, "local file vanished: "+st.rel).
				WithContext("path", st.rel).Err())
		}
		return failed(utils.NewCLIError(utils.ErrCodeInternalError, err.Error()).WithContext("path", st.rel).Err())
	}
	st.content = content
	st.hash = scanner.HashBytes(content)

	cached, err := p.cache.Get(ctx, st.rel)
	if err != nil {
		return failed(err)
	}
	st.cached = cached
	if cached != nil {
		st.prevStatus = cached.SyncStatus
	}

	if st.prevStatus != types.SyncStatusConflicting {
		pending := index.CacheEntry{Path: st.rel, SyncStatus: types.SyncStatusPending}
		if cached != nil {
			pending = *cached
			pending.SyncStatus = types.SyncStatusPending
		}
		if err := p.cache.Put(ctx, pending); err != nil {
			return failed(err)
		}
	}
	return next(StepResolveParent)
}

func (p *Pipeline) resolveParent(ctx context.Context, sess *session.Session, st *pushState) stepResult {
	parentID, err := p.resolver.ResolvePath(ctx, sess.AppID, parentDir(st.rel), true)
	if err != nil {
		return failed(err)
	}
	st.parentID = parentID
	if st.entry.IsDir {
		return next(StepEnsureRemote)
	}
	return next(StepCheckRemote)
}

func (p *Pipeline) checkRemote(ctx context.Context, st *pushState) stepResult {
	matches, err := p.store.Query(ctx, st.name, st.parentID, false)
	if err != nil {
		return failed(err)
	}

	cachedID := ""
	if st.cached != nil {
		cachedID = st.cached.RemoteID
	}

	switch len(matches) {
	case 0:
		if cachedID != "" {
			st.targetID = cachedID
			st.fromCache = true
			return next(StepUpdate)
		}
		return next(StepUpload)
	case 1:
		m := matches[0]
		st.match = m
		if (cachedID == "" || cachedID == m.ID) && p.sameContent(st, m) {
			return next(StepSkip)
		}
		if cachedID != "" && cachedID != m.ID {
			p.logger.Warn("Remote object replaced, updating the one found by name",
				logging.F("path", st.rel),
				logging.F("cachedId", cachedID),
				logging.F("remoteId", m.ID),
			)
		}
		st.targetID = m.ID
		return next(StepUpdate)
	default:
		return stepResult{outcome: OutcomeFatal, err: utils.NewCLIError(utils.ErrCodeAmbiguousResult,
			"multiple remote files named "+st.name).
			WithContext("path", st.rel).
			WithContext("parentId", st.parentID).
			WithContext("matchCount", len(matches)).
			Err()}
	}
}

// sameContent compares checksums, falling back to the cached modification
// time when the remote reports none
func (p *Pipeline) sameContent(st *pushState, m *types.DriveFile) bool {
	if m.MD5Checksum != "" {
		return m.MD5Checksum == st.hash
	}
	return st.cached != nil &&
		st.cached.LastModified == m.ModifiedTime &&
		st.cached.ContentHash == st.hash
}

func (p *Pipeline) resolveRemote(ctx context.Context, sess *session.Session, st *pushState) stepResult {
	if st.entry.IsDir {
		parentID, err := p.resolver.ResolvePath(ctx, sess.AppID, parentDir(st.rel), false)
		if utils.IsNotFound(err) {
			return p.forgetTree(ctx, sess, st)
		}
		if err != nil {
			return failed(err)
		}
		st.parentID = parentID
		id, err := p.resolver.Resolve(ctx, st.name, parentID, false)
		if utils.IsNotFound(err) {
			return p.forgetTree(ctx, sess, st)
		}
		if err != nil {
			return failed(err)
		}
		st.targetID = id
		return next(StepDeleteRemote)
	}

	cached, err := p.cache.Get(ctx, st.rel)
	if err != nil {
		return failed(err)
	}
	st.cached = cached
	if cached == nil {
		st.skipped = true
		return next(StepDone)
	}
	if cached.SyncStatus != types.SyncStatusSynced {
		p.logger.Debug("Skipping remote delete of unsynced entry",
			logging.F("path", st.rel),
			logging.F("status", cached.SyncStatus.String()),
		)
		st.skipped = true
		if cached.RemoteID == "" {
			if err := p.cache.Remove(ctx, st.rel); err != nil {
				return failed(err)
			}
		}
		return next(StepDone)
	}
	st.targetID = cached.RemoteID
	return next(StepDeleteRemote)
}

func (p *Pipeline) deleteRemote(ctx context.Context, sess *session.Session, st *pushState) stepResult {
	if err := p.store.Delete(ctx, st.targetID); err != nil && !utils.IsNotFound(err) {
		return failed(err)
	}
	if st.entry.IsDir {
		if err := p.resolver.Forget(ctx, st.parentID, st.name); err != nil {
			return failed(err)
		}
		return p.forgetTree(ctx, sess, st)
	}
	return next(StepCacheUpdate)
}

// forgetTree drops every cached entry below a deleted directory
func (p *Pipeline) forgetTree(ctx context.Context, sess *session.Session, st *pushState) stepResult {
	prefix := st.rel + "/"

	entries, err := p.cache.List(ctx)
	if err != nil {
		return failed(err)
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Path, prefix) {
			continue
		}
		if err := p.cache.Remove(ctx, e.Path); err != nil {
			return failed(err)
		}
		st.deleted = append(st.deleted, e.Path)
	}

	dirs, err := p.cache.ListDirs(ctx)
	if err != nil {
		return failed(err)
	}
	for _, d := range dirs {
		if d.LocalPath == st.rel || strings.HasPrefix(d.LocalPath, prefix) {
			if err := p.cache.RemoveEntry(ctx, d); err != nil {
				return failed(err)
			}
		}
	}
	if st.targetID == "" {
		st.skipped = true
	}
	return next(StepNotify)
}

func (p *Pipeline) cacheUpdate(ctx context.Context, st *pushState) stepResult {
	if st.action == types.ActionDeleted {
		if err := p.cache.Remove(ctx, st.rel); err != nil {
			return failed(err)
		}
		return next(StepNotify)
	}

	entry := index.CacheEntry{
		Path:         st.rel,
		RemoteID:     st.result.ID,
		ParentID:     st.parentID,
		LastModified: st.result.ModifiedTime,
		SyncStatus:   types.SyncStatusSynced,
		ContentHash:  st.hash,
	}
	if err := p.cache.Put(ctx, entry); err != nil {
		return failed(err)
	}
	if !st.skipped {
		p.logger.Info("Pushed file",
			logging.F("path", st.rel),
			logging.F("action", string(st.action)),
			logging.F("remoteId", st.result.ID),
		)
	}
	return next(StepNotify)
}

func (p *Pipeline) notify(sess *session.Session, st *pushState) {
	if st.action == types.ActionDeleted {
		paths := st.deleted
		if !st.entry.IsDir {
			paths = []string{st.rel}
		}
		for _, rel := range paths {
			p.bus.PublishFileStatus(types.FileStatusEvent{
				Path:      sess.SyncPath(rel),
				Status:    types.SyncStatusNA,
				Action:    types.ActionDeleted,
				Direction: types.DirectionLocalToRemote,
			})
		}
		return
	}
	// a skip only changes what observers see when it clears a stale status
	if st.skipped && st.prevStatus == types.SyncStatusSynced {
		return
	}
	p.bus.PublishFileStatus(types.FileStatusEvent{
		Path:      sess.SyncPath(st.rel),
		Status:    types.SyncStatusSynced,
		Action:    st.action,
		Direction: types.DirectionLocalToRemote,
	})
}

func parentDir(rel string) string {
	dir := path.Dir(rel)
	if dir == "." {
		return ""
	}
	return dir
}
