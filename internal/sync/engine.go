package sync

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	stdsync "sync"
	"time"

	"github.com/dl-alexandre/gsyncfs/internal/config"
	"github.com/dl-alexandre/gsyncfs/internal/logging"
	"github.com/dl-alexandre/gsyncfs/internal/remote"
	"github.com/dl-alexandre/gsyncfs/internal/resolver"
	"github.com/dl-alexandre/gsyncfs/internal/sync/conflict"
	"github.com/dl-alexandre/gsyncfs/internal/sync/events"
	"github.com/dl-alexandre/gsyncfs/internal/sync/exclude"
	"github.com/dl-alexandre/gsyncfs/internal/sync/index"
	"github.com/dl-alexandre/gsyncfs/internal/sync/localfs"
	"github.com/dl-alexandre/gsyncfs/internal/sync/netstate"
	"github.com/dl-alexandre/gsyncfs/internal/sync/pull"
	"github.com/dl-alexandre/gsyncfs/internal/sync/push"
	"github.com/dl-alexandre/gsyncfs/internal/sync/scanner"
	"github.com/dl-alexandre/gsyncfs/internal/sync/scheduler"
	"github.com/dl-alexandre/gsyncfs/internal/sync/session"
	"github.com/dl-alexandre/gsyncfs/internal/sync/watch"
	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// Options configure an Engine. Fs is the local filesystem the synchronized
// tree lives on; Watch only takes effect when it is the OS filesystem.
type Options struct {
	RootDirectoryName string
	LocalRoot         string
	ConflictPolicy    conflict.Policy
	Poll              scheduler.Config
	ChangePageSize    int
	ProbeInterval     time.Duration
	Watch             bool
	ExcludePatterns   []string
	QueueSize         int
	Fs                afero.Fs
	Clock             clockwork.Clock
}

// DefaultOptions returns options with the built-in defaults
func DefaultOptions() Options {
	return Options{
		RootDirectoryName: utils.DefaultRootDirectoryName,
		ConflictPolicy:    conflict.PolicyLastWriteWin,
		Poll:              scheduler.DefaultConfig(),
		ChangePageSize:    utils.DefaultChangePageSize,
		ProbeInterval:     30 * time.Second,
		Watch:             true,
		QueueSize:         256,
	}
}

// OptionsFromConfig maps the application configuration onto engine options
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.RootDirectoryName = cfg.RootDirectoryName
	opts.LocalRoot = cfg.LocalRoot
	opts.ConflictPolicy = cfg.ConflictPolicy
	opts.Poll = scheduler.FromMillis(cfg.InitialPollDelayMs, cfg.MaxPollDelayMs, cfg.OfflinePollDelayMs)
	opts.ChangePageSize = cfg.ChangePageSize
	opts.ProbeInterval = time.Duration(cfg.ProbeIntervalSec) * time.Second
	opts.Watch = cfg.WatchLocal
	opts.ExcludePatterns = cfg.ExcludePatterns
	return opts
}

// Engine keeps one app directory synchronized between the local filesystem
// and the remote store
type Engine struct {
	store  remote.Store
	db     *index.DB
	opts   Options
	bus    *events.Bus
	logger logging.Logger

	// lifeMu serializes session start, reset and close
	lifeMu stdsync.Mutex

	mu     stdsync.Mutex
	policy conflict.Policy
	active *runtime
	closed bool

	statusMu stdsync.Mutex
	status   types.ServiceStatus
}

// runtime is everything started for the active session
type runtime struct {
	sess    *session.Session
	cache   *index.Cache
	base    afero.Fs
	matcher *exclude.Matcher
	push    *push.Pipeline
	pull    *pull.Pipeline
	queue   *push.Queue
	sched   *scheduler.Scheduler
	monitor *netstate.Monitor
	watcher *watch.Watcher
	fs      *localfs.SyncFs
	cancel  context.CancelFunc
	pollMu  stdsync.Mutex

	mu       stdsync.Mutex
	stopped  bool
	catchUps stdsync.WaitGroup
}

// NewEngine creates an engine. The engine owns db and closes it on Close.
func NewEngine(store remote.Store, db *index.DB, opts Options, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.RootDirectoryName == "" {
		opts.RootDirectoryName = utils.DefaultRootDirectoryName
	}
	if opts.ConflictPolicy == "" {
		opts.ConflictPolicy = conflict.PolicyLastWriteWin
	}
	if opts.Poll.Initial <= 0 {
		opts.Poll = scheduler.DefaultConfig()
	}
	if opts.ChangePageSize <= 0 {
		opts.ChangePageSize = utils.DefaultChangePageSize
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 30 * time.Second
	}
	logger = logger.With(logging.F("component", "engine"))
	return &Engine{
		store:  store,
		db:     db,
		opts:   opts,
		bus:    events.NewBus(logger),
		logger: logger,
		policy: opts.ConflictPolicy,
		status: types.ServiceStatus{State: types.ServiceStateInitializing},
	}
}

// RequestSync starts synchronizing appPath ("/app"). The remote container
// and app directory are resolved, created when missing, before it returns.
// Requesting the active app path again returns the running session.
func (e *Engine) RequestSync(ctx context.Context, appPath string) (*session.Session, error) {
	cleaned, err := session.CleanAppPath(appPath)
	if err != nil {
		return nil, err
	}

	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	e.mu.Lock()
	closed, active := e.closed, e.active
	e.mu.Unlock()
	if closed {
		return nil, utils.NewCLIError(utils.ErrCodeCancelled, "sync engine closed").Err()
	}
	if active != nil {
		if active.sess.AppPath == cleaned {
			return active.sess, nil
		}
		return nil, utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"another app directory is already synchronized: "+active.sess.AppPath).
			WithContext("requested", cleaned).
			Err()
	}
	return e.activate(ctx, cleaned)
}

// activate starts a runtime for appPath and makes it the active one.
// Caller holds lifeMu.
func (e *Engine) activate(ctx context.Context, appPath string) (*session.Session, error) {
	rt, err := e.start(ctx, appPath)
	if err != nil {
		e.failStatus(err)
		return nil, err
	}

	e.mu.Lock()
	e.active = rt
	e.mu.Unlock()
	e.setStatus(types.ServiceStateRunning, "")
	return rt.sess, nil
}

func (e *Engine) start(ctx context.Context, appPath string) (*runtime, error) {
	e.setStatus(types.ServiceStateInitializing, "resolving "+appPath)

	installID, err := e.db.InstallationID(ctx)
	if err != nil {
		return nil, err
	}
	namespace := index.Namespace(installID, strings.ReplaceAll(strings.TrimPrefix(appPath, "/"), "/", "_"))
	cache := e.db.Cache(namespace)
	res := resolver.NewPathResolver(e.store, cache, e.logger)

	rootID, err := res.Resolve(ctx, e.opts.RootDirectoryName, "", true)
	if err != nil {
		return nil, err
	}
	appID := rootID
	for _, segment := range resolver.SplitPath(appPath) {
		if appID, err = res.Resolve(ctx, segment, appID, true); err != nil {
			return nil, err
		}
	}

	policy := e.GetConflictResolutionPolicy()
	stored, err := e.db.GetSession(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		if p, perr := conflict.ParsePolicy(stored.ConflictPolicy); perr == nil {
			policy = p
		}
	}
	e.mu.Lock()
	e.policy = policy
	e.mu.Unlock()

	localDir := filepath.Join(e.opts.LocalRoot, filepath.FromSlash(strings.TrimPrefix(appPath, "/")))
	if err := e.opts.Fs.MkdirAll(localDir, 0755); err != nil {
		return nil, utils.NewCLIError(utils.ErrCodeInternalError, "cannot create local sync root: "+err.Error()).
			WithContext("path", localDir).
			Err()
	}

	if err := e.db.UpsertSession(ctx, index.SyncSession{
		Namespace:      namespace,
		AppPath:        appPath,
		LocalRoot:      localDir,
		RemoteRootID:   appID,
		ConflictPolicy: string(policy),
		LastSyncTime:   e.opts.Clock.Now().Unix(),
	}); err != nil {
		return nil, err
	}

	sess := session.New(namespace, appPath, localDir, rootID, appID, policy)
	sess.SetDelay(e.opts.Poll.Initial)

	matcher := exclude.New(e.opts.ExcludePatterns)
	rt := &runtime{sess: sess, cache: cache, base: e.opts.Fs, matcher: matcher}
	rt.push = push.NewPipeline(e.store, cache, res, e.bus, e.opts.Fs, matcher, e.logger)
	rt.pull = pull.NewPipeline(e.store, cache, e.bus, e.opts.Fs, matcher, e.opts.ChangePageSize, e.logger)
	rt.queue = push.NewQueue(rt.push, sess, e.opts.QueueSize, e.logger)
	rt.fs = localfs.New(e.opts.Fs, localDir, &hooks{rt: rt})

	runCtx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel

	rt.monitor = netstate.NewMonitor(func(ctx context.Context) error {
		_, err := e.store.About(ctx)
		return err
	}, e.opts.ProbeInterval, e.opts.Clock, e.logger)
	rt.monitor.OnChange(func(online bool) { e.connectivityChanged(runCtx, rt, online) })

	rt.sched = scheduler.New(e.opts.Poll, func(ctx context.Context) (int, error) {
		return e.poll(ctx, rt)
	}, e.opts.Clock, e.logger)
	rt.sched.SetObserver(func(r scheduler.Result) {
		e.observe(r.Err)
		rt.monitor.Report(r.Err)
		sess.SetDelay(r.Delay)
	})

	rt.queue.SetObserver(func(job push.Job, c push.Completion) {
		if c.Err == nil || utils.IsOffline(c.Err) {
			rt.monitor.Report(c.Err)
		}
	})

	if _, isOS := e.opts.Fs.(*afero.OsFs); isOS && e.opts.Watch {
		w := watch.New(localDir, e.opts.Fs, e.opts.Clock, func(ev watch.Event) { rt.localEvent(ev) }, e.logger)
		if err := w.Start(); err != nil {
			e.logger.Warn("Local watcher unavailable, dropped-in files are found on rescan",
				logging.F("error", err.Error()))
		} else {
			rt.watcher = w
			rt.pull.SetIgnorer(w)
		}
	}

	rt.sched.Start(runCtx)
	rt.monitor.Start(runCtx)
	rt.catchUp(runCtx, e.logger)

	e.logger.Info("Sync session started",
		logging.F("appPath", appPath),
		logging.F("localDir", localDir),
		logging.F("appId", appID),
		logging.F("policy", string(policy)),
	)
	return rt, nil
}

// poll runs one change feed poll; concurrent callers are serialized
func (e *Engine) poll(ctx context.Context, rt *runtime) (int, error) {
	rt.pollMu.Lock()
	defer rt.pollMu.Unlock()
	return rt.pull.PollOnce(ctx, rt.sess)
}

func (e *Engine) observe(err error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}
	switch {
	case err == nil:
		e.setStatus(types.ServiceStateRunning, "")
	case utils.IsCode(err, utils.ErrCodeAuthFailed):
		e.setStatus(types.ServiceStateAuthenticationRequired, err.Error())
	}
}

func (e *Engine) connectivityChanged(ctx context.Context, rt *runtime, online bool) {
	rt.sess.SetOnline(online)

	e.mu.Lock()
	current := !e.closed && e.active == rt
	e.mu.Unlock()
	if !current {
		return
	}
	if !online {
		e.setStatus(types.ServiceStateTemporaryUnavailable, "remote store unreachable")
		return
	}
	e.setStatus(types.ServiceStateRunning, "")

	e.logger.Info("Reconnected, catching up", logging.F("appPath", rt.sess.AppPath))

	rt.sched.Trigger()
	rt.catchUp(ctx, e.logger)
}

// catchUp queues the work that may have been missed while offline or not
// running: PENDING entries are reconciled and unsynchronized local files
// and directories are pushed
func (rt *runtime) catchUp(ctx context.Context, logger logging.Logger) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.stopped {
		return
	}
	rt.catchUps.Add(1)
	go func() {
		defer rt.catchUps.Done()

		pending, err := rt.cache.ListByStatus(ctx, types.SyncStatusPending)
		if err != nil {
			logger.Warn("Cannot list pending entries", logging.F("error", err.Error()))
			return
		}
		for _, entry := range pending {
			rt.queue.Submit(push.Job{Op: push.OpReconcile, Cached: entry})
		}

		scanned, err := scanner.ScanLocal(ctx, rt.base, rt.sess.LocalDir, rt.matcher)
		if err != nil {
			logger.Warn("Local scan failed", logging.F("error", err.Error()))
			return
		}
		cached, err := rt.cache.List(ctx)
		if err != nil {
			logger.Warn("Cannot list cache entries", logging.F("error", err.Error()))
			return
		}
		dirs, err := rt.cache.ListDirs(ctx)
		if err != nil {
			logger.Warn("Cannot list cached directories", logging.F("error", err.Error()))
			return
		}

		known := make(map[string]bool, len(dirs))
		for _, d := range dirs {
			known[d.LocalPath] = true
		}
		var newDirs []string
		for rel, entry := range scanned {
			if entry.IsDir && !known[rel] {
				newDirs = append(newDirs, rel)
			}
		}
		sort.Strings(newDirs)
		for _, rel := range newDirs {
			rt.queue.Submit(push.Job{Op: push.OpPush, Entry: push.Entry{Path: rt.sess.SyncPath(rel), IsDir: true}})
		}

		isPending := make(map[string]bool, len(pending))
		for _, p := range pending {
			isPending[p.Path] = true
		}
		unsynced := scanner.Unsynced(scanned, cached)
		for _, entry := range unsynced {
			if isPending[entry.RelativePath] {
				continue
			}
			rt.queue.Submit(push.Job{Op: push.OpPush, Entry: push.Entry{Path: rt.sess.SyncPath(entry.RelativePath)}})
		}
		if len(pending)+len(newDirs)+len(unsynced) > 0 {
			logger.Info("Queued local catch-up",
				logging.F("pending", len(pending)),
				logging.F("directories", len(newDirs)),
				logging.F("files", len(unsynced)),
			)
		}
	}()
}

func (rt *runtime) localEvent(ev watch.Event) {
	rel, ok := rt.sess.LocalRel(ev.Path)
	if !ok {
		return
	}
	job := push.Job{Op: push.OpPush, Entry: push.Entry{Path: rt.sess.SyncPath(rel), IsDir: ev.IsDir}}
	if ev.Op == watch.OpRemove {
		job.Op = push.OpDelete
		if entry, err := rt.cache.Get(context.Background(), rel); err == nil && entry == nil {
			// unknown file, possibly a directory
			job.Entry.IsDir = true
		}
	}
	rt.queue.Submit(job)
}

// hooks turns SyncFs mutations into queued pushes
type hooks struct {
	rt *runtime
}

func (h *hooks) FileWritten(local string) {
	h.submit(push.OpPush, local, false)
}

func (h *hooks) DirCreated(local string) {
	h.submit(push.OpPush, local, true)
}

func (h *hooks) Removed(local string, isDir bool) {
	h.submit(push.OpDelete, local, isDir)
}

func (h *hooks) submit(op push.Op, local string, isDir bool) {
	rel, ok := h.rt.sess.LocalRel(local)
	if !ok {
		return
	}
	h.rt.queue.Submit(push.Job{Op: op, Entry: push.Entry{Path: h.rt.sess.SyncPath(rel), IsDir: isDir}})
}

// stop shuts the runtime down. Callers must not hold Engine.mu: the
// workers being waited for report back through it.
func (rt *runtime) stop() {
	rt.mu.Lock()
	rt.stopped = true
	rt.mu.Unlock()

	rt.sched.Stop()
	rt.monitor.Stop()
	<-rt.sched.Done()
	if rt.watcher != nil {
		rt.watcher.Stop()
	}
	rt.cancel()
	rt.catchUps.Wait()
	rt.queue.Close()
}

// Session returns the active session, or nil
func (e *Engine) Session() *session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return nil
	}
	return e.active.sess
}

func (e *Engine) runtime() (*runtime, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return nil, utils.NewCLIError(utils.ErrCodeInvalidArgument, "no sync session; request one first").Err()
	}
	return e.active, nil
}

// FS returns the filesystem through which local changes are synchronized,
// or nil without a session
func (e *Engine) FS() afero.Fs {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return nil
	}
	return e.active.fs
}

// Flush waits until every local change queued so far has been processed
func (e *Engine) Flush(ctx context.Context) error {
	rt, err := e.runtime()
	if err != nil {
		return err
	}
	rt.mu.Lock()
	stopped := rt.stopped
	rt.mu.Unlock()
	if !stopped {
		rt.catchUps.Wait()
	}
	return rt.queue.Flush(ctx)
}

// PollNow runs a poll outside the schedule and returns the relevant
// change count
func (e *Engine) PollNow(ctx context.Context) (int, error) {
	rt, err := e.runtime()
	if err != nil {
		return 0, err
	}
	n, err := e.poll(ctx, rt)
	e.observe(err)
	rt.monitor.Report(err)
	return n, err
}

// PollDelay is the delay the next scheduled poll waits for
func (e *Engine) PollDelay() time.Duration {
	rt, err := e.runtime()
	if err != nil {
		return 0
	}
	return rt.sess.Delay()
}

// SetConflictResolutionPolicy changes the policy of the active session and
// of sessions started later
func (e *Engine) SetConflictResolutionPolicy(ctx context.Context, policy conflict.Policy) error {
	if _, err := conflict.ParsePolicy(string(policy)); err != nil {
		return utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = policy
	if e.active == nil {
		return nil
	}
	sess := e.active.sess
	sess.SetPolicy(policy)

	stored, err := e.db.GetSession(ctx, sess.Namespace)
	if err != nil {
		return err
	}
	row := index.SyncSession{
		Namespace:    sess.Namespace,
		AppPath:      sess.AppPath,
		LocalRoot:    sess.LocalDir,
		RemoteRootID: sess.AppID,
	}
	if stored != nil {
		row = *stored
	}
	row.ConflictPolicy = string(policy)
	return e.db.UpsertSession(ctx, row)
}

// GetConflictResolutionPolicy returns the policy in effect
func (e *Engine) GetConflictResolutionPolicy() conflict.Policy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.policy
}

// GetFileStatus returns the sync status of an absolute sync path
// ("/app/notes.txt"); untracked paths report SyncStatusNA
func (e *Engine) GetFileStatus(ctx context.Context, p string) (types.SyncStatus, error) {
	rt, err := e.runtime()
	if err != nil {
		return types.SyncStatusNA, err
	}
	rel, err := rt.sess.RelPath(p)
	if err != nil {
		return types.SyncStatusNA, err
	}
	entry, err := rt.cache.Get(ctx, rel)
	if err != nil || entry == nil {
		return types.SyncStatusNA, err
	}
	return entry.SyncStatus, nil
}

// GetFileStatuses returns the status of several paths at once
func (e *Engine) GetFileStatuses(ctx context.Context, paths []string) (map[string]types.SyncStatus, error) {
	out := make(map[string]types.SyncStatus, len(paths))
	for _, p := range paths {
		status, err := e.GetFileStatus(ctx, p)
		if err != nil {
			return nil, err
		}
		out[p] = status
	}
	return out, nil
}

// ListEntries returns every tracked file of the active session
func (e *Engine) ListEntries(ctx context.Context) ([]index.CacheEntry, error) {
	rt, err := e.runtime()
	if err != nil {
		return nil, err
	}
	return rt.cache.List(ctx)
}

// OnFileStatusChanged registers a listener and returns its unsubscribe
func (e *Engine) OnFileStatusChanged(fn events.FileStatusListener) func() {
	return e.bus.OnFileStatusChanged(fn)
}

// OnServiceStatusChanged registers a listener and returns its unsubscribe
func (e *Engine) OnServiceStatusChanged(fn events.ServiceStatusListener) func() {
	return e.bus.OnServiceStatusChanged(fn)
}

// GetServiceStatus returns the current service state
func (e *Engine) GetServiceStatus() types.ServiceStatus {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status
}

// GetUsageAndQuota reports remote storage consumption
func (e *Engine) GetUsageAndQuota(ctx context.Context) (types.UsageAndQuota, error) {
	about, err := e.store.About(ctx)
	if err != nil {
		return types.UsageAndQuota{}, err
	}
	return types.UsageAndQuota{UsedBytes: about.QuotaBytesUsed, QuotaBytes: about.QuotaBytesTotal}, nil
}

// Reset stops the session, deletes the local synchronized content, clears
// the identity cache (the cursor returns to its initial value) and starts
// the session again
func (e *Engine) Reset(ctx context.Context) (*session.Session, error) {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	e.mu.Lock()
	rt := e.active
	e.active = nil
	e.mu.Unlock()
	if rt == nil {
		return nil, utils.NewCLIError(utils.ErrCodeInvalidArgument, "no sync session; request one first").Err()
	}

	rt.stop()
	rt.pull.Reset()

	if err := e.opts.Fs.RemoveAll(rt.sess.LocalDir); err != nil {
		return nil, utils.NewCLIError(utils.ErrCodeInternalError, "cannot clear local sync root: "+err.Error()).
			WithContext("path", rt.sess.LocalDir).
			Err()
	}
	if err := rt.cache.Clear(ctx); err != nil {
		return nil, err
	}
	e.logger.Info("Sync session reset", logging.F("appPath", rt.sess.AppPath))

	return e.activate(ctx, rt.sess.AppPath)
}

// Close stops the session and closes the index database
func (e *Engine) Close() error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	rt := e.active
	e.active = nil
	e.closed = true
	e.mu.Unlock()

	if rt != nil {
		rt.stop()
	}

	e.setStatus(types.ServiceStateDisabled, "")

	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func (e *Engine) failStatus(err error) {
	switch {
	case utils.IsCode(err, utils.ErrCodeAuthFailed):
		e.setStatus(types.ServiceStateAuthenticationRequired, err.Error())
	case utils.IsOffline(err):
		e.setStatus(types.ServiceStateTemporaryUnavailable, err.Error())
	default:
		e.setStatus(types.ServiceStateInitializing, err.Error())
	}
}

// setStatus records a state change and publishes it. Listeners run on the
// caller's goroutine, so no engine lock may be held.
func (e *Engine) setStatus(state types.ServiceState, description string) {
	e.statusMu.Lock()
	if e.status.State == state && e.status.Description == description {
		e.statusMu.Unlock()
		return
	}
	e.status = types.ServiceStatus{State: state, Description: description}
	st := e.status
	e.statusMu.Unlock()

	e.bus.PublishServiceStatus(st)
}
