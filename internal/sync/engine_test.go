package sync

import (
	"context"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/dl-alexandre/gsyncfs/internal/sync/conflict"
	"github.com/dl-alexandre/gsyncfs/internal/sync/index"
	"github.com/dl-alexandre/gsyncfs/internal/testing/mocks"
	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

type testEngine struct {
	*Engine
	ctx    context.Context
	store  *mocks.Store
	db     *index.DB
	dbPath string
	fs     afero.Fs
	clock  clockwork.FakeClock
	opts   Options

	mu       stdsync.Mutex
	files    []types.FileStatusEvent
	services []types.ServiceStatus
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	return newTestEngineAt(t, filepath.Join(t.TempDir(), "index.db"), mocks.NewStore(), afero.NewMemMapFs())
}

func newTestEngineAt(t *testing.T, dbPath string, store *mocks.Store, fs afero.Fs) *testEngine {
	t.Helper()
	db, err := index.Open(dbPath)
	if err != nil {
		t.Fatalf("index.Open() error = %v", err)
	}

	opts := DefaultOptions()
	opts.LocalRoot = "/data"
	opts.Fs = fs
	opts.Clock = clockwork.NewFakeClock()
	opts.Watch = false

	te := &testEngine{
		ctx:    context.Background(),
		store:  store,
		db:     db,
		dbPath: dbPath,
		fs:     fs,
		clock:  opts.Clock.(clockwork.FakeClock),
		opts:   opts,
	}
	te.Engine = NewEngine(store, db, opts, nil)
	te.OnFileStatusChanged(func(ev types.FileStatusEvent) {
		te.mu.Lock()
		defer te.mu.Unlock()
		te.files = append(te.files, ev)
	})
	te.OnServiceStatusChanged(func(st types.ServiceStatus) {
		te.mu.Lock()
		defer te.mu.Unlock()
		te.services = append(te.services, st)
	})
	t.Cleanup(func() { _ = te.Close() })
	return te
}

func (te *testEngine) start(t *testing.T) {
	t.Helper()
	if _, err := te.RequestSync(te.ctx, "/app"); err != nil {
		t.Fatalf("RequestSync() error = %v", err)
	}
	// consume the changes recorded while creating the container
	if _, err := te.PollNow(te.ctx); err != nil {
		t.Fatalf("PollNow() error = %v", err)
	}
}

func (te *testEngine) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(te.ctx, 5*time.Second)
	defer cancel()
	if err := te.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
}

func (te *testEngine) status(t *testing.T, p string) types.SyncStatus {
	t.Helper()
	st, err := te.GetFileStatus(te.ctx, p)
	if err != nil {
		t.Fatalf("GetFileStatus(%s) error = %v", p, err)
	}
	return st
}

func (te *testEngine) fileEvents() []types.FileStatusEvent {
	te.mu.Lock()
	defer te.mu.Unlock()
	return append([]types.FileStatusEvent(nil), te.files...)
}

func (te *testEngine) serviceStates() []types.ServiceState {
	te.mu.Lock()
	defer te.mu.Unlock()
	out := make([]types.ServiceState, len(te.services))
	for i, s := range te.services {
		out[i] = s.State
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool, step func()) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		if step != nil {
			step()
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRequestSync_CreatesRemoteContainer(t *testing.T) {
	te := newTestEngine(t)

	sess, err := te.RequestSync(te.ctx, "/app")
	if err != nil {
		t.Fatalf("RequestSync() error = %v", err)
	}

	roots := te.store.Find(utils.DefaultRootDirectoryName, "")
	if len(roots) != 1 || !roots[0].IsFolder() {
		t.Fatalf("sync container = %+v", roots)
	}
	apps := te.store.Find("app", roots[0].ID)
	if len(apps) != 1 || !apps[0].IsFolder() {
		t.Fatalf("app directory = %+v", apps)
	}
	if sess.RootID != roots[0].ID || sess.AppID != apps[0].ID {
		t.Errorf("session ids = %s/%s, want %s/%s", sess.RootID, sess.AppID, roots[0].ID, apps[0].ID)
	}
	if sess.LocalDir != filepath.Join("/data", "app") {
		t.Errorf("LocalDir = %s", sess.LocalDir)
	}
	if ok, _ := afero.DirExists(te.fs, sess.LocalDir); !ok {
		t.Error("local app directory not created")
	}
	if got := te.GetServiceStatus().State; got != types.ServiceStateRunning {
		t.Errorf("service state = %s, want running", got)
	}
	if got := te.PollDelay(); got != te.opts.Poll.Initial {
		t.Errorf("PollDelay() = %v, want %v", got, te.opts.Poll.Initial)
	}
}

func TestRequestSync_ReusesExistingDirectories(t *testing.T) {
	store := mocks.NewStore()
	root := store.PutRemoteFolder(utils.DefaultRootDirectoryName, "")
	app := store.PutRemoteFolder("app", root.ID)
	te := newTestEngineAt(t, filepath.Join(t.TempDir(), "index.db"), store, afero.NewMemMapFs())

	sess, err := te.RequestSync(te.ctx, "/app")
	if err != nil {
		t.Fatalf("RequestSync() error = %v", err)
	}
	if sess.AppID != app.ID {
		t.Errorf("AppID = %s, want %s", sess.AppID, app.ID)
	}
	if n := store.Calls(mocks.OpCreateFolder); n != 0 {
		t.Errorf("created %d folders, want 0", n)
	}
}

func TestRequestSync_Idempotent(t *testing.T) {
	te := newTestEngine(t)

	first, err := te.RequestSync(te.ctx, "/app")
	if err != nil {
		t.Fatalf("RequestSync() error = %v", err)
	}
	te.flush(t)
	te.store.ResetCalls()

	second, err := te.RequestSync(te.ctx, "/app/")
	if err != nil {
		t.Fatalf("second RequestSync() error = %v", err)
	}
	if first != second {
		t.Error("second request started a new session")
	}
	if n := te.store.TotalCalls(); n != 0 {
		t.Errorf("second request made %d remote calls", n)
	}

	_, err = te.RequestSync(te.ctx, "/other")
	if !utils.IsCode(err, utils.ErrCodeInvalidArgument) {
		t.Errorf("other app path error = %v, want INVALID_ARGUMENT", err)
	}
}

func TestEngine_WithoutSession(t *testing.T) {
	te := newTestEngine(t)

	if _, err := te.GetFileStatus(te.ctx, "/app/a.txt"); !utils.IsCode(err, utils.ErrCodeInvalidArgument) {
		t.Errorf("GetFileStatus() error = %v", err)
	}
	if te.FS() != nil {
		t.Error("FS() without a session")
	}
	if _, err := te.Reset(te.ctx); !utils.IsCode(err, utils.ErrCodeInvalidArgument) {
		t.Errorf("Reset() error = %v", err)
	}
}

func TestEngine_LocalWriteIsPushed(t *testing.T) {
	te := newTestEngine(t)
	te.start(t)
	sess := te.Session()

	if err := afero.WriteFile(te.FS(), sess.LocalPath("notes.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	te.flush(t)

	if got := te.status(t, "/app/notes.txt"); got != types.SyncStatusSynced {
		t.Errorf("status = %q, want SYNCED", got)
	}
	remote := te.store.Find("notes.txt", sess.AppID)
	if len(remote) != 1 {
		t.Fatalf("remote copies = %d", len(remote))
	}
	if _, content, _ := te.store.Object(remote[0].ID); string(content) != "hello" {
		t.Errorf("remote content = %q", content)
	}

	want := types.FileStatusEvent{Path: "/app/notes.txt", Status: types.SyncStatusSynced, Action: types.ActionAdded, Direction: types.DirectionLocalToRemote}
	events := te.fileEvents()
	if len(events) != 1 || events[0] != want {
		t.Errorf("events = %+v", events)
	}

	// the upload comes back through the change feed as an echo
	n, err := te.PollNow(te.ctx)
	if err != nil || n != 0 {
		t.Errorf("PollNow() = %d, %v; want 0 relevant changes", n, err)
	}
}

func TestEngine_LocalDeleteIsPushed(t *testing.T) {
	te := newTestEngine(t)
	te.start(t)
	sess := te.Session()

	if err := afero.WriteFile(te.FS(), sess.LocalPath("a.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	te.flush(t)
	if err := te.FS().Remove(sess.LocalPath("a.txt")); err != nil {
		t.Fatal(err)
	}
	te.flush(t)

	if got := te.store.Find("a.txt", sess.AppID); len(got) != 0 {
		t.Errorf("remote copy survived: %+v", got)
	}
	if got := te.status(t, "/app/a.txt"); got != types.SyncStatusNA {
		t.Errorf("status = %q, want untracked", got)
	}
}

func TestEngine_PreexistingLocalFilesAreCaughtUp(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/data/app/docs", 0755); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, "/data/app/docs/a.txt", []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}
	te := newTestEngineAt(t, filepath.Join(t.TempDir(), "index.db"), mocks.NewStore(), fs)

	sess, err := te.RequestSync(te.ctx, "/app")
	if err != nil {
		t.Fatalf("RequestSync() error = %v", err)
	}
	te.flush(t)

	if got := te.status(t, "/app/docs/a.txt"); got != types.SyncStatusSynced {
		t.Errorf("status = %q, want SYNCED", got)
	}
	docs := te.store.Find("docs", sess.AppID)
	if len(docs) != 1 {
		t.Fatalf("remote docs directories = %d", len(docs))
	}
	if got := te.store.Find("a.txt", docs[0].ID); len(got) != 1 {
		t.Errorf("remote copies = %d", len(got))
	}
}

func TestEngine_RemoteChangesArePulled(t *testing.T) {
	te := newTestEngine(t)
	te.start(t)
	sess := te.Session()

	f := te.store.PutRemote("remote.txt", sess.AppID, []byte("from elsewhere"))
	n, err := te.PollNow(te.ctx)
	if err != nil || n != 1 {
		t.Fatalf("PollNow() = %d, %v", n, err)
	}
	got, err := afero.ReadFile(te.fs, sess.LocalPath("remote.txt"))
	if err != nil || string(got) != "from elsewhere" {
		t.Errorf("local copy = %q, %v", got, err)
	}
	if st := te.status(t, "/app/remote.txt"); st != types.SyncStatusSynced {
		t.Errorf("status = %q", st)
	}

	te.store.DeleteRemote(f.ID)
	if n, err = te.PollNow(te.ctx); err != nil || n != 1 {
		t.Fatalf("PollNow() = %d, %v", n, err)
	}
	if ok, _ := afero.Exists(te.fs, sess.LocalPath("remote.txt")); ok {
		t.Error("local copy survived a remote delete")
	}
	if st := te.status(t, "/app/remote.txt"); st != types.SyncStatusNA {
		t.Errorf("status = %q, want untracked", st)
	}
}

func TestEngine_OfflinePollBacksOff(t *testing.T) {
	te := newTestEngine(t)
	te.start(t)
	cache := te.db.Cache(te.Session().Namespace)
	before, err := cache.GetCursor(te.ctx)
	if err != nil {
		t.Fatal(err)
	}

	te.store.SetOffline(true)
	waitFor(t, "offline delay",
		func() bool { return te.PollDelay() == te.opts.Poll.Offline },
		func() { te.clock.Advance(te.opts.Poll.Initial) },
	)

	after, err := cache.GetCursor(te.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if after != before {
		t.Errorf("cursor moved while offline: %d -> %d", before, after)
	}
	if got := te.GetServiceStatus().State; got != types.ServiceStateTemporaryUnavailable {
		t.Errorf("service state = %s, want temporary_unavailable", got)
	}
	if te.Session().Online() {
		t.Error("session still online")
	}
}

func TestEngine_ReconnectReconcilesPending(t *testing.T) {
	te := newTestEngine(t)
	te.start(t)
	sess := te.Session()

	te.store.SetOffline(true)
	if err := afero.WriteFile(te.FS(), sess.LocalPath("offline.txt"), []byte("queued"), 0644); err != nil {
		t.Fatal(err)
	}
	te.flush(t)

	if got := te.status(t, "/app/offline.txt"); got != types.SyncStatusPending {
		t.Fatalf("status while offline = %q, want PENDING", got)
	}
	if got := te.GetServiceStatus().State; got != types.ServiceStateTemporaryUnavailable {
		t.Errorf("service state = %s, want temporary_unavailable", got)
	}

	te.store.SetOffline(false)
	if _, err := te.PollNow(te.ctx); err != nil {
		t.Fatalf("PollNow() error = %v", err)
	}
	te.flush(t)

	if got := te.status(t, "/app/offline.txt"); got != types.SyncStatusSynced {
		t.Errorf("status after reconnect = %q, want SYNCED", got)
	}
	if got := te.store.Find("offline.txt", sess.AppID); len(got) != 1 {
		t.Errorf("remote copies = %d, want 1", len(got))
	}
	if got := te.GetServiceStatus().State; got != types.ServiceStateRunning {
		t.Errorf("service state = %s, want running", got)
	}
}

func TestEngine_ConflictPolicyPersists(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.db")
	store := mocks.NewStore()
	fs := afero.NewMemMapFs()

	te := newTestEngineAt(t, dbPath, store, fs)
	te.start(t)
	if got := te.GetConflictResolutionPolicy(); got != conflict.PolicyLastWriteWin {
		t.Errorf("default policy = %s", got)
	}
	if err := te.SetConflictResolutionPolicy(te.ctx, "newest"); !utils.IsCode(err, utils.ErrCodeInvalidArgument) {
		t.Errorf("invalid policy error = %v", err)
	}
	if err := te.SetConflictResolutionPolicy(te.ctx, conflict.PolicyManual); err != nil {
		t.Fatalf("SetConflictResolutionPolicy() error = %v", err)
	}
	if got := te.Session().Policy(); got != conflict.PolicyManual {
		t.Errorf("session policy = %s", got)
	}
	if err := te.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened := newTestEngineAt(t, dbPath, store, fs)
	sess, err := reopened.RequestSync(reopened.ctx, "/app")
	if err != nil {
		t.Fatalf("RequestSync() error = %v", err)
	}
	if got := sess.Policy(); got != conflict.PolicyManual {
		t.Errorf("restored policy = %s, want manual", got)
	}
	if got := store.Find(utils.DefaultRootDirectoryName, ""); len(got) != 1 {
		t.Errorf("sync containers = %d, want 1", len(got))
	}
}

func TestEngine_Reset(t *testing.T) {
	te := newTestEngine(t)
	te.start(t)
	sess := te.Session()

	te.store.PutRemote("keep.txt", sess.AppID, []byte("remote"))
	if _, err := te.PollNow(te.ctx); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(te.fs, sess.LocalPath("scratch.tmp"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	next, err := te.Reset(te.ctx)
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if next == sess {
		t.Error("Reset() kept the old session")
	}
	if ok, _ := afero.Exists(te.fs, sess.LocalPath("scratch.tmp")); ok {
		t.Error("local content survived reset")
	}
	cursor, err := te.db.Cache(next.Namespace).GetCursor(te.ctx)
	if err != nil || cursor != utils.InitialChangeCursor {
		t.Errorf("cursor after reset = %d, %v", cursor, err)
	}
	if st := te.status(t, "/app/keep.txt"); st != types.SyncStatusNA {
		t.Errorf("status after reset = %q, want untracked", st)
	}

	// replaying the feed from the start restores remote content
	if _, err := te.PollNow(te.ctx); err != nil {
		t.Fatal(err)
	}
	got, err := afero.ReadFile(te.fs, next.LocalPath("keep.txt"))
	if err != nil || string(got) != "remote" {
		t.Errorf("restored content = %q, %v", got, err)
	}
}

func TestEngine_GetFileStatuses(t *testing.T) {
	te := newTestEngine(t)
	te.start(t)

	if err := afero.WriteFile(te.FS(), te.Session().LocalPath("a.txt"), []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}
	te.flush(t)

	got, err := te.GetFileStatuses(te.ctx, []string{"/app/a.txt", "/app/missing.txt"})
	if err != nil {
		t.Fatalf("GetFileStatuses() error = %v", err)
	}
	if got["/app/a.txt"] != types.SyncStatusSynced || got["/app/missing.txt"] != types.SyncStatusNA {
		t.Errorf("statuses = %v", got)
	}

	if _, err := te.GetFileStatus(te.ctx, "/elsewhere/a.txt"); !utils.IsCode(err, utils.ErrCodeOutOfScope) {
		t.Errorf("out of scope error = %v", err)
	}
}

func TestEngine_UsageAndQuota(t *testing.T) {
	te := newTestEngine(t)
	te.store.PutRemote("big.bin", "", make([]byte, 2048))

	got, err := te.GetUsageAndQuota(te.ctx)
	if err != nil {
		t.Fatalf("GetUsageAndQuota() error = %v", err)
	}
	if got.UsedBytes != 2048 || got.QuotaBytes <= got.UsedBytes {
		t.Errorf("usage = %+v", got)
	}

	te.store.SetOffline(true)
	if _, err := te.GetUsageAndQuota(te.ctx); !utils.IsOffline(err) {
		t.Errorf("offline error = %v", err)
	}
}

func TestEngine_ServiceStatusLifecycle(t *testing.T) {
	te := newTestEngine(t)
	te.start(t)
	if err := te.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	states := te.serviceStates()
	if len(states) < 3 {
		t.Fatalf("states = %v", states)
	}
	if states[0] != types.ServiceStateInitializing {
		t.Errorf("first state = %s", states[0])
	}
	if states[len(states)-1] != types.ServiceStateDisabled {
		t.Errorf("last state = %s", states[len(states)-1])
	}
	if _, err := te.RequestSync(te.ctx, "/app"); !utils.IsCode(err, utils.ErrCodeCancelled) {
		t.Errorf("RequestSync() after Close error = %v", err)
	}
}
