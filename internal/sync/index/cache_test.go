package index

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dl-alexandre/gsyncfs/internal/types"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "sync", "index.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCache_PutGetRemove(t *testing.T) {
	ctx := context.Background()
	cache := openTestDB(t).Cache("sfs-test-app")

	got, err := cache.Get(ctx, "notes.txt")
	if err != nil || got != nil {
		t.Fatalf("Get() on empty cache = %+v, %v", got, err)
	}

	entry := CacheEntry{
		Path:         "notes.txt",
		RemoteID:     "X",
		ParentID:     "app",
		LastModified: "2024-05-01T10:00:00.000Z",
		SyncStatus:   types.SyncStatusSynced,
		ContentHash:  "abc",
	}
	if err := cache.Put(ctx, entry); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err = cache.Get(ctx, "notes.txt")
	if err != nil || got == nil {
		t.Fatalf("Get() = %+v, %v", got, err)
	}
	if got.RemoteID != "X" || got.SyncStatus != types.SyncStatusSynced || got.LocalPath != "notes.txt" {
		t.Errorf("unexpected entry: %+v", got)
	}

	entry.RemoteID = "Y"
	if err := cache.Put(ctx, entry); err != nil {
		t.Fatal(err)
	}
	all, err := cache.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].RemoteID != "Y" {
		t.Errorf("expected one replaced entry, got %+v", all)
	}

	if err := cache.Remove(ctx, "notes.txt"); err != nil {
		t.Fatal(err)
	}
	if err := cache.Remove(ctx, "notes.txt"); err != nil {
		t.Errorf("removing an absent path should not fail: %v", err)
	}
	got, _ = cache.Get(ctx, "notes.txt")
	if got != nil {
		t.Errorf("entry still present after Remove: %+v", got)
	}
}

func TestCache_NamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	a := db.Cache("sfs-1-a")
	b := db.Cache("sfs-1-b")

	if err := a.Put(ctx, CacheEntry{Path: "f", RemoteID: "1"}); err != nil {
		t.Fatal(err)
	}
	if got, _ := b.Get(ctx, "f"); got != nil {
		t.Errorf("namespace b sees entry of a: %+v", got)
	}
	if err := a.SetCursor(ctx, 40); err != nil {
		t.Fatal(err)
	}
	if c, _ := b.GetCursor(ctx); c != 1 {
		t.Errorf("namespace b cursor = %d, want 1", c)
	}
}

func TestCache_Dirs(t *testing.T) {
	ctx := context.Background()
	cache := openTestDB(t).Cache("ns")

	if err := cache.PutDir(ctx, "", "Drive Syncable FileSystem", "", "root-id", ""); err != nil {
		t.Fatal(err)
	}
	if err := cache.PutDir(ctx, "root-id", "app", "", "app-id", ""); err != nil {
		t.Fatal(err)
	}
	if err := cache.PutDir(ctx, "app-id", "docs", "docs", "docs-id", ""); err != nil {
		t.Fatal(err)
	}

	dir, err := cache.GetDir(ctx, "root-id", "app")
	if err != nil || dir == nil || dir.RemoteID != "app-id" || !dir.IsDir {
		t.Fatalf("GetDir() = %+v, %v", dir, err)
	}
	if other, _ := cache.GetDir(ctx, "elsewhere", "app"); other != nil {
		t.Errorf("GetDir must be scoped by parent, got %+v", other)
	}

	// a file with the same name as a directory key does not collide
	if err := cache.Put(ctx, CacheEntry{Path: "app-id/docs", RemoteID: "file"}); err != nil {
		t.Fatal(err)
	}
	dir, _ = cache.GetDir(ctx, "app-id", "docs")
	if dir == nil || dir.RemoteID != "docs-id" {
		t.Errorf("directory row overwritten by file row: %+v", dir)
	}

	dirs, err := cache.ListDirs(ctx)
	if err != nil || len(dirs) != 3 {
		t.Errorf("ListDirs() = %d entries, %v", len(dirs), err)
	}
	files, _ := cache.List(ctx)
	if len(files) != 1 {
		t.Errorf("List() must return files only, got %d", len(files))
	}
}

func TestCache_FindByRemoteID(t *testing.T) {
	ctx := context.Background()
	cache := openTestDB(t).Cache("ns")

	for i := 0; i < 5; i++ {
		if err := cache.Put(ctx, CacheEntry{Path: fmt.Sprintf("f%d.txt", i), RemoteID: fmt.Sprintf("id-%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := cache.PutDir(ctx, "app-id", "docs", "docs", "dir-1", ""); err != nil {
		t.Fatal(err)
	}

	got, err := cache.FindByRemoteID(ctx, "id-3")
	if err != nil || got == nil || got.Path != "f3.txt" {
		t.Fatalf("FindByRemoteID(id-3) = %+v, %v", got, err)
	}
	got, _ = cache.FindByRemoteID(ctx, "dir-1")
	if got == nil || !got.IsDir || got.LocalPath != "docs" {
		t.Errorf("FindByRemoteID(dir-1) = %+v", got)
	}
	got, _ = cache.FindByRemoteID(ctx, "missing")
	if got != nil {
		t.Errorf("FindByRemoteID(missing) = %+v", got)
	}
	got, _ = cache.FindByRemoteID(ctx, "")
	if got != nil {
		t.Errorf("FindByRemoteID(\"\") = %+v", got)
	}
}

func TestCache_Cursor(t *testing.T) {
	ctx := context.Background()
	cache := openTestDB(t).Cache("ns")

	c, err := cache.GetCursor(ctx)
	if err != nil || c != 1 {
		t.Fatalf("initial cursor = %d, %v", c, err)
	}
	if err := cache.SetCursor(ctx, 57); err != nil {
		t.Fatal(err)
	}
	if c, _ := cache.GetCursor(ctx); c != 57 {
		t.Errorf("cursor = %d, want 57", c)
	}
	if err := cache.SetCursor(ctx, 0); err == nil {
		t.Error("expected error for cursor 0")
	}
}

func TestCache_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	cache := db.Cache("ns")
	if err := cache.Put(ctx, CacheEntry{Path: "a.txt", RemoteID: "A", SyncStatus: types.SyncStatusPending}); err != nil {
		t.Fatal(err)
	}
	if err := cache.SetCursor(ctx, 12); err != nil {
		t.Fatal(err)
	}
	id, err := db.InstallationID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	cache = db.Cache("ns")

	got, _ := cache.Get(ctx, "a.txt")
	if got == nil || got.SyncStatus != types.SyncStatusPending {
		t.Errorf("entry lost across reopen: %+v", got)
	}
	if c, _ := cache.GetCursor(ctx); c != 12 {
		t.Errorf("cursor lost across reopen: %d", c)
	}
	if again, _ := db.InstallationID(ctx); again != id {
		t.Errorf("installation id changed: %s != %s", again, id)
	}
}

func TestCache_ListByStatusAndClear(t *testing.T) {
	ctx := context.Background()
	cache := openTestDB(t).Cache("ns")

	_ = cache.Put(ctx, CacheEntry{Path: "a", SyncStatus: types.SyncStatusPending})
	_ = cache.Put(ctx, CacheEntry{Path: "b", SyncStatus: types.SyncStatusSynced, RemoteID: "B"})
	_ = cache.Put(ctx, CacheEntry{Path: "c", SyncStatus: types.SyncStatusPending})
	_ = cache.SetStatus(ctx, "b", types.SyncStatusPending)

	pending, err := cache.ListByStatus(ctx, types.SyncStatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 3 {
		t.Errorf("pending = %d, want 3", len(pending))
	}
	if b, _ := cache.Get(ctx, "b"); b == nil || b.RemoteID != "B" {
		t.Errorf("SetStatus must keep other fields: %+v", b)
	}

	_ = cache.SetCursor(ctx, 99)
	if err := cache.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	all, _ := cache.List(ctx)
	if len(all) != 0 {
		t.Errorf("entries after Clear: %d", len(all))
	}
	if c, _ := cache.GetCursor(ctx); c != 1 {
		t.Errorf("cursor after Clear = %d, want 1", c)
	}
}

func TestCache_ConcurrentWritesSameKey(t *testing.T) {
	ctx := context.Background()
	cache := openTestDB(t).Cache("ns")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = cache.Put(ctx, CacheEntry{Path: "hot", RemoteID: fmt.Sprintf("r%d", i)})
			} else {
				_ = cache.Remove(ctx, "hot")
			}
		}(i)
	}
	wg.Wait()

	all, err := cache.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) > 1 {
		t.Errorf("at most one entry per path, got %d", len(all))
	}
}

func TestCache_SetStatus(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	writer, marker := db.Cache("ns"), db.Cache("ns")

	if err := marker.SetStatus(ctx, "new.txt", types.SyncStatusPending); err != nil {
		t.Fatal(err)
	}
	got, err := marker.Get(ctx, "new.txt")
	if err != nil || got == nil || got.SyncStatus != types.SyncStatusPending || got.LocalPath != "new.txt" || got.RemoteID != "" {
		t.Fatalf("untracked entry = %+v, %v", got, err)
	}

	for i := 0; i < 25; i++ {
		want := fmt.Sprintf("r%d", i)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = writer.Put(ctx, CacheEntry{Path: "hot", RemoteID: want, SyncStatus: types.SyncStatusSynced})
		}()
		go func() {
			defer wg.Done()
			_ = marker.SetStatus(ctx, "hot", types.SyncStatusConflicting)
		}()
		wg.Wait()

		e, err := writer.Get(ctx, "hot")
		if err != nil || e == nil {
			t.Fatalf("Get(hot) = %+v, %v", e, err)
		}
		if e.RemoteID != want {
			t.Fatalf("round %d: RemoteID = %q, want %q", i, e.RemoteID, want)
		}
	}
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	if s, err := db.GetSession(ctx, "ns"); err != nil || s != nil {
		t.Fatalf("GetSession() on empty db = %+v, %v", s, err)
	}

	s := SyncSession{Namespace: "ns", AppPath: "/app", LocalRoot: "/data", RemoteRootID: "app-id", ConflictPolicy: "manual"}
	if err := db.UpsertSession(ctx, s); err != nil {
		t.Fatal(err)
	}
	if err := db.TouchSession(ctx, "ns", 1700000000); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetSession(ctx, "ns")
	if err != nil || got == nil {
		t.Fatalf("GetSession() = %+v, %v", got, err)
	}
	if got.ConflictPolicy != "manual" || got.LastSyncTime != 1700000000 {
		t.Errorf("unexpected session: %+v", got)
	}

	list, err := db.ListSessions(ctx)
	if err != nil || len(list) != 1 {
		t.Errorf("ListSessions() = %v, %v", list, err)
	}
}

func TestNamespace(t *testing.T) {
	if got := Namespace("inst", "app"); got != "sfs-inst-app" {
		t.Errorf("Namespace() = %s", got)
	}
	if got := DirKey("", "root"); got != "/root" {
		t.Errorf("DirKey() = %s", got)
	}
}
