package mocks

import (
	"context"
	"errors"
	"testing"

	"github.com/dl-alexandre/gsyncfs/internal/utils"
)

func TestStore_FeedAndCounters(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	dir, err := s.CreateFolder(ctx, "app", "")
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	f, err := s.CreateFile(ctx, "notes.txt", dir.ID, []byte("hi"))
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	if err := s.Delete(ctx, f.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	page, err := s.Changes(ctx, 2, 10)
	if err != nil {
		t.Fatalf("Changes() error = %v", err)
	}
	if len(page.Changes) != 2 || !page.Changes[1].IsDeletion() {
		t.Fatalf("unexpected feed %+v", page.Changes)
	}
	if s.MutationCalls() != 3 || s.Calls(OpChanges) != 1 {
		t.Errorf("mutations=%d changes=%d", s.MutationCalls(), s.Calls(OpChanges))
	}
}

func TestStore_QueryScopesByParentAndKind(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	root := s.PutRemoteFolder("root", "")
	s.PutRemote("a", root.ID, []byte("x"))
	s.PutRemoteFolder("a", root.ID)
	s.PutRemote("a", "elsewhere", []byte("y"))

	filesFound, _ := s.Query(ctx, "a", root.ID, false)
	dirsFound, _ := s.Query(ctx, "a", root.ID, true)
	top, _ := s.Query(ctx, "root", "", true)

	if len(filesFound) != 1 || len(dirsFound) != 1 || len(top) != 1 {
		t.Errorf("files=%d dirs=%d top=%d", len(filesFound), len(dirsFound), len(top))
	}
}

func TestStore_Faults(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	boom := errors.New("boom")
	s.Fail(OpQuery, boom)
	if _, err := s.Query(ctx, "a", "", false); err != boom {
		t.Errorf("err = %v, want boom", err)
	}
	s.Fail(OpQuery, nil)

	s.SetOffline(true)
	if _, err := s.Changes(ctx, 1, 10); !utils.IsOffline(err) {
		t.Errorf("err = %v, want offline", err)
	}
}
