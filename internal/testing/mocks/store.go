// Package mocks provides in-memory fakes for the remote object store.
package mocks

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/dl-alexandre/gsyncfs/internal/remote"
	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
)

// Operation names used for call counting and fault injection
const (
	OpQuery        = "query"
	OpCreateFolder = "createFolder"
	OpCreateFile   = "createFile"
	OpUpdateFile   = "updateFile"
	OpDelete       = "delete"
	OpDownload     = "download"
	OpChanges      = "changes"
	OpAbout        = "about"
)

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type object struct {
	file    types.DriveFile
	content []byte
}

// Store is an in-memory remote.Store. Every mutation, local or simulated
// remote, appends to its change feed.
type Store struct {
	mu       sync.Mutex
	objects  map[string]*object
	changes  []*types.Change
	nextID   int
	nextSeq  int64
	tick     int
	calls    map[string]int
	faults   map[string]error
	offline  bool
	quota    int64
	OnChange func(op string)
}

var _ remote.Store = (*Store)(nil)

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		objects: make(map[string]*object),
		calls:   make(map[string]int),
		faults:  make(map[string]error),
		nextSeq: 1,
		quota:   15 << 30,
	}
}

// Calls returns how many times op was invoked
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// TotalCalls returns the number of calls across all operations
func (s *Store) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// MutationCalls counts create, update and delete calls
func (s *Store) MutationCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[OpCreateFolder] + s.calls[OpCreateFile] + s.calls[OpUpdateFile] + s.calls[OpDelete]
}

// ResetCalls zeroes every counter
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
}

// Fail makes every later call of op return err until cleared with a nil err
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// SetOffline makes every call fail with an offline transport error
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// OfflineError is the error returned while the store is offline
func OfflineError() error {
	return utils.NewCLIError(utils.ErrCodeTransportFailed, "dial tcp: network is unreachable").
		WithRetryable(true).
		WithContext(utils.ContextKeyOffline, true).
		Err()
}

func (s *Store) enter(op string) error {
	s.calls[op]++
	if s.offline {
		return OfflineError()
	}
	if err, ok := s.faults[op]; ok {
		return err
	}
	return nil
}

func (s *Store) now() string {
	s.tick++
	return baseTime.Add(time.Duration(s.tick) * time.Second).Format("2006-01-02T15:04:05.000Z")
}

func (s *Store) record(f *types.DriveFile, deleted bool) {
	c := &types.Change{Sequence: s.nextSeq, FileID: f.ID, Removed: deleted}
	if !deleted {
		snapshot := *f
		snapshot.Parents = append([]string(nil), f.Parents...)
		c.File = &snapshot
		c.ModifiedTime = f.ModifiedTime
	}
	s.nextSeq++
	s.changes = append(s.changes, c)
}

func (s *Store) Query(ctx context.Context, name, parentID string, foldersOnly bool) ([]*types.DriveFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpQuery); err != nil {
		return nil, err
	}

	var out []*types.DriveFile
	for _, o := range s.objects {
		f := o.file
		if f.Name != name || f.Trashed || f.IsFolder() != foldersOnly {
			continue
		}
		if parentID == "" && len(f.Parents) > 0 || parentID != "" && !f.HasParent(parentID) {
			continue
		}
		copied := f
		out = append(out, &copied)
	}
	return out, nil
}

func (s *Store) CreateFolder(ctx context.Context, name, parentID string) (*types.DriveFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreateFolder); err != nil {
		return nil, err
	}
	f := s.insert(name, parentID, utils.MimeTypeFolder, nil)
	return &f, nil
}

func (s *Store) CreateFile(ctx context.Context, name, parentID string, content []byte) (*types.DriveFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreateFile); err != nil {
		return nil, err
	}
	f := s.insert(name, parentID, utils.MimeTypeOctetStream, content)
	return &f, nil
}

func (s *Store) insert(name, parentID, mimeType string, content []byte) types.DriveFile {
	s.nextID++
	f := types.DriveFile{
		ID:           fmt.Sprintf("id-%d", s.nextID),
		Name:         name,
		MimeType:     mimeType,
		ModifiedTime: s.now(),
	}
	if parentID != "" {
		f.Parents = []string{parentID}
	}
	if mimeType != utils.MimeTypeFolder {
		f.Size = int64(len(content))
		f.MD5Checksum = checksum(content)
	}
	s.objects[f.ID] = &object{file: f, content: append([]byte(nil), content...)}
	s.record(&f, false)
	return f
}

func (s *Store) UpdateFile(ctx context.Context, id string, content []byte) (*types.DriveFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpUpdateFile); err != nil {
		return nil, err
	}
	o, ok := s.objects[id]
	if !ok {
		return nil, notFound(id)
	}
	o.content = append([]byte(nil), content...)
	o.file.Size = int64(len(content))
	o.file.MD5Checksum = checksum(content)
	o.file.ModifiedTime = s.now()
	s.record(&o.file, false)
	f := o.file
	return &f, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDelete); err != nil {
		return err
	}
	o, ok := s.objects[id]
	if !ok {
		return notFound(id)
	}
	delete(s.objects, id)
	s.record(&o.file, true)
	return nil
}

func (s *Store) Download(ctx context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDownload); err != nil {
		return nil, err
	}
	o, ok := s.objects[id]
	if !ok {
		return nil, notFound(id)
	}
	return append([]byte(nil), o.content...), nil
}

func (s *Store) Changes(ctx context.Context, since int64, pageSize int) (*types.ChangePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpChanges); err != nil {
		return nil, err
	}
	page := &types.ChangePage{LargestChangeID: s.nextSeq - 1}
	for _, c := range s.changes {
		if c.Sequence < since {
			continue
		}
		if pageSize > 0 && len(page.Changes) >= pageSize {
			break
		}
		copied := *c
		page.Changes = append(page.Changes, &copied)
	}
	return page, nil
}

func (s *Store) About(ctx context.Context) (*types.About, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpAbout); err != nil {
		return nil, err
	}
	var used int64
	for _, o := range s.objects {
		used += int64(len(o.content))
	}
	return &types.About{QuotaBytesTotal: s.quota, QuotaBytesUsed: used, LargestChangeID: s.nextSeq - 1}, nil
}

// PutRemote simulates another client creating or replacing a file. It does
// not count as a call.
func (s *Store) PutRemote(name, parentID string, content []byte) *types.DriveFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.objects {
		if o.file.Name == name && o.file.HasParent(parentID) && !o.file.IsFolder() {
			o.content = append([]byte(nil), content...)
			o.file.Size = int64(len(content))
			o.file.MD5Checksum = checksum(content)
			o.file.ModifiedTime = s.now()
			s.record(&o.file, false)
			f := o.file
			return &f
		}
	}
	f := s.insert(name, parentID, utils.MimeTypeOctetStream, content)
	return &f
}

// PutRemoteFolder simulates another client creating a folder
func (s *Store) PutRemoteFolder(name, parentID string) *types.DriveFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.insert(name, parentID, utils.MimeTypeFolder, nil)
	return &f
}

// DeleteRemote simulates another client deleting an object
func (s *Store) DeleteRemote(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.objects[id]; ok {
		delete(s.objects, id)
		s.record(&o.file, true)
	}
}

// TrashRemote simulates another client moving an object to the trash
func (s *Store) TrashRemote(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.objects[id]; ok {
		o.file.Trashed = true
		o.file.ExplicitlyTrashed = true
		o.file.ModifiedTime = s.now()
		s.record(&o.file, false)
	}
}

// AppendChange adds a raw change to the feed, for echo and scope tests
func (s *Store) AppendChange(c types.Change) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Sequence = s.nextSeq
	s.nextSeq++
	s.changes = append(s.changes, &c)
	return c.Sequence
}

// Object returns a copy of the object's metadata and content
func (s *Store) Object(id string) (*types.DriveFile, []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[id]
	if !ok {
		return nil, nil, false
	}
	f := o.file
	return &f, append([]byte(nil), o.content...), true
}

// Find returns every object named name under parentID
func (s *Store) Find(name, parentID string) []*types.DriveFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.DriveFile
	for _, o := range s.objects {
		if o.file.Name == name && (parentID == "" && len(o.file.Parents) == 0 || o.file.HasParent(parentID)) {
			f := o.file
			out = append(out, &f)
		}
	}
	return out
}

// LastSequence returns the sequence of the newest change
func (s *Store) LastSequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq - 1
}

func checksum(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func notFound(id string) error {
	return utils.NewCLIError(utils.ErrCodeNotFound, "file not found: "+id).
		WithHTTPStatus(404).
		Err()
}
