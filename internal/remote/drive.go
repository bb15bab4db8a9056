package remote

import (
	"context"
	"mime"
	"path"

	"github.com/dl-alexandre/gsyncfs/internal/api"
	"github.com/dl-alexandre/gsyncfs/internal/changes"
	"github.com/dl-alexandre/gsyncfs/internal/files"
	"github.com/dl-alexandre/gsyncfs/internal/folders"
	"github.com/dl-alexandre/gsyncfs/internal/types"
)

// driveRootAlias addresses the top of My Drive in queries
const driveRootAlias = "root"

// DriveStore implements Store on the Drive v2 API
type DriveStore struct {
	client  *api.Client
	files   *files.Manager
	folders *folders.Manager
	changes *changes.Manager
}

var _ Store = (*DriveStore)(nil)

// NewDriveStore creates a store backed by client
func NewDriveStore(client *api.Client) *DriveStore {
	return &DriveStore{
		client:  client,
		files:   files.NewManager(client),
		folders: folders.NewManager(client),
		changes: changes.NewManager(client),
	}
}

func (s *DriveStore) Query(ctx context.Context, name, parentID string, foldersOnly bool) ([]*types.DriveFile, error) {
	reqType := types.RequestTypeListOrSearch
	if foldersOnly {
		reqType = types.RequestTypeDirResolution
	}
	if parentID == "" {
		parentID = driveRootAlias
	}
	return s.files.Query(ctx, s.client.NewRequestContext(reqType), name, parentID, foldersOnly)
}

func (s *DriveStore) CreateFolder(ctx context.Context, name, parentID string) (*types.DriveFile, error) {
	return s.folders.Create(ctx, s.client.NewRequestContext(types.RequestTypeDirResolution), name, parentID)
}

func (s *DriveStore) CreateFile(ctx context.Context, name, parentID string, content []byte) (*types.DriveFile, error) {
	return s.files.Create(ctx, s.client.NewRequestContext(types.RequestTypeUpload), name, parentID, mimeTypeFor(name), content)
}

func (s *DriveStore) UpdateFile(ctx context.Context, id string, content []byte) (*types.DriveFile, error) {
	return s.files.UpdateContent(ctx, s.client.NewRequestContext(types.RequestTypeUpload), id, content)
}

func (s *DriveStore) Delete(ctx context.Context, id string) error {
	return s.files.Delete(ctx, s.client.NewRequestContext(types.RequestTypeMutation), id)
}

func (s *DriveStore) Download(ctx context.Context, id string) ([]byte, error) {
	return s.files.Download(ctx, s.client.NewRequestContext(types.RequestTypeDownload), id)
}

func (s *DriveStore) Changes(ctx context.Context, since int64, pageSize int) (*types.ChangePage, error) {
	return s.changes.List(ctx, s.client.NewRequestContext(types.RequestTypeChanges), since, pageSize)
}

func (s *DriveStore) About(ctx context.Context) (*types.About, error) {
	return s.changes.About(ctx, s.client.NewRequestContext(types.RequestTypeAbout))
}

// List returns the children of a remote folder
func (s *DriveStore) List(ctx context.Context, folderID string) ([]*types.DriveFile, error) {
	return s.folders.List(ctx, s.client.NewRequestContext(types.RequestTypeListOrSearch), folderID)
}

func mimeTypeFor(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return ""
}
