package folders

import (
	"context"
	"fmt"

	"github.com/dl-alexandre/gsyncfs/internal/api"
	"github.com/dl-alexandre/gsyncfs/internal/files"
	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	drive "google.golang.org/api/drive/v2"
	"google.golang.org/api/googleapi"
)

// Manager handles folder operations
type Manager struct {
	client *api.Client
}

// NewManager creates a new folder manager
func NewManager(client *api.Client) *Manager {
	return &Manager{client: client}
}

// Create creates a new folder. An empty parentID creates it at the top of
// the drive.
func (m *Manager) Create(ctx context.Context, reqCtx *types.RequestContext, name string, parentID string) (*types.DriveFile, error) {
	metadata := &drive.File{
		Title:    name,
		MimeType: utils.MimeTypeFolder,
	}
	if parentID != "" {
		metadata.Parents = []*drive.ParentReference{{Id: parentID}}
		reqCtx.InvolvedParentIDs = append(reqCtx.InvolvedParentIDs, parentID)
	}

	call := m.client.Service().Files.Insert(metadata).Fields(files.FileFields).Context(ctx)
	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.File, error) {
		return call.Do()
	})
	if err != nil {
		return nil, err
	}

	return api.ConvertFile(result), nil
}

// List lists the untrashed children of a folder, following pagination
func (m *Manager) List(ctx context.Context, reqCtx *types.RequestContext, folderID string) ([]*types.DriveFile, error) {
	reqCtx.InvolvedParentIDs = append(reqCtx.InvolvedParentIDs, folderID)

	query := fmt.Sprintf("'%s' in parents and trashed = false", folderID)

	var out []*types.DriveFile
	pageToken := ""
	for {
		call := m.client.Service().Files.List().
			Q(query).
			Fields(googleapi.Field("nextPageToken,items(" + files.FileFields + ")")).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.FileList, error) {
			return call.Do()
		})
		if err != nil {
			return nil, err
		}

		for _, f := range result.Items {
			out = append(out, api.ConvertFile(f))
		}
		if result.NextPageToken == "" {
			return out, nil
		}
		pageToken = result.NextPageToken
	}
}
