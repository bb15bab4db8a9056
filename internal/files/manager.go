package files

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dl-alexandre/gsyncfs/internal/api"
	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	drive "google.golang.org/api/drive/v2"
	"google.golang.org/api/googleapi"
)

// FileFields is the partial response requested for every file resource
const FileFields = "id,title,mimeType,fileSize,md5Checksum,modifiedDate,parents(id),labels(trashed),explicitlyTrashed"

const listPageSize = 100

// Manager handles file operations
type Manager struct {
	client *api.Client
}

// NewManager creates a new file manager
func NewManager(client *api.Client) *Manager {
	return &Manager{client: client}
}

// Query lists the untrashed objects named name directly under parentID.
// An empty parentID searches the whole drive. With foldersOnly the result
// holds folders only, otherwise folders are excluded.
func (m *Manager) Query(ctx context.Context, reqCtx *types.RequestContext, name, parentID string, foldersOnly bool) ([]*types.DriveFile, error) {
	if parentID != "" {
		reqCtx.InvolvedParentIDs = append(reqCtx.InvolvedParentIDs, parentID)
	}
	q := BuildQuery(name, parentID, foldersOnly)

	var out []*types.DriveFile
	pageToken := ""
	for {
		call := m.client.Service().Files.List().
			Q(q).
			MaxResults(listPageSize).
			Fields(googleapi.Field("nextPageToken,items(" + FileFields + ")")).
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

// BuildQuery builds the Drive search expression used by Query
func BuildQuery(name, parentID string, foldersOnly bool) string {
	parts := []string{fmt.Sprintf("title = '%s'", escapeQueryString(name))}
	if parentID != "" {
		parts = append(parts, fmt.Sprintf("'%s' in parents", escapeQueryString(parentID)))
	}
	if foldersOnly {
		parts = append(parts, fmt.Sprintf("mimeType = '%s'", utils.MimeTypeFolder))
	} else {
		parts = append(parts, fmt.Sprintf("mimeType != '%s'", utils.MimeTypeFolder))
	}
	parts = append(parts, "trashed = false")
	return strings.Join(parts, " and ")
}

// Create uploads content as a new file under parentID
func (m *Manager) Create(ctx context.Context, reqCtx *types.RequestContext, name, parentID, mimeType string, content []byte) (*types.DriveFile, error) {
	if mimeType == "" {
		mimeType = utils.MimeTypeOctetStream
	}
	metadata := &drive.File{
		Title:    name,
		MimeType: mimeType,
	}
	if parentID != "" {
		metadata.Parents = []*drive.ParentReference{{Id: parentID}}
		reqCtx.InvolvedParentIDs = append(reqCtx.InvolvedParentIDs, parentID)
	}

	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.File, error) {
		// fresh reader per attempt
		return m.client.Service().Files.Insert(metadata).
			Media(bytes.NewReader(content)).
			Fields(FileFields).
			Context(ctx).
			Do()
	})
	if err != nil {
		return nil, err
	}
	return api.ConvertFile(result), nil
}

// UpdateContent replaces the content of an existing file
func (m *Manager) UpdateContent(ctx context.Context, reqCtx *types.RequestContext, fileID string, content []byte) (*types.DriveFile, error) {
	reqCtx.InvolvedFileIDs = append(reqCtx.InvolvedFileIDs, fileID)

	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.File, error) {
		return m.client.Service().Files.Update(fileID, &drive.File{}).
			Media(bytes.NewReader(content)).
			Fields(FileFields).
			Context(ctx).
			Do()
	})
	if err != nil {
		return nil, err
	}
	return api.ConvertFile(result), nil
}

// Delete permanently deletes a file or folder
func (m *Manager) Delete(ctx context.Context, reqCtx *types.RequestContext, fileID string) error {
	reqCtx.InvolvedFileIDs = append(reqCtx.InvolvedFileIDs, fileID)

	call := m.client.Service().Files.Delete(fileID).Context(ctx)
	_, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (struct{}, error) {
		return struct{}{}, call.Do()
	})
	return err
}

// Download reads the full content of a blob file
func (m *Manager) Download(ctx context.Context, reqCtx *types.RequestContext, fileID string) ([]byte, error) {
	reqCtx.InvolvedFileIDs = append(reqCtx.InvolvedFileIDs, fileID)

	return api.ExecuteWithRetry(ctx, m.client, reqCtx, func() ([]byte, error) {
		resp, err := m.client.Service().Files.Get(fileID).Context(ctx).Download()
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return io.ReadAll(resp.Body)
	})
}

func escapeQueryString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	return strings.ReplaceAll(s, "'", "\\'")
}
