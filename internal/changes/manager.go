package changes

import (
	"context"

	"github.com/dl-alexandre/gsyncfs/internal/api"
	"github.com/dl-alexandre/gsyncfs/internal/files"
	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	drive "google.golang.org/api/drive/v2"
	"google.golang.org/api/googleapi"
)

const changeFields = "largestChangeId,items(id,fileId,deleted,modificationDate,file(" + files.FileFields + "))"

type Manager struct {
	client *api.Client
}

func NewManager(client *api.Client) *Manager {
	return &Manager{client: client}
}

// List returns one page of the change feed starting at startChangeID,
// including deletions
func (m *Manager) List(ctx context.Context, reqCtx *types.RequestContext, startChangeID int64, maxResults int) (*types.ChangePage, error) {
	if startChangeID < utils.InitialChangeCursor {
		return nil, utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"start change id must be positive").Err()
	}
	if maxResults <= 0 || maxResults > utils.MaxChangePageSize {
		maxResults = utils.DefaultChangePageSize
	}

	call := m.client.Service().Changes.List().
		StartChangeId(startChangeID).
		IncludeDeleted(true).
		IncludeSubscribed(true).
		MaxResults(int64(maxResults)).
		Fields(googleapi.Field(changeFields)).
		Context(ctx)

	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.ChangeList, error) {
		return call.Do()
	})
	if err != nil {
		return nil, err
	}

	page := &types.ChangePage{LargestChangeID: result.LargestChangeId}
	for _, c := range result.Items {
		if c == nil {
			continue
		}
		page.Changes = append(page.Changes, api.ConvertChange(c))
	}
	return page, nil
}

// About returns storage usage and quota
func (m *Manager) About(ctx context.Context, reqCtx *types.RequestContext) (*types.About, error) {
	call := m.client.Service().About.Get().
		Fields("quotaBytesTotal,quotaBytesUsed,largestChangeId").
		Context(ctx)

	result, err := api.ExecuteWithRetry(ctx, m.client, reqCtx, func() (*drive.About, error) {
		return call.Do()
	})
	if err != nil {
		return nil, err
	}

	return &types.About{
		QuotaBytesTotal: result.QuotaBytesTotal,
		QuotaBytesUsed:  result.QuotaBytesUsed,
		LargestChangeID: result.LargestChangeId,
	}, nil
}
