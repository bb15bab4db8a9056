// Package remote defines the object store the sync engine talks to and its
// Google Drive implementation.
package remote

import (
	"context"

	"github.com/dl-alexandre/gsyncfs/internal/types"
)

// Store is the remote object store contract. Implementations return
// *utils.AppError values carrying the engine's error codes.
type Store interface {
	// Query returns the untrashed objects named name directly under
	// parentID. An empty parentID searches top level objects. foldersOnly
	// restricts the result to folders, otherwise folders are excluded.
	Query(ctx context.Context, name, parentID string, foldersOnly bool) ([]*types.DriveFile, error)
	CreateFolder(ctx context.Context, name, parentID string) (*types.DriveFile, error)
	CreateFile(ctx context.Context, name, parentID string, content []byte) (*types.DriveFile, error)
	UpdateFile(ctx context.Context, id string, content []byte) (*types.DriveFile, error)
	Delete(ctx context.Context, id string) error
	Download(ctx context.Context, id string) ([]byte, error)
	// Changes returns changes with sequence >= since, at most pageSize
	Changes(ctx context.Context, since int64, pageSize int) (*types.ChangePage, error)
	About(ctx context.Context) (*types.About, error)
}
