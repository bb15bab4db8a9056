package index

import (
	"github.com/dl-alexandre/gsyncfs/internal/types"
)

// SyncSession is the persisted part of a session: which app directory is
// synchronized where, and with which conflict policy
type SyncSession struct {
	Namespace      string
	AppPath        string
	LocalRoot      string
	RemoteRootID   string
	ConflictPolicy string
	LastSyncTime   int64
}

// CacheEntry maps a synchronized path to its remote object.
//
// File entries are keyed by their path relative to the sync root. Directory
// entries are keyed by DirKey(parentID, name) and carry the relative local
// path (empty for directories above the sync root) in LocalPath.
type CacheEntry struct {
	Path         string
	IsDir        bool
	LocalPath    string
	RemoteID     string
	ParentID     string
	LastModified string
	SyncStatus   types.SyncStatus
	ContentHash  string
	UpdatedAt    int64
}

// DirKey is the cache key of a directory resolved by name under parentID.
// An empty parentID is the remote drive's top level.
func DirKey(parentID, name string) string {
	return parentID + "/" + name
}
