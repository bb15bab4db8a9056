package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/dl-alexandre/gsyncfs/internal/logging"
	"github.com/dl-alexandre/gsyncfs/internal/remote"
	"github.com/dl-alexandre/gsyncfs/internal/sync/index"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	"golang.org/x/sync/singleflight"
)

// DirCache is the part of the identity cache the resolver reads and writes
type DirCache interface {
	GetDir(ctx context.Context, parentID, name string) (*index.CacheEntry, error)
	PutDir(ctx context.Context, parentID, name, localPath, remoteID, lastModified string) error
	RemoveDir(ctx context.Context, parentID, name string) error
}

// PathResolver resolves remote directories by name and parent, cache first,
// creating missing ones on demand
type PathResolver struct {
	store  remote.Store
	cache  DirCache
	group  singleflight.Group
	logger logging.Logger
}

// NewPathResolver creates a new path resolver
func NewPathResolver(store remote.Store, cache DirCache, logger logging.Logger) *PathResolver {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &PathResolver{
		store:  store,
		cache:  cache,
		logger: logger.With(logging.F("component", "resolver")),
	}
}

// Resolve returns the remote id of the directory name under parentID.
// An empty parentID is the top of the drive. Zero remote matches yield
// NOT_FOUND unless create is set; more than one yields AMBIGUOUS_RESULT.
func (r *PathResolver) Resolve(ctx context.Context, name, parentID string, create bool) (string, error) {
	return r.resolve(ctx, name, parentID, "", create)
}

// ResolvePath walks dirPath ("a/b/c") segment by segment starting at
// rootID and returns the id of the last segment. Each resolved directory is
// cached with its path relative to rootID. An empty dirPath returns rootID.
func (r *PathResolver) ResolvePath(ctx context.Context, rootID, dirPath string, create bool) (string, error) {
	segments := SplitPath(dirPath)
	current := rootID
	for i, segment := range segments {
		id, err := r.resolve(ctx, segment, current, strings.Join(segments[:i+1], "/"), create)
		if err != nil {
			return "", err
		}
		current = id
	}
	return current, nil
}

// Forget drops a cached directory mapping
func (r *PathResolver) Forget(ctx context.Context, parentID, name string) error {
	return r.cache.RemoveDir(ctx, parentID, name)
}

func (r *PathResolver) resolve(ctx context.Context, name, parentID, localPath string, create bool) (string, error) {
	if name == "" {
		return "", utils.NewCLIError(utils.ErrCodeInvalidArgument, "empty path segment").Err()
	}

	entry, err := r.cache.GetDir(ctx, parentID, name)
	if err != nil {
		return "", err
	}
	if entry != nil && entry.RemoteID != "" {
		if localPath != "" && entry.LocalPath != localPath {
			if err := r.cache.PutDir(ctx, parentID, name, localPath, entry.RemoteID, entry.LastModified); err != nil {
				return "", err
			}
		}
		return entry.RemoteID, nil
	}

	// concurrent pushes under a new directory must not create it twice
	key := index.DirKey(parentID, name)
	if create {
		key += "|create"
	}
	v, err, shared := r.group.Do(key, func() (interface{}, error) {
		return r.resolveRemote(ctx, name, parentID, localPath, create)
	})
	if err != nil {
		return "", err
	}
	if shared {
		r.logger.Debug("Shared in-flight directory resolution", logging.F("name", name), logging.F("parentId", parentID))
	}
	return v.(string), nil
}

func (r *PathResolver) resolveRemote(ctx context.Context, name, parentID, localPath string, create bool) (string, error) {
	matches, err := r.store.Query(ctx, name, parentID, true)
	if err != nil {
		return "", err
	}

	switch len(matches) {
	case 0:
		if !create {
			return "", utils.NewCLIError(utils.ErrCodeNotFound,
				fmt.Sprintf("directory not found: %s", name)).
				WithContext("segment", name).
				WithContext("parentId", parentID).
				Err()
		}
		created, err := r.store.CreateFolder(ctx, name, parentID)
		if err != nil {
			return "", err
		}
		r.logger.Info("Created remote directory",
			logging.F("name", name),
			logging.F("parentId", parentID),
			logging.F("id", created.ID),
		)
		if err := r.cache.PutDir(ctx, parentID, name, localPath, created.ID, created.ModifiedTime); err != nil {
			return "", err
		}
		return created.ID, nil
	case 1:
		if err := r.cache.PutDir(ctx, parentID, name, localPath, matches[0].ID, matches[0].ModifiedTime); err != nil {
			return "", err
		}
		return matches[0].ID, nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		r.logger.Error("Ambiguous remote directory",
			logging.F("name", name),
			logging.F("parentId", parentID),
			logging.F("matches", ids),
		)
		return "", utils.NewCLIError(utils.ErrCodeAmbiguousResult,
			fmt.Sprintf("ambiguous path: %d directories named '%s'", len(matches), name)).
			WithContext("segment", name).
			WithContext("parentId", parentID).
			WithContext("matchCount", len(matches)).
			Err()
	}
}

// SplitPath splits a slash separated path into its non-empty segments
func SplitPath(p string) []string {
	p = normalizePath(p)
	if p == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" && s != "." {
			out = append(out, s)
		}
	}
	return out
}

func normalizePath(path string) string {
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimSuffix(path, "/")
	return path
}
