package scanner

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/dl-alexandre/gsyncfs/internal/sync/exclude"
	"github.com/dl-alexandre/gsyncfs/internal/sync/index"
	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/spf13/afero"
)

// ScanLocal walks root on fs and returns every non-excluded regular file and
// directory keyed by its slash separated path relative to root
func ScanLocal(ctx context.Context, fs afero.Fs, root string, matcher *exclude.Matcher) (map[string]LocalEntry, error) {
	entries := make(map[string]LocalEntry)

	if _, err := fs.Stat(root); os.IsNotExist(err) {
		return entries, nil
	}

	err := afero.Walk(fs, root, func(current string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(root, current)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = path.Clean(filepath.ToSlash(rel))

		if matcher.IsExcluded(rel, info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		switch {
		case info.IsDir():
			entries[rel] = LocalEntry{
				RelativePath: rel,
				IsDir:        true,
				ModTime:      info.ModTime().Unix(),
			}
		case info.Mode().IsRegular():
			hash, err := HashFile(fs, current)
			if err != nil {
				return err
			}
			entries[rel] = LocalEntry{
				RelativePath: rel,
				Size:         info.Size(),
				ModTime:      info.ModTime().Unix(),
				Hash:         hash,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// Unsynced returns the scanned files whose content is not known to be on
// the remote: no cache entry, a status other than SYNCED, or a different
// hash. Results are ordered by path so parents resolve before children.
func Unsynced(scanned map[string]LocalEntry, cached []index.CacheEntry) []LocalEntry {
	known := make(map[string]index.CacheEntry, len(cached))
	for _, e := range cached {
		known[e.Path] = e
	}

	var out []LocalEntry
	for rel, entry := range scanned {
		if entry.IsDir {
			continue
		}
		c, ok := known[rel]
		if ok && c.SyncStatus == types.SyncStatusSynced && c.ContentHash == entry.Hash {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelativePath < out[j].RelativePath })
	return out
}

// HashFile returns the hex MD5 of a file's content, the same digest Drive
// reports as md5Checksum
func HashFile(fs afero.Fs, name string) (hash string, err error) {
	f, err := fs.Open(name)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the hex MD5 of b
func HashBytes(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}
