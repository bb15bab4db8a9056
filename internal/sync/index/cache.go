package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	"github.com/google/uuid"
)

const entryColumns = `is_dir, path, local_path, remote_id, parent_id, last_modified, sync_status, content_hash, updated_at`

// Cache is the identity cache of one sync root. Every row it reads or
// writes is scoped to its namespace; writes are committed before returning.
type Cache struct {
	db        *DB
	namespace string
	// serializes read-modify-write sequences on the same namespace
	mu  sync.Mutex
	now func() time.Time
}

// Cache returns the identity cache for a namespace
func (d *DB) Cache(namespace string) *Cache {
	return &Cache{db: d, namespace: namespace, now: time.Now}
}

// Namespace returns the key prefix of this cache
func (c *Cache) Namespace() string {
	return c.namespace
}

// Namespace builds the installation scoped key prefix for an app directory
func Namespace(installationID, appName string) string {
	return fmt.Sprintf("%s-%s-%s", utils.CacheKeyPrefix, installationID, appName)
}

// InstallationID returns the id of this storage backend, creating it on
// first use
func (d *DB) InstallationID(ctx context.Context) (string, error) {
	row := d.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'installation_id'`)
	var id string
	err := row.Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	id = uuid.New().String()
	if _, err := d.db.ExecContext(ctx, `INSERT OR IGNORE INTO meta (key, value) VALUES ('installation_id', ?)`, id); err != nil {
		return "", err
	}
	// a concurrent opener may have won the insert
	row = d.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'installation_id'`)
	if err := row.Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

// Get returns the file entry for path, or nil when the path is untracked
func (c *Cache) Get(ctx context.Context, path string) (*CacheEntry, error) {
	return c.getRow(ctx, false, path)
}

// GetDir returns the cached directory named name under parentID, or nil
func (c *Cache) GetDir(ctx context.Context, parentID, name string) (*CacheEntry, error) {
	return c.getRow(ctx, true, DirKey(parentID, name))
}

func (c *Cache) getRow(ctx context.Context, isDir bool, key string) (*CacheEntry, error) {
	row := c.db.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM cache_entries WHERE namespace = ? AND is_dir = ? AND path = ?
	`, c.namespace, boolToInt(isDir), key)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Put inserts or replaces the file entry at entry.Path
func (c *Cache) Put(ctx context.Context, entry CacheEntry) error {
	entry.IsDir = false
	if entry.LocalPath == "" {
		entry.LocalPath = entry.Path
	}
	return c.putRow(ctx, entry)
}

// PutDir records a resolved directory. localPath is its path relative to
// the sync root, or "" when it lies above it.
func (c *Cache) PutDir(ctx context.Context, parentID, name, localPath, remoteID, lastModified string) error {
	return c.putRow(ctx, CacheEntry{
		Path:         DirKey(parentID, name),
		IsDir:        true,
		LocalPath:    localPath,
		RemoteID:     remoteID,
		ParentID:     parentID,
		LastModified: lastModified,
		SyncStatus:   types.SyncStatusSynced,
	})
}

func (c *Cache) putRow(ctx context.Context, entry CacheEntry) error {
	if entry.Path == "" {
		return fmt.Errorf("cache entry without path")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.UpdatedAt = c.now().Unix()
	_, err := c.db.db.ExecContext(ctx, `
		INSERT INTO cache_entries (namespace, `+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace, is_dir, path) DO UPDATE SET
			local_path=excluded.local_path,
			remote_id=excluded.remote_id,
			parent_id=excluded.parent_id,
			last_modified=excluded.last_modified,
			sync_status=excluded.sync_status,
			content_hash=excluded.content_hash,
			updated_at=excluded.updated_at
	`, c.namespace, boolToInt(entry.IsDir), entry.Path, entry.LocalPath, entry.RemoteID, entry.ParentID,
		entry.LastModified, string(entry.SyncStatus), entry.ContentHash, entry.UpdatedAt)
	return err
}

// SetStatus changes only the sync status of an existing file entry, creating
// an untracked entry when none exists. The update is a single statement, so
// concurrent writers of the other columns are never overwritten.
func (c *Cache) SetStatus(ctx context.Context, path string, status types.SyncStatus) error {
	if path == "" {
		return fmt.Errorf("cache entry without path")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.db.ExecContext(ctx, `
		INSERT INTO cache_entries (namespace, `+entryColumns+`)
		VALUES (?, 0, ?, ?, '', '', '', ?, '', ?)
		ON CONFLICT(namespace, is_dir, path) DO UPDATE SET
			sync_status=excluded.sync_status,
			updated_at=excluded.updated_at
	`, c.namespace, path, path, string(status), c.now().Unix())
	return err
}

// Remove deletes the file entry at path. Removing an absent path is not an error.
func (c *Cache) Remove(ctx context.Context, path string) error {
	return c.removeRow(ctx, false, path)
}

// RemoveDir deletes a cached directory mapping
func (c *Cache) RemoveDir(ctx context.Context, parentID, name string) error {
	return c.removeRow(ctx, true, DirKey(parentID, name))
}

// RemoveEntry deletes whatever row entry was read from
func (c *Cache) RemoveEntry(ctx context.Context, entry CacheEntry) error {
	return c.removeRow(ctx, entry.IsDir, entry.Path)
}

func (c *Cache) removeRow(ctx context.Context, isDir bool, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ? AND is_dir = ? AND path = ?`,
		c.namespace, boolToInt(isDir), key)
	return err
}

// FindByRemoteID scans the namespace for the entry (file or directory)
// mapped to remoteID. It returns nil when no entry matches.
func (c *Cache) FindByRemoteID(ctx context.Context, remoteID string) (*CacheEntry, error) {
	if remoteID == "" {
		return nil, nil
	}
	row := c.db.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM cache_entries WHERE namespace = ? AND remote_id = ?
		ORDER BY is_dir ASC LIMIT 1
	`, c.namespace, remoteID)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns every file entry, ordered by path
func (c *Cache) List(ctx context.Context) ([]CacheEntry, error) {
	return c.query(ctx, `
		SELECT `+entryColumns+`
		FROM cache_entries WHERE namespace = ? AND is_dir = 0 ORDER BY path
	`, c.namespace)
}

// ListDirs returns every cached directory mapping
func (c *Cache) ListDirs(ctx context.Context) ([]CacheEntry, error) {
	return c.query(ctx, `
		SELECT `+entryColumns+`
		FROM cache_entries WHERE namespace = ? AND is_dir = 1 ORDER BY local_path, path
	`, c.namespace)
}

// ListByStatus returns the file entries with the given status
func (c *Cache) ListByStatus(ctx context.Context, status types.SyncStatus) ([]CacheEntry, error) {
	return c.query(ctx, `
		SELECT `+entryColumns+`
		FROM cache_entries WHERE namespace = ? AND is_dir = 0 AND sync_status = ? ORDER BY path
	`, c.namespace, string(status))
}

func (c *Cache) query(ctx context.Context, q string, args ...interface{}) (entries []CacheEntry, err error) {
	rows, err := c.db.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetCursor returns the next unseen change id, creating it with the
// initial value on first use
func (c *Cache) GetCursor(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	row := c.db.db.QueryRowContext(ctx, `SELECT next_change_id FROM change_cursors WHERE namespace = ?`, c.namespace)
	var cursor int64
	err := row.Scan(&cursor)
	if err == nil {
		return cursor, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if _, err := c.db.db.ExecContext(ctx, `INSERT INTO change_cursors (namespace, next_change_id) VALUES (?, ?)`,
		c.namespace, utils.InitialChangeCursor); err != nil {
		return 0, err
	}
	return utils.InitialChangeCursor, nil
}

// SetCursor persists the next unseen change id
func (c *Cache) SetCursor(ctx context.Context, cursor int64) error {
	if cursor < utils.InitialChangeCursor {
		return fmt.Errorf("invalid change cursor %d", cursor)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.db.ExecContext(ctx, `
		INSERT INTO change_cursors (namespace, next_change_id) VALUES (?, ?)
		ON CONFLICT(namespace) DO UPDATE SET next_change_id=excluded.next_change_id
	`, c.namespace, cursor)
	return err
}

// Clear removes every entry of the namespace and resets the cursor
func (c *Cache) Clear(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ?`, c.namespace); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO change_cursors (namespace, next_change_id) VALUES (?, ?)
		ON CONFLICT(namespace) DO UPDATE SET next_change_id=excluded.next_change_id
	`, c.namespace, utils.InitialChangeCursor); err != nil {
		return err
	}
	return tx.Commit()
}

func scanEntry(scanner interface {
	Scan(dest ...interface{}) error
}) (CacheEntry, error) {
	var entry CacheEntry
	var isDir int
	var localPath, remoteID, parentID, lastModified, status, hash sql.NullString
	var updatedAt sql.NullInt64
	err := scanner.Scan(&isDir, &entry.Path, &localPath, &remoteID, &parentID, &lastModified, &status, &hash, &updatedAt)
	if err != nil {
		return CacheEntry{}, err
	}
	entry.IsDir = isDir != 0
	entry.LocalPath = localPath.String
	entry.RemoteID = remoteID.String
	entry.ParentID = parentID.String
	entry.LastModified = lastModified.String
	entry.SyncStatus = types.SyncStatus(status.String)
	entry.ContentHash = hash.String
	entry.UpdatedAt = updatedAt.Int64
	return entry, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

