package index

import (
	"context"
	"database/sql"
	"errors"
)

// UpsertSession stores the persisted settings of a session
func (d *DB) UpsertSession(ctx context.Context, s SyncSession) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO sync_sessions (
			namespace, app_path, local_root, remote_root_id, conflict_policy, last_sync_time
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace) DO UPDATE SET
			app_path=excluded.app_path,
			local_root=excluded.local_root,
			remote_root_id=excluded.remote_root_id,
			conflict_policy=excluded.conflict_policy,
			last_sync_time=excluded.last_sync_time
	`, s.Namespace, s.AppPath, s.LocalRoot, s.RemoteRootID, s.ConflictPolicy, s.LastSyncTime)
	return err
}

// GetSession returns the stored session for a namespace, or nil
func (d *DB) GetSession(ctx context.Context, namespace string) (*SyncSession, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT namespace, app_path, local_root, remote_root_id, conflict_policy, last_sync_time
		FROM sync_sessions WHERE namespace = ?
	`, namespace)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns every stored session ordered by namespace
func (d *DB) ListSessions(ctx context.Context) ([]SyncSession, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT namespace, app_path, local_root, remote_root_id, conflict_policy, last_sync_time
		FROM sync_sessions ORDER BY namespace
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SyncSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// TouchSession records the time of the last successful poll
func (d *DB) TouchSession(ctx context.Context, namespace string, unixTime int64) error {
	_, err := d.db.ExecContext(ctx, `UPDATE sync_sessions SET last_sync_time = ? WHERE namespace = ?`, unixTime, namespace)
	return err
}

func scanSession(scanner interface {
	Scan(dest ...interface{}) error
}) (SyncSession, error) {
	var s SyncSession
	var remoteRoot sql.NullString
	var lastSync sql.NullInt64
	if err := scanner.Scan(&s.Namespace, &s.AppPath, &s.LocalRoot, &remoteRoot, &s.ConflictPolicy, &lastSync); err != nil {
		return SyncSession{}, err
	}
	s.RemoteRootID = remoteRoot.String
	s.LastSyncTime = lastSync.Int64
	return s, nil
}
