package cli

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/dl-alexandre/gsyncfs/internal/sync/index"
	"github.com/dl-alexandre/gsyncfs/internal/sync/session"
	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [app-path] [path...]",
	Short: "Show sync sessions or the status of files",
	Long: `Without arguments, list every known sync session with its file counts.
With an app path and file paths, print the sync status of each file
(pending, synced, conflicting, or na when untracked).

Status is read from the local index and works offline.

Examples:
  gsyncfs status
  gsyncfs status /notes todo.txt /notes/archive/2023.txt`,
	RunE: runStatus,
}

var lsCmd = &cobra.Command{
	Use:   "ls <app-path>",
	Short: "List tracked files of a sync session",
	Long: `List the files the index tracks for a sync session. With --remote, list
the objects directly inside the remote app directory instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runLs,
}

var (
	lsStatusFilter string
	lsRemote       bool
)

func init() {
	lsCmd.Flags().StringVar(&lsStatusFilter, "status", "", "Only list files with this status (pending, synced, conflicting)")
	lsCmd.Flags().BoolVar(&lsRemote, "remote", false, "List the remote app directory")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(lsCmd)
}

// SessionSummary is one row of `status`
type SessionSummary struct {
	AppPath        string `json:"appPath"`
	LocalDir       string `json:"localDir"`
	ConflictPolicy string `json:"conflictPolicy"`
	Files          int    `json:"files"`
	Pending        int    `json:"pending"`
	Conflicting    int    `json:"conflicting"`
	LastSyncTime   int64  `json:"lastSyncTime,omitempty"`
}

// SessionList renders `status` as a table
type SessionList struct {
	Sessions []SessionSummary `json:"sessions"`
}

func (l *SessionList) Headers() []string {
	return []string{"App Path", "Local Dir", "Policy", "Files", "Pending", "Conflicting", "Last Sync"}
}

func (l *SessionList) Rows() [][]string {
	rows := make([][]string, 0, len(l.Sessions))
	for _, s := range l.Sessions {
		last := "never"
		if s.LastSyncTime > 0 {
			last = time.Unix(s.LastSyncTime, 0).Format(time.RFC3339)
		}
		rows = append(rows, []string{
			s.AppPath, s.LocalDir, s.ConflictPolicy,
			fmt.Sprint(s.Files), fmt.Sprint(s.Pending), fmt.Sprint(s.Conflicting),
			last,
		})
	}
	return rows
}

func (l *SessionList) EmptyMessage() string {
	return "No sync sessions. Start one with 'gsyncfs run <app-path>'."
}

// FileStatusList renders per-file statuses in request order
type FileStatusList struct {
	Paths    []string                    `json:"-"`
	Statuses map[string]types.SyncStatus `json:"statuses"`
}

func (l *FileStatusList) Headers() []string {
	return []string{"Path", "Status"}
}

func (l *FileStatusList) Rows() [][]string {
	rows := make([][]string, 0, len(l.Paths))
	for _, p := range l.Paths {
		rows = append(rows, []string{p, l.Statuses[p].String()})
	}
	return rows
}

func (l *FileStatusList) EmptyMessage() string {
	return "No paths given"
}

// EntryList renders cache entries for `ls`
type EntryList struct {
	AppPath string      `json:"appPath"`
	Entries []EntryView `json:"entries"`
}

// EntryView is the printable part of a cache entry
type EntryView struct {
	Path         string           `json:"path"`
	Status       types.SyncStatus `json:"status"`
	RemoteID     string           `json:"remoteId,omitempty"`
	LastModified string           `json:"lastModified,omitempty"`
}

func (l *EntryList) Headers() []string {
	return []string{"Path", "Status", "Remote ID", "Modified"}
}

func (l *EntryList) Rows() [][]string {
	rows := make([][]string, 0, len(l.Entries))
	for _, e := range l.Entries {
		id := e.RemoteID
		if id == "" {
			id = "-"
		}
		rows = append(rows, []string{truncate(e.Path, 60), e.Status.String(), truncate(id, 20), e.LastModified})
	}
	return rows
}

func (l *EntryList) EmptyMessage() string {
	return "No tracked files"
}

// RemoteList renders the children of a remote directory
type RemoteList struct {
	AppPath  string             `json:"appPath"`
	ParentID string             `json:"parentId"`
	Objects  []*types.DriveFile `json:"objects"`
}

func (l *RemoteList) Headers() []string {
	return []string{"Name", "Kind", "Size", "Modified", "ID"}
}

func (l *RemoteList) Rows() [][]string {
	rows := make([][]string, 0, len(l.Objects))
	for _, f := range l.Objects {
		kind, size := "file", formatSize(f.Size)
		if f.IsFolder() {
			kind, size = "folder", "-"
		}
		rows = append(rows, []string{truncate(f.Name, 50), kind, size, f.ModifiedTime, f.ID})
	}
	return rows
}

func (l *RemoteList) EmptyMessage() string {
	return "Remote directory is empty"
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := newOutput()

	db, err := openIndex()
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) == 0 {
		list, err := summarizeSessions(ctx, db)
		if err != nil {
			return err
		}
		return out.WriteSuccess("status", list)
	}

	row, err := findSession(ctx, db, args[0])
	if err != nil {
		return err
	}
	statuses, err := fileStatuses(ctx, db, row, args[1:])
	if err != nil {
		return err
	}
	return out.WriteSuccess("status", statuses)
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := newOutput()

	db, err := openIndex()
	if err != nil {
		return err
	}
	defer db.Close()

	row, err := findSession(ctx, db, args[0])
	if err != nil {
		return err
	}
	if lsRemote {
		return listRemote(out, row)
	}
	list, err := listEntries(ctx, db, row, lsStatusFilter)
	if err != nil {
		return err
	}
	return out.WriteSuccess("ls", list)
}

func listRemote(out *OutputWriter, row *index.SyncSession) error {
	if row.RemoteRootID == "" {
		return utils.NewCLIError(utils.ErrCodeNotFound, "remote app directory not resolved yet for "+row.AppPath).
			WithContext("appPath", row.AppPath).
			Err()
	}
	ctx, cancel := withRequestTimeout(context.Background())
	defer cancel()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	objects, err := store.List(ctx, row.RemoteRootID)
	if err != nil {
		return err
	}
	if objects == nil {
		objects = []*types.DriveFile{}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Name < objects[j].Name })
	return out.WriteSuccess("ls", &RemoteList{AppPath: row.AppPath, ParentID: row.RemoteRootID, Objects: objects})
}

// findSession looks up the stored session of appPath
func findSession(ctx context.Context, db *index.DB, appPath string) (*index.SyncSession, error) {
	cleaned, err := session.CleanAppPath(appPath)
	if err != nil {
		return nil, err
	}
	sessions, err := db.ListSessions(ctx)
	if err != nil {
		return nil, utils.NewCLIError(utils.ErrCodeInternalError, "cannot read sessions: "+err.Error()).Err()
	}
	for i := range sessions {
		if sessions[i].AppPath == cleaned {
			return &sessions[i], nil
		}
	}
	return nil, utils.NewCLIError(utils.ErrCodeNotFound,
		fmt.Sprintf("no sync session for %s; start one with 'gsyncfs run %s'", cleaned, cleaned)).
		WithContext("appPath", cleaned).
		Err()
}

func summarizeSessions(ctx context.Context, db *index.DB) (*SessionList, error) {
	sessions, err := db.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	list := &SessionList{Sessions: []SessionSummary{}}
	for _, s := range sessions {
		entries, err := db.Cache(s.Namespace).List(ctx)
		if err != nil {
			return nil, err
		}
		summary := SessionSummary{
			AppPath:        s.AppPath,
			LocalDir:       s.LocalRoot,
			ConflictPolicy: s.ConflictPolicy,
			Files:          len(entries),
			LastSyncTime:   s.LastSyncTime,
		}
		for _, e := range entries {
			switch e.SyncStatus {
			case types.SyncStatusPending:
				summary.Pending++
			case types.SyncStatusConflicting:
				summary.Conflicting++
			}
		}
		list.Sessions = append(list.Sessions, summary)
	}
	return list, nil
}

// fileStatuses resolves paths given either relative to the app directory
// or as absolute sync paths
func fileStatuses(ctx context.Context, db *index.DB, row *index.SyncSession, paths []string) (*FileStatusList, error) {
	cache := db.Cache(row.Namespace)
	list := &FileStatusList{Statuses: make(map[string]types.SyncStatus, len(paths))}
	for _, p := range paths {
		prefix := row.AppPath + "/"
		syncPath := path.Clean("/" + p)
		if !strings.HasPrefix(syncPath, prefix) {
			syncPath = path.Join(row.AppPath, p)
		}
		if !strings.HasPrefix(syncPath, prefix) {
			return nil, utils.NewCLIError(utils.ErrCodeOutOfScope, "path is outside the sync root: "+p).
				WithContext("path", p).
				Err()
		}

		status := types.SyncStatusNA
		entry, err := cache.Get(ctx, strings.TrimPrefix(syncPath, prefix))
		if err != nil {
			return nil, err
		}
		if entry != nil {
			status = entry.SyncStatus
		}
		list.Paths = append(list.Paths, syncPath)
		list.Statuses[syncPath] = status
	}
	return list, nil
}

func listEntries(ctx context.Context, db *index.DB, row *index.SyncSession, filter string) (*EntryList, error) {
	cache := db.Cache(row.Namespace)

	var (
		entries []index.CacheEntry
		err     error
	)
	if filter == "" {
		entries, err = cache.List(ctx)
	} else {
		status, perr := types.ParseSyncStatus(filter)
		if perr != nil || status == types.SyncStatusNA {
			return nil, utils.NewCLIError(utils.ErrCodeInvalidArgument,
				fmt.Sprintf("invalid status filter: %q", filter)).Err()
		}
		entries, err = cache.ListByStatus(ctx, status)
	}
	if err != nil {
		return nil, err
	}

	list := &EntryList{AppPath: row.AppPath, Entries: make([]EntryView, 0, len(entries))}
	for _, e := range entries {
		list.Entries = append(list.Entries, EntryView{
			Path:         path.Join(row.AppPath, e.Path),
			Status:       e.SyncStatus,
			RemoteID:     e.RemoteID,
			LastModified: e.LastModified,
		})
	}
	return list, nil
}
