package cli

import (
	"context"
	"fmt"

	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	"github.com/spf13/cobra"
)

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Inspect the Drive change feed",
	Long: `List entries of the remote change feed the poller consumes.

Without --since the listing starts at the cursor stored for --app, or at
the first change when no app is given.

Examples:
  gsyncfs changes --since 1200 --limit 20
  gsyncfs changes --app /notes --json`,
	RunE: runChanges,
}

var (
	changesSince int64
	changesLimit int
	changesApp   string
)

func init() {
	changesCmd.Flags().Int64Var(&changesSince, "since", 0, "First change sequence to list")
	changesCmd.Flags().IntVar(&changesLimit, "limit", 100, "Maximum number of changes")
	changesCmd.Flags().StringVar(&changesApp, "app", "", "Start at the stored cursor of this app path")
	rootCmd.AddCommand(changesCmd)
}

// ChangeList renders a change page
type ChangeList struct {
	Since           int64           `json:"since"`
	NextCursor      int64           `json:"nextCursor"`
	LargestChangeID int64           `json:"largestChangeId"`
	Changes         []*types.Change `json:"changes"`
}

func (l *ChangeList) Headers() []string {
	return []string{"Seq", "File ID", "Title", "Kind", "Modified"}
}

func (l *ChangeList) Rows() [][]string {
	rows := make([][]string, 0, len(l.Changes))
	for _, c := range l.Changes {
		title, kind, modified := "-", "update", c.ModifiedTime
		if c.File != nil {
			title = c.File.Name
			if c.File.IsFolder() {
				kind = "folder"
			}
			if modified == "" {
				modified = c.File.ModifiedTime
			}
		}
		if c.IsDeletion() {
			kind = "delete"
		}
		rows = append(rows, []string{
			fmt.Sprint(c.Sequence), truncate(c.FileID, 20), truncate(title, 40), kind, modified,
		})
	}
	return rows
}

func (l *ChangeList) EmptyMessage() string {
	return fmt.Sprintf("No changes since %d", l.Since)
}

func runChanges(cmd *cobra.Command, args []string) error {
	if changesLimit <= 0 || changesLimit > utils.MaxChangePageSize {
		return utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("limit must be between 1 and %d", utils.MaxChangePageSize)).Err()
	}

	ctx, cancel := withRequestTimeout(context.Background())
	defer cancel()
	out := newOutput()

	since := changesSince
	if since <= 0 {
		since = utils.InitialChangeCursor
		if changesApp != "" {
			cursor, err := storedCursor(ctx, changesApp)
			if err != nil {
				return err
			}
			since = cursor
		}
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	page, err := store.Changes(ctx, since, changesLimit)
	if err != nil {
		return err
	}

	next := since
	if last := page.MaxSequence(); last >= since {
		next = last + 1
	}
	return out.WriteSuccess("changes", &ChangeList{
		Since:           since,
		NextCursor:      next,
		LargestChangeID: page.LargestChangeID,
		Changes:         page.Changes,
	})
}

func storedCursor(ctx context.Context, appPath string) (int64, error) {
	db, err := openIndex()
	if err != nil {
		return 0, err
	}
	defer db.Close()

	row, err := findSession(ctx, db, appPath)
	if err != nil {
		return 0, err
	}
	return db.Cache(row.Namespace).GetCursor(ctx)
}
