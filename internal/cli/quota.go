package cli

import (
	"context"
	"fmt"

	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/spf13/cobra"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show Drive storage usage and quota",
	RunE:  runQuota,
}

var resetCmd = &cobra.Command{
	Use:   "reset <app-path>",
	Short: "Discard local state of a sync session and download it again",
	Long: `Stop the session, delete its local directory and identity cache, then
start it again from the first change. Local edits that were not pushed
are lost.`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(quotaCmd)
	rootCmd.AddCommand(resetCmd)
}

// QuotaResult is the printable form of types.UsageAndQuota
type QuotaResult struct {
	types.UsageAndQuota
}

func (q *QuotaResult) Headers() []string {
	return []string{"Used", "Quota", "Used %"}
}

func (q *QuotaResult) Rows() [][]string {
	total, percent := "unlimited", "-"
	if q.QuotaBytes > 0 {
		total = formatSize(q.QuotaBytes)
		percent = fmt.Sprintf("%.1f%%", float64(q.UsedBytes)*100/float64(q.QuotaBytes))
	}
	return [][]string{{formatSize(q.UsedBytes), total, percent}}
}

func (q *QuotaResult) EmptyMessage() string {
	return "No quota information"
}

func runQuota(cmd *cobra.Command, args []string) error {
	ctx, cancel := withRequestTimeout(context.Background())
	defer cancel()
	out := newOutput()

	engine, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	usage, err := engine.GetUsageAndQuota(ctx)
	if err != nil {
		return err
	}
	return out.WriteSuccess("quota", &QuotaResult{usage})
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx, cancel := withRequestTimeout(context.Background())
	defer cancel()
	out := newOutput()

	engine, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	if _, err := engine.RequestSync(ctx, args[0]); err != nil {
		return err
	}
	sess, err := engine.Reset(ctx)
	if err != nil {
		return err
	}
	pulled, err := engine.PollNow(ctx)
	if err != nil {
		return err
	}
	if err := engine.Flush(ctx); err != nil {
		return err
	}

	out.Log("Reset %s, %d files downloaded", sess.AppPath, pulled)
	return out.WriteSuccess("reset", map[string]interface{}{
		"appPath":  sess.AppPath,
		"localDir": sess.LocalDir,
		"pulled":   pulled,
	})
}
