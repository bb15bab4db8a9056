package cli

import (
	"context"
	"fmt"

	"github.com/dl-alexandre/gsyncfs/internal/sync/conflict"
	"github.com/dl-alexandre/gsyncfs/internal/utils"
	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Conflict resolution policy of a sync session",
	Long: `A conflict happens when a remote change arrives for a file whose local
edit has not been pushed yet.

  last_write_win  apply the remote copy
  manual          keep the local file and mark it conflicting`,
}

var policyGetCmd = &cobra.Command{
	Use:   "get <app-path>",
	Short: "Show the conflict policy of a sync session",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyGet,
}

var policySetCmd = &cobra.Command{
	Use:   "set <app-path> <last_write_win|manual>",
	Short: "Change the conflict policy of a sync session",
	Long: `Change and persist the conflict policy of a sync session. The session is
started to apply the change; a running 'gsyncfs run' picks it up on its
next start.`,
	Args: cobra.ExactArgs(2),
	RunE: runPolicySet,
}

func init() {
	policyCmd.AddCommand(policyGetCmd)
	policyCmd.AddCommand(policySetCmd)
	rootCmd.AddCommand(policyCmd)
}

func runPolicyGet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := newOutput()

	db, err := openIndex()
	if err != nil {
		return err
	}
	defer db.Close()

	policy := appConfig.ConflictPolicy
	source := "config"
	row, err := findSession(ctx, db, args[0])
	switch {
	case err == nil:
		if p, perr := conflict.ParsePolicy(row.ConflictPolicy); perr == nil {
			policy = p
			source = "session"
		}
	case !utils.IsNotFound(err):
		return err
	}

	return out.WriteSuccess("policy.get", map[string]interface{}{
		"appPath": args[0],
		"policy":  string(policy),
		"source":  source,
	})
}

func runPolicySet(cmd *cobra.Command, args []string) error {
	policy, err := conflict.ParsePolicy(args[1])
	if err != nil {
		return utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Err()
	}

	ctx, cancel := withRequestTimeout(context.Background())
	defer cancel()
	out := newOutput()

	engine, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	sess, err := engine.RequestSync(ctx, args[0])
	if err != nil {
		return err
	}
	previous := engine.GetConflictResolutionPolicy()
	if err := engine.SetConflictResolutionPolicy(ctx, policy); err != nil {
		return err
	}

	out.Log("Conflict policy of %s: %s -> %s", sess.AppPath, previous, policy)
	return out.WriteSuccess("policy.set", map[string]interface{}{
		"appPath":  sess.AppPath,
		"policy":   string(policy),
		"previous": fmt.Sprint(previous),
	})
}
