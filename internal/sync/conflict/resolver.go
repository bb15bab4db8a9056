package conflict

import (
	"fmt"

	"github.com/dl-alexandre/gsyncfs/internal/types"
)

// Policy selects what happens when a remote change meets a local edit that
// has not been pushed yet
type Policy string

const (
	PolicyLastWriteWin Policy = "last_write_win"
	PolicyManual       Policy = "manual"
)

// ParsePolicy validates a policy name
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyLastWriteWin, PolicyManual:
		return Policy(s), nil
	}
	return "", fmt.Errorf("invalid conflict policy: %q (must be %q or %q)", s, PolicyLastWriteWin, PolicyManual)
}

// Decision is the outcome for one incoming remote change
type Decision int

const (
	// DecisionApplyRemote overwrites the local copy with the remote one
	DecisionApplyRemote Decision = iota
	// DecisionMarkConflicting keeps the local copy and flags the path
	DecisionMarkConflicting
	// DecisionKeepConflicting leaves an already flagged path alone
	DecisionKeepConflicting
)

func (d Decision) String() string {
	switch d {
	case DecisionApplyRemote:
		return "apply_remote"
	case DecisionMarkConflicting:
		return "mark_conflicting"
	case DecisionKeepConflicting:
		return "keep_conflicting"
	default:
		return "unknown"
	}
}

// Decide decides how a remote update for a path with the given cached
// status is applied. Only PENDING and CONFLICTING paths carry local edits;
// everything else takes the remote copy.
func Decide(policy Policy, local types.SyncStatus) Decision {
	switch local {
	case types.SyncStatusPending:
		if policy == PolicyManual {
			return DecisionMarkConflicting
		}
		return DecisionApplyRemote
	case types.SyncStatusConflicting:
		if policy == PolicyManual {
			return DecisionKeepConflicting
		}
		return DecisionApplyRemote
	default:
		return DecisionApplyRemote
	}
}
