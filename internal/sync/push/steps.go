package push

import (
	"github.com/dl-alexandre/gsyncfs/internal/utils"
)

// Step is one state of the push state machine
type Step string

const (
	StepStart         Step = "start"
	StepResolveParent Step = "resolve_parent"
	StepCheckRemote   Step = "check_remote"
	StepEnsureRemote  Step = "ensure_remote"
	StepUpload        Step = "upload"
	StepUpdate        Step = "update"
	StepSkip          Step = "skip"
	StepResolveRemote Step = "resolve_remote"
	StepDeleteRemote  Step = "delete_remote"
	StepCacheUpdate   Step = "cache_update"
	StepNotify        Step = "notify"
	StepDone          Step = "done"
)

// Outcome tags how a step ended
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeRetryable failures leave the path PENDING for a later pass
	OutcomeRetryable
	// OutcomeFatal failures need attention: ambiguity, auth, scope
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

type stepResult struct {
	next    Step
	outcome Outcome
	err     error
}

func next(step Step) stepResult {
	return stepResult{next: step}
}

func failed(err error) stepResult {
	return stepResult{outcome: classify(err), err: err}
}

func classify(err error) Outcome {
	switch utils.ErrorCode(err) {
	case utils.ErrCodeTransportFailed, utils.ErrCodeRateLimited, utils.ErrCodeCancelled:
		return OutcomeRetryable
	}
	if utils.IsRetryable(err) {
		return OutcomeRetryable
	}
	return OutcomeFatal
}
