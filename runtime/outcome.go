package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/justapithecus/setscout/membership"
)

// Exit codes of the run command.
const (
	ExitCodeCompleted         = 0 // source ended or interrupted, queue drained
	ExitCodeError             = 1 // unexpected failure
	ExitCodeMembershipFailure = 2 // target collection could not be loaded
	ExitCodeStreamError       = 3 // event stream broken
)

// OutcomeStatus is the terminal state of a session.
type OutcomeStatus string

// Outcome statuses.
const (
	OutcomeCompleted         OutcomeStatus = "completed"
	OutcomeCanceled          OutcomeStatus = "canceled"
	OutcomeMembershipFailure OutcomeStatus = "membership_failure"
	OutcomeStreamError       OutcomeStatus = "stream_error"
	OutcomeInterceptorCrash  OutcomeStatus = "interceptor_crash"
	OutcomeError             OutcomeStatus = "error"
)

// Outcome describes how a session ended.
type Outcome struct {
	Status  OutcomeStatus `json:"status"`
	Message string        `json:"message"`
}

// ExitCode maps the outcome to a process exit code.
func (o *Outcome) ExitCode() int {
	switch o.Status {
	case OutcomeCompleted, OutcomeCanceled:
		return ExitCodeCompleted
	case OutcomeMembershipFailure:
		return ExitCodeMembershipFailure
	case OutcomeStreamError, OutcomeInterceptorCrash:
		return ExitCodeStreamError
	default:
		return ExitCodeError
	}
}

// DetermineOutcome classifies the error returned by Engine.Run.
// Membership failures take precedence: they are the root cause even when
// the resulting shutdown also interrupted the stream.
func DetermineOutcome(err error) *Outcome {
	switch {
	case err == nil:
		return &Outcome{Status: OutcomeCompleted, Message: "session completed"}
	case errors.Is(err, membership.ErrResourceFetch):
		return &Outcome{
			Status:  OutcomeMembershipFailure,
			Message: fmt.Sprintf("membership failure: %v", err),
		}
	case IsStreamError(err):
		return &Outcome{
			Status:  OutcomeStreamError,
			Message: fmt.Sprintf("stream error: %v", err),
		}
	case IsCanceledError(err), errors.Is(err, context.Canceled):
		return &Outcome{Status: OutcomeCanceled, Message: "session interrupted"}
	default:
		return &Outcome{
			Status:  OutcomeError,
			Message: err.Error(),
		}
	}
}

// outcomeFromExitCode classifies a non-zero interceptor exit after a clean
// stream end.
func outcomeFromExitCode(exitCode int) *Outcome {
	if exitCode == 0 {
		return &Outcome{Status: OutcomeCompleted, Message: "session completed"}
	}
	return &Outcome{
		Status:  OutcomeInterceptorCrash,
		Message: fmt.Sprintf("interceptor exited with code %d", exitCode),
	}
}
