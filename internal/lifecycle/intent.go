package lifecycle

import (
	"fmt"
	"time"

	"github.com/metorial/signal/internal/model"
	"github.com/metorial/signal/internal/retry"
)

// IntentState is the part of an intent the state machine reasons about.
type IntentState struct {
	ID           string
	Status       model.IntentStatus
	AttemptCount int
}

// IntentInput is one of IntentCreated, AttemptResult, NoInstance or IntentResolve.
type IntentInput interface {
	isIntentInput()
}

// IntentCreated is fed once the intent row exists.
type IntentCreated struct{}

// AttemptResult is fed after an attempt has been recorded.
type AttemptResult struct {
	Number       int
	Succeeded    bool
	ErrorMessage string
	Policy       model.RetryPolicy
}

// NoInstance is fed when the destination has nothing to deliver to.
type NoInstance struct{}

// IntentResolve applies a terminal outcome.
type IntentResolve struct {
	Succeeded    bool
	ErrorCode    string
	ErrorMessage string
}

func (IntentCreated) isIntentInput() {}
func (AttemptResult) isIntentInput() {}
func (NoInstance) isIntentInput()    {}
func (IntentResolve) isIntentInput() {}

// StepIntent computes the next intent state. Inputs arriving after the
// intent is terminal produce no change and no effects.
func StepIntent(s IntentState, in IntentInput) (IntentState, []Effect) {
	if s.Status.IsTerminal() {
		return s, nil
	}
	ref := IntentRef{IntentID: s.ID}

	switch in := in.(type) {
	case IntentCreated:
		if s.AttemptCount > 0 {
			return s, nil
		}
		return s, []Effect{{Task: TaskIntentAttempt, Payload: ref, DedupeKey: s.ID}}

	case NoInstance:
		return s, []Effect{{
			Task: TaskIntentFailed,
			Payload: IntentOutcome{
				IntentID:     s.ID,
				ErrorCode:    model.ErrorCodeNoDestination,
				ErrorMessage: "No active destination instance found",
			},
		}}

	case AttemptResult:
		s.AttemptCount = in.Number
		if in.Succeeded {
			return s, []Effect{{Task: TaskIntentSucceeded, Payload: IntentOutcome{IntentID: s.ID}}}
		}
		if in.Number >= in.Policy.MaxAttempts {
			msg := fmt.Sprintf("delivery failed after %d attempts", in.Number)
			if in.ErrorMessage != "" {
				msg += ": " + in.ErrorMessage
			}
			return s, []Effect{{
				Task: TaskIntentFailed,
				Payload: IntentOutcome{
					IntentID:     s.ID,
					ErrorCode:    model.ErrorCodeRetriesExhausted,
					ErrorMessage: msg,
				},
			}}
		}
		s.Status = model.IntentRetrying
		delay := retry.Delay(retry.Params{
			BaseDelaySeconds: in.Policy.DelaySeconds,
			AttemptNumber:    in.Number,
			Type:             in.Policy.Type,
		})
		return s, []Effect{{
			Task:      TaskIntentAttempt,
			Payload:   ref,
			Delay:     time.Duration(delay) * time.Second,
			DedupeKey: s.ID,
		}}

	case IntentResolve:
		if in.Succeeded {
			s.Status = model.IntentDelivered
		} else {
			s.Status = model.IntentFailed
		}
		return s, []Effect{{Task: TaskIntentResolved, Payload: ref}}
	}

	return s, nil
}
