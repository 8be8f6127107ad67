// Package retry wraps work unit calls with bounded exponential backoff and
// routes permanently failed stages to the dead-letter store. Retried calls
// are safe to repeat: units key any side effects by (workflow, stage,
// attempt) through the envelope.
package retry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/curricle/curricle/internal/deadletter"
	"github.com/curricle/curricle/internal/units"
	"github.com/curricle/curricle/workflow"
)

// ErrDeadLettered signals that a stage exhausted its attempt budget (or
// failed fatally) and a DeadLetterRecord was written before returning.
var ErrDeadLettered = errors.New("stage dead-lettered")

// Invoker dispatches unit calls under the configured retry policy.
type Invoker struct {
	units   units.System
	letters deadletter.System
	cfg     *Config
	logger  *slog.Logger
}

// NewInvoker creates an Invoker over the work unit client and the
// dead-letter store.
func NewInvoker(
	unitClient units.System,
	letters deadletter.System,
	cfg *Config,
	logger *slog.Logger,
) *Invoker {
	return &Invoker{
		units:   unitClient,
		letters: letters,
		cfg:     cfg,
		logger:  logger.With("system", "retry"),
	}
}

// Invoke calls the unit for kind, retrying transient and unit failures up
// to the kind's attempt budget. env.Attempt carries the attempts already
// consumed (zero for a fresh stage; the prior count on replay) so attempt
// numbering stays monotonic across replays. It returns the result and the
// total attempt count.
//
// invalid-input errors bypass retry and dead-letter on the first attempt.
// Context cancellation aborts without dead-lettering: a cancelled stage is
// discarded, not permanently failed.
func (i *Invoker) Invoke(
	ctx context.Context,
	kind workflow.StageKind,
	env units.Envelope,
) (json.RawMessage, int, error) {
	policy := i.cfg.For(string(kind))
	base := env.Attempt

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.BaseDelayDuration()
	exp.Multiplier = policy.Multiplier
	exp.MaxInterval = policy.MaxDelayDuration()
	exp.RandomizationFactor = policy.Jitter
	exp.MaxElapsedTime = 0
	exp.Reset()

	var attemptErrors []workflow.StageError

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		env.Attempt = base + attempt

		result, err := i.units.Invoke(ctx, kind, env, policy.TimeoutDuration())
		if err == nil {
			return result, env.Attempt, nil
		}

		if ctx.Err() != nil {
			return nil, env.Attempt, workflow.NewStageError(
				workflow.ErrKindCancelled,
				"stage %s cancelled after %d attempts", env.StageID, env.Attempt,
			)
		}

		stageErr := workflow.AsStageError(err)
		attemptErrors = append(attemptErrors, *stageErr)

		i.logger.Warn(
			"unit attempt failed",
			"kind", kind,
			"workflow_id", env.WorkflowID,
			"stage_id", env.StageID,
			"attempt", env.Attempt,
			"error_kind", stageErr.Kind,
			"error", stageErr.Message,
		)

		if !stageErr.Kind.Retryable() || attempt == policy.MaxAttempts {
			break
		}

		select {
		case <-time.After(exp.NextBackOff()):
		case <-ctx.Done():
			return nil, env.Attempt, workflow.NewStageError(
				workflow.ErrKindCancelled,
				"stage %s cancelled during backoff", env.StageID,
			)
		}
	}

	// Record durably before surfacing the failure so the engine never
	// transitions a workflow on a silently dropped stage.
	if _, err := i.letters.Create(ctx, deadletter.CreateCommand{
		WorkflowID: env.WorkflowID,
		StageID:    env.StageID,
		Kind:       kind,
		Attempts:   env.Attempt,
		Errors:     attemptErrors,
		Payload:    env.Payload,
	}); err != nil {
		return nil, env.Attempt, err
	}

	last := attemptErrors[len(attemptErrors)-1]
	return nil, env.Attempt, &DeadLetterError{Last: last, Attempts: env.Attempt}
}

// DeadLetterError reports permanent stage failure after the attempt budget.
type DeadLetterError struct {
	Last     workflow.StageError
	Attempts int
}

func (e *DeadLetterError) Error() string {
	return ErrDeadLettered.Error() + " after " + e.Last.Error()
}

// Is matches ErrDeadLettered for errors.Is checks.
func (e *DeadLetterError) Is(target error) bool {
	return target == ErrDeadLettered
}

// Unwrap exposes the final attempt's classified error.
func (e *DeadLetterError) Unwrap() error {
	return &e.Last
}
