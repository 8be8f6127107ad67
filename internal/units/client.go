package units

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/curricle/curricle/workflow"
)

// Unit executes one stage kind's work. Implementations are either remote
// HTTP endpoints or in-process units; all honor the Envelope contract.
type Unit interface {
	Call(ctx context.Context, env Envelope) (*Response, error)
}

// System is the public contract of the work unit client.
type System interface {
	// Invoke validates the envelope payload, dispatches it to the unit
	// registered for kind with the given timeout, and validates the
	// returned result. Errors are classified workflow.StageErrors.
	Invoke(
		ctx context.Context,
		kind workflow.StageKind,
		env Envelope,
		timeout time.Duration,
	) (json.RawMessage, error)
}

type client struct {
	units  map[workflow.StageKind]Unit
	logger *slog.Logger
}

// New creates a work unit client over the given unit registry.
func New(units map[workflow.StageKind]Unit, logger *slog.Logger) System {
	return &client{
		units:  units,
		logger: logger.With("system", "units"),
	}
}

func (c *client) Invoke(
	ctx context.Context,
	kind workflow.StageKind,
	env Envelope,
	timeout time.Duration,
) (json.RawMessage, error) {
	unit, ok := c.units[kind]
	if !ok {
		return nil, workflow.NewStageError(
			workflow.ErrKindInvalidInput,
			"no unit registered for stage kind %s", kind,
		)
	}

	if err := ValidatePayload(kind, env.Payload); err != nil {
		return nil, err
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := unit.Call(callCtx, env)
	result, err := unwrapCall(callCtx, resp, err)

	c.logger.Info(
		"unit call",
		"kind", kind,
		"workflow_id", env.WorkflowID,
		"stage_id", env.StageID,
		"attempt", env.Attempt,
		"duration", time.Since(start),
		"outcome", outcome(err),
	)

	if err != nil {
		return nil, err
	}

	if err := ValidateResult(kind, result); err != nil {
		return nil, err
	}

	return result, nil
}

// unwrapCall normalizes transport errors and unit-reported failures into
// classified stage errors. Deadline and cancellation map to transient so
// timed-out calls remain retryable.
func unwrapCall(ctx context.Context, resp *Response, err error) (json.RawMessage, error) {
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, workflow.NewStageError(
				workflow.ErrKindTransient,
				"unit call interrupted: %v", err,
			)
		}
		return nil, workflow.AsStageError(err)
	}
	if resp == nil {
		return nil, workflow.NewStageError(
			workflow.ErrKindUnitFailure,
			"unit returned no response",
		)
	}
	return resp.Unwrap()
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return fmt.Sprintf("error:%s", workflow.Classify(err))
}
