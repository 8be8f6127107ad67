package engine

import (
	"context"

	"github.com/curricle/curricle/internal/deadletter"
	"github.com/curricle/curricle/internal/units"
	"github.com/curricle/curricle/workflow"
)

// Replay re-runs a dead-lettered stage from its captured payload snapshot
// under a fresh retry budget. Attempt numbering continues from the record:
// a stage dead-lettered at attempt 3 replays as attempt 4. The stage node
// is updated in place; the workflow's terminal status is not revisited and
// downstream stages are not resumed.
func (e *Engine) Replay(
	ctx context.Context,
	rec *deadletter.Record,
) (*workflow.StageNode, error) {
	e.mu.Lock()
	_, running := e.active[rec.WorkflowID]
	e.mu.Unlock()
	if running {
		return nil, workflow.ErrAlreadyRunning
	}

	wf, err := e.store.Find(ctx, rec.WorkflowID)
	if err != nil {
		return nil, err
	}
	if !wf.Status.Terminal() {
		return nil, workflow.ErrNotTerminal
	}

	node := wf.Stage(rec.StageID)
	if node == nil {
		return nil, workflow.ErrStageNotFound
	}

	payload, err := e.snapshots.Snapshot(ctx, rec)
	if err != nil {
		return nil, err
	}

	env := units.Envelope{
		WorkflowID: rec.WorkflowID,
		StageID:    rec.StageID,
		Attempt:    rec.Attempts,
		Payload:    payload,
	}

	out, attempts, invokeErr := e.invoker.Invoke(ctx, rec.Kind, env)
	node.Attempts = attempts

	if invokeErr != nil {
		node.LastError = workflow.AsStageError(invokeErr)
		if err := e.store.Save(ctx, wf); err != nil {
			return nil, err
		}
		e.notifier.Publish(workflow.StageEvent(wf.ID, node))
		return nil, invokeErr
	}

	node.Status = workflow.StageSucceeded
	node.Output = out
	node.LastError = nil
	if err := e.store.Save(ctx, wf); err != nil {
		return nil, err
	}
	e.notifier.Publish(workflow.StageEvent(wf.ID, node))

	e.logger.Info(
		"stage replayed",
		"workflow_id", wf.ID,
		"stage_id", node.ID,
		"attempts", attempts,
	)
	return node, nil
}
