package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/curricle/curricle/internal/retry"
	"github.com/curricle/curricle/internal/units"
	"github.com/curricle/curricle/workflow"
)

// run is one executing workflow. All graph mutations happen under mu, so
// the executor goroutine and Status/Cancel callers never observe a
// half-applied transition.
type run struct {
	mu       sync.Mutex
	wf       *workflow.Workflow
	results  chan stageResult
	inflight int

	// halted stops further dispatch: results from in-flight calls are
	// recorded as cancelled and the run finalizes to final/reason.
	halted bool
	final  workflow.Status
	reason string
}

type stageResult struct {
	stageID  string
	output   json.RawMessage
	attempts int
	err      error
}

const persistTimeout = 10 * time.Second

// execute drives a run to completion: dispatch ready stages, apply results
// as they arrive, and finalize once nothing is in flight.
func (e *Engine) execute(rn *run) {
	ctx, cancel := context.WithTimeout(
		context.Background(),
		e.cfg.WorkflowTimeoutDuration(),
	)
	defer cancel()
	defer e.release(rn.wf.ID)

	rn.mu.Lock()
	rn.wf.Status = workflow.StatusRunning
	e.notifier.Publish(workflow.RunEvent(rn.wf.ID, workflow.StatusRunning))
	e.dispatchReady(ctx, rn)
	rn.mu.Unlock()
	e.persist(rn)

	done := ctx.Done()
	for {
		rn.mu.Lock()
		pending := rn.inflight
		rn.mu.Unlock()
		if pending == 0 {
			break
		}

		select {
		case res := <-rn.results:
			e.apply(ctx, rn, res)
		case <-done:
			// In-flight calls observe the context and unwind as
			// cancelled; keep draining until they do.
			done = nil
			e.halt(rn, workflow.StatusFailed, "workflow timeout")
		}
	}

	e.finalize(rn)
}

// dispatchReady moves every ready stage to dispatched and launches its unit
// call. Callers hold rn.mu.
func (e *Engine) dispatchReady(ctx context.Context, rn *run) {
	if rn.halted {
		return
	}

	for _, node := range rn.wf.Ready() {
		node.Status = workflow.StageDispatched
		e.notifier.Publish(workflow.StageEvent(rn.wf.ID, node))
		rn.inflight++

		env, err := e.envelope(rn.wf, node)
		if err != nil {
			// Malformed payloads fail the stage without a unit call.
			go func(id string, err error) {
				rn.results <- stageResult{stageID: id, err: err}
			}(node.ID, err)
			continue
		}

		sem := e.semaphore(node.Kind)
		go func(kind workflow.StageKind, env units.Envelope, id string) {
			sem <- struct{}{}
			defer func() { <-sem }()

			out, attempts, err := e.invoker.Invoke(ctx, kind, env)
			rn.results <- stageResult{
				stageID:  id,
				output:   out,
				attempts: attempts,
				err:      err,
			}
		}(node.Kind, env, node.ID)
	}
}

// apply records one stage result, promotes unblocked dependents, and halts
// the run when a required stage permanently fails.
func (e *Engine) apply(ctx context.Context, rn *run, res stageResult) {
	rn.mu.Lock()

	rn.inflight--
	node := rn.wf.Stage(res.stageID)
	if res.attempts > 0 {
		node.Attempts = res.attempts
	}

	if rn.halted {
		// The run already has its outcome; discard the result.
		node.Status = workflow.StageCancelled
		e.notifier.Publish(workflow.StageEvent(rn.wf.ID, node))
		rn.mu.Unlock()
		e.persist(rn)
		return
	}

	var deadLettered *retry.DeadLetterError
	stageErr := (*workflow.StageError)(nil)
	if res.err != nil {
		stageErr = workflow.AsStageError(res.err)
	}

	switch {
	case res.err == nil:
		node.Status = workflow.StageSucceeded
		node.Output = res.output
		node.LastError = nil
		e.notifier.Publish(workflow.StageEvent(rn.wf.ID, node))

		for _, promoted := range rn.wf.Unblock() {
			e.notifier.Publish(workflow.StageEvent(rn.wf.ID, promoted))
		}
		e.dispatchReady(ctx, rn)

	case errors.As(res.err, &deadLettered):
		node.Status = workflow.StageDeadLettered
		node.LastError = stageErr
		e.notifier.Publish(workflow.StageEvent(rn.wf.ID, node))

		if node.Optional {
			// Dependents proceed with degraded input.
			for _, promoted := range rn.wf.Unblock() {
				e.notifier.Publish(workflow.StageEvent(rn.wf.ID, promoted))
			}
			e.dispatchReady(ctx, rn)
		} else {
			e.haltLocked(rn, workflow.StatusFailed,
				fmt.Sprintf("required stage %s dead-lettered", node.ID))
		}

	case stageErr.Kind == workflow.ErrKindCancelled:
		node.Status = workflow.StageCancelled
		node.LastError = stageErr
		e.notifier.Publish(workflow.StageEvent(rn.wf.ID, node))
		e.haltLocked(rn, workflow.StatusFailed, "workflow timeout")

	default:
		// The stage failed without a durable dead-letter record, most
		// likely a store fault; the run cannot claim the failure was
		// recorded, so it fails outright.
		node.Status = workflow.StageFailed
		node.LastError = stageErr
		e.notifier.Publish(workflow.StageEvent(rn.wf.ID, node))
		e.haltLocked(rn, workflow.StatusFailed,
			fmt.Sprintf("stage %s failed: %s", node.ID, stageErr.Message))
	}

	rn.mu.Unlock()
	e.persist(rn)
}

// halt marks the run for early termination and cancels every stage that
// has not been dispatched.
func (e *Engine) halt(rn *run, final workflow.Status, reason string) {
	rn.mu.Lock()
	e.haltLocked(rn, final, reason)
	rn.mu.Unlock()
	e.persist(rn)
}

func (e *Engine) haltLocked(rn *run, final workflow.Status, reason string) {
	if rn.halted {
		return
	}
	rn.halted = true
	rn.final = final
	rn.reason = reason

	for _, node := range rn.wf.Stages {
		switch node.Status {
		case workflow.StageBlocked, workflow.StageReady:
			node.Status = workflow.StageCancelled
			e.notifier.Publish(workflow.StageEvent(rn.wf.ID, node))
		}
	}
}

// finalize resolves the run's terminal status, extracts the quality verdict
// from the aggregate output, and persists the completed workflow.
func (e *Engine) finalize(rn *run) {
	rn.mu.Lock()

	wf := rn.wf
	if rn.halted {
		wf.Status = rn.final
		wf.StatusReason = rn.reason
	} else {
		if agg := wf.Stage(string(workflow.KindAggregate)); agg != nil &&
			agg.Status == workflow.StageSucceeded && len(agg.Output) > 0 {
			var verdict workflow.QualityVerdict
			if err := json.Unmarshal(agg.Output, &verdict); err != nil {
				e.logger.Error(
					"decode quality verdict",
					"workflow_id", wf.ID,
					"error", err,
				)
			} else {
				wf.Verdict = &verdict
			}
		}

		if wf.Degraded() {
			wf.Status = workflow.StatusDegraded
		} else {
			wf.Status = workflow.StatusCompleted
		}
	}

	now := time.Now().UTC()
	wf.CompletedAt = &now
	e.notifier.Publish(workflow.RunEvent(wf.ID, wf.Status))

	status, reason := wf.Status, wf.StatusReason
	rn.mu.Unlock()
	e.persist(rn)

	e.logger.Info(
		"workflow finished",
		"workflow_id", wf.ID,
		"status", status,
		"reason", reason,
	)
}

// persist saves a consistent snapshot of the run's workflow. Persistence
// uses its own context so a timed-out run still reaches the store.
func (e *Engine) persist(rn *run) {
	rn.mu.Lock()
	snapshot := rn.wf.Clone()
	rn.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := e.store.Save(ctx, snapshot); err != nil {
		e.logger.Error(
			"persist workflow",
			"workflow_id", snapshot.ID,
			"error", err,
		)
	}
}
