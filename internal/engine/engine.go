// Package engine executes analysis workflows as dependency graphs of
// stages, dispatching ready stages concurrently and applying results
// through a single writer per run.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/curricle/curricle/internal/deadletter"
	"github.com/curricle/curricle/internal/units"
	"github.com/curricle/curricle/workflow"
)

// Invoker dispatches a unit call under retry policy, returning the result
// and the total attempt count.
type Invoker interface {
	Invoke(
		ctx context.Context,
		kind workflow.StageKind,
		env units.Envelope,
	) (json.RawMessage, int, error)
}

// Store persists workflow state. The engine saves on every stage and
// workflow transition so that no accepted run exists only in memory.
type Store interface {
	Save(ctx context.Context, wf *workflow.Workflow) error
	Find(ctx context.Context, id uuid.UUID) (*workflow.Workflow, error)
}

// Notifier receives progress events for every transition the engine makes.
type Notifier interface {
	Publish(ev workflow.ProgressEvent)
}

// Snapshots retrieves the payload captured with a dead-letter record.
type Snapshots interface {
	Snapshot(ctx context.Context, rec *deadletter.Record) ([]byte, error)
}

// Engine owns the active run registry. Each accepted workflow runs under
// exactly one goroutine that serializes all mutations to its graph.
type Engine struct {
	cfg       *Config
	invoker   Invoker
	store     Store
	notifier  Notifier
	snapshots Snapshots
	logger    *slog.Logger

	mu     sync.Mutex
	active map[uuid.UUID]*run
	sems   map[workflow.StageKind]chan struct{}
}

// New creates an Engine over the retry invoker, workflow store, progress
// notifier, and dead-letter snapshot source.
func New(
	cfg *Config,
	invoker Invoker,
	store Store,
	notifier Notifier,
	snapshots Snapshots,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:       cfg,
		invoker:   invoker,
		store:     store,
		notifier:  notifier,
		snapshots: snapshots,
		logger:    logger.With("system", "engine"),
		active:    make(map[uuid.UUID]*run),
		sems:      make(map[workflow.StageKind]chan struct{}),
	}
}

// Start accepts an analysis request: it expands the type's stage template
// into a workflow, persists it as pending, and launches execution. The
// returned snapshot reflects the workflow at acceptance.
func (e *Engine) Start(
	ctx context.Context,
	req workflow.AnalysisRequest,
) (*workflow.Workflow, error) {
	tpl, err := workflow.TemplateFor(req.Type)
	if err != nil {
		return nil, err
	}

	wf := tpl.Expand(req)
	if err := e.store.Save(ctx, wf); err != nil {
		return nil, err
	}

	snapshot := wf.Clone()
	if err := e.launch(wf); err != nil {
		return nil, err
	}

	e.logger.Info(
		"workflow accepted",
		"workflow_id", wf.ID,
		"type", wf.Type,
		"document_id", req.DocumentID,
		"stages", len(wf.Stages),
	)
	return snapshot, nil
}

// launch registers the run and starts its executor goroutine. A workflow
// id may be active at most once.
func (e *Engine) launch(wf *workflow.Workflow) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.active[wf.ID]; ok {
		return workflow.ErrAlreadyRunning
	}

	rn := &run{wf: wf, results: make(chan stageResult)}
	e.active[wf.ID] = rn
	go e.execute(rn)
	return nil
}

// Cancel stops further dispatch for an active run. In-flight unit calls
// finish on their own schedule and their results are discarded; stages not
// yet dispatched are marked cancelled immediately.
func (e *Engine) Cancel(id uuid.UUID) error {
	e.mu.Lock()
	rn, ok := e.active[id]
	e.mu.Unlock()
	if !ok {
		return workflow.ErrNotFound
	}

	e.halt(rn, workflow.StatusCancelled, "cancelled by request")
	e.logger.Info("workflow cancel requested", "workflow_id", id)
	return nil
}

// Status returns a snapshot of an active run's workflow, or false when the
// id is not currently executing. Terminal workflows come from the store.
func (e *Engine) Status(id uuid.UUID) (*workflow.Workflow, bool) {
	e.mu.Lock()
	rn, ok := e.active[id]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}

	rn.mu.Lock()
	defer rn.mu.Unlock()
	return rn.wf.Clone(), true
}

// semaphore returns the shared dispatch limiter for a stage kind.
func (e *Engine) semaphore(kind workflow.StageKind) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	sem, ok := e.sems[kind]
	if !ok {
		sem = make(chan struct{}, e.cfg.ConcurrencyFor(string(kind)))
		e.sems[kind] = sem
	}
	return sem
}

func (e *Engine) release(id uuid.UUID) {
	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()
}
