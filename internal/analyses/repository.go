// Package analyses persists workflows and exposes the analysis HTTP
// surface: accepting requests, observing runs, cancellation, and verdict
// re-evaluation.
package analyses

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/curricle/curricle/internal/quality"
	"github.com/curricle/curricle/pkg/pagination"
	"github.com/curricle/curricle/pkg/query"
	"github.com/curricle/curricle/pkg/repository"
	"github.com/curricle/curricle/workflow"
)

type repo struct {
	db         *sql.DB
	gate       *quality.Gate
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates an analysis repository implementing the System interface.
func New(
	db *sql.DB,
	gate *quality.Gate,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		gate:       gate,
		logger:     logger.With("system", "analyses"),
		pagination: pagination,
	}
}

func (r *repo) Handler(runner Runner) *Handler {
	return NewHandler(r, runner, r.logger, r.pagination)
}

// Save upserts the workflow. The engine calls this on every transition, so
// the row always reflects the latest consistent snapshot.
func (r *repo) Save(ctx context.Context, wf *workflow.Workflow) error {
	request, err := json.Marshal(wf.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	stages, err := json.Marshal(wf.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}

	var verdict []byte
	if wf.Verdict != nil {
		if verdict, err = json.Marshal(wf.Verdict); err != nil {
			return fmt.Errorf("marshal verdict: %w", err)
		}
	}

	q := `
		INSERT INTO workflows(id, type, status, status_reason, request, stages, verdict, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			status_reason = EXCLUDED.status_reason,
			stages = EXCLUDED.stages,
			verdict = EXCLUDED.verdict,
			completed_at = EXCLUDED.completed_at`

	_, err = r.db.ExecContext(ctx, q,
		wf.ID,
		wf.Type,
		wf.Status,
		wf.StatusReason,
		request,
		stages,
		verdict,
		wf.CreatedAt,
		wf.CompletedAt,
	)
	if err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	return nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*workflow.Workflow, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	wf, err := repository.QueryOne(ctx, r.db, q, args, scanWorkflow)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &wf, nil
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[workflow.Workflow], error) {
	page.Normalize(r.pagination)

	qb := query.NewBuilder(projection, defaultSort)
	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count workflows: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	workflows, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanWorkflow)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}

	result := pagination.NewPageResult(workflows, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Reevaluate(
	ctx context.Context,
	id uuid.UUID,
) (*workflow.QualityVerdict, error) {
	wf, err := r.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !wf.Status.Terminal() {
		return nil, workflow.ErrNotTerminal
	}

	upstream := make(map[string]json.RawMessage)
	for id, node := range wf.Stages {
		if node.Status == workflow.StageSucceeded && len(node.Output) > 0 {
			upstream[id] = node.Output
		}
	}

	scores, err := quality.DimensionScores(upstream)
	if err != nil {
		return nil, ErrNoValidation
	}

	verdict := r.gate.Evaluate(scores, quality.CrossReferences(upstream))
	wf.Verdict = &verdict

	if err := r.Save(ctx, wf); err != nil {
		return nil, err
	}

	r.logger.Info(
		"verdict re-evaluated",
		"workflow_id", wf.ID,
		"aggregate", verdict.Aggregate,
		"approved", verdict.Approved,
	)
	return &verdict, nil
}
