package analyses

import (
	"context"

	"github.com/google/uuid"

	"github.com/curricle/curricle/pkg/pagination"
	"github.com/curricle/curricle/workflow"
)

// System defines the public contract for analysis persistence and
// re-evaluation. Save and Find also satisfy the engine's Store interface.
type System interface {
	Handler(runner Runner) *Handler

	Save(ctx context.Context, wf *workflow.Workflow) error
	Find(ctx context.Context, id uuid.UUID) (*workflow.Workflow, error)

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[workflow.Workflow], error)

	// Reevaluate re-runs the quality gate over a terminal workflow's
	// recorded stage outputs, replacing the stored verdict. The workflow
	// status is not revisited.
	Reevaluate(ctx context.Context, id uuid.UUID) (*workflow.QualityVerdict, error)
}

// Runner is the engine surface the analysis handler drives: accepting,
// cancelling, and observing active runs.
type Runner interface {
	Start(ctx context.Context, req workflow.AnalysisRequest) (*workflow.Workflow, error)
	Cancel(id uuid.UUID) error
	Status(id uuid.UUID) (*workflow.Workflow, bool)
}
