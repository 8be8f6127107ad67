package api

import (
	"github.com/curricle/curricle/internal/analyses"
	"github.com/curricle/curricle/internal/config"
	"github.com/curricle/curricle/internal/deadletter"
	"github.com/curricle/curricle/internal/documents"
	"github.com/curricle/curricle/internal/engine"
	"github.com/curricle/curricle/internal/progress"
	"github.com/curricle/curricle/internal/quality"
	"github.com/curricle/curricle/internal/retry"
	"github.com/curricle/curricle/internal/units"
	"github.com/curricle/curricle/workflow"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Documents   documents.System
	Analyses    analyses.System
	DeadLetters deadletter.System
	Notifier    *progress.Notifier
	Engine      *engine.Engine
}

// NewDomain creates all domain systems from the API runtime: the work unit
// client wrapped by the retry invoker, the dead-letter store, the quality
// gate, the progress notifier, and the workflow engine on top of them.
func NewDomain(cfg *config.Config, runtime *Runtime) *Domain {
	db := runtime.Database.Connection()

	docsSystem := documents.New(
		db,
		runtime.Storage,
		runtime.Logger,
		runtime.Pagination,
	)

	lettersSystem := deadletter.New(
		db,
		runtime.Storage,
		runtime.Logger,
		runtime.Pagination,
	)

	gate := quality.NewGate(&cfg.Quality, runtime.Logger)

	unitClient := units.New(map[workflow.StageKind]units.Unit{
		workflow.KindExtractContent: units.NewHTTPUnit(
			cfg.Units.EndpointFor(workflow.KindExtractContent)),
		workflow.KindPeerDiscover: units.NewHTTPUnit(
			cfg.Units.EndpointFor(workflow.KindPeerDiscover)),
		workflow.KindAccreditationCheck: units.NewHTTPUnit(
			cfg.Units.EndpointFor(workflow.KindAccreditationCheck)),
		workflow.KindQualityValidate: units.NewHTTPUnit(
			cfg.Units.EndpointFor(workflow.KindQualityValidate)),
		workflow.KindSemanticCompare: units.NewSemanticUnit(
			runtime.Semantic, cfg.Units.Collection, cfg.Units.TopK),
		workflow.KindAggregate: quality.NewUnit(gate),
	}, runtime.Logger)

	invoker := retry.NewInvoker(unitClient, lettersSystem, &cfg.Retry, runtime.Logger)
	notifier := progress.New(&cfg.Progress, runtime.Logger)

	analysesSystem := analyses.New(db, gate, runtime.Logger, runtime.Pagination)

	eng := engine.New(
		&cfg.Engine,
		invoker,
		analysesSystem,
		notifier,
		lettersSystem,
		runtime.Logger,
	)

	return &Domain{
		Documents:   docsSystem,
		Analyses:    analysesSystem,
		DeadLetters: lettersSystem,
		Notifier:    notifier,
		Engine:      eng,
	}
}
