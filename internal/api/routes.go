package api

import (
	"net/http"

	"github.com/curricle/curricle/internal/config"
	"github.com/curricle/curricle/internal/progress"
	"github.com/curricle/curricle/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	cfg *config.Config,
	runtime *Runtime,
) {
	routes.Register(
		mux,
		domain.Documents.Handler(cfg.API.MaxUploadSizeBytes()).Routes(),
		domain.Analyses.Handler(domain.Engine).Routes(),
		domain.DeadLetters.Handler(domain.Engine).Routes(),
		progress.NewHandler(domain.Notifier, runtime.Logger).Routes(),
	)
}
