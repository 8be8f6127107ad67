package analyses

import (
	"encoding/json"
	"net/url"

	"github.com/curricle/curricle/pkg/query"
	"github.com/curricle/curricle/pkg/repository"
	"github.com/curricle/curricle/workflow"
)

var projection = query.
	NewProjectionMap("public", "workflows", "wf").
	Project("id", "ID").
	Project("type", "Type").
	Project("status", "Status").
	Project("status_reason", "StatusReason").
	Project("request", "Request").
	Project("stages", "Stages").
	Project("verdict", "Verdict").
	Project("created_at", "CreatedAt").
	Project("completed_at", "CompletedAt")

var defaultSort = query.SortField{
	Field:      "CreatedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for analysis queries.
type Filters struct {
	Type   *string `json:"type,omitempty"`
	Status *string `json:"status,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("Type", f.Type).
		WhereEquals("Status", f.Status)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if t := values.Get("type"); t != "" {
		f.Type = &t
	}

	if s := values.Get("status"); s != "" {
		f.Status = &s
	}

	return f
}

func scanWorkflow(s repository.Scanner) (workflow.Workflow, error) {
	var (
		wf      workflow.Workflow
		request []byte
		stages  []byte
		verdict []byte
	)

	err := s.Scan(
		&wf.ID,
		&wf.Type,
		&wf.Status,
		&wf.StatusReason,
		&request,
		&stages,
		&verdict,
		&wf.CreatedAt,
		&wf.CompletedAt,
	)
	if err != nil {
		return wf, err
	}

	if err := json.Unmarshal(request, &wf.Request); err != nil {
		return wf, err
	}

	if err := json.Unmarshal(stages, &wf.Stages); err != nil {
		return wf, err
	}

	if len(verdict) > 0 {
		if err := json.Unmarshal(verdict, &wf.Verdict); err != nil {
			return wf, err
		}
	}

	return wf, nil
}
