package deadletter

import (
	"encoding/json"
	"net/url"

	"github.com/google/uuid"

	"github.com/curricle/curricle/pkg/query"
	"github.com/curricle/curricle/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "dead_letters", "dl").
	Project("id", "ID").
	Project("workflow_id", "WorkflowID").
	Project("stage_id", "StageID").
	Project("kind", "Kind").
	Project("attempts", "Attempts").
	Project("errors", "Errors").
	Project("snapshot_key", "SnapshotKey").
	Project("created_at", "CreatedAt").
	Project("replayed_at", "ReplayedAt")

var defaultSort = query.SortField{
	Field:      "CreatedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for dead-letter queries.
type Filters struct {
	WorkflowID *uuid.UUID `json:"workflow_id,omitempty"`
	StageID    *string    `json:"stage_id,omitempty"`
	Kind       *string    `json:"kind,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("WorkflowID", f.WorkflowID).
		WhereEquals("StageID", f.StageID).
		WhereEquals("Kind", f.Kind)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if wid := values.Get("workflow_id"); wid != "" {
		if v, err := uuid.Parse(wid); err == nil {
			f.WorkflowID = &v
		}
	}

	if sid := values.Get("stage_id"); sid != "" {
		f.StageID = &sid
	}

	if k := values.Get("kind"); k != "" {
		f.Kind = &k
	}

	return f
}

func scanRecord(s repository.Scanner) (Record, error) {
	var (
		rec  Record
		errs []byte
	)

	err := s.Scan(
		&rec.ID,
		&rec.WorkflowID,
		&rec.StageID,
		&rec.Kind,
		&rec.Attempts,
		&errs,
		&rec.SnapshotKey,
		&rec.CreatedAt,
		&rec.ReplayedAt,
	)
	if err != nil {
		return rec, err
	}

	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &rec.Errors); err != nil {
			return rec, err
		}
	}

	return rec, nil
}
