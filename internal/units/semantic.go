package units

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/curricle/curricle/internal/semantic"
	"github.com/curricle/curricle/workflow"
)

// SemanticUnit is the in-process semantic-compare unit. It indexes the
// section embeddings produced by the extract-content stage, then searches
// the course collection for the nearest neighbors of each section. Index
// failures surface as transient errors since vector stores commonly have
// transient unavailability under load.
type SemanticUnit struct {
	gateway    semantic.System
	collection string
	topK       int
}

// NewSemanticUnit creates the semantic-compare unit over the given gateway.
func NewSemanticUnit(gateway semantic.System, collection string, topK int) *SemanticUnit {
	if collection == "" {
		collection = semantic.CollectionCourses
	}
	if topK < 1 {
		topK = 5
	}
	return &SemanticUnit{
		gateway:    gateway,
		collection: collection,
		topK:       topK,
	}
}

type semanticPayload struct {
	Upstream map[string]json.RawMessage `json:"upstream"`
}

type extractedSection struct {
	ID        string    `json:"id"`
	Heading   string    `json:"heading,omitempty"`
	Embedding []float32 `json:"embedding"`
}

type extractOutput struct {
	Sections []extractedSection `json:"sections"`
}

type sectionComparison struct {
	Section string           `json:"section"`
	Matches []semantic.Match `json:"matches"`
}

type semanticResult struct {
	Comparisons []sectionComparison `json:"comparisons"`
}

// Call indexes and compares the extracted sections. Indexing runs
// sequentially since upserts write to the store; the searches that follow
// are read-only and run concurrently.
func (u *SemanticUnit) Call(ctx context.Context, env Envelope) (*Response, error) {
	sections, err := parseSections(env)
	if err != nil {
		return nil, err
	}

	for _, section := range sections {
		// Keys are stable per (workflow, section) so retried attempts
		// overwrite their own writes instead of accumulating duplicates.
		key := fmt.Sprintf("%s/%s", env.WorkflowID, section.ID)
		payload, err := json.Marshal(map[string]string{
			"workflow_id": env.WorkflowID.String(),
			"section":     section.ID,
			"heading":     section.Heading,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal section payload: %w", err)
		}

		if err := u.gateway.Upsert(ctx, u.collection, key, section.Embedding, payload); err != nil {
			return nil, workflow.NewStageError(
				workflow.ErrKindTransient,
				"index section %s: %v", section.ID, err,
			)
		}
	}

	result := semanticResult{
		Comparisons: make([]sectionComparison, len(sections)),
	}

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(4)

	for n, section := range sections {
		grp.Go(func() error {
			matches, err := u.gateway.Search(grpCtx, u.collection, section.Embedding, u.topK+1)
			if err != nil {
				return workflow.NewStageError(
					workflow.ErrKindTransient,
					"search section %s: %v", section.ID, err,
				)
			}

			result.Comparisons[n] = sectionComparison{
				Section: section.ID,
				Matches: dropSelf(matches, env.WorkflowID.String(), u.topK),
			}
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return nil, err
	}

	return Success(result)
}

func parseSections(env Envelope) ([]extractedSection, error) {
	var payload semanticPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return nil, workflow.NewStageError(
			workflow.ErrKindInvalidInput,
			"decode semantic payload: %v", err,
		)
	}

	raw, ok := payload.Upstream[string(workflow.KindExtractContent)]
	if !ok {
		return nil, workflow.NewStageError(
			workflow.ErrKindInvalidInput,
			"missing %s output in payload", workflow.KindExtractContent,
		)
	}

	var extracted extractOutput
	if err := json.Unmarshal(raw, &extracted); err != nil {
		return nil, workflow.NewStageError(
			workflow.ErrKindInvalidInput,
			"decode extracted sections: %v", err,
		)
	}

	for _, s := range extracted.Sections {
		if s.ID == "" || len(s.Embedding) == 0 {
			return nil, workflow.NewStageError(
				workflow.ErrKindInvalidInput,
				"section missing id or embedding",
			)
		}
	}

	return extracted.Sections, nil
}

// dropSelf removes matches belonging to the invoking workflow so a run does
// not compare a curriculum against its own freshly indexed sections.
func dropSelf(matches []semantic.Match, workflowID string, limit int) []semantic.Match {
	kept := make([]semantic.Match, 0, limit)
	for _, m := range matches {
		if strings.HasPrefix(m.ID, workflowID+"/") {
			continue
		}
		kept = append(kept, m)
		if len(kept) == limit {
			break
		}
	}
	return kept
}
