// Package workflow defines the core types for curriculum analysis workflows:
// analysis requests, the stage DAG, status machines, the error taxonomy,
// quality verdicts, and progress events. It holds no engine logic; the
// scheduling and dispatch behavior lives in internal/engine.
package workflow

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AnalysisType identifies the kind of curriculum analysis to run.
// Each type expands into a fixed stage DAG template.
type AnalysisType string

// Supported analysis types.
const (
	TypeGap            AnalysisType = "gap"
	TypePeerComparison AnalysisType = "peer-comparison"
	TypeSemantic       AnalysisType = "semantic"
	TypeComprehensive  AnalysisType = "comprehensive"
)

// StageKind identifies the processing unit a stage dispatches to.
type StageKind string

// Stage kinds, each mapped to one work unit.
const (
	KindExtractContent     StageKind = "extract-content"
	KindSemanticCompare    StageKind = "semantic-compare"
	KindPeerDiscover       StageKind = "peer-discover"
	KindAccreditationCheck StageKind = "accreditation-check"
	KindQualityValidate    StageKind = "quality-validate"
	KindAggregate          StageKind = "aggregate"
)

// Status is the overall workflow state.
type Status string

// Workflow status values. Pending and Running are transitional;
// the rest are terminal.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusDegraded  Status = "degraded"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	switch s {
	case StatusDegraded, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StageStatus is the per-stage state.
type StageStatus string

// Stage status values.
const (
	StageBlocked      StageStatus = "blocked"
	StageReady        StageStatus = "ready"
	StageDispatched   StageStatus = "dispatched"
	StageSucceeded    StageStatus = "succeeded"
	StageFailed       StageStatus = "failed"
	StageDeadLettered StageStatus = "dead-lettered"
	StageCancelled    StageStatus = "cancelled"
)

// Terminal reports whether the stage status is a terminal state.
func (s StageStatus) Terminal() bool {
	switch s {
	case StageSucceeded, StageFailed, StageDeadLettered, StageCancelled:
		return true
	}
	return false
}

// AnalysisOptions carries optional request configuration.
type AnalysisOptions struct {
	PeerInstitutions []string `json:"peer_institutions,omitempty"`
	Depth            string   `json:"depth,omitempty"`
	FocusAreas       []string `json:"focus_areas,omitempty"`
}

// AnalysisRequest identifies the target curriculum and requested analysis.
// It is immutable once accepted; a re-run is a new request.
type AnalysisRequest struct {
	DocumentID  uuid.UUID       `json:"document_id"`
	Program     string          `json:"program"`
	Institution string          `json:"institution"`
	Type        AnalysisType    `json:"type"`
	Options     AnalysisOptions `json:"options"`
}

// StageNode is a unit of work within a workflow. Output is opaque to the
// engine and typed per stage kind by the unit that produced it.
type StageNode struct {
	ID            string          `json:"id"`
	Kind          StageKind       `json:"kind"`
	DependsOn     []string        `json:"depends_on,omitempty"`
	Optional      bool            `json:"optional,omitempty"`
	Status        StageStatus     `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     *StageError     `json:"last_error,omitempty"`
	Output        json.RawMessage `json:"output,omitempty"`
	DegradedInput bool            `json:"degraded_input,omitempty"`
}

// Workflow is one accepted analysis run: a DAG of stage nodes plus the
// overall status. It is owned exclusively by a single engine instance for
// the run's lifetime and persisted for audit after completion.
type Workflow struct {
	ID           uuid.UUID             `json:"id"`
	Type         AnalysisType          `json:"type"`
	Request      AnalysisRequest       `json:"request"`
	Status       Status                `json:"status"`
	StatusReason string                `json:"status_reason,omitempty"`
	Stages       map[string]*StageNode `json:"stages"`
	Verdict      *QualityVerdict       `json:"verdict,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	CompletedAt  *time.Time            `json:"completed_at,omitempty"`
}

// Stage returns the node with the given id, or nil.
func (w *Workflow) Stage(id string) *StageNode {
	return w.Stages[id]
}

// Ready returns the stages currently in the ready state.
func (w *Workflow) Ready() []*StageNode {
	var ready []*StageNode
	for _, s := range w.Stages {
		if s.Status == StageReady {
			ready = append(ready, s)
		}
	}
	return ready
}

// UpstreamsSucceeded reports whether every upstream of the node has
// succeeded, along with whether any succeeded upstream carried a degraded
// marker that must be threaded into the node's input.
func (w *Workflow) UpstreamsSucceeded(node *StageNode) (ok, degraded bool) {
	ok = true
	for _, dep := range node.DependsOn {
		up := w.Stages[dep]
		if up == nil {
			return false, false
		}
		switch up.Status {
		case StageSucceeded:
			if up.DegradedInput {
				degraded = true
			}
		case StageDeadLettered:
			// An optional upstream that dead-lettered does not block
			// dependents; they proceed with degraded input.
			if up.Optional {
				degraded = true
				continue
			}
			ok = false
		default:
			ok = false
		}
	}
	return ok, degraded
}

// Unblock promotes every blocked stage whose upstreams have succeeded to
// ready, threading the degraded-input marker from optional dead-lettered
// upstreams. It returns the stages promoted by this call.
func (w *Workflow) Unblock() []*StageNode {
	var promoted []*StageNode
	for _, s := range w.Stages {
		if s.Status != StageBlocked {
			continue
		}
		ok, degraded := w.UpstreamsSucceeded(s)
		if !ok {
			continue
		}
		s.Status = StageReady
		s.DegradedInput = s.DegradedInput || degraded
		promoted = append(promoted, s)
	}
	return promoted
}

// Clone returns a deep copy safe to hand to readers outside the engine's
// single-writer update path.
func (w *Workflow) Clone() *Workflow {
	clone := *w
	clone.Stages = make(map[string]*StageNode, len(w.Stages))
	for id, s := range w.Stages {
		node := *s
		node.DependsOn = append([]string(nil), s.DependsOn...)
		node.Output = append(json.RawMessage(nil), s.Output...)
		if s.LastError != nil {
			lastErr := *s.LastError
			node.LastError = &lastErr
		}
		clone.Stages[id] = &node
	}
	if w.Verdict != nil {
		verdict := *w.Verdict
		verdict.Dimensions = make(map[Dimension]float64, len(w.Verdict.Dimensions))
		for dim, score := range w.Verdict.Dimensions {
			verdict.Dimensions[dim] = score
		}
		verdict.Conflicts = append([]Conflict(nil), w.Verdict.Conflicts...)
		clone.Verdict = &verdict
	}
	if w.CompletedAt != nil {
		completed := *w.CompletedAt
		clone.CompletedAt = &completed
	}
	return &clone
}

// Settled reports whether every stage has reached a terminal state.
func (w *Workflow) Settled() bool {
	for _, s := range w.Stages {
		if !s.Status.Terminal() {
			return false
		}
	}
	return true
}

// Degraded reports whether any optional stage dead-lettered or any stage
// ran on degraded input.
func (w *Workflow) Degraded() bool {
	for _, s := range w.Stages {
		if s.Status == StageDeadLettered && s.Optional {
			return true
		}
		if s.Status == StageSucceeded && s.DegradedInput {
			return true
		}
	}
	return false
}
