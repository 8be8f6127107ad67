package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StageTemplate declares one stage within an analysis type's DAG.
type StageTemplate struct {
	Kind      StageKind
	DependsOn []StageKind
	Optional  bool
}

// Template is the declarative stage DAG for one analysis type.
// Templates are expanded into concrete StageNodes at workflow creation.
type Template struct {
	Type   AnalysisType
	Stages []StageTemplate
}

var templates = map[AnalysisType]Template{
	TypeGap: {
		Type: TypeGap,
		Stages: []StageTemplate{
			{Kind: KindExtractContent},
			{Kind: KindAccreditationCheck, DependsOn: []StageKind{KindExtractContent}},
			{Kind: KindQualityValidate, DependsOn: []StageKind{KindAccreditationCheck}},
			{Kind: KindAggregate, DependsOn: []StageKind{
				KindQualityValidate,
				KindAccreditationCheck,
			}},
		},
	},
	TypeSemantic: {
		Type: TypeSemantic,
		Stages: []StageTemplate{
			{Kind: KindExtractContent},
			{Kind: KindSemanticCompare, DependsOn: []StageKind{KindExtractContent}},
			{Kind: KindQualityValidate, DependsOn: []StageKind{KindSemanticCompare}},
			{Kind: KindAggregate, DependsOn: []StageKind{KindQualityValidate}},
		},
	},
	TypePeerComparison: {
		Type: TypePeerComparison,
		Stages: []StageTemplate{
			{Kind: KindExtractContent},
			{Kind: KindPeerDiscover, DependsOn: []StageKind{KindExtractContent}},
			{Kind: KindSemanticCompare, DependsOn: []StageKind{KindExtractContent}},
			{Kind: KindQualityValidate, DependsOn: []StageKind{KindPeerDiscover, KindSemanticCompare}},
			{Kind: KindAggregate, DependsOn: []StageKind{
				KindQualityValidate,
				KindPeerDiscover,
			}},
		},
	},
	TypeComprehensive: {
		Type: TypeComprehensive,
		Stages: []StageTemplate{
			{Kind: KindExtractContent},
			{Kind: KindSemanticCompare, DependsOn: []StageKind{KindExtractContent}},
			{Kind: KindPeerDiscover, DependsOn: []StageKind{KindExtractContent}, Optional: true},
			{Kind: KindAccreditationCheck, DependsOn: []StageKind{KindExtractContent}},
			{Kind: KindQualityValidate, DependsOn: []StageKind{
				KindSemanticCompare,
				KindPeerDiscover,
				KindAccreditationCheck,
			}},
			// Aggregate depends on the cross-reference stages directly so
			// their source reports reach the quality gate; a dead-lettered
			// optional upstream simply contributes no report.
			{Kind: KindAggregate, DependsOn: []StageKind{
				KindQualityValidate,
				KindPeerDiscover,
				KindAccreditationCheck,
			}},
		},
	},
}

// TemplateFor returns the stage DAG template for the given analysis type.
func TemplateFor(t AnalysisType) (Template, error) {
	tpl, ok := templates[t]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return tpl, nil
}

// Expand instantiates a new Workflow from the template. Stages without
// predecessors start ready; all others start blocked.
func (t Template) Expand(req AnalysisRequest) *Workflow {
	stages := make(map[string]*StageNode, len(t.Stages))
	for _, st := range t.Stages {
		node := &StageNode{
			ID:       string(st.Kind),
			Kind:     st.Kind,
			Optional: st.Optional,
			Status:   StageBlocked,
		}
		for _, dep := range st.DependsOn {
			node.DependsOn = append(node.DependsOn, string(dep))
		}
		if len(node.DependsOn) == 0 {
			node.Status = StageReady
		}
		stages[node.ID] = node
	}

	return &Workflow{
		ID:        uuid.New(),
		Type:      t.Type,
		Request:   req,
		Status:    StatusPending,
		Stages:    stages,
		CreatedAt: time.Now().UTC(),
	}
}
