package workflow

import "time"

// Dimension names a quality scoring dimension.
type Dimension string

// Quality dimensions aggregated by the quality gate.
const (
	DimCompleteness Dimension = "completeness"
	DimAccuracy     Dimension = "accuracy"
	DimConsistency  Dimension = "consistency"
	DimTimeliness   Dimension = "timeliness"
	DimValidity     Dimension = "validity"
)

// Severity grades a cross-reference conflict.
type Severity string

// Conflict severities. An unresolved high-severity conflict blocks approval.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Resolution records how a cross-reference conflict was settled.
type Resolution string

// Conflict resolutions.
const (
	ResolvedByAuthority Resolution = "authority"
	ResolvedByConsensus Resolution = "consensus"
	Unresolved          Resolution = "unresolved"
)

// SourceClaim is one source's reported value for a disputed field.
type SourceClaim struct {
	Source string `json:"source"`
	Value  string `json:"value"`
}

// Conflict is a disagreement between sources over a single field.
type Conflict struct {
	Field      string        `json:"field"`
	Severity   Severity      `json:"severity"`
	Claims     []SourceClaim `json:"claims"`
	Resolution Resolution    `json:"resolution"`
	Resolved   string        `json:"resolved,omitempty"`
}

// QualityVerdict is the quality gate's judgment of a completed workflow.
// Approved is true iff the aggregate score meets the configured threshold
// and no high-severity conflict remains unresolved.
type QualityVerdict struct {
	Aggregate   float64               `json:"aggregate"`
	Dimensions  map[Dimension]float64 `json:"dimensions"`
	Conflicts   []Conflict            `json:"conflicts,omitempty"`
	Approved    bool                  `json:"approved"`
	EvaluatedAt time.Time             `json:"evaluated_at"`
}

// UnresolvedHigh reports whether any high-severity conflict is unresolved.
func (v *QualityVerdict) UnresolvedHigh() bool {
	for _, c := range v.Conflicts {
		if c.Resolution == Unresolved && c.Severity == SeverityHigh {
			return true
		}
	}
	return false
}
