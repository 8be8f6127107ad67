// Package quality implements the quality gate: weighted aggregation of
// validation dimension scores and cross-reference conflict resolution,
// producing the QualityVerdict that decides approval of a completed run.
package quality

import (
	"log/slog"
	"sort"
	"time"

	"github.com/curricle/curricle/workflow"
)

// SourceReport is one source's cross-reference contribution: its claimed
// field values plus an optional authority weight.
type SourceReport struct {
	Source    string            `json:"source"`
	Authority float64           `json:"authority,omitempty"`
	Fields    map[string]string `json:"fields"`
}

// Gate evaluates completed workflows against configured quality policy.
type Gate struct {
	cfg    *Config
	logger *slog.Logger
}

// NewGate creates a quality gate with the given configuration.
func NewGate(cfg *Config, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:    cfg,
		logger: logger.With("system", "quality"),
	}
}

// Evaluate computes the verdict from validation dimension scores and
// cross-reference reports. An unapproved verdict is a valid outcome, not
// an error; the workflow still completes.
func (g *Gate) Evaluate(
	scores map[workflow.Dimension]float64,
	reports []SourceReport,
) workflow.QualityVerdict {
	verdict := workflow.QualityVerdict{
		Dimensions:  make(map[workflow.Dimension]float64, len(scores)),
		EvaluatedAt: time.Now().UTC(),
	}

	for dim, score := range scores {
		verdict.Dimensions[dim] = clamp(score)
		verdict.Aggregate += g.cfg.Weight(dim) * clamp(score)
	}
	verdict.Aggregate = clamp(verdict.Aggregate)

	verdict.Conflicts = g.resolveConflicts(reports)
	verdict.Approved = verdict.Aggregate >= g.cfg.ApprovalThreshold && !verdict.UnresolvedHigh()

	g.logger.Info(
		"verdict evaluated",
		"aggregate", verdict.Aggregate,
		"conflicts", len(verdict.Conflicts),
		"approved", verdict.Approved,
	)

	return verdict
}

// resolveConflicts finds fields where sources disagree and settles each by
// authority override, then majority consensus, else leaves it unresolved.
func (g *Gate) resolveConflicts(reports []SourceReport) []workflow.Conflict {
	fields := make(map[string][]workflow.SourceClaim)
	for _, r := range reports {
		for field, value := range r.Fields {
			fields[field] = append(fields[field], workflow.SourceClaim{
				Source: r.Source,
				Value:  value,
			})
		}
	}

	names := make([]string, 0, len(fields))
	for field := range fields {
		names = append(names, field)
	}
	sort.Strings(names)

	var conflicts []workflow.Conflict
	for _, field := range names {
		claims := fields[field]
		if !disputed(claims) {
			continue
		}

		conflict := workflow.Conflict{
			Field:    field,
			Severity: g.cfg.SeverityFor(field),
			Claims:   claims,
		}
		conflict.Resolution, conflict.Resolved = g.settle(claims, reports)
		conflicts = append(conflicts, conflict)
	}

	return conflicts
}

func (g *Gate) settle(claims []workflow.SourceClaim, reports []SourceReport) (workflow.Resolution, string) {
	// Authority override: the single most authoritative source wins when
	// it clears the threshold and no equally authoritative source disputes it.
	best, bestAuthority, contested := "", 0.0, false
	for _, claim := range claims {
		authority := g.cfg.Authority(claim.Source, claimedAuthority(reports, claim.Source))
		switch {
		case authority > bestAuthority:
			best, bestAuthority, contested = claim.Value, authority, false
		case authority == bestAuthority && claim.Value != best:
			contested = true
		}
	}
	if bestAuthority > g.cfg.AuthorityThreshold && !contested {
		return workflow.ResolvedByAuthority, best
	}

	// Majority consensus among available sources.
	counts := make(map[string]int)
	for _, claim := range claims {
		counts[claim.Value]++
	}
	for value, n := range counts {
		if float64(n)/float64(len(claims)) > g.cfg.ConsensusThreshold {
			return workflow.ResolvedByConsensus, value
		}
	}

	return workflow.Unresolved, ""
}

func claimedAuthority(reports []SourceReport, source string) float64 {
	for _, r := range reports {
		if r.Source == source {
			return r.Authority
		}
	}
	return 0
}

func disputed(claims []workflow.SourceClaim) bool {
	for _, c := range claims[1:] {
		if c.Value != claims[0].Value {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
