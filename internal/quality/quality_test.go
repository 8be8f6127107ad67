package quality_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/curricle/curricle/internal/quality"
	"github.com/curricle/curricle/internal/units"
	"github.com/curricle/curricle/workflow"
)

func newGate(t *testing.T, cfg *quality.Config) *quality.Gate {
	t.Helper()
	if cfg == nil {
		cfg = &quality.Config{}
	}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("finalize config: %v", err)
	}
	return quality.NewGate(cfg, slog.Default())
}

func TestEvaluateAggregate(t *testing.T) {
	gate := newGate(t, nil)

	tests := []struct {
		name          string
		scores        map[workflow.Dimension]float64
		wantAggregate float64
		wantApproved  bool
	}{
		{
			name: "perfect scores approved",
			scores: map[workflow.Dimension]float64{
				workflow.DimCompleteness: 1,
				workflow.DimAccuracy:     1,
				workflow.DimConsistency:  1,
				workflow.DimTimeliness:   1,
				workflow.DimValidity:     1,
			},
			wantAggregate: 1,
			wantApproved:  true,
		},
		{
			name: "aggregate below threshold rejected",
			scores: map[workflow.Dimension]float64{
				workflow.DimCompleteness: 0.5,
				workflow.DimAccuracy:     0.5,
				workflow.DimConsistency:  0.5,
				workflow.DimTimeliness:   0.5,
				workflow.DimValidity:     0.5,
			},
			wantAggregate: 0.5,
			wantApproved:  false,
		},
		{
			name: "out of range scores clamped",
			scores: map[workflow.Dimension]float64{
				workflow.DimCompleteness: 1.8,
				workflow.DimAccuracy:     -0.5,
			},
			wantAggregate: 0.25,
			wantApproved:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := gate.Evaluate(tt.scores, nil)
			if math.Abs(verdict.Aggregate-tt.wantAggregate) > 1e-9 {
				t.Errorf("Aggregate = %v, want %v", verdict.Aggregate, tt.wantAggregate)
			}
			if verdict.Approved != tt.wantApproved {
				t.Errorf("Approved = %v, want %v", verdict.Approved, tt.wantApproved)
			}
			if verdict.EvaluatedAt.IsZero() {
				t.Error("EvaluatedAt not set")
			}
		})
	}
}

func TestEvaluateThresholdBoundary(t *testing.T) {
	// Halving weights keep the weighted sum bit-exact, so the boundary
	// comparison is deterministic.
	gate := newGate(t, &quality.Config{
		Weights: map[string]float64{
			string(workflow.DimCompleteness): 0.5,
			string(workflow.DimAccuracy):     0.5,
		},
	})

	at := gate.Evaluate(map[workflow.Dimension]float64{
		workflow.DimCompleteness: 0.8,
		workflow.DimAccuracy:     0.8,
	}, nil)
	if !at.Approved {
		t.Errorf("aggregate at threshold should be approved, got %v", at.Aggregate)
	}

	below := gate.Evaluate(map[workflow.Dimension]float64{
		workflow.DimCompleteness: 0.75,
		workflow.DimAccuracy:     0.75,
	}, nil)
	if below.Approved {
		t.Errorf("aggregate below threshold should be rejected, got %v", below.Aggregate)
	}
}

func passingScores() map[workflow.Dimension]float64 {
	return map[workflow.Dimension]float64{
		workflow.DimCompleteness: 0.95,
		workflow.DimAccuracy:     0.95,
		workflow.DimConsistency:  0.95,
		workflow.DimTimeliness:   0.95,
		workflow.DimValidity:     0.95,
	}
}

func TestConflictResolution(t *testing.T) {
	tests := []struct {
		name           string
		cfg            *quality.Config
		reports        []quality.SourceReport
		wantField      string
		wantResolution workflow.Resolution
		wantResolved   string
	}{
		{
			name: "authority override",
			cfg: &quality.Config{
				Authorities: map[string]float64{"accreditor": 0.95},
			},
			reports: []quality.SourceReport{
				{Source: "accreditor", Fields: map[string]string{"credits": "128"}},
				{Source: "catalog", Authority: 0.5, Fields: map[string]string{"credits": "120"}},
			},
			wantField:      "credits",
			wantResolution: workflow.ResolvedByAuthority,
			wantResolved:   "128",
		},
		{
			name: "equal authorities contested falls through to consensus then unresolved",
			cfg: &quality.Config{
				Authorities: map[string]float64{"accreditor": 0.9, "registrar": 0.9},
			},
			reports: []quality.SourceReport{
				{Source: "accreditor", Fields: map[string]string{"credits": "128"}},
				{Source: "registrar", Fields: map[string]string{"credits": "120"}},
			},
			wantField:      "credits",
			wantResolution: workflow.Unresolved,
		},
		{
			name: "majority consensus",
			reports: []quality.SourceReport{
				{Source: "catalog", Authority: 0.4, Fields: map[string]string{"duration": "4 years"}},
				{Source: "peer-a", Authority: 0.4, Fields: map[string]string{"duration": "4 years"}},
				{Source: "peer-b", Authority: 0.4, Fields: map[string]string{"duration": "5 years"}},
			},
			wantField:      "duration",
			wantResolution: workflow.ResolvedByConsensus,
			wantResolved:   "4 years",
		},
		{
			name: "even split stays unresolved",
			reports: []quality.SourceReport{
				{Source: "catalog", Authority: 0.4, Fields: map[string]string{"credits": "120"}},
				{Source: "peer-a", Authority: 0.4, Fields: map[string]string{"credits": "128"}},
			},
			wantField:      "credits",
			wantResolution: workflow.Unresolved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := newGate(t, tt.cfg)
			verdict := gate.Evaluate(passingScores(), tt.reports)

			if len(verdict.Conflicts) != 1 {
				t.Fatalf("got %d conflicts, want 1: %+v", len(verdict.Conflicts), verdict.Conflicts)
			}
			c := verdict.Conflicts[0]
			if c.Field != tt.wantField {
				t.Errorf("Field = %s, want %s", c.Field, tt.wantField)
			}
			if c.Resolution != tt.wantResolution {
				t.Errorf("Resolution = %s, want %s", c.Resolution, tt.wantResolution)
			}
			if c.Resolved != tt.wantResolved {
				t.Errorf("Resolved = %q, want %q", c.Resolved, tt.wantResolved)
			}
		})
	}
}

func TestAgreementProducesNoConflict(t *testing.T) {
	gate := newGate(t, nil)

	verdict := gate.Evaluate(passingScores(), []quality.SourceReport{
		{Source: "catalog", Fields: map[string]string{"credits": "120"}},
		{Source: "registrar", Fields: map[string]string{"credits": "120"}},
	})

	if len(verdict.Conflicts) != 0 {
		t.Errorf("agreeing sources produced conflicts: %+v", verdict.Conflicts)
	}
	if !verdict.Approved {
		t.Error("passing scores without conflicts should be approved")
	}
}

func TestUnresolvedHighBlocksApproval(t *testing.T) {
	cfg := &quality.Config{
		Severities: map[string]string{"accreditation_status": "high"},
	}
	gate := newGate(t, cfg)

	verdict := gate.Evaluate(passingScores(), []quality.SourceReport{
		{Source: "catalog", Authority: 0.4, Fields: map[string]string{"accreditation_status": "accredited"}},
		{Source: "peer-a", Authority: 0.4, Fields: map[string]string{"accreditation_status": "probation"}},
	})

	if len(verdict.Conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1", len(verdict.Conflicts))
	}
	if verdict.Conflicts[0].Severity != workflow.SeverityHigh {
		t.Errorf("Severity = %s, want high", verdict.Conflicts[0].Severity)
	}
	if !verdict.UnresolvedHigh() {
		t.Error("expected an unresolved high-severity conflict")
	}
	if verdict.Approved {
		t.Error("unresolved high-severity conflict must block approval")
	}
}

func TestSeverityDefaultsToMedium(t *testing.T) {
	cfg := &quality.Config{}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("finalize config: %v", err)
	}
	if got := cfg.SeverityFor("unconfigured_field"); got != workflow.SeverityMedium {
		t.Errorf("SeverityFor() = %s, want medium", got)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     quality.Config
		wantErr bool
	}{
		{
			name: "defaults pass",
			cfg:  quality.Config{},
		},
		{
			name:    "threshold above one rejected",
			cfg:     quality.Config{ApprovalThreshold: 1.2},
			wantErr: true,
		},
		{
			name:    "negative weight rejected",
			cfg:     quality.Config{Weights: map[string]float64{"accuracy": -0.1}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Finalize(nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("Finalize() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigEnvOverrides(t *testing.T) {
	t.Setenv("TEST_APPROVAL", "0.9")

	cfg := quality.Config{}
	if err := cfg.Finalize(&quality.Env{ApprovalThreshold: "TEST_APPROVAL"}); err != nil {
		t.Fatalf("finalize config: %v", err)
	}
	if cfg.ApprovalThreshold != 0.9 {
		t.Errorf("ApprovalThreshold = %v, want 0.9", cfg.ApprovalThreshold)
	}
}

func TestDimensionScores(t *testing.T) {
	upstream := map[string]json.RawMessage{
		string(workflow.KindQualityValidate): json.RawMessage(`{"dimensions":{"accuracy":0.8,"completeness":0.9}}`),
	}

	scores, err := quality.DimensionScores(upstream)
	if err != nil {
		t.Fatalf("DimensionScores() error = %v", err)
	}
	if scores[workflow.DimAccuracy] != 0.8 || scores[workflow.DimCompleteness] != 0.9 {
		t.Errorf("DimensionScores() = %v", scores)
	}

	_, err = quality.DimensionScores(map[string]json.RawMessage{})
	var stageErr *workflow.StageError
	if !errors.As(err, &stageErr) || stageErr.Kind != workflow.ErrKindInvalidInput {
		t.Errorf("missing validation output should be invalid-input, got %v", err)
	}
}

func TestCrossReferences(t *testing.T) {
	upstream := map[string]json.RawMessage{
		string(workflow.KindPeerDiscover):       json.RawMessage(`{"source":"peer-a","authority":0.5,"fields":{"credits":"120"}}`),
		string(workflow.KindAccreditationCheck): json.RawMessage(`{"source":"accreditor","authority":0.9,"fields":{"credits":"128"}}`),
		string(workflow.KindExtractContent):     json.RawMessage(`{"sections":[]}`),
	}

	reports := quality.CrossReferences(upstream)
	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(reports))
	}
	if reports[0].Source != "peer-a" || reports[1].Source != "accreditor" {
		t.Errorf("CrossReferences() = %+v", reports)
	}
}

func TestAggregateUnitCall(t *testing.T) {
	gate := newGate(t, nil)
	unit := quality.NewUnit(gate)

	payload := json.RawMessage(`{
		"upstream": {
			"quality-validate": {"dimensions":{"completeness":0.9,"accuracy":0.9,"consistency":0.9,"timeliness":0.9,"validity":0.9}},
			"accreditation-check": {"source":"accreditor","authority":0.9,"fields":{"credits":"128"}}
		}
	}`)

	resp, err := unit.Call(context.Background(), units.Envelope{
		WorkflowID: uuid.New(),
		StageID:    "aggregate",
		Attempt:    1,
		Payload:    payload,
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	result, err := resp.Unwrap()
	if err != nil {
		t.Fatalf("Unwrap() error = %v", err)
	}

	var verdict workflow.QualityVerdict
	if err := json.Unmarshal(result, &verdict); err != nil {
		t.Fatalf("unmarshal verdict: %v", err)
	}
	if !verdict.Approved {
		t.Errorf("verdict not approved: %+v", verdict)
	}
	if math.Abs(verdict.Aggregate-0.9) > 1e-9 {
		t.Errorf("Aggregate = %v, want 0.9", verdict.Aggregate)
	}
}

func TestAggregateUnitCallBadPayload(t *testing.T) {
	unit := quality.NewUnit(newGate(t, nil))

	_, err := unit.Call(context.Background(), units.Envelope{
		WorkflowID: uuid.New(),
		StageID:    "aggregate",
		Payload:    json.RawMessage(`not-json`),
	})

	var stageErr *workflow.StageError
	if !errors.As(err, &stageErr) || stageErr.Kind != workflow.ErrKindInvalidInput {
		t.Errorf("malformed payload should be invalid-input, got %v", err)
	}
}
