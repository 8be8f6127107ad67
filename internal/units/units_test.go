package units_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/curricle/curricle/internal/units"
	"github.com/curricle/curricle/workflow"
)

type stubUnit struct {
	resp *units.Response
	err  error
	env  units.Envelope
}

func (s *stubUnit) Call(ctx context.Context, env units.Envelope) (*units.Response, error) {
	s.env = env
	return s.resp, s.err
}

func stageErrKind(t *testing.T, err error) workflow.ErrorKind {
	t.Helper()
	var stageErr *workflow.StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("error %v is not a StageError", err)
	}
	return stageErr.Kind
}

func TestInvokeSuccess(t *testing.T) {
	resp, err := units.Success(map[string]any{"sections": []string{}})
	if err != nil {
		t.Fatalf("Success() error = %v", err)
	}
	unit := &stubUnit{resp: resp}

	sys := units.New(map[workflow.StageKind]units.Unit{
		workflow.KindExtractContent: unit,
	}, slog.Default())

	env := units.Envelope{
		WorkflowID: uuid.New(),
		StageID:    "extract-content",
		Attempt:    1,
		Payload:    json.RawMessage(`{"document_id":"abc"}`),
	}

	result, err := sys.Invoke(context.Background(), workflow.KindExtractContent, env, time.Second)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if string(result) != `{"sections":[]}` {
		t.Errorf("result = %s", result)
	}
	if unit.env.StageID != "extract-content" {
		t.Errorf("unit saw envelope %+v", unit.env)
	}
}

func TestInvokeUnregisteredKind(t *testing.T) {
	sys := units.New(map[workflow.StageKind]units.Unit{}, slog.Default())

	_, err := sys.Invoke(
		context.Background(),
		workflow.KindAggregate,
		units.Envelope{Payload: json.RawMessage(`{"upstream":{}}`)},
		time.Second,
	)
	if kind := stageErrKind(t, err); kind != workflow.ErrKindInvalidInput {
		t.Errorf("kind = %s, want invalid-input", kind)
	}
}

func TestInvokePayloadValidation(t *testing.T) {
	tests := []struct {
		name    string
		kind    workflow.StageKind
		payload json.RawMessage
		wantOK  bool
	}{
		{
			name:    "extract-content requires document_id",
			kind:    workflow.KindExtractContent,
			payload: json.RawMessage(`{"program":"BS CS"}`),
		},
		{
			name:    "peer-discover requires institution and program",
			kind:    workflow.KindPeerDiscover,
			payload: json.RawMessage(`{"institution":"Sierra Valley State"}`),
		},
		{
			name:    "aggregate requires upstream",
			kind:    workflow.KindAggregate,
			payload: json.RawMessage(`{"document_id":"abc"}`),
		},
		{
			name:    "empty payload rejected",
			kind:    workflow.KindExtractContent,
			payload: nil,
		},
		{
			name:    "non-object payload rejected",
			kind:    workflow.KindExtractContent,
			payload: json.RawMessage(`[1,2]`),
		},
		{
			name:    "complete payload accepted",
			kind:    workflow.KindPeerDiscover,
			payload: json.RawMessage(`{"institution":"Sierra Valley State","program":"BS CS"}`),
			wantOK:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := units.ValidatePayload(tt.kind, tt.payload)
			if tt.wantOK {
				if err != nil {
					t.Fatalf("ValidatePayload() error = %v", err)
				}
				return
			}
			if kind := stageErrKind(t, err); kind != workflow.ErrKindInvalidInput {
				t.Errorf("kind = %s, want invalid-input", kind)
			}
		})
	}
}

func TestInvokeValidatesResult(t *testing.T) {
	// Result missing the kind's required field is a retryable unit failure.
	resp, _ := units.Success(map[string]any{"unexpected": true})
	sys := units.New(map[workflow.StageKind]units.Unit{
		workflow.KindExtractContent: &stubUnit{resp: resp},
	}, slog.Default())

	_, err := sys.Invoke(
		context.Background(),
		workflow.KindExtractContent,
		units.Envelope{Payload: json.RawMessage(`{"document_id":"abc"}`)},
		time.Second,
	)
	if kind := stageErrKind(t, err); kind != workflow.ErrKindUnitFailure {
		t.Errorf("kind = %s, want unit-failure", kind)
	}
}

func TestInvokeNilResponse(t *testing.T) {
	sys := units.New(map[workflow.StageKind]units.Unit{
		workflow.KindExtractContent: &stubUnit{},
	}, slog.Default())

	_, err := sys.Invoke(
		context.Background(),
		workflow.KindExtractContent,
		units.Envelope{Payload: json.RawMessage(`{"document_id":"abc"}`)},
		time.Second,
	)
	if kind := stageErrKind(t, err); kind != workflow.ErrKindUnitFailure {
		t.Errorf("kind = %s, want unit-failure", kind)
	}
}

func TestResponseUnwrap(t *testing.T) {
	tests := []struct {
		name     string
		resp     units.Response
		wantKind workflow.ErrorKind
		wantOK   bool
	}{
		{
			name:   "success",
			resp:   units.Response{Status: units.ResponseSuccess, Result: json.RawMessage(`{}`)},
			wantOK: true,
		},
		{
			name:     "failure with kind",
			resp:     *units.Failure(workflow.ErrKindInvalidInput, "bad input"),
			wantKind: workflow.ErrKindInvalidInput,
		},
		{
			name:     "failure without kind defaults to unit failure",
			resp:     units.Response{Status: units.ResponseFailure},
			wantKind: workflow.ErrKindUnitFailure,
		},
		{
			name:     "unrecognized status",
			resp:     units.Response{Status: "partial"},
			wantKind: workflow.ErrKindUnitFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.resp.Unwrap()
			if tt.wantOK {
				if err != nil {
					t.Fatalf("Unwrap() error = %v", err)
				}
				if string(result) != `{}` {
					t.Errorf("result = %s", result)
				}
				return
			}
			if kind := stageErrKind(t, err); kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", kind, tt.wantKind)
			}
		})
	}
}

func TestHTTPUnitCall(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind workflow.ErrorKind
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body:   `{"status":"success","result":{"sections":[]}}`,
		},
		{
			name:     "429 is transient",
			status:   http.StatusTooManyRequests,
			wantKind: workflow.ErrKindTransient,
		},
		{
			name:     "503 is transient",
			status:   http.StatusServiceUnavailable,
			wantKind: workflow.ErrKindTransient,
		},
		{
			name:     "400 is invalid input",
			status:   http.StatusBadRequest,
			wantKind: workflow.ErrKindInvalidInput,
		},
		{
			name:     "500 is unit failure",
			status:   http.StatusInternalServerError,
			wantKind: workflow.ErrKindUnitFailure,
		},
		{
			name:     "malformed body is unit failure",
			status:   http.StatusOK,
			body:     `not-json`,
			wantKind: workflow.ErrKindUnitFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var received units.Envelope
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewDecoder(r.Body).Decode(&received)
				w.WriteHeader(tt.status)
				if tt.body != "" {
					w.Write([]byte(tt.body))
				}
			}))
			defer srv.Close()

			unit := units.NewHTTPUnit(srv.URL)
			env := units.Envelope{
				WorkflowID: uuid.New(),
				StageID:    "extract-content",
				Attempt:    2,
				Payload:    json.RawMessage(`{"document_id":"abc"}`),
			}

			resp, err := unit.Call(context.Background(), env)
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("Call() error = %v", err)
				}
				if resp.Status != units.ResponseSuccess {
					t.Errorf("status = %s", resp.Status)
				}
				if received.Attempt != 2 || received.StageID != "extract-content" {
					t.Errorf("unit received envelope %+v", received)
				}
				return
			}
			if kind := stageErrKind(t, err); kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", kind, tt.wantKind)
			}
		})
	}
}

func TestHTTPUnitUnreachable(t *testing.T) {
	unit := units.NewHTTPUnit("http://127.0.0.1:1")

	_, err := unit.Call(context.Background(), units.Envelope{
		Payload: json.RawMessage(`{"document_id":"abc"}`),
	})
	if kind := stageErrKind(t, err); kind != workflow.ErrKindTransient {
		t.Errorf("kind = %s, want transient", kind)
	}
}

func TestInvokeTimeout(t *testing.T) {
	// The handler parks on a channel the test closes during cleanup; request
	// contexts do not reliably fire for a client that gave up mid-body.
	// Cleanups run last-in-first-out, so release closes before srv.Close
	// waits on the parked handler.
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	sys := units.New(map[workflow.StageKind]units.Unit{
		workflow.KindExtractContent: units.NewHTTPUnit(srv.URL),
	}, slog.Default())

	_, err := sys.Invoke(
		context.Background(),
		workflow.KindExtractContent,
		units.Envelope{Payload: json.RawMessage(`{"document_id":"abc"}`)},
		20*time.Millisecond,
	)
	if kind := stageErrKind(t, err); kind != workflow.ErrKindTransient {
		t.Errorf("kind = %s, want transient (timeouts stay retryable)", kind)
	}
}

func TestConfigFinalize(t *testing.T) {
	endpoints := func() map[string]string {
		return map[string]string{
			"extract-content":     "http://localhost:9001",
			"peer-discover":       "http://localhost:9002",
			"accreditation-check": "http://localhost:9003",
			"quality-validate":    "http://localhost:9004",
		}
	}

	t.Run("defaults", func(t *testing.T) {
		cfg := units.Config{Endpoints: endpoints()}
		if err := cfg.Finalize(nil); err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}
		if cfg.Collection != "course-embeddings" || cfg.TopK != 10 {
			t.Errorf("defaults = %s/%d", cfg.Collection, cfg.TopK)
		}
		if got := cfg.EndpointFor(workflow.KindPeerDiscover); got != "http://localhost:9002" {
			t.Errorf("EndpointFor = %s", got)
		}
	})

	t.Run("missing endpoint rejected", func(t *testing.T) {
		eps := endpoints()
		delete(eps, "quality-validate")
		cfg := units.Config{Endpoints: eps}
		if err := cfg.Finalize(nil); err == nil {
			t.Error("expected error for missing endpoint")
		}
	})

	t.Run("invalid endpoint rejected", func(t *testing.T) {
		eps := endpoints()
		eps["extract-content"] = "not a url"
		cfg := units.Config{Endpoints: eps}
		if err := cfg.Finalize(nil); err == nil {
			t.Error("expected error for invalid endpoint")
		}
	})

	t.Run("env override", func(t *testing.T) {
		t.Setenv("TEST_EXTRACT", "http://override:9000")
		t.Setenv("TEST_TOPK", "25")

		cfg := units.Config{Endpoints: endpoints()}
		err := cfg.Finalize(&units.Env{ExtractContent: "TEST_EXTRACT", TopK: "TEST_TOPK"})
		if err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}
		if got := cfg.EndpointFor(workflow.KindExtractContent); got != "http://override:9000" {
			t.Errorf("EndpointFor = %s", got)
		}
		if cfg.TopK != 25 {
			t.Errorf("TopK = %d, want 25", cfg.TopK)
		}
	})
}
