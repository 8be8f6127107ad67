package units

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/curricle/curricle/workflow"
)

// HTTPUnit invokes a remote processing unit over HTTP POST. The unit
// receives the Envelope as a JSON body and answers with a Response.
type HTTPUnit struct {
	endpoint string
	client   *http.Client
}

// NewHTTPUnit creates a remote unit bound to the given endpoint. The
// http.Client carries no timeout of its own; deadlines come from the
// caller's context.
func NewHTTPUnit(endpoint string) *HTTPUnit {
	return &HTTPUnit{
		endpoint: endpoint,
		client:   &http.Client{},
	}
}

// Call posts the envelope to the unit endpoint and decodes the response.
func (u *HTTPUnit) Call(ctx context.Context, env Envelope) (*Response, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, workflow.NewStageError(
			workflow.ErrKindInvalidInput,
			"marshal envelope: %v", err,
		)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create unit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, workflow.NewStageError(
			workflow.ErrKindTransient,
			"unit request failed: %v", err,
		)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, workflow.NewStageError(
			workflow.ErrKindTransient,
			"read unit response: %v", err,
		)
	}

	var parsed Response
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, workflow.NewStageError(
			workflow.ErrKindUnitFailure,
			"decode unit response: %v", err,
		)
	}

	return &parsed, nil
}

// classifyStatus maps non-2xx transport statuses onto the error taxonomy:
// 429 and 503 indicate load shedding (transient), other 4xx reject the
// input (fatal), remaining 5xx are unit failures within retry budget.
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
		return workflow.NewStageError(
			workflow.ErrKindTransient,
			"unit responded %d", status,
		)
	case status >= 400 && status < 500:
		return workflow.NewStageError(
			workflow.ErrKindInvalidInput,
			"unit rejected request with %d", status,
		)
	default:
		return workflow.NewStageError(
			workflow.ErrKindUnitFailure,
			"unit responded %d", status,
		)
	}
}
