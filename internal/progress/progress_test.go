package progress_test

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/curricle/curricle/internal/progress"
	"github.com/curricle/curricle/pkg/routes"
	"github.com/curricle/curricle/workflow"
)

func newNotifier(t *testing.T) *progress.Notifier {
	t.Helper()
	cfg := &progress.Config{}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("finalize config: %v", err)
	}
	return progress.New(cfg, slog.Default())
}

func event(id uuid.UUID, stage, status string) workflow.ProgressEvent {
	return workflow.ProgressEvent{
		WorkflowID: id,
		StageID:    stage,
		Status:     status,
		Timestamp:  time.Now().UTC(),
	}
}

func receive(t *testing.T, sub *progress.Subscription) workflow.ProgressEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return workflow.ProgressEvent{}
	}
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	n := newNotifier(t)
	id := uuid.New()

	sub := n.Connect(id)
	global := n.ConnectGlobal()
	other := n.Connect(uuid.New())

	n.Publish(event(id, "extract-content", "dispatched"))

	got := receive(t, sub)
	if got.StageID != "extract-content" || got.Status != "dispatched" {
		t.Errorf("received %+v", got)
	}

	if got := receive(t, global); got.WorkflowID != id {
		t.Errorf("global received %+v", got)
	}

	select {
	case ev := <-other.Events():
		t.Errorf("unrelated subscriber received %+v", ev)
	default:
	}
}

func TestConnectReplaysBuffer(t *testing.T) {
	n := newNotifier(t)
	id := uuid.New()

	n.Publish(event(id, "extract-content", "dispatched"))
	n.Publish(event(id, "extract-content", "succeeded"))

	sub := n.Connect(id)

	first := receive(t, sub)
	second := receive(t, sub)
	if first.Status != "dispatched" || second.Status != "succeeded" {
		t.Errorf("replayed %s then %s, want dispatched then succeeded", first.Status, second.Status)
	}
}

func TestBufferBounded(t *testing.T) {
	cfg := &progress.Config{BufferSize: 2, ChannelSize: 16, Retention: "5m", CleanupInterval: "30s"}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("finalize config: %v", err)
	}
	n := progress.New(cfg, slog.Default())
	id := uuid.New()

	n.Publish(event(id, "extract-content", "dispatched"))
	n.Publish(event(id, "extract-content", "succeeded"))
	n.Publish(event(id, "aggregate", "dispatched"))

	sub := n.Connect(id)

	first := receive(t, sub)
	if first.Status != "succeeded" {
		t.Errorf("oldest retained = %s, want succeeded (first event evicted)", first.Status)
	}
	second := receive(t, sub)
	if second.StageID != "aggregate" {
		t.Errorf("second retained = %+v", second)
	}
	select {
	case ev := <-sub.Events():
		t.Errorf("buffer should hold 2 events, got extra %+v", ev)
	default:
	}
}

func TestDisconnectClosesChannel(t *testing.T) {
	n := newNotifier(t)
	id := uuid.New()

	sub := n.Connect(id)
	if n.Subscribers(id) != 1 {
		t.Fatalf("Subscribers = %d, want 1", n.Subscribers(id))
	}

	n.Disconnect(sub)
	if n.Subscribers(id) != 0 {
		t.Errorf("Subscribers = %d, want 0", n.Subscribers(id))
	}

	if _, ok := <-sub.Events(); ok {
		t.Error("channel should be closed after disconnect")
	}

	// Disconnect is idempotent.
	n.Disconnect(sub)

	// Publishing after disconnect must not panic or deliver.
	n.Publish(event(id, "aggregate", "succeeded"))
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	cfg := &progress.Config{BufferSize: 8, ChannelSize: 1, Retention: "5m", CleanupInterval: "30s"}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("finalize config: %v", err)
	}
	n := progress.New(cfg, slog.Default())
	id := uuid.New()

	sub := n.Connect(id)

	// Channel capacity 1: the second publish must drop, not block.
	done := make(chan struct{})
	go func() {
		n.Publish(event(id, "extract-content", "dispatched"))
		n.Publish(event(id, "extract-content", "succeeded"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}

	if got := receive(t, sub); got.Status != "dispatched" {
		t.Errorf("received %s, want dispatched", got.Status)
	}
	select {
	case ev := <-sub.Events():
		t.Errorf("dropped event was delivered: %+v", ev)
	default:
	}
}

func TestStreamEndpoint(t *testing.T) {
	n := newNotifier(t)
	h := progress.NewHandler(n, slog.Default())
	id := uuid.New()

	n.Publish(event(id, "extract-content", "dispatched"))

	mux := http.NewServeMux()
	routes.Register(mux, h.Routes())
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/progress/"+id.String(), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %s", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read event line: %v", err)
	}
	if !strings.HasPrefix(line, "data: ") {
		t.Fatalf("line = %q, want data: prefix", line)
	}

	var ev workflow.ProgressEvent
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.WorkflowID != id || ev.Status != "dispatched" {
		t.Errorf("streamed event = %+v", ev)
	}

	cancel()
}

func TestStreamRejectsBadID(t *testing.T) {
	n := newNotifier(t)
	h := progress.NewHandler(n, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/progress/not-a-uuid", nil)
	req.SetPathValue("id", "not-a-uuid")
	rec := httptest.NewRecorder()

	h.Stream(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     progress.Config
		wantErr bool
	}{
		{name: "defaults", cfg: progress.Config{}},
		{name: "negative buffer", cfg: progress.Config{BufferSize: -1}, wantErr: true},
		{name: "bad retention", cfg: progress.Config{Retention: "forever"}, wantErr: true},
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
