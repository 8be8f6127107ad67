// Package progress publishes stage and workflow status transitions to live
// subscribers. Delivery is at-most-once: a slow or disconnected subscriber
// misses events and re-queries workflow state on reconnect. A short
// per-workflow buffer replays recent events to reconnecting subscribers.
package progress

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/curricle/curricle/pkg/lifecycle"
	"github.com/curricle/curricle/workflow"
)

// Subscription is one subscriber connection. Events are received from
// Events until Disconnect, after which the channel is closed.
type Subscription struct {
	workflowID *uuid.UUID
	events     chan workflow.ProgressEvent
	closed     bool
}

// Events returns the subscription's event stream.
func (s *Subscription) Events() <-chan workflow.ProgressEvent {
	return s.events
}

type buffer struct {
	events []workflow.ProgressEvent
	last   time.Time
}

// Notifier maintains the subscriber registry keyed by workflow id plus an
// optional global feed.
type Notifier struct {
	cfg    *Config
	logger *slog.Logger

	mu      sync.RWMutex
	subs    map[uuid.UUID]map[*Subscription]struct{}
	global  map[*Subscription]struct{}
	buffers map[uuid.UUID]*buffer
}

// New creates a Notifier with the given configuration.
func New(cfg *Config, logger *slog.Logger) *Notifier {
	return &Notifier{
		cfg:     cfg,
		logger:  logger.With("system", "progress"),
		subs:    make(map[uuid.UUID]map[*Subscription]struct{}),
		global:  make(map[*Subscription]struct{}),
		buffers: make(map[uuid.UUID]*buffer),
	}
}

// Start registers the buffer janitor with the lifecycle coordinator so
// abandoned workflow buffers are released within one cleanup cycle.
func (n *Notifier) Start(lc *lifecycle.Coordinator) error {
	n.logger.Info("starting progress notifier")

	lc.OnShutdown(func() {
		ticker := time.NewTicker(n.cfg.CleanupIntervalDuration())
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				n.prune()
			case <-lc.Context().Done():
				n.closeAll()
				return
			}
		}
	})

	return nil
}

// Publish delivers the event to all subscribers of its workflow and the
// global feed, never blocking: a subscriber with a full channel drops the
// event. The event is also appended to the workflow's replay buffer.
func (n *Notifier) Publish(ev workflow.ProgressEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()

	buf, ok := n.buffers[ev.WorkflowID]
	if !ok {
		buf = &buffer{}
		n.buffers[ev.WorkflowID] = buf
	}
	buf.events = append(buf.events, ev)
	if len(buf.events) > n.cfg.BufferSize {
		buf.events = buf.events[len(buf.events)-n.cfg.BufferSize:]
	}
	buf.last = time.Now()

	for sub := range n.subs[ev.WorkflowID] {
		sub.send(ev)
	}
	for sub := range n.global {
		sub.send(ev)
	}
}

// Connect subscribes to one workflow's events, replaying the retained
// buffer into the new subscription first.
func (n *Notifier) Connect(workflowID uuid.UUID) *Subscription {
	sub := &Subscription{
		workflowID: &workflowID,
		events:     make(chan workflow.ProgressEvent, n.cfg.ChannelSize),
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if buf, ok := n.buffers[workflowID]; ok {
		for _, ev := range buf.events {
			sub.send(ev)
		}
	}

	if n.subs[workflowID] == nil {
		n.subs[workflowID] = make(map[*Subscription]struct{})
	}
	n.subs[workflowID][sub] = struct{}{}

	return sub
}

// ConnectGlobal subscribes to every workflow's events.
func (n *Notifier) ConnectGlobal() *Subscription {
	sub := &Subscription{
		events: make(chan workflow.ProgressEvent, n.cfg.ChannelSize),
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.global[sub] = struct{}{}

	return sub
}

// Disconnect removes the subscription and closes its channel.
func (n *Notifier) Disconnect(sub *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if sub.closed {
		return
	}

	if sub.workflowID != nil {
		delete(n.subs[*sub.workflowID], sub)
		if len(n.subs[*sub.workflowID]) == 0 {
			delete(n.subs, *sub.workflowID)
		}
	} else {
		delete(n.global, sub)
	}

	sub.closed = true
	close(sub.events)
}

// Subscribers reports the current subscriber count for a workflow.
func (n *Notifier) Subscribers(workflowID uuid.UUID) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs[workflowID])
}

// send delivers without blocking. Dropping is acceptable: delivery is
// at-most-once and clients re-query state after gaps.
func (s *Subscription) send(ev workflow.ProgressEvent) {
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

// prune drops replay buffers idle past the retention window with no
// remaining subscribers.
func (n *Notifier) prune() {
	cutoff := time.Now().Add(-n.cfg.RetentionDuration())

	n.mu.Lock()
	defer n.mu.Unlock()

	for id, buf := range n.buffers {
		if buf.last.Before(cutoff) && len(n.subs[id]) == 0 {
			delete(n.buffers, id)
		}
	}
}

func (n *Notifier) closeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, subs := range n.subs {
		for sub := range subs {
			sub.closed = true
			close(sub.events)
		}
		delete(n.subs, id)
	}
	for sub := range n.global {
		sub.closed = true
		close(sub.events)
	}
	n.global = make(map[*Subscription]struct{})

	n.logger.Info("progress notifier stopped")
}
