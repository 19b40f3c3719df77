package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/germanamz/shoppy/pkg/agentctx"
	"github.com/germanamz/shoppy/pkg/tools/toolbox"
)

// EventKind identifies the type of an engine event.
type EventKind string

// Event kinds published by the engine.
const (
	EventAgentStart    EventKind = "agent_start"
	EventAgentEnd      EventKind = "agent_end"
	EventToolCallStart EventKind = "tool_call_start"
	EventToolCallEnd   EventKind = "tool_call_end"
	EventError         EventKind = "error"
)

// Event is a single engine activity notification. Events serialize to JSON
// for the WebSocket stream.
type Event struct {
	Kind      EventKind      `json:"kind"`
	TaskID    string         `json:"task_id,omitempty"`
	Agent     string         `json:"agent,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Subscription is a registered event consumer. Read events from C; the
// channel is closed on Unsubscribe.
type Subscription struct {
	C  <-chan Event
	ch chan Event
}

// EventBus fans out engine events to subscribers. Publishing never blocks:
// events are dropped for subscribers whose buffer is full.
type EventBus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewEventBus creates an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new consumer with the given channel buffer size.
func (b *EventBus) Subscribe(bufSize int) *Subscription {
	ch := make(chan Event, bufSize)
	sub := &Subscription{C: ch, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = struct{}{}

	return sub
}

// Unsubscribe removes a consumer and closes its channel. Calling it twice is
// a no-op.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// Publish delivers an event to all subscribers without blocking.
func (b *EventBus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
		}
	}
}

// withToolEvents returns a copy of the toolbox whose handlers publish
// tool_call_start and tool_call_end events around each invocation. Task and
// agent identity come from the context the agent loop passes to handlers.
func withToolEvents(tb *toolbox.ToolBox, bus *EventBus) *toolbox.ToolBox {
	wrapped := toolbox.New()

	for _, t := range tb.Tools() {
		tool := t
		inner := tool.Handler
		tool.Handler = func(ctx context.Context, input json.RawMessage) (string, error) {
			taskID := agentctx.TaskIDFromContext(ctx)
			agentName := agentctx.AgentNameFromContext(ctx)

			bus.Publish(Event{
				Kind:   EventToolCallStart,
				TaskID: taskID,
				Agent:  agentName,
				Data:   map[string]any{"tool": tool.Name, "arguments": string(input)},
			})

			out, err := inner(ctx, input)

			data := map[string]any{"tool": tool.Name}
			if err != nil {
				data["error"] = err.Error()
			}
			bus.Publish(Event{
				Kind:   EventToolCallEnd,
				TaskID: taskID,
				Agent:  agentName,
				Data:   data,
			})

			return out, err
		}
		wrapped.Register(tool)
	}

	return wrapped
}
