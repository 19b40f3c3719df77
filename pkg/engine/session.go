package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/germanamz/shoppy/pkg/agent"
	"github.com/germanamz/shoppy/pkg/agentctx"
	"github.com/germanamz/shoppy/pkg/chats/message"
	"github.com/germanamz/shoppy/pkg/chats/role"
)

// Session is one multi-turn conversation with a spawned agent. The agent's
// chat and the session's task identity persist across Sends, so the cart
// draft built in one turn is visible in the next. Only one Send may be
// active at a time.
type Session struct {
	id     string
	taskID string
	agent  *agent.Agent
	engine *Engine
	events *EventBus

	mu     sync.Mutex
	active bool
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Agent returns the session's agent.
func (s *Session) Agent() *agent.Agent { return s.agent }

// Close removes the session from the engine and drops its cart draft. The
// session must not be used after Close.
func (s *Session) Close() {
	s.engine.dropSession(s.id)
	s.engine.carts.Clear(s.taskID)
}

// Send appends a user message and runs the agent until it produces a final
// answer. It returns the agent's reply message.
func (s *Session) Send(ctx context.Context, text string) (message.Message, error) {
	if err := s.acquire(); err != nil {
		return message.Message{}, err
	}
	defer s.release()

	ctx = agentctx.WithTaskID(ctx, s.taskID)

	s.events.Publish(Event{
		Kind:   EventAgentStart,
		TaskID: s.taskID,
		Agent:  s.agent.Name(),
		Data:   map[string]any{"task": text},
	})

	s.agent.Chat().Append(message.NewText("user", role.User, text))

	reply, err := s.agent.Run(ctx)
	if err != nil {
		s.events.Publish(Event{
			Kind:   EventError,
			TaskID: s.taskID,
			Agent:  s.agent.Name(),
			Data:   map[string]any{"error": err.Error()},
		})
		s.events.Publish(Event{
			Kind:   EventAgentEnd,
			TaskID: s.taskID,
			Agent:  s.agent.Name(),
			Data:   map[string]any{"success": false},
		})

		return message.Message{}, err
	}

	s.events.Publish(Event{
		Kind:   EventAgentEnd,
		TaskID: s.taskID,
		Agent:  s.agent.Name(),
		Data:   map[string]any{"success": true},
	})

	return reply, nil
}

func (s *Session) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return fmt.Errorf("engine: session %s: another Send is already active", s.id)
	}
	s.active = true

	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}
