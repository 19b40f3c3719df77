package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/shoppy/pkg/agent"
	"github.com/germanamz/shoppy/pkg/agentctx"
	"github.com/germanamz/shoppy/pkg/cart"
	"github.com/germanamz/shoppy/pkg/chats/chat"
	"github.com/germanamz/shoppy/pkg/chats/content"
	"github.com/germanamz/shoppy/pkg/chats/message"
	"github.com/germanamz/shoppy/pkg/chats/role"
	"github.com/germanamz/shoppy/pkg/modeladapter"
	"github.com/germanamz/shoppy/pkg/shoptools"
	"github.com/germanamz/shoppy/pkg/tools/toolbox"
)

// --- test helpers ---

// completerFunc adapts a function to the Completer interface.
type completerFunc func(ctx context.Context, c *chat.Chat, tools []toolbox.Tool) (message.Message, error)

func (f completerFunc) Complete(ctx context.Context, c *chat.Chat, tools []toolbox.Tool) (message.Message, error) {
	return f(ctx, c, tools)
}

// mockCompleters backs the "mock" provider kind, keyed by model name so
// tests stay independent of each other.
var mockCompleters sync.Map

func init() {
	RegisterProvider("mock", func(cfg ProviderConfig) (modeladapter.Completer, error) {
		v, ok := mockCompleters.Load(cfg.Model)
		if !ok {
			return nil, fmt.Errorf("no mock completer for model %q", cfg.Model)
		}
		return v.(modeladapter.Completer), nil
	})
}

func useMockCompleter(t *testing.T, c modeladapter.Completer) string {
	t.Helper()

	model := "mock-" + t.Name()
	mockCompleters.Store(model, c)
	t.Cleanup(func() { mockCompleters.Delete(model) })

	return model
}

func testConfig(model string) *Config {
	return &Config{
		Providers: []ProviderConfig{{Name: "mock-main", Kind: "mock", Model: model}},
		Agents: []AgentConfig{{
			Name:          "shopper",
			Description:   "Grocery shopping assistant",
			Instructions:  "Ты помощник по покупкам ВкусВилл.",
			MaxIterations: 4,
		}},
	}
}

func newTestEngine(t *testing.T, cfg *Config) *Engine {
	t.Helper()

	e, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	return e
}

func finalAnswerReply(answer string) message.Message {
	return message.New("model", role.Assistant, content.ToolCall{
		ID:        "c1",
		Name:      shoptools.FinalAnswerTool,
		Arguments: fmt.Sprintf(`{"answer":%q}`, answer),
	})
}

// answerCompleter finishes every run immediately with the given answer.
func answerCompleter(answer string) completerFunc {
	return func(context.Context, *chat.Chat, []toolbox.Tool) (message.Message, error) {
		return finalAnswerReply(answer), nil
	}
}

// --- construction ---

func TestNewInvalidConfig(t *testing.T) {
	_, err := New(context.Background(), &Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine: config")
}

func TestNewUnknownProviderKind(t *testing.T) {
	cfg := testConfig("unused")
	cfg.Providers[0].Kind = "carrier-pigeon"

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `engine: provider "mock-main"`)
	assert.Contains(t, err.Error(), "unknown provider kind")
}

func TestNewInvalidRetailerTimeout(t *testing.T) {
	cfg := testConfig(useMockCompleter(t, answerCompleter("ok")))
	cfg.Retailer.Timeout = "fast"

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `engine: retailer: invalid timeout "fast"`)
}

func TestNewInvalidToolTimeout(t *testing.T) {
	cfg := testConfig(useMockCompleter(t, answerCompleter("ok")))
	cfg.Agents[0].ToolTimeout = "never"

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `engine: agent "shopper": invalid tool_timeout "never"`)
}

func TestNewMissingPromptFile(t *testing.T) {
	cfg := testConfig(useMockCompleter(t, answerCompleter("ok")))
	cfg.Agents[0].PromptFiles = []string{filepath.Join(t.TempDir(), "missing.md")}

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `engine: agent "shopper"`)
}

func TestNewUnknownEffectKind(t *testing.T) {
	cfg := testConfig(useMockCompleter(t, answerCompleter("ok")))
	cfg.Agents[0].Effects = []EffectConfig{{Kind: "time-travel"}}

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `engine: agent "shopper": effect[0]: unknown kind "time-travel"`)
}

func TestNewBadEffectParam(t *testing.T) {
	cfg := testConfig(useMockCompleter(t, answerCompleter("ok")))
	cfg.Agents[0].Effects = []EffectConfig{{
		Kind:   "loop_detect",
		Params: map[string]any{"threshold": "три"},
	}}

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "effect[0] (loop_detect)")
	assert.Contains(t, err.Error(), `param "threshold"`)
}

func TestNewWithEffects(t *testing.T) {
	cfg := testConfig(useMockCompleter(t, answerCompleter("Готово.")))
	cfg.Agents[0].Effects = []EffectConfig{
		{Kind: "trim_tool_results", Params: map[string]any{"max_result_length": 400, "preserve_recent": 2}},
		{Kind: "loop_detect", Params: map[string]any{"threshold": 3}},
	}
	e := newTestEngine(t, cfg)

	res, err := e.RunTask(context.Background(), "", "Найди молоко")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestNewLoadsPromptFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "tone.md"),
		[]byte("Отвечай кратко и дружелюбно."),
		0o600,
	))

	var systemPrompt string
	c := completerFunc(func(_ context.Context, ch *chat.Chat, _ []toolbox.Tool) (message.Message, error) {
		systemPrompt = ch.SystemPrompt()
		return finalAnswerReply("Готово."), nil
	})

	cfg := testConfig(useMockCompleter(t, c))
	cfg.Agents[0].PromptFiles = []string{filepath.Join(dir, "tone.md")}
	e := newTestEngine(t, cfg)

	_, err := e.RunTask(context.Background(), "", "Найди молоко")
	require.NoError(t, err)
	assert.Contains(t, systemPrompt, "Отвечай кратко и дружелюбно.")
}

// --- RunTask ---

func TestRunTaskSuccess(t *testing.T) {
	cfg := testConfig(useMockCompleter(t, answerCompleter("Нашёл молоко: 89 ₽.")))
	e := newTestEngine(t, cfg)

	res, err := e.RunTask(context.Background(), "shopper", "Найди молоко")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "Нашёл молоко: 89 ₽.", res.Result)
	assert.NotEmpty(t, res.AgentID)
	assert.NoError(t, res.Err)
}

func TestRunTaskDefaultAgent(t *testing.T) {
	cfg := testConfig(useMockCompleter(t, answerCompleter("Готово.")))
	cfg.Agents = append(cfg.Agents, AgentConfig{Name: "helper", Description: "Second agent"})
	cfg.DefaultAgent = "helper"
	e := newTestEngine(t, cfg)

	sub := e.Events().Subscribe(32)
	defer e.Events().Unsubscribe(sub)

	res, err := e.RunTask(context.Background(), "", "Найди молоко")
	require.NoError(t, err)
	assert.True(t, res.Success)

	start := receiveEvent(t, sub)
	assert.Equal(t, EventAgentStart, start.Kind)
	assert.Equal(t, "helper", start.Agent)
}

func TestRunTaskUnknownAgent(t *testing.T) {
	cfg := testConfig(useMockCompleter(t, answerCompleter("ok")))
	e := newTestEngine(t, cfg)

	_, err := e.RunTask(context.Background(), "ghost", "Найди молоко")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAgentNotFound)
	assert.Contains(t, err.Error(), `"ghost"`)
}

func TestRunTaskBudgetExceeded(t *testing.T) {
	prose := completerFunc(func(context.Context, *chat.Chat, []toolbox.Tool) (message.Message, error) {
		return message.NewText("model", role.Assistant, "Сейчас посмотрю..."), nil
	})
	cfg := testConfig(useMockCompleter(t, prose))
	e := newTestEngine(t, cfg)

	res, err := e.RunTask(context.Background(), "", "Найди молоко")
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Empty(t, res.Result)
	assert.NotEmpty(t, res.AgentID)
	assert.ErrorIs(t, res.Err, agent.ErrBudgetExceeded)
}

func TestRunTaskCompleterFailure(t *testing.T) {
	broken := completerFunc(func(context.Context, *chat.Chat, []toolbox.Tool) (message.Message, error) {
		return message.Message{}, errors.New("api is down")
	})
	cfg := testConfig(useMockCompleter(t, broken))
	e := newTestEngine(t, cfg)

	res, err := e.RunTask(context.Background(), "", "Найди молоко")
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.ErrorContains(t, res.Err, "api is down")
}

func TestRunTaskEvents(t *testing.T) {
	cfg := testConfig(useMockCompleter(t, answerCompleter("Готово.")))
	e := newTestEngine(t, cfg)

	sub := e.Events().Subscribe(32)
	defer e.Events().Unsubscribe(sub)

	_, err := e.RunTask(context.Background(), "", "Найди молоко")
	require.NoError(t, err)

	var kinds []EventKind
	var taskID string
	deadline := time.After(2 * time.Second)

	for {
		select {
		case ev := <-sub.C:
			if taskID == "" {
				taskID = ev.TaskID
			}
			assert.NotEmpty(t, ev.TaskID)
			assert.Equal(t, taskID, ev.TaskID)
			assert.Equal(t, "shopper", ev.Agent)
			kinds = append(kinds, ev.Kind)
			if ev.Kind == EventAgentEnd {
				goto done
			}
		case <-deadline:
			t.Fatalf("timed out waiting for agent_end, got %v", kinds)
		}
	}

done:
	// The final answer is itself a tool call, so one start/end pair sits
	// between the agent lifecycle events.
	assert.Equal(t, []EventKind{EventAgentStart, EventToolCallStart, EventToolCallEnd, EventAgentEnd}, kinds)
}

func TestRunTaskFreshAgentPerTask(t *testing.T) {
	var chatLens []int
	c := completerFunc(func(_ context.Context, ch *chat.Chat, _ []toolbox.Tool) (message.Message, error) {
		chatLens = append(chatLens, ch.Len())
		return finalAnswerReply("Готово."), nil
	})
	cfg := testConfig(useMockCompleter(t, c))
	e := newTestEngine(t, cfg)

	res1, err := e.RunTask(context.Background(), "", "Найди молоко")
	require.NoError(t, err)
	res2, err := e.RunTask(context.Background(), "", "Найди хлеб")
	require.NoError(t, err)

	assert.NotEqual(t, res1.AgentID, res2.AgentID)

	// Each run starts from a clean chat: system prompt plus one user message.
	assert.Equal(t, []int{2, 2}, chatLens)
}

func TestRunTaskSearchToolRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/products/search", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"products":[{"id":"p1","name":"Молоко 3.2%","price":89}]}`)
	}))
	defer srv.Close()

	var sawSearchResult bool
	calls := 0
	c := completerFunc(func(_ context.Context, ch *chat.Chat, _ []toolbox.Tool) (message.Message, error) {
		calls++
		if calls == 1 {
			return message.New("model", role.Assistant, content.ToolCall{
				ID:        "c1",
				Name:      "search_products",
				Arguments: `{"query":"молоко","limit":2}`,
			}), nil
		}

		for _, m := range ch.Messages() {
			for _, res := range m.ToolResults() {
				if strings.Contains(res.Content, "Молоко 3.2%") {
					sawSearchResult = true
				}
			}
		}

		return finalAnswerReply("Нашёл молоко за 89 ₽."), nil
	})

	cfg := testConfig(useMockCompleter(t, c))
	cfg.Retailer.BaseURL = srv.URL
	e := newTestEngine(t, cfg)

	res, err := e.RunTask(context.Background(), "", "Найди молоко")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "Нашёл молоко за 89 ₽.", res.Result)
	assert.True(t, sawSearchResult, "search result should be in the chat before the final answer")
}

func TestRunTaskClearsCartDraft(t *testing.T) {
	var store *cart.Store
	var taskID string
	draftLenDuringRun := -1

	calls := 0
	c := completerFunc(func(ctx context.Context, _ *chat.Chat, _ []toolbox.Tool) (message.Message, error) {
		calls++
		if calls == 1 {
			taskID = agentctx.TaskIDFromContext(ctx)
			return message.New("model", role.Assistant, content.ToolCall{
				ID:        "c1",
				Name:      "cart_add",
				Arguments: `{"product_id":"p1","name":"Молоко 3.2%","quantity":1,"price":89}`,
			}), nil
		}

		draftLenDuringRun = len(store.Items(taskID))
		return finalAnswerReply("Добавил молоко."), nil
	})

	cfg := testConfig(useMockCompleter(t, c))
	e := newTestEngine(t, cfg)
	store = e.carts

	res, err := e.RunTask(context.Background(), "", "Добавь молоко")
	require.NoError(t, err)
	require.True(t, res.Success)

	// The draft existed while the agent was working and is gone afterwards.
	require.NotEmpty(t, taskID)
	assert.Equal(t, 1, draftLenDuringRun)
	assert.Empty(t, e.carts.Items(taskID))
}

// --- sessions ---

func TestSessionCartPersistsAcrossSends(t *testing.T) {
	var cartView string
	calls := 0
	c := completerFunc(func(context.Context, *chat.Chat, []toolbox.Tool) (message.Message, error) {
		calls++
		switch calls {
		case 1:
			return message.New("model", role.Assistant, content.ToolCall{
				ID:        "c1",
				Name:      "cart_add",
				Arguments: `{"product_id":"p1","name":"Молоко 3.2%","quantity":2,"price":89}`,
			}), nil
		case 2:
			return finalAnswerReply("Добавил молоко."), nil
		case 3:
			return message.New("model", role.Assistant, content.ToolCall{
				ID:        "c2",
				Name:      "cart_view",
				Arguments: `{}`,
			}), nil
		default:
			return finalAnswerReply("В корзине молоко."), nil
		}
	})

	cfg := testConfig(useMockCompleter(t, c))
	e := newTestEngine(t, cfg)

	s, err := e.NewSession("")
	require.NoError(t, err)
	assert.Equal(t, "session-1", s.ID())

	got, ok := e.Session(s.ID())
	require.True(t, ok)
	assert.Same(t, s, got)

	reply, err := s.Send(context.Background(), "Добавь молоко в корзину")
	require.NoError(t, err)
	assert.Equal(t, "Добавил молоко.", reply.TextContent())

	reply, err = s.Send(context.Background(), "Что в корзине?")
	require.NoError(t, err)
	assert.Equal(t, "В корзине молоко.", reply.TextContent())

	// The second turn saw the draft built in the first one.
	for _, m := range s.Agent().Chat().Messages() {
		for _, res := range m.ToolResults() {
			if res.ToolCallID == "c2" {
				cartView = res.Content
			}
		}
	}
	assert.Contains(t, cartView, "Молоко 3.2%")
	assert.Contains(t, cartView, `"total":178`)
}

func TestSessionUnknownAgent(t *testing.T) {
	cfg := testConfig(useMockCompleter(t, answerCompleter("ok")))
	e := newTestEngine(t, cfg)

	_, err := e.NewSession("ghost")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestSessionSingleFlight(t *testing.T) {
	cfg := testConfig(useMockCompleter(t, answerCompleter("Готово.")))
	e := newTestEngine(t, cfg)

	s, err := e.NewSession("")
	require.NoError(t, err)

	require.NoError(t, s.acquire())

	_, err = s.Send(context.Background(), "Найди молоко")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another Send is already active")

	s.release()

	reply, err := s.Send(context.Background(), "Найди молоко")
	require.NoError(t, err)
	assert.Equal(t, "Готово.", reply.TextContent())
}

func TestSessionCloseClearsState(t *testing.T) {
	calls := 0
	c := completerFunc(func(context.Context, *chat.Chat, []toolbox.Tool) (message.Message, error) {
		calls++
		if calls == 1 {
			return message.New("model", role.Assistant, content.ToolCall{
				ID:        "c1",
				Name:      "cart_add",
				Arguments: `{"product_id":"p1","name":"Молоко 3.2%","quantity":1,"price":89}`,
			}), nil
		}
		return finalAnswerReply("Добавил молоко."), nil
	})

	cfg := testConfig(useMockCompleter(t, c))
	e := newTestEngine(t, cfg)

	s, err := e.NewSession("")
	require.NoError(t, err)

	_, err = s.Send(context.Background(), "Добавь молоко")
	require.NoError(t, err)
	require.NotEmpty(t, e.carts.Items(s.taskID))

	s.Close()

	_, ok := e.Session(s.ID())
	assert.False(t, ok)
	assert.Empty(t, e.carts.Items(s.taskID))

	// A second Close is harmless.
	s.Close()
}

// --- accessors ---

func TestAgentsListing(t *testing.T) {
	cfg := testConfig(useMockCompleter(t, answerCompleter("ok")))
	cfg.Agents = append(cfg.Agents, AgentConfig{Name: "courier", Description: "Delivery helper"})
	e := newTestEngine(t, cfg)

	entries := e.Agents()
	require.Len(t, entries, 2)
	assert.Equal(t, "courier", entries[0].Name)
	assert.Equal(t, "Delivery helper", entries[0].Description)
	assert.Equal(t, "shopper", entries[1].Name)

	assert.Equal(t, "shopper", e.DefaultAgent())
}

func TestEngineAddr(t *testing.T) {
	cfg := testConfig(useMockCompleter(t, answerCompleter("ok")))
	cfg.Server.Addr = ":9100"
	e := newTestEngine(t, cfg)

	assert.Equal(t, ":9100", e.Addr())
}

func TestEngineCloseWithoutMCP(t *testing.T) {
	cfg := testConfig(useMockCompleter(t, answerCompleter("ok")))
	e, err := New(context.Background(), cfg)
	require.NoError(t, err)

	assert.NoError(t, e.Close())
	assert.NoError(t, e.Close())
}
