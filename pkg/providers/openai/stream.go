package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/germanamz/shoppy/pkg/chats/content"
	"github.com/germanamz/shoppy/pkg/chats/message"
	"github.com/germanamz/shoppy/pkg/chats/role"
	"github.com/germanamz/shoppy/pkg/modeladapter"
	"github.com/germanamz/shoppy/pkg/modeladapter/usage"
)

// --- streaming wire types ---

type apiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type apiStreamChunk struct {
	Choices []apiStreamChoice `json:"choices"`
	Usage   *apiUsage         `json:"usage"`
}

type apiStreamChoice struct {
	Delta        apiStreamDelta `json:"delta"`
	FinishReason *string        `json:"finish_reason"`
}

type apiStreamDelta struct {
	Content   *string             `json:"content"`
	ToolCalls []apiStreamToolCall `json:"tool_calls"`
}

type apiStreamToolCall struct {
	Index    int             `json:"index"`
	ID       string          `json:"id"`
	Function apiToolFunction `json:"function"`
}

// toolCallAgg reassembles one tool call from fragments spread across stream
// chunks. Fragments belonging to the same call share an index; the ID and name
// arrive in the first fragment, argument text accumulates across the rest.
type toolCallAgg struct {
	index int
	id    string
	name  string
	args  strings.Builder
}

// completeStream sends the request with stream enabled and reassembles the
// assistant reply from SSE deltas.
func (a *Adapter) completeStream(ctx context.Context, req apiRequest) (message.Message, error) {
	req.Stream = true
	req.StreamOptions = &apiStreamOptions{IncludeUsage: true}

	payload, err := json.Marshal(req)
	if err != nil {
		return message.Message{}, fmt.Errorf("openai: marshal payload: %w", err)
	}

	op := http.MethodPost + " " + completionsPath

	httpReq, err := a.NewRequest(ctx, http.MethodPost, completionsPath, bytes.NewReader(payload))
	if err != nil {
		return message.Message{}, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.Do(httpReq)
	if err != nil {
		return message.Message{}, fmt.Errorf("openai: %w", &modeladapter.TransportError{Op: op, Err: err})
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		respBody, _ := io.ReadAll(resp.Body)
		return message.Message{}, fmt.Errorf("openai: %w", &modeladapter.RateLimitError{
			RetryAfter: modeladapter.ParseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       string(respBody),
		})
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return message.Message{}, fmt.Errorf("openai: %w", &modeladapter.TransportError{
			Op:  op,
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody)),
		})
	}

	var (
		text     strings.Builder
		toolAggs = map[int]*toolCallAgg{}
		used     *apiUsage
	)

	scanner := bufio.NewScanner(resp.Body)
	// Argument deltas can push a data line past the default 64 KiB limit.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk apiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return message.Message{}, fmt.Errorf("openai: %w", &modeladapter.TransportError{
				Op:  op,
				Err: fmt.Errorf("decode stream chunk: %w", err),
			})
		}

		if chunk.Usage != nil {
			u := *chunk.Usage
			used = &u
		}

		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != nil {
			text.WriteString(*delta.Content)
		}

		for _, tc := range delta.ToolCalls {
			agg, ok := toolAggs[tc.Index]
			if !ok {
				agg = &toolCallAgg{index: tc.Index}
				toolAggs[tc.Index] = agg
			}
			if tc.ID != "" {
				agg.id = tc.ID
			}
			if tc.Function.Name != "" {
				agg.name = tc.Function.Name
			}
			agg.args.WriteString(tc.Function.Arguments)
		}
	}

	if err := scanner.Err(); err != nil {
		return message.Message{}, fmt.Errorf("openai: %w", &modeladapter.TransportError{
			Op:  op,
			Err: fmt.Errorf("read stream: %w", err),
		})
	}

	a.ObserveRateLimitHeaders(resp.Header)

	if used != nil {
		a.Usage.Add(usage.TokenCount{
			InputTokens:  used.PromptTokens,
			OutputTokens: used.CompletionTokens,
		})
	}

	var parts []content.Part
	if text.Len() > 0 {
		parts = append(parts, content.Text{Text: text.String()})
	}

	aggs := make([]*toolCallAgg, 0, len(toolAggs))
	for _, agg := range toolAggs {
		aggs = append(aggs, agg)
	}
	slices.SortFunc(aggs, func(x, y *toolCallAgg) int { return x.index - y.index })

	for _, agg := range aggs {
		args := agg.args.String()
		if args == "" {
			args = "{}"
		}
		parts = append(parts, content.ToolCall{ID: agg.id, Name: agg.name, Arguments: args})
	}

	return message.New("", role.Assistant, parts...), nil
}
