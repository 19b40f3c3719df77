// Package providers groups concrete LLM completion adapters.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/shoppy/pkg/providers/openai] — OpenAI Chat Completions adapter with optional SSE streaming
//   - [github.com/germanamz/shoppy/pkg/providers/anthropic] — Anthropic Messages adapter
//   - [github.com/germanamz/shoppy/pkg/providers/gemini] — Google Gemini generateContent adapter
//   - [github.com/germanamz/shoppy/pkg/providers/grok] — xAI Grok adapter (OpenAI-compatible API)
//
// Each adapter embeds modeladapter.ModelAdapter and implements
// modeladapter.Completer. Selecting an adapter by configured provider kind
// happens in pkg/engine.
package providers
