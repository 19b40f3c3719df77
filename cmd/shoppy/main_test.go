package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/shoppy/pkg/engine"
)

func TestLoadDotEnvMissingFileIgnored(t *testing.T) {
	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "nope.env")))
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SHOPPY_TEST_DOTENV_VAR=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SHOPPY_TEST_DOTENV_VAR") })

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("SHOPPY_TEST_DOTENV_VAR"))
}

func TestTaskBanner(t *testing.T) {
	out := taskBanner("shopper", "Найди молоко и добавь в корзину")

	assert.Contains(t, out, "VkusVill Shopping Agent")
	assert.Contains(t, out, "agent: shopper")
	assert.Contains(t, out, "Найди молоко")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "поку...", truncate("покупки и продукты", 4))
	assert.Equal(t, "a b", truncate("a\nb", 10))
}

func TestRenderMarkdownWithoutRenderer(t *testing.T) {
	saved := mdRenderer
	mdRenderer = nil
	t.Cleanup(func() { mdRenderer = saved })

	assert.Equal(t, "**Молоко** найдено", renderMarkdown("**Молоко** найдено"))
}

func TestPrintEventSkipsFinalAnswer(t *testing.T) {
	// Smoke check that the printer tolerates sparse event payloads.
	printEvent(engine.Event{Kind: engine.EventToolCallStart, Data: map[string]any{"tool": "final_answer"}}, true)
	printEvent(engine.Event{Kind: engine.EventToolCallStart, Data: map[string]any{"tool": "search_products"}}, false)
	printEvent(engine.Event{Kind: engine.EventToolCallEnd, Data: map[string]any{}}, true)
	printEvent(engine.Event{Kind: engine.EventAgentStart}, true)
}

func TestRunLoadsConfigErrors(t *testing.T) {
	err := run(filepath.Join(t.TempDir(), "missing.yaml"), "", "", "", false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine: load config")
}

func TestRunMCPBadConfigSurfaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retailer: ["), 0o600))

	err := run(path, "", "", "", true, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine: parse config")
}
