package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/germanamz/shoppy/pkg/engine"
	"github.com/germanamz/shoppy/pkg/shoptools"
)

// runTask executes a single task and prints the styled result. Tool activity
// is echoed while the agent works, the way the HTTP clients see it on the
// event stream.
func runTask(ctx context.Context, eng *engine.Engine, agentName, task string, verbose bool) error {
	initMarkdownRenderer(100)

	sess, err := eng.NewSession(agentName)
	if err != nil {
		return err
	}
	defer sess.Close()

	sub := eng.Events().Subscribe(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.C {
			printEvent(ev, verbose)
		}
	}()

	fmt.Println(taskBanner(sess.Agent().Name(), task))
	fmt.Println()

	reply, err := sess.Send(ctx, task)

	eng.Events().Unsubscribe(sub)
	<-done

	if err != nil {
		fmt.Println(errorBlockStyle.Render("✗ " + err.Error()))
		return err
	}

	fmt.Println()
	fmt.Println(answerPrefixStyle.Render("🤖 Answer"))
	fmt.Println(renderMarkdown(reply.TextContent()))

	return nil
}

// taskBanner renders the start-of-run header box.
func taskBanner(agent, task string) string {
	title := bannerTitleStyle.Render("🛒 VkusVill Shopping Agent")
	meta := bannerMetaStyle.Render("agent: " + agent)

	return bannerBoxStyle.Render(title + "\n" + meta + "\n\n" + task)
}

// printEvent echoes one engine event to the terminal. The final answer tool
// is skipped; its content becomes the rendered answer.
func printEvent(ev engine.Event, verbose bool) {
	switch ev.Kind {
	case engine.EventToolCallStart:
		name, _ := ev.Data["tool"].(string)
		if name == shoptools.FinalAnswerTool {
			return
		}

		fmt.Println(toolLineStyle.Render("  ⚙ " + name))

		if verbose {
			if args, ok := ev.Data["arguments"].(string); ok && args != "" {
				fmt.Println(toolArgsStyle.Render("    " + truncate(args, 120)))
			}
		}
	case engine.EventToolCallEnd:
		if errText, ok := ev.Data["error"].(string); ok {
			fmt.Println(toolErrorStyle.Render("    ✗ " + truncate(errText, 160)))
		}
	}
}

// mdRenderer renders markdown answers for the terminal.
var mdRenderer *glamour.TermRenderer

func initMarkdownRenderer(width int) {
	if width <= 0 {
		width = 100
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return
	}
	mdRenderer = r
}

// renderMarkdown converts markdown text to terminal-formatted output. It
// falls back to the raw text when rendering is unavailable.
func renderMarkdown(text string) string {
	if mdRenderer == nil {
		return text
	}

	out, err := mdRenderer.Render(text)
	if err != nil {
		return text
	}

	return strings.TrimRight(out, "\n")
}

// truncate returns s shortened to at most n runes, with "..." appended if
// truncated. Newlines are replaced with spaces for single-line display.
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n]) + "..."
}
