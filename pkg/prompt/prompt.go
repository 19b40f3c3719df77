// Package prompt provides loading of markdown files that agent definitions
// attach to their system prompts. A Section is a named block of markdown
// content derived from a .md file.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Section represents one system prompt block loaded from a markdown file.
type Section struct {
	Name    string // Derived from filename without extension (e.g., "store-rules").
	Content string // Raw markdown content.
}

// Load reads a single markdown file and returns a Section. The section name
// is derived from the filename with the extension stripped.
func Load(path string) (Section, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the agents file, not user input
	if err != nil {
		return Section{}, fmt.Errorf("prompt: load %q: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	return Section{
		Name:    name,
		Content: string(data),
	}, nil
}

// LoadFiles reads the given markdown files in order. A path that names a
// directory loads every .md file in it (non-recursive, sorted by filename).
func LoadFiles(paths []string) ([]Section, error) {
	var sections []Section

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("prompt: load %q: %w", p, err)
		}

		if info.IsDir() {
			dir, err := LoadDir(p)
			if err != nil {
				return nil, err
			}
			sections = append(sections, dir...)
			continue
		}

		s, err := Load(p)
		if err != nil {
			return nil, err
		}
		sections = append(sections, s)
	}

	return sections, nil
}

// LoadDir reads all .md files from the given directory (non-recursive) and
// returns them as sections sorted by filename. It returns an error if the
// directory cannot be read.
func LoadDir(dir string) ([]Section, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("prompt: load dir %q: %w", dir, err)
	}

	var sections []Section

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}

		s, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}

		sections = append(sections, s)
	}

	return sections, nil
}

// Texts returns the section contents in order, ready for an agent's prompt
// section list.
func Texts(sections []Section) []string {
	out := make([]string, len(sections))
	for i, s := range sections {
		out[i] = s.Content
	}
	return out
}
