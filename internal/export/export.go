// Package export writes an accepted Task to its on-disk layout and,
// optionally, streams it to a configured dataset Sink (spec §6). The
// JSON-lines sink generalizes the spec's "Appended PR log" into an explicit
// abstraction, a feature original_source/ implies but the distilled spec
// only sketches.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/forgebench/taskforge/internal/task"
)

// Layout controls where a task is written on disk.
type Layout struct {
	OutputDir   string
	PerDifficulty bool
}

// dirFor returns the task's export directory under l.OutputDir.
func (l Layout) dirFor(t *task.Task) string {
	if l.PerDifficulty && t.DifficultyScore != "" {
		return filepath.Join(l.OutputDir, t.DifficultyScore+"-tasks", t.ID)
	}
	return filepath.Join(l.OutputDir, t.ID)
}

// Write renders t's full export bundle: prompt.md, original_pr.md (if
// non-empty), workspace.yaml, tests/, and checks.txt (spec §6).
func Write(l Layout, t *task.Task) (string, error) {
	dir := l.dirFor(t)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("export %s: mkdir: %w", t.ID, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "prompt.md"), []byte(fmt.Sprintf("# %s\n\n%s\n", t.ID, t.Prompt)), 0o644); err != nil {
		return "", fmt.Errorf("export %s: prompt.md: %w", t.ID, err)
	}

	if strings.TrimSpace(t.OriginalPRBody) != "" {
		if err := os.WriteFile(filepath.Join(dir, "original_pr.md"), []byte(t.OriginalPRBody), 0o644); err != nil {
			return "", fmt.Errorf("export %s: original_pr.md: %w", t.ID, err)
		}
	}

	if err := t.SyncMetaTestFiles(); err != nil {
		return "", fmt.Errorf("export %s: %w", t.ID, err)
	}

	workspaceYAML, err := yaml.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("export %s: marshal workspace.yaml: %w", t.ID, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "workspace.yaml"), workspaceYAML, 0o644); err != nil {
		return "", fmt.Errorf("export %s: workspace.yaml: %w", t.ID, err)
	}

	if err := writeTests(dir, t); err != nil {
		return "", err
	}

	checks := strings.Join(append(append([]string{}, t.FailToPass...), t.PassToPass...), "\n")
	if err := os.WriteFile(filepath.Join(dir, "checks.txt"), []byte(checks+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("export %s: checks.txt: %w", t.ID, err)
	}

	t.WorkspacePath = dir
	return dir, nil
}

// writeTests flattens meta.test_files into tests/, de-duplicating basenames
// by numeric prefix, and writes the numbered fail_to_pass_N.sh /
// pass_to_pass_N.sh command scripts.
func writeTests(dir string, t *task.Task) error {
	testsDir := filepath.Join(dir, "tests")
	if err := os.MkdirAll(testsDir, 0o755); err != nil {
		return fmt.Errorf("export %s: mkdir tests: %w", t.ID, err)
	}

	seen := map[string]int{}
	names := make([]string, len(t.TestFiles))
	for i, f := range t.TestFiles {
		names[i] = f.Path
	}
	sort.Strings(names)

	for _, f := range t.TestFiles {
		base := filepath.Base(f.Path)
		name := base
		if seen[base] > 0 {
			name = fmt.Sprintf("%d_%s", seen[base], base)
		}
		seen[base]++
		if err := os.WriteFile(filepath.Join(testsDir, name), []byte(f.Content), 0o644); err != nil {
			return fmt.Errorf("export %s: write test file %s: %w", t.ID, name, err)
		}
	}

	for i, cmd := range t.FailToPass {
		content := fmt.Sprintf("#!/bin/sh\n# must FAIL on base, PASS after fix\n%s\n", cmd)
		name := fmt.Sprintf("fail_to_pass_%d.sh", i+1)
		if err := os.WriteFile(filepath.Join(testsDir, name), []byte(content), 0o755); err != nil {
			return fmt.Errorf("export %s: write %s: %w", t.ID, name, err)
		}
	}
	for i, cmd := range t.PassToPass {
		content := fmt.Sprintf("#!/bin/sh\n# must PASS on base AND after fix\n%s\n", cmd)
		name := fmt.Sprintf("pass_to_pass_%d.sh", i+1)
		if err := os.WriteFile(filepath.Join(testsDir, name), []byte(content), 0o755); err != nil {
			return fmt.Errorf("export %s: write %s: %w", t.ID, name, err)
		}
	}
	return nil
}

// Sink receives a copy of every exported task in real time, e.g. for a
// downstream dataset pipeline. Export to disk always happens; a Sink is an
// additional, optional destination.
type Sink interface {
	Put(t *task.Task) error
	Close() error
}

// JSONLSink appends {"repo": ..., "pr": ...} lines to a JSON-lines file,
// the "Appended PR log" the spec names as optional (§6).
type JSONLSink struct {
	f *bufio.Writer
	c *os.File
}

// NewJSONLSink opens (creating/appending) path as a JSON-lines sink.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening jsonl sink: %w", err)
	}
	return &JSONLSink{f: bufio.NewWriter(f), c: f}, nil
}

type jsonlRecord struct {
	Repo string `json:"repo"`
	PR   int    `json:"pr"`
}

func (s *JSONLSink) Put(t *task.Task) error {
	line, err := json.Marshal(jsonlRecord{Repo: t.Repo, PR: t.ChangeNum})
	if err != nil {
		return err
	}
	if _, err := s.f.Write(append(line, '\n')); err != nil {
		return err
	}
	return s.f.Flush()
}

func (s *JSONLSink) Close() error {
	if err := s.f.Flush(); err != nil {
		return err
	}
	return s.c.Close()
}
