// Package task defines the canonical Task Record mined or synthesized by
// the pipeline, and the monotonic status state machine it moves through.
package task

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is a task's position in the pipeline state machine. Status
// ordinals are monotonically increasing; a task's status never regresses,
// and Rejected/Exported are terminal.
type Status int

const (
	Candidate Status = iota
	Enriched
	PreClassified
	Extracted
	Ready
	Exported
	Rejected
)

func (s Status) String() string {
	switch s {
	case Candidate:
		return "Candidate"
	case Enriched:
		return "Enriched"
	case PreClassified:
		return "PreClassified"
	case Extracted:
		return "Extracted"
	case Ready:
		return "Ready"
	case Exported:
		return "Exported"
	case Rejected:
		return "Rejected"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalJSON renders Status as its name, not its ordinal, for export.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// MarshalYAML renders Status as its name, not its ordinal, for export.
func (s Status) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == Exported || s == Rejected
}

// CanTransition reports whether moving from s to next respects monotonicity:
// Rejected is reachable from any non-terminal status (a candidate can be
// rejected at any stage), and every other transition must strictly advance
// the ordinal, except Exported which is only reachable from Ready.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == Rejected {
		return true
	}
	if next == Exported {
		return s == Ready
	}
	return next > s
}

// TestFile is a single generated or extracted test artifact.
type TestFile struct {
	Path    string `json:"path" yaml:"path"`
	Content string `json:"content" yaml:"content"`
}

// InstallConfig carries the install command chain for a task's workspace.
type InstallConfig struct {
	Install string `json:"install" yaml:"install"`
}

// IsComment reports whether the install command is empty or purely a shell
// comment, in which case the validator treats it as "no install step".
func (c InstallConfig) IsComment() bool {
	trimmed := strings.TrimSpace(c.Install)
	return trimmed == "" || strings.HasPrefix(trimmed, "#")
}

// Task is the central data record produced by mining and consumed by
// validation and export. See spec §3 for field semantics and invariants.
type Task struct {
	ID         string `json:"id" yaml:"id"`
	Repo       string `json:"repo" yaml:"repo"`
	ChangeNum  int    `json:"change_number" yaml:"change_number"`
	Language   string `json:"language" yaml:"language"`
	BaseCommit string `json:"base_commit" yaml:"base_commit"`
	MergeCommit string `json:"merge_commit" yaml:"merge_commit"`

	Patch           string `json:"patch" yaml:"patch"`
	Prompt          string `json:"prompt" yaml:"prompt"`
	OriginalPRBody  string `json:"original_pr_body" yaml:"original_pr_body"`

	FailToPass []string `json:"fail_to_pass" yaml:"fail_to_pass"`
	PassToPass []string `json:"pass_to_pass" yaml:"pass_to_pass"`

	InstallConfig InstallConfig `json:"install_config" yaml:"install_config"`

	Meta map[string]string `json:"meta" yaml:"meta"`

	QualityScore   float64 `json:"quality_score" yaml:"quality_score"`
	QualityPassed  bool    `json:"quality_passed" yaml:"quality_passed"`
	DifficultyScore string `json:"difficulty_score" yaml:"difficulty_score"`

	Status Status `json:"status" yaml:"status"`

	WorkspacePath string `json:"workspace_path,omitempty" yaml:"workspace_path,omitempty"`

	// TestFiles is the working, Go-native form of the extracted/generated
	// test artifacts. It is not serialized directly: SyncMetaTestFiles
	// folds it into Meta["test_files"] as a JSON string, matching the data
	// model's "meta, notably test_files (serialized sequence of
	// {path, content})" (spec §3).
	TestFiles []TestFile `json:"-" yaml:"-"`
}

// SyncMetaTestFiles serializes TestFiles into Meta["test_files"] as a JSON
// array. Callers invoke this before persisting or exporting a task, since
// Meta (not TestFiles) is the field the data model actually serializes.
func (t *Task) SyncMetaTestFiles() error {
	if len(t.TestFiles) == 0 {
		delete(t.Meta, "test_files")
		return nil
	}
	data, err := json.Marshal(t.TestFiles)
	if err != nil {
		return fmt.Errorf("task %s: marshal test_files: %w", t.ID, err)
	}
	if t.Meta == nil {
		t.Meta = map[string]string{}
	}
	t.Meta["test_files"] = string(data)
	return nil
}

// New returns a freshly-minted Candidate task for the given repo/change.
func New(repo string, changeNum int) *Task {
	return &Task{
		ID:        ID(repo, changeNum),
		Repo:      repo,
		ChangeNum: changeNum,
		Meta:      map[string]string{},
		Status:    Candidate,
	}
}

// ID derives the stable task identifier {repo-flat}-{change-number}.
func ID(repo string, changeNum int) string {
	flat := strings.ReplaceAll(repo, "/", "-")
	return fmt.Sprintf("%s-%d", flat, changeNum)
}

// Transition moves the task to next, returning an error if the move would
// violate monotonicity. Callers own the task value at the point of call
// (stages hand tasks off by value, never mutate in place across goroutines).
func (t *Task) Transition(next Status) error {
	if !t.Status.CanTransition(next) {
		return fmt.Errorf("task %s: invalid transition %s -> %s", t.ID, t.Status, next)
	}
	t.Status = next
	return nil
}

// Difficulty enumerates the triage/assessment difficulty buckets.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// ValidDifficulty reports whether d is one of the three recognized buckets.
func ValidDifficulty(d Difficulty) bool {
	switch d {
	case Easy, Medium, Hard:
		return true
	}
	return false
}

// ValidateExtracted checks the invariants that must hold once a task has
// reached Extracted status or later: base_commit != merge_commit and both
// non-empty.
func (t *Task) ValidateExtracted() error {
	if t.Status < Extracted {
		return nil
	}
	if t.BaseCommit == "" || t.MergeCommit == "" {
		return fmt.Errorf("task %s: base_commit and merge_commit must be non-empty at status %s", t.ID, t.Status)
	}
	if t.BaseCommit == t.MergeCommit {
		return fmt.Errorf("task %s: base_commit must differ from merge_commit", t.ID)
	}
	return nil
}
