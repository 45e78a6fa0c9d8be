// Package quality implements the deep Quality Scorer Assess operation
// (spec §4.10). Triage lives in internal/triage — the two-tier split the
// spec draws between cheap pre-classification and deep assessment.
package quality

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgebench/taskforge/internal/llm"
	"github.com/forgebench/taskforge/internal/task"
)

// DefaultMinQualityScore is the default Assess acceptance threshold.
const DefaultMinQualityScore = 0.3

// promptHeadBytes bounds how much of the prompt is sent to the assessor.
const promptHeadBytes = 2048

// Assess runs the deep quality classification over t and records
// t.QualityScore, t.QualityPassed, and t.DifficultyScore. A task is passed
// iff the assessor reports quality_good and score >= minQualityScore.
func Assess(ctx context.Context, assessor llm.Assessor, t *task.Task, minQualityScore float64) error {
	promptHead := t.Prompt
	if len(promptHead) > promptHeadBytes {
		promptHead = promptHead[:promptHeadBytes]
	}

	report, err := assessor.Assess(ctx, llm.AssessInput{
		Prompt:        promptHead,
		Patch:         t.Patch,
		Language:      t.Language,
		Title:         t.Meta["pr_title"],
		PatchFiles:    countPatchFiles(t.Patch),
		PatchLines:    countPatchLines(t.Patch),
		TestFileCount: len(t.TestFiles),
	})
	if err != nil {
		return fmt.Errorf("assess %s: %w", t.ID, err)
	}

	t.QualityScore = report.Score
	t.QualityPassed = report.QualityGood && report.Score >= minQualityScore
	if task.ValidDifficulty(task.Difficulty(report.Difficulty)) {
		t.DifficultyScore = report.Difficulty
	}
	t.Meta["quality_reasons"] = joinReasons(report.Reasons)
	return nil
}

// countPatchFiles counts the "diff --git" boundaries in patch, i.e. the
// number of files it touches.
func countPatchFiles(patch string) int {
	return strings.Count(patch, "diff --git ")
}

// countPatchLines counts added-or-removed lines (+/- prefixed, excluding
// the +++/--- file headers) across patch.
func countPatchLines(patch string) int {
	n := 0
	for _, line := range strings.Split(patch, "\n") {
		switch {
		case strings.HasPrefix(line, "+++ "), strings.HasPrefix(line, "--- "):
			continue
		case strings.HasPrefix(line, "+"), strings.HasPrefix(line, "-"):
			n++
		}
	}
	return n
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}
