package quality

import (
	"context"
	"testing"

	"github.com/forgebench/taskforge/internal/llm"
	"github.com/forgebench/taskforge/internal/task"
)

type fakeAssessor struct {
	report llm.QualityReport
	err    error
	lastIn llm.AssessInput
}

func (f *fakeAssessor) Assess(ctx context.Context, in llm.AssessInput) (llm.QualityReport, error) {
	f.lastIn = in
	return f.report, f.err
}

func TestAssessPassesAboveThreshold(t *testing.T) {
	tk := task.New("owner/repo", 1)
	a := &fakeAssessor{report: llm.QualityReport{Difficulty: "medium", Score: 0.6, QualityGood: true}}
	if err := Assess(context.Background(), a, tk, DefaultMinQualityScore); err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if !tk.QualityPassed {
		t.Fatal("expected quality passed")
	}
	if tk.DifficultyScore != "medium" {
		t.Fatalf("DifficultyScore = %q", tk.DifficultyScore)
	}
}

func TestAssessFailsBelowThreshold(t *testing.T) {
	tk := task.New("owner/repo", 1)
	a := &fakeAssessor{report: llm.QualityReport{Score: 0.1, QualityGood: true}}
	if err := Assess(context.Background(), a, tk, DefaultMinQualityScore); err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if tk.QualityPassed {
		t.Fatal("expected quality not passed")
	}
}

func TestAssessFailsWhenNotQualityGood(t *testing.T) {
	tk := task.New("owner/repo", 1)
	a := &fakeAssessor{report: llm.QualityReport{Score: 0.9, QualityGood: false}}
	if err := Assess(context.Background(), a, tk, DefaultMinQualityScore); err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if tk.QualityPassed {
		t.Fatal("expected quality not passed when quality_good is false")
	}
}

func TestAssessForwardsFullTaskContext(t *testing.T) {
	tk := task.New("owner/repo", 1)
	tk.Language = "go"
	tk.Meta["pr_title"] = "fix the bug"
	tk.Patch = "diff --git a/a.go b/a.go\n--- a/a.go\n+++ b/a.go\n+added\n-removed\n"
	tk.TestFiles = []task.TestFile{{Path: "a_test.go", Content: "package a\n"}}
	tk.Prompt = "do the fix"

	a := &fakeAssessor{report: llm.QualityReport{Score: 1, QualityGood: true}}
	if err := Assess(context.Background(), a, tk, DefaultMinQualityScore); err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if a.lastIn.Language != "go" || a.lastIn.Title != "fix the bug" {
		t.Fatalf("lastIn = %+v, want language/title forwarded", a.lastIn)
	}
	if a.lastIn.PatchFiles != 1 {
		t.Fatalf("PatchFiles = %d, want 1", a.lastIn.PatchFiles)
	}
	if a.lastIn.PatchLines != 2 {
		t.Fatalf("PatchLines = %d, want 2", a.lastIn.PatchLines)
	}
	if a.lastIn.TestFileCount != 1 {
		t.Fatalf("TestFileCount = %d, want 1", a.lastIn.TestFileCount)
	}
}
