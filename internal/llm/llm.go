// Package llm declares the capability interfaces the pipeline depends on;
// every other package talks to an llm.Triager/Rewriter/TestDesigner/
// Assessor/InstallRepairer rather than to a concrete provider, the same
// boundary the teacher draws between ci-agent/runner and ci-agent/adapter.
package llm

import "context"

// TriageVerdict is the cheap title/body classification outcome (spec §4.6).
type TriageVerdict struct {
	Accept     bool   `json:"accept"`
	Difficulty string `json:"difficulty"`
	Reason     string `json:"reason"`
}

// Triager performs the cheap pre-extraction triage classification.
type Triager interface {
	Triage(ctx context.Context, title, body string) (TriageVerdict, error)
}

// RewriteResult is the scrubbed prompt text.
type RewriteResult struct {
	Prompt string `json:"prompt"`
}

// Rewriter turns an original PR description into a de-identified task prompt
// (spec §4.8).
type Rewriter interface {
	Rewrite(ctx context.Context, repo, title, body string) (RewriteResult, error)
}

// TestPlan is the designed verification commands plus any supplemental test
// source the model wants written into the workspace (spec §4.9).
type TestPlan struct {
	FailToPass []string          `json:"fail_to_pass"`
	PassToPass []string          `json:"pass_to_pass"`
	Files      map[string]string `json:"files"` // relative path -> file content
}

// TestDesigner designs fail_to_pass/pass_to_pass commands and, when no
// tests were extracted from the original diff, supplemental test files.
type TestDesigner interface {
	DesignTests(ctx context.Context, repo, prompt, patch string) (TestPlan, error)
}

// QualityReport is the deep per-candidate assessment (spec §4.10).
type QualityReport struct {
	Difficulty  string   `json:"difficulty"`
	Score       float64  `json:"score"`
	QualityGood bool     `json:"quality_good"`
	Reasons     []string `json:"reasons"`
}

// AssessInput is the full per-task context the deep Quality Scorer
// classifies over: language, title, patch line/file counts, test counts,
// and the first 2 KB of the prompt (spec §4.10 "deep classification over
// the full task").
type AssessInput struct {
	Prompt        string
	Patch         string
	Language      string
	Title         string
	PatchFiles    int
	PatchLines    int
	TestFileCount int
}

// Assessor performs the deep quality scoring pass.
type Assessor interface {
	Assess(ctx context.Context, in AssessInput) (QualityReport, error)
}

// RepairSuggestion is one candidate fix for a failing install/build attempt.
type RepairSuggestion struct {
	Commands []string `json:"commands"`
	Note     string   `json:"note"`
}

// InstallRepairer proposes a fix for a failing install/build step during
// workspace validation (spec §4.11 Install Repair Loop).
type InstallRepairer interface {
	SuggestRepair(ctx context.Context, log string, attempt int) (RepairSuggestion, error)
}
