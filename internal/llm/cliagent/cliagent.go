// Package cliagent implements every llm capability interface over a single
// subprocess-CLI convention: invoke a local agent binary with --print -p
// <prompt>, parse a fenced/raw JSON object from stdout. Grounded in
// ci-agent/adapter/claude.Adapter.BuildCommand and ci-agent/runner.RunTest's
// exec.CommandContext + buffered-output + context-timeout idiom. LLM
// provider HTTP clients are out of scope (spec Non-goals), so there is no
// adapter here beyond the CLI boundary.
package cliagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"code.cloudfoundry.org/lager/v3"
	"code.cloudfoundry.org/lager/v3/lagerctx"

	"github.com/forgebench/taskforge/internal/llm"
	"github.com/forgebench/taskforge/internal/metric"
)

// DefaultTimeout bounds a single CLI invocation.
const DefaultTimeout = 3 * time.Minute

// Adapter drives a CLI-based coding agent (e.g. the Claude Code CLI) as the
// backing implementation for every llm capability interface.
type Adapter struct {
	cliPath string
	model   string
	timeout time.Duration
}

// New creates an Adapter. model may be empty to use the CLI's default.
func New(cliPath, model string) *Adapter {
	return &Adapter{cliPath: cliPath, model: model, timeout: DefaultTimeout}
}

var (
	_ llm.Triager         = (*Adapter)(nil)
	_ llm.Rewriter        = (*Adapter)(nil)
	_ llm.TestDesigner    = (*Adapter)(nil)
	_ llm.Assessor        = (*Adapter)(nil)
	_ llm.InstallRepairer = (*Adapter)(nil)
)

func (a *Adapter) run(ctx context.Context, capability, prompt string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	logger := lagerctx.FromContext(ctx).Session("llm-call", lager.Data{"capability": capability})
	metric.Metrics.LLMCallTotal.WithLabelValues(capability).Inc()
	stop := metric.Metrics.StageTimer("llm:" + capability)
	defer stop()

	args := []string{"--print", "-p", prompt}
	if a.model != "" {
		args = append(args, "--model", a.model)
	}
	cmd := exec.CommandContext(ctx, a.cliPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		metric.Metrics.LLMCallErrors.WithLabelValues(capability).Inc()
		if ctx.Err() != nil {
			logger.Error("timed-out", ctx.Err())
			return nil, fmt.Errorf("%s: cli call timed out: %w", capability, ctx.Err())
		}
		logger.Error("cli-failed", err, lager.Data{"stderr": stderr.String()})
		return nil, fmt.Errorf("%s: cli call failed: %w: %s", capability, err, stderr.String())
	}

	return extractJSON(stdout.Bytes())
}

// extractJSON pulls the first balanced JSON object or array out of raw CLI
// output, tolerating prose the model prepends despite instructions.
func extractJSON(raw []byte) ([]byte, error) {
	s := strings.TrimSpace(string(raw))
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return nil, fmt.Errorf("no JSON found in output")
	}
	open, close := s[start], byte('}')
	if open == '[' {
		close = ']'
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return []byte(s[start : i+1]), nil
			}
		}
	}
	return nil, fmt.Errorf("unbalanced JSON in output")
}

func (a *Adapter) Triage(ctx context.Context, title, body string) (llm.TriageVerdict, error) {
	prompt := fmt.Sprintf(`Classify whether this change is worth turning into a coding benchmark task.
Title: %s
Body: %s

Output ONLY a JSON object: {"accept": bool, "difficulty": "easy|medium|hard", "reason": "short phrase"}`, title, truncate(body, 500))

	raw, err := a.run(ctx, "triage", prompt)
	if err != nil {
		return llm.TriageVerdict{}, err
	}
	var v llm.TriageVerdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return llm.TriageVerdict{}, fmt.Errorf("triage: parse response: %w", err)
	}
	return v, nil
}

func (a *Adapter) Rewrite(ctx context.Context, repo, title, body string) (llm.RewriteResult, error) {
	prompt := fmt.Sprintf(`Rewrite the following pull request description into a neutral coding task prompt.
Remove any mention of the repository name, its owner/organization, pull request or issue numbers, and usernames.
Describe only the problem to solve and the expected behavior.

Repository: %s
Title: %s
Body: %s

Output ONLY a JSON object: {"prompt": "..."}`, repo, title, body)

	raw, err := a.run(ctx, "rewrite", prompt)
	if err != nil {
		return llm.RewriteResult{}, err
	}
	var r llm.RewriteResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return llm.RewriteResult{}, fmt.Errorf("rewrite: parse response: %w", err)
	}
	return r, nil
}

func (a *Adapter) DesignTests(ctx context.Context, repo, prompt, patch string) (llm.TestPlan, error) {
	p := fmt.Sprintf(`Given this task prompt and reference patch, design verification commands and, if
the patch includes no test changes, write the missing test file(s) yourself.

Task prompt: %s

Reference patch:
%s

Output ONLY a JSON object:
{"fail_to_pass": ["cmd", ...], "pass_to_pass": ["cmd", ...], "files": {"path/to/test_file": "contents"}}`, prompt, patch)

	raw, err := a.run(ctx, "testgen", p)
	if err != nil {
		return llm.TestPlan{}, err
	}
	var plan llm.TestPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return llm.TestPlan{}, fmt.Errorf("testgen: parse response: %w", err)
	}
	return plan, nil
}

func (a *Adapter) Assess(ctx context.Context, in llm.AssessInput) (llm.QualityReport, error) {
	p := fmt.Sprintf(`Score this candidate benchmark task from 0.0 (unusable) to 1.0 (excellent):
clear problem statement, a patch of reasonable and focused scope, and no leaked
repository-identifying information in the prompt. Also classify its difficulty.

Language: %s
Title: %s
Patch touches %d file(s), %d changed line(s), %d test file(s).

Prompt: %s

Patch:
%s

Output ONLY a JSON object: {"difficulty": "easy|medium|hard", "score": 0.0, "quality_good": true, "reasons": ["..."]}`,
		in.Language, in.Title, in.PatchFiles, in.PatchLines, in.TestFileCount, in.Prompt, in.Patch)

	raw, err := a.run(ctx, "quality", p)
	if err != nil {
		return llm.QualityReport{}, err
	}
	var report llm.QualityReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return llm.QualityReport{}, fmt.Errorf("quality: parse response: %w", err)
	}
	return report, nil
}

func (a *Adapter) SuggestRepair(ctx context.Context, log string, attempt int) (llm.RepairSuggestion, error) {
	p := fmt.Sprintf(`Installation attempt %d failed with this output. Suggest shell commands to fix it.

%s

Output ONLY a JSON object: {"commands": ["cmd", ...], "note": "short phrase"}`, attempt, truncate(log, 4000))

	raw, err := a.run(ctx, "install-repair", p)
	if err != nil {
		return llm.RepairSuggestion{}, err
	}
	var s llm.RepairSuggestion
	if err := json.Unmarshal(raw, &s); err != nil {
		return llm.RepairSuggestion{}, fmt.Errorf("install-repair: parse response: %w", err)
	}
	return s, nil
}

// truncate cuts s to at most n bytes, backing off to the nearest valid UTF-8
// rune boundary rather than splitting a multi-byte character (spec §4.6
// "truncated at a valid character boundary").
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
