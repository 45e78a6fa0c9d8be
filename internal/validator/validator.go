// Package validator implements the Workspace Validator: Phase A prompt
// feasibility (no container), Phase B installation-tuning validation with
// an LLM-assisted Install Repair Loop, and Phase C fresh-container
// re-validation (spec §4.11). This is the heart of correctness: every
// exported task has survived end-to-end execution twice.
package validator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"code.cloudfoundry.org/lager/v3"
	"code.cloudfoundry.org/lager/v3/lagerctx"

	"github.com/forgebench/taskforge/internal/llm"
	"github.com/forgebench/taskforge/internal/metric"
	"github.com/forgebench/taskforge/internal/sandbox"
	"github.com/forgebench/taskforge/internal/task"
)

// MaxInstallRepairAttempts bounds the Install Repair Loop.
const MaxInstallRepairAttempts = 3

const execTimeout = 10 * time.Minute

// RejectedError marks a candidate-fatal validator rejection, distinct from
// an infrastructure error: the reason is meant to be recorded verbatim in
// the PR cache and structured logs (spec §7).
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return e.Reason }

func reject(format string, args ...any) error {
	return &RejectedError{Reason: fmt.Sprintf(format, args...)}
}

// SandboxFactory starts a fresh Sandbox for a validation attempt. Narrowing
// this to an interface (rather than depending on sandbox.Start directly)
// lets tests substitute an in-memory fake instead of a real containerd
// daemon.
type SandboxFactory interface {
	Start(ctx context.Context, opts sandbox.StartOptions) (sandbox.Sandbox, error)
}

// Validator runs the two-pass end-to-end validation.
type Validator struct {
	Sandboxes SandboxFactory
	Repairer  llm.InstallRepairer // nil disables the Install Repair Loop
}

// Validate runs Phase A, B, and C against t. On success t.Status becomes
// Ready. On any rejection, a *RejectedError is returned describing why;
// callers mark the PR cache rejected with err.Error() as the reason.
func (v *Validator) Validate(ctx context.Context, t *task.Task) error {
	logger := lagerctx.FromContext(ctx).Session("validate", lager.Data{"task": t.ID})

	if err := phaseAFeasibility(t); err != nil {
		metric.Metrics.ValidationOutcome.WithLabelValues("A", "rejected").Inc()
		return err
	}
	metric.Metrics.ValidationOutcome.WithLabelValues("A", "passed").Inc()

	stopB := metric.Metrics.StageTimer("validate:phaseB")
	frozenInstall, err := v.runPhaseB(ctx, t)
	stopB()
	if err != nil {
		metric.Metrics.ValidationOutcome.WithLabelValues("B", "rejected").Inc()
		return err
	}
	metric.Metrics.ValidationOutcome.WithLabelValues("B", "passed").Inc()

	t.InstallConfig.Install = frozenInstall

	stopC := metric.Metrics.StageTimer("validate:phaseC")
	err = v.runPhaseC(ctx, t)
	stopC()
	if err != nil {
		metric.Metrics.ValidationOutcome.WithLabelValues("C", "rejected").Inc()
		return err
	}
	metric.Metrics.ValidationOutcome.WithLabelValues("C", "passed").Inc()

	logger.Info("validated")
	return t.Transition(task.Ready)
}

// phaseAFeasibility checks the prompt alone, before any container exists
// (spec §4.11 Phase A).
func phaseAFeasibility(t *task.Task) error {
	trimmed := strings.TrimSpace(t.Prompt)
	if len(trimmed) < 100 {
		return reject("prompt feasibility: prompt shorter than 100 characters after trimming")
	}
	for _, cmd := range t.FailToPass {
		if cmd != "" && strings.Contains(t.Prompt, cmd) {
			return reject("prompt feasibility: prompt contains fail_to_pass command %q", cmd)
		}
	}
	for _, f := range t.TestFiles {
		base := basename(f.Path)
		if base != "" && strings.Contains(t.Prompt, base) {
			return reject("prompt feasibility: prompt contains test file basename %q", base)
		}
	}
	return nil
}

func basename(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// runPhaseB runs the installation-tuning validation and returns the frozen
// install command string on success (spec §4.11 Phase B).
func (v *Validator) runPhaseB(ctx context.Context, t *task.Task) (string, error) {
	sb, err := v.Sandboxes.Start(ctx, sandbox.StartOptions{
		Repo: t.Repo, BaseCommit: t.BaseCommit, Language: t.Language,
	})
	if err != nil {
		return "", reject("container-start: %v", err)
	}
	defer sb.Destroy(ctx)

	return v.runInstallAndVerify(ctx, sb, t, true)
}

// runPhaseC re-runs the full sequence in a brand-new sandbox using the
// install command frozen by Phase B, with no repair loop (spec §4.11 Phase
// C).
func (v *Validator) runPhaseC(ctx context.Context, t *task.Task) error {
	sb, err := v.Sandboxes.Start(ctx, sandbox.StartOptions{
		Repo: t.Repo, BaseCommit: t.BaseCommit, Language: t.Language,
	})
	if err != nil {
		return reject("Fresh re-validation: container-start: %v", err)
	}
	defer sb.Destroy(ctx)

	_, err = v.runInstallAndVerify(ctx, sb, t, false)
	if err != nil {
		return prefixFreshRevalidation(err)
	}
	return nil
}

func prefixFreshRevalidation(err error) error {
	if re, ok := err.(*RejectedError); ok {
		if strings.HasPrefix(re.Reason, "Fresh re-validation:") {
			return re
		}
		return reject("Fresh re-validation: %s", re.Reason)
	}
	return reject("Fresh re-validation: %v", err)
}

// runInstallAndVerify drives steps 1-9 of §4.11 against sb. allowRepair
// gates whether a failing install enters the Install Repair Loop (Phase B
// only; Phase C replays with the frozen command and no repair).
func (v *Validator) runInstallAndVerify(ctx context.Context, sb sandbox.Sandbox, t *task.Task, allowRepair bool) (string, error) {
	logger := lagerctx.FromContext(ctx).Session("install-verify", lager.Data{"task": t.ID, "sandbox": sb.Name()})

	if cmd, ok := runtimeInstallCommand(t.Language); ok {
		res, err := sb.Exec(ctx, cmd, execTimeout)
		if err != nil || res.ExitCode != 0 {
			logger.Info("runtime-install-failed", lager.Data{"language": t.Language, "error": errString(err), "exit": res.ExitCode})
		}
	}

	installCmd := t.InstallConfig.Install
	if !t.InstallConfig.IsComment() {
		res, err := sb.Exec(ctx, installCmd, execTimeout)
		if err != nil {
			return "", reject("install exec error: %v", err)
		}
		if res.ExitCode != 0 {
			if !allowRepair || v.Repairer == nil {
				return "", reject("install failed: exit %d: %s", res.ExitCode, tail(res.Stderr, 2000))
			}
			repaired, err := v.repairInstall(ctx, sb, t, installCmd, res)
			if err != nil {
				return "", err
			}
			installCmd = repaired
		}
	}

	if err := writeTestFiles(ctx, sb, t); err != nil {
		return "", reject("writing test files: %v", err)
	}

	if err := runBaseChecks(ctx, sb, t); err != nil {
		return "", err
	}

	if err := applyPatch(ctx, sb, t); err != nil {
		return "", err
	}

	if err := writeTestFiles(ctx, sb, t); err != nil {
		return "", reject("re-writing test files after patch: %v", err)
	}

	if err := runPatchedChecks(ctx, sb, t); err != nil {
		return "", err
	}

	logger.Info("install-verify-ok")
	return installCmd, nil
}

// repairInstall drives the Install Repair Loop: up to MaxInstallRepairAttempts
// LLM-assisted rewrites of the install command (spec §4.11).
func (v *Validator) repairInstall(ctx context.Context, sb sandbox.Sandbox, t *task.Task, failing string, lastResult sandbox.ExecResult) (string, error) {
	combined := failing
	log := lastResult.Stdout + "\n" + lastResult.Stderr

	for attempt := 1; attempt <= MaxInstallRepairAttempts; attempt++ {
		suggestion, err := v.Repairer.SuggestRepair(ctx, tail(log, 4000), attempt)
		if err != nil || len(suggestion.Commands) == 0 {
			continue
		}
		combined = strings.Join(suggestion.Commands, " && ")

		res, err := sb.Exec(ctx, combined, execTimeout)
		if err != nil {
			continue
		}
		if res.ExitCode == 0 {
			t.InstallConfig.Install = combined
			t.Meta["install_source"] = "llm-validator-fix"
			return combined, nil
		}
		log = res.Stdout + "\n" + res.Stderr
	}
	return "", reject("install failed after %d repair attempts: %s", MaxInstallRepairAttempts, tail(log, 2000))
}

func writeTestFiles(ctx context.Context, sb sandbox.Sandbox, t *task.Task) error {
	for _, f := range t.TestFiles {
		if err := sb.WriteFile(ctx, f.Path, f.Content); err != nil {
			return err
		}
	}
	return nil
}

// runBaseChecks executes the base-state check (every fail_to_pass must
// exit non-zero) and base-state regression check (every pass_to_pass must
// exit zero), steps 4-5 of §4.11.
func runBaseChecks(ctx context.Context, sb sandbox.Sandbox, t *task.Task) error {
	for _, cmd := range t.FailToPass {
		res, err := sb.Exec(ctx, cmd, execTimeout)
		if err != nil {
			return reject("base fail_to_pass exec error: %v", err)
		}
		if res.ExitCode == 0 {
			return reject("already passes on base: %q", cmd)
		}
	}
	for _, cmd := range t.PassToPass {
		res, err := sb.Exec(ctx, cmd, execTimeout)
		if err != nil {
			return reject("base pass_to_pass exec error: %v", err)
		}
		if res.ExitCode != 0 {
			return reject("base pass_to_pass regression: %q exited %d", cmd, res.ExitCode)
		}
	}
	return nil
}

// runPatchedChecks executes the patched-state check and patched-state
// regression check, steps 8-9 of §4.11.
func runPatchedChecks(ctx context.Context, sb sandbox.Sandbox, t *task.Task) error {
	for _, cmd := range t.FailToPass {
		res, err := sb.Exec(ctx, cmd, execTimeout)
		if err != nil {
			return reject("patched fail_to_pass exec error: %v", err)
		}
		if res.ExitCode != 0 {
			return reject("patched fail_to_pass still failing: %q exited %d", cmd, res.ExitCode)
		}
	}
	for _, cmd := range t.PassToPass {
		res, err := sb.Exec(ctx, cmd, execTimeout)
		if err != nil {
			return reject("patched pass_to_pass exec error: %v", err)
		}
		if res.ExitCode != 0 {
			return reject("patched pass_to_pass regression: %q exited %d", cmd, res.ExitCode)
		}
	}
	return nil
}

// applyPatch writes t.Patch as .swe_forge_validation.patch and applies it,
// retrying with a 3-way merge before giving up (spec §4.11 step 6, §7
// "Patch-apply-failure").
func applyPatch(ctx context.Context, sb sandbox.Sandbox, t *task.Task) error {
	const patchPath = ".swe_forge_validation.patch"
	if err := sb.WriteFile(ctx, patchPath, t.Patch); err != nil {
		return reject("writing validation patch: %v", err)
	}

	res, err := sb.Exec(ctx, "git apply "+patchPath, execTimeout)
	if err == nil && res.ExitCode == 0 {
		return nil
	}

	res, err = sb.Exec(ctx, "git apply --3way "+patchPath, execTimeout)
	if err != nil {
		return reject("patch apply error: %v", err)
	}
	if res.ExitCode != 0 {
		return reject("patch did not apply (git apply and git apply --3way both failed): %s", tail(res.Stderr, 2000))
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// runtimeInstallCommand returns the language-specific runtime bootstrap
// one-liner for language, if any (spec §4.11 Phase B step 1). Unrecognized
// or empty languages have no runtime to install.
func runtimeInstallCommand(language string) (string, bool) {
	switch strings.ToLower(language) {
	case "go", "golang":
		return "apt-get update -qq && apt-get install -y -qq golang > /dev/null 2>&1", true
	case "javascript", "typescript", "js", "ts":
		return "apt-get update -qq && apt-get install -y -qq nodejs npm > /dev/null 2>&1", true
	case "rust":
		return "curl --proto '=https' --tlsv1.2 -sSf https://sh.rustup.rs | sh -s -- -y > /dev/null 2>&1 && . $HOME/.cargo/env", true
	case "java":
		return "apt-get update -qq && apt-get install -y -qq default-jdk maven > /dev/null 2>&1", true
	default:
		return "", false
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
