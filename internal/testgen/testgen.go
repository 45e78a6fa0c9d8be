// Package testgen implements the Test Generator. When the extractor found
// test hunks in the original diff, fail_to_pass/pass_to_pass commands are
// derived deterministically from those file paths. The LLM is invoked only
// to synthesize supplemental test files and their commands when the patch
// carried none at all (spec §4.9) — this is an explicit decision on an
// otherwise-unspecified case: the spec names the LLM path for the missing-
// tests case but is silent on how commands are derived when tests already
// exist.
package testgen

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/forgebench/taskforge/internal/llm"
	"github.com/forgebench/taskforge/internal/task"
)

// Generate populates t.FailToPass/t.PassToPass (and, when needed,
// t.TestFiles) from either the extracted test files or an LLM design pass.
func Generate(ctx context.Context, designer llm.TestDesigner, t *task.Task) error {
	if len(t.TestFiles) > 0 {
		t.FailToPass, t.PassToPass = commandsFromTestFiles(t.Language, t.TestFiles)
		return nil
	}

	plan, err := designer.DesignTests(ctx, t.Repo, t.Prompt, t.Patch)
	if err != nil {
		return fmt.Errorf("testgen %s: %w", t.ID, err)
	}
	if len(plan.FailToPass) == 0 {
		return fmt.Errorf("testgen %s: designer returned no fail_to_pass commands", t.ID)
	}

	t.FailToPass = plan.FailToPass
	t.PassToPass = plan.PassToPass
	for path, content := range plan.Files {
		t.TestFiles = append(t.TestFiles, task.TestFile{Path: path, Content: content})
	}
	return nil
}

// commandsFromTestFiles builds a self-contained shell invocation per
// extracted test file, keyed off simple per-language conventions. Every
// extracted test file is treated as fail_to_pass: it is exactly the test
// the original change added or repaired, so it is expected to fail at
// base_commit and pass after the patch.
func commandsFromTestFiles(language string, files []task.TestFile) (failToPass, passToPass []string) {
	for _, f := range files {
		switch strings.ToLower(language) {
		case "go":
			pkg := "./" + filepath.ToSlash(filepath.Dir(f.Path))
			failToPass = append(failToPass, "go test -count=1 "+pkg)
		case "python":
			failToPass = append(failToPass, "pytest "+f.Path)
		case "javascript", "typescript":
			failToPass = append(failToPass, "npx jest "+f.Path)
		default:
			failToPass = append(failToPass, "true # run "+f.Path)
		}
	}
	return failToPass, passToPass
}
