// Package patch implements the Patch Extractor: fetches a unified diff and
// splits it into source hunks (the task's `patch`) and test hunks (carried
// as meta.test_files), per path convention (spec §4.7). Grounded in the
// gitRun/path-validation idiom of ci-agent/fix/git.go and ParseFixPatches.
package patch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/forgebench/taskforge/internal/task"
)

// DiffFetcher is the capability this extractor depends on: fetch the
// unified diff transforming baseCommit into mergeCommit for repo.
type DiffFetcher interface {
	FetchDiff(ctx context.Context, repo, baseCommit, mergeCommit string) (string, error)
}

// testPathPatterns recognizes test-owning paths across common ecosystems;
// anything else is treated as a source hunk.
var testPathPatterns = []string{"test_", "_test.go", "/tests/", "spec_", "_spec.rb", ".test.", ".spec."}

func isTestPath(p string) bool {
	base := filepath.Base(p)
	lower := strings.ToLower(p)
	if strings.Contains(lower, "/tests/") || strings.HasPrefix(lower, "tests/") {
		return true
	}
	for _, pat := range testPathPatterns {
		if strings.Contains(strings.ToLower(base), pat) {
			return true
		}
	}
	return false
}

// hunk is one `diff --git a/... b/...` section of a unified diff, including
// its header line.
type hunk struct {
	path    string
	binary  bool
	content string
}

// splitHunks scans a unified diff into per-file hunks. It recognizes the
// standard `diff --git a/<path> b/<path>` boundary; anything before the
// first boundary is discarded (e.g. a leading `From ...` mail header).
func splitHunks(diff string) []hunk {
	lines := strings.Split(diff, "\n")
	var hunks []hunk
	var current *hunk

	flush := func() {
		if current != nil {
			hunks = append(hunks, *current)
		}
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "diff --git ") {
			flush()
			current = &hunk{path: extractPath(line), content: line + "\n"}
			continue
		}
		if current == nil {
			continue
		}
		if strings.HasPrefix(line, "Binary files ") {
			current.binary = true
		}
		current.content += line + "\n"
	}
	flush()
	return hunks
}

// reconstructContent rebuilds the post-patch file body from a unified-diff
// hunk: kept context lines and added lines (the "+" side), in order, with
// removed lines and diff/hunk metadata (`diff --git`, `index`, `---`,
// `+++`, `@@ ... @@`) dropped. test_files must be runnable source, not the
// diff syntax carried in t.Patch (spec §4.7, §4.9).
func reconstructContent(hunkContent string) string {
	var out strings.Builder
	inBody := false
	for _, line := range strings.Split(hunkContent, "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			inBody = true
		case strings.HasPrefix(line, "diff --git "),
			strings.HasPrefix(line, "index "),
			strings.HasPrefix(line, "--- "),
			strings.HasPrefix(line, "+++ "),
			strings.HasPrefix(line, "\\ No newline at end of file"):
			// header/trailer noise, never file content
		case !inBody:
			// before the first hunk (e.g. "new file mode" lines)
		case strings.HasPrefix(line, "+"):
			out.WriteString(line[1:])
			out.WriteString("\n")
		case strings.HasPrefix(line, "-"):
			// removed line: absent from the post-patch content
		case strings.HasPrefix(line, " "):
			out.WriteString(line[1:])
			out.WriteString("\n")
		}
	}
	return out.String()
}

// extractPath pulls the b/ path out of a `diff --git a/x b/x` header line.
func extractPath(headerLine string) string {
	fields := strings.Fields(headerLine)
	for i := len(fields) - 1; i >= 0; i-- {
		if strings.HasPrefix(fields[i], "b/") {
			return strings.TrimPrefix(fields[i], "b/")
		}
	}
	return ""
}

// Extract fetches the diff and splits it into t.Patch (source hunks) and
// t.TestFiles (test hunks as structured records). Binary files are skipped.
// Fetch failure and a diff with no usable hunks at all are both
// candidate-fatal; a diff carrying only test hunks leaves t.Patch empty.
func Extract(ctx context.Context, fetcher DiffFetcher, t *task.Task) error {
	diff, err := fetcher.FetchDiff(ctx, t.Repo, t.BaseCommit, t.MergeCommit)
	if err != nil {
		return fmt.Errorf("extract %s: fetch diff: %w", t.ID, err)
	}

	hunks := splitHunks(diff)
	var sourceBuf strings.Builder
	var testFiles []task.TestFile

	for _, h := range hunks {
		if h.binary || h.path == "" {
			continue
		}
		if isTestPath(h.path) {
			testFiles = append(testFiles, task.TestFile{Path: h.path, Content: reconstructContent(h.content)})
			continue
		}
		sourceBuf.WriteString(h.content)
	}

	if sourceBuf.Len() == 0 && len(testFiles) == 0 {
		return fmt.Errorf("extract %s: no usable hunks in diff", t.ID)
	}

	t.Patch = sourceBuf.String()
	t.TestFiles = testFiles
	if err := t.Transition(task.Extracted); err != nil {
		return err
	}
	return t.ValidateExtracted()
}
