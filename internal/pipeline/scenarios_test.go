package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgebench/taskforge/internal/export"
	"github.com/forgebench/taskforge/internal/llm"
	"github.com/forgebench/taskforge/internal/prcache"
	"github.com/forgebench/taskforge/internal/sandbox"
	"github.com/forgebench/taskforge/internal/source"
	"github.com/forgebench/taskforge/internal/task"
	"github.com/forgebench/taskforge/internal/validator"
)

// --- fake Event Source ---

type fakeCollector struct{ events []source.Event }

func (c *fakeCollector) FetchEvents(ctx context.Context, since, until time.Time) ([]source.Event, error) {
	return c.events, nil
}

// --- fake Enricher / metadata fetcher ---

type candidateMeta struct {
	title            string
	baseSHA, mergeSHA string
}

type fakeFetcher struct{ byKey map[string]candidateMeta }

func (f *fakeFetcher) FetchChangeMetadata(ctx context.Context, repo string, changeNum int) (source.ChangeMetadata, error) {
	m := f.byKey[task.ID(repo, changeNum)]
	return source.ChangeMetadata{
		Title: m.title, Body: "original PR description text, long enough to survive truncation checks.",
		BaseSHA: m.baseSHA, MergeSHA: m.mergeSHA, Language: "go",
		Stars: 100, FilesChanged: 2, LinesAdded: 5, LinesRemoved: 1,
	}, nil
}

// --- fake triage Triager, keyed by the title the fetcher assigned ---

type fakeTriager struct{ byTitle map[string]task.Difficulty }

func (f *fakeTriager) Triage(ctx context.Context, title, body string) (llm.TriageVerdict, error) {
	d, ok := f.byTitle[title]
	if !ok {
		return llm.TriageVerdict{Accept: false}, nil
	}
	return llm.TriageVerdict{Accept: true, Difficulty: string(d)}, nil
}

// --- fake diff fetcher: every diff carries one source hunk and one test hunk ---

type fakeDiffFetcher struct{}

func (f *fakeDiffFetcher) FetchDiff(ctx context.Context, repo, baseCommit, mergeCommit string) (string, error) {
	return fmt.Sprintf(
		"diff --git a/main.go b/main.go\n--- a/main.go\n+++ b/main.go\n@@ -1 +1 @@\n-old-%[1]s\n+new-%[1]s\n"+
			"diff --git a/main_test.go b/main_test.go\n--- a/main_test.go\n+++ b/main_test.go\n@@ -1 +1 @@\n-old-%[1]s\n+new-%[1]s\n",
		baseCommit+mergeCommit,
	), nil
}

// --- fake rewriter: a fixed, scrub-safe, sufficiently long prompt ---

type fakeRewriter struct{}

func (f *fakeRewriter) Rewrite(ctx context.Context, repo, title, body string) (llm.RewriteResult, error) {
	return llm.RewriteResult{Prompt: strings.Repeat("Fix the underlying defect and restore expected behavior. ", 4)}, nil
}

// --- fake test designer: unused when the diff carries test hunks, but
// wired so the Collaborators contract is fully satisfied ---

type fakeTestDesigner struct{}

func (f *fakeTestDesigner) DesignTests(ctx context.Context, repo, prompt, patch string) (llm.TestPlan, error) {
	return llm.TestPlan{FailToPass: []string{"true"}}, nil
}

// --- fake assessor: always a comfortable pass, no difficulty override ---

type fakeAssessor struct{}

func (f *fakeAssessor) Assess(ctx context.Context, in llm.AssessInput) (llm.QualityReport, error) {
	return llm.QualityReport{Score: 0.9, QualityGood: true}, nil
}

// --- fake sandbox: models base-state vs patched-state transitions so the
// validator's fail_to_pass checks behave correctly across Phase B and C ---

type fakeSandbox struct {
	name    string
	patched bool
}

func (s *fakeSandbox) Name() string { return s.name }

func (s *fakeSandbox) Exec(ctx context.Context, command string, timeout time.Duration) (sandbox.ExecResult, error) {
	if strings.HasPrefix(command, "git apply") {
		s.patched = true
		return sandbox.ExecResult{ExitCode: 0}, nil
	}
	if strings.Contains(command, "go test") {
		if s.patched {
			return sandbox.ExecResult{ExitCode: 0}, nil
		}
		return sandbox.ExecResult{ExitCode: 1}, nil
	}
	return sandbox.ExecResult{ExitCode: 0}, nil
}

func (s *fakeSandbox) WriteFile(ctx context.Context, path, content string) error { return nil }
func (s *fakeSandbox) ReadFile(ctx context.Context, path string) (string, error) { return "", nil }
func (s *fakeSandbox) ToolRequest(ctx context.Context, toolName string, args []byte) (sandbox.ExecResult, error) {
	return sandbox.ExecResult{}, nil
}
func (s *fakeSandbox) Destroy(ctx context.Context) error { return nil }

// fakeSandboxFactory hands out a brand-new, freshly-unpatched sandbox every
// call, mirroring Phase B and Phase C each getting their own container.
type fakeSandboxFactory struct {
	mu    sync.Mutex
	count int
}

func (f *fakeSandboxFactory) Start(ctx context.Context, opts sandbox.StartOptions) (sandbox.Sandbox, error) {
	f.mu.Lock()
	f.count++
	name := fmt.Sprintf("fake-sandbox-%d", f.count)
	f.mu.Unlock()
	return &fakeSandbox{name: name}, nil
}

// --- fake PR cache: concurrency-safe in-memory store ---

type fakeCache struct {
	mu     sync.Mutex
	skip   map[string]bool
	exports map[string]bool
	rejects map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{skip: map[string]bool{}, exports: map[string]bool{}, rejects: map[string]string{}}
}

func (c *fakeCache) ShouldSkip(repo string, changeNum int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.skip[task.ID(repo, changeNum)]
}
func (c *fakeCache) TriageDifficulty(repo string, changeNum int) (task.Difficulty, bool) { return "", false }
func (c *fakeCache) Upsert(e prcache.Entry) error                                        { return nil }
func (c *fakeCache) MarkRejected(repo string, changeNum int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejects[task.ID(repo, changeNum)] = reason
	return nil
}
func (c *fakeCache) MarkExported(repo string, changeNum int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exports[task.ID(repo, changeNum)] = true
	return nil
}
func (c *fakeCache) LogStats(logf func(format string, args ...any)) {}
func (c *fakeCache) Close() error                                    { return nil }

// --- scenario builders ---

func candidateEvent(repo string, changeNum int, now time.Time) source.Event {
	return source.Event{
		Repo: repo, ChangeNum: changeNum, Action: "merged-change",
		Actor: "human", HasOrg: true, MergedAt: now,
	}
}

func newCollaborators(events []source.Event, byKey map[string]candidateMeta, byTitle map[string]task.Difficulty, outDir string) Collaborators {
	return Collaborators{
		Collector:    &fakeCollector{events: events},
		Fetcher:      &fakeFetcher{byKey: byKey},
		Triager:      &fakeTriager{byTitle: byTitle},
		DiffFetcher:  &fakeDiffFetcher{},
		Rewriter:     &fakeRewriter{},
		TestDesigner: &fakeTestDesigner{},
		Assessor:     &fakeAssessor{},
		Validator:    &validator.Validator{Sandboxes: &fakeSandboxFactory{}},
		Cache:        newFakeCache(),
		Export:       export.Layout{OutputDir: outDir},
	}
}

func TestHappyPathSingleTargetQuota(t *testing.T) {
	now := time.Now()
	repo := "acme/widgets"
	events := []source.Event{
		candidateEvent(repo, 1, now),
		candidateEvent(repo, 2, now),
		candidateEvent(repo, 3, now),
	}
	byKey := map[string]candidateMeta{
		task.ID(repo, 1): {title: "easy-1", baseSHA: "base1", mergeSHA: "merge1"},
		task.ID(repo, 2): {title: "easy-2", baseSHA: "base2", mergeSHA: "merge2"},
		task.ID(repo, 3): {title: "easy-3", baseSHA: "base3", mergeSHA: "merge3"},
	}
	byTitle := map[string]task.Difficulty{"easy-1": task.Easy, "easy-2": task.Easy, "easy-3": task.Easy}

	col := newCollaborators(events, byKey, byTitle, t.TempDir())
	cfg := Config{
		MaxCandidates: len(events), MaxTasks: 2, DifficultyFilter: task.Easy,
		Once: true, Languages: []string{"go"},
	}

	summary, err := New(cfg, col).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Tasks, 2, "exactly MaxTasks should be exported under a single-target quota")
	for _, tk := range summary.Tasks {
		require.Equal(t, task.Exported, tk.Status)
	}
}

func TestMultiTargetQuotas(t *testing.T) {
	now := time.Now()
	repo := "acme/widgets"
	events := []source.Event{
		candidateEvent(repo, 1, now),
		candidateEvent(repo, 2, now),
		candidateEvent(repo, 3, now),
		candidateEvent(repo, 4, now),
	}
	byKey := map[string]candidateMeta{
		task.ID(repo, 1): {title: "easy-1", baseSHA: "base1", mergeSHA: "merge1"},
		task.ID(repo, 2): {title: "easy-2", baseSHA: "base2", mergeSHA: "merge2"},
		task.ID(repo, 3): {title: "hard-3", baseSHA: "base3", mergeSHA: "merge3"},
		task.ID(repo, 4): {title: "medium-4", baseSHA: "base4", mergeSHA: "merge4"},
	}
	byTitle := map[string]task.Difficulty{
		"easy-1": task.Easy, "easy-2": task.Easy, "hard-3": task.Hard, "medium-4": task.Medium,
	}

	col := newCollaborators(events, byKey, byTitle, t.TempDir())
	cfg := Config{
		MaxCandidates:     len(events),
		DifficultyTargets: map[task.Difficulty]int{task.Easy: 1, task.Hard: 1},
		Once:              true,
		Languages:         []string{"go"},
	}

	summary, err := New(cfg, col).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Tasks, 2, "exactly one easy and one hard task should clear quota")

	byDifficultyCount := map[int]int{1: 0, 2: 0, 3: 0, 4: 0}
	for _, tk := range summary.Tasks {
		byDifficultyCount[tk.ChangeNum]++
	}
	require.Equal(t, 0, byDifficultyCount[4], "medium candidate has no quota slot and must be rejected")
	require.Equal(t, 1, byDifficultyCount[3], "the only hard candidate must fill the hard quota")
	require.Equal(t, 1, byDifficultyCount[1]+byDifficultyCount[2], "exactly one of the two easy candidates fills the easy quota")
}
