// Package pipeline implements the Pipeline Scheduler (spec §2.12, §4.12):
// the stage-semaphore scheduler that fans every candidate independently
// through enrich -> filter -> triage -> extract -> rewrite -> testgen ->
// assess -> validate -> export, enforces quota, and exports in real time.
// Grounded in the "pool, not chunk" shape: golang.org/x/sync/semaphore
// bounds each stage's concurrency and golang.org/x/sync/errgroup fans out
// one goroutine per candidate, the idiom SPEC_FULL.md §5 calls for in place
// of the teacher's single-threaded orchestrator.Run (ci-agent/orchestrator).
package pipeline

import (
	"time"

	"github.com/forgebench/taskforge/internal/export"
	"github.com/forgebench/taskforge/internal/filter"
	"github.com/forgebench/taskforge/internal/llm"
	"github.com/forgebench/taskforge/internal/patch"
	"github.com/forgebench/taskforge/internal/prcache"
	"github.com/forgebench/taskforge/internal/source"
	"github.com/forgebench/taskforge/internal/task"
	"github.com/forgebench/taskforge/internal/triage"
	"github.com/forgebench/taskforge/internal/validator"
)

// Default stage semaphore weights (spec §4.12, §5): cheap-high-fanout
// feeding expensive-scarce is the contract; these defaults realize it.
const (
	DefaultEnrichConcurrency = 5
	DefaultTriageConcurrency = 15
	DefaultDeepConcurrency   = 5
)

// DefaultMinQualityScore mirrors quality.DefaultMinQualityScore so callers
// that don't set Config.MinQualityScore still get the spec's default.
const DefaultMinQualityScore = 0.3

// Config is the Run configuration from spec §6. Exactly one of the two
// quota modes is meaningful at a time; when both DifficultyTargets and
// DifficultyFilter are set, DifficultyTargets wins (spec §6, §9 Open
// Questions — this implementation's decision is recorded in DESIGN.md).
type Config struct {
	MinStars      int      `long:"min-stars" description:"minimum repository star count to admit a candidate"`
	Languages     []string `long:"language" description:"primary languages to admit (repeatable); empty admits all"`
	MaxCandidates int      `long:"max-candidates" description:"maximum number of candidates taken from the event source (0 keeps all)"`
	MaxTasks      int      `long:"max-tasks" description:"stop once this many tasks have been exported"`
	Once          bool     `long:"once" description:"stop as soon as every configured quota is satisfied"`

	DifficultyFilter task.Difficulty `long:"difficulty" description:"single-difficulty quota mode"`

	// DifficultyTargets and SkipPRs have no flag tags: go-flags has no
	// native mapping for a map keyed by a named string type or a
	// map[string]struct{} set, so these are set programmatically by the
	// embedder rather than parsed from argv.
	DifficultyTargets map[task.Difficulty]int
	SkipPRs           map[string]struct{}

	MiningImage string `long:"mining-image" description:"sandbox image used for the mining/validation phases"`

	MinFilesChanged int `long:"min-files-changed" description:"local-filter lower bound on files touched by the change"`
	MaxFilesChanged int `long:"max-files-changed" description:"local-filter upper bound on files touched by the change"`
	MinLinesAdded   int `long:"min-lines-added" description:"local-filter lower bound on lines added by the change"`
	MaxLinesAdded   int `long:"max-lines-added" description:"local-filter upper bound on lines added by the change"`

	MinQualityScore float64 `long:"min-quality-score" description:"minimum quality score the Quality Scorer must report" default:"0.3"`

	EnrichConcurrency int64 `long:"enrich-concurrency" description:"max concurrent metadata-enrichment fetches" default:"5"`
	TriageConcurrency int64 `long:"triage-concurrency" description:"max concurrent LLM triage calls" default:"15"`
	DeepConcurrency   int64 `long:"deep-concurrency" description:"max concurrent extract/rewrite/testgen/assess/validate chains" default:"5"`
}

// SkipKey derives the Config.SkipPRs membership key for a (repo, change).
func SkipKey(repo string, changeNum int) string {
	return task.ID(repo, changeNum)
}

// withDefaults returns a copy of cfg with zero-valued concurrency/quality
// fields filled from the package defaults.
func (cfg Config) withDefaults() Config {
	if cfg.EnrichConcurrency <= 0 {
		cfg.EnrichConcurrency = DefaultEnrichConcurrency
	}
	if cfg.TriageConcurrency <= 0 {
		cfg.TriageConcurrency = DefaultTriageConcurrency
	}
	if cfg.DeepConcurrency <= 0 {
		cfg.DeepConcurrency = DefaultDeepConcurrency
	}
	if cfg.MinQualityScore <= 0 {
		cfg.MinQualityScore = DefaultMinQualityScore
	}
	return cfg
}

func (cfg Config) filterConfig() filter.Config {
	langs := make(map[string]bool, len(cfg.Languages))
	for _, l := range cfg.Languages {
		langs[l] = true
	}
	return filter.Config{
		Languages:       langs,
		MinStars:        cfg.MinStars,
		MinFilesChanged: cfg.MinFilesChanged,
		MaxFilesChanged: cfg.MaxFilesChanged,
		MinLinesAdded:   cfg.MinLinesAdded,
		MaxLinesAdded:   cfg.MaxLinesAdded,
	}
}

// multiTarget reports whether the multi-target quota mode governs this run.
func (cfg Config) multiTarget() (map[task.Difficulty]int, bool) {
	if cfg.DifficultyTargets != nil {
		return cfg.DifficultyTargets, true
	}
	return nil, false
}

// Collaborators bundles every capability the scheduler depends on. Each
// field is a narrow interface (spec §9 "cyclic module graph" re-architecture
// note): the scheduler never reaches past these to a concrete provider.
type Collaborators struct {
	Collector    source.Collector
	Fetcher      source.MetadataFetcher
	Triager      llm.Triager
	DiffFetcher  patch.DiffFetcher
	Rewriter     llm.Rewriter
	TestDesigner llm.TestDesigner
	Assessor     llm.Assessor
	Validator    *validator.Validator
	Cache        prcache.Cache
	Export       export.Layout
	Sink         export.Sink // optional
	Events       chan<- Event // optional; sends are best-effort (spec §9)
}

// Summary is the final run report (spec §7 "A final summary reports
// {emitted, filtered, extracted, scored, finished_at}").
type Summary struct {
	Emitted    int
	Filtered   int
	Extracted  int
	Scored     int
	FinishedAt time.Time
	Tasks      []*task.Task
}
