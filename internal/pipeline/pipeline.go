package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"code.cloudfoundry.org/lager/v3"
	"code.cloudfoundry.org/lager/v3/lagerctx"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/forgebench/taskforge/internal/export"
	"github.com/forgebench/taskforge/internal/filter"
	"github.com/forgebench/taskforge/internal/metric"
	"github.com/forgebench/taskforge/internal/patch"
	"github.com/forgebench/taskforge/internal/quality"
	"github.com/forgebench/taskforge/internal/rewrite"
	"github.com/forgebench/taskforge/internal/source"
	"github.com/forgebench/taskforge/internal/task"
	"github.com/forgebench/taskforge/internal/testgen"
	"github.com/forgebench/taskforge/internal/triage"
)

// Scheduler runs the full mining & validation pipeline once per Run call:
// one independent goroutine per candidate, three stage semaphores, a
// shared tracker for quota and the completed-task accumulator, and
// real-time export as each task clears validation (spec §4.12).
type Scheduler struct {
	cfg Config
	col Collaborators

	triage *triage.Classifier

	enrichSem *semaphore.Weighted
	triageSem *semaphore.Weighted
	deepSem   *semaphore.Weighted

	events chan<- Event
}

// New builds a Scheduler from cfg and its collaborators. cfg's zero-valued
// concurrency/quality fields are filled from package defaults.
func New(cfg Config, col Collaborators) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		cfg: cfg,
		col: col,
		triage: &triage.Classifier{
			Triager: col.Triager,
			Cache:   col.Cache,
		},
		enrichSem: semaphore.NewWeighted(cfg.EnrichConcurrency),
		triageSem: semaphore.NewWeighted(cfg.TriageConcurrency),
		deepSem:   semaphore.NewWeighted(cfg.DeepConcurrency),
		events:    col.Events,
	}
}

// Run pulls a batch of candidates from the event source and drives every
// one independently through the full pipeline, returning the final summary.
// A catastrophic batch-setup failure (no events at all, or nothing survives
// the initial pre-filters) is the only error Run itself returns; every
// per-candidate failure is candidate-fatal and never propagates here (spec
// §7).
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	logger := lagerctx.FromContext(ctx).Session("pipeline")
	s.emit(Event{Kind: CollectionStarted, Requested: s.cfg.MaxCandidates})

	events, err := source.Collect(ctx, s.col.Collector, s.cfg.MaxCandidates, s.cfg.MaxCandidates, time.Now())
	if err != nil {
		return Summary{}, fmt.Errorf("pipeline: collecting candidates: %w", err)
	}
	if len(events) == 0 {
		return Summary{}, fmt.Errorf("pipeline: no candidates survived pre-filters")
	}
	metric.Metrics.CandidatesSeen.Add(float64(len(events)))

	tr := newTracker()

	// A plain errgroup.Group, not errgroup.WithContext: per-candidate work
	// runs against the original ctx, since one candidate's failure must
	// never cancel its siblings (spec §7 "per-candidate errors never abort
	// the batch"). Every goroutine below always returns nil; errgroup is
	// used here purely for its WaitGroup-with-panic-safety behavior.
	var g errgroup.Group
	for _, ev := range events {
		ev := ev
		g.Go(func() error {
			s.processCandidate(ctx, tr, ev)
			return nil
		})
	}
	_ = g.Wait()

	tasks, filtered, extracted, scored := tr.snapshot()
	summary := Summary{
		Emitted:    len(tasks),
		Filtered:   filtered,
		Extracted:  extracted,
		Scored:     scored,
		FinishedAt: time.Now(),
		Tasks:      tasks,
	}
	s.emit(Event{Kind: PipelineCompleted, Emitted: summary.Emitted})
	logger.Info("completed", lager.Data{
		"emitted": summary.Emitted, "filtered": summary.Filtered,
		"extracted": summary.Extracted, "scored": summary.Scored,
	})
	return summary, nil
}

// processCandidate drives one event through every stage. It never returns
// an error. Skipped candidates and a cancelled semaphore acquisition return
// without recording anything; every other exit either exports the task or
// records the rejection in the PR cache.
func (s *Scheduler) processCandidate(ctx context.Context, tr *tracker, ev source.Event) {
	logger := lagerctx.FromContext(ctx).Session("candidate", lager.Data{"repo": ev.Repo, "change": ev.ChangeNum})

	if s.cfg.SkipPRs != nil {
		if _, skip := s.cfg.SkipPRs[SkipKey(ev.Repo, ev.ChangeNum)]; skip {
			return
		}
	}
	if s.col.Cache != nil && s.col.Cache.ShouldSkip(ev.Repo, ev.ChangeNum) {
		return
	}
	if s.cfg.Once && tr.satisfied(s.cfg) {
		// Quota already met: no new candidate is admitted, in flight work
		// is left to finish naturally (spec §4.12 "Termination").
		return
	}

	// --- enrich ---
	if err := s.enrichSem.Acquire(ctx, 1); err != nil {
		return
	}
	result, err := source.Enrich(ctx, s.col.Fetcher, ev)
	s.enrichSem.Release(1)
	if err != nil {
		logger.Error("enrich-failed", err)
		s.rejectPreTask(ev, "enrichment failed: "+err.Error())
		return
	}
	t := result.Task

	// --- local filter ---
	stars := metaInt(t, "stars")
	filesChanged := metaInt(t, "files_changed")
	linesAdded := metaInt(t, "lines_added")
	decision := filter.Evaluate(s.cfg.filterConfig(), t, stars, filesChanged, linesAdded)
	tr.incFiltered()
	s.emit(Event{Kind: CandidateFiltered, ID: t.ID, Accepted: decision.Accepted, Reasons: decision.Reasons})
	if !decision.Accepted {
		metric.Metrics.CandidatesRejected.WithLabelValues("filter", "metadata").Inc()
		s.rejectTask(t, "local filter: "+joinReasons(decision.Reasons))
		return
	}
	metric.Metrics.CandidatesAccepted.WithLabelValues("filter").Inc()

	// --- triage ---
	if err := s.triageSem.Acquire(ctx, 1); err != nil {
		return
	}
	difficulty, err := s.triage.Classify(ctx, t.Repo, t.ChangeNum, t.Meta["pr_title"], truncateBody(t.OriginalPRBody))
	s.triageSem.Release(1)
	if err != nil {
		logger.Error("triage-failed", err)
		s.rejectTask(t, "triage failed: "+err.Error())
		return
	}
	if err := t.Transition(task.PreClassified); err != nil {
		s.rejectTask(t, err.Error())
		return
	}
	if !tr.quotaAdmits(s.cfg, difficulty) {
		s.rejectTask(t, "triage quota: difficulty "+string(difficulty)+" full or not targeted")
		return
	}
	if s.cfg.Once && tr.satisfied(s.cfg) {
		s.rejectTask(t, "quota satisfied before extraction")
		return
	}

	// --- deep processing: extract, rewrite, testgen, assess, validate ---
	if err := s.deepSem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.deepSem.Release(1)

	if err := patch.Extract(ctx, s.col.DiffFetcher, t); err != nil {
		logger.Error("extract-failed", err)
		s.rejectTask(t, "extraction failed: "+err.Error())
		return
	}
	tr.incExtracted()
	s.emit(Event{Kind: TaskExtracted, ID: t.ID})

	if err := rewrite.Rewrite(ctx, s.col.Rewriter, t); err != nil {
		logger.Error("rewrite-failed", err)
		s.rejectTask(t, "rewrite failed: "+err.Error())
		return
	}

	if err := testgen.Generate(ctx, s.col.TestDesigner, t); err != nil {
		logger.Error("testgen-failed", err)
		s.rejectTask(t, "test generation failed: "+err.Error())
		return
	}
	s.emit(Event{Kind: TestGenerated, ID: t.ID})

	if err := quality.Assess(ctx, s.col.Assessor, t, s.cfg.MinQualityScore); err != nil {
		logger.Error("assess-failed", err)
		s.rejectTask(t, "quality assessment failed: "+err.Error())
		return
	}
	tr.incScored()
	s.emit(Event{Kind: QualityScored, ID: t.ID, Score: t.QualityScore, Passed: t.QualityPassed})
	if !t.QualityPassed {
		s.rejectTask(t, "quality score below threshold")
		return
	}
	if t.DifficultyScore != "" {
		difficulty = task.Difficulty(t.DifficultyScore)
	}

	if err := s.col.Validator.Validate(ctx, t); err != nil {
		logger.Error("validate-failed", err)
		s.rejectTask(t, err.Error())
		return
	}

	// Quota safety backstop (invariant 2, §8): reserve the slot atomically
	// right before export, since only now do we know this candidate truly
	// consumes one.
	if !tr.reserve(s.cfg, difficulty) {
		s.rejectTask(t, "quota exhausted before export")
		return
	}

	dir, err := export.Write(s.col.Export, t)
	if err != nil {
		logger.Error("export-failed", err)
		s.rejectTask(t, "export failed: "+err.Error())
		return
	}
	t.WorkspacePath = dir
	if err := t.Transition(task.Exported); err != nil {
		logger.Error("transition-failed", err)
		return
	}
	if s.col.Cache != nil {
		_ = s.col.Cache.MarkExported(t.Repo, t.ChangeNum)
	}
	if s.col.Sink != nil {
		if err := s.col.Sink.Put(t); err != nil {
			logger.Error("sink-put-failed", err)
		}
	}
	metric.Metrics.CandidatesAccepted.WithLabelValues("export").Inc()
	tr.commit(t)
}

// rejectPreTask records a rejection for a candidate that never made it past
// enrichment (no task.Task exists yet to transition).
func (s *Scheduler) rejectPreTask(ev source.Event, reason string) {
	metric.Metrics.CandidatesRejected.WithLabelValues("enrich", "error").Inc()
	if s.col.Cache != nil {
		_ = s.col.Cache.MarkRejected(ev.Repo, ev.ChangeNum, reason)
	}
}

// rejectTask marks t Rejected and records the reason in the PR cache.
func (s *Scheduler) rejectTask(t *task.Task, reason string) {
	_ = t.Transition(task.Rejected)
	if s.col.Cache != nil {
		_ = s.col.Cache.MarkRejected(t.Repo, t.ChangeNum, reason)
	}
}

func metaInt(t *task.Task, key string) int {
	v, err := strconv.Atoi(t.Meta[key])
	if err != nil {
		return 0
	}
	return v
}

// truncateBodyBytes bounds the triage body sample at a valid character
// boundary (spec §4.6 "first 500 bytes of body, truncated at a valid
// character boundary").
const truncateBodyBytes = 500

func truncateBody(body string) string {
	if len(body) <= truncateBodyBytes {
		return body
	}
	cut := truncateBodyBytes
	for cut > 0 && !isUTF8Boundary(body, cut) {
		cut--
	}
	return body[:cut]
}

func isUTF8Boundary(s string, i int) bool {
	return i == 0 || i == len(s) || (s[i]&0xC0) != 0x80
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
