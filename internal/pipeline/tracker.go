package pipeline

import (
	"sync"

	"github.com/forgebench/taskforge/internal/task"
)

// tracker guards every piece of shared mutable state touched from every
// worker goroutine: per-difficulty export counts, the completed-task
// accumulator, and the filtered/extracted/scored tallies for the final
// summary. Spec §9 calls this out explicitly: "express each as a
// separately-lockable resource; hold each lock for the minimum window
// needed (check-and-increment atomically for quotas)." A single mutex
// suffices here since none of these critical sections do I/O.
type tracker struct {
	mu sync.Mutex

	completed map[task.Difficulty]int
	total     int
	tasks     []*task.Task

	filtered, extracted, scored int
}

func newTracker() *tracker {
	return &tracker{completed: map[task.Difficulty]int{}}
}

func (t *tracker) incFiltered() {
	t.mu.Lock()
	t.filtered++
	t.mu.Unlock()
}

func (t *tracker) incExtracted() {
	t.mu.Lock()
	t.extracted++
	t.mu.Unlock()
}

func (t *tracker) incScored() {
	t.mu.Lock()
	t.scored++
	t.mu.Unlock()
}

// quotaAdmits reports, under the read of current counts, whether a
// candidate of difficulty d may still proceed (spec §4.6, §4.12). It does
// not reserve a slot — see reserve for the atomic check-and-increment used
// immediately before export.
func (t *tracker) quotaAdmits(cfg Config, d task.Difficulty) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.admitsLocked(cfg, d)
}

func (t *tracker) admitsLocked(cfg Config, d task.Difficulty) bool {
	if targets, multi := cfg.multiTarget(); multi {
		if d == "" {
			return false
		}
		quota, ok := targets[d]
		if !ok || quota <= 0 {
			return false
		}
		return t.completed[d] < quota
	}
	if cfg.DifficultyFilter != "" && d != cfg.DifficultyFilter {
		return false
	}
	return t.total < cfg.MaxTasks
}

// satisfied reports whether every configured quota has been met: the
// scheduler's termination condition under Once (spec §4.12).
func (t *tracker) satisfied(cfg Config) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if targets, multi := cfg.multiTarget(); multi {
		for d, quota := range targets {
			if quota > 0 && t.completed[d] < quota {
				return false
			}
		}
		return true
	}
	return t.total >= cfg.MaxTasks
}

// reserve is the atomic check-and-increment guarding quota safety
// (invariant 2, §8): a candidate only counts against quota once it is
// actually about to be written to disk. Concurrent validators racing for
// the last slot of a difficulty: exactly one reserve succeeds.
func (t *tracker) reserve(cfg Config, d task.Difficulty) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.admitsLocked(cfg, d) {
		return false
	}
	t.completed[d]++
	t.total++
	return true
}

// commit appends an exported task to the accumulator. Called only after
// the task has actually been written to disk and the PR cache updated, so
// the accumulator never holds a task that failed export.
func (t *tracker) commit(tk *task.Task) {
	t.mu.Lock()
	t.tasks = append(t.tasks, tk)
	t.mu.Unlock()
}

func (t *tracker) snapshot() ([]*task.Task, int, int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*task.Task, len(t.tasks))
	copy(out, t.tasks)
	return out, t.filtered, t.extracted, t.scored
}
