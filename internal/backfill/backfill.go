// internal/backfill/backfill.go
package backfill

import (
	"context"
	"time"

	"go.uber.org/zap"

	"attic/internal/commit"
)

// batchLimit caps how many commits one pass will resolve, so a huge
// backlog cannot starve live traffic.
const batchLimit = 1000

// Job recomputes cached depths for commits that lack one. It only ever
// fills nulls, so it is idempotent and safe to run alongside live commit
// creation.
type Job struct {
	commits *commit.Store
	log     *zap.Logger
}

func NewJob(commits *commit.Store, log *zap.Logger) *Job {
	return &Job{
		commits: commits,
		log:     log,
	}
}

// RunOnce performs a single backfill pass and returns how many commits
// were resolved.
func (j *Job) RunOnce(ctx context.Context) (int, error) {
	ids, err := j.commits.MissingDepths(batchLimit)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	// One memo shared across the batch: sibling commits on the same
	// chain resolve each ancestor once.
	memo := make(map[string]int64)
	resolved := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		if _, err := j.commits.ResolveDepth(id, memo); err != nil {
			j.log.Warn("depth resolution failed",
				zap.String("commit_id", id),
				zap.Error(err),
			)
			continue
		}
		resolved++
	}

	j.log.Info("depth backfill pass complete",
		zap.Int("candidates", len(ids)),
		zap.Int("resolved", resolved),
	)
	return resolved, nil
}

// Run executes backfill passes on the given interval until ctx is done.
func (j *Job) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
				j.log.Error("backfill pass failed", zap.Error(err))
			}
		}
	}
}
