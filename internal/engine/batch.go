package engine

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/landslide-lab/sphbox/pkg/core"
)

// BatchResult is the outcome of one request in a batch.
type BatchResult struct {
	Request Request
	Run     *core.Run
	Err     error
}

// Batch runs independent requests concurrently on at most workers
// goroutines (GOMAXPROCS when workers <= 0). A failed run does not stop the
// others; cancelling ctx does. Results are returned in request order.
func (e *Engine) Batch(ctx context.Context, reqs []Request, workers int) []BatchResult {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	e.logger.Info("starting batch", slog.Int("runs", len(reqs)), slog.Int("workers", workers))

	results := make([]BatchResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, req := range reqs {
		results[i].Request = req
		if err := gctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			run, err := e.Run(gctx, req)
			results[i].Run = run
			results[i].Err = err
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	e.logger.Info("batch finished", slog.Int("runs", len(reqs)), slog.Int("failed", failed))
	return results
}

// Failed returns the results that ended in error.
func Failed(results []BatchResult) []BatchResult {
	var out []BatchResult
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
