package backtest

import (
	"context"
	"sync"

	"trader/internal/model"
	"trader/internal/signal"
)

// Job is one independent run of a parameter sweep or asset set.
type Job struct {
	Name     string
	Config   Config
	Provider signal.Provider
	Series   map[string][]model.Candle
}

// JobResult pairs a job with its State or error.
type JobResult struct {
	Name  string
	State *State
	Err   error
}

// ParallelRuns executes jobs on workers goroutines. Every job gets its own
// Simulator, so runs share no ledger, state or decision cache. Results are
// returned in job order.
func ParallelRuns(ctx context.Context, jobs []Job, workers int) []JobResult {
	if workers <= 0 {
		workers = 1
	}
	results := make([]JobResult, len(jobs))
	queue := make(chan int)

	var wg sync.WaitGroup
	for range min(workers, max(len(jobs), 1)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				results[i] = runJob(ctx, jobs[i])
			}
		}()
	}

	for i := range jobs {
		select {
		case queue <- i:
		case <-ctx.Done():
			results[i] = JobResult{Name: jobs[i].Name, Err: ctx.Err()}
		}
	}
	close(queue)
	wg.Wait()
	return results
}

func runJob(ctx context.Context, job Job) JobResult {
	res := JobResult{Name: job.Name}
	sim, err := NewSimulator(job.Config, job.Provider)
	if err != nil {
		res.Err = err
		return res
	}
	res.State, res.Err = sim.RunMulti(ctx, job.Series)
	return res
}
