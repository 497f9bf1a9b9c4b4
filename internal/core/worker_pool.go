package core

import (
	"context"
	"sync"
)

// WorkerPool runs a batch of jobs concurrently across maxWorkers goroutines,
// collecting one JobResult per job in submission order. This is the same
// producer/worker/waiting-room shape used upstream for concurrent subtitle
// item processing, generalized here from astisub.Item to Job: a channel
// distributes work, workers report results tagged with their origin index,
// and a collector stores each result at its origin index so
// callers see results in the order jobs were submitted even though they
// finish out of order.
type WorkerPool struct {
	runner     JobRunner
	maxWorkers int
	handler    MessageHandler
}

func NewWorkerPool(runner JobRunner, maxWorkers int, handler MessageHandler) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{runner: runner, maxWorkers: maxWorkers, handler: handler}
}

type indexedJob struct {
	index int
	job   *Job
}

type indexedResult struct {
	index  int
	result *JobResult
	err    *ProcessingError
}

// ProcessJobs runs every job in jobs to completion and returns one
// (JobResult, error) pair per job, in the same order jobs was given. A
// per-job ProcessingError with Behavior AbortAllTasks cancels every other
// in-flight job; any other behavior is recorded against that job alone and
// the rest continue.
func (p *WorkerPool) ProcessJobs(ctx context.Context, jobs []*Job) ([]*JobResult, []error) {
	total := len(jobs)
	jobChan := make(chan indexedJob)
	resultChan := make(chan indexedResult, total)
	var wg sync.WaitGroup

	poolCtx, poolCancel := context.WithCancel(ctx)
	defer poolCancel()

	for i := 1; i <= p.maxWorkers; i++ {
		wg.Add(1)
		go p.startWorker(poolCtx, jobChan, resultChan, &wg)
	}

	go func() {
		defer close(jobChan)
		for i, j := range jobs {
			select {
			case <-poolCtx.Done():
				return
			case jobChan <- indexedJob{index: i, job: j}:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([]*JobResult, total)
	errs := make([]error, total)
	completed := 0

	for completed < total {
		select {
		case <-poolCtx.Done():
			return results, errs
		case ir, ok := <-resultChan:
			if !ok {
				return results, errs
			}
			results[ir.index] = ir.result
			if ir.err != nil {
				errs[ir.index] = ir.err
				if ir.err.Behavior == AbortAllTasks {
					poolCancel()
				}
			}
			completed++
			p.handler.UpdateProgress("Batch", completed, total, "jobs completed")
		}
	}

	return results, errs
}

func (p *WorkerPool) startWorker(ctx context.Context, jobChan <-chan indexedJob, resultChan chan<- indexedResult, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ij, ok := <-jobChan:
			if !ok {
				return
			}
			result, procErr := p.runner.RunJob(ctx, ij.job)
			select {
			case resultChan <- indexedResult{index: ij.index, result: result, err: procErr}:
			case <-ctx.Done():
				return
			}
		}
	}
}
