// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grains

import (
	"context"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/curioloop/grainfit/instrument"
	"github.com/curioloop/grainfit/reflections"
)

// Job is one grain to refine.
type Job struct {
	ID          int
	Params      Params
	Reflections map[string]reflections.Source
}

// JobResult pairs a job with its outcome. Exactly one of Fit and Err is set.
type JobResult struct {
	ID  int
	Fit *FitResult
	Err error
}

// FitGrains refines independent grains on workers goroutines, zero meaning
// GOMAXPROCS. Results are returned in job order. A failed grain never
// affects the others; once ctx is done, jobs not yet started fail with
// ctx.Err().
func FitGrains(ctx context.Context, inst *instrument.Instrument, bMat *r3.Mat, wavelength float64,
	jobs []Job, workers int, opts ...Option) []JobResult {

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, len(jobs))

	results := make([]JobResult, len(jobs))
	queue := make(chan int)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range queue {
				job := &jobs[i]
				results[i].ID = job.ID
				if err := ctx.Err(); err != nil {
					results[i].Err = err
					continue
				}
				results[i].Fit, results[i].Err = FitGrain(job.Params, inst, job.Reflections, bMat, wavelength, opts...)
			}
		}()
	}
	for i := range jobs {
		queue <- i
	}
	close(queue)
	wg.Wait()
	return results
}
