package scheduler

import (
	"context"
	"fmt"
	"sync"
)

// Unit is one independent piece of work.
type Unit[T any] func(ctx context.Context) (T, error)

// Result holds one unit's outcome in its input position.
type Result[T any] struct {
	Value T
	Err   error
}

// RunAll executes units with at most maxConcurrency running at once and
// returns their results in input order. A unit's failure (or panic) is
// captured in its own slot and never aborts the others.
func RunAll[T any](ctx context.Context, units []Unit[T], maxConcurrency int) []Result[T] {
	results := make([]Result[T], len(units))
	if len(units) == 0 {
		return results
	}

	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if maxConcurrency > len(units) {
		maxConcurrency = len(units)
	}

	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < maxConcurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = run(ctx, units[i])
			}
		}()
	}

	for i := range units {
		jobs <- i
	}
	close(jobs)

	wg.Wait()
	return results
}

func run[T any](ctx context.Context, unit Unit[T]) (res Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("unit panicked: %v", r)
		}
	}()
	res.Value, res.Err = unit(ctx)
	return res
}
