package verify

import (
	"context"
	"sync"
)

// Batch verifies independent certificate documents in parallel under a
// bounded worker count. Results are positionally aligned with inputs
// regardless of completion order.
//
// An in-flight verification is never interrupted; each one is short and
// runs to completion. Entries not yet handed to a worker when ctx ends
// are marked OutcomeTimeout with CodeDeadlineExceeded, so a timed-out
// batch always yields a fully populated, position-stable result slice.
func Batch(ctx context.Context, inputs [][]byte, workers int) []Result {
	results := make([]Result, len(inputs))
	if len(inputs) == 0 {
		return results
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(inputs) {
		workers = len(inputs)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = VerifyBytes(inputs[i], Options{})
			}
		}()
	}

feed:
	for i := range inputs {
		select {
		case jobs <- i:
		case <-ctx.Done():
			for j := i; j < len(inputs); j++ {
				results[j] = Result{
					Outcome: OutcomeTimeout,
					Codes:   []string{CodeDeadlineExceeded},
				}
			}
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	return results
}
