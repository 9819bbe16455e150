package reminder

import (
	"context"
	"sync"
)

// forEach runs fn over every input on a bounded worker pool and returns the
// results in input order. A failing input never stops the others; inputs not
// yet started when ctx is cancelled get fn's result for a cancelled ctx.
func forEach[T, R any](
	ctx context.Context,
	inputs []T,
	workers int,
	fn func(context.Context, T) R,
) []R {
	out := make([]R, len(inputs))
	if len(inputs) == 0 {
		return out
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > len(inputs) {
		workers = len(inputs)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				out[idx] = fn(ctx, inputs[idx])
			}
		}()
	}

	for idx := range inputs {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()
	return out
}
