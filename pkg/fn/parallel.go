package fn

import (
	"context"
	"sync"
)

// ParMap applies stage to each item with bounded concurrency, preserving order.
// Items not yet started when ctx is cancelled get ctx.Err().
func ParMap[T, U any](ctx context.Context, items []T, workers int, stage Stage[T, U]) []Result[U] {
	out := make([]Result[U], len(items))
	if len(items) == 0 {
		return out
	}
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i, v := range items {
		select {
		case <-ctx.Done():
			out[i] = Err[U](ctx.Err())
			continue
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(i int, v T) {
			defer func() { <-sem; wg.Done() }()
			out[i] = stage(ctx, v)
		}(i, v)
	}
	wg.Wait()
	return out
}
