// Package fanout provides a join primitive for concurrent unit execution with
// per-unit failure isolation. All units run to completion; one unit's error or
// panic never cancels its siblings.
package fanout

import (
	"context"
	"fmt"
	"sync"
)

// Result holds the outcome of one unit.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Unit is one concurrent unit of work.
type Unit[T any] func(ctx context.Context) (T, error)

// Join runs every unit concurrently and blocks until all have finished,
// collecting both successes and failures. Panics inside a unit are recovered
// and surfaced as that unit's error. Results are returned in unit order.
func Join[T any](ctx context.Context, units []Unit[T]) []Result[T] {
	results := make([]Result[T], len(units))

	var wg sync.WaitGroup
	for i, unit := range units {
		wg.Add(1)
		go func(idx int, u Unit[T]) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[idx] = Result[T]{Index: idx, Err: fmt.Errorf("unit %d panicked: %v", idx, r)}
				}
			}()
			value, err := u(ctx)
			results[idx] = Result[T]{Index: idx, Value: value, Err: err}
		}(i, unit)
	}
	wg.Wait()

	return results
}

// Failed returns the errors of all failed units.
func Failed[T any](results []Result[T]) []error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}
