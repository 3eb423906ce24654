// Package race runs several candidate tasks concurrently and returns the
// first one to succeed, aborting the rest.
package race

import "context"

// Outcome is one candidate's terminal state, as observed by the race.
type Outcome[T any] struct {
	Index   int
	Result  T
	Success bool
}

// Run launches one goroutine per candidate via runner, each given its own
// derived, cancellable context. The first candidate whose runner reports
// success wins: the other contexts are cancelled and Run returns right
// away, without waiting for the losers to actually observe cancellation
// and return — that's the whole point of a race. Losers keep running in
// the background on a best-effort basis; Run never reports on their
// outcome.
//
// isSuccess decides whether a given result counts as a win. Run returns
// the winning index and result, the outcomes observed up to and
// including the winner (in completion order), and aborted=true when
// every observed candidate finished without success, or the parent ctx
// was cancelled first.
func Run[T any](
	ctx context.Context,
	n int,
	runner func(ctx context.Context, index int) T,
	isSuccess func(T) bool,
) (winnerIndex int, winner T, outcomes []Outcome[T], aborted bool) {
	if n == 0 {
		return -1, winner, nil, true
	}

	raceCtx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	childCancels := make([]context.CancelFunc, n)
	childCtxs := make([]context.Context, n)
	for i := 0; i < n; i++ {
		childCtxs[i], childCancels[i] = context.WithCancel(raceCtx)
	}

	done := make(chan Outcome[T], n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			r := runner(childCtxs[idx], idx)
			done <- Outcome[T]{Index: idx, Result: r, Success: isSuccess(r)}
		}(i)
	}

	remaining := n
	for remaining > 0 {
		select {
		case o := <-done:
			remaining--
			outcomes = append(outcomes, o)
			if o.Success {
				for i, cancel := range childCancels {
					if i != o.Index {
						cancel()
					}
				}
				return o.Index, o.Result, outcomes, false
			}
		case <-ctx.Done():
			return -1, winner, outcomes, true
		}
	}

	return -1, winner, outcomes, true
}
