package race

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunReturnsTheWinner(t *testing.T) {
	winnerIdx, winner, outcomes, aborted := Run(context.Background(), 3,
		func(_ context.Context, idx int) int { return idx },
		func(r int) bool { return r == 1 },
	)

	if aborted {
		t.Fatal("did not expect abort")
	}
	if winnerIdx != 1 || winner != 1 {
		t.Fatalf("winnerIdx=%d winner=%d, want 1/1", winnerIdx, winner)
	}
	if len(outcomes) == 0 {
		t.Fatal("expected at least the winning outcome")
	}
}

func TestRunAbortsWhenNoneSucceed(t *testing.T) {
	_, _, outcomes, aborted := Run(context.Background(), 2,
		func(_ context.Context, idx int) int { return idx },
		func(int) bool { return false },
	)

	if !aborted {
		t.Fatal("expected abort when no candidate succeeds")
	}
	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outcomes))
	}
}

func TestRunZeroCandidatesAborts(t *testing.T) {
	_, _, outcomes, aborted := Run(context.Background(), 0,
		func(_ context.Context, idx int) int { return idx },
		func(int) bool { return true },
	)
	if !aborted {
		t.Fatal("expected abort for zero candidates")
	}
	if outcomes != nil {
		t.Errorf("outcomes = %v, want nil", outcomes)
	}
}

// TestRunReturnsWithoutWaitingForLosers guards the race's whole purpose:
// once a winner is found, Run must return immediately rather than block
// on stragglers that are still unwinding their cancellation.
func TestRunReturnsWithoutWaitingForLosers(t *testing.T) {
	var loserFinished int32
	loserCancelled := make(chan struct{})

	winnerIdx, winner, outcomes, aborted := Run(context.Background(), 2,
		func(ctx context.Context, idx int) string {
			if idx == 0 {
				return "winner"
			}
			<-ctx.Done()
			close(loserCancelled)
			time.Sleep(50 * time.Millisecond)
			atomic.StoreInt32(&loserFinished, 1)
			return "loser"
		},
		func(r string) bool { return r == "winner" },
	)

	if aborted {
		t.Fatal("did not expect abort")
	}
	if winnerIdx != 0 || winner != "winner" {
		t.Fatalf("winnerIdx=%d winner=%q", winnerIdx, winner)
	}
	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1 (Run should not wait for the loser to finish)", len(outcomes))
	}
	if atomic.LoadInt32(&loserFinished) != 0 {
		t.Fatal("loser had already finished by the time Run returned; Run waited on it")
	}

	<-loserCancelled
	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&loserFinished) != 1 {
		t.Error("loser never got to finish in the background")
	}
}
