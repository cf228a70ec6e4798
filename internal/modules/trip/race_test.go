// README: Concurrency tests for accept/join races (run with -race).
package trip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"carpool/internal/modules/ledger"
	"carpool/internal/types"
)

func TestConcurrentAcceptSameTrip(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), ledger.NewMemoryLedger("TWD"))

	tripID := mustCreateTrip(t, svc, "p_multi_accept", 2, 0, 40)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	start := make(chan struct{})

	for i := 0; i < attempts; i++ {
		driverID := types.ID(fmt.Sprintf("d%d", i))
		wg.Add(1)
		go func(did types.ID) {
			defer wg.Done()
			<-start
			errs <- svc.Accept(ctx, AcceptCommand{TripID: tripID, DriverID: did})
		}(driverID)
	}

	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if err != ErrAlreadyAccepted {
			t.Fatalf("losing accepts must fail with ErrAlreadyAccepted, got %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}

	r, err := svc.Get(ctx, tripID)
	if err != nil {
		t.Fatalf("get trip: %v", err)
	}
	if r.Status != StatusAwaitingPayment && r.Status != StatusAccepted {
		t.Fatalf("unexpected final status: %s", r.Status)
	}
	if r.DriverID == nil || *r.DriverID == "" {
		t.Fatal("expected driver to be bound")
	}
}

func TestConcurrentAcceptVsCancel(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), ledger.NewMemoryLedger("TWD"))

	tripID := mustCreateTrip(t, svc, "p_accept_cancel", 1, 0, 40)

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- svc.Accept(ctx, AcceptCommand{TripID: tripID, DriverID: "d1"})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- svc.Cancel(ctx, CancelCommand{TripID: tripID, ActorType: "passenger", ActorID: "p_accept_cancel", Reason: "user_cancel"})
	}()

	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		switch {
		case err == ErrAlreadyAccepted, err == ErrVersionConflict:
		case errors.Is(err, ErrInvalidTransition):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success < 1 || success > 2 {
		t.Fatalf("expected 1 or 2 successes, got %d", success)
	}

	r, err := svc.Get(ctx, tripID)
	if err != nil {
		t.Fatalf("get trip: %v", err)
	}
	switch r.Status {
	case StatusAwaitingPayment, StatusAccepted, StatusCancelled:
	default:
		t.Fatalf("unexpected final status: %s", r.Status)
	}
}

func TestConcurrentJoinLastSeat(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), ledger.NewMemoryLedger("TWD"))

	// One free seat, contested by several passengers.
	tripID := mustCreateTrip(t, svc, "p_owner", 1, 2, 40)

	const attempts = 6
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	start := make(chan struct{})

	for i := 0; i < attempts; i++ {
		pid := types.ID(fmt.Sprintf("joiner%d", i))
		wg.Add(1)
		go func(p types.ID) {
			defer wg.Done()
			<-start
			errs <- svc.Join(ctx, JoinCommand{TripID: tripID, PassengerID: p})
		}(pid)
	}

	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if err != ErrSeatsFull && err != ErrVersionConflict {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 join to win the last seat, got %d", success)
	}

	r, err := svc.Get(ctx, tripID)
	if err != nil {
		t.Fatalf("get trip: %v", err)
	}
	if r.SeatsFree() != 0 {
		t.Fatalf("expected no free seats, got %d", r.SeatsFree())
	}
	if len(r.Riders) != 2 {
		t.Fatalf("expected 2 riders, got %d", len(r.Riders))
	}
}
