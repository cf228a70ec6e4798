// README: Trip service tests (state machine closure, lifecycle flows, payment
// coupling, seat joins).
package trip

import (
	"context"
	"errors"
	"testing"
	"time"

	"carpool/internal/modules/ledger"
	"carpool/internal/types"
)

var allStatuses = []Status{
	StatusOpen, StatusAccepted, StatusAwaitingPayment,
	StatusPaid, StatusInProgress, StatusCompleted, StatusCancelled,
}

// TestCanTransition_Closure checks every (from, to) pair against the
// transition table: listed pairs pass, everything else is rejected.
func TestCanTransition_Closure(t *testing.T) {
	legal := map[Status]map[Status]bool{}
	for from, tos := range AllowedTransitions {
		legal[from] = map[Status]bool{}
		for _, to := range tos {
			legal[from][to] = true
		}
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := legal[from][to]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}

	// Spot checks on the edges that matter most.
	if !CanTransition(StatusPaid, StatusCancelled) {
		t.Error("paid trips must be cancellable")
	}
	if CanTransition(StatusInProgress, StatusCancelled) {
		t.Error("in-progress trips must not be cancellable")
	}
	if CanTransition(StatusCompleted, StatusOpen) || CanTransition(StatusCancelled, StatusOpen) {
		t.Error("terminal states must have no outgoing transitions")
	}
}

func newTestService(t *testing.T) (*Service, *MemoryStore, *ledger.MemoryLedger) {
	t.Helper()
	store := NewMemoryStore()
	led := ledger.NewMemoryLedger("TWD")
	return NewService(store, led), store, led
}

func mustCreateTrip(t *testing.T, svc *Service, passenger types.ID, headcount, seatsTotal int, price int64) types.ID {
	t.Helper()
	id, err := svc.Create(context.Background(), CreateCommand{
		PassengerID:   passenger,
		PassengerName: "passenger " + string(passenger),
		Origin:        types.Place{Name: "University", Point: types.Point{Lat: 25.0170, Lng: 121.5395}},
		Destination:   types.Place{Name: "Airport", Point: types.Point{Lat: 25.0777, Lng: 121.2328}},
		DepartureTime: time.Now().Add(time.Hour),
		Headcount:     headcount,
		SeatsTotal:    seatsTotal,
		PricePerSeat:  types.Money{Amount: price, Currency: "TWD"},
	})
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	return id
}

func assertStatus(t *testing.T, svc *Service, id types.ID, want Status) {
	t.Helper()
	r, err := svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get trip: %v", err)
	}
	if r.Status != want {
		t.Fatalf("expected status %s, got %s", want, r.Status)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	base := CreateCommand{
		PassengerID:   "p1",
		Origin:        types.Place{Name: "A"},
		Destination:   types.Place{Name: "B"},
		DepartureTime: time.Now().Add(time.Hour),
		Headcount:     2,
		PricePerSeat:  types.Money{Amount: 40, Currency: "TWD"},
	}

	cases := []struct {
		name   string
		mutate func(*CreateCommand)
	}{
		{"missing passenger", func(c *CreateCommand) { c.PassengerID = "" }},
		{"zero headcount", func(c *CreateCommand) { c.Headcount = 0 }},
		{"negative headcount", func(c *CreateCommand) { c.Headcount = -1 }},
		{"zero price", func(c *CreateCommand) { c.PricePerSeat.Amount = 0 }},
		{"negative price", func(c *CreateCommand) { c.PricePerSeat.Amount = -5 }},
		{"past departure", func(c *CreateCommand) { c.DepartureTime = time.Now().Add(-time.Minute) }},
		{"missing origin", func(c *CreateCommand) { c.Origin.Name = "" }},
		{"missing destination", func(c *CreateCommand) { c.Destination.Name = "" }},
		{"seats below headcount", func(c *CreateCommand) { c.SeatsTotal = 1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := base
			tc.mutate(&cmd)
			if _, err := svc.Create(ctx, cmd); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCreate_TotalCostFixedAtCreation(t *testing.T) {
	svc, _, _ := newTestService(t)
	id := mustCreateTrip(t, svc, "p1", 2, 0, 40)

	r, err := svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.TotalCost.Amount != 80 {
		t.Fatalf("expected total cost 80, got %d", r.TotalCost.Amount)
	}
	if r.Status != StatusOpen || r.DriverID != nil {
		t.Fatalf("new trip must be open with no driver, got %s %v", r.Status, r.DriverID)
	}
	if r.Version != 1 {
		t.Fatalf("expected initial version 1, got %d", r.Version)
	}
}

// TestTripFlowHappyPath follows the University->Airport scenario: 2 seats at
// 40 each, driver accepts, passenger funds the 80 fare after one failed
// attempt, driver runs the trip to completion and earns the fare.
func TestTripFlowHappyPath(t *testing.T) {
	svc, store, led := newTestService(t)
	ctx := context.Background()

	tripID := mustCreateTrip(t, svc, "p1", 2, 0, 40)
	assertStatus(t, svc, tripID, StatusOpen)

	if err := svc.Accept(ctx, AcceptCommand{TripID: tripID, DriverID: "d1", DriverName: "driver one"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	// Headcount fills all offered seats, so accept lands directly in
	// awaiting_payment.
	assertStatus(t, svc, tripID, StatusAwaitingPayment)

	if _, err := led.TopUp(ctx, "p1", types.Money{Amount: 50, Currency: "TWD"}); err != nil {
		t.Fatalf("topup: %v", err)
	}
	if err := svc.Pay(ctx, PayCommand{TripID: tripID, PassengerID: "p1"}); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds with balance 50, got %v", err)
	}
	assertStatus(t, svc, tripID, StatusAwaitingPayment)

	if _, err := led.TopUp(ctx, "p1", types.Money{Amount: 100, Currency: "TWD"}); err != nil {
		t.Fatalf("topup: %v", err)
	}
	if err := svc.Pay(ctx, PayCommand{TripID: tripID, PassengerID: "p1"}); err != nil {
		t.Fatalf("pay: %v", err)
	}
	assertStatus(t, svc, tripID, StatusPaid)

	if b, _ := led.Balance(ctx, "p1"); b.Amount != 70 {
		t.Fatalf("expected balance 70 after paying 80 of 150, got %d", b.Amount)
	}

	if err := svc.Start(ctx, StartCommand{TripID: tripID, DriverID: "d1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	assertStatus(t, svc, tripID, StatusInProgress)

	if err := svc.Complete(ctx, CompleteCommand{TripID: tripID, DriverID: "d1"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	assertStatus(t, svc, tripID, StatusCompleted)

	if b, _ := led.Balance(ctx, "d1"); b.Amount != 80 {
		t.Fatalf("expected driver earning 80, got %d", b.Amount)
	}

	r, _ := svc.Get(ctx, tripID)
	if r.PaymentRef == nil || *r.PaymentRef == "" {
		t.Fatal("expected payment reference recorded")
	}

	events, err := store.ListEvents(ctx, tripID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	wantFlow := []Status{StatusOpen, StatusAwaitingPayment, StatusPaid, StatusInProgress, StatusCompleted}
	if len(events) != len(wantFlow) {
		t.Fatalf("expected %d transition events, got %d", len(wantFlow), len(events))
	}
	for i, e := range events {
		if e.ToStatus != wantFlow[i] {
			t.Errorf("event %d: expected to-status %s, got %s", i, wantFlow[i], e.ToStatus)
		}
	}
}

func TestPay_WrongPassengerRejected(t *testing.T) {
	svc, _, led := newTestService(t)
	ctx := context.Background()

	tripID := mustCreateTrip(t, svc, "p1", 1, 0, 40)
	if err := svc.Accept(ctx, AcceptCommand{TripID: tripID, DriverID: "d1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := led.TopUp(ctx, "p2", types.Money{Amount: 100, Currency: "TWD"}); err != nil {
		t.Fatalf("topup: %v", err)
	}
	if err := svc.Pay(ctx, PayCommand{TripID: tripID, PassengerID: "p2"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for wrong passenger, got %v", err)
	}
	assertStatus(t, svc, tripID, StatusAwaitingPayment)
}

func TestInvalidTransitions_LeaveStateUnchanged(t *testing.T) {
	svc, _, led := newTestService(t)
	ctx := context.Background()

	tripID := mustCreateTrip(t, svc, "p1", 1, 0, 40)

	if err := svc.Start(ctx, StartCommand{TripID: tripID, DriverID: "d1"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("start with no bound driver: expected ErrValidation, got %v", err)
	}
	if err := svc.Pay(ctx, PayCommand{TripID: tripID, PassengerID: "p1"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pay while open: expected ErrInvalidTransition, got %v", err)
	}
	assertStatus(t, svc, tripID, StatusOpen)

	if err := svc.Accept(ctx, AcceptCommand{TripID: tripID, DriverID: "d1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := svc.Complete(ctx, CompleteCommand{TripID: tripID, DriverID: "d1"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("complete before start: expected ErrInvalidTransition, got %v", err)
	}
	if err := svc.Start(ctx, StartCommand{TripID: tripID, DriverID: "d1"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("start before pay: expected ErrInvalidTransition, got %v", err)
	}
	assertStatus(t, svc, tripID, StatusAwaitingPayment)

	if _, err := led.TopUp(ctx, "p1", types.Money{Amount: 100, Currency: "TWD"}); err != nil {
		t.Fatalf("topup: %v", err)
	}
	if err := svc.Pay(ctx, PayCommand{TripID: tripID, PassengerID: "p1"}); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if err := svc.Start(ctx, StartCommand{TripID: tripID, DriverID: "d1"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	// In-progress trips cannot be cancelled.
	err := svc.Cancel(ctx, CancelCommand{TripID: tripID, ActorType: "passenger", ActorID: "p1", Reason: "changed my mind"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel in-progress: expected ErrInvalidTransition, got %v", err)
	}
	assertStatus(t, svc, tripID, StatusInProgress)

	if err := svc.Complete(ctx, CompleteCommand{TripID: tripID, DriverID: "d1"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := svc.Complete(ctx, CompleteCommand{TripID: tripID, DriverID: "d1"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double complete: expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancel_AfterPaidRefundsFirst(t *testing.T) {
	svc, _, led := newTestService(t)
	ctx := context.Background()

	tripID := mustCreateTrip(t, svc, "p1", 2, 0, 40)
	if err := svc.Accept(ctx, AcceptCommand{TripID: tripID, DriverID: "d1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := led.TopUp(ctx, "p1", types.Money{Amount: 100, Currency: "TWD"}); err != nil {
		t.Fatalf("topup: %v", err)
	}
	if err := svc.Pay(ctx, PayCommand{TripID: tripID, PassengerID: "p1"}); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if b, _ := led.Balance(ctx, "p1"); b.Amount != 20 {
		t.Fatalf("expected balance 20 after paying, got %d", b.Amount)
	}

	if err := svc.Cancel(ctx, CancelCommand{TripID: tripID, ActorType: "passenger", ActorID: "p1", Reason: "plans changed"}); err != nil {
		t.Fatalf("cancel paid trip: %v", err)
	}
	assertStatus(t, svc, tripID, StatusCancelled)

	// Exactly the charged amount comes back.
	if b, _ := led.Balance(ctx, "p1"); b.Amount != 100 {
		t.Fatalf("expected balance restored to 100 after refund, got %d", b.Amount)
	}
}

// failingLedger wraps the memory ledger but rejects credits, simulating a
// ledger outage during a refund.
type failingLedger struct {
	*ledger.MemoryLedger
	creditErr error
}

func (f *failingLedger) Credit(ctx context.Context, userID types.ID, amount types.Money, idemKey string) (types.ID, error) {
	if f.creditErr != nil {
		return "", f.creditErr
	}
	return f.MemoryLedger.Credit(ctx, userID, amount, idemKey)
}

func TestCancel_RefundFailureKeepsTripPaid(t *testing.T) {
	store := NewMemoryStore()
	fl := &failingLedger{MemoryLedger: ledger.NewMemoryLedger("TWD")}
	svc := NewService(store, fl)
	ctx := context.Background()

	tripID := mustCreateTrip(t, svc, "p1", 1, 0, 80)
	if err := svc.Accept(ctx, AcceptCommand{TripID: tripID, DriverID: "d1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := fl.TopUp(ctx, "p1", types.Money{Amount: 100, Currency: "TWD"}); err != nil {
		t.Fatalf("topup: %v", err)
	}
	if err := svc.Pay(ctx, PayCommand{TripID: tripID, PassengerID: "p1"}); err != nil {
		t.Fatalf("pay: %v", err)
	}

	fl.creditErr = errors.New("ledger unavailable")
	err := svc.Cancel(ctx, CancelCommand{TripID: tripID, ActorType: "passenger", ActorID: "p1", Reason: "plans changed"})
	if err == nil {
		t.Fatal("expected cancel to fail when the refund fails")
	}
	assertStatus(t, svc, tripID, StatusPaid)
	if b, _ := fl.Balance(ctx, "p1"); b.Amount != 20 {
		t.Fatalf("expected balance unchanged at 20, got %d", b.Amount)
	}

	// Ledger recovers; the retried cancel succeeds and refunds once.
	fl.creditErr = nil
	if err := svc.Cancel(ctx, CancelCommand{TripID: tripID, ActorType: "passenger", ActorID: "p1", Reason: "plans changed"}); err != nil {
		t.Fatalf("retried cancel: %v", err)
	}
	assertStatus(t, svc, tripID, StatusCancelled)
	if b, _ := fl.Balance(ctx, "p1"); b.Amount != 100 {
		t.Fatalf("expected balance 100 after refund, got %d", b.Amount)
	}
}

func TestJoin_SeatAccounting(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// One-passenger party offering three seats total: two joinable.
	tripID := mustCreateTrip(t, svc, "p1", 1, 3, 40)

	if err := svc.Join(ctx, JoinCommand{TripID: tripID, PassengerID: "p2"}); err != nil {
		t.Fatalf("join p2: %v", err)
	}
	if err := svc.Join(ctx, JoinCommand{TripID: tripID, PassengerID: "p2"}); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("repeat join: expected ErrAlreadyJoined, got %v", err)
	}
	if err := svc.Join(ctx, JoinCommand{TripID: tripID, PassengerID: "p1"}); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("creator join: expected ErrAlreadyJoined, got %v", err)
	}
	if err := svc.Join(ctx, JoinCommand{TripID: tripID, PassengerID: "p3"}); err != nil {
		t.Fatalf("join p3: %v", err)
	}
	if err := svc.Join(ctx, JoinCommand{TripID: tripID, PassengerID: "p4"}); !errors.Is(err, ErrSeatsFull) {
		t.Fatalf("join full trip: expected ErrSeatsFull, got %v", err)
	}

	r, _ := svc.Get(ctx, tripID)
	if r.SeatsTaken != 3 || r.SeatsFree() != 0 {
		t.Fatalf("expected 3/3 seats taken, got %d/%d", r.SeatsTaken, r.SeatsTotal)
	}
	if len(r.Riders) != 3 {
		t.Fatalf("expected 3 riders, got %d", len(r.Riders))
	}
}

func TestJoin_LastSeatClosesAcceptedOffer(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tripID := mustCreateTrip(t, svc, "p1", 1, 2, 40)
	if err := svc.Accept(ctx, AcceptCommand{TripID: tripID, DriverID: "d1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	assertStatus(t, svc, tripID, StatusAccepted)

	if err := svc.Join(ctx, JoinCommand{TripID: tripID, PassengerID: "p2"}); err != nil {
		t.Fatalf("join last seat: %v", err)
	}
	assertStatus(t, svc, tripID, StatusAwaitingPayment)
}

func TestExpireStale_CancelsPastOpenTrips(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	tripID := mustCreateTrip(t, svc, "p1", 1, 0, 40)

	// Push the departure into the past directly in the store; Create refuses
	// past departures.
	store.mu.Lock()
	store.trips[tripID].DepartureTime = time.Now().Add(-time.Hour)
	store.mu.Unlock()

	svc.expireStale(ctx, 10*time.Minute)
	assertStatus(t, svc, tripID, StatusCancelled)

	cur, _ := svc.Get(ctx, tripID)
	if cur.CancelReason == nil || *cur.CancelReason != "expired" {
		t.Fatalf("expected cancel reason 'expired', got %v", cur.CancelReason)
	}
}

func TestGet_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestContextCancelled_NoPartialMutation(t *testing.T) {
	svc, _, led := newTestService(t)
	ctx := context.Background()

	tripID := mustCreateTrip(t, svc, "p1", 1, 0, 40)
	if err := svc.Accept(ctx, AcceptCommand{TripID: tripID, DriverID: "d1"}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := led.TopUp(ctx, "p1", types.Money{Amount: 100, Currency: "TWD"}); err != nil {
		t.Fatalf("topup: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := svc.Pay(cancelled, PayCommand{TripID: tripID, PassengerID: "p1"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	assertStatus(t, svc, tripID, StatusAwaitingPayment)
	if b, _ := led.Balance(ctx, "p1"); b.Amount != 100 {
		t.Fatalf("expected balance untouched at 100, got %d", b.Amount)
	}
}
