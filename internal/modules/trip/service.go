// README: Trip service implements state transitions, the guarded accept/join
// operations, and payment-coupled side effects.
package trip

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"carpool/internal/types"
)

// Ledger is the external balance subsystem. Both calls are idempotent under
// the caller-supplied key.
type Ledger interface {
	Debit(ctx context.Context, userID types.ID, amount types.Money, idemKey string) (types.ID, error)
	Credit(ctx context.Context, userID types.ID, amount types.Money, idemKey string) (types.ID, error)
}

// Notifier delivers push notifications. Failures are logged by the service
// and never block a transition.
type Notifier interface {
	NotifyTransition(ctx context.Context, recipientID types.ID, eventType string, tripID types.ID, summary string) error
}

// Publisher receives every committed trip change, in commit order per trip.
type Publisher interface {
	Publish(r *Request)
}

var (
	ErrNotFound          = errors.New("trip not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyAccepted   = errors.New("trip already accepted")
	ErrAlreadyJoined     = errors.New("passenger already joined")
	ErrSeatsFull         = errors.New("no seats remaining")
	ErrVersionConflict   = errors.New("trip version conflict")
	ErrValidation        = errors.New("invalid trip request")
)

// invalidTransition wraps ErrInvalidTransition with the current and attempted
// target status so callers can report both.
func invalidTransition(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

type Service struct {
	repo     Repository
	ledger   Ledger
	notifier Notifier
	pub      Publisher
}

func NewService(repo Repository, ledger Ledger) *Service {
	return &Service{repo: repo, ledger: ledger}
}

// SetNotifier installs the push-notification sink. Optional.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetPublisher installs the change-event sink. Optional.
func (s *Service) SetPublisher(p Publisher) { s.pub = p }

type CreateCommand struct {
	PassengerID   types.ID
	PassengerName string
	Origin        types.Place
	Destination   types.Place
	DepartureTime time.Time
	Headcount     int
	// SeatsTotal above Headcount turns the request into a multi-seat offer
	// other passengers can join. Zero defaults to Headcount.
	SeatsTotal   int
	PricePerSeat types.Money
	Notes        string
}

type AcceptCommand struct {
	TripID     types.ID
	DriverID   types.ID
	DriverName string
}

type JoinCommand struct {
	TripID      types.ID
	PassengerID types.ID
}

type PayCommand struct {
	TripID      types.ID
	PassengerID types.ID
}

type StartCommand struct {
	TripID   types.ID
	DriverID types.ID
}

type CompleteCommand struct {
	TripID   types.ID
	DriverID types.ID
}

type CancelCommand struct {
	TripID    types.ID
	ActorType string
	ActorID   types.ID
	Reason    string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (types.ID, error) {
	if err := validateCreate(cmd); err != nil {
		return "", err
	}

	seatsTotal := cmd.SeatsTotal
	if seatsTotal == 0 {
		seatsTotal = cmd.Headcount
	}

	id := newID()
	now := time.Now()
	r := &Request{
		ID:            id,
		PassengerID:   cmd.PassengerID,
		PassengerName: cmd.PassengerName,
		Origin:        cmd.Origin,
		Destination:   cmd.Destination,
		DepartureTime: cmd.DepartureTime,
		Headcount:     cmd.Headcount,
		SeatsTotal:    seatsTotal,
		SeatsTaken:    cmd.Headcount,
		PricePerSeat:  cmd.PricePerSeat,
		TotalCost: types.Money{
			Amount:   cmd.PricePerSeat.Amount * int64(cmd.Headcount),
			Currency: cmd.PricePerSeat.Currency,
		},
		Status:    StatusOpen,
		Notes:     cmd.Notes,
		Riders:    []types.ID{cmd.PassengerID},
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return "", err
	}
	_ = s.repo.AppendEvent(ctx, &Event{
		TripID:     id,
		FromStatus: StatusNone,
		ToStatus:   StatusOpen,
		ActorType:  "passenger",
		ActorID:    &cmd.PassengerID,
		CreatedAt:  now,
	})
	s.publish(r)
	return id, nil
}

func validateCreate(cmd CreateCommand) error {
	switch {
	case cmd.PassengerID == "":
		return fmt.Errorf("%w: missing passenger", ErrValidation)
	case cmd.Headcount <= 0:
		return fmt.Errorf("%w: headcount must be positive", ErrValidation)
	case cmd.PricePerSeat.Amount <= 0:
		return fmt.Errorf("%w: price per seat must be positive", ErrValidation)
	case cmd.DepartureTime.Before(time.Now()):
		return fmt.Errorf("%w: departure time is in the past", ErrValidation)
	case cmd.Origin.Name == "" || cmd.Destination.Name == "":
		return fmt.Errorf("%w: origin and destination are required", ErrValidation)
	case cmd.SeatsTotal != 0 && cmd.SeatsTotal < cmd.Headcount:
		return fmt.Errorf("%w: seats total below headcount", ErrValidation)
	}
	return nil
}

// Accept binds a driver to an open request. Exactly one of any number of
// concurrent accepts wins; losers get ErrAlreadyAccepted.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) error {
	if cmd.DriverID == "" {
		return fmt.Errorf("%w: missing driver", ErrValidation)
	}
	r, err := s.repo.Get(ctx, cmd.TripID)
	if err != nil {
		return err
	}
	if r.DriverID != nil {
		return ErrAlreadyAccepted
	}

	to := StatusAccepted
	if r.SeatsFree() == 0 {
		to = StatusAwaitingPayment
	}
	if !CanTransition(r.Status, to) {
		return invalidTransition(r.Status, to)
	}

	ok, err := s.repo.UpdateGuarded(ctx, r.ID, r.Status, r.Version, to, Mutation{
		DriverID:   &cmd.DriverID,
		DriverName: &cmd.DriverName,
	})
	if err != nil {
		return err
	}
	if !ok {
		return s.classifyAcceptConflict(ctx, cmd.TripID)
	}

	s.committed(ctx, r.ID, r.Status, to, "driver", &cmd.DriverID)
	s.notifyAsync(r.PassengerID, "trip_accepted", r.ID, cmd.DriverName+" accepted your trip")
	return nil
}

// classifyAcceptConflict re-reads the record after a failed guard so the lost
// race surfaces as ErrAlreadyAccepted rather than a bare conflict.
func (s *Service) classifyAcceptConflict(ctx context.Context, id types.ID) error {
	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return ErrVersionConflict
	}
	if cur.DriverID != nil {
		return ErrAlreadyAccepted
	}
	return ErrVersionConflict
}

// Join claims one seat on a multi-seat offer.
func (s *Service) Join(ctx context.Context, cmd JoinCommand) error {
	if cmd.PassengerID == "" {
		return fmt.Errorf("%w: missing passenger", ErrValidation)
	}
	r, err := s.repo.Get(ctx, cmd.TripID)
	if err != nil {
		return err
	}
	if r.Status != StatusOpen && r.Status != StatusAccepted {
		return invalidTransition(r.Status, r.Status)
	}
	if r.HasRider(cmd.PassengerID) {
		return ErrAlreadyJoined
	}
	if r.SeatsFree() == 0 {
		return ErrSeatsFull
	}

	taken := r.SeatsTaken + 1
	to := r.Status
	if taken == r.SeatsTotal && r.Status == StatusAccepted {
		// Last seat on an accepted offer closes boarding.
		to = StatusAwaitingPayment
	}

	ok, err := s.repo.UpdateGuarded(ctx, r.ID, r.Status, r.Version, to, Mutation{
		SeatsTaken: &taken,
		AddRider:   &cmd.PassengerID,
	})
	if err != nil {
		return err
	}
	if !ok {
		return s.classifyJoinConflict(ctx, cmd)
	}

	if to != r.Status {
		s.committed(ctx, r.ID, r.Status, to, "passenger", &cmd.PassengerID)
	} else {
		s.publishCurrent(ctx, r.ID)
	}
	s.notifyAsync(r.PassengerID, "trip_joined", r.ID, "a passenger joined your trip")
	return nil
}

func (s *Service) classifyJoinConflict(ctx context.Context, cmd JoinCommand) error {
	cur, err := s.repo.Get(ctx, cmd.TripID)
	if err != nil {
		return ErrVersionConflict
	}
	if cur.HasRider(cmd.PassengerID) {
		return ErrAlreadyJoined
	}
	if cur.SeatsFree() == 0 {
		return ErrSeatsFull
	}
	return ErrVersionConflict
}

// Pay debits the passenger for the trip's fixed total cost and commits
// AwaitingPayment -> Paid. The debit must succeed before the status write;
// if the status write then loses a race the debit is compensated so money
// state and trip state never disagree.
func (s *Service) Pay(ctx context.Context, cmd PayCommand) error {
	r, err := s.repo.Get(ctx, cmd.TripID)
	if err != nil {
		return err
	}
	if cmd.PassengerID != "" && cmd.PassengerID != r.PassengerID {
		return fmt.Errorf("%w: only the posting passenger can pay", ErrValidation)
	}
	if !CanTransition(r.Status, StatusPaid) {
		return invalidTransition(r.Status, StatusPaid)
	}

	// Keys carry the version the commit is guarded on: a retry at the same
	// version dedupes against the earlier charge, while a retry after a
	// version conflict charges fresh because the old charge was reversed.
	payKey := fmt.Sprintf("pay:%s:v%d", r.ID, r.Version)
	txID, err := s.ledger.Debit(ctx, r.PassengerID, r.TotalCost, payKey)
	if err != nil {
		return err
	}

	ref := string(txID)
	ok, err := s.repo.UpdateGuarded(ctx, r.ID, r.Status, r.Version, StatusPaid, Mutation{
		PaymentRef: &ref,
	})
	if err != nil {
		// Store error: leave the charge in place so a retry at this version
		// dedupes instead of double-charging.
		return err
	}
	if !ok {
		// Another writer won; undo this attempt's charge.
		reversalKey := fmt.Sprintf("pay-reversal:%s:v%d", r.ID, r.Version)
		if _, cerr := s.ledger.Credit(ctx, r.PassengerID, r.TotalCost, reversalKey); cerr != nil {
			log.Printf("[trip] pay reversal failed trip=%s: %v", r.ID, cerr)
		}
		return ErrVersionConflict
	}

	s.committed(ctx, r.ID, r.Status, StatusPaid, "passenger", &r.PassengerID)
	if r.DriverID != nil {
		s.notifyAsync(*r.DriverID, "trip_paid", r.ID, "payment received")
	}
	return nil
}

func (s *Service) Start(ctx context.Context, cmd StartCommand) error {
	r, err := s.repo.Get(ctx, cmd.TripID)
	if err != nil {
		return err
	}
	if r.DriverID == nil || *r.DriverID != cmd.DriverID {
		return fmt.Errorf("%w: only the bound driver can start", ErrValidation)
	}
	if !CanTransition(r.Status, StatusInProgress) {
		return invalidTransition(r.Status, StatusInProgress)
	}

	ok, err := s.repo.UpdateGuarded(ctx, r.ID, r.Status, r.Version, StatusInProgress, Mutation{})
	if err != nil {
		return err
	}
	if !ok {
		return ErrVersionConflict
	}

	s.committed(ctx, r.ID, r.Status, StatusInProgress, "driver", &cmd.DriverID)
	s.notifyAsync(r.PassengerID, "trip_started", r.ID, "your trip has started")
	return nil
}

func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) error {
	r, err := s.repo.Get(ctx, cmd.TripID)
	if err != nil {
		return err
	}
	if r.DriverID == nil || *r.DriverID != cmd.DriverID {
		return fmt.Errorf("%w: only the bound driver can complete", ErrValidation)
	}
	if !CanTransition(r.Status, StatusCompleted) {
		return invalidTransition(r.Status, StatusCompleted)
	}

	ok, err := s.repo.UpdateGuarded(ctx, r.ID, r.Status, r.Version, StatusCompleted, Mutation{})
	if err != nil {
		return err
	}
	if !ok {
		return ErrVersionConflict
	}

	s.committed(ctx, r.ID, r.Status, StatusCompleted, "driver", &cmd.DriverID)

	// Driver earning is credited after the terminal commit; a failure here is
	// logged and retried out of band, it does not unwind the completion.
	if _, err := s.ledger.Credit(ctx, cmd.DriverID, r.TotalCost, "earn:"+string(r.ID)); err != nil {
		log.Printf("[trip] earning credit failed trip=%s driver=%s: %v", r.ID, cmd.DriverID, err)
	}
	s.notifyAsync(r.PassengerID, "trip_completed", r.ID, "your trip is complete")
	return nil
}

// Cancel is legal from Open, Accepted, AwaitingPayment, and Paid. From Paid
// the refund must complete before the status commit; a failed refund aborts
// the cancellation and the trip stays Paid. InProgress trips cannot be
// cancelled.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) error {
	r, err := s.repo.Get(ctx, cmd.TripID)
	if err != nil {
		return err
	}
	if !CanTransition(r.Status, StatusCancelled) {
		return invalidTransition(r.Status, StatusCancelled)
	}

	refunded := false
	if r.Status == StatusPaid {
		if _, err := s.ledger.Credit(ctx, r.PassengerID, r.TotalCost, "refund:"+string(r.ID)); err != nil {
			return fmt.Errorf("refund: %w", err)
		}
		refunded = true
	}

	reason := cmd.Reason
	ok, err := s.repo.UpdateGuarded(ctx, r.ID, r.Status, r.Version, StatusCancelled, Mutation{
		CancelReason: &reason,
	})
	if err != nil {
		// Store error: the refund stands and a retry dedupes on its key.
		return err
	}
	if !ok {
		if refunded {
			if _, derr := s.ledger.Debit(ctx, r.PassengerID, r.TotalCost, "refund-reversal:"+string(r.ID)); derr != nil {
				log.Printf("[trip] refund reversal failed trip=%s: %v", r.ID, derr)
			}
		}
		return ErrVersionConflict
	}

	actorID := cmd.ActorID
	s.committed(ctx, r.ID, r.Status, StatusCancelled, cmd.ActorType, &actorID)
	s.notifyAsync(r.PassengerID, "trip_cancelled", r.ID, "trip cancelled: "+cmd.Reason)
	if r.DriverID != nil {
		s.notifyAsync(*r.DriverID, "trip_cancelled", r.ID, "trip cancelled: "+cmd.Reason)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Request, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListOpen(ctx context.Context) ([]*Request, error) {
	open := StatusOpen
	return s.repo.List(ctx, Filter{Status: &open})
}

// RunExpiryMonitor cancels open requests whose departure time has passed
// without a driver. It runs until the context is cancelled.
func (s *Service) RunExpiryMonitor(ctx context.Context, interval, grace time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.expireStale(ctx, grace)
		}
	}
}

func (s *Service) expireStale(ctx context.Context, grace time.Duration) {
	open, err := s.ListOpen(ctx)
	if err != nil {
		log.Printf("[trip] expiry scan failed: %v", err)
		return
	}
	cutoff := time.Now().Add(-grace)
	for _, r := range open {
		if r.DepartureTime.After(cutoff) {
			continue
		}
		err := s.Cancel(ctx, CancelCommand{TripID: r.ID, ActorType: "system", Reason: "expired"})
		if err != nil && !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrVersionConflict) {
			log.Printf("[trip] expire cancel failed trip=%s: %v", r.ID, err)
		}
	}
}

// committed records the transition event and publishes the fresh row.
func (s *Service) committed(ctx context.Context, id types.ID, from, to Status, actorType string, actorID *types.ID) {
	_ = s.repo.AppendEvent(ctx, &Event{
		TripID:     id,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  actorType,
		ActorID:    actorID,
		CreatedAt:  time.Now(),
	})
	s.publishCurrent(ctx, id)
}

func (s *Service) publishCurrent(ctx context.Context, id types.ID) {
	if s.pub == nil {
		return
	}
	if cur, err := s.repo.Get(ctx, id); err == nil {
		s.pub.Publish(cur)
	}
}

func (s *Service) publish(r *Request) {
	if s.pub != nil {
		s.pub.Publish(r.Clone())
	}
}

// notifyAsync delivers a push notification without blocking the transition.
func (s *Service) notifyAsync(recipient types.ID, eventType string, tripID types.ID, summary string) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.notifier.NotifyTransition(ctx, recipient, eventType, tripID, summary); err != nil {
			log.Printf("[trip] notify %s failed trip=%s: %v", eventType, tripID, err)
		}
	}()
}

func newID() types.ID {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return types.ID(hex.EncodeToString(b[:]))
}
