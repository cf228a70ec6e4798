// README: Trip store backed by PostgreSQL.
package trip

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carpool/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, r *Request) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO trips (
            id, passenger_id, passenger_name, status,
            origin_name, origin_lat, origin_lng,
            dest_name, dest_lat, dest_lng,
            departure_time, headcount, seats_total, seats_taken,
            price_per_seat, currency, total_cost,
            driver_id, driver_name, payment_ref, notes, riders,
            created_at, updated_at, version
        ) VALUES (
            $1, $2, $3, $4,
            $5, $6, $7,
            $8, $9, $10,
            $11, $12, $13, $14,
            $15, $16, $17,
            $18, $19, $20, $21, $22,
            $23, $24, $25
        )`,
		string(r.ID),
		string(r.PassengerID),
		r.PassengerName,
		string(r.Status),
		r.Origin.Name, r.Origin.Lat, r.Origin.Lng,
		r.Destination.Name, r.Destination.Lat, r.Destination.Lng,
		r.DepartureTime,
		r.Headcount, r.SeatsTotal, r.SeatsTaken,
		r.PricePerSeat.Amount, r.PricePerSeat.Currency, r.TotalCost.Amount,
		toStringPtr(r.DriverID),
		r.DriverName,
		r.PaymentRef,
		r.Notes,
		ridersToStrings(r.Riders),
		r.CreatedAt, r.UpdatedAt, r.Version,
	)
	return err
}

const selectColumns = `
        id, passenger_id, passenger_name, status,
        origin_name, origin_lat, origin_lng,
        dest_name, dest_lat, dest_lng,
        departure_time, headcount, seats_total, seats_taken,
        price_per_seat, currency, total_cost,
        driver_id, driver_name, payment_ref, notes, riders, cancel_reason,
        created_at, updated_at, version`

func (s *Store) Get(ctx context.Context, id types.ID) (*Request, error) {
	row := s.db.QueryRow(ctx, `
        SELECT`+selectColumns+`
        FROM trips
        WHERE id = $1`, string(id),
	)
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *Store) UpdateGuarded(ctx context.Context, id types.ID, from Status, version int, to Status, mut Mutation) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE trips
        SET status = $1,
            version = version + 1,
            updated_at = NOW(),
            driver_id = COALESCE($2, driver_id),
            driver_name = COALESCE($3, driver_name),
            payment_ref = COALESCE($4, payment_ref),
            seats_taken = COALESCE($5, seats_taken),
            riders = CASE WHEN $6::text IS NULL THEN riders ELSE array_append(riders, $6) END,
            cancel_reason = COALESCE($7, cancel_reason)
        WHERE id = $8 AND status = $9 AND version = $10`,
		string(to),
		toStringPtr(mut.DriverID),
		mut.DriverName,
		mut.PaymentRef,
		mut.SeatsTaken,
		toStringPtr(mut.AddRider),
		mut.CancelReason,
		string(id),
		string(from),
		version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) List(ctx context.Context, f Filter) ([]*Request, error) {
	query := `SELECT` + selectColumns + ` FROM trips`
	args := []any{}
	if f.Status != nil {
		query += ` WHERE status = $1`
		args = append(args, string(*f.Status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO trip_state_events (
            trip_id, from_status, to_status, actor_type, actor_id, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.TripID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

// ListEvents returns the transition audit trail for a trip in commit order.
func (s *Store) ListEvents(ctx context.Context, tripID types.ID) ([]*Event, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, trip_id, from_status, to_status, actor_type, actor_id, created_at
        FROM trip_state_events
        WHERE trip_id = $1
        ORDER BY id`, string(tripID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		var actorID sql.NullString
		if err := rows.Scan(&e.ID, &e.TripID, &e.FromStatus, &e.ToStatus, &e.ActorType, &actorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID.Valid {
			a := types.ID(actorID.String)
			e.ActorID = &a
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var r Request
	var driverID, driverName, paymentRef, cancelReason sql.NullString
	var riders []string

	err := row.Scan(
		&r.ID, &r.PassengerID, &r.PassengerName, &r.Status,
		&r.Origin.Name, &r.Origin.Lat, &r.Origin.Lng,
		&r.Destination.Name, &r.Destination.Lat, &r.Destination.Lng,
		&r.DepartureTime, &r.Headcount, &r.SeatsTotal, &r.SeatsTaken,
		&r.PricePerSeat.Amount, &r.PricePerSeat.Currency, &r.TotalCost.Amount,
		&driverID, &driverName, &paymentRef, &r.Notes, &riders, &cancelReason,
		&r.CreatedAt, &r.UpdatedAt, &r.Version,
	)
	if err != nil {
		return nil, err
	}

	r.TotalCost.Currency = r.PricePerSeat.Currency
	if driverID.Valid {
		d := types.ID(driverID.String)
		r.DriverID = &d
	}
	if driverName.Valid {
		r.DriverName = &driverName.String
	}
	if paymentRef.Valid {
		r.PaymentRef = &paymentRef.String
	}
	if cancelReason.Valid {
		r.CancelReason = &cancelReason.String
	}
	for _, rid := range riders {
		r.Riders = append(r.Riders, types.ID(rid))
	}
	return &r, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func ridersToStrings(ids []types.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
