// README: Booking store backed by PostgreSQL with optimistic status versioning.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"quickassist/internal/infra"
	"quickassist/internal/types"
)

// Repository is the persistence contract the service depends on.
type Repository interface {
	Create(ctx context.Context, b *Booking, ev *Event) error
	Get(ctx context.Context, id types.ID) (*Booking, error)
	ListByCustomer(ctx context.Context, customerID types.ID, limit int) ([]Booking, error)
	ListByProvider(ctx context.Context, providerID types.ID, limit int) ([]Booking, error)
	// Transition applies u only if the row still has u.From and u.Version. It
	// reports false when another writer got there first.
	Transition(ctx context.Context, u StatusUpdate) (bool, error)
	ListEvents(ctx context.Context, id types.ID) ([]Event, error)
}

type StatusUpdate struct {
	ID      types.ID
	From    Status
	To      Status
	Version int
	ActorID types.ID
	At      time.Time
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const bookingColumns = `
	id, customer_id, provider_id, service_id, status, status_version,
	latitude, longitude, distance_km, final_price, currency,
	created_at, accepted_at, started_at, completed_at, cancelled_at, cancelled_by`

func (s *Store) Create(ctx context.Context, b *Booking, ev *Event) error {
	return infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO bookings (
				id, customer_id, provider_id, service_id, status, status_version,
				latitude, longitude, distance_km, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			string(b.ID), string(b.CustomerID), string(b.ProviderID), b.ServiceID,
			string(b.Status), b.StatusVersion,
			b.Location.Lat, b.Location.Lng, b.DistanceKm, b.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		return appendEvent(ctx, tx, ev)
	})
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Booking, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, string(id))
	b, err := ScanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) ListByCustomer(ctx context.Context, customerID types.ID, limit int) ([]Booking, error) {
	return s.list(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE customer_id = $1 ORDER BY created_at DESC LIMIT $2`, string(customerID), limit)
}

func (s *Store) ListByProvider(ctx context.Context, providerID types.ID, limit int) ([]Booking, error) {
	return s.list(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE provider_id = $1 ORDER BY created_at DESC LIMIT $2`, string(providerID), limit)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Booking, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := ScanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *Store) Transition(ctx context.Context, u StatusUpdate) (bool, error) {
	applied := false
	err := infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE bookings
			SET status = $1,
			    status_version = status_version + 1,
			    accepted_at  = CASE WHEN $1 = 'ACCEPTED'    THEN $6 ELSE accepted_at END,
			    started_at   = CASE WHEN $1 = 'IN_PROGRESS' THEN $6 ELSE started_at END,
			    completed_at = CASE WHEN $1 = 'COMPLETED'   THEN $6 ELSE completed_at END,
			    cancelled_at = CASE WHEN $1 = 'CANCELLED'   THEN $6 ELSE cancelled_at END,
			    cancelled_by = CASE WHEN $1 = 'CANCELLED'   THEN $5 ELSE cancelled_by END
			WHERE id = $2 AND status = $3 AND status_version = $4`,
			string(u.To), string(u.ID), string(u.From), u.Version, string(u.ActorID), u.At,
		)
		if err != nil {
			return fmt.Errorf("update booking status: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return nil
		}
		applied = true
		actor := u.ActorID
		return appendEvent(ctx, tx, &Event{
			BookingID:  u.ID,
			FromStatus: u.From,
			ToStatus:   u.To,
			ActorID:    &actor,
			CreatedAt:  u.At,
		})
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *Store) ListEvents(ctx context.Context, id types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, booking_id, from_status, to_status, actor_id, created_at
		FROM booking_events WHERE booking_id = $1 ORDER BY id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actor *string
		if err := rows.Scan(&e.ID, &e.BookingID, &e.FromStatus, &e.ToStatus, &actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actor != nil {
			a := types.ID(*actor)
			e.ActorID = &a
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func appendEvent(ctx context.Context, tx pgx.Tx, e *Event) error {
	if e == nil {
		return nil
	}
	var actor *string
	if e.ActorID != nil {
		v := string(*e.ActorID)
		actor = &v
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO booking_events (booking_id, from_status, to_status, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		string(e.BookingID), string(e.FromStatus), string(e.ToStatus), actor, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append booking event: %w", err)
	}
	return nil
}

// ScanBooking reads one row selected with the standard booking column list.
// Exported for stores that lock and read bookings inside their own transactions.
func ScanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var finalPrice *int64
	var currency string
	var cancelledBy *string
	err := row.Scan(
		&b.ID, &b.CustomerID, &b.ProviderID, &b.ServiceID, &b.Status, &b.StatusVersion,
		&b.Location.Lat, &b.Location.Lng, &b.DistanceKm, &finalPrice, &currency,
		&b.CreatedAt, &b.AcceptedAt, &b.StartedAt, &b.CompletedAt, &b.CancelledAt, &cancelledBy,
	)
	if err != nil {
		return nil, err
	}
	if finalPrice != nil {
		b.FinalPrice = &types.Money{Amount: *finalPrice, Currency: currency}
	}
	if cancelledBy != nil {
		v := types.ID(*cancelledBy)
		b.CancelledBy = &v
	}
	return &b, nil
}

// SelectForUpdate is the locking read used by payment to serialize pay decisions per booking.
const SelectForUpdate = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`
