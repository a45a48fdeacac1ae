package dashboard

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"quickassist/internal/modules/booking"
	"quickassist/internal/types"
)

type Repository interface {
	UsersByRole(ctx context.Context) (map[types.Role]int, error)
	BookingsByStatus(ctx context.Context) (map[booking.Status]int, error)
	ProviderCounts(ctx context.Context) (onDuty, unverified int, err error)
	// Revenue sums successful payments in the given currency.
	Revenue(ctx context.Context, currency string) (int64, int, error)
	RecentBookings(ctx context.Context, limit int) ([]RecentBooking, error)
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) UsersByRole(ctx context.Context) (map[types.Role]int, error) {
	rows, err := s.db.Query(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[types.Role]int{}
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		out[types.Role(role)] = n
	}
	return out, rows.Err()
}

func (s *Store) BookingsByStatus(ctx context.Context) (map[booking.Status]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM bookings GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[booking.Status]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[booking.Status(status)] = n
	}
	return out, rows.Err()
}

func (s *Store) ProviderCounts(ctx context.Context) (int, int, error) {
	var onDuty, unverified int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE on_duty),
		       COUNT(*) FILTER (WHERE NOT is_verified)
		FROM provider_profiles`).Scan(&onDuty, &unverified)
	return onDuty, unverified, err
}

func (s *Store) Revenue(ctx context.Context, currency string) (int64, int, error) {
	var total int64
	var pending int
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount) FILTER (WHERE status = 'SUCCESS' AND currency = $1), 0),
		       COUNT(*) FILTER (WHERE status = 'PENDING')
		FROM payments`, currency).Scan(&total, &pending)
	return total, pending, err
}

func (s *Store) RecentBookings(ctx context.Context, limit int) ([]RecentBooking, error) {
	rows, err := s.db.Query(ctx, `
		SELECT b.id, b.status, b.customer_id, cu.name, b.provider_id, pu.name, sv.name,
		       b.final_price, b.currency, b.created_at
		FROM bookings b
		JOIN users cu ON cu.id = b.customer_id
		JOIN users pu ON pu.id = b.provider_id
		JOIN services sv ON sv.id = b.service_id
		ORDER BY b.created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (RecentBooking, error) {
		var r RecentBooking
		var price *int64
		var currency string
		err := row.Scan(&r.ID, &r.Status, &r.CustomerID, &r.CustomerName, &r.ProviderID, &r.ProviderName,
			&r.ServiceName, &price, &currency, &r.CreatedAt)
		if price != nil {
			r.FinalPrice = &types.Money{Amount: *price, Currency: currency}
		}
		return r, err
	})
}
