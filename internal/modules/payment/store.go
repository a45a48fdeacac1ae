// README: Payment store: per-booking locked pay decisions and callback settlement.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"quickassist/internal/infra"
	"quickassist/internal/modules/booking"
	"quickassist/internal/types"
)

// Tx is the view of one booking while its row is locked.
type Tx interface {
	Booking() *booking.Booking
	Payments() []Payment
	Insert(p *Payment) error
	MarkFailed(id types.ID, reason string) error
	SetFinalPrice(m types.Money) error
}

// Settlement is what a callback did to the stored payment.
type Settlement struct {
	Payment   *Payment
	Changed   bool
	Duplicate bool
}

type Repository interface {
	// Lock runs fn with the booking row locked. Everything fn writes commits together.
	Lock(ctx context.Context, bookingID types.ID, fn func(tx Tx) error) error
	SetReference(ctx context.Context, id types.ID, ref string) error
	MarkFailed(ctx context.Context, id types.ID, reason string) error
	// Settle applies a gateway verdict. It returns nil when the reference is unknown.
	Settle(ctx context.Context, res CallbackResult) (*Settlement, error)
	ListByBooking(ctx context.Context, bookingID types.ID) ([]Payment, error)
	// ExpirePending fails PENDING payments created before cutoff and reports how many.
	ExpirePending(ctx context.Context, cutoff time.Time, reason string) (int64, error)
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const paymentColumns = `id, booking_id, payer_id, method, amount, currency, status,
	reference, failure_reason, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.BookingID, &p.PayerID, &p.Method, &p.Amount.Amount, &p.Amount.Currency,
		&p.Status, &p.Reference, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPayments(rows pgx.Rows) ([]Payment, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Payment, error) {
		p, err := scanPayment(row)
		if err != nil {
			return Payment{}, err
		}
		return *p, nil
	})
}

type pgTx struct {
	ctx      context.Context
	tx       pgx.Tx
	booking  *booking.Booking
	payments []Payment
}

func (t *pgTx) Booking() *booking.Booking { return t.booking }
func (t *pgTx) Payments() []Payment       { return t.payments }

func (t *pgTx) Insert(p *Payment) error {
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO payments (id, booking_id, payer_id, method, amount, currency, status,
			reference, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		string(p.ID), string(p.BookingID), string(p.PayerID), string(p.Method),
		p.Amount.Amount, p.Amount.Currency, string(p.Status),
		p.Reference, p.FailureReason, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyPaid
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (t *pgTx) MarkFailed(id types.ID, reason string) error {
	_, err := t.tx.Exec(t.ctx, `
		UPDATE payments SET status = 'FAILED', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`, string(id), reason)
	return err
}

func (t *pgTx) SetFinalPrice(m types.Money) error {
	_, err := t.tx.Exec(t.ctx, `UPDATE bookings SET final_price = $2, currency = $3 WHERE id = $1`,
		string(t.booking.ID), m.Amount, m.Currency)
	if err != nil {
		return fmt.Errorf("set final price: %w", err)
	}
	amount := m
	t.booking.FinalPrice = &amount
	return nil
}

func (s *Store) Lock(ctx context.Context, bookingID types.ID, fn func(tx Tx) error) error {
	return infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		b, err := booking.ScanBooking(tx.QueryRow(ctx, booking.SelectForUpdate, string(bookingID)))
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock booking: %w", err)
		}
		rows, err := tx.Query(ctx, `SELECT `+paymentColumns+` FROM payments
			WHERE booking_id = $1 ORDER BY created_at`, string(bookingID))
		if err != nil {
			return err
		}
		payments, err := collectPayments(rows)
		if err != nil {
			return err
		}
		return fn(&pgTx{ctx: ctx, tx: tx, booking: b, payments: payments})
	})
}

func (s *Store) SetReference(ctx context.Context, id types.ID, ref string) error {
	_, err := s.db.Exec(ctx, `UPDATE payments SET reference = $2, updated_at = NOW() WHERE id = $1`,
		string(id), ref)
	if err != nil {
		return fmt.Errorf("store payment reference: %w", err)
	}
	return nil
}

func (s *Store) ExpirePending(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE payments SET status = 'FAILED', failure_reason = $2, updated_at = NOW()
		WHERE status = 'PENDING' AND created_at < $1`, cutoff, reason)
	if err != nil {
		return 0, fmt.Errorf("expire pending payments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) MarkFailed(ctx context.Context, id types.ID, reason string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE payments SET status = 'FAILED', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`, string(id), reason)
	return err
}

func (s *Store) Settle(ctx context.Context, res CallbackResult) (*Settlement, error) {
	var bookingID string
	err := s.db.QueryRow(ctx, `SELECT booking_id FROM payments WHERE reference = $1`, res.Reference).Scan(&bookingID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out *Settlement
	err = infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		// Same lock order as Lock: booking first, then its payments.
		if _, err := tx.Exec(ctx, `SELECT 1 FROM bookings WHERE id = $1 FOR UPDATE`, bookingID); err != nil {
			return err
		}
		p, err := scanPayment(tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments
			WHERE reference = $1 FOR UPDATE`, res.Reference))
		if err != nil {
			return err
		}
		var otherSuccess bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM payments WHERE booking_id = $1 AND status = 'SUCCESS' AND id <> $2)`,
			string(p.BookingID), string(p.ID)).Scan(&otherSuccess); err != nil {
			return err
		}

		next, changed, duplicate := settle(p.Status, res.Success, otherSuccess)
		out = &Settlement{Payment: p, Changed: changed, Duplicate: duplicate}
		if !changed {
			return nil
		}
		reason := ""
		if next == StatusFailed {
			reason = res.Description
			if duplicate {
				reason = "duplicate success: " + res.Description
			}
		}
		now := time.Now().UTC()
		_, err = tx.Exec(ctx, `
			UPDATE payments SET status = $2, failure_reason = $3, updated_at = $4
			WHERE id = $1`, string(p.ID), string(next), reason, now)
		if err != nil {
			return fmt.Errorf("settle payment: %w", err)
		}
		p.Status = next
		p.FailureReason = reason
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListByBooking(ctx context.Context, bookingID types.ID) ([]Payment, error) {
	rows, err := s.db.Query(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE booking_id = $1 ORDER BY created_at`, string(bookingID))
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}
