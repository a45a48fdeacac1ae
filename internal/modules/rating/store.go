// README: Rating store: inserts a rating and recomputes the provider reputation in one transaction.
package rating

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"quickassist/internal/infra"
	"quickassist/internal/types"
)

type Repository interface {
	// Create stores r and returns the ratee's recomputed reputation and rating count.
	Create(ctx context.Context, r *Rating) (float64, int, error)
	ListByRatee(ctx context.Context, rateeID types.ID, limit int) ([]Rating, error)
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, r *Rating) (float64, int, error) {
	var avg float64
	var count int
	err := infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO ratings (booking_id, rater_id, ratee_id, score, comment)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at`,
			string(r.BookingID), string(r.RaterID), string(r.RateeID), r.Score, r.Comment,
		).Scan(&r.ID, &r.CreatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrAlreadyRated
			}
			return fmt.Errorf("insert rating: %w", err)
		}

		// Serialize concurrent recomputes for the same provider.
		if _, err := tx.Exec(ctx, `SELECT 1 FROM provider_profiles WHERE user_id = $1 FOR UPDATE`,
			string(r.RateeID)); err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `SELECT score FROM ratings WHERE ratee_id = $1`, string(r.RateeID))
		if err != nil {
			return err
		}
		scores, err := pgx.CollectRows(rows, pgx.RowTo[int])
		if err != nil {
			return err
		}
		var ok bool
		avg, ok = Reputation(scores)
		if !ok {
			return fmt.Errorf("no scores for %s after insert", r.RateeID)
		}
		count = len(scores)

		_, err = tx.Exec(ctx, `
			UPDATE provider_profiles
			SET average_rating = $2, rating_count = $3, updated_at = NOW()
			WHERE user_id = $1`, string(r.RateeID), avg, count)
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return avg, count, nil
}

func (s *Store) ListByRatee(ctx context.Context, rateeID types.ID, limit int) ([]Rating, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, booking_id, rater_id, ratee_id, score, comment, created_at
		FROM ratings WHERE ratee_id = $1
		ORDER BY created_at DESC LIMIT $2`, string(rateeID), limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Rating, error) {
		var r Rating
		err := row.Scan(&r.ID, &r.BookingID, &r.RaterID, &r.RateeID, &r.Score, &r.Comment, &r.CreatedAt)
		return r, err
	})
}
