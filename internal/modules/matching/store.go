// README: Matching store: reads the eligible provider pool for a service from PostgreSQL.
package matching

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"quickassist/internal/modules/provider"
)

type CandidateSource interface {
	ListEligible(ctx context.Context, serviceID int64) ([]Candidate, error)
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// ListEligible returns providers offering serviceID that are verified and on
// duty, whose account is active and still holds the PROVIDER role, and whose
// location is known. Ordered by user id.
func (s *Store) ListEligible(ctx context.Context, serviceID int64) ([]Candidate, error) {
	rows, err := s.db.Query(ctx, `SELECT `+provider.ProfileColumns+` `+provider.ProfileFrom+`
		WHERE p.service_id = $1
		  AND p.is_verified AND p.on_duty AND u.is_active AND u.role = 'PROVIDER'
		  AND p.latitude IS NOT NULL AND p.longitude IS NOT NULL
		ORDER BY p.user_id`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		c, err := provider.ScanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
