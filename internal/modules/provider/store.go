// README: Provider profile store backed by PostgreSQL.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"quickassist/internal/types"
)

type Repository interface {
	Get(ctx context.Context, uid types.ID) (*Profile, error)
	ListVerified(ctx context.Context, serviceID int64, limit int) ([]Profile, error)
	// SetOnDuty applies only when going off duty or when the profile is verified.
	SetOnDuty(ctx context.Context, uid types.ID, onDuty bool) (bool, error)
	UpdateLocation(ctx context.Context, uid types.ID, p types.Point) error
	UpdateProfile(ctx context.Context, uid types.ID, bio string, serviceID *int64) error
	SetVerified(ctx context.Context, uid types.ID, verified bool) error
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const profileColumns = `
	p.user_id, u.name, p.bio, p.is_verified, p.on_duty, p.service_id,
	p.latitude, p.longitude, p.location_updated_at, p.average_rating::float8, p.rating_count, p.updated_at`

func (s *Store) Get(ctx context.Context, uid types.ID) (*Profile, error) {
	row := s.db.QueryRow(ctx, `SELECT `+profileColumns+`
		FROM provider_profiles p JOIN users u ON u.id = p.user_id
		WHERE p.user_id = $1`, string(uid))
	p, err := ScanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListVerified returns verified providers of active PROVIDER accounts, best rated first.
// A positive serviceID narrows the list to that offering.
func (s *Store) ListVerified(ctx context.Context, serviceID int64, limit int) ([]Profile, error) {
	rows, err := s.db.Query(ctx, `SELECT `+profileColumns+`
		FROM provider_profiles p JOIN users u ON u.id = p.user_id
		WHERE p.is_verified AND u.is_active AND u.role = 'PROVIDER' AND ($1 <= 0 OR p.service_id = $1)
		ORDER BY p.average_rating DESC NULLS LAST, p.user_id
		LIMIT $2`, serviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		p, err := ScanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) SetOnDuty(ctx context.Context, uid types.ID, onDuty bool) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE provider_profiles
		SET on_duty = $2, updated_at = NOW()
		WHERE user_id = $1 AND (NOT $2 OR is_verified)`, string(uid), onDuty)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, uid); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) UpdateLocation(ctx context.Context, uid types.ID, p types.Point) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE provider_profiles
		SET latitude = $2, longitude = $3, location_updated_at = NOW(), updated_at = NOW()
		WHERE user_id = $1`, string(uid), p.Lat, p.Lng)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, uid types.ID, bio string, serviceID *int64) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE provider_profiles
		SET bio = $2, service_id = $3, updated_at = NOW()
		WHERE user_id = $1`, string(uid), bio, serviceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetVerified also clears on_duty when verification is withdrawn.
func (s *Store) SetVerified(ctx context.Context, uid types.ID, verified bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE provider_profiles
		SET is_verified = $2, on_duty = on_duty AND $2, updated_at = NOW()
		WHERE user_id = $1`, string(uid), verified)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ProvisionTx creates an empty, unverified profile for uid inside the caller's
// transaction. Existing profiles are left untouched.
func ProvisionTx(ctx context.Context, tx pgx.Tx, uid types.ID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO provider_profiles (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING`, string(uid))
	if err != nil {
		return fmt.Errorf("provision provider profile: %w", err)
	}
	return nil
}

// ScanProfile reads a row selected with the standard profile column list.
func ScanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	var lat, lng *float64
	if err := row.Scan(&p.UserID, &p.Name, &p.Bio, &p.Verified, &p.OnDuty, &p.ServiceID,
		&lat, &lng, &p.LocationUpdatedAt, &p.AverageRating, &p.RatingCount, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		p.Location = &types.Point{Lat: *lat, Lng: *lng}
	}
	return &p, nil
}

// ProfileColumns and ProfileFrom let other stores read profiles with the same scanner.
const (
	ProfileColumns = profileColumns
	ProfileFrom    = `FROM provider_profiles p JOIN users u ON u.id = p.user_id`
)
