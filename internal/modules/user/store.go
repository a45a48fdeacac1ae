// README: User store backed by PostgreSQL; provider rows get their profile in the same transaction.
package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"quickassist/internal/infra"
	"quickassist/internal/modules/provider"
	"quickassist/internal/types"
)

type Repository interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id types.ID) (*User, error)
	List(ctx context.Context, role types.Role, limit int) ([]User, error)
	UpdateContact(ctx context.Context, id types.ID, phone, deviceToken *string) error
	SetRole(ctx context.Context, id types.ID, role types.Role) error
	SetActive(ctx context.Context, id types.ID, active bool) error
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const userColumns = `id, name, email, phone_number, role, device_token, is_active, created_at`

func (s *Store) Create(ctx context.Context, u *User) error {
	return infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO users (id, name, email, phone_number, role, device_token)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING is_active, created_at`,
			string(u.ID), u.Name, u.Email, u.PhoneNumber, string(u.Role), u.DeviceToken,
		).Scan(&u.IsActive, &u.CreatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrAlreadyRegistered
			}
			return fmt.Errorf("insert user: %w", err)
		}
		if u.Role == types.RoleProvider {
			return provider.ProvisionTx(ctx, tx, u.ID)
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, id types.ID) (*User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (s *Store) List(ctx context.Context, role types.Role, limit int) ([]User, error) {
	rows, err := s.db.Query(ctx, `SELECT `+userColumns+` FROM users
		WHERE $1 = '' OR role = $1
		ORDER BY created_at DESC LIMIT $2`, string(role), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *Store) UpdateContact(ctx context.Context, id types.ID, phone, deviceToken *string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users
		SET phone_number = COALESCE($2, phone_number),
		    device_token = COALESCE($3, device_token),
		    updated_at = NOW()
		WHERE id = $1`, string(id), phone, deviceToken)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRole changes the role. Promotion to PROVIDER provisions the profile in the
// same transaction; leaving PROVIDER takes the profile off duty and unverified
// so it drops out of matching and the directory.
func (s *Store) SetRole(ctx context.Context, id types.ID, role types.Role) error {
	return infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var previous string
		err := tx.QueryRow(ctx, `SELECT role FROM users WHERE id = $1 FOR UPDATE`, string(id)).Scan(&previous)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`,
			string(id), string(role)); err != nil {
			return err
		}
		switch {
		case role == types.RoleProvider:
			return provider.ProvisionTx(ctx, tx, id)
		case types.Role(previous) == types.RoleProvider:
			_, err = tx.Exec(ctx, `
				UPDATE provider_profiles
				SET on_duty = FALSE, is_verified = FALSE, updated_at = NOW()
				WHERE user_id = $1`, string(id))
			return err
		}
		return nil
	})
}

func (s *Store) SetActive(ctx context.Context, id types.ID, active bool) error {
	return infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`,
			string(id), active)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if !active {
			// A suspended provider must not keep receiving matches.
			_, err = tx.Exec(ctx, `UPDATE provider_profiles SET on_duty = FALSE WHERE user_id = $1`, string(id))
		}
		return err
	})
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PhoneNumber, &u.Role,
		&u.DeviceToken, &u.IsActive, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
