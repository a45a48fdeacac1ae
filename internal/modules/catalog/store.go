// README: Catalog store backed by PostgreSQL.
package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	ListCategories(ctx context.Context) ([]Category, error)
	ListServices(ctx context.Context, categoryID int64) ([]Offering, error)
	GetService(ctx context.Context, id int64) (*Offering, error)
	CreateCategory(ctx context.Context, c *Category) error
	CreateService(ctx context.Context, s *Offering) error
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, description, created_at FROM service_categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListServices returns every service, or only those in categoryID when it is positive.
func (s *Store) ListServices(ctx context.Context, categoryID int64) ([]Offering, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, category_id, name, description, base_price, currency, created_at
		FROM services
		WHERE $1 <= 0 OR category_id = $1
		ORDER BY category_id, name`, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Offering
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *svc)
	}
	return out, rows.Err()
}

func (s *Store) GetService(ctx context.Context, id int64) (*Offering, error) {
	svc, err := scanService(s.db.QueryRow(ctx, `
		SELECT id, category_id, name, description, base_price, currency, created_at
		FROM services WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrServiceNotFound
	}
	return svc, err
}

func (s *Store) CreateCategory(ctx context.Context, c *Category) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO service_categories (name, description) VALUES ($1, $2)
		RETURNING id, created_at`, c.Name, c.Description).Scan(&c.ID, &c.CreatedAt)
	return mapConstraint(err)
}

func (s *Store) CreateService(ctx context.Context, svc *Offering) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO services (category_id, name, description, base_price, currency)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		svc.CategoryID, svc.Name, svc.Description, svc.BasePrice.Amount, svc.BasePrice.Currency,
	).Scan(&svc.ID, &svc.CreatedAt)
	return mapConstraint(err)
}

func scanService(row pgx.Row) (*Offering, error) {
	var svc Offering
	if err := row.Scan(&svc.ID, &svc.CategoryID, &svc.Name, &svc.Description,
		&svc.BasePrice.Amount, &svc.BasePrice.Currency, &svc.CreatedAt); err != nil {
		return nil, err
	}
	return &svc, nil
}

func mapConstraint(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrDuplicate
		case "23503":
			return ErrCategoryNotFound
		}
	}
	return err
}
