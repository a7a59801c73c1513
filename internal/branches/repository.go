package branches

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/franchise-ops/franchise-ops/internal/platform/db"
)

// Repository reads the branch directory.
type Repository interface {
	List(ctx context.Context) ([]Branch, error)
	Get(ctx context.Context, id string) (Branch, error)
}

type repository struct {
	db db.Querier
}

// NewRepository returns a Postgres-backed branch directory.
func NewRepository(q db.Querier) Repository {
	return &repository{db: q}
}

func (r *repository) List(ctx context.Context) ([]Branch, error) {
	const query = `SELECT id::text, name, type, COALESCE(address, '') FROM branches ORDER BY name, id`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("branches: list: %w", err)
	}
	defer rows.Close()

	var out []Branch
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.ID, &b.Name, &b.Type, &b.Address); err != nil {
			return nil, fmt.Errorf("branches: scan: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, id string) (Branch, error) {
	const query = `SELECT id::text, name, type, COALESCE(address, '') FROM branches WHERE id::text = $1`
	var b Branch
	err := r.db.QueryRow(ctx, query, id).Scan(&b.ID, &b.Name, &b.Type, &b.Address)
	if errors.Is(err, pgx.ErrNoRows) {
		return Branch{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Branch{}, fmt.Errorf("branches: get %s: %w", id, err)
	}
	return b, nil
}
