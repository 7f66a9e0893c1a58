package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/auctionarena/auctiond/internal/store"
)

// ownerRepo implements store.OwnerRepository with sqlx.
type ownerRepo struct {
	ext sqlx.ExtContext
}

func (r *ownerRepo) Create(ctx context.Context, o *store.Owner) error {
	if err := o.Validate(); err != nil {
		return err
	}
	err := r.ext.QueryRowxContext(ctx,
		`INSERT INTO owners (username, password, name) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		o.Username, o.Password, o.Name,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating owner: %w", err)
	}
	return nil
}

func (r *ownerRepo) Get(ctx context.Context, id string) (*store.Owner, error) {
	var o store.Owner
	err := sqlx.GetContext(ctx, r.ext, &o, `SELECT * FROM owners WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "getting owner")
	}
	return &o, nil
}

func (r *ownerRepo) GetByUsername(ctx context.Context, username string) (*store.Owner, error) {
	// First match wins if duplicate usernames slipped in.
	var o store.Owner
	err := sqlx.GetContext(ctx, r.ext, &o,
		`SELECT * FROM owners WHERE username = $1 ORDER BY created_at, id LIMIT 1`, username)
	if err != nil {
		return nil, notFound(err, "getting owner by username")
	}
	return &o, nil
}

func (r *ownerRepo) List(ctx context.Context) ([]store.Owner, error) {
	var owners []store.Owner
	err := sqlx.SelectContext(ctx, r.ext, &owners, `SELECT * FROM owners ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("listing owners: %w", err)
	}
	return owners, nil
}

func (r *ownerRepo) Update(ctx context.Context, o *store.Owner) error {
	if err := o.Validate(); err != nil {
		return err
	}
	result, err := r.ext.ExecContext(ctx,
		`UPDATE owners SET username = $1, password = $2, name = $3 WHERE id = $4`,
		o.Username, o.Password, o.Name, o.ID,
	)
	if err != nil {
		return fmt.Errorf("updating owner: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("updating owner %s: %w", o.ID, store.ErrNotFound)
	}
	return nil
}

func (r *ownerRepo) Delete(ctx context.Context, id string) error {
	result, err := r.ext.ExecContext(ctx, `DELETE FROM owners WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting owner: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("deleting owner %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (r *ownerRepo) DeleteAll(ctx context.Context) error {
	if _, err := r.ext.ExecContext(ctx, `DELETE FROM owners`); err != nil {
		return fmt.Errorf("deleting owners: %w", err)
	}
	return nil
}
