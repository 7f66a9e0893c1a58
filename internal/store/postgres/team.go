package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/auctionarena/auctiond/internal/store"
)

// teamRepo implements store.TeamRepository with sqlx. The roster is a text[]
// column, so rows are scanned by hand through pq.Array.
type teamRepo struct {
	ext sqlx.ExtContext
}

const teamColumns = `id, name, owner_id, owner_name, total_budget, remaining_budget, players, max_players, created_at`

func scanTeam(row sqlx.ColScanner) (*store.Team, error) {
	var t store.Team
	err := row.Scan(&t.ID, &t.Name, &t.OwnerID, &t.OwnerName,
		&t.TotalBudget, &t.RemainingBudget, pq.Array(&t.Players), &t.MaxPlayers, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *teamRepo) Create(ctx context.Context, t *store.Team) error {
	if err := t.Validate(); err != nil {
		return err
	}
	query := `INSERT INTO teams (name, owner_id, owner_name, total_budget, remaining_budget, players, max_players)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          RETURNING id, created_at`
	err := r.ext.QueryRowxContext(ctx, query,
		t.Name, t.OwnerID, t.OwnerName, t.TotalBudget, t.RemainingBudget,
		pq.Array(t.Players), t.MaxPlayers,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating team: %w", err)
	}
	return nil
}

func (r *teamRepo) Get(ctx context.Context, id string) (*store.Team, error) {
	row := r.ext.QueryRowxContext(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE id = $1`, id)
	t, err := scanTeam(row)
	if err != nil {
		return nil, notFound(err, "getting team")
	}
	return t, nil
}

func (r *teamRepo) GetByOwnerID(ctx context.Context, ownerID string) (*store.Team, error) {
	// First match wins when multiple teams reference one owner.
	row := r.ext.QueryRowxContext(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE owner_id = $1 ORDER BY name, id LIMIT 1`, ownerID)
	t, err := scanTeam(row)
	if err != nil {
		return nil, notFound(err, "getting team by owner")
	}
	return t, nil
}

func (r *teamRepo) List(ctx context.Context) ([]store.Team, error) {
	rows, err := r.ext.QueryxContext(ctx,
		`SELECT `+teamColumns+` FROM teams ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	defer rows.Close()

	var teams []store.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning team row: %w", err)
		}
		teams = append(teams, *t)
	}
	return teams, rows.Err()
}

func (r *teamRepo) Update(ctx context.Context, t *store.Team) error {
	if err := t.Validate(); err != nil {
		return err
	}
	result, err := r.ext.ExecContext(ctx,
		`UPDATE teams SET
		   name = $1, owner_id = $2, owner_name = $3, total_budget = $4,
		   remaining_budget = $5, players = $6, max_players = $7
		 WHERE id = $8`,
		t.Name, t.OwnerID, t.OwnerName, t.TotalBudget,
		t.RemainingBudget, pq.Array(t.Players), t.MaxPlayers, t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating team: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("updating team %s: %w", t.ID, store.ErrNotFound)
	}
	return nil
}

func (r *teamRepo) Delete(ctx context.Context, id string) error {
	result, err := r.ext.ExecContext(ctx, `DELETE FROM teams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting team: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("deleting team %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (r *teamRepo) DeleteAll(ctx context.Context) error {
	if _, err := r.ext.ExecContext(ctx, `DELETE FROM teams`); err != nil {
		return fmt.Errorf("deleting teams: %w", err)
	}
	return nil
}
