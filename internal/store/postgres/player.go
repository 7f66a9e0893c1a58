package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/auctionarena/auctiond/internal/store"
)

// playerRepo implements store.PlayerRepository with sqlx.
type playerRepo struct {
	ext sqlx.ExtContext
}

func (r *playerRepo) Create(ctx context.Context, p *store.Player) error {
	if err := p.Validate(); err != nil {
		return err
	}
	query := `INSERT INTO players
	            (name, role, base_price, current_bid, status, bidding_team, sold_to, image_url, speciality, age, matches)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	          RETURNING id, created_at`
	err := r.ext.QueryRowxContext(ctx, query,
		p.Name, p.Role, p.BasePrice, p.CurrentBid, p.Status,
		p.BiddingTeam, p.SoldTo, p.ImageURL, p.Speciality, p.Age, p.Matches,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating player: %w", err)
	}
	return nil
}

func (r *playerRepo) Get(ctx context.Context, id string) (*store.Player, error) {
	var p store.Player
	err := sqlx.GetContext(ctx, r.ext, &p, `SELECT * FROM players WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err, "getting player")
	}
	return &p, nil
}

func (r *playerRepo) List(ctx context.Context) ([]store.Player, error) {
	var players []store.Player
	err := sqlx.SelectContext(ctx, r.ext, &players,
		`SELECT * FROM players ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	return players, nil
}

func (r *playerRepo) Update(ctx context.Context, p *store.Player) error {
	if err := p.Validate(); err != nil {
		return err
	}
	result, err := r.ext.ExecContext(ctx,
		`UPDATE players SET
		   name = $1, role = $2, base_price = $3, current_bid = $4, status = $5,
		   bidding_team = $6, sold_to = $7, image_url = $8, speciality = $9, age = $10, matches = $11
		 WHERE id = $12`,
		p.Name, p.Role, p.BasePrice, p.CurrentBid, p.Status,
		p.BiddingTeam, p.SoldTo, p.ImageURL, p.Speciality, p.Age, p.Matches, p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating player: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("updating player %s: %w", p.ID, store.ErrNotFound)
	}
	return nil
}

func (r *playerRepo) Delete(ctx context.Context, id string) error {
	result, err := r.ext.ExecContext(ctx, `DELETE FROM players WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting player: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("deleting player %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (r *playerRepo) DeleteAll(ctx context.Context) error {
	if _, err := r.ext.ExecContext(ctx, `DELETE FROM players`); err != nil {
		return fmt.Errorf("deleting players: %w", err)
	}
	return nil
}
