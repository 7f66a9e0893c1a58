package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/auctionarena/auctiond/internal/store"
)

// bidRepo implements store.BidRepository with sqlx. The table is append-only;
// timestamps come from the database so their order matches commit order.
type bidRepo struct {
	ext sqlx.ExtContext
}

func (r *bidRepo) Append(ctx context.Context, b *store.BidEntry) error {
	if err := b.Validate(); err != nil {
		return err
	}
	err := r.ext.QueryRowxContext(ctx,
		`INSERT INTO bid_history (player_id, player_name, team_id, team_name, bid_amount, type)
		 VALUES ($1, $2, $3, $4, $5, COALESCE(NULLIF($6, ''), 'bid'))
		 RETURNING id, "timestamp"`,
		b.PlayerID, b.PlayerName, b.TeamID, b.TeamName, b.BidAmount, b.Type,
	).Scan(&b.ID, &b.Timestamp)
	if err != nil {
		return fmt.Errorf("appending bid entry: %w", err)
	}
	return nil
}

func (r *bidRepo) ListRecent(ctx context.Context, limit int) ([]store.BidEntry, error) {
	var entries []store.BidEntry
	err := sqlx.SelectContext(ctx, r.ext, &entries,
		`SELECT * FROM bid_history ORDER BY "timestamp" DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing bid history: %w", err)
	}
	return entries, nil
}

func (r *bidRepo) ListForPlayer(ctx context.Context, playerID string, limit int) ([]store.BidEntry, error) {
	var entries []store.BidEntry
	err := sqlx.SelectContext(ctx, r.ext, &entries,
		`SELECT * FROM bid_history WHERE player_id = $1 ORDER BY "timestamp" DESC, id DESC LIMIT $2`,
		playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing bid history for player: %w", err)
	}
	return entries, nil
}

func (r *bidRepo) DeleteAll(ctx context.Context) error {
	if _, err := r.ext.ExecContext(ctx, `DELETE FROM bid_history`); err != nil {
		return fmt.Errorf("deleting bid history: %w", err)
	}
	return nil
}
