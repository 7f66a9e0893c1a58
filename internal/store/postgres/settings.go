package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/auctionarena/auctiond/internal/store"
)

// settingsRepo implements store.SettingsRepository with sqlx. The table holds
// exactly one row keyed by store.SettingsID.
type settingsRepo struct {
	ext sqlx.ExtContext
}

func (r *settingsRepo) Get(ctx context.Context) (*store.AuctionSettings, error) {
	var s store.AuctionSettings
	err := sqlx.GetContext(ctx, r.ext, &s,
		`SELECT * FROM auction_settings WHERE id = $1`, store.SettingsID)
	if err != nil {
		return nil, notFound(err, "getting auction settings")
	}
	return &s, nil
}

func (r *settingsRepo) Put(ctx context.Context, s *store.AuctionSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	_, err := r.ext.ExecContext(ctx,
		`INSERT INTO auction_settings (id, is_active, current_player, bid_increment, start_time, end_time)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   is_active = EXCLUDED.is_active,
		   current_player = EXCLUDED.current_player,
		   bid_increment = EXCLUDED.bid_increment,
		   start_time = EXCLUDED.start_time,
		   end_time = EXCLUDED.end_time`,
		s.ID, s.IsActive, s.CurrentPlayer, s.BidIncrement, s.StartTime, s.EndTime,
	)
	if err != nil {
		return fmt.Errorf("writing auction settings: %w", err)
	}
	return nil
}
