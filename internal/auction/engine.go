// Package auction implements the transaction core: the atomic state
// transitions that move a player through the auction lifecycle while mutating
// team budgets and rosters. Every operation is one store transaction; it
// either fully applies or leaves no trace.
package auction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/auctionarena/auctiond/internal/config"
	"github.com/auctionarena/auctiond/internal/live"
	"github.com/auctionarena/auctiond/internal/store"
)

// Errors returned by auction operations. Referenced-record misses surface as
// store.ErrNotFound.
var (
	ErrAlreadyActive      = errors.New("another player is already up for auction")
	ErrNotBidding         = errors.New("player is not up for auction")
	ErrBidTooLow          = errors.New("bid must beat the current bid")
	ErrSelfOutbid         = errors.New("team already leads the bidding")
	ErrInsufficientBudget = errors.New("insufficient remaining budget")
	ErrNoBid              = errors.New("no team has bid on this player")
	ErrRosterFull         = errors.New("team roster is full")
)

// Engine coordinates the auction lifecycle over the entity store.
type Engine struct {
	repos    *store.Repositories
	hub      *live.Hub
	logger   *slog.Logger
	tracer   trace.Tracer
	defaults config.AuctionConfig
}

// NewEngine returns a new auction Engine.
func NewEngine(repos *store.Repositories, hub *live.Hub, logger *slog.Logger, tp trace.TracerProvider, defaults config.AuctionConfig) *Engine {
	return &Engine{
		repos:    repos,
		hub:      hub,
		logger:   logger,
		tracer:   tp.Tracer("github.com/auctionarena/auctiond/internal/auction"),
		defaults: defaults,
	}
}

// settings reads the singleton inside a transaction, falling back to the
// default record when the data set has never been initialized.
func (e *Engine) settings(ctx context.Context, r *store.Repositories) (*store.AuctionSettings, error) {
	s, err := r.Settings.Get(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return store.DefaultSettings(e.defaults.BidIncrement), nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// StartAuction puts a player in the ring. The one-active-player rule is
// checked against freshly-read settings inside the transaction, so two
// racing admin actions cannot both activate a player.
func (e *Engine) StartAuction(ctx context.Context, playerID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.StartAuction",
		trace.WithAttributes(attribute.String("player.id", playerID)),
	)
	defer span.End()

	err := e.repos.Tx.RunInTx(ctx, func(ctx context.Context, r *store.Repositories) error {
		settings, err := e.settings(ctx, r)
		if err != nil {
			return err
		}
		if settings.CurrentPlayer != nil {
			return ErrAlreadyActive
		}

		player, err := r.Players.Get(ctx, playerID)
		if err != nil {
			return err
		}

		player.Status = store.StatusBidding
		player.CurrentBid = 0
		player.BiddingTeam = nil
		if err := r.Players.Update(ctx, player); err != nil {
			return err
		}

		settings.CurrentPlayer = &player.ID
		settings.IsActive = true
		return r.Settings.Put(ctx, settings)
	})
	if err != nil {
		return fmt.Errorf("starting auction for player %s: %w", playerID, err)
	}

	e.publish(live.TopicPlayers, map[string]string{"playerId": playerID})
	e.publish(live.TopicSettings, nil)

	e.logger.InfoContext(ctx, "player auction started", slog.String("player_id", playerID))
	return nil
}

// PlaceBid records a new leading bid. All auction rules — the player must be
// in the ring, the bid must beat the current one, a team cannot outbid
// itself, and the team must afford the amount — are validated against state
// read inside the same transaction that writes the bid.
func (e *Engine) PlaceBid(ctx context.Context, playerID, teamID string, amount int) error {
	ctx, span := e.tracer.Start(ctx, "Engine.PlaceBid",
		trace.WithAttributes(
			attribute.String("player.id", playerID),
			attribute.String("team.id", teamID),
			attribute.Int("bid.amount", amount),
		),
	)
	defer span.End()

	err := e.repos.Tx.RunInTx(ctx, func(ctx context.Context, r *store.Repositories) error {
		player, err := r.Players.Get(ctx, playerID)
		if err != nil {
			return err
		}
		team, err := r.Teams.Get(ctx, teamID)
		if err != nil {
			return err
		}

		if player.Status != store.StatusBidding {
			return ErrNotBidding
		}
		if player.BiddingTeam != nil && *player.BiddingTeam == teamID {
			return ErrSelfOutbid
		}
		if amount <= player.CurrentBid {
			return ErrBidTooLow
		}
		if amount > team.RemainingBudget {
			return ErrInsufficientBudget
		}

		player.CurrentBid = amount
		player.BiddingTeam = &team.ID
		if err := r.Players.Update(ctx, player); err != nil {
			return err
		}

		return r.Bids.Append(ctx, &store.BidEntry{
			PlayerID:   player.ID,
			PlayerName: player.Name,
			TeamID:     team.ID,
			TeamName:   team.Name,
			BidAmount:  amount,
			Type:       store.BidTypeBid,
		})
	})
	if err != nil {
		return fmt.Errorf("placing bid on player %s: %w", playerID, err)
	}

	e.publish(live.TopicPlayers, map[string]string{"playerId": playerID})
	e.publish(live.TopicBids, nil)

	e.logger.InfoContext(ctx, "bid placed",
		slog.String("player_id", playerID),
		slog.String("team_id", teamID),
		slog.Int("amount", amount),
	)
	return nil
}

// MarkSold finalizes the sale to the leading team: the player joins the
// roster, the budget is debited, a "sold" entry lands in the history and the
// ring is cleared, all in one transaction. The roster cap is enforced here
// against the freshly-read team. The sale is terminal: replaying the command
// against a player no longer in the ring fails instead of debiting twice.
func (e *Engine) MarkSold(ctx context.Context, playerID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.MarkSold",
		trace.WithAttributes(attribute.String("player.id", playerID)),
	)
	defer span.End()

	var soldTo string
	var amount int

	err := e.repos.Tx.RunInTx(ctx, func(ctx context.Context, r *store.Repositories) error {
		player, err := r.Players.Get(ctx, playerID)
		if err != nil {
			return err
		}
		if player.Status != store.StatusBidding {
			return ErrNotBidding
		}
		if player.BiddingTeam == nil {
			return ErrNoBid
		}

		team, err := r.Teams.Get(ctx, *player.BiddingTeam)
		if err != nil {
			return err
		}
		if len(team.Players) >= team.MaxPlayers {
			return ErrRosterFull
		}

		player.Status = store.StatusSold
		player.SoldTo = player.BiddingTeam
		if err := r.Players.Update(ctx, player); err != nil {
			return err
		}

		team.RemainingBudget -= player.CurrentBid
		team.Players = append(team.Players, player.ID)
		if err := r.Teams.Update(ctx, team); err != nil {
			return err
		}

		if err := r.Bids.Append(ctx, &store.BidEntry{
			PlayerID:   player.ID,
			PlayerName: player.Name,
			TeamID:     team.ID,
			TeamName:   team.Name,
			BidAmount:  player.CurrentBid,
			Type:       store.BidTypeSold,
		}); err != nil {
			return err
		}

		settings, err := e.settings(ctx, r)
		if err != nil {
			return err
		}
		settings.CurrentPlayer = nil
		if err := r.Settings.Put(ctx, settings); err != nil {
			return err
		}

		soldTo = team.ID
		amount = player.CurrentBid
		return nil
	})
	if err != nil {
		return fmt.Errorf("marking player %s sold: %w", playerID, err)
	}

	e.publish(live.TopicPlayers, map[string]string{"playerId": playerID})
	e.publish(live.TopicTeams, map[string]string{"teamId": soldTo})
	e.publish(live.TopicSettings, nil)
	e.publish(live.TopicBids, nil)

	e.logger.InfoContext(ctx, "player sold",
		slog.String("player_id", playerID),
		slog.String("team_id", soldTo),
		slog.Int("amount", amount),
	)
	return nil
}

// MarkUnsold returns the player to the pool and clears the ring. Works
// whether or not anyone bid, but only while the player is in the ring; a
// completed sale cannot be undone this way. Leaves no history entry.
func (e *Engine) MarkUnsold(ctx context.Context, playerID string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.MarkUnsold",
		trace.WithAttributes(attribute.String("player.id", playerID)),
	)
	defer span.End()

	err := e.repos.Tx.RunInTx(ctx, func(ctx context.Context, r *store.Repositories) error {
		player, err := r.Players.Get(ctx, playerID)
		if err != nil {
			return err
		}
		if player.Status != store.StatusBidding {
			return ErrNotBidding
		}

		player.Status = store.StatusUnsold
		player.CurrentBid = 0
		player.BiddingTeam = nil
		if err := r.Players.Update(ctx, player); err != nil {
			return err
		}

		settings, err := e.settings(ctx, r)
		if err != nil {
			return err
		}
		settings.CurrentPlayer = nil
		return r.Settings.Put(ctx, settings)
	})
	if err != nil {
		return fmt.Errorf("marking player %s unsold: %w", playerID, err)
	}

	e.publish(live.TopicPlayers, map[string]string{"playerId": playerID})
	e.publish(live.TopicSettings, nil)

	e.logger.InfoContext(ctx, "player passed unsold", slog.String("player_id", playerID))
	return nil
}

// ResetAll wipes every collection and reinitializes the settings singleton.
// Deliberately NOT one transaction: it is a destructive maintenance action
// and a failure partway leaves a mixed state the admin simply re-runs it on.
func (e *Engine) ResetAll(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "Engine.ResetAll")
	defer span.End()

	// Settings first so the players FK does not block the wipe, then
	// children before parents.
	if err := e.repos.Settings.Put(ctx, store.DefaultSettings(e.defaults.BidIncrement)); err != nil {
		return fmt.Errorf("resetting auction settings: %w", err)
	}
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"bid history", e.repos.Bids.DeleteAll},
		{"players", e.repos.Players.DeleteAll},
		{"teams", e.repos.Teams.DeleteAll},
		{"owners", e.repos.Owners.DeleteAll},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("resetting %s: %w", step.name, err)
		}
	}

	for _, topic := range []live.Topic{live.TopicPlayers, live.TopicTeams, live.TopicOwners, live.TopicSettings, live.TopicBids} {
		e.hub.Publish(live.Event{Topic: topic, Kind: live.KindReset})
	}

	e.logger.InfoContext(ctx, "auction data reset")
	return nil
}

func (e *Engine) publish(topic live.Topic, payload any) {
	ev := live.Event{Topic: topic, Kind: live.KindChanged}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	e.hub.Publish(ev)
}
