// Package catalog handles administrative data entry for players, teams and
// owners. It sits outside the auction transaction core; its direct updates
// are the administrative override path that can bypass auction invariants
// for correction purposes.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/auctionarena/auctiond/internal/config"
	"github.com/auctionarena/auctiond/internal/live"
	"github.com/auctionarena/auctiond/internal/store"
)

var (
	// ErrPlayerNotDeletable guards players that entered the auction flow.
	ErrPlayerNotDeletable = errors.New("player can only be deleted while unsold")
	// ErrTeamNotEmpty guards teams that still hold purchased players.
	ErrTeamNotEmpty = errors.New("team still has players on its roster")
)

// Manager performs catalog mutations and publishes change notifications.
type Manager struct {
	repos    *store.Repositories
	hub      *live.Hub
	logger   *slog.Logger
	tracer   trace.Tracer
	defaults config.AuctionConfig
}

// NewManager returns a new catalog Manager.
func NewManager(repos *store.Repositories, hub *live.Hub, logger *slog.Logger, tp trace.TracerProvider, defaults config.AuctionConfig) *Manager {
	return &Manager{
		repos:    repos,
		hub:      hub,
		logger:   logger,
		tracer:   tp.Tracer("github.com/auctionarena/auctiond/internal/catalog"),
		defaults: defaults,
	}
}

// CreatePlayer registers a new auctionable player in the unsold state.
func (m *Manager) CreatePlayer(ctx context.Context, p *store.Player) error {
	ctx, span := m.tracer.Start(ctx, "Manager.CreatePlayer",
		trace.WithAttributes(attribute.String("player.name", p.Name)),
	)
	defer span.End()

	p.Status = store.StatusUnsold
	p.CurrentBid = 0
	p.BiddingTeam = nil
	p.SoldTo = nil
	if err := m.repos.Players.Create(ctx, p); err != nil {
		return fmt.Errorf("creating player: %w", err)
	}

	m.changed(live.TopicPlayers)
	m.logger.InfoContext(ctx, "player created",
		slog.String("player_id", p.ID),
		slog.String("name", p.Name),
	)
	return nil
}

// UpdatePlayer replaces a player record as-is, without auction-flow checks.
func (m *Manager) UpdatePlayer(ctx context.Context, p *store.Player) error {
	if err := m.repos.Players.Update(ctx, p); err != nil {
		return fmt.Errorf("updating player: %w", err)
	}
	m.changed(live.TopicPlayers)
	return nil
}

// DeletePlayer removes a player. Only unsold players are deletable; the
// status check and the delete share one transaction.
func (m *Manager) DeletePlayer(ctx context.Context, id string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.DeletePlayer",
		trace.WithAttributes(attribute.String("player.id", id)),
	)
	defer span.End()

	err := m.repos.Tx.RunInTx(ctx, func(ctx context.Context, r *store.Repositories) error {
		p, err := r.Players.Get(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != store.StatusUnsold {
			return ErrPlayerNotDeletable
		}
		return r.Players.Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("deleting player %s: %w", id, err)
	}

	m.changed(live.TopicPlayers)
	m.logger.InfoContext(ctx, "player deleted", slog.String("player_id", id))
	return nil
}

// CreateTeam registers a team with a full wallet and an empty roster.
// Zero-valued budget and roster cap fall back to the configured defaults.
func (m *Manager) CreateTeam(ctx context.Context, t *store.Team) error {
	ctx, span := m.tracer.Start(ctx, "Manager.CreateTeam",
		trace.WithAttributes(attribute.String("team.name", t.Name)),
	)
	defer span.End()

	if t.TotalBudget == 0 {
		t.TotalBudget = m.defaults.DefaultBudget
	}
	if t.MaxPlayers == 0 {
		t.MaxPlayers = m.defaults.MaxPlayers
	}
	t.RemainingBudget = t.TotalBudget
	t.Players = nil

	if t.OwnerID != "" && t.OwnerName == "" {
		owner, err := m.repos.Owners.Get(ctx, t.OwnerID)
		if err != nil {
			return fmt.Errorf("resolving team owner: %w", err)
		}
		t.OwnerName = owner.Name
	}

	if err := m.repos.Teams.Create(ctx, t); err != nil {
		return fmt.Errorf("creating team: %w", err)
	}

	m.changed(live.TopicTeams)
	m.logger.InfoContext(ctx, "team created",
		slog.String("team_id", t.ID),
		slog.String("name", t.Name),
		slog.Int("budget", t.TotalBudget),
	)
	return nil
}

// UpdateTeam replaces a team record as-is. This is the administrative
// override: budget and roster edits here bypass the auction invariants.
func (m *Manager) UpdateTeam(ctx context.Context, t *store.Team) error {
	if err := m.repos.Teams.Update(ctx, t); err != nil {
		return fmt.Errorf("updating team: %w", err)
	}
	m.changed(live.TopicTeams)
	return nil
}

// DeleteTeam removes a team, refusing while any purchased player remains.
func (m *Manager) DeleteTeam(ctx context.Context, id string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.DeleteTeam",
		trace.WithAttributes(attribute.String("team.id", id)),
	)
	defer span.End()

	err := m.repos.Tx.RunInTx(ctx, func(ctx context.Context, r *store.Repositories) error {
		t, err := r.Teams.Get(ctx, id)
		if err != nil {
			return err
		}
		if len(t.Players) > 0 {
			return ErrTeamNotEmpty
		}
		return r.Teams.Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("deleting team %s: %w", id, err)
	}

	m.changed(live.TopicTeams)
	m.logger.InfoContext(ctx, "team deleted", slog.String("team_id", id))
	return nil
}

// CreateOwner registers a login identity for a team owner.
func (m *Manager) CreateOwner(ctx context.Context, o *store.Owner) error {
	if err := m.repos.Owners.Create(ctx, o); err != nil {
		return fmt.Errorf("creating owner: %w", err)
	}
	m.changed(live.TopicOwners)
	m.logger.InfoContext(ctx, "owner created",
		slog.String("owner_id", o.ID),
		slog.String("username", o.Username),
	)
	return nil
}

// UpdateOwner replaces an owner record.
func (m *Manager) UpdateOwner(ctx context.Context, o *store.Owner) error {
	if err := m.repos.Owners.Update(ctx, o); err != nil {
		return fmt.Errorf("updating owner: %w", err)
	}
	m.changed(live.TopicOwners)
	return nil
}

// DeleteOwner removes an owner record.
func (m *Manager) DeleteOwner(ctx context.Context, id string) error {
	if err := m.repos.Owners.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting owner %s: %w", id, err)
	}
	m.changed(live.TopicOwners)
	return nil
}

// InitSettings writes the default settings singleton. Safe to call on a
// fresh data set or to re-run.
func (m *Manager) InitSettings(ctx context.Context) error {
	if err := m.repos.Settings.Put(ctx, store.DefaultSettings(m.defaults.BidIncrement)); err != nil {
		return fmt.Errorf("initializing auction settings: %w", err)
	}
	m.changed(live.TopicSettings)
	return nil
}

// UpdateSettings replaces the settings singleton.
func (m *Manager) UpdateSettings(ctx context.Context, s *store.AuctionSettings) error {
	if err := m.repos.Settings.Put(ctx, s); err != nil {
		return fmt.Errorf("updating auction settings: %w", err)
	}
	m.changed(live.TopicSettings)
	return nil
}

func (m *Manager) changed(topic live.Topic) {
	m.hub.Publish(live.Event{Topic: topic, Kind: live.KindChanged})
}
