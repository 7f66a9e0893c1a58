// Package session resolves login attempts to role identities. Credentials
// are compared as plain values: the admin pair comes from configuration, the
// owner directory lives in the entity store.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/auctionarena/auctiond/internal/config"
	"github.com/auctionarena/auctiond/internal/store"
)

// Roles.
const (
	RoleAdmin = "admin"
	RoleOwner = "owner"
)

// ErrInvalidCredentials is returned for every login failure shape, so a
// caller cannot tell which part of the pair was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Identity is the resolved result of a successful sign-in.
type Identity struct {
	Role      string `json:"role"`
	OwnerID   string `json:"ownerId,omitempty"`
	OwnerName string `json:"ownerName,omitempty"`
	TeamID    string `json:"teamId,omitempty"`
	TeamName  string `json:"teamName,omitempty"`
}

// Resolver maps login attempts to identities and keeps one active session
// per role, mirroring the per-role client session records.
type Resolver struct {
	admin  config.AdminConfig
	owners store.OwnerRepository
	teams  store.TeamRepository
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]Identity
}

// NewResolver returns a new session Resolver.
func NewResolver(admin config.AdminConfig, owners store.OwnerRepository, teams store.TeamRepository, logger *slog.Logger) *Resolver {
	return &Resolver{
		admin:    admin,
		owners:   owners,
		teams:    teams,
		logger:   logger,
		sessions: make(map[string]Identity),
	}
}

// SignInAsAdmin checks the fixed credential pair from configuration.
func (r *Resolver) SignInAsAdmin(ctx context.Context, username, password string) (Identity, error) {
	if username != r.admin.Username || password != r.admin.Password {
		return Identity{}, ErrInvalidCredentials
	}

	id := Identity{Role: RoleAdmin}
	r.store(id)
	r.logger.InfoContext(ctx, "admin signed in")
	return id, nil
}

// SignInAsOwner looks the owner up by username, compares the password and
// correlates the owner's team. A missing team is tolerated: the identity
// simply carries no team reference.
func (r *Resolver) SignInAsOwner(ctx context.Context, username, password string) (Identity, error) {
	owner, err := r.owners.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, fmt.Errorf("looking up owner: %w", err)
	}
	if owner.Password != password {
		return Identity{}, ErrInvalidCredentials
	}

	id := Identity{
		Role:      RoleOwner,
		OwnerID:   owner.ID,
		OwnerName: owner.Name,
	}
	team, err := r.teams.GetByOwnerID(ctx, owner.ID)
	switch {
	case err == nil:
		id.TeamID = team.ID
		id.TeamName = team.Name
	case errors.Is(err, store.ErrNotFound):
		r.logger.WarnContext(ctx, "owner has no team", slog.String("owner_id", owner.ID))
	default:
		return Identity{}, fmt.Errorf("looking up owner team: %w", err)
	}

	r.store(id)
	r.logger.InfoContext(ctx, "owner signed in",
		slog.String("owner_id", owner.ID),
		slog.String("team_id", id.TeamID),
	)
	return id, nil
}

// Active returns the stored session for a role, if one exists.
func (r *Resolver) Active(role string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.sessions[role]
	return id, ok
}

// SignOut clears only the given role's session; the other role's session
// survives.
func (r *Resolver) SignOut(role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, role)
}

func (r *Resolver) store(id Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id.Role] = id
}
