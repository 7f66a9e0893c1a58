package store

import "context"

// PlayerRepository defines player persistence operations.
type PlayerRepository interface {
	Create(ctx context.Context, p *Player) error
	Get(ctx context.Context, id string) (*Player, error)
	// List returns all players ordered by creation time, newest first.
	List(ctx context.Context) ([]Player, error)
	Update(ctx context.Context, p *Player) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}

// TeamRepository defines team persistence operations.
type TeamRepository interface {
	Create(ctx context.Context, t *Team) error
	Get(ctx context.Context, id string) (*Team, error)
	// GetByOwnerID returns the first team owned by the given owner.
	GetByOwnerID(ctx context.Context, ownerID string) (*Team, error)
	// List returns all teams ordered by name.
	List(ctx context.Context) ([]Team, error)
	Update(ctx context.Context, t *Team) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}

// OwnerRepository defines owner persistence operations.
type OwnerRepository interface {
	Create(ctx context.Context, o *Owner) error
	Get(ctx context.Context, id string) (*Owner, error)
	// GetByUsername returns the first owner with the given username.
	GetByUsername(ctx context.Context, username string) (*Owner, error)
	// List returns all owners ordered by name.
	List(ctx context.Context) ([]Owner, error)
	Update(ctx context.Context, o *Owner) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}

// SettingsRepository persists the auction settings singleton.
type SettingsRepository interface {
	Get(ctx context.Context) (*AuctionSettings, error)
	// Put creates or replaces the singleton.
	Put(ctx context.Context, s *AuctionSettings) error
}

// BidRepository persists the append-only bid history. Entries are never
// mutated; the only delete is the full-reset DeleteAll.
type BidRepository interface {
	// Append stores an entry, assigning its id and timestamp. Timestamps
	// are non-decreasing in commit order.
	Append(ctx context.Context, b *BidEntry) error
	// ListRecent returns the newest entries first, at most limit.
	ListRecent(ctx context.Context, limit int) ([]BidEntry, error)
	// ListForPlayer returns entries for one player, newest first, at most limit.
	ListForPlayer(ctx context.Context, playerID string, limit int) ([]BidEntry, error)
	DeleteAll(ctx context.Context) error
}

// TxRunner executes a function as one atomic unit. Reads inside fn observe a
// consistent snapshot; writes become visible all at once on commit. Two
// conflicting units cannot both commit against stale reads: the driver either
// serializes them or retries the loser transparently. If fn returns an error
// the unit leaves no effect.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, r *Repositories) error) error
}

// Repositories groups the repository implementations returned by a driver.
// The same struct is handed to TxRunner callbacks with every repository bound
// to the in-flight transaction.
type Repositories struct {
	Players  PlayerRepository
	Teams    TeamRepository
	Owners   OwnerRepository
	Settings SettingsRepository
	Bids     BidRepository
	Tx       TxRunner
	// Close releases underlying resources (e.g. the DB pool).
	Close func() error
	// Ping checks the underlying connection health.
	Ping func(ctx context.Context) error
}
