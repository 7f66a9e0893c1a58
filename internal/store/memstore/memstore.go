// Package memstore provides a store.Driver backed by process memory. One big
// lock serializes transactions, which trivially satisfies the store's
// conflict-free commit contract. Used by unit tests and the "memory" driver
// for demo runs without Postgres.
package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/auctionarena/auctiond/internal/clock"
	"github.com/auctionarena/auctiond/internal/config"
	"github.com/auctionarena/auctiond/internal/store"
)

func init() {
	store.Register("memory", func(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
		return Open(clk), nil
	})
}

// state is the full data set. Transactions operate on a copy and swap it in
// on commit, so a failed transaction leaves no effect.
type state struct {
	players  map[string]store.Player
	teams    map[string]store.Team
	owners   map[string]store.Owner
	settings *store.AuctionSettings
	bids     []store.BidEntry
	lastTS   time.Time
}

func newState() *state {
	return &state{
		players: make(map[string]store.Player),
		teams:   make(map[string]store.Team),
		owners:  make(map[string]store.Owner),
	}
}

func (s *state) clone() *state {
	c := &state{
		players: make(map[string]store.Player, len(s.players)),
		teams:   make(map[string]store.Team, len(s.teams)),
		owners:  make(map[string]store.Owner, len(s.owners)),
		bids:    append([]store.BidEntry(nil), s.bids...),
		lastTS:  s.lastTS,
	}
	for k, v := range s.players {
		c.players[k] = v
	}
	for k, v := range s.teams {
		c.teams[k] = v
	}
	for k, v := range s.owners {
		c.owners[k] = v
	}
	if s.settings != nil {
		settings := *s.settings
		c.settings = &settings
	}
	return c
}

// DB is the in-memory store root.
type DB struct {
	// sem is a 1-slot semaphore instead of sync.Mutex so lock acquisition
	// can respect context cancellation inside nested transaction calls.
	sem   chan struct{}
	clk   clock.Clock
	state *state
}

// Open returns an empty in-memory store.
func Open(clk clock.Clock) *store.Repositories {
	db := &DB{
		sem:   make(chan struct{}, 1),
		clk:   clk,
		state: newState(),
	}
	return db.repositories(nil)
}

// repositories binds the repo set either to the live DB (st == nil) or to an
// in-flight transaction state. Inside a transaction the Tx runner flattens:
// the lock is already held, so a nested RunInTx joins the ongoing one.
func (db *DB) repositories(st *state) *store.Repositories {
	r := &store.Repositories{
		Players:  &playerRepo{db: db, tx: st},
		Teams:    &teamRepo{db: db, tx: st},
		Owners:   &ownerRepo{db: db, tx: st},
		Settings: &settingsRepo{db: db, tx: st},
		Bids:     &bidRepo{db: db, tx: st},
		Close:    func() error { return nil },
		Ping:     func(context.Context) error { return nil },
	}
	if st != nil {
		r.Tx = &joinRunner{r: r}
	} else {
		r.Tx = &txRunner{db: db}
	}
	return r
}

// joinRunner runs the callback against the already-open transaction.
type joinRunner struct {
	r *store.Repositories
}

func (j *joinRunner) RunInTx(ctx context.Context, fn func(ctx context.Context, r *store.Repositories) error) error {
	return fn(ctx, j.r)
}

func (db *DB) lock(ctx context.Context) error {
	select {
	case db.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (db *DB) unlock() { <-db.sem }

// with runs fn against the current state under the lock, or directly against
// the transaction state when the repo is bound to one. Reads and writes both
// go through it.
func with[T any](ctx context.Context, db *DB, tx *state, fn func(s *state) (T, error)) (T, error) {
	if tx != nil {
		return fn(tx)
	}
	var zero T
	if err := db.lock(ctx); err != nil {
		return zero, err
	}
	defer db.unlock()
	return fn(db.state)
}

type txRunner struct {
	db *DB
}

func (t *txRunner) RunInTx(ctx context.Context, fn func(ctx context.Context, r *store.Repositories) error) error {
	if err := t.db.lock(ctx); err != nil {
		return err
	}
	defer t.db.unlock()

	working := t.db.state.clone()
	if err := fn(ctx, t.db.repositories(working)); err != nil {
		return err
	}
	t.db.state = working
	return nil
}

// nextTimestamp returns a commit timestamp that never moves backwards.
func (s *state) nextTimestamp(clk clock.Clock) time.Time {
	ts := clk.Now().UTC()
	if !ts.After(s.lastTS) {
		ts = s.lastTS.Add(time.Microsecond)
	}
	s.lastTS = ts
	return ts
}

type playerRepo struct {
	db *DB
	tx *state
}

func (r *playerRepo) Create(ctx context.Context, p *store.Player) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := with(ctx, r.db, r.tx, func(s *state) (struct{}, error) {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		p.CreatedAt = s.nextTimestamp(r.db.clk)
		s.players[p.ID] = *p
		return struct{}{}, nil
	})
	return err
}

func (r *playerRepo) Get(ctx context.Context, id string) (*store.Player, error) {
	return with(ctx, r.db, r.tx, func(s *state) (*store.Player, error) {
		p, ok := s.players[id]
		if !ok {
			return nil, store.ErrNotFound
		}
		cp := p
		return &cp, nil
	})
}

func (r *playerRepo) List(ctx context.Context) ([]store.Player, error) {
	return with(ctx, r.db, r.tx, func(s *state) ([]store.Player, error) {
		out := make([]store.Player, 0, len(s.players))
		for _, p := range s.players {
			out = append(out, p)
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].CreatedAt.After(out[j].CreatedAt)
			}
			return out[i].ID < out[j].ID
		})
		return out, nil
	})
}

func (r *playerRepo) Update(ctx context.Context, p *store.Player) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := with(ctx, r.db, r.tx, func(s *state) (struct{}, error) {
		if _, ok := s.players[p.ID]; !ok {
			return struct{}{}, store.ErrNotFound
		}
		s.players[p.ID] = *p
		return struct{}{}, nil
	})
	return err
}

func (r *playerRepo) Delete(ctx context.Context, id string) error {
	_, err := with(ctx, r.db, r.tx, func(s *state) (struct{}, error) {
		if _, ok := s.players[id]; !ok {
			return struct{}{}, store.ErrNotFound
		}
		delete(s.players, id)
		return struct{}{}, nil
	})
	return err
}

func (r *playerRepo) DeleteAll(ctx context.Context) error {
	_, err := with(ctx, r.db, r.tx, func(s *state) (struct{}, error) {
		s.players = make(map[string]store.Player)
		return struct{}{}, nil
	})
	return err
}

type teamRepo struct {
	db *DB
	tx *state
}

func (r *teamRepo) Create(ctx context.Context, t *store.Team) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := with(ctx, r.db, r.tx, func(s *state) (struct{}, error) {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		t.CreatedAt = s.nextTimestamp(r.db.clk)
		s.teams[t.ID] = cloneTeam(*t)
		return struct{}{}, nil
	})
	return err
}

func (r *teamRepo) Get(ctx context.Context, id string) (*store.Team, error) {
	return with(ctx, r.db, r.tx, func(s *state) (*store.Team, error) {
		t, ok := s.teams[id]
		if !ok {
			return nil, store.ErrNotFound
		}
		cp := cloneTeam(t)
		return &cp, nil
	})
}

func (r *teamRepo) GetByOwnerID(ctx context.Context, ownerID string) (*store.Team, error) {
	return with(ctx, r.db, r.tx, func(s *state) (*store.Team, error) {
		var match *store.Team
		for _, t := range sortedTeams(s) {
			if t.OwnerID == ownerID {
				cp := cloneTeam(t)
				match = &cp
				break
			}
		}
		if match == nil {
			return nil, store.ErrNotFound
		}
		return match, nil
	})
}

func (r *teamRepo) List(ctx context.Context) ([]store.Team, error) {
	return with(ctx, r.db, r.tx, func(s *state) ([]store.Team, error) {
		out := sortedTeams(s)
		for i := range out {
			out[i] = cloneTeam(out[i])
		}
		return out, nil
	})
}

func sortedTeams(s *state) []store.Team {
	out := make([]store.Team, 0, len(s.teams))
	for _, t := range s.teams {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := strings.Compare(out[i].Name, out[j].Name); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *teamRepo) Update(ctx context.Context, t *store.Team) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := with(ctx, r.db, r.tx, func(s *state) (struct{}, error) {
		if _, ok := s.teams[t.ID]; !ok {
			return struct{}{}, store.ErrNotFound
		}
		s.teams[t.ID] = cloneTeam(*t)
		return struct{}{}, nil
	})
	return err
}

func (r *teamRepo) Delete(ctx context.Context, id string) error {
	_, err := with(ctx, r.db, r.tx, func(s *state) (struct{}, error) {
		if _, ok := s.teams[id]; !ok {
			return struct{}{}, store.ErrNotFound
		}
		delete(s.teams, id)
		return struct{}{}, nil
	})
	return err
}

func (r *teamRepo) DeleteAll(ctx context.Context) error {
	_, err := with(ctx, r.db, r.tx, func(s *state) (struct{}, error) {
		s.teams = make(map[string]store.Team)
		return struct{}{}, nil
	})
	return err
}

func cloneTeam(t store.Team) store.Team {
	t.Players = append([]string(nil), t.Players...)
	return t
}

type ownerRepo struct {
	db *DB
	tx *state
}

func (r *ownerRepo) Create(ctx context.Context, o *store.Owner) error {
	if err := o.Validate(); err != nil {
		return err
	}
	_, err := with(ctx, r.db, r.tx, func(s *state) (struct{}, error) {
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		o.CreatedAt = s.nextTimestamp(r.db.clk)
		s.owners[o.ID] = *o
		return struct{}{}, nil
	})
	return err
}

func (r *ownerRepo) Get(ctx context.Context, id string) (*store.Owner, error) {
	return with(ctx, r.db, r.tx, func(s *state) (*store.Owner, error) {
		o, ok := s.owners[id]
		if !ok {
			return nil, store.ErrNotFound
		}
		cp := o
		return &cp, nil
	})
}

func (r *ownerRepo) GetByUsername(ctx context.Context, username string) (*store.Owner, error) {
	return with(ctx, r.db, r.tx, func(s *state) (*store.Owner, error) {
		for _, o := range sortedOwners(s) {
			if o.Username == username {
				cp := o
				return &cp, nil
			}
		}
		return nil, store.ErrNotFound
	})
}

func (r *ownerRepo) List(ctx context.Context) ([]store.Owner, error) {
	return with(ctx, r.db, r.tx, func(s *state) ([]store.Owner, error) {
		return sortedOwners(s), nil
	})
}

func sortedOwners(s *state) []store.Owner {
	out := make([]store.Owner, 0, len(s.owners))
	for _, o := range s.owners {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := strings.Compare(out[i].Name, out[j].Name); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *ownerRepo) Update(ctx context.Context, o *store.Owner) error {
	if err := o.Validate(); err != nil {
		return err
	}
	_, err := with(ctx, r.db, r.tx, func(s *state) (struct{}, error) {
		if _, ok := s.owners[o.ID]; !ok {
			return struct{}{}, store.ErrNotFound
		}
		s.owners[o.ID] = *o
		return struct{}{}, nil
	})
	return err
}

func (r *ownerRepo) Delete(ctx context.Context, id string) error {
	_, err := with(ctx, r.db, r.tx, func(s *state) (struct{}, error) {
		if _, ok := s.owners[id]; !ok {
			return struct{}{}, store.ErrNotFound
		}
		delete(s.owners, id)
		return struct{}{}, nil
	})
	return err
}

func (r *ownerRepo) DeleteAll(ctx context.Context) error {
	_, err := with(ctx, r.db, r.tx, func(s *state) (struct{}, error) {
		s.owners = make(map[string]store.Owner)
		return struct{}{}, nil
	})
	return err
}

type settingsRepo struct {
	db *DB
	tx *state
}

func (r *settingsRepo) Get(ctx context.Context) (*store.AuctionSettings, error) {
	return with(ctx, r.db, r.tx, func(s *state) (*store.AuctionSettings, error) {
		if s.settings == nil {
			return nil, store.ErrNotFound
		}
		cp := *s.settings
		return &cp, nil
	})
}

func (r *settingsRepo) Put(ctx context.Context, settings *store.AuctionSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	_, err := with(ctx, r.db, r.tx, func(s *state) (struct{}, error) {
		cp := *settings
		s.settings = &cp
		return struct{}{}, nil
	})
	return err
}

type bidRepo struct {
	db *DB
	tx *state
}

func (r *bidRepo) Append(ctx context.Context, b *store.BidEntry) error {
	if err := b.Validate(); err != nil {
		return err
	}
	_, err := with(ctx, r.db, r.tx, func(s *state) (struct{}, error) {
		b.ID = uuid.NewString()
		b.Timestamp = s.nextTimestamp(r.db.clk)
		s.bids = append(s.bids, *b)
		return struct{}{}, nil
	})
	return err
}

func (r *bidRepo) ListRecent(ctx context.Context, limit int) ([]store.BidEntry, error) {
	return with(ctx, r.db, r.tx, func(s *state) ([]store.BidEntry, error) {
		return newestFirst(s.bids, nil, limit), nil
	})
}

func (r *bidRepo) ListForPlayer(ctx context.Context, playerID string, limit int) ([]store.BidEntry, error) {
	return with(ctx, r.db, r.tx, func(s *state) ([]store.BidEntry, error) {
		match := func(b store.BidEntry) bool { return b.PlayerID == playerID }
		return newestFirst(s.bids, match, limit), nil
	})
}

func newestFirst(bids []store.BidEntry, match func(store.BidEntry) bool, limit int) []store.BidEntry {
	var out []store.BidEntry
	for i := len(bids) - 1; i >= 0; i-- {
		if match != nil && !match(bids[i]) {
			continue
		}
		out = append(out, bids[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (r *bidRepo) DeleteAll(ctx context.Context) error {
	_, err := with(ctx, r.db, r.tx, func(s *state) (struct{}, error) {
		s.bids = nil
		return struct{}{}, nil
	})
	return err
}
