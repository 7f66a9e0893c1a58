package auction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/auctionarena/auctiond/internal/clock"
	"github.com/auctionarena/auctiond/internal/config"
	"github.com/auctionarena/auctiond/internal/live"
	"github.com/auctionarena/auctiond/internal/store"
	"github.com/auctionarena/auctiond/internal/store/memstore"
)

var testDefaults = config.AuctionConfig{
	BidIncrement:  5,
	DefaultBudget: 100,
	MaxPlayers:    15,
}

func newTestEngine(t *testing.T) (*Engine, *store.Repositories) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repos := memstore.Open(clock.Mock{T: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)})
	hub := live.New(logger)
	return NewEngine(repos, hub, logger, noop.NewTracerProvider(), testDefaults), repos
}

func seedPlayer(t *testing.T, repos *store.Repositories, name string) *store.Player {
	t.Helper()
	p := &store.Player{
		Name:   name,
		Role:   store.RoleBatsman,
		Status: store.StatusUnsold,
	}
	if err := repos.Players.Create(context.Background(), p); err != nil {
		t.Fatalf("seeding player %s: %v", name, err)
	}
	return p
}

func seedTeam(t *testing.T, repos *store.Repositories, name string, budget, maxPlayers int) *store.Team {
	t.Helper()
	tm := &store.Team{
		Name:            name,
		TotalBudget:     budget,
		RemainingBudget: budget,
		MaxPlayers:      maxPlayers,
	}
	if err := repos.Teams.Create(context.Background(), tm); err != nil {
		t.Fatalf("seeding team %s: %v", name, err)
	}
	return tm
}

func TestAuctionRoundTrip(t *testing.T) {
	engine, repos := newTestEngine(t)
	ctx := context.Background()

	player := seedPlayer(t, repos, "Virat")
	teamA := seedTeam(t, repos, "Alpha", 100, 15)
	teamB := seedTeam(t, repos, "Bravo", 100, 15)

	if err := engine.StartAuction(ctx, player.ID); err != nil {
		t.Fatalf("StartAuction: %v", err)
	}
	if err := engine.PlaceBid(ctx, player.ID, teamA.ID, 10); err != nil {
		t.Fatalf("first bid: %v", err)
	}
	if err := engine.PlaceBid(ctx, player.ID, teamB.ID, 20); err != nil {
		t.Fatalf("second bid: %v", err)
	}
	if err := engine.MarkSold(ctx, player.ID); err != nil {
		t.Fatalf("MarkSold: %v", err)
	}

	got, err := repos.Players.Get(ctx, player.ID)
	if err != nil {
		t.Fatalf("reading player: %v", err)
	}
	if got.Status != store.StatusSold {
		t.Errorf("player status = %q, want %q", got.Status, store.StatusSold)
	}
	if got.SoldTo == nil || *got.SoldTo != teamB.ID {
		t.Errorf("player soldTo = %v, want %s", got.SoldTo, teamB.ID)
	}
	if got.CurrentBid != 20 {
		t.Errorf("player currentBid = %d, want 20", got.CurrentBid)
	}

	winner, err := repos.Teams.Get(ctx, teamB.ID)
	if err != nil {
		t.Fatalf("reading winning team: %v", err)
	}
	if winner.RemainingBudget != 80 {
		t.Errorf("winner remaining budget = %d, want 80", winner.RemainingBudget)
	}
	if len(winner.Players) != 1 || winner.Players[0] != player.ID {
		t.Errorf("winner roster = %v, want [%s]", winner.Players, player.ID)
	}

	loser, err := repos.Teams.Get(ctx, teamA.ID)
	if err != nil {
		t.Fatalf("reading outbid team: %v", err)
	}
	if loser.RemainingBudget != 100 {
		t.Errorf("outbid team remaining budget = %d, want 100 untouched", loser.RemainingBudget)
	}

	settings, err := repos.Settings.Get(ctx)
	if err != nil {
		t.Fatalf("reading settings: %v", err)
	}
	if settings.CurrentPlayer != nil {
		t.Errorf("settings currentPlayer = %v, want nil", settings.CurrentPlayer)
	}

	history, err := repos.Bids.ListRecent(ctx, 20)
	if err != nil {
		t.Fatalf("reading history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	// Newest first: sold(20), bid(20), bid(10).
	wantTypes := []string{store.BidTypeSold, store.BidTypeBid, store.BidTypeBid}
	wantAmounts := []int{20, 20, 10}
	for i, entry := range history {
		if entry.Type != wantTypes[i] || entry.BidAmount != wantAmounts[i] {
			t.Errorf("history[%d] = %s/%d, want %s/%d",
				i, entry.Type, entry.BidAmount, wantTypes[i], wantAmounts[i])
		}
	}
}

func TestMarkUnsoldClearsBidState(t *testing.T) {
	engine, repos := newTestEngine(t)
	ctx := context.Background()

	player := seedPlayer(t, repos, "Rohit")
	team := seedTeam(t, repos, "Alpha", 100, 15)

	if err := engine.StartAuction(ctx, player.ID); err != nil {
		t.Fatalf("StartAuction: %v", err)
	}
	if err := engine.PlaceBid(ctx, player.ID, team.ID, 10); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if err := engine.MarkUnsold(ctx, player.ID); err != nil {
		t.Fatalf("MarkUnsold: %v", err)
	}

	got, err := repos.Players.Get(ctx, player.ID)
	if err != nil {
		t.Fatalf("reading player: %v", err)
	}
	if got.Status != store.StatusUnsold || got.CurrentBid != 0 || got.BiddingTeam != nil {
		t.Errorf("player after unsold = %s/%d/%v, want unsold/0/nil",
			got.Status, got.CurrentBid, got.BiddingTeam)
	}

	tm, err := repos.Teams.Get(ctx, team.ID)
	if err != nil {
		t.Fatalf("reading team: %v", err)
	}
	if tm.RemainingBudget != 100 {
		t.Errorf("team budget = %d, want 100 untouched", tm.RemainingBudget)
	}

	settings, err := repos.Settings.Get(ctx)
	if err != nil {
		t.Fatalf("reading settings: %v", err)
	}
	if settings.CurrentPlayer != nil {
		t.Errorf("settings currentPlayer = %v, want nil", settings.CurrentPlayer)
	}

	history, err := repos.Bids.ListRecent(ctx, 20)
	if err != nil {
		t.Fatalf("reading history: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("history length = %d, want 1 (unsold leaves no entry)", len(history))
	}
}

func TestStartAuctionSecondPlayerRejected(t *testing.T) {
	engine, repos := newTestEngine(t)
	ctx := context.Background()

	first := seedPlayer(t, repos, "First")
	second := seedPlayer(t, repos, "Second")

	if err := engine.StartAuction(ctx, first.ID); err != nil {
		t.Fatalf("StartAuction first: %v", err)
	}
	err := engine.StartAuction(ctx, second.ID)
	if !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("StartAuction second = %v, want ErrAlreadyActive", err)
	}

	got, readErr := repos.Players.Get(ctx, second.ID)
	if readErr != nil {
		t.Fatalf("reading second player: %v", readErr)
	}
	if got.Status != store.StatusUnsold {
		t.Errorf("second player status = %q, want unchanged unsold", got.Status)
	}
}

func TestStartAuctionUnknownPlayer(t *testing.T) {
	engine, _ := newTestEngine(t)

	err := engine.StartAuction(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("StartAuction = %v, want store.ErrNotFound", err)
	}
}

func TestPlaceBidRejections(t *testing.T) {
	engine, repos := newTestEngine(t)
	ctx := context.Background()

	player := seedPlayer(t, repos, "Jasprit")
	idle := seedPlayer(t, repos, "Idle")
	teamA := seedTeam(t, repos, "Alpha", 100, 15)
	teamB := seedTeam(t, repos, "Bravo", 30, 15)

	if err := engine.StartAuction(ctx, player.ID); err != nil {
		t.Fatalf("StartAuction: %v", err)
	}
	if err := engine.PlaceBid(ctx, player.ID, teamA.ID, 25); err != nil {
		t.Fatalf("opening bid: %v", err)
	}

	tests := []struct {
		name     string
		playerID string
		teamID   string
		amount   int
		want     error
	}{
		{"player not in the ring", idle.ID, teamB.ID, 10, ErrNotBidding},
		{"leading team bids again", player.ID, teamA.ID, 30, ErrSelfOutbid},
		{"equal to current bid", player.ID, teamB.ID, 25, ErrBidTooLow},
		{"below current bid", player.ID, teamB.ID, 20, ErrBidTooLow},
		{"exceeds remaining budget", player.ID, teamB.ID, 31, ErrInsufficientBudget},
		{"unknown player", "missing", teamB.ID, 30, store.ErrNotFound},
		{"unknown team", player.ID, "missing", 30, store.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.PlaceBid(ctx, tt.playerID, tt.teamID, tt.amount)
			if !errors.Is(err, tt.want) {
				t.Errorf("PlaceBid = %v, want %v", err, tt.want)
			}
		})
	}

	// A rejected bid must leave the leading bid untouched.
	got, err := repos.Players.Get(ctx, player.ID)
	if err != nil {
		t.Fatalf("reading player: %v", err)
	}
	if got.CurrentBid != 25 || got.BiddingTeam == nil || *got.BiddingTeam != teamA.ID {
		t.Errorf("leading bid = %d by %v, want 25 by %s", got.CurrentBid, got.BiddingTeam, teamA.ID)
	}
	if entries, _ := repos.Bids.ListRecent(ctx, 20); len(entries) != 1 {
		t.Errorf("history length = %d, want 1 (rejections leave no entry)", len(entries))
	}
}

func TestMarkSoldWithoutBid(t *testing.T) {
	engine, repos := newTestEngine(t)
	ctx := context.Background()

	player := seedPlayer(t, repos, "Quiet")
	if err := engine.StartAuction(ctx, player.ID); err != nil {
		t.Fatalf("StartAuction: %v", err)
	}

	err := engine.MarkSold(ctx, player.ID)
	if !errors.Is(err, ErrNoBid) {
		t.Fatalf("MarkSold = %v, want ErrNoBid", err)
	}

	got, readErr := repos.Players.Get(ctx, player.ID)
	if readErr != nil {
		t.Fatalf("reading player: %v", readErr)
	}
	if got.Status != store.StatusBidding {
		t.Errorf("player status = %q, want still bidding", got.Status)
	}
}

// A replayed sale command (say, an admin double-clicking "Sold") must fail
// the second time instead of debiting the budget again and duplicating the
// roster entry.
func TestMarkSoldIsTerminal(t *testing.T) {
	engine, repos := newTestEngine(t)
	ctx := context.Background()

	player := seedPlayer(t, repos, "Finalized")
	team := seedTeam(t, repos, "Alpha", 100, 15)

	if err := engine.StartAuction(ctx, player.ID); err != nil {
		t.Fatalf("StartAuction: %v", err)
	}
	if err := engine.PlaceBid(ctx, player.ID, team.ID, 30); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if err := engine.MarkSold(ctx, player.ID); err != nil {
		t.Fatalf("first MarkSold: %v", err)
	}

	if err := engine.MarkSold(ctx, player.ID); !errors.Is(err, ErrNotBidding) {
		t.Fatalf("second MarkSold = %v, want ErrNotBidding", err)
	}

	tm, err := repos.Teams.Get(ctx, team.ID)
	if err != nil {
		t.Fatalf("reading team: %v", err)
	}
	if tm.RemainingBudget != 70 {
		t.Errorf("remaining budget = %d, want 70 (debited once)", tm.RemainingBudget)
	}
	if len(tm.Players) != 1 || tm.Players[0] != player.ID {
		t.Errorf("roster = %v, want exactly one entry for %s", tm.Players, player.ID)
	}
	if entries, _ := repos.Bids.ListRecent(ctx, 20); len(entries) != 2 {
		t.Errorf("history length = %d, want 2 (one bid, one sold)", len(entries))
	}
}

// A completed sale cannot be reverted by the unsold command: the player keeps
// the sold state and the buyer keeps the roster entry it paid for.
func TestMarkUnsoldAfterSaleRejected(t *testing.T) {
	engine, repos := newTestEngine(t)
	ctx := context.Background()

	player := seedPlayer(t, repos, "Bought")
	team := seedTeam(t, repos, "Alpha", 100, 15)

	if err := engine.StartAuction(ctx, player.ID); err != nil {
		t.Fatalf("StartAuction: %v", err)
	}
	if err := engine.PlaceBid(ctx, player.ID, team.ID, 30); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if err := engine.MarkSold(ctx, player.ID); err != nil {
		t.Fatalf("MarkSold: %v", err)
	}

	if err := engine.MarkUnsold(ctx, player.ID); !errors.Is(err, ErrNotBidding) {
		t.Fatalf("MarkUnsold after sale = %v, want ErrNotBidding", err)
	}

	got, err := repos.Players.Get(ctx, player.ID)
	if err != nil {
		t.Fatalf("reading player: %v", err)
	}
	if got.Status != store.StatusSold || got.CurrentBid != 30 || got.SoldTo == nil {
		t.Errorf("player after rejected unsold = %s/%d/%v, want sold/30 with buyer",
			got.Status, got.CurrentBid, got.SoldTo)
	}
}

func TestMarkUnsoldRequiresActiveAuction(t *testing.T) {
	engine, repos := newTestEngine(t)

	player := seedPlayer(t, repos, "Idle")
	err := engine.MarkUnsold(context.Background(), player.ID)
	if !errors.Is(err, ErrNotBidding) {
		t.Fatalf("MarkUnsold on unsold player = %v, want ErrNotBidding", err)
	}
}

func TestMarkSoldRosterFull(t *testing.T) {
	engine, repos := newTestEngine(t)
	ctx := context.Background()

	team := seedTeam(t, repos, "Tiny", 100, 1)
	first := seedPlayer(t, repos, "First")
	second := seedPlayer(t, repos, "Second")

	if err := engine.StartAuction(ctx, first.ID); err != nil {
		t.Fatalf("StartAuction first: %v", err)
	}
	if err := engine.PlaceBid(ctx, first.ID, team.ID, 10); err != nil {
		t.Fatalf("bid first: %v", err)
	}
	if err := engine.MarkSold(ctx, first.ID); err != nil {
		t.Fatalf("sell first: %v", err)
	}

	if err := engine.StartAuction(ctx, second.ID); err != nil {
		t.Fatalf("StartAuction second: %v", err)
	}
	if err := engine.PlaceBid(ctx, second.ID, team.ID, 10); err != nil {
		t.Fatalf("bid second: %v", err)
	}
	err := engine.MarkSold(ctx, second.ID)
	if !errors.Is(err, ErrRosterFull) {
		t.Fatalf("MarkSold = %v, want ErrRosterFull", err)
	}

	tm, readErr := repos.Teams.Get(ctx, team.ID)
	if readErr != nil {
		t.Fatalf("reading team: %v", readErr)
	}
	if len(tm.Players) != 1 || tm.RemainingBudget != 90 {
		t.Errorf("team after rejected sale = roster %v budget %d, want 1 player and 90",
			tm.Players, tm.RemainingBudget)
	}
}

func TestInsufficientBudgetLeavesStateUnchanged(t *testing.T) {
	engine, repos := newTestEngine(t)
	ctx := context.Background()

	player := seedPlayer(t, repos, "Pricey")
	team := seedTeam(t, repos, "Broke", 10, 15)

	if err := engine.StartAuction(ctx, player.ID); err != nil {
		t.Fatalf("StartAuction: %v", err)
	}
	if err := engine.PlaceBid(ctx, player.ID, team.ID, 11); !errors.Is(err, ErrInsufficientBudget) {
		t.Fatalf("PlaceBid = %v, want ErrInsufficientBudget", err)
	}

	got, err := repos.Players.Get(ctx, player.ID)
	if err != nil {
		t.Fatalf("reading player: %v", err)
	}
	if got.CurrentBid != 0 || got.BiddingTeam != nil {
		t.Errorf("player bid state = %d/%v, want 0/nil", got.CurrentBid, got.BiddingTeam)
	}
	if entries, _ := repos.Bids.ListRecent(ctx, 20); len(entries) != 0 {
		t.Errorf("history length = %d, want 0", len(entries))
	}
}

// Two teams race to place the same winning bid; exactly one may lead and only
// one history entry may land.
func TestConcurrentBidsOneWinner(t *testing.T) {
	engine, repos := newTestEngine(t)
	ctx := context.Background()

	player := seedPlayer(t, repos, "Contested")
	teamA := seedTeam(t, repos, "Alpha", 100, 15)
	teamB := seedTeam(t, repos, "Bravo", 100, 15)

	if err := engine.StartAuction(ctx, player.ID); err != nil {
		t.Fatalf("StartAuction: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, teamID := range []string{teamA.ID, teamB.ID} {
		wg.Add(1)
		go func(i int, teamID string) {
			defer wg.Done()
			errs[i] = engine.PlaceBid(ctx, player.ID, teamID, 10)
		}(i, teamID)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrBidTooLow):
			lost++
		default:
			t.Fatalf("unexpected bid error: %v", err)
		}
	}
	if won != 1 || lost != 1 {
		t.Fatalf("won=%d lost=%d, want exactly one winner", won, lost)
	}

	got, err := repos.Players.Get(ctx, player.ID)
	if err != nil {
		t.Fatalf("reading player: %v", err)
	}
	if got.CurrentBid != 10 || got.BiddingTeam == nil {
		t.Errorf("player bid state = %d/%v, want 10 with a leading team", got.CurrentBid, got.BiddingTeam)
	}
	if entries, _ := repos.Bids.ListRecent(ctx, 20); len(entries) != 1 {
		t.Errorf("history length = %d, want 1", len(entries))
	}
}

// The budget identity must hold after any sequence of sales:
// remainingBudget == totalBudget - sum of winning bids.
func TestBudgetIdentityAcrossSales(t *testing.T) {
	engine, repos := newTestEngine(t)
	ctx := context.Background()

	team := seedTeam(t, repos, "Alpha", 100, 15)
	amounts := []int{10, 25, 5}
	var spent int

	for i, amount := range amounts {
		player := seedPlayer(t, repos, "Player"+string(rune('A'+i)))
		if err := engine.StartAuction(ctx, player.ID); err != nil {
			t.Fatalf("StartAuction %d: %v", i, err)
		}
		if err := engine.PlaceBid(ctx, player.ID, team.ID, amount); err != nil {
			t.Fatalf("PlaceBid %d: %v", i, err)
		}
		if err := engine.MarkSold(ctx, player.ID); err != nil {
			t.Fatalf("MarkSold %d: %v", i, err)
		}
		spent += amount
	}

	tm, err := repos.Teams.Get(ctx, team.ID)
	if err != nil {
		t.Fatalf("reading team: %v", err)
	}
	if tm.RemainingBudget != tm.TotalBudget-spent {
		t.Errorf("remaining budget = %d, want %d", tm.RemainingBudget, tm.TotalBudget-spent)
	}
	if len(tm.Players) != len(amounts) {
		t.Errorf("roster size = %d, want %d", len(tm.Players), len(amounts))
	}
}

func TestResetAllWipesEverything(t *testing.T) {
	engine, repos := newTestEngine(t)
	ctx := context.Background()

	player := seedPlayer(t, repos, "Gone")
	team := seedTeam(t, repos, "Alpha", 100, 15)
	owner := &store.Owner{Username: "alice", Password: "pw", Name: "Alice"}
	if err := repos.Owners.Create(ctx, owner); err != nil {
		t.Fatalf("seeding owner: %v", err)
	}

	if err := engine.StartAuction(ctx, player.ID); err != nil {
		t.Fatalf("StartAuction: %v", err)
	}
	if err := engine.PlaceBid(ctx, player.ID, team.ID, 10); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if err := engine.MarkSold(ctx, player.ID); err != nil {
		t.Fatalf("MarkSold: %v", err)
	}

	if err := engine.ResetAll(ctx); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}

	if players, _ := repos.Players.List(ctx); len(players) != 0 {
		t.Errorf("players after reset = %d, want 0", len(players))
	}
	if teams, _ := repos.Teams.List(ctx); len(teams) != 0 {
		t.Errorf("teams after reset = %d, want 0", len(teams))
	}
	if owners, _ := repos.Owners.List(ctx); len(owners) != 0 {
		t.Errorf("owners after reset = %d, want 0", len(owners))
	}
	if entries, _ := repos.Bids.ListRecent(ctx, 20); len(entries) != 0 {
		t.Errorf("history after reset = %d, want 0", len(entries))
	}

	settings, err := repos.Settings.Get(ctx)
	if err != nil {
		t.Fatalf("reading settings: %v", err)
	}
	if settings.IsActive || settings.CurrentPlayer != nil {
		t.Errorf("settings after reset = active=%v current=%v, want inactive and empty",
			settings.IsActive, settings.CurrentPlayer)
	}
	if settings.BidIncrement != testDefaults.BidIncrement {
		t.Errorf("bid increment after reset = %d, want %d", settings.BidIncrement, testDefaults.BidIncrement)
	}
}

func TestStartAuctionResetsStaleBidState(t *testing.T) {
	engine, repos := newTestEngine(t)
	ctx := context.Background()

	player := seedPlayer(t, repos, "Recycled")
	team := seedTeam(t, repos, "Alpha", 100, 15)

	// First round ends unsold after a bid.
	if err := engine.StartAuction(ctx, player.ID); err != nil {
		t.Fatalf("first StartAuction: %v", err)
	}
	if err := engine.PlaceBid(ctx, player.ID, team.ID, 10); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if err := engine.MarkUnsold(ctx, player.ID); err != nil {
		t.Fatalf("MarkUnsold: %v", err)
	}

	if err := engine.StartAuction(ctx, player.ID); err != nil {
		t.Fatalf("second StartAuction: %v", err)
	}

	got, err := repos.Players.Get(ctx, player.ID)
	if err != nil {
		t.Fatalf("reading player: %v", err)
	}
	if got.Status != store.StatusBidding || got.CurrentBid != 0 || got.BiddingTeam != nil {
		t.Errorf("re-listed player = %s/%d/%v, want bidding/0/nil",
			got.Status, got.CurrentBid, got.BiddingTeam)
	}
}
