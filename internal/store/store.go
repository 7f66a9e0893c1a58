package store

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by repositories when a record does not exist.
// Drivers wrap their native miss (sql.ErrNoRows etc.) into this sentinel so
// callers can classify with errors.Is.
var ErrNotFound = errors.New("record not found")

// SettingsID is the fixed key of the singleton auction settings document.
const SettingsID = "current"

// Player roles.
const (
	RoleBatsman      = "Batsman"
	RoleBowler       = "Bowler"
	RoleAllRounder   = "All-rounder"
	RoleWicketKeeper = "Wicket-keeper"
)

// Player auction statuses.
const (
	StatusUnsold  = "unsold"
	StatusBidding = "bidding"
	StatusSold    = "sold"
)

// Bid history entry types. An empty type is read as a regular bid.
const (
	BidTypeBid  = "bid"
	BidTypeSold = "sold"
)

// Player is an auctionable unit.
type Player struct {
	ID         string `db:"id"`
	Name       string `db:"name"`
	Role       string `db:"role"`
	BasePrice  int    `db:"base_price"`
	CurrentBid int    `db:"current_bid"`
	Status     string `db:"status"`
	// BiddingTeam is the team currently leading the bid, nil outside bidding.
	BiddingTeam *string `db:"bidding_team"`
	// SoldTo is set only when the player is sold.
	SoldTo     *string   `db:"sold_to"`
	ImageURL   *string   `db:"image_url"`
	Speciality string    `db:"speciality"`
	Age        int       `db:"age"`
	Matches    int       `db:"matches"`
	CreatedAt  time.Time `db:"created_at"`
}

// Team is a bidding participant's wallet and roster.
type Team struct {
	ID              string    `db:"id"`
	Name            string    `db:"name"`
	OwnerID         string    `db:"owner_id"`
	OwnerName       string    `db:"owner_name"`
	TotalBudget     int       `db:"total_budget"`
	RemainingBudget int       `db:"remaining_budget"`
	Players         []string  `db:"players"`
	MaxPlayers      int       `db:"max_players"`
	CreatedAt       time.Time `db:"created_at"`
}

// Owner is a login identity, correlated 1:1 to a Team via Team.OwnerID.
type Owner struct {
	ID        string    `db:"id"`
	Username  string    `db:"username"`
	Password  string    `db:"password"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

// AuctionSettings is the singleton auction state, keyed by SettingsID.
type AuctionSettings struct {
	ID            string     `db:"id"`
	IsActive      bool       `db:"is_active"`
	CurrentPlayer *string    `db:"current_player"`
	BidIncrement  int        `db:"bid_increment"`
	StartTime     *time.Time `db:"start_time"`
	EndTime       *time.Time `db:"end_time"`
}

// BidEntry is one append-only bid history record. Names are denormalized so
// history stays readable after the referenced records change or disappear.
type BidEntry struct {
	ID         string    `db:"id"`
	PlayerID   string    `db:"player_id"`
	PlayerName string    `db:"player_name"`
	TeamID     string    `db:"team_id"`
	TeamName   string    `db:"team_name"`
	BidAmount  int       `db:"bid_amount"`
	Type       string    `db:"type"`
	Timestamp  time.Time `db:"timestamp"`
}

// DefaultSettings returns the settings singleton in its reset state.
func DefaultSettings(bidIncrement int) *AuctionSettings {
	return &AuctionSettings{
		ID:           SettingsID,
		IsActive:     false,
		BidIncrement: bidIncrement,
	}
}

// Validate checks the player invariants enforced on every write.
func (p *Player) Validate() error {
	if p.Name == "" {
		return errors.New("player name is required")
	}
	switch p.Role {
	case RoleBatsman, RoleBowler, RoleAllRounder, RoleWicketKeeper:
	default:
		return fmt.Errorf("invalid player role %q", p.Role)
	}
	switch p.Status {
	case StatusUnsold, StatusBidding, StatusSold:
	default:
		return fmt.Errorf("invalid player status %q", p.Status)
	}
	if p.BasePrice < 0 {
		return fmt.Errorf("base price must be >= 0, got %d", p.BasePrice)
	}
	if p.CurrentBid < 0 {
		return fmt.Errorf("current bid must be >= 0, got %d", p.CurrentBid)
	}
	if p.CurrentBid > 0 && p.BiddingTeam == nil {
		return errors.New("current bid set without a bidding team")
	}
	if p.Status == StatusSold && p.SoldTo == nil {
		return errors.New("sold player must reference the buying team")
	}
	return nil
}

// Validate checks the team invariants enforced on every write.
func (t *Team) Validate() error {
	if t.Name == "" {
		return errors.New("team name is required")
	}
	if t.TotalBudget < 0 {
		return fmt.Errorf("total budget must be >= 0, got %d", t.TotalBudget)
	}
	if t.RemainingBudget < 0 || t.RemainingBudget > t.TotalBudget {
		return fmt.Errorf("remaining budget %d outside [0, %d]", t.RemainingBudget, t.TotalBudget)
	}
	if t.MaxPlayers <= 0 {
		return fmt.Errorf("max players must be > 0, got %d", t.MaxPlayers)
	}
	if len(t.Players) > t.MaxPlayers {
		return fmt.Errorf("roster size %d exceeds cap %d", len(t.Players), t.MaxPlayers)
	}
	return nil
}

// Validate checks the owner invariants enforced on every write.
func (o *Owner) Validate() error {
	if o.Username == "" {
		return errors.New("owner username is required")
	}
	if o.Password == "" {
		return errors.New("owner password is required")
	}
	if o.Name == "" {
		return errors.New("owner name is required")
	}
	return nil
}

// Validate checks the settings invariants enforced on every write.
func (s *AuctionSettings) Validate() error {
	if s.ID != SettingsID {
		return fmt.Errorf("settings id must be %q, got %q", SettingsID, s.ID)
	}
	if s.BidIncrement <= 0 {
		return fmt.Errorf("bid increment must be > 0, got %d", s.BidIncrement)
	}
	return nil
}

// Validate checks the bid entry invariants enforced on append.
func (b *BidEntry) Validate() error {
	if b.PlayerID == "" || b.TeamID == "" {
		return errors.New("bid entry requires player and team references")
	}
	if b.BidAmount < 0 {
		return fmt.Errorf("bid amount must be >= 0, got %d", b.BidAmount)
	}
	switch b.Type {
	case "", BidTypeBid, BidTypeSold:
	default:
		return fmt.Errorf("invalid bid entry type %q", b.Type)
	}
	return nil
}
