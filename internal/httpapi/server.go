// Package httpapi exposes the auction core to clients: JSON command
// endpoints for the transaction core and catalog, login endpoints for the
// session resolver, and a server-sent-events stream fed by the live hub.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/auctionarena/auctiond/internal/auction"
	"github.com/auctionarena/auctiond/internal/catalog"
	"github.com/auctionarena/auctiond/internal/live"
	"github.com/auctionarena/auctiond/internal/session"
	"github.com/auctionarena/auctiond/internal/store"
)

// recentBidLimit caps the unfiltered history view; per-player queries use
// the tighter player limit. Client-supplied limits are clamped to
// maxBidLimit so one request cannot drag the whole table.
const (
	recentBidLimit = 20
	playerBidLimit = 10
	maxBidLimit    = 100
)

// Server wires the HTTP routes to the core components.
type Server struct {
	engine   *auction.Engine
	catalog  *catalog.Manager
	resolver *session.Resolver
	repos    *store.Repositories
	hub      *live.Hub
	logger   *slog.Logger
}

// New returns a Server ready to register its routes.
func New(engine *auction.Engine, cat *catalog.Manager, resolver *session.Resolver, repos *store.Repositories, hub *live.Hub, logger *slog.Logger) *Server {
	return &Server{
		engine:   engine,
		catalog:  cat,
		resolver: resolver,
		repos:    repos,
		hub:      hub,
		logger:   logger,
	}
}

// Register attaches all API routes to the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auction/start", s.handleStart)
	mux.HandleFunc("POST /api/auction/bid", s.handleBid)
	mux.HandleFunc("POST /api/auction/sold", s.handleSold)
	mux.HandleFunc("POST /api/auction/unsold", s.handleUnsold)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("POST /api/login/admin", s.handleAdminLogin)
	mux.HandleFunc("POST /api/login/owner", s.handleOwnerLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/bids", s.handleBids)
	mux.HandleFunc("GET /api/events", s.handleEvents)
}

type playerRequest struct {
	PlayerID string `json:"playerId"`
}

type bidRequest struct {
	PlayerID string `json:"playerId"`
	TeamID   string `json:"teamId"`
	Amount   int    `json:"amount"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type logoutRequest struct {
	Role string `json:"role"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.finish(w, r, s.engine.StartAuction(r.Context(), req.PlayerID))
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	var req bidRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.finish(w, r, s.engine.PlaceBid(r.Context(), req.PlayerID, req.TeamID, req.Amount))
}

func (s *Server) handleSold(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.finish(w, r, s.engine.MarkSold(r.Context(), req.PlayerID))
}

func (s *Server) handleUnsold(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.finish(w, r, s.engine.MarkUnsold(r.Context(), req.PlayerID))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.finish(w, r, s.engine.ResetAll(r.Context()))
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.resolver.SignInAsAdmin(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

func (s *Server) handleOwnerLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.resolver.SignInAsOwner(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.resolver.SignOut(req.Role)
	w.WriteHeader(http.StatusNoContent)
}

// State is the full snapshot served to a client before it follows the event
// stream.
type State struct {
	Players    []store.Player         `json:"players"`
	Teams      []store.Team           `json:"teams"`
	Owners     []store.Owner          `json:"owners"`
	Settings   *store.AuctionSettings `json:"settings"`
	BidHistory []store.BidEntry       `json:"bidHistory"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) snapshot(ctx context.Context) (*State, error) {
	state := &State{}
	var err error
	if state.Players, err = s.repos.Players.List(ctx); err != nil {
		return nil, err
	}
	if state.Teams, err = s.repos.Teams.List(ctx); err != nil {
		return nil, err
	}
	if state.Owners, err = s.repos.Owners.List(ctx); err != nil {
		return nil, err
	}
	state.Settings, err = s.repos.Settings.Get(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if state.BidHistory, err = s.repos.Bids.ListRecent(ctx, recentBidLimit); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *Server) handleBids(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("playerId")

	var (
		entries []store.BidEntry
		err     error
	)
	if playerID != "" {
		entries, err = s.repos.Bids.ListForPlayer(r.Context(), playerID, playerBidLimit)
	} else {
		limit := recentBidLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, convErr := strconv.Atoi(raw); convErr == nil && n > 0 {
				limit = min(n, maxBidLimit)
			}
		}
		entries, err = s.repos.Bids.ListRecent(r.Context(), limit)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleEvents streams a snapshot followed by live change events over SSE.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var topics []live.Topic
	if raw := r.URL.Query().Get("topics"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			topics = append(topics, live.Topic(strings.TrimSpace(t)))
		}
	}

	ch := s.hub.Subscribe(topics...)
	defer s.hub.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Initial value first, then the change stream.
	state, err := s.snapshot(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "snapshot for event stream failed", slog.Any("error", err))
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}
	writeSSE(w, "snapshot", state)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			writeSSE(w, "change", ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) finish(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps taxonomy errors to HTTP statuses, keeping each message
// distinct enough for the client to show as-is.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, auction.ErrAlreadyActive),
		errors.Is(err, auction.ErrNotBidding),
		errors.Is(err, auction.ErrBidTooLow),
		errors.Is(err, auction.ErrSelfOutbid),
		errors.Is(err, auction.ErrInsufficientBudget),
		errors.Is(err, auction.ErrNoBid),
		errors.Is(err, auction.ErrRosterFull),
		errors.Is(err, catalog.ErrPlayerNotDeletable),
		errors.Is(err, catalog.ErrTeamNotEmpty):
		status = http.StatusConflict
	case errors.Is(err, session.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	}

	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
