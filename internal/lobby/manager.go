package lobby

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/empiretcg/empire-server-go/internal/apperrors"
	"github.com/empiretcg/empire-server-go/internal/config"
	"github.com/empiretcg/empire-server-go/internal/deck"
	"github.com/empiretcg/empire-server-go/internal/game"
	"github.com/empiretcg/empire-server-go/internal/game/state"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Limits bound the settings a host may choose.
type Limits struct {
	MaxSpectators     int
	DefaultSpectators int
	MinTimeLimit      int
	MaxTimeLimit      int
	DefaultTimeLimit  int
	Retention         time.Duration
}

// DefaultLimits returns the standard limits.
func DefaultLimits() Limits {
	return Limits{
		MaxSpectators:     50,
		DefaultSpectators: 10,
		MinTimeLimit:      5,
		MaxTimeLimit:      120,
		DefaultTimeLimit:  30,
		Retention:         2 * time.Hour,
	}
}

// LimitsFromConfig converts the loaded lobby settings.
func LimitsFromConfig(c config.LobbyConfig) Limits {
	l := DefaultLimits()
	l.MaxSpectators = c.MaxSpectators
	l.DefaultSpectators = c.DefaultSpectators
	if c.MinTimeLimit > 0 {
		l.MinTimeLimit = c.MinTimeLimit
	}
	if c.MaxTimeLimit > 0 {
		l.MaxTimeLimit = c.MaxTimeLimit
	}
	if c.DefaultTimeLimit > 0 {
		l.DefaultTimeLimit = c.DefaultTimeLimit
	}
	if c.Retention > 0 {
		l.Retention = c.Retention
	}
	return l
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DeckValidator reports what is wrong with a user's deck.
type DeckValidator interface {
	Validate(ctx context.Context, userID, deckName string) []string
}

// MatchStarter creates the match when a lobby starts. The engine
// implements it.
type MatchStarter interface {
	Initialize(ctx context.Context, matchID, player1, player2 string, deck1, deck2 deck.Spec) (*state.MatchState, error)
}

// matchUnloader is implemented by starters that keep matches in memory.
// Unload must not be called with a lobby lock held: finishing a match
// reports back to the manager.
type matchUnloader interface {
	Unload(matchID string)
}

// Manager owns every lobby of the process.
type Manager struct {
	logger    *zap.Logger
	limits    Limits
	validator DeckValidator
	decks     deck.Provider
	starter   MatchStarter
	clock     func() time.Time

	mu      sync.RWMutex
	lobbies map[string]*session
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) { m.clock = clock }
}

// WithLimits replaces DefaultLimits.
func WithLimits(l Limits) ManagerOption {
	return func(m *Manager) { m.limits = l }
}

// NewManager creates a lobby manager. decks resolves deck names when a
// lobby starts, validator checks them and starter creates the match.
func NewManager(logger *zap.Logger, decks deck.Provider, validator DeckValidator, starter MatchStarter, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger:    logger,
		limits:    DefaultLimits(),
		validator: validator,
		decks:     decks,
		starter:   starter,
		clock:     time.Now,
		lobbies:   make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) get(op, lobbyID string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.lobbies[lobbyID]
	if !ok {
		return nil, apperrors.NotFound(op, "lobby %s not found", lobbyID)
	}
	return s, nil
}

// with runs fn on the locked lobby and returns a snapshot taken after fn.
func (m *Manager) with(op, lobbyID string, fn func(l *Lobby) error) (Lobby, error) {
	s, err := m.get(op, lobbyID)
	if err != nil {
		return Lobby{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(&s.lobby); err != nil {
		return Lobby{}, err
	}
	return s.lobby.clone(), nil
}

func (m *Manager) normalize(settings Settings) Settings {
	if settings.MaxSpectators == 0 && settings.AllowSpectators {
		settings.MaxSpectators = m.limits.DefaultSpectators
	}
	settings.MaxSpectators = clamp(settings.MaxSpectators, 0, m.limits.MaxSpectators)
	if settings.TimeLimitMinutes == 0 {
		settings.TimeLimitMinutes = m.limits.DefaultTimeLimit
	}
	settings.TimeLimitMinutes = clamp(settings.TimeLimitMinutes, m.limits.MinTimeLimit, m.limits.MaxTimeLimit)
	return settings
}

// CreateLobby opens a lobby with the host in the first seat.
func (m *Manager) CreateLobby(name, hostID, hostName string, settings Settings) (Lobby, error) {
	const op = "CreateLobby"
	name = strings.TrimSpace(name)
	if name == "" {
		return Lobby{}, apperrors.Validation(op, "lobby name is required")
	}
	if hostID == "" {
		return Lobby{}, apperrors.Validation(op, "host id is required")
	}

	l := Lobby{
		ID:         uuid.NewString(),
		Name:       name,
		HostID:     hostID,
		HostName:   hostName,
		Spectators: []Spectator{},
		Status:     StatusWaitingForPlayers,
		Settings:   m.normalize(settings),
		CreatedAt:  m.clock(),
	}
	l.Slots[0] = PlayerSlot{UserID: hostID, UserName: hostName}

	m.mu.Lock()
	m.lobbies[l.ID] = &session{lobby: l}
	m.mu.Unlock()

	m.logger.Info("lobby created",
		zap.String("lobby_id", l.ID),
		zap.String("name", name),
		zap.String("host_id", hostID),
		zap.Int("max_spectators", l.Settings.MaxSpectators),
		zap.Int("time_limit", l.Settings.TimeLimitMinutes))
	return l.clone(), nil
}

// GetLobby returns a snapshot of one lobby.
func (m *Manager) GetLobby(lobbyID string) (Lobby, error) {
	return m.with("GetLobby", lobbyID, func(*Lobby) error { return nil })
}

// ListActive returns every lobby that is not cancelled or completed,
// oldest first.
func (m *Manager) ListActive() []Lobby {
	m.mu.RLock()
	sessions := make([]*session, 0, len(m.lobbies))
	for _, s := range m.lobbies {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Lobby, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		if !s.lobby.Status.closed() {
			out = append(out, s.lobby.clone())
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// JoinLobby seats userID. preferredSlot is 1-based; zero or an occupied
// preference takes the first free seat.
func (m *Manager) JoinLobby(lobbyID, userID, userName, deckName string, preferredSlot int) (Lobby, error) {
	const op = "JoinLobby"
	if userID == "" {
		return Lobby{}, apperrors.Validation(op, "user id is required")
	}
	if preferredSlot < 0 || preferredSlot > SlotCount {
		return Lobby{}, apperrors.Validation(op, "slot must be between 1 and %d", SlotCount)
	}
	return m.with(op, lobbyID, func(l *Lobby) error {
		if l.Status != StatusWaitingForPlayers {
			return apperrors.Conflict(op, "lobby is %s", l.Status)
		}
		if l.IsParticipant(userID) {
			return apperrors.Conflict(op, "%s is already in the lobby", userID)
		}
		seat := -1
		if preferredSlot > 0 && !l.Slots[preferredSlot-1].Occupied() {
			seat = preferredSlot - 1
		} else {
			for i, s := range l.Slots {
				if !s.Occupied() {
					seat = i
					break
				}
			}
		}
		if seat < 0 {
			return apperrors.Conflict(op, "lobby is full")
		}
		l.Slots[seat] = PlayerSlot{
			UserID:   userID,
			UserName: userName,
			Deck:     deck.Descriptor{Name: strings.TrimSpace(deckName), OwnerID: userID},
		}
		m.recompute(l, false)
		m.logger.Info("player joined lobby",
			zap.String("lobby_id", l.ID),
			zap.String("user_id", userID),
			zap.Int("slot", seat+1))
		return nil
	})
}

// JoinAsSpectator adds userID to the spectator list.
func (m *Manager) JoinAsSpectator(lobbyID, userID, userName string) (Lobby, error) {
	const op = "JoinAsSpectator"
	if userID == "" {
		return Lobby{}, apperrors.Validation(op, "user id is required")
	}
	return m.with(op, lobbyID, func(l *Lobby) error {
		if !l.Settings.AllowSpectators {
			return apperrors.Validation(op, "this lobby does not allow spectators")
		}
		if l.Status.closed() {
			return apperrors.Conflict(op, "lobby is %s", l.Status)
		}
		if l.IsParticipant(userID) {
			return apperrors.Conflict(op, "%s is already in the lobby", userID)
		}
		if len(l.Spectators) >= l.Settings.MaxSpectators {
			return apperrors.Conflict(op, "spectator limit of %d reached", l.Settings.MaxSpectators)
		}
		l.Spectators = append(l.Spectators, Spectator{UserID: userID, UserName: userName, JoinedAt: m.clock()})
		return nil
	})
}

// LeaveLobby removes userID from the lobby. The host leaving cancels it.
func (m *Manager) LeaveLobby(lobbyID, userID string) (Lobby, error) {
	const op = "LeaveLobby"
	started := false
	l, err := m.with(op, lobbyID, func(l *Lobby) error {
		seat, seated := l.SlotOf(userID)
		spectator := l.spectatorIndex(userID)
		if !seated && spectator < 0 {
			return apperrors.NotFound(op, "%s is not in the lobby", userID)
		}
		if seated {
			l.Slots[seat] = PlayerSlot{}
		} else {
			l.Spectators = append(l.Spectators[:spectator], l.Spectators[spectator+1:]...)
		}

		if userID == l.HostID && l.Status != StatusCompleted {
			started = l.Status == StatusInProgress
			l.Status = StatusCancelled
			m.logger.Info("host left, lobby cancelled",
				zap.String("lobby_id", l.ID),
				zap.String("host_id", userID))
			return nil
		}
		m.recompute(l, false)
		return nil
	})
	if err == nil && started {
		m.unloadMatches(l.ID)
	}
	return l, err
}

// SetReady marks a seated player ready or not ready.
func (m *Manager) SetReady(ctx context.Context, lobbyID, userID string, ready bool) (Lobby, error) {
	const op = "SetReady"
	return m.with(op, lobbyID, func(l *Lobby) error {
		seat, ok := l.SlotOf(userID)
		if !ok {
			return apperrors.Validation(op, "%s does not hold a seat", userID)
		}
		if !l.Status.open() {
			return apperrors.Conflict(op, "lobby is %s", l.Status)
		}
		l.Slots[seat].Ready = ready
		m.recompute(l, m.decksValid(ctx, l))
		return nil
	})
}

// UpdateDeck changes the deck a seated player brings.
func (m *Manager) UpdateDeck(ctx context.Context, lobbyID, userID, deckName string) (Lobby, error) {
	const op = "UpdateDeck"
	deckName = strings.TrimSpace(deckName)
	if deckName == "" {
		return Lobby{}, apperrors.Validation(op, "deck name is required")
	}
	return m.with(op, lobbyID, func(l *Lobby) error {
		seat, ok := l.SlotOf(userID)
		if !ok {
			return apperrors.Validation(op, "%s does not hold a seat", userID)
		}
		if !l.Status.open() {
			return apperrors.Conflict(op, "lobby is %s", l.Status)
		}
		l.Slots[seat].Deck = deck.Descriptor{Name: deckName, OwnerID: userID}
		m.recompute(l, m.decksValid(ctx, l))
		return nil
	})
}

// ValidateDeck returns the problems with a user's deck, empty when it may
// be played.
func (m *Manager) ValidateDeck(ctx context.Context, userID, deckName string) []string {
	if m.validator == nil {
		return nil
	}
	return m.validator.Validate(ctx, userID, deckName)
}

// decksValid reports whether both seated decks pass validation, or true
// when the lobby does not require it.
func (m *Manager) decksValid(ctx context.Context, l *Lobby) bool {
	if !l.Settings.RequireDeckValidation {
		return true
	}
	for _, s := range l.Slots {
		if !s.Occupied() {
			return false
		}
		if problems := m.ValidateDeck(ctx, s.UserID, s.Deck.Name); len(problems) > 0 {
			return false
		}
	}
	return true
}

// recompute moves an open lobby between WaitingForPlayers and
// ReadyToStart. Other states are left alone.
func (m *Manager) recompute(l *Lobby, decksValid bool) {
	if !l.Status.open() {
		return
	}
	next := StatusWaitingForPlayers
	if l.AllReady() && decksValid {
		next = StatusReadyToStart
	}
	if next != l.Status {
		m.logger.Debug("lobby status changed",
			zap.String("lobby_id", l.ID),
			zap.Stringer("from", l.Status),
			zap.Stringer("to", next))
	}
	l.Status = next
}

// CanStart reports whether the host could start the lobby now.
func (m *Manager) CanStart(ctx context.Context, lobbyID string) (bool, error) {
	var can bool
	_, err := m.with("CanStart", lobbyID, func(l *Lobby) error {
		can = l.Status.open() && l.AllReady() && m.decksValid(ctx, l)
		return nil
	})
	return can, err
}

// StartGame starts the match for a ready lobby. Only the host may start.
// The match id is the lobby id.
func (m *Manager) StartGame(ctx context.Context, lobbyID, hostID string) (Lobby, error) {
	const op = "StartGame"
	return m.with(op, lobbyID, func(l *Lobby) error {
		if l.HostID != hostID {
			return apperrors.Validation(op, "only the host can start the game")
		}
		if !l.Status.open() {
			return apperrors.Conflict(op, "lobby is %s", l.Status)
		}
		if !l.AllReady() {
			return apperrors.Validation(op, "both players must be seated and ready")
		}
		if !m.decksValid(ctx, l) {
			return apperrors.Validation(op, "decks failed validation")
		}
		if m.starter == nil || m.decks == nil {
			return apperrors.Validation(op, "matches cannot be started on this server")
		}

		var specs [SlotCount]deck.Spec
		for i, s := range l.Slots {
			if s.Deck.Name == "" {
				return apperrors.Validation(op, "%s has not chosen a deck", s.UserName)
			}
			spec, err := m.decks.Deck(ctx, s.UserID, s.Deck.Name)
			if err != nil {
				return apperrors.Validation(op, "deck %q for %s: %s", s.Deck.Name, s.UserName, apperrors.Message(err))
			}
			specs[i] = spec
		}

		if _, err := m.starter.Initialize(ctx, l.ID, l.Slots[0].UserID, l.Slots[1].UserID, specs[0], specs[1]); err != nil {
			return err
		}
		now := m.clock()
		l.Status = StatusInProgress
		l.StartedAt = &now
		m.logger.Info("lobby started",
			zap.String("lobby_id", l.ID),
			zap.String("player1", l.Slots[0].UserID),
			zap.String("player2", l.Slots[1].UserID))
		return nil
	})
}

// CancelLobby cancels the lobby. Only the host may cancel.
func (m *Manager) CancelLobby(lobbyID, hostID string) (Lobby, error) {
	const op = "CancelLobby"
	started := false
	l, err := m.with(op, lobbyID, func(l *Lobby) error {
		if l.HostID != hostID {
			return apperrors.Validation(op, "only the host can cancel the lobby")
		}
		started = l.Status == StatusInProgress
		l.Status = StatusCancelled
		m.logger.Info("lobby cancelled", zap.String("lobby_id", l.ID))
		return nil
	})
	if err == nil && started {
		m.unloadMatches(l.ID)
	}
	return l, err
}

// unloadMatches drops the in-memory matches of lobbies that will not be
// played any further.
func (m *Manager) unloadMatches(ids ...string) {
	u, ok := m.starter.(matchUnloader)
	if !ok {
		return
	}
	for _, id := range ids {
		u.Unload(id)
	}
}

// CompleteLobby marks a started lobby as finished.
func (m *Manager) CompleteLobby(lobbyID string) (Lobby, error) {
	const op = "CompleteLobby"
	return m.with(op, lobbyID, func(l *Lobby) error {
		if l.Status != StatusInProgress {
			return apperrors.Conflict(op, "lobby is %s", l.Status)
		}
		l.Status = StatusCompleted
		m.logger.Info("lobby completed", zap.String("lobby_id", l.ID))
		return nil
	})
}

// Broadcast implements game.Notifier: a finished match completes its
// lobby.
func (m *Manager) Broadcast(matchID, kind string, _ any) {
	if kind != game.NotifyGameOver {
		return
	}
	if _, err := m.CompleteLobby(matchID); err != nil {
		m.logger.Warn("lobby not completed",
			zap.String("lobby_id", matchID),
			zap.Error(err))
	}
}

// CleanupExpired removes cancelled and completed lobbies created more than
// the retention window before now. It returns how many were removed.
func (m *Manager) CleanupExpired(now time.Time) int {
	cutoff := now.Add(-m.limits.Retention)

	var removed []string
	m.mu.Lock()
	for id, s := range m.lobbies {
		s.mu.Lock()
		expired := s.lobby.Status.closed() && s.lobby.CreatedAt.Before(cutoff)
		s.mu.Unlock()
		if expired {
			delete(m.lobbies, id)
			removed = append(removed, id)
		}
	}
	m.mu.Unlock()

	if len(removed) > 0 {
		m.unloadMatches(removed...)
		m.logger.Info("expired lobbies removed", zap.Int("count", len(removed)))
	}
	return len(removed)
}

// RunCleanup calls CleanupExpired every interval until ctx is done.
func (m *Manager) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupExpired(m.clock())
		}
	}
}

// Count returns the number of lobbies held, closed ones included.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.lobbies)
}
