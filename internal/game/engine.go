package game

import (
	"context"
	"errors"
	"hash/fnv"
	"io/fs"
	"math/rand"
	"sync"
	"time"

	"github.com/empiretcg/empire-server-go/internal/apperrors"
	"github.com/empiretcg/empire-server-go/internal/deck"
	"github.com/empiretcg/empire-server-go/internal/game/effects"
	"github.com/empiretcg/empire-server-go/internal/game/rules"
	"github.com/empiretcg/empire-server-go/internal/game/state"
	"github.com/empiretcg/empire-server-go/internal/game/watchers"
	"github.com/empiretcg/empire-server-go/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/empiretcg/empire-server-go/internal/game"

// matchEntry serializes every read-modify-write of one match. state is nil
// until the match has been created or loaded. emitMu is taken before mu is
// released after a commit and held while that version is announced, so
// notifications leave in version order.
type matchEntry struct {
	mu     sync.Mutex
	emitMu sync.Mutex
	state  *state.MatchState
}

// Engine owns the authoritative state of every active match. All mutation
// goes through SubmitAction, which works on a copy and commits it only
// after the store has accepted it.
type Engine struct {
	logger    *zap.Logger
	cfg       Config
	catalog   deck.Catalog
	store     repository.Store
	resolver  *effects.Resolver
	combat    CombatResolver
	replenish ReplenishmentRule
	notifier  Notifier
	replays   *ReplayRecorder
	events    *rules.EventBus
	tracer    trace.Tracer
	clock     func() time.Time
	seed      int64

	mu      sync.Mutex
	matches map[string]*matchEntry
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the snapshot store. The default is an in-memory store.
func WithStore(s repository.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithResolver replaces the effect resolver built from the config.
func WithResolver(r *effects.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithCombatResolver sets the Battle phase hook.
func WithCombatResolver(c CombatResolver) Option {
	return func(e *Engine) { e.combat = c }
}

// WithReplenishmentRule overrides the configured fixed draw counts.
func WithReplenishmentRule(r ReplenishmentRule) Option {
	return func(e *Engine) { e.replenish = r }
}

// WithNotifier sets where match notifications go.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithReplayRecorder records every committed state.
func WithReplayRecorder(r *ReplayRecorder) Option {
	return func(e *Engine) { e.replays = r }
}

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine creates an engine that builds decks from catalog.
func NewEngine(logger *zap.Logger, catalog deck.Catalog, cfg Config, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		logger:    logger,
		cfg:       cfg,
		catalog:   catalog,
		combat:    NoCombat{},
		replenish: cfg.Replenish,
		notifier:  nopNotifier{},
		events:    rules.NewEventBus(),
		clock:     time.Now,
		matches:   make(map[string]*matchEntry),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = repository.NewMemoryStore()
	}
	if e.resolver == nil {
		e.resolver = effects.NewResolver(logger,
			effects.WithEmptyDeckPolicy(cfg.EmptyDeckPolicy),
			effects.WithMaxMorale(cfg.StartingMorale),
		)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	e.seed = cfg.ShuffleSeed
	if e.seed == 0 {
		e.seed = time.Now().UnixNano()
	}
	return e
}

// SetNotifier replaces the notifier. Used when the notifier is built after
// the engine, as the sync hub is.
func (e *Engine) SetNotifier(n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n == nil {
		n = nopNotifier{}
	}
	e.notifier = n
}

// Events returns the bus committed rule events are published on.
func (e *Engine) Events() *rules.EventBus {
	return e.events
}

// Resolver returns the effect resolver, for registering card hooks.
func (e *Engine) Resolver() *effects.Resolver {
	return e.resolver
}

func (e *Engine) emit(matchID string, notes []notification) {
	if len(notes) == 0 {
		return
	}
	e.mu.Lock()
	n := e.notifier
	e.mu.Unlock()
	for _, note := range notes {
		n.Broadcast(matchID, note.kind, note.payload)
	}
}

// matchRand returns a generator that is deterministic for a given seed,
// match and version.
func (e *Engine) matchRand(ms *state.MatchState) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(ms.ID))
	return rand.New(rand.NewSource(e.seed ^ int64(h.Sum64()) ^ ms.Version))
}

// acquire returns the locked entry for matchID, loading it from the store
// on first use. The caller must unlock it.
func (e *Engine) acquire(ctx context.Context, matchID string) (*matchEntry, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.mu.Lock()
		entry, ok := e.matches[matchID]
		if !ok {
			entry = &matchEntry{}
			e.matches[matchID] = entry
		}
		e.mu.Unlock()

		entry.mu.Lock()
		if !e.registered(matchID, entry) {
			// A failed load, a failed Initialize or Unload dropped the entry
			// while we waited for it.
			entry.mu.Unlock()
			continue
		}
		if entry.state != nil {
			return entry, nil
		}
		ms, err := e.store.LoadMatch(ctx, matchID)
		if err != nil {
			e.mu.Lock()
			if e.matches[matchID] == entry {
				delete(e.matches, matchID)
			}
			e.mu.Unlock()
			entry.mu.Unlock()
			return nil, err
		}
		entry.state = ms
		e.logger.Debug("match loaded from store",
			zap.String("match_id", matchID),
			zap.Int64("version", ms.Version))
		return entry, nil
	}
}

func (e *Engine) registered(matchID string, entry *matchEntry) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.matches[matchID] == entry
}

func (e *Engine) startSpan(ctx context.Context, name, matchID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("match.id", matchID))
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// persist saves ms. Unclassified store errors are reported as persistence
// failures.
func (e *Engine) persist(ctx context.Context, ms *state.MatchState) error {
	if err := e.store.SaveMatch(ctx, ms); err != nil {
		if apperrors.KindOf(err) == apperrors.KindInternal {
			return apperrors.Persistence("SaveMatch", err)
		}
		return err
	}
	return nil
}

// Initialize creates a match between two players from their deck lists:
// decks are expanded and shuffled, opening hands drawn, and player1 starts
// round 1 of the Strategy phase with initiative and priority.
func (e *Engine) Initialize(ctx context.Context, matchID, player1, player2 string, deck1, deck2 deck.Spec) (_ *state.MatchState, err error) {
	const op = "Initialize"
	ctx, span := e.startSpan(ctx, "game.Initialize", matchID)
	defer func() { endSpan(span, err) }()

	switch {
	case matchID == "":
		return nil, apperrors.Validation(op, "match id is required")
	case player1 == "" || player2 == "":
		return nil, apperrors.Validation(op, "two players are required")
	case player1 == player2:
		return nil, apperrors.Validation(op, "a player cannot play against themselves")
	}

	e.mu.Lock()
	if _, exists := e.matches[matchID]; exists {
		e.mu.Unlock()
		return nil, apperrors.Conflict(op, "match %s already exists", matchID)
	}
	entry := &matchEntry{}
	entry.mu.Lock()
	e.matches[matchID] = entry
	e.mu.Unlock()

	ms, err := e.buildMatch(ctx, matchID, player1, player2, deck1, deck2)
	if err == nil {
		err = e.persist(ctx, ms)
	}
	if err != nil {
		e.mu.Lock()
		delete(e.matches, matchID)
		e.mu.Unlock()
		entry.mu.Unlock()
		return nil, err
	}
	entry.state = ms
	snapshot := ms.Clone()
	if e.replays != nil {
		e.replays.StartRecording(matchID)
		e.replays.RecordState(ms)
	}
	entry.emitMu.Lock()
	defer entry.emitMu.Unlock()
	entry.mu.Unlock()

	e.logger.Info("match initialized",
		zap.String("match_id", matchID),
		zap.String("player1", player1),
		zap.String("player2", player2),
		zap.Int("army_deck", len(ms.Zones[player1].ArmyDeck)),
		zap.Int("civic_deck", len(ms.Zones[player1].CivicDeck)))

	evt := rules.NewEvent(rules.EventMatchStarted, matchID, player1, "")
	evt.Timestamp = ms.CreatedAt
	e.events.Publish(evt)
	e.emit(matchID, []notification{{kind: NotifyMatchStarted, payload: MatchStarted{
		MatchID:          matchID,
		Players:          ms.Players,
		InitiativeHolder: ms.InitiativeHolder,
		Round:            ms.Round,
		Phase:            ms.Phase.String(),
	}}})
	return snapshot, nil
}

func (e *Engine) buildMatch(ctx context.Context, matchID, player1, player2 string, deck1, deck2 deck.Spec) (*state.MatchState, error) {
	const op = "Initialize"
	if _, err := e.store.LoadMatch(ctx, matchID); err == nil {
		return nil, apperrors.Conflict(op, "match %s already exists", matchID)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	now := e.clock()
	ms := state.NewMatchState(matchID, player1, player2, e.cfg.StartingMorale, now)
	ms.Version = 1
	rng := e.matchRand(ms)

	for i, spec := range []deck.Spec{deck1, deck2} {
		player := ms.Players[i]
		army, civic, err := deck.Expand(spec, e.catalog, player)
		if err != nil {
			return nil, apperrors.Validation(op, "%v", err)
		}
		zs := ms.Zones[player]
		for kind, cards := range map[state.CardKind][]state.CardInstance{state.KindArmy: army, state.KindCivic: civic} {
			// Order within a deck comes from the shuffle below.
			ids := make([]string, len(cards))
			for j, card := range cards {
				ms.Cards[card.ID] = card
				ids[j] = card.ID
			}
			if err := zs.Set(kind.DeckZone(), ids); err != nil {
				return nil, err
			}
		}
		if e.cfg.StartingTier > 0 {
			ms.Tier[player] = e.cfg.StartingTier
		}
	}

	// Shuffle in a fixed order so a seed reproduces the same deal.
	for _, player := range ms.Players {
		zs := ms.Zones[player]
		for _, kind := range []state.CardKind{state.KindArmy, state.KindCivic} {
			ids := zs.Cards(kind.DeckZone())
			rng.Shuffle(len(ids), func(a, b int) { ids[a], ids[b] = ids[b], ids[a] })
			if err := zs.Set(kind.DeckZone(), ids); err != nil {
				return nil, err
			}
		}
		drawOpening(zs, state.KindArmy, e.cfg.OpeningArmyHand)
		drawOpening(zs, state.KindCivic, e.cfg.OpeningCivicHand)
	}

	if err := ms.CheckInvariants(); err != nil {
		return nil, err
	}
	return ms, nil
}

func drawOpening(zs *state.ZoneSet, kind state.CardKind, n int) {
	for i := 0; i < n; i++ {
		top, ok := zs.PopFront(kind.DeckZone())
		if !ok {
			return
		}
		_ = zs.Append(kind.HandZone(), top)
	}
}

// SubmitAction validates and applies one player action. It fails with
// NotFound for an unknown match, Validation when the match is over, when
// playerID lacks priority or when the action is illegal, Concurrency when
// the action was built for an earlier round or phase, and Persistence when
// the store rejects the new state. A failed call leaves the match as it
// was.
func (e *Engine) SubmitAction(ctx context.Context, matchID, playerID string, action Action) (_ *Result, err error) {
	ctx, span := e.startSpan(ctx, "game.SubmitAction", matchID,
		attribute.String("player.id", playerID),
		attribute.String("action.kind", string(action.Kind)))
	defer func() { endSpan(span, err) }()

	entry, err := e.acquire(ctx, matchID)
	if err != nil {
		return nil, err
	}
	res, work, events, notes, err := e.submitLocked(ctx, entry, playerID, action)
	if err != nil {
		entry.mu.Unlock()
		e.logger.Debug("action rejected",
			zap.String("match_id", matchID),
			zap.String("player_id", playerID),
			zap.String("kind", string(action.Kind)),
			zap.Error(err))
		return nil, err
	}
	if e.replays != nil {
		e.replays.RecordState(work)
	}
	entry.emitMu.Lock()
	entry.mu.Unlock()

	e.events.PublishBatch(events)
	if res.GameOver {
		e.finish(matchID)
	}
	e.emit(matchID, notes)
	entry.emitMu.Unlock()

	span.SetAttributes(attribute.Int64("match.version", res.Version))
	return res, nil
}

func (e *Engine) submitLocked(ctx context.Context, entry *matchEntry, playerID string, action Action) (*Result, *state.MatchState, []rules.Event, []notification, error) {
	const op = "SubmitAction"
	current := entry.state

	if current.IsOver() {
		return nil, nil, nil, nil, apperrors.Validation(op, "match %s is over", current.ID)
	}
	if action.ExpectedRound != nil && *action.ExpectedRound != current.Round {
		return nil, nil, nil, nil, apperrors.Concurrency(op, "action is for round %d, match is in round %d", *action.ExpectedRound, current.Round)
	}
	if action.ExpectedPhase != "" {
		phase, err := rules.ParsePhase(action.ExpectedPhase)
		if err != nil {
			return nil, nil, nil, nil, apperrors.Validation(op, "%v", err)
		}
		if phase != current.Phase {
			return nil, nil, nil, nil, apperrors.Concurrency(op, "action is for %s, match is in %s", phase, current.Phase)
		}
	}
	if !current.HasPriority(playerID) {
		return nil, nil, nil, nil, apperrors.Validation(op, "not your turn")
	}

	now := e.clock()
	work := current.Clone()
	registry := rules.NewWatcherRegistry()
	rounds := watchers.RoundWatcher(registry)
	rounds.Restore(work.RoundActions)

	res := &Result{}
	var (
		events []rules.Event
		phase  *notification
	)
	record := func(evts ...rules.Event) {
		for _, evt := range evts {
			evt.Timestamp = now
			registry.NotifyWatchers(evt)
			events = append(events, evt)
		}
	}

	move := state.GameMove{
		PlayerID:  playerID,
		MoveType:  string(action.Kind),
		CardID:    action.CardID,
		Value:     action.Value,
		Target:    action.target(),
		Timestamp: now,
	}

	if action.Kind == effects.KindPass {
		res.Move = work.AppendMove(move)
		evt := rules.NewEvent(rules.EventPriorityPassed, work.ID, playerID, "")
		evt.Action = string(effects.KindPass)
		record(evt)

		pass := work.Pass(playerID)
		if pass.Advanced {
			res.PhaseChanged = true
			phaseEvents, logs, err := e.enterPhase(ctx, work, pass, registry)
			if err != nil {
				return nil, nil, nil, nil, err
			}
			res.Effects = append(res.Effects, logs.Effects...)
			res.Drawn = append(res.Drawn, logs.Drawn...)
			record(phaseEvents...)
			note := phaseChanged(work.Phase, work.Round, work.InitiativeHolder)
			phase = &note
		}
	} else {
		value := 0
		if action.Value != nil {
			value = *action.Value
		}
		applied, err := e.resolver.Apply(work, playerID, action.CardID, action.Kind, effects.Context{
			TerritoryID:    action.TerritoryID,
			CardIDs:        action.CardIDs,
			From:           action.From,
			To:             action.To,
			DeckKind:       action.DeckKind,
			Value:          value,
			TargetPlayerID: action.TargetPlayerID,
			Rounds:         rounds,
			Rand:           e.matchRand(work),
		})
		if err != nil {
			return nil, nil, nil, nil, err
		}
		res.Effects = append(res.Effects, applied.Effects...)
		res.Triggered = append(res.Triggered, applied.Triggered...)
		res.Drawn = append(res.Drawn, applied.Drawn...)
		record(applied.Events...)

		queue := rules.NewEffectQueue()
		queue.Push(applied.Triggered...)
		_, err = queue.Drain(e.cfg.MaxTriggeredEffects, func(effect rules.TriggeredEffect) error {
			follow, err := e.resolver.ApplyTriggered(work, effect)
			if err != nil {
				return err
			}
			res.Effects = append(res.Effects, follow.Effects...)
			res.Drawn = append(res.Drawn, follow.Drawn...)
			record(follow.Events...)
			queue.Push(follow.Triggered...)
			return nil
		})
		if err != nil {
			return nil, nil, nil, nil, apperrors.Validation(op, "%v", err)
		}

		res.Move = work.AppendMove(move)
		work.RecordAction(playerID, action.Kind.ConsumesPriority())
	}

	work.RoundActions = rounds.Snapshot()
	work.Version++
	work.UpdatedAt = now
	if err := work.CheckInvariants(); err != nil {
		e.logger.Error("action broke match invariants",
			zap.String("match_id", work.ID),
			zap.String("kind", string(action.Kind)),
			zap.Error(err))
		return nil, nil, nil, nil, err
	}
	if err := e.persist(ctx, work); err != nil {
		return nil, nil, nil, nil, err
	}
	entry.state = work

	res.Round = work.Round
	res.Phase = work.Phase
	res.PriorityPlayer = work.PriorityPlayer
	res.Version = work.Version
	res.Checksum = work.Checksum()

	notes := []notification{{kind: NotifyStateChanged, payload: StateChanged{
		MatchID:        work.ID,
		PlayerID:       playerID,
		Version:        res.Version,
		Checksum:       res.Checksum,
		Round:          res.Round,
		Phase:          res.Phase.String(),
		PriorityPlayer: res.PriorityPlayer,
		Move:           res.Move,
		Effects:        res.Effects,
	}}}
	if phase != nil {
		notes = append(notes, *phase)
	}
	if work.IsOver() {
		res.GameOver = true
		res.Winner = work.Winner
		notes = append(notes, notification{kind: NotifyGameOver, payload: GameOver{
			MatchID: work.ID,
			Winner:  work.Winner,
			Loser:   work.Opponent(work.Winner),
			Round:   work.Round,
		}})
	}
	return res, work, events, notes, nil
}

// enterPhase runs the work that happens when a phase begins.
func (e *Engine) enterPhase(ctx context.Context, work *state.MatchState, pass rules.PassResult, registry *rules.WatcherRegistry) ([]rules.Event, effects.Result, error) {
	var (
		out    effects.Result
		events []rules.Event
	)
	changed := rules.NewEvent(rules.EventPhaseChanged, work.ID, work.InitiativeHolder, "")
	changed.Data = work.Phase.String()
	changed.Amount = work.Round
	events = append(events, changed)

	switch work.Phase {
	case rules.PhaseBattle:
		for _, territory := range state.TerritoryIDs() {
			logs, err := e.combat.ProcessTerritoryCombat(ctx, work, territory)
			if err != nil {
				return nil, out, err
			}
			out.Effects = append(out.Effects, logs...)
		}

	case rules.PhaseReplenishment:
		for _, player := range work.Players {
			if work.IsOver() {
				break
			}
			for _, id := range work.Zones[player].UnexertAll() {
				events = append(events, rules.NewEvent(rules.EventCardUnexerted, work.ID, player, id))
			}
			army, civic := e.replenish.Replenish(work, player)
			for _, draw := range []struct {
				kind state.CardKind
				n    int
			}{{state.KindArmy, army}, {state.KindCivic, civic}} {
				kind, n := draw.kind, draw.n
				if n <= 0 {
					continue
				}
				drawn, err := e.resolver.ApplyTriggered(work, rules.TriggeredEffect{
					Type:     rules.EffectDrawCard,
					PlayerID: player,
					Amount:   n,
					CardType: string(kind),
				})
				if err != nil {
					return nil, out, err
				}
				out.Effects = append(out.Effects, drawn.Effects...)
				out.Drawn = append(out.Drawn, drawn.Drawn...)
				events = append(events, drawn.Events...)
			}
		}

	case rules.PhaseStrategy:
		if pass.RoundWrapped {
			registry.ResetWatchers()
			events = append(events, rules.NewEventWithAmount(rules.EventRoundStarted, work.ID, work.InitiativeHolder, "", work.Round))
		}
	}
	return events, out, nil
}

func (e *Engine) finish(matchID string) {
	e.logger.Info("match finished", zap.String("match_id", matchID))
	if e.replays == nil {
		return
	}
	if err := e.replays.SaveReplay(matchID); err != nil {
		e.logger.Warn("replay not saved", zap.String("match_id", matchID), zap.Error(err))
	}
}

// DrawCard draws the top card of the player's deck of the given kind into
// their hand. It is a Draw action and needs priority like any other. It
// returns nil without error when the deck is empty and the empty deck
// policy ignores it.
func (e *Engine) DrawCard(ctx context.Context, matchID, playerID string, kind state.CardKind) (*state.CardInstance, error) {
	res, err := e.SubmitAction(ctx, matchID, playerID, Action{Kind: effects.KindDraw, DeckKind: kind})
	if err != nil {
		return nil, err
	}
	if len(res.Drawn) == 0 {
		return nil, nil
	}
	card := res.Drawn[0]
	return &card, nil
}

// State returns a copy of the match.
func (e *Engine) State(ctx context.Context, matchID string) (*state.MatchState, error) {
	entry, err := e.acquire(ctx, matchID)
	if err != nil {
		return nil, err
	}
	defer entry.mu.Unlock()
	return entry.state.Clone(), nil
}

// Moves returns a copy of the move log.
func (e *Engine) Moves(ctx context.Context, matchID string) ([]state.GameMove, error) {
	ms, err := e.State(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return ms.Moves, nil
}

// ActiveMatches returns the ids of matches held in memory.
func (e *Engine) ActiveMatches() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.matches))
	for id := range e.matches {
		ids = append(ids, id)
	}
	return ids
}

// Unload drops a match from memory. It is reloaded from the store on next
// use.
func (e *Engine) Unload(matchID string) {
	e.mu.Lock()
	entry, ok := e.matches[matchID]
	e.mu.Unlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	e.mu.Lock()
	if e.matches[matchID] == entry {
		delete(e.matches, matchID)
	}
	e.mu.Unlock()
	entry.state = nil
	if e.replays != nil && e.replays.Discard(matchID) {
		e.logger.Debug("replay recording discarded", zap.String("match_id", matchID))
	}
}

// Replay returns the recorded states of a match: the live recording while
// it is played, otherwise the saved file, whose checksums are verified as
// it loads.
func (e *Engine) Replay(matchID string) (*Replay, error) {
	const op = "Replay"
	if e.replays == nil {
		return nil, apperrors.NotFound(op, "replays are not recorded on this server")
	}
	if replay, ok := e.replays.Replay(matchID); ok {
		return replay, nil
	}
	replay, err := e.replays.LoadReplay(matchID)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NotFound(op, "no replay for match %s", matchID)
	}
	return replay, err
}
