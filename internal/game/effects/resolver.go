// Package effects applies player actions to a match: it checks that the
// action is legal for the card and zones involved, moves card ids between
// zone lists and produces the events and triggered effects that follow.
package effects

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/empiretcg/empire-server-go/internal/apperrors"
	"github.com/empiretcg/empire-server-go/internal/game/rules"
	"github.com/empiretcg/empire-server-go/internal/game/state"
	"go.uber.org/zap"
)

// RoundCounter reports how often a player took an action this round.
type RoundCounter interface {
	Count(playerID, action string) int
}

// Context carries the kind-specific fields of an action.
type Context struct {
	TerritoryID    string
	CardIDs        []string // CommitUnits; the primary card is used when empty
	From           string   // MoveCard source zone; located when empty
	To             string   // MoveCard target zone
	DeckKind       state.CardKind
	Value          int    // AdjustMorale delta
	TargetPlayerID string // AdjustMorale target, the actor when empty
	Rounds         RoundCounter
	Rand           *rand.Rand
}

// Result reports the outcome of one Apply call.
type Result struct {
	Success   bool
	Effects   []string
	Triggered []rules.TriggeredEffect
	Events    []rules.Event
	CostPaid  int
	Drawn     []state.CardInstance
}

func (r *Result) log(format string, args ...interface{}) {
	r.Effects = append(r.Effects, fmt.Sprintf(format, args...))
}

func (r *Result) merge(other Result) {
	r.Effects = append(r.Effects, other.Effects...)
	r.Triggered = append(r.Triggered, other.Triggered...)
	r.Events = append(r.Events, other.Events...)
	r.Drawn = append(r.Drawn, other.Drawn...)
}

// Resolver applies actions and triggered effects to a MatchState.
type Resolver struct {
	logger    *zap.Logger
	cost      CostPolicy
	emptyDeck EmptyDeckPolicy
	maxMorale int
	triggers  *rules.TriggerManager
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCostPolicy replaces the default AlwaysAffordable policy.
func WithCostPolicy(p CostPolicy) Option {
	return func(r *Resolver) {
		if p != nil {
			r.cost = p
		}
	}
}

// WithEmptyDeckPolicy sets the empty deck behaviour.
func WithEmptyDeckPolicy(p EmptyDeckPolicy) Option {
	return func(r *Resolver) { r.emptyDeck = p }
}

// WithMaxMorale caps morale gains.
func WithMaxMorale(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxMorale = n
		}
	}
}

// WithTriggers uses tm instead of a manager loaded with the default hooks.
func WithTriggers(tm *rules.TriggerManager) Option {
	return func(r *Resolver) {
		if tm != nil {
			r.triggers = tm
		}
	}
}

// NewResolver creates a resolver.
func NewResolver(logger *zap.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		logger:    logger,
		cost:      AlwaysAffordable{},
		emptyDeck: EmptyDeckIgnore,
		maxMorale: state.DefaultMorale,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.triggers == nil {
		r.triggers = rules.NewTriggerManager()
		RegisterDefaultHooks(r.triggers)
	}
	return r
}

// Triggers exposes the trigger manager so callers can register card hooks.
func (r *Resolver) Triggers() *rules.TriggerManager {
	return r.triggers
}

// Apply validates and performs one action. On error nothing in match has
// changed and the returned Result has Success unset.
func (r *Resolver) Apply(match *state.MatchState, playerID, cardID string, kind Kind, ctx Context) (Result, error) {
	const op = "Apply"
	if match == nil {
		return Result{}, apperrors.Validation(op, "no match")
	}
	if !match.IsPlayer(playerID) {
		return Result{}, apperrors.Validation(op, "player %s is not in match %s", playerID, match.ID)
	}

	var (
		res Result
		err error
	)
	switch kind {
	case KindDeploy:
		res, err = r.deploy(match, playerID, cardID)
	case KindSettle:
		res, err = r.settle(match, playerID, cardID, ctx.TerritoryID)
	case KindPlayVillager:
		res, err = r.playVillager(match, playerID, cardID, ctx.Rounds)
	case KindCommitUnits:
		ids := ctx.CardIDs
		if len(ids) == 0 && cardID != "" {
			ids = []string{cardID}
		}
		res, err = r.commitUnits(match, playerID, ids, ctx.TerritoryID)
	case KindDraw:
		res, err = r.drawAction(match, playerID, ctx.DeckKind)
	case KindShuffle:
		res, err = r.shuffle(match, playerID, ctx.DeckKind, ctx.Rand)
	case KindMoveCard:
		res, err = r.moveCard(match, playerID, cardID, ctx.From, ctx.To)
	case KindToggleExert:
		res, err = r.toggleExert(match, playerID, cardID)
	case KindAdjustMorale:
		res, err = r.adjustMorale(match, playerID, ctx.TargetPlayerID, ctx.Value)
	case KindPass:
		return Result{}, apperrors.Validation(op, "pass is handled by the turn engine")
	default:
		return Result{}, apperrors.Validation(op, "unknown action kind %q", kind)
	}
	if err != nil {
		r.logger.Debug("action rejected",
			zap.String("match_id", match.ID),
			zap.String("player_id", playerID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return Result{}, err
	}

	for i := range res.Events {
		res.Events[i].Action = ""
	}
	if len(res.Events) > 0 {
		res.Events[0].Action = string(kind)
	}
	for _, evt := range res.Events {
		res.Triggered = append(res.Triggered, r.triggers.Handle(evt)...)
	}
	res.Success = true
	return res, nil
}

// ApplyTriggered applies one queued effect. Effects it causes in turn are
// returned in Result.Triggered for the caller to queue.
func (r *Resolver) ApplyTriggered(match *state.MatchState, effect rules.TriggeredEffect) (Result, error) {
	var res Result
	if match == nil {
		return res, apperrors.Validation("ApplyTriggered", "no match")
	}
	if !match.IsPlayer(effect.PlayerID) {
		return res, apperrors.Validation("ApplyTriggered", "effect %s targets unknown player %q", effect.ID, effect.PlayerID)
	}
	amount := effect.Amount
	if amount <= 0 {
		amount = 1
	}

	switch effect.Type {
	case rules.EffectDrawCard:
		kind := state.KindArmy
		if effect.CardType != "" {
			parsed, err := state.ParseCardKind(strings.ToLower(effect.CardType))
			if err != nil {
				return res, apperrors.Validation("ApplyTriggered", "%v", err)
			}
			kind = parsed
		}
		for i := 0; i < amount; i++ {
			drawn, err := r.draw(match, effect.PlayerID, kind)
			if err != nil {
				return res, err
			}
			res.merge(drawn)
		}
	case rules.EffectGainMorale:
		res.merge(r.changeMorale(match, effect.PlayerID, amount))
	case rules.EffectLoseMorale:
		res.merge(r.changeMorale(match, effect.PlayerID, -amount))
	case rules.EffectModifyStats, rules.EffectTriggerAbility:
		// Stat modifiers are not modelled; the description is the effect.
	default:
		return res, apperrors.Validation("ApplyTriggered", "unknown effect type %q", effect.Type)
	}
	if effect.Description != "" {
		res.Effects = append([]string{effect.Description}, res.Effects...)
	}
	for _, evt := range res.Events {
		res.Triggered = append(res.Triggered, r.triggers.Handle(evt)...)
	}
	res.Success = true
	return res, nil
}

func (r *Resolver) ownedCard(match *state.MatchState, playerID, cardID string) (state.CardInstance, error) {
	card, ok := match.Card(cardID)
	if !ok {
		return card, apperrors.Validation("Apply", "unknown card %q", cardID)
	}
	if card.Owner != playerID {
		return card, apperrors.Validation("Apply", "card %s does not belong to %s", cardID, playerID)
	}
	return card, nil
}

func (r *Resolver) deploy(match *state.MatchState, playerID, cardID string) (Result, error) {
	var res Result
	card, err := r.ownedCard(match, playerID, cardID)
	if err != nil {
		return res, err
	}
	if card.Kind != state.KindArmy {
		return res, apperrors.Validation("Deploy", "%s is not an army card", card.Name)
	}
	zs := match.Zones[playerID]
	hand := state.ZoneRef{Kind: state.ZoneArmyHand}
	if !zs.Contains(hand, cardID) {
		return res, apperrors.Validation("Deploy", "%s is not in your army hand", card.Name)
	}
	cost, legal := DeployCost(card, match.Tier[playerID])
	if !legal {
		return res, apperrors.Validation("Deploy", "%s is tier %d, you are tier %d", card.Name, card.Tier, match.Tier[playerID])
	}
	if !r.cost.CanAfford(match, playerID, cost) {
		return res, apperrors.Validation("Deploy", "insufficient resources to deploy %s", card.Name)
	}
	if err := r.cost.Pay(match, playerID, cost); err != nil {
		return res, apperrors.Validation("Deploy", "%v", err)
	}
	if err := zs.Move(cardID, hand, state.ZoneRef{Kind: state.ZoneHeartland}); err != nil {
		return res, apperrors.Validation("Deploy", "%v", err)
	}
	zs.SetExerted(cardID, true)

	res.CostPaid = cost
	res.log("Deployed %s to heartland", card.Name)
	res.Events = append(res.Events, cardEvent(rules.EventCardDeployed, match, playerID, card))
	return res, nil
}

func (r *Resolver) settle(match *state.MatchState, playerID, cardID, territory string) (Result, error) {
	var res Result
	card, err := r.ownedCard(match, playerID, cardID)
	if err != nil {
		return res, err
	}
	if card.Kind != state.KindCivic {
		return res, apperrors.Validation("Settle", "%s is not a civic card", card.Name)
	}
	if !state.IsTerritory(territory) {
		return res, apperrors.Validation("Settle", "unknown territory %q", territory)
	}
	if match.TerritoryOccupants[territory] != playerID {
		return res, apperrors.Validation("Settle", "you must be occupying %s to settle it", territory)
	}
	zs := match.Zones[playerID]
	hand := state.ZoneRef{Kind: state.ZoneCivicHand}
	if !zs.Contains(hand, cardID) {
		return res, apperrors.Validation("Settle", "%s is not in your civic hand", card.Name)
	}
	if err := zs.Move(cardID, hand, state.ZoneRef{Kind: state.ZoneSettlement, Territory: territory}); err != nil {
		return res, apperrors.Validation("Settle", "%v", err)
	}

	res.log("Settled %s in %s", card.Name, territory)
	evt := cardEvent(rules.EventCardSettled, match, playerID, card)
	evt.Data = territory
	res.Events = append(res.Events, evt)

	before := match.Tier[playerID]
	if after := match.RecomputeTier(playerID); after != before {
		res.log("Advanced to tier %d", after)
		res.Events = append(res.Events, rules.NewEventWithAmount(rules.EventTierChanged, match.ID, playerID, "", after))
		r.logger.Info("player tier changed",
			zap.String("match_id", match.ID),
			zap.String("player_id", playerID),
			zap.Int("tier", after))
	}
	return res, nil
}

func (r *Resolver) playVillager(match *state.MatchState, playerID, cardID string, rounds RoundCounter) (Result, error) {
	var res Result
	card, err := r.ownedCard(match, playerID, cardID)
	if err != nil {
		return res, err
	}
	if card.Kind != state.KindCivic {
		return res, apperrors.Validation("PlayVillager", "%s is not a civic card", card.Name)
	}
	if rounds == nil {
		rounds = matchRounds{match}
	}
	if rounds.Count(playerID, string(KindPlayVillager)) > 0 {
		return res, apperrors.Validation("PlayVillager", "you can only play one villager per round")
	}
	zs := match.Zones[playerID]
	hand := state.ZoneRef{Kind: state.ZoneCivicHand}
	if !zs.Contains(hand, cardID) {
		return res, apperrors.Validation("PlayVillager", "%s is not in your civic hand", card.Name)
	}
	if err := zs.Move(cardID, hand, state.ZoneRef{Kind: state.ZoneVillagers}); err != nil {
		return res, apperrors.Validation("PlayVillager", "%v", err)
	}

	res.log("Played villager %s", card.Name)
	res.Events = append(res.Events, cardEvent(rules.EventVillagerPlayed, match, playerID, card))
	return res, nil
}

func (r *Resolver) commitUnits(match *state.MatchState, playerID string, cardIDs []string, territory string) (Result, error) {
	var res Result
	if len(cardIDs) == 0 {
		return res, apperrors.Validation("CommitUnits", "no units to commit")
	}
	if !state.IsTerritory(territory) {
		return res, apperrors.Validation("CommitUnits", "unknown territory %q", territory)
	}
	zs := match.Zones[playerID]
	heartland := state.ZoneRef{Kind: state.ZoneHeartland}
	seen := make(map[string]bool, len(cardIDs))
	cards := make([]state.CardInstance, 0, len(cardIDs))
	for _, id := range cardIDs {
		if seen[id] {
			return res, apperrors.Validation("CommitUnits", "card %s listed twice", id)
		}
		seen[id] = true
		card, err := r.ownedCard(match, playerID, id)
		if err != nil {
			return res, err
		}
		if !zs.Contains(heartland, id) {
			return res, apperrors.Validation("CommitUnits", "%s is not in your heartland", card.Name)
		}
		cards = append(cards, card)
	}

	advancing := state.ZoneRef{Kind: state.ZoneAdvancing, Territory: territory}
	for _, card := range cards {
		if err := zs.Move(card.ID, heartland, advancing); err != nil {
			return res, apperrors.Validation("CommitUnits", "%v", err)
		}
		res.log("%s advances on %s", card.Name, territory)
	}
	evt := rules.NewEventWithAmount(rules.EventUnitsCommitted, match.ID, playerID, cards[0].ID, len(cards))
	evt.Data = territory
	res.Events = append(res.Events, evt)
	return res, nil
}

func (r *Resolver) drawAction(match *state.MatchState, playerID string, kind state.CardKind) (Result, error) {
	if _, err := state.ParseCardKind(string(kind)); err != nil {
		return Result{}, apperrors.Validation("Draw", "%v", err)
	}
	return r.draw(match, playerID, kind)
}

// draw moves the top card of the deck into the hand. An empty deck is
// handled by the empty deck policy.
func (r *Resolver) draw(match *state.MatchState, playerID string, kind state.CardKind) (Result, error) {
	var res Result
	zs := match.Zones[playerID]
	top, ok := zs.PopFront(kind.DeckZone())
	if !ok {
		switch r.emptyDeck {
		case EmptyDeckLose:
			res.log("%s drew from an empty %s deck", playerID, kind)
			res.merge(r.changeMorale(match, playerID, -match.Morale[playerID]))
		default:
			res.log("%s deck is empty", kind)
		}
		return res, nil
	}
	if err := zs.Append(kind.HandZone(), top); err != nil {
		return res, apperrors.Validation("Draw", "%v", err)
	}
	card, _ := match.Card(top)
	res.Drawn = append(res.Drawn, card)
	res.log("Drew a %s card", kind)
	res.Events = append(res.Events, cardEvent(rules.EventCardDrawn, match, playerID, card))
	return res, nil
}

func (r *Resolver) shuffle(match *state.MatchState, playerID string, kind state.CardKind, rng *rand.Rand) (Result, error) {
	var res Result
	if _, err := state.ParseCardKind(string(kind)); err != nil {
		return res, apperrors.Validation("Shuffle", "%v", err)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	zs := match.Zones[playerID]
	deck := zs.Cards(kind.DeckZone())
	rng.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	if err := zs.Set(kind.DeckZone(), deck); err != nil {
		return res, apperrors.Validation("Shuffle", "%v", err)
	}
	res.log("Shuffled %s deck", kind)
	res.Events = append(res.Events, rules.NewEventWithAmount(rules.EventDeckShuffled, match.ID, playerID, "", len(deck)))
	return res, nil
}

func (r *Resolver) moveCard(match *state.MatchState, playerID, cardID, fromName, toName string) (Result, error) {
	var res Result
	card, err := r.ownedCard(match, playerID, cardID)
	if err != nil {
		return res, err
	}
	zs := match.Zones[playerID]

	var from state.ZoneRef
	if fromName == "" {
		located, ok := zs.Locate(cardID)
		if !ok {
			return res, apperrors.Validation("MoveCard", "card %s is in none of your zones", cardID)
		}
		from = located
	} else if from, err = state.ParseZone(fromName); err != nil {
		return res, apperrors.Validation("MoveCard", "%v", err)
	}
	to, err := state.ParseZone(toName)
	if err != nil {
		return res, apperrors.Validation("MoveCard", "%v", err)
	}
	if from == to {
		return res, apperrors.Validation("MoveCard", "card %s is already in %s", cardID, to)
	}
	if err := zs.Move(cardID, from, to); err != nil {
		return res, apperrors.Validation("MoveCard", "%v", err)
	}

	res.log("Moved %s from %s to %s", card.Name, from, to)
	evt := cardEvent(rules.EventCardMoved, match, playerID, card)
	evt.Data = to.String()
	evt.Metadata["from"] = from.String()
	res.Events = append(res.Events, evt)

	for _, territory := range []string{from.Territory, to.Territory} {
		if territory == "" {
			continue
		}
		before := match.TerritoryOccupants[territory]
		if after := match.RecomputeOccupant(territory); after != before {
			if after == "" {
				res.log("%s is no longer occupied", territory)
			} else {
				res.log("%s now occupies %s", after, territory)
			}
		}
	}
	if from.Kind == state.ZoneSettlement || to.Kind == state.ZoneSettlement {
		before := match.Tier[playerID]
		if after := match.RecomputeTier(playerID); after != before {
			res.Events = append(res.Events, rules.NewEventWithAmount(rules.EventTierChanged, match.ID, playerID, "", after))
		}
	}
	return res, nil
}

func (r *Resolver) toggleExert(match *state.MatchState, playerID, cardID string) (Result, error) {
	var res Result
	card, err := r.ownedCard(match, playerID, cardID)
	if err != nil {
		return res, err
	}
	zs := match.Zones[playerID]
	ref, ok := zs.Locate(cardID)
	if !ok || !ref.IsBoard() {
		return res, apperrors.Validation("ToggleExert", "%s is not in play", card.Name)
	}
	exerted := !zs.IsExerted(cardID)
	zs.SetExerted(cardID, exerted)

	eventType := rules.EventCardUnexerted
	verb := "Unexerted"
	if exerted {
		eventType = rules.EventCardExerted
		verb = "Exerted"
	}
	res.log("%s %s", verb, card.Name)
	res.Events = append(res.Events, cardEvent(eventType, match, playerID, card))
	return res, nil
}

func (r *Resolver) adjustMorale(match *state.MatchState, playerID, target string, delta int) (Result, error) {
	if target == "" {
		target = playerID
	}
	if !match.IsPlayer(target) {
		return Result{}, apperrors.Validation("AdjustMorale", "player %s is not in match %s", target, match.ID)
	}
	if delta == 0 {
		return Result{}, apperrors.Validation("AdjustMorale", "morale change must not be zero")
	}
	return r.changeMorale(match, target, delta), nil
}

// changeMorale applies delta capped at the maximum. The match ends when a
// player reaches zero.
func (r *Resolver) changeMorale(match *state.MatchState, playerID string, delta int) Result {
	var res Result
	current := match.Morale[playerID]
	if current+delta > r.maxMorale {
		delta = r.maxMorale - current
		if delta < 0 {
			delta = 0
		}
	}
	wasOver := match.IsOver()
	morale, _ := match.AdjustMorale(playerID, delta)
	res.log("%s morale is now %d", playerID, morale)
	evt := rules.NewEventWithAmount(rules.EventMoraleChanged, match.ID, playerID, "", morale)
	evt.Metadata["delta"] = fmt.Sprint(morale - current)
	res.Events = append(res.Events, evt)
	if !wasOver && match.IsOver() {
		res.log("%s wins", match.Winner)
		gameOver := rules.NewEvent(rules.EventGameOver, match.ID, match.Winner, "")
		gameOver.Data = playerID
		res.Events = append(res.Events, gameOver)
		r.logger.Info("match over",
			zap.String("match_id", match.ID),
			zap.String("winner", match.Winner))
	}
	return res
}

// matchRounds reads the round action record straight from the match.
type matchRounds struct {
	match *state.MatchState
}

func (m matchRounds) Count(playerID, action string) int {
	return m.match.RoundActions[playerID][action]
}
