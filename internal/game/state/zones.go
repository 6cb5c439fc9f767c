package state

import (
	"fmt"
	"sort"
	"strings"
)

// ZoneKind names a per-player zone.
type ZoneKind string

const (
	ZoneArmyHand   ZoneKind = "army-hand"
	ZoneCivicHand  ZoneKind = "civic-hand"
	ZoneHeartland  ZoneKind = "heartland"
	ZoneVillagers  ZoneKind = "villagers"
	ZoneArmyDeck   ZoneKind = "army-deck"
	ZoneCivicDeck  ZoneKind = "civic-deck"
	ZoneGraveyard  ZoneKind = "graveyard"
	ZoneSealed     ZoneKind = "sealed"
	ZoneAdvancing  ZoneKind = "advancing"
	ZoneOccupying  ZoneKind = "occupying"
	ZoneSettlement ZoneKind = "settlement"
)

// TerritoryCount is the number of contestable territories on the board.
const TerritoryCount = 3

// TerritoryIDs returns the territory ids in board order.
func TerritoryIDs() []string {
	ids := make([]string, TerritoryCount)
	for i := range ids {
		ids[i] = fmt.Sprintf("territory-%d", i+1)
	}
	return ids
}

// IsTerritory reports whether id names a board territory.
func IsTerritory(id string) bool {
	for _, t := range TerritoryIDs() {
		if t == id {
			return true
		}
	}
	return false
}

// ZoneRef addresses one zone list. Territory is set only for the
// advancing, occupying and settlement kinds.
type ZoneRef struct {
	Kind      ZoneKind
	Territory string
}

func (r ZoneRef) String() string {
	if r.Territory != "" {
		return r.Territory + "-" + string(r.Kind)
	}
	return string(r.Kind)
}

// IsBoard reports whether cards in the zone are in play.
func (r ZoneRef) IsBoard() bool {
	switch r.Kind {
	case ZoneHeartland, ZoneVillagers, ZoneAdvancing, ZoneOccupying, ZoneSettlement:
		return true
	}
	return false
}

// ParseZone converts a wire zone name such as "heartland" or
// "territory-2-occupying" into a ZoneRef.
func ParseZone(name string) (ZoneRef, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch ZoneKind(name) {
	case ZoneArmyHand, ZoneCivicHand, ZoneHeartland, ZoneVillagers,
		ZoneArmyDeck, ZoneCivicDeck, ZoneGraveyard, ZoneSealed:
		return ZoneRef{Kind: ZoneKind(name)}, nil
	}
	for _, territory := range TerritoryIDs() {
		rest, ok := strings.CutPrefix(name, territory+"-")
		if !ok {
			continue
		}
		switch ZoneKind(rest) {
		case ZoneAdvancing, ZoneOccupying, ZoneSettlement:
			return ZoneRef{Kind: ZoneKind(rest), Territory: territory}, nil
		}
	}
	return ZoneRef{}, fmt.Errorf("unknown zone %q", name)
}

// TerritoryZones holds one player's lists inside a territory.
type TerritoryZones struct {
	Advancing   []string `json:"advancing"`
	Occupying   []string `json:"occupying"`
	Settlements []string `json:"settlements"`
}

// ZoneSet is one player's partition of card instance ids into zones.
// Decks are ordered with the top card first.
type ZoneSet struct {
	ArmyHand    []string                   `json:"army_hand"`
	CivicHand   []string                   `json:"civic_hand"`
	Heartland   []string                   `json:"heartland"`
	Villagers   []string                   `json:"villagers"`
	ArmyDeck    []string                   `json:"army_deck"`
	CivicDeck   []string                   `json:"civic_deck"`
	Graveyard   []string                   `json:"graveyard"`
	Sealed      []string                   `json:"sealed"`
	Territories map[string]*TerritoryZones `json:"territories"`
	Exerted     map[string]bool            `json:"exerted"`
}

// NewZoneSet returns an empty zone set with every territory present.
func NewZoneSet() *ZoneSet {
	zs := &ZoneSet{
		ArmyHand:    []string{},
		CivicHand:   []string{},
		Heartland:   []string{},
		Villagers:   []string{},
		ArmyDeck:    []string{},
		CivicDeck:   []string{},
		Graveyard:   []string{},
		Sealed:      []string{},
		Territories: make(map[string]*TerritoryZones, TerritoryCount),
		Exerted:     make(map[string]bool),
	}
	for _, id := range TerritoryIDs() {
		zs.Territories[id] = &TerritoryZones{
			Advancing:   []string{},
			Occupying:   []string{},
			Settlements: []string{},
		}
	}
	return zs
}

// list returns a pointer to the slice backing ref.
func (zs *ZoneSet) list(ref ZoneRef) (*[]string, error) {
	switch ref.Kind {
	case ZoneArmyHand:
		return &zs.ArmyHand, nil
	case ZoneCivicHand:
		return &zs.CivicHand, nil
	case ZoneHeartland:
		return &zs.Heartland, nil
	case ZoneVillagers:
		return &zs.Villagers, nil
	case ZoneArmyDeck:
		return &zs.ArmyDeck, nil
	case ZoneCivicDeck:
		return &zs.CivicDeck, nil
	case ZoneGraveyard:
		return &zs.Graveyard, nil
	case ZoneSealed:
		return &zs.Sealed, nil
	}

	territory, ok := zs.Territories[ref.Territory]
	if !ok {
		return nil, fmt.Errorf("unknown territory %q", ref.Territory)
	}
	switch ref.Kind {
	case ZoneAdvancing:
		return &territory.Advancing, nil
	case ZoneOccupying:
		return &territory.Occupying, nil
	case ZoneSettlement:
		return &territory.Settlements, nil
	}
	return nil, fmt.Errorf("unknown zone %q", ref.String())
}

// Cards returns a copy of the ids in ref.
func (zs *ZoneSet) Cards(ref ZoneRef) []string {
	l, err := zs.list(ref)
	if err != nil {
		return nil
	}
	return append([]string(nil), (*l)...)
}

// Contains reports whether cardID is in ref.
func (zs *ZoneSet) Contains(ref ZoneRef, cardID string) bool {
	l, err := zs.list(ref)
	if err != nil {
		return false
	}
	return indexOf(*l, cardID) >= 0
}

// Append adds cardID to the end of ref.
func (zs *ZoneSet) Append(ref ZoneRef, cardID string) error {
	l, err := zs.list(ref)
	if err != nil {
		return err
	}
	*l = append(*l, cardID)
	return nil
}

// Remove deletes cardID from ref, preserving order.
func (zs *ZoneSet) Remove(ref ZoneRef, cardID string) bool {
	l, err := zs.list(ref)
	if err != nil {
		return false
	}
	idx := indexOf(*l, cardID)
	if idx < 0 {
		return false
	}
	*l = append((*l)[:idx], (*l)[idx+1:]...)
	return true
}

// Move moves cardID from one zone to another. Leaving the board clears
// the exerted flag.
func (zs *ZoneSet) Move(cardID string, from, to ZoneRef) error {
	if _, err := zs.list(to); err != nil {
		return err
	}
	if !zs.Remove(from, cardID) {
		return fmt.Errorf("card %s is not in %s", cardID, from)
	}
	if err := zs.Append(to, cardID); err != nil {
		return err
	}
	if !to.IsBoard() {
		delete(zs.Exerted, cardID)
	}
	return nil
}

// PopFront removes and returns the top card of ref.
func (zs *ZoneSet) PopFront(ref ZoneRef) (string, bool) {
	l, err := zs.list(ref)
	if err != nil || len(*l) == 0 {
		return "", false
	}
	top := (*l)[0]
	*l = (*l)[1:]
	return top, true
}

// Set replaces the contents of ref.
func (zs *ZoneSet) Set(ref ZoneRef, cards []string) error {
	l, err := zs.list(ref)
	if err != nil {
		return err
	}
	*l = append([]string{}, cards...)
	return nil
}

// Locate finds the zone holding cardID.
func (zs *ZoneSet) Locate(cardID string) (ZoneRef, bool) {
	for _, ref := range zs.Refs() {
		if zs.Contains(ref, cardID) {
			return ref, true
		}
	}
	return ZoneRef{}, false
}

// Refs lists every zone of the set in a stable order.
func (zs *ZoneSet) Refs() []ZoneRef {
	refs := []ZoneRef{
		{Kind: ZoneArmyHand}, {Kind: ZoneCivicHand}, {Kind: ZoneHeartland},
		{Kind: ZoneVillagers}, {Kind: ZoneArmyDeck}, {Kind: ZoneCivicDeck},
		{Kind: ZoneGraveyard}, {Kind: ZoneSealed},
	}
	territories := make([]string, 0, len(zs.Territories))
	for id := range zs.Territories {
		territories = append(territories, id)
	}
	sort.Strings(territories)
	for _, id := range territories {
		refs = append(refs,
			ZoneRef{Kind: ZoneAdvancing, Territory: id},
			ZoneRef{Kind: ZoneOccupying, Territory: id},
			ZoneRef{Kind: ZoneSettlement, Territory: id},
		)
	}
	return refs
}

// SettlementCount returns the number of settlements across all territories.
func (zs *ZoneSet) SettlementCount() int {
	n := 0
	for _, t := range zs.Territories {
		n += len(t.Settlements)
	}
	return n
}

// IsExerted reports whether cardID is exerted.
func (zs *ZoneSet) IsExerted(cardID string) bool {
	return zs.Exerted[cardID]
}

// SetExerted marks or clears the exerted flag on cardID.
func (zs *ZoneSet) SetExerted(cardID string, exerted bool) {
	if exerted {
		zs.Exerted[cardID] = true
		return
	}
	delete(zs.Exerted, cardID)
}

// UnexertAll clears every exerted flag and returns the ids that changed,
// sorted.
func (zs *ZoneSet) UnexertAll() []string {
	ids := make([]string, 0, len(zs.Exerted))
	for id := range zs.Exerted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	zs.Exerted = make(map[string]bool)
	return ids
}

// Clone returns a deep copy.
func (zs *ZoneSet) Clone() *ZoneSet {
	cp := &ZoneSet{
		ArmyHand:    cloneList(zs.ArmyHand),
		CivicHand:   cloneList(zs.CivicHand),
		Heartland:   cloneList(zs.Heartland),
		Villagers:   cloneList(zs.Villagers),
		ArmyDeck:    cloneList(zs.ArmyDeck),
		CivicDeck:   cloneList(zs.CivicDeck),
		Graveyard:   cloneList(zs.Graveyard),
		Sealed:      cloneList(zs.Sealed),
		Territories: make(map[string]*TerritoryZones, len(zs.Territories)),
		Exerted:     make(map[string]bool, len(zs.Exerted)),
	}
	for id, t := range zs.Territories {
		cp.Territories[id] = &TerritoryZones{
			Advancing:   cloneList(t.Advancing),
			Occupying:   cloneList(t.Occupying),
			Settlements: cloneList(t.Settlements),
		}
	}
	for id, v := range zs.Exerted {
		cp.Exerted[id] = v
	}
	return cp
}

func cloneList(src []string) []string {
	return append(make([]string, 0, len(src)), src...)
}

func indexOf(list []string, id string) int {
	for i, v := range list {
		if v == id {
			return i
		}
	}
	return -1
}
