package state

import "fmt"

// CardKind separates the two deck families.
type CardKind string

const (
	KindArmy  CardKind = "army"
	KindCivic CardKind = "civic"
)

// ParseCardKind accepts the kind names used on the wire.
func ParseCardKind(s string) (CardKind, error) {
	switch CardKind(s) {
	case KindArmy, KindCivic:
		return CardKind(s), nil
	}
	return "", fmt.Errorf("unknown deck kind %q", s)
}

// DeckZone returns the deck zone for the kind.
func (k CardKind) DeckZone() ZoneRef {
	if k == KindCivic {
		return ZoneRef{Kind: ZoneCivicDeck}
	}
	return ZoneRef{Kind: ZoneArmyDeck}
}

// HandZone returns the hand zone for the kind.
func (k CardKind) HandZone() ZoneRef {
	if k == KindCivic {
		return ZoneRef{Kind: ZoneCivicHand}
	}
	return ZoneRef{Kind: ZoneArmyHand}
}

// CardInstance is one physical card in a match. Catalog attributes are
// copied in when the deck is ingested so rules never consult the catalog
// mid-match.
type CardInstance struct {
	ID           string   `json:"id"`
	DefinitionID int      `json:"definition_id"`
	Name         string   `json:"name"`
	Kind         CardKind `json:"kind"`
	Type         string   `json:"type,omitempty"`
	Tier         int      `json:"tier"`
	Cost         int      `json:"cost"`
	Owner        string   `json:"owner"`
}
