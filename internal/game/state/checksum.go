package state

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// ChecksumVersion is bumped whenever the canonical representation changes.
const ChecksumVersion = 1

// Checksum computes a SHA-256 over a canonical representation of the
// match. Timestamps are excluded so two nodes replaying the same moves
// agree. Clients compare it against their own view to detect divergence.
func (ms *MatchState) Checksum() string {
	sum := sha256.Sum256([]byte(ms.canonical()))
	return hex.EncodeToString(sum[:])
}

// canonical builds a representation independent of map iteration order.
func (ms *MatchState) canonical() string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "MATCH:%s|%d|%s|%d|%s|%s|%s|%s|%s|v%d\n",
		ms.ID,
		ChecksumVersion,
		ms.Phase,
		ms.Round,
		ms.InitiativeHolder,
		ms.PriorityPlayer,
		ms.LastPlayerToPass,
		ms.Winner,
		strings.Join(ms.Players[:], ","),
		len(ms.Moves),
	)

	players := make([]string, 0, len(ms.Zones))
	for player := range ms.Zones {
		players = append(players, player)
	}
	sort.Strings(players)

	for _, player := range players {
		fmt.Fprintf(&buf, "PLAYER:%s|%d|%d\n", player, ms.Morale[player], ms.Tier[player])

		zs := ms.Zones[player]
		for _, ref := range zs.Refs() {
			// Zone order matters for decks and is kept as-is.
			fmt.Fprintf(&buf, "  ZONE:%s=%s\n", ref, strings.Join(zs.Cards(ref), ","))
		}

		exerted := make([]string, 0, len(zs.Exerted))
		for id := range zs.Exerted {
			exerted = append(exerted, id)
		}
		sort.Strings(exerted)
		fmt.Fprintf(&buf, "  EXERTED:%s\n", strings.Join(exerted, ","))

		kinds := make([]string, 0, len(ms.RoundActions[player]))
		for kind := range ms.RoundActions[player] {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			fmt.Fprintf(&buf, "  ROUND_ACTION:%s=%d\n", kind, ms.RoundActions[player][kind])
		}
	}

	for _, territory := range TerritoryIDs() {
		fmt.Fprintf(&buf, "TERRITORY:%s|%s\n", territory, ms.TerritoryOccupants[territory])
	}

	return buf.String()
}
