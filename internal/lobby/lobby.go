// Package lobby implements pre-match rooms: two player slots, spectators,
// readiness and the hand-off to the game engine when the host starts.
package lobby

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/empiretcg/empire-server-go/internal/deck"
)

// Status is the lobby lifecycle state.
type Status int

const (
	StatusWaitingForPlayers Status = iota
	StatusReadyToStart
	StatusInProgress
	StatusCompleted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusWaitingForPlayers:
		return "WAITING_FOR_PLAYERS"
	case StatusReadyToStart:
		return "READY_TO_START"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusCompleted:
		return "COMPLETED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for c := StatusWaitingForPlayers; c <= StatusCancelled; c++ {
		if strings.EqualFold(c.String(), string(text)) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown lobby status %q", text)
}

// open reports whether players may still join, ready up or change decks.
func (s Status) open() bool {
	return s == StatusWaitingForPlayers || s == StatusReadyToStart
}

// closed reports whether the lobby is eligible for cleanup.
func (s Status) closed() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// SlotCount is the number of player seats in a lobby.
const SlotCount = 2

// Settings are the host-chosen lobby options.
type Settings struct {
	AllowSpectators       bool `json:"allow_spectators"`
	MaxSpectators         int  `json:"max_spectators"`
	RequireDeckValidation bool `json:"require_deck_validation"`
	TimeLimitMinutes      int  `json:"time_limit_minutes"`
}

// PlayerSlot is one seat. A zero UserID means the seat is empty.
type PlayerSlot struct {
	UserID   string          `json:"user_id,omitempty"`
	UserName string          `json:"user_name,omitempty"`
	Deck     deck.Descriptor `json:"deck"`
	Ready    bool            `json:"ready"`
}

// Occupied reports whether someone sits in the slot.
func (p PlayerSlot) Occupied() bool {
	return p.UserID != ""
}

// Spectator watches a lobby without a seat.
type Spectator struct {
	UserID   string    `json:"user_id"`
	UserName string    `json:"user_name"`
	JoinedAt time.Time `json:"joined_at"`
}

// Lobby is a snapshot of a lobby. Values handed out by the Manager are
// copies; changing them has no effect.
type Lobby struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	HostID     string                `json:"host_id"`
	HostName   string                `json:"host_name"`
	Slots      [SlotCount]PlayerSlot `json:"slots"`
	Spectators []Spectator           `json:"spectators"`
	Status     Status                `json:"status"`
	Settings   Settings              `json:"settings"`
	CreatedAt  time.Time             `json:"created_at"`
	StartedAt  *time.Time            `json:"started_at,omitempty"`
}

// IsFull reports whether both seats are taken.
func (l *Lobby) IsFull() bool {
	for _, s := range l.Slots {
		if !s.Occupied() {
			return false
		}
	}
	return true
}

// AllReady reports whether both seats are taken and ready.
func (l *Lobby) AllReady() bool {
	if !l.IsFull() {
		return false
	}
	for _, s := range l.Slots {
		if !s.Ready {
			return false
		}
	}
	return true
}

// SlotOf returns the index of userID's seat.
func (l *Lobby) SlotOf(userID string) (int, bool) {
	for i, s := range l.Slots {
		if s.Occupied() && s.UserID == userID {
			return i, true
		}
	}
	return -1, false
}

func (l *Lobby) spectatorIndex(userID string) int {
	for i, s := range l.Spectators {
		if s.UserID == userID {
			return i
		}
	}
	return -1
}

// IsParticipant reports whether userID holds a seat or spectates.
func (l *Lobby) IsParticipant(userID string) bool {
	_, seated := l.SlotOf(userID)
	return seated || l.spectatorIndex(userID) >= 0
}

func (l *Lobby) clone() Lobby {
	cp := *l
	cp.Spectators = append([]Spectator(nil), l.Spectators...)
	if l.StartedAt != nil {
		started := *l.StartedAt
		cp.StartedAt = &started
	}
	return cp
}

// session guards one lobby. Every mutation of a lobby happens under its
// own mutex so operations on different lobbies never wait on each other.
type session struct {
	mu    sync.Mutex
	lobby Lobby
}
