// Package repository persists match snapshots. Each match is stored as one
// JSON document keyed by match id, alongside a few columns for listing.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/empiretcg/empire-server-go/internal/apperrors"
	"github.com/empiretcg/empire-server-go/internal/config"
	"github.com/empiretcg/empire-server-go/internal/game/state"
	"go.uber.org/zap"
)

// Store saves and loads match snapshots.
type Store interface {
	SaveMatch(ctx context.Context, ms *state.MatchState) error
	// LoadMatch returns an apperrors NotFound error for unknown ids.
	LoadMatch(ctx context.Context, matchID string) (*state.MatchState, error)
	ListMatches(ctx context.Context) ([]Summary, error)
	Ping(ctx context.Context) error
	Close() error
}

// Summary is the listing view of a stored match.
type Summary struct {
	ID        string    `json:"id"`
	Players   [2]string `json:"players"`
	Round     int       `json:"round"`
	Phase     string    `json:"phase"`
	Winner    string    `json:"winner,omitempty"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func summarize(ms *state.MatchState) Summary {
	return Summary{
		ID:        ms.ID,
		Players:   ms.Players,
		Round:     ms.Round,
		Phase:     ms.Phase.String(),
		Winner:    ms.Winner,
		Version:   ms.Version,
		UpdatedAt: ms.UpdatedAt,
	}
}

func encodeMatch(ms *state.MatchState) ([]byte, error) {
	if ms == nil || ms.ID == "" {
		return nil, fmt.Errorf("match id is required")
	}
	data, err := json.Marshal(ms)
	if err != nil {
		return nil, fmt.Errorf("encode match %s: %w", ms.ID, err)
	}
	return data, nil
}

func decodeMatch(data []byte) (*state.MatchState, error) {
	var ms state.MatchState
	if err := json.Unmarshal(data, &ms); err != nil {
		return nil, fmt.Errorf("decode match: %w", err)
	}
	return &ms, nil
}

// MemoryStore keeps snapshots in process memory. Snapshots are stored
// encoded so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	matches map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{matches: make(map[string][]byte)}
}

func (s *MemoryStore) SaveMatch(ctx context.Context, ms *state.MatchState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeMatch(ms)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[ms.ID] = data
	return nil
}

func (s *MemoryStore) LoadMatch(ctx context.Context, matchID string) (*state.MatchState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.matches[matchID]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("LoadMatch", "match %s not found", matchID)
	}
	return decodeMatch(data)
}

func (s *MemoryStore) ListMatches(ctx context.Context) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.matches))
	for _, data := range s.matches {
		ms, err := decodeMatch(data)
		if err != nil {
			return nil, err
		}
		out = append(out, summarize(ms))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() error { return nil }

// Open returns the store selected by cfg, wrapped with retries.
func Open(ctx context.Context, cfg config.DatabaseConfig, retry config.PersistenceConfig, logger *zap.Logger) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case "", "memory":
		store = NewMemoryStore()
	case "postgres":
		store, err = OpenPostgres(ctx, cfg.DSN, cfg.MaxConns)
	case "sqlite":
		store, err = OpenSQLite(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("match store opened", zap.String("driver", cfg.Driver))
	return NewRetryingStore(store, RetryPolicy{
		MaxAttempts:     retry.MaxAttempts,
		InitialInterval: retry.InitialInterval,
		MaxInterval:     retry.MaxInterval,
	}, logger), nil
}
