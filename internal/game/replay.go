package game

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/empiretcg/empire-server-go/internal/game/state"
	"go.uber.org/zap"
)

const replayVersion = 1

// Replay is the sequence of committed states of one match, oldest first.
type Replay struct {
	MatchID string
	States  []*state.MatchState
	mu      sync.RWMutex
}

// NewReplay creates an empty replay.
func NewReplay(matchID string) *Replay {
	return &Replay{
		MatchID: matchID,
		States:  make([]*state.MatchState, 0),
	}
}

// RecordState appends a copy of ms.
func (r *Replay) RecordState(ms *state.MatchState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.States = append(r.States, ms.Clone())
}

// Size returns the number of recorded states.
func (r *Replay) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.States)
}

// StateAt returns the state at index, or nil when out of range.
func (r *Replay) StateAt(index int) *state.MatchState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if index >= 0 && index < len(r.States) {
		return r.States[index]
	}
	return nil
}

// Checksums returns the checksum of every recorded state, oldest first.
func (r *Replay) Checksums() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.States))
	for i, ms := range r.States {
		out[i] = ms.Checksum()
	}
	return out
}

// Verify checks that every recorded state still matches the checksum it
// was saved with.
func (r *Replay) Verify(checksums []string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(checksums) != len(r.States) {
		return fmt.Errorf("replay %s: %d checksums for %d states", r.MatchID, len(checksums), len(r.States))
	}
	for i, ms := range r.States {
		if got := ms.Checksum(); got != checksums[i] {
			return fmt.Errorf("replay %s: state %d checksum mismatch", r.MatchID, i)
		}
	}
	return nil
}

type replayMetadata struct {
	MatchID    string
	Timestamp  time.Time
	Version    int
	StateCount int
	Checksums  []string
}

// SaveToFile writes the replay as gzip-compressed gob to
// <directory>/<match id>.replay.
func (r *Replay) SaveToFile(directory string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("create replay directory: %w", err)
	}
	file, err := os.Create(filepath.Join(directory, r.MatchID+".replay"))
	if err != nil {
		return fmt.Errorf("create replay file: %w", err)
	}
	defer file.Close()

	zw := gzip.NewWriter(file)
	enc := gob.NewEncoder(zw)

	meta := replayMetadata{
		MatchID:    r.MatchID,
		Timestamp:  time.Now().UTC(),
		Version:    replayVersion,
		StateCount: len(r.States),
		Checksums:  make([]string, len(r.States)),
	}
	for i, ms := range r.States {
		meta.Checksums[i] = ms.Checksum()
	}
	if err := enc.Encode(&meta); err != nil {
		return fmt.Errorf("encode replay metadata: %w", err)
	}
	for i, ms := range r.States {
		if err := enc.Encode(ms); err != nil {
			return fmt.Errorf("encode replay state %d: %w", i, err)
		}
	}
	return zw.Close()
}

// LoadReplayFromFile reads a replay written by SaveToFile and verifies the
// stored checksums.
func LoadReplayFromFile(directory, matchID string) (*Replay, error) {
	file, err := os.Open(filepath.Join(directory, matchID+".replay"))
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	defer file.Close()

	zr, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("open replay gzip stream: %w", err)
	}
	defer zr.Close()
	dec := gob.NewDecoder(zr)

	var meta replayMetadata
	if err := dec.Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode replay metadata: %w", err)
	}
	if meta.Version != replayVersion {
		return nil, fmt.Errorf("unsupported replay version: %d", meta.Version)
	}

	replay := NewReplay(meta.MatchID)
	for i := 0; i < meta.StateCount; i++ {
		var ms state.MatchState
		if err := dec.Decode(&ms); err != nil {
			return nil, fmt.Errorf("decode replay state %d: %w", i, err)
		}
		replay.States = append(replay.States, &ms)
	}
	if err := replay.Verify(meta.Checksums); err != nil {
		return nil, err
	}
	return replay, nil
}

// ReplayRecorder keeps an in-memory replay per match and writes it out
// when the match ends.
type ReplayRecorder struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	replays map[string]*Replay
	saveDir string
}

// NewReplayRecorder creates a recorder writing to saveDir.
func NewReplayRecorder(logger *zap.Logger, saveDir string) *ReplayRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplayRecorder{
		logger:  logger,
		replays: make(map[string]*Replay),
		saveDir: saveDir,
	}
}

// StartRecording begins a fresh replay for matchID.
func (rr *ReplayRecorder) StartRecording(matchID string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	rr.replays[matchID] = NewReplay(matchID)
	rr.logger.Debug("started replay recording", zap.String("match_id", matchID))
}

// RecordState appends ms to the match's replay if one is being recorded.
func (rr *ReplayRecorder) RecordState(ms *state.MatchState) {
	rr.mu.RLock()
	replay := rr.replays[ms.ID]
	rr.mu.RUnlock()

	if replay == nil {
		return
	}
	replay.RecordState(ms)
}

// Replay returns the in-memory replay for matchID.
func (rr *ReplayRecorder) Replay(matchID string) (*Replay, bool) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	replay, ok := rr.replays[matchID]
	return replay, ok
}

// SaveReplay writes the replay to disk and forgets it.
func (rr *ReplayRecorder) SaveReplay(matchID string) error {
	rr.mu.Lock()
	replay, ok := rr.replays[matchID]
	if !ok {
		rr.mu.Unlock()
		return fmt.Errorf("no replay for match %s", matchID)
	}
	delete(rr.replays, matchID)
	rr.mu.Unlock()

	if err := replay.SaveToFile(rr.saveDir); err != nil {
		return fmt.Errorf("save replay: %w", err)
	}
	rr.logger.Info("saved replay",
		zap.String("match_id", matchID),
		zap.Int("state_count", replay.Size()),
		zap.String("directory", rr.saveDir),
	)
	return nil
}

// LoadReplay reads a saved replay from the recorder's directory.
func (rr *ReplayRecorder) LoadReplay(matchID string) (*Replay, error) {
	return LoadReplayFromFile(rr.saveDir, matchID)
}

// Discard drops the in-memory replay of a match that will not finish, and
// reports whether there was one.
func (rr *ReplayRecorder) Discard(matchID string) bool {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	_, ok := rr.replays[matchID]
	delete(rr.replays, matchID)
	return ok
}
