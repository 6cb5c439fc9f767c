package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/empiretcg/empire-server-go/internal/apperrors"
	"github.com/empiretcg/empire-server-go/internal/game/state"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS matches (
	id          TEXT PRIMARY KEY,
	player_one  TEXT NOT NULL,
	player_two  TEXT NOT NULL,
	round       INTEGER NOT NULL,
	phase       TEXT NOT NULL,
	winner      TEXT NOT NULL DEFAULT '',
	version     INTEGER NOT NULL,
	state       TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);`

// SQLiteStore keeps snapshots in a single-file SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// OpenSQLite opens the database at path and creates the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; match writes are already serialized per match.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveMatch(ctx context.Context, ms *state.MatchState) error {
	data, err := encodeMatch(ms)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO matches (id, player_one, player_two, round, phase, winner, version, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			round = excluded.round,
			phase = excluded.phase,
			winner = excluded.winner,
			version = excluded.version,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		ms.ID, ms.Players[0], ms.Players[1], ms.Round, ms.Phase.String(), ms.Winner,
		ms.Version, string(data), toMillis(ms.CreatedAt), toMillis(ms.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save match %s: %w", ms.ID, err)
	}
	return nil
}

func (s *SQLiteStore) LoadMatch(ctx context.Context, matchID string) (*state.MatchState, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM matches WHERE id = ?`, matchID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("LoadMatch", "match %s not found", matchID)
	}
	if err != nil {
		return nil, fmt.Errorf("load match %s: %w", matchID, err)
	}
	return decodeMatch([]byte(data))
}

func (s *SQLiteStore) ListMatches(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, player_one, player_two, round, phase, winner, version, updated_at
		FROM matches ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			m       Summary
			updated int64
		)
		if err := rows.Scan(&m.ID, &m.Players[0], &m.Players[1], &m.Round, &m.Phase, &m.Winner, &m.Version, &updated); err != nil {
			return nil, fmt.Errorf("scan match row: %w", err)
		}
		m.UpdatedAt = fromMillis(updated)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
