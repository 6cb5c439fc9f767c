package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/empiretcg/empire-server-go/internal/apperrors"
	"github.com/empiretcg/empire-server-go/internal/game/state"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS matches (
	id          TEXT PRIMARY KEY,
	player_one  TEXT NOT NULL,
	player_two  TEXT NOT NULL,
	round       INTEGER NOT NULL,
	phase       TEXT NOT NULL,
	winner      TEXT NOT NULL DEFAULT '',
	version     BIGINT NOT NULL,
	state       JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS matches_updated_at_idx ON matches (updated_at DESC);
`

// PostgresStore keeps snapshots in a PostgreSQL jsonb column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the matches table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate matches table: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveMatch(ctx context.Context, ms *state.MatchState) error {
	data, err := encodeMatch(ms)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO matches (id, player_one, player_two, round, phase, winner, version, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			round = EXCLUDED.round,
			phase = EXCLUDED.phase,
			winner = EXCLUDED.winner,
			version = EXCLUDED.version,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`,
		ms.ID, ms.Players[0], ms.Players[1], ms.Round, ms.Phase.String(), ms.Winner,
		ms.Version, data, ms.CreatedAt.UTC(), ms.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save match %s: %w", ms.ID, err)
	}
	return nil
}

func (s *PostgresStore) LoadMatch(ctx context.Context, matchID string) (*state.MatchState, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT state FROM matches WHERE id = $1`, matchID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("LoadMatch", "match %s not found", matchID)
	}
	if err != nil {
		return nil, fmt.Errorf("load match %s: %w", matchID, err)
	}
	return decodeMatch(data)
}

func (s *PostgresStore) ListMatches(ctx context.Context) ([]Summary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, player_one, player_two, round, phase, winner, version, updated_at
		FROM matches ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var m Summary
		if err := rows.Scan(&m.ID, &m.Players[0], &m.Players[1], &m.Round, &m.Phase, &m.Winner, &m.Version, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan match row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
