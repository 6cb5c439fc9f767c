package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/empiretcg/empire-server-go/internal/apperrors"
	"github.com/empiretcg/empire-server-go/internal/game/state"
	"go.uber.org/zap"
)

// RetryPolicy bounds how hard RetryingStore tries before giving up.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 3
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 50 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = time.Second
	}
	return p
}

// RetryingStore retries failed store calls with exponential backoff. A
// save that still fails is reported as a Persistence error. Not-found
// loads are returned immediately.
type RetryingStore struct {
	inner  Store
	policy RetryPolicy
	logger *zap.Logger
}

// NewRetryingStore wraps inner.
func NewRetryingStore(inner Store, policy RetryPolicy, logger *zap.Logger) *RetryingStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingStore{inner: inner, policy: policy.withDefaults(), logger: logger}
}

// Unwrap returns the wrapped store.
func (s *RetryingStore) Unwrap() Store { return s.inner }

func (s *RetryingStore) options() []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.policy.InitialInterval
	b.MaxInterval = s.policy.MaxInterval
	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.policy.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("match store call failed, retrying",
				zap.Duration("retry_in", next),
				zap.Error(err))
		}),
	}
}

func (s *RetryingStore) SaveMatch(ctx context.Context, ms *state.MatchState) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.inner.SaveMatch(ctx, ms)
	}, s.options()...)
	if err != nil {
		s.logger.Error("match save failed",
			zap.String("match_id", ms.ID),
			zap.Int64("version", ms.Version),
			zap.Error(err))
		return apperrors.Persistence("SaveMatch", err)
	}
	return nil
}

func (s *RetryingStore) LoadMatch(ctx context.Context, matchID string) (*state.MatchState, error) {
	ms, err := backoff.Retry(ctx, func() (*state.MatchState, error) {
		ms, err := s.inner.LoadMatch(ctx, matchID)
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, backoff.Permanent(err)
		}
		return ms, err
	}, s.options()...)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, apperrors.Persistence("LoadMatch", err)
	}
	return ms, nil
}

func (s *RetryingStore) ListMatches(ctx context.Context) ([]Summary, error) {
	out, err := backoff.Retry(ctx, func() ([]Summary, error) {
		return s.inner.ListMatches(ctx)
	}, s.options()...)
	if err != nil {
		return nil, apperrors.Persistence("ListMatches", err)
	}
	return out, nil
}

func (s *RetryingStore) Ping(ctx context.Context) error { return s.inner.Ping(ctx) }

func (s *RetryingStore) Close() error { return s.inner.Close() }
