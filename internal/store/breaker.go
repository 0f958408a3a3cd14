// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package store

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/reelfeed/reelfeed/internal/logging"
	"github.com/reelfeed/reelfeed/internal/metrics"
	"github.com/reelfeed/reelfeed/internal/models"
)

// BreakerConfig configures the circuit breakers wrapped around the backing
// item and grant stores.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig returns conservative breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker[interface{}] {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("store circuit breaker state change")
			metrics.StoreBreakerState.WithLabelValues(name).Set(float64(to))
		},
	}
	return gobreaker.NewCircuitBreaker[interface{}](settings)
}

// BreakerItemStore wraps an ItemStore with a circuit breaker so a failing
// backing store sheds load fast instead of stacking up slow calls.
// ErrNotFound passes through without counting as a failure.
type BreakerItemStore struct {
	inner ItemStore
	cb    *gobreaker.CircuitBreaker[interface{}]
}

// NewBreakerItemStore wraps the given store.
func NewBreakerItemStore(inner ItemStore, cfg BreakerConfig) *BreakerItemStore {
	return &BreakerItemStore{
		inner: inner,
		cb:    newBreaker("items", cfg),
	}
}

// execute runs fn through the breaker, treating ErrNotFound as success.
func (s *BreakerItemStore) execute(fn func() (interface{}, error)) (interface{}, error) {
	out, err := s.cb.Execute(func() (interface{}, error) {
		v, err := fn()
		if errors.Is(err, ErrNotFound) {
			// Missing records are valid answers, not backend failures.
			return notFoundResult{v}, nil
		}
		return v, err
	})
	if nf, ok := out.(notFoundResult); ok {
		return nf.v, ErrNotFound
	}
	return out, err
}

type notFoundResult struct{ v interface{} }

func (s *BreakerItemStore) PutItem(ctx context.Context, item *models.Item) error {
	_, err := s.execute(func() (interface{}, error) {
		return nil, s.inner.PutItem(ctx, item)
	})
	return err
}

func (s *BreakerItemStore) GetItem(ctx context.Context, id string) (*models.Item, error) {
	out, err := s.execute(func() (interface{}, error) {
		return s.inner.GetItem(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return out.(*models.Item), nil
}

func (s *BreakerItemStore) DeleteItem(ctx context.Context, id string) error {
	_, err := s.execute(func() (interface{}, error) {
		return nil, s.inner.DeleteItem(ctx, id)
	})
	return err
}

func (s *BreakerItemStore) ListItemsByOwner(ctx context.Context, ownerID string) ([]*models.Item, error) {
	out, err := s.execute(func() (interface{}, error) {
		return s.inner.ListItemsByOwner(ctx, ownerID)
	})
	if err != nil {
		return nil, err
	}
	return out.([]*models.Item), nil
}

func (s *BreakerItemStore) ListPublicItemsSince(ctx context.Context, since time.Time) ([]*models.Item, error) {
	out, err := s.execute(func() (interface{}, error) {
		return s.inner.ListPublicItemsSince(ctx, since)
	})
	if err != nil {
		return nil, err
	}
	return out.([]*models.Item), nil
}

func (s *BreakerItemStore) UpdateCounters(ctx context.Context, itemID string, likeDelta, commentDelta int64) (*models.Item, error) {
	out, err := s.execute(func() (interface{}, error) {
		return s.inner.UpdateCounters(ctx, itemID, likeDelta, commentDelta)
	})
	if err != nil {
		return nil, err
	}
	return out.(*models.Item), nil
}

// State returns the breaker state for health reporting.
func (s *BreakerItemStore) State() string {
	return s.cb.State().String()
}

// BreakerGrantStore wraps a GrantStore with a circuit breaker.
type BreakerGrantStore struct {
	inner GrantStore
	cb    *gobreaker.CircuitBreaker[interface{}]
}

// NewBreakerGrantStore wraps the given store.
func NewBreakerGrantStore(inner GrantStore, cfg BreakerConfig) *BreakerGrantStore {
	return &BreakerGrantStore{
		inner: inner,
		cb:    newBreaker("grants", cfg),
	}
}

func (s *BreakerGrantStore) execute(fn func() (interface{}, error)) (interface{}, error) {
	out, err := s.cb.Execute(func() (interface{}, error) {
		v, err := fn()
		if errors.Is(err, ErrNotFound) {
			return notFoundResult{v}, nil
		}
		return v, err
	})
	if nf, ok := out.(notFoundResult); ok {
		return nf.v, ErrNotFound
	}
	return out, err
}

func (s *BreakerGrantStore) PutGrant(ctx context.Context, grant *models.SharingGrant) error {
	_, err := s.execute(func() (interface{}, error) {
		return nil, s.inner.PutGrant(ctx, grant)
	})
	return err
}

func (s *BreakerGrantStore) GetGrant(ctx context.Context, granteeID, itemID string, kind models.GrantKind) (*models.SharingGrant, error) {
	out, err := s.execute(func() (interface{}, error) {
		return s.inner.GetGrant(ctx, granteeID, itemID, kind)
	})
	if err != nil {
		return nil, err
	}
	return out.(*models.SharingGrant), nil
}

func (s *BreakerGrantStore) ListGrantsForItem(ctx context.Context, granteeID, itemID string) ([]*models.SharingGrant, error) {
	out, err := s.execute(func() (interface{}, error) {
		return s.inner.ListGrantsForItem(ctx, granteeID, itemID)
	})
	if err != nil {
		return nil, err
	}
	return out.([]*models.SharingGrant), nil
}

func (s *BreakerGrantStore) ListGrantsForGrantee(ctx context.Context, granteeID string) ([]*models.SharingGrant, error) {
	out, err := s.execute(func() (interface{}, error) {
		return s.inner.ListGrantsForGrantee(ctx, granteeID)
	})
	if err != nil {
		return nil, err
	}
	return out.([]*models.SharingGrant), nil
}

func (s *BreakerGrantStore) RevokeGrant(ctx context.Context, granteeID, itemID string, kind models.GrantKind) error {
	_, err := s.execute(func() (interface{}, error) {
		return nil, s.inner.RevokeGrant(ctx, granteeID, itemID, kind)
	})
	return err
}

func (s *BreakerGrantStore) RevokeTrustedGrants(ctx context.Context, ownerID, granteeID string) ([]*models.SharingGrant, error) {
	out, err := s.execute(func() (interface{}, error) {
		return s.inner.RevokeTrustedGrants(ctx, ownerID, granteeID)
	})
	if err != nil {
		return nil, err
	}
	return out.([]*models.SharingGrant), nil
}

// State returns the breaker state for health reporting.
func (s *BreakerGrantStore) State() string {
	return s.cb.State().String()
}
