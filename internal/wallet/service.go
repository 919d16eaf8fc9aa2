package wallet

import (
	"context"
	"log/slog"
)

// Cache is a read-through cache of wallet snapshots. Invalidate advances a wallet's generation;
// Fill must drop a snapshot whose generation is no longer current.
type Cache interface {
	Get(ctx context.Context, id string) (Wallet, bool, error)
	Generation(ctx context.Context, id string) (int64, error)
	Fill(ctx context.Context, w Wallet, generation int64) error
	Invalidate(ctx context.Context, ids ...string) error
}

// Service exposes wallet lookups backed by the store, with an optional cache on reads.
type Service struct {
	store  Store
	cache  Cache
	logger *slog.Logger
}

// NewService builds a wallet service. cache may be nil.
func NewService(store Store, cache Cache, logger *slog.Logger) *Service {
	return &Service{store: store, cache: cache, logger: logger}
}

// Create provisions a wallet with a zero balance.
func (s *Service) Create(ctx context.Context) (Wallet, error) {
	return s.store.Create(ctx)
}

// Get retrieves a wallet, consulting the cache first.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	if s.cache == nil {
		return s.store.Get(ctx, id)
	}

	w, ok, err := s.cache.Get(ctx, id)
	if err != nil {
		s.logger.Warn("wallet cache lookup failed", slog.String("wallet_id", id), slog.Any("error", err))
	} else if ok {
		return w, nil
	}

	// the generation must be read before the store so a commit landing in between voids the fill
	gen, genErr := s.cache.Generation(ctx, id)

	w, err = s.store.Get(ctx, id)
	if err != nil {
		return Wallet{}, err
	}

	if genErr != nil {
		s.logger.Warn("wallet cache generation lookup failed", slog.String("wallet_id", id), slog.Any("error", genErr))
		return w, nil
	}
	if err := s.cache.Fill(ctx, w, gen); err != nil {
		s.logger.Warn("wallet cache fill failed", slog.String("wallet_id", id), slog.Any("error", err))
	}
	return w, nil
}

// List returns every wallet.
func (s *Service) List(ctx context.Context) ([]Wallet, error) {
	return s.store.List(ctx)
}

// Forget drops cached snapshots after their balances changed.
func (s *Service) Forget(ctx context.Context, ids ...string) {
	if s.cache == nil || len(ids) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, ids...); err != nil {
		s.logger.Warn("wallet cache invalidation failed", slog.Any("wallet_ids", ids), slog.Any("error", err))
	}
}
