// Package cache keeps wallet snapshots in Redis for the read path.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cbuike/wallet-service/internal/wallet"
)

const (
	walletPrefix     = "wallet:v1:"
	generationPrefix = "wallet:v1:gen:"
)

// WalletCache stores JSON-encoded wallets with a TTL. Every wallet also has a generation counter
// that Invalidate bumps; a fill only lands if the generation it was read under is still current.
type WalletCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewWalletCache builds a cache on client. A non-positive ttl defaults to one minute.
func NewWalletCache(client *redis.Client, ttl time.Duration) *WalletCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &WalletCache{client: client, ttl: ttl}
}

func walletKey(id string) string     { return walletPrefix + id }
func generationKey(id string) string { return generationPrefix + id }

// Get returns the cached wallet and whether it was present.
func (c *WalletCache) Get(ctx context.Context, id string) (wallet.Wallet, bool, error) {
	raw, err := c.client.Get(ctx, walletKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return wallet.Wallet{}, false, nil
	}
	if err != nil {
		return wallet.Wallet{}, false, fmt.Errorf("get cached wallet: %w", err)
	}

	var w wallet.Wallet
	if err := json.Unmarshal(raw, &w); err != nil {
		return wallet.Wallet{}, false, fmt.Errorf("decode cached wallet: %w", err)
	}
	return w, true, nil
}

// Generation returns the wallet's current invalidation counter. A wallet never invalidated is at 0.
func (c *WalletCache) Generation(ctx context.Context, id string) (int64, error) {
	gen, err := readGeneration(ctx, c.client, id)
	if err != nil {
		return 0, fmt.Errorf("get wallet generation: %w", err)
	}
	return gen, nil
}

// Fill stores a snapshot read under generation. It is a no-op when the wallet was invalidated
// since then.
func (c *WalletCache) Fill(ctx context.Context, w wallet.Wallet, generation int64) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode wallet: %w", err)
	}

	genKey := generationKey(w.ID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(ctx, tx, w.ID)
		if err != nil {
			return err
		}
		if current != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, walletKey(w.ID), raw, c.ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		// invalidated while filling
		return nil
	}
	if err != nil {
		return fmt.Errorf("cache wallet: %w", err)
	}
	return nil
}

// Invalidate bumps the generation of ids and drops their snapshots.
func (c *WalletCache) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Incr(ctx, generationKey(id))
			pipe.Del(ctx, walletKey(id))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate wallets: %w", err)
	}
	return nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readGeneration(ctx context.Context, r getter, id string) (int64, error) {
	gen, err := r.Get(ctx, generationKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}
