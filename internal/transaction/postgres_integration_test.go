//go:build integration

package transaction

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbuike/wallet-service/internal/apperrors"
	"github.com/cbuike/wallet-service/internal/logging"
	"github.com/cbuike/wallet-service/internal/storage"
	"github.com/cbuike/wallet-service/internal/testutil"
	"github.com/cbuike/wallet-service/internal/wallet"
)

func TestEngineOnPostgres(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewPostgres(testutil.SetupTestDB(t))
	wallets := wallet.NewService(backend.Wallets(), nil, logging.Discard())
	svc := NewService(backend, wallets, nil, logging.Discard())

	balance := func(id string) int64 {
		w, err := backend.Wallets().Get(ctx, id)
		require.NoError(t, err)
		return w.Balance
	}

	a, err := wallets.Create(ctx)
	require.NoError(t, err)
	b, err := wallets.Create(ctx)
	require.NoError(t, err)

	_, err = svc.Credit(ctx, a.ID, 100, "K1")
	require.NoError(t, err)
	_, err = svc.Debit(ctx, a.ID, 30, "K2")
	require.NoError(t, err)
	_, err = svc.Debit(ctx, a.ID, 1000, "K3")
	require.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
	_, err = svc.Credit(ctx, a.ID, 50, "K1")
	require.ErrorIs(t, err, apperrors.ErrDuplicateOperation)
	assert.Equal(t, int64(70), balance(a.ID))

	tr, err := svc.Transfer(ctx, TransferInput{SenderID: a.ID, ReceiverID: b.ID, Amount: 40, IdempotencyKey: "K4"})
	require.NoError(t, err)
	assert.Equal(t, int64(30), tr.SenderBalance)
	assert.Equal(t, int64(40), tr.ReceiverBalance)
	assert.Less(t, tr.Outgoing.Sequence, tr.Incoming.Sequence)

	_, err = svc.Transfer(ctx, TransferInput{SenderID: a.ID, ReceiverID: "00000000-0000-0000-0000-000000000000", Amount: 1, IdempotencyKey: "K5"})
	var nf *apperrors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "receiver", nf.Subject)

	entries, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	t.Run("concurrent debits", func(t *testing.T) {
		w, err := wallets.Create(ctx)
		require.NoError(t, err)
		_, err = svc.Credit(ctx, w.ID, 100, "seed-concurrent")
		require.NoError(t, err)

		var (
			wg sync.WaitGroup
			ok atomic.Int64
		)
		for i := 0; i < 25; i++ {
			wg.Add(1)
			key := "cd-" + string(rune('a'+i))
			go func() {
				defer wg.Done()
				_, err := svc.Debit(ctx, w.ID, 9, key)
				if err == nil {
					ok.Add(1)
				} else if !errors.Is(err, apperrors.ErrInsufficientFunds) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int64(11), ok.Load())
		assert.Equal(t, int64(1), balance(w.ID))
	})

	t.Run("same key races", func(t *testing.T) {
		w, err := wallets.Create(ctx)
		require.NoError(t, err)

		var (
			wg sync.WaitGroup
			ok atomic.Int64
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := svc.Credit(ctx, w.ID, 10, "race-key"); err == nil {
					ok.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int64(1), ok.Load())
		assert.Equal(t, int64(10), balance(w.ID))
	})
}
