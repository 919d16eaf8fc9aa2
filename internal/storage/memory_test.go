package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbuike/wallet-service/internal/apperrors"
	"github.com/cbuike/wallet-service/internal/ledger"
	"github.com/cbuike/wallet-service/internal/wallet"
)

func add(delta int64) wallet.MutateFunc {
	return func(balance int64) (int64, error) { return balance + delta, nil }
}

func TestMemoryWalletLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	w, err := m.Wallets().Create(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID)
	assert.Zero(t, w.Balance)

	updated, err := m.Wallets().Mutate(ctx, w.ID, add(250))
	require.NoError(t, err)
	assert.Equal(t, int64(250), updated.Balance)

	got, err := m.Wallets().Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), got.Balance)

	_, err = m.Wallets().Mutate(ctx, w.ID, add(-300))
	require.ErrorIs(t, err, apperrors.ErrInsufficientFunds)

	got, err = m.Wallets().Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), got.Balance)

	_, err = m.Wallets().Get(ctx, "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMemoryListKeepsCreationOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var ids []string
	for i := 0; i < 3; i++ {
		w, err := m.Wallets().Create(ctx)
		require.NoError(t, err)
		ids = append(ids, w.ID)
	}

	list, err := m.Wallets().List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, w := range list {
		assert.Equal(t, ids[i], w.ID)
	}
}

func TestMemoryRollbackOnError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	w, err := m.Wallets().Create(ctx)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = m.Do(ctx, Scope{Key: "k1", WalletIDs: []string{w.ID}}, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Wallets().Mutate(ctx, w.ID, add(100)); err != nil {
			return err
		}
		if _, err := tx.Ledger().Append(ctx, ledger.Entry{WalletID: w.ID, Amount: 100, Kind: ledger.KindCredit, IdempotencyKey: "k1"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := m.Wallets().Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Balance)

	exists, err := m.Ledger().Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists)

	entries, err := m.Ledger().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryMutateOutsideScope(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a, err := m.Wallets().Create(ctx)
	require.NoError(t, err)
	b, err := m.Wallets().Create(ctx)
	require.NoError(t, err)

	err = m.Do(ctx, Scope{Key: "k", WalletIDs: []string{a.ID}}, func(ctx context.Context, tx Tx) error {
		_, err := tx.Wallets().Mutate(ctx, b.ID, add(1))
		return err
	})
	require.ErrorIs(t, err, ErrOutOfScope)
}

func TestMemoryDuplicateKindForKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	w, err := m.Wallets().Create(ctx)
	require.NoError(t, err)

	entry := ledger.Entry{WalletID: w.ID, Amount: 10, Kind: ledger.KindCredit, IdempotencyKey: "dup"}
	first, err := m.Ledger().Append(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Sequence)

	_, err = m.Ledger().Append(ctx, entry)
	require.ErrorIs(t, err, apperrors.ErrDuplicateOperation)

	// a transfer writes two kinds under one key
	out := ledger.Entry{WalletID: w.ID, Amount: 5, Kind: ledger.KindTransferOut, IdempotencyKey: "t"}
	in := ledger.Entry{WalletID: w.ID, Amount: 5, Kind: ledger.KindTransferIn, IdempotencyKey: "t"}
	pair, err := m.Ledger().AppendAll(ctx, []ledger.Entry{out, in})
	require.NoError(t, err)
	require.Len(t, pair, 2)
	assert.Less(t, pair[0].Sequence, pair[1].Sequence)
}

func TestMemoryAppendValidates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	w, err := m.Wallets().Create(ctx)
	require.NoError(t, err)

	_, err = m.Ledger().Append(ctx, ledger.Entry{WalletID: w.ID, Amount: 0, Kind: ledger.KindCredit, IdempotencyKey: "a"})
	require.ErrorIs(t, err, apperrors.ErrInvalidAmount)

	_, err = m.Ledger().Append(ctx, ledger.Entry{WalletID: w.ID, Amount: 1, Kind: "REFUND", IdempotencyKey: "a"})
	require.ErrorIs(t, err, apperrors.ErrInvalidTransactionType)

	_, err = m.Ledger().Append(ctx, ledger.Entry{WalletID: "nope", Amount: 1, Kind: ledger.KindCredit, IdempotencyKey: "a"})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	entries, err := m.Ledger().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryConcurrentMutationsSerialize(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	w, err := m.Wallets().Create(ctx)
	require.NoError(t, err)

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := m.Wallets().Mutate(ctx, w.ID, add(2))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := m.Wallets().Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2*workers), got.Balance)
	assert.Zero(t, m.walletLocks.size())
}

func TestMemoryCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMemory()
	called := false
	err := m.Do(ctx, Scope{Key: "k"}, func(context.Context, Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestScopeOrderedWallets(t *testing.T) {
	s := Scope{WalletIDs: []string{"c", "a", "c", "b"}}
	assert.Equal(t, []string{"a", "b", "c"}, s.orderedWallets())
}

func TestKeyedMutexForgetsReleasedKeys(t *testing.T) {
	var k keyedMutex
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())

	unlockA()
	assert.Equal(t, 1, k.size())
	unlockB()
	assert.Zero(t, k.size())
}

func TestMemoryBatchLocksEveryKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	w, err := m.Wallets().Create(ctx)
	require.NoError(t, err)

	unlock := m.keys.Lock("key-b")
	done := make(chan error, 1)
	go func() {
		_, err := m.Ledger().AppendAll(ctx, []ledger.Entry{
			{WalletID: w.ID, Amount: 1, Kind: ledger.KindCredit, IdempotencyKey: "key-a"},
			{WalletID: w.ID, Amount: 1, Kind: ledger.KindCredit, IdempotencyKey: "key-b"},
		})
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("batch committed while key-b was held: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("batch never acquired key-b")
	}
	assert.Zero(t, m.keys.size())

	entries, err := m.Ledger().List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestMemoryBatchRejectsRepeatedKeyKind(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	w, err := m.Wallets().Create(ctx)
	require.NoError(t, err)

	entry := ledger.Entry{WalletID: w.ID, Amount: 1, Kind: ledger.KindDebit, IdempotencyKey: "twice"}
	_, err = m.Ledger().AppendAll(ctx, []ledger.Entry{entry, entry})
	require.ErrorIs(t, err, apperrors.ErrDuplicateOperation)

	entries, err := m.Ledger().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
