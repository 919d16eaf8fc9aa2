package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cbuike/wallet-service/internal/apperrors"
	"github.com/cbuike/wallet-service/internal/ledger"
	"github.com/cbuike/wallet-service/internal/wallet"
)

// Memory is a concurrency-safe in-process backend. Transactions stage their writes and apply
// them under a single write lock at commit, so readers never observe a partial transfer.
type Memory struct {
	keys        keyedMutex
	walletLocks keyedMutex

	mu       sync.RWMutex
	wallets  map[string]wallet.Wallet
	order    []string
	entries  []ledger.Entry
	keyKinds map[string]map[ledger.Kind]struct{}

	seq atomic.Int64
	now func() time.Time
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		wallets:  make(map[string]wallet.Wallet),
		keyKinds: make(map[string]map[ledger.Kind]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Wallets returns an autocommit wallet store.
func (m *Memory) Wallets() wallet.Store { return memoryWallets{m: m} }

// Ledger returns an autocommit ledger store.
func (m *Memory) Ledger() ledger.Store { return memoryLedger{m: m} }

// Do runs fn inside a transaction holding the scope's locks. Waiting for a lock does not observe
// ctx; the check happens before locking.
func (m *Memory) Do(ctx context.Context, scope Scope, fn func(ctx context.Context, tx Tx) error) error {
	return m.run(ctx, []string{scope.Key}, scope.orderedWallets(), fn)
}

// run locks keys in ascending order, then walletIDs, which must already be sorted.
func (m *Memory) run(ctx context.Context, keys, walletIDs []string, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := m.begin(keys, walletIDs)
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *Memory) begin(keys, walletIDs []string) *memoryTx {
	var unlocks []func()
	for _, key := range sortedUnique(keys) {
		if key == "" {
			continue
		}
		unlocks = append(unlocks, m.keys.Lock(key))
	}
	locked := make(map[string]bool, len(walletIDs))
	for _, id := range walletIDs {
		unlocks = append(unlocks, m.walletLocks.Lock(id))
		locked[id] = true
	}

	return &memoryTx{
		m:       m,
		locked:  locked,
		staged:  make(map[string]wallet.Wallet),
		pending: make(map[string]map[ledger.Kind]struct{}),
		release: func() {
			for i := len(unlocks) - 1; i >= 0; i-- {
				unlocks[i]()
			}
		},
	}
}

func (m *Memory) commit(tx *memoryTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range tx.entries {
		if _, dup := m.keyKinds[e.IdempotencyKey][e.Kind]; dup {
			return apperrors.Duplicate(e.IdempotencyKey)
		}
	}

	for _, id := range tx.created {
		m.order = append(m.order, id)
	}
	for id, w := range tx.staged {
		m.wallets[id] = w
	}
	for _, e := range tx.entries {
		kinds, ok := m.keyKinds[e.IdempotencyKey]
		if !ok {
			kinds = make(map[ledger.Kind]struct{})
			m.keyKinds[e.IdempotencyKey] = kinds
		}
		kinds[e.Kind] = struct{}{}
		m.entries = append(m.entries, e)
	}
	return nil
}

func (m *Memory) getWallet(id string) (wallet.Wallet, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[id]
	return w, ok
}

func (m *Memory) keyExists(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keyKinds[key]) > 0
}

func (m *Memory) listWallets() []wallet.Wallet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]wallet.Wallet, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.wallets[id])
	}
	return out
}

func (m *Memory) listEntries() []ledger.Entry {
	m.mu.RLock()
	out := make([]ledger.Entry, len(m.entries))
	copy(out, m.entries)
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

type memoryTx struct {
	m       *Memory
	locked  map[string]bool
	release func()

	created []string
	staged  map[string]wallet.Wallet
	entries []ledger.Entry
	pending map[string]map[ledger.Kind]struct{}
}

func (tx *memoryTx) Wallets() wallet.Store { return txWallets{tx: tx} }
func (tx *memoryTx) Ledger() ledger.Store  { return txLedger{tx: tx} }

func (tx *memoryTx) wallet(id string) (wallet.Wallet, bool) {
	if w, ok := tx.staged[id]; ok {
		return w, true
	}
	return tx.m.getWallet(id)
}

type txWallets struct{ tx *memoryTx }

func (s txWallets) Create(_ context.Context) (wallet.Wallet, error) {
	now := s.tx.m.now()
	w := wallet.Wallet{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
	s.tx.created = append(s.tx.created, w.ID)
	s.tx.staged[w.ID] = w
	s.tx.locked[w.ID] = true
	return w, nil
}

func (s txWallets) Get(_ context.Context, id string) (wallet.Wallet, error) {
	w, ok := s.tx.wallet(id)
	if !ok {
		return wallet.Wallet{}, apperrors.NotFound("wallet", id)
	}
	return w, nil
}

func (s txWallets) List(_ context.Context) ([]wallet.Wallet, error) {
	out := s.tx.m.listWallets()
	for i, w := range out {
		if staged, ok := s.tx.staged[w.ID]; ok {
			out[i] = staged
		}
	}
	for _, id := range s.tx.created {
		out = append(out, s.tx.staged[id])
	}
	return out, nil
}

func (s txWallets) Mutate(_ context.Context, id string, fn wallet.MutateFunc) (wallet.Wallet, error) {
	current, ok := s.tx.wallet(id)
	if !ok {
		return wallet.Wallet{}, apperrors.NotFound("wallet", id)
	}
	if !s.tx.locked[id] {
		return wallet.Wallet{}, fmt.Errorf("%w: %s", ErrOutOfScope, id)
	}

	next, err := fn(current.Balance)
	if err != nil {
		return wallet.Wallet{}, err
	}
	if next < 0 {
		return wallet.Wallet{}, apperrors.ErrInsufficientFunds
	}

	current.Balance = next
	current.UpdatedAt = s.tx.m.now()
	s.tx.staged[id] = current
	return current, nil
}

type txLedger struct{ tx *memoryTx }

func (s txLedger) Exists(_ context.Context, key string) (bool, error) {
	if len(s.tx.pending[key]) > 0 {
		return true, nil
	}
	return s.tx.m.keyExists(key), nil
}

func (s txLedger) Append(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	out, err := s.AppendAll(ctx, []ledger.Entry{entry})
	if err != nil {
		return ledger.Entry{}, err
	}
	return out[0], nil
}

func (s txLedger) AppendAll(_ context.Context, entries []ledger.Entry) ([]ledger.Entry, error) {
	batch := make(map[string]map[ledger.Kind]struct{}, len(entries))
	for _, e := range entries {
		if e.Amount <= 0 {
			return nil, apperrors.ErrInvalidAmount
		}
		if _, err := ledger.ParseKind(string(e.Kind)); err != nil {
			return nil, err
		}
		if _, ok := s.tx.wallet(e.WalletID); !ok {
			return nil, apperrors.NotFound("wallet", e.WalletID)
		}
		if _, dup := s.tx.pending[e.IdempotencyKey][e.Kind]; dup {
			return nil, apperrors.Duplicate(e.IdempotencyKey)
		}
		if _, dup := batch[e.IdempotencyKey][e.Kind]; dup {
			return nil, apperrors.Duplicate(e.IdempotencyKey)
		}
		if batch[e.IdempotencyKey] == nil {
			batch[e.IdempotencyKey] = make(map[ledger.Kind]struct{})
		}
		batch[e.IdempotencyKey][e.Kind] = struct{}{}
	}

	now := s.tx.m.now()
	out := make([]ledger.Entry, 0, len(entries))
	for _, e := range entries {
		e.ID = uuid.NewString()
		e.Sequence = s.tx.m.seq.Add(1)
		e.CreatedAt = now

		kinds, ok := s.tx.pending[e.IdempotencyKey]
		if !ok {
			kinds = make(map[ledger.Kind]struct{})
			s.tx.pending[e.IdempotencyKey] = kinds
		}
		kinds[e.Kind] = struct{}{}
		s.tx.entries = append(s.tx.entries, e)
		out = append(out, e)
	}
	return out, nil
}

func (s txLedger) List(_ context.Context) ([]ledger.Entry, error) {
	out := append(s.tx.m.listEntries(), s.tx.entries...)
	return out, nil
}

type memoryWallets struct{ m *Memory }

func (s memoryWallets) Create(ctx context.Context) (wallet.Wallet, error) {
	var created wallet.Wallet
	err := s.m.Do(ctx, Scope{}, func(ctx context.Context, tx Tx) error {
		w, err := tx.Wallets().Create(ctx)
		created = w
		return err
	})
	return created, err
}

func (s memoryWallets) Get(_ context.Context, id string) (wallet.Wallet, error) {
	w, ok := s.m.getWallet(id)
	if !ok {
		return wallet.Wallet{}, apperrors.NotFound("wallet", id)
	}
	return w, nil
}

func (s memoryWallets) List(_ context.Context) ([]wallet.Wallet, error) {
	return s.m.listWallets(), nil
}

func (s memoryWallets) Mutate(ctx context.Context, id string, fn wallet.MutateFunc) (wallet.Wallet, error) {
	var updated wallet.Wallet
	err := s.m.Do(ctx, Scope{WalletIDs: []string{id}}, func(ctx context.Context, tx Tx) error {
		w, err := tx.Wallets().Mutate(ctx, id, fn)
		updated = w
		return err
	})
	if err != nil {
		return wallet.Wallet{}, err
	}
	return updated, nil
}

type memoryLedger struct{ m *Memory }

func (s memoryLedger) Exists(_ context.Context, key string) (bool, error) {
	return s.m.keyExists(key), nil
}

func (s memoryLedger) Append(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	out, err := s.AppendAll(ctx, []ledger.Entry{entry})
	if err != nil {
		return ledger.Entry{}, err
	}
	return out[0], nil
}

func (s memoryLedger) AppendAll(ctx context.Context, entries []ledger.Entry) ([]ledger.Entry, error) {
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.IdempotencyKey)
	}
	var out []ledger.Entry
	err := s.m.run(ctx, keys, nil, func(ctx context.Context, tx Tx) error {
		appended, err := tx.Ledger().AppendAll(ctx, entries)
		out = appended
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s memoryLedger) List(_ context.Context) ([]ledger.Entry, error) {
	return s.m.listEntries(), nil
}
