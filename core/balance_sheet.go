package core

import (
	"sort"
	"sync"

	"github.com/holiman/uint256"
)

// BalanceSheet tracks the fungible balances attached to a single outpoint or
// call frame: a sparse map from ProtoruneRuneId to a u128 amount, with zero
// entries never retained. Grounded on the teacher's BalanceTable
// (map[TokenID]map[Address]uint64 guarded by a mutex), generalized from a
// two-level uint64 table to a single-level map keyed on the 256-bit id and
// valued with uint256 so amounts cannot silently wrap at 2^64.
type BalanceSheet struct {
	mu      sync.RWMutex
	amounts map[[32]byte]*uint256.Int
}

// NewBalanceSheet returns an empty sheet.
func NewBalanceSheet() *BalanceSheet {
	return &BalanceSheet{amounts: make(map[[32]byte]*uint256.Int)}
}

// Get returns the balance for id, or zero if absent.
func (b *BalanceSheet) Get(id ProtoruneRuneId) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if v, ok := b.amounts[id.Bytes()]; ok {
		return new(uint256.Int).Set(v)
	}
	return new(uint256.Int)
}

// Set overwrites the balance for id. A zero amount removes the entry so the
// sheet never carries dead zero rows.
func (b *BalanceSheet) Set(id ProtoruneRuneId, amt *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if amt.IsZero() {
		delete(b.amounts, id.Bytes())
		return
	}
	b.amounts[id.Bytes()] = new(uint256.Int).Set(amt)
}

// Increase adds delta to id's balance.
func (b *BalanceSheet) Increase(id ProtoruneRuneId, delta *uint256.Int) {
	cur := b.Get(id)
	cur.Add(cur, delta)
	b.Set(id, cur)
}

// Decrease subtracts delta from id's balance. It returns false without
// mutating the sheet if delta exceeds the current balance, so the caller
// (the call orchestrator) can reject the edict or message atomically.
func (b *BalanceSheet) Decrease(id ProtoruneRuneId, delta *uint256.Int) bool {
	cur := b.Get(id)
	if cur.Lt(delta) {
		return false
	}
	cur.Sub(cur, delta)
	b.Set(id, cur)
	return true
}

// DebitMintable debits desired units of id from the sheet. If the current
// balance covers it, this is an ordinary debit. If it falls short, the
// shortfall is absorbed as a mint only when atomicPtr names the module
// authorized to mint id (id.Equal(atomicPtr): a module may only ever mint
// its own rune id) — in that case the balance settles at zero rather than
// going negative. Any other shortfall fails with a balance underflow: an
// etched or imported token can never be conjured past what's actually on
// the sheet.
func (b *BalanceSheet) DebitMintable(id ProtoruneRuneId, desired *uint256.Int, atomicPtr AlkaneId) error {
	cur := b.Get(id)
	if cur.Cmp(desired) >= 0 {
		b.Decrease(id, desired)
		return nil
	}
	if !id.Equal(atomicPtr) {
		return errBalanceUnderflow
	}
	b.Set(id, new(uint256.Int))
	return nil
}

// Merge folds other's balances into b, used when combining the balance
// sheets of every input outpoint consumed by a transaction before edicts
// and message dispatch run against the pooled total.
func (b *BalanceSheet) Merge(other *BalanceSheet) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	for k, v := range other.amounts {
		id := AlkaneIdFromBytes(k)
		b.Increase(id, v)
	}
}

// IDs returns the sheet's populated ids in deterministic (Block,Tx) order,
// the order balance-sheet serialization and the conservation check iterate
// in.
func (b *BalanceSheet) IDs() []ProtoruneRuneId {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ProtoruneRuneId, 0, len(b.amounts))
	for k := range b.amounts {
		out = append(out, AlkaneIdFromBytes(k))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// IsEmpty reports whether the sheet carries no nonzero balances.
func (b *BalanceSheet) IsEmpty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.amounts) == 0
}

// Clone deep-copies the sheet, used when a call frame needs its own
// mutable view that can be discarded on revert without disturbing the
// parent frame's sheet.
func (b *BalanceSheet) Clone() *BalanceSheet {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := NewBalanceSheet()
	for k, v := range b.amounts {
		out.amounts[k] = new(uint256.Int).Set(v)
	}
	return out
}

// Encode serializes the sheet as a LEB128 entry count followed by, for
// each id in IDs order, its 32-byte id and its LEB128 balance, so
// re-decoding reproduces byte-identical bytes (the
// serialize-then-deserialize identity law). Ids and balances are
// interleaved per entry, not stored as separate parallel arrays.
func (b *BalanceSheet) Encode() []byte {
	ids := b.IDs()
	var out []byte
	out = putLeb128Uvarint(out, newU128(uint64(len(ids))))
	for _, id := range ids {
		idb := id.Bytes()
		out = append(out, idb[:]...)
		amt := b.Get(id)
		out = putLeb128Uvarint(out, amt)
	}
	return out
}

// DecodeBalanceSheet parses the Encode format back into a sheet.
func DecodeBalanceSheet(buf []byte) (*BalanceSheet, error) {
	sheet := NewBalanceSheet()
	n, off, err := leb128Uvarint(buf)
	if err != nil {
		return nil, err
	}
	count := n.Uint64()
	for i := uint64(0); i < count; i++ {
		if off+32 > len(buf) {
			return nil, errNotEnoughBytes
		}
		var idb [32]byte
		copy(idb[:], buf[off:off+32])
		off += 32
		id := AlkaneIdFromBytes(idb)
		amt, consumed, err := leb128Uvarint(buf[off:])
		if err != nil {
			return nil, err
		}
		off += consumed
		sheet.Set(id, amt)
	}
	return sheet, nil
}
