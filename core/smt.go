package core

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/google/btree"
)

// Overlay is the append-only, height-versioned key-value layer every other
// component reads and writes through. A key is never overwritten in place:
// each Put at height H stores a new entry addressed by key||0x00||beheight(H), so
// a read at any height H' <= current height sees exactly the value that was
// live at H'. This is the concrete tree shape spec.md leaves
// implementation-defined, chosen because it turns rollback into a single
// ordered range-delete instead of an undo log.
type Overlay struct {
	kv KVStore
}

// NewOverlay wraps a KVStore with height-versioned semantics.
func NewOverlay(kv KVStore) *Overlay { return &Overlay{kv: kv} }

func beheight(h uint64) [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], h)
	return b
}

func versionedKey(key []byte, h uint64) []byte {
	suf := beheight(h)
	out := make([]byte, 0, len(key)+1+8)
	out = append(out, key...)
	out = append(out, 0x00) // separator so no key is a prefix of another key's versions
	out = append(out, suf[:]...)
	return out
}

// Put records a new version of key, live as of height h.
func (o *Overlay) Put(key []byte, h uint64, value []byte) error {
	return o.kv.Put(versionedKey(key, h), value)
}

// tombstone is the value Delete records in place of a live value.
var tombstone = []byte("\x00alkanes:tombstone")

// Delete records a tombstone for key as of height h. GetAt treats a
// tombstone exactly like a missing key.
func (o *Overlay) Delete(key []byte, h uint64) error {
	return o.kv.Put(versionedKey(key, h), tombstone)
}

// GetAt returns the value live for key at height h: the value written at
// the highest version <= h, or ErrNotFound if none exists.
func (o *Overlay) GetAt(key []byte, h uint64) ([]byte, error) {
	prefix := append(append([]byte(nil), key...), 0x00)
	it := o.kv.PrefixIterator(prefix)
	defer it.Close()

	var best []byte
	var bestH uint64
	found := false
	for it.Next() {
		k := it.Key()
		if len(k) < len(prefix)+8 {
			continue
		}
		ver := binary.BigEndian.Uint64(k[len(k)-8:])
		if ver > h {
			continue
		}
		if !found || ver > bestH {
			found, bestH, best = true, ver, it.Value()
		}
	}
	if !found || string(best) == string(tombstone) {
		return nil, ErrNotFound
	}
	return best, nil
}

// RollbackTo discards every version written at a height strictly greater
// than h across the entire keyspace, by prefix-scanning every key family.
// Reorg handling is this call plus re-applying the canonical blocks; no
// other bookkeeping is required because commits are idempotent once
// reapplied at the same height.
func (o *Overlay) RollbackTo(h uint64, prefixes [][]byte) error {
	b := o.kv.NewBatch()
	for _, prefix := range prefixes {
		it := o.kv.PrefixIterator(prefix)
		for it.Next() {
			k := it.Key()
			if len(k) < 9 {
				continue
			}
			ver := binary.BigEndian.Uint64(k[len(k)-8:])
			if ver > h {
				b.Delete(append([]byte(nil), k...))
			}
		}
		it.Close()
	}
	return b.Write()
}

// kvLeaf is the btree.Item used while folding the live key set at a height
// into deterministic sorted order before hashing.
type kvLeaf struct {
	key, value []byte
}

func (l kvLeaf) Less(other btree.Item) bool {
	o := other.(kvLeaf)
	return string(l.key) < string(o.key)
}

// RootAt computes the state root as of height h: every live (key, value)
// pair under the given key families, folded through sha256 in
// lexicographic key order. Two overlays that received the same operation
// sequence always produce the same root, and the root only ever changes
// when a write actually changes a live value, matching the two root
// invariants spec.md requires. Grounded on the teacher's StateRoot (sorts a
// map of keys, then hashes), generalized from "all keys now" to "all keys
// live at height h".
func (o *Overlay) RootAt(h uint64, prefixes [][]byte) ([32]byte, error) {
	live := btree.New(32)
	for _, prefix := range prefixes {
		latest := map[string][]byte{}
		latestH := map[string]uint64{}
		it := o.kv.PrefixIterator(prefix)
		for it.Next() {
			k := it.Key()
			if len(k) < 9 {
				continue
			}
			sep := len(k) - 9
			baseKey := k[:sep]
			ver := binary.BigEndian.Uint64(k[len(k)-8:])
			if ver > h {
				continue
			}
			if cur, ok := latestH[string(baseKey)]; !ok || ver > cur {
				latestH[string(baseKey)] = ver
				latest[string(baseKey)] = append([]byte(nil), it.Value()...)
			}
		}
		it.Close()
		for k, v := range latest {
			live.ReplaceOrInsert(kvLeaf{key: []byte(k), value: v})
		}
	}

	hasher := sha256.New()
	live.Ascend(func(item btree.Item) bool {
		leaf := item.(kvLeaf)
		hasher.Write(leaf.key)
		hasher.Write([]byte{0})
		hasher.Write(leaf.value)
		hasher.Write([]byte{0})
		return true
	})
	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	return out, nil
}

func fmtHeightKey(prefix string, h uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, h))
}
