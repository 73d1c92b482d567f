package core

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"go.etcd.io/bbolt"
)

// rootBucket is the single top-level bbolt bucket every key lives under.
// Namespacing is done in the key itself (prefixes such as "module:" and
// "balance:") rather than via
// nested buckets, so prefix iteration stays a single ordered bbolt cursor
// walk instead of a bucket lookup per namespace.
var rootBucket = []byte("alkanes")

// Iterator walks an ordered key range. Next advances and reports whether a
// pair is available; Key/Value are only valid after a successful Next.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Close() error
}

// Batch accumulates writes for atomic application. Nothing is visible to
// readers until Write returns successfully.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Write() error
}

// KVStore is the ordered key-value abstraction every higher component (the
// versioned overlay, the module cache, the block indexer) is built on. It
// is intentionally narrow: get/put/delete/prefix-scan plus atomic batches,
// the same shape p2pool-go's BoltStore exposes over the same engine.
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	NewBatch() Batch
	PrefixIterator(prefix []byte) Iterator
	Close() error
}

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = fmt.Errorf("alkanes: key not found")

// BoltKV is the production KVStore, an embedded ordered key-value engine.
// Chosen over a hand-rolled map store for the same reason p2pool-go chose
// it for its share chain: a single-file, crash-safe, ordered store with no
// external process to manage.
type BoltKV struct {
	db *bbolt.DB
}

// NewBoltKV opens (creating if absent) a bbolt-backed store at path.
func NewBoltKV(path string) (*BoltKV, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bbolt bucket: %w", err)
	}
	return &BoltKV{db: db}, nil
}

func (k *BoltKV) Get(key []byte) ([]byte, error) {
	var out []byte
	err := k.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(rootBucket).Get(key)
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (k *BoltKV) Put(key, value []byte) error {
	return k.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(rootBucket).Put(key, value)
	})
}

func (k *BoltKV) Delete(key []byte) error {
	return k.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(rootBucket).Delete(key)
	})
}

func (k *BoltKV) Close() error { return k.db.Close() }

type boltBatch struct {
	db  *bbolt.DB
	ops []func(*bbolt.Bucket) error
}

func (k *BoltKV) NewBatch() Batch { return &boltBatch{db: k.db} }

func (b *boltBatch) Put(key, value []byte) {
	k, v := append([]byte(nil), key...), append([]byte(nil), value...)
	b.ops = append(b.ops, func(bk *bbolt.Bucket) error { return bk.Put(k, v) })
}

func (b *boltBatch) Delete(key []byte) {
	k := append([]byte(nil), key...)
	b.ops = append(b.ops, func(bk *bbolt.Bucket) error { return bk.Delete(k) })
}

func (b *boltBatch) Write() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(rootBucket)
		for _, op := range b.ops {
			if err := op(bk); err != nil {
				return err
			}
		}
		return nil
	})
}

type boltIterator struct {
	tx     *bbolt.Tx
	c      *bbolt.Cursor
	prefix []byte
	k, v   []byte
	first  bool
}

func (k *BoltKV) PrefixIterator(prefix []byte) Iterator {
	tx, err := k.db.Begin(false)
	if err != nil {
		return &boltIterator{} // Next() immediately returns false
	}
	return &boltIterator{tx: tx, c: tx.Bucket(rootBucket).Cursor(), prefix: prefix, first: true}
}

func (it *boltIterator) Next() bool {
	if it.c == nil {
		return false
	}
	if it.first {
		it.first = false
		it.k, it.v = it.c.Seek(it.prefix)
	} else {
		it.k, it.v = it.c.Next()
	}
	if it.k == nil || !bytes.HasPrefix(it.k, it.prefix) {
		it.k, it.v = nil, nil
		return false
	}
	return true
}

func (it *boltIterator) Key() []byte   { return it.k }
func (it *boltIterator) Value() []byte { return it.v }
func (it *boltIterator) Close() error {
	if it.tx != nil {
		return it.tx.Rollback()
	}
	return nil
}

// MemKV is an in-memory KVStore used for simulate() scratch overlays (C10)
// and for tests, mirroring the teacher's memState map-backed store but
// behind the same KVStore interface BoltKV implements.
type MemKV struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMemKV builds an empty in-memory store.
func NewMemKV() *MemKV { return &MemKV{m: make(map[string][]byte)} }

// CloneMemKV deep-copies src into a fresh MemKV, used to seed a disposable
// simulate() overlay from a live snapshot without touching persistent state.
func CloneMemKV(src KVStore) *MemKV {
	out := NewMemKV()
	it := src.PrefixIterator(nil)
	defer it.Close()
	for it.Next() {
		out.m[string(it.Key())] = append([]byte(nil), it.Value()...)
	}
	return out
}

func (m *MemKV) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.m[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemKV) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *MemKV) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, string(key))
	return nil
}

func (m *MemKV) Close() error { return nil }

type memBatch struct {
	m   *MemKV
	ops []func(map[string][]byte)
}

func (m *MemKV) NewBatch() Batch { return &memBatch{m: m} }

func (b *memBatch) Put(key, value []byte) {
	k, v := string(key), append([]byte(nil), value...)
	b.ops = append(b.ops, func(m map[string][]byte) { m[k] = v })
}

func (b *memBatch) Delete(key []byte) {
	k := string(key)
	b.ops = append(b.ops, func(m map[string][]byte) { delete(m, k) })
}

func (b *memBatch) Write() error {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()
	for _, op := range b.ops {
		op(b.m.m)
	}
	return nil
}

type memIterator struct {
	keys []string
	m    *MemKV
	pos  int
}

func (m *MemKV) PrefixIterator(prefix []byte) Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := string(prefix)
	keys := make([]string, 0, len(m.m))
	for k := range m.m {
		if bytes.HasPrefix([]byte(k), []byte(p)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return &memIterator{keys: keys, m: m, pos: -1}
}

func (it *memIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *memIterator) Key() []byte { return []byte(it.keys[it.pos]) }
func (it *memIterator) Value() []byte {
	it.m.mu.RLock()
	defer it.m.mu.RUnlock()
	return it.m.m[it.keys[it.pos]]
}
func (it *memIterator) Close() error { return nil }
