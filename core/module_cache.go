package core

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// moduleKeyPrefix namespaces deployed module bytecode in the overlay.
// codehashKeyPrefix namespaces the codehash index so a cache hit on a
// previously-seen codehash never re-gunzips the same bytes twice.
const (
	moduleKeyPrefix   = "module:"
	codehashKeyPrefix = "codehash:"
)

// ModuleCache is the store of deployed module bytecode, keyed by AlkaneId
// with a codehash side index recording each module's fingerprint. Grounded on
// the teacher's storage.go Pin/Retrieve (gzip the payload, cache the
// fingerprint) and contracts.go's ContractRegistry (deploy, derive
// address), collapsed into one component since alkanes modules have no
// separate "registry vs blob store" split: the id IS the lookup key.
type ModuleCache struct {
	mu       sync.RWMutex
	overlay  *Overlay
	height   uint64 // height writes are currently being recorded at
	hotCache map[[32]byte][]byte
	log      *logrus.Logger
	zlog     *zap.SugaredLogger
}

// NewModuleCache wires a cache on top of a versioned overlay.
func NewModuleCache(overlay *Overlay) *ModuleCache {
	return &ModuleCache{
		overlay:  overlay,
		hotCache: make(map[[32]byte][]byte),
		log:      logrus.StandardLogger(),
		zlog:     zap.L().Sugar(),
	}
}

// SetHeight records the height at which subsequent Deploy calls are
// versioned; the indexer calls this once per block before replaying it.
func (m *ModuleCache) SetHeight(h uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.height = h
}

// Deploy stores body under id, gzip-compressed, and indexes its codehash.
// Returns the codehash. A module is immutable once deployed: there is no
// upgrade or pause path, unlike the teacher's pausable/upgradeable
// ContractManager — a module's identity is its AlkaneId, and its codehash
// is a fingerprint of the bytes stored under that id.
func (m *ModuleCache) Deploy(id AlkaneId, body []byte) ([32]byte, error) {
	hash := codehashOf(body)
	compressed, err := gzipBytes(body)
	if err != nil {
		return hash, err
	}
	m.mu.Lock()
	h := m.height
	m.mu.Unlock()

	if err := m.overlay.Put([]byte(moduleKeyPrefix+string(id.Bytes()[:])), h, compressed); err != nil {
		return hash, err
	}
	if err := m.overlay.Put([]byte(codehashKeyPrefix+string(id.Bytes()[:])), h, hash[:]); err != nil {
		return hash, err
	}
	m.log.WithFields(logrus.Fields{"module": id.String(), "codehash": hash}).Info("module deployed")
	return hash, nil
}

// CloneTemplate deploys a new id whose bytecode is shared with an existing
// template id (target.block in {3,5}, spec section 4.9): it loads the
// template's bytecode and deploys a full copy under newID, so the clone has
// the same codehash but its own stored payload. Grounded on
// alkanes-std-factory-support/alkanes-std-orbital in original_source.
func (m *ModuleCache) CloneTemplate(newID, templateID AlkaneId) ([32]byte, error) {
	body, err := m.Load(templateID)
	if err != nil {
		return [32]byte{}, err
	}
	return m.Deploy(newID, body)
}

// Load fetches and decompresses the bytecode for id at the cache's current
// read height, via the indexer's overlay height, caching the decompressed
// result keyed by codehash so repeated calls across a block only inflate
// once.
func (m *ModuleCache) Load(id AlkaneId) ([]byte, error) {
	return m.LoadAt(id, m.currentHeight())
}

func (m *ModuleCache) currentHeight() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.height
}

// LoadAt fetches and decompresses the bytecode live for id as of height h,
// used by the view service's historical queries.
func (m *ModuleCache) LoadAt(id AlkaneId, h uint64) ([]byte, error) {
	hashBytes, err := m.overlay.GetAt([]byte(codehashKeyPrefix+string(id.Bytes()[:])), h)
	if err != nil {
		return nil, errModuleNotFound
	}
	var hash [32]byte
	copy(hash[:], hashBytes)

	m.mu.RLock()
	if body, ok := m.hotCache[hash]; ok {
		m.mu.RUnlock()
		return body, nil
	}
	m.mu.RUnlock()

	compressed, err := m.overlay.GetAt([]byte(moduleKeyPrefix+string(id.Bytes()[:])), h)
	if err != nil {
		return nil, errModuleNotFound
	}
	body, err := gunzipBytes(compressed)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.hotCache[hash] = body
	m.mu.Unlock()
	m.zlog.Debugw("module loaded", "module", id.String(), "bytes", len(body))
	return body, nil
}

// Codehash returns the fingerprint of id's deployed bytecode without
// paying the gunzip cost, the §4.6 codehash(id) accessor.
func (m *ModuleCache) Codehash(id AlkaneId) ([32]byte, error) {
	return m.CodehashAt(id, m.currentHeight())
}

// CodehashAt is the height-scoped form of Codehash.
func (m *ModuleCache) CodehashAt(id AlkaneId, h uint64) ([32]byte, error) {
	b, err := m.overlay.GetAt([]byte(codehashKeyPrefix+string(id.Bytes()[:])), h)
	if err != nil {
		return [32]byte{}, errModuleNotFound
	}
	var out [32]byte
	copy(out[:], b)
	return out, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	return gunzip(data)
}
