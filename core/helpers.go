package core

import "sync"

var (
	indexerOnce   sync.Once
	globalIndexer *Indexer
)

// InitIndexer initialises the global indexer by opening (or creating) one
// rooted at dir. Grounded on the teacher's InitLedger/CurrentLedger
// sync.Once singleton idiom, generalized to carry an IndexerConfig.
func InitIndexer(dir string, cfg IndexerConfig) error {
	var err error
	indexerOnce.Do(func() {
		globalIndexer, err = NewIndexer(dir, cfg)
	})
	return err
}

// CurrentIndexer returns the global indexer instance if initialised.
func CurrentIndexer() *Indexer { return globalIndexer }

var (
	viewOnce   sync.Once
	globalView *ViewService
)

// InitView wires the global read-only view service over the current
// indexer. Must be called after InitIndexer.
func InitView() {
	viewOnce.Do(func() { globalView = NewViewService(globalIndexer) })
}

// CurrentView returns the global view service if initialised.
func CurrentView() *ViewService { return globalView }
