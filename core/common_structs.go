package core

import (
	"github.com/btcsuite/btcd/wire"
)

// Block is one indexed Bitcoin block together with the height the indexer
// assigned it. Wire-level transaction decoding is delegated to btcd/wire;
// this type only adds the height/hash bookkeeping the indexer threads
// through block application.
type Block struct {
	Height uint64
	Header wire.BlockHeader
	Txs    []*wire.MsgTx
}

// Hash returns the block's double-sha256 id.
func (b *Block) Hash() [32]byte {
	h := b.Header.BlockHash()
	var out [32]byte
	copy(out[:], h[:])
	return out
}

// ChainFlavor selects the block-framing convention an Indexer parses
// against: standard Bitcoin transparent outputs, or a Zcash-derived chain
// restricted to transparent (non-shielded) value transfer. Supplemented
// from original_source's zcash handling; spec.md leaves this an open
// question rather than excluding it, so it is implemented as a capability
// switch rather than a parallel code path.
type ChainFlavor int

const (
	ChainBitcoin ChainFlavor = iota
	ChainZcashTransparent
)

// OutputRef names one output of one transaction by its global Bitcoin
// outpoint identity, the unit balances, pointers and refunds are all
// expressed against. Shaped directly after wire.OutPoint rather than a
// block-local transaction index: a spending transaction's
// TxIn[i].PreviousOutPoint only ever carries (txid, vout), never the
// previous transaction's position within its containing block, so any key
// derived from a block-local index could never be looked back up by the
// transaction that spends it.
type OutputRef struct {
	TxID [32]byte
	VOut uint32
}
