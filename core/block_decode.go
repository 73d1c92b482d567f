package core

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// dblSha256 is Bitcoin's merkle-node combining function: sha256 applied
// twice, matching wire.MsgTx.TxHash()'s own double hash so merkle nodes and
// leaves use the same digest convention.
func dblSha256(b []byte) [32]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

// DecodeBlock parses a raw serialized block (the bytes a `getblock verbosity=0`
// RPC or a blocks directory dat-file entry carries) into a Block, using the
// given chain's transaction-framing convention.
//
// Bitcoin and Zcash-transparent share the same block header and legacy/segwit
// transaction encoding for value transfers; Zcash's shielded fields (if any
// were present) would require a distinct transaction decoder, which is why
// ChainZcashTransparent exists as its own enum value even though today it
// shares btcd/wire's decoder with ChainBitcoin. Supplemented from
// original_source's chain-flavor dispatch in the reference indexer.
func DecodeBlock(height uint64, raw []byte, flavor ChainFlavor) (*Block, error) {
	switch flavor {
	case ChainBitcoin, ChainZcashTransparent:
		return decodeWireBlock(height, raw)
	default:
		return nil, fmt.Errorf("alkanes: unknown chain flavor %d", flavor)
	}
}

func decodeWireBlock(height uint64, raw []byte) (*Block, error) {
	r := bytes.NewReader(raw)
	var header wire.BlockHeader
	if err := header.Deserialize(r); err != nil {
		return nil, fmt.Errorf("decode block header: %w", err)
	}

	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, fmt.Errorf("decode tx count: %w", err)
	}
	txs := make([]*wire.MsgTx, 0, count)
	for i := uint64(0); i < count; i++ {
		tx := &wire.MsgTx{}
		if err := tx.Deserialize(r); err != nil {
			return nil, fmt.Errorf("decode tx %d: %w", i, err)
		}
		txs = append(txs, tx)
	}

	blk := &Block{Height: height, Header: header, Txs: txs}
	if err := verifyTxMerkleRoot(blk); err != nil {
		return nil, err
	}
	return blk, nil
}

// verifyTxMerkleRoot recomputes the block's transaction merkle root from its
// decoded transactions and checks it against the header, rejecting a block
// whose body doesn't match its own commitment before any protostone in it is
// ever applied. Grounded on the teacher's BuildMerkleTree/VerifyMerklePath
// (merkle_tree_operations.go), generalized from an arbitrary leaf set to
// transaction ids in block order.
func verifyTxMerkleRoot(blk *Block) error {
	if len(blk.Txs) == 0 {
		return fmt.Errorf("alkanes: block %d has no transactions", blk.Height)
	}
	leaves := make([][]byte, len(blk.Txs))
	for i, tx := range blk.Txs {
		id := tx.TxHash()
		leaves[i] = id[:]
	}
	tree, err := buildTxMerkleTree(leaves)
	if err != nil {
		return fmt.Errorf("alkanes: block %d merkle build: %w", blk.Height, err)
	}
	root := tree[len(tree)-1][0]
	want := blk.Header.MerkleRoot
	if !bytes.Equal(root[:], want[:]) {
		return fmt.Errorf("alkanes: block %d merkle root mismatch", blk.Height)
	}
	return nil
}

// buildTxMerkleTree hashes already-hashed transaction ids pairwise rather
// than re-hashing them as leaves, matching Bitcoin's merkle convention
// (BuildMerkleTree sha256's its leaf inputs once on the way in, which is
// correct for arbitrary payloads but would double-hash a txid); this wraps
// the same pairwise-combine loop directly over the 32-byte ids instead.
func buildTxMerkleTree(ids [][]byte) ([][][32]byte, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("no leaves")
	}
	level := make([][32]byte, len(ids))
	for i, id := range ids {
		copy(level[i][:], id)
	}
	tree := [][][32]byte{level}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][32]byte, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = dblSha256(append(append([]byte(nil), level[i][:]...), level[i+1][:]...))
		}
		tree = append(tree, next)
		level = next
	}
	return tree, nil
}
