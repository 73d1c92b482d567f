package core

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/wire"
)

func buildRawBlock(t *testing.T, txs []*wire.MsgTx) []byte {
	t.Helper()
	leaves := make([][]byte, len(txs))
	for i, tx := range txs {
		id := tx.TxHash()
		leaves[i] = id[:]
	}
	tree, err := buildTxMerkleTree(leaves)
	if err != nil {
		t.Fatalf("buildTxMerkleTree: %v", err)
	}
	root := tree[len(tree)-1][0]

	header := wire.BlockHeader{Version: 1, MerkleRoot: root}

	var buf bytes.Buffer
	if err := header.Serialize(&buf); err != nil {
		t.Fatalf("serialize header: %v", err)
	}
	if err := wire.WriteVarInt(&buf, 0, uint64(len(txs))); err != nil {
		t.Fatalf("write varint: %v", err)
	}
	for _, tx := range txs {
		if err := tx.Serialize(&buf); err != nil {
			t.Fatalf("serialize tx: %v", err)
		}
	}
	return buf.Bytes()
}

func simpleTx(outputValue int64) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(outputValue, []byte{0x6a}))
	return tx
}

func TestDecodeBlockRoundTrip(t *testing.T) {
	txs := []*wire.MsgTx{simpleTx(1), simpleTx(2), simpleTx(3)}
	raw := buildRawBlock(t, txs)

	blk, err := DecodeBlock(42, raw, ChainBitcoin)
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	if blk.Height != 42 {
		t.Fatalf("expected height 42, got %d", blk.Height)
	}
	if len(blk.Txs) != 3 {
		t.Fatalf("expected 3 txs, got %d", len(blk.Txs))
	}
}

func TestDecodeBlockRejectsMerkleMismatch(t *testing.T) {
	txs := []*wire.MsgTx{simpleTx(1), simpleTx(2)}
	raw := buildRawBlock(t, txs)

	// corrupt one byte inside the header's merkle root field (bytes 36..68,
	// after the 4-byte version and 32-byte previous-block hash fields).
	raw[40] ^= 0xff

	if _, err := DecodeBlock(1, raw, ChainBitcoin); err == nil {
		t.Fatalf("expected merkle root mismatch to be rejected")
	}
}

func TestDecodeBlockUnknownFlavor(t *testing.T) {
	if _, err := DecodeBlock(1, []byte{}, ChainFlavor(99)); err == nil {
		t.Fatalf("expected error for unknown chain flavor")
	}
}
