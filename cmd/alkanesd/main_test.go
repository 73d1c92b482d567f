package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/spf13/cobra"
)

// newTestRoot builds the same cobra wiring as main(), minus os.Exit on
// error, so RunE failures surface as a normal Go error to the test.
func newTestRoot() *cobra.Command {
	rootCmd := &cobra.Command{Use: "alkanesd"}
	rootCmd.PersistentFlags().String("data-dir", "./data", "indexer state directory")
	rootCmd.PersistentFlags().String("env", "", "configuration environment to merge over default.yaml")
	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(rollbackCmd())
	rootCmd.AddCommand(stateRootCmd())
	return rootCmd
}

// writeRawBlock serializes a single-tx block with a correctly computed
// merkle root to a temp file and returns its path.
func writeRawBlock(t *testing.T, dir string, height uint64) string {
	t.Helper()
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(height), []byte{0x6a}))

	// a single-transaction block's merkle root is just that transaction's
	// id, matching buildTxMerkleTree's one-leaf base case.
	root := tx.TxHash()
	header := wire.BlockHeader{Version: 1, MerkleRoot: root}

	var buf bytes.Buffer
	if err := header.Serialize(&buf); err != nil {
		t.Fatalf("serialize header: %v", err)
	}
	if err := wire.WriteVarInt(&buf, 0, 1); err != nil {
		t.Fatalf("write varint: %v", err)
	}
	if err := tx.Serialize(&buf); err != nil {
		t.Fatalf("serialize tx: %v", err)
	}

	path := filepath.Join(dir, "block.raw")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write raw block: %v", err)
	}
	return path
}

func TestIndexRollbackStateRootRoundTrip(t *testing.T) {
	dataDir := t.TempDir()
	blockDir := t.TempDir()
	blockPath := writeRawBlock(t, blockDir, 1)

	root := newTestRoot()
	root.SetArgs([]string{"--data-dir", dataDir, "index", blockPath, "1"})
	if err := root.Execute(); err != nil {
		t.Fatalf("index: %v", err)
	}

	root = newTestRoot()
	root.SetArgs([]string{"--data-dir", dataDir, "state-root", "1"})
	if err := root.Execute(); err != nil {
		t.Fatalf("state-root: %v", err)
	}

	root = newTestRoot()
	root.SetArgs([]string{"--data-dir", dataDir, "rollback", "0"})
	if err := root.Execute(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	root = newTestRoot()
	root.SetArgs([]string{"--data-dir", dataDir, "state-root", "1"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected state-root lookup above the rollback height to fail")
	}
}

func TestIndexCmdRejectsMissingFile(t *testing.T) {
	root := newTestRoot()
	root.SetArgs([]string{"--data-dir", t.TempDir(), "index", "/no/such/file", "1"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected missing block file to error")
	}
}
