package core

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// IndexerConfig mirrors the teacher's LedgerConfig: a WAL path, a periodic
// snapshot path/interval, and an archive path old WAL segments are
// gzip-compressed into once superseded by a snapshot.
type IndexerConfig struct {
	WALPath          string
	SnapshotPath     string
	SnapshotInterval int
	ArchivePath      string
	PruneInterval    int
	ChainFlavor      ChainFlavor
	FuelPerBlock     uint64
}

// blockRecord is the WAL's unit of record: enough to replay a block's
// effects without re-decoding it from raw wire bytes.
type blockRecord struct {
	Height uint64
	Hash   [32]byte
	Root   [32]byte
}

// Indexer is C9, the block-by-block replay engine. It owns the persistent
// overlay (C2), the module cache (C6) and the orchestrator (C8), applies
// blocks strictly in height order, and exposes rollback. Grounded on the
// teacher's Ledger: the same WAL-append / periodic-snapshot / gzip-archive
// skeleton (NewLedger/OpenLedger/snapshot/prune/rewriteWAL), generalized
// from whole-block JSON dumps of flat maps to SMT-root-sealed block
// records layered over the versioned overlay.
type Indexer struct {
	mu      sync.Mutex
	cfg     IndexerConfig
	overlay *Overlay
	cache   *ModuleCache
	orch    *Orchestrator
	wal     *os.File
	height  uint64
	seq     uint64
	records []blockRecord
	log     *logrus.Logger
}

// keyPrefixes lists every overlay key family RootAt/RollbackTo must walk;
// a new component that lands state in the overlay adds its prefix here.
var keyPrefixes = [][]byte{
	[]byte(moduleKeyPrefix),
	[]byte(codehashKeyPrefix),
	[]byte("storage:"),
	[]byte("balance:"),
	[]byte("seq:"),
}

// NewIndexer opens (or creates) an indexer rooted at dir, replaying its WAL.
func NewIndexer(dir string, cfg IndexerConfig) (*Indexer, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("mkdir indexer dir: %w", err)
	}
	cfg.WALPath = filepath.Join(dir, "indexer.wal")
	cfg.SnapshotPath = filepath.Join(dir, "indexer.snap")
	cfg.ArchivePath = filepath.Join(dir, "archive")
	kvPath := filepath.Join(dir, "indexer.bolt")

	kv, err := NewBoltKV(kvPath)
	if err != nil {
		return nil, err
	}
	overlay := NewOverlay(kv)
	cache := NewModuleCache(overlay)
	host := NewWasmHost()
	orch := NewOrchestrator(cache, overlay, host)

	wal, err := os.OpenFile(cfg.WALPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open WAL: %w", err)
	}

	idx := &Indexer{
		cfg:     cfg,
		overlay: overlay,
		cache:   cache,
		orch:    orch,
		wal:     wal,
		log:     logrus.StandardLogger(),
	}

	if err := idx.loadSnapshot(); err != nil {
		wal.Close()
		return nil, err
	}
	if err := idx.replayWAL(); err != nil {
		wal.Close()
		return nil, err
	}
	return idx, nil
}

func (ix *Indexer) loadSnapshot() error {
	f, err := os.Open(ix.cfg.SnapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	var snap struct {
		Height  uint64
		Seq     uint64
		Records []blockRecord
	}
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	ix.height, ix.seq, ix.records = snap.Height, snap.Seq, snap.Records
	return nil
}

func (ix *Indexer) replayWAL() error {
	if _, err := ix.wal.Seek(0, 0); err != nil {
		return err
	}
	scanner := bufio.NewScanner(ix.wal)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var rec blockRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("WAL unmarshal: %w", err)
		}
		if rec.Height <= ix.height && len(ix.records) > 0 {
			continue // already covered by the loaded snapshot
		}
		ix.records = append(ix.records, rec)
		ix.height = rec.Height
	}
	if _, err := ix.wal.Seek(0, 2); err != nil {
		return err
	}
	return scanner.Err()
}

// ApplyBlock decodes blk's protostones and runs each one's message and
// edicts through the orchestrator, at height blk.Height. Protostones that
// fail to parse are skipped, not fatal, per spec. Once every transaction is
// processed the block's state root is sealed and appended to the WAL.
func (ix *Indexer) ApplyBlock(blk *Block) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if blk.Height != ix.height+1 && !(ix.height == 0 && len(ix.records) == 0) {
		return fmt.Errorf("alkanes: out-of-order block %d (expected %d)", blk.Height, ix.height+1)
	}
	ix.cache.SetHeight(blk.Height)

	for txIdx, tx := range blk.Txs {
		protoBuf := extractProtostoneField(tx)
		if protoBuf == nil {
			continue
		}
		stones, err := ParseProtostones(protoBuf)
		if err != nil {
			ix.log.WithError(err).Warn("protostone parse failure, skipping transaction")
			continue
		}
		for _, ps := range stones {
			ix.applyProtostone(blk.Height, uint32(txIdx), tx, ps)
		}
	}

	root, err := ix.overlay.RootAt(blk.Height, keyPrefixes)
	if err != nil {
		return err
	}
	hash := blk.Hash()
	rec := blockRecord{Height: blk.Height, Hash: hash, Root: root}
	if err := ix.appendWAL(rec); err != nil {
		return err
	}
	ix.records = append(ix.records, rec)
	ix.height = blk.Height

	if ix.cfg.SnapshotInterval > 0 && int(blk.Height)%ix.cfg.SnapshotInterval == 0 {
		if err := ix.snapshot(); err != nil {
			return err
		}
	}
	return nil
}

// applyProtostone runs the full section 4.9 per-protostone algorithm: burn,
// then the message (deploy/call, section 4.9's target.block resolution),
// then edicts gated by input provenance, then the pointer/refund/
// first-spendable/burn reconciliation that settles whatever balance is
// left over into a concrete output. Every balance the algorithm produces is
// persisted per-outpoint so a later transaction spending that output can
// pool it back in (poolIncomingBalances below).
func (ix *Indexer) applyProtostone(height uint64, txIdx uint32, tx *wire.MsgTx, ps Protostone) {
	initial := ix.poolIncomingBalances(tx, height)
	if ps.Burn {
		initial = NewBalanceSheet() // destroys every unit pooled from this transaction's inputs; message/edicts still run
	}

	var producedID AlkaneId
	hasProduced := false
	if ps.Message != nil {
		if id := ix.executeMessage(height, tx, ps, initial); id != nil {
			producedID, hasProduced = *id, true
		}
	}

	perOutput := map[uint32]*BalanceSheet{}
	outputSheet := func(vout uint32) *BalanceSheet {
		s, ok := perOutput[vout]
		if !ok {
			s = NewBalanceSheet()
			perOutput[vout] = s
		}
		return s
	}

	for _, e := range ps.Edicts {
		produced := hasProduced && e.Id.Equal(producedID)
		if initial.Get(e.Id).IsZero() && !produced {
			continue // forged or unrelated token: absent from T's inputs and not produced within T
		}
		if !initial.Decrease(e.Id, e.Amount) {
			continue // insufficient pooled balance for this edict
		}
		creditEdictOutput(outputSheet, tx, e)
	}

	// section 4.3 reconciliation: whatever is left in the pool after edicts
	// routes to the resolved pointer output, debited via debit_mintable so
	// a module-authorized shortfall (none arises on this path, since
	// residual can never exceed initial's own balance) still goes through
	// the same underflow-checked path as any other debit.
	if vout, ok := resolvePointerOutput(ps, tx); ok {
		dst := outputSheet(vout)
		atomicPtr := AlkaneId{}
		if hasProduced {
			atomicPtr = producedID
		}
		for _, id := range initial.IDs() {
			amt := initial.Get(id)
			if err := initial.DebitMintable(id, amt, atomicPtr); err != nil {
				ix.log.WithError(err).Warn("protocol violation: residual balance left unreconciled")
				continue
			}
			dst.Increase(id, amt)
		}
	}
	// else: no spendable output exists at all; the residual is left
	// undistributed, which is indistinguishable from a burn.

	ix.persistOutputBalances(height, tx, perOutput)
}

// executeMessage resolves target.block (section 4.9's deploy/clone/direct
// dispatch) and runs the resulting frame against sheet as its runtime
// balance. It returns the id a deploy or clone produced, so the caller can
// authorize edicts that move a token this very protostone just created.
func (ix *Indexer) executeMessage(height uint64, tx *wire.MsgTx, ps Protostone, sheet *BalanceSheet) *AlkaneId {
	target := ps.Message.Target
	switch target.Block.Uint64() {
	case TargetDeployNew:
		id := NewAlkaneId(height, ix.nextSequence())
		env, err := findEnvelope(tx)
		if err != nil {
			return nil
		}
		if _, err := ix.cache.Deploy(id, env.Body); err != nil {
			ix.log.WithError(err).Warn("deploy failed")
			return nil
		}
		ix.runMessage(height, NewAlkaneId(0, 0), id, ps.Message.Inputs, sheet)
		return &id
	case TargetReserved:
		id := target
		env, err := findEnvelope(tx)
		if err == nil {
			_, _ = ix.cache.Deploy(id, env.Body)
		}
		ix.runMessage(height, NewAlkaneId(0, 0), id, ps.Message.Inputs, sheet)
		return &id
	case TargetCloneTemplate, TargetCloneTemplateAlt:
		newID := NewAlkaneId(height, ix.nextSequence())
		templateID := AlkaneId{Block: new(uint256.Int).SetUint64(uint64(TargetDirect)), Tx: ps.Message.Inputs[0]}
		if _, err := ix.cache.CloneTemplate(newID, templateID); err != nil {
			ix.log.WithError(err).Warn("template clone failed")
			return nil
		}
		ix.runMessage(height, NewAlkaneId(0, 0), newID, ps.Message.Inputs[1:], sheet)
		return &newID
	default:
		ix.runMessage(height, NewAlkaneId(0, 0), target, ps.Message.Inputs, sheet)
		return nil // a call to an already-existing module produces no new token id
	}
}

func (ix *Indexer) runMessage(height uint64, invoker, target AlkaneId, inputs []*uint256.Int, sheet *BalanceSheet) {
	fuelLimit := ix.cfg.FuelPerBlock
	if fuelLimit == 0 {
		fuelLimit = 10_000_000
	}
	_, _, err := ix.orch.Dispatch(height, invoker, target, inputs, fuelLimit, sheet)
	if err != nil {
		ix.log.WithError(err).Warn("message dispatch failed")
	}
}

// creditEdictOutput routes an edict's (already-debited) amount to its
// target output: e.Output == len(tx.TxOut) splits it evenly across every
// spendable output, an in-range spendable output gets it directly, and an
// unspendable or out-of-range output leaves it uncredited (the amount
// stays debited from the pool, i.e. burned).
func creditEdictOutput(outputSheet func(uint32) *BalanceSheet, tx *wire.MsgTx, e Edict) {
	if int(e.Output) == len(tx.TxOut) {
		targets := spendableOutputs(tx)
		if len(targets) == 0 {
			return
		}
		for i, share := range splitEvenly(e.Amount, len(targets)) {
			outputSheet(targets[i]).Increase(e.Id, share)
		}
		return
	}
	if isSpendable(tx, e.Output) {
		outputSheet(e.Output).Increase(e.Id, e.Amount)
	}
}

// splitEvenly divides amt into n non-negative shares whose sum is exactly
// amt, the earliest shares absorbing the remainder.
func splitEvenly(amt *uint256.Int, n int) []*uint256.Int {
	shares := make([]*uint256.Int, n)
	divisor := uint256.NewInt(uint64(n))
	base := new(uint256.Int).Div(amt, divisor)
	rem := new(uint256.Int).Mod(amt, divisor)
	for i := 0; i < n; i++ {
		s := new(uint256.Int).Set(base)
		if uint256.NewInt(uint64(i)).Lt(rem) {
			s.Add(s, uint256.NewInt(1))
		}
		shares[i] = s
	}
	return shares
}

// resolvePointerOutput implements section 4.9(d)'s fallback chain: the
// protostone's own pointer, then its refund, then the transaction's first
// spendable output, in that order; ok is false only when the transaction
// has no spendable output at all, the point at which the residual is
// effectively burned.
func resolvePointerOutput(ps Protostone, tx *wire.MsgTx) (uint32, bool) {
	if ps.Pointer != nil && isSpendable(tx, *ps.Pointer) {
		return *ps.Pointer, true
	}
	if ps.Refund != nil && isSpendable(tx, *ps.Refund) {
		return *ps.Refund, true
	}
	if outs := spendableOutputs(tx); len(outs) > 0 {
		return outs[0], true
	}
	return 0, false
}

func spendableOutputs(tx *wire.MsgTx) []uint32 {
	var out []uint32
	for i := range tx.TxOut {
		if isSpendable(tx, uint32(i)) {
			out = append(out, uint32(i))
		}
	}
	return out
}

// isSpendable reports whether vout is a valid, non-OP_RETURN output: the
// runestone's own OP_RETURN carrier is never an eligible pointer/refund/
// edict target.
func isSpendable(tx *wire.MsgTx, vout uint32) bool {
	if int(vout) >= len(tx.TxOut) {
		return false
	}
	script := tx.TxOut[vout].PkScript
	return len(script) == 0 || script[0] != 0x6a
}

// poolIncomingBalances merges the persisted balance sheet recorded for each
// of tx's consumed inputs into one pooled sheet, and tombstones each
// input's entry at height: the spent outpoint's balance is now fully
// accounted for by this transaction's own reconciliation.
func (ix *Indexer) poolIncomingBalances(tx *wire.MsgTx, height uint64) *BalanceSheet {
	pooled := NewBalanceSheet()
	for _, in := range tx.TxIn {
		prev := in.PreviousOutPoint
		ref := OutputRef{TxID: [32]byte(prev.Hash), VOut: prev.Index}
		key := balanceKey(ref)
		b, err := ix.overlay.GetAt(key, height)
		if err != nil {
			continue // the spent output carried no recorded alkanes balance
		}
		sheet, err := DecodeBalanceSheet(b)
		if err != nil {
			continue
		}
		pooled.Merge(sheet)
		_ = ix.overlay.Delete(key, height)
	}
	return pooled
}

// persistOutputBalances writes every nonempty per-output sheet this
// protostone's reconciliation produced to the overlay, one Encode-d sheet
// per outpoint under balanceKey ("balance:" + txid + big-endian vout), which
// the view service's BalancesByOutpoint reads back. No
// `/runes/proto/<tag>/byoutpoint/...` keys or separate id/balance arrays
// are written.
func (ix *Indexer) persistOutputBalances(height uint64, tx *wire.MsgTx, perOutput map[uint32]*BalanceSheet) {
	txid := tx.TxHash()
	for vout, sheet := range perOutput {
		if sheet.IsEmpty() {
			continue
		}
		ref := OutputRef{TxID: [32]byte(txid), VOut: vout}
		if err := ix.overlay.Put(balanceKey(ref), height, sheet.Encode()); err != nil {
			ix.log.WithError(err).Warn("balance sheet persist failed")
		}
	}
}

func (ix *Indexer) nextSequence() uint64 {
	ix.seq++
	return ix.seq
}

func (ix *Indexer) appendWAL(rec blockRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = ix.wal.Write(b)
	return err
}

// snapshot writes the current height/seq/records summary and truncates the
// WAL, archiving the superseded segment as a gzip file, mirroring the
// teacher's snapshot/prune pair.
func (ix *Indexer) snapshot() error {
	tmp := ix.cfg.SnapshotPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	snap := struct {
		Height  uint64
		Seq     uint64
		Records []blockRecord
	}{ix.height, ix.seq, ix.records}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, ix.cfg.SnapshotPath); err != nil {
		return err
	}
	return ix.archiveAndTruncateWAL()
}

func (ix *Indexer) archiveAndTruncateWAL() error {
	if err := os.MkdirAll(ix.cfg.ArchivePath, 0o700); err != nil {
		return err
	}
	archivePath := filepath.Join(ix.cfg.ArchivePath, fmt.Sprintf("wal-%d.gz", ix.height))
	if _, err := ix.wal.Seek(0, 0); err != nil {
		return err
	}
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := ix.wal.WriteTo(gz); err != nil {
		gz.Close()
		out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := ix.wal.Truncate(0); err != nil {
		return err
	}
	_, err = ix.wal.Seek(0, 0)
	return err
}

// RollbackTo discards every block and overlay write above height h,
// used when a reorg invalidates previously-applied blocks. Grounded on the
// teacher's RebuildChain (full reset + replay); generalized here to a
// direct range-delete over the versioned overlay instead of a full replay,
// since Overlay.RollbackTo is already the precise inverse of the writes
// ApplyBlock made.
func (ix *Indexer) RollbackTo(h uint64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.overlay.RollbackTo(h, keyPrefixes); err != nil {
		return err
	}
	kept := ix.records[:0]
	for _, r := range ix.records {
		if r.Height <= h {
			kept = append(kept, r)
		}
	}
	ix.records = kept
	ix.height = h
	return ix.rewriteWAL()
}

func (ix *Indexer) rewriteWAL() error {
	if err := ix.wal.Truncate(0); err != nil {
		return err
	}
	if _, err := ix.wal.Seek(0, 0); err != nil {
		return err
	}
	for _, r := range ix.records {
		if err := ix.appendWAL(r); err != nil {
			return err
		}
	}
	return nil
}

// Height returns the last applied block height.
func (ix *Indexer) Height() uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.height
}

// StateRootAt returns the sealed root recorded for height h, or an error if
// no block was applied at that height.
func (ix *Indexer) StateRootAt(h uint64) ([32]byte, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, r := range ix.records {
		if r.Height == h {
			return r.Root, nil
		}
	}
	return [32]byte{}, fmt.Errorf("alkanes: no root recorded at height %d", h)
}

// Close flushes and closes the indexer's files.
func (ix *Indexer) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.overlay.kv.Close(); err != nil {
		return err
	}
	return ix.wal.Close()
}

// extractProtostoneField pulls the protostone payload out of tx: the bytes
// after the first two script bytes (OP_RETURN and its push opcode) of the
// last output whose script starts with OP_RETURN. No runestone magic byte
// (OP_13) is checked.
func extractProtostoneField(tx *wire.MsgTx) []byte {
	for i := len(tx.TxOut) - 1; i >= 0; i-- {
		script := tx.TxOut[i].PkScript
		if len(script) > 2 && script[0] == 0x6a { // OP_RETURN
			return script[2:]
		}
	}
	return nil
}

// findEnvelope locates the first BIN-tagged witness envelope across tx's
// inputs, the deploy payload for a target.block==1/2 protostone.
func findEnvelope(tx *wire.MsgTx) (*EnvelopePayload, error) {
	for i := range tx.TxIn {
		env, err := DecodeEnvelope(tx, i)
		if err == nil && env.Kind == "bin" {
			return env, nil
		}
	}
	return nil, errBadEnvelope
}
