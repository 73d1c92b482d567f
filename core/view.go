package core

import (
	"github.com/holiman/uint256"
)

// ViewService is C10: a read-only query surface over the indexer's
// persistent overlay, plus a disposable simulate() path that never
// persists. Grounded on the teacher's cmd/explorer/server.go handlers
// (read CurrentLedger(), serialize JSON), generalized from block/tx lookup
// to the balance/bytecode/codehash/trace/simulate/state-root surface
// spec.md names.
type ViewService struct {
	idx *Indexer
}

// NewViewService wraps an indexer for read-only queries.
func NewViewService(idx *Indexer) *ViewService { return &ViewService{idx: idx} }

// BalancesByOutpoint returns the balance sheet recorded for a specific
// outpoint, read at the indexer's current height.
func (v *ViewService) BalancesByOutpoint(ref OutputRef) (*BalanceSheet, error) {
	key := balanceKey(ref)
	b, err := v.idx.overlay.GetAt(key, v.idx.Height())
	if err != nil {
		return NewBalanceSheet(), nil
	}
	return DecodeBalanceSheet(b)
}

// Bytecode returns the deployed bytecode for id at the current height.
func (v *ViewService) Bytecode(id AlkaneId) ([]byte, error) {
	return v.idx.cache.Load(id)
}

// Codehash returns id's bytecode fingerprint at the current height.
func (v *ViewService) Codehash(id AlkaneId) ([32]byte, error) {
	return v.idx.cache.Codehash(id)
}

// StateRoot returns the sealed root at height h.
func (v *ViewService) StateRoot(h uint64) ([32]byte, error) {
	return v.idx.StateRootAt(h)
}

// HeightOfBlockhash scans the recorded block hashes for one matching hash,
// a linear scan acceptable at view-service scale since it is only ever
// called interactively, not from the hot indexing path.
func (v *ViewService) HeightOfBlockhash(hash [32]byte) (uint64, bool) {
	for _, r := range v.idx.records {
		if r.Hash == hash {
			return r.Height, true
		}
	}
	return 0, false
}

// SimulateResult is the outcome of a read-only simulate() call.
type SimulateResult struct {
	Status     bool
	ReturnData []byte
	FuelUsed   uint64
	Trace      []TraceEvent
	TraceRoot  [32]byte
	Error      string
}

// Simulate runs target's entrypoint against a disposable in-memory clone
// of the current overlay: nothing it writes is ever persisted, satisfying
// spec's requirement that simulate() never has side effects. Grounded on
// the teacher's Ledger.Call (clones state into a throwaway memState before
// running).
func (v *ViewService) Simulate(invoker, target AlkaneId, inputs []*uint256.Int, fuelLimit uint64) SimulateResult {
	scratchKV := CloneMemKV(v.idx.overlay.kv)
	scratchOverlay := NewOverlay(scratchKV)
	scratchCache := NewModuleCache(scratchOverlay)
	scratchCache.SetHeight(v.idx.Height())
	scratchOrch := NewOrchestrator(scratchCache, scratchOverlay, v.idx.orch.host)

	rec, trace, err := scratchOrch.Dispatch(v.idx.Height(), invoker, target, inputs, fuelLimit, NewBalanceSheet())
	if err != nil {
		return SimulateResult{Status: false, Error: err.Error(), Trace: trace}
	}
	return SimulateResult{
		Status:     rec.Status,
		ReturnData: rec.ReturnData,
		FuelUsed:   rec.FuelUsed,
		Trace:      trace,
		Error:      rec.Error,
	}
}

// Inspect runs Simulate and additionally seals the trace into a Merkle
// tree, so an alkanes_inspect caller can hold just TraceRoot and verify any
// single step via TraceProof without trusting the whole trace list.
// Supplemented from original_source's alkanes-cli-common inspector, which
// separates a quick simulate from a verbose inspect.
func (v *ViewService) Inspect(invoker, target AlkaneId, inputs []*uint256.Int, fuelLimit uint64) SimulateResult {
	result := v.Simulate(invoker, target, inputs, fuelLimit)
	if len(result.Trace) == 0 {
		return result
	}
	tree, err := BuildMerkleTree(traceLeaves(result.Trace))
	if err != nil {
		return result
	}
	result.TraceRoot = tree[len(tree)-1][0]
	return result
}

// TraceProof returns the Merkle proof for trace[index] against the root
// Inspect reports, the per-step inclusion proof backing alkanes_inspect's
// trace verification.
func (v *ViewService) TraceProof(trace []TraceEvent, index int) ([][]byte, [32]byte, error) {
	return MerkleProof(traceLeaves(trace), uint32(index))
}

// traceLeaves flattens each trace event into the byte leaf BuildMerkleTree
// hashes, so alkanes_inspect's TraceRoot commits to the exact kind/module/
// depth/fuel of every recorded step.
func traceLeaves(trace []TraceEvent) [][]byte {
	leaves := make([][]byte, len(trace))
	for i, ev := range trace {
		leaves[i] = encodeTraceEvent(ev)
	}
	return leaves
}

func encodeTraceEvent(ev TraceEvent) []byte {
	id := ev.Module.Bytes()
	b := make([]byte, 0, len(ev.Kind)+1+32+16)
	b = append(b, []byte(ev.Kind)...)
	b = append(b, 0)
	b = append(b, id[:]...)
	var depth, fuel [8]byte
	putUint64(depth[:], uint64(ev.Depth))
	putUint64(fuel[:], ev.Fuel)
	b = append(b, depth[:]...)
	b = append(b, fuel[:]...)
	return b
}

func balanceKey(ref OutputRef) []byte {
	b := make([]byte, 0, len("balance:")+32+4)
	b = append(b, []byte("balance:")...)
	b = append(b, ref.TxID[:]...)
	var vob [4]byte
	putUint32(vob[:], ref.VOut)
	b = append(b, vob[:]...)
	return b
}

func putUint32(dst []byte, v uint32) {
	dst[0] = byte(v >> 24)
	dst[1] = byte(v >> 16)
	dst[2] = byte(v >> 8)
	dst[3] = byte(v)
}

func putUint64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[7-i] = byte(v >> (8 * uint(i)))
	}
}
