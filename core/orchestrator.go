package core

import (
	"github.com/holiman/uint256"
)

// CallType selects how a nested invocation's storage and caller/origin
// context are wired, spec.md section 4.8.
type CallType int

const (
	CallNormal CallType = iota
	CallDelegate
	CallStatic
)

// MaxCallDepth bounds the call stack the way the fuel budget already
// implicitly bounds it (each frame burns some to enter), kept as an
// explicit backstop so a zero-cost call chain cannot recurse forever.
const MaxCallDepth = 64

// TraceEvent records one step of a call's execution for the view service's
// trace_at/alkanes_inspect queries.
type TraceEvent struct {
	Kind   string // "enter", "return", "revert", "create"
	Module AlkaneId
	Depth  int
	Fuel   uint64
}

// Frame is one entry on the call stack: a sandboxed module's execution
// context, including its own working storage overlay and balance sheet so
// a failing nested call can be discarded without touching its caller's
// state. Grounded on the teacher's VMContext plus memState.Snapshot, which
// deep-copies every state map before running a nested operation and
// restores them wholesale on error; generalized here to a per-frame scratch
// MemKV that is merged up on success or dropped on revert, rather than a
// single global snapshot shared by the whole call tree.
type Frame struct {
	Self         AlkaneId // the identity callers and storage/balances see ("myself")
	Code         AlkaneId // whose bytecode actually executes; equals Self except under delegatecall
	Caller       AlkaneId
	Origin       AlkaneId
	StorageOwner AlkaneId // whose storage namespace writes land in (Self, or the parent's StorageOwner for delegatecall)
	CallType     CallType
	ReadOnly     bool
	Height       uint64
	Sequence     uint64
	Fuel         *FuelMeter
	Balances     *BalanceSheet
	Scratch      *MemKV
	ReturnData   []byte
	Depth        int
}

// FuelMeter tracks consumption against a frame's budget. Grounded on the
// teacher's GasMeter, renamed from "gas" to "fuel" to match the spec's
// vocabulary and retargeted at host-call costs (fuel_table.go) instead of
// bytecode opcode costs.
type FuelMeter struct {
	used, limit uint64
}

// NewFuelMeter returns a meter with the given budget.
func NewFuelMeter(limit uint64) *FuelMeter { return &FuelMeter{limit: limit} }

// Remaining returns the unspent fuel budget.
func (m *FuelMeter) Remaining() uint64 {
	if m.used >= m.limit {
		return 0
	}
	return m.limit - m.used
}

// Consume charges cost against the budget, returning errOutOfFuel if it
// would exceed the limit. The frame aborts (its effects discarded) on this
// error, matching spec's "fuel exhaustion aborts the frame" rule.
func (m *FuelMeter) Consume(cost uint64) error {
	if cost > m.Remaining() {
		m.used = m.limit
		return errOutOfFuel
	}
	m.used += cost
	return nil
}

// Spawn carves out a child budget of limit units for a nested call (section
// 4.8 step 1): the parent's own remaining budget is reduced by limit up
// front, so a nested call can never spend more fuel overall than its
// parent had. It fails without mutating the parent if limit exceeds what
// the parent has left.
func (m *FuelMeter) Spawn(limit uint64) (*FuelMeter, error) {
	if limit > m.Remaining() {
		return nil, errOutOfFuel
	}
	m.used += limit
	return NewFuelMeter(limit), nil
}

// Refund credits amount back to the parent's budget, undoing the portion
// of a prior Spawn deduction a child frame never spent. Amount is clamped
// to what Spawn actually deducted, so a caller can never refund more than
// it gave out.
func (m *FuelMeter) Refund(amount uint64) {
	if amount > m.used {
		amount = m.used
	}
	m.used -= amount
}

// Orchestrator owns the module cache, the persistent overlay and the host
// VM, and drives the call tree for one transaction's message dispatch.
type Orchestrator struct {
	cache   *ModuleCache
	overlay *Overlay
	host    *WasmHost
}

// NewOrchestrator wires the three collaborators together.
func NewOrchestrator(cache *ModuleCache, overlay *Overlay, host *WasmHost) *Orchestrator {
	return &Orchestrator{cache: cache, overlay: overlay, host: host}
}

// Dispatch runs target's message entrypoint with inputs as the top-level
// call of a transaction: a fresh frame at depth 0, normal call semantics,
// Caller and Origin both equal to target's invoker (the transaction
// itself, represented by the zero AlkaneId in the absence of a calling
// module).
func (o *Orchestrator) Dispatch(height uint64, invoker AlkaneId, target AlkaneId, inputs []*uint256.Int, fuelLimit uint64, balances *BalanceSheet) (*Receipt, []TraceEvent, error) {
	root := &Frame{
		Self:         target,
		Code:         target,
		Caller:       invoker,
		Origin:       invoker,
		StorageOwner: target,
		CallType:     CallNormal,
		Height:       height,
		Fuel:         NewFuelMeter(fuelLimit),
		Balances:     balances,
		Scratch:      NewMemKV(),
		Depth:        0,
	}
	var trace []TraceEvent
	rec, err := o.run(root, inputs, &trace)
	if err == nil && rec.Status {
		o.commit(root)
	}
	return rec, trace, err
}

// run executes one frame's module bytecode and, via the host VM's nested
// call hooks, recurses into child frames for call/delegatecall/staticcall.
func (o *Orchestrator) run(f *Frame, inputs []*uint256.Int, trace *[]TraceEvent) (*Receipt, error) {
	*trace = append(*trace, TraceEvent{Kind: "enter", Module: f.Self, Depth: f.Depth, Fuel: f.Fuel.Remaining()})

	code, err := o.cache.LoadAt(f.Code, f.Height)
	if err != nil {
		return &Receipt{Status: false, Error: err.Error()}, nil
	}

	rec, err := o.host.Execute(code, f, inputs, o, trace)
	if err != nil {
		*trace = append(*trace, TraceEvent{Kind: "revert", Module: f.Self, Depth: f.Depth})
		return rec, nil
	}
	if !rec.Status {
		*trace = append(*trace, TraceEvent{Kind: "revert", Module: f.Self, Depth: f.Depth})
		return rec, nil
	}
	*trace = append(*trace, TraceEvent{Kind: "return", Module: f.Self, Depth: f.Depth, Fuel: f.Fuel.Remaining()})
	return rec, nil
}

// nestedCall is invoked by the host VM when a module calls, delegatecalls
// or staticcalls another (section 4.8). It deducts fuelLimit from the
// parent's remaining budget into a fresh child meter (step 1), transfers
// only incomingAlkanes from the parent's balance sheet into a fresh
// callee sheet for call/staticcall (step 2), builds the child frame, and
// recurses. On success the child's unspent fuel is refunded to the parent
// and (call only) its scratch storage is merged up; on any failure the
// child's spent fuel is forfeit and its scratch is discarded.
func (o *Orchestrator) nestedCall(parent *Frame, kind CallType, target AlkaneId, inputs []*uint256.Int, fuelLimit uint64, incomingAlkanes *BalanceSheet, trace *[]TraceEvent) (*Receipt, error) {
	if parent.Depth+1 >= MaxCallDepth {
		return &Receipt{Status: false, Error: errFrameDepthLimit.Error()}, nil
	}
	childFuel, err := parent.Fuel.Spawn(fuelLimit)
	if err != nil {
		return &Receipt{Status: false, Error: err.Error()}, nil
	}

	child := &Frame{
		Self:     target,
		Code:     target,
		CallType: kind,
		Height:   parent.Height,
		Sequence: parent.Sequence,
		Fuel:     childFuel,
		Depth:    parent.Depth + 1,
	}
	switch kind {
	case CallNormal:
		child.Caller = parent.Self
		child.Origin = parent.Origin
		child.StorageOwner = target
		child.Balances = NewBalanceSheet()
		moveIncomingAlkanes(parent.Balances, child.Balances, incomingAlkanes)
		child.Scratch = cloneScratch(parent.Scratch)
		child.ReadOnly = false
	case CallDelegate:
		// myself stays the parent's own identity; Code alone carries the
		// target's bytecode, so storage/balances/caller all read as if the
		// parent itself executed the target's code in place.
		child.Self = parent.Self
		child.Caller = parent.Caller
		child.Origin = parent.Origin
		child.StorageOwner = parent.StorageOwner
		child.Balances = parent.Balances
		child.Scratch = parent.Scratch
		child.ReadOnly = parent.ReadOnly
	case CallStatic:
		child.Caller = parent.Self
		child.Origin = parent.Origin
		child.StorageOwner = target
		child.Balances = NewBalanceSheet()
		moveIncomingAlkanes(parent.Balances, child.Balances, incomingAlkanes)
		child.Scratch = cloneScratch(parent.Scratch)
		child.ReadOnly = true
	}

	rec, err := o.run(child, inputs, trace)
	if err != nil || !rec.Status {
		if kind != CallDelegate {
			moveIncomingAlkanes(child.Balances, parent.Balances, incomingAlkanes)
		}
		return rec, err // child's spent fuel is forfeit; its scratch and balance moves are discarded
	}
	parent.Fuel.Refund(child.Fuel.Remaining())
	if kind == CallNormal && !child.ReadOnly {
		mergeScratch(parent.Scratch, child.Scratch)
	}
	return rec, nil
}

// moveIncomingAlkanes transfers exactly the amounts named in incoming from
// from to to (section 4.8 step 2), leaving every other balance on from
// untouched: a nested call only ever receives the alkanes its caller
// explicitly attaches to it, never the caller's whole sheet.
func moveIncomingAlkanes(from, to *BalanceSheet, incoming *BalanceSheet) {
	if incoming == nil {
		return
	}
	for _, id := range incoming.IDs() {
		amt := incoming.Get(id)
		if from.Decrease(id, amt) {
			to.Increase(id, amt)
		}
	}
}

func cloneScratch(src *MemKV) *MemKV {
	if src == nil {
		return NewMemKV()
	}
	out := NewMemKV()
	it := src.PrefixIterator(nil)
	defer it.Close()
	for it.Next() {
		out.m[string(it.Key())] = append([]byte(nil), it.Value()...)
	}
	return out
}

func mergeScratch(dst, src *MemKV) {
	it := src.PrefixIterator(nil)
	defer it.Close()
	for it.Next() {
		dst.m[string(it.Key())] = append([]byte(nil), it.Value()...)
	}
}

// commit flushes a successful root frame's scratch storage into the
// persistent overlay at the frame's height, the only point at which a
// call tree's effects become durable.
func (o *Orchestrator) commit(root *Frame) {
	b := o.overlay.kv.NewBatch()
	it := root.Scratch.PrefixIterator(nil)
	defer it.Close()
	for it.Next() {
		b.Put(versionedKey(it.Key(), root.Height), it.Value())
	}
	_ = b.Write()
}
