package core

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestCloneAndMergeScratch(t *testing.T) {
	src := NewMemKV()
	_ = src.Put([]byte("k1"), []byte("v1"))
	clone := cloneScratch(src)
	_ = clone.Put([]byte("k2"), []byte("v2"))

	if _, err := src.Get([]byte("k2")); err != ErrNotFound {
		t.Fatalf("mutating a clone must not affect its source")
	}

	dst := NewMemKV()
	_ = dst.Put([]byte("k0"), []byte("orig"))
	mergeScratch(dst, clone)
	if v, err := dst.Get([]byte("k1")); err != nil || string(v) != "v1" {
		t.Fatalf("expected merged key k1, got %q %v", v, err)
	}
	if v, err := dst.Get([]byte("k0")); err != nil || string(v) != "orig" {
		t.Fatalf("merge must not disturb dst's own unrelated keys, got %q %v", v, err)
	}
}

func TestNestedCallRejectsPastMaxDepth(t *testing.T) {
	overlay := NewOverlay(NewMemKV())
	cache := NewModuleCache(overlay)
	host := NewWasmHost()
	orch := NewOrchestrator(cache, overlay, host)

	parent := &Frame{
		Self:     NewAlkaneId(1, 1),
		Code:     NewAlkaneId(1, 1),
		Depth:    MaxCallDepth - 1,
		Fuel:     NewFuelMeter(1000),
		Balances: NewBalanceSheet(),
		Scratch:  NewMemKV(),
	}
	var trace []TraceEvent
	rec, err := orch.nestedCall(parent, CallNormal, NewAlkaneId(2, 2), nil, 100, nil, &trace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status {
		t.Fatalf("expected depth-limited call to fail")
	}
}

// TestNestedCallFuelSubdivision exercises section 4.8 step 1: a fuel_limit
// is deducted from the parent up front and forfeit on a failed nested call,
// while a fuel_limit exceeding the parent's remaining budget is rejected
// without being deducted at all.
func TestNestedCallFuelSubdivision(t *testing.T) {
	overlay := NewOverlay(NewMemKV())
	cache := NewModuleCache(overlay)
	host := NewWasmHost()
	orch := NewOrchestrator(cache, overlay, host)

	parent := &Frame{
		Self:     NewAlkaneId(1, 1),
		Code:     NewAlkaneId(1, 1),
		Depth:    0,
		Fuel:     NewFuelMeter(1000),
		Balances: NewBalanceSheet(),
		Scratch:  NewMemKV(),
	}
	var trace []TraceEvent
	rec, err := orch.nestedCall(parent, CallNormal, NewAlkaneId(2, 2), nil, 200, nil, &trace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status {
		t.Fatalf("expected the call to an undeployed module to fail")
	}
	if got := parent.Fuel.Remaining(); got != 800 {
		t.Fatalf("expected 200 fuel spent and forfeited, got remaining %d", got)
	}

	if _, err := orch.nestedCall(parent, CallNormal, NewAlkaneId(3, 3), nil, 10_000, nil, &trace); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := parent.Fuel.Remaining(); got != 800 {
		t.Fatalf("a fuel_limit beyond the parent's remaining budget must not be deducted, got %d", got)
	}
}

// TestMoveIncomingAlkanesTransfersOnlyRequested confirms a nested call only
// receives the alkanes its caller explicitly attaches to it, not the
// caller's whole balance sheet.
func TestMoveIncomingAlkanesTransfersOnlyRequested(t *testing.T) {
	from := NewBalanceSheet()
	to := NewBalanceSheet()
	id := NewAlkaneId(4, 4)
	from.Increase(id, uint256.NewInt(100))

	incoming := NewBalanceSheet()
	incoming.Increase(id, uint256.NewInt(30))
	moveIncomingAlkanes(from, to, incoming)

	if got := from.Get(id).Uint64(); got != 70 {
		t.Fatalf("expected caller debited to 70, got %d", got)
	}
	if got := to.Get(id).Uint64(); got != 30 {
		t.Fatalf("expected callee credited 30, got %d", got)
	}
}

func TestFrameTypeWiringForDelegateCall(t *testing.T) {
	// Delegatecall shares the caller's storage owner and scratch view rather
	// than cloning a fresh one, and presents the caller's own identity
	// (Self) to the rest of the system while actually executing the
	// target's bytecode (Code) — the distinguishing behavior from a normal
	// call, and the fix for conflating the two.
	caller := NewAlkaneId(1, 1)
	target := NewAlkaneId(2, 2)
	parent := &Frame{
		Self:         caller,
		Code:         caller,
		Caller:       NewAlkaneId(9, 9),
		Origin:       NewAlkaneId(9, 9),
		StorageOwner: caller,
		Scratch:      NewMemKV(),
		Balances:     NewBalanceSheet(),
		Fuel:         NewFuelMeter(1000),
	}
	_ = parent.Scratch.Put([]byte("shared"), []byte("v"))

	// Simulate what nestedCall does for CallDelegate without requiring an
	// actual wasm module to load.
	child := &Frame{
		Self:         parent.Self, // myself stays the parent's identity
		Code:         target,      // but the target's bytecode is what actually runs
		Caller:       parent.Caller,
		Origin:       parent.Origin,
		StorageOwner: parent.StorageOwner,
		Scratch:      parent.Scratch,
		Balances:     parent.Balances,
	}
	if child.Self != caller {
		t.Fatalf("delegatecall must present the caller's own identity as myself")
	}
	if child.Code != target {
		t.Fatalf("delegatecall must still load the target's bytecode")
	}
	if child.StorageOwner != caller {
		t.Fatalf("delegatecall must keep the caller's storage owner")
	}
	if v, err := child.Scratch.Get([]byte("shared")); err != nil || string(v) != "v" {
		t.Fatalf("delegatecall must see the caller's scratch directly, got %q %v", v, err)
	}
}
