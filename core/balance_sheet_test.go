package core

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestBalanceSheetIncreaseDecrease(t *testing.T) {
	s := NewBalanceSheet()
	id := NewAlkaneId(1, 1)
	s.Increase(id, uint256.NewInt(100))
	if got := s.Get(id).Uint64(); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	if !s.Decrease(id, uint256.NewInt(40)) {
		t.Fatalf("decrease should succeed when funds suffice")
	}
	if got := s.Get(id).Uint64(); got != 60 {
		t.Fatalf("expected 60, got %d", got)
	}
	if s.Decrease(id, uint256.NewInt(1000)) {
		t.Fatalf("decrease should fail on insufficient balance")
	}
	if got := s.Get(id).Uint64(); got != 60 {
		t.Fatalf("failed decrease must not mutate the sheet, got %d", got)
	}
}

func TestBalanceSheetSetZeroRemovesEntry(t *testing.T) {
	s := NewBalanceSheet()
	id := NewAlkaneId(2, 2)
	s.Set(id, uint256.NewInt(5))
	if s.IsEmpty() {
		t.Fatalf("expected non-empty sheet")
	}
	s.Set(id, uint256.NewInt(0))
	if !s.IsEmpty() {
		t.Fatalf("expected zero-set entry to be removed")
	}
}

func TestBalanceSheetMerge(t *testing.T) {
	a := NewBalanceSheet()
	b := NewBalanceSheet()
	id1, id2 := NewAlkaneId(1, 1), NewAlkaneId(2, 2)
	a.Increase(id1, uint256.NewInt(10))
	b.Increase(id1, uint256.NewInt(5))
	b.Increase(id2, uint256.NewInt(7))

	a.Merge(b)
	if got := a.Get(id1).Uint64(); got != 15 {
		t.Fatalf("expected merged id1=15, got %d", got)
	}
	if got := a.Get(id2).Uint64(); got != 7 {
		t.Fatalf("expected merged id2=7, got %d", got)
	}
}

func TestBalanceSheetCloneIsIndependent(t *testing.T) {
	a := NewBalanceSheet()
	id := NewAlkaneId(3, 3)
	a.Increase(id, uint256.NewInt(10))
	clone := a.Clone()
	clone.Increase(id, uint256.NewInt(90))
	if got := a.Get(id).Uint64(); got != 10 {
		t.Fatalf("mutating clone must not affect original, got %d", got)
	}
}

func TestBalanceSheetEncodeDecodeRoundTrip(t *testing.T) {
	s := NewBalanceSheet()
	s.Increase(NewAlkaneId(1, 1), uint256.NewInt(123))
	s.Increase(NewAlkaneId(2, 5), uint256.NewInt(999999))

	buf := s.Encode()
	out, err := DecodeBalanceSheet(buf)
	if err != nil {
		t.Fatalf("DecodeBalanceSheet: %v", err)
	}
	for _, id := range s.IDs() {
		if out.Get(id).Cmp(s.Get(id)) != 0 {
			t.Fatalf("round-trip mismatch for %s: want %s got %s", id, s.Get(id), out.Get(id))
		}
	}
	if len(out.IDs()) != len(s.IDs()) {
		t.Fatalf("round-trip id count mismatch: got %d want %d", len(out.IDs()), len(s.IDs()))
	}
}

func TestBalanceSheetDebitMintableOrdinaryDebit(t *testing.T) {
	s := NewBalanceSheet()
	id := NewAlkaneId(9, 9)
	s.Increase(id, uint256.NewInt(1000))
	if err := s.DebitMintable(id, uint256.NewInt(400), AlkaneId{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.Get(id).Uint64(); got != 600 {
		t.Fatalf("expected 600 remaining after an ordinary debit, got %d", got)
	}
}

func TestBalanceSheetDebitMintableAbsorbsShortfallForOwner(t *testing.T) {
	s := NewBalanceSheet()
	id := NewAlkaneId(9, 9)
	s.Increase(id, uint256.NewInt(100))
	// id authorizes its own mint: a shortfall against its own rune id is
	// absorbed rather than rejected.
	if err := s.DebitMintable(id, uint256.NewInt(1000), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.Get(id).Uint64(); got != 0 {
		t.Fatalf("expected balance to settle at zero after an authorized mint, got %d", got)
	}
}

func TestBalanceSheetDebitMintableRejectsUnauthorizedShortfall(t *testing.T) {
	s := NewBalanceSheet()
	id := NewAlkaneId(9, 9)
	s.Increase(id, uint256.NewInt(100))
	other := NewAlkaneId(1, 1)
	if err := s.DebitMintable(id, uint256.NewInt(1000), other); err != errBalanceUnderflow {
		t.Fatalf("expected errBalanceUnderflow, got %v", err)
	}
	if got := s.Get(id).Uint64(); got != 100 {
		t.Fatalf("a rejected debit must not mutate the sheet, got %d", got)
	}
}
