package core

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestAlkaneIdBytesRoundTrip(t *testing.T) {
	id := NewAlkaneId(123456, 7)
	b := id.Bytes()
	out := AlkaneIdFromBytes(b)
	if !id.Equal(out) {
		t.Fatalf("round trip mismatch: %s != %s", id, out)
	}
}

func TestAlkaneIdLessOrdersByBlockThenTx(t *testing.T) {
	a := NewAlkaneId(1, 9)
	b := NewAlkaneId(2, 0)
	c := NewAlkaneId(1, 10)
	if !a.Less(b) {
		t.Fatalf("expected block 1 < block 2")
	}
	if !a.Less(c) {
		t.Fatalf("expected (1,9) < (1,10)")
	}
	if c.Less(a) {
		t.Fatalf("(1,10) must not be less than (1,9)")
	}
}

func TestLeb128UvarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<63 - 1}
	for _, v := range values {
		buf := putLeb128Uvarint(nil, newU128(v))
		got, n, err := leb128Uvarint(buf)
		if err != nil {
			t.Fatalf("v=%d: decode error: %v", v, err)
		}
		if n != len(buf) {
			t.Fatalf("v=%d: expected to consume %d bytes, consumed %d", v, len(buf), n)
		}
		if got.Uint64() != v {
			t.Fatalf("v=%d: got %s", v, got)
		}
	}
}

func TestLeb128UvarintLargerThan64Bits(t *testing.T) {
	big := new(uint256.Int).Lsh(uint256.NewInt(1), 100)
	buf := putLeb128Uvarint(nil, big)
	got, _, err := leb128Uvarint(buf)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got.Cmp(big) != 0 {
		t.Fatalf("expected %s, got %s", big, got)
	}
}

func TestLeb128UvarintTruncated(t *testing.T) {
	buf := []byte{0x80, 0x80} // continuation bit set on every byte, never terminates
	if _, _, err := leb128Uvarint(buf); err == nil {
		t.Fatalf("expected truncated varint error")
	}
}
