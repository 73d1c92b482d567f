package core

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"
)

// AlkaneId identifies a deployed module by its (block, tx) coordinate pair,
// the height and index at which the deploying transaction was indexed. Both
// limbs are carried as 128-bit values even though in practice neither ever
// approaches that range; the wire format and comparisons are defined over
// the full width so no future caller has to special-case overflow.
type AlkaneId struct {
	Block *uint256.Int
	Tx    *uint256.Int
}

// NewAlkaneId builds an id from plain uint64 coordinates, the common case
// for reserved and factory-derived ids.
func NewAlkaneId(block, tx uint64) AlkaneId {
	return AlkaneId{Block: uint256.NewInt(block), Tx: uint256.NewInt(tx)}
}

func (id AlkaneId) String() string {
	return fmt.Sprintf("%s:%s", id.Block.String(), id.Tx.String())
}

// Equal reports whether two ids name the same module.
func (id AlkaneId) Equal(o AlkaneId) bool {
	return id.Block.Eq(o.Block) && id.Tx.Eq(o.Tx)
}

// Less orders ids first by block then by tx, giving BalanceSheet and the
// module cache a stable iteration order for deterministic hashing.
func (id AlkaneId) Less(o AlkaneId) bool {
	if !id.Block.Eq(o.Block) {
		return id.Block.Lt(o.Block)
	}
	return id.Tx.Lt(o.Tx)
}

// Bytes encodes the id as two big-endian 16-byte limbs, 32 bytes total. This
// is the canonical on-disk and wire representation used as a map key and as
// a cellpack/edict field.
func (id AlkaneId) Bytes() [32]byte {
	var out [32]byte
	b := id.Block.Bytes32()
	t := id.Tx.Bytes32()
	copy(out[0:16], b[16:32])
	copy(out[16:32], t[16:32])
	return out
}

// AlkaneIdFromBytes decodes the 32-byte form produced by Bytes.
func AlkaneIdFromBytes(b [32]byte) AlkaneId {
	return AlkaneId{
		Block: new(uint256.Int).SetBytes(b[0:16]),
		Tx:    new(uint256.Int).SetBytes(b[16:32]),
	}
}

// ProtoruneRuneId identifies a fungible unit tracked by the balance sheet:
// either an alkanes module's own token (block/tx equal to the module's
// AlkaneId) or an imported protorune. The representation is identical to
// AlkaneId; the distinct name keeps the two concepts from being confused at
// call sites even though the underlying bytes are interchangeable.
type ProtoruneRuneId = AlkaneId

// u128 is the concrete economic-quantity type, an alias of the 256-bit
// uint256.Int with no floating point anywhere in its arithmetic. Balances
// and edict amounts use it; values are not bounded to 128 bits. Fuel costs
// are plain uint64.
type u128 = uint256.Int

func newU128(v uint64) *u128 { return uint256.NewInt(v) }

// leb128Uvarint decodes a single unsigned LEB128 varint from buf, returning
// the value, the number of bytes consumed and an error if buf is truncated
// or the encoding overflows 128 bits.
func leb128Uvarint(buf []byte) (*u128, int, error) {
	var result uint256.Int
	var shift uint
	for i, b := range buf {
		if shift >= 128 {
			return nil, 0, fmt.Errorf("leb128: varint exceeds 128 bits")
		}
		chunk := uint256.NewInt(uint64(b & 0x7f))
		chunk.Lsh(chunk, shift)
		result.Or(&result, chunk)
		if b&0x80 == 0 {
			return &result, i + 1, nil
		}
		shift += 7
	}
	return nil, 0, fmt.Errorf("leb128: truncated varint")
}

// putLeb128Uvarint appends the unsigned LEB128 encoding of v to dst.
func putLeb128Uvarint(dst []byte, v *u128) []byte {
	if v.IsZero() {
		return append(dst, 0)
	}
	rest := new(uint256.Int).Set(v)
	for !rest.IsZero() {
		b := byte(rest.Uint64() & 0x7f)
		rest.Rsh(rest, 7)
		if !rest.IsZero() {
			b |= 0x80
		}
		dst = append(dst, b)
	}
	return dst
}

// leb128Uint64 is a narrow convenience wrapper for fields the spec defines
// as ordinary 64-bit varints (heights, indices), using stdlib binary.Uvarint
// directly since those never need the 128-bit path.
func leb128Uint64(buf []byte) (uint64, int, error) {
	v, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, 0, fmt.Errorf("leb128: truncated or overflowing u64 varint")
	}
	return v, n, nil
}
