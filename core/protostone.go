package core

import (
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// Edict moves amount units of Id from the pooled input balance sheet to
// output Output. An Output value equal to the transaction's output count
// means "split across all numbered outputs", per spec.
type Edict struct {
	Id     ProtoruneRuneId
	Amount *uint256.Int
	Output uint32
}

// Cellpack is the opaque instruction payload a protostone message carries
// to an alkanes module: a target (which module receives the call) plus a
// sequence of u128 inputs interpreted by that module's ABI.
type Cellpack struct {
	Target AlkaneId
	Inputs []*uint256.Int
}

// Protostone is one decoded unit from an OP_RETURN runestone's protostone
// field: an optional message cellpack, a pointer/refund output selection,
// and the edicts that move balances before the message (if any) runs.
type Protostone struct {
	Burn    bool
	Message *Cellpack
	Pointer *uint32
	Refund  *uint32
	Edicts  []Edict
}

// target.block selectors, spec.md section 4.9.
const (
	TargetDeployNew        = 1 // assign the next sequence number
	TargetReserved         = 2 // deploy to a protocol-reserved id
	TargetCloneTemplate    = 3 // factory clone: new id, shared codehash
	TargetDirect           = 4 // call an existing module by exact id
	TargetCloneTemplateAlt = 5 // alternate factory encoding, same semantics as 3
)

// ParseProtostones decodes the LEB128-framed sequence of protostones found
// in a runestone's protocol field. Each protostone is length-prefixed so a
// malformed one can be skipped without losing the ones that decode
// cleanly, matching spec.md's edge-case rule that parse failures degrade to
// "skip this protostone", not "fail the block".
func ParseProtostones(buf []byte) ([]Protostone, error) {
	var out []Protostone
	off := 0
	for off < len(buf) {
		length, n, err := leb128Uint64(buf[off:])
		if err != nil {
			return out, err
		}
		off += n
		if off+int(length) > len(buf) {
			return out, errNotEnoughBytes
		}
		body := buf[off : off+int(length)]
		off += int(length)

		ps, err := parseOneProtostone(body)
		if err != nil {
			continue // skip malformed protostone, keep the rest per spec
		}
		out = append(out, ps)
	}
	return out, nil
}

type wireProtostone struct {
	Burn      bool
	HasMsg    bool
	MsgTarget [32]byte
	MsgInputs [][]byte
	HasPtr    bool
	Pointer   uint32
	HasRefund bool
	Refund    uint32
	Edicts    []wireEdict
}

type wireEdict struct {
	Id     [32]byte
	Amount []byte
	Output uint32
}

func parseOneProtostone(body []byte) (Protostone, error) {
	var w wireProtostone
	if err := rlp.DecodeBytes(body, &w); err != nil {
		return Protostone{}, err
	}
	ps := Protostone{Burn: w.Burn}
	if w.HasMsg {
		inputs := make([]*uint256.Int, 0, len(w.MsgInputs))
		for _, raw := range w.MsgInputs {
			inputs = append(inputs, new(uint256.Int).SetBytes(raw))
		}
		ps.Message = &Cellpack{Target: AlkaneIdFromBytes(w.MsgTarget), Inputs: inputs}
	}
	if w.HasPtr {
		p := w.Pointer
		ps.Pointer = &p
	}
	if w.HasRefund {
		r := w.Refund
		ps.Refund = &r
	}
	for _, we := range w.Edicts {
		ps.Edicts = append(ps.Edicts, Edict{
			Id:     AlkaneIdFromBytes(we.Id),
			Amount: new(uint256.Int).SetBytes(we.Amount),
			Output: we.Output,
		})
	}
	return ps, nil
}

// EncodeProtostone is the inverse of parseOneProtostone, used by tests that
// round-trip a constructed Protostone through the wire format and by
// simulate() requests that accept a pre-built cellpack.
func EncodeProtostone(ps Protostone) ([]byte, error) {
	w := wireProtostone{Burn: ps.Burn}
	if ps.Message != nil {
		w.HasMsg = true
		w.MsgTarget = ps.Message.Target.Bytes()
		for _, in := range ps.Message.Inputs {
			w.MsgInputs = append(w.MsgInputs, in.Bytes())
		}
	}
	if ps.Pointer != nil {
		w.HasPtr = true
		w.Pointer = *ps.Pointer
	}
	if ps.Refund != nil {
		w.HasRefund = true
		w.Refund = *ps.Refund
	}
	for _, e := range ps.Edicts {
		w.Edicts = append(w.Edicts, wireEdict{Id: e.Id.Bytes(), Amount: e.Amount.Bytes(), Output: e.Output})
	}
	return rlp.EncodeToBytes(&w)
}
