package core

import (
	"bytes"
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/wire"
	"github.com/klauspost/compress/gzip"
)

// envelopeTag marks the start of an alkanes binary envelope inside a
// taproot script-path witness, distinguishing it from an ordinary ord
// inscription envelope that carries a content-type tag instead.
var envelopeTag = []byte("BIN")
var ordTag = []byte("ord")

// EnvelopePayload is the decoded, decompressed module bytecode (or, for an
// ord-tagged envelope, the raw content body) pulled from one transaction's
// witness. Kind distinguishes the two so the indexer can route BIN payloads
// to module deployment and leave ord payloads unexecuted, per spec.
type EnvelopePayload struct {
	Kind        string // "bin" or "ord"
	ContentType []byte
	Body        []byte
}

// DecodeEnvelope walks the taproot script-path spend witness of tx input
// index vin, checks that the control block is well formed and its internal
// key parses as an x-only schnorr key, concatenates the envelope's data
// pushes and gzip-decompresses the result for a "BIN" envelope. Grounded on
// the two-pass structure (control-block check, then script-body walk)
// common to taproot inscription parsers; uses btcec/schnorr for the key
// parse and klauspost/compress for the payload inflate.
func DecodeEnvelope(tx *wire.MsgTx, vin int) (*EnvelopePayload, error) {
	if vin < 0 || vin >= len(tx.TxIn) {
		return nil, errBadEnvelope
	}
	witness := tx.TxIn[vin].Witness
	if len(witness) < 2 {
		return nil, errBadEnvelope
	}

	controlBlock := witness[len(witness)-1]
	script := witness[len(witness)-2]

	if err := validateControlBlock(controlBlock); err != nil {
		return nil, err
	}

	chunks, err := scriptDataPushes(script)
	if err != nil {
		return nil, err
	}
	return parseEnvelopeChunks(chunks)
}

// validateControlBlock checks the control block is well formed (leaf
// version byte + 32-byte internal key + any number of 32-byte proof nodes,
// with no upper bound on the node count) and
// that the internal key is a valid compressed x-only schnorr point, the
// minimal parity check a taproot script-path spend must pass.
func validateControlBlock(cb []byte) error {
	if len(cb) < 33 || (len(cb)-33)%32 != 0 {
		return errBadControlBlock
	}
	internalKey := cb[1:33]
	if _, err := schnorr.ParsePubKey(internalKey); err != nil {
		return errBadControlBlock
	}
	return nil
}

// scriptDataPushes walks a raw script body and returns every data push it
// contains, in order, ignoring opcodes. Envelope bodies are a run of data
// pushes bracketed by OP_FALSE OP_IF ... OP_ENDIF, but the bracketing
// opcodes carry no payload so a plain data-push walk recovers the chunks.
func scriptDataPushes(script []byte) ([][]byte, error) {
	var chunks [][]byte
	i := 0
	for i < len(script) {
		op := script[i]
		switch {
		case op == 0x00:
			i++
		case op >= 0x01 && op <= 0x4b:
			n := int(op)
			i++
			if i+n > len(script) {
				return nil, errBadEnvelope
			}
			chunks = append(chunks, script[i:i+n])
			i += n
		case op == 0x4c: // OP_PUSHDATA1
			if i+2 > len(script) {
				return nil, errBadEnvelope
			}
			n := int(script[i+1])
			i += 2
			if i+n > len(script) {
				return nil, errBadEnvelope
			}
			chunks = append(chunks, script[i:i+n])
			i += n
		case op == 0x4d: // OP_PUSHDATA2
			if i+3 > len(script) {
				return nil, errBadEnvelope
			}
			n := int(script[i+1]) | int(script[i+2])<<8
			i += 3
			if i+n > len(script) {
				return nil, errBadEnvelope
			}
			chunks = append(chunks, script[i:i+n])
			i += n
		default:
			i++ // non-push opcode (OP_IF/OP_ENDIF/etc), skip
		}
	}
	return chunks, nil
}

func parseEnvelopeChunks(chunks [][]byte) (*EnvelopePayload, error) {
	for idx, c := range chunks {
		if bytes.Equal(c, envelopeTag) {
			body := joinChunks(chunks[idx+1:])
			inflated, err := gunzip(body)
			if err != nil {
				return nil, err
			}
			return &EnvelopePayload{Kind: "bin", Body: inflated}, nil
		}
		if bytes.Equal(c, ordTag) && idx+1 < len(chunks) {
			return &EnvelopePayload{Kind: "ord", ContentType: chunks[idx+1], Body: joinChunks(chunks[idx+2:])}, nil
		}
	}
	return nil, errBadEnvelope
}

func joinChunks(chunks [][]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// codehashOf returns the sha256 of the uncompressed module bytes, the
// fingerprint the module cache indexes deployed bytecode by.
func codehashOf(body []byte) [32]byte {
	return sha256.Sum256(body)
}
