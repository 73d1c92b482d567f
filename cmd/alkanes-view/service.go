package main

import (
	"strconv"

	"github.com/holiman/uint256"

	"github.com/kungfuflex/alkanes/core"
)

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

func parseU256(s string) (*uint256.Int, error) {
	v := new(uint256.Int)
	if err := v.SetFromDecimal(s); err != nil {
		return nil, err
	}
	return v, nil
}

func parseAlkaneId(blockStr, txStr string) (core.AlkaneId, *rpcError) {
	block, err := parseU256(blockStr)
	if err != nil {
		return core.AlkaneId{}, &rpcError{Code: -32602, Message: "bad block coordinate"}
	}
	tx, err := parseU256(txStr)
	if err != nil {
		return core.AlkaneId{}, &rpcError{Code: -32602, Message: "bad tx coordinate"}
	}
	return core.AlkaneId{Block: block, Tx: tx}, nil
}

func parseU256List(raw []string) ([]*uint256.Int, *rpcError) {
	out := make([]*uint256.Int, 0, len(raw))
	for _, s := range raw {
		v, err := parseU256(s)
		if err != nil {
			return nil, &rpcError{Code: -32602, Message: "bad input value: " + s}
		}
		out = append(out, v)
	}
	return out, nil
}
