// Fuel schedule for the alkanes host call surface.
// ------------------------------------------------
// This file contains the canonical fuel-pricing table for every host call a
// sandboxed module can invoke. The numbers are the environment's policy
// input, not a derived constant — spec.md explicitly leaves the schedule
// implementation-defined, so the values here are placeholders to be tuned
// against a real deployment, not the result of any calculation.
//
// IMPORTANT
//   - The table MUST contain an entry for every HostCall the VM host
//     interface exports.
//   - Unknown host calls fall back to DefaultFuelCost, set high enough that
//     an un-priced call is never the cheap option.
//   - Reads are lock-free; the table is populated once at init and never
//     mutated afterwards.
package core

import "log"

// HostCall identifies one entry in the fixed host ABI a module links
// against, grounded on the teacher's Opcode enum (gas_table.go) but scoped
// to the two-step I/O surface spec.md names instead of a bytecode
// instruction set.
type HostCall int

const (
	HostAbort HostCall = iota
	HostHeight
	HostSequence
	HostFuel
	HostLog
	HostRequestContext
	HostLoadContext
	HostRequestStorage
	HostLoadStorage
	HostStoreStorage
	HostBalance
	HostCallNormal
	HostDelegateCall
	HostStaticCall
	HostReturndataCopy
	HostExtcodecopy
	HostCodehash
)

// DefaultFuelCost is charged for any host call missing from the table.
const DefaultFuelCost uint64 = 100_000

// FuelSchedule maps every HostCall to its base fuel cost. Per-byte costs
// (storage load/store/request) are additionally scaled by payload length at
// the call site in vm_host.go; this table holds only the fixed base cost.
var FuelSchedule = map[HostCall]uint64{
	HostAbort:          0, // an abort unwinds the frame; nothing further runs to charge
	HostHeight:         10,
	HostSequence:       10,
	HostFuel:           5,
	HostLog:            50,
	HostRequestContext: 20,
	HostLoadContext:    20,
	HostRequestStorage: 100,
	HostLoadStorage:    100,
	HostStoreStorage:   5_000,
	HostBalance:        100,
	HostCallNormal:          10_000,
	HostDelegateCall:   10_000,
	HostStaticCall:     8_000,
	HostReturndataCopy: 30,
	HostExtcodecopy:    200,
	HostCodehash:       50,
}

// PerBytePricing, spec section 4.7's byte-scaled cost table.
const (
	FuelPerByteLoad    uint64 = 3
	FuelPerByteStore   uint64 = 20
	FuelPerByteRequest uint64 = 1
)

// FuelCost returns the base fuel cost for a single host call, logging every
// lookup of a call missing from the schedule rather than silently charging
// the default, so a missing entry is visible in operation instead of
// quietly under- or over-pricing a call forever.
func FuelCost(call HostCall) uint64 {
	if cost, ok := FuelSchedule[call]; ok {
		return cost
	}
	log.Printf("fuel_table: missing cost for host call %d - charging default", call)
	return DefaultFuelCost
}
