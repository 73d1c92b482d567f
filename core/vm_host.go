package core

import (
	"errors"

	"github.com/holiman/uint256"
	"github.com/wasmerio/wasmer-go/wasmer"
)

// Receipt is the outcome of one frame's execution: success/failure, the
// fuel actually spent, any return data and the log entries it emitted.
// Grounded on the teacher's Receipt (virtual_machine.go), trimmed to drop
// the EVM-style GasUsed/Logs[ethereum types] in favor of fuel/Log below.
type Receipt struct {
	Status     bool
	FuelUsed   uint64
	ReturnData []byte
	Logs       []Log
	Error      string
}

// Log is one structured log line a module emitted via the log host call.
type Log struct {
	Module AlkaneId
	Data   []byte
}

// WasmHost is the sandboxed execution engine: it compiles module bytecode
// under wasmer-go and links it against the fixed host ABI spec.md names.
// Grounded on the teacher's HeavyVM (virtual_machine.go): a wasmer Engine
// is reused across calls, a fresh Store/Module/Instance per invocation, and
// host functions are registered under the "env" import namespace exactly
// as registerHost does, generalized from 4 host functions
// (host_consume_gas/host_read/host_write/host_log) to the full two-step
// request/load I/O surface plus call/delegatecall/staticcall.
type WasmHost struct {
	engine *wasmer.Engine
}

// NewWasmHost builds a host around a fresh wasmer engine. One engine is
// shared across every module invocation in the process.
func NewWasmHost() *WasmHost {
	return &WasmHost{engine: wasmer.NewEngine()}
}

// hostEnv is the closure state every registered host function reads and
// mutates: the frame's fuel/storage/balances, the orchestrator for nested
// calls, and the trace sink.
type hostEnv struct {
	mem    *wasmer.Memory
	frame  *Frame
	orch   *Orchestrator
	inputs []*uint256.Int
	trace  *[]TraceEvent
	rec    *Receipt
}

// Execute compiles and runs code inside a fresh wasmer instance scoped to
// f, charging fuel for every host call f makes and returning once the
// module's _start entrypoint returns or aborts.
func (h *WasmHost) Execute(code []byte, f *Frame, inputs []*uint256.Int, orch *Orchestrator, trace *[]TraceEvent) (*Receipt, error) {
	rec := &Receipt{Status: true}
	store := wasmer.NewStore(h.engine)
	mod, err := wasmer.NewModule(store, code)
	if err != nil {
		return &Receipt{Status: false, Error: err.Error()}, nil
	}

	env := &hostEnv{frame: f, orch: orch, inputs: inputs, trace: trace, rec: rec}
	imports := registerHostABI(store, env)

	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return &Receipt{Status: false, Error: err.Error()}, nil
	}
	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return &Receipt{Status: false, Error: "wasm memory export missing"}, nil
	}
	env.mem = mem

	start, err := instance.Exports.GetFunction("_start")
	if err != nil {
		return &Receipt{Status: false, Error: "_start function required"}, nil
	}
	if _, err := start(); err != nil {
		rec.Status = false
		rec.Error = err.Error()
	}
	rec.FuelUsed = f.Fuel.used
	return rec, nil
}

func memRead(mem *wasmer.Memory, ptr, ln int32) []byte {
	if ptr < 0 || ln < 0 || int(ptr)+int(ln) > len(mem.Data()) {
		return nil
	}
	out := make([]byte, ln)
	copy(out, mem.Data()[ptr:int(ptr)+int(ln)])
	return out
}

func memWrite(mem *wasmer.Memory, ptr int32, data []byte) bool {
	if ptr < 0 || int(ptr)+len(data) > len(mem.Data()) {
		return false
	}
	copy(mem.Data()[ptr:], data)
	return true
}

func i32fn(store *wasmer.Store, params, results []*wasmer.ValueType, fn func([]wasmer.Value) ([]wasmer.Value, error)) *wasmer.Function {
	return wasmer.NewFunction(store, wasmer.NewFunctionType(params, results), fn)
}

var i32 = wasmer.NewValueType(wasmer.I32)

// registerHostABI builds the "env" import namespace the teacher's
// registerHost builds, expanded to this host call surface: abort, height,
// sequence, fuel, log, request/load/store storage, balance,
// call/delegatecall/staticcall, returndatacopy, codehash. No
// request_context/load_context or extcodecopy import is registered. Every
// call charges its fuel_table.go cost before running, so an exhausted
// budget aborts mid host-call rather than after.
func registerHostABI(store *wasmer.Store, e *hostEnv) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	charge := func(call HostCall, extraBytes int) error {
		cost := FuelCost(call)
		if extraBytes > 0 {
			rate := FuelPerByteLoad
			switch call {
			case HostStoreStorage:
				rate = FuelPerByteStore
			case HostCallNormal, HostDelegateCall, HostStaticCall, HostRequestContext, HostLoadContext:
				rate = FuelPerByteRequest
			}
			cost += uint64(extraBytes) * rate
		}
		return e.frame.Fuel.Consume(cost)
	}

	abort := i32fn(store, []*wasmer.ValueType{}, []*wasmer.ValueType{},
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			e.rec.Status = false
			e.rec.Error = "module called abort"
			return nil, errors.New("abort")
		})

	height := i32fn(store, []*wasmer.ValueType{}, []*wasmer.ValueType{wasmer.NewValueType(wasmer.I64)},
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := charge(HostHeight, 0); err != nil {
				return nil, err
			}
			return []wasmer.Value{wasmer.NewI64(int64(e.frame.Height))}, nil
		})

	sequence := i32fn(store, []*wasmer.ValueType{}, []*wasmer.ValueType{wasmer.NewValueType(wasmer.I64)},
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := charge(HostSequence, 0); err != nil {
				return nil, err
			}
			return []wasmer.Value{wasmer.NewI64(int64(e.frame.Sequence))}, nil
		})

	fuelRemaining := i32fn(store, []*wasmer.ValueType{}, []*wasmer.ValueType{wasmer.NewValueType(wasmer.I64)},
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := charge(HostFuel, 0); err != nil {
				return nil, err
			}
			return []wasmer.Value{wasmer.NewI64(int64(e.frame.Fuel.Remaining()))}, nil
		})

	hostLog := i32fn(store, []*wasmer.ValueType{i32, i32}, []*wasmer.ValueType{},
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr, ln := args[0].I32(), args[1].I32()
			if err := charge(HostLog, int(ln)); err != nil {
				return nil, err
			}
			data := memRead(e.mem, ptr, ln)
			e.rec.Logs = append(e.rec.Logs, Log{Module: e.frame.Self, Data: data})
			return nil, nil
		})

	requestStorage := i32fn(store, []*wasmer.ValueType{i32, i32}, []*wasmer.ValueType{i32},
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr, ln := args[0].I32(), args[1].I32()
			key := memRead(e.mem, ptr, ln)
			if err := charge(HostRequestStorage, len(key)); err != nil {
				return nil, err
			}
			v, err := e.frame.Scratch.Get(storageKey(e.frame.StorageOwner, key))
			if err != nil {
				v, _ = e.orch.overlay.GetAt(storageKey(e.frame.StorageOwner, key), e.frame.Height)
			}
			return []wasmer.Value{wasmer.NewI32(int32(len(v)))}, nil
		})

	loadStorage := i32fn(store, []*wasmer.ValueType{i32, i32, i32}, []*wasmer.ValueType{i32},
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			keyPtr, keyLen, dst := args[0].I32(), args[1].I32(), args[2].I32()
			key := memRead(e.mem, keyPtr, keyLen)
			if err := charge(HostLoadStorage, int(keyLen)); err != nil {
				return nil, err
			}
			v, err := e.frame.Scratch.Get(storageKey(e.frame.StorageOwner, key))
			if err != nil {
				v, err = e.orch.overlay.GetAt(storageKey(e.frame.StorageOwner, key), e.frame.Height)
				if err != nil {
					return []wasmer.Value{wasmer.NewI32(-1)}, nil
				}
			}
			if !memWrite(e.mem, dst, v) {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(int32(len(v)))}, nil
		})

	storeStorage := i32fn(store, []*wasmer.ValueType{i32, i32, i32, i32}, []*wasmer.ValueType{i32},
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			keyPtr, keyLen, valPtr, valLen := args[0].I32(), args[1].I32(), args[2].I32(), args[3].I32()
			if e.frame.ReadOnly {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			key := memRead(e.mem, keyPtr, keyLen)
			val := memRead(e.mem, valPtr, valLen)
			if err := charge(HostStoreStorage, int(valLen)); err != nil {
				return nil, err
			}
			_ = e.frame.Scratch.Put(storageKey(e.frame.StorageOwner, key), val)
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		})

	balance := i32fn(store, []*wasmer.ValueType{i32, i32}, []*wasmer.ValueType{i32},
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			idPtr, dst := args[0].I32(), args[1].I32()
			idBytes := memRead(e.mem, idPtr, 32)
			if err := charge(HostBalance, 0); err != nil {
				return nil, err
			}
			var idArr [32]byte
			copy(idArr[:], idBytes)
			amt := e.frame.Balances.Get(AlkaneIdFromBytes(idArr))
			b := amt.Bytes32()
			if !memWrite(e.mem, dst, b[:]) {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		})

	i64 := wasmer.NewValueType(wasmer.I64)

	// makeCall wires section 4.8's frame-creation contract into the wasm
	// ABI: the callee's own inputs (not the caller's), the alkanes attached
	// to this particular call (incoming_alkanes), and a sub-budget carved
	// out of the caller's remaining fuel rather than the caller's whole
	// meter.
	makeCall := func(call HostCall, kind CallType) *wasmer.Function {
		return i32fn(store,
			[]*wasmer.ValueType{i32, i32, i32, i32, i32, i64},
			[]*wasmer.ValueType{i32},
			func(args []wasmer.Value) ([]wasmer.Value, error) {
				targetPtr := args[0].I32()
				inputsPtr, inputsLen := args[1].I32(), args[2].I32()
				incomingPtr, incomingLen := args[3].I32(), args[4].I32()
				fuelLimit := uint64(args[5].I64())

				idBytes := memRead(e.mem, targetPtr, 32)
				if err := charge(call, int(inputsLen)+int(incomingLen)); err != nil {
					return nil, err
				}
				var idArr [32]byte
				copy(idArr[:], idBytes)
				target := AlkaneIdFromBytes(idArr)

				inputs, err := decodeU256List(memRead(e.mem, inputsPtr, inputsLen))
				if err != nil {
					return []wasmer.Value{wasmer.NewI32(-1)}, nil
				}
				var incoming *BalanceSheet
				if incomingLen > 0 {
					incoming, err = DecodeBalanceSheet(memRead(e.mem, incomingPtr, incomingLen))
					if err != nil {
						return []wasmer.Value{wasmer.NewI32(-1)}, nil
					}
				}

				rec, err := e.orch.nestedCall(e.frame, kind, target, inputs, fuelLimit, incoming, e.trace)
				if err != nil || rec == nil || !rec.Status {
					return []wasmer.Value{wasmer.NewI32(-1)}, nil
				}
				e.frame.ReturnData = rec.ReturnData
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			})
	}

	returndataCopy := i32fn(store, []*wasmer.ValueType{i32}, []*wasmer.ValueType{i32},
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			dst := args[0].I32()
			if err := charge(HostReturndataCopy, len(e.frame.ReturnData)); err != nil {
				return nil, err
			}
			if !memWrite(e.mem, dst, e.frame.ReturnData) {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(int32(len(e.frame.ReturnData)))}, nil
		})

	codehash := i32fn(store, []*wasmer.ValueType{i32, i32}, []*wasmer.ValueType{i32},
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			idPtr, dst := args[0].I32(), args[1].I32()
			idBytes := memRead(e.mem, idPtr, 32)
			if err := charge(HostCodehash, 0); err != nil {
				return nil, err
			}
			var idArr [32]byte
			copy(idArr[:], idBytes)
			hash, err := e.orch.cache.CodehashAt(AlkaneIdFromBytes(idArr), e.frame.Height)
			if err != nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			if !memWrite(e.mem, dst, hash[:]) {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		})

	imports.Register("env", map[string]wasmer.IntoExtern{
		"abort":            abort,
		"height":           height,
		"sequence":         sequence,
		"fuel":             fuelRemaining,
		"log":              hostLog,
		"request_storage":  requestStorage,
		"load_storage":     loadStorage,
		"store_storage":    storeStorage,
		"balance":          balance,
		"call":             makeCall(HostCallNormal, CallNormal),
		"delegatecall":     makeCall(HostDelegateCall, CallDelegate),
		"staticcall":       makeCall(HostStaticCall, CallStatic),
		"returndatacopy":   returndataCopy,
		"codehash":         codehash,
	})
	return imports
}

// decodeU256List parses a call's inputs buffer as a sequence of 32-byte
// big-endian words, the wire shape the wasm guest packs call/delegatecall/
// staticcall's input list into before invoking the host ABI.
func decodeU256List(buf []byte) ([]*uint256.Int, error) {
	if len(buf)%32 != 0 {
		return nil, errNotEnoughBytes
	}
	out := make([]*uint256.Int, 0, len(buf)/32)
	for off := 0; off < len(buf); off += 32 {
		var w [32]byte
		copy(w[:], buf[off:off+32])
		out = append(out, new(uint256.Int).SetBytes(w[:]))
	}
	return out, nil
}

// storageKey namespaces a module-local key by its storage owner so two
// modules' identically-named keys never collide in the shared overlay.
func storageKey(owner AlkaneId, key []byte) []byte {
	b := owner.Bytes()
	out := make([]byte, 0, len("storage:")+32+len(key))
	out = append(out, []byte("storage:")...)
	out = append(out, b[:]...)
	out = append(out, key...)
	return out
}
