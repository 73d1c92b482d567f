package main

import (
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/kungfuflex/alkanes/core"
)

// Server exposes the view service (C10) over HTTP: a JSON-RPC 2.0 endpoint
// plus a handful of plain GET routes for convenience. Grounded on the
// teacher's cmd/explorer/server.go (gorilla/mux router, routes method,
// writeJSON helper), retargeted from ledger block/tx browsing to the
// alkanes view surface.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	view       *core.ViewService
	limiter    *rate.Limiter
}

// NewServer constructs the router and HTTP server around view, rate
// limiting every request with rps/burst. Grounded on the teacher's
// virtual_machine.go limiter field, which throttled opcode execution with
// the same x/time/rate.Limiter this applies per HTTP request instead.
func NewServer(addr string, view *core.ViewService, rps float64, burst int) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		view:    view,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
	s.routes()
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s
}

func (s *Server) Start() error { return s.httpServer.ListenAndServe() }

func (s *Server) routes() {
	s.router.Use(loggingMiddleware)
	s.router.Use(s.rateLimitMiddleware)
	s.router.HandleFunc("/rpc", s.handleRPC).Methods("POST")
	s.router.HandleFunc("/api/state-root/{height:[0-9]+}", s.handleStateRoot).Methods("GET")
	s.router.HandleFunc("/api/bytecode/{block}/{tx}", s.handleBytecode).Methods("GET")
}

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// handleRPC dispatches the JSON-RPC 2.0 methods metashrew_view,
// alkanes_simulate, alkanes_inspect, alkanes_stateroot and
// alkanes_codehash; there is no alkanes_trace method.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, nil, -32700, "parse error")
		return
	}

	result, rpcErr := s.dispatch(req.Method, req.Params)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}
	writeJSON(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (s *Server) dispatch(method string, params json.RawMessage) (interface{}, *rpcError) {
	switch method {
	case "metashrew_view":
		return s.rpcMetashrewView(params)
	case "alkanes_simulate":
		return s.rpcSimulate(params, false)
	case "alkanes_inspect":
		return s.rpcSimulate(params, true)
	case "alkanes_stateroot":
		return s.rpcStateRoot(params)
	case "alkanes_codehash":
		return s.rpcCodehash(params)
	default:
		return nil, &rpcError{Code: -32601, Message: "method not found"}
	}
}

type viewParams struct {
	Function string `json:"function"` // "balance_by_outpoint" | "bytecode"
	TxID     string `json:"txid"`     // hex-encoded, big-endian display order, the outpoint's transaction id
	VOut     uint32 `json:"vout"`
	Block    string `json:"block"` // AlkaneId.Block, decimal
	Tx       string `json:"tx"`    // AlkaneId.Tx, decimal
}

func (s *Server) rpcMetashrewView(raw json.RawMessage) (interface{}, *rpcError) {
	var p viewParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &rpcError{Code: -32602, Message: "invalid params"}
	}
	switch p.Function {
	case "balance_by_outpoint":
		txid, err := hex.DecodeString(p.TxID)
		if err != nil || len(txid) != 32 {
			return nil, &rpcError{Code: -32602, Message: "txid must be a 32-byte hex string"}
		}
		var ref core.OutputRef
		for i := range txid { // display order -> internal byte order
			ref.TxID[i] = txid[len(txid)-1-i]
		}
		ref.VOut = p.VOut
		sheet, err := s.view.BalancesByOutpoint(ref)
		if err != nil {
			return nil, &rpcError{Code: -32000, Message: err.Error()}
		}
		return sheet.IDs(), nil
	case "bytecode":
		id, perr := parseAlkaneId(p.Block, p.Tx)
		if perr != nil {
			return nil, perr
		}
		code, err := s.view.Bytecode(id)
		if err != nil {
			return nil, &rpcError{Code: -32000, Message: err.Error()}
		}
		return hex.EncodeToString(code), nil
	default:
		return nil, &rpcError{Code: -32602, Message: "unknown view function"}
	}
}

type simulateParams struct {
	Invoker  string   `json:"invoker_block"`
	Block    string   `json:"block"`
	Tx       string   `json:"tx"`
	Inputs   []string `json:"inputs"`
	FuelCap  uint64   `json:"fuel_cap"`
}

func (s *Server) rpcSimulate(raw json.RawMessage, inspect bool) (interface{}, *rpcError) {
	var p simulateParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &rpcError{Code: -32602, Message: "invalid params"}
	}
	target, perr := parseAlkaneId(p.Block, p.Tx)
	if perr != nil {
		return nil, perr
	}
	inputs, perr := parseU256List(p.Inputs)
	if perr != nil {
		return nil, perr
	}
	fuelCap := p.FuelCap
	if fuelCap == 0 {
		fuelCap = 10_000_000
	}
	invoker := core.NewAlkaneId(0, 0)
	if p.Invoker != "" {
		if parsed, perr2 := parseAlkaneId(p.Invoker, "0"); perr2 == nil {
			invoker = parsed
		}
	}
	var result core.SimulateResult
	if inspect {
		result = s.view.Inspect(invoker, target, inputs, fuelCap)
	} else {
		result = s.view.Simulate(invoker, target, inputs, fuelCap)
	}
	return result, nil
}

func (s *Server) rpcStateRoot(raw json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		Height uint64 `json:"height"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &rpcError{Code: -32602, Message: "invalid params"}
	}
	root, err := s.view.StateRoot(p.Height)
	if err != nil {
		return nil, &rpcError{Code: -32000, Message: err.Error()}
	}
	return hex.EncodeToString(root[:]), nil
}

func (s *Server) rpcCodehash(raw json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		Block string `json:"block"`
		Tx    string `json:"tx"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &rpcError{Code: -32602, Message: "invalid params"}
	}
	id, perr := parseAlkaneId(p.Block, p.Tx)
	if perr != nil {
		return nil, perr
	}
	hash, err := s.view.Codehash(id)
	if err != nil {
		return nil, &rpcError{Code: -32000, Message: err.Error()}
	}
	return hex.EncodeToString(hash[:]), nil
}

func (s *Server) handleStateRoot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	height, _ := parseUint(vars["height"])
	root, err := s.view.StateRoot(height)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"state_root": hex.EncodeToString(root[:])})
}

func (s *Server) handleBytecode(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, perr := parseAlkaneId(vars["block"], vars["tx"])
	if perr != nil {
		http.Error(w, perr.Message, http.StatusBadRequest)
		return
	}
	code, err := s.view.Bytecode(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"bytecode": hex.EncodeToString(code)})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, msg string) {
	writeJSON(w, rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}})
}
