package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kungfuflex/alkanes/core"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	idx, err := core.NewIndexer(t.TempDir(), core.IndexerConfig{})
	if err != nil {
		t.Fatalf("NewIndexer failed: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return NewServer("127.0.0.1:0", core.NewViewService(idx), 1000, 1000)
}

func TestHandleStateRootNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/state-root/5", nil)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHandleRPCUnknownMethod(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "nonexistent"})
	req := httptest.NewRequest("POST", "/rpc", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with embedded rpc error, got %d", rr.Code)
	}
	var resp rpcResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestHandleRPCStateRoot(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "alkanes_stateroot",
		Params:  json.RawMessage(`{"height": 0}`),
	})
	req := httptest.NewRequest("POST", "/rpc", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	var resp rpcResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil {
		t.Fatalf("expected error for height with no recorded root")
	}
}
