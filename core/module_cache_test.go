package core

import "testing"

func TestModuleCacheDeployAndLoad(t *testing.T) {
	overlay := NewOverlay(NewMemKV())
	cache := NewModuleCache(overlay)
	cache.SetHeight(1)

	id := NewAlkaneId(1, 1)
	body := []byte("fake wasm bytecode, compressible")
	hash, err := cache.Deploy(id, body)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	got, err := cache.Load(id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("decompressed body mismatch: got %q want %q", got, body)
	}

	gotHash, err := cache.Codehash(id)
	if err != nil {
		t.Fatalf("Codehash: %v", err)
	}
	if gotHash != hash {
		t.Fatalf("codehash mismatch")
	}
}

func TestModuleCacheLoadMissingReturnsNotFound(t *testing.T) {
	overlay := NewOverlay(NewMemKV())
	cache := NewModuleCache(overlay)
	if _, err := cache.Load(NewAlkaneId(9, 9)); err == nil {
		t.Fatalf("expected error loading an undeployed module")
	}
}

func TestModuleCacheCloneTemplate(t *testing.T) {
	overlay := NewOverlay(NewMemKV())
	cache := NewModuleCache(overlay)
	cache.SetHeight(1)

	tmpl := NewAlkaneId(1, 1)
	body := []byte("template bytecode")
	if _, err := cache.Deploy(tmpl, body); err != nil {
		t.Fatalf("Deploy template: %v", err)
	}

	clone := NewAlkaneId(1, 2)
	if _, err := cache.CloneTemplate(clone, tmpl); err != nil {
		t.Fatalf("CloneTemplate: %v", err)
	}

	got, err := cache.Load(clone)
	if err != nil {
		t.Fatalf("Load clone: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("clone body mismatch: got %q want %q", got, body)
	}
}

func TestModuleCacheLoadAtIsHeightScoped(t *testing.T) {
	overlay := NewOverlay(NewMemKV())
	cache := NewModuleCache(overlay)
	id := NewAlkaneId(5, 5)

	cache.SetHeight(10)
	if _, err := cache.Deploy(id, []byte("v1")); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	if _, err := cache.LoadAt(id, 5); err == nil {
		t.Fatalf("expected module to be invisible before its deploy height")
	}
	got, err := cache.LoadAt(id, 10)
	if err != nil || string(got) != "v1" {
		t.Fatalf("expected v1 visible at deploy height, got %q %v", got, err)
	}
}
