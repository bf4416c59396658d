package cache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetMissOnAbsentKey(t *testing.T) {
	disk, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if _, err := disk.Get("nope.json"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestPutThenGetRoundTrip(t *testing.T) {
	disk, err := NewDisk(t.TempDir())
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	payload := []byte(`[{"numeroControlePNCP":"1-1-000001/2024"}]`)
	if err := disk.Put("contratacoes_m6_mdx_20240101_20240131.json", payload); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	got, err := disk.Get("contratacoes_m6_mdx_20240101_20240131.json")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("round trip mismatch: %s", got)
	}
}

func TestPutOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	disk, err := NewDisk(dir)
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if err := disk.Put("itens_1_2024_1.json", []byte("old")); err != nil {
		t.Fatalf("first put failed: %v", err)
	}
	if err := disk.Put("itens_1_2024_1.json", []byte("new")); err != nil {
		t.Fatalf("second put failed: %v", err)
	}
	got, err := disk.Get("itens_1_2024_1.json")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got) != "new" {
		t.Fatalf("expected overwrite, got %s", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir failed: %v", err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".tmp") {
			t.Fatalf("leftover temp file %s", entry.Name())
		}
	}
}

func TestEmptyEntryDegradesToMiss(t *testing.T) {
	dir := t.TempDir()
	disk, err := NewDisk(dir)
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	// Simulates a zero-length file left by an interrupted writer.
	if err := os.WriteFile(filepath.Join(dir, "truncated.json"), nil, 0o644); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := disk.Get("truncated.json"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss for empty entry, got %v", err)
	}
}

func TestNewDiskCreatesNestedDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if _, err := NewDisk(dir); err != nil {
		t.Fatalf("expected nested dir creation, got err=%v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected dir to exist: %v", err)
	}
}
