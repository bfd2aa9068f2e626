package storage_test

import (
	"os"
	"path/filepath"
	"testing"

	"botpanel/internal/infra/storage"
)

func TestAtomicWriteFileReplacesContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "draft.json")
	if err := storage.AtomicWriteFile(path, []byte("first")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := storage.AtomicWriteFile(path, []byte("second")); err != nil {
		t.Fatalf("second write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("content = %q, want %q", data, "second")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != storage.DefaultFilePerm {
		t.Fatalf("perm = %o, want %o", perm, storage.DefaultFilePerm)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestBoltTokenStoreRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.bbolt")
	store, err := storage.OpenBoltTokenStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if token, err := store.Load(); err != nil || token != "" {
		t.Fatalf("Load() on fresh store = %q, %v; want empty", token, err)
	}
	if err := store.Save("YWRtaW46c2VjcmV0"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := storage.OpenBoltTokenStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	token, err := reopened.Load()
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if token != "YWRtaW46c2VjcmV0" {
		t.Fatalf("token = %q, want persisted value", token)
	}

	if err := reopened.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if token, _ := reopened.Load(); token != "" {
		t.Fatalf("token after Clear = %q, want empty", token)
	}
	if err := reopened.Clear(); err != nil {
		t.Fatalf("second Clear must be a no-op: %v", err)
	}
}

func TestMemoryTokenStore(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryTokenStore("abc")
	if token, _ := store.Load(); token != "abc" {
		t.Fatalf("initial token = %q", token)
	}
	_ = store.Save("def")
	if token, _ := store.Load(); token != "def" {
		t.Fatalf("token after Save = %q", token)
	}
	_ = store.Clear()
	if token, _ := store.Load(); token != "" {
		t.Fatalf("token after Clear = %q", token)
	}
}
