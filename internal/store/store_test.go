package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-queue.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := openTestStore(t)
	// Get queries the kv table — if the schema is wrong this fails.
	value, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get after open: %v", err)
	}
	if value != nil {
		t.Errorf("Get(missing) = %q, want nil", value)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := s1.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("s1.Close: %v", err)
	}

	// Re-opening the same file must not fail or wipe data.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer func() { _ = s2.Close() }()

	value, err := s2.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(value) != "v" {
		t.Errorf("Get(k) = %q, want %q", value, "v")
	}
}

func TestSet_Overwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("first")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("second")); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}

	value, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(value) != "second" {
		t.Errorf("Get(k) = %q, want %q", value, "second")
	}
}

func TestRemove_MultipleKeys(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, k, []byte(k)); err != nil {
			t.Fatalf("Set(%q): %v", k, err)
		}
	}

	// Removing a mix of present and absent keys must not error.
	if err := s.Remove(ctx, "a", "b", "missing"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	for _, tt := range []struct {
		key  string
		want []byte
	}{
		{"a", nil},
		{"b", nil},
		{"c", []byte("c")},
	} {
		value, err := s.Get(ctx, tt.key)
		if err != nil {
			t.Fatalf("Get(%q): %v", tt.key, err)
		}
		if string(value) != string(tt.want) {
			t.Errorf("Get(%q) = %q, want %q", tt.key, value, tt.want)
		}
	}
}

func TestMemory_MatchesContract(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	value, err := m.Get(ctx, "missing")
	if err != nil || value != nil {
		t.Errorf("Get(missing) = (%q, %v), want (nil, nil)", value, err)
	}

	if err := m.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, err = m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(value) != "v" {
		t.Errorf("Get(k) = %q, want %q", value, "v")
	}

	// Returned slice must be a copy — mutating it must not corrupt the store.
	value[0] = 'x'
	again, _ := m.Get(ctx, "k")
	if string(again) != "v" {
		t.Errorf("stored value mutated through returned slice: %q", again)
	}

	if err := m.Remove(ctx, "k", "missing"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	value, _ = m.Get(ctx, "k")
	if value != nil {
		t.Errorf("Get after Remove = %q, want nil", value)
	}
}
