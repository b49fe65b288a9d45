package storage

import (
	"context"
	"strings"
	"testing"
)

// TestRegisterPanics verifies the fail-fast registry invariants: empty kind,
// nil factory and double registration all panic at init time rather than
// surfacing as ambiguous runtime behavior.
func TestRegisterPanics(t *testing.T) {
	mustPanic := func(name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Errorf("%s: expected panic", name)
			}
		}()
		fn()
	}

	ok := func(context.Context, Config) (Store, error) { return nil, nil }

	mustPanic("empty kind", func() { Register("", ok) })
	mustPanic("nil factory", func() { Register("test-dup", nil) })

	Register("test-dup", ok)
	mustPanic("duplicate kind", func() { Register("test-dup", ok) })
}

func TestNewUnknownKind(t *testing.T) {
	ctx := context.Background()

	if _, err := New(ctx, Config{}); err == nil || !strings.Contains(err.Error(), "storage.kind") {
		t.Errorf("New with empty kind: err = %v", err)
	}
	if _, err := New(ctx, Config{Kind: "oracle"}); err == nil || !strings.Contains(err.Error(), "oracle") {
		t.Errorf("New with unknown kind: err = %v", err)
	}
}

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want string
	}{
		{"abc", "abc"},
		{int64(42), "42"},
		{42, "42"},
		{3.5, "3.5"},
		{[]byte("xy"), "xy"},
		{nil, ""},
		{true, "true"},
	}
	for _, tt := range tests {
		if got := NormalizeKey(tt.in); got != tt.want {
			t.Errorf("NormalizeKey(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
