package utils

import "testing"

func TestReleaseScriptCompiles(t *testing.T) {
	// Compile-time smoke test: the script should be initialized.
	if releaseScript == nil {
		t.Fatalf("expected script to be initialized")
	}
}

func TestBatchLockTokensAreUnique(t *testing.T) {
	a, b := NewBatchLock(nil), NewBatchLock(nil)
	if a.token == "" || a.token == b.token {
		t.Fatalf("expected distinct holder tokens, got %q and %q", a.token, b.token)
	}
}

func TestBatchLockRejectsBadArgs(t *testing.T) {
	l := NewBatchLock(nil)
	if _, err := l.Acquire(nil, "", 0); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := l.Acquire(nil, "k", 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
	if err := l.Release(nil, ""); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
