package blacklist

import "testing"

func TestNotBlacklistedByDefault(t *testing.T) {
	bl := New()
	if bl.IsBlacklisted("Status", "31") {
		t.Fatalf("expected fresh blacklist to have no entries")
	}
	if bl.Size() != 0 {
		t.Fatalf("expected size 0, got %d", bl.Size())
	}
}

func TestRecordThenIsBlacklisted(t *testing.T) {
	bl := New()
	bl.Record("dieinpeek", "31")

	if !bl.IsBlacklisted("dieinpeek", "31") {
		t.Fatalf("expected (dieinpeek, 31) to be blacklisted after Record")
	}
	if bl.Size() != 1 {
		t.Fatalf("expected size 1, got %d", bl.Size())
	}
}

// Blacklist key identity: a different userID for the same methodLine is an
// independent entry (spec.md §4.2, §8).
func TestKeyIdentityDifferentUsers(t *testing.T) {
	bl := New()
	bl.Record("dieinpeek", "31")

	if bl.IsBlacklisted("dieinpeek", "33") {
		t.Fatalf("expected (dieinpeek, 33) to remain unblacklisted")
	}
	if !bl.IsBlacklisted("dieinpeek", "31") {
		t.Fatalf("expected (dieinpeek, 31) to remain blacklisted")
	}
}

// Different methodLines for the same userID are also independent.
func TestKeyIdentityDifferentMethods(t *testing.T) {
	bl := New()
	bl.Record("dieinpeek", "31")

	if bl.IsBlacklisted("dieinprocess", "31") {
		t.Fatalf("expected (dieinprocess, 31) to remain unblacklisted")
	}
}

func TestRecordIsIdempotentForSize(t *testing.T) {
	bl := New()
	bl.Record("dieinpeek", "31")
	bl.Record("dieinpeek", "31")
	bl.Record("dieinpeek", "31")

	if bl.Size() != 1 {
		t.Fatalf("expected repeated Record of the same key to not grow Size, got %d", bl.Size())
	}
}

func TestRecordMultipleDistinctKeysGrowsSize(t *testing.T) {
	bl := New()
	bl.Record("dieinpeek", "31")
	bl.Record("dieinpeek", "33")
	bl.Record("dieinprocess", "31")

	if bl.Size() != 3 {
		t.Fatalf("expected 3 distinct keys, got %d", bl.Size())
	}
}
