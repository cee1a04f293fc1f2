package idgen

import (
	"strings"
	"testing"
)

func TestNanoID_Length(t *testing.T) {
	for _, length := range []int{8, 12, 16, 24} {
		gen := NanoID(length)
		id := gen()
		if len(id) != length {
			t.Fatalf("NanoID(%d): got length %d", length, len(id))
		}
	}
}

func TestNanoID_Alphabet(t *testing.T) {
	gen := NanoID(100)
	id := gen()
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
			t.Fatalf("NanoID: unexpected character %q in %q", c, id)
		}
	}
}

func TestNanoID_Uniqueness(t *testing.T) {
	gen := NanoID(12)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := gen()
		if _, ok := seen[id]; ok {
			t.Fatalf("NanoID: duplicate at iteration %d: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestUUIDv7_Format(t *testing.T) {
	gen := UUIDv7()
	id := gen()
	parts := strings.Split(id, "-")
	if len(parts) != 5 {
		t.Fatalf("UUIDv7: expected 5 parts, got %d in %q", len(parts), id)
	}
	if len(id) != 36 {
		t.Fatalf("UUIDv7: expected length 36, got %d", len(id))
	}
}

func TestUUIDv7_Uniqueness(t *testing.T) {
	gen := UUIDv7()
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		id := gen()
		if _, ok := seen[id]; ok {
			t.Fatalf("UUIDv7: duplicate at iteration %d", i)
		}
		seen[id] = struct{}{}
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("aud_", NanoID(8))
	id := gen()
	if !strings.HasPrefix(id, "aud_") {
		t.Fatalf("Prefixed: expected prefix 'aud_', got %q", id)
	}
	if len(id) != 4+8 {
		t.Fatalf("Prefixed: expected length 12, got %d", len(id))
	}
}

func TestDefault_IsUUIDv7(t *testing.T) {
	id := New()
	if len(id) != 36 {
		t.Fatalf("New (UUIDv7 default): expected length 36, got %d for %q", len(id), id)
	}
	if _, err := Parse(id); err != nil {
		t.Fatalf("New: default should produce valid UUIDv7: %v", err)
	}
}

// TestTransactionID_Prefix guards the "txn_" namespace internal/txn's
// Orchestrator relies on to keep ledger ids visually distinct from entity
// UUIDs and raw-file hashes in logs and receipts.
func TestTransactionID_Prefix(t *testing.T) {
	gen := TransactionID()
	id := gen()
	if !strings.HasPrefix(id, "txn_") {
		t.Fatalf("TransactionID: expected 'txn_' prefix, got %q", id)
	}
	if _, err := Parse(strings.TrimPrefix(id, "txn_")); err != nil {
		t.Fatalf("TransactionID: suffix should be a valid UUIDv7: %v", err)
	}
}

// TestOutputID_Prefix guards the "out_" namespace internal/publisher uses,
// which also becomes the blob-key suffix for outputs/{output_id}.parquet.
func TestOutputID_Prefix(t *testing.T) {
	gen := OutputID()
	id := gen()
	if !strings.HasPrefix(id, "out_") {
		t.Fatalf("OutputID: expected 'out_' prefix, got %q", id)
	}
}

func TestAuditEntryID_Prefix(t *testing.T) {
	gen := AuditEntryID()
	id := gen()
	if !strings.HasPrefix(id, "aud_") {
		t.Fatalf("AuditEntryID: expected 'aud_' prefix, got %q", id)
	}
}

func TestEventID_Prefix(t *testing.T) {
	gen := EventID()
	id := gen()
	if !strings.HasPrefix(id, "evt_") {
		t.Fatalf("EventID: expected 'evt_' prefix, got %q", id)
	}
}

func TestParse_Valid(t *testing.T) {
	gen := UUIDv7()
	original := gen()
	parsed, err := Parse(original)
	if err != nil {
		t.Fatalf("Parse valid UUID: %v", err)
	}
	if parsed != original {
		t.Fatalf("Parse: got %q, want %q", parsed, original)
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("not-a-uuid")
	if err == nil {
		t.Fatal("Parse: expected error for invalid UUID")
	}
}

func TestMustParse_Valid(t *testing.T) {
	gen := UUIDv7()
	original := gen()
	result := MustParse(original)
	if result != original {
		t.Fatalf("MustParse: got %q, want %q", result, original)
	}
}

func TestMustParse_Invalid(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("MustParse: expected panic for invalid UUID")
		}
	}()
	MustParse("not-a-uuid")
}
