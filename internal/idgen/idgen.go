// Package idgen provides pluggable ID generation for the transactional
// sap-flux pipeline.
//
// Entity rows in internal/metadata are opaque UUIDs with no prefix — the
// store constructors accept a plain Generator for those. The three
// operator-facing ID namespaces that aren't metadata entities — transaction
// ledger rows, published outputs, and observability rows — use a prefixed
// variant so a bare ID string in a log line or a receipt is
// self-describing; TransactionID, OutputID, AuditEntryID and EventID below
// are exactly the generators this repo's call sites use for those three
// namespaces.
package idgen

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator that produces base-36 IDs of the given length.
// This is the lightweight strategy: short, fast, no UUID parsing overhead.
// Used in tests in place of UUIDv7 where the exact ID shape doesn't matter.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		b := make([]byte, length)
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range b {
			b[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(b)
	}
}

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable and globally unique; the default for all metadata entity
// tables.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
// Useful for type-scoped identifiers (e.g. "txn_", "out_", "aud_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the package default: UUIDv7 (RFC 9562).
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// TransactionID generates ledger row ids (internal/txn's Orchestrator.Submit,
// "txn_" prefix) — distinguishes a transaction id from a raw-file hash or an
// entity UUID at a glance in logs and receipts.
func TransactionID() Generator {
	return Prefixed("txn_", Default)
}

// OutputID generates published output ids (internal/publisher, "out_"
// prefix), which double as the parquet/cartridge blob key suffixes.
func OutputID() Generator {
	return Prefixed("out_", Default)
}

// AuditEntryID generates internal/observability audit log row ids ("aud_"
// prefix).
func AuditEntryID() Generator {
	return Prefixed("aud_", Default)
}

// EventID generates internal/observability business-event row ids ("evt_"
// prefix).
func EventID() Generator {
	return Prefixed("evt_", Default)
}

// MustParse validates a UUID string and returns it or panics.
func MustParse(s string) string {
	_ = uuid.MustParse(s)
	return s
}

// Parse validates a UUID string and returns it or an error.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid UUID: %w", err)
	}
	return u.String(), nil
}
