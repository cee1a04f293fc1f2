package blake3hash

import (
	"strings"
	"testing"
)

func TestSum_MatchesSumBytes(t *testing.T) {
	data := []byte("TOA5,\"station\",\"CR1000\"\r\n")
	viaReader, err := Sum(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	viaBytes := SumBytes(data)
	if viaReader != viaBytes {
		t.Fatalf("Sum and SumBytes disagree: %q vs %q", viaReader, viaBytes)
	}
	if len(viaBytes) != 64 {
		t.Fatalf("expected 64 hex chars (32 bytes), got %d: %q", len(viaBytes), viaBytes)
	}
}

func TestSum_DifferentInputsDifferentHashes(t *testing.T) {
	a := SumBytes([]byte("a"))
	b := SumBytes([]byte("b"))
	if a == b {
		t.Fatalf("expected distinct hashes, got %q for both", a)
	}
}
