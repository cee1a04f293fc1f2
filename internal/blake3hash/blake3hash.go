// Package blake3hash computes the content-addressing digest used to key raw
// files and derive deterministic blob paths. Grounded on
// lukechampine.com/blake3, the one content-hash library anywhere in the
// pack's go.mod set (AKJUS-bsc-erigon), chosen over crypto/sha256 for the
// throughput a hash-on-every-upload path needs at scale.
package blake3hash

import (
	"encoding/hex"
	"io"

	"lukechampine.com/blake3"
)

// Sum hashes all of r and returns its digest as a lowercase hex string, the
// form stored in raw_files.hash and used as the raw-files/{hash} blob key.
func Sum(r io.Reader) (string, error) {
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumBytes hashes b directly, for callers that already hold the full file in
// memory (e.g. after reading it once to validate TOA5 headers).
func SumBytes(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}
