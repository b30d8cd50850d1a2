// Package hashutil provides the 64-bit command hashing and content
// digesting used by the command log and the build-history store.
//
// CommandHash is the stable 64-bit hash spec.md §4.2/§9 requires for the
// command log; it is implemented with github.com/segmentio/fasthash/fnv1a,
// grounded in the teacher's ninja-go/dirhash.go use of the same package.
// ContentDigest and Combine128 are ambient/domain-stack additions (see
// SPEC_FULL.md §4.13) grounded in the teacher's blake3 and uint128 usage.
package hashutil

import (
	"encoding/hex"
	"io"

	"github.com/segmentio/fasthash/fnv1a"
	"github.com/zeebo/blake3"
	"lukechampine.com/uint128"
)

// CommandHash returns the stable 64-bit hash of an expanded command line.
// The command log stores it as lowercase hex, per spec.md §4.2.
func CommandHash(command string) uint64 {
	return fnv1a.HashString64(command)
}

// CommandHashHex formats CommandHash's result the way the command log
// expects it on disk.
func CommandHashHex(command string) string {
	return HashHex(CommandHash(command))
}

// HashHex formats an already-computed hash the way the command log and
// history store expect it on disk.
func HashHex(h uint64) string {
	return hex.EncodeToString(uint64ToBytes(h))
}

// ParseCommandHashHex parses a command-log hash field back into a uint64.
func ParseCommandHashHex(s string) (uint64, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// Combine128 mixes two 64-bit hashes via a 64x64->128 multiply, folding
// the high and low halves together, grounded in the teacher's
// ninja-go/rapidhash.go "rapid_mum" step. CommandHashWithRspfile uses this
// to fold a response-file payload into the command line's hash instead of
// string concatenation.
func Combine128(a, b uint64) uint64 {
	r := uint128.From64(a).Mul(uint128.From64(b))
	return r.Lo ^ r.Hi
}

// CommandHashWithRspfile folds rspfile content into the command hash using
// Combine128, used when an edge has a non-empty rspfile_content binding.
func CommandHashWithRspfile(command, rspfileContent string) uint64 {
	if rspfileContent == "" {
		return CommandHash(command)
	}
	return Combine128(CommandHash(command), CommandHash(rspfileContent))
}

// ContentDigest returns a blake3 digest of r's content. The builder
// fingerprints rspfile content for the build-history store with
// ContentDigestString, which uses the same digest; depfiles are not
// digested. Never consulted by DependencyScan: digesting content here is
// observability, not content-addressed caching.
func ContentDigest(r io.Reader) ([32]byte, error) {
	h := blake3.New()
	if _, err := io.Copy(h, r); err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// ContentDigestString hashes a string with the same digest used by
// ContentDigest, returning lowercase hex.
func ContentDigestString(s string) string {
	h := blake3.New()
	_, _ = io.WriteString(h, s)
	return hex.EncodeToString(h.Sum(nil))
}
