// Package orcahash implements OrcaPod's deterministic, versioned content
// hashing (spec §4.2): scalars, ordered field lists (tags and packets), and
// tables all reduce to a fixed-width Digest that is stable across processes,
// platforms, and Go map iteration order.
package orcahash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/brianarnold/orcapod/typespec"
)

// Version is prepended to every digest's preimage. Bumping it invalidates
// every cache keyed by a Digest computed under the previous version — this
// is the mechanism behind the data-context "hasher version" tag (spec §3).
const Version byte = 1

// Digest is a fixed-width content hash.
type Digest struct {
	sum [sha256.Size]byte
}

// String renders the digest as "orcahash:v<version>:<64 hex chars>".
func (d Digest) String() string {
	return "orcahash:v1:" + hex.EncodeToString(d.sum[:])
}

// Bytes returns the raw digest bytes, not including the version marker
// (the version is already folded into the hashed preimage).
func (d Digest) Bytes() []byte {
	out := make([]byte, sha256.Size)
	copy(out, d.sum[:])
	return out
}

// IsZero reports whether d is the zero Digest (never produced by Hash* —
// useful as a "not yet computed" sentinel).
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// DigestFromBytes reconstructs a Digest previously rendered by Bytes, for
// store backends that persist digests out of process.
func DigestFromBytes(b []byte) Digest {
	var d Digest
	copy(d.sum[:], b)
	return d
}

// ParseDigest parses a Digest previously rendered by String, e.g. from a
// command-line argument or a FileStore filename. Returns an error if s does
// not have the "orcahash:v<version>:<hex>" shape or carries an unsupported
// version.
func ParseDigest(s string) (Digest, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] != "orcahash" {
		return Digest{}, fmt.Errorf("orcahash: malformed digest %q", s)
	}
	if parts[1] != fmt.Sprintf("v%d", Version) {
		return Digest{}, fmt.Errorf("orcahash: unsupported digest version %q", parts[1])
	}
	raw, err := hex.DecodeString(parts[2])
	if err != nil || len(raw) != sha256.Size {
		return Digest{}, fmt.Errorf("orcahash: malformed digest payload %q", s)
	}
	return DigestFromBytes(raw), nil
}

func sum(preimage []byte) Digest {
	return Digest{sum: sha256.Sum256(preimage)}
}

// kindTag is the one-byte prefix identifying a scalar's logical type in a
// hash preimage, independent of typespec.Kind's numeric value so that
// reordering the Kind const block cannot silently change existing hashes.
func kindTag(k typespec.Kind) byte {
	switch k {
	case typespec.Bool:
		return 0x01
	case typespec.Int8:
		return 0x02
	case typespec.Int16:
		return 0x03
	case typespec.Int32:
		return 0x04
	case typespec.Int64:
		return 0x05
	case typespec.Uint8:
		return 0x06
	case typespec.Uint16:
		return 0x07
	case typespec.Uint32:
		return 0x08
	case typespec.Uint64:
		return 0x09
	case typespec.Float32:
		return 0x0a
	case typespec.Float64:
		return 0x0b
	case typespec.String:
		return 0x0c
	case typespec.Binary:
		return 0x0d
	case typespec.Timestamp:
		return 0x0e
	case typespec.Path:
		return 0x0f
	default:
		return 0xff
	}
}

// canonicalBits normalizes -0.0 to +0.0 and NaN to a single canonical bit
// pattern, per spec §4.2.
func canonicalBits(f float64) uint64 {
	if math.IsNaN(f) {
		return 0x7ff8000000000000
	}
	if f == 0 {
		return 0 // +0.0 and -0.0 both normalize to +0.0's bit pattern
	}
	return math.Float64bits(f)
}

// HashScalar hashes a single scalar value of the given kind. Numbers are
// encoded as canonical big-endian bytes, strings as UTF-8, binary as raw
// bytes, booleans as a single byte, and timestamps as Unix nanoseconds
// big-endian. The kind tag is always the first byte of the preimage so
// values of different kinds never collide even if their encodings overlap.
func HashScalar(kind typespec.Kind, v any) Digest {
	preimage := []byte{Version, kindTag(kind)}
	preimage = append(preimage, encodeScalar(kind, v)...)
	return sum(preimage)
}

func encodeScalar(kind typespec.Kind, v any) []byte {
	switch kind {
	case typespec.Bool:
		b, _ := v.(bool)
		if b {
			return []byte{1}
		}
		return []byte{0}
	case typespec.Int8, typespec.Int16, typespec.Int32, typespec.Int64:
		return encodeInt(toInt64(v))
	case typespec.Uint8, typespec.Uint16, typespec.Uint32, typespec.Uint64:
		return encodeUint(toUint64(v))
	case typespec.Float32:
		f, _ := v.(float32)
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, canonicalBits(float64(f)))
		return buf
	case typespec.Float64:
		f, _ := v.(float64)
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, canonicalBits(f))
		return buf
	case typespec.String, typespec.Path:
		s, _ := v.(string)
		return []byte(s)
	case typespec.Binary:
		b, _ := v.([]byte)
		return b
	case typespec.Timestamp:
		if ts, ok := v.(time.Time); ok {
			return encodeInt(ts.UnixNano())
		}
		return encodeInt(toInt64(v))
	default:
		return nil
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	default:
		return 0
	}
}

func toUint64(v any) uint64 {
	switch n := v.(type) {
	case uint:
		return uint64(n)
	case uint8:
		return uint64(n)
	case uint16:
		return uint64(n)
	case uint32:
		return uint64(n)
	case uint64:
		return n
	default:
		return 0
	}
}

func encodeInt(n int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}

func encodeUint(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

// FieldValue is one named, typed, valued field fed into HashFields.
type FieldValue struct {
	Name  string
	Kind  typespec.Kind
	Value any
}

// HashFields hashes an unordered collection of fields by sorting them by
// name first, so insertion order never affects the result (spec §4.2,
// invariant 2 in §8): H(sorted_by_key((name, type_tag, H(value))*)).
func HashFields(fields []FieldValue) Digest {
	sorted := make([]FieldValue, len(fields))
	copy(sorted, fields)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	preimage := []byte{Version}
	for _, f := range sorted {
		nameLen := make([]byte, 4)
		binary.BigEndian.PutUint32(nameLen, uint32(len(f.Name)))
		preimage = append(preimage, nameLen...)
		preimage = append(preimage, f.Name...)
		preimage = append(preimage, kindTag(f.Kind))
		valueDigest := HashScalar(f.Kind, f.Value)
		preimage = append(preimage, valueDigest.sum[:]...)
	}
	return sum(preimage)
}

// HashTable hashes a table's schema digest together with its row digests,
// in row order: H(schema_hash, concat(row_hash(i) for i in 0..n)).
func HashTable(schemaDigest Digest, rowDigests []Digest) Digest {
	preimage := []byte{Version}
	preimage = append(preimage, schemaDigest.sum[:]...)
	for _, rd := range rowDigests {
		preimage = append(preimage, rd.sum[:]...)
	}
	return sum(preimage)
}

// HashDigests combines an ordered list of digests into one, used to fold
// upstream node fingerprints into an invocation fingerprint (spec §3) and
// to fold per-node fingerprints into a pipeline fingerprint (spec §4.7).
// Order is significant — callers that need order-independence should sort
// before calling.
func HashDigests(digests ...Digest) Digest {
	preimage := []byte{Version}
	for _, d := range digests {
		preimage = append(preimage, d.sum[:]...)
	}
	return sum(preimage)
}

// HashBytes hashes an opaque byte string with the version prefix, used for
// combining already-serialized data (e.g. a stable string key) into a
// Digest without going through the scalar/field machinery.
func HashBytes(label string, b []byte) Digest {
	preimage := []byte{Version}
	preimage = append(preimage, label...)
	preimage = append(preimage, 0) // NUL separator between label and payload
	preimage = append(preimage, b...)
	return sum(preimage)
}
