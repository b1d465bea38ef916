// Package treehash computes SHA-256 tree hashes as required by cold-storage vaults.
//
// The payload is split into 1 MiB segments, every segment is hashed, and the digests are
// combined pairwise level by level until a single root digest remains. When a level has an
// odd number of nodes the last node is carried up to the next level unchanged.
package treehash

import (
	"encoding/hex"
	"fmt"
	"hash"
	"sync"

	"github.com/minio/sha256-simd"
)

// SegmentSize is the size of a leaf segment.
const SegmentSize = 1024 * 1024

// maxPartSize is the largest part size a vault accepts (4 GiB).
const maxPartSize = 4 * 1024 * 1024 * 1024

// Hash is a SHA-256 digest.
type Hash [sha256.Size]byte

var hasherPool = sync.Pool{
	New: func() any {
		return sha256.New()
	},
}

func getHasher() hash.Hash {
	return hasherPool.Get().(hash.Hash)
}

func putHasher(h hash.Hash) {
	h.Reset()
	hasherPool.Put(h)
}

// String returns the lower case hex encoding of the digest.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseHash decodes a hex encoded digest.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decode tree hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("tree hash must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Sum returns the tree hash of data.
func Sum(data []byte) Hash {
	leaves := make([]Hash, 0, len(data)/SegmentSize+1)
	for offset := 0; offset < len(data); offset += SegmentSize {
		end := offset + SegmentSize
		if end > len(data) {
			end = len(data)
		}
		leaves = append(leaves, sumSegment(data[offset:end]))
	}
	return Combine(leaves)
}

// Combine reduces a level of digests to its root.
// An empty level yields the digest of empty input.
func Combine(nodes []Hash) Hash {
	if len(nodes) == 0 {
		return sumSegment(nil)
	}

	level := make([]Hash, len(nodes))
	copy(level, nodes)
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, sumPair(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

// PartHashes returns the tree hash of every partSize sized slice of payload.
func PartHashes(payload []byte, partSize int64) ([]Hash, error) {
	if partSize <= 0 {
		return nil, fmt.Errorf("part size must be positive, got %d", partSize)
	}

	hashes := make([]Hash, 0, int64(len(payload))/partSize+1)
	for offset := int64(0); offset < int64(len(payload)); offset += partSize {
		end := offset + partSize
		if end > int64(len(payload)) {
			end = int64(len(payload))
		}
		hashes = append(hashes, Sum(payload[offset:end]))
	}
	return hashes, nil
}

// ValidPartSize reports whether size is a power-of-two multiple of SegmentSize no larger than 4 GiB.
// Only such part sizes let a vault rebuild the root hash from the part hashes.
func ValidPartSize(size int64) bool {
	if size < SegmentSize || size > maxPartSize || size%SegmentSize != 0 {
		return false
	}
	segments := size / SegmentSize
	return segments&(segments-1) == 0
}

func sumSegment(b []byte) Hash {
	h := getHasher()
	defer putHasher(h)

	var out Hash
	h.Write(b) //nolint:errcheck
	h.Sum(out[:0])
	return out
}

func sumPair(left, right Hash) Hash {
	h := getHasher()
	defer putHasher(h)

	var out Hash
	h.Write(left[:])  //nolint:errcheck
	h.Write(right[:]) //nolint:errcheck
	h.Sum(out[:0])
	return out
}
