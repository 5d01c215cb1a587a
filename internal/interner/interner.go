// Package interner implements the Identifier Interner X: a compact,
// stable bidirectional mapping between ontology IRIs/literals and
// dense 32-bit ids. Builds with a plain map, freezes into a two-level
// (FKS-style) perfect-hash array for read-only runtime lookup, the
// way §4.1 specifies: collisions are a build-time-only concern, the
// frozen interner never retries or allocates.
package interner

import (
	"errors"
	"fmt"

	"github.com/spaolacci/murmur3"
)

// ErrUnstableIntern is returned when perfect-hash construction could
// not find a collision-free seed within the retry budget.
var ErrUnstableIntern = errors.New("interner: unstable perfect hash construction")

const maxSeedRetries = 64

// Builder assigns dense ids to strings in first-seen order. Intern is
// idempotent: interning the same string twice returns the same id.
type Builder struct {
	ids  map[string]uint32
	byID []string
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{ids: make(map[string]uint32)}
}

// Intern returns s's id, assigning the next dense id on first sight.
func (b *Builder) Intern(s string) uint32 {
	if id, ok := b.ids[s]; ok {
		return id
	}
	id := uint32(len(b.byID))
	b.ids[s] = id
	b.byID = append(b.byID, s)
	return id
}

// Len returns the number of distinct interned strings so far.
func (b *Builder) Len() int { return len(b.byID) }

// Freeze builds the perfect-hash runtime table. Deterministic given
// the same insertion order, so two compiler runs over the same
// canonical triple stream produce byte-identical frozen tables
// (required for P-Idem/P-Det).
func (b *Builder) Freeze() (*Frozen, error) {
	n := len(b.byID)
	if n == 0 {
		return &Frozen{}, nil
	}

	for seed1 := uint32(0); seed1 < maxSeedRetries; seed1++ {
		buckets := make([][]uint32, n)
		for id, s := range b.byID {
			h := bucketHash(seed1, s, n)
			buckets[h] = append(buckets[h], uint32(id))
		}

		seeds := make([]uint32, n)
		tables := make([][]int32, n)
		okAll := true

	bucketLoop:
		for bi, bucket := range buckets {
			if len(bucket) == 0 {
				continue
			}
			size := len(bucket) * len(bucket)
			if size == 0 {
				size = 1
			}
			for seed2 := uint32(0); seed2 < maxSeedRetries; seed2++ {
				used := make(map[uint32]bool, len(bucket))
				positions := make([]uint32, len(bucket))
				collided := false
				for k, id := range bucket {
					pos := secondaryHash(seed2, b.byID[id], size)
					if used[pos] {
						collided = true
						break
					}
					used[pos] = true
					positions[k] = pos
				}
				if collided {
					continue
				}
				// Found a collision-free seed2 for this bucket; commit.
				seeds[bi] = seed2 + 1 // 0 reserved to mean "empty bucket"
				table := make([]int32, size)
				for i := range table {
					table[i] = -1
				}
				for k, id := range bucket {
					table[positions[k]] = int32(id)
				}
				tables[bi] = table
				continue bucketLoop
			}
			okAll = false
			break
		}

		if okAll {
			return &Frozen{
				seed1:  seed1,
				n:      n,
				seeds2: seeds,
				tables: tables,
				byID:   append([]string(nil), b.byID...),
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: exhausted %d seed retries for %d entries", ErrUnstableIntern, maxSeedRetries, n)
}

func bucketHash(seed uint32, s string, n int) int {
	h := murmur3.Sum32WithSeed([]byte(s), seed)
	return int(h % uint32(n))
}

func secondaryHash(seed uint32, s string, size int) uint32 {
	h := murmur3.Sum32WithSeed([]byte(s), seed^0x9e3779b9)
	return h % uint32(size)
}

// Frozen is the read-only runtime interner baked into the IR image.
type Frozen struct {
	seed1  uint32
	n      int
	seeds2 []uint32
	tables [][]int32
	byID   []string
}

// Lookup resolves s to its id in O(1) via the two-level perfect hash.
func (f *Frozen) Lookup(s string) (uint32, bool) {
	if f.n == 0 {
		return 0, false
	}
	bi := bucketHash(f.seed1, s, f.n)
	seed2 := f.seeds2[bi]
	if seed2 == 0 {
		return 0, false // empty bucket
	}
	table := f.tables[bi]
	pos := secondaryHash(seed2-1, s, len(table))
	id := table[pos]
	if id < 0 || f.byID[id] != s {
		return 0, false
	}
	return uint32(id), true
}

// Resolve returns the string for id; never fails for an id produced
// by the same Freeze call.
func (f *Frozen) Resolve(id uint32) (string, bool) {
	if int(id) >= len(f.byID) {
		return "", false
	}
	return f.byID[id], true
}

// Len returns the number of interned strings.
func (f *Frozen) Len() int { return f.n }

// Strings returns the dense id->string table in id order, used when
// serializing the interner blob into the IR image.
func (f *Frozen) Strings() []string { return f.byID }
