package receipts

import "crypto/sha256"

// Rollup is a sparse-frontier incremental Merkle accumulator over a
// case's receipt hashes, adapted directly from
// services/blockchain/state/merkle.go's Tree — same frontier-carry
// append algorithm, renamed to this package's domain (leaves are
// receipt hashes, not block payloads) and with GenerateProof actually
// implemented rather than left as a stub, since export bundles need a
// real inclusion proof, not just a root.
type Rollup struct {
	count    uint64
	frontier [][32]byte
	leaves   [][32]byte // kept for GenerateProof; a production rollup would persist this instead
}

// NewRollup constructs an empty accumulator.
func NewRollup() *Rollup {
	return &Rollup{frontier: make([][32]byte, 0, 32)}
}

// Append folds one more receipt hash (hex-decoded to 32 bytes by the
// caller) into the accumulator and returns the new root.
func (r *Rollup) Append(leaf [32]byte) [32]byte {
	r.leaves = append(r.leaves, leaf)
	h := leaf
	idx := 0
	for {
		if idx >= len(r.frontier) {
			r.frontier = append(r.frontier, h)
			break
		}
		if isEmpty(r.frontier[idx]) {
			r.frontier[idx] = h
			break
		}
		combined := combine(r.frontier[idx], h)
		r.frontier[idx] = [32]byte{}
		h = combined
		idx++
	}
	r.count++
	return r.Root()
}

// Root returns the current accumulated root.
func (r *Rollup) Root() [32]byte {
	var acc [32]byte
	for i := range r.frontier {
		if !isEmpty(r.frontier[i]) {
			acc = combine(r.frontier[i], acc)
		}
	}
	return acc
}

// GenerateProof returns the sibling hashes needed to recompute the
// root from leaf index i, recomputed from the retained leaf list.
// O(n) per call; acceptable for export-time verification rather than
// a runtime hot path.
func (r *Rollup) GenerateProof(i uint64) ([][32]byte, error) {
	if i >= uint64(len(r.leaves)) {
		return nil, errLeafOutOfRange
	}
	level := make([][32]byte, len(r.leaves))
	copy(level, r.leaves)
	var proof [][32]byte
	idx := i
	for len(level) > 1 {
		var next [][32]byte
		for j := 0; j < len(level); j += 2 {
			if j+1 < len(level) {
				if j == int(idx) || j+1 == int(idx) {
					if j == int(idx) {
						proof = append(proof, level[j+1])
					} else {
						proof = append(proof, level[j])
					}
				}
				next = append(next, combine(level[j], level[j+1]))
			} else {
				next = append(next, level[j])
			}
		}
		idx /= 2
		level = next
	}
	return proof, nil
}

var errLeafOutOfRange = &rollupError{"receipts: leaf index out of range"}

type rollupError struct{ msg string }

func (e *rollupError) Error() string { return e.msg }

func isEmpty(h [32]byte) bool { var zero [32]byte; return h == zero }

func combine(left, right [32]byte) [32]byte {
	buf := make([]byte, 64)
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	return sha256.Sum256(buf)
}
