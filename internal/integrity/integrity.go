// Package integrity builds the per-object commitment that lets fragments be
// verified without trusting the node that stored them.
//
// The commitment is a Merkle tree over the ordered plaintext fragment
// digests. Leaves and interior nodes are hashed with distinct prefixes so a
// leaf can never impersonate a subtree root, and unbalanced trees split at
// the largest power of two below the leaf count.
package integrity

import (
	"bytes"
	"crypto/sha256"
)

const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// HashSize is the byte length of digests, roots, and proof path elements.
const HashSize = sha256.Size

// EmptyRoot returns the commitment root of an object with zero fragments: a
// fixed, well-known value, so empty objects still verify.
func EmptyRoot() []byte {
	sum := sha256.Sum256(nil)
	return sum[:]
}

// Proof places one fragment digest inside a commitment. Path holds the
// sibling subtree hashes from the leaf's nearest neighbour up to the final
// root split.
type Proof struct {
	LeafIndex int      `json:"leaf_index"`
	TreeSize  int      `json:"tree_size"`
	Path      [][]byte `json:"path"`
}

// BuildCommitment computes the commitment root and one inclusion proof per
// digest. The result depends only on the digest values and their order.
func BuildCommitment(digests [][]byte) ([]byte, []Proof) {
	if len(digests) == 0 {
		return EmptyRoot(), nil
	}
	proofs := make([]Proof, len(digests))
	for i := range digests {
		proofs[i] = Proof{
			LeafIndex: i,
			TreeSize:  len(digests),
			Path:      inclusionPath(i, digests),
		}
	}
	return subtreeRoot(digests), proofs
}

// Root computes only the commitment root.
func Root(digests [][]byte) []byte {
	if len(digests) == 0 {
		return EmptyRoot()
	}
	return subtreeRoot(digests)
}

// VerifyFragment reports whether digest sits at index under root according to
// proof. It never panics and never returns an error: malformed proofs,
// foreign paths, and index mismatches all come back false, so a bulk sweep
// can keep going.
func VerifyFragment(index int, digest []byte, proof Proof, root []byte) bool {
	if index != proof.LeafIndex || index < 0 || proof.TreeSize < 1 || index >= proof.TreeSize {
		return false
	}
	computed, ok := rootFromPath(proof.LeafIndex, proof.TreeSize, leafHash(digest), proof.Path)
	return ok && bytes.Equal(computed, root)
}

func leafHash(digest []byte) []byte {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(digest)
	return h.Sum(nil)
}

func nodeHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write([]byte{nodePrefix})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// splitPoint is the largest power of two strictly below n, the subtree split
// shared by tree construction and proof replay.
func splitPoint(n int) int {
	k := 1
	for k*2 < n {
		k *= 2
	}
	return k
}

func subtreeRoot(digests [][]byte) []byte {
	if len(digests) == 1 {
		return leafHash(digests[0])
	}
	k := splitPoint(len(digests))
	return nodeHash(subtreeRoot(digests[:k]), subtreeRoot(digests[k:]))
}

// inclusionPath collects sibling subtree hashes bottom-up for leaf m.
func inclusionPath(m int, digests [][]byte) [][]byte {
	if len(digests) == 1 {
		return nil
	}
	k := splitPoint(len(digests))
	if m < k {
		return append(inclusionPath(m, digests[:k]), subtreeRoot(digests[k:]))
	}
	return append(inclusionPath(m-k, digests[k:]), subtreeRoot(digests[:k]))
}

// rootFromPath replays the construction, consuming the path from its tail
// exactly as inclusionPath appended it bottom-up.
func rootFromPath(m, n int, leaf []byte, path [][]byte) ([]byte, bool) {
	if n == 1 {
		if len(path) != 0 || m != 0 {
			return nil, false
		}
		return leaf, true
	}
	if len(path) == 0 {
		return nil, false
	}
	sibling := path[len(path)-1]
	if len(sibling) != HashSize {
		return nil, false
	}
	k := splitPoint(n)
	if m < k {
		sub, ok := rootFromPath(m, k, leaf, path[:len(path)-1])
		if !ok {
			return nil, false
		}
		return nodeHash(sub, sibling), true
	}
	sub, ok := rootFromPath(m-k, n-k, leaf, path[:len(path)-1])
	if !ok {
		return nil, false
	}
	return nodeHash(sibling, sub), true
}
