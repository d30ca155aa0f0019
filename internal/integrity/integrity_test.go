package integrity

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"testing"
)

func testDigests(n int) [][]byte {
	digests := make([][]byte, n)
	for i := range digests {
		sum := sha256.Sum256([]byte(fmt.Sprintf("fragment-%d", i)))
		digests[i] = sum[:]
	}
	return digests
}

func TestEmptyCommitment(t *testing.T) {
	root, proofs := BuildCommitment(nil)
	if !bytes.Equal(root, EmptyRoot()) {
		t.Errorf("empty commitment root does not equal EmptyRoot")
	}
	if len(proofs) != 0 {
		t.Errorf("empty commitment produced %d proofs", len(proofs))
	}
	if !bytes.Equal(EmptyRoot(), EmptyRoot()) {
		t.Errorf("EmptyRoot is not stable")
	}
}

func TestProofsVerifyAcrossTreeSizes(t *testing.T) {
	for n := 1; n <= 9; n++ {
		digests := testDigests(n)
		root, proofs := BuildCommitment(digests)
		if len(proofs) != n {
			t.Fatalf("n=%d: got %d proofs", n, len(proofs))
		}
		for i := range digests {
			if !VerifyFragment(i, digests[i], proofs[i], root) {
				t.Errorf("n=%d: proof for leaf %d rejected", n, i)
			}
		}
	}
}

func TestCommitmentDeterminism(t *testing.T) {
	digests := testDigests(5)
	rootA, _ := BuildCommitment(digests)
	rootB, _ := BuildCommitment(digests)
	if !bytes.Equal(rootA, rootB) {
		t.Errorf("same digests produced different roots")
	}
	if !bytes.Equal(rootA, Root(digests)) {
		t.Errorf("Root disagrees with BuildCommitment")
	}
}

func TestCommitmentOrderSensitivity(t *testing.T) {
	digests := testDigests(4)
	rootA, _ := BuildCommitment(digests)

	swapped := testDigests(4)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	rootB, _ := BuildCommitment(swapped)

	if bytes.Equal(rootA, rootB) {
		t.Errorf("reordering digests kept the root unchanged")
	}
}

func TestVerifyFragmentRejectsTamperedDigest(t *testing.T) {
	digests := testDigests(6)
	root, proofs := BuildCommitment(digests)

	tampered := append([]byte{}, digests[2]...)
	tampered[0] ^= 0x01
	if VerifyFragment(2, tampered, proofs[2], root) {
		t.Errorf("tampered digest accepted")
	}
}

func TestVerifyFragmentRejectsForeignProof(t *testing.T) {
	digests := testDigests(6)
	root, proofs := BuildCommitment(digests)

	// A valid proof for leaf 1 must not vouch for leaf 2.
	if VerifyFragment(2, digests[2], proofs[1], root) {
		t.Errorf("proof accepted at the wrong index")
	}

	// Forging the leaf index inside the proof must not help either.
	forged := proofs[1]
	forged.LeafIndex = 2
	if VerifyFragment(2, digests[2], forged, root) {
		t.Errorf("proof with forged leaf index accepted")
	}
}

func TestVerifyFragmentRejectsMalformedProof(t *testing.T) {
	digests := testDigests(5)
	root, proofs := BuildCommitment(digests)

	truncated := proofs[3]
	truncated.Path = truncated.Path[:len(truncated.Path)-1]
	if VerifyFragment(3, digests[3], truncated, root) {
		t.Errorf("truncated proof accepted")
	}

	padded := proofs[3]
	padded.Path = append(append([][]byte{}, padded.Path...), EmptyRoot())
	if VerifyFragment(3, digests[3], padded, root) {
		t.Errorf("padded proof accepted")
	}

	shortSibling := proofs[3]
	shortSibling.Path = append([][]byte{}, shortSibling.Path...)
	shortSibling.Path[0] = shortSibling.Path[0][:8]
	if VerifyFragment(3, digests[3], shortSibling, root) {
		t.Errorf("proof with truncated sibling hash accepted")
	}

	bad := proofs[3]
	bad.TreeSize = 0
	if VerifyFragment(3, digests[3], bad, root) {
		t.Errorf("proof with zero tree size accepted")
	}
}

func TestVerifyFragmentRejectsWrongRoot(t *testing.T) {
	digests := testDigests(3)
	_, proofs := BuildCommitment(digests)
	otherRoot, _ := BuildCommitment(testDigests(4))

	if VerifyFragment(0, digests[0], proofs[0], otherRoot) {
		t.Errorf("proof accepted against a different root")
	}
}

func TestSingleLeafCommitment(t *testing.T) {
	digests := testDigests(1)
	root, proofs := BuildCommitment(digests)

	if len(proofs[0].Path) != 0 {
		t.Errorf("single leaf proof has a %d-element path", len(proofs[0].Path))
	}
	if !VerifyFragment(0, digests[0], proofs[0], root) {
		t.Errorf("single leaf proof rejected")
	}
}

func TestReport(t *testing.T) {
	r := NewReport("obj-1", 3)
	r.AddVerified(2)
	r.AddVerified(0)
	r.AddFailed(1)
	r.Sort()

	if r.OK() {
		t.Errorf("report with a failed fragment claims OK")
	}
	if r.Verified[0] != 0 || r.Verified[1] != 2 {
		t.Errorf("verified indexes not sorted: %v", r.Verified)
	}

	full := NewReport("obj-2", 2)
	full.AddVerified(0)
	full.AddVerified(1)
	if !full.OK() {
		t.Errorf("fully verified report claims not OK")
	}

	empty := NewReport("obj-3", 0)
	if !empty.OK() {
		t.Errorf("zero-fragment report claims not OK")
	}
}
