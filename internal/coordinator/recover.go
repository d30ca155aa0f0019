package coordinator

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/fragvault/fragvault/internal/compressor"
	"github.com/fragvault/fragvault/internal/encryptor"
	"github.com/fragvault/fragvault/internal/fragmenter"
	"github.com/fragvault/fragvault/internal/integrity"
	"github.com/fragvault/fragvault/internal/manifest"
	"github.com/fragvault/fragvault/internal/nodestore"
)

// ErrManifestSignature means the manifest's commitment root failed its
// signature check. Nothing derived from that root can be trusted, so both
// verification and recovery stop immediately.
var ErrManifestSignature = errors.New("manifest root signature mismatch")

// RecoveryError reports a recovery that could not produce the object because
// fragments are missing or failed verification. It always names the exact
// indexes, so an operator knows which nodes to look at.
type RecoveryError struct {
	ObjectID string
	Missing  []int
	Failed   []int
}

func (e *RecoveryError) Error() string {
	parts := []string{fmt.Sprintf("cannot recover object %s", e.ObjectID)}
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing fragments %v", e.Missing))
	}
	if len(e.Failed) > 0 {
		parts = append(parts, fmt.Sprintf("failed fragments %v", e.Failed))
	}
	return strings.Join(parts, ": ")
}

// Verify checks every fragment of objectID against the manifest's commitment
// root and reports per-index outcomes. Fragment plaintext is recomputed only
// to check digests and discarded before returning.
func (c *Coordinator) Verify(objectID string) (*integrity.Report, error) {
	m, key, root, err := c.openObject(objectID)
	if err != nil {
		return nil, err
	}

	results, err := c.scanFragments(m, key, root, false)
	if err != nil {
		return nil, err
	}

	report := integrity.NewReport(objectID, m.FragmentCount)
	for i, res := range results {
		switch res.status {
		case fragmentVerified:
			report.AddVerified(i)
		case fragmentFailed:
			report.AddFailed(i)
			c.log.WithFields(logrus.Fields{
				"object":   objectID,
				"fragment": i,
				"reason":   res.reason,
			}).Warn("⚠️ Fragment failed verification")
		case fragmentMissing:
			report.AddMissing(i)
			c.log.WithFields(logrus.Fields{
				"object":   objectID,
				"fragment": i,
				"reason":   res.reason,
			}).Warn("⚠️ Fragment missing")
		}
	}
	report.Sort()
	return report, nil
}

// Recover reassembles the original bytes of objectID. Every fragment must
// verify; otherwise a *RecoveryError names the missing and failed indexes and
// no plaintext, partial or otherwise, is returned.
func (c *Coordinator) Recover(objectID string) ([]byte, error) {
	m, key, root, err := c.openObject(objectID)
	if err != nil {
		return nil, err
	}

	results, err := c.scanFragments(m, key, root, true)
	if err != nil {
		return nil, err
	}

	recErr := &RecoveryError{ObjectID: objectID}
	pieces := make([]fragmenter.Piece, 0, len(results))
	for i, res := range results {
		switch res.status {
		case fragmentVerified:
			pieces = append(pieces, fragmenter.Piece{Index: i, Data: res.plaintext})
		case fragmentFailed:
			recErr.Failed = append(recErr.Failed, i)
		case fragmentMissing:
			recErr.Missing = append(recErr.Missing, i)
		}
	}
	if len(recErr.Failed) > 0 || len(recErr.Missing) > 0 {
		sort.Ints(recErr.Failed)
		sort.Ints(recErr.Missing)
		return nil, recErr
	}

	compressed, err := fragmenter.Join(pieces)
	if err != nil {
		return nil, err
	}
	data, err := compressor.Decompress(compressed, m.Compression)
	if err != nil {
		// Compression faults are internal: one retry, then surface.
		data, err = compressor.Decompress(compressed, m.Compression)
	}
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != m.OriginalSize {
		return nil, fmt.Errorf("recovered %d bytes for %s, manifest says %d", len(data), objectID, m.OriginalSize)
	}

	c.log.WithFields(logrus.Fields{
		"object": objectID,
		"bytes":  len(data),
	}).Info("✅ Object recovered")
	return data, nil
}

// openObject loads the manifest, unwraps the object key, and authenticates
// the commitment root. Any failure here is fatal for the whole operation.
func (c *Coordinator) openObject(objectID string) (*manifest.Manifest, encryptor.ObjectKey, []byte, error) {
	m, err := c.manifests.Get(objectID)
	if err != nil {
		return nil, encryptor.ObjectKey{}, nil, err
	}
	key, err := c.engine.UnwrapKey(m.WrappedKey)
	if err != nil {
		return nil, encryptor.ObjectKey{}, nil, err
	}
	root, err := m.RootBytes()
	if err != nil {
		return nil, encryptor.ObjectKey{}, nil, err
	}
	if !c.engine.VerifyCommitment(key, root, m.RootSignature) {
		return nil, encryptor.ObjectKey{}, nil, fmt.Errorf("%w: object %s", ErrManifestSignature, objectID)
	}
	return m, key, root, nil
}

type fragmentStatus int

const (
	fragmentVerified fragmentStatus = iota
	fragmentFailed
	fragmentMissing
)

// scanResult is one fragment's outcome during a verification or recovery
// sweep. plaintext is populated only when keepPlaintext was requested and
// every check passed.
type scanResult struct {
	status    fragmentStatus
	reason    string
	plaintext []byte
}

// scanFragments reads, proof-checks, decrypts, and digest-checks every
// fragment of m on the worker pool. Decryption here is transient: plaintext
// never leaves this function unless keepPlaintext is set and the fragment
// verified.
func (c *Coordinator) scanFragments(m *manifest.Manifest, key encryptor.ObjectKey, root []byte, keepPlaintext bool) ([]scanResult, error) {
	results := make([]scanResult, m.FragmentCount)
	err := c.forEachIndex(m.FragmentCount, func(i int) error {
		results[i] = c.scanOne(m, key, root, i, keepPlaintext)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Coordinator) scanOne(m *manifest.Manifest, key encryptor.ObjectKey, root []byte, index int, keepPlaintext bool) scanResult {
	node := c.nodeFor(m, index)

	var rec *nodestore.FragmentRecord
	err := withRetry(c.cfg.Retry, func() error {
		var readErr error
		rec, readErr = c.fragments.ReadFragment(node, m.ObjectID, index)
		// Absence and structural corruption are permanent; burning retries
		// on them only slows the sweep.
		if errors.Is(readErr, nodestore.ErrFragmentMissing) || errors.Is(readErr, nodestore.ErrBadRecord) {
			return backoffAbort(readErr)
		}
		return readErr
	})
	switch {
	case errors.Is(err, nodestore.ErrFragmentMissing):
		return scanResult{status: fragmentMissing, reason: "record not found"}
	case errors.Is(err, nodestore.ErrBadRecord):
		return scanResult{status: fragmentFailed, reason: "record envelope corrupted"}
	case err != nil:
		return scanResult{status: fragmentMissing, reason: err.Error()}
	}

	// The proof's tree size is bound to the signed root; the manifest's
	// fragment count must agree or the manifest has been rewritten.
	if rec.Proof.TreeSize != m.FragmentCount {
		return scanResult{status: fragmentFailed, reason: "proof tree size disagrees with manifest"}
	}
	if !integrity.VerifyFragment(index, rec.Digest, rec.Proof, root) {
		return scanResult{status: fragmentFailed, reason: "inclusion proof rejected"}
	}

	plaintext, err := c.engine.DecryptFragment(key, m.ObjectID, index, rec.Ciphertext)
	if err != nil {
		return scanResult{status: fragmentFailed, reason: "decryption failed"}
	}
	if !bytes.Equal(encryptor.Digest(plaintext), rec.Digest) {
		return scanResult{status: fragmentFailed, reason: "plaintext digest mismatch"}
	}

	res := scanResult{status: fragmentVerified}
	if keepPlaintext {
		res.plaintext = plaintext
	}
	return res
}

// nodeFor resolves the node holding fragment index, preferring the
// assignment recorded at store time over recomputing placement.
func (c *Coordinator) nodeFor(m *manifest.Manifest, index int) string {
	if index < len(m.Nodes) {
		return m.Nodes[index]
	}
	return c.assigner.Assign(m.ObjectID, index, m.FragmentCount, c.cfg.NodePaths)
}
