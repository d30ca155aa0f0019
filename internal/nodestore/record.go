// Package nodestore reads and writes fragment records at node storage
// locations. A node location is a directory; the on-disk record is a small
// envelope, so any structural tampering is observable before the cipher and
// integrity layers even run.
package nodestore

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fragvault/fragvault/internal/integrity"
)

// recordMagic opens every fragment record file. The trailing byte doubles as
// the format version.
var recordMagic = [4]byte{'F', 'V', 'F', '1'}

// A header larger than this is corruption, not data.
const maxHeaderSize = 1 << 20

var (
	// ErrFragmentMissing means the record file does not exist at its node.
	ErrFragmentMissing = errors.New("fragment record missing")

	// ErrBadRecord means the record file exists but its envelope is broken:
	// wrong magic, truncated header, or a header/payload length mismatch.
	ErrBadRecord = errors.New("fragment record corrupted")
)

// FragmentRecord is one encrypted fragment plus the metadata needed to check
// it independently: the plaintext digest and the inclusion proof tying that
// digest to the object's commitment root.
type FragmentRecord struct {
	ObjectID   string
	Index      int
	Digest     []byte
	Proof      integrity.Proof
	Ciphertext []byte
}

// recordHeader is the JSON part of the envelope. Hashes are hex so the header
// stays greppable when debugging a node by hand.
type recordHeader struct {
	ObjectID    string   `json:"object_id"`
	Index       int      `json:"index"`
	Digest      string   `json:"digest"`
	LeafIndex   int      `json:"leaf_index"`
	TreeSize    int      `json:"tree_size"`
	ProofPath   []string `json:"proof_path"`
	PayloadSize int      `json:"payload_size"`
}

// EncodeRecord serializes rec into the on-disk envelope:
//
//	magic (4) | header length (4, little endian) | header JSON | ciphertext
func EncodeRecord(rec *FragmentRecord) ([]byte, error) {
	hdr := recordHeader{
		ObjectID:    rec.ObjectID,
		Index:       rec.Index,
		Digest:      hex.EncodeToString(rec.Digest),
		LeafIndex:   rec.Proof.LeafIndex,
		TreeSize:    rec.Proof.TreeSize,
		PayloadSize: len(rec.Ciphertext),
	}
	for _, sibling := range rec.Proof.Path {
		hdr.ProofPath = append(hdr.ProofPath, hex.EncodeToString(sibling))
	}

	hdrJSON, err := json.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record header: %w", err)
	}

	buf := make([]byte, 0, len(recordMagic)+4+len(hdrJSON)+len(rec.Ciphertext))
	buf = append(buf, recordMagic[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(hdrJSON)))
	buf = append(buf, hdrJSON...)
	buf = append(buf, rec.Ciphertext...)
	return buf, nil
}

// DecodeRecord parses the envelope back into a FragmentRecord. Structural
// damage comes back as ErrBadRecord; content damage (flipped ciphertext or
// digest bits) is left for the integrity and cipher layers to catch.
func DecodeRecord(data []byte) (*FragmentRecord, error) {
	if len(data) < len(recordMagic)+4 {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the envelope", ErrBadRecord, len(data))
	}
	if !bytes.Equal(data[:len(recordMagic)], recordMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrBadRecord)
	}

	hdrLen := binary.LittleEndian.Uint32(data[4:8])
	if hdrLen == 0 || hdrLen > maxHeaderSize || int(hdrLen) > len(data)-8 {
		return nil, fmt.Errorf("%w: header length %d out of range", ErrBadRecord, hdrLen)
	}

	var hdr recordHeader
	if err := json.Unmarshal(data[8:8+hdrLen], &hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}

	payload := data[8+hdrLen:]
	if len(payload) != hdr.PayloadSize {
		return nil, fmt.Errorf("%w: payload is %d bytes, header says %d", ErrBadRecord, len(payload), hdr.PayloadSize)
	}

	digest, err := hex.DecodeString(hdr.Digest)
	if err != nil {
		return nil, fmt.Errorf("%w: digest not hex: %v", ErrBadRecord, err)
	}

	rec := &FragmentRecord{
		ObjectID:   hdr.ObjectID,
		Index:      hdr.Index,
		Digest:     digest,
		Proof:      integrity.Proof{LeafIndex: hdr.LeafIndex, TreeSize: hdr.TreeSize},
		Ciphertext: payload,
	}
	for _, sibling := range hdr.ProofPath {
		raw, err := hex.DecodeString(sibling)
		if err != nil {
			return nil, fmt.Errorf("%w: proof path not hex: %v", ErrBadRecord, err)
		}
		rec.Proof.Path = append(rec.Proof.Path, raw)
	}
	return rec, nil
}
