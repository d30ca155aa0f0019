package nodestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Store abstracts fragment record placement so the coordinator does not care
// whether a node location is a local directory or something remote.
type Store interface {
	WriteFragment(node string, rec *FragmentRecord) error
	ReadFragment(node, objectID string, index int) (*FragmentRecord, error)
}

// Local stores fragment records in plain directories, one file per fragment.
type Local struct{}

// NewLocal returns a directory-backed store.
func NewLocal() *Local {
	return &Local{}
}

// FragmentFileName is the record file name for one fragment of an object.
func FragmentFileName(objectID string, index int) string {
	return fmt.Sprintf("%s.%d.frag", objectID, index)
}

// WriteFragment encodes rec and places it at the node directory, creating the
// directory on first use.
func (l *Local) WriteFragment(node string, rec *FragmentRecord) error {
	if err := os.MkdirAll(node, 0755); err != nil {
		return fmt.Errorf("failed to create node directory %s: %w", node, err)
	}
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	path := filepath.Join(node, FragmentFileName(rec.ObjectID, rec.Index))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write fragment %d to %s: %w", rec.Index, node, err)
	}
	return nil
}

// ReadFragment loads and decodes one fragment record. An absent file is
// ErrFragmentMissing; a file that decodes to a different object or index is
// ErrBadRecord.
func (l *Local) ReadFragment(node, objectID string, index int) (*FragmentRecord, error) {
	path := filepath.Join(node, FragmentFileName(objectID, index))
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: fragment %d of %s at %s", ErrFragmentMissing, index, objectID, node)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read fragment %d from %s: %w", index, node, err)
	}

	rec, err := DecodeRecord(data)
	if err != nil {
		return nil, err
	}
	if rec.ObjectID != objectID || rec.Index != index {
		return nil, fmt.Errorf("%w: %s holds fragment %d of %s", ErrBadRecord, path, rec.Index, rec.ObjectID)
	}
	return rec, nil
}
