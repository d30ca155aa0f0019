// Package manifest persists the per-object metadata that verification and
// recovery start from. Values are JSON blobs in BadgerDB, keyed by object ID.
package manifest

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/fragvault/fragvault/internal/compressor"
)

const keyPrefix = "manifest:"

// ErrNotFound means no manifest exists for the requested object ID.
var ErrNotFound = errors.New("manifest not found")

// Manifest records everything needed to locate, verify, and recover one
// stored object. The wrapped key and root signature are opaque blobs; only
// the holder of the private key can make use of them.
type Manifest struct {
	ObjectID       string              `json:"object_id"`
	SourceName     string              `json:"source_name,omitempty"`
	OriginalSize   int64               `json:"original_size"`
	FragmentSize   int                 `json:"fragment_size"`
	FragmentCount  int                 `json:"fragment_count"`
	Compression    compressor.Metadata `json:"compression"`
	CipherSuite    string              `json:"cipher_suite"`
	WrappedKey     []byte              `json:"wrapped_key"`
	CommitmentRoot string              `json:"commitment_root"`
	RootSignature  []byte              `json:"root_signature"`
	SignatureAlg   string              `json:"signature_alg"`
	Nodes          []string            `json:"nodes"`
	CreatedAt      int64               `json:"created_at"`
}

// RootBytes decodes the hex commitment root.
func (m *Manifest) RootBytes() ([]byte, error) {
	root, err := hex.DecodeString(m.CommitmentRoot)
	if err != nil {
		return nil, fmt.Errorf("manifest for %s holds a bad commitment root: %w", m.ObjectID, err)
	}
	return root, nil
}

// Store is a Badger-backed manifest store.
type Store struct {
	db *badger.DB
}

// Open opens the manifest database at dbPath, creating it if needed.
func Open(dbPath string) (*Store, error) {
	opts := badger.DefaultOptions(dbPath).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores or replaces the manifest for m.ObjectID.
func (s *Store) Put(m *Manifest) error {
	if m.ObjectID == "" {
		return errors.New("manifest has no object id")
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().Unix()
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+m.ObjectID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store manifest for %s: %w", m.ObjectID, err)
	}
	return nil
}

// Get loads the manifest for objectID, or ErrNotFound.
func (s *Store) Get(objectID string) (*Manifest, error) {
	var m Manifest
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + objectID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, objectID)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// List returns every stored manifest, newest first.
func (s *Store) List() ([]Manifest, error) {
	var out []Manifest
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m Manifest
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list manifests: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}
