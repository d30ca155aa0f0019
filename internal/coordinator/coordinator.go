// Package coordinator drives the storage pipeline end to end: compress,
// fragment, encrypt, commit, place, and the reverse paths for verification
// and recovery. It consumes configuration, owns no policy beyond it, and
// never lets partially recovered plaintext escape.
package coordinator

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fragvault/fragvault/internal/compressor"
	"github.com/fragvault/fragvault/internal/encryptor"
	"github.com/fragvault/fragvault/internal/fragmenter"
	"github.com/fragvault/fragvault/internal/integrity"
	"github.com/fragvault/fragvault/internal/keymanager"
	"github.com/fragvault/fragvault/internal/manifest"
	"github.com/fragvault/fragvault/internal/nodestore"
	"github.com/fragvault/fragvault/pkg/logging"
)

// cipherSuite tags manifests with the fragment encryption scheme in use.
const cipherSuite = "chacha20poly1305+hkdf"

// Config carries the knobs the coordinator consumes. FragmentSize zero means
// automatic sizing from the data length.
type Config struct {
	FragmentSize     int
	NodePaths        []string
	Compression      compressor.Algorithm
	ParallelismRatio int
	Retry            RetryPolicy
}

// Coordinator wires the pipeline stages together around one keypair, one
// manifest store, and one fragment store.
type Coordinator struct {
	cfg       Config
	engine    *encryptor.Engine
	manifests *manifest.Store
	fragments nodestore.Store
	assigner  Assigner
	log       *logrus.Logger
}

// New validates cfg and builds a coordinator. Configuration faults surface
// here, before any data is touched.
func New(cfg Config, keys *keymanager.KeyPair, manifests *manifest.Store, fragments nodestore.Store) (*Coordinator, error) {
	if keys == nil {
		return nil, fmt.Errorf("coordinator needs a loaded keypair")
	}
	if manifests == nil {
		return nil, fmt.Errorf("coordinator needs a manifest store")
	}
	if fragments == nil {
		return nil, fmt.Errorf("coordinator needs a fragment store")
	}
	if len(cfg.NodePaths) == 0 {
		return nil, fmt.Errorf("no node paths configured")
	}
	if cfg.FragmentSize < 0 {
		return nil, fmt.Errorf("%w: got %d", fragmenter.ErrFragmentSize, cfg.FragmentSize)
	}
	if cfg.Compression == "" {
		cfg.Compression = compressor.AlgLZ4
	}
	alg, err := compressor.ParseAlgorithm(string(cfg.Compression))
	if err != nil {
		return nil, err
	}
	cfg.Compression = alg
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}

	return &Coordinator{
		cfg:       cfg,
		engine:    encryptor.NewEngine(keys),
		manifests: manifests,
		fragments: fragments,
		assigner:  ModuloAssigner{},
		log:       logging.Log,
	}, nil
}

// SetAssigner swaps the placement policy. The manifest records the outcome,
// so previously stored objects keep recovering regardless.
func (c *Coordinator) SetAssigner(a Assigner) {
	if a != nil {
		c.assigner = a
	}
}

// Store runs the full pipeline over data and persists the object under
// objectID, or under a fresh UUID when objectID is empty. It returns the
// stored manifest.
func (c *Coordinator) Store(data []byte, objectID string) (*manifest.Manifest, error) {
	return c.store(data, objectID, "", c.cfg.Compression)
}

// StoreFile stores the contents of the file at path. Already-compressed file
// types go straight to raw storage.
func (c *Coordinator) StoreFile(path, objectID string) (*manifest.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	alg := compressor.PreferredForPath(path, c.cfg.Compression)
	return c.store(data, objectID, filepath.Base(path), alg)
}

// List returns the manifests of every stored object.
func (c *Coordinator) List() ([]manifest.Manifest, error) {
	return c.manifests.List()
}

func (c *Coordinator) store(data []byte, objectID, sourceName string, alg compressor.Algorithm) (*manifest.Manifest, error) {
	if objectID == "" {
		objectID = uuid.NewString()
	}
	// Object IDs become file names on every node.
	if strings.ContainsAny(objectID, `/\`) {
		return nil, fmt.Errorf("object id %q must not contain path separators", objectID)
	}

	fragmentSize := c.cfg.FragmentSize
	if fragmentSize == 0 {
		fragmentSize = autoFragmentSize(len(data))
	}

	compressed, compMeta, err := compressor.Compress(data, alg)
	if err != nil {
		// Compression faults are internal: one retry, then surface.
		compressed, compMeta, err = compressor.Compress(data, alg)
	}
	if err != nil {
		return nil, err
	}

	pieces, err := fragmenter.Split(compressed, fragmentSize)
	if err != nil {
		return nil, err
	}

	key, err := c.engine.NewObjectKey()
	if err != nil {
		return nil, err
	}
	wrapped, err := c.engine.WrapKey(key)
	if err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"object":    objectID,
		"fragments": len(pieces),
		"algorithm": compMeta.Algorithm,
	}).Info("📦 Storing object")

	sealed, err := c.sealFragments(key, objectID, pieces)
	if err != nil {
		return nil, err
	}

	// Commitment barrier: every digest must exist before the tree does.
	digests := make([][]byte, len(sealed))
	for i := range sealed {
		digests[i] = sealed[i].digest
	}
	root, proofs := integrity.BuildCommitment(digests)

	signature, err := c.engine.SignCommitment(key, root)
	if err != nil {
		return nil, err
	}

	nodes := make([]string, len(sealed))
	for i := range sealed {
		nodes[i] = c.assigner.Assign(objectID, i, len(sealed), c.cfg.NodePaths)
	}

	if err := c.writeFragments(objectID, sealed, proofs, nodes); err != nil {
		return nil, err
	}

	m := &manifest.Manifest{
		ObjectID:       objectID,
		SourceName:     sourceName,
		OriginalSize:   int64(len(data)),
		FragmentSize:   fragmentSize,
		FragmentCount:  len(sealed),
		Compression:    compMeta,
		CipherSuite:    cipherSuite,
		WrappedKey:     wrapped,
		CommitmentRoot: hex.EncodeToString(root),
		RootSignature:  signature,
		SignatureAlg:   "HS256",
		Nodes:          nodes,
	}
	if err := c.manifests.Put(m); err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"object":    objectID,
		"fragments": m.FragmentCount,
	}).Info("✅ Object stored")
	return m, nil
}

type sealedFragment struct {
	digest     []byte
	ciphertext []byte
}

// sealFragments digests and encrypts every piece on the worker pool. Each
// worker writes only its own result slot.
func (c *Coordinator) sealFragments(key encryptor.ObjectKey, objectID string, pieces [][]byte) ([]sealedFragment, error) {
	sealed := make([]sealedFragment, len(pieces))
	err := c.forEachIndex(len(pieces), func(i int) error {
		digest := encryptor.Digest(pieces[i])
		ciphertext, err := c.engine.EncryptFragment(key, objectID, i, pieces[i])
		if err != nil {
			return err
		}
		sealed[i] = sealedFragment{digest: digest, ciphertext: ciphertext}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sealed, nil
}

// writeFragments assembles the full records, now that proofs exist, and
// places them on their assigned nodes with bounded retry.
func (c *Coordinator) writeFragments(objectID string, sealed []sealedFragment, proofs []integrity.Proof, nodes []string) error {
	return c.forEachIndex(len(sealed), func(i int) error {
		rec := &nodestore.FragmentRecord{
			ObjectID:   objectID,
			Index:      i,
			Digest:     sealed[i].digest,
			Proof:      proofs[i],
			Ciphertext: sealed[i].ciphertext,
		}
		err := withRetry(c.cfg.Retry, func() error {
			return c.fragments.WriteFragment(nodes[i], rec)
		})
		if err != nil {
			return fmt.Errorf("failed to place fragment %d on %s: %w", i, nodes[i], err)
		}
		return nil
	})
}

// forEachIndex fans indexes 0..n-1 out to the worker pool and reports the
// first error once every worker has drained. After a failure remaining tasks
// are skipped, not run.
func (c *Coordinator) forEachIndex(n int, fn func(int) error) error {
	if n == 0 {
		return nil
	}
	numWorkers := c.workerCount()
	if numWorkers > n {
		numWorkers = n
	}

	taskChan := make(chan int, numWorkers*2)
	var wg sync.WaitGroup
	var errOnce sync.Once
	var processErr error
	var failed atomic.Bool

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range taskChan {
				if failed.Load() {
					continue
				}
				if err := fn(i); err != nil {
					setErrOnce(&errOnce, &processErr, err)
					failed.Store(true)
				}
			}
		}()
	}

	for i := 0; i < n; i++ {
		taskChan <- i
	}
	close(taskChan)
	wg.Wait()

	return processErr
}

// workerCount follows the CPU/ratio heuristic: more cores, more fragment
// workers, never fewer than one.
func (c *Coordinator) workerCount() int {
	ratio := c.cfg.ParallelismRatio
	if ratio <= 0 {
		ratio = 2
	}
	numWorkers := runtime.NumCPU() / ratio
	if numWorkers < 1 {
		numWorkers = 1
	}
	return numWorkers
}

// autoFragmentSize picks a fragment size from the data length when the
// configuration leaves it at zero: small payloads stay whole, larger ones
// step up through 50 KB, 100 KB, and 200 KB fragments.
func autoFragmentSize(dataLen int) int {
	const kb = 1024
	switch {
	case dataLen <= 100*kb:
		if dataLen < 1 {
			return 100 * kb
		}
		return dataLen
	case dataLen <= 1024*kb:
		return 50 * kb
	case dataLen <= 10*1024*kb:
		return 100 * kb
	default:
		return 200 * kb
	}
}

func setErrOnce(once *sync.Once, target *error, err error) {
	once.Do(func() {
		*target = err
	})
}
