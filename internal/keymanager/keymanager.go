// Package keymanager owns the asymmetric keypair that protects every stored
// object. Keys are generated explicitly, persisted to disk, and loaded once at
// startup; neither this package nor its callers ever print or log the private
// key.
package keymanager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"
)

var (
	// ErrKeyNotFound means a key file is absent. Keys are never regenerated
	// implicitly; the operator has to run key generation on purpose.
	ErrKeyNotFound = errors.New("key file not found")

	// ErrKeyFormat means a key file exists but does not hold usable key
	// material, or the two files do not belong to the same keypair.
	ErrKeyFormat = errors.New("malformed key material")

	// ErrKeyGeneration wraps entropy failures during Generate.
	ErrKeyGeneration = errors.New("key generation failed")
)

// KeyPair couples an age X25519 identity with its recipient. The identity
// unwraps object keys during verification and recovery; the recipient is the
// shareable half used to wrap them at store time.
type KeyPair struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// Generate creates a fresh keypair from the system entropy source.
func Generate() (*KeyPair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return &KeyPair{identity: identity, recipient: identity.Recipient()}, nil
}

// Identity returns the private half.
func (kp *KeyPair) Identity() *age.X25519Identity { return kp.identity }

// Recipient returns the public half.
func (kp *KeyPair) Recipient() *age.X25519Recipient { return kp.recipient }

// Fingerprint returns the public recipient string. This is the only key
// representation allowed in logs or CLI output.
func (kp *KeyPair) Fingerprint() string { return kp.recipient.String() }

// Save writes the private key (0600) and public key (0644) files, creating
// parent directories as needed. The private file follows the age-keygen
// layout so standard tooling can read it.
func (kp *KeyPair) Save(privatePath, publicPath string) error {
	for _, p := range []string{privatePath, publicPath} {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create key directory: %w", err)
			}
		}
	}

	private := fmt.Sprintf("# created: %s\n# public key: %s\n%s\n",
		time.Now().Format(time.RFC3339), kp.recipient, kp.identity)
	if err := os.WriteFile(privatePath, []byte(private), 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(publicPath, []byte(kp.recipient.String()+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}

// Load reads a previously saved keypair. Both files must exist and agree: a
// public key that does not match the private identity is rejected as
// malformed rather than silently ignored.
func Load(privatePath, publicPath string) (*KeyPair, error) {
	identity, err := loadIdentity(privatePath)
	if err != nil {
		return nil, err
	}
	recipient, err := loadRecipient(publicPath)
	if err != nil {
		return nil, err
	}
	if recipient.String() != identity.Recipient().String() {
		return nil, fmt.Errorf("%w: public key %s does not match the private key", ErrKeyFormat, recipient)
	}
	return &KeyPair{identity: identity, recipient: recipient}, nil
}

// Exists reports whether both key files are present.
func Exists(privatePath, publicPath string) bool {
	for _, p := range []string{privatePath, publicPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func loadIdentity(path string) (*age.X25519Identity, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		identity, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrKeyFormat, path, err)
		}
		return identity, nil
	}
	return nil, fmt.Errorf("%w: %s holds no key line", ErrKeyFormat, path)
}

func loadRecipient(path string) (*age.X25519Recipient, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	recipient, err := age.ParseX25519Recipient(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrKeyFormat, path, err)
	}
	return recipient, nil
}
