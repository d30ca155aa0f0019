// Package encryptor implements the fragment cipher layer: one random
// data-encryption key per stored object, wrapped with the owner's age key,
// and a ChaCha20-Poly1305 subkey per fragment derived with HKDF so a
// ciphertext is bound to its object and position.
package encryptor

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/fragvault/fragvault/internal/keymanager"
)

// KeySize is the object key length in bytes.
const KeySize = chacha20poly1305.KeySize

const nonceSize = chacha20poly1305.NonceSize

// HKDF expansion labels. Distinct labels keep fragment subkeys and the
// signature key in separate domains even though both come from the same
// object key.
const (
	fragmentKeyInfo  = "fragvault/fragment-key"
	signatureKeyInfo = "fragvault/commitment-signature"
)

// ObjectKey is the symmetric data-encryption key of one stored object. It
// lives in memory only; at rest it exists exclusively in wrapped form.
type ObjectKey struct {
	raw [KeySize]byte
}

// CipherError reports a fragment cipher failure with the operation and the
// fragment position it happened at.
type CipherError struct {
	Op    string // "encrypt" or "decrypt"
	Index int
	Err   error
}

func (e *CipherError) Error() string {
	return fmt.Sprintf("%s of fragment %d failed: %v", e.Op, e.Index, e.Err)
}

func (e *CipherError) Unwrap() error { return e.Err }

// IsDecryptionError reports whether err is a fragment decryption failure,
// which callers must treat as evidence of tampering rather than noise.
func IsDecryptionError(err error) bool {
	var cipherErr *CipherError
	return errors.As(err, &cipherErr) && cipherErr.Op == "decrypt"
}

// Engine binds the cipher operations to a loaded keypair.
type Engine struct {
	keys *keymanager.KeyPair
}

// NewEngine returns an engine using keys for object key wrapping and
// commitment signing.
func NewEngine(keys *keymanager.KeyPair) *Engine {
	return &Engine{keys: keys}
}

// NewObjectKey draws a fresh random data-encryption key.
func (e *Engine) NewObjectKey() (ObjectKey, error) {
	var key ObjectKey
	if _, err := rand.Read(key.raw[:]); err != nil {
		return ObjectKey{}, fmt.Errorf("failed to generate object key: %w", err)
	}
	return key, nil
}

// WrapKey seals the object key to the keypair's public half. Only the holder
// of the private key can unwrap it again.
func (e *Engine) WrapKey(key ObjectKey) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, e.keys.Recipient())
	if err != nil {
		return nil, fmt.Errorf("failed to wrap object key: %w", err)
	}
	if _, err := w.Write(key.raw[:]); err != nil {
		return nil, fmt.Errorf("failed to wrap object key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to wrap object key: %w", err)
	}
	return buf.Bytes(), nil
}

// UnwrapKey recovers an object key using the private identity.
func (e *Engine) UnwrapKey(wrapped []byte) (ObjectKey, error) {
	r, err := age.Decrypt(bytes.NewReader(wrapped), e.keys.Identity())
	if err != nil {
		return ObjectKey{}, fmt.Errorf("failed to unwrap object key: %w", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return ObjectKey{}, fmt.Errorf("failed to unwrap object key: %w", err)
	}
	if len(raw) != KeySize {
		return ObjectKey{}, fmt.Errorf("unwrapped object key is %d bytes, want %d", len(raw), KeySize)
	}
	var key ObjectKey
	copy(key.raw[:], raw)
	return key, nil
}

// fragmentKey derives the per-fragment subkey. Salting with the object ID and
// expanding with the fragment index means a ciphertext cannot be replayed at
// another position or spliced into another object.
func fragmentKey(key ObjectKey, objectID string, index int) ([]byte, error) {
	salt := sha256.Sum256([]byte(objectID))
	info := fmt.Sprintf("%s/%d", fragmentKeyInfo, index)
	sub := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key.raw[:], salt[:], []byte(info)), sub); err != nil {
		return nil, fmt.Errorf("subkey derivation failed: %w", err)
	}
	return sub, nil
}

// EncryptFragment seals one plaintext fragment. The random nonce is prepended
// to the AEAD output, mirroring how DecryptFragment parses it back apart.
func (e *Engine) EncryptFragment(key ObjectKey, objectID string, index int, plaintext []byte) ([]byte, error) {
	sub, err := fragmentKey(key, objectID, index)
	if err != nil {
		return nil, &CipherError{Op: "encrypt", Index: index, Err: err}
	}
	aead, err := chacha20poly1305.New(sub)
	if err != nil {
		return nil, &CipherError{Op: "encrypt", Index: index, Err: err}
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, &CipherError{Op: "encrypt", Index: index, Err: err}
	}
	return append(nonce, aead.Seal(nil, nonce, plaintext, nil)...), nil
}

// DecryptFragment opens one fragment ciphertext. Authentication failure,
// truncation, and a wrong object or index all surface as a *CipherError with
// Op "decrypt".
func (e *Engine) DecryptFragment(key ObjectKey, objectID string, index int, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize+chacha20poly1305.Overhead {
		return nil, &CipherError{Op: "decrypt", Index: index, Err: errors.New("ciphertext too short")}
	}
	sub, err := fragmentKey(key, objectID, index)
	if err != nil {
		return nil, &CipherError{Op: "decrypt", Index: index, Err: err}
	}
	aead, err := chacha20poly1305.New(sub)
	if err != nil {
		return nil, &CipherError{Op: "decrypt", Index: index, Err: err}
	}

	plaintext, err := aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, &CipherError{Op: "decrypt", Index: index, Err: err}
	}
	return plaintext, nil
}

// Digest is the canonical fragment digest: SHA-256 of the plaintext chunk,
// computed before encryption on the way in and recomputed after decryption on
// the way out.
func Digest(plaintext []byte) []byte {
	sum := sha256.Sum256(plaintext)
	return sum[:]
}

// SignCommitment authenticates a commitment root with an HMAC keyed by
// material derived from the object key. Whoever can unwrap the object key can
// check that the manifest's integrity metadata was not rewritten.
func (e *Engine) SignCommitment(key ObjectKey, root []byte) ([]byte, error) {
	sigKey, err := signatureKey(key)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, sigKey)
	mac.Write(root)
	return mac.Sum(nil), nil
}

// VerifyCommitment reports whether sig is a valid signature of root under key.
func (e *Engine) VerifyCommitment(key ObjectKey, root, sig []byte) bool {
	want, err := e.SignCommitment(key, root)
	if err != nil {
		return false
	}
	return hmac.Equal(want, sig)
}

func signatureKey(key ObjectKey) ([]byte, error) {
	sigKey := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key.raw[:], nil, []byte(signatureKeyInfo)), sigKey); err != nil {
		return nil, fmt.Errorf("signature key derivation failed: %w", err)
	}
	return sigKey, nil
}
