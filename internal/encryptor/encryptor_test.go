package encryptor

import (
	"bytes"
	"testing"

	"github.com/fragvault/fragvault/internal/keymanager"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	keys, err := keymanager.Generate()
	if err != nil {
		t.Fatalf("failed to generate keys: %v", err)
	}
	return NewEngine(keys)
}

func TestFragmentRoundTrip(t *testing.T) {
	engine := testEngine(t)
	key, err := engine.NewObjectKey()
	if err != nil {
		t.Fatalf("NewObjectKey failed: %v", err)
	}

	plaintext := []byte("fragment payload under test")
	ciphertext, err := engine.EncryptFragment(key, "obj-1", 0, plaintext)
	if err != nil {
		t.Fatalf("EncryptFragment failed: %v", err)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Errorf("ciphertext contains the plaintext")
	}

	decrypted, err := engine.DecryptFragment(key, "obj-1", 0, ciphertext)
	if err != nil {
		t.Fatalf("DecryptFragment failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("round trip does not match plaintext")
	}
}

func TestEncryptFragmentNonceFreshness(t *testing.T) {
	engine := testEngine(t)
	key, err := engine.NewObjectKey()
	if err != nil {
		t.Fatalf("NewObjectKey failed: %v", err)
	}

	plaintext := []byte("same bytes twice")
	first, err := engine.EncryptFragment(key, "obj-1", 0, plaintext)
	if err != nil {
		t.Fatalf("EncryptFragment failed: %v", err)
	}
	second, err := engine.EncryptFragment(key, "obj-1", 0, plaintext)
	if err != nil {
		t.Fatalf("EncryptFragment failed: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Errorf("two encryptions of the same fragment are identical")
	}
}

func TestDecryptFragmentTamperDetection(t *testing.T) {
	engine := testEngine(t)
	key, err := engine.NewObjectKey()
	if err != nil {
		t.Fatalf("NewObjectKey failed: %v", err)
	}

	ciphertext, err := engine.EncryptFragment(key, "obj-1", 0, []byte("authentic data"))
	if err != nil {
		t.Fatalf("EncryptFragment failed: %v", err)
	}

	for _, pos := range []int{0, len(ciphertext) / 2, len(ciphertext) - 1} {
		tampered := append([]byte{}, ciphertext...)
		tampered[pos] ^= 0x01
		_, err := engine.DecryptFragment(key, "obj-1", 0, tampered)
		if err == nil {
			t.Fatalf("tampered byte %d decrypted without error", pos)
		}
		if !IsDecryptionError(err) {
			t.Errorf("tampered byte %d: got %v, want a decryption CipherError", pos, err)
		}
	}
}

func TestDecryptFragmentWrongPosition(t *testing.T) {
	engine := testEngine(t)
	key, err := engine.NewObjectKey()
	if err != nil {
		t.Fatalf("NewObjectKey failed: %v", err)
	}

	ciphertext, err := engine.EncryptFragment(key, "obj-1", 3, []byte("positioned payload"))
	if err != nil {
		t.Fatalf("EncryptFragment failed: %v", err)
	}

	if _, err := engine.DecryptFragment(key, "obj-1", 4, ciphertext); !IsDecryptionError(err) {
		t.Errorf("wrong index: got %v, want a decryption CipherError", err)
	}
	if _, err := engine.DecryptFragment(key, "obj-2", 3, ciphertext); !IsDecryptionError(err) {
		t.Errorf("wrong object: got %v, want a decryption CipherError", err)
	}
}

func TestDecryptFragmentTruncated(t *testing.T) {
	engine := testEngine(t)
	key, err := engine.NewObjectKey()
	if err != nil {
		t.Fatalf("NewObjectKey failed: %v", err)
	}

	if _, err := engine.DecryptFragment(key, "obj-1", 0, []byte{1, 2, 3}); !IsDecryptionError(err) {
		t.Errorf("truncated ciphertext: got %v, want a decryption CipherError", err)
	}
}

func TestWrapUnwrapKey(t *testing.T) {
	engine := testEngine(t)
	key, err := engine.NewObjectKey()
	if err != nil {
		t.Fatalf("NewObjectKey failed: %v", err)
	}

	wrapped, err := engine.WrapKey(key)
	if err != nil {
		t.Fatalf("WrapKey failed: %v", err)
	}
	if bytes.Contains(wrapped, key.raw[:]) {
		t.Errorf("wrapped key contains the raw key")
	}

	unwrapped, err := engine.UnwrapKey(wrapped)
	if err != nil {
		t.Fatalf("UnwrapKey failed: %v", err)
	}
	if unwrapped.raw != key.raw {
		t.Errorf("unwrapped key does not match the original")
	}
}

func TestUnwrapKeyForeignKeypair(t *testing.T) {
	engine := testEngine(t)
	key, err := engine.NewObjectKey()
	if err != nil {
		t.Fatalf("NewObjectKey failed: %v", err)
	}
	wrapped, err := engine.WrapKey(key)
	if err != nil {
		t.Fatalf("WrapKey failed: %v", err)
	}

	stranger := testEngine(t)
	if _, err := stranger.UnwrapKey(wrapped); err == nil {
		t.Errorf("a foreign keypair unwrapped the object key")
	}
}

func TestDigest(t *testing.T) {
	a := Digest([]byte("fragment"))
	b := Digest([]byte("fragment"))
	c := Digest([]byte("fragmenu"))

	if len(a) != 32 {
		t.Fatalf("digest is %d bytes, want 32", len(a))
	}
	if !bytes.Equal(a, b) {
		t.Errorf("digest is not deterministic")
	}
	if bytes.Equal(a, c) {
		t.Errorf("different inputs share a digest")
	}
}

func TestCommitmentSignature(t *testing.T) {
	engine := testEngine(t)
	key, err := engine.NewObjectKey()
	if err != nil {
		t.Fatalf("NewObjectKey failed: %v", err)
	}

	root := Digest([]byte("commitment root stand-in"))
	sig, err := engine.SignCommitment(key, root)
	if err != nil {
		t.Fatalf("SignCommitment failed: %v", err)
	}

	if !engine.VerifyCommitment(key, root, sig) {
		t.Errorf("valid signature rejected")
	}

	badRoot := append([]byte{}, root...)
	badRoot[0] ^= 0x01
	if engine.VerifyCommitment(key, badRoot, sig) {
		t.Errorf("signature accepted for a different root")
	}

	badSig := append([]byte{}, sig...)
	badSig[0] ^= 0x01
	if engine.VerifyCommitment(key, root, badSig) {
		t.Errorf("tampered signature accepted")
	}

	otherKey, err := engine.NewObjectKey()
	if err != nil {
		t.Fatalf("NewObjectKey failed: %v", err)
	}
	if engine.VerifyCommitment(otherKey, root, sig) {
		t.Errorf("signature accepted under a different object key")
	}
}
