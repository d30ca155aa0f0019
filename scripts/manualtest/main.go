package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fragvault/fragvault/internal/compressor"
	"github.com/fragvault/fragvault/internal/coordinator"
	"github.com/fragvault/fragvault/internal/keymanager"
	"github.com/fragvault/fragvault/internal/manifest"
	"github.com/fragvault/fragvault/internal/nodestore"
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func samplePayload() []byte {
	line := []byte("fragvault manual test payload, stored, tampered with, and recovered.\n")
	var buf bytes.Buffer
	for buf.Len() < 300_000 {
		fmt.Fprintf(&buf, "%06d %s", buf.Len(), line)
	}
	return buf.Bytes()
}

func main() {
	workspace := "manualtest_workspace"
	_ = os.RemoveAll(workspace)
	if err := os.MkdirAll(workspace, 0755); err != nil {
		fmt.Printf("❌ Workspace setup failed: %v\n", err)
		return
	}

	// Key round trip through disk, the way the CLI would.
	pair, err := keymanager.Generate()
	if err != nil {
		fmt.Printf("❌ Key generation failed: %v\n", err)
		return
	}
	privPath := filepath.Join(workspace, "keys", "fragvault.key")
	pubPath := filepath.Join(workspace, "keys", "fragvault.pub")
	if err := pair.Save(privPath, pubPath); err != nil {
		fmt.Printf("❌ Key save failed: %v\n", err)
		return
	}
	keys, err := keymanager.Load(privPath, pubPath)
	if err != nil {
		fmt.Printf("❌ Key load failed: %v\n", err)
		return
	}
	fmt.Printf("🔑 Keypair ready: %s\n", keys.Fingerprint())

	manifests, err := manifest.Open(filepath.Join(workspace, "manifests"))
	if err != nil {
		fmt.Printf("❌ Manifest store init failed: %v\n", err)
		return
	}
	defer manifests.Close()

	nodes := []string{
		filepath.Join(workspace, "node1"),
		filepath.Join(workspace, "node2"),
		filepath.Join(workspace, "node3"),
	}
	co, err := coordinator.New(coordinator.Config{
		FragmentSize: 4096,
		NodePaths:    nodes,
		Compression:  compressor.AlgLZ4,
		Retry:        coordinator.RetryPolicy{Attempts: 2, BaseDelay: 50 * time.Millisecond, MaxDelay: 200 * time.Millisecond},
	}, keys, manifests, nodestore.NewLocal())
	if err != nil {
		fmt.Printf("❌ Coordinator init failed: %v\n", err)
		return
	}

	sample := samplePayload()
	origHash := sha256Hex(sample)
	fmt.Printf("📄 Sample payload: %d bytes\n", len(sample))
	fmt.Printf("🔑 Original SHA256: %s\n", origHash)

	m, err := co.Store(sample, "manual-test-object")
	if err != nil {
		fmt.Printf("❌ Store failed: %v\n", err)
		return
	}
	fmt.Printf("🧩 Fragments created: %d | ObjectID: %s\n", m.FragmentCount, m.ObjectID)

	report, err := co.Verify(m.ObjectID)
	if err != nil {
		fmt.Printf("❌ Verify failed: %v\n", err)
		return
	}
	if !report.OK() {
		fmt.Printf("❌ Fresh object failed verification: %s\n", report.Summary())
		return
	}
	fmt.Printf("✅ Fresh object verified: %s\n", report.Summary())

	// Flip one byte in fragment 1 and make sure exactly that index is caught.
	const tamperIndex = 1
	fragPath := filepath.Join(m.Nodes[tamperIndex], nodestore.FragmentFileName(m.ObjectID, tamperIndex))
	original, err := os.ReadFile(fragPath)
	if err != nil {
		fmt.Printf("❌ Could not read fragment record: %v\n", err)
		return
	}
	tampered := bytes.Clone(original)
	tampered[len(tampered)-1] ^= 0xFF
	if err := os.WriteFile(fragPath, tampered, 0644); err != nil {
		fmt.Printf("❌ Could not tamper with fragment record: %v\n", err)
		return
	}

	report, err = co.Verify(m.ObjectID)
	if err != nil {
		fmt.Printf("❌ Verify after tamper failed: %v\n", err)
		return
	}
	if report.OK() {
		fmt.Println("❌ Tampered fragment went undetected")
		return
	}
	if len(report.Failed) != 1 || report.Failed[0] != tamperIndex || len(report.Missing) != 0 {
		fmt.Printf("❌ Wrong verdict for tampered fragment: %s\n", report.Summary())
		return
	}
	fmt.Printf("✅ Tamper detected at fragment %d: %s\n", tamperIndex, report.Summary())

	if _, err := co.Recover(m.ObjectID); err == nil {
		fmt.Println("❌ Recovery returned plaintext from a tampered object")
		return
	} else {
		var recErr *coordinator.RecoveryError
		if !errors.As(err, &recErr) {
			fmt.Printf("❌ Recovery failed with the wrong error: %v\n", err)
			return
		}
		fmt.Printf("✅ Recovery refused while tampered: %v\n", err)
	}

	if err := os.WriteFile(fragPath, original, 0644); err != nil {
		fmt.Printf("❌ Could not restore fragment record: %v\n", err)
		return
	}

	recovered, err := co.Recover(m.ObjectID)
	if err != nil {
		fmt.Printf("❌ Recover after restore failed: %v\n", err)
		return
	}
	reHash := sha256Hex(recovered)
	fmt.Printf("📦 Recovered payload: %d bytes\n", len(recovered))
	fmt.Printf("🔑 Recovered SHA256: %s\n", reHash)

	if reHash == origHash {
		fmt.Println("✅ SUCCESS: Recovered payload matches original")
	} else {
		fmt.Println("❌ MISMATCH: Recovered payload differs from original")
	}
}
