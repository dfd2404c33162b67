package evidence

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/helm-ledger/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm-ledger/pkg/merkle"
)

// maxMemberSize bounds decompression of a single pack member.
const maxMemberSize = 256 << 20

// Pack is an opened evidence pack.
type Pack struct {
	Manifest     Manifest
	Ledger       []byte
	Verification []byte
}

// OpenPack reads a pack and checks every member against the manifest, then
// recomputes the Merkle root from the recorded verification.
func OpenPack(data []byte) (*Pack, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("evidence: open pack: %w", err)
	}
	members := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("evidence: open %s: %w", f.Name, err)
		}
		b, err := io.ReadAll(io.LimitReader(rc, maxMemberSize+1))
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("evidence: read %s: %w", f.Name, err)
		}
		if len(b) > maxMemberSize {
			return nil, fmt.Errorf("evidence: %s exceeds %d bytes", f.Name, maxMemberSize)
		}
		members[f.Name] = b
	}

	raw, ok := members[FileManifest]
	if !ok {
		return nil, fmt.Errorf("%w: no %s", ErrPackTampered, FileManifest)
	}
	var p Pack
	if err := canonicalize.Decode(raw, &p.Manifest); err != nil {
		return nil, fmt.Errorf("evidence: decode manifest: %w", err)
	}
	for name, want := range p.Manifest.Files {
		got, ok := members[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrPackTampered, name)
		}
		if sha256Hex(got) != want {
			return nil, fmt.Errorf("%w: %s digest differs", ErrPackTampered, name)
		}
	}
	p.Ledger = members[FileLedger]
	p.Verification = members[FileVerification]

	var report struct {
		Entries []struct {
			ComputedHash string `json:"computed_hash"`
			Algorithm    string `json:"algorithm"`
		} `json:"entries"`
	}
	if err := canonicalize.Decode(p.Verification, &report); err != nil {
		return nil, fmt.Errorf("evidence: decode verification: %w", err)
	}
	var leaves []string
	for _, e := range report.Entries {
		if e.ComputedHash != "" && e.Algorithm == string(p.Manifest.Algorithm) {
			leaves = append(leaves, e.ComputedHash)
		}
	}
	if len(leaves) != p.Manifest.MerkleLeaves {
		return nil, fmt.Errorf("%w: merkle leaf count differs", ErrPackTampered)
	}
	tree, err := merkle.Build(p.Manifest.Algorithm, leaves)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPackTampered, err)
	}
	if tree.Root != p.Manifest.MerkleRoot {
		return nil, fmt.Errorf("%w: merkle root differs", ErrPackTampered)
	}
	return &p, nil
}
