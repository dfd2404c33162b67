// Package evidence exports a chain as a self-describing zip pack: the raw
// log, the verifier's report, and a manifest binding both to the chain head
// and a Merkle root.
package evidence

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/helm-ledger/pkg/chain"
	"github.com/Mindburn-Labs/helm-ledger/pkg/digest"
	"github.com/Mindburn-Labs/helm-ledger/pkg/merkle"
	"github.com/Mindburn-Labs/helm-ledger/pkg/sink"
)

// Pack member names.
const (
	FileLedger       = "ledger.jsonl"
	FileVerification = "verification.json"
	FileManifest     = "manifest.json"
	FileReadme       = "README.txt"
)

var (
	// ErrVerifierNotConfigured is returned when export is invoked without a verifier.
	ErrVerifierNotConfigured = errors.New("evidence: verifier not configured (fail-closed)")
	// ErrPackTampered is returned by OpenPack when a member does not match the manifest.
	ErrPackTampered = errors.New("evidence: pack does not match its manifest")
)

// Manifest describes a pack. File digests are sha256 over the member bytes.
type Manifest struct {
	PackID            string            `json:"pack_id"`
	Label             string            `json:"label,omitempty"`
	GeneratedAt       time.Time         `json:"generated_at"`
	Algorithm         digest.Algorithm  `json:"algorithm"`
	EntryCount        int               `json:"entry_count"`
	ChainHead         string            `json:"chain_head"`
	MerkleRoot        string            `json:"merkle_root"`
	MerkleLeaves      int               `json:"merkle_leaves"`
	IntegrityVerified bool              `json:"integrity_verified"`
	BrokenIndices     []int             `json:"broken_indices"`
	Files             map[string]string `json:"files"`
}

// Exporter builds evidence packs.
type Exporter struct {
	verifier *chain.Verifier
	now      func() time.Time
	logger   *slog.Logger
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithClock overrides the generation timestamp source.
func WithClock(now func() time.Time) ExporterOption {
	return func(e *Exporter) { e.now = now }
}

func NewExporter(v *chain.Verifier, opts ...ExporterOption) *Exporter {
	e := &Exporter{
		verifier: v,
		now:      time.Now,
		logger:   slog.Default().With("component", "evidence"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GeneratePackFromSink exports every record held by s.
func (e *Exporter) GeneratePackFromSink(ctx context.Context, s sink.Sink, label string) ([]byte, string, error) {
	records, err := s.ReadAll(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("evidence: read sink: %w", err)
	}
	return e.GeneratePack(ctx, records, label)
}

// GeneratePack verifies records and zips them with the report and manifest.
// It returns the archive and the sha256 checksum of the archive bytes.
func (e *Exporter) GeneratePack(ctx context.Context, records [][]byte, label string) ([]byte, string, error) {
	if e.verifier == nil {
		return nil, "", ErrVerifierNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	report := e.verifier.Verify(records)
	alg, leaves := merkleLeaves(report)
	tree, err := merkle.Build(alg, leaves)
	if err != nil {
		return nil, "", fmt.Errorf("evidence: build merkle tree: %w", err)
	}

	var ledger bytes.Buffer
	for _, r := range records {
		ledger.Write(r)
		ledger.WriteByte('\n')
	}
	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("evidence: failed to marshal report: %w", err)
	}

	generatedAt := e.now().UTC()
	manifest := Manifest{
		PackID:            uuid.New().String(),
		Label:             label,
		GeneratedAt:       generatedAt,
		Algorithm:         alg,
		EntryCount:        len(records),
		ChainHead:         report.ChainHead,
		MerkleRoot:        tree.Root,
		MerkleLeaves:      len(leaves),
		IntegrityVerified: report.IntegrityVerified,
		BrokenIndices:     report.BrokenIndices,
		Files: map[string]string{
			FileLedger:       sha256Hex(ledger.Bytes()),
			FileVerification: sha256Hex(reportJSON),
		},
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("evidence: failed to marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	members := []struct {
		name string
		data []byte
	}{
		{FileLedger, ledger.Bytes()},
		{FileVerification, reportJSON},
		{FileManifest, manifestJSON},
		{FileReadme, []byte(fmt.Sprintf("Evidence pack %s\nGenerated at %s\nEntries: %d\nIntegrity verified: %t\n",
			manifest.PackID, generatedAt.Format(time.RFC3339), len(records), report.IntegrityVerified))},
	}
	for _, m := range members {
		f, err := w.CreateHeader(&zip.FileHeader{Name: m.name, Method: zip.Deflate, Modified: generatedAt})
		if err != nil {
			return nil, "", err
		}
		if _, err := f.Write(m.data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	checksum := sha256Hex(zipBytes)
	e.logger.InfoContext(ctx, "generated evidence pack",
		"pack_id", manifest.PackID, "entries", len(records),
		"integrity_verified", report.IntegrityVerified, "checksum", checksum)
	if report.Empty {
		e.logger.WarnContext(ctx, "evidence pack contains an empty chain", "pack_id", manifest.PackID)
	}
	return zipBytes, checksum, nil
}

// merkleLeaves picks the recomputed digests that share the chain's algorithm.
func merkleLeaves(report *chain.Report) (digest.Algorithm, []string) {
	alg := report.Algorithm
	for _, e := range report.Entries {
		if e.ComputedHash != "" {
			alg = e.Algorithm
			break
		}
	}
	var leaves []string
	for _, e := range report.Entries {
		if e.ComputedHash != "" && e.Algorithm == alg {
			leaves = append(leaves, e.ComputedHash)
		}
	}
	return alg, leaves
}

func sha256Hex(b []byte) string {
	h, _ := digest.New(digest.SHA256)
	return h.Sum(b)
}
