//go:build gcp

package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCS stores each record as its own object, named by zero-padded sequence.
// Writes are conditional on the object not existing yet.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string

	mu  sync.Mutex
	seq uint64
}

func newGCSFromConfig(ctx context.Context, cfg GCSConfig) (Sink, error) {
	return NewGCS(ctx, cfg)
}

// NewGCS creates a GCS-backed sink (ADC credentials) and recovers the sequence.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	s := &GCS{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
	names, err := s.names(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if n := len(names); n > 0 {
		s.seq = names[n-1].seq
	}
	return s, nil
}

type gcsName struct {
	name string
	seq  uint64
}

func (s *GCS) names(ctx context.Context) ([]gcsName, error) {
	var out []gcsName
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list failed: %w", err)
		}
		if seq, ok := parseEntryName(s.prefix, attrs.Name); ok {
			out = append(out, gcsName{name: attrs.Name, seq: seq})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out, nil
}

func (s *GCS) Write(ctx context.Context, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.seq + 1
	obj := s.client.Bucket(s.bucket).Object(entryName(s.prefix, next)).
		If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := io.Copy(w, bytes.NewReader(record)); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close failed: %w", err)
	}
	s.seq = next
	return nil
}

func (s *GCS) get(ctx context.Context, name string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs get failed for %s: %w", name, err)
	}
	defer func() { _ = reader.Close() }()
	return io.ReadAll(reader)
}

func (s *GCS) Last(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	seq := s.seq
	s.mu.Unlock()
	if seq == 0 {
		return nil, nil
	}
	return s.get(ctx, entryName(s.prefix, seq))
}

func (s *GCS) ReadAll(ctx context.Context) ([][]byte, error) {
	names, err := s.names(ctx)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(names))
	for _, n := range names {
		data, err := s.get(ctx, n.name)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// Close closes the GCS client.
func (s *GCS) Close() error {
	return s.client.Close()
}
