// Package sink implements the storage side of a ledger: an ordered,
// append-only sequence of serialized envelopes. The chain package only hands
// finished records to a Sink; hashing never depends on which backend is used.
package sink

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

var (
	// ErrUnsupportedType is returned by New for an unknown sink type.
	ErrUnsupportedType = errors.New("sink: unsupported type")
	// ErrMissingSetting is returned when a sink type lacks a required setting.
	ErrMissingSetting = errors.New("sink: missing required setting")
	// ErrClosed is returned when writing to a closed sink.
	ErrClosed = errors.New("sink: closed")
	// ErrRecordTooLarge is returned when a record exceeds MaxRecordSize.
	ErrRecordTooLarge = errors.New("sink: record too large")
)

// MaxRecordSize bounds one serialized record. Readers hand longer lines on
// truncated to MaxRecordSize+1 bytes so callers can tell them apart.
const MaxRecordSize = 16 << 20

// Sink persists records in write order. Implementations accept one writer and
// any number of concurrent readers.
type Sink interface {
	// Write appends one record. Records must not contain newlines.
	Write(ctx context.Context, record []byte) error
	// Last returns the most recently written record, or nil when empty.
	Last(ctx context.Context) ([]byte, error)
	// ReadAll returns every record in write order.
	ReadAll(ctx context.Context) ([][]byte, error)
	Close() error
}

// Type names a sink backend.
type Type string

const (
	TypeFile     Type = "file"
	TypeSQLite   Type = "sqlite"
	TypePostgres Type = "postgres"
	TypeLevelDB  Type = "leveldb"
	TypeRedis    Type = "redis"
	TypeS3       Type = "s3"
	TypeGCS      Type = "gcs"
)

// Config selects and configures a backend.
type Config struct {
	Type        Type        `yaml:"type" json:"type"`
	Path        string      `yaml:"path" json:"path"`                 // file, sqlite, leveldb
	DatabaseURL string      `yaml:"database_url" json:"database_url"` // postgres
	Table       string      `yaml:"table" json:"table"`               // sqlite, postgres
	Sync        bool        `yaml:"sync" json:"sync"`                 // fsync after each file write
	S3          S3Config    `yaml:"s3" json:"s3"`
	GCS         GCSConfig   `yaml:"gcs" json:"gcs"`
	Redis       RedisConfig `yaml:"redis" json:"redis"`
}

// Validate checks that the selected type has what it needs.
func (c Config) Validate() error {
	switch c.Type {
	case "", TypeFile, TypeSQLite, TypeLevelDB:
		if c.Path == "" {
			return fmt.Errorf("%w: path is required for %s sink", ErrMissingSetting, c.typeOrDefault())
		}
	case TypePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: database_url is required for postgres sink", ErrMissingSetting)
		}
	case TypeRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("%w: redis.addr is required for redis sink", ErrMissingSetting)
		}
	case TypeS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("%w: s3.bucket is required for s3 sink", ErrMissingSetting)
		}
	case TypeGCS:
		if c.GCS.Bucket == "" {
			return fmt.Errorf("%w: gcs.bucket is required for gcs sink", ErrMissingSetting)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, c.Type)
	}
	return nil
}

func (c Config) typeOrDefault() Type {
	if c.Type == "" {
		return TypeFile
	}
	return c.Type
}

// New opens the sink described by cfg.
func New(ctx context.Context, cfg Config) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.typeOrDefault() {
	case TypeFile:
		return OpenFile(cfg.Path, cfg.Sync)
	case TypeSQLite:
		return OpenSQL(ctx, DialectSQLite, cfg.Path, cfg.Table)
	case TypePostgres:
		return OpenSQL(ctx, DialectPostgres, cfg.DatabaseURL, cfg.Table)
	case TypeLevelDB:
		return OpenLevelDB(filepath.Clean(cfg.Path))
	case TypeRedis:
		return NewRedis(ctx, cfg.Redis)
	case TypeS3:
		return NewS3(ctx, cfg.S3)
	case TypeGCS:
		return newGCSFromConfig(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, cfg.Type)
	}
}

// entryName is the object/key name used by backends that store one record
// per object. Zero padding keeps lexical order equal to write order.
func entryName(prefix string, seq uint64) string {
	return fmt.Sprintf("%s%020d.json", prefix, seq)
}
