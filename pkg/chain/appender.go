package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/Mindburn-Labs/helm-ledger/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm-ledger/pkg/digest"
	"github.com/Mindburn-Labs/helm-ledger/pkg/schema"
	"github.com/Mindburn-Labs/helm-ledger/pkg/sink"
)

var (
	// ErrTailCorrupt is returned by Open when the sink's last record cannot be
	// trusted as a chain tail.
	ErrTailCorrupt = errors.New("chain: tail record is corrupt")
	// ErrAlgorithmMismatch is returned by Open when the existing chain was
	// written with a different algorithm.
	ErrAlgorithmMismatch = errors.New("chain: tail uses a different hash algorithm")
)

// AppenderConfig wires an Appender to its collaborators.
type AppenderConfig struct {
	Algorithm digest.Algorithm
	Sink      sink.Sink
	Validator schema.Validator // nil accepts every payload
	SchemaID  string
	Logger    *slog.Logger
}

// Appender is the single writer of a chain. It owns the tail hash: the
// previous_entry_hash of entry i+1 is always the digest it computed for entry i.
type Appender struct {
	hasher    digest.Hasher
	sink      sink.Sink
	validator schema.Validator
	schemaID  string
	logger    *slog.Logger

	mu     sync.Mutex
	opened bool
	head   string
	length uint64
}

// NewAppender validates cfg. Call Open before Append.
func NewAppender(cfg AppenderConfig) (*Appender, error) {
	h, err := digest.New(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	if cfg.Sink == nil {
		return nil, errors.New("chain: appender requires a sink")
	}
	validator := cfg.Validator
	if validator == nil {
		validator = schema.AcceptAll{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Appender{
		hasher:    h,
		sink:      cfg.Sink,
		validator: validator,
		schemaID:  cfg.SchemaID,
		logger:    logger.With("component", "chain.appender", "algorithm", h.Algorithm()),
		head:      Genesis,
	}, nil
}

// Open recovers the tail from the sink. The tail hash is recomputed from the
// stored payload; a stored digest that disagrees makes Open fail.
func (a *Appender) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	last, err := a.sink.Last(ctx)
	if err != nil {
		return fmt.Errorf("chain: read tail: %w", err)
	}
	if last == nil {
		a.head = Genesis
		a.opened = true
		a.logger.InfoContext(ctx, "opened empty chain")
		return nil
	}

	rec, err := decodeRecord(last, a.hasher.Algorithm())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTailCorrupt, err)
	}
	if rec.hasHash && rec.algorithm != a.hasher.Algorithm() {
		return fmt.Errorf("%w: chain uses %s, appender configured for %s",
			ErrAlgorithmMismatch, rec.algorithm, a.hasher.Algorithm())
	}
	canonical, err := rec.payload.Canonical()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTailCorrupt, err)
	}
	computed := a.hasher.Sum(canonical)
	if rec.hasHash && rec.storedHash != computed {
		a.logger.ErrorContext(ctx, "tail digest does not match its payload",
			"stored", rec.storedHash, "computed", computed)
		return fmt.Errorf("%w: stored digest %s, recomputed %s", ErrTailCorrupt, rec.storedHash, computed)
	}

	a.head = computed
	a.opened = true
	a.logger.InfoContext(ctx, "recovered chain tail", "head", computed)
	return nil
}

// Head returns the digest the next entry will link to.
func (a *Appender) Head() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.head
}

// Appended returns how many entries this Appender has written.
func (a *Appender) Appended() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.length
}

// Append validates, hashes, links and writes payload. Nothing is written and
// the head does not move when any step fails.
func (a *Appender) Append(ctx context.Context, payload canonicalize.Payload) (*Envelope, error) {
	ctx, span := tracer.Start(ctx, "chain.append")
	defer span.End()

	env, err := a.append(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("ledger.entry_hash", env.EntryHash))
	appendedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("algorithm", string(env.Algorithm))))
	return env, nil
}

func (a *Appender) append(ctx context.Context, payload canonicalize.Payload) (*Envelope, error) {
	if r := a.validator.Validate(payload, a.schemaID); !r.Valid {
		a.logger.WarnContext(ctx, "payload rejected", "schema_id", a.schemaID, "reason", r.Reason())
		return nil, fmt.Errorf("%w: %s", ErrSchemaRejected, r.Reason())
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.opened {
		return nil, ErrNotOpen
	}

	env, err := NewEnvelope(a.hasher, a.head, payload)
	if err != nil {
		return nil, err
	}
	rec, err := env.Record()
	if err != nil {
		return nil, err
	}
	if len(rec) > sink.MaxRecordSize {
		return nil, fmt.Errorf("%w: entry is %d bytes, limit %d", sink.ErrRecordTooLarge, len(rec), sink.MaxRecordSize)
	}
	if err := a.sink.Write(ctx, rec); err != nil {
		return nil, fmt.Errorf("chain: write entry: %w", err)
	}

	a.head = env.EntryHash
	a.length++
	a.logger.DebugContext(ctx, "appended entry", "entry_hash", env.EntryHash, "previous_entry_hash", env.PreviousEntryHash)
	return env, nil
}
