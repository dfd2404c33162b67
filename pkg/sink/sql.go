package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver
)

const defaultTable = "ledger_entries"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Dialect captures the differences between the supported SQL backends.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driver() string {
	return string(d)
}

func (d Dialect) schema(table string) string {
	if d == DialectPostgres {
		return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	seq BIGSERIAL PRIMARY KEY,
	record TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);`, table)
	}
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	record TEXT NOT NULL,
	recorded_at TIMESTAMP NOT NULL
);`, table)
}

func (d Dialect) insert(table string) string {
	if d == DialectPostgres {
		return fmt.Sprintf(`INSERT INTO %s (record, recorded_at) VALUES ($1, $2)`, table)
	}
	return fmt.Sprintf(`INSERT INTO %s (record, recorded_at) VALUES (?, ?)`, table)
}

// SQL stores one row per record; write order is the auto-incremented seq.
// It supports both Postgres and SQLite via standard drivers.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	table   string
	ownsDB  bool
	clock   func() time.Time
}

// OpenSQL opens dsn with the dialect's driver and prepares the table.
func OpenSQL(ctx context.Context, dialect Dialect, dsn, table string) (*SQL, error) {
	db, err := sql.Open(dialect.driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// database/sql pools connections; SQLite serialises writers anyway.
		db.SetMaxOpenConns(1)
	}
	s, err := NewSQL(ctx, db, dialect, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewSQL wraps an existing handle. The caller keeps ownership of db.
func NewSQL(ctx context.Context, db *sql.DB, dialect Dialect, table string) (*SQL, error) {
	if table == "" {
		table = defaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("sink: invalid table name %q", table)
	}
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, fmt.Errorf("%w: sql dialect %q", ErrUnsupportedType, dialect)
	}

	s := &SQL{db: db, dialect: dialect, table: table, clock: time.Now}
	if _, err := db.ExecContext(ctx, dialect.schema(table)); err != nil {
		return nil, fmt.Errorf("sink: migrate %s: %w", table, err)
	}
	return s, nil
}

func (s *SQL) Write(ctx context.Context, record []byte) error {
	_, err := s.db.ExecContext(ctx, s.dialect.insert(s.table), string(record), s.clock().UTC())
	if err != nil {
		return fmt.Errorf("sink: insert into %s: %w", s.table, err)
	}
	return nil
}

func (s *SQL) Last(ctx context.Context) ([]byte, error) {
	query := fmt.Sprintf(`SELECT record FROM %s ORDER BY seq DESC LIMIT 1`, s.table)
	var record string
	if err := s.db.QueryRowContext(ctx, query).Scan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return []byte(record), nil
}

func (s *SQL) ReadAll(ctx context.Context) ([][]byte, error) {
	query := fmt.Sprintf(`SELECT record FROM %s ORDER BY seq ASC`, s.table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out [][]byte
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		out = append(out, []byte(record))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQL) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
