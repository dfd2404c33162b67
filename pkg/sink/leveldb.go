package sink

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var levelPrefix = []byte("ledger/entry/")

// LevelDB stores records under big-endian sequence keys so iteration order is
// write order.
type LevelDB struct {
	db *leveldb.DB

	mu  sync.Mutex
	seq uint64
}

// OpenLevelDB opens (creating if needed) the database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("sink: open leveldb %q: %w", path, err)
	}

	s := &LevelDB{db: db}
	iter := db.NewIterator(util.BytesPrefix(levelPrefix), nil)
	if iter.Last() {
		s.seq = binary.BigEndian.Uint64(iter.Key()[len(levelPrefix):])
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sink: scan leveldb %q: %w", path, err)
	}
	return s, nil
}

func levelKey(seq uint64) []byte {
	key := make([]byte, len(levelPrefix)+8)
	copy(key, levelPrefix)
	binary.BigEndian.PutUint64(key[len(levelPrefix):], seq)
	return key
}

func (s *LevelDB) Write(ctx context.Context, record []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.seq + 1
	if err := s.db.Put(levelKey(next), record, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("sink: leveldb put: %w", err)
	}
	s.seq = next
	return nil
}

func (s *LevelDB) Last(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	seq := s.seq
	s.mu.Unlock()
	if seq == 0 {
		return nil, nil
	}
	v, err := s.db.Get(levelKey(seq), nil)
	if err != nil {
		return nil, fmt.Errorf("sink: leveldb get %d: %w", seq, err)
	}
	return v, nil
}

func (s *LevelDB) ReadAll(ctx context.Context) ([][]byte, error) {
	iter := s.db.NewIterator(util.BytesPrefix(levelPrefix), nil)
	defer iter.Release()

	var out [][]byte
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, append([]byte(nil), iter.Value()...))
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *LevelDB) Close() error {
	return s.db.Close()
}
