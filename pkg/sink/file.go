package sink

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const tailChunk = 4096

// File is a JSON Lines sink: one record per line, appended with O_APPEND.
type File struct {
	path string
	sync bool

	mu sync.Mutex
	f  *os.File
}

// OpenFile opens (creating if needed) the JSON Lines file at path.
func OpenFile(path string, syncWrites bool) (*File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("sink: ensure dir for %q: %w", path, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("sink: open %q: %w", path, err)
	}
	return &File{path: path, sync: syncWrites, f: f}, nil
}

// Path returns the file location.
func (s *File) Path() string { return s.path }

func (s *File) Write(ctx context.Context, record []byte) error {
	if bytes.ContainsAny(record, "\r\n") {
		return errors.New("sink: record contains a newline")
	}
	if len(record) > MaxRecordSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrRecordTooLarge, len(record), MaxRecordSize)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}

	// One write call per line so a concurrent reader sees at most one torn line.
	line := make([]byte, 0, len(record)+1)
	line = append(line, record...)
	line = append(line, '\n')
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("sink: append to %q: %w", s.path, err)
	}
	if s.sync {
		if err := s.f.Sync(); err != nil {
			return fmt.Errorf("sink: sync %q: %w", s.path, err)
		}
	}
	return nil
}

// Last reads backwards from the end of the file to the final non-empty line.
func (s *File) Last(ctx context.Context) ([]byte, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var tail []byte
	for end := info.Size(); end > 0; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := end - tailChunk
		if start < 0 {
			start = 0
		}
		chunk := make([]byte, end-start)
		if _, err := f.ReadAt(chunk, start); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		tail = append(chunk, tail...)
		end = start

		trimmed := bytes.TrimRight(tail, "\r\n \t")
		if len(trimmed) == 0 {
			continue
		}
		if i := bytes.LastIndexByte(trimmed, '\n'); i >= 0 {
			return trimmed[i+1:], nil
		}
		if end == 0 {
			return trimmed, nil
		}
	}
	return nil, nil
}

func (s *File) ReadAll(ctx context.Context) ([][]byte, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ReadLines(ctx, f)
}

// ReadLines splits r into non-empty lines.
func ReadLines(ctx context.Context, r io.Reader) ([][]byte, error) {
	var out [][]byte
	err := ScanLines(ctx, r, func(_ int, line []byte) error {
		out = append(out, line)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ScanLines calls fn for every non-blank line with its 1-based physical line
// number. The slice passed to fn is owned by fn. A line longer than
// MaxRecordSize is passed untrimmed and cut to MaxRecordSize+1 bytes; the rest
// of it is discarded and scanning continues with the next line.
func ScanLines(ctx context.Context, r io.Reader, fn func(number int, line []byte) error) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for number := 1; ; number++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, eof, err := readLine(br)
		if err != nil {
			return err
		}
		if len(line) <= MaxRecordSize {
			line = bytes.TrimSpace(line)
		}
		if len(line) > 0 {
			if err := fn(number, line); err != nil {
				return err
			}
		}
		if eof {
			return nil
		}
	}
}

// readLine returns the next line without its newline, keeping at most
// MaxRecordSize+1 bytes. eof reports that r is exhausted.
func readLine(br *bufio.Reader) ([]byte, bool, error) {
	var line []byte
	for {
		frag, err := br.ReadSlice('\n')
		if room := MaxRecordSize + 1 - len(line); room > 0 {
			if room > len(frag) {
				room = len(frag)
			}
			line = append(line, frag[:room]...)
		}
		switch {
		case err == nil:
			return bytes.TrimSuffix(line, []byte{'\n'}), false, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			return line, true, nil
		default:
			return nil, false, err
		}
	}
}

func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
