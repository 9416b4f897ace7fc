// Package oplog implements an append-only log of record saves and deletes.
//
// File format:
//
//   - file = magic:64 record*
//   - record = size:uvarint payload:size checksum:64
//
// The payload is a msgpack-encoded Entry. The checksum is the xxhash64 of the
// size and payload bytes, little-endian. A record that is cut short or fails
// its checksum ends the valid part of the file; Open trims such a tail before
// appending.
package oplog

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrIncompatible = fmt.Errorf("incompatible op log")
	ErrClosed       = fmt.Errorf("op log closed")
	errCorrupted    = fmt.Errorf("corrupted op log record")
)

const (
	magic      = 0x474f4c504f424454 // "TDBOPLOG" as little-endian uint64
	headerSize = 8
	sumSize    = 8

	// MaxPayloadSize bounds a single record, so that a corrupted size
	// prefix cannot make Replay allocate arbitrary amounts of memory.
	MaxPayloadSize = 16 * 1024 * 1024
)

type Op uint8

const (
	OpSave   Op = 1
	OpDelete Op = 2
)

func (op Op) String() string {
	switch op {
	case OpSave:
		return "save"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op%d", uint8(op))
	}
}

// Entry is one logged change: a record of Schema with primary key Key was
// saved or deleted at Time.
type Entry struct {
	Op     Op                `msgpack:"o"`
	Schema string            `msgpack:"s"`
	Key    map[string]string `msgpack:"k"`
	Time   time.Time         `msgpack:"t"`
}

func (e Entry) String() string {
	names := make([]string, 0, len(e.Key))
	for k := range e.Key {
		names = append(names, k)
	}
	sort.Strings(names)
	var buf strings.Builder
	for i, k := range names {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(e.Key[k])
	}
	return fmt.Sprintf("%s %s %s %s", e.Time.UTC().Format(time.RFC3339), e.Op, e.Schema, buf.String())
}

type Options struct {
	Context context.Context
	Logger  *slog.Logger
	Verbose bool
}

// Log is an op log file open for appending. It is safe for concurrent use.
type Log struct {
	context context.Context
	logger  *slog.Logger
	verbose bool
	path    string

	lock sync.Mutex
	f    *os.File
	size int64
	buf  []byte
	err  error
}

// Open opens or creates the log at path, validates the existing records and
// trims a torn or corrupted tail.
func Open(path string, o Options) (*Log, error) {
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}
	var ok bool
	defer closeUnlessOK(f, &ok)

	l := &Log{
		context: o.Context,
		logger:  o.Logger,
		verbose: o.Verbose,
		path:    path,
		f:       f,
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		var hbuf [headerSize]byte
		binary.LittleEndian.PutUint64(hbuf[:], magic)
		if _, err := f.Write(hbuf[:]); err != nil {
			return nil, err
		}
		l.size = headerSize
	} else {
		res, err := scan(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if res.Valid < res.Size {
			l.logger.LogAttrs(l.context, slog.LevelWarn, "oplog: trimming corrupted tail", slog.String("file", path), slog.Int64("valid", res.Valid), slog.Int64("size", res.Size))
			if err := f.Truncate(res.Valid); err != nil {
				return nil, err
			}
		}
		l.size = res.Valid
	}
	if _, err := f.Seek(l.size, io.SeekStart); err != nil {
		return nil, err
	}

	ok = true
	return l, nil
}

func (l *Log) String() string {
	return l.path
}

// Size returns the number of bytes written so far, header included.
func (l *Log) Size() int64 {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.size
}

// Append writes one entry. It is not durable until Sync.
func (l *Log) Append(e Entry) error {
	payload, err := msgpack.Marshal(&e)
	if err != nil {
		return err
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("oplog: entry of %d bytes exceeds %d", len(payload), MaxPayloadSize)
	}

	l.lock.Lock()
	defer l.lock.Unlock()
	if l.err != nil {
		return l.err
	}
	if l.f == nil {
		return ErrClosed
	}

	b := binary.AppendUvarint(l.buf[:0], uint64(len(payload)))
	b = append(b, payload...)
	b = binary.LittleEndian.AppendUint64(b, xxhash.Sum64(b))
	l.buf = b

	if _, err := l.f.Write(b); err != nil {
		return l.fail(err)
	}
	l.size += int64(len(b))
	if l.verbose {
		l.logger.LogAttrs(l.context, slog.LevelDebug, "oplog: append", slog.String("file", l.path), slog.String("entry", e.String()))
	}
	return nil
}

// Sync flushes appended entries to stable storage.
func (l *Log) Sync() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.err != nil {
		return l.err
	}
	if l.f == nil {
		return ErrClosed
	}
	if err := fdatasync(l.f); err != nil {
		return l.fail(err)
	}
	return nil
}

func (l *Log) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

func (l *Log) fail(err error) error {
	l.logger.LogAttrs(l.context, slog.LevelError, "oplog: failed", slog.String("file", l.path), slog.Any("err", err))
	if l.err == nil {
		l.err = err
	}
	return err
}

func closeUnlessOK(f *os.File, ok *bool) {
	if *ok {
		return
	}
	f.Close()
}

// ReplayResult describes how much of a log file was read.
type ReplayResult struct {
	Count int   // entries passed to the callback
	Valid int64 // bytes up to the end of the last intact record
	Size  int64 // total file size
}

// Torn returns true if the file has bytes past its last intact record.
func (r ReplayResult) Torn() bool {
	return r.Valid < r.Size
}

// Replay reads the log at path and calls fn for every intact entry in order.
// Reading stops quietly at the first torn or corrupted record; compare Valid
// and Size to detect that. An error returned by fn stops the replay and is
// returned as is.
func Replay(path string, fn func(e Entry) error) (ReplayResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ReplayResult{}, err
	}
	return scan(data, fn)
}

// Truncate trims the log at path to size bytes, typically ReplayResult.Valid.
func Truncate(path string, size int64) error {
	if size < headerSize {
		return fmt.Errorf("oplog: cannot truncate %s below its header", path)
	}
	return os.Truncate(path, size)
}

func scan(data []byte, fn func(e Entry) error) (ReplayResult, error) {
	res := ReplayResult{Size: int64(len(data))}
	if len(data) < headerSize {
		return res, ErrIncompatible
	}
	if binary.LittleEndian.Uint64(data) != magic {
		return res, ErrIncompatible
	}
	off := headerSize
	res.Valid = int64(off)
	for off < len(data) {
		e, n, err := decodeRecord(data[off:])
		if err == errCorrupted {
			break
		} else if err != nil {
			return res, err
		}
		if fn != nil {
			if err := fn(e); err != nil {
				return res, err
			}
		}
		off += n
		res.Count++
		res.Valid = int64(off)
	}
	return res, nil
}

func decodeRecord(data []byte) (Entry, int, error) {
	var e Entry
	size, n := binary.Uvarint(data)
	if n <= 0 || size > MaxPayloadSize {
		return e, 0, errCorrupted
	}
	end := n + int(size)
	if end+sumSize > len(data) {
		return e, 0, errCorrupted
	}
	if xxhash.Sum64(data[:end]) != binary.LittleEndian.Uint64(data[end:]) {
		return e, 0, errCorrupted
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data[n:end]))
	if err := dec.Decode(&e); err != nil {
		return e, 0, fmt.Errorf("oplog: decoding entry: %w", err)
	}
	return e, end + sumSize, nil
}
