// Package sink writes finished records to append-only artifacts and reads
// them back after a crash.
//
// Two formats are supported. jsonl writes one JSON object per line. msgpack
// writes frames of a 4-byte big-endian length followed by a msgpack body.
// Every write is a single append followed by fsync, so a crash can at most
// leave one partial trailing record, which Recover truncates.
package sink

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"curator/internal/config"
	"curator/internal/record"
	"curator/internal/services"
)

// Supported formats.
const (
	FormatJSONL   = config.SinkFormatJSONL
	FormatMsgpack = config.SinkFormatMsgpack
)

const frameHeaderSize = 4

// Sink is an append-only record writer. It is safe for concurrent use.
type Sink struct {
	path    string
	format  string
	mu      sync.Mutex
	file    *os.File
	written int
}

// Open opens path for appending, creating it when missing.
func Open(path, format string) (*Sink, error) {
	if err := checkFormat(format); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, services.Wrap(services.ErrConfiguration, "sink", "open", "path required", nil)
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, services.Wrap(services.ErrFatalInfra, "sink", "open", "create output directory", err)
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, services.Wrap(services.ErrFatalInfra, "sink", "open", trimmed, err)
	}
	return &Sink{path: trimmed, format: format, file: file}, nil
}

func checkFormat(format string) error {
	switch format {
	case FormatJSONL, FormatMsgpack:
		return nil
	default:
		return services.Wrap(services.ErrConfiguration, "sink", "format", fmt.Sprintf("unsupported format %q", format), nil)
	}
}

// Encode renders one entry in format, including its line or frame delimiter.
func Encode(format string, entry record.Entry) ([]byte, error) {
	switch format {
	case FormatJSONL:
		data, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("encode entry %s: %w", entry.ID, err)
		}
		return append(data, '\n'), nil
	case FormatMsgpack:
		body, err := msgpack.Marshal(&entry)
		if err != nil {
			return nil, fmt.Errorf("encode entry %s: %w", entry.ID, err)
		}
		frame := make([]byte, frameHeaderSize+len(body))
		binary.BigEndian.PutUint32(frame, uint32(len(body)))
		copy(frame[frameHeaderSize:], body)
		return frame, nil
	default:
		return nil, checkFormat(format)
	}
}

// Write appends entry and syncs it to disk. Failures are fatal to the run.
func (s *Sink) Write(entry record.Entry) error {
	data, err := Encode(s.format, entry)
	if err != nil {
		return services.Wrap(services.ErrFatalInfra, "sink", "write", s.path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return services.Wrap(services.ErrFatalInfra, "sink", "write", s.path+" is closed", nil)
	}
	if _, err := s.file.Write(data); err != nil {
		return services.Wrap(services.ErrFatalInfra, "sink", "write", s.path, err)
	}
	if err := s.file.Sync(); err != nil {
		return services.Wrap(services.ErrFatalInfra, "sink", "sync", s.path, err)
	}
	s.written++
	return nil
}

// Written returns the number of entries appended since Open.
func (s *Sink) Written() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Path returns the artifact location.
func (s *Sink) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close releases the file handle.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Decode parses every complete entry in data. It returns the entries and the
// length of the valid prefix; bytes past that offset are a partial record.
func Decode(format string, data []byte) ([]record.Entry, int, error) {
	switch format {
	case FormatJSONL:
		return decodeJSONL(data)
	case FormatMsgpack:
		return decodeFrames(data)
	default:
		return nil, 0, checkFormat(format)
	}
}

func decodeJSONL(data []byte) ([]record.Entry, int, error) {
	var entries []record.Entry
	offset := 0
	for offset < len(data) {
		end := bytes.IndexByte(data[offset:], '\n')
		if end < 0 {
			break
		}
		line := bytes.TrimSpace(data[offset : offset+end])
		if len(line) > 0 {
			var entry record.Entry
			if err := json.Unmarshal(line, &entry); err != nil {
				return entries, offset, fmt.Errorf("decode line at byte %d: %w", offset, err)
			}
			entries = append(entries, entry)
		}
		offset += end + 1
	}
	return entries, offset, nil
}

func decodeFrames(data []byte) ([]record.Entry, int, error) {
	var entries []record.Entry
	offset := 0
	for len(data)-offset >= frameHeaderSize {
		size := int(binary.BigEndian.Uint32(data[offset:]))
		if len(data)-offset-frameHeaderSize < size {
			break
		}
		body := data[offset+frameHeaderSize : offset+frameHeaderSize+size]
		var entry record.Entry
		if err := msgpack.Unmarshal(body, &entry); err != nil {
			return entries, offset, fmt.Errorf("decode frame at byte %d: %w", offset, err)
		}
		entries = append(entries, entry)
		offset += frameHeaderSize + size
	}
	return entries, offset, nil
}

// Recover reads the entries already in path and truncates a partial trailing
// record left by a crash. A missing file yields no entries. Corruption before
// the tail is a fatal error.
func Recover(path, format string) ([]record.Entry, int64, error) {
	if err := checkFormat(format); err != nil {
		return nil, 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, services.Wrap(services.ErrFatalInfra, "sink", "recover", path, err)
	}
	entries, valid, err := Decode(format, data)
	if err != nil {
		return nil, 0, services.Wrap(services.ErrFatalInfra, "sink", "recover", path, err)
	}
	truncated := int64(len(data) - valid)
	if truncated > 0 {
		if err := os.Truncate(path, int64(valid)); err != nil {
			return nil, 0, services.Wrap(services.ErrFatalInfra, "sink", "recover", "truncate partial record", err)
		}
	}
	return entries, truncated, nil
}

// ReadAll returns every complete entry in path without modifying it.
func ReadAll(path, format string) ([]record.Entry, error) {
	if err := checkFormat(format); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	entries, _, err := Decode(format, data)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return entries, nil
}
