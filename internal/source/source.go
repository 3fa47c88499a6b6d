// Package source streams raw input records from a JSON array or JSON Lines
// file, assigning each a stable identity and input position.
package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/record"
	"curator/internal/services"
)

// Input formats.
const (
	FormatAuto  = "auto"
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
)

// Options maps input field names onto canonical record fields.
type Options struct {
	Format           string
	IDField          string
	DescriptionField string
	ContentField     string
	LikesField       string
	Logger           *slog.Logger
}

// OptionsFromConfig maps the source section of cfg onto Options.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		Format:           cfg.Source.Format,
		IDField:          cfg.Source.IDField,
		DescriptionField: cfg.Source.DescriptionField,
		ContentField:     cfg.Source.ContentField,
		LikesField:       cfg.Source.LikesField,
		Logger:           logger,
	}
}

// Stats summarizes what the reader has consumed so far.
type Stats struct {
	Read         int
	DuplicateIDs int
	SyntheticIDs int
	Malformed    int
}

// Reader yields records in input order. It is not safe for concurrent use.
type Reader struct {
	opts   Options
	logger *slog.Logger
	closer io.Closer
	br     *bufio.Reader
	dec    *json.Decoder
	format string
	index  int
	seen   map[string]struct{}
	stats  Stats
}

// Open opens the input file at path.
func Open(path string, opts Options) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "source", "open", path, err)
	}
	r, err := NewReader(file, opts)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// NewReader wraps an already open input stream.
func NewReader(in io.Reader, opts Options) (*Reader, error) {
	opts = withDefaults(opts)
	br := bufio.NewReaderSize(in, 64*1024)
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" || format == FormatAuto {
		detected, err := detectFormat(br)
		if err != nil {
			return nil, err
		}
		format = detected
	}
	r := &Reader{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "source"),
		br:     br,
		format: format,
		seen:   make(map[string]struct{}),
	}
	switch format {
	case FormatJSON:
		r.dec = json.NewDecoder(br)
		r.dec.UseNumber()
		tok, err := r.dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.dec = nil
				return r, nil
			}
			return nil, services.Wrap(services.ErrValidation, "source", "read", "invalid JSON input", err)
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			return nil, services.Wrap(services.ErrValidation, "source", "read", "JSON input must be an array of objects", nil)
		}
	case FormatJSONL:
	default:
		return nil, services.Wrap(services.ErrConfiguration, "source", "open", fmt.Sprintf("unsupported format %q", format), nil)
	}
	return r, nil
}

func withDefaults(opts Options) Options {
	if opts.IDField == "" {
		opts.IDField = record.FieldID
	}
	if opts.DescriptionField == "" {
		opts.DescriptionField = record.FieldDescription
	}
	if opts.ContentField == "" {
		opts.ContentField = record.FieldContent
	}
	if opts.LikesField == "" {
		opts.LikesField = record.MetaLikesCount
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return opts
}

func detectFormat(br *bufio.Reader) (string, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return FormatJSONL, nil
			}
			return "", fmt.Errorf("detect input format: %w", err)
		}
		switch b {
		case ' ', '\t', '\r', '\n', 0xEF, 0xBB, 0xBF:
			continue
		case '[':
			return FormatJSON, br.UnreadByte()
		default:
			return FormatJSONL, br.UnreadByte()
		}
	}
}

// Format returns the resolved input format.
func (r *Reader) Format() string { return r.format }

// Stats returns counters for the records consumed so far.
func (r *Reader) Stats() Stats { return r.stats }

// Next returns the next record, or io.EOF when the input is exhausted.
// Entries with an id already seen earlier in the input are skipped.
func (r *Reader) Next() (*record.Record, error) {
	for {
		obj, err := r.nextObject()
		if err != nil {
			return nil, err
		}
		index := r.index
		r.index++
		if obj == nil {
			continue
		}
		rec := r.build(index, obj)
		if _, dup := r.seen[rec.ID]; dup {
			r.stats.DuplicateIDs++
			logging.WarnWithContext(r.logger, "duplicate input id skipped", "source_duplicate_id",
				logging.String(logging.FieldRecordID, rec.ID),
				logging.Int("source_index", index),
				logging.String(logging.FieldImpact, "later occurrence is not processed"),
				logging.String(logging.FieldErrorHint, "deduplicate ids in the input file"),
			)
			continue
		}
		r.seen[rec.ID] = struct{}{}
		r.stats.Read++
		return rec, nil
	}
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

// nextObject returns the next decoded object. A nil map with a nil error
// marks an entry that occupied an input position but could not be used.
func (r *Reader) nextObject() (map[string]any, error) {
	if r.format == FormatJSON {
		return r.nextArrayElement()
	}
	return r.nextLine()
}

func (r *Reader) nextArrayElement() (map[string]any, error) {
	if r.dec == nil || !r.dec.More() {
		return nil, io.EOF
	}
	var value any
	if err := r.dec.Decode(&value); err != nil {
		return nil, services.Wrap(services.ErrValidation, "source", "read", fmt.Sprintf("decode element %d", r.index), err)
	}
	obj, ok := value.(map[string]any)
	if !ok {
		r.malformed(fmt.Errorf("element is %T, not an object", value))
		return nil, nil
	}
	return obj, nil
}

func (r *Reader) nextLine() (map[string]any, error) {
	for {
		line, err := r.br.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read input: %w", err)
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read input: %w", err)
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var obj map[string]any
		if decodeErr := dec.Decode(&obj); decodeErr != nil || obj == nil {
			if decodeErr == nil {
				decodeErr = errors.New("line is not an object")
			}
			r.malformed(decodeErr)
			return nil, nil
		}
		return obj, nil
	}
}

func (r *Reader) malformed(err error) {
	r.stats.Malformed++
	logging.WarnWithContext(r.logger, "malformed input entry skipped", "source_malformed",
		logging.Int("source_index", r.index),
		logging.Error(err),
		logging.String(logging.FieldImpact, "entry is not processed"),
		logging.String(logging.FieldErrorHint, "fix or remove the entry in the input file"),
	)
}

func (r *Reader) build(index int, obj map[string]any) *record.Record {
	raw := make(map[string]string, len(obj))
	for key, value := range obj {
		text, ok := scalarText(value)
		if !ok {
			continue
		}
		raw[canonicalKey(r.opts, key)] = text
	}

	id := strings.TrimSpace(raw[record.FieldID])
	synthetic := id == ""
	if synthetic {
		id = "row-" + strconv.Itoa(index)
		raw[record.FieldID] = id
		r.stats.SyntheticIDs++
	}
	rec := record.New(id, index, raw)
	if synthetic {
		rec.SetMeta(record.MetaSyntheticID, true)
	}
	if likes, ok := parseLikes(raw[record.MetaLikesCount]); ok {
		rec.SetMeta(record.MetaLikesCount, likes)
	}
	return rec
}

func canonicalKey(opts Options, key string) string {
	switch key {
	case opts.IDField:
		return record.FieldID
	case opts.DescriptionField:
		return record.FieldDescription
	case opts.ContentField:
		return record.FieldContent
	case opts.LikesField:
		return record.MetaLikesCount
	default:
		return key
	}
}

func scalarText(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(encoded), true
	}
}

// parseLikes accepts plain integers, decimals, and counts such as "1.2K".
func parseLikes(text string) (int, bool) {
	text = strings.TrimSpace(strings.ReplaceAll(text, ",", ""))
	if text == "" {
		return 0, false
	}
	multiplier := 1.0
	switch suffix := strings.ToUpper(text[len(text)-1:]); suffix {
	case "K":
		multiplier = 1_000
		text = text[:len(text)-1]
	case "M":
		multiplier = 1_000_000
		text = text[:len(text)-1]
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil || value < 0 {
		return 0, false
	}
	return int(value * multiplier), true
}
