package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"helperetl/pkg/records"
)

// File reads records from a local JSON file: either a single top-level array
// of objects, or an NDJSON stream of one object per line. The file is opened
// lazily on the first Next call.
type File struct {
	path      string
	batchRows int

	f       *os.File
	dec     *json.Decoder
	inArray bool
	started bool
}

// NewFile returns a File source bound to path, yielding at most batchRows
// records per Next call.
func NewFile(path string, batchRows int) (*File, error) {
	if batchRows <= 0 {
		return nil, fmt.Errorf("source: batchRows must be > 0")
	}
	return &File{path: path, batchRows: batchRows}, nil
}

func (s *File) start() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("source: open %s: %w", s.path, err)
	}
	s.f = f
	s.dec = json.NewDecoder(f)

	// Peek the first token: '[' means one big array, anything else is
	// treated as an NDJSON stream.
	tok, err := s.dec.Token()
	if err == io.EOF {
		s.started = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("source: read %s: %w", s.path, err)
	}
	if delim, ok := tok.(json.Delim); ok && delim == '[' {
		s.inArray = true
	} else {
		// Not an array: reopen and decode the stream from the top so the
		// first object is not half-consumed.
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("source: rewind %s: %w", s.path, err)
		}
		s.dec = json.NewDecoder(f)
	}
	s.started = true
	return nil
}

// Next implements Source.
func (s *File) Next(ctx context.Context) ([]records.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.started {
		if err := s.start(); err != nil {
			return nil, err
		}
	}

	batch := make([]records.Record, 0, s.batchRows)
	for len(batch) < s.batchRows {
		if s.inArray && !s.dec.More() {
			break
		}
		var rec records.Record
		if err := s.dec.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("source: decode %s: %w", s.path, err)
		}
		batch = append(batch, rec)
	}
	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

// Close closes the underlying file if it was opened.
func (s *File) Close() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}
