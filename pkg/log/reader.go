package log

import (
	"bufio"
	"errors"
	"io"
	"iter"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// Reader streams events from a relay log file.
type Reader struct {
	file   *os.File
	dec    *cbor.Decoder
	filter Filter
	empty  bool
}

// NewReader opens path and checks its header. An empty file yields no
// events.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader is NewReader restricted to events matching filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)

	r := &Reader{file: f, filter: filter}
	switch err := readHeader(br); {
	case errors.Is(err, io.EOF):
		r.empty = true
	case err != nil:
		f.Close()
		return nil, err
	}
	r.dec = eventDecMode.NewDecoder(br)
	return r, nil
}

// Next returns the next matching event, or io.EOF at the end of the file.
// A truncated trailing event is reported as an error.
func (r *Reader) Next() (Event, error) {
	if r.empty {
		return Event{}, io.EOF
	}
	for {
		var ev Event
		if err := r.dec.Decode(&ev); err != nil {
			return Event{}, err
		}
		if r.filter.Match(ev) {
			return ev, nil
		}
	}
}

// All iterates over the remaining matching events. Iteration stops after
// the first error, which is yielded with a zero Event.
func (r *Reader) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
