package log

import (
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends protocol events to a relay log file. It is safe for
// concurrent use.
type FileLogger struct {
	mu      sync.Mutex
	file    *os.File
	enc     *cbor.Encoder
	closed  bool
	written uint64
	dropped uint64
}

// NewFileLogger opens path for appending, creating it with mode 0644 if
// needed. A new or empty file gets the relay log header; an existing file
// must already carry one.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	if err := prepareFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &FileLogger{file: f, enc: eventEncMode.NewEncoder(f)}, nil
}

func prepareFile(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		_, err := f.Write(fileHeader())
		return err
	}
	// O_APPEND only affects writes; reads start at offset 0.
	return readHeader(f)
}

// Log appends event. Encoding or write failures are counted, not returned.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	if err := l.enc.Encode(event); err != nil {
		l.dropped++
		return
	}
	l.written++
}

// Counts returns the number of events written and dropped so far.
func (l *FileLogger) Counts() (written, dropped uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written, l.dropped
}

// Close closes the file. Later Log calls are ignored. Safe to call more
// than once.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

var _ Logger = (*FileLogger)(nil)
