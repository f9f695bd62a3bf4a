package log

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// A relay protocol log starts with a fixed header followed by a stream of
// CBOR-encoded Events:
//
//	"RLOG" | version (1B) | reserved (1B)
const (
	fileMagic  = "RLOG"
	headerSize = len(fileMagic) + 2

	// FileVersion is the log format version written by FileLogger.
	FileVersion = 1
)

// Errors returned when opening a log file.
var (
	ErrNotRelayLog        = errors.New("not a relay protocol log")
	ErrUnsupportedVersion = errors.New("unsupported relay log version")
)

// Events carry nanosecond timestamps as RFC 3339 strings so that logs
// from different hosts sort and diff as text.
var eventEncMode = mustMode(cbor.EncOptions{
	Sort:          cbor.SortCanonical,
	IndefLength:   cbor.IndefLengthForbidden,
	NilContainers: cbor.NilContainerAsNull,
	Time:          cbor.TimeRFC3339Nano,
}.EncMode())

// Unknown keys written by newer versions are skipped.
var eventDecMode = mustMode(cbor.DecOptions{
	DupMapKey:         cbor.DupMapKeyQuiet,
	ExtraReturnErrors: cbor.ExtraDecErrorNone,
}.DecMode())

func mustMode[M any](m M, err error) M {
	if err != nil {
		panic(fmt.Sprintf("log: invalid CBOR mode: %v", err))
	}
	return m
}

func fileHeader() []byte {
	return []byte{fileMagic[0], fileMagic[1], fileMagic[2], fileMagic[3], FileVersion, 0}
}

// readHeader consumes and checks the file header. It returns io.EOF for an
// empty file.
func readHeader(r io.Reader) error {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrNotRelayLog
		}
		return err
	}
	if string(hdr[:len(fileMagic)]) != fileMagic {
		return ErrNotRelayLog
	}
	if v := hdr[len(fileMagic)]; v == 0 || v > FileVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	return nil
}
