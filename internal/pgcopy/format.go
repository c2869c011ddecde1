// Package pgcopy implements PostgreSQL's binary COPY format: an Importer that
// encodes typed rows into a COPY ... FROM STDIN (FORMAT BINARY) stream, an
// Exporter that decodes a COPY ... TO STDOUT (FORMAT BINARY) stream, and the
// sessions that run either one over a live connection.
//
// Layout (https://www.postgresql.org/docs/current/sql-copy.html#id-1.9.3.55.9.4):
//
//	header:  "PGCOPY\n\377\r\n\000" | int32 flags | int32 ext length | ext bytes
//	row:     int16 column count | { int32 length (-1 = NULL) | payload }*
//	trailer: int16 -1
package pgcopy

import (
	"encoding/binary"
	"time"
)

// signature is the fixed 11-byte prefix of every binary copy stream.
var signature = [11]byte{'P', 'G', 'C', 'O', 'P', 'Y', '\n', 0377, '\r', '\n', 0}

const (
	headerSize = len(signature) + 4 + 4

	// flagHasOIDs is bit 16 of the header flags word. Streams that carry row
	// OIDs are not supported.
	flagHasOIDs = 1 << 16

	trailer   int16 = -1
	nullValue int32 = -1

	// maxColumns mirrors the server's MaxTupleAttributeNumber.
	maxColumns = 1664

	// maxFieldSize bounds a single column payload (the server's 1GB varlena limit).
	maxFieldSize = 1 << 30

	defaultFlushSize = 64 * 1024
)

// epoch is the zero point of binary timestamps: 2000-01-01 00:00:00 UTC.
var epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

var epochSeconds = epoch.Unix()

func putInt16(b []byte, v int16) []byte {
	return binary.BigEndian.AppendUint16(b, uint16(v))
}

func putInt32(b []byte, v int32) []byte {
	return binary.BigEndian.AppendUint32(b, uint32(v))
}

func putInt64(b []byte, v int64) []byte {
	return binary.BigEndian.AppendUint64(b, uint64(v))
}

// appendHeader writes the stream header with no flags and no extension area.
func appendHeader(b []byte) []byte {
	b = append(b, signature[:]...)
	b = putInt32(b, 0)
	return putInt32(b, 0)
}

// Server timestamp range: 4714-11-24 BC up to, not including, 294277 AD.
var (
	minTimestamp = time.Date(-4713, time.November, 24, 0, 0, 0, 0, time.UTC)
	maxTimestamp = time.Date(294277, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// toMicros converts t to microseconds since epoch. For timestamp without time
// zone the wall clock is kept and the location discarded. ok is false when t
// is outside the server's timestamp range.
func toMicros(t time.Time, withZone bool) (us int64, ok bool) {
	if !withZone {
		t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	}
	if t.Before(minTimestamp) || !t.Before(maxTimestamp) {
		return 0, false
	}
	// Counted from the 2000 epoch in seconds first: microseconds since 1970
	// overflow int64 near the top of the range.
	return (t.Unix()-epochSeconds)*1e6 + int64(t.Nanosecond()/1e3), true
}

func fromMicros(us int64) time.Time {
	return time.Unix(epochSeconds+us/1e6, (us%1e6)*1e3).UTC()
}
