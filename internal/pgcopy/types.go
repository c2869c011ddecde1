package pgcopy

import (
	"fmt"
	"strings"

	"github.com/lib/pq/oid"
)

// Type is the declared type of a column value. It is supplied by the caller
// on every write and read and must match the column's type family.
type Type uint8

const (
	Unknown Type = iota
	Text
	Integer
	Bigint
	Double
	Boolean
	Timestamp
	TimestampTZ
	Bytea

	arrayBit Type = 0x40
)

// One-dimensional arrays of the scalar types.
const (
	TextArray        = Text | arrayBit
	IntegerArray     = Integer | arrayBit
	BigintArray      = Bigint | arrayBit
	DoubleArray      = Double | arrayBit
	BooleanArray     = Boolean | arrayBit
	TimestampArray   = Timestamp | arrayBit
	TimestampTZArray = TimestampTZ | arrayBit
	ByteaArray       = Bytea | arrayBit
)

var typeNames = map[Type]string{
	Text:        "text",
	Integer:     "integer",
	Bigint:      "bigint",
	Double:      "double precision",
	Boolean:     "boolean",
	Timestamp:   "timestamp",
	TimestampTZ: "timestamptz",
	Bytea:       "bytea",
}

var scalarOIDs = map[Type]oid.Oid{
	Text:        oid.T_text,
	Integer:     oid.T_int4,
	Bigint:      oid.T_int8,
	Double:      oid.T_float8,
	Boolean:     oid.T_bool,
	Timestamp:   oid.T_timestamp,
	TimestampTZ: oid.T_timestamptz,
	Bytea:       oid.T_bytea,
}

var arrayOIDs = map[Type]oid.Oid{
	Text:        oid.T__text,
	Integer:     oid.T__int4,
	Bigint:      oid.T__int8,
	Double:      oid.T__float8,
	Boolean:     oid.T__bool,
	Timestamp:   oid.T__timestamp,
	TimestampTZ: oid.T__timestamptz,
	Bytea:       oid.T__bytea,
}

// textFamily lists OIDs whose binary send format is the raw string bytes.
var textFamily = map[oid.Oid]bool{
	oid.T_text:    true,
	oid.T_varchar: true,
	oid.T_bpchar:  true,
	oid.T_name:    true,
	oid.T_json:    true,
	oid.T_xml:     true,
	oid.T_unknown: true,
}

var textArrayFamily = map[oid.Oid]bool{
	oid.T__text:    true,
	oid.T__varchar: true,
	oid.T__bpchar:  true,
	oid.T__name:    true,
	oid.T__json:    true,
	oid.T__xml:     true,
}

// ArrayOf returns the one-dimensional array type of a scalar type.
func ArrayOf(t Type) Type {
	return t.Elem() | arrayBit
}

// IsArray reports whether t is an array type.
func (t Type) IsArray() bool {
	return t&arrayBit != 0
}

// Elem returns the element type of an array type, or t itself.
func (t Type) Elem() Type {
	return t &^ arrayBit
}

func (t Type) valid() bool {
	_, ok := scalarOIDs[t.Elem()]
	return ok
}

// OID returns the canonical server type OID of t.
func (t Type) OID() oid.Oid {
	if t.IsArray() {
		return arrayOIDs[t.Elem()]
	}
	return scalarOIDs[t]
}

func (t Type) String() string {
	name, ok := typeNames[t.Elem()]
	if !ok {
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
	if t.IsArray() {
		return name + "[]"
	}
	return name
}

// accepts reports whether a column of server type o can be read or written
// under the declared type t.
func (t Type) accepts(o oid.Oid) bool {
	switch {
	case t == Text:
		return textFamily[o]
	case t == TextArray:
		return textArrayFamily[o]
	case t.IsArray():
		return arrayOIDs[t.Elem()] == o
	default:
		return scalarOIDs[t] == o
	}
}

// acceptsElem is accepts for the element OID recorded inside an array payload.
func (t Type) acceptsElem(o oid.Oid) bool {
	if t == Text {
		return textFamily[o]
	}
	return scalarOIDs[t] == o
}

// TypeForOID maps a server type OID to the declared type that reads it.
// The second result is false for unsupported types.
func TypeForOID(o oid.Oid) (Type, bool) {
	if textFamily[o] {
		return Text, true
	}
	if textArrayFamily[o] {
		return TextArray, true
	}
	for t, v := range scalarOIDs {
		if v == o {
			return t, true
		}
	}
	for t, v := range arrayOIDs {
		if v == o {
			return ArrayOf(t), true
		}
	}
	return Unknown, false
}

// ParseType parses a type name as written in DDL ("int4", "text[]",
// "timestamp with time zone", ...).
func ParseType(name string) (Type, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	array := false
	if strings.HasSuffix(n, "[]") {
		array = true
		n = strings.TrimSpace(strings.TrimSuffix(n, "[]"))
	}
	if i := strings.IndexByte(n, '('); i >= 0 {
		n = strings.TrimSpace(n[:i])
	}

	var t Type
	switch n {
	case "text", "varchar", "character varying", "char", "character", "bpchar", "name", "json", "xml":
		t = Text
	case "int", "int4", "integer", "serial", "serial4":
		t = Integer
	case "int8", "bigint", "bigserial", "serial8":
		t = Bigint
	case "float8", "double", "double precision":
		t = Double
	case "bool", "boolean":
		t = Boolean
	case "timestamp", "timestamp without time zone":
		t = Timestamp
	case "timestamptz", "timestamp with time zone":
		t = TimestampTZ
	case "bytea":
		t = Bytea
	default:
		return Unknown, fmt.Errorf("pgcopy: unsupported type %q", name)
	}
	if array {
		t = ArrayOf(t)
	}
	return t, nil
}
