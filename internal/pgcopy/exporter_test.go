package pgcopy

import (
	"bytes"
	"io"
	"math"
	"testing"
	"time"

	"github.com/lib/pq/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeRows builds a complete stream from rows with the Importer.
func encodeRows(t *testing.T, types []Type, rows ...[]any) *bytes.Buffer {
	t.Helper()
	var out bytes.Buffer
	imp, err := NewImporter(&out, len(types))
	require.NoError(t, err)
	for _, row := range rows {
		require.NoError(t, imp.WriteRow(row, types))
	}
	require.NoError(t, imp.Finish())
	return &out
}

func TestRoundTripEveryType(t *testing.T) {
	ts := time.Date(2021, time.March, 14, 15, 9, 26, 535897000, time.UTC)
	before := time.Date(1969, time.July, 20, 20, 17, 40, 0, time.UTC)

	types := []Type{
		Text, Integer, Bigint, Double, Boolean, Timestamp, TimestampTZ, Bytea,
		TextArray, IntegerArray, BigintArray, DoubleArray, BooleanArray,
		TimestampArray, TimestampTZArray, ByteaArray,
	}
	rows := [][]any{
		{
			"héllo wörld", int32(-42), int64(math.MaxInt64), 3.25, true, ts, before, []byte{0, 1, 2, 255},
			[]string{"a", "", "c"}, []int32{1, math.MinInt32, math.MaxInt32}, []int64{-1, 0, 1},
			[]float64{math.Inf(1), -0.5}, []bool{true, false}, []time.Time{ts, before},
			[]time.Time{ts}, [][]byte{{1}, {}},
		},
		{nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil},
		{
			"", int32(0), int64(0), 0.0, false, epoch, epoch, []byte{},
			[]string{}, []int32{}, []int64{}, []float64{}, []bool{}, []time.Time{}, []time.Time{}, [][]byte{},
		},
	}

	exp, err := NewExporter(encodeRows(t, types, rows...), len(types))
	require.NoError(t, err)
	for i, want := range rows {
		got, err := exp.ReadRow(types)
		require.NoError(t, err, "row %d", i)
		assert.Equal(t, want, got, "row %d", i)
	}
	_, err = exp.ReadRow(types)
	assert.ErrorIs(t, err, io.EOF)
	assert.EqualValues(t, 3, exp.Rows())
}

func TestTimestampKeepsWallClock(t *testing.T) {
	zone := time.FixedZone("UTC+3", 3*3600)
	local := time.Date(2024, time.May, 1, 12, 30, 0, 0, zone)

	exp, err := NewExporter(encodeRows(t, []Type{Timestamp, TimestampTZ}, []any{local, local}), 2)
	require.NoError(t, err)
	row, err := exp.ReadRow([]Type{Timestamp, TimestampTZ})
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, time.May, 1, 12, 30, 0, 0, time.UTC), row[0])
	assert.True(t, local.Equal(row[1].(time.Time)))
	assert.Equal(t, time.UTC, row[1].(time.Time).Location())
}

func TestIntegerRange(t *testing.T) {
	values := []int32{0, -1, 1, math.MinInt32, math.MaxInt32, math.MinInt32 + 1, math.MaxInt32 - 1, 12345678}
	var rows [][]any
	for _, v := range values {
		rows = append(rows, []any{v})
	}
	for v := int64(math.MinInt32); v <= math.MaxInt32; v += 1 << 20 {
		rows = append(rows, []any{int32(v)})
	}

	exp, err := NewExporter(encodeRows(t, []Type{Integer}, rows...), 1)
	require.NoError(t, err)
	for _, want := range rows {
		_, err := exp.StartRow()
		require.NoError(t, err)
		got, err := exp.ReadColumn(Integer)
		require.NoError(t, err)
		require.Equal(t, want[0], got)
	}
}

func TestWiderIntegersNarrowToInteger(t *testing.T) {
	exp, err := NewExporter(encodeRows(t, []Type{Integer, Integer, Integer}, []any{int(7), int16(-3), uint8(200)}), 3)
	require.NoError(t, err)
	row, err := exp.ReadRow([]Type{Integer, Integer, Integer})
	require.NoError(t, err)
	assert.Equal(t, []any{int32(7), int32(-3), int32(200)}, row)
}

func TestNullIsSignalled(t *testing.T) {
	all := []Type{
		Text, Integer, Bigint, Double, Boolean, Timestamp, TimestampTZ, Bytea,
		TextArray, IntegerArray, BooleanArray, TimestampArray,
	}
	row := make([]any, len(all))
	exp, err := NewExporter(encodeRows(t, all, row), len(all))
	require.NoError(t, err)
	_, err = exp.StartRow()
	require.NoError(t, err)

	for c, typ := range all {
		null, err := exp.IsNull()
		require.NoError(t, err)
		assert.True(t, null)

		v, err := exp.ReadColumn(typ)
		assert.Nil(t, v)
		var nv *NullValueError
		require.ErrorAs(t, err, &nv)
		assert.Equal(t, 0, nv.Row)
		assert.Equal(t, c, nv.Column)
		assert.Equal(t, typ, nv.Declared)
		assert.Equal(t, -1, nv.Element)
	}
	_, err = exp.StartRow()
	assert.ErrorIs(t, err, io.EOF)
}

func TestNullArrayElement(t *testing.T) {
	// {1,NULL} as int4[].
	p := putInt32(nil, 1)
	p = putInt32(p, 1)
	p = putInt32(p, int32(Integer.OID()))
	p = putInt32(p, 2)
	p = putInt32(p, 1)
	p = putInt32(p, 4)
	p = putInt32(p, 1)
	p = putInt32(p, -1)

	stream := appendHeader(nil)
	stream = putInt16(stream, 2)
	stream = putInt32(stream, int32(len(p)))
	stream = append(stream, p...)
	stream = putInt32(stream, 1)
	stream = append(stream, 'x')
	stream = putInt16(stream, -1)

	exp, err := NewExporter(bytes.NewReader(stream), 2)
	require.NoError(t, err)
	_, err = exp.StartRow()
	require.NoError(t, err)

	_, err = exp.ReadColumn(IntegerArray)
	var nv *NullValueError
	require.ErrorAs(t, err, &nv)
	assert.Equal(t, 1, nv.Element)

	v, err := exp.ReadColumn(Text)
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestExhaustionIsSticky(t *testing.T) {
	exp, err := NewExporter(encodeRows(t, []Type{Text}, []any{"only"}), 1)
	require.NoError(t, err)
	n, err := exp.StartRow()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = exp.ReadColumn(Text)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		n, err := exp.StartRow()
		assert.Equal(t, -1, n)
		assert.ErrorIs(t, err, io.EOF)

		row, err := exp.ReadRow([]Type{Text})
		assert.Nil(t, row)
		assert.ErrorIs(t, err, io.EOF)

		_, err = exp.ReadColumn(Text)
		var state *StateError
		assert.ErrorAs(t, err, &state)
	}
}

func TestMismatchIsTerminal(t *testing.T) {
	exp, err := NewExporter(encodeRows(t, []Type{Text, Integer}, []any{"a", int32(1)}, []any{"b", int32(2)}), 2)
	require.NoError(t, err)
	_, err = exp.StartRow()
	require.NoError(t, err)
	_, err = exp.ReadColumn(Text)
	require.NoError(t, err)

	// int4 payload is 4 bytes; bigint wants 8.
	_, err = exp.ReadColumn(Bigint)
	var tm *TypeMismatchError
	require.ErrorAs(t, err, &tm)
	assert.Equal(t, 0, tm.Row)
	assert.Equal(t, 1, tm.Column)
	assert.Equal(t, Bigint, tm.Declared)

	_, err = exp.StartRow()
	assert.Same(t, tm, unwrapMismatch(t, err))
	_, err = exp.ReadColumn(Integer)
	assert.Same(t, tm, unwrapMismatch(t, err))
}

func unwrapMismatch(t *testing.T, err error) *TypeMismatchError {
	t.Helper()
	var tm *TypeMismatchError
	require.ErrorAs(t, err, &tm)
	return tm
}

func TestSourceTypeCheckedBeforeConsuming(t *testing.T) {
	stream := encodeRows(t, []Type{Text}, []any{"a"})
	exp, err := NewExporter(stream, 1, WithColumnTypes(Text))
	require.NoError(t, err)
	_, err = exp.StartRow()
	require.NoError(t, err)
	remaining := exp.r.Buffered()

	_, err = exp.ReadColumn(Integer)
	var tm *TypeMismatchError
	require.ErrorAs(t, err, &tm)
	assert.Equal(t, remaining, exp.r.Buffered(), "no bytes consumed")
}

func TestArrayElementTypeChecked(t *testing.T) {
	exp, err := NewExporter(encodeRows(t, []Type{BigintArray}, []any{[]int64{1, 2}}), 1)
	require.NoError(t, err)
	_, err = exp.StartRow()
	require.NoError(t, err)
	_, err = exp.ReadColumn(IntegerArray)
	var tm *TypeMismatchError
	require.ErrorAs(t, err, &tm)
}

func TestIsNullAndSkip(t *testing.T) {
	types := []Type{Text, Bytea, Integer}
	exp, err := NewExporter(encodeRows(t, types, []any{"skip me", nil, int32(5)}), 3)
	require.NoError(t, err)
	_, err = exp.StartRow()
	require.NoError(t, err)

	null, err := exp.IsNull()
	require.NoError(t, err)
	assert.False(t, null)
	require.NoError(t, exp.Skip())

	null, err = exp.IsNull()
	require.NoError(t, err)
	assert.True(t, null)
	require.NoError(t, exp.Skip())

	v, err := exp.ReadColumn(Integer)
	require.NoError(t, err)
	assert.Equal(t, int32(5), v)

	var count *ColumnCountError
	require.ErrorAs(t, exp.Skip(), &count)
}

func TestStartRowWithUnreadColumns(t *testing.T) {
	exp, err := NewExporter(encodeRows(t, []Type{Text, Text}, []any{"a", "b"}), 2)
	require.NoError(t, err)
	_, err = exp.StartRow()
	require.NoError(t, err)
	_, err = exp.ReadColumn(Text)
	require.NoError(t, err)

	_, err = exp.StartRow()
	var incomplete *IncompleteRowError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, 1, incomplete.Written)
	assert.Equal(t, 2, incomplete.Declared)
}

func TestColumnCountFromFirstRow(t *testing.T) {
	exp, err := NewExporter(encodeRows(t, []Type{Text, Integer}, []any{"a", int32(1)}), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, exp.Columns())
	n, err := exp.StartRow()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, exp.Columns())
}

func TestColumnCountMismatch(t *testing.T) {
	exp, err := NewExporter(encodeRows(t, []Type{Text, Integer}, []any{"a", int32(1)}), 3)
	require.NoError(t, err)
	_, err = exp.StartRow()
	var count *ColumnCountError
	require.ErrorAs(t, err, &count)
	assert.Equal(t, 2, count.Got)
	assert.Equal(t, 3, count.Declared)
}

func TestMalformedStreams(t *testing.T) {
	valid := encodeRows(t, []Type{Integer}, []any{int32(1)}).Bytes()

	withFlags := append([]byte(nil), valid...)
	withFlags[len(signature)+1] = 1 // bit 16

	withExtension := appendHeader(nil)
	withExtension[len(withExtension)-1] = 3
	withExtension = append(withExtension, 'e', 'x', 't')
	withExtension = append(withExtension, valid[headerSize:]...)

	cases := []struct {
		name   string
		stream []byte
		ok     bool
	}{
		{"empty", nil, false},
		{"bad signature", append([]byte("PGCOPY\n\377\r\n\001"), valid[len(signature):]...), false},
		{"oids flag", withFlags, false},
		{"header extension is skipped", withExtension, true},
		{"missing trailer", valid[:len(valid)-2], false},
		{"truncated payload", valid[:len(valid)-4], false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exp, err := NewExporter(bytes.NewReader(tc.stream), 1)
			require.NoError(t, err)
			for err == nil {
				_, err = exp.ReadRow([]Type{Integer})
			}
			if tc.ok {
				require.ErrorIs(t, err, io.EOF)
				return
			}
			var fe *FormatError
			require.ErrorAs(t, err, &fe)
		})
	}
}

// rawColumn builds a one-row, one-column stream around payload.
func rawColumn(payload []byte) []byte {
	b := appendHeader(nil)
	b = putInt16(b, 1)
	b = putInt32(b, int32(len(payload)))
	b = append(b, payload...)
	return putInt16(b, -1)
}

func TestArrayLengthBeyondPayload(t *testing.T) {
	var payload []byte
	payload = putInt32(payload, 1)                  // ndim
	payload = putInt32(payload, 0)                  // has nulls
	payload = putInt32(payload, int32(oid.T_int4)) // element type
	payload = putInt32(payload, math.MaxInt32)      // length
	payload = putInt32(payload, 1)                  // lower bound

	exp, err := NewExporter(bytes.NewReader(rawColumn(payload)), 1)
	require.NoError(t, err)
	_, err = exp.StartRow()
	require.NoError(t, err)
	_, err = exp.ReadColumn(IntegerArray)

	var tm *TypeMismatchError
	require.ErrorAs(t, err, &tm)
	assert.Equal(t, "array length exceeds payload", tm.Reason)
}

func TestTimestampInfinity(t *testing.T) {
	for _, us := range []int64{math.MaxInt64, math.MinInt64} {
		exp, err := NewExporter(bytes.NewReader(rawColumn(putInt64(nil, us))), 1)
		require.NoError(t, err)
		_, err = exp.StartRow()
		require.NoError(t, err)
		v, err := exp.ReadColumn(Timestamp)
		assert.Nil(t, v)

		var tm *TypeMismatchError
		require.ErrorAs(t, err, &tm)
		assert.Equal(t, "infinity", tm.Reason)
	}
}

func TestTimestampBounds(t *testing.T) {
	lowest := time.Date(-4713, time.November, 24, 0, 0, 0, 0, time.UTC)
	highest := time.Date(294276, time.December, 31, 23, 59, 59, 999999000, time.UTC)

	exp, err := NewExporter(encodeRows(t, []Type{Timestamp, TimestampTZ}, []any{lowest, highest}), 2)
	require.NoError(t, err)
	row, err := exp.ReadRow([]Type{Timestamp, TimestampTZ})
	require.NoError(t, err)
	assert.Equal(t, []any{lowest, highest}, row)

	for _, v := range []time.Time{
		lowest.Add(-time.Microsecond),
		time.Date(294277, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(300000, time.January, 1, 0, 0, 0, 0, time.UTC),
	} {
		for _, typ := range []Type{Timestamp, TimestampTZ} {
			var out bytes.Buffer
			imp, err := NewImporter(&out, 1)
			require.NoError(t, err)
			require.NoError(t, imp.StartRow())
			before := imp.Buffered()

			err = imp.WriteColumn(v, typ)
			var tm *TypeMismatchError
			require.ErrorAs(t, err, &tm, "%v", v)
			assert.Equal(t, "out of range", tm.Reason)
			assert.Equal(t, before, imp.Buffered())
		}
	}
}

func TestTypeForOIDAndParseType(t *testing.T) {
	for _, typ := range []Type{Text, Integer, Bigint, Double, Boolean, Timestamp, TimestampTZ, Bytea} {
		got, ok := TypeForOID(typ.OID())
		require.True(t, ok)
		assert.Equal(t, typ, got)

		got, ok = TypeForOID(ArrayOf(typ).OID())
		require.True(t, ok)
		assert.Equal(t, ArrayOf(typ), got)
	}

	parsed := map[string]Type{
		"int4":                     Integer,
		"varchar(20)":              Text,
		"timestamp with time zone": TimestampTZ,
		"BIGINT[]":                 BigintArray,
		"double precision":         Double,
	}
	for name, want := range parsed {
		got, err := ParseType(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseType("numeric")
	require.Error(t, err)
	assert.Equal(t, "integer[]", IntegerArray.String())
}
