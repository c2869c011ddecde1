package pgcopy

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestImporter(t *testing.T, ncols int, opts ...Option) (*Importer, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	imp, err := NewImporter(&out, ncols, opts...)
	require.NoError(t, err)
	return imp, &out
}

func TestNewImporterColumnCount(t *testing.T) {
	_, err := NewImporter(&bytes.Buffer{}, 0)
	require.Error(t, err)
	_, err = NewImporter(&bytes.Buffer{}, maxColumns+1)
	require.Error(t, err)
	_, err = NewImporter(&bytes.Buffer{}, 2, WithColumnTypes(Text))
	require.Error(t, err)
}

func TestStartRowAfterFullRow(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		imp, _ := newTestImporter(t, n)
		require.NoError(t, imp.StartRow())
		for c := 0; c < n; c++ {
			require.NoError(t, imp.WriteColumn(int32(c), Integer))
		}
		require.NoError(t, imp.StartRow())
	}
}

func TestStartRowAfterShortRow(t *testing.T) {
	imp, _ := newTestImporter(t, 3)
	require.NoError(t, imp.StartRow())
	require.NoError(t, imp.WriteColumn("a", Text))
	require.NoError(t, imp.WriteColumn(int32(1), Integer))

	err := imp.StartRow()
	var incomplete *IncompleteRowError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, 0, incomplete.Row)
	assert.Equal(t, 2, incomplete.Written)
	assert.Equal(t, 3, incomplete.Declared)

	// The row can still be completed.
	require.NoError(t, imp.WriteColumn(true, Boolean))
	require.NoError(t, imp.StartRow())
	assert.EqualValues(t, 1, imp.Rows())
}

func TestWriteColumnOutOfTurn(t *testing.T) {
	imp, _ := newTestImporter(t, 1)

	var state *StateError
	require.ErrorAs(t, imp.WriteColumn("x", Text), &state)
	require.ErrorAs(t, imp.WriteNull(), &state)

	require.NoError(t, imp.StartRow())
	require.NoError(t, imp.WriteColumn("x", Text))

	var count *ColumnCountError
	require.ErrorAs(t, imp.WriteColumn("y", Text), &count)
	assert.Equal(t, 2, count.Got)
	assert.Equal(t, 1, count.Declared)
}

func TestMismatchAppendsNothing(t *testing.T) {
	cases := []struct {
		name  string
		value any
		typ   Type
	}{
		{"text as integer", "42", Integer},
		{"integer as text", int32(42), Text},
		{"bool as bigint", true, Bigint},
		{"int64 overflow for integer", int64(math.MaxInt32) + 1, Integer},
		{"uint64 overflow for bigint", uint64(math.MaxUint64), Bigint},
		{"string as timestamp", "2024-01-01", Timestamp},
		{"float as boolean", 1.0, Boolean},
		{"invalid utf8", string([]byte{0xff, 0xfe}), Text},
		{"wrong slice", []int64{1}, IntegerArray},
		{"scalar as array", int32(1), IntegerArray},
		{"unknown type", "x", Unknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			imp, _ := newTestImporter(t, 2)
			require.NoError(t, imp.StartRow())
			require.NoError(t, imp.WriteColumn("first", Text))
			before := append([]byte(nil), imp.buf...)

			err := imp.WriteColumn(tc.value, tc.typ)
			var tm *TypeMismatchError
			require.ErrorAs(t, err, &tm)
			assert.Equal(t, 0, tm.Row)
			assert.Equal(t, 1, tm.Column)
			assert.Equal(t, tc.typ, tm.Declared)
			assert.Equal(t, before, imp.buf)

			// The column can be retried with a valid value.
			require.NoError(t, imp.WriteNull())
			require.NoError(t, imp.Finish())
		})
	}
}

func TestOutOfRangeReason(t *testing.T) {
	imp, _ := newTestImporter(t, 1)
	require.NoError(t, imp.StartRow())
	err := imp.WriteColumn(int64(math.MinInt32)-1, Integer)
	var tm *TypeMismatchError
	require.ErrorAs(t, err, &tm)
	assert.Equal(t, "out of range", tm.Reason)
}

func TestDeclaredColumnTypes(t *testing.T) {
	imp, _ := newTestImporter(t, 2, WithColumnTypes(Text, Integer))
	require.NoError(t, imp.StartRow())

	var tm *TypeMismatchError
	require.ErrorAs(t, imp.WriteColumn(int64(1), Bigint), &tm)
	assert.Equal(t, 0, tm.Column)

	require.NoError(t, imp.WriteColumn("a", Text))
	require.NoError(t, imp.WriteNull())
}

func TestWriteRowIsAtomic(t *testing.T) {
	types := []Type{Text, Integer}
	imp, out := newTestImporter(t, 2)
	require.NoError(t, imp.WriteRow([]any{"a", int32(1)}, types))
	size := len(imp.buf)

	err := imp.WriteRow([]any{"b", "not a number"}, types)
	var tm *TypeMismatchError
	require.ErrorAs(t, err, &tm)
	assert.Equal(t, 1, tm.Row)
	assert.Len(t, imp.buf, size)
	assert.EqualValues(t, 1, imp.Rows())

	require.NoError(t, imp.WriteRow([]any{"c", int32(3)}, types))
	require.NoError(t, imp.Finish())

	exp, err := NewExporter(out, 2)
	require.NoError(t, err)
	var got [][]any
	for {
		row, err := exp.ReadRow(types)
		if err != nil {
			break
		}
		got = append(got, row)
	}
	assert.Equal(t, [][]any{{"a", int32(1)}, {"c", int32(3)}}, got)
}

func TestWriteRowLength(t *testing.T) {
	imp, _ := newTestImporter(t, 2)
	var count *ColumnCountError
	require.ErrorAs(t, imp.WriteRow([]any{"a"}, []Type{Text}), &count)
	require.Error(t, imp.WriteRow([]any{"a", "b"}, []Type{Text}))
}

func TestFinish(t *testing.T) {
	imp, out := newTestImporter(t, 1)
	require.NoError(t, imp.StartRow())

	var incomplete *IncompleteRowError
	require.ErrorAs(t, imp.Finish(), &incomplete)

	require.NoError(t, imp.WriteColumn(int32(7), Integer))
	require.NoError(t, imp.Finish())

	want := appendHeader(nil)
	want = putInt16(want, 1)
	want = putInt32(want, 4)
	want = putInt32(want, 7)
	want = putInt16(want, -1)
	assert.Equal(t, want, out.Bytes())

	var state *StateError
	require.ErrorAs(t, imp.Finish(), &state)
	require.ErrorAs(t, imp.StartRow(), &state)
	require.ErrorAs(t, imp.WriteRow([]any{int32(1), int32(2)}, []Type{Integer, Integer}), &state)
	assert.Equal(t, "WriteRow", state.Op)
}

func TestFlushAtRowBoundary(t *testing.T) {
	imp, out := newTestImporter(t, 1, WithFlushSize(100))
	payload := string(bytes.Repeat([]byte("x"), 40))

	require.NoError(t, imp.WriteRow([]any{payload}, []Type{Text}))
	assert.Zero(t, out.Len(), "nothing is written before the threshold")

	require.NoError(t, imp.WriteRow([]any{payload}, []Type{Text}))
	assert.Zero(t, out.Len(), "the row that crosses the threshold stays buffered")

	require.NoError(t, imp.StartRow())
	assert.Equal(t, headerSize+2*(2+4+40), out.Len())
	assert.Equal(t, 2, imp.Buffered())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriteErrorIsSticky(t *testing.T) {
	imp, err := NewImporter(failingWriter{}, 1)
	require.NoError(t, err)
	require.NoError(t, imp.WriteRow([]any{"x"}, []Type{Text}))
	require.ErrorContains(t, imp.Finish(), "broken pipe")
	require.ErrorContains(t, imp.StartRow(), "broken pipe")
}

func TestNullPointers(t *testing.T) {
	imp, out := newTestImporter(t, 3)
	var s *string
	var n *int32
	v := int64(9)
	require.NoError(t, imp.WriteRow([]any{s, n, &v}, []Type{Text, Integer, Bigint}))
	require.NoError(t, imp.Finish())

	exp, err := NewExporter(out, 3)
	require.NoError(t, err)
	row, err := exp.ReadRow([]Type{Text, Integer, Bigint})
	require.NoError(t, err)
	assert.Equal(t, []any{nil, nil, int64(9)}, row)
}
