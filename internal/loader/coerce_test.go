package loader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgbulk/internal/pgcopy"
)

func TestCoerce(t *testing.T) {
	local := time.Date(2023, time.December, 31, 23, 59, 58, 500000000, time.UTC)
	cases := []struct {
		in   any
		typ  pgcopy.Type
		want any
	}{
		{nil, pgcopy.Integer, nil},
		{"42", pgcopy.Integer, int32(42)},
		{[]byte(" -7 "), pgcopy.Integer, int32(-7)},
		{int64(5), pgcopy.Integer, int64(5)},
		{"9000000000", pgcopy.Bigint, int64(9000000000)},
		{"2.25", pgcopy.Double, 2.25},
		{float32(0.5), pgcopy.Double, 0.5},
		{"yes", pgcopy.Boolean, true},
		{"f", pgcopy.Boolean, false},
		{int64(3), pgcopy.Text, "3"},
		{true, pgcopy.Text, "true"},
		{[]byte("plain"), pgcopy.Text, "plain"},
		{"2023-12-31 23:59:58.5", pgcopy.Timestamp, local},
		{"2023-12-31T23:59:58.5Z", pgcopy.TimestampTZ, local},
		{`\xcafe`, pgcopy.Bytea, []byte{0xca, 0xfe}},
		{[]byte{1, 2}, pgcopy.Bytea, []byte{1, 2}},
		{`{a,"b c","",NULL_}`, pgcopy.TextArray, []string{"a", "b c", "", "NULL_"}},
		{"{}", pgcopy.IntegerArray, []int32{}},
		{"{1, 2 ,3}", pgcopy.IntegerArray, []int32{1, 2, 3}},
		{`{t,f}`, pgcopy.BooleanArray, []bool{true, false}},
		{`{"\\x01"}`, pgcopy.ByteaArray, [][]byte{{1}}},
		{`{"q\"s"}`, pgcopy.TextArray, []string{`q"s`}},
		{`{ "a" , "b" }`, pgcopy.TextArray, []string{"a", "b"}},
		{"{ \" x \"\t, y z }", pgcopy.TextArray, []string{" x ", "y z"}},
	}
	for _, tc := range cases {
		got, err := Coerce(tc.in, tc.typ)
		require.NoError(t, err, "%v as %s", tc.in, tc.typ)
		assert.Equal(t, tc.want, got, "%v as %s", tc.in, tc.typ)
	}
}

func TestCoerceErrors(t *testing.T) {
	cases := []struct {
		in  any
		typ pgcopy.Type
	}{
		{"abc", pgcopy.Integer},
		{"3000000000", pgcopy.Integer},
		{"1.5.2", pgcopy.Double},
		{"maybe", pgcopy.Boolean},
		{"yesterday", pgcopy.Timestamp},
		{`\xzz`, pgcopy.Bytea},
		{"{1,NULL}", pgcopy.IntegerArray},
		{"1,2", pgcopy.IntegerArray},
		{"{{1},{2}}", pgcopy.IntegerArray},
		{`{"open}`, pgcopy.TextArray},
		{"{x}", pgcopy.BigintArray},
	}
	for _, tc := range cases {
		_, err := Coerce(tc.in, tc.typ)
		assert.Error(t, err, "%v as %s", tc.in, tc.typ)
	}
}
