package security

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateQuery(t *testing.T) {
	ok := []string{
		"SELECT id, name FROM users",
		"select * from orders where deleted_at is null",
		"WITH t AS (SELECT 1 AS x) SELECT x FROM t",
		"SELECT updated_by FROM audit",
	}
	for _, q := range ok {
		assert.NoError(t, ValidateQuery(q), q)
	}

	bad := []struct {
		q    string
		want error
	}{
		{"DELETE FROM users", ErrNotSelect},
		{"SELECT 1; DROP TABLE users", ErrMultipleQueries},
		{"SELECT * FROM a UNION SELECT * FROM b", ErrUnsafeQuery},
		{"SELECT pg_read_file('/etc/passwd')", ErrUnsafeQuery},
		{"SELECT * FROM pg_catalog.pg_tables", ErrUnsafeQuery},
		{"SELECT * INTO copy_of_users FROM users", ErrUnsafeQuery},
		{"SELECT * FROM information_schema.tables", ErrUnsafeQuery},
		{"SELECT/**/1 FROM x WHERE 1=1/**/UNION/**/SELECT 2", ErrUnsafeQuery},
	}
	for _, tc := range bad {
		assert.ErrorIs(t, ValidateQuery(tc.q), tc.want, tc.q)
	}
}

func TestValidateSourceQuery(t *testing.T) {
	assert.NoError(t, ValidateSourceQuery("mongo", `shop.orders.find({"total": {"$gt": 5}})`))
	assert.ErrorIs(t, ValidateSourceQuery("mongodb", `orders.aggregate([])`), ErrNotFind)
	assert.ErrorIs(t, ValidateSourceQuery("mongo", `orders.find({"$where": "sleep(100)"})`), ErrUnsafeQuery)
	assert.ErrorIs(t, ValidateSourceQuery("mysql", "UPDATE t SET a=1"), ErrNotSelect)
}

func TestValidateIdentifier(t *testing.T) {
	for _, name := range []string{"data", "public.data", "_t1", "Orders$2024"} {
		assert.NoError(t, ValidateIdentifier(name), name)
	}
	for _, name := range []string{"", "a.b.c", "1abc", `data"; drop`, "a b", "x."} {
		assert.ErrorIs(t, ValidateIdentifier(name), ErrInvalidName, name)
	}
}

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, ValidateEmail("ops@example.com"))
	assert.ErrorIs(t, ValidateEmail("ops@example.com\r\nBcc: x@y.z"), ErrInvalidEmail)
	assert.ErrorIs(t, ValidateEmail("nobody"), ErrInvalidEmail)
}

func TestVerifyHMAC(t *testing.T) {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	body := `{"table":"data"}`
	sig := Sign("s3cret", "POST", "/jobs/export", body, now)

	require.NoError(t, VerifyHMAC("s3cret", "POST", "/jobs/export", body, now, sig))
	assert.ErrorIs(t, VerifyHMAC("s3cret", "POST", "/jobs/import", body, now, sig), ErrInvalidSignature)
	assert.ErrorIs(t, VerifyHMAC("other", "POST", "/jobs/export", body, now, sig), ErrInvalidSignature)

	old := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	assert.ErrorIs(t, VerifyHMAC("s3cret", "POST", "/jobs/export", body, old, Sign("s3cret", "POST", "/jobs/export", body, old)), ErrRequestExpired)
	assert.Error(t, VerifyHMAC("s3cret", "POST", "/", "", "yesterday", sig))

	assert.NoError(t, VerifyHMAC("", "POST", "/", "", "", ""))
}

func TestDownloadToken(t *testing.T) {
	tok, err := IssueDownloadToken("k", "job-1", "exports/job-1.csv", time.Minute)
	require.NoError(t, err)

	claims, err := ParseDownloadToken("k", tok)
	require.NoError(t, err)
	assert.Equal(t, "job-1", claims.JobID)
	assert.Equal(t, "exports/job-1.csv", claims.Key)

	_, err = ParseDownloadToken("wrong", tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := IssueDownloadToken("k", "job-1", "exports/job-1.csv", -time.Minute)
	require.NoError(t, err)
	_, err = ParseDownloadToken("k", expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = IssueDownloadToken("", "job-1", "k", time.Minute)
	assert.Error(t, err)
}
