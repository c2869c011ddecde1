package driver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"pgbulk/internal/pgcopy"
)

func TestNew(t *testing.T) {
	cases := map[string]string{
		"postgres":   "postgres",
		"PostgreSQL": "postgres",
		"mysql":      "mysql",
		"mongodb":    "mongo",
	}
	for kind, name := range cases {
		d, err := New(kind, "dsn")
		require.NoError(t, err, kind)
		assert.Equal(t, name, d.Name())
		require.NoError(t, d.Close())
	}

	_, err := New("oracle", "dsn")
	require.Error(t, err)
	_, err = New("postgres", "")
	require.Error(t, err)
}

func TestParseFind(t *testing.T) {
	q, err := parseFind(`shop.orders.find({"total": {"$gt": 10}})`)
	require.NoError(t, err)
	assert.Equal(t, "shop", q.db)
	assert.Equal(t, "orders", q.collection)
	assert.Equal(t, bson.M{"total": map[string]interface{}{"$gt": float64(10)}}, q.filter)

	q, err = parseFind("orders.find()")
	require.NoError(t, err)
	assert.Equal(t, "", q.db)
	assert.Equal(t, "orders", q.collection)
	assert.Empty(t, q.filter)

	for _, bad := range []string{
		"orders",
		"orders.aggregate({})",
		"a.b.c.find({})",
		"orders.find({not json})",
		".find({})",
	} {
		_, err := parseFind(bad)
		assert.Error(t, err, bad)
	}
}

func TestMongoExecUnsupported(t *testing.T) {
	_, err := NewMongoDriver("mongodb://localhost").Exec(context.Background(), "db.x.drop()")
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestDocumentJSON(t *testing.T) {
	raw, err := bson.Marshal(bson.D{{Key: "name", Value: "ada"}, {Key: "n", Value: int32(3)}})
	require.NoError(t, err)
	doc, err := documentJSON(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"ada","n":3}`, doc)
}

func TestServerError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", Message: "duplicate key value", Detail: "Key (id)=(1) already exists."}
	err := serverError(fmt.Errorf("copy: %w", pgErr))

	var rejected *pgcopy.ServerRejectedCopyError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "23505", rejected.Code)
	assert.Equal(t, "duplicate key value", rejected.Message)
	assert.Contains(t, rejected.Detail, "already exists")
	assert.ErrorAs(t, err, &pgErr)

	plain := errors.New("connection reset")
	assert.Same(t, plain, serverError(plain))
}
