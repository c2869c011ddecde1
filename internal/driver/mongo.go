package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDriver reads documents from MongoDB. Every document is one row with a
// single "document" column holding its relaxed extended JSON.
type MongoDriver struct {
	uri string

	mu     sync.Mutex
	client *mongo.Client
}

func NewMongoDriver(uri string) *MongoDriver {
	return &MongoDriver{uri: uri}
}

func (d *MongoDriver) Name() string {
	return "mongo"
}

func (d *MongoDriver) connect(ctx context.Context) (*mongo.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(d.uri))
		if err != nil {
			return nil, err
		}
		d.client = client
	}
	return d.client, nil
}

func (d *MongoDriver) Ping(ctx context.Context) error {
	client, err := d.connect(ctx)
	if err != nil {
		return err
	}
	return client.Ping(ctx, nil)
}

// findQuery is a parsed "[db.]collection.find({filter})" expression.
type findQuery struct {
	db         string
	collection string
	filter     bson.M
}

// parseFind accepts the shell-like syntax used for Mongo sources:
//
//	db.users.find({"age": {"$gt": 18}})
//	users.find({})          (database from the URI)
func parseFind(query string) (findQuery, error) {
	var q findQuery
	query = strings.TrimSpace(query)
	start := strings.Index(query, "(")
	end := strings.LastIndex(query, ")")
	if start == -1 || end == -1 || end < start {
		return q, errors.New("invalid query format: expected collection.find(filter)")
	}

	jsonFilter := strings.TrimSpace(query[start+1 : end])
	if jsonFilter == "" {
		jsonFilter = "{}"
	}
	if err := json.Unmarshal([]byte(jsonFilter), &q.filter); err != nil {
		return q, fmt.Errorf("invalid filter JSON: %w", err)
	}

	segments := strings.Split(query[:start], ".")
	if segments[len(segments)-1] != "find" {
		return q, errors.New("only 'find' command is supported")
	}
	switch len(segments) {
	case 3:
		q.db, q.collection = segments[0], segments[1]
	case 2:
		q.collection = segments[0]
	default:
		return q, errors.New("invalid query format: expected [db.]collection.find(...)")
	}
	if q.collection == "" {
		return q, errors.New("invalid query format: empty collection name")
	}
	return q, nil
}

// Query runs a find. Positional args are not supported by the syntax and
// are rejected.
func (d *MongoDriver) Query(ctx context.Context, query string, args ...interface{}) (RowStreamer, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("mongo: query arguments: %w", ErrUnsupported)
	}
	q, err := parseFind(query)
	if err != nil {
		return nil, err
	}
	client, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}

	coll := client.Database(q.db).Collection(q.collection)
	cursor, err := coll.Find(ctx, q.filter)
	if err != nil {
		return nil, err
	}
	return &MongoStreamer{cursor: cursor, ctx: ctx}, nil
}

func (d *MongoDriver) Exec(ctx context.Context, stmt string, args ...interface{}) (int64, error) {
	return 0, fmt.Errorf("mongo: exec: %w", ErrUnsupported)
}

func (d *MongoDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		err := d.client.Disconnect(context.Background())
		d.client = nil
		return err
	}
	return nil
}

// MongoStreamer implements RowStreamer over a find cursor.
type MongoStreamer struct {
	cursor *mongo.Cursor
	ctx    context.Context
	row    bson.Raw
	err    error
}

func (s *MongoStreamer) Columns() ([]string, error) {
	return []string{"document"}, nil
}

func (s *MongoStreamer) Next() bool {
	if s.cursor.Next(s.ctx) {
		s.row = s.cursor.Current
		return true
	}
	s.err = s.cursor.Err()
	return false
}

func (s *MongoStreamer) Scan(dest ...interface{}) error {
	if len(dest) != 1 {
		return errors.New("expected exactly 1 destination for document")
	}
	doc, err := documentJSON(s.row)
	if err != nil {
		return err
	}

	switch v := dest[0].(type) {
	case *string:
		*v = doc
	case *interface{}:
		*v = doc
	default:
		return errors.New("destination must be *string or *interface{}")
	}
	return nil
}

func documentJSON(raw bson.Raw) (string, error) {
	data, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(data), nil
}

func (s *MongoStreamer) Err() error {
	return s.err
}

func (s *MongoStreamer) Close() error {
	return s.cursor.Close(s.ctx)
}
