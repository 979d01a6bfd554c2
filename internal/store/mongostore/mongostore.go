// Package mongostore implements the document backend: one collection of
// {_id: uri, data, ts} documents, upsert writes, and anchored-regex prefix
// listing with the shared directory collapsing. Record data is kept as wire
// JSON so values round-trip exactly as on every other backend.
package mongostore

import (
	"context"
	"regexp"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/statewire/statewire/internal/codec"
	"github.com/statewire/statewire/internal/envelope"
	"github.com/statewire/statewire/internal/node"
)

type document struct {
	URI  string `bson:"_id"`
	Data string `bson:"data"`
	TS   int64  `bson:"ts"`
}

// Store is a MongoDB-backed node.
type Store struct {
	coll  *mongo.Collection
	clock node.Clock
}

// New wraps a collection; callers own the client lifecycle up to Close.
func New(coll *mongo.Collection) *Store {
	return &Store{coll: coll}
}

// Connect dials uri and returns a store over db/collection.
func Connect(ctx context.Context, uri, db, collection string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, node.Errf(node.KindBackend, "mongo connect: %v", err)
	}
	return New(client.Database(db).Collection(collection)), nil
}

func (s *Store) Receive(ctx context.Context, uri string, value any) (node.Receipt, error) {
	if _, err := node.ParseURI(uri); err != nil {
		return node.Receipt{}, err
	}
	if env, ok := envelope.Detect(value); ok {
		return envelope.Unpack(ctx, env, value, s.put, s.Receive)
	}
	ts, err := s.put(ctx, uri, value)
	if err != nil {
		return node.Receipt{}, err
	}
	return node.Receipt{ResolvedURI: uri, TS: ts}, nil
}

func (s *Store) put(ctx context.Context, uri string, value any) (int64, error) {
	data, err := codec.Encode(value)
	if err != nil {
		return 0, node.Wrap(node.KindValidation, err)
	}
	ts := s.clock.Now()
	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": uri},
		bson.M{"$set": bson.M{"data": string(data), "ts": ts}},
		options.Update().SetUpsert(true))
	if err != nil {
		return 0, node.Errf(node.KindBackend, "upsert %s: %v", uri, err)
	}
	return ts, nil
}

func (s *Store) Read(ctx context.Context, uri string) (node.Record, error) {
	var doc document
	err := s.coll.FindOne(ctx, bson.M{"_id": uri}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return node.Record{}, node.Errf(node.KindNotFound, "no record at %s", uri)
	}
	if err != nil {
		return node.Record{}, node.Errf(node.KindBackend, "read %s: %v", uri, err)
	}
	value, err := codec.Decode([]byte(doc.Data))
	if err != nil {
		return node.Record{}, node.Errf(node.KindBackend, "decode %s: %v", uri, err)
	}
	return node.Record{TS: doc.TS, Data: value}, nil
}

func (s *Store) ReadMulti(ctx context.Context, uris []string) ([]node.ReadOutcome, error) {
	return node.ReadMultiOutcomes(ctx, s, uris)
}

func (s *Store) List(ctx context.Context, uri string, opts node.ListOptions) (node.ListResult, error) {
	if !node.Listable(uri) {
		return node.Collapse(uri, nil, opts), nil
	}
	cur, err := s.coll.Find(ctx, bson.M{"_id": primitive.Regex{Pattern: PrefixPattern(uri)}})
	if err != nil {
		return node.ListResult{}, node.Errf(node.KindBackend, "list %s: %v", uri, err)
	}
	defer cur.Close(ctx)

	var entries []node.StoredEntry
	for cur.Next(ctx) {
		var doc document
		if err := cur.Decode(&doc); err != nil {
			return node.ListResult{}, node.Errf(node.KindBackend, "list decode: %v", err)
		}
		entries = append(entries, node.StoredEntry{URI: doc.URI, TS: doc.TS})
	}
	if err := cur.Err(); err != nil {
		return node.ListResult{}, node.Errf(node.KindBackend, "list cursor: %v", err)
	}
	return node.Collapse(uri, entries, opts), nil
}

// PrefixPattern is the anchored regex matching every stored URI strictly
// under prefix (with "/" boundary).
func PrefixPattern(prefix string) string {
	return "^" + regexp.QuoteMeta(prefix+"/")
}

func (s *Store) Delete(ctx context.Context, uri string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": uri})
	if err != nil {
		return node.Errf(node.KindBackend, "delete %s: %v", uri, err)
	}
	if res.DeletedCount == 0 {
		return node.Errf(node.KindNotFound, "no record at %s", uri)
	}
	return nil
}

func (s *Store) Health(ctx context.Context) node.Health {
	if err := s.coll.Database().Client().Ping(ctx, nil); err != nil {
		return node.Health{
			Status: node.StatusUnhealthy,
			Info:   map[string]any{"backend": "mongo", "error": err.Error()},
		}
	}
	return node.Health{Status: node.StatusHealthy, Info: map[string]any{"backend": "mongo"}}
}

func (s *Store) ListPrograms(ctx context.Context) ([]string, error) {
	raw, err := s.coll.Distinct(ctx, "_id", bson.M{})
	if err != nil {
		return nil, node.Errf(node.KindBackend, "list programs: %v", err)
	}
	seen := map[string]bool{}
	for _, v := range raw {
		u, ok := v.(string)
		if !ok {
			continue
		}
		if parsed, err := node.ParseURI(u); err == nil {
			seen[parsed.ProgramKey()] = true
		}
	}
	progs := make([]string, 0, len(seen))
	for k := range seen {
		progs = append(progs, k)
	}
	sort.Strings(progs)
	return progs, nil
}

func (s *Store) Close() error {
	return s.coll.Database().Client().Disconnect(context.Background())
}
