// Package mongostore implements store.DocumentStore on MongoDB. Live
// subscriptions are an initial Find snapshot followed by a change stream,
// so the deployment must run as a replica set.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/harentsoaR/gestorpro/internal/store"
)

type Store struct {
	DB *mongo.Database
}

func New(db *mongo.Database) *Store {
	return &Store{DB: db}
}

func (s *Store) Get(ctx context.Context, coll, id string) (store.Document, error) {
	var raw bson.M
	err := s.DB.Collection(coll).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Document{}, store.ErrNotFound
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("get %s/%s: %w", coll, id, err)
	}
	return fromRaw(raw), nil
}

func (s *Store) Query(ctx context.Context, coll string, filter store.Filter) ([]store.Document, error) {
	return s.find(ctx, coll, filter)
}

func (s *Store) find(ctx context.Context, coll string, filter store.Filter) ([]store.Document, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "$natural", Value: 1}})
	cursor, err := s.DB.Collection(coll).Find(ctx, filter.BSON(), findOptions)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", coll, err)
	}
	defer cursor.Close(ctx)

	var raws []bson.M
	if err := cursor.All(ctx, &raws); err != nil {
		return nil, fmt.Errorf("decode %s: %w", coll, err)
	}
	docs := make([]store.Document, 0, len(raws))
	for _, raw := range raws {
		docs = append(docs, fromRaw(raw))
	}
	return docs, nil
}

func (s *Store) Add(ctx context.Context, coll string, fields bson.M) (string, error) {
	id := primitive.NewObjectID().Hex()
	if _, err := s.DB.Collection(coll).InsertOne(ctx, withID(id, fields)); err != nil {
		return "", fmt.Errorf("insert %s: %w", coll, err)
	}
	return id, nil
}

func (s *Store) Set(ctx context.Context, coll, id string, fields bson.M, merge bool) error {
	var err error
	if merge {
		_, err = s.DB.Collection(coll).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": stripID(fields)}, options.Update().SetUpsert(true))
	} else {
		_, err = s.DB.Collection(coll).ReplaceOne(ctx, bson.M{"_id": id}, withID(id, fields), options.Replace().SetUpsert(true))
	}
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", coll, id, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, coll, id string, fields bson.M) error {
	result, err := s.DB.Collection(coll).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": stripID(fields)})
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", coll, id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("update %s/%s: %w", coll, id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, coll, id string) error {
	if _, err := s.DB.Collection(coll).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete %s/%s: %w", coll, id, err)
	}
	return nil
}

// ArrayUnion appends values with $addToSet so concurrent senders never
// overwrite each other's entries.
func (s *Store) ArrayUnion(ctx context.Context, coll, id, field string, values ...any) error {
	update := bson.M{"$addToSet": bson.M{field: bson.M{"$each": values}}}
	result, err := s.DB.Collection(coll).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("array union %s/%s: %w", coll, id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("array union %s/%s: %w", coll, id, store.ErrNotFound)
	}
	return nil
}

// Batch applies ops in one multi-document transaction. A delete that
// matches nothing aborts the transaction.
func (s *Store) Batch(ctx context.Context, ops []store.WriteOp) error {
	session, err := s.DB.Client().StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, op := range ops {
			c := s.DB.Collection(op.Collection)
			switch op.Kind {
			case store.OpCreate:
				id := op.ID
				if id == "" {
					id = primitive.NewObjectID().Hex()
				}
				if _, err := c.InsertOne(sc, withID(id, op.Fields)); err != nil {
					return nil, err
				}
			case store.OpDelete:
				result, err := c.DeleteOne(sc, bson.M{"_id": op.ID})
				if err != nil {
					return nil, err
				}
				if result.DeletedCount == 0 {
					return nil, fmt.Errorf("delete %s/%s: %w", op.Collection, op.ID, store.ErrNotFound)
				}
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("batch write: %w", err)
	}
	return nil
}

func fromRaw(raw bson.M) store.Document {
	return store.Document{ID: docID(raw["_id"]), Fields: stripID(raw)}
}

// docID renders an _id the way document ids are addressed: ObjectIDs as hex.
func docID(v any) string {
	if oid, ok := v.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprint(v)
}

func withID(id string, fields bson.M) bson.M {
	out := stripID(fields)
	out["_id"] = id
	return out
}

func stripID(fields bson.M) bson.M {
	out := make(bson.M, len(fields))
	for k, v := range fields {
		if k == "_id" {
			continue
		}
		out[k] = v
	}
	return out
}
