package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/harentsoaR/gestorpro/internal/store"
)

type changeEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID any `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument bson.M `bson:"fullDocument"`
}

type subscription struct {
	out    chan store.Batch
	cancel context.CancelFunc
	done   chan struct{}
}

// Subscribe opens the change stream before reading the snapshot so that no
// write between the two is lost. Scope filtering happens in the tracker:
// a document updated out of scope must still produce a removal.
func (s *Store) Subscribe(ctx context.Context, coll string, filter store.Filter) (store.Subscription, error) {
	subCtx, cancel := context.WithCancel(context.Background())

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"operationType": bson.M{"$in": bson.A{"insert", "update", "replace", "delete"}}}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := s.DB.Collection(coll).Watch(ctx, pipeline, opts)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", coll, err)
	}

	docs, err := s.find(ctx, coll, filter)
	if err != nil {
		cancel()
		stream.Close(context.Background())
		return nil, err
	}

	sub := &subscription{
		out:    make(chan store.Batch),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	tracker := store.NewTracker(filter)
	go sub.run(subCtx, coll, stream, tracker, tracker.Seed(docs))
	return sub, nil
}

func (sub *subscription) run(ctx context.Context, coll string, stream *mongo.ChangeStream, tracker *store.Tracker, initial store.Batch) {
	defer close(sub.done)
	defer close(sub.out)
	defer stream.Close(context.Background())

	if !sub.send(ctx, initial) {
		return
	}
	for stream.Next(ctx) {
		var ev changeEvent
		if err := stream.Decode(&ev); err != nil {
			sub.send(ctx, store.Batch{Err: fmt.Errorf("decode %s change: %w", coll, err)})
			return
		}
		raw := store.Event{ID: docID(ev.DocumentKey.ID)}
		if ev.OperationType == "delete" || ev.FullDocument == nil {
			raw.Deleted = true
		} else {
			raw.Doc = fromRaw(ev.FullDocument)
			raw.ID = raw.Doc.ID
		}
		if b, ok := tracker.Apply(raw); ok {
			if !sub.send(ctx, b) {
				return
			}
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		sub.send(ctx, store.Batch{Err: fmt.Errorf("watch %s: %w", coll, err)})
	}
}

func (sub *subscription) send(ctx context.Context, b store.Batch) bool {
	select {
	case sub.out <- b:
		return true
	case <-ctx.Done():
		return false
	}
}

func (sub *subscription) Changes() <-chan store.Batch { return sub.out }

func (sub *subscription) Close() error {
	sub.cancel()
	<-sub.done
	return nil
}
