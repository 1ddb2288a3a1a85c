// Package memstore is an in-process DocumentStore with the same
// subscription and batch semantics as the MongoDB driver.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/harentsoaR/gestorpro/internal/store"
)

type collection struct {
	order []string
	docs  map[string]bson.M
}

type Store struct {
	mu          sync.Mutex
	collections map[string]*collection
	subs        map[*subscription]struct{}
	failWrites  error
}

func New() *Store {
	return &Store{
		collections: make(map[string]*collection),
		subs:        make(map[*subscription]struct{}),
	}
}

// FailWrites makes every following write return err. Pass nil to restore.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	s.failWrites = err
	s.mu.Unlock()
}

func (s *Store) coll(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{docs: make(map[string]bson.M)}
		s.collections[name] = c
	}
	return c
}

func (c *collection) list() []store.Document {
	out := make([]store.Document, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, toDoc(id, c.docs[id]))
	}
	return out
}

func (c *collection) put(id string, fields bson.M) {
	if _, ok := c.docs[id]; !ok {
		c.order = append(c.order, id)
	}
	c.docs[id] = fields
}

func (c *collection) del(id string) {
	delete(c.docs, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (s *Store) Subscribe(ctx context.Context, coll string, filter store.Filter) (store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := newSubscription(coll, filter)

	s.mu.Lock()
	initial := sub.tracker.Seed(s.coll(coll).list())
	sub.push(initial)
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	sub.onClose = func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
	}
	go sub.pump()
	return sub, nil
}

func (s *Store) Get(ctx context.Context, coll, id string) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.coll(coll).docs[id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return toDoc(id, fields), nil
}

func (s *Store) Query(ctx context.Context, coll string, filter store.Filter) ([]store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Document
	for _, d := range s.coll(coll).list() {
		if filter.Match(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) Add(ctx context.Context, coll string, fields bson.M) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return "", s.failWrites
	}
	id := uuid.NewString()
	s.write(coll, id, copyFields(fields))
	return id, nil
}

func (s *Store) Set(ctx context.Context, coll, id string, fields bson.M, merge bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	next := copyFields(fields)
	if existing, ok := s.coll(coll).docs[id]; ok && merge {
		next = copyFields(existing)
		for k, v := range fields {
			next[k] = v
		}
	}
	s.write(coll, id, next)
	return nil
}

func (s *Store) Update(ctx context.Context, coll, id string, fields bson.M) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	existing, ok := s.coll(coll).docs[id]
	if !ok {
		return fmt.Errorf("update %s/%s: %w", coll, id, store.ErrNotFound)
	}
	next := copyFields(existing)
	for k, v := range fields {
		next[k] = v
	}
	s.write(coll, id, next)
	return nil
}

func (s *Store) Delete(ctx context.Context, coll, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	if _, ok := s.coll(coll).docs[id]; !ok {
		return nil
	}
	s.coll(coll).del(id)
	s.publish(coll, store.Event{ID: id, Deleted: true})
	return nil
}

func (s *Store) ArrayUnion(ctx context.Context, coll, id, field string, values ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	existing, ok := s.coll(coll).docs[id]
	if !ok {
		return fmt.Errorf("array union %s/%s: %w", coll, id, store.ErrNotFound)
	}
	next := copyFields(existing)
	var arr bson.A
	switch cur := next[field].(type) {
	case bson.A:
		arr = append(arr, cur...)
	case []any:
		arr = append(arr, cur...)
	}
	for _, v := range values {
		if !containsValue(arr, v) {
			arr = append(arr, v)
		}
	}
	next[field] = arr
	s.write(coll, id, next)
	return nil
}

// Batch validates every op before applying any of them. Deleting a missing
// document rejects the whole batch.
func (s *Store) Batch(ctx context.Context, ops []store.WriteOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	pending := make(map[string]map[string]bool)
	for _, op := range ops {
		if op.Kind != store.OpDelete {
			continue
		}
		if pending[op.Collection][op.ID] {
			return fmt.Errorf("batch delete %s/%s: %w", op.Collection, op.ID, store.ErrNotFound)
		}
		if _, ok := s.coll(op.Collection).docs[op.ID]; !ok {
			return fmt.Errorf("batch delete %s/%s: %w", op.Collection, op.ID, store.ErrNotFound)
		}
		if pending[op.Collection] == nil {
			pending[op.Collection] = make(map[string]bool)
		}
		pending[op.Collection][op.ID] = true
	}

	events := make(map[string][]store.Event)
	for _, op := range ops {
		c := s.coll(op.Collection)
		switch op.Kind {
		case store.OpCreate:
			id := op.ID
			if id == "" {
				id = uuid.NewString()
			}
			fields := copyFields(op.Fields)
			c.put(id, fields)
			events[op.Collection] = append(events[op.Collection], store.Event{ID: id, Doc: toDoc(id, fields)})
		case store.OpDelete:
			c.del(op.ID)
			events[op.Collection] = append(events[op.Collection], store.Event{ID: op.ID, Deleted: true})
		}
	}
	for coll, evs := range events {
		s.publish(coll, evs...)
	}
	return nil
}

// write stores fields and notifies subscribers. Callers hold s.mu.
func (s *Store) write(coll, id string, fields bson.M) {
	s.coll(coll).put(id, fields)
	s.publish(coll, store.Event{ID: id, Doc: toDoc(id, fields)})
}

func (s *Store) publish(coll string, events ...store.Event) {
	for sub := range s.subs {
		if sub.collection != coll {
			continue
		}
		if b, ok := sub.tracker.Apply(events...); ok {
			sub.push(b)
		}
	}
}

func toDoc(id string, fields bson.M) store.Document {
	return store.Document{ID: id, Fields: copyFields(fields)}
}

func copyFields(in bson.M) bson.M {
	out := make(bson.M, len(in))
	for k, v := range in {
		if k == store.IDField {
			continue
		}
		out[k] = v
	}
	return out
}

func containsValue(arr bson.A, v any) bool {
	for _, x := range arr {
		if store.Where("v", store.OpEqual, v).Match(store.Document{Fields: bson.M{"v": x}}) {
			return true
		}
	}
	return false
}
