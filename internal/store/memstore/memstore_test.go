package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/harentsoaR/gestorpro/internal/store"
)

func next(t *testing.T, sub store.Subscription) store.Batch {
	t.Helper()
	select {
	case b, ok := <-sub.Changes():
		require.True(t, ok, "subscription closed")
		return b
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batch")
		return store.Batch{}
	}
}

func TestSubscribeDeliversInitialThenChanges(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Add(ctx, "appointments", bson.M{"requester": "Acme"})
	require.NoError(t, err)

	sub, err := s.Subscribe(ctx, "appointments", store.Where("requester", store.OpEqual, "Acme"))
	require.NoError(t, err)
	defer sub.Close()

	first := next(t, sub)
	assert.True(t, first.Initial)
	assert.Len(t, first.Docs, 1)

	_, err = s.Add(ctx, "appointments", bson.M{"requester": "Beta"})
	require.NoError(t, err)
	id, err := s.Add(ctx, "appointments", bson.M{"requester": "Acme"})
	require.NoError(t, err)

	b := next(t, sub)
	require.Len(t, b.Changes, 1)
	assert.Equal(t, store.Added, b.Changes[0].Type)
	assert.Equal(t, id, b.Changes[0].Doc.ID)
	assert.Len(t, b.Docs, 2)
}

func TestCloseStopsDelivery(t *testing.T) {
	ctx := context.Background()
	s := New()
	sub, err := s.Subscribe(ctx, "pendencies", nil)
	require.NoError(t, err)
	next(t, sub)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	_, err = s.Add(ctx, "pendencies", bson.M{"title": "x"})
	require.NoError(t, err)

	_, ok := <-sub.Changes()
	assert.False(t, ok)
}

func TestUpdateMissingDocument(t *testing.T) {
	s := New()
	err := s.Update(context.Background(), "appointments", "nope", bson.M{"status": "Agendado"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSetMerge(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Set(ctx, "settings", "default", bson.M{"appName": "GestorPRO", "enableSoundAlert": true}, false))
	require.NoError(t, s.Set(ctx, "settings", "default", bson.M{"masterPassword": "123"}, true))

	d, err := s.Get(ctx, "settings", "default")
	require.NoError(t, err)
	assert.Equal(t, "GestorPRO", d.Fields["appName"])
	assert.Equal(t, "123", d.Fields["masterPassword"])

	require.NoError(t, s.Set(ctx, "settings", "default", bson.M{"appName": "Other"}, false))
	d, err = s.Get(ctx, "settings", "default")
	require.NoError(t, err)
	assert.NotContains(t, d.Fields, "masterPassword")
}

func TestArrayUnionIsAdditive(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, err := s.Add(ctx, "appointments", bson.M{})
	require.NoError(t, err)

	m1 := bson.M{"authorId": "a", "text": "hi", "timestamp": int64(1)}
	m2 := bson.M{"authorId": "b", "text": "yo", "timestamp": int64(2)}
	require.NoError(t, s.ArrayUnion(ctx, "appointments", id, "messages", m1))
	require.NoError(t, s.ArrayUnion(ctx, "appointments", id, "messages", m2))
	require.NoError(t, s.ArrayUnion(ctx, "appointments", id, "messages", m1))

	d, err := s.Get(ctx, "appointments", id)
	require.NoError(t, err)
	assert.Len(t, d.Fields["messages"], 2)
}

func TestBatchDeleteIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, _ := s.Add(ctx, "appointments", bson.M{})
	b, _ := s.Add(ctx, "appointments", bson.M{})

	err := s.Batch(ctx, []store.WriteOp{
		{Kind: store.OpDelete, Collection: "appointments", ID: a},
		{Kind: store.OpDelete, Collection: "appointments", ID: "missing"},
		{Kind: store.OpDelete, Collection: "appointments", ID: b},
	})
	require.ErrorIs(t, err, store.ErrNotFound)

	docs, err := s.Query(ctx, "appointments", nil)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	require.NoError(t, s.Batch(ctx, []store.WriteOp{
		{Kind: store.OpDelete, Collection: "appointments", ID: a},
		{Kind: store.OpDelete, Collection: "appointments", ID: b},
	}))
	docs, err = s.Query(ctx, "appointments", nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestBatchCreateDeliversOneBatch(t *testing.T) {
	ctx := context.Background()
	s := New()
	sub, err := s.Subscribe(ctx, "appointments", nil)
	require.NoError(t, err)
	defer sub.Close()
	next(t, sub)

	require.NoError(t, s.Batch(ctx, []store.WriteOp{
		{Kind: store.OpCreate, Collection: "appointments", Fields: bson.M{"status": "Solicitado"}},
		{Kind: store.OpCreate, Collection: "appointments", Fields: bson.M{"status": "Agendado"}},
	}))

	b := next(t, sub)
	assert.Len(t, b.Changes, 2)
	assert.Len(t, b.Docs, 2)
}

func TestFailWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("permission-denied")
	s.FailWrites(boom)

	_, err := s.Add(ctx, "financials", bson.M{})
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.Batch(ctx, nil), boom)

	s.FailWrites(nil)
	_, err = s.Add(ctx, "financials", bson.M{})
	assert.NoError(t, err)
}
