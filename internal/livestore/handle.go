package livestore

import (
	"context"
	"fmt"

	"github.com/harentsoaR/gestorpro/internal/permission"
	"github.com/harentsoaR/gestorpro/internal/store"
)

type handleKind uint8

const (
	kindResource handleKind = iota
	kindProfile
	kindSettings
)

// handle is one open subscription. Only the Run goroutine touches its
// bookkeeping fields.
type handle struct {
	kind       handleKind
	resource   permission.Resource
	collection string

	// settings handles only
	createSettings bool
	backfill       bool

	gen       uint64
	sub       store.Subscription
	done      chan struct{}
	stopped   chan struct{}
	delivered bool
	failed    bool
}

type delivery struct {
	h     *handle
	batch store.Batch
}

func (s *Store) open(ctx context.Context, h *handle, filter store.Filter) error {
	sub, err := s.docs.Subscribe(ctx, h.collection, filter)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", h.collection, err)
	}
	h.sub = sub
	h.gen = s.gen
	h.done = make(chan struct{})
	h.stopped = make(chan struct{})
	s.handles = append(s.handles, h)
	s.metrics.SubscriptionsOpened.WithLabelValues(h.collection).Inc()

	go s.forward(h)
	return nil
}

// forward moves batches from the subscription onto the Run loop.
func (s *Store) forward(h *handle) {
	defer close(h.stopped)
	changes := h.sub.Changes()
	for {
		select {
		case b, ok := <-changes:
			if !ok {
				return
			}
			select {
			case s.deliveries <- delivery{h: h, batch: b}:
			case <-h.done:
				return
			}
		case <-h.done:
			return
		}
	}
}

// teardown closes every open handle and waits for its forwarder, so no
// batch from the old generation can reach a mirror afterwards.
func (s *Store) teardown() {
	for _, h := range s.handles {
		close(h.done)
		if err := h.sub.Close(); err != nil {
			s.log.Warn("close subscription", "collection", h.collection, "error", err)
		}
		<-h.stopped
		s.metrics.SubscriptionsClosed.WithLabelValues(h.collection).Inc()
	}
	s.handles = nil
	s.gen++
}
