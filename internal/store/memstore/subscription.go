package memstore

import (
	"sync"

	"github.com/harentsoaR/gestorpro/internal/store"
)

// subscription queues batches without bounding them so that writers never
// block on a slow reader.
type subscription struct {
	collection string
	tracker    *store.Tracker
	onClose    func()

	mu      sync.Mutex
	pending []store.Batch
	wake    chan struct{}
	out     chan store.Batch
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newSubscription(coll string, filter store.Filter) *subscription {
	return &subscription{
		collection: coll,
		tracker:    store.NewTracker(filter),
		wake:       make(chan struct{}, 1),
		out:        make(chan store.Batch),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

func (s *subscription) push(b store.Batch) {
	s.mu.Lock()
	s.pending = append(s.pending, b)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) pump() {
	defer close(s.stopped)
	defer close(s.out)
	for {
		s.mu.Lock()
		queue := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, b := range queue {
			select {
			case s.out <- b:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Changes() <-chan store.Batch { return s.out }

func (s *subscription) Close() error {
	s.once.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		close(s.done)
		<-s.stopped
	})
	return nil
}
