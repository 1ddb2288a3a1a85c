package livestore

import "time"

// Notification is the transient user-facing alert. It is never persisted.
type Notification struct {
	Message     string    `json:"message"`
	TriggeredAt time.Time `json:"triggeredAt"`
}

// Feedback plays the audible and haptic cues that accompany a notification.
// Both calls are best effort.
type Feedback interface {
	Tone() error
	Vibrate(pattern []time.Duration) error
}

var VibrationPattern = []time.Duration{100 * time.Millisecond, 50 * time.Millisecond, 100 * time.Millisecond}

type EventType string

const (
	EventNotification        EventType = "notification"
	EventNotificationCleared EventType = "notification_cleared"
	EventPages               EventType = "pages"
	EventFeedback            EventType = "feedback"
	EventSession             EventType = "session"
)

// Event is published to every listener.
type Event struct {
	Type         EventType       `json:"type"`
	Notification *Notification   `json:"notification,omitempty"`
	Pages        map[string]bool `json:"pages,omitempty"`
	Cue          string          `json:"cue,omitempty"`
	PatternMS    []int64         `json:"pattern,omitempty"`
	State        string          `json:"state,omitempty"`
}

// streamFeedback forwards cues to the listeners so the browser shell can
// play them.
type streamFeedback struct{ s *Store }

func (f streamFeedback) Tone() error {
	f.s.publish(Event{Type: EventFeedback, Cue: "tone"})
	return nil
}

func (f streamFeedback) Vibrate(pattern []time.Duration) error {
	ms := make([]int64, len(pattern))
	for i, d := range pattern {
		ms[i] = d.Milliseconds()
	}
	f.s.publish(Event{Type: EventFeedback, Cue: "vibrate", PatternMS: ms})
	return nil
}

// Listen registers an event listener. The returned func unregisters it and
// closes the channel. Events are dropped for a listener that falls behind.
func (s *Store) Listen() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	s.lmu.Lock()
	s.listeners[ch] = struct{}{}
	s.lmu.Unlock()

	return ch, func() {
		s.lmu.Lock()
		if _, ok := s.listeners[ch]; ok {
			delete(s.listeners, ch)
			close(ch)
		}
		s.lmu.Unlock()
	}
}

func (s *Store) publish(e Event) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	for ch := range s.listeners {
		select {
		case ch <- e:
		default:
			s.log.Debug("listener behind, event dropped", "type", e.Type)
		}
	}
}

// raise replaces any pending notification and restarts its dismissal timer.
func (s *Store) raise(message string) {
	n := Notification{Message: message, TriggeredAt: time.Now()}

	s.mu.Lock()
	s.notifySeq++
	seq := s.notifySeq
	s.notification = &n
	if s.dismiss != nil {
		s.dismiss.Stop()
	}
	if d := s.opts.NotificationDismiss; d > 0 {
		s.dismiss = time.AfterFunc(d, func() { s.expire(seq) })
	}
	sound, vibrate := s.settings.EnableSoundAlert, s.settings.EnableVibrationAlert
	s.mu.Unlock()

	s.metrics.Notifications.Inc()
	s.publish(Event{Type: EventNotification, Notification: &n})

	if sound {
		s.cue("tone", s.feedback.Tone)
	}
	if vibrate {
		s.cue("vibrate", func() error { return s.feedback.Vibrate(VibrationPattern) })
	}
}

func (s *Store) cue(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("feedback panicked", "cue", name, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		s.log.Warn("feedback unavailable", "cue", name, "error", err)
	}
}

func (s *Store) expire(seq uint64) {
	s.mu.Lock()
	if s.notifySeq != seq || s.notification == nil {
		s.mu.Unlock()
		return
	}
	s.notification = nil
	s.mu.Unlock()
	s.publish(Event{Type: EventNotificationCleared})
}

// ClearNotification dismisses the pending notification, if any.
func (s *Store) ClearNotification() {
	s.mu.Lock()
	s.notifySeq++
	had := s.notification != nil
	s.notification = nil
	if s.dismiss != nil {
		s.dismiss.Stop()
	}
	s.mu.Unlock()
	if had {
		s.publish(Event{Type: EventNotificationCleared})
	}
}

func (s *Store) flagPages(pages ...string) {
	s.mu.Lock()
	for _, p := range pages {
		s.pages[p] = true
	}
	snapshot := copyPages(s.pages)
	s.mu.Unlock()
	s.publish(Event{Type: EventPages, Pages: snapshot})
}

// ClearPageFlag marks page as read.
func (s *Store) ClearPageFlag(page string) error {
	s.mu.Lock()
	if _, ok := s.pages[page]; !ok {
		s.mu.Unlock()
		return ErrUnknownPage
	}
	s.pages[page] = false
	snapshot := copyPages(s.pages)
	s.mu.Unlock()
	s.publish(Event{Type: EventPages, Pages: snapshot})
	return nil
}

func newPages() map[string]bool {
	m := make(map[string]bool, len(Pages))
	for _, p := range Pages {
		m[p] = false
	}
	return m
}

func copyPages(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
