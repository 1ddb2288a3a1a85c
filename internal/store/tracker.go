package store

// Event is a raw write observed on a collection, before scoping.
type Event struct {
	ID      string
	Doc     Document
	Deleted bool
}

// Tracker keeps the scoped result set of one subscription and turns raw
// collection events into change records. A document that stops matching
// the filter is reported as removed.
type Tracker struct {
	filter Filter
	order  []string
	docs   map[string]Document
}

func NewTracker(filter Filter) *Tracker {
	return &Tracker{filter: filter, docs: make(map[string]Document)}
}

// Seed loads the initial result set and returns the initial batch.
func (t *Tracker) Seed(docs []Document) Batch {
	changes := make([]Change, 0, len(docs))
	for _, d := range docs {
		if !t.filter.Match(d) {
			continue
		}
		if _, ok := t.docs[d.ID]; !ok {
			t.order = append(t.order, d.ID)
		}
		t.docs[d.ID] = d
		changes = append(changes, Change{Type: Added, Doc: d})
	}
	return Batch{Docs: t.snapshot(), Changes: changes, Initial: true}
}

// Apply folds events into the result set. ok is false when none of the
// events touched this subscription's scope.
func (t *Tracker) Apply(events ...Event) (b Batch, ok bool) {
	var changes []Change
	for _, ev := range events {
		_, held := t.docs[ev.ID]
		match := !ev.Deleted && t.filter.Match(ev.Doc)
		switch {
		case match && !held:
			t.order = append(t.order, ev.ID)
			t.docs[ev.ID] = ev.Doc
			changes = append(changes, Change{Type: Added, Doc: ev.Doc})
		case match && held:
			t.docs[ev.ID] = ev.Doc
			changes = append(changes, Change{Type: Modified, Doc: ev.Doc})
		case held:
			old := t.docs[ev.ID]
			delete(t.docs, ev.ID)
			t.remove(ev.ID)
			changes = append(changes, Change{Type: Removed, Doc: old})
		}
	}
	if len(changes) == 0 {
		return Batch{}, false
	}
	return Batch{Docs: t.snapshot(), Changes: changes}, true
}

func (t *Tracker) remove(id string) {
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

func (t *Tracker) snapshot() []Document {
	out := make([]Document, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.docs[id].Clone())
	}
	return out
}
