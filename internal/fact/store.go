// Package fact is the typed read/write adapter onto the host policy
// daemon's shared fact store (spec §2 "Fact adapter", §6 "Fact-store
// schema"). The resolver that reasons over these facts is an external
// collaborator (spec §1 non-goals); this package only has to hold facts
// and notify subscribers of field changes, the narrow interface the
// resolver is expected to consume.
package fact

import "sort"

// Watcher is notified whenever a field of a fact instance changes.
type Watcher func(kind, instance, field, value string)

type kindTable struct {
	entries  map[string]map[string]string
	watchers []Watcher
}

// Store is an in-process fact store. Per spec §5, the fact store is
// accessed only from the daemon's single main-loop goroutine, so no
// internal locking is required.
type Store struct {
	kinds map[string]*kindTable
}

func NewStore() *Store {
	return &Store{kinds: make(map[string]*kindTable)}
}

func (s *Store) table(kind string) *kindTable {
	t, ok := s.kinds[kind]
	if !ok {
		t = &kindTable{entries: make(map[string]map[string]string)}
		s.kinds[kind] = t
	}
	return t
}

// SetField sets a single field of instance within kind, creating the
// instance if needed, and notifies subscribers.
func (s *Store) SetField(kind, instance, field, value string) {
	t := s.table(kind)
	fields, ok := t.entries[instance]
	if !ok {
		fields = make(map[string]string)
		t.entries[instance] = fields
	}
	fields[field] = value
	for _, w := range t.watchers {
		w(kind, instance, field, value)
	}
}

// SetFields replaces multiple fields of instance in one call.
func (s *Store) SetFields(kind, instance string, fields map[string]string) {
	for f, v := range fields {
		s.SetField(kind, instance, f, v)
	}
}

// Get returns a snapshot of instance's fields.
func (s *Store) Get(kind, instance string) (map[string]string, bool) {
	t, ok := s.kinds[kind]
	if !ok {
		return nil, false
	}
	fields, ok := t.entries[instance]
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out, true
}

// Instances returns the sorted instance keys currently present for kind,
// used by the classifier/telephony to walk a decisions fact.
func (s *Store) Instances(kind string) []string {
	t, ok := s.kinds[kind]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(t.entries))
	for k := range t.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DeleteField removes a single field of instance within kind and notifies
// subscribers with an empty value, the removal counterpart to SetField's
// per-field notification (spec §2 "Fact adapter": "subscribe to
// field-changed notifications"). The instance itself is dropped once its
// last field is gone.
func (s *Store) DeleteField(kind, instance, field string) {
	t, ok := s.kinds[kind]
	if !ok {
		return
	}
	fields, ok := t.entries[instance]
	if !ok {
		return
	}
	delete(fields, field)
	for _, w := range t.watchers {
		w(kind, instance, field, "")
	}
	if len(fields) == 0 {
		delete(t.entries, instance)
	}
}

// Delete removes instance from kind entirely.
func (s *Store) Delete(kind, instance string) {
	t, ok := s.kinds[kind]
	if !ok {
		return
	}
	delete(t.entries, instance)
}

// DeleteKind drops every instance of kind, used after the enforcer has
// consumed a decisions fact (spec §4.6 "the enforcer walks the decisions
// fact, executing each action, then deletes the fact").
func (s *Store) DeleteKind(kind string) {
	delete(s.kinds, kind)
}

// Subscribe registers fn to be called on every field change within kind.
func (s *Store) Subscribe(kind string, fn Watcher) {
	t := s.table(kind)
	t.watchers = append(t.watchers, fn)
}
