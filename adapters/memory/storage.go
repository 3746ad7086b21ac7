package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"localloop/core"
	"localloop/engine"
)

// Snapshot is the full contents of a Store, used to persist and reload it.
type Snapshot struct {
	Profiles []core.Profile `json:"profiles"`
	Entries  []core.Entry   `json:"entries"`
}

// Persister is called with the would-be state before a write is applied.
// When it fails the write is discarded.
type Persister func(Snapshot) error

// Store is a concurrent in-memory Storage implementation. Transactions are
// serialized by a single mutex and buffer their writes until commit.
type Store struct {
	mu       sync.Mutex
	profiles map[core.UserID]core.Profile
	entries  map[core.EntryID]core.Entry
	persist  Persister
}

type Option func(*Store)

// WithPersister registers a hook invoked on every committed write.
func WithPersister(p Persister) Option { return func(s *Store) { s.persist = p } }

// WithSnapshot seeds the store with previously persisted state.
func WithSnapshot(snap Snapshot) Option {
	return func(s *Store) {
		for _, p := range snap.Profiles {
			s.profiles[p.UserID] = p.Clone()
		}
		for _, e := range snap.Entries {
			s.entries[e.ID] = e
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		profiles: map[core.UserID]core.Profile{},
		entries:  map[core.EntryID]core.Entry{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) EnsureProfile(_ context.Context, def core.Profile) (core.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[def.UserID]; ok {
		return p.Clone(), nil
	}
	if s.persist != nil {
		snap := s.snapshotLocked(map[core.UserID]core.Profile{def.UserID: def}, nil)
		if err := s.persist(snap); err != nil {
			return core.Profile{}, err
		}
	}
	s.profiles[def.UserID] = def.Clone()
	return def.Clone(), nil
}

func (s *Store) RunTx(ctx context.Context, fn func(ctx context.Context, tx engine.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{
		store:    s,
		profiles: map[core.UserID]core.Profile{},
		entries:  map[core.EntryID]*core.Entry{},
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.persist != nil && tx.dirty() {
		if err := s.persist(s.snapshotLocked(tx.profiles, tx.entries)); err != nil {
			return err
		}
	}
	for id, p := range tx.profiles {
		s.profiles[id] = p
	}
	for id, e := range tx.entries {
		if e == nil {
			delete(s.entries, id)
			continue
		}
		s.entries[id] = *e
	}
	return nil
}

func (s *Store) GetProfile(_ context.Context, user core.UserID) (core.Profile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[user]
	if !ok {
		return core.Profile{}, false, nil
	}
	return p.Clone(), true, nil
}

func (s *Store) GetEntry(_ context.Context, id core.EntryID) (core.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok, nil
}

func (s *Store) ListEntries(_ context.Context, user core.UserID, since time.Time) ([]core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.Entry{}
	for _, e := range s.entries {
		if e.UserID != user || e.CreatedAt.Before(since) {
			continue
		}
		out = append(out, e)
	}
	core.SortNewestFirst(out)
	return out, nil
}

// Snapshot returns a copy of the whole store.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(nil, nil)
}

func (s *Store) snapshotLocked(profiles map[core.UserID]core.Profile, entries map[core.EntryID]*core.Entry) Snapshot {
	snap := Snapshot{Profiles: []core.Profile{}, Entries: []core.Entry{}}
	for id, p := range s.profiles {
		if _, overridden := profiles[id]; overridden {
			continue
		}
		snap.Profiles = append(snap.Profiles, p.Clone())
	}
	for _, p := range profiles {
		snap.Profiles = append(snap.Profiles, p.Clone())
	}
	for id, e := range s.entries {
		if _, overridden := entries[id]; overridden {
			continue
		}
		snap.Entries = append(snap.Entries, e)
	}
	for _, e := range entries {
		if e != nil {
			snap.Entries = append(snap.Entries, *e)
		}
	}
	slices.SortFunc(snap.Profiles, func(a, b core.Profile) int {
		switch {
		case a.UserID < b.UserID:
			return -1
		case a.UserID > b.UserID:
			return 1
		}
		return 0
	})
	core.SortNewestFirst(snap.Entries)
	return snap
}

// memTx reads through its own pending writes to the store. The store mutex is
// held for its whole lifetime.
type memTx struct {
	store    *Store
	profiles map[core.UserID]core.Profile
	entries  map[core.EntryID]*core.Entry
}

func (t *memTx) dirty() bool { return len(t.profiles) > 0 || len(t.entries) > 0 }

func (t *memTx) Profile(user core.UserID) (core.Profile, bool, error) {
	if p, ok := t.profiles[user]; ok {
		return p.Clone(), true, nil
	}
	p, ok := t.store.profiles[user]
	if !ok {
		return core.Profile{}, false, nil
	}
	return p.Clone(), true, nil
}

func (t *memTx) PutProfile(p core.Profile) error {
	t.profiles[p.UserID] = p.Clone()
	return nil
}

func (t *memTx) Entry(id core.EntryID) (core.Entry, bool, error) {
	if e, ok := t.entries[id]; ok {
		if e == nil {
			return core.Entry{}, false, nil
		}
		return *e, true, nil
	}
	e, ok := t.store.entries[id]
	return e, ok, nil
}

func (t *memTx) PutEntry(e core.Entry) error {
	t.entries[e.ID] = &e
	return nil
}

func (t *memTx) DeleteEntry(id core.EntryID) error {
	t.entries[id] = nil
	return nil
}

var _ engine.Storage = (*Store)(nil)
