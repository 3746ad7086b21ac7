package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"localloop/core"
	"localloop/engine"
)

const (
	usersCollection   = "users"
	entriesCollection = "impactEntries"
	eventsCollection  = "events"
)

// Config selects the Firestore project and database.
type Config struct {
	ProjectID string
	// DatabaseID defaults to "(default)".
	DatabaseID string
}

// Store implements engine.Storage on Firestore, sharing the users collection
// with the rest of the app:
// - users/{uid}: impact fields merged into the existing user document
// - impactEntries/{id}: the ledger
type Store struct {
	client *firestore.Client
}

// New dials Firestore. FIRESTORE_EMULATOR_HOST is honoured by the client.
func New(ctx context.Context, cfg Config) (*Store, error) {
	db := cfg.DatabaseID
	if db == "" {
		db = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, cfg.ProjectID, db)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &Store{client: client}, nil
}

func NewWithClient(client *firestore.Client) *Store { return &Store{client: client} }

func (s *Store) Client() *firestore.Client { return s.client }

func (s *Store) Close() error { return s.client.Close() }

type profileDoc struct {
	TotalPoints         int64              `firestore:"totalPoints"`
	CurrentBadge        string             `firestore:"currentBadge"`
	BadgesEarned        []string           `firestore:"badgesEarned"`
	Achievements        []core.Achievement `firestore:"achievements"`
	LastBadgeUnlockedAt *time.Time         `firestore:"lastBadgeUnlockedAt"`
	ImpactCreatedAt     time.Time          `firestore:"impactCreatedAt"`
	ImpactUpdatedAt     time.Time          `firestore:"impactUpdatedAt"`
}

// profileFields is the merge payload for a user document. Other fields the
// app keeps on users/{uid} are left alone.
func profileFields(p core.Profile) map[string]any {
	fields := map[string]any{
		"totalPoints":     p.TotalPoints,
		"currentBadge":    p.CurrentBadge,
		"badgesEarned":    nonNil(p.BadgesEarned),
		"achievements":    nonNil(p.Achievements),
		"impactCreatedAt": p.CreatedAt,
		"impactUpdatedAt": p.UpdatedAt,
	}
	if p.LastBadgeUnlockedAt != nil {
		fields["lastBadgeUnlockedAt"] = *p.LastBadgeUnlockedAt
	}
	return fields
}

func toProfile(user core.UserID, snap *firestore.DocumentSnapshot) (core.Profile, bool, error) {
	// a user document without impact fields has no impact profile yet
	if _, err := snap.DataAt("totalPoints"); err != nil {
		return core.Profile{}, false, nil
	}
	var d profileDoc
	if err := snap.DataTo(&d); err != nil {
		return core.Profile{}, false, fmt.Errorf("unmarshal profile: %w", err)
	}
	p := core.Profile{
		UserID:              user,
		TotalPoints:         d.TotalPoints,
		CurrentBadge:        d.CurrentBadge,
		BadgesEarned:        d.BadgesEarned,
		Achievements:        d.Achievements,
		LastBadgeUnlockedAt: d.LastBadgeUnlockedAt,
		CreatedAt:           d.ImpactCreatedAt,
		UpdatedAt:           d.ImpactUpdatedAt,
	}
	return p.Clone(), true, nil
}

type entryDoc struct {
	UserID    string     `firestore:"userId"`
	Type      string     `firestore:"type"`
	Summary   string     `firestore:"summary"`
	Points    int64      `firestore:"points"`
	Source    string     `firestore:"source"`
	CreatedAt time.Time  `firestore:"createdAt"`
	UpdatedAt *time.Time `firestore:"updatedAt,omitempty"`
}

func toEntryDoc(e core.Entry) entryDoc {
	return entryDoc{
		UserID:    string(e.UserID),
		Type:      string(e.Type),
		Summary:   e.Summary,
		Points:    e.Points,
		Source:    string(e.Source),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func toEntry(snap *firestore.DocumentSnapshot) (core.Entry, error) {
	var d entryDoc
	if err := snap.DataTo(&d); err != nil {
		return core.Entry{}, fmt.Errorf("unmarshal entry: %w", err)
	}
	return core.Entry{
		ID:        core.EntryID(snap.Ref.ID),
		UserID:    core.UserID(d.UserID),
		Type:      core.ActionType(d.Type),
		Summary:   d.Summary,
		Points:    d.Points,
		Source:    core.Source(d.Source),
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt,
	}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (s *Store) userRef(user core.UserID) *firestore.DocumentRef {
	return s.client.Collection(usersCollection).Doc(string(user))
}

func (s *Store) entryRef(id core.EntryID) *firestore.DocumentRef {
	return s.client.Collection(entriesCollection).Doc(string(id))
}

// EnsureProfile merges default impact fields into users/{uid} unless they
// are already there.
func (s *Store) EnsureProfile(ctx context.Context, def core.Profile) (core.Profile, error) {
	var out core.Profile
	ref := s.userRef(def.UserID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			p, found, err := toProfile(def.UserID, snap)
			if err != nil {
				return err
			}
			if found {
				out = p
				return nil
			}
		}
		out = def.Clone()
		return tx.Set(ref, profileFields(def), firestore.MergeAll)
	})
	if err != nil {
		return core.Profile{}, fmt.Errorf("failed to ensure profile: %w", err)
	}
	return out, nil
}

// RunTx wraps a Firestore transaction. Writes are buffered until fn returns,
// which keeps every read ahead of the first write.
func (s *Store) RunTx(ctx context.Context, fn func(ctx context.Context, tx engine.Tx) error) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		t := &fsTx{
			store:    s,
			tx:       tx,
			profiles: map[core.UserID]core.Profile{},
			entries:  map[core.EntryID]*core.Entry{},
		}
		if err := fn(ctx, t); err != nil {
			return err
		}
		return t.flush()
	})
}

func (s *Store) GetProfile(ctx context.Context, user core.UserID) (core.Profile, bool, error) {
	snap, err := s.userRef(user).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return core.Profile{}, false, nil
	}
	if err != nil {
		return core.Profile{}, false, fmt.Errorf("failed to get profile: %w", err)
	}
	return toProfile(user, snap)
}

func (s *Store) GetEntry(ctx context.Context, id core.EntryID) (core.Entry, bool, error) {
	snap, err := s.entryRef(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return core.Entry{}, false, nil
	}
	if err != nil {
		return core.Entry{}, false, fmt.Errorf("failed to get entry: %w", err)
	}
	e, err := toEntry(snap)
	return e, err == nil, err
}

func (s *Store) ListEntries(ctx context.Context, user core.UserID, since time.Time) ([]core.Entry, error) {
	q := s.client.Collection(entriesCollection).Where("userId", "==", string(user))
	if !since.IsZero() {
		q = q.Where("createdAt", ">=", since)
	}
	iter := q.OrderBy("createdAt", firestore.Desc).Documents(ctx)
	defer iter.Stop()

	out := []core.Entry{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list entries: %w", err)
		}
		e, err := toEntry(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	core.SortNewestFirst(out)
	return out, nil
}

// Organizer implements marketplace.EventDirectory from the events collection.
func (s *Store) Organizer(ctx context.Context, eventID string) (string, bool, error) {
	snap, err := s.client.Collection(eventsCollection).Doc(eventID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	v, err := snap.DataAt("createdBy")
	if err != nil {
		return "", true, nil
	}
	org, _ := v.(string)
	return org, true, nil
}

type fsTx struct {
	store    *Store
	tx       *firestore.Transaction
	profiles map[core.UserID]core.Profile
	entries  map[core.EntryID]*core.Entry
}

func (t *fsTx) Profile(user core.UserID) (core.Profile, bool, error) {
	if p, ok := t.profiles[user]; ok {
		return p.Clone(), true, nil
	}
	snap, err := t.tx.Get(t.store.userRef(user))
	if status.Code(err) == codes.NotFound {
		return core.Profile{}, false, nil
	}
	if err != nil {
		return core.Profile{}, false, err
	}
	return toProfile(user, snap)
}

func (t *fsTx) PutProfile(p core.Profile) error {
	t.profiles[p.UserID] = p.Clone()
	return nil
}

func (t *fsTx) Entry(id core.EntryID) (core.Entry, bool, error) {
	if e, ok := t.entries[id]; ok {
		if e == nil {
			return core.Entry{}, false, nil
		}
		return *e, true, nil
	}
	snap, err := t.tx.Get(t.store.entryRef(id))
	if status.Code(err) == codes.NotFound {
		return core.Entry{}, false, nil
	}
	if err != nil {
		return core.Entry{}, false, err
	}
	e, err := toEntry(snap)
	return e, err == nil, err
}

func (t *fsTx) PutEntry(e core.Entry) error {
	t.entries[e.ID] = &e
	return nil
}

func (t *fsTx) DeleteEntry(id core.EntryID) error {
	t.entries[id] = nil
	return nil
}

func (t *fsTx) flush() error {
	for id, e := range t.entries {
		ref := t.store.entryRef(id)
		if e == nil {
			if err := t.tx.Delete(ref); err != nil {
				return err
			}
			continue
		}
		if err := t.tx.Set(ref, toEntryDoc(*e)); err != nil {
			return err
		}
	}
	for user, p := range t.profiles {
		if err := t.tx.Set(t.store.userRef(user), profileFields(p), firestore.MergeAll); err != nil {
			return err
		}
	}
	return nil
}

var _ engine.Storage = (*Store)(nil)
