package engine

import (
	"context"
	"time"

	"localloop/core"
)

// Tx is a unit of work against the impact collections. Implementations may
// require every read to happen before the first write (Firestore does), so
// callers read first and write last.
type Tx interface {
	// Profile loads a profile for update. found is false when none exists.
	Profile(user core.UserID) (p core.Profile, found bool, err error)
	PutProfile(p core.Profile) error
	Entry(id core.EntryID) (e core.Entry, found bool, err error)
	PutEntry(e core.Entry) error
	DeleteEntry(id core.EntryID) error
}

// Storage abstracts persistence for impact profiles and ledger entries.
type Storage interface {
	// EnsureProfile stores def unless a profile for def.UserID already exists,
	// and returns whichever profile is stored afterwards.
	EnsureProfile(ctx context.Context, def core.Profile) (core.Profile, error)
	// RunTx runs fn atomically: either every write it makes commits or none
	// does. fn may be invoked more than once when the store retries on
	// contention, so it must not have side effects outside tx.
	RunTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetProfile(ctx context.Context, user core.UserID) (core.Profile, bool, error)
	GetEntry(ctx context.Context, id core.EntryID) (core.Entry, bool, error)
	// ListEntries returns the user's entries created at or after since,
	// newest first. A zero since means no lower bound.
	ListEntries(ctx context.Context, user core.UserID, since time.Time) ([]core.Entry, error)
}
