package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"localloop/core"
	"localloop/engine"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// KeyPrefix namespaces every key the store writes.
	KeyPrefix string
	// MaxTxRetries bounds optimistic transaction retries on contention.
	MaxTxRetries uint64
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "impact",
		MaxTxRetries: 10,
	}
}

// Store implements engine.Storage on Redis.
// Data structure:
// - {prefix}:profile:{user_id} -> JSON profile
// - {prefix}:entry:{entry_id} -> JSON entry
// - {prefix}:user:{user_id}:entries -> sorted set of entry ids scored by creation time (ms)
//
// Transactions use WATCH on every key read and commit with MULTI/EXEC,
// retrying with exponential backoff when a watched key changes.
type Store struct {
	client     *redis.Client
	prefix     string
	maxRetries uint64
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := NewWithClient(client)
	if config.KeyPrefix != "" {
		s.prefix = config.KeyPrefix
	}
	if config.MaxTxRetries > 0 {
		s.maxRetries = config.MaxTxRetries
	}
	return s, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	d := DefaultConfig()
	return &Store{client: client, prefix: d.KeyPrefix, maxRetries: d.MaxTxRetries}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) profileKey(user core.UserID) string {
	return fmt.Sprintf("%s:profile:%s", s.prefix, user)
}

func (s *Store) entryKey(id core.EntryID) string {
	return fmt.Sprintf("%s:entry:%s", s.prefix, id)
}

func (s *Store) userEntriesKey(user core.UserID) string {
	return fmt.Sprintf("%s:user:%s:entries", s.prefix, user)
}

// EnsureProfile writes def with SETNX so concurrent first writes agree on a
// single profile document.
func (s *Store) EnsureProfile(ctx context.Context, def core.Profile) (core.Profile, error) {
	data, err := json.Marshal(def)
	if err != nil {
		return core.Profile{}, err
	}
	created, err := s.client.SetNX(ctx, s.profileKey(def.UserID), data, 0).Result()
	if err != nil {
		return core.Profile{}, fmt.Errorf("failed to create profile: %w", err)
	}
	if created {
		return def.Clone(), nil
	}
	p, found, err := s.GetProfile(ctx, def.UserID)
	if err != nil {
		return core.Profile{}, err
	}
	if !found {
		return core.Profile{}, core.ErrProfileMissing
	}
	return p, nil
}

func (s *Store) RunTx(ctx context.Context, fn func(ctx context.Context, tx engine.Tx) error) error {
	attempt := func() error {
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			t := newRedisTx(ctx, s, rtx)
			if err := fn(ctx, t); err != nil {
				return err
			}
			if !t.dirty() {
				return nil
			}
			_, err := rtx.TxPipelined(ctx, t.apply)
			return err
		})
		if errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond
	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(policy, s.maxRetries), ctx))
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("transaction kept conflicting: %w", err)
	}
	return err
}

func (s *Store) GetProfile(ctx context.Context, user core.UserID) (core.Profile, bool, error) {
	return getJSON[core.Profile](ctx, s.client, s.profileKey(user))
}

func (s *Store) GetEntry(ctx context.Context, id core.EntryID) (core.Entry, bool, error) {
	return getJSON[core.Entry](ctx, s.client, s.entryKey(id))
}

func (s *Store) ListEntries(ctx context.Context, user core.UserID, since time.Time) ([]core.Entry, error) {
	lower := "-inf"
	if !since.IsZero() {
		lower = strconv.FormatInt(since.UnixMilli(), 10)
	}
	ids, err := s.client.ZRevRangeByScore(ctx, s.userEntriesKey(user), &redis.ZRangeBy{Min: lower, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	out := []core.Entry{}
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.entryKey(core.EntryID(id))
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// index points at a deleted entry
			continue
		}
		var e core.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to decode entry: %w", err)
		}
		if e.CreatedAt.Before(since) {
			continue
		}
		out = append(out, e)
	}
	core.SortNewestFirst(out)
	return out, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getJSON[T any](ctx context.Context, c getter, key string) (T, bool, error) {
	var v T
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return v, true, nil
}

// redisTx watches every key it reads and buffers writes for the EXEC pipeline.
type redisTx struct {
	ctx      context.Context
	store    *Store
	rtx      *redis.Tx
	seen     map[core.EntryID]core.Entry
	profiles map[core.UserID]core.Profile
	entries  map[core.EntryID]*core.Entry
	deleted  map[core.EntryID]core.UserID
}

func newRedisTx(ctx context.Context, s *Store, rtx *redis.Tx) *redisTx {
	return &redisTx{
		ctx:      ctx,
		store:    s,
		rtx:      rtx,
		seen:     map[core.EntryID]core.Entry{},
		profiles: map[core.UserID]core.Profile{},
		entries:  map[core.EntryID]*core.Entry{},
		deleted:  map[core.EntryID]core.UserID{},
	}
}

func (t *redisTx) dirty() bool {
	return len(t.profiles) > 0 || len(t.entries) > 0 || len(t.deleted) > 0
}

func (t *redisTx) Profile(user core.UserID) (core.Profile, bool, error) {
	if p, ok := t.profiles[user]; ok {
		return p.Clone(), true, nil
	}
	key := t.store.profileKey(user)
	if err := t.rtx.Watch(t.ctx, key).Err(); err != nil {
		return core.Profile{}, false, err
	}
	return getJSON[core.Profile](t.ctx, t.rtx, key)
}

func (t *redisTx) PutProfile(p core.Profile) error {
	t.profiles[p.UserID] = p.Clone()
	return nil
}

func (t *redisTx) Entry(id core.EntryID) (core.Entry, bool, error) {
	if e, ok := t.entries[id]; ok {
		if e == nil {
			return core.Entry{}, false, nil
		}
		return *e, true, nil
	}
	key := t.store.entryKey(id)
	if err := t.rtx.Watch(t.ctx, key).Err(); err != nil {
		return core.Entry{}, false, err
	}
	e, found, err := getJSON[core.Entry](t.ctx, t.rtx, key)
	if found {
		t.seen[id] = e
	}
	return e, found, err
}

func (t *redisTx) PutEntry(e core.Entry) error {
	t.entries[e.ID] = &e
	delete(t.deleted, e.ID)
	return nil
}

func (t *redisTx) DeleteEntry(id core.EntryID) error {
	owner := core.UserID("")
	if e, ok := t.seen[id]; ok {
		owner = e.UserID
	} else if e, ok := t.entries[id]; ok && e != nil {
		owner = e.UserID
	}
	t.entries[id] = nil
	t.deleted[id] = owner
	return nil
}

func (t *redisTx) apply(pipe redis.Pipeliner) error {
	for user, p := range t.profiles {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		pipe.Set(t.ctx, t.store.profileKey(user), data, 0)
	}
	for id, e := range t.entries {
		if e == nil {
			continue
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		pipe.Set(t.ctx, t.store.entryKey(id), data, 0)
		pipe.ZAdd(t.ctx, t.store.userEntriesKey(e.UserID), redis.Z{
			Score:  float64(e.CreatedAt.UnixMilli()),
			Member: string(id),
		})
	}
	for id, owner := range t.deleted {
		pipe.Del(t.ctx, t.store.entryKey(id))
		if owner != "" {
			pipe.ZRem(t.ctx, t.store.userEntriesKey(owner), string(id))
		}
	}
	return nil
}

var _ engine.Storage = (*Store)(nil)
