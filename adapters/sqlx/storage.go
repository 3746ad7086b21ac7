package sqlx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"localloop/core"
	"localloop/engine"
)

// Driver names a supported database/sql driver.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverSQLite   Driver = "sqlite"
)

// Config holds SQL connection configuration.
type Config struct {
	Driver          Driver
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// AutoMigrate creates the tables on startup when they are missing.
	AutoMigrate bool
}

// DefaultConfig returns connection defaults for driver.
func DefaultConfig(driver Driver) Config {
	c := Config{
		Driver:          driver,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		AutoMigrate:     true,
	}
	switch driver {
	case DriverPostgres:
		c.DSN = "postgres://localhost:5432/localloop?sslmode=disable"
	case DriverMySQL:
		c.DSN = "root@tcp(localhost:3306)/localloop?parseTime=true"
	case DriverSQLite:
		c.DSN = "file:localloop.db?_pragma=busy_timeout(5000)"
		// writes are serialized by sqlite anyway
		c.MaxOpenConns = 1
		c.MaxIdleConns = 1
	}
	return c
}

// Store implements engine.Storage on a relational database.
// Tables:
// - impact_profiles: one row per user; badge lists are JSON text columns
// - impact_entries: the ledger, indexed by (user_id, created_at)
// Timestamps are stored as unix nanoseconds.
type Store struct {
	db     *sqlx.DB
	driver Driver
}

// New opens a connection pool and, if configured, migrates the schema.
func New(cfg Config) (*Store, error) {
	switch cfg.Driver {
	case DriverPostgres, DriverMySQL, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}
	db, err := sqlx.Connect(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	s := NewWithDB(db, cfg.Driver)
	if cfg.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an existing handle (useful for testing).
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the impact tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema(s.driver) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

func schema(driver Driver) []string {
	profiles := `CREATE TABLE IF NOT EXISTS impact_profiles (
	user_id VARCHAR(191) NOT NULL PRIMARY KEY,
	total_points BIGINT NOT NULL DEFAULT 0,
	current_badge VARCHAR(191) NOT NULL DEFAULT '',
	badges_earned TEXT NOT NULL,
	achievements TEXT NOT NULL,
	last_badge_unlocked_at BIGINT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
)`
	if driver == DriverMySQL {
		return []string{profiles, `CREATE TABLE IF NOT EXISTS impact_entries (
	id VARCHAR(191) NOT NULL PRIMARY KEY,
	user_id VARCHAR(191) NOT NULL,
	type VARCHAR(191) NOT NULL,
	summary TEXT NOT NULL,
	points BIGINT NOT NULL,
	source VARCHAR(32) NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NULL,
	INDEX idx_impact_entries_user_created (user_id, created_at)
)`}
	}
	return []string{profiles, `CREATE TABLE IF NOT EXISTS impact_entries (
	id VARCHAR(191) NOT NULL PRIMARY KEY,
	user_id VARCHAR(191) NOT NULL,
	type VARCHAR(191) NOT NULL,
	summary TEXT NOT NULL,
	points BIGINT NOT NULL,
	source VARCHAR(32) NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NULL
)`, `CREATE INDEX IF NOT EXISTS idx_impact_entries_user_created ON impact_entries (user_id, created_at)`}
}

const (
	profileColumns = `user_id, total_points, current_badge, badges_earned, achievements, last_badge_unlocked_at, created_at, updated_at`
	entryColumns   = `id, user_id, type, summary, points, source, created_at, updated_at`
)

type profileRow struct {
	UserID              string        `db:"user_id"`
	TotalPoints         int64         `db:"total_points"`
	CurrentBadge        string        `db:"current_badge"`
	BadgesEarned        string        `db:"badges_earned"`
	Achievements        string        `db:"achievements"`
	LastBadgeUnlockedAt sql.NullInt64 `db:"last_badge_unlocked_at"`
	CreatedAt           int64         `db:"created_at"`
	UpdatedAt           int64         `db:"updated_at"`
}

func toProfileRow(p core.Profile) (profileRow, error) {
	badges, err := json.Marshal(nonNil(p.BadgesEarned))
	if err != nil {
		return profileRow{}, err
	}
	achievements, err := json.Marshal(nonNil(p.Achievements))
	if err != nil {
		return profileRow{}, err
	}
	r := profileRow{
		UserID:       string(p.UserID),
		TotalPoints:  p.TotalPoints,
		CurrentBadge: p.CurrentBadge,
		BadgesEarned: string(badges),
		Achievements: string(achievements),
		CreatedAt:    p.CreatedAt.UnixNano(),
		UpdatedAt:    p.UpdatedAt.UnixNano(),
	}
	if p.LastBadgeUnlockedAt != nil {
		r.LastBadgeUnlockedAt = sql.NullInt64{Int64: p.LastBadgeUnlockedAt.UnixNano(), Valid: true}
	}
	return r, nil
}

func (r profileRow) profile() (core.Profile, error) {
	p := core.Profile{
		UserID:       core.UserID(r.UserID),
		TotalPoints:  r.TotalPoints,
		CurrentBadge: r.CurrentBadge,
		CreatedAt:    fromNanos(r.CreatedAt),
		UpdatedAt:    fromNanos(r.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(r.BadgesEarned), &p.BadgesEarned); err != nil {
		return core.Profile{}, fmt.Errorf("decode badges_earned: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Achievements), &p.Achievements); err != nil {
		return core.Profile{}, fmt.Errorf("decode achievements: %w", err)
	}
	if r.LastBadgeUnlockedAt.Valid {
		t := fromNanos(r.LastBadgeUnlockedAt.Int64)
		p.LastBadgeUnlockedAt = &t
	}
	return p.Clone(), nil
}

type entryRow struct {
	ID        string        `db:"id"`
	UserID    string        `db:"user_id"`
	Type      string        `db:"type"`
	Summary   string        `db:"summary"`
	Points    int64         `db:"points"`
	Source    string        `db:"source"`
	CreatedAt int64         `db:"created_at"`
	UpdatedAt sql.NullInt64 `db:"updated_at"`
}

func toEntryRow(e core.Entry) entryRow {
	r := entryRow{
		ID:        string(e.ID),
		UserID:    string(e.UserID),
		Type:      string(e.Type),
		Summary:   e.Summary,
		Points:    e.Points,
		Source:    string(e.Source),
		CreatedAt: e.CreatedAt.UnixNano(),
	}
	if e.UpdatedAt != nil {
		r.UpdatedAt = sql.NullInt64{Int64: e.UpdatedAt.UnixNano(), Valid: true}
	}
	return r
}

func (r entryRow) entry() core.Entry {
	e := core.Entry{
		ID:        core.EntryID(r.ID),
		UserID:    core.UserID(r.UserID),
		Type:      core.ActionType(r.Type),
		Summary:   r.Summary,
		Points:    r.Points,
		Source:    core.Source(r.Source),
		CreatedAt: fromNanos(r.CreatedAt),
	}
	if r.UpdatedAt.Valid {
		t := fromNanos(r.UpdatedAt.Int64)
		e.UpdatedAt = &t
	}
	return e
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (s *Store) EnsureProfile(ctx context.Context, def core.Profile) (core.Profile, error) {
	row, err := toProfileRow(def)
	if err != nil {
		return core.Profile{}, err
	}
	insert := `INSERT INTO impact_profiles (` + profileColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (user_id) DO NOTHING`
	if s.driver == DriverMySQL {
		insert = `INSERT IGNORE INTO impact_profiles (` + profileColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(insert),
		row.UserID, row.TotalPoints, row.CurrentBadge, row.BadgesEarned, row.Achievements,
		row.LastBadgeUnlockedAt, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return core.Profile{}, fmt.Errorf("failed to create profile: %w", err)
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
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(ctx, &sqlTx{ctx: ctx, tx: tx, driver: s.driver}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, user core.UserID) (core.Profile, bool, error) {
	return getProfile(ctx, s.db, s.db.Rebind(`SELECT `+profileColumns+` FROM impact_profiles WHERE user_id = ?`), user)
}

func (s *Store) GetEntry(ctx context.Context, id core.EntryID) (core.Entry, bool, error) {
	return getEntry(ctx, s.db, s.db.Rebind(`SELECT `+entryColumns+` FROM impact_entries WHERE id = ?`), id)
}

func (s *Store) ListEntries(ctx context.Context, user core.UserID, since time.Time) ([]core.Entry, error) {
	q := `SELECT ` + entryColumns + ` FROM impact_entries WHERE user_id = ?`
	args := []any{string(user)}
	if !since.IsZero() {
		q += ` AND created_at >= ?`
		args = append(args, since.UnixNano())
	}
	q += ` ORDER BY created_at DESC, id DESC`

	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	out := make([]core.Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entry())
	}
	return out, nil
}

func getProfile(ctx context.Context, q sqlx.QueryerContext, query string, user core.UserID) (core.Profile, bool, error) {
	var row profileRow
	err := sqlx.GetContext(ctx, q, &row, query, string(user))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Profile{}, false, nil
	}
	if err != nil {
		return core.Profile{}, false, fmt.Errorf("failed to get profile: %w", err)
	}
	p, err := row.profile()
	if err != nil {
		return core.Profile{}, false, err
	}
	return p, true, nil
}

func getEntry(ctx context.Context, q sqlx.QueryerContext, query string, id core.EntryID) (core.Entry, bool, error) {
	var row entryRow
	err := sqlx.GetContext(ctx, q, &row, query, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, false, nil
	}
	if err != nil {
		return core.Entry{}, false, fmt.Errorf("failed to get entry: %w", err)
	}
	return row.entry(), true, nil
}

// sqlTx locks the rows it reads on servers that support FOR UPDATE; sqlite
// serializes writers on its own.
type sqlTx struct {
	ctx    context.Context
	tx     *sqlx.Tx
	driver Driver
}

func (t *sqlTx) lockSuffix() string {
	if t.driver == DriverSQLite {
		return ""
	}
	return ` FOR UPDATE`
}

func (t *sqlTx) Profile(user core.UserID) (core.Profile, bool, error) {
	q := t.tx.Rebind(`SELECT ` + profileColumns + ` FROM impact_profiles WHERE user_id = ?` + t.lockSuffix())
	return getProfile(t.ctx, t.tx, q, user)
}

func (t *sqlTx) PutProfile(p core.Profile) error {
	row, err := toProfileRow(p)
	if err != nil {
		return err
	}
	q := `INSERT INTO impact_profiles (` + profileColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET total_points = excluded.total_points, current_badge = excluded.current_badge,
badges_earned = excluded.badges_earned, achievements = excluded.achievements,
last_badge_unlocked_at = excluded.last_badge_unlocked_at, updated_at = excluded.updated_at`
	if t.driver == DriverMySQL {
		q = `INSERT INTO impact_profiles (` + profileColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE total_points = VALUES(total_points), current_badge = VALUES(current_badge),
badges_earned = VALUES(badges_earned), achievements = VALUES(achievements),
last_badge_unlocked_at = VALUES(last_badge_unlocked_at), updated_at = VALUES(updated_at)`
	}
	_, err = t.tx.ExecContext(t.ctx, t.tx.Rebind(q),
		row.UserID, row.TotalPoints, row.CurrentBadge, row.BadgesEarned, row.Achievements,
		row.LastBadgeUnlockedAt, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

func (t *sqlTx) Entry(id core.EntryID) (core.Entry, bool, error) {
	q := t.tx.Rebind(`SELECT ` + entryColumns + ` FROM impact_entries WHERE id = ?` + t.lockSuffix())
	return getEntry(t.ctx, t.tx, q, id)
}

func (t *sqlTx) PutEntry(e core.Entry) error {
	row := toEntryRow(e)
	q := `INSERT INTO impact_entries (` + entryColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET type = excluded.type, summary = excluded.summary, updated_at = excluded.updated_at`
	if t.driver == DriverMySQL {
		q = `INSERT INTO impact_entries (` + entryColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE type = VALUES(type), summary = VALUES(summary), updated_at = VALUES(updated_at)`
	}
	_, err := t.tx.ExecContext(t.ctx, t.tx.Rebind(q),
		row.ID, row.UserID, row.Type, row.Summary, row.Points, row.Source, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}
	return nil
}

func (t *sqlTx) DeleteEntry(id core.EntryID) error {
	if _, err := t.tx.ExecContext(t.ctx, t.tx.Rebind(`DELETE FROM impact_entries WHERE id = ?`), string(id)); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}

var _ engine.Storage = (*Store)(nil)
