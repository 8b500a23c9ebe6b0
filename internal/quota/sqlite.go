package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/compresr/session-gateway/internal/models"
)

const credentialSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	api_key      TEXT PRIMARY KEY,
	tier         TEXT    NOT NULL DEFAULT 'basic',
	usage        INTEGER NOT NULL DEFAULT 0,
	usage_limit  INTEGER NOT NULL DEFAULT 0,
	status       TEXT    NOT NULL DEFAULT 'pending',
	valid_days   INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL,
	activated_at INTEGER NOT NULL DEFAULT 0,
	expires_at   INTEGER NOT NULL DEFAULT 0
)`

const credentialColumns = `api_key, tier, usage, usage_limit, status, valid_days, created_at, activated_at, expires_at`

// SQLiteStore persists credentials in a SQLite table.
// Usage increments are single UPDATE statements, so they are atomic per row.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the credentials table if missing.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, credentialSchema); err != nil {
		return nil, fmt.Errorf("create credentials table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE api_key = ?`, key)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, c *Credential) error {
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credentials (`+credentialColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(api_key) DO UPDATE SET
	tier = excluded.tier, usage = excluded.usage, usage_limit = excluded.usage_limit,
	status = excluded.status, valid_days = excluded.valid_days, created_at = excluded.created_at,
	activated_at = excluded.activated_at, expires_at = excluded.expires_at`,
		c.Key, string(c.Tier), c.Usage, c.Limit, string(c.Status), c.ValidDays,
		toMillis(created), toMillis(c.ActivatedAt), toMillis(c.ExpiresAt))
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

// AddUsage implements Store. The limit check and the increment are one statement.
func (s *SQLiteStore) AddUsage(ctx context.Context, key string, amount int64) (int64, error) {
	var usage int64
	err := s.db.QueryRowContext(ctx, `
UPDATE credentials SET usage = usage + ?
WHERE api_key = ? AND (usage_limit <= 0 OR usage < usage_limit)
RETURNING usage`, amount, key).Scan(&usage)
	if errors.Is(err, sql.ErrNoRows) {
		c, gerr := s.Get(ctx, key)
		if gerr != nil {
			return 0, gerr
		}
		return c.Usage, ErrQuotaExceeded
	}
	if err != nil {
		return 0, fmt.Errorf("add usage: %w", err)
	}
	return usage, nil
}

// Activate implements Store.
func (s *SQLiteStore) Activate(ctx context.Context, key string, now time.Time) (*Credential, bool, error) {
	nowMs := toMillis(now)
	res, err := s.db.ExecContext(ctx, `
UPDATE credentials SET
	status = 'active',
	activated_at = ?,
	expires_at = CASE WHEN valid_days > 0 THEN ? + valid_days * 86400000 ELSE 0 END
WHERE api_key = ? AND status = 'pending'`, nowMs, nowMs, key)
	if err != nil {
		return nil, false, fmt.Errorf("activate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("activate: %w", err)
	}

	c, err := s.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return c, n > 0, nil
}

// SetStatus implements Store.
func (s *SQLiteStore) SetStatus(ctx context.Context, key string, status Status) error {
	return s.execOne(ctx, `UPDATE credentials SET status = ? WHERE api_key = ?`, string(status), key)
}

// ResetUsage implements Store.
func (s *SQLiteStore) ResetUsage(ctx context.Context, key string) error {
	return s.execOne(ctx, `UPDATE credentials SET usage = 0 WHERE api_key = ?`, key)
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]Credential, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+credentialColumns+` FROM credentials ORDER BY created_at, api_key`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(r rowScanner) (*Credential, error) {
	var (
		c                           Credential
		tier, status                string
		created, activated, expires int64
	)
	if err := r.Scan(&c.Key, &tier, &c.Usage, &c.Limit, &status, &c.ValidDays, &created, &activated, &expires); err != nil {
		return nil, err
	}
	c.Tier = models.ParseTier(tier)
	c.Status = Status(status)
	c.CreatedAt = fromMillis(created)
	c.ActivatedAt = fromMillis(activated)
	c.ExpiresAt = fromMillis(expires)
	return &c, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

var _ Store = (*SQLiteStore)(nil)
