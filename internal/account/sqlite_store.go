package account

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable Store backend. It keeps an in-memory cache of
// decoded accounts guarded by a RWMutex, mirroring the way the conductor
// keeps a live in-memory account map and calls out to disk only on writes;
// reads never touch the database.
type SQLiteStore struct {
	db *sql.DB

	mu    sync.RWMutex
	cache map[string]*Account
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL,
	tier INTEGER NOT NULL DEFAULT 0,
	disabled INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'active',
	disabled_reason TEXT,
	forbidden INTEGER NOT NULL DEFAULT 0,
	access_token TEXT,
	refresh_token TEXT,
	expiry INTEGER,
	project_id TEXT,
	quota_json TEXT,
	model_states_json TEXT,
	attributes_json TEXT,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	ord INTEGER NOT NULL DEFAULT 0
);
`

// OpenSQLiteStore opens (creating if necessary) a SQLite-backed account
// store at path and loads every persisted account into memory.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open account store: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate account store: %w", err)
	}
	s := &SQLiteStore{db: db, cache: make(map[string]*Account)}
	if err := s.loadAll(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) loadAll(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, email, tier, disabled, status, disabled_reason,
		forbidden, access_token, refresh_token, expiry, project_id, quota_json,
		model_states_json, attributes_json, consecutive_failures, ord FROM accounts`)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return err
		}
		s.cache[a.ID] = a
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(rs rowScanner) (*Account, error) {
	var (
		a                    Account
		tier                 int
		disabled, forbidden  int
		expiry               sql.NullInt64
		disabledReason       sql.NullString
		projectID            sql.NullString
		quotaJSON            sql.NullString
		modelStatesJSON      sql.NullString
		attributesJSON       sql.NullString
	)
	if err := rs.Scan(&a.ID, &a.Email, &tier, &disabled, &a.Status, &disabledReason,
		&forbidden, &a.AccessToken, &a.RefreshToken, &expiry, &projectID, &quotaJSON,
		&modelStatesJSON, &attributesJSON, &a.ConsecutiveFailures, &a.Order); err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.Tier = Tier(tier)
	a.Disabled = disabled != 0
	a.Forbidden = forbidden != 0
	a.DisabledReason = disabledReason.String
	a.ProjectID = projectID.String
	if expiry.Valid {
		a.Expiry = time.Unix(expiry.Int64, 0)
	}
	if quotaJSON.Valid && quotaJSON.String != "" {
		_ = json.Unmarshal([]byte(quotaJSON.String), &a.Quota)
	}
	if modelStatesJSON.Valid && modelStatesJSON.String != "" {
		_ = json.Unmarshal([]byte(modelStatesJSON.String), &a.ModelStates)
	}
	if attributesJSON.Valid && attributesJSON.String != "" {
		_ = json.Unmarshal([]byte(attributesJSON.String), &a.Attributes)
	}
	return &a, nil
}

func (s *SQLiteStore) persist(ctx context.Context, a *Account) error {
	if a.IsRuntimeOnly() {
		return nil
	}
	quotaJSON, _ := json.Marshal(a.Quota)
	modelStatesJSON, _ := json.Marshal(a.ModelStates)
	attributesJSON, _ := json.Marshal(a.Attributes)
	var expiry any
	if !a.Expiry.IsZero() {
		expiry = a.Expiry.Unix()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO accounts (id, email, tier, disabled, status,
		disabled_reason, forbidden, access_token, refresh_token, expiry, project_id, quota_json,
		model_states_json, attributes_json, consecutive_failures, ord)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET email=excluded.email, tier=excluded.tier,
		disabled=excluded.disabled, status=excluded.status, disabled_reason=excluded.disabled_reason,
		forbidden=excluded.forbidden, access_token=excluded.access_token,
		refresh_token=excluded.refresh_token, expiry=excluded.expiry, project_id=excluded.project_id,
		quota_json=excluded.quota_json, model_states_json=excluded.model_states_json,
		attributes_json=excluded.attributes_json, consecutive_failures=excluded.consecutive_failures,
		ord=excluded.ord`,
		a.ID, a.Email, int(a.Tier), boolInt(a.Disabled), string(a.Status), a.DisabledReason,
		boolInt(a.Forbidden), a.AccessToken, a.RefreshToken, expiry, a.ProjectID,
		string(quotaJSON), string(modelStatesJSON), string(attributesJSON),
		a.ConsecutiveFailures, a.Order)
	if err != nil {
		return fmt.Errorf("persist account %s: %w", a.ID, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteStore) List(_ context.Context) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Account, 0, len(s.cache))
	for _, a := range s.cache {
		out = append(out, a.Clone())
	}
	return out, nil
}

func (s *SQLiteStore) Get(_ context.Context, id string) (*Account, error) {
	s.mu.RLock()
	a, ok := s.cache[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("account %s: not found", id)
	}
	return a.Clone(), nil
}

// Insert writes a's initial state. The write lock is released before the
// database call, matching the conductor's pattern of persisting outside the
// in-memory lock so a slow disk write never blocks a concurrent scheduler
// read.
func (s *SQLiteStore) Insert(ctx context.Context, a *Account) error {
	s.mu.Lock()
	if _, ok := s.cache[a.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("account %s: already exists", a.ID)
	}
	cp := a.Clone()
	s.cache[a.ID] = cp
	s.mu.Unlock()
	return s.persist(ctx, cp)
}

func (s *SQLiteStore) Update(ctx context.Context, a *Account) error {
	s.mu.Lock()
	if _, ok := s.cache[a.ID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("account %s: not found", a.ID)
	}
	cp := a.Clone()
	s.cache[a.ID] = cp
	s.mu.Unlock()
	return s.persist(ctx, cp)
}

func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) mutate(ctx context.Context, id string, fn func(a *Account)) error {
	s.mu.Lock()
	a, ok := s.cache[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("account %s: not found", id)
	}
	fn(a)
	cp := a.Clone()
	s.mu.Unlock()
	return s.persist(ctx, cp)
}

func (s *SQLiteStore) SetForbidden(ctx context.Context, id string, forbidden bool, reason string) error {
	return s.mutate(ctx, id, func(a *Account) {
		a.Forbidden = forbidden
		if forbidden {
			a.DisabledReason = TruncateReason(reason)
		}
	})
}

func (s *SQLiteStore) SetEnabled(ctx context.Context, id string, enabled bool, reason string) error {
	return s.mutate(ctx, id, func(a *Account) {
		a.Disabled = !enabled
		if !enabled {
			a.Status = StatusDisabled
			a.DisabledReason = TruncateReason(reason)
			a.DisabledAt = time.Now()
		} else {
			a.Status = StatusActive
			a.DisabledReason = ""
		}
	})
}

func (s *SQLiteStore) SetOrder(ctx context.Context, id string, order int) error {
	return s.mutate(ctx, id, func(a *Account) { a.Order = order })
}
