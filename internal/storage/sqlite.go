package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"hydronotify/internal/model"
	"hydronotify/pkg/logx"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

const prefColumns = `id, user_id, display_name, preferred_channel, reminders_enabled,
	phone_number, email, frequency, tone, timezone, updated_at`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite store ready", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPreference(r rowScanner) (model.Preference, error) {
	var (
		p       model.Preference
		ch, fr  string
		tone    string
		enabled bool
		updated int64
	)
	if err := r.Scan(&p.ID, &p.UserID, &p.DisplayName, &ch, &enabled,
		&p.PhoneNumber, &p.Email, &fr, &tone, &p.Timezone, &updated); err != nil {
		return model.Preference{}, err
	}
	p.PreferredChannel = model.Channel(ch)
	p.Frequency = model.Frequency(fr)
	p.Tone = model.Tone(tone)
	p.RemindersEnabled = enabled
	p.UpdatedAt = time.Unix(0, updated).UTC()
	return p, nil
}

func (s *sqliteStore) queryPreferences(ctx context.Context, q sqlQuerier, query string, args ...any) ([]model.Preference, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Preference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *sqliteStore) PreferenceCandidates(ctx context.Context, userID string) ([]model.Preference, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	return s.queryPreferences(ctx, s.db, `SELECT `+prefColumns+` FROM preferences WHERE user_id = ?`, userID)
}

func (s *sqliteStore) SavePreference(ctx context.Context, userID string, u model.PreferenceUpdate) (model.Preference, error) {
	if s == nil || s.db == nil {
		return model.Preference{}, ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Preference{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cands, err := s.queryPreferences(ctx, tx, `SELECT `+prefColumns+` FROM preferences WHERE user_id = ?`, userID)
	if err != nil {
		return model.Preference{}, err
	}
	p, err := mergeSave(cands, userID, u, time.Now())
	if err != nil {
		return model.Preference{}, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO preferences(`+prefColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   display_name=excluded.display_name, preferred_channel=excluded.preferred_channel,
		   reminders_enabled=excluded.reminders_enabled, phone_number=excluded.phone_number,
		   email=excluded.email, frequency=excluded.frequency, tone=excluded.tone,
		   timezone=excluded.timezone, updated_at=excluded.updated_at`,
		p.ID, p.UserID, p.DisplayName, string(p.PreferredChannel), p.RemindersEnabled,
		p.PhoneNumber, p.Email, string(p.Frequency), string(p.Tone), p.Timezone, p.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return model.Preference{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Preference{}, err
	}
	return p, nil
}

func (s *sqliteStore) ReminderRecipients(ctx context.Context) ([]model.Preference, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.queryPreferences(ctx, s.db, `SELECT `+prefColumns+` FROM preferences ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	return latestPerUser(rows), nil
}

func (s *sqliteStore) ClaimDedup(ctx context.Context, key string, until time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until WHERE dedup.until <= ?`,
		key, until.UnixMilli(), now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, _ = s.db.ExecContext(pctx, `DELETE FROM dedup WHERE until <= ?`, now)
		cancel()
	}
	return n > 0, nil
}

func (s *sqliteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrDisabled
	}
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *sqliteStore) Set(ctx context.Context, key string, val []byte) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, val, time.Now().UnixMilli(),
	)
	return err
}

// insertRaw writes a record without merging. Tests use it to seed duplicates.
func (s *sqliteStore) insertRaw(ctx context.Context, p model.Preference) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO preferences(`+prefColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.UserID, p.DisplayName, string(p.PreferredChannel), p.RemindersEnabled,
		p.PhoneNumber, p.Email, string(p.Frequency), string(p.Tone), p.Timezone, p.UpdatedAt.UnixNano())
	return err
}
