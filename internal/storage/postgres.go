package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hydronotify/internal/model"
	"hydronotify/pkg/logx"
)

//go:embed schema_postgres.sql
var postgresSchema string

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("postgres store ready", logx.String("host", pcfg.ConnConfig.Host))
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func collectPreferences(rows pgx.Rows) ([]model.Preference, error) {
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

func (s *postgresStore) PreferenceCandidates(ctx context.Context, userID string) ([]model.Preference, error) {
	if s == nil || s.pool == nil {
		return nil, ErrDisabled
	}
	rows, err := s.pool.Query(ctx, `SELECT `+prefColumns+` FROM preferences WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	return collectPreferences(rows)
}

func (s *postgresStore) SavePreference(ctx context.Context, userID string, u model.PreferenceUpdate) (model.Preference, error) {
	if s == nil || s.pool == nil {
		return model.Preference{}, ErrDisabled
	}
	var out model.Preference
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Serialize saves per user so concurrent merges don't drop fields.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT `+prefColumns+` FROM preferences WHERE user_id = $1`, userID)
		if err != nil {
			return err
		}
		cands, err := collectPreferences(rows)
		if err != nil {
			return err
		}
		p, err := mergeSave(cands, userID, u, time.Now())
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO preferences(`+prefColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			 ON CONFLICT(id) DO UPDATE SET
			   display_name=EXCLUDED.display_name, preferred_channel=EXCLUDED.preferred_channel,
			   reminders_enabled=EXCLUDED.reminders_enabled, phone_number=EXCLUDED.phone_number,
			   email=EXCLUDED.email, frequency=EXCLUDED.frequency, tone=EXCLUDED.tone,
			   timezone=EXCLUDED.timezone, updated_at=EXCLUDED.updated_at`,
			p.ID, p.UserID, p.DisplayName, string(p.PreferredChannel), p.RemindersEnabled,
			p.PhoneNumber, p.Email, string(p.Frequency), string(p.Tone), p.Timezone, p.UpdatedAt.UnixNano(),
		)
		out = p
		return err
	})
	if err != nil {
		return model.Preference{}, err
	}
	return out, nil
}

func (s *postgresStore) ReminderRecipients(ctx context.Context) ([]model.Preference, error) {
	if s == nil || s.pool == nil {
		return nil, ErrDisabled
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+prefColumns+` FROM preferences
		 WHERE user_id IN (SELECT user_id FROM preferences WHERE reminders_enabled)
		 ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	all, err := collectPreferences(rows)
	if err != nil {
		return nil, err
	}
	return latestPerUser(all), nil
}

func (s *postgresStore) ClaimDedup(ctx context.Context, key string, until time.Time) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrDisabled
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO dedup(key, until) VALUES($1,$2)
		 ON CONFLICT(key) DO UPDATE SET until=EXCLUDED.until WHERE dedup.until <= $3`,
		key, until.UnixMilli(), time.Now().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("claim dedup: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *postgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.pool == nil {
		return nil, false, ErrDisabled
	}
	var v []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *postgresStore) Set(ctx context.Context, key string, val []byte) error {
	if s == nil || s.pool == nil {
		return ErrDisabled
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv(key, value, updated_at) VALUES($1,$2,$3)
		 ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at`,
		key, val, time.Now().UnixMilli(),
	)
	return err
}
