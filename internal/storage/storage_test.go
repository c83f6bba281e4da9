package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hydronotify/internal/model"
	"hydronotify/pkg/logx"
)

func strp(s string) *string { return &s }
func boolp(b bool) *bool    { return &b }
func chp(c model.Channel) *model.Channel {
	return &c
}
func freqp(f model.Frequency) *model.Frequency { return &f }

type rawSeeder interface {
	seed(t *testing.T, p model.Preference)
}

func (s *memoryStore) seed(_ *testing.T, p model.Preference) { s.PutPreference(p) }
func (s *sqliteStore) seed(t *testing.T, p model.Preference) {
	t.Helper()
	if err := s.insertRaw(context.Background(), p); err != nil {
		t.Fatalf("insertRaw: %v", err)
	}
}

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "hydro.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	stores := map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
	if dsn := os.Getenv("HYDRONOTIFY_TEST_POSTGRES_DSN"); dsn != "" {
		pg, err := Open(Config{Driver: "postgres", DSN: dsn}, logx.Nop())
		if err != nil {
			t.Fatalf("open postgres: %v", err)
		}
		t.Cleanup(func() { _ = pg.Close() })
		stores["postgres"] = pg
	}
	return stores
}

func TestSaveAndReloadPhone(t *testing.T) {
	for name, st := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			user := "round-trip-" + name
			_, err := st.SavePreference(ctx, user, model.PreferenceUpdate{
				PhoneNumber:      strp("+61412345678"),
				PreferredChannel: chp(model.ChannelSMS),
				RemindersEnabled: boolp(true),
			})
			if err != nil {
				t.Fatalf("SavePreference: %v", err)
			}
			p, ok, err := GetPreference(ctx, st, user)
			if err != nil || !ok {
				t.Fatalf("GetPreference = %v, %v", ok, err)
			}
			if !model.ValidPhone(p.PhoneNumber) || p.PhoneNumber != "+61412345678" {
				t.Fatalf("PhoneNumber = %q, want SMS-eligible +61412345678", p.PhoneNumber)
			}
			if err := p.Validate(); err != nil {
				t.Fatalf("reloaded preference invalid: %v", err)
			}
			if p.Tone != model.ToneKind {
				t.Fatalf("Tone = %q, want kind", p.Tone)
			}
		})
	}
}

func TestSaveMergesPartialUpdates(t *testing.T) {
	for name, st := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			user := "merge-" + name
			first, err := st.SavePreference(ctx, user, model.PreferenceUpdate{
				Email: strp("ana@example.com"), PreferredChannel: chp(model.ChannelEmail),
			})
			if err != nil {
				t.Fatalf("first save: %v", err)
			}
			second, err := st.SavePreference(ctx, user, model.PreferenceUpdate{RemindersEnabled: boolp(true)})
			if err != nil {
				t.Fatalf("second save: %v", err)
			}
			if second.ID != first.ID || second.Email != "ana@example.com" || !second.RemindersEnabled {
				t.Fatalf("merged = %+v", second)
			}
			if !second.UpdatedAt.After(first.UpdatedAt) {
				t.Fatalf("UpdatedAt did not advance")
			}
			cands, _ := st.PreferenceCandidates(ctx, user)
			if len(cands) != 1 {
				t.Fatalf("candidates = %d, want 1", len(cands))
			}
		})
	}
}

func TestSaveRejectsInvariantViolation(t *testing.T) {
	for name, st := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.SavePreference(context.Background(), "bad-"+name, model.PreferenceUpdate{
				PreferredChannel: chp(model.ChannelWhatsApp),
			})
			if err == nil {
				t.Fatalf("expected whatsapp without phone to be rejected")
			}
		})
	}
}

func TestDuplicateRowsResolveToLatest(t *testing.T) {
	for name, st := range openAll(t) {
		seeder, ok := st.(rawSeeder)
		if !ok {
			continue
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			seeder.seed(t, model.Preference{ID: "old", UserID: "dup", Email: "old@example.com", PreferredChannel: model.ChannelEmail, RemindersEnabled: true, Frequency: model.FrequencyHourly, Tone: model.ToneKind, UpdatedAt: t0})
			seeder.seed(t, model.Preference{ID: "new", UserID: "dup", Email: "new@example.com", PreferredChannel: model.ChannelEmail, RemindersEnabled: true, Frequency: model.FrequencyHourly, Tone: model.ToneKind, UpdatedAt: t0.Add(time.Hour)})

			p, _, err := GetPreference(ctx, st, "dup")
			if err != nil || p.ID != "new" {
				t.Fatalf("GetPreference = %+v, %v, want record new", p, err)
			}

			saved, err := st.SavePreference(ctx, "dup", model.PreferenceUpdate{Tone: func() *model.Tone { v := model.ToneFunny; return &v }()})
			if err != nil {
				t.Fatalf("SavePreference: %v", err)
			}
			if saved.ID != "new" || saved.Email != "new@example.com" {
				t.Fatalf("save merged onto %+v, want record new", saved)
			}
			cands, _ := st.PreferenceCandidates(ctx, "dup")
			if len(cands) != 2 {
				t.Fatalf("candidates = %d, want old row untouched", len(cands))
			}

			rec, err := st.ReminderRecipients(ctx)
			if err != nil {
				t.Fatalf("ReminderRecipients: %v", err)
			}
			found := 0
			for _, r := range rec {
				if r.UserID == "dup" {
					found++
					if r.ID != "new" {
						t.Fatalf("recipient record = %s, want new", r.ID)
					}
				}
			}
			if found != 1 {
				t.Fatalf("recipient rows for dup = %d, want 1", found)
			}
		})
	}
}

func TestReminderRecipientsFilters(t *testing.T) {
	for name, st := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mustSave := func(user string, u model.PreferenceUpdate) {
				t.Helper()
				if _, err := st.SavePreference(ctx, user, u); err != nil {
					t.Fatalf("save %s: %v", user, err)
				}
			}
			mustSave("r-on-"+name, model.PreferenceUpdate{RemindersEnabled: boolp(true), Frequency: freqp(model.Frequency2Hourly), Email: strp("a@example.com"), PreferredChannel: chp(model.ChannelEmail)})
			mustSave("r-off-"+name, model.PreferenceUpdate{RemindersEnabled: boolp(false), Frequency: freqp(model.FrequencyHourly)})
			mustSave("r-nofreq-"+name, model.PreferenceUpdate{RemindersEnabled: boolp(true)})

			rec, err := st.ReminderRecipients(ctx)
			if err != nil {
				t.Fatalf("ReminderRecipients: %v", err)
			}
			got := map[string]bool{}
			for _, r := range rec {
				got[r.UserID] = true
			}
			if !got["r-on-"+name] || got["r-off-"+name] || got["r-nofreq-"+name] {
				t.Fatalf("recipients = %v", got)
			}
		})
	}
}

func TestClaimDedup(t *testing.T) {
	for name, st := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "milestone:u:50:2026-10-15:" + name
			until := time.Now().Add(time.Hour)
			ok, err := st.ClaimDedup(ctx, key, until)
			if err != nil || !ok {
				t.Fatalf("first claim = %v, %v, want true", ok, err)
			}
			ok, err = st.ClaimDedup(ctx, key, until)
			if err != nil || ok {
				t.Fatalf("second claim = %v, %v, want false", ok, err)
			}

			expired := "expired:" + name
			if ok, _ := st.ClaimDedup(ctx, expired, time.Now().Add(-time.Second)); !ok {
				t.Fatalf("claim on fresh key should succeed")
			}
			if ok, _ := st.ClaimDedup(ctx, expired, time.Now().Add(time.Hour)); !ok {
				t.Fatalf("claim over an expired entry should succeed")
			}
		})
	}
}

func TestClaimDedupConcurrent(t *testing.T) {
	for name, st := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			var wins atomic.Int32
			var wg sync.WaitGroup
			until := time.Now().Add(time.Hour)
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if ok, err := st.ClaimDedup(context.Background(), "race:"+name, until); err == nil && ok {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			if wins.Load() != 1 {
				t.Fatalf("winners = %d, want exactly 1", wins.Load())
			}
		})
	}
}

func TestKV(t *testing.T) {
	for name, st := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, ok, err := st.Get(ctx, "missing"); ok || err != nil {
				t.Fatalf("Get(missing) = %v, %v", ok, err)
			}
			if err := st.Set(ctx, "k", []byte("v1")); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := st.Set(ctx, "k", []byte("v2")); err != nil {
				t.Fatalf("Set overwrite: %v", err)
			}
			v, ok, err := st.Get(ctx, "k")
			if err != nil || !ok || string(v) != "v2" {
				t.Fatalf("Get = %q, %v, %v", v, ok, err)
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for sqlite without path")
	}
}
