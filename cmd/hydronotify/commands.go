package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hydronotify/internal/app"
	"hydronotify/internal/config"
	"hydronotify/internal/model"
	"hydronotify/internal/storage"
)

func (g *Globals) load() (*config.Manager, *config.Config, error) {
	if err := config.LoadDotEnv(g.Env); err != nil {
		return nil, nil, fmt.Errorf("dotenv: %w", err)
	}
	m := config.NewManager(g.Config)
	cfg, err := m.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config %s: %w", g.Config, err)
	}
	return m, cfg, nil
}

// open builds the app without starting background work. Logs go to stderr
// so stdout carries only command output.
func (g *Globals) open() (*app.App, error) {
	m, cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	return app.New(m, cfg, app.WithLogOutput(os.Stderr))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type ServeCmd struct {
	ShutdownTimeout time.Duration `help:"Grace period for draining on stop." default:"15s"`
}

func (c *ServeCmd) Run(g *Globals) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := g.open()
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		sctx, scancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer scancel()
		_ = a.Stop(sctx)
		return err
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	fatal := a.Err()

	sctx, scancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer scancel()
	if err := a.Stop(sctx); err != nil {
		a.Logger().Warn("shutdown incomplete")
		if fatal == nil {
			fatal = err
		}
	}
	return fatal
}

type SendCmd struct {
	User  string `help:"User id." required:""`
	Label string `help:"Milestone label, e.g. \"50%\" or \"goal completion\"." default:"regular reminder"`
}

func (c *SendCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	out, err := a.Trigger().Deliver(ctx, c.User, c.Label)
	if err != nil {
		return err
	}
	for i := range out.Attempts {
		out.Attempts[i].Target = model.MaskTarget(out.Attempts[i].Channel, out.Attempts[i].Target)
	}
	if err := printJSON(out); err != nil {
		return err
	}
	if d := out.Diagnostics(); d != nil {
		fmt.Fprintf(os.Stderr, "diagnostics: %v\n", d)
	}
	return nil
}

type PrefsCmd struct {
	Show PrefsShowCmd `cmd:"" help:"Print the effective preference record."`
	Set  PrefsSetCmd  `cmd:"" help:"Update fields of the preference record."`
}

type PrefsShowCmd struct {
	User string `arg:"" help:"User id."`
}

func (c *PrefsShowCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()
	p, ok, err := storage.GetPreference(context.Background(), a.Store(), c.User)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no preferences for %s", c.User)
	}
	return printJSON(p)
}

type PrefsSetCmd struct {
	User      string `arg:"" help:"User id."`
	Name      string `help:"Display name."`
	Channel   string `help:"Preferred channel: sms, whatsapp or email."`
	Phone     string `help:"E.164 phone number."`
	Email     string `help:"Email address."`
	Frequency string `help:"hourly, 2hourly, 3hourly, 4hourly or none."`
	Tone      string `help:"kind, funny, sarcastic, rude or crude."`
	Timezone  string `help:"IANA timezone."`
	Enable    bool   `help:"Turn reminders on." xor:"enable"`
	Disable   bool   `help:"Turn reminders off." xor:"enable"`
}

func (c *PrefsSetCmd) update() (model.PreferenceUpdate, error) {
	var u model.PreferenceUpdate
	str := func(v string) *string {
		if v == "" {
			return nil
		}
		return &v
	}
	u.DisplayName = str(c.Name)
	u.PhoneNumber = str(c.Phone)
	u.Email = str(c.Email)
	u.Timezone = str(c.Timezone)
	if c.Channel != "" {
		ch, err := model.ParseChannel(c.Channel)
		if err != nil {
			return u, err
		}
		u.PreferredChannel = &ch
	}
	if c.Frequency != "" {
		raw := c.Frequency
		if strings.EqualFold(raw, "none") {
			raw = ""
		}
		f, err := model.ParseFrequency(raw)
		if err != nil {
			return u, err
		}
		u.Frequency = &f
	}
	if c.Tone != "" {
		tone, err := model.ParseTone(c.Tone)
		if err != nil {
			return u, err
		}
		u.Tone = &tone
	}
	if c.Enable || c.Disable {
		on := c.Enable
		u.RemindersEnabled = &on
	}
	return u, nil
}

func (c *PrefsSetCmd) Run(g *Globals) error {
	u, err := c.update()
	if err != nil {
		return err
	}
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()
	p, err := a.Store().SavePreference(context.Background(), c.User, u)
	if err != nil {
		return err
	}
	return printJSON(p)
}

type HistoryCmd struct {
	User  string `arg:"" help:"User id."`
	Clear bool   `help:"Delete the history instead of printing it."`
}

func (c *HistoryCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := context.Background()
	if c.Clear {
		return a.History().Clear(ctx, c.User)
	}
	entries, err := a.History().List(ctx, c.User)
	if err != nil {
		return err
	}
	return printJSON(entries)
}

type CheckConfigCmd struct{}

func (c *CheckConfigCmd) Run(g *Globals) error {
	_, cfg, err := g.load()
	if err != nil {
		return err
	}
	tw, em := cfg.Channels.Twilio, cfg.Channels.Email
	creds := tw.AccountSID != "" && tw.AuthToken != ""
	report := map[string]any{
		"storage":   orDefault(cfg.Storage.Driver, "memory"),
		"sms":       creds && tw.PhoneNumber != "",
		"whatsapp":  creds && tw.WhatsAppNumber != "",
		"email":     em.Host != "" && em.From != "",
		"composer":  cfg.Composer.Enabled && cfg.Composer.APIKey != "",
		"redis":     cfg.Redis.Addr != "",
		"kafka":     len(cfg.Kafka.Brokers) > 0,
		"http":      cfg.HTTP.Enabled,
		"reminders": cfg.Reminders.Enabled,
	}
	if err := printJSON(report); err != nil {
		return err
	}
	if !report["sms"].(bool) && !report["whatsapp"].(bool) && !report["email"].(bool) {
		return errors.New("no delivery channel is configured")
	}
	return nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
