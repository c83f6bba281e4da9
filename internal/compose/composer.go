package compose

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"hydronotify/internal/model"
	"hydronotify/pkg/logx"
)

const (
	defaultTimeout  = 5 * time.Second
	defaultMaxRunes = 300
)

// ErrEmptyReply is returned by generators that got a reply without text.
var ErrEmptyReply = errors.New("generator returned empty text")

// Prompt is what a Generator personalizes.
type Prompt struct {
	UserName       string
	MilestoneLabel string
	Tone           model.Tone
	Frequency      model.Frequency
}

// Generator produces personalized text. Implementations must honour ctx.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

type Request struct {
	UserName       string
	MilestoneLabel string
	Tone           model.Tone
	Frequency      model.Frequency
}

type Options struct {
	// Timeout bounds a single Generate call. Default 5s.
	Timeout time.Duration
	// MaxRunes caps the generated text. Default 300.
	MaxRunes int
}

// Composer is safe for concurrent use.
type Composer struct {
	gen      Generator
	timeout  time.Duration
	maxRunes int
	log      logx.Logger
}

// New returns a Composer. A nil gen makes it fallback-only.
func New(gen Generator, opt Options, log logx.Logger) *Composer {
	if opt.Timeout <= 0 {
		opt.Timeout = defaultTimeout
	}
	if opt.MaxRunes <= 0 {
		opt.MaxRunes = defaultMaxRunes
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "compose"))
	if gen == nil {
		log.Warn("no text generator configured; using fallback templates only")
	}
	return &Composer{gen: gen, timeout: opt.Timeout, maxRunes: opt.MaxRunes, log: log}
}

// Compose returns the notification text for req.
func (c *Composer) Compose(ctx context.Context, req Request) string {
	name := strings.TrimSpace(req.UserName)
	if name == "" {
		name = DefaultUserName
	}
	if c == nil || c.gen == nil {
		return Fallback(name, req.MilestoneLabel)
	}

	text, err := c.generate(ctx, Prompt{
		UserName:       name,
		MilestoneLabel: req.MilestoneLabel,
		Tone:           req.Tone,
		Frequency:      req.Frequency,
	})
	if err != nil {
		c.log.Warn("personalization failed; using fallback",
			logx.String("label", req.MilestoneLabel), logx.Err(err))
		return Fallback(name, req.MilestoneLabel)
	}
	return Truncate(text, c.maxRunes)
}

func (c *Composer) generate(ctx context.Context, p Prompt) (text string, err error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: errors.New("generator panicked")}
			}
		}()
		t, err := c.gen.Generate(cctx, p)
		done <- reply{text: t, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		if strings.TrimSpace(r.text) == "" {
			return "", ErrEmptyReply
		}
		return r.text, nil
	case <-cctx.Done():
		return "", cctx.Err()
	}
}

// Truncate trims s and caps it at max runes, cutting on a word boundary when
// one exists in the second half and appending an ellipsis.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	cut := max - 1
	for i := cut; i > max/2; i-- {
		if unicode.IsSpace(r[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(r[:cut]), unicode.IsSpace) + "…"
}
