// Package httpapi exposes events, intake, preferences, test sends and the
// message history over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"hydronotify/internal/eventbus"
	"hydronotify/internal/history"
	"hydronotify/internal/milestone"
	"hydronotify/internal/model"
	"hydronotify/internal/observability/pprof"
	rtsup "hydronotify/internal/runtime/supervisor"
	"hydronotify/internal/trigger"
	"hydronotify/pkg/logx"
)

// Config controls the API listener.
//
// Binding to a non-loopback address requires Token unless AllowInsecure is
// set.
type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Location dates intake for users without a timezone.
	Location *time.Location

	Pprof pprof.Config
}

type PreferenceStore interface {
	PreferenceCandidates(ctx context.Context, userID string) ([]model.Preference, error)
	SavePreference(ctx context.Context, userID string, u model.PreferenceUpdate) (model.Preference, error)
}

type IntakeTracker interface {
	AddIntake(ctx context.Context, userID string, amountML, goalML int, now time.Time) (milestone.Progress, error)
}

type Notifier interface {
	Deliver(ctx context.Context, userID, label string) (trigger.Outcome, error)
}

type Deps struct {
	Prefs    PreferenceStore
	Events   eventbus.Bus[model.MilestoneEvent]
	Tracker  IntakeTracker
	Notifier Notifier
	History  *history.Log
	Health   func() []rtsup.TaskStats // optional
	Log      logx.Logger
}

type Server struct {
	cfg Config
	d   Deps
	log logx.Logger
	now func() time.Time
}

func New(cfg Config, d Deps) *Server {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Server{cfg: cfg, d: d, log: d.Log.With(logx.String("comp", "http")), now: time.Now}
}

// Handler builds the gin engine.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/healthz", s.health)

	v1 := r.Group("/v1", s.auth())
	v1.POST("/events", s.postEvent)
	v1.POST("/users/:id/intake", s.postIntake)
	v1.GET("/users/:id/preferences", s.getPreferences)
	v1.PUT("/users/:id/preferences", s.putPreferences)
	v1.POST("/users/:id/notify", s.postNotify)
	v1.GET("/users/:id/messages", s.listMessages)
	v1.POST("/users/:id/messages/:msg/read", s.markRead)
	v1.DELETE("/users/:id/messages", s.clearMessages)
	pprof.Mount(v1, s.cfg.Pprof)
	return r
}

// CheckBind rejects a public listener without a token unless
// AllowInsecure is set.
func (c Config) CheckBind() error {
	if !c.AllowInsecure && strings.TrimSpace(c.Token) == "" && !isLoopbackAddr(strings.TrimSpace(c.Addr)) {
		return errors.New("http: non-loopback addr requires token or allow_insecure")
	}
	return nil
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if err := s.cfg.CheckBind(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()
	s.log.Info("http api started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", s.cfg.Token != ""))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}

func (s *Server) auth() gin.HandlerFunc {
	tok := strings.TrimSpace(s.cfg.Token)
	return func(c *gin.Context) {
		if tok == "" {
			c.Next()
			return
		}
		const p = "Bearer "
		ah := c.GetHeader("Authorization")
		if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			c.Next()
			return
		}
		c.Header("WWW-Authenticate", "Bearer")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
