package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"hydronotify/internal/history"
	"hydronotify/internal/model"
	"hydronotify/internal/storage"
	"hydronotify/internal/trigger"
	"hydronotify/pkg/logx"
)

func (s *Server) health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if s.d.Health != nil {
		stats := s.d.Health()
		workers := make([]gin.H, 0, len(stats))
		for _, st := range stats {
			workers = append(workers, gin.H{"name": st.Name, "running": st.Running, "restarts": st.Restarts, "panics": st.Panics})
		}
		resp["workers"] = workers
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) postEvent(c *gin.Context) {
	var in struct {
		ID        string `json:"id"`
		Kind      string `json:"kind"`
		RawText   string `json:"raw_text"`
		UserID    string `json:"user_id"`
		Threshold int    `json:"threshold"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	kind, err := model.ParseEventKind(in.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ev := model.MilestoneEvent{
		ID:        strings.TrimSpace(in.ID),
		Kind:      kind,
		RawText:   in.RawText,
		UserID:    strings.TrimSpace(in.UserID),
		Threshold: in.Threshold,
		Timestamp: s.now(),
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if err := ev.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n := 0
	if s.d.Events != nil {
		n = s.d.Events.Publish(ev)
	}
	if n == 0 {
		s.log.Warn("event rejected; queue full", logx.String("user", ev.UserID), logx.String("id", ev.ID))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event queue full, retry later"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": ev.ID, "subscribers": n})
}

func (s *Server) postIntake(c *gin.Context) {
	if s.d.Tracker == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "intake tracking disabled"})
		return
	}
	var in struct {
		AmountML int `json:"amount_ml"`
		GoalML   int `json:"goal_ml"`
	}
	if err := c.ShouldBindJSON(&in); err != nil || in.AmountML <= 0 || in.GoalML < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount_ml must be positive"})
		return
	}
	userID := c.Param("id")
	loc := s.cfg.Location
	if pref, ok := s.latest(c, userID); ok {
		loc = pref.Location(loc)
	}
	p, err := s.d.Tracker.AddIntake(c.Request.Context(), userID, in.AmountML, in.GoalML, s.now().In(loc))
	if err != nil {
		s.internal(c, "intake failed", err)
		return
	}
	if p.Dropped > 0 {
		s.log.Warn("milestone events dropped; queue full", logx.String("user", userID), logx.Int("dropped", p.Dropped))
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) getPreferences(c *gin.Context) {
	cands, err := s.d.Prefs.PreferenceCandidates(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.internal(c, "preference lookup failed", err)
		return
	}
	p, ok := model.Latest(cands)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no preferences for user"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) putPreferences(c *gin.Context) {
	var u model.PreferenceUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if u.PreferredChannel != nil {
		ch, err := model.ParseChannel(string(*u.PreferredChannel))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		u.PreferredChannel = &ch
	}
	p, err := s.d.Prefs.SavePreference(c.Request.Context(), c.Param("id"), u)
	switch {
	case errors.Is(err, storage.ErrInvalidPreference):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.internal(c, "preference save failed", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type attemptView struct {
	Channel model.Channel `json:"channel"`
	Target  string        `json:"target"`
	Outcome model.Outcome `json:"outcome"`
	Tries   int           `json:"tries"`
}

func (s *Server) postNotify(c *gin.Context) {
	if s.d.Notifier == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "notifications disabled"})
		return
	}
	var in struct {
		Label string `json:"label"`
	}
	_ = c.ShouldBindJSON(&in)
	label := strings.TrimSpace(in.Label)
	if label == "" {
		label = "regular reminder"
	}
	out, err := s.d.Notifier.Deliver(c.Request.Context(), c.Param("id"), label)
	if errors.Is(err, trigger.ErrNoPreference) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no preferences for user"})
		return
	}
	if err != nil {
		s.internal(c, "test send failed", err)
		return
	}
	attempts := make([]attemptView, 0, len(out.Attempts))
	for _, a := range out.Attempts {
		attempts = append(attempts, attemptView{Channel: a.Channel, Target: model.MaskTarget(a.Channel, a.Target), Outcome: a.Outcome, Tries: a.Tries})
	}
	status := http.StatusOK
	resp := gin.H{"status": out.Status, "message": out.Message, "attempts": attempts}
	if out.DeliveredVia != "" {
		resp["delivered_via"] = out.DeliveredVia
	}
	if out.Status != trigger.StatusDelivered {
		status = http.StatusBadGateway
		// Generic text only; provider detail stays in the logs.
		resp["error"] = "failed to send notification"
		if d := out.Diagnostics(); d != nil {
			s.log.Warn("test send failed", logx.String("user", out.UserID), logx.Err(d))
		}
	}
	c.JSON(status, resp)
}

func (s *Server) listMessages(c *gin.Context) {
	if s.d.History == nil {
		c.JSON(http.StatusOK, gin.H{"messages": []history.Entry{}, "unread": 0})
		return
	}
	ctx := c.Request.Context()
	entries, err := s.d.History.List(ctx, c.Param("id"))
	if err != nil {
		s.internal(c, "history list failed", err)
		return
	}
	unread := 0
	for _, e := range entries {
		if !e.Read {
			unread++
		}
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": entries, "unread": unread})
}

func (s *Server) markRead(c *gin.Context) {
	if s.d.History == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	err := s.d.History.MarkRead(c.Request.Context(), c.Param("id"), c.Param("msg"))
	switch {
	case errors.Is(err, history.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case err != nil:
		s.internal(c, "mark read failed", err)
	default:
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) clearMessages(c *gin.Context) {
	if s.d.History != nil {
		if err := s.d.History.Clear(c.Request.Context(), c.Param("id")); err != nil {
			s.internal(c, "history clear failed", err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) latest(c *gin.Context, userID string) (model.Preference, bool) {
	if s.d.Prefs == nil {
		return model.Preference{}, false
	}
	cands, err := s.d.Prefs.PreferenceCandidates(c.Request.Context(), userID)
	if err != nil {
		return model.Preference{}, false
	}
	return model.Latest(cands)
}

func (s *Server) internal(c *gin.Context, msg string, err error) {
	s.log.Error(msg, logx.String("path", c.FullPath()), logx.Err(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
