// Package milestone tracks daily intake and emits threshold and streak
// events for the notification trigger.
package milestone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"hydronotify/internal/eventbus"
	"hydronotify/internal/model"
)

// Thresholds are the goal percentages that produce events.
var Thresholds = []int{25, 50, 75, 100}

var thresholdText = map[int]string{
	25:  "You've reached 25% of your daily goal!",
	50:  "Halfway there! 50% of your goal complete.",
	75:  "Almost there! 75% of your goal complete.",
	100: "You've completed your daily hydration goal!",
}

const DefaultGoalML = 2000

// Percent is amount/goal as a whole percentage capped at 100.
func Percent(amountML, goalML int) int {
	if goalML <= 0 || amountML <= 0 {
		return 0
	}
	p := amountML * 100 / goalML
	if p > 100 {
		p = 100
	}
	return p
}

// Crossed returns the thresholds passed when intake moves from prev to next.
func Crossed(prevML, nextML, goalML int) []int {
	from, to := Percent(prevML, goalML), Percent(nextML, goalML)
	var out []int
	for _, th := range Thresholds {
		if from < th && to >= th {
			out = append(out, th)
		}
	}
	return out
}

// Events builds the milestone events for an intake change. 25/50/75 are
// reminders, 100 is an achievement.
func Events(userID string, prevML, nextML, goalML int, now time.Time) []model.MilestoneEvent {
	var out []model.MilestoneEvent
	for _, th := range Crossed(prevML, nextML, goalML) {
		kind := model.KindReminder
		if th == 100 {
			kind = model.KindAchievement
		}
		out = append(out, model.MilestoneEvent{
			ID:        uuid.NewString(),
			Kind:      kind,
			RawText:   thresholdText[th],
			UserID:    userID,
			Threshold: th,
			Timestamp: now,
		})
	}
	return out
}

// StreakEvent is the info event shown after a goal day extends a streak.
func StreakEvent(userID string, days int, now time.Time) model.MilestoneEvent {
	return model.MilestoneEvent{
		ID:        uuid.NewString(),
		Kind:      model.KindInfo,
		RawText:   strconv.Itoa(days) + " day streak! Keep it going.",
		UserID:    userID,
		Timestamp: now,
	}
}

// KV is implemented by storage.Store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
}

// Progress is one user's state after an intake.
type Progress struct {
	UserID   string                 `json:"user_id"`
	Date     string                 `json:"date"`
	AmountML int                    `json:"amount_ml"`
	GoalML   int                    `json:"goal_ml"`
	Percent  int                    `json:"percent"`
	Streak   int                    `json:"streak_days"`
	Events   []model.MilestoneEvent `json:"events,omitempty"`
	// Dropped counts events no subscriber accepted.
	Dropped int `json:"dropped,omitempty"`
}

type dayState struct {
	AmountML int `json:"amount_ml"`
	GoalML   int `json:"goal_ml"`
}

type streakState struct {
	Days     int    `json:"days"`
	LastDate string `json:"last_date"`
}

// Tracker keeps per-day intake totals in a KV store and publishes events.
type Tracker struct {
	kv  KV
	bus eventbus.Bus[model.MilestoneEvent]

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

func NewTracker(kv KV, bus eventbus.Bus[model.MilestoneEvent]) *Tracker {
	return &Tracker{kv: kv, bus: bus, users: map[string]*sync.Mutex{}}
}

func (t *Tracker) lock(userID string) func() {
	t.mu.Lock()
	m, ok := t.users[userID]
	if !ok {
		m = &sync.Mutex{}
		t.users[userID] = m
	}
	t.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// AddIntake adds amountML to the user's total for the local day of now and
// publishes any crossed thresholds. A zero goal keeps the day's goal.
func (t *Tracker) AddIntake(ctx context.Context, userID string, amountML, goalML int, now time.Time) (Progress, error) {
	if amountML <= 0 {
		return Progress{}, errors.New("amount must be positive")
	}
	defer t.lock(userID)()

	date := now.Format("2006-01-02")
	var day dayState
	if err := t.load(ctx, "intake:"+userID+":"+date, &day); err != nil {
		return Progress{}, err
	}
	if goalML > 0 {
		day.GoalML = goalML
	}
	if day.GoalML <= 0 {
		day.GoalML = DefaultGoalML
	}
	prev := day.AmountML
	day.AmountML += amountML
	if err := t.save(ctx, "intake:"+userID+":"+date, day); err != nil {
		return Progress{}, err
	}

	events := Events(userID, prev, day.AmountML, day.GoalML, now)
	var st streakState
	if err := t.load(ctx, "streak:"+userID, &st); err != nil {
		return Progress{}, err
	}
	for _, ev := range events {
		if ev.Threshold != 100 {
			continue
		}
		yesterday := now.AddDate(0, 0, -1).Format("2006-01-02")
		switch st.LastDate {
		case date:
		case yesterday:
			st.Days++
		default:
			st.Days = 1
		}
		st.LastDate = date
		if err := t.save(ctx, "streak:"+userID, st); err != nil {
			return Progress{}, err
		}
		if st.Days > 1 {
			events = append(events, StreakEvent(userID, st.Days, now))
		}
	}

	dropped := 0
	if t.bus != nil {
		for _, ev := range events {
			if t.bus.Publish(ev) == 0 {
				dropped++
			}
		}
	}
	return Progress{
		UserID:   userID,
		Date:     date,
		AmountML: day.AmountML,
		GoalML:   day.GoalML,
		Percent:  Percent(day.AmountML, day.GoalML),
		Streak:   st.Days,
		Events:   events,
		Dropped:  dropped,
	}, nil
}

func (t *Tracker) load(ctx context.Context, key string, v any) error {
	raw, ok, err := t.kv.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func (t *Tracker) save(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := t.kv.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
