// Package ingest feeds milestone events from Kafka onto the event bus.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"hydronotify/internal/eventbus"
	"hydronotify/internal/model"
	"hydronotify/pkg/logx"
)

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r   reader
	bus eventbus.Bus[model.MilestoneEvent]
	log logx.Logger
	now func() time.Time

	// publish retry backoff while the bus rejects an event
	retryBase time.Duration
	retryMax  time.Duration
}

func NewConsumer(cfg Config, bus eventbus.Bus[model.MilestoneEvent], log logx.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 || strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka: brokers and topic are required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "hydronotify"
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})
	return newConsumer(r, bus, log), nil
}

func newConsumer(r reader, bus eventbus.Bus[model.MilestoneEvent], log logx.Logger) *Consumer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Consumer{
		r:         r,
		bus:       bus,
		log:       log.With(logx.String("comp", "ingest")),
		now:       time.Now,
		retryBase: 50 * time.Millisecond,
		retryMax:  2 * time.Second,
	}
}

// Run reads until ctx is done. Malformed messages are logged, committed and
// skipped. A valid event is committed only once a subscriber accepted it.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.r.Close()
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}
		ev, err := Decode(msg.Value, c.now())
		if err != nil {
			c.log.Warn("dropping malformed event",
				logx.Int("partition", msg.Partition),
				logx.Int64("offset", msg.Offset),
				logx.Err(err),
			)
		} else if !c.publish(ctx, ev, msg.Offset) {
			return nil
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Warn("commit failed", logx.Int64("offset", msg.Offset), logx.Err(err))
		}
	}
}

// publish retries until a subscriber accepts ev. It reports false when ctx
// ends first; the message then stays uncommitted.
func (c *Consumer) publish(ctx context.Context, ev model.MilestoneEvent, offset int64) bool {
	delay := c.retryBase
	for attempt := 1; ; attempt++ {
		if c.bus.Publish(ev) > 0 {
			if attempt > 1 {
				c.log.Info("event accepted after retry", logx.Int64("offset", offset), logx.Int("attempts", attempt))
			}
			return true
		}
		if attempt == 1 {
			c.log.Warn("event queue full; holding offset", logx.Int64("offset", offset), logx.String("user", ev.UserID))
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		delay = min(delay*2, c.retryMax)
	}
}

// Decode parses and validates one JSON milestone event. Missing id and
// timestamp are filled in; an empty kind means info.
func Decode(raw []byte, now time.Time) (model.MilestoneEvent, error) {
	var in struct {
		ID        string    `json:"id"`
		Kind      string    `json:"kind"`
		Type      string    `json:"type"`
		RawText   string    `json:"raw_text"`
		Text      string    `json:"text"`
		UserID    string    `json:"user_id"`
		Threshold int       `json:"threshold"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return model.MilestoneEvent{}, err
	}
	kindStr := in.Kind
	if kindStr == "" {
		kindStr = in.Type
	}
	kind, err := model.ParseEventKind(kindStr)
	if err != nil {
		return model.MilestoneEvent{}, err
	}
	ev := model.MilestoneEvent{
		ID:        strings.TrimSpace(in.ID),
		Kind:      kind,
		RawText:   in.RawText,
		UserID:    strings.TrimSpace(in.UserID),
		Threshold: in.Threshold,
		Timestamp: in.Timestamp,
	}
	if ev.RawText == "" {
		ev.RawText = in.Text
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	if err := ev.Validate(); err != nil {
		return model.MilestoneEvent{}, err
	}
	return ev, nil
}
