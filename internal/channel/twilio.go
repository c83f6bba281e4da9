package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"hydronotify/internal/model"
)

const whatsappPrefix = "whatsapp:"

type TwilioConfig struct {
	AccountSID     string
	AuthToken      string
	SMSFrom        string
	WhatsAppFrom   string
	StatusCallback string
}

// messageCreator is the slice of the Twilio REST API we use.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioTransport sends SMS and WhatsApp messages through one Twilio account.
type TwilioTransport struct {
	api      messageCreator
	from     map[model.Channel]string
	callback string
}

// NewTwilio returns ErrNotConfigured when the account credentials are missing.
func NewTwilio(cfg TwilioConfig) (*TwilioTransport, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, fmt.Errorf("twilio: %w", ErrNotConfigured)
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilio(client.Api, cfg), nil
}

func newTwilio(api messageCreator, cfg TwilioConfig) *TwilioTransport {
	return &TwilioTransport{
		api: api,
		from: map[model.Channel]string{
			model.ChannelSMS:      strings.TrimSpace(cfg.SMSFrom),
			model.ChannelWhatsApp: strings.TrimSpace(strings.TrimPrefix(cfg.WhatsAppFrom, whatsappPrefix)),
		},
		callback: cfg.StatusCallback,
	}
}

// Supports reports whether a sender number exists for ch.
func (t *TwilioTransport) Supports(ch model.Channel) bool {
	return t != nil && t.from[ch] != ""
}

func (t *TwilioTransport) Deliver(ctx context.Context, m Message) (string, error) {
	from := t.from[m.Channel]
	if from == "" {
		return "", newError(m.Channel, CodeConfig, fmt.Errorf("twilio: no sender number for %s: %w", m.Channel, ErrNotConfigured))
	}
	to := m.To
	if m.Channel == model.ChannelWhatsApp {
		from = whatsappPrefix + from
		to = whatsappPrefix + to
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetBody(m.Body)
	if t.callback != "" {
		params.SetStatusCallback(t.callback)
	}

	resp, err := t.api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("twilio: create message: %w", err)
	}
	if resp == nil || resp.Sid == nil || *resp.Sid == "" {
		return "", errors.New("twilio: response without message sid")
	}
	if resp.Status != nil {
		switch *resp.Status {
		case "failed", "undelivered", "canceled":
			return "", fmt.Errorf("twilio: message %s status %s", *resp.Sid, *resp.Status)
		}
	}
	return *resp.Sid, nil
}
