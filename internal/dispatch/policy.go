package dispatch

import "hydronotify/internal/model"

// Policy maps a primary channel to its ordered chain. Each chain starts with
// its primary and never repeats a channel.
type Policy struct {
	Chains map[model.Channel][]model.Channel
	// Defensive is used when the preferred channel has no usable contact but
	// a phone number is on file.
	Defensive []model.Channel
}

// DefaultPolicy: SMS falls back to WhatsApp then Email, WhatsApp falls back
// to Email, Email has no fallback.
func DefaultPolicy() Policy {
	return Policy{
		Chains: map[model.Channel][]model.Channel{
			model.ChannelSMS:      {model.ChannelSMS, model.ChannelWhatsApp, model.ChannelEmail},
			model.ChannelWhatsApp: {model.ChannelWhatsApp, model.ChannelEmail},
			model.ChannelEmail:    {model.ChannelEmail},
		},
		Defensive: []model.Channel{model.ChannelSMS},
	}
}

// Route is a planned chain.
type Route struct {
	Primary   model.Channel
	Channels  []model.Channel
	Defensive bool
}

// Plan picks the chain for p. ok is false when no channel can be tried.
//
// The primary is the preferred channel, or SMS when none is set and a phone
// exists. Phone channels need a valid E.164 number, email needs an address
// on file. A primary without a usable contact switches to the defensive route
// when a valid phone exists.
func (pol Policy) Plan(p model.Preference) (Route, bool) {
	primary := p.PreferredChannel
	if primary == model.ChannelUnset {
		if p.PhoneNumber == "" {
			return Route{}, false
		}
		primary = model.ChannelSMS
	}

	if hasContact(p, primary) {
		if chain := pol.Chains[primary]; len(chain) > 0 {
			return Route{Primary: primary, Channels: dedupe(chain)}, true
		}
	}

	if model.ValidPhone(p.PhoneNumber) && len(pol.Defensive) > 0 {
		return Route{Primary: pol.Defensive[0], Channels: dedupe(pol.Defensive), Defensive: true}, true
	}
	return Route{}, false
}

func hasContact(p model.Preference, ch model.Channel) bool {
	switch {
	case ch.UsesPhone():
		return model.ValidPhone(p.PhoneNumber)
	case ch == model.ChannelEmail:
		return p.Email != ""
	}
	return false
}

// Target returns the address for ch, or "" when none is on file.
func Target(p model.Preference, ch model.Channel) string {
	if ch.UsesPhone() {
		return p.PhoneNumber
	}
	if ch == model.ChannelEmail {
		return p.Email
	}
	return ""
}

func dedupe(chain []model.Channel) []model.Channel {
	seen := make(map[model.Channel]struct{}, len(chain))
	out := make([]model.Channel, 0, len(chain))
	for _, ch := range chain {
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out
}
