// Package dispatch walks a user's fallback chain.
//
// A Policy maps the preferred channel to an ordered list of channels. The
// Dispatcher tries them one after another through a channel.Sender and stops
// at the first success. Attempts are never issued in parallel: only one
// channel should bill and deliver per event.
package dispatch
