// Package trigger turns milestone events into notifications.
//
// A Trigger owns one subscription on the milestone bus. For every reminder or
// achievement event it resolves the user's preferences, claims the dedup key,
// composes the text and walks the fallback chain exactly once. Info and tip
// events only land in the message history.
//
// Lifecycle: New, then Start once; Stop unsubscribes, drains the buffered
// events and waits for the workers. Handle can be called directly (tests,
// synchronous API paths) whether or not the Trigger is started.
package trigger
