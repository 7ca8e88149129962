// Package notifications publishes job outcomes to an ntfy topic.
//
// When no topic is configured NewService returns a no-op notifier, so callers
// can notify unconditionally. Delivery failures are returned to the caller and
// never affect the job itself.
package notifications
