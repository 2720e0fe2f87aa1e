// Package notifications sends push notifications about audio system
// lifecycle events via ntfy. When no topic is configured every call is a
// no-op so callers never need to nil-check.
package notifications
