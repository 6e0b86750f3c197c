// Package notifications delivers batch events via ntfy.
//
// NewService returns a no-op implementation when no topic is configured, and
// each event kind can be silenced with its toggle in the [notifications]
// section. Callers depend only on the Service interface.
package notifications
