package trigger

import (
	"fmt"
	"strings"
)

// EventType classifies how a pipeline run was invoked.
type EventType string

const (
	EventPush         EventType = "push"
	EventTag          EventType = "tag"
	EventMergeRequest EventType = "merge_request"
	EventManual       EventType = "manual"
)

// Event describes the trigger for a pipeline run.
type Event struct {
	Type EventType `json:"type"`
	Ref  string    `json:"ref,omitempty"`
}

// ParseEventType validates a user-supplied event name.
func ParseEventType(s string) (EventType, error) {
	switch EventType(strings.ToLower(strings.TrimSpace(s))) {
	case EventPush:
		return EventPush, nil
	case EventTag:
		return EventTag, nil
	case EventMergeRequest:
		return EventMergeRequest, nil
	case EventManual:
		return EventManual, nil
	default:
		return "", fmt.Errorf("unsupported event type %q", s)
	}
}

// FromRef maps a git ref like refs/tags/v1.2 or refs/heads/main to an Event.
func FromRef(ref string) Event {
	if name, ok := strings.CutPrefix(ref, "refs/tags/"); ok {
		return Event{Type: EventTag, Ref: name}
	}
	if name, ok := strings.CutPrefix(ref, "refs/heads/"); ok {
		return Event{Type: EventPush, Ref: name}
	}
	return Event{Type: EventPush, Ref: ref}
}

// Allows reports whether a job's only/except rules admit the event. An empty
// only list admits every event; except wins over only. A rejected job is
// skipped, never failed.
func Allows(only, except []string, ev Event) bool {
	for _, rule := range except {
		if matches(rule, ev) {
			return false
		}
	}
	if len(only) == 0 {
		return true
	}
	for _, rule := range only {
		if matches(rule, ev) {
			return true
		}
	}
	return false
}

func matches(rule string, ev Event) bool {
	switch rule {
	case "tags":
		return ev.Type == EventTag
	case "branches":
		return ev.Type == EventPush
	case "merge_requests":
		return ev.Type == EventMergeRequest
	default:
		return rule != "" && rule == ev.Ref
	}
}
