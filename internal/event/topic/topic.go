package topic

import (
	"fmt"
	"regexp"
	"strings"
)

// Topic names a host event using "<namespace>:<before|after><Action>" notation.
// Examples: "user:beforeRegister", "note:afterCreate".
type Topic string

// Separator splits the namespace from the action.
const Separator = ":"

// Action prefixes that determine an event's kind.
const (
	prefixBefore = "before"
	prefixAfter  = "after"
)

var topicPattern = regexp.MustCompile(`^[a-z][a-zA-Z0-9]*:(before|after)[A-Z][a-zA-Z0-9]*$`)

// String returns the topic as a string.
func (t Topic) String() string {
	return string(t)
}

// Namespace returns the part before the separator.
//
// Example: "note:beforeCreate" -> "note"
func (t Topic) Namespace() string {
	s := string(t)
	idx := strings.Index(s, Separator)
	if idx < 0 {
		return ""
	}
	return s[:idx]
}

// Action returns the part after the separator.
//
// Example: "note:beforeCreate" -> "beforeCreate"
func (t Topic) Action() string {
	s := string(t)
	idx := strings.Index(s, Separator)
	if idx < 0 {
		return s
	}
	return s[idx+1:]
}

// IsValid returns true if the topic is well formed.
func (t Topic) IsValid() bool {
	return topicPattern.MatchString(string(t))
}

// Validate returns an error describing why the topic is malformed.
func (t Topic) Validate() error {
	if t == "" {
		return fmt.Errorf("%w: empty topic", ErrMalformedTopic)
	}
	if !t.IsValid() {
		return fmt.Errorf("%w: %q must look like namespace:beforeAction or namespace:afterAction", ErrMalformedTopic, string(t))
	}
	return nil
}

// Kind derives the dispatch kind from the action prefix.
// The second result is false for malformed topics.
func (t Topic) Kind() (Kind, bool) {
	if !t.IsValid() {
		return 0, false
	}
	if strings.HasPrefix(t.Action(), prefixBefore) {
		return KindBefore, true
	}
	return KindAfter, true
}

// Join builds a topic from a namespace and action.
func Join(namespace, action string) Topic {
	return Topic(namespace + Separator + action)
}

// Kind is the dispatch discipline of an event.
type Kind int

const (
	// KindAfter events are notifications. Handlers run concurrently and
	// cannot affect the host operation.
	KindAfter Kind = iota

	// KindBefore events are vetoable. Handlers run sequentially in
	// subscription order and may modify or cancel the payload.
	KindBefore
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindAfter:
		return "after"
	case KindBefore:
		return "before"
	default:
		return "unknown"
	}
}
