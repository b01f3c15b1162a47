package topic

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// Errors returned by the catalogue.
var (
	// ErrMalformedTopic is returned for names that do not follow the topic format.
	ErrMalformedTopic = errors.New("malformed topic")

	// ErrKindMismatch is returned when a descriptor's kind disagrees with its name.
	ErrKindMismatch = errors.New("topic kind does not match its name")

	// ErrDuplicateTopic is returned when a catalogue lists a topic twice.
	ErrDuplicateTopic = errors.New("duplicate topic")

	// ErrPayloadType is returned when a payload cannot be converted to the
	// topic's schema.
	ErrPayloadType = errors.New("payload does not match topic schema")
)

// Descriptor describes one entry of the event catalogue.
type Descriptor struct {
	// Topic is the event name.
	Topic Topic

	// Kind is the dispatch discipline; it always agrees with the name.
	Kind Kind

	// Description is a short human-readable summary.
	Description string

	// PayloadType is the canonical payload type.
	PayloadType reflect.Type

	// normalize converts any accepted payload form to the canonical type.
	normalize func(v any) (any, error)
}

// Normalize converts a payload to the canonical payload type.
// Values already of the canonical type pass through untouched. Dynamic values
// (maps produced by scripting plugins) are decoded strictly: unknown fields are
// rejected.
func (d Descriptor) Normalize(v any) (any, error) {
	if d.normalize == nil {
		return v, nil
	}
	return d.normalize(v)
}

// Key is a typed handle to a catalogue entry.
type Key[T any] struct {
	desc Descriptor
}

// NewAfter declares a notification event whose payload is T.
// It panics if the name is not a well-formed after-topic; keys are declared
// at package level so this fails at startup.
func NewAfter[T any](name Topic, description string) Key[T] {
	return newKey[T](name, KindAfter, description)
}

// NewBefore declares a vetoable event whose payload is T.
func NewBefore[T any](name Topic, description string) Key[T] {
	return newKey[T](name, KindBefore, description)
}

func newKey[T any](name Topic, kind Kind, description string) Key[T] {
	got, ok := name.Kind()
	if !ok {
		panic(name.Validate())
	}
	if got != kind {
		panic(fmt.Errorf("%w: %s declared as %s", ErrKindMismatch, name, kind))
	}
	return Key[T]{desc: Descriptor{
		Topic:       name,
		Kind:        kind,
		Description: description,
		PayloadType: reflect.TypeFor[T](),
		normalize:   normalizeTo[T],
	}}
}

// Topic returns the key's event name.
func (k Key[T]) Topic() Topic {
	return k.desc.Topic
}

// Descriptor returns the catalogue entry for the key.
func (k Key[T]) Descriptor() Descriptor {
	return k.desc
}

// Decode converts a payload to T.
func (k Key[T]) Decode(v any) (T, error) {
	out, err := normalizeTo[T](v)
	if err != nil {
		var zero T
		return zero, err
	}
	return out.(T), nil
}

func normalizeTo[T any](v any) (any, error) {
	switch p := v.(type) {
	case T:
		return p, nil
	case *T:
		if p == nil {
			return nil, fmt.Errorf("%w: nil %T", ErrPayloadType, v)
		}
		return *p, nil
	case nil:
		return nil, fmt.Errorf("%w: nil payload", ErrPayloadType)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadType, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var out T
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: want %s: %v", ErrPayloadType, reflect.TypeFor[T](), err)
	}
	return out, nil
}

// Catalogue is the closed, immutable set of events a host emits.
type Catalogue struct {
	entries map[Topic]Descriptor
	order   []Topic
}

// NewCatalogue builds a catalogue from descriptors.
func NewCatalogue(descs ...Descriptor) (*Catalogue, error) {
	c := &Catalogue{
		entries: make(map[Topic]Descriptor, len(descs)),
		order:   make([]Topic, 0, len(descs)),
	}
	for _, d := range descs {
		kind, ok := d.Topic.Kind()
		if !ok {
			return nil, d.Topic.Validate()
		}
		if kind != d.Kind {
			return nil, fmt.Errorf("%w: %s declared as %s", ErrKindMismatch, d.Topic, d.Kind)
		}
		if _, exists := c.entries[d.Topic]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTopic, d.Topic)
		}
		c.entries[d.Topic] = d
		c.order = append(c.order, d.Topic)
	}
	sort.Slice(c.order, func(i, j int) bool { return c.order[i] < c.order[j] })
	return c, nil
}

// MustCatalogue is like NewCatalogue but panics on error.
func MustCatalogue(descs ...Descriptor) *Catalogue {
	c, err := NewCatalogue(descs...)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns the descriptor for a topic.
func (c *Catalogue) Lookup(t Topic) (Descriptor, bool) {
	d, ok := c.entries[t]
	return d, ok
}

// All returns every descriptor sorted by topic.
func (c *Catalogue) All() []Descriptor {
	out := make([]Descriptor, 0, len(c.order))
	for _, t := range c.order {
		out = append(out, c.entries[t])
	}
	return out
}

// Topics returns every topic sorted by name.
func (c *Catalogue) Topics() []Topic {
	out := make([]Topic, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of catalogue entries.
func (c *Catalogue) Len() int {
	return len(c.order)
}
