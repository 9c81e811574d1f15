// Package id provides the prefixed, sortable identifiers used by every
// hookrelay record, e.g. "evt_01h455vb4pex5vsknk084sn02q".
//
// IDs are TypeIDs: a short type prefix followed by a base32 UUIDv7, so they
// sort by creation time and can be checked for the right kind when parsed
// from a URL or a database row.
package id

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix is the type tag of an ID.
type Prefix string

const (
	PrefixWebhook  Prefix = "wh"
	PrefixTopic    Prefix = "topic"
	PrefixEvent    Prefix = "evt"
	PrefixDelivery Prefix = "del"
	PrefixDLQ      Prefix = "dlq"
	PrefixJob      Prefix = "job"
)

var kinds = map[Prefix]string{
	PrefixWebhook:  "webhook",
	PrefixTopic:    "topic",
	PrefixEvent:    "event",
	PrefixDelivery: "delivery",
	PrefixDLQ:      "dlq entry",
	PrefixJob:      "job",
}

func (p Prefix) kind() string {
	if k, ok := kinds[p]; ok {
		return k
	}
	return string(p)
}

var errEmpty = errors.New("empty string")

// ID identifies a hookrelay record. The zero value is Nil and encodes as an
// empty string in JSON and as NULL in SQL.
//
//nolint:recvcheck // UnmarshalText and Scan need pointer receivers.
type ID struct {
	tid typeid.TypeID
	set bool
}

// Nil is the zero ID.
var Nil ID

// New returns a fresh ID. It panics on a malformed prefix, which is always a
// programming error.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", prefix, err))
	}
	return ID{tid: tid, set: true}
}

// Parse decodes any well-formed TypeID, whatever its prefix.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: %w", errEmpty)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, set: true}, nil
}

// ParseWithPrefix decodes s and rejects IDs of another kind.
func ParseWithPrefix(s string, want Prefix) (ID, error) {
	v, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := v.Prefix(); got != want {
		return Nil, fmt.Errorf("id: %q: expected %s id, got %s id", s, want.kind(), got.kind())
	}
	return v, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) ID {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// MustParseWithPrefix is ParseWithPrefix for literals known to be valid.
func MustParseWithPrefix(s string, want Prefix) ID {
	v, err := ParseWithPrefix(s, want)
	if err != nil {
		panic(err)
	}
	return v
}

func NewWebhookID() ID  { return New(PrefixWebhook) }
func NewTopicID() ID    { return New(PrefixTopic) }
func NewEventID() ID    { return New(PrefixEvent) }
func NewDeliveryID() ID { return New(PrefixDelivery) }
func NewDLQID() ID      { return New(PrefixDLQ) }
func NewJobID() ID      { return New(PrefixJob) }

func ParseWebhookID(s string) (ID, error)  { return ParseWithPrefix(s, PrefixWebhook) }
func ParseTopicID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixTopic) }
func ParseEventID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixEvent) }
func ParseDeliveryID(s string) (ID, error) { return ParseWithPrefix(s, PrefixDelivery) }
func ParseDLQID(s string) (ID, error)      { return ParseWithPrefix(s, PrefixDLQ) }
func ParseJobID(s string) (ID, error)      { return ParseWithPrefix(s, PrefixJob) }

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.set {
		return ""
	}
	return i.tid.String()
}

// Prefix returns the type tag, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.set {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

// IsNil reports whether i is the zero ID.
func (i ID) IsNil() bool { return !i.set }

func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *ID) UnmarshalText(data []byte) error {
	return i.decode(string(data))
}

// Value stores Nil as NULL so optional reference columns stay empty.
func (i ID) Value() (driver.Value, error) {
	if !i.set {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.tid.String(), nil
}

func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.decode(v)
	case []byte:
		return i.decode(string(v))
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}

// decode treats an empty string as Nil.
func (i *ID) decode(s string) error {
	if s == "" {
		*i = Nil
		return nil
	}
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*i = v
	return nil
}
