// Package ids defines the identifier types threaded through every engine
// component: tenants, aggregates, events and users are never passed around as
// bare strings or bare uuid.UUID values.
package ids

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// TenantId identifies the tenant that owns a stream, a projection cursor, a
// read-model row, or a saga instance. It is the isolation boundary every
// engine operation is scoped by.
type TenantId struct{ uuid.UUID }

// AggregateId identifies a single event stream.
type AggregateId struct{ uuid.UUID }

// EventId identifies a single stored event, independent of its position in
// any stream.
type EventId struct{ uuid.UUID }

// UserId identifies the principal that caused a command. The dispatcher
// passes it to the Authorizer; stored events do not carry it, and the engine
// does not interpret it.
type UserId struct{ uuid.UUID }

func NewTenantId() TenantId       { return TenantId{uuid.Must(uuid.NewV7())} }
func NewAggregateId() AggregateId { return AggregateId{uuid.Must(uuid.NewV7())} }
func NewEventId() EventId         { return EventId{uuid.Must(uuid.NewV7())} }
func NewUserId() UserId           { return UserId{uuid.Must(uuid.NewV7())} }

func ParseTenantId(s string) (TenantId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TenantId{}, fmt.Errorf("%w: tenant id %q: %v", ErrInvalidID, s, err)
	}
	return TenantId{u}, nil
}

func ParseAggregateId(s string) (AggregateId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return AggregateId{}, fmt.Errorf("%w: aggregate id %q: %v", ErrInvalidID, s, err)
	}
	return AggregateId{u}, nil
}

func ParseEventId(s string) (EventId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return EventId{}, fmt.Errorf("%w: event id %q: %v", ErrInvalidID, s, err)
	}
	return EventId{u}, nil
}

func ParseUserId(s string) (UserId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return UserId{}, fmt.Errorf("%w: user id %q: %v", ErrInvalidID, s, err)
	}
	return UserId{u}, nil
}

func (t TenantId) String() string    { return t.UUID.String() }
func (a AggregateId) String() string { return a.UUID.String() }
func (e EventId) String() string     { return e.UUID.String() }
func (u UserId) String() string      { return u.UUID.String() }

func (t TenantId) IsZero() bool    { return t.UUID == uuid.Nil }
func (a AggregateId) IsZero() bool { return a.UUID == uuid.Nil }

func (t TenantId) MarshalJSON() ([]byte, error) { return json.Marshal(t.UUID.String()) }
func (t *TenantId) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTenantId(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (a AggregateId) MarshalJSON() ([]byte, error) { return json.Marshal(a.UUID.String()) }
func (a *AggregateId) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseAggregateId(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (e EventId) MarshalJSON() ([]byte, error) { return json.Marshal(e.UUID.String()) }
func (e *EventId) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseEventId(s)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
