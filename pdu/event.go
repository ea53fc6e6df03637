// Package pdu implements the event codec (spec §4.1): decoding a wire PDU
// JSON object into a typed, partially-validated Event, and the in-memory
// representation of an event's resolved state used throughout the engine.
package pdu

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/tidwall/gjson"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/roomerr"
	"go.mau.fi/roomengine/roomversion"
)

// MaxDepth is the depth ceiling from spec §3: 2^63-1.
const MaxDepth = int64(math.MaxInt64)

// StateMapKey identifies one slot of room state: an event type paired with a
// state key.
type StateMapKey struct {
	Type     string
	StateKey string
}

func (k StateMapKey) String() string {
	return fmt.Sprintf("%s/%s", k.Type, k.StateKey)
}

// StateMap is the `(type, state_key) -> event_id` snapshot described in
// spec §3. A nil StateMap and an empty-but-non-nil one are different things
// only at the Event.StateMap level (nil means "not yet materialised");
// StateMap itself is always compared as a plain map.
type StateMap map[StateMapKey]id.EventID

// Clone returns a shallow copy so callers can derive a new snapshot without
// mutating one still referenced by a stored Event.
func (m StateMap) Clone() StateMap {
	out := make(StateMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Event is the fully-decoded, immutable-once-materialised PDU of spec §3.
// StateMap is nil until the event has been authorised with fully known
// parents; per invariant 5 it must never be reset to nil afterwards.
type Event struct {
	ID             id.EventID
	RoomID         id.RoomID
	Type           string
	StateKey       *string
	Sender         id.UserID
	Depth          int64
	AuthEvents     []id.EventID
	PrevEvents     []id.EventID
	OriginServerTS int64
	RoomVersion    roomversion.Profile

	// JSON is the original (or, after a failed content-hash check, pruned)
	// canonical PDU JSON. It is the only copy of `content` the rest of the
	// engine should parse, via gjson, rather than re-decoding into typed
	// structs.
	JSON json.RawMessage

	// StateMap is the resolved room state immediately after this event.
	// Nil means "known but not materialised" (spec §3).
	StateMap StateMap
}

// IsState reports whether this event carries a state_key.
func (e *Event) IsState() bool { return e.StateKey != nil }

// StateMapKey returns this event's own (type, state_key) slot. It panics if
// called on a non-state event; callers must check IsState first.
func (e *Event) StateMapKey() StateMapKey {
	return StateMapKey{Type: e.Type, StateKey: *e.StateKey}
}

// Content returns a gjson result over the event's `content` field, ready for
// ad-hoc field lookups (`.Get("membership")`, `.Get("users")`, ...).
func (e *Event) Content() gjson.Result {
	return gjson.GetBytes(e.JSON, "content")
}

// wirePDU mirrors the subset of the Matrix PDU wire format the codec needs
// to validate before it can build an Event. It intentionally does not try
// to fully type `content`; that stays as raw JSON for the auth engine and
// state resolver to query with gjson.
type wirePDU struct {
	Type           *string         `json:"type"`
	RoomID         *string         `json:"room_id"`
	Depth          *int64          `json:"depth"`
	AuthEvents     []string        `json:"auth_events"`
	PrevEvents     []string        `json:"prev_events"`
	Sender         *string         `json:"sender"`
	StateKey       *string         `json:"state_key"`
	OriginServerTS *int64          `json:"origin_server_ts"`
	Content        json.RawMessage `json:"content"`
}

// DecodeErr wraps a field-shape failure of Decode.
type DecodeErr struct {
	Field string
}

func (e DecodeErr) Error() string {
	return fmt.Sprintf("pdu: missing or malformed field %q", e.Field)
}

// Decode parses a PDU JSON object into an Event with StateMap left nil, per
// spec §4.1. It rejects the PDU if any required field is missing or has the
// wrong shape; it does not compute the event id (that needs the signing
// service) and does not verify signatures or hashes (see CheckSigAndHash).
func Decode(raw json.RawMessage, version roomversion.Profile) (*Event, error) {
	var w wirePDU
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, roomerr.Wrap(roomerr.UnknownEvent, err)
	}
	switch {
	case w.Type == nil || *w.Type == "":
		return nil, DecodeErr{Field: "type"}
	case w.RoomID == nil || *w.RoomID == "":
		return nil, DecodeErr{Field: "room_id"}
	case w.Depth == nil:
		return nil, DecodeErr{Field: "depth"}
	case w.AuthEvents == nil:
		return nil, DecodeErr{Field: "auth_events"}
	case w.Sender == nil || *w.Sender == "":
		return nil, DecodeErr{Field: "sender"}
	case w.PrevEvents == nil:
		return nil, DecodeErr{Field: "prev_events"}
	case w.OriginServerTS == nil:
		return nil, DecodeErr{Field: "origin_server_ts"}
	}
	depth := *w.Depth
	if depth < 0 {
		depth = 0
	} else if depth > MaxDepth {
		depth = MaxDepth
	}
	authEvents := make([]id.EventID, len(w.AuthEvents))
	for i, a := range w.AuthEvents {
		authEvents[i] = id.EventID(a)
	}
	prevEvents := make([]id.EventID, len(w.PrevEvents))
	for i, p := range w.PrevEvents {
		prevEvents[i] = id.EventID(p)
	}
	return &Event{
		RoomID:         id.RoomID(*w.RoomID),
		Type:           *w.Type,
		StateKey:       w.StateKey,
		Sender:         id.UserID(*w.Sender),
		Depth:          depth,
		AuthEvents:     authEvents,
		PrevEvents:     prevEvents,
		OriginServerTS: *w.OriginServerTS,
		RoomVersion:    version,
		JSON:           raw,
	}, nil
}
