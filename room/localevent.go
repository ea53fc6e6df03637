package room

import (
	"encoding/base64"
	"encoding/json"

	"github.com/tidwall/gjson"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/auth"
	"go.mau.fi/roomengine/pdu"
	"go.mau.fi/roomengine/roomerr"
)

// wireDraft is the subset of PDU fields a locally originated event needs
// before hashing and signing (spec §4.6's add_event: "fill -> hash ->
// sign -> authorise -> store").
type wireDraft struct {
	Type           string          `json:"type"`
	RoomID         id.RoomID       `json:"room_id"`
	Sender         id.UserID       `json:"sender"`
	StateKey       *string         `json:"state_key,omitempty"`
	Depth          int64           `json:"depth"`
	PrevEvents     []id.EventID    `json:"prev_events"`
	AuthEvents     []id.EventID    `json:"auth_events"`
	OriginServerTS int64           `json:"origin_server_ts"`
	Content        json.RawMessage `json:"content"`
}

// buildLocalEvent implements spec §4.6's add_event pipeline for one
// partial event: fill it from the current leaves, stamp the content hash,
// sign, compute the event id, then decode the signed form into an
// *pdu.Event. Must run on the actor's own goroutine (it reads a.Store via
// fillEvent).
func (a *Actor) buildLocalEvent(eventType string, stateKey *string, content json.RawMessage, ts int64) (*pdu.Event, error) {
	filled := a.fillEvent(eventType, stateKey, gjson.ParseBytes(content), a.LocalUser)

	draft := wireDraft{
		Type:           eventType,
		RoomID:         a.RoomID,
		Sender:         a.LocalUser,
		StateKey:       stateKey,
		Depth:          filled.Depth,
		PrevEvents:     filled.PrevEvents,
		AuthEvents:     filled.AuthEvents,
		OriginServerTS: ts,
		Content:        content,
	}
	raw, err := json.Marshal(draft)
	if err != nil {
		return nil, err
	}

	hash, err := a.Signing.ContentHash(raw)
	if err != nil {
		return nil, err
	}
	raw, err = withHash(raw, hash)
	if err != nil {
		return nil, err
	}

	signed, err := a.Signing.Sign(raw, a.RoomVersion, a.Host, a.KeyID)
	if err != nil {
		return nil, err
	}
	eventID, err := a.Signing.GetEventID(signed, a.RoomVersion)
	if err != nil {
		return nil, err
	}
	e, err := pdu.Decode(signed, a.RoomVersion)
	if err != nil {
		return nil, err
	}
	e.ID = eventID
	return e, nil
}

func withHash(raw json.RawMessage, hash [32]byte) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	hashesObj := map[string]string{"sha256": base64.RawStdEncoding.EncodeToString(hash[:])}
	hashesJSON, err := json.Marshal(hashesObj)
	if err != nil {
		return nil, err
	}
	obj["hashes"] = hashesJSON
	return json.Marshal(obj)
}

// AddEvent implements spec §4.6's add_event cast: local origination of an
// event, from fill through store.
func (a *Actor) AddEvent(eventType string, stateKey *string, content json.RawMessage, ts int64) {
	a.cast(func() {
		e, err := a.buildLocalEvent(eventType, stateKey, content, ts)
		if err != nil {
			a.Log.Err(err).Str("type", eventType).Msg("Failed to build locally originated event")
			return
		}
		if err := a.resolveAuthStoreEventLocked(e); err != nil {
			a.Log.Err(err).Stringer("event_id", e.ID).Msg("Locally originated event failed auth")
		}
	})
}

// makeJoinEvent implements spec §4.6's make_join: only if params advertises
// this engine's room_version, synthesise a join PDU, fill it, run the auth
// engine, and return it unsigned/unstored (the caller — send_join's remote
// counterpart — is responsible for signing and re-submitting it).
func (a *Actor) makeJoinEvent(userID id.UserID, supportedVersions []id.RoomVersion) (*pdu.Event, error) {
	supported := false
	for _, v := range supportedVersions {
		if v == a.RoomVersion.ID {
			supported = true
			break
		}
	}
	if !supported {
		return nil, roomerr.IncompatibleVersionErr(a.RoomVersion.ID)
	}

	stateKey := string(userID)
	content, err := json.Marshal(map[string]any{"membership": "join"})
	if err != nil {
		return nil, err
	}
	filled := a.fillEvent("m.room.member", &stateKey, gjson.ParseBytes(content), userID)

	draft := wireDraft{
		Type:           "m.room.member",
		RoomID:         a.RoomID,
		Sender:         userID,
		StateKey:       &stateKey,
		Depth:          filled.Depth,
		PrevEvents:     filled.PrevEvents,
		AuthEvents:     filled.AuthEvents,
		OriginServerTS: nowMillis(),
		Content:        content,
	}
	raw, err := json.Marshal(draft)
	if err != nil {
		return nil, err
	}
	e, err := pdu.Decode(raw, a.RoomVersion)
	if err != nil {
		return nil, err
	}

	snapshot := make(auth.Snapshot, len(filled.State))
	for key, eventID := range filled.State {
		if authEvent, ok := a.Store.Get(eventID); ok {
			snapshot[key] = authEvent
		}
	}
	if !auth.CheckEvent(e, snapshot, a.RoomVersion) {
		return nil, roomerr.NotInvited
	}
	return e, nil
}

// MakeJoin is the synchronous call backing spec §4.6's make_join public
// operation. Failure to find the sender invited, or an unsupported version,
// surfaces as the taxonomy errors spec §7 names.
func (a *Actor) MakeJoin(userID id.UserID, supportedVersions []id.RoomVersion) (*pdu.Event, error) {
	type result struct {
		event *pdu.Event
		err   error
	}
	r := call(a, func() result {
		e, err := a.makeJoinEvent(userID, supportedVersions)
		return result{e, err}
	})
	return r.event, r.err
}
