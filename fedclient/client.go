// Package fedclient declares the federation HTTP client collaborator (spec
// §6): request signing and transport live outside this module's scope, but
// the room actor drives federation interactions purely through this
// interface so it can be tested without a network.
package fedclient

import (
	"context"
	"encoding/json"

	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/pdu"
)

// MakeJoinResult is the response to GET .../make_join/{roomId}/{userId}.
type MakeJoinResult struct {
	Event       json.RawMessage `json:"event"`
	RoomVersion id.RoomVersion  `json:"room_version"`
}

// SendJoinResult is the response to PUT .../send_join/{roomId}/{eventId}.
type SendJoinResult struct {
	Event     json.RawMessage   `json:"event"`
	State     []json.RawMessage `json:"state"`
	AuthChain []json.RawMessage `json:"auth_chain"`
}

// StateResult is the response to GET .../state/{roomId}.
type StateResult struct {
	PDUs      []json.RawMessage `json:"pdus"`
	AuthChain []json.RawMessage `json:"auth_chain"`
}

// Transaction is the body of PUT .../send/{txnId} (spec §4.6 send_txn).
type Transaction struct {
	Origin         string            `json:"origin"`
	OriginServerTS int64             `json:"origin_server_ts"`
	PDUs           []json.RawMessage `json:"pdus"`
}

// Client is everything the room actor needs from the federation transport
// (spec §6's server-server endpoints). Implementations own request signing
// and any retries below the 30s outbound-txn resend; the room actor bounds
// each call with a context deadline taken from config.Config.
type Client interface {
	MakeJoin(ctx context.Context, destination string, roomID id.RoomID, userID id.UserID, supportedVersions []id.RoomVersion) (*MakeJoinResult, error)
	SendJoin(ctx context.Context, destination string, roomID id.RoomID, eventID id.EventID, signedEvent json.RawMessage) (*SendJoinResult, error)
	GetMissingEvents(ctx context.Context, destination string, roomID id.RoomID, earliest, latest []id.EventID, limit int) ([]json.RawMessage, error)
	GetState(ctx context.Context, destination string, roomID id.RoomID, eventID id.EventID) (*StateResult, error)
	GetEvent(ctx context.Context, destination string, eventID id.EventID) (json.RawMessage, error)
	Send(ctx context.Context, destination string, txnID string, txn Transaction) error
	Invite(ctx context.Context, destination string, roomID id.RoomID, eventID id.EventID, signedEvent json.RawMessage, roomVersion id.RoomVersion, inviteRoomState []*pdu.Event) error
}
