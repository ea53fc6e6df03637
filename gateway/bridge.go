package gateway

import (
	"context"

	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/auth"
	"go.mau.fi/roomengine/pdu"
)

// JID is a local or bridged user identity as seen by the gateway side of
// spec §4.7/§6.
type JID struct {
	User string
	Host string
}

func (j JID) String() string { return j.User + "@" + j.Host }

// Gateway is the external collaborator this bridge projects events to
// (spec §1's "Gateway" collaborator): it owns local user identities and
// routes messages between the gateway world and Matrix.
type Gateway interface {
	DeliverMessage(ctx context.Context, to JID, roomID id.RoomID, body string) error
}

// Remote is the subset of the room actor's outbound-txn machinery the
// bridge needs in order to enqueue a message for delivery to remote
// servers (spec §4.7's notify_event, local-message branch).
type Remote interface {
	EnqueueToRemotes(e *pdu.Event, remoteServers []string)
}

// Bridge implements spec §4.7's user_id_to_jid and notify_event for one
// room: matrixDomain is this room engine's own homeserver name,
// serviceHost is the gateway-facing hostname used for bridged jids.
type Bridge struct {
	MatrixDomain string
	ServiceHost  string
	LocalUser    JID
	RemoteUser   id.UserID
	Gateway      Gateway
	Remote       Remote

	// LocalMatrixUser is the Matrix user id of this room's local
	// participant, used to tell which side of the conversation an
	// incoming event's sender is on (spec §4.7's notify_event).
	LocalMatrixUser id.UserID
}

// UserIDToJID implements spec §4.7's user_id_to_jid: a user on this
// engine's own domain maps to its local jid verbatim; anyone else maps to
// the escaped gateway jid `escape(user)%escape(server)@service_host`.
func (b *Bridge) UserIDToJID(user id.UserID) JID {
	server := user.Homeserver()
	if server == b.MatrixDomain {
		return JID{User: user.Localpart(), Host: b.MatrixDomain}
	}
	return JID{User: Escape(user.Localpart()) + "%" + Escape(server), Host: b.ServiceHost}
}

// NotifyEvent implements spec §4.7's notify_event projection for local
// gateway messages. Matrix-level projections (federation invite
// forwarding) are handled by the room actor itself, which is the
// collaborator that owns the federation client and the auth snapshot.
func (b *Bridge) NotifyEvent(ctx context.Context, e *pdu.Event, joinedRemoteServers []string) {
	if e.Type == "m.room.message" {
		b.notifyMessage(ctx, e, joinedRemoteServers)
	}
}

// notifyMessage implements spec §4.7's notify_event, message branch: an
// event authored by this room's own Matrix user is forwarded on to the
// remote servers; anything else (i.e. authored by the remote side) is
// delivered to the local gateway user.
func (b *Bridge) notifyMessage(ctx context.Context, e *pdu.Event, joinedRemoteServers []string) {
	content := e.Content()
	if content.Get("msgtype").String() != "m.text" {
		return
	}
	body := content.Get("body").String()
	if e.Sender == b.LocalMatrixUser {
		b.Remote.EnqueueToRemotes(e, joinedRemoteServers)
		return
	}
	_ = b.Gateway.DeliverMessage(ctx, b.LocalUser, e.RoomID, body)
}

// strippedStateTypes are the event types spec §4.7 includes in the
// stripped-state extract sent alongside a remote invite.
var strippedStateTypes = map[string]bool{
	auth.TypeCreate:    true,
	auth.TypeJoinRules: true,
}

// StrippedState builds spec §4.7's invite_room_state extract: create,
// join_rules, and the inviter's own member event, taken from snapshot.
func StrippedState(snapshot auth.Snapshot, inviter id.UserID) []*pdu.Event {
	out := make([]*pdu.Event, 0, 3)
	for key, evt := range snapshot {
		if strippedStateTypes[key.Type] || (key.Type == auth.TypeMember && key.StateKey == string(inviter)) {
			out = append(out, evt)
		}
	}
	return out
}
