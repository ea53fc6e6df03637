package auth

import (
	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/pdu"
	"go.mau.fi/roomengine/roomversion"
)

// checkCreate implements spec §4.3's m.room.create rule: allowed iff the
// state snapshot is empty, the sender's server matches the room id's
// server, and (unless ImplicitRoomCreator) content.creator is present.
func checkCreate(evt *pdu.Event, snapshot Snapshot, profile roomversion.Profile) bool {
	if !snapshot.Empty() {
		return false
	}
	_, roomHomeserver, _ := id.ParseCommonIdentifier(evt.RoomID)
	if evt.Sender.Homeserver() != roomHomeserver {
		return false
	}
	if !profile.ImplicitRoomCreator {
		if !evt.Content().Get("creator").Exists() {
			return false
		}
	}
	return true
}
