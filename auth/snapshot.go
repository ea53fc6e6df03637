// Package auth implements the auth-rules engine (spec §4.3): deciding
// whether a single event is allowed given a resolved state snapshot.
package auth

import (
	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/pdu"
)

const (
	TypeCreate        = "m.room.create"
	TypeMember        = "m.room.member"
	TypePowerLevels   = "m.room.power_levels"
	TypeJoinRules     = "m.room.join_rules"
	TypeThirdPartyInv = "m.room.third_party_invite"
)

const (
	MembershipJoin   = "join"
	MembershipLeave  = "leave"
	MembershipInvite = "invite"
	MembershipBan    = "ban"
	MembershipKnock  = "knock"
)

const (
	JoinRulePublic          = "public"
	JoinRuleInvite          = "invite"
	JoinRuleKnock           = "knock"
	JoinRuleRestricted      = "restricted"
	JoinRuleKnockRestricted = "knock_restricted"
)

// Snapshot is the state_map of spec §4.3, resolved down to full events
// rather than just ids, since the auth rules need to read each state
// event's content.
type Snapshot map[pdu.StateMapKey]*pdu.Event

// Get looks up a (type, state_key) slot, returning nil if absent.
func (s Snapshot) Get(eventType, stateKey string) *pdu.Event {
	return s[pdu.StateMapKey{Type: eventType, StateKey: stateKey}]
}

// Empty reports whether the snapshot carries no state at all, the
// condition m.room.create requires of its predecessor state.
func (s Snapshot) Empty() bool { return len(s) == 0 }

// MembershipOf returns the membership string for a user, and whether an
// m.room.member state event with a non-empty membership exists for them.
func (s Snapshot) MembershipOf(user id.UserID) (string, bool) {
	evt := s.Get(TypeMember, string(user))
	if evt == nil {
		return "", false
	}
	m := evt.Content().Get("membership").String()
	return m, m != ""
}

// IsJoined is shorthand for MembershipOf(user) == "join".
func (s Snapshot) IsJoined(user id.UserID) bool {
	m, ok := s.MembershipOf(user)
	return ok && m == MembershipJoin
}

// Creator returns the effective room creator per spec §4.3's m.room.member
// "join" rule: under ImplicitRoomCreator, the create event's sender;
// otherwise content.creator of the create event.
func (s Snapshot) Creator(implicitRoomCreator bool) id.UserID {
	create := s.Get(TypeCreate, "")
	if create == nil {
		return ""
	}
	if implicitRoomCreator {
		return create.Sender
	}
	if c := create.Content().Get("creator"); c.Exists() {
		return id.UserID(c.String())
	}
	return create.Sender
}
