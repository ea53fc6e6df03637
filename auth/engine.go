package auth

import (
	"strings"

	"go.mau.fi/roomengine/pdu"
	"go.mau.fi/roomengine/roomversion"
)

// ruleFunc decides whether evt is allowed given the pre-event state
// snapshot. Panics inside a ruleFunc are recovered by CheckEvent and
// collapse to deny, per spec §4.3's "all exceptions inside rule evaluation
// collapse to deny".
type ruleFunc func(evt *pdu.Event, snapshot Snapshot, profile roomversion.Profile) bool

// dispatch is the per-event-type rule table (spec §4.3). Event types not
// listed here fall through to checkOther.
var dispatch = map[string]ruleFunc{
	TypeCreate: checkCreate,
	TypeMember: checkMember,
}

// CheckEvent implements spec §4.3's check_event_auth: given an event and
// the state snapshot derived from its auth_events, decide whether it is
// allowed. It never returns an error; malformed input simply denies.
func CheckEvent(evt *pdu.Event, snapshot Snapshot, profile roomversion.Profile) (allowed bool) {
	defer func() {
		if recover() != nil {
			allowed = false
		}
	}()
	if evt.Type != TypeCreate && snapshot.Get(TypeCreate, "") == nil {
		return false
	}
	if rule, ok := dispatch[evt.Type]; ok {
		return rule(evt, snapshot, profile)
	}
	return checkOther(evt, snapshot, profile)
}

// checkOther implements spec §4.3's "any other event" rule, which also
// covers m.room.power_levels (plus its additional delta check) and every
// other state/message type not given a dedicated rule.
func checkOther(evt *pdu.Event, snapshot Snapshot, profile roomversion.Profile) bool {
	if !snapshot.IsJoined(evt.Sender) {
		return false
	}
	required := requiredPowerForEvent(evt.Type, snapshot)
	if GetUserPowerLevel(evt.Sender, snapshot, profile) < required {
		return false
	}
	if evt.StateKey != nil && strings.HasPrefix(*evt.StateKey, "@") && *evt.StateKey != string(evt.Sender) {
		return false
	}
	if evt.Type == TypePowerLevels {
		return checkPowerLevelsDelta(evt, snapshot, profile)
	}
	return true
}
