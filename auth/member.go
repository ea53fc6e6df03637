package auth

import (
	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/pdu"
	"go.mau.fi/roomengine/roomversion"
)

func joinRule(snapshot Snapshot) string {
	evt := snapshot.Get(TypeJoinRules, "")
	if evt == nil {
		return JoinRuleInvite
	}
	if r := evt.Content().Get("join_rule"); r.Exists() {
		return r.String()
	}
	return JoinRuleInvite
}

// checkMember implements spec §4.3's m.room.member dispatch.
func checkMember(evt *pdu.Event, snapshot Snapshot, profile roomversion.Profile) bool {
	if evt.StateKey == nil {
		return false
	}
	membership := evt.Content().Get("membership").String()
	target := id.UserID(*evt.StateKey)
	switch membership {
	case MembershipJoin:
		return checkJoin(evt, snapshot, profile, target)
	case MembershipInvite:
		return checkInvite(evt, snapshot, profile, target)
	case MembershipLeave:
		return checkLeave(evt, snapshot, profile, target)
	case MembershipBan:
		return checkBan(evt, snapshot, profile, target)
	case MembershipKnock:
		return checkKnock(evt, snapshot, profile, target)
	default:
		return false
	}
}

func checkJoin(evt *pdu.Event, snapshot Snapshot, profile roomversion.Profile, target id.UserID) bool {
	create := snapshot.Get(TypeCreate, "")
	if create != nil && len(evt.AuthEvents) == 1 && evt.AuthEvents[0] == create.ID &&
		evt.Sender == target && evt.Sender == snapshot.Creator(profile.ImplicitRoomCreator) {
		return true
	}
	if evt.Sender != target {
		return false
	}
	priorMembership, hasPrior := snapshot.MembershipOf(evt.Sender)
	if hasPrior && priorMembership == MembershipBan {
		return false
	}
	if hasPrior && priorMembership == MembershipJoin {
		return true
	}
	rule := joinRule(snapshot)
	if !hasPrior {
		return rule == JoinRulePublic
	}
	switch {
	case rule == JoinRulePublic:
		return true
	case rule == JoinRuleInvite && priorMembership == MembershipInvite:
		return true
	case rule == JoinRuleKnock && priorMembership == MembershipInvite:
		return true
	case rule == JoinRuleRestricted && priorMembership == MembershipInvite:
		return true
	case rule == JoinRuleKnockRestricted && priorMembership == MembershipInvite && profile.KnockRestrictedJoinRule:
		return true
	default:
		return false
	}
}

func checkInvite(evt *pdu.Event, snapshot Snapshot, profile roomversion.Profile, target id.UserID) bool {
	if !snapshot.IsJoined(evt.Sender) {
		return false
	}
	// TODO: third_party_invite is recognised but not fully enforced here;
	// per the open design question this stays a pass-through rather than
	// invented policy.
	targetMembership, hasTarget := snapshot.MembershipOf(target)
	if hasTarget && (targetMembership == MembershipBan || targetMembership == MembershipJoin) {
		return false
	}
	senderPower := GetUserPowerLevel(evt.Sender, snapshot, profile)
	return senderPower >= inviteLevel(snapshot)
}

func checkLeave(evt *pdu.Event, snapshot Snapshot, profile roomversion.Profile, target id.UserID) bool {
	if evt.Sender == target {
		prior, ok := snapshot.MembershipOf(evt.Sender)
		return ok && (prior == MembershipInvite || prior == MembershipJoin || prior == MembershipKnock)
	}
	if !snapshot.IsJoined(evt.Sender) {
		return false
	}
	senderPower := GetUserPowerLevel(evt.Sender, snapshot, profile)
	targetPower := GetUserPowerLevel(target, snapshot, profile)
	if senderPower < kickLevel(snapshot) || senderPower <= targetPower {
		return false
	}
	targetMembership, _ := snapshot.MembershipOf(target)
	if targetMembership == MembershipBan && senderPower < banLevel(snapshot) {
		return false
	}
	return true
}

func checkBan(evt *pdu.Event, snapshot Snapshot, profile roomversion.Profile, target id.UserID) bool {
	if !snapshot.IsJoined(evt.Sender) {
		return false
	}
	senderPower := GetUserPowerLevel(evt.Sender, snapshot, profile)
	targetPower := GetUserPowerLevel(target, snapshot, profile)
	return senderPower >= banLevel(snapshot) && senderPower > targetPower
}

func checkKnock(evt *pdu.Event, snapshot Snapshot, profile roomversion.Profile, target id.UserID) bool {
	if evt.Sender != target {
		return false
	}
	rule := joinRule(snapshot)
	if rule != JoinRuleKnock && !(rule == JoinRuleKnockRestricted && profile.KnockRestrictedJoinRule) {
		return false
	}
	targetMembership, hasTarget := snapshot.MembershipOf(evt.Sender)
	if hasTarget && (targetMembership == MembershipBan || targetMembership == MembershipJoin) {
		return false
	}
	return true
}
