package room

import (
	"github.com/tidwall/gjson"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/auth"
	"go.mau.fi/roomengine/pdu"
	"go.mau.fi/roomengine/stateres"
)

// computeEventAuthKeys implements spec §4.6's compute_event_auth_keys: the
// set of (type, state_key) slots a partial event's auth_events must be
// drawn from, depending on its own type and (for members) membership.
func computeEventAuthKeys(eventType string, stateKey *string, content gjson.Result, sender id.UserID) []pdu.StateMapKey {
	if eventType == auth.TypeCreate {
		return nil
	}
	if eventType != auth.TypeMember {
		return []pdu.StateMapKey{
			{Type: auth.TypeCreate, StateKey: ""},
			{Type: auth.TypePowerLevels, StateKey: ""},
			{Type: auth.TypeMember, StateKey: string(sender)},
		}
	}

	keys := []pdu.StateMapKey{
		{Type: auth.TypeCreate, StateKey: ""},
		{Type: auth.TypePowerLevels, StateKey: ""},
		{Type: auth.TypeMember, StateKey: string(sender)},
	}
	if stateKey != nil {
		keys = append(keys, pdu.StateMapKey{Type: auth.TypeMember, StateKey: *stateKey})
	}
	switch content.Get("membership").String() {
	case auth.MembershipJoin:
		keys = append(keys, pdu.StateMapKey{Type: auth.TypeJoinRules, StateKey: ""})
		if authoriser := content.Get("join_authorised_via_users_server"); authoriser.Exists() {
			keys = append(keys, pdu.StateMapKey{Type: auth.TypeMember, StateKey: authoriser.String()})
		}
	case auth.MembershipInvite:
		keys = append(keys, pdu.StateMapKey{Type: auth.TypeJoinRules, StateKey: ""})
		if token := content.Get("third_party_invite.signed.token"); token.Exists() {
			keys = append(keys, pdu.StateMapKey{Type: auth.TypeThirdPartyInv, StateKey: token.String()})
		}
	case auth.MembershipKnock:
		keys = append(keys, pdu.StateMapKey{Type: auth.TypeJoinRules, StateKey: ""})
	}
	return keys
}

// authEventIDsFor resolves the (type, state_key) keys computeEventAuthKeys
// names down to concrete event ids present in state, deduplicated while
// preserving first-seen order (spec §4.6's "unique concatenation").
func authEventIDsFor(keys []pdu.StateMapKey, state pdu.StateMap) []id.EventID {
	out := make([]id.EventID, 0, len(keys))
	seen := map[id.EventID]bool{}
	for _, k := range keys {
		eventID, ok := state[k]
		if !ok || seen[eventID] {
			continue
		}
		seen[eventID] = true
		out = append(out, eventID)
	}
	return out
}

// filledEvent carries the parent-derived fields FillEvent computes, ready
// to be stamped onto a partial PDU before hashing and signing.
type filledEvent struct {
	PrevEvents []id.EventID
	AuthEvents []id.EventID
	Depth      int64
	State      pdu.StateMap
}

// fillEvent implements spec §4.6's fill_event. Must run on the actor's own
// goroutine since it reads Store directly. eventType/stateKey/content
// describe the partial event being originated; sender is its author.
func (a *Actor) fillEvent(eventType string, stateKey *string, content gjson.Result, sender id.UserID) filledEvent {
	leaves := a.Store.LatestEvents()
	maps := make([]pdu.StateMap, 0, len(leaves))
	var maxDepth int64
	for _, p := range leaves {
		parent, ok := a.Store.Get(p)
		if !ok {
			continue
		}
		if parent.Depth > maxDepth {
			maxDepth = parent.Depth
		}
		if parent.StateMap != nil {
			maps = append(maps, parent.StateMap)
		}
	}
	depth := maxDepth + 1
	if depth > pdu.MaxDepth {
		depth = pdu.MaxDepth
	}
	state := stateres.Resolve(maps, a.Store, a.RoomVersion)
	keys := computeEventAuthKeys(eventType, stateKey, content, sender)
	return filledEvent{
		PrevEvents: leaves,
		AuthEvents: authEventIDsFor(keys, state),
		Depth:      depth,
		State:      state,
	}
}
