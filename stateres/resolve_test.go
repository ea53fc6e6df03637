package stateres

import (
	"encoding/json"
	"testing"

	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/pdu"
	"go.mau.fi/roomengine/roomversion"
)

type fakeLookup map[id.EventID]*pdu.Event

func (f fakeLookup) Get(eventID id.EventID) (*pdu.Event, bool) {
	e, ok := f[eventID]
	return e, ok
}

func mustContent(t *testing.T, v map[string]any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(map[string]any{"content": v})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func stateEvent(t *testing.T, eventID id.EventID, evtType, stateKey string, sender id.UserID, ts int64, authEvents []id.EventID, content map[string]any) *pdu.Event {
	t.Helper()
	sk := stateKey
	return &pdu.Event{
		ID:             eventID,
		Type:           evtType,
		StateKey:       &sk,
		Sender:         sender,
		AuthEvents:     authEvents,
		OriginServerTS: ts,
		JSON:           mustContent(t, content),
	}
}

func TestResolve_SingleMap(t *testing.T) {
	t.Parallel()
	m := pdu.StateMap{{Type: "m.room.create", StateKey: ""}: "$a"}
	got := Resolve([]pdu.StateMap{m}, fakeLookup{}, roomversion.V10)
	if got[pdu.StateMapKey{Type: "m.room.create", StateKey: "/"}] != "" {
		t.Fatalf("unexpected key shape")
	}
	if got[pdu.StateMapKey{Type: "m.room.create", StateKey: ""}] != "$a" {
		t.Fatalf("expected single-map shortcut to return a clone of the only input")
	}
}

func TestResolve_NoConflict(t *testing.T) {
	t.Parallel()
	creatorKey := pdu.StateMapKey{Type: "m.room.create", StateKey: ""}
	topicKey := pdu.StateMapKey{Type: "m.room.topic", StateKey: ""}
	a := pdu.StateMap{creatorKey: "$create", topicKey: "$topic"}
	b := a.Clone()
	got := Resolve([]pdu.StateMap{a, b}, fakeLookup{}, roomversion.V10)
	if got[topicKey] != "$topic" {
		t.Fatalf("expected unconflicted topic to survive resolution, got %v", got[topicKey])
	}
}

// TestResolve_TopicConflict grounds spec §8 scenario S5: two branches set
// the room topic to different values, authored by users with differing
// power levels; since the topic isn't a power event, ordering falls to
// mainline position and then the (origin_server_ts, event_id) tie-break.
func TestResolve_TopicConflict(t *testing.T) {
	t.Parallel()

	creator := id.UserID("@creator:example.org")
	alice := id.UserID("@alice:example.org")
	bob := id.UserID("@bob:example.org")

	create := stateEvent(t, "$create", "m.room.create", "", creator, 1, nil, map[string]any{"creator": string(creator)})
	powerLevels := stateEvent(t, "$pl", "m.room.power_levels", "", creator, 2, []id.EventID{"$create"}, map[string]any{
		"users": map[string]any{string(alice): 50, string(bob): 80},
	})

	aliceJoin := stateEvent(t, "$aliceJoin", "m.room.member", string(alice), alice, 3, []id.EventID{"$create", "$pl"}, map[string]any{"membership": "join"})
	bobJoin := stateEvent(t, "$bobJoin", "m.room.member", string(bob), bob, 4, []id.EventID{"$create", "$pl"}, map[string]any{"membership": "join"})

	topicA := stateEvent(t, "$topicA", "m.room.topic", "", alice, 100, []id.EventID{"$create", "$pl", "$aliceJoin"}, map[string]any{"topic": "from alice"})
	topicB := stateEvent(t, "$topicB", "m.room.topic", "", bob, 50, []id.EventID{"$create", "$pl", "$bobJoin"}, map[string]any{"topic": "from bob"})

	lookup := fakeLookup{
		"$create":    create,
		"$pl":        powerLevels,
		"$aliceJoin": aliceJoin,
		"$bobJoin":   bobJoin,
		"$topicA":    topicA,
		"$topicB":    topicB,
	}

	createKey := pdu.StateMapKey{Type: "m.room.create", StateKey: ""}
	plKey := pdu.StateMapKey{Type: "m.room.power_levels", StateKey: ""}
	aliceMemberKey := pdu.StateMapKey{Type: "m.room.member", StateKey: string(alice)}
	bobMemberKey := pdu.StateMapKey{Type: "m.room.member", StateKey: string(bob)}
	topicKey := pdu.StateMapKey{Type: "m.room.topic", StateKey: ""}

	base := pdu.StateMap{createKey: "$create", plKey: "$pl", aliceMemberKey: "$aliceJoin", bobMemberKey: "$bobJoin"}
	branchA := base.Clone()
	branchA[topicKey] = "$topicA"
	branchB := base.Clone()
	branchB[topicKey] = "$topicB"

	got := Resolve([]pdu.StateMap{branchA, branchB}, lookup, roomversion.V10)

	// Neither topic event out-ranks the other by power (topic isn't a power
	// event at all), so both land at the same mainline position (the single
	// power_levels event) and the tie-break falls to origin_server_ts:
	// candidates are applied in ascending order, so the later timestamp
	// (topicA, 100) is applied last and wins.
	if got[topicKey] != "$topicA" {
		t.Fatalf("expected the later origin_server_ts to win topic conflict, got %v", got[topicKey])
	}
	if got[createKey] != "$create" || got[plKey] != "$pl" {
		t.Fatalf("expected unconflicted create/power_levels to survive untouched")
	}
}

func TestIsPowerEvent(t *testing.T) {
	t.Parallel()
	alice := id.UserID("@alice:example.org")
	bob := id.UserID("@bob:example.org")

	pl := stateEvent(t, "$pl", "m.room.power_levels", "", alice, 1, nil, nil)
	if !isPowerEvent(pl) {
		t.Fatal("power_levels must be a power event")
	}

	ban := stateEvent(t, "$ban", "m.room.member", string(bob), alice, 1, nil, map[string]any{"membership": "ban"})
	if !isPowerEvent(ban) {
		t.Fatal("a ban targeting another user must be a power event")
	}

	selfLeave := stateEvent(t, "$leave", "m.room.member", string(alice), alice, 1, nil, map[string]any{"membership": "leave"})
	if isPowerEvent(selfLeave) {
		t.Fatal("a self-leave must not be a power event")
	}

	msg := &pdu.Event{ID: "$msg", Type: "m.room.message", Sender: alice, JSON: mustContent(t, map[string]any{"body": "hi"})}
	if isPowerEvent(msg) {
		t.Fatal("a plain message must never be a power event")
	}
}
