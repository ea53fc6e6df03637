package room

import (
	"testing"

	"github.com/tidwall/gjson"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/auth"
	"go.mau.fi/roomengine/pdu"
)

func TestComputeEventAuthKeys(t *testing.T) {
	t.Parallel()
	sender := id.UserID("@alice:example.org")

	t.Run("create event has no auth keys", func(t *testing.T) {
		t.Parallel()
		got := computeEventAuthKeys(auth.TypeCreate, nil, gjson.Parse(`{}`), sender)
		if len(got) != 0 {
			t.Fatalf("expected no auth keys for create, got %v", got)
		}
	})

	t.Run("ordinary state event uses the base three", func(t *testing.T) {
		t.Parallel()
		got := computeEventAuthKeys("m.room.topic", nil, gjson.Parse(`{}`), sender)
		want := []pdu.StateMapKey{
			{Type: auth.TypeCreate, StateKey: ""},
			{Type: auth.TypePowerLevels, StateKey: ""},
			{Type: auth.TypeMember, StateKey: string(sender)},
		}
		if len(got) != len(want) {
			t.Fatalf("got %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("index %d: got %v, want %v", i, got[i], want[i])
			}
		}
	})

	t.Run("join adds join_rules and the target member key", func(t *testing.T) {
		t.Parallel()
		target := "@bob:example.org"
		got := computeEventAuthKeys(auth.TypeMember, &target, gjson.Parse(`{"membership":"join"}`), sender)
		wantLast := []pdu.StateMapKey{
			{Type: auth.TypeMember, StateKey: target},
			{Type: auth.TypeJoinRules, StateKey: ""},
		}
		if len(got) < len(wantLast) {
			t.Fatalf("got %v, too short", got)
		}
		tail := got[len(got)-len(wantLast):]
		for i := range wantLast {
			if tail[i] != wantLast[i] {
				t.Errorf("index %d: got %v, want %v", i, tail[i], wantLast[i])
			}
		}
	})

	t.Run("restricted join carries the authorising user's member key", func(t *testing.T) {
		t.Parallel()
		target := "@bob:example.org"
		content := gjson.Parse(`{"membership":"join","join_authorised_via_users_server":"@admin:example.org"}`)
		got := computeEventAuthKeys(auth.TypeMember, &target, content, sender)
		found := false
		for _, k := range got {
			if k == (pdu.StateMapKey{Type: auth.TypeMember, StateKey: "@admin:example.org"}) {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected authorising user's member key in %v", got)
		}
	})

	t.Run("invite with a third-party token carries the invite key", func(t *testing.T) {
		t.Parallel()
		target := "@bob:example.org"
		content := gjson.Parse(`{"membership":"invite","third_party_invite":{"signed":{"token":"tok123"}}}`)
		got := computeEventAuthKeys(auth.TypeMember, &target, content, sender)
		found := false
		for _, k := range got {
			if k == (pdu.StateMapKey{Type: auth.TypeThirdPartyInv, StateKey: "tok123"}) {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected third_party_invite key in %v", got)
		}
	})
}

func TestAuthEventIDsFor(t *testing.T) {
	t.Parallel()
	createKey := pdu.StateMapKey{Type: auth.TypeCreate, StateKey: ""}
	powerKey := pdu.StateMapKey{Type: auth.TypePowerLevels, StateKey: ""}
	memberKey := pdu.StateMapKey{Type: auth.TypeMember, StateKey: "@alice:example.org"}

	state := pdu.StateMap{
		createKey: "$create",
		powerKey:  "$power",
		memberKey: "$member",
	}

	keys := []pdu.StateMapKey{createKey, powerKey, memberKey, createKey}
	got := authEventIDsFor(keys, state)
	want := []id.EventID{"$create", "$power", "$member"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %v, want %v", i, got[i], want[i])
		}
	}

	t.Run("unresolved keys are skipped", func(t *testing.T) {
		t.Parallel()
		missing := pdu.StateMapKey{Type: auth.TypeJoinRules, StateKey: ""}
		got := authEventIDsFor([]pdu.StateMapKey{createKey, missing}, state)
		if len(got) != 1 || got[0] != "$create" {
			t.Fatalf("got %v, want [$create]", got)
		}
	})
}
