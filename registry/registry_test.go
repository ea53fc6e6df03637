package registry

import (
	"context"
	"errors"
	"testing"

	"maunium.net/go/mautrix/id"
)

type fakeSupervisor struct {
	handle Handle
	err    error
}

func (f fakeSupervisor) StartRoom(context.Context, string, id.RoomID) (Handle, error) {
	return f.handle, f.err
}

func TestGetRoomPID_CachedHit(t *testing.T) {
	t.Parallel()
	r := New()
	r.PutRoom("!room:example.org", "handle-1")

	h, ok, err := r.GetRoomPID(context.Background(), fakeSupervisor{}, "example.org", "!room:example.org")
	if err != nil || !ok || h != "handle-1" {
		t.Fatalf("got (%v, %v, %v), want cached handle", h, ok, err)
	}
}

func TestGetRoomPID_StartsAndCaches(t *testing.T) {
	t.Parallel()
	r := New()
	sup := fakeSupervisor{handle: "fresh"}

	h, ok, err := r.GetRoomPID(context.Background(), sup, "example.org", "!room:example.org")
	if err != nil || !ok || h != "fresh" {
		t.Fatalf("got (%v, %v, %v), want freshly started handle", h, ok, err)
	}
	if cached, ok := r.GetRoom("!room:example.org"); !ok || cached != "fresh" {
		t.Fatalf("expected GetRoomPID to cache the started handle")
	}
}

func TestGetRoomPID_SupervisorIgnored(t *testing.T) {
	t.Parallel()
	r := New()
	sup := fakeSupervisor{handle: nil, err: nil}

	h, ok, err := r.GetRoomPID(context.Background(), sup, "example.org", "!room:example.org")
	if err != nil || ok || h != nil {
		t.Fatalf("got (%v, %v, %v), want (nil, false, nil) for an ignored start", h, ok, err)
	}
}

func TestGetRoomPID_SupervisorError(t *testing.T) {
	t.Parallel()
	r := New()
	wantErr := errors.New("boom")
	sup := fakeSupervisor{err: wantErr}

	_, ok, err := r.GetRoomPID(context.Background(), sup, "example.org", "!room:example.org")
	if ok || !errors.Is(err, wantErr) {
		t.Fatalf("got (%v, %v), want supervisor error propagated", ok, err)
	}
}

func TestDirectMapping(t *testing.T) {
	t.Parallel()
	r := New()
	key := DirectKey{LocalUser: "@local:example.org", RemoteUser: "@remote:other.org"}

	if _, ok := r.GetDirect(key); ok {
		t.Fatal("expected no direct mapping before PutDirect")
	}
	r.PutDirect(key, "!dm:example.org")
	if roomID, ok := r.GetDirect(key); !ok || roomID != "!dm:example.org" {
		t.Fatalf("got (%v, %v), want the stored room id", roomID, ok)
	}
	r.RemoveDirect(key)
	if _, ok := r.GetDirect(key); ok {
		t.Fatal("expected direct mapping to be gone after RemoveDirect")
	}
}
