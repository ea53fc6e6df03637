package room

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/config"
	"go.mau.fi/roomengine/gateway"
	"go.mau.fi/roomengine/pdu"
	"go.mau.fi/roomengine/roomversion"
)

type fakeGateway struct {
	delivered []fakeDelivery
}

type fakeDelivery struct {
	to     gateway.JID
	roomID id.RoomID
	body   string
}

func (g *fakeGateway) DeliverMessage(ctx context.Context, to gateway.JID, roomID id.RoomID, body string) error {
	g.delivered = append(g.delivered, fakeDelivery{to: to, roomID: roomID, body: body})
	return nil
}

func messageEvent(sender id.UserID, body string) *pdu.Event {
	content := []byte(`{"msgtype":"m.text","body":"` + body + `"}`)
	return &pdu.Event{
		ID:     "$event",
		RoomID: "!room:example.org",
		Type:   "m.room.message",
		Sender: sender,
		JSON:   []byte(`{"content":` + string(content) + `}`),
	}
}

func TestNotifyEventBridgesMessages(t *testing.T) {
	t.Parallel()
	local := id.UserID("@local:example.org")
	remote := id.UserID("@remote:remote.example.org")

	gw := &fakeGateway{}
	a := New("!room:example.org", roomversion.V11, "example.org", local, remote, nil, nil, nil, gw, "gateway.example.org", zerolog.Nop(), config.Config{})

	t.Run("remote user's message is delivered to the local gateway user", func(t *testing.T) {
		a.NotifyEvent(messageEvent(remote, "hello"))
		if len(gw.delivered) != 1 {
			t.Fatalf("expected one delivery, got %d", len(gw.delivered))
		}
		if gw.delivered[0].body != "hello" {
			t.Errorf("body = %q, want %q", gw.delivered[0].body, "hello")
		}
	})

	t.Run("local user's message is enqueued for remote delivery, not delivered locally", func(t *testing.T) {
		a.NotifyEvent(messageEvent(local, "hi there"))
		if len(gw.delivered) != 1 {
			t.Fatalf("expected delivery count unchanged, got %d", len(gw.delivered))
		}
	})
}

func TestNotifyEventNoBridgeIsNoop(t *testing.T) {
	t.Parallel()
	local := id.UserID("@local:example.org")
	remote := id.UserID("@remote:remote.example.org")
	a := New("!room:example.org", roomversion.V11, "example.org", local, remote, nil, nil, nil, nil, "", zerolog.Nop(), config.Config{})
	a.NotifyEvent(messageEvent(remote, "hello"))
}
