package room

import (
	"context"
	"encoding/json"
	"time"

	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/dag"
	"go.mau.fi/roomengine/fedclient"
	"go.mau.fi/roomengine/pdu"
)

// joinedUsersLocked walks the current leaves' state_maps and returns the
// set of users with membership "join". Must run on the actor's goroutine.
func (a *Actor) joinedUsersLocked() map[id.UserID]bool {
	joined := map[id.UserID]bool{}
	for _, leaf := range a.Store.LatestEvents() {
		e, ok := a.Store.Get(leaf)
		if !ok || e.StateMap == nil {
			continue
		}
		for key, memberID := range e.StateMap {
			if key.Type != "m.room.member" {
				continue
			}
			member, ok := a.Store.Get(memberID)
			if ok && member.Content().Get("membership").String() == "join" {
				joined[id.UserID(key.StateKey)] = true
			}
		}
	}
	return joined
}

// updateClientStateLocked implements spec §4.6's "internal update_client
// event": recompute the FSM against the current joined set, emitting a
// leave event or terminating as required. Must run on the actor's
// goroutine, and is scheduled after every data mutation.
func (a *Actor) updateClientStateLocked() {
	if a.LocalUser == "" {
		return
	}
	joined := a.joinedUsersLocked()
	t := evaluateClientState(a.clientState, joined, a.LocalUser, a.RemoteUser)
	a.clientState = t.next
	if t.emitLeave {
		content, _ := json.Marshal(map[string]any{"membership": "leave"})
		stateKey := string(a.LocalUser)
		e, err := a.buildLocalEvent("m.room.member", &stateKey, content, nowMillis())
		if err != nil {
			a.Log.Err(err).Str("reason", string(t.leaveWhy)).Msg("Failed to build client-state leave event")
		} else if err := a.resolveAuthStoreEventLocked(e); err != nil {
			a.Log.Err(err).Str("reason", string(t.leaveWhy)).Msg("Client-state leave event failed auth")
		}
	}
	if t.terminate {
		a.Terminate()
	}
}

// Join implements spec §4.6's join cast and §5's make_join/send_join
// handshake: it owns the actor for the duration of the blocking federation
// calls, per spec's "where a handler does issue a blocking federation
// call... that handler owns the room for the duration".
func (a *Actor) Join(matrixServer string, roomID id.RoomID, sender, userID id.UserID) {
	a.cast(func() {
		// A 1s warm-up before make_join gives the destination's room
		// directory time to settle; preserve it rather than removing it.
		time.Sleep(1 * time.Second)

		ctx, cancel := context.WithTimeout(context.Background(), a.Config.FederationTimeout)
		defer cancel()
		makeJoinResp, err := a.Federation.MakeJoin(ctx, matrixServer, roomID, userID, []id.RoomVersion{a.RoomVersion.ID})
		if err != nil {
			a.Log.Err(err).Msg("make_join failed")
			return
		}

		signed, err := a.Signing.Sign(makeJoinResp.Event, a.RoomVersion, a.Host, a.KeyID)
		if err != nil {
			a.Log.Err(err).Msg("Failed to sign join event")
			return
		}
		eventID, err := a.Signing.GetEventID(signed, a.RoomVersion)
		if err != nil {
			a.Log.Err(err).Msg("Failed to compute join event id")
			return
		}
		joinEvent, err := pdu.Decode(signed, a.RoomVersion)
		if err != nil {
			a.Log.Err(err).Msg("Failed to decode signed join event")
			return
		}
		joinEvent.ID = eventID

		sendCtx, sendCancel := context.WithTimeout(context.Background(), a.Config.FederationTimeout)
		defer sendCancel()
		sendJoinResp, err := a.Federation.SendJoin(sendCtx, matrixServer, roomID, eventID, signed)
		if err != nil {
			a.Log.Err(err).Msg("send_join failed")
			return
		}

		a.LocalUser = sender
		if err := a.bootFromSendJoin(sendJoinResp, joinEvent); err != nil {
			a.Log.Err(err).Msg("Failed to bootstrap room from send_join response")
			return
		}

		if a.prefetching.Add(matrixServer) {
			go a.prefetchMissingEvents(matrixServer)
		}
	})
}

// bootFromSendJoin implements spec §4.6's boot sequence: process the
// returned state and auth chain as external events, verify the join
// event's auth, and store it. Must run on the actor's goroutine.
func (a *Actor) bootFromSendJoin(resp *fedclient.SendJoinResult, joinEvent *pdu.Event) error {
	var external []*pdu.Event
	for _, raw := range append(append([]json.RawMessage{}, resp.AuthChain...), resp.State...) {
		e, err := pdu.Decode(raw, a.RoomVersion)
		if err != nil {
			continue
		}
		eventID, err := a.Signing.GetEventID(raw, a.RoomVersion)
		if err != nil {
			continue
		}
		e.ID = eventID
		external = append(external, e)
	}
	ordered, err := dag.SimpleToposort(external)
	if err != nil {
		return err
	}
	for _, e := range ordered {
		if a.Store.Has(e.ID) {
			continue
		}
		_ = a.resolveAuthStoreEventLocked(e)
	}
	return a.resolveAuthStoreEventLocked(joinEvent)
}

// Create implements spec §4.6's create cast: primes a fresh actor with the
// direct-chat endpoints so its client-state FSM has something to compare
// the joined set against.
func (a *Actor) Create(localUser, remoteUser id.UserID) {
	a.cast(func() {
		a.LocalUser = localUser
		a.RemoteUser = remoteUser
		a.updateClientStateLocked()
	})
}

func (a *Actor) prefetchMissingEvents(matrixServer string) {
	defer a.prefetching.Pop(matrixServer)
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.MissingEventsTimeout)
	defer cancel()
	latest := a.GetLatestEvents()
	raws, err := a.Federation.GetMissingEvents(ctx, matrixServer, a.RoomID, nil, latest, a.Config.MissingEventsPrefetchLimit)
	if err != nil {
		a.Log.Err(err).Msg("get_missing_events prefetch failed")
		return
	}
	var events []*pdu.Event
	for _, raw := range raws {
		e, err := pdu.Decode(raw, a.RoomVersion)
		if err != nil {
			continue
		}
		eventID, err := a.Signing.GetEventID(raw, a.RoomVersion)
		if err != nil {
			continue
		}
		e.ID = eventID
		events = append(events, e)
	}
	if err := a.AuthAndStoreExternalEvents(events); err != nil {
		a.Log.Err(err).Msg("Failed to authorise prefetched missing events")
	}
}
