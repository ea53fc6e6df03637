package room

import (
	"context"

	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/auth"
	"go.mau.fi/roomengine/dag"
	"go.mau.fi/roomengine/pdu"
	"go.mau.fi/roomengine/roomerr"
	"go.mau.fi/roomengine/stateres"
)

// AuthAndStoreExternalEvents implements spec §4.6's
// auth_and_store_external_events: topologically sort by auth_events, then
// authorise and store each in order, aborting and reporting on the first
// event_auth_error.
func (a *Actor) AuthAndStoreExternalEvents(events []*pdu.Event) error {
	return call(a, func() error {
		ordered, err := dag.SimpleToposort(events)
		if err != nil {
			return err
		}
		for _, e := range ordered {
			if err := a.resolveAuthStoreEventLocked(e); err != nil {
				return err
			}
		}
		return nil
	})
}

// ResolveAuthStoreEvent implements spec §4.6's resolve_auth_store_event as
// a synchronous call: derive state_map from the parents, run the auth
// engine, store on success, and re-evaluate the client-state FSM.
func (a *Actor) ResolveAuthStoreEvent(e *pdu.Event) error {
	return call(a, func() error { return a.resolveAuthStoreEventLocked(e) })
}

// resolveAuthStoreEventLocked must only run on the actor's own goroutine.
func (a *Actor) resolveAuthStoreEventLocked(e *pdu.Event) error {
	if err := pdu.CheckSigAndHash(context.Background(), a.Signing, e.Sender.Homeserver(), e); err != nil {
		return err
	}

	parentMaps := make([]pdu.StateMap, 0, len(e.PrevEvents))
	for _, p := range e.PrevEvents {
		parent, ok := a.Store.Get(p)
		if !ok {
			return roomerr.WithEventID(roomerr.MissedPrevEvent, e.ID)
		}
		if parent.StateMap == nil {
			return roomerr.WithEventID(roomerr.MissedStateMap, e.ID)
		}
		parentMaps = append(parentMaps, parent.StateMap)
	}

	preState := stateres.Resolve(parentMaps, a.Store, a.RoomVersion)
	snapshot := make(auth.Snapshot, len(e.AuthEvents))
	for _, authID := range e.AuthEvents {
		authEvent, ok := a.Store.Get(authID)
		if !ok || !authEvent.IsState() {
			continue
		}
		snapshot[authEvent.StateMapKey()] = authEvent
	}
	if !auth.CheckEvent(e, snapshot, a.RoomVersion) {
		return roomerr.WithEventID(roomerr.EventAuthError, e.ID)
	}

	finalState := preState.Clone()
	if e.IsState() {
		finalState[e.StateMapKey()] = e.ID
	}
	e.StateMap = finalState
	a.Store.Store(e)
	a.updateClientStateLocked()
	return nil
}

// GetStateIds implements spec §4.6's get_state_ids: guarded by
// is_server_joined, it returns the resolved state at eventID plus the DFS
// auth-chain closure over those state events' auth_events.
func (a *Actor) GetStateIds(origin string, eventID id.EventID) (authChain, pdus []id.EventID, ok bool) {
	type result struct {
		authChain, pdus []id.EventID
		ok              bool
	}
	r := call(a, func() result {
		if !a.Store.IsServerJoined(origin) {
			return result{}
		}
		e, found := a.Store.Get(eventID)
		if !found || e.StateMap == nil {
			return result{}
		}
		stateIDs := make([]id.EventID, 0, len(e.StateMap))
		for _, id := range e.StateMap {
			stateIDs = append(stateIDs, id)
		}
		return result{authChain: a.authChainClosure(stateIDs), pdus: stateIDs, ok: true}
	})
	return r.authChain, r.pdus, r.ok
}

func (a *Actor) authChainClosure(seeds []id.EventID) []id.EventID {
	seen := map[id.EventID]bool{}
	var out []id.EventID
	var visit func(id.EventID)
	visit = func(eventID id.EventID) {
		if seen[eventID] {
			return
		}
		seen[eventID] = true
		e, ok := a.Store.Get(eventID)
		if !ok {
			return
		}
		for _, authID := range e.AuthEvents {
			visit(authID)
		}
		out = append(out, eventID)
	}
	for _, s := range seeds {
		visit(s)
	}
	return out
}

// GetMissingEvents implements spec §4.6's get_missing_events: BFS backward
// from latest across prev_events, skipping the ids listed in earliest (and
// not walking past them), cut at depth >= minDepth, limit clamped to
// [0,20]. Guarded by is_server_joined.
func (a *Actor) GetMissingEvents(origin string, earliest, latest []id.EventID, limit int, minDepth int64) []*pdu.Event {
	return call(a, func() []*pdu.Event {
		if !a.Store.IsServerJoined(origin) {
			return nil
		}
		if limit < 0 {
			limit = 0
		} else if limit > 20 {
			limit = 20
		}
		excluded := map[id.EventID]bool{}
		for _, e := range earliest {
			excluded[e] = true
		}

		var out []*pdu.Event
		visited := map[id.EventID]bool{}
		var queue []id.EventID
		for _, l := range latest {
			visited[l] = true // the requester already has its own frontier
			if e, ok := a.Store.Get(l); ok {
				queue = append(queue, e.PrevEvents...)
			}
		}
		for len(queue) > 0 && len(out) < limit {
			next := queue[0]
			queue = queue[1:]
			if visited[next] || excluded[next] {
				continue
			}
			visited[next] = true
			e, ok := a.Store.Get(next)
			if !ok || e.Depth < minDepth {
				continue
			}
			out = append(out, e)
			queue = append(queue, e.PrevEvents...)
		}
		return out
	})
}
