// Package stateres implements Matrix state resolution v2 (spec §4.5): given
// the state_maps at the tip of several DAG branches, compute the single
// state_map a new event descending from all of them should see.
package stateres

import (
	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/auth"
	"go.mau.fi/roomengine/pdu"
	"go.mau.fi/roomengine/roomversion"
)

// EventLookup resolves an event id to its stored Event. dag.Store satisfies
// this directly.
type EventLookup interface {
	Get(eventID id.EventID) (*pdu.Event, bool)
}

// Resolve implements spec §4.5's resolve_state_maps. Failures inside the
// iterative auth passes drop the offending event rather than aborting (spec
// §4.5 "Failure model").
func Resolve(maps []pdu.StateMap, lookup EventLookup, profile roomversion.Profile) pdu.StateMap {
	switch len(maps) {
	case 0:
		return pdu.StateMap{}
	case 1:
		return maps[0].Clone()
	}

	unconflicted, conflicted := partition(maps)
	if len(conflicted) == 0 {
		return unconflicted.Clone()
	}

	fullConflicted := fullConflictedSet(maps, conflicted, lookup)

	events := make(map[id.EventID]*pdu.Event, len(fullConflicted))
	for eid := range fullConflicted {
		if e, ok := lookup.Get(eid); ok {
			events[eid] = e
		}
	}

	powerEvents, otherEvents := splitPowerEvents(events)
	orderedPower := orderPowerEvents(powerEvents, fullConflicted, lookup, profile)

	running := unconflicted.Clone()
	for _, e := range orderedPower {
		applyIterativeAuth(e, running, lookup, profile)
	}

	mainline := buildMainline(running, lookup)
	orderedOther := orderByMainline(otherEvents, mainline, lookup)
	for _, e := range orderedOther {
		applyIterativeAuth(e, running, lookup, profile)
	}

	final := running.Clone()
	for k, v := range unconflicted {
		final[k] = v
	}
	return final
}

// applyIterativeAuth implements spec §4.5 steps 6/8: build an auth snapshot
// from running plus e's auth_events (only filling keys running doesn't
// already have), run the auth engine, and on success write e's own state
// key into running.
func applyIterativeAuth(e *pdu.Event, running pdu.StateMap, lookup EventLookup, profile roomversion.Profile) {
	snapshotIDs := running.Clone()
	for _, authID := range e.AuthEvents {
		authEvent, ok := lookup.Get(authID)
		if !ok || !authEvent.IsState() {
			continue
		}
		key := authEvent.StateMapKey()
		if _, exists := snapshotIDs[key]; !exists {
			snapshotIDs[key] = authID
		}
	}
	snapshot := toSnapshot(snapshotIDs, lookup)
	if !auth.CheckEvent(e, snapshot, profile) {
		return
	}
	if e.IsState() {
		running[e.StateMapKey()] = e.ID
	}
}

func toSnapshot(m pdu.StateMap, lookup EventLookup) auth.Snapshot {
	out := make(auth.Snapshot, len(m))
	for key, eid := range m {
		if e, ok := lookup.Get(eid); ok {
			out[key] = e
		}
	}
	return out
}
