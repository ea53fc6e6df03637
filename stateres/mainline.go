package stateres

import (
	"sort"

	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/auth"
	"go.mau.fi/roomengine/pdu"
)

// buildMainline implements spec §4.5 step 6: starting from the power_levels
// event resolved by the pass over power events, repeatedly chase
// find_power_level_event to build the chain of power_levels events back to
// the room's creation. The result is ordered tip-first; mainline[i]'s
// position in the slice is its mainline index (0 = the tip).
func buildMainline(running pdu.StateMap, lookup EventLookup) []id.EventID {
	tip, ok := running[pdu.StateMapKey{Type: auth.TypePowerLevels, StateKey: ""}]
	if !ok {
		return nil
	}
	var mainline []id.EventID
	seen := map[id.EventID]struct{}{}
	current := tip
	for {
		if _, dup := seen[current]; dup {
			break
		}
		seen[current] = struct{}{}
		mainline = append(mainline, current)
		event, ok := lookup.Get(current)
		if !ok {
			break
		}
		parent := findPowerLevelEvent(event, lookup)
		if parent == nil {
			break
		}
		current = parent.ID
	}
	return mainline
}

// mainlinePosition walks e's own find_power_level_event chain until it lands
// on a mainline entry, returning that entry's index; if the chain never
// reaches the mainline, the second return is false and the caller is
// responsible for placing e strictly after every event with a real
// mainline ancestor (spec §4.5 step 7's "no mainline ancestor" case).
func mainlinePosition(e *pdu.Event, mainlineIndex map[id.EventID]int, lookup EventLookup) (int, bool) {
	if idx, ok := mainlineIndex[e.ID]; ok {
		return idx, true
	}
	seen := map[id.EventID]struct{}{}
	current := e
	for {
		parent := findPowerLevelEvent(current, lookup)
		if parent == nil {
			return 0, false
		}
		if idx, ok := mainlineIndex[parent.ID]; ok {
			return idx, true
		}
		if _, dup := seen[parent.ID]; dup {
			return 0, false
		}
		seen[parent.ID] = struct{}{}
		current = parent
	}
}

// orderByMainline implements spec §4.5 step 7: assign every remaining
// conflicted event the mainline index of the nearest power_levels ancestor
// it chases to (furthest-from-tip sorts first, i.e. descending mainline
// index / least-recent first), breaking ties by origin_server_ts then
// event id.
func orderByMainline(otherEvents []*pdu.Event, mainline []id.EventID, lookup EventLookup) []*pdu.Event {
	mainlineIndex := make(map[id.EventID]int, len(mainline))
	for i, eid := range mainline {
		mainlineIndex[eid] = i
	}

	type scored struct {
		event *pdu.Event
		index int
	}
	// notFoundIndex must sort strictly after every real mainline position.
	// Real indices run 0 (tip) .. len(mainline)-1 (furthest back), and the
	// comparator below sorts larger indices first (furthest-from-tip
	// first), so "after every real position" means smaller than all of
	// them: -1, matching spec §4.5 step 7's "no mainline ancestor" case.
	const notFoundIndex = -1

	scoredEvents := make([]scored, len(otherEvents))
	for i, e := range otherEvents {
		idx, ok := mainlinePosition(e, mainlineIndex, lookup)
		if !ok {
			idx = notFoundIndex
		}
		scoredEvents[i] = scored{event: e, index: idx}
	}
	sort.SliceStable(scoredEvents, func(i, j int) bool {
		a, b := scoredEvents[i], scoredEvents[j]
		if a.index != b.index {
			return a.index > b.index
		}
		if a.event.OriginServerTS != b.event.OriginServerTS {
			return a.event.OriginServerTS < b.event.OriginServerTS
		}
		return a.event.ID < b.event.ID
	})
	out := make([]*pdu.Event, len(scoredEvents))
	for i, s := range scoredEvents {
		out[i] = s.event
	}
	return out
}
