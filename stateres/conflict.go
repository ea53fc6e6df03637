package stateres

import (
	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/pdu"
)

// partition implements spec §4.5 step 1: for every key appearing in any
// input map, collect the values present; if they agree, the key is
// unconflicted (with that value); otherwise every value seen for that key
// is recorded as conflicted.
func partition(maps []pdu.StateMap) (unconflicted pdu.StateMap, conflicted map[pdu.StateMapKey]map[id.EventID]struct{}) {
	unconflicted = pdu.StateMap{}
	conflicted = map[pdu.StateMapKey]map[id.EventID]struct{}{}

	values := map[pdu.StateMapKey]map[id.EventID]struct{}{}
	for _, m := range maps {
		for key, eid := range m {
			set, ok := values[key]
			if !ok {
				set = map[id.EventID]struct{}{}
				values[key] = set
			}
			set[eid] = struct{}{}
		}
	}
	for key, set := range values {
		if len(set) == 1 {
			for eid := range set {
				unconflicted[key] = eid
			}
		} else {
			conflicted[key] = set
		}
	}
	return
}

// fullConflictedSet implements spec §4.5 steps 2–3: the auth-difference
// (events reached by some but not all inputs' conflicted-event chains)
// unioned with every event id appearing as a value of a conflicted key.
func fullConflictedSet(maps []pdu.StateMap, conflicted map[pdu.StateMapKey]map[id.EventID]struct{}, lookup EventLookup) map[id.EventID]struct{} {
	out := map[id.EventID]struct{}{}
	for _, set := range conflicted {
		for eid := range set {
			out[eid] = struct{}{}
		}
	}
	for eid := range authDiff(maps, conflicted, lookup) {
		out[eid] = struct{}{}
	}
	return out
}

// authDiff implements the bitmask-per-input auth-chain walk of spec §4.5
// step 2 / §9's design note: per input map i, seed a closure walk from the
// conflicted-key values that map contributes, then keep only the events not
// reached by every input.
func authDiff(maps []pdu.StateMap, conflicted map[pdu.StateMapKey]map[id.EventID]struct{}, lookup EventLookup) map[id.EventID]struct{} {
	k := len(maps)
	mask := map[id.EventID]uint64{}
	for i, m := range maps {
		seeds := make([]id.EventID, 0)
		for key := range conflicted {
			if eid, ok := m[key]; ok {
				seeds = append(seeds, eid)
			}
		}
		for eid := range authClosure(seeds, lookup) {
			mask[eid] |= 1 << uint(i)
		}
	}
	full := uint64(1)<<uint(k) - 1
	out := map[id.EventID]struct{}{}
	for eid, bits := range mask {
		if bits != full {
			out[eid] = struct{}{}
		}
	}
	return out
}

// authClosure returns the transitive closure of seeds over auth_events.
func authClosure(seeds []id.EventID, lookup EventLookup) map[id.EventID]struct{} {
	seen := map[id.EventID]struct{}{}
	queue := append([]id.EventID{}, seeds...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, ok := seen[next]; ok {
			continue
		}
		seen[next] = struct{}{}
		e, ok := lookup.Get(next)
		if !ok {
			continue
		}
		queue = append(queue, e.AuthEvents...)
	}
	return seen
}
