package stateres

import (
	"container/heap"

	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/auth"
	"go.mau.fi/roomengine/pdu"
	"go.mau.fi/roomengine/roomversion"
)

// isPowerEvent implements spec §4.5 step 4 / GLOSSARY: power_levels,
// join_rules, or a member event targeting someone other than its sender
// with membership leave or ban.
func isPowerEvent(e *pdu.Event) bool {
	switch e.Type {
	case auth.TypePowerLevels, auth.TypeJoinRules:
		return e.IsState() && *e.StateKey == ""
	case auth.TypeMember:
		if !e.IsState() || *e.StateKey == string(e.Sender) {
			return false
		}
		m := e.Content().Get("membership").String()
		return m == auth.MembershipLeave || m == auth.MembershipBan
	default:
		return false
	}
}

func splitPowerEvents(events map[id.EventID]*pdu.Event) (power, other []*pdu.Event) {
	for _, e := range events {
		if isPowerEvent(e) {
			power = append(power, e)
		} else {
			other = append(other, e)
		}
	}
	return
}

// findAncestorByType walks e's auth_events transitively (including e
// itself is NOT considered a match) looking for the nearest ancestor with
// the given (type, state_key), as used by spec §4.5's sender-power lookup
// and mainline construction's find_power_level_event.
func findAncestorByType(e *pdu.Event, eventType, stateKey string, lookup EventLookup) *pdu.Event {
	seen := map[id.EventID]struct{}{}
	queue := append([]id.EventID{}, e.AuthEvents...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, ok := seen[next]; ok {
			continue
		}
		seen[next] = struct{}{}
		candidate, ok := lookup.Get(next)
		if !ok {
			continue
		}
		if candidate.Type == eventType && candidate.IsState() && *candidate.StateKey == stateKey {
			return candidate
		}
		queue = append(queue, candidate.AuthEvents...)
	}
	return nil
}

func findPowerLevelEvent(e *pdu.Event, lookup EventLookup) *pdu.Event {
	return findAncestorByType(e, auth.TypePowerLevels, "", lookup)
}

// senderPowerLevelAtEvent implements spec §4.5 step 5's tie-break input:
// walk e's auth_events for a (power_levels, "") ancestor and read the
// sender's level there; if none is found, fall back to the creator-rule
// default (100 for the creator, 0 otherwise).
func senderPowerLevelAtEvent(e *pdu.Event, lookup EventLookup, profile roomversion.Profile) int64 {
	plEvent := findPowerLevelEvent(e, lookup)
	createEvent := findAncestorByType(e, auth.TypeCreate, "", lookup)
	snapshot := auth.Snapshot{}
	if createEvent != nil {
		snapshot[pdu.StateMapKey{Type: auth.TypeCreate, StateKey: ""}] = createEvent
	}
	if plEvent != nil {
		snapshot[pdu.StateMapKey{Type: auth.TypePowerLevels, StateKey: ""}] = plEvent
	}
	return auth.GetUserPowerLevel(e.Sender, snapshot, profile)
}

// powerEventItem is a node in the priority-ordered Kahn's-algorithm queue
// used to order power events (spec §4.5 step 5).
type powerEventItem struct {
	event      *pdu.Event
	power      int64
	remaining  int
	dependents []id.EventID
}

type powerEventHeap []*powerEventItem

func (h powerEventHeap) Len() int { return len(h) }
func (h powerEventHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.power != b.power {
		return a.power > b.power // -power ascending == power descending
	}
	if a.event.OriginServerTS != b.event.OriginServerTS {
		return a.event.OriginServerTS < b.event.OriginServerTS
	}
	return a.event.ID < b.event.ID
}
func (h powerEventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *powerEventHeap) Push(x any)   { *h = append(*h, x.(*powerEventItem)) }
func (h *powerEventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// orderPowerEvents implements spec §4.5 step 5: a Kahn's-algorithm
// topological sort over the power events' auth_events edges (restricted to
// the full conflicted set), breaking ties among currently-available nodes
// with the (-power, origin_server_ts, event_id) comparator.
func orderPowerEvents(powerEvents []*pdu.Event, fullConflicted map[id.EventID]struct{}, lookup EventLookup, profile roomversion.Profile) []*pdu.Event {
	items := make(map[id.EventID]*powerEventItem, len(powerEvents))
	for _, e := range powerEvents {
		items[e.ID] = &powerEventItem{event: e, power: senderPowerLevelAtEvent(e, lookup, profile)}
	}
	for _, item := range items {
		for _, authID := range item.event.AuthEvents {
			if _, inSet := fullConflicted[authID]; !inSet {
				continue
			}
			parent, ok := items[authID]
			if !ok {
				continue
			}
			item.remaining++
			parent.dependents = append(parent.dependents, item.event.ID)
		}
	}

	h := &powerEventHeap{}
	for _, item := range items {
		if item.remaining == 0 {
			heap.Push(h, item)
		}
	}
	out := make([]*pdu.Event, 0, len(items))
	for h.Len() > 0 {
		item := heap.Pop(h).(*powerEventItem)
		out = append(out, item.event)
		for _, depID := range item.dependents {
			dep := items[depID]
			dep.remaining--
			if dep.remaining == 0 {
				heap.Push(h, dep)
			}
		}
	}
	return out
}
