package dag

import (
	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/pdu"
	"go.mau.fi/roomengine/roomerr"
)

type visitState int

const (
	unvisited visitState = iota
	visiting
	visited
)

// SimpleToposort implements spec §4.4's simple_toposort: a DFS-postorder
// sort of events by their auth_events edges, restricted to edges that stay
// within the given set. The result places every event before any other
// event in the set that lists it in auth_events (its dependents), matching
// spec §8 property 3. A revisit of a "gray" (in-progress) node signals a
// cycle and aborts with loop_in_auth_chain.
func SimpleToposort(events []*pdu.Event) ([]*pdu.Event, error) {
	byID := make(map[id.EventID]*pdu.Event, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}
	state := make(map[id.EventID]visitState, len(events))
	out := make([]*pdu.Event, 0, len(events))

	var visit func(e *pdu.Event) error
	visit = func(e *pdu.Event) error {
		switch state[e.ID] {
		case visited:
			return nil
		case visiting:
			return roomerr.LoopInAuthChain
		}
		state[e.ID] = visiting
		for _, authID := range e.AuthEvents {
			parent, ok := byID[authID]
			if !ok {
				continue
			}
			if err := visit(parent); err != nil {
				return err
			}
		}
		state[e.ID] = visited
		out = append(out, e)
		return nil
	}

	for _, e := range events {
		if err := visit(e); err != nil {
			return nil, err
		}
	}
	return out, nil
}
