// Package dag implements the in-memory event DAG store (spec §4.4): the
// event map, the latest/nonlatest leaf tracking, and the toposort helper
// used to order events by their auth_events dependencies.
package dag

import (
	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/pdu"
)

// Notifier is called after every successful Store, implementing the C7
// gateway-bridge hook of spec §4.4 step 3. It must not block for long —
// the DAG store calls it synchronously from within the owning room actor's
// single goroutine.
type Notifier interface {
	NotifyEvent(e *pdu.Event)
}

// Store is the per-room event DAG of spec §3/§4.4. It is not safe for
// concurrent use — per spec §5 it is owned exclusively by one room actor's
// goroutine, which is what makes the rest of the engine lock-free.
type Store struct {
	events          map[id.EventID]*pdu.Event
	latestEvents    map[id.EventID]struct{}
	nonlatestEvents map[id.EventID]struct{}
	notifier        Notifier
}

func New(notifier Notifier) *Store {
	return &Store{
		events:          make(map[id.EventID]*pdu.Event),
		latestEvents:    make(map[id.EventID]struct{}),
		nonlatestEvents: make(map[id.EventID]struct{}),
		notifier:        notifier,
	}
}

// Get returns the stored event, if any.
func (s *Store) Get(eventID id.EventID) (*pdu.Event, bool) {
	e, ok := s.events[eventID]
	return e, ok
}

// Has reports whether eventID is known, materialised or not.
func (s *Store) Has(eventID id.EventID) bool {
	_, ok := s.events[eventID]
	return ok
}

// LatestEvents returns a snapshot of the current DAG leaves.
func (s *Store) LatestEvents() []id.EventID {
	out := make([]id.EventID, 0, len(s.latestEvents))
	for eventID := range s.latestEvents {
		out = append(out, eventID)
	}
	return out
}

// Partition splits ids into those known to the store and those not.
func (s *Store) Partition(ids []id.EventID) (known, unknown []id.EventID) {
	for _, i := range ids {
		if s.Has(i) {
			known = append(known, i)
		} else {
			unknown = append(unknown, i)
		}
	}
	return
}

// PartitionWithStateMap splits ids into those whose stored event already
// has a materialised StateMap and those that don't (including unknown ids).
func (s *Store) PartitionWithStateMap(ids []id.EventID) (withStateMap, without []id.EventID) {
	for _, i := range ids {
		if e, ok := s.events[i]; ok && e.StateMap != nil {
			withStateMap = append(withStateMap, i)
		} else {
			without = append(without, i)
		}
	}
	return
}

// Store implements spec §4.4's store_event: insert-or-upgrade-in-place,
// then update the leaf/non-leaf bookkeeping and fire the notifier.
func (s *Store) Store(e *pdu.Event) {
	if existing, ok := s.events[e.ID]; ok {
		if existing.StateMap == nil && e.StateMap != nil {
			existing.StateMap = e.StateMap
			s.notify(existing)
		}
		// Already materialised: no-op (spec §4.4).
		return
	}
	s.events[e.ID] = e
	for _, parent := range e.PrevEvents {
		delete(s.latestEvents, parent)
		s.nonlatestEvents[parent] = struct{}{}
	}
	if _, isNonLatest := s.nonlatestEvents[e.ID]; !isNonLatest {
		s.latestEvents[e.ID] = struct{}{}
	}
	s.notify(e)
}

func (s *Store) notify(e *pdu.Event) {
	if s.notifier != nil {
		s.notifier.NotifyEvent(e)
	}
}

// IsServerJoined implements spec §8 property 8: true iff some current leaf's
// StateMap contains a (m.room.member, u@server) entry whose membership is
// "join". The member event referenced by each leaf's StateMap is resolved
// from this store's own event map; member events it does not hold are
// skipped.
func (s *Store) IsServerJoined(server string) bool {
	for leaf := range s.latestEvents {
		leafEvent, ok := s.events[leaf]
		if !ok || leafEvent.StateMap == nil {
			continue
		}
		for key, memberEventID := range leafEvent.StateMap {
			if key.Type != "m.room.member" {
				continue
			}
			if id.UserID(key.StateKey).Homeserver() != server {
				continue
			}
			memberEvent, ok := s.events[memberEventID]
			if !ok {
				continue
			}
			if memberEvent.Content().Get("membership").String() == "join" {
				return true
			}
		}
	}
	return false
}
