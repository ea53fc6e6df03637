// Package room implements the per-room actor (spec §4.6, C6): a single
// cooperative event loop that owns one room's DAG store, state resolution,
// auth checks, and federation orchestration. Different rooms run
// independently (spec §5); within one room every mutation is serialised
// through this actor's inbox, so nothing else in the engine needs a lock.
package room

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"
	"golang.org/x/sync/semaphore"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/auth"
	"go.mau.fi/roomengine/config"
	"go.mau.fi/roomengine/dag"
	"go.mau.fi/roomengine/fedclient"
	"go.mau.fi/roomengine/gateway"
	"go.mau.fi/roomengine/pdu"
	"go.mau.fi/roomengine/roomversion"
	"go.mau.fi/roomengine/signing"
)

// Deregisterer is this actor's own view of the process lifecycle it runs
// under (spec §4.8's get_room_pid caller side): Terminate deregisters the
// actor from the registry.
type Deregisterer interface {
	RemoveRoom(roomID id.RoomID)
}

// Actor is the room-engine state of spec §3's "Room actor data", plus the
// plumbing needed to run its event loop.
type Actor struct {
	RoomID      id.RoomID
	RoomVersion roomversion.Profile
	LocalUser   id.UserID
	RemoteUser  id.UserID
	Host        string // this engine's own homeserver name

	Store      *dag.Store
	Signing    signing.Service
	KeyID      id.KeyID
	Federation fedclient.Client
	Registry   Deregisterer
	Bridge     *gateway.Bridge
	Log        zerolog.Logger
	Config     config.Config

	clientState ClientState
	outgoing    map[string]*outboundQueue // remote server -> queue
	sendSema    *semaphore.Weighted       // bounds concurrent outbound send_txn requests
	prefetching *exsync.Set[string]       // remote servers with a get_missing_events prefetch already running
	inbox       chan func()
	stopOnce    sync.Once
	stopped     chan struct{}
}

// New constructs an actor and wires its DAG store's notifier back to
// NotifyEvent, matching spec §4.4 step 3 / §4.7. cfg supplies the
// federation timeouts and resend/prefetch tunables; a zero Config is
// replaced with config.Default(). gw is the optional gateway collaborator
// (spec §1's "Gateway") this room bridges local-user messages to/from; a
// nil gw leaves the room without a gateway projection, e.g. for rooms that
// only carry Matrix-to-Matrix traffic.
func New(roomID id.RoomID, version roomversion.Profile, host string, localUser, remoteUser id.UserID, signingSvc signing.Service, fed fedclient.Client, reg Deregisterer, gw gateway.Gateway, serviceHost string, log zerolog.Logger, cfg config.Config) *Actor {
	if cfg.OutboundConcurrency == 0 {
		cfg = config.Default()
		cfg.Host = host
	}
	a := &Actor{
		RoomID:      roomID,
		RoomVersion: version,
		LocalUser:   localUser,
		RemoteUser:  remoteUser,
		Host:        host,
		Signing:     signingSvc,
		Federation:  fed,
		Registry:    reg,
		Log:         log,
		Config:      cfg,
		clientState: ClientUndefined,
		outgoing:    make(map[string]*outboundQueue),
		sendSema:    semaphore.NewWeighted(cfg.OutboundConcurrency),
		prefetching: exsync.NewSet[string](),
		inbox:       make(chan func(), 64),
		stopped:     make(chan struct{}),
	}
	a.Store = dag.New(a)
	if gw != nil {
		b := &gateway.Bridge{
			MatrixDomain:    host,
			ServiceHost:     serviceHost,
			RemoteUser:      remoteUser,
			LocalMatrixUser: localUser,
			Gateway:         gw,
			Remote:          a,
		}
		b.LocalUser = b.UserIDToJID(localUser)
		a.Bridge = b
	}
	return a
}

// Run is the actor's single cooperative loop (spec §5): every mutation to
// the DAG, state maps, leaves, and outbound txn state happens here, on one
// goroutine, serialised by inbox.
func (a *Actor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopped:
			return
		case task := <-a.inbox:
			task()
		}
	}
}

// Terminate stops the loop and removes this actor from the registry (spec
// §3's "Room actors exist from get_room_pid until terminate, at which
// point the registry entries are removed").
func (a *Actor) Terminate() {
	a.stopOnce.Do(func() {
		close(a.stopped)
		if a.Registry != nil {
			a.Registry.RemoveRoom(a.RoomID)
		}
	})
}

// call runs fn on the actor's own goroutine and blocks the caller until it
// returns, implementing spec §4.6's "synchronous calls". A panic inside fn
// is recovered at this boundary so it never poisons the actor loop; the
// caller still unblocks, receiving fn's zero value.
func call[T any](a *Actor, fn func() T) T {
	result := make(chan T, 1)
	a.inbox <- func() {
		defer func() {
			if r := recover(); r != nil {
				a.Log.Error().Interface("panic", r).Msg("Recovered panic in room actor call")
				var zero T
				result <- zero
			}
		}()
		result <- fn()
	}
	return <-result
}

// cast enqueues fn to run on the actor's goroutine without waiting for it,
// implementing spec §4.6's "casts". A panic inside fn is recovered at this
// boundary so it never poisons the actor loop.
func (a *Actor) cast(fn func()) {
	wrapped := func() {
		defer func() {
			if r := recover(); r != nil {
				a.Log.Error().Interface("panic", r).Msg("Recovered panic in room actor cast")
			}
		}()
		fn()
	}
	select {
	case a.inbox <- wrapped:
	case <-a.stopped:
	}
}

// GetRoomVersion is a synchronous call (spec §4.6).
func (a *Actor) GetRoomVersion() roomversion.Profile {
	return call(a, func() roomversion.Profile { return a.RoomVersion })
}

// FindEvent is a synchronous call (spec §4.6).
func (a *Actor) FindEvent(eventID id.EventID) (*pdu.Event, bool) {
	return call(a, func() eventLookupResult {
		e, ok := a.Store.Get(eventID)
		return eventLookupResult{e, ok}
	}).unpack()
}

type eventLookupResult struct {
	event *pdu.Event
	ok    bool
}

func (r eventLookupResult) unpack() (*pdu.Event, bool) { return r.event, r.ok }

// PartitionMissedEvents is a synchronous call (spec §4.6).
func (a *Actor) PartitionMissedEvents(ids []id.EventID) (known, unknown []id.EventID) {
	type result struct{ known, unknown []id.EventID }
	r := call(a, func() result {
		k, u := a.Store.Partition(ids)
		return result{k, u}
	})
	return r.known, r.unknown
}

// PartitionEventsWithStateMap is a synchronous call (spec §4.6).
func (a *Actor) PartitionEventsWithStateMap(ids []id.EventID) (withStateMap, without []id.EventID) {
	type result struct{ with, without []id.EventID }
	r := call(a, func() result {
		w, wo := a.Store.PartitionWithStateMap(ids)
		return result{w, wo}
	})
	return r.with, r.without
}

// GetLatestEvents is a synchronous call (spec §4.6).
func (a *Actor) GetLatestEvents() []id.EventID {
	return call(a, func() []id.EventID { return a.Store.LatestEvents() })
}

// GetEvent is a synchronous call (spec §4.6).
func (a *Actor) GetEvent(eventID id.EventID) (*pdu.Event, bool) {
	return a.FindEvent(eventID)
}

// IsServerJoined guards several federation-facing calls (spec §4.6's
// get_missing_events / get_state_ids).
func (a *Actor) IsServerJoined(server string) bool {
	return call(a, func() bool { return a.Store.IsServerJoined(server) })
}

// NotifyEvent implements dag.Notifier, projecting newly stored events both
// to the gateway bridge and, for invites of a remote user, over federation
// (spec §4.4 step 3, §4.7, §6's PUT .../v2/invite/{roomId}/{eventId}). It
// must not block for long since the store calls it synchronously from this
// actor's own goroutine: the federation invite RPC runs on its own
// goroutine rather than here, and the Bridge field is expected to be a
// thin, non-blocking projection.
func (a *Actor) NotifyEvent(e *pdu.Event) {
	if e.Type == auth.TypeMember {
		a.forwardInviteLocked(e)
	}
	if a.Bridge == nil {
		return
	}
	a.Bridge.NotifyEvent(context.Background(), e, a.joinedRemoteServersLocked())
}

// forwardInviteLocked implements the federation side of spec §4.7's
// notify_event for membership events: when this room authorises an invite
// of a user on a different homeserver, relay it with PUT
// .../v2/invite/{roomId}/{eventId} (spec §6) carrying the stripped-state
// extract built from the event's own resolved state. Must only run on the
// actor's own goroutine; the RPC itself runs off-actor so a slow remote
// server can't stall the room.
func (a *Actor) forwardInviteLocked(e *pdu.Event) {
	if !e.IsState() || e.Content().Get("membership").String() != auth.MembershipInvite || e.StateMap == nil {
		return
	}
	target := id.UserID(*e.StateKey)
	server := target.Homeserver()
	if server == a.Host {
		return
	}
	snapshot := make(auth.Snapshot, len(e.StateMap))
	for key, eventID := range e.StateMap {
		if se, ok := a.Store.Get(eventID); ok {
			snapshot[key] = se
		}
	}
	strippedState := gateway.StrippedState(snapshot, e.Sender)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.Config.FederationTimeout)
		defer cancel()
		if err := a.Federation.Invite(ctx, server, e.RoomID, e.ID, e.JSON, a.RoomVersion.ID, strippedState); err != nil {
			a.Log.Err(err).Str("target", string(target)).Msg("Failed to forward invite over federation")
		}
	}()
}

func (a *Actor) joinedRemoteServersLocked() []string {
	servers := map[string]bool{}
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
			if !ok || member.Content().Get("membership").String() != "join" {
				continue
			}
			server := id.UserID(key.StateKey).Homeserver()
			if server != a.Host {
				servers[server] = true
			}
		}
	}
	out := make([]string, 0, len(servers))
	for s := range servers {
		out = append(out, s)
	}
	return out
}

// EnqueueToRemotes implements gateway.Remote: it hands e to every target
// server's outbound queue (spec §4.6's send_txn).
func (a *Actor) EnqueueToRemotes(e *pdu.Event, remoteServers []string) {
	a.cast(func() {
		for _, server := range remoteServers {
			a.enqueueOutbound(server, e)
		}
	})
}

