// Package registry implements the process-global, crash-safe directory of
// spec §4.8 (C8): room_id -> actor handle, and (local_user, remote_user) ->
// room_id for direct chats. It is the only cross-actor mutable state in
// this engine (spec §5): reads are dirty, writes are atomic per key.
package registry

import (
	"context"
	"sync"

	"go.mau.fi/util/glob"
	"golang.org/x/sync/singleflight"
	"maunium.net/go/mautrix/id"
)

// DirectKey identifies a direct-chat room by its two endpoints.
type DirectKey struct {
	LocalUser  id.UserID
	RemoteUser id.UserID
}

// Handle is the actor handle stored per room. The registry treats it
// opaquely; room actors supply their own concrete handle type (e.g. a
// mailbox channel or supervisor-assigned PID equivalent).
type Handle any

// Supervisor starts a room actor on demand (spec §4.8's get_room_pid
// fallback). StartRoom returning (nil, nil) means "ignored": the caller
// should treat the lookup as a miss rather than an error.
type Supervisor interface {
	StartRoom(ctx context.Context, host string, roomID id.RoomID) (Handle, error)
}

// Registry holds the two maps described in spec §4.8, plus an optional
// server allow-list that gates which servers GetRoomPID starts actors for.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[id.RoomID]Handle
	directs map[DirectKey]id.RoomID

	provision singleflight.Group // folds concurrent get_room_pid misses for the same room into one StartRoom call

	allowedServers []glob.Glob // nil means unrestricted
}

func New() *Registry {
	return &Registry{
		rooms:   make(map[id.RoomID]Handle),
		directs: make(map[DirectKey]id.RoomID),
	}
}

// SetAllowedServers restricts which remote homeservers GetRoomPID will
// provision actors for. Patterns are matched against the server name the
// way policylist's entity rules match against user/room/server ids.
func (r *Registry) SetAllowedServers(patterns []string) {
	globs := make([]glob.Glob, len(patterns))
	for i, p := range patterns {
		globs[i] = glob.Compile(p)
	}
	r.mu.Lock()
	r.allowedServers = globs
	r.mu.Unlock()
}

func (r *Registry) isServerAllowed(server string) bool {
	r.mu.RLock()
	globs := r.allowedServers
	r.mu.RUnlock()
	if globs == nil {
		return true
	}
	for _, g := range globs {
		if g.Match(server) {
			return true
		}
	}
	return false
}

// PutRoom registers a room actor's handle. Called on actor init (spec
// §4.8's "Actor writes on init/terminate").
func (r *Registry) PutRoom(roomID id.RoomID, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[roomID] = h
}

// RemoveRoom unregisters a room actor. Called on actor terminate.
func (r *Registry) RemoveRoom(roomID id.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
}

// GetRoom is a dirty read of the current handle for roomID, if any.
func (r *Registry) GetRoom(roomID id.RoomID) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.rooms[roomID]
	return h, ok
}

// PutDirect registers the room id for a (local_user, remote_user) direct
// chat.
func (r *Registry) PutDirect(key DirectKey, roomID id.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.directs[key] = roomID
}

// RemoveDirect unregisters a direct-chat mapping.
func (r *Registry) RemoveDirect(key DirectKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.directs, key)
}

// GetDirect is a dirty read of the room id for a direct-chat key.
func (r *Registry) GetDirect(key DirectKey) (id.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.directs[key]
	return roomID, ok
}

// GetRoomPID implements spec §4.8's get_room_pid: return the existing
// handle if registered, otherwise ask the supervisor to start one. A
// supervisor result of (nil, nil) is "ignored" and surfaces as (nil,
// false) rather than an error. host is the server whose request triggered
// the lookup (e.g. an inbound federation PDU's origin); requests from a
// server outside SetAllowedServers are ignored without starting an actor.
// Concurrent misses for the same roomID fold into one StartRoom call via
// singleflight, closing the read-then-start race a bare RWMutex leaves
// open.
func (r *Registry) GetRoomPID(ctx context.Context, sup Supervisor, host string, roomID id.RoomID) (Handle, bool, error) {
	if h, ok := r.GetRoom(roomID); ok {
		return h, true, nil
	}
	if !r.isServerAllowed(host) {
		return nil, false, nil
	}
	v, err, _ := r.provision.Do(string(roomID), func() (any, error) {
		if h, ok := r.GetRoom(roomID); ok {
			return h, nil
		}
		h, err := sup.StartRoom(ctx, host, roomID)
		if err != nil {
			return nil, err
		}
		if h == nil {
			return nil, nil
		}
		r.PutRoom(roomID, h)
		return h, nil
	})
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}
