package room

import (
	"maunium.net/go/mautrix/id"
)

// ClientState is the small lifecycle FSM of spec §4.6: undefined ->
// established -> leave -> terminated.
type ClientState int

const (
	ClientUndefined ClientState = iota
	ClientEstablished
	ClientLeave
)

func (s ClientState) String() string {
	switch s {
	case ClientEstablished:
		return "established"
	case ClientLeave:
		return "leave"
	default:
		return "undefined"
	}
}

// LeaveReason names why the FSM moved to ClientLeave (spec §4.6).
type LeaveReason string

const (
	LeaveUnknownRemoteUser LeaveReason = "unknown_remote_user"
	LeaveTooManyUsers      LeaveReason = "too_many_users"
	LeaveRemoteUserLeft    LeaveReason = "remote_user_left"
)

// clientTransition is the outcome of re-evaluating the FSM against a fresh
// joined-users set.
type clientTransition struct {
	next      ClientState
	leaveWhy  LeaveReason
	terminate bool
	emitLeave bool
}

// evaluateClientState implements spec §4.6's update_client state machine.
// joined is the set of users currently joined to the room, excluding
// no one; local and remote are the direct chat's two endpoints.
func evaluateClientState(current ClientState, joined map[id.UserID]bool, local, remote id.UserID) clientTransition {
	localJoined := joined[local]
	switch current {
	case ClientUndefined:
		if !localJoined {
			return clientTransition{next: ClientUndefined}
		}
		others := otherUsers(joined, local)
		switch {
		case len(others) == 0:
			return clientTransition{next: ClientUndefined}
		case len(others) == 1 && others[0] == remote:
			return clientTransition{next: ClientEstablished}
		case len(others) == 1:
			return clientTransition{next: ClientLeave, leaveWhy: LeaveUnknownRemoteUser, emitLeave: true}
		default:
			return clientTransition{next: ClientLeave, leaveWhy: LeaveTooManyUsers, emitLeave: true}
		}
	case ClientEstablished:
		if !localJoined {
			return clientTransition{next: ClientLeave, terminate: true}
		}
		if !joined[remote] {
			return clientTransition{next: ClientLeave, leaveWhy: LeaveRemoteUserLeft, emitLeave: true}
		}
		return clientTransition{next: ClientEstablished}
	default: // ClientLeave
		return clientTransition{next: ClientLeave, terminate: true}
	}
}

func otherUsers(joined map[id.UserID]bool, local id.UserID) []id.UserID {
	out := make([]id.UserID, 0, len(joined))
	for u, isJoined := range joined {
		if isJoined && u != local {
			out = append(out, u)
		}
	}
	return out
}
