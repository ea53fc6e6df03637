// Package roomversion describes the room version profiles understood by the
// room engine: which auth-rule variants apply to a given room.
package roomversion

import (
	"fmt"

	"maunium.net/go/mautrix/id"
)

// Profile is a bundle of boolean feature flags that select which auth-rule
// variant applies to a room. Unlike a version number, callers should always
// branch on the flags rather than the ID so that two IDs sharing behaviour
// don't need duplicated rule code.
type Profile struct {
	ID id.RoomVersion

	// KnockRestrictedJoinRule enables the "knock_restricted" join rule
	// (knocking, and joining after an invite). No restricted-join
	// allow-list is evaluated.
	KnockRestrictedJoinRule bool
	// EnforceIntPowerLevels requires every power level scalar to be a JSON
	// integer; when false, numeric strings are also accepted.
	EnforceIntPowerLevels bool
	// ImplicitRoomCreator treats the creator as implicit (the create
	// event's sender) instead of requiring content.creator.
	ImplicitRoomCreator bool
	// UpdatedRedactionRules selects the newer redaction-preserved-fields
	// set. The redaction algorithm itself lives with the signing service;
	// this flag is surfaced for callers that need to pick the right one.
	UpdatedRedactionRules bool
}

var (
	V9 = Profile{
		ID:                      "9",
		KnockRestrictedJoinRule: false,
		EnforceIntPowerLevels:   false,
		ImplicitRoomCreator:     false,
		UpdatedRedactionRules:   false,
	}
	V10 = Profile{
		ID:                      "10",
		KnockRestrictedJoinRule: true,
		EnforceIntPowerLevels:   true,
		ImplicitRoomCreator:     false,
		UpdatedRedactionRules:   false,
	}
	V11 = Profile{
		ID:                      "11",
		KnockRestrictedJoinRule: true,
		EnforceIntPowerLevels:   true,
		ImplicitRoomCreator:     true,
		UpdatedRedactionRules:   true,
	}
)

var byID = map[id.RoomVersion]Profile{
	V9.ID:  V9,
	V10.ID: V10,
	V11.ID: V11,
}

// ErrUnknownRoomVersion is returned by Parse for any id outside {9, 10, 11}.
type ErrUnknownRoomVersion struct {
	ID id.RoomVersion
}

func (e ErrUnknownRoomVersion) Error() string {
	return fmt.Sprintf("unknown or unsupported room version %q", e.ID)
}

// Parse resolves a wire room version string ("9", "10", "11") to its
// Profile. Any other value is rejected.
func Parse(raw id.RoomVersion) (Profile, error) {
	profile, ok := byID[raw]
	if !ok {
		return Profile{}, ErrUnknownRoomVersion{ID: raw}
	}
	return profile, nil
}

// Supported reports whether raw is one of the room versions this engine
// implements.
func Supported(raw id.RoomVersion) bool {
	_, ok := byID[raw]
	return ok
}
