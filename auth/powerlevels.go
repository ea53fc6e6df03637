package auth

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/pdu"
	"go.mau.fi/roomengine/roomversion"
)

// GetInt implements spec §4.3's get_int: a JSON number is itself; a numeric
// string also parses. Anything else fails.
func GetInt(v gjson.Result) (int64, bool) {
	switch v.Type {
	case gjson.Number:
		return int64(v.Num), true
	case gjson.String:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// getIntStrict is GetInt but rejects numeric strings when enforceInt is set,
// per spec §4.3's power-levels delta check.
func getIntStrict(v gjson.Result, enforceInt bool) (int64, bool) {
	if enforceInt && v.Type != gjson.Number {
		return 0, false
	}
	return GetInt(v)
}

func powerLevelsContent(snapshot Snapshot) gjson.Result {
	evt := snapshot.Get(TypePowerLevels, "")
	if evt == nil {
		return gjson.Result{}
	}
	return evt.Content()
}

// GetUserPowerLevel implements spec §4.3's get_user_power_level: users[user]
// || users_default || 0, with the creator defaulting to 100 instead of 0.
func GetUserPowerLevel(user id.UserID, snapshot Snapshot, profile roomversion.Profile) int64 {
	fallback := int64(0)
	if user == snapshot.Creator(profile.ImplicitRoomCreator) {
		fallback = 100
	}
	content := powerLevelsContent(snapshot)
	if !content.Exists() {
		return fallback
	}
	if v, ok := content.Get("users").Map()[string(user)]; ok {
		if n, ok := GetInt(v); ok {
			return n
		}
	}
	if v := content.Get("users_default"); v.Exists() {
		if n, ok := GetInt(v); ok {
			return n
		}
	}
	return fallback
}

// requiredPowerForEvent returns the power level required to send an event
// of the given type: events[type] || events_default || 0 (spec §4.3, "any
// other event"). This engine does not special-case state_default — the
// spec is explicit that only events[]/events_default apply here.
func requiredPowerForEvent(eventType string, snapshot Snapshot) int64 {
	content := powerLevelsContent(snapshot)
	if !content.Exists() {
		return 0
	}
	if v, ok := content.Get("events").Map()[eventType]; ok {
		if n, ok := GetInt(v); ok {
			return n
		}
	}
	if v := content.Get("events_default"); v.Exists() {
		if n, ok := GetInt(v); ok {
			return n
		}
	}
	return 0
}

func levelOrDefault(content gjson.Result, field string, def int64) int64 {
	if !content.Exists() {
		return def
	}
	v := content.Get(field)
	if !v.Exists() {
		return def
	}
	if n, ok := GetInt(v); ok {
		return n
	}
	return def
}

func inviteLevel(snapshot Snapshot) int64 { return levelOrDefault(powerLevelsContent(snapshot), "invite", 0) }
func kickLevel(snapshot Snapshot) int64   { return levelOrDefault(powerLevelsContent(snapshot), "kick", 50) }
func banLevel(snapshot Snapshot) int64    { return levelOrDefault(powerLevelsContent(snapshot), "ban", 50) }

// checkPowerLevelsDelta implements spec §4.3's power-levels delta check. old
// is the snapshot *before* evt (i.e. the input snapshot to CheckEvent); evt
// is the new m.room.power_levels event being authorised.
func checkPowerLevelsDelta(evt *pdu.Event, old Snapshot, profile roomversion.Profile) bool {
	newContent := evt.Content()
	oldContent := powerLevelsContent(old)
	sender := evt.Sender
	senderPower := GetUserPowerLevel(sender, old, profile)

	scalarFields := []string{"users_default", "events_default", "state_default", "ban", "kick", "redact", "invite"}
	for _, field := range scalarFields {
		oldVal, oldOK := scalarLevel(oldContent, field, profile.EnforceIntPowerLevels)
		newVal, newOK := scalarLevel(newContent, field, profile.EnforceIntPowerLevels)
		if !checkScalarDelta(oldVal, oldOK, newVal, newOK, senderPower, senderPower) {
			return false
		}
	}
	if oldN := oldContent.Get("notifications.room"); oldN.Exists() || newContent.Get("notifications.room").Exists() {
		oldVal, oldOK := getIntStrict(oldContent.Get("notifications.room"), profile.EnforceIntPowerLevels)
		newVal, newOK := getIntStrict(newContent.Get("notifications.room"), profile.EnforceIntPowerLevels)
		if !checkScalarDelta(oldVal, oldOK, newVal, newOK, senderPower, senderPower) {
			return false
		}
	}

	if !checkMapDelta(oldContent.Get("events"), newContent.Get("events"), senderPower, senderPower, profile.EnforceIntPowerLevels) {
		return false
	}

	// users: every key of the NEW map must be a well-formed user id, and
	// per-user ceilings drop to senderPower-1 for every user but the sender.
	newUsers := newContent.Get("users")
	var usersBad bool
	newUsers.ForEach(func(key, _ gjson.Result) bool {
		if !isWellFormedUserID(key.String()) {
			usersBad = true
			return false
		}
		return true
	})
	if usersBad {
		return false
	}
	oldUsers := oldContent.Get("users").Map()
	seen := map[string]bool{}
	allowed := true
	visit := func(userKey string, newVal gjson.Result, hasNew bool) bool {
		seen[userKey] = true
		oldVal, hasOld := oldUsers[userKey]
		ceiling := senderPower
		if id.UserID(userKey) != sender {
			ceiling = senderPower - 1
		}
		oV, oOK := getIntStrict(oldVal, profile.EnforceIntPowerLevels)
		if !hasOld {
			oOK = false
		}
		nV, nOK := getIntStrict(newVal, profile.EnforceIntPowerLevels)
		if !hasNew {
			nOK = false
		}
		if !checkScalarDelta(oV, oOK, nV, nOK, ceiling, ceiling) {
			allowed = false
			return false
		}
		return true
	}
	newUsers.ForEach(func(key, val gjson.Result) bool {
		return visit(key.String(), val, true)
	})
	if !allowed {
		return false
	}
	for userKey := range oldUsers {
		if seen[userKey] {
			continue
		}
		if !visit(userKey, gjson.Result{}, false) {
			return false
		}
	}
	return true
}

// checkScalarDelta returns true if old==new (field untouched, always
// allowed) or both values are within their ceilings.
func checkScalarDelta(oldVal int64, oldOK bool, newVal int64, newOK bool, oldCeiling, newCeiling int64) bool {
	if !oldOK && !newOK {
		return true
	}
	if oldOK && newOK && oldVal == newVal {
		return true
	}
	if oldOK && oldVal > oldCeiling {
		return false
	}
	if newOK && newVal > newCeiling {
		return false
	}
	return true
}

func scalarLevel(content gjson.Result, field string, enforceInt bool) (int64, bool) {
	if !content.Exists() {
		return 0, false
	}
	v := content.Get(field)
	if !v.Exists() {
		return 0, false
	}
	return getIntStrict(v, enforceInt)
}

// isWellFormedUserID does a minimal shape check for "@local:server", per
// spec §4.3's power-levels delta check requirement on the `users` map keys.
func isWellFormedUserID(s string) bool {
	if len(s) < 3 || s[0] != '@' {
		return false
	}
	colon := strings.IndexByte(s, ':')
	return colon > 1 && colon < len(s)-1
}

func checkMapDelta(oldMap, newMap gjson.Result, oldCeiling, newCeiling int64, enforceInt bool) bool {
	oldM := oldMap.Map()
	newM := newMap.Map()
	seen := map[string]bool{}
	for k, newVal := range newM {
		seen[k] = true
		oldVal, hasOld := oldM[k]
		oV, oOK := getIntStrict(oldVal, enforceInt)
		if !hasOld {
			oOK = false
		}
		nV, nOK := getIntStrict(newVal, enforceInt)
		if !checkScalarDelta(oV, oOK, nV, nOK, oldCeiling, newCeiling) {
			return false
		}
	}
	for k, oldVal := range oldM {
		if seen[k] {
			continue
		}
		oV, oOK := getIntStrict(oldVal, enforceInt)
		if !checkScalarDelta(oV, oOK, 0, false, oldCeiling, newCeiling) {
			return false
		}
	}
	return true
}
