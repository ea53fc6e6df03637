package pdu

import (
	"context"
	"encoding/base64"

	"github.com/tidwall/gjson"

	"go.mau.fi/roomengine/roomerr"
	"go.mau.fi/roomengine/signing"
)

// CheckSigAndHash implements spec §4.1's check_event_sig_and_hash: verify the
// signature on the pruned form of the event, then verify the content hash.
// A hash mismatch is not fatal — the event is still usable for state, but
// its JSON is replaced by the pruned form so the discarded content can never
// leak back out.
func CheckSigAndHash(ctx context.Context, svc signing.Service, host string, e *Event) error {
	pruned, err := svc.PruneEvent(e.JSON, e.RoomVersion)
	if err != nil {
		return roomerr.WrapEvent(roomerr.InvalidSignature, e.ID, err)
	}
	if err = svc.CheckSignature(ctx, host, pruned, e.RoomVersion); err != nil {
		return roomerr.WrapEvent(roomerr.InvalidSignature, e.ID, err)
	}
	hash, err := svc.ContentHash(e.JSON)
	if err != nil {
		return err
	}
	expected, ok := expectedHash(e)
	if !ok || hash != expected {
		e.JSON = pruned
	}
	return nil
}

func expectedHash(e *Event) ([32]byte, bool) {
	var out [32]byte
	encoded := gjson.GetBytes(e.JSON, "hashes.sha256")
	if !encoded.Exists() {
		return out, false
	}
	decoded, err := base64.RawStdEncoding.DecodeString(encoded.String())
	if err != nil || len(decoded) != len(out) {
		return out, false
	}
	copy(out[:], decoded)
	return out, true
}
