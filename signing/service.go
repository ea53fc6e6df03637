// Package signing declares the signing-service collaborator (spec §1):
// canonical JSON, server-key signature checks and event ids. The room
// engine never reimplements Matrix canonical JSON or Ed25519 verification
// itself — it calls through this interface, the same way meowlnir's
// policy server calls into maunium.net/go/mautrix/federation/pdu for
// GetEventID/Sign/VerifySignature.
package signing

import (
	"context"
	"encoding/json"

	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/roomversion"
)

// Service is implemented by whatever process-wide signing/verification
// component the deployment wires in (see signing/mautrix.go for the
// concrete adapter built on maunium.net/go/mautrix/federation/pdu).
type Service interface {
	// GetEventID computes the event id for a fully-formed PDU JSON object
	// under the given room version.
	GetEventID(raw json.RawMessage, version roomversion.Profile) (id.EventID, error)
	// CheckSignature verifies the signature(s) on the pruned form of raw,
	// as if checking that `host` is a valid signer.
	CheckSignature(ctx context.Context, host string, raw json.RawMessage, version roomversion.Profile) error
	// ContentHash computes the content hash of raw the way Matrix defines
	// it (canonical JSON of raw with `signatures`/`unsigned`/`hashes`
	// stripped, SHA-256'd).
	ContentHash(raw json.RawMessage) ([32]byte, error)
	// PruneEvent strips the fields the room version's redaction algorithm
	// does not preserve, returning the pruned canonical JSON.
	PruneEvent(raw json.RawMessage, version roomversion.Profile) (json.RawMessage, error)
	// Sign adds this server's signature to raw, returning the signed form.
	Sign(raw json.RawMessage, version roomversion.Profile, serverName string, keyID id.KeyID) (json.RawMessage, error)
}
