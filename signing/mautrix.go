package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"maunium.net/go/mautrix/federation/pdu"
	"maunium.net/go/mautrix/id"

	"go.mau.fi/roomengine/roomversion"
)

// KeyFetcher resolves a remote server's current signing key, mirroring the
// shape meowlnir's policy server passes to pdu.PDU.VerifySignature.
type KeyFetcher func(serverName string, keyID id.KeyID, minValidUntil time.Time) (id.SigningKey, time.Time, error)

// MautrixService is the production Service, delegating event-id
// computation and signature handling to maunium.net/go/mautrix/federation/pdu
// — the exact library meowlnir's policy server uses for the same job
// (policyeval/policyserver_check.go, policyeval/policyserver_sign.go).
type MautrixService struct {
	FetchKey   KeyFetcher
	PrivateKey id.SigningKey
}

func NewMautrixService(fetchKey KeyFetcher, privateKey id.SigningKey) *MautrixService {
	return &MautrixService{FetchKey: fetchKey, PrivateKey: privateKey}
}

func (s *MautrixService) decode(raw json.RawMessage) (*pdu.PDU, error) {
	var p pdu.PDU
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode pdu: %w", err)
	}
	return &p, nil
}

func (s *MautrixService) GetEventID(raw json.RawMessage, version roomversion.Profile) (id.EventID, error) {
	p, err := s.decode(raw)
	if err != nil {
		return "", err
	}
	return p.GetEventID(version.ID)
}

func (s *MautrixService) CheckSignature(ctx context.Context, host string, raw json.RawMessage, version roomversion.Profile) error {
	p, err := s.decode(raw)
	if err != nil {
		return err
	}
	return p.VerifySignature(version.ID, host, s.FetchKey)
}

func (s *MautrixService) Sign(raw json.RawMessage, version roomversion.Profile, serverName string, keyID id.KeyID) (json.RawMessage, error) {
	p, err := s.decode(raw)
	if err != nil {
		return nil, err
	}
	if err = p.Sign(version.ID, serverName, keyID, ed25519.NewKeyFromSeed(s.PrivateKey.Bytes())); err != nil {
		return nil, fmt.Errorf("sign pdu: %w", err)
	}
	return json.Marshal(p)
}

// preservedOnRedact are the top-level PDU fields every room version keeps
// after a redaction; it is intentionally conservative (the v9/v10 set) —
// callers that need the v11 "updated redaction rules" content-preservation
// differences should special-case content themselves, since that lives in
// per-event-type policy rather than this generic pruning step.
var preservedOnRedact = map[string]bool{
	"event_id":         true,
	"type":             true,
	"room_id":          true,
	"sender":           true,
	"state_key":        true,
	"content":          true,
	"depth":            true,
	"prev_events":      true,
	"auth_events":      true,
	"origin_server_ts": true,
	"hashes":           true,
	"signatures":       true,
}

// PruneEvent strips every top-level field not preserved across a redaction.
// It only handles the top level: `content` is kept whole, and no
// per-event-type content pruning is done, so the returned form still
// carries the full event body.
func (s *MautrixService) PruneEvent(raw json.RawMessage, version roomversion.Profile) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("prune_event: %w", err)
	}
	pruned := make(map[string]json.RawMessage, len(obj))
	for k, v := range obj {
		if preservedOnRedact[k] {
			pruned[k] = v
		}
	}
	return canonicalMarshal(pruned)
}

func (s *MautrixService) ContentHash(raw json.RawMessage) ([32]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return [32]byte{}, fmt.Errorf("content_hash: %w", err)
	}
	delete(obj, "hashes")
	delete(obj, "signatures")
	delete(obj, "unsigned")
	canon, err := canonicalMarshal(obj)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(canon), nil
}

// canonicalMarshal re-encodes a map with its keys sorted, matching Matrix
// canonical JSON's key ordering requirement closely enough for hashing
// purposes (no whitespace, sorted keys); full canonical-JSON number/escaping
// rules are the signing service's responsibility and are exercised via
// pdu.PDU above for the paths that matter (event ids, signatures).
func canonicalMarshal(obj map[string]json.RawMessage) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, obj[k]...)
	}
	buf = append(buf, '}')
	return buf, nil
}
