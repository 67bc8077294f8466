// Package tuf models the signed configuration payload exchanged with the
// control plane: TUF-style root and targets metadata, target file blobs,
// and the per-config apply bookkeeping reported back each cycle.
//
// Only content-hash integrity is enforced here. Signature-chain trust is
// deliberately out of scope; signatures are carried but not verified.
package tuf

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// ApplyState is the per-config lifecycle marker reported to the control
// plane on every poll.
type ApplyState int

const (
	// ApplyStateUnacknowledged means the config has been seen but not yet
	// delivered to a product.
	ApplyStateUnacknowledged ApplyState = 1
	// ApplyStateAcknowledged means the product accepted the config.
	ApplyStateAcknowledged ApplyState = 2
	// ApplyStateError means the product rejected the config; ApplyError
	// carries the message.
	ApplyStateError ApplyState = 3
)

// ConfigMetadata describes one configuration target: identity, content
// digest, and the apply outcome from the most recent delivery attempt.
type ConfigMetadata struct {
	ID         string
	Product    string
	SHA256     string
	Length     uint64
	TUFVersion uint64

	ApplyState ApplyState
	ApplyError string
}

// Equal compares only identity and content fields, ignoring
// ApplyState/ApplyError. This is what lets the diff engine detect an
// unchanged config even after an error or acknowledgement transition.
func (m ConfigMetadata) Equal(other ConfigMetadata) bool {
	return m.ID == other.ID &&
		m.Product == other.Product &&
		m.SHA256 == other.SHA256 &&
		m.Length == other.Length &&
		m.TUFVersion == other.TUFVersion
}

// Signature is a detached signature over a signed metadata document.
type Signature struct {
	KeyID string `json:"keyid"`
	Sig   string `json:"sig"`
}

// Key is a TUF public key record.
type Key struct {
	KeyType        string            `json:"keytype"`
	HashAlgorithms []string          `json:"keyid_hash_algorithms"`
	KeyVal         map[string]string `json:"keyval"`
	Scheme         string            `json:"scheme"`
}

// Role binds a role name to the keys allowed to sign for it.
type Role struct {
	KeyIDs    []string `json:"keyids"`
	Threshold int      `json:"threshold"`
}

// Root is the TUF root metadata document.
type Root struct {
	Type               string          `json:"_type"`
	SpecVersion        string          `json:"spec_version"`
	ConsistentSnapshot bool            `json:"consistent_snapshot"`
	Expires            time.Time       `json:"expires"`
	Keys               map[string]Key  `json:"keys"`
	Roles              map[string]Role `json:"roles"`
	Version            uint64          `json:"version"`
}

// SignedRoot is a Root document with its signatures.
type SignedRoot struct {
	Signatures []Signature `json:"signatures"`
	Signed     Root        `json:"signed"`
}

// targetCustom carries the control plane's per-target custom block; "v" is
// the config's TUF version.
type targetCustom struct {
	Version uint64 `json:"v"`
}

// TargetDesc describes one target file: size and content digests.
type TargetDesc struct {
	Length uint64            `json:"length"`
	Hashes map[string]string `json:"hashes"`
	Custom targetCustom      `json:"custom"`
}

// targetsCustom carries the opaque state the backend asks the client to
// echo back on the next request.
type targetsCustom struct {
	OpaqueBackendState string `json:"opaque_backend_state"`
}

// Targets is the TUF targets metadata document listing every valid target.
type Targets struct {
	Type        string                `json:"_type"`
	Custom      targetsCustom         `json:"custom"`
	Expires     time.Time             `json:"expires"`
	SpecVersion string                `json:"spec_version"`
	Targets     map[string]TargetDesc `json:"targets"`
	Version     uint64                `json:"version"`
}

// BackendState returns the opaque backend state, empty when absent.
func (t *Targets) BackendState() string { return t.Custom.OpaqueBackendState }

// SignedTargets is a Targets document with its signatures.
type SignedTargets struct {
	Signatures []Signature `json:"signatures"`
	Signed     Targets     `json:"signed"`
}

// TargetFile is one raw config blob shipped alongside the signed metadata.
// Raw stays base64-encoded until the diff engine resolves the file.
type TargetFile struct {
	Path string `json:"path"`
	Raw  string `json:"raw"`
}

// AgentPayload is the decoded top-level poll response.
type AgentPayload struct {
	Roots         []SignedRoot
	Targets       *SignedTargets
	TargetFiles   []TargetFile
	ClientConfigs []string
}

// agentPayloadWire is the on-the-wire shape: roots and targets arrive as
// base64-encoded JSON documents.
type agentPayloadWire struct {
	Roots         []string     `json:"roots"`
	Targets       string       `json:"targets"`
	TargetFiles   []TargetFile `json:"target_files"`
	ClientConfigs []string     `json:"client_configs"`
}

// DecodeAgentPayload decodes and validates a raw poll response body. Any
// failure while decoding nested documents is wrapped into a single
// ProtocolError carrying the original payload snippet.
func DecodeAgentPayload(data []byte) (*AgentPayload, error) {
	var wire agentPayloadWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, NewProtocolError("invalid agent payload received", data)
	}

	payload := &AgentPayload{
		TargetFiles:   wire.TargetFiles,
		ClientConfigs: wire.ClientConfigs,
	}

	for _, raw := range wire.Roots {
		root, err := DecodeSignedRoot(raw)
		if err != nil {
			return nil, NewProtocolError("invalid agent payload received: "+err.Error(), data)
		}
		payload.Roots = append(payload.Roots, *root)
	}

	if wire.Targets != "" {
		targets, err := DecodeSignedTargets(wire.Targets)
		if err != nil {
			return nil, NewProtocolError("invalid agent payload received: "+err.Error(), data)
		}
		payload.Targets = targets
	}

	return payload, nil
}

// DecodeSignedRoot decodes a base64-encoded signed root document and
// validates its type discriminator.
func DecodeSignedRoot(raw string) (*SignedRoot, error) {
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, ProtocolErrorf("invalid base64 root metadata: %v", err)
	}
	var root SignedRoot
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, ProtocolErrorf("invalid root metadata: %v", err)
	}
	if root.Signed.Type != "root" {
		return nil, ProtocolErrorf("invalid root type %q", root.Signed.Type)
	}
	return &root, nil
}

// DecodeSignedTargets decodes a base64-encoded signed targets document and
// validates its type discriminator and spec version.
func DecodeSignedTargets(raw string) (*SignedTargets, error) {
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, ProtocolErrorf("invalid base64 targets metadata: %v", err)
	}
	var targets SignedTargets
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, ProtocolErrorf("invalid targets metadata: %v", err)
	}
	if targets.Signed.Type != "targets" {
		return nil, ProtocolErrorf("invalid targets type %q", targets.Signed.Type)
	}
	switch targets.Signed.SpecVersion {
	case "1.0", "1.0.0":
	default:
		return nil, ProtocolErrorf("invalid targets spec version %q", targets.Signed.SpecVersion)
	}
	return &targets, nil
}
