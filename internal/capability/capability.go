// Package capability encodes the protocol feature bitset advertised to the
// control plane on every poll.
package capability

import "encoding/base64"

// Capability is one protocol feature bit. Bit positions are fixed by the
// remote configuration protocol and must not be renumbered.
type Capability uint64

const (
	// TracingSampleRate advertises dynamic trace sample rate support.
	TracingSampleRate Capability = 1 << 12
	// TracingLogsInjection advertises dynamic logs-injection toggling.
	TracingLogsInjection Capability = 1 << 13
	// TracingHTTPHeaderTags advertises dynamic HTTP header tag maps.
	TracingHTTPHeaderTags Capability = 1 << 14
	// TracingCustomTags advertises dynamic custom tag sets.
	TracingCustomTags Capability = 1 << 15
	// TracingEnabled advertises remote enable/disable of tracing.
	TracingEnabled Capability = 1 << 19
	// TracingSampleRules advertises dynamic trace sampling rules.
	TracingSampleRules Capability = 1 << 29
)

// Set is an OR-combined group of capabilities.
type Set uint64

// Add returns the set with the given capability enabled.
func (s Set) Add(c Capability) Set { return s | Set(c) }

// Has reports whether the capability is present.
func (s Set) Has(c Capability) bool { return s&Set(c) != 0 }

// Encode serializes the set as a big-endian, minimal-byte-length, base64
// string. The empty set encodes to the empty string.
func (s Set) Encode() string {
	if s == 0 {
		return ""
	}
	var buf [8]byte
	n := -1
	for i := 0; i < 8; i++ {
		buf[i] = byte(s >> (8 * (7 - i)))
		if n < 0 && buf[i] != 0 {
			n = i
		}
	}
	return base64.StdEncoding.EncodeToString(buf[n:])
}
