package tuf

import "fmt"

// maxSnippet bounds how much of an offending payload is kept for diagnostics.
const maxSnippet = 256

// ProtocolError reports malformed or inconsistent signed configuration data
// received from the control plane. It is fatal for the whole processing
// cycle: no client state is committed, and the message is surfaced in the
// next request's status report.
type ProtocolError struct {
	Reason  string
	Snippet string
}

func (e *ProtocolError) Error() string {
	if e.Snippet == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Snippet)
}

// NewProtocolError builds a ProtocolError, truncating the payload snippet.
func NewProtocolError(reason string, payload []byte) *ProtocolError {
	snippet := string(payload)
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet] + "..."
	}
	return &ProtocolError{Reason: reason, Snippet: snippet}
}

// ProtocolErrorf builds a ProtocolError without a payload snippet.
func ProtocolErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}
