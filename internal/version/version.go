// Package version records the agent build version reported to the control
// plane.
package version

// Version is the rcagent release version. Overridden at build time with
// -ldflags "-X rcagent/internal/version.Version=...".
var Version = "0.3.0"
