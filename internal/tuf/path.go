package tuf

import "regexp"

// targetFormat is the anchored shape of every configuration target path.
// Capture groups: namespace, product name, config id, file name.
var targetFormat = regexp.MustCompile(`^(datadog/\d+|employee)/([^/]+)/([^/]+)/([^/]+)$`)

// TargetPath is a parsed configuration target path.
type TargetPath struct {
	Namespace string
	Product   string
	ConfigID  string
	FileName  string
}

// ParseTargetPath parses and validates a target path string. A path that
// does not match the expected format indicates a server/protocol mismatch,
// so callers treat the failure as fatal for the whole cycle.
func ParseTargetPath(path string) (TargetPath, error) {
	m := targetFormat.FindStringSubmatch(path)
	if m == nil {
		return TargetPath{}, ProtocolErrorf("unexpected target format %q", path)
	}
	return TargetPath{
		Namespace: m[1],
		Product:   m[2],
		ConfigID:  m[3],
		FileName:  m[4],
	}, nil
}
