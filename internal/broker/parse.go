package broker

import "strings"

// parseGroups splits the groups endpoint's response body into individual
// group codes. Upstream's opaque bytes are never structurally parsed beyond
// this: the broker only needs the caller's current group list and a
// best-effort "first group" to store against the user (§4.G.1), never the
// full shape of the record.
func parseGroups(raw []byte) []string {
	return splitTrimmed(string(raw))
}

// parseFIO extracts a display name from the identity probe's response body.
// Same opacity rule as parseGroups: one best-effort string, nothing more.
func parseFIO(raw []byte) string {
	fields := splitTrimmed(string(raw))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func splitTrimmed(s string) []string {
	var out []string
	for _, line := range strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '|' }) {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
