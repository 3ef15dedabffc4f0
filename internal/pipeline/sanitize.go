package pipeline

import (
	"encoding/json"
	"strings"
)

const fence = "```"

// Sanitize strips incidental formatting around a JSON document: surrounding
// whitespace, a code-fence wrapper and prose before or after the outermost
// object. It never looks inside the document. Sanitize is idempotent.
func Sanitize(raw string) string {
	s := strings.TrimSpace(raw)

	// the wrapper is the opening fence line and the last closing fence, so
	// backticks inside string values survive
	for strings.HasPrefix(s, fence) {
		s = s[len(fence):]
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		if j := strings.LastIndex(s, fence); j >= 0 {
			s = s[:j]
		}
		s = strings.TrimSpace(s)
	}

	switch {
	case strings.HasPrefix(s, "{"):
		if j := strings.LastIndexByte(s, '}'); j > 0 {
			s = s[:j+1]
		}
	case strings.HasPrefix(s, "[") && json.Valid([]byte(s)):
		// arrays are left for the decoder to reject
	default:
		i := strings.IndexByte(s, '{')
		j := strings.LastIndexByte(s, '}')
		if i >= 0 && j > i {
			s = s[i : j+1]
		}
	}
	return s
}
