package audio

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// ArtifactName maps a peer-supplied session id to a safe file name with the
// given extension. Ids come straight off the wire, so anything outside a
// conservative character set is replaced before the id touches the
// filesystem; path separators and dot runs can never escape the capture
// directory. When any replacement occurred, a short hash of the original id
// is appended so distinct ids never collide on the same artifact.
func ArtifactName(id, ext string) string {
	var b strings.Builder
	b.Grow(len(id) + len(ext) + 10)

	changed := false
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
			changed = true
		}
	}

	if b.Len() == 0 {
		b.WriteString("session")
		changed = true
	}

	if changed {
		h := fnv.New32a()
		h.Write([]byte(id))
		fmt.Fprintf(&b, "-%08x", h.Sum32())
	}

	b.WriteByte('.')
	b.WriteString(strings.TrimPrefix(ext, "."))
	return b.String()
}
