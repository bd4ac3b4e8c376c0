package petri

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/strandkit/strand/pkg/api"
)

// Fingerprint computes a stable identifier for a shape definition from its
// structure: node kinds, action names, wait ids, and join semantics. Two
// definitions with the same structure fingerprint identically; any drift
// in the shape changes the fingerprint, which lets the engine refuse to
// interpret a persisted marking against a changed net.
func Fingerprint(def api.ShapeDefinition) string {
	var b strings.Builder
	b.WriteString("shape:")
	b.WriteString(def.Name)
	writeNodes(&b, def.Nodes)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

func writeNodes(b *strings.Builder, nodes []api.Node) {
	b.WriteString("[")
	for _, n := range nodes {
		switch {
		case n.Perform != "":
			fmt.Fprintf(b, "perform(%s)", n.Perform)
		case n.Receive != nil:
			fmt.Fprintf(b, "receive(%s_%s)", n.Receive.Control, n.Receive.Event)
		case n.Parallel != nil:
			fmt.Fprintf(b, "parallel(%s)", n.Parallel.Join)
			for _, branch := range n.Parallel.Branches {
				writeNodes(b, branch)
			}
		}
		b.WriteString(";")
	}
	b.WriteString("]")
}
