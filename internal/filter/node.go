// ABOUTME: Node is the view of a remote agent host that filters evaluate.
// ABOUTME: Holds identity, facts, classes, advertised agents and data functions.

package filter

// Function is a named data function callable from compound expressions.
// A map result supports .attribute projection.
type Function func(args ...string) (any, error)

// Node describes a candidate host.
type Node struct {
	Identity  string              `json:"identity"`
	Facts     map[string]string   `json:"facts,omitempty"`
	Classes   []string            `json:"classes,omitempty"`
	Agents    []string            `json:"agents,omitempty"`
	Functions map[string]Function `json:"-"`
}

// HasClass reports whether any class equals entry, or matches it when entry
// is a /regex/.
func (n *Node) HasClass(entry string) bool {
	for _, c := range n.Classes {
		if matchEntry(entry, c) {
			return true
		}
	}
	return false
}

// HasAgent reports whether the node advertises an agent matching entry.
func (n *Node) HasAgent(entry string) bool {
	for _, a := range n.Agents {
		if matchEntry(entry, a) {
			return true
		}
	}
	return false
}
