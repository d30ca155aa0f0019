package coordinator

// Assigner decides which node location stores a given fragment. Placement is
// deliberately pluggable; the coordinator records the outcome in the
// manifest, so swapping assigners never strands previously stored objects.
type Assigner interface {
	Assign(objectID string, index, total int, nodes []string) string
}

// ModuloAssigner spreads fragments across nodes round-robin by index. With
// fewer fragments than nodes the first nodes fill first; with more, the
// wrap-around is even.
type ModuloAssigner struct{}

// Assign returns the node for the fragment at index.
func (ModuloAssigner) Assign(objectID string, index, total int, nodes []string) string {
	return nodes[index%len(nodes)]
}
