package types

// Candidate is the internal search result used by the HNSW traversal: the
// node ordinal and its distance to the query.
type Candidate struct {
	ID       uint32
	Distance float64
}

// Less orders candidates by distance, breaking ties by insertion order
// (lower ordinal first) so that results are deterministic.
func (c Candidate) Less(o Candidate) bool {
	if c.Distance != o.Distance {
		return c.Distance < o.Distance
	}
	return c.ID < o.ID
}

// Link is one persisted neighbor entry of a node at a given layer.
type Link struct {
	ID       uint32  `json:"id"`
	Distance float64 `json:"d"`
}

// NodeData carries a node out of the hnsw package, with a private copy of its
// vector and of every per-layer neighbor list.
type NodeData[K any] struct {
	Ordinal   uint32
	Subject   K
	Vector    []float32
	Norm      float64
	Level     int
	Neighbors [][]Link
}
