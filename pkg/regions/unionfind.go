package regions

// disjointSet is a union-find forest over provisional component labels.
// Label 0 is reserved for background and never joined.
type disjointSet struct {
	parent []int32
}

func newDisjointSet(capacity int) *disjointSet {
	ds := &disjointSet{parent: make([]int32, 1, capacity+1)}
	return ds
}

// add creates a new singleton set and returns its label.
func (ds *disjointSet) add() int32 {
	l := int32(len(ds.parent))
	ds.parent = append(ds.parent, l)
	return l
}

func (ds *disjointSet) find(x int32) int32 {
	for ds.parent[x] != x {
		ds.parent[x] = ds.parent[ds.parent[x]]
		x = ds.parent[x]
	}
	return x
}

// union merges the sets of a and b. The smaller root survives, so the root of
// every set is the first label handed out for it.
func (ds *disjointSet) union(a, b int32) int32 {
	ra, rb := ds.find(a), ds.find(b)
	if ra == rb {
		return ra
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	ds.parent[rb] = ra
	return ra
}
