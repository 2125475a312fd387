package dag

// findCycle runs DFS with three-color marking over the dependency edges and
// returns a closed cycle path (first and last element equal), or nil when the
// graph is acyclic. Every consecutive pair in the returned path is a real
// depends_on edge.
func (r *Resolver) findCycle() []string {
	// white (0): unvisited, gray (1): on the recursion stack, black (2): done.
	color := make(map[string]int, len(r.steps))

	var cycle []string
	var visit func(id string, path []string) bool
	visit = func(id string, path []string) bool {
		color[id] = 1
		path = append(path, id)
		for _, dep := range r.reverse[id] {
			if _, exists := r.steps[dep]; !exists {
				continue
			}
			switch color[dep] {
			case 0:
				if visit(dep, path) {
					return true
				}
			case 1:
				cycle = closeCycle(path, dep)
				return true
			}
		}
		color[id] = 2
		return false
	}

	for _, id := range r.order {
		if color[id] == 0 {
			if visit(id, nil) {
				return cycle
			}
		}
	}
	return nil
}

// closeCycle slices the DFS path from the first occurrence of start and
// appends start again to close the loop.
func closeCycle(path []string, start string) []string {
	for i, id := range path {
		if id == start {
			cycle := make([]string, len(path)-i+1)
			copy(cycle, path[i:])
			cycle[len(cycle)-1] = start
			return cycle
		}
	}
	return []string{start, start}
}
