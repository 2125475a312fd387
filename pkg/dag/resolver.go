package dag

import "fmt"

// Resolver answers dependency questions about a fixed set of pipeline steps.
// It is built once per execution and never mutated afterwards, so it needs no
// locking.
type Resolver struct {
	steps map[string]*Step
	order []string // step IDs in definition order, for deterministic output

	forward  map[string][]string // step -> direct dependents
	reverse  map[string][]string // step -> direct dependencies
	inDegree map[string]int
}

// NewResolver builds a resolver from the given steps. It rejects duplicate
// IDs and self-dependencies immediately; missing dependency references and
// cycles are reported by Validate.
func NewResolver(steps []*Step) (*Resolver, error) {
	r := &Resolver{
		steps:    make(map[string]*Step, len(steps)),
		order:    make([]string, 0, len(steps)),
		forward:  make(map[string][]string, len(steps)),
		reverse:  make(map[string][]string, len(steps)),
		inDegree: make(map[string]int, len(steps)),
	}

	for _, step := range steps {
		if step == nil {
			return nil, fmt.Errorf("step cannot be nil")
		}
		if err := step.Validate(); err != nil {
			return nil, err
		}
		if _, exists := r.steps[step.ID]; exists {
			return nil, &DuplicateStepError{ID: step.ID}
		}
		for _, dep := range step.DependsOn {
			if dep == step.ID {
				return nil, &SelfDependencyError{ID: step.ID}
			}
		}
		cloned := step.Clone()
		r.steps[cloned.ID] = cloned
		r.order = append(r.order, cloned.ID)
	}

	for _, id := range r.order {
		step := r.steps[id]
		r.reverse[id] = append([]string(nil), step.DependsOn...)
		r.inDegree[id] = len(step.DependsOn)
		for _, dep := range step.DependsOn {
			r.forward[dep] = append(r.forward[dep], id)
		}
	}

	return r, nil
}

// Step returns the step with the given ID.
func (r *Resolver) Step(id string) (*Step, bool) {
	step, ok := r.steps[id]
	if !ok {
		return nil, false
	}
	return step.Clone(), true
}

// StepCount returns the number of steps.
func (r *Resolver) StepCount() int {
	return len(r.steps)
}

// StepIDs returns all step IDs in definition order.
func (r *Resolver) StepIDs() []string {
	return append([]string(nil), r.order...)
}

// Validate checks that every depends_on reference exists and that the graph
// is acyclic. It returns the first problem found as a typed error.
func (r *Resolver) Validate() error {
	for _, id := range r.order {
		for _, dep := range r.steps[id].DependsOn {
			if _, exists := r.steps[dep]; !exists {
				return &DependencyNotFoundError{StepID: id, DepID: dep}
			}
		}
	}
	if cycle := r.findCycle(); cycle != nil {
		return &CyclicDependencyError{Path: cycle}
	}
	return nil
}

// Problems returns every structural problem as a human-readable list without
// erroring, for pre-flight checks.
func (r *Resolver) Problems() []string {
	var problems []string
	for _, id := range r.order {
		for _, dep := range r.steps[id].DependsOn {
			if _, exists := r.steps[dep]; !exists {
				problems = append(problems, (&DependencyNotFoundError{StepID: id, DepID: dep}).Error())
			}
		}
	}
	if cycle := r.findCycle(); cycle != nil {
		problems = append(problems, (&CyclicDependencyError{Path: cycle}).Error())
	}
	return problems
}

// ExecutionOrder computes the parallel execution batches using a batched
// variant of Kahn's algorithm: batch 0 holds every in-degree-0 step, and each
// later batch holds the steps whose in-degree drops to zero once the previous
// batch is done. Steps in one batch have no dependency relation and are safe
// to run concurrently.
func (r *Resolver) ExecutionOrder() ([][]string, error) {
	if len(r.steps) == 0 {
		return [][]string{}, nil
	}

	inDegree := make(map[string]int, len(r.inDegree))
	for id, deg := range r.inDegree {
		inDegree[id] = deg
	}

	var current []string
	for _, id := range r.order {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	var batches [][]string
	processed := 0
	for len(current) > 0 {
		batches = append(batches, current)
		processed += len(current)

		ready := make(map[string]bool)
		for _, id := range current {
			for _, dependent := range r.forward[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					ready[dependent] = true
				}
			}
		}

		current = nil
		for _, id := range r.order {
			if ready[id] {
				current = append(current, id)
			}
		}
	}

	if processed != len(r.steps) {
		cycle := r.findCycle()
		if cycle == nil {
			// Unreachable when in-degrees are consistent; report what we know.
			cycle = []string{"unknown"}
		}
		return nil, &CyclicDependencyError{Path: cycle}
	}

	return batches, nil
}

// Roots returns steps with no dependencies, in definition order.
func (r *Resolver) Roots() []string {
	var roots []string
	for _, id := range r.order {
		if len(r.reverse[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Leaves returns steps with no dependents, in definition order.
func (r *Resolver) Leaves() []string {
	var leaves []string
	for _, id := range r.order {
		if len(r.forward[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

// Dependencies returns the direct dependencies of the given step.
func (r *Resolver) Dependencies(id string) ([]string, error) {
	if _, exists := r.steps[id]; !exists {
		return nil, &StepNotFoundError{ID: id}
	}
	return append([]string(nil), r.reverse[id]...), nil
}

// Dependents returns the steps that directly depend on the given step.
func (r *Resolver) Dependents(id string) ([]string, error) {
	if _, exists := r.steps[id]; !exists {
		return nil, &StepNotFoundError{ID: id}
	}
	return append([]string(nil), r.forward[id]...), nil
}

// AllDependencies returns the transitive dependency closure of the given
// step via breadth-first traversal of the reverse graph.
func (r *Resolver) AllDependencies(id string) ([]string, error) {
	if _, exists := r.steps[id]; !exists {
		return nil, &StepNotFoundError{ID: id}
	}
	return r.closure(id, r.reverse), nil
}

// AllDependents returns the transitive dependent closure of the given step.
func (r *Resolver) AllDependents(id string) ([]string, error) {
	if _, exists := r.steps[id]; !exists {
		return nil, &StepNotFoundError{ID: id}
	}
	return r.closure(id, r.forward), nil
}

// closure walks edges breadth-first from start, excluding start itself.
func (r *Resolver) closure(start string, edges map[string][]string) []string {
	visited := map[string]bool{start: true}
	queue := append([]string(nil), edges[start]...)
	var result []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		result = append(result, id)
		queue = append(queue, edges[id]...)
	}
	return result
}

// IsDependencyOf reports whether a is a (transitive) dependency of b.
func (r *Resolver) IsDependencyOf(a, b string) bool {
	visited := make(map[string]bool)
	queue := append([]string(nil), r.reverse[b]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == a {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		queue = append(queue, r.reverse[id]...)
	}
	return false
}

// CanRunParallel reports whether two steps have no dependency relation in
// either direction.
func (r *Resolver) CanRunParallel(a, b string) bool {
	return !r.IsDependencyOf(a, b) && !r.IsDependencyOf(b, a)
}

// ReadySteps returns all not-yet-completed steps whose dependencies are all
// contained in the completed set, in definition order.
func (r *Resolver) ReadySteps(completed map[string]bool) []string {
	var ready []string
	for _, id := range r.order {
		if completed[id] {
			continue
		}
		if r.IsStepReady(id, completed) {
			ready = append(ready, id)
		}
	}
	return ready
}

// IsStepReady reports whether every dependency of the step is completed.
func (r *Resolver) IsStepReady(id string, completed map[string]bool) bool {
	for _, dep := range r.reverse[id] {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// Level returns the depth of a step: 0 for roots, otherwise one more than
// the deepest dependency. The graph must be acyclic; call Validate first.
func (r *Resolver) Level(id string) (int, error) {
	if _, exists := r.steps[id]; !exists {
		return 0, &StepNotFoundError{ID: id}
	}
	memo := make(map[string]int, len(r.steps))
	return r.level(id, memo), nil
}

func (r *Resolver) level(id string, memo map[string]int) int {
	if lvl, ok := memo[id]; ok {
		return lvl
	}
	max := -1
	for _, dep := range r.reverse[id] {
		if _, exists := r.steps[dep]; !exists {
			continue
		}
		if lvl := r.level(dep, memo); lvl > max {
			max = lvl
		}
	}
	memo[id] = max + 1
	return max + 1
}
