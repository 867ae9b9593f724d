package parser

import (
	"sort"

	"github.com/me/goflow/pkg/model"
)

// DAGResult holds the result of DAG analysis.
type DAGResult struct {
	// Edges maps each step name to the step names it depends on (upstream).
	Edges map[string][]string
	// Dependents maps each step name to the steps that consume its outputs.
	Dependents map[string][]string
	// Order is the topological sort of steps (execution order).
	Order []string
}

// BuildDAG constructs a directed acyclic graph from the steps.* references in
// step bindings, using Kahn's algorithm for topological sort and cycle detection.
//
// A binding steps.a.produces.x on step b creates the edge a -> b. params.*
// references and literals create no edges. Among steps that become ready at
// the same time, the one declared first in the document comes first.
//
// Returns a *model.CyclicDependencyError when the graph has a cycle, including
// a step that references its own outputs.
func BuildDAG(doc *model.WorkflowDocument) (*DAGResult, error) {
	position := make(map[string]int, len(doc.Steps))
	for i, s := range doc.Steps {
		position[s.Name] = i
	}

	deps := make(map[string][]string, len(doc.Steps))
	forward := make(map[string][]string, len(doc.Steps))
	inDegree := make(map[string]int, len(doc.Steps))
	for _, s := range doc.Steps {
		inDegree[s.Name] = 0
	}

	for _, s := range doc.Steps {
		for _, dep := range s.StepRefs() {
			if _, ok := position[dep]; !ok {
				// Unknown steps are reported by the validator.
				continue
			}
			if dep == s.Name {
				return nil, &model.CyclicDependencyError{Steps: []string{s.Name}}
			}
			deps[s.Name] = append(deps[s.Name], dep)
			forward[dep] = append(forward[dep], s.Name)
			inDegree[s.Name]++
		}
	}

	byPosition := func(names []string) {
		sort.Slice(names, func(i, j int) bool { return position[names[i]] < position[names[j]] })
	}
	for _, list := range deps {
		byPosition(list)
	}
	for _, list := range forward {
		byPosition(list)
	}

	// Kahn's algorithm: BFS topological sort.
	var queue []string
	for _, s := range doc.Steps {
		if inDegree[s.Name] == 0 {
			queue = append(queue, s.Name)
		}
	}

	order := make([]string, 0, len(doc.Steps))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, succ := range forward[node] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
		byPosition(queue)
	}

	if len(order) != len(doc.Steps) {
		return nil, &model.CyclicDependencyError{Steps: cycleMembers(doc, inDegree, forward)}
	}

	return &DAGResult{
		Edges:      deps,
		Dependents: forward,
		Order:      order,
	}, nil
}

// cycleMembers narrows the steps Kahn's algorithm could not order down to the
// ones on a cycle, by repeatedly dropping residual steps with no residual successor.
func cycleMembers(doc *model.WorkflowDocument, inDegree map[string]int, forward map[string][]string) []string {
	residual := make(map[string]bool)
	for name, deg := range inDegree {
		if deg > 0 {
			residual[name] = true
		}
	}
	for changed := true; changed; {
		changed = false
		for name := range residual {
			hasSucc := false
			for _, succ := range forward[name] {
				if residual[succ] {
					hasSucc = true
					break
				}
			}
			if !hasSucc {
				delete(residual, name)
				changed = true
			}
		}
	}
	var members []string
	for _, s := range doc.Steps {
		if residual[s.Name] {
			members = append(members, s.Name)
		}
	}
	return members
}

// sortedKeys returns the keys of m in sorted order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
