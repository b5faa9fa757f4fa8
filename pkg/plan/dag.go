package plan

import (
	"fmt"
	"sort"
	"strings"
)

// Validate checks the dependency graph for cycles. A cycle is reported as a
// deadlock error carrying the cycle path.
func (p *ReconfigurationPlan) Validate() error {
	visited := make([]bool, len(p.actions))
	recStack := make([]bool, len(p.actions))

	for i := range p.actions {
		if visited[i] {
			continue
		}
		if cycle := p.findCycle(i, visited, recStack, nil); cycle != nil {
			return NewDeadlockError(
				fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)),
				nil,
			).WithCode(ErrCodeCycle).WithAction(cycle[0], p.actions[cycle[0]]).
				WithDetail("cycle", cycle)
		}
	}
	return nil
}

// findCycle performs a DFS from i along dependents and returns the first
// cycle met, closed on its first element.
func (p *ReconfigurationPlan) findCycle(i int, visited, recStack []bool, path []int) []int {
	visited[i] = true
	recStack[i] = true
	path = append(path, i)

	for _, next := range p.dependents[i] {
		if !visited[next] {
			if cycle := p.findCycle(next, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[next] {
			for k, id := range path {
				if id == next {
					cycle := append([]int(nil), path[k:]...)
					return append(cycle, next)
				}
			}
		}
	}

	recStack[i] = false
	return nil
}

// Levels groups actions into layers with Kahn's algorithm: every action of
// layer k only depends on actions of earlier layers.
func (p *ReconfigurationPlan) Levels() ([][]int, error) {
	inDegree := make([]int, len(p.actions))
	current := make([]int, 0)
	for i := range p.actions {
		inDegree[i] = len(p.deps[i])
		if inDegree[i] == 0 {
			current = append(current, i)
		}
	}

	levels := make([][]int, 0)
	processed := 0
	for len(current) > 0 {
		levels = append(levels, current)
		processed += len(current)

		next := make([]int, 0)
		for _, i := range current {
			for _, d := range p.dependents[i] {
				inDegree[d]--
				if inDegree[d] == 0 {
					next = append(next, d)
				}
			}
		}
		sort.Ints(next)
		current = next
	}

	if processed != len(p.actions) {
		if err := p.Validate(); err != nil {
			return levels, err
		}
		return levels, NewDeadlockError("failed to order all actions", nil).WithCode(ErrCodeCycle)
	}
	return levels, nil
}

// ToDOT renders the dependency graph in Graphviz format. Actions are
// clustered by level when the graph is acyclic.
func (p *ReconfigurationPlan) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph ReconfigurationPlan {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	writeNode := func(indent string, i int) {
		a := p.actions[i]
		label := fmt.Sprintf("#%d %s\\n[%d, %d]", i, a.Kind(), a.Start(), a.End())
		sb.WriteString(fmt.Sprintf("%s\"a%d\" [label=\"%s\", tooltip=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
			indent, i, label, escapeDOT(a.String()), kindColor(a.Kind())))
	}

	levels, err := p.Levels()
	if err == nil {
		for level, ids := range levels {
			sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
			sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
			sb.WriteString("    style=dashed;\n")
			for _, i := range ids {
				writeNode("    ", i)
			}
			sb.WriteString("  }\n\n")
		}
	} else {
		for i := range p.actions {
			writeNode("  ", i)
		}
		sb.WriteString("\n")
	}

	for i := range p.actions {
		for _, d := range p.dependents[i] {
			sb.WriteString(fmt.Sprintf("  \"a%d\" -> \"a%d\";\n", i, d))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func formatCycle(cycle []int) string {
	parts := make([]string, len(cycle))
	for i, id := range cycle {
		parts[i] = fmt.Sprintf("#%d", id)
	}
	return strings.Join(parts, " -> ")
}

func escapeDOT(s string) string {
	return strings.ReplaceAll(s, "\"", "\\\"")
}

// kindColor returns a fill color per action family.
func kindColor(k ActionKind) string {
	switch k {
	case KindBootNode, KindBootVM, KindForgeVM:
		return "lightgreen"
	case KindMigrateVM, KindResumeVM, KindAllocate:
		return "lightblue"
	case KindShutdownNode, KindShutdownVM, KindKillVM:
		return "lightcoral"
	case KindSuspendVM:
		return "lightyellow"
	default:
		return "white"
	}
}
