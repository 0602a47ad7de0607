package engine

import (
	"fmt"
	"strings"
)

// ServiceGraph is the dependency graph of a set of services. An edge
// From -> To means From needs To running first, as in compose depends_on.
type ServiceGraph struct {
	// order holds service IDs in encounter order; every traversal follows it
	// so output is deterministic.
	order []string

	services map[string]*ServiceDescriptor

	// dependencies maps a service to the services it needs.
	dependencies map[string][]string

	// dependents maps a service to the services that need it.
	dependents map[string][]string

	edges []Relationship

	// levels groups services into startup waves. Level 0 needs nothing.
	levels [][]string
}

// BuildServiceGraph validates relationships against services and computes
// startup levels. Unknown endpoints, duplicate IDs and cycles are validation
// errors.
func BuildServiceGraph(services []ServiceDescriptor, relationships []Relationship) (*ServiceGraph, error) {
	g := &ServiceGraph{
		order:        make([]string, 0, len(services)),
		services:     make(map[string]*ServiceDescriptor, len(services)),
		dependencies: make(map[string][]string, len(services)),
		dependents:   make(map[string][]string, len(services)),
	}

	for i := range services {
		svc := &services[i]
		if svc.ID == "" {
			return nil, NewValidationError("service has empty ID", nil)
		}
		if _, exists := g.services[svc.ID]; exists {
			return nil, NewValidationError(fmt.Sprintf("duplicate service ID: %s", svc.ID), nil).
				WithResource(svc.ID)
		}
		g.services[svc.ID] = svc
		g.order = append(g.order, svc.ID)
	}

	for _, rel := range relationships {
		for _, id := range []string{rel.From, rel.To} {
			if _, exists := g.services[id]; !exists {
				return nil, NewValidationError(
					fmt.Sprintf("relationship %s -> %s references unknown service %s", rel.From, rel.To, id),
					nil,
				).WithResource(id)
			}
		}
		if contains(g.dependencies[rel.From], rel.To) {
			continue
		}
		g.dependencies[rel.From] = append(g.dependencies[rel.From], rel.To)
		g.dependents[rel.To] = append(g.dependents[rel.To], rel.From)
		g.edges = append(g.edges, rel)
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, NewValidationError(
			fmt.Sprintf("circular relationship: %s", strings.Join(cycle, " -> ")),
			nil,
		).WithResource(cycle[0])
	}

	g.computeLevels()
	return g, nil
}

// findCycle returns the first cycle found by depth-first search, closed by
// repeating its first service, or nil.
func (g *ServiceGraph) findCycle() []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, dep := range g.dependencies[id] {
			if !visited[dep] {
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
				continue
			}
			if onStack[dep] {
				for i, p := range path {
					if p == dep {
						return append(append([]string{}, path[i:]...), dep)
					}
				}
			}
		}

		onStack[id] = false
		path = path[:len(path)-1]
		return nil
	}

	for _, id := range g.order {
		if !visited[id] {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// computeLevels runs Kahn's algorithm. A service lands one level above the
// deepest service it needs.
func (g *ServiceGraph) computeLevels() {
	remaining := make(map[string]int, len(g.order))
	for _, id := range g.order {
		remaining[id] = len(g.dependencies[id])
	}

	placed := make(map[string]bool, len(g.order))
	for len(placed) < len(g.order) {
		var level []string
		for _, id := range g.order {
			if !placed[id] && remaining[id] == 0 {
				level = append(level, id)
			}
		}
		for _, id := range level {
			placed[id] = true
			for _, dependent := range g.dependents[id] {
				remaining[dependent]--
			}
		}
		g.levels = append(g.levels, level)
	}
}

// Levels returns the startup waves. Services in one wave do not need each other.
func (g *ServiceGraph) Levels() [][]string {
	return g.levels
}

// StartupOrder flattens the levels.
func (g *ServiceGraph) StartupOrder() []string {
	out := make([]string, 0, len(g.order))
	for _, level := range g.levels {
		out = append(out, level...)
	}
	return out
}

// DependsOn returns the services id needs, in relationship order.
func (g *ServiceGraph) DependsOn(id string) []string {
	return g.dependencies[id]
}

// Dependents returns the services that need id.
func (g *ServiceGraph) Dependents(id string) []string {
	return g.dependents[id]
}

// ToDOT renders the graph in Graphviz DOT format, one cluster per level.
func (g *ServiceGraph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Services {\n")
	sb.WriteString("  rankdir=BT;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range g.levels {
		fmt.Fprintf(&sb, "  subgraph cluster_level_%d {\n", level)
		fmt.Fprintf(&sb, "    label=\"Level %d\";\n", level)
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			svc := g.services[id]
			label := fmt.Sprintf("%s\\n%s", id, svc.StackType)
			if svc.Kind == KindDatabase {
				label = fmt.Sprintf("%s\\n%s", id, svc.Database)
			}
			fmt.Fprintf(&sb, "    %q [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				id, label, kindColor(svc.Kind))
		}
		sb.WriteString("  }\n\n")
	}

	for _, e := range g.edges {
		fmt.Fprintf(&sb, "  %q -> %q [%s];\n", e.From, e.To, relationStyle(e.Type))
	}

	sb.WriteString("}\n")
	return sb.String()
}

func kindColor(kind ServiceKind) string {
	switch kind {
	case KindBackend:
		return "lightblue"
	case KindFrontend:
		return "lightgreen"
	case KindDatabase:
		return "lightyellow"
	default:
		return "white"
	}
}

func relationStyle(relType string) string {
	switch relType {
	case RelationDatabase:
		return "style=solid, color=black, label=\"database\""
	case RelationAPI:
		return "style=dashed, color=blue, label=\"api\""
	default:
		return "style=dotted, color=gray"
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
