package engine

import (
	"strings"
	"testing"
)

func graphServices(ids ...string) []ServiceDescriptor {
	out := make([]ServiceDescriptor, 0, len(ids))
	for _, id := range ids {
		svc := ServiceDescriptor{ID: id, StackType: StackGeneric, Kind: KindService}
		switch {
		case strings.HasPrefix(id, "backend"):
			svc.StackType, svc.Kind = StackSpringMaven, KindBackend
		case strings.HasPrefix(id, "frontend"):
			svc.StackType, svc.Kind = StackNode, KindFrontend
		case id == "database":
			svc.Kind, svc.Database = KindDatabase, DatabasePostgreSQL
		}
		out = append(out, svc)
	}
	return out
}

func TestServiceGraph_Empty(t *testing.T) {
	g, err := BuildServiceGraph(nil, nil)
	if err != nil {
		t.Fatalf("Expected no error for empty services, got: %v", err)
	}
	if len(g.Levels()) != 0 {
		t.Errorf("Expected 0 levels, got %d", len(g.Levels()))
	}
	if len(g.StartupOrder()) != 0 {
		t.Errorf("Expected empty startup order, got %v", g.StartupOrder())
	}
}

func TestServiceGraph_FullStack(t *testing.T) {
	services := graphServices("backend-0", "database", "frontend-1")
	rels := []Relationship{
		{From: "backend-0", To: "database", Type: RelationDatabase},
		{From: "frontend-1", To: "backend-0", Type: RelationAPI},
	}

	g, err := BuildServiceGraph(services, rels)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	levels := g.Levels()
	if len(levels) != 3 {
		t.Fatalf("Expected 3 levels, got %v", levels)
	}
	want := []string{"database", "backend-0", "frontend-1"}
	for i, id := range g.StartupOrder() {
		if id != want[i] {
			t.Errorf("Startup position %d: expected %s, got %s", i, want[i], id)
		}
	}

	if deps := g.DependsOn("frontend-1"); len(deps) != 1 || deps[0] != "backend-0" {
		t.Errorf("Expected frontend-1 to need backend-0, got %v", deps)
	}
	if dependents := g.Dependents("database"); len(dependents) != 1 || dependents[0] != "backend-0" {
		t.Errorf("Expected backend-0 to need database, got %v", dependents)
	}
}

func TestServiceGraph_IndependentServicesShareLevel(t *testing.T) {
	services := graphServices("backend-0", "backend-1", "database", "frontend-2")
	rels := []Relationship{
		{From: "backend-0", To: "database", Type: RelationDatabase},
		{From: "backend-1", To: "database", Type: RelationDatabase},
		{From: "frontend-2", To: "backend-0", Type: RelationAPI},
		{From: "frontend-2", To: "backend-0", Type: RelationAPI},
	}

	g, err := BuildServiceGraph(services, rels)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	levels := g.Levels()
	if len(levels) != 3 {
		t.Fatalf("Expected 3 levels, got %v", levels)
	}
	if len(levels[1]) != 2 || levels[1][0] != "backend-0" || levels[1][1] != "backend-1" {
		t.Errorf("Expected both backends in level 1 in encounter order, got %v", levels[1])
	}
	if len(g.DependsOn("frontend-2")) != 1 {
		t.Errorf("Expected duplicate relationship to collapse, got %v", g.DependsOn("frontend-2"))
	}
}

func TestServiceGraph_Errors(t *testing.T) {
	tests := []struct {
		name     string
		services []ServiceDescriptor
		rels     []Relationship
		contains string
	}{
		{
			name:     "duplicate id",
			services: graphServices("backend-0", "backend-0"),
			contains: "duplicate service ID",
		},
		{
			name:     "empty id",
			services: []ServiceDescriptor{{StackType: StackGeneric}},
			contains: "empty ID",
		},
		{
			name:     "unknown endpoint",
			services: graphServices("frontend-0"),
			rels:     []Relationship{{From: "frontend-0", To: "backend-9", Type: RelationAPI}},
			contains: "unknown service backend-9",
		},
		{
			name:     "self loop",
			services: graphServices("backend-0"),
			rels:     []Relationship{{From: "backend-0", To: "backend-0", Type: RelationAPI}},
			contains: "backend-0 -> backend-0",
		},
		{
			name:     "cycle",
			services: graphServices("backend-0", "backend-1", "backend-2"),
			rels: []Relationship{
				{From: "backend-0", To: "backend-1", Type: RelationAPI},
				{From: "backend-1", To: "backend-2", Type: RelationAPI},
				{From: "backend-2", To: "backend-0", Type: RelationAPI},
			},
			contains: "backend-0 -> backend-1 -> backend-2 -> backend-0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildServiceGraph(tt.services, tt.rels)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !IsValidation(err) {
				t.Errorf("Expected validation error, got: %v", err)
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("Expected error to contain %q, got: %v", tt.contains, err)
			}
		})
	}
}

func TestServiceGraph_ToDOT(t *testing.T) {
	services := graphServices("backend-0", "database", "frontend-1")
	rels := []Relationship{
		{From: "backend-0", To: "database", Type: RelationDatabase},
		{From: "frontend-1", To: "backend-0", Type: RelationAPI},
	}
	g, err := BuildServiceGraph(services, rels)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	dot := g.ToDOT()
	for _, want := range []string{
		"digraph Services {",
		"subgraph cluster_level_0",
		`"database" [label="database\nPOSTGRESQL"`,
		`"backend-0" [label="backend-0\nSPRING_MAVEN"`,
		`"frontend-1" -> "backend-0" [style=dashed, color=blue, label="api"];`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("Expected DOT to contain %q\n%s", want, dot)
		}
	}
}
