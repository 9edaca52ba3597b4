// Package planner builds the routing graph of one generation cycle for a
// pipeline topology.
package planner

import (
	"github.com/pgacloud/manager/internal/naming"
	perrors "github.com/pgacloud/manager/pkg/errors"
	"sort"
)

// Topologies.
const (
	MasterSlave = "Master-Slave"
	Island      = "Island"
)

// Route is a stage's place in the pipeline. Init is only set on the runner
// when an initializer seeds the first generation.
type Route struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Init   string `json:"init,omitempty"`
}

// Graph maps a stage role to its route.
type Graph map[string]Route

// Edge is a directed pipeline edge.
type Edge struct {
	From string
	To   string
}

// Edges returns every directed edge of the graph in a stable order.
func (g Graph) Edges() []Edge {
	var edges []Edge
	for role, r := range g {
		if r.Target != "" {
			edges = append(edges, Edge{From: role, To: r.Target})
		}
		if r.Init != "" {
			edges = append(edges, Edge{From: role, To: r.Init})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

// Cycle follows Target links from start until a role repeats and returns the
// roles visited, start included once. ok is false if the walk leaves the graph
// or never returns to start.
func (g Graph) Cycle(start string) (roles []string, ok bool) {
	visited := make(map[string]bool)
	cur := start
	for {
		if visited[cur] {
			return roles, cur == start
		}
		r, exists := g[cur]
		if !exists {
			return roles, false
		}
		visited[cur] = true
		roles = append(roles, cur)
		cur = r.Target
	}
}

// Request is everything the planner needs from the cluster configuration.
type Request struct {
	Topology string
	// Stages is the merged set of stage roles known from configuration.
	Stages               []string
	UseInitialPopulation bool
	UseInit              bool
}

// Plan is the planner's output.
type Plan struct {
	Graph             Graph
	DeployInitializer bool
}

// DeployInitializer is true unless an initial population is supplied and the
// properties do not force the initializer anyway.
func DeployInitializer(useInitialPopulation, useInit bool) bool {
	return !useInitialPopulation || useInit
}

// Build returns the routing graph for the requested topology. It is pure and
// returns no partial graph on failure.
func Build(req Request) (Plan, error) {
	const op = "plan"

	deployInit := DeployInitializer(req.UseInitialPopulation, req.UseInit)

	switch req.Topology {
	case "":
		return Plan{}, perrors.E(op, perrors.ErrMissingTopology, "")
	case Island:
		return Plan{}, perrors.E(op, perrors.ErrNotImplemented, "%s", Island)
	case MasterSlave:
	default:
		return Plan{}, perrors.E(op, perrors.ErrUnsupportedModel, "%q", req.Topology)
	}

	required := []string{
		naming.RoleRunner, naming.RoleSelection, naming.RoleCrossover,
		naming.RoleMutation, naming.RoleFitness,
	}
	if deployInit {
		required = append(required, naming.RoleInitializer)
	}
	known := make(map[string]bool, len(req.Stages))
	for _, s := range req.Stages {
		known[s] = true
	}
	for _, role := range required {
		if !known[role] {
			return Plan{}, perrors.E(op, perrors.ErrMissingStage, "%s topology needs %q", MasterSlave, role)
		}
	}

	return Plan{Graph: masterSlave(deployInit), DeployInitializer: deployInit}, nil
}

func masterSlave(deployInit bool) Graph {
	g := Graph{
		naming.RoleRunner:    {Source: naming.RoleFitness, Target: naming.RoleSelection},
		naming.RoleSelection: {Source: naming.RoleRunner, Target: naming.RoleCrossover},
		naming.RoleCrossover: {Source: naming.RoleSelection, Target: naming.RoleMutation},
		naming.RoleMutation:  {Source: naming.RoleCrossover, Target: naming.RoleFitness},
		naming.RoleFitness:   {Source: naming.RoleMutation, Target: naming.RoleRunner},
	}
	if deployInit {
		runner := g[naming.RoleRunner]
		runner.Init = naming.RoleInitializer
		g[naming.RoleRunner] = runner
		g[naming.RoleInitializer] = Route{Source: naming.RoleRunner, Target: naming.RoleFitness}
	}
	return g
}
