// Package topology plans static cluster layouts: it splits the 16384 hash slots
// into contiguous owner ranges, pairs every owner with one replica, assigns
// identifiers and loopback addresses, and reads and writes the result as a
// YAML or JSON blueprint.
//
// Planning is offline and deterministic apart from node identifiers. A planned
// topology always passes cluster.Topology.Validate.
//
//	t, err := topology.NewPlanner(topology.PlannerOptions{
//	    IDs: topology.NewSequentialGenerator("node"),
//	}).Plan(5)
package topology
