// Package cluster defines the value types that describe a slot-sharded cluster
// layout: nodes, their roles, the slot ranges they serve, and the topology that
// ties them together.
//
// # Overview
//
// A topology is a static blueprint. It is produced once by the planner in
// internal/topology (or decoded from a blueprint file) and handed to whatever
// provisions the real nodes. Nothing in this package talks to the network.
//
// # Layout
//
// Each owner serves one contiguous, inclusive range of hash slots. Each owner
// is mirrored by exactly one replica that carries the identical range and names
// its owner in ReplicaOf:
//
//	owner   0-5461       127.0.0.1:7000   ◄── replica  127.0.0.1:7003
//	owner   5462-10922   127.0.0.1:7001   ◄── replica  127.0.0.1:7004
//	owner   10923-16383  127.0.0.1:7002   ◄── replica  127.0.0.1:7005
//
// # Invariants
//
// Validate enforces the properties a usable blueprint must have:
//   - TotalSlots is 16384 and the counters match the node list
//   - owner ranges tile [0, 16383] with no gaps and no overlaps
//   - every owner has exactly one replica with the same range
//   - node IDs and addresses are unique
//
// # Concurrency
//
// Topology values are never mutated after construction. Methods only read, so
// a topology may be shared between goroutines freely.
package cluster
