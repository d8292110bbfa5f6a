// Package coordinator holds the slot ownership registry: the table that answers
// which node serves a key, a slot, or a multi-key request for a given cluster
// blueprint.
//
// # Overview
//
// The planner in internal/topology produces a blueprint once. The registry
// loads that blueprint into a fixed 16384-entry table so lookups are a single
// array index after the CRC16 slot computation. It is the piece a request
// router or provisioning tool consults; it does not route traffic itself.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│            SlotRegistry             │
//	├─────────────────────────────────────┤
//	│  Load(topology)                     │
//	│    validate → fill owner table      │
//	│                                     │
//	│  Lookups                            │
//	│    GetNodeForKey   key → owner      │
//	│    CheckKeys       keys → owner     │
//	│    GetReplica      owner → replica  │
//	│                                     │
//	│  Overrides                          │
//	│    AssignSlot / AssignRange         │
//	│    RemoveSlot / Rebalance           │
//	└─────────────────────────────────────┘
//
// # Multi-key Requests
//
// A multi-key command is only atomic when every key lives in one slot.
// CheckKeys runs the co-location analysis from internal/slot and rejects
// cross-slot requests with ErrCrossSlot, the equivalent of a CROSSSLOT reply:
//
//	slot, owner, err := registry.CheckKeys([]string{"{u1}:cart", "{u1}:orders"})
//	switch {
//	case errors.Is(err, coordinator.ErrCrossSlot):
//	    // reject the request
//	case err != nil:
//	    return err
//	}
//
// # Overrides
//
// Manual assignments only accept known owner nodes. They let an operator
// model a layout change on top of a planned blueprint before provisioning.
// Overrides can leave holes (RemoveSlot); Unassigned reports how many.
//
// # Concurrency Model
//
// Thread-safety strategy:
//   - Lookups take the read lock and may run in parallel
//   - Load, assignments and Rebalance take the write lock
//   - Load and Rebalance validate before locking and swap in one step
//   - Returned values are copies
//
// # Error Handling
//
// All errors are input errors and are returned to the caller unchanged in
// kind; test them with errors.Is against the sentinels in this package,
// cluster.ErrInvalidTopology, or slot.ErrNoKeys.
//
// # See Also
//
// Related packages:
//   - internal/slot: Key to slot computation
//   - internal/topology: Blueprint planning and encoding
//   - internal/cluster: Node and topology types
package coordinator
