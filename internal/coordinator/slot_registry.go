// Package coordinator implements the slot ownership registry for keyslot.
// See doc.go for complete package documentation.
package coordinator

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/keyslot/internal/cluster"
	"github.com/dreamware/keyslot/internal/slot"
	"github.com/dreamware/keyslot/internal/topology"
)

var (
	// ErrInvalidSlot is returned for slot numbers outside [0, 16383].
	ErrInvalidSlot = errors.New("invalid slot")

	// ErrUnknownNode is returned when an assignment names a node the
	// registry has never seen.
	ErrUnknownNode = errors.New("unknown node")

	// ErrNotOwner is returned when a replica is named as a slot owner.
	ErrNotOwner = errors.New("node is not an owner")

	// ErrSlotUnassigned is returned when a lookup hits a slot with no owner.
	ErrSlotUnassigned = errors.New("slot is not assigned to any node")

	// ErrCrossSlot is returned when a multi-key request spans several slots.
	ErrCrossSlot = errors.New("keys in request don't hash to the same slot")

	// ErrInvalidNode is returned for nodes with an empty ID, an unknown role,
	// or a replica without an owner.
	ErrInvalidNode = errors.New("invalid node")

	// ErrDuplicateNode is returned when a node list names the same ID twice.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrNodeInUse is returned when an owner that still serves slots or has a
	// replica would be turned into a replica.
	ErrNodeInUse = errors.New("node still owns slots or has a replica")

	// ErrReplicaExists is returned when an owner already has a different replica.
	ErrReplicaExists = errors.New("owner already has a replica")
)

// SlotAssignment represents the ownership of a single hash slot.
//
// Assignments are values: the registry hands out copies, so callers may keep
// or modify them without affecting registry state.
type SlotAssignment struct {
	// NodeID identifies the owner serving this slot.
	NodeID string `json:"node_id"`

	// Slot is the hash slot number, in [0, 16383].
	Slot int `json:"slot"`
}

// RangeAssignment is a run of consecutive slots served by the same owner.
type RangeAssignment struct {
	NodeID string            `json:"node_id"`
	Slots  cluster.SlotRange `json:"slots"`
}

// SlotRegistry manages slot-to-owner assignments, serving as the authoritative
// answer to "which node serves this key" for a static cluster blueprint.
//
// The registry maps:
//   - Keys to slots with the CRC16 slot function (see internal/slot)
//   - Slots to owner nodes through a fixed 16384-entry table
//   - Owners to their replicas through the loaded topology
//
// Architecture:
//
//	┌──────────────────────────────────────────┐
//	│              SlotRegistry                │
//	├──────────────────────────────────────────┤
//	│  owners: [16384]nodeID                   │
//	│  nodes:  nodeID → cluster.Node           │
//	│  mu:     RWMutex for thread safety       │
//	├──────────────────────────────────────────┤
//	│  Key → CRC16 → Slot → Owner (→ Replica)  │
//	│  "user:123" → 0x325D → 12893 → "node-3"  │
//	└──────────────────────────────────────────┘
//
// Concurrency Model:
//   - Read operations use RLock for parallel access
//   - Write operations use Lock for exclusive access
//   - All returned data is copied to prevent races
//
// Performance Characteristics:
//   - GetSlotForKey: O(k) for key length k, lock-free
//   - GetAssignment, GetNodeForKey: O(1) table lookup
//   - GetAllAssignments, GetNodeSlots, Unassigned: O(16384) scan
//
// The registry never contacts nodes. It answers ownership questions from the
// blueprint it was loaded with plus any manual overrides.
type SlotRegistry struct {
	// nodes holds every node known from Load or AddNode.
	nodes map[string]cluster.Node

	// replicas maps an owner ID to the ID of its single replica.
	replicas map[string]string

	logger *zap.Logger

	// owners maps each slot to its owner's ID; "" marks an unassigned slot.
	owners [slot.NumSlots]string

	mu sync.RWMutex
}

// NewSlotRegistry creates an empty registry with every slot unassigned.
//
// Parameters:
//   - logger: Destination for assignment changes (nil disables logging)
//
// Example:
//
//	registry := NewSlotRegistry(logger)
//	if err := registry.Load(topo); err != nil {
//	    return err
//	}
func NewSlotRegistry(logger *zap.Logger) *SlotRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlotRegistry{
		nodes:    make(map[string]cluster.Node),
		replicas: make(map[string]string),
		logger:   logger,
	}
}

// Load replaces the registry contents with a topology blueprint.
//
// The topology is validated first; an invalid blueprint leaves the registry
// untouched. On success every owner range is assigned and every node, owners
// and replicas alike, becomes known to the registry.
//
// Parameters:
//   - t: The blueprint to load (must pass cluster.Topology.Validate)
//
// Returns:
//   - nil on success
//   - Error wrapping cluster.ErrInvalidTopology otherwise
//
// Thread Safety:
// Holds the write lock for the whole swap, so readers never observe a
// half-loaded table.
func (r *SlotRegistry) Load(t *cluster.Topology) error {
	if err := t.Validate(); err != nil {
		return err
	}

	nodes := make(map[string]cluster.Node, len(t.Nodes))
	replicas := make(map[string]string, t.OwnerCount)
	for _, n := range t.Nodes {
		nodes[n.ID] = n
		if n.Role == cluster.RoleReplica {
			replicas[n.ReplicaOf] = n.ID
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nodes = nodes
	r.replicas = replicas
	for i := range r.owners {
		r.owners[i] = ""
	}
	for _, o := range t.Owners() {
		for s := o.Slots.Start; s <= o.Slots.End; s++ {
			r.owners[s] = o.ID
		}
	}

	r.logger.Info("loaded topology",
		zap.Int("owners", t.OwnerCount),
		zap.Int("replicas", t.ReplicaCount))
	return nil
}

// AddNode makes a node known to the registry so that slots can be assigned
// to it, or so that it mirrors an owner. Re-adding an ID replaces the stored
// node.
//
// Rules:
//   - Owners must not name a ReplicaOf
//   - Replicas must mirror a known owner that has no other replica
//   - An owner that still serves slots or has a replica keeps its owner role
//
// Returns:
//   - nil on success
//   - ErrInvalidNode, ErrUnknownNode, ErrNotOwner, ErrReplicaExists or
//     ErrNodeInUse; the registry is unchanged in that case
func (r *SlotRegistry) AddNode(n cluster.Node) error {
	if n.ID == "" {
		return errors.Wrap(ErrInvalidNode, "node ID cannot be empty")
	}
	switch n.Role {
	case cluster.RoleOwner:
		if n.ReplicaOf != "" {
			return errors.Wrapf(ErrInvalidNode, "owner %s names replica_of %s", n.ID, n.ReplicaOf)
		}
	case cluster.RoleReplica:
		if n.ReplicaOf == "" || n.ReplicaOf == n.ID {
			return errors.Wrapf(ErrInvalidNode, "replica %s needs another node to mirror", n.ID)
		}
	default:
		return errors.Wrapf(ErrInvalidNode, "node %s has unknown role %q", n.ID, n.Role)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, known := r.nodes[n.ID]

	if n.Role == cluster.RoleReplica {
		if known && prev.IsOwner() {
			if _, mirrored := r.replicas[n.ID]; mirrored || r.ownsSlotsLocked(n.ID) {
				return errors.Wrapf(ErrNodeInUse, "%s", n.ID)
			}
		}
		owner, ok := r.nodes[n.ReplicaOf]
		if !ok {
			return errors.Wrapf(ErrUnknownNode, "%s mirrors %s", n.ID, n.ReplicaOf)
		}
		if !owner.IsOwner() {
			return errors.Wrapf(ErrNotOwner, "%s mirrors %s", n.ID, n.ReplicaOf)
		}
		if existing, ok := r.replicas[n.ReplicaOf]; ok && existing != n.ID {
			return errors.Wrapf(ErrReplicaExists, "%s is mirrored by %s", n.ReplicaOf, existing)
		}
	}

	if known && prev.Role == cluster.RoleReplica {
		delete(r.replicas, prev.ReplicaOf)
	}
	if n.Role == cluster.RoleReplica {
		r.replicas[n.ReplicaOf] = n.ID
	}
	r.nodes[n.ID] = n

	r.logger.Debug("added node", zap.String("node_id", n.ID), zap.String("role", string(n.Role)))
	return nil
}

func (r *SlotRegistry) ownsSlotsLocked(nodeID string) bool {
	for _, owner := range r.owners {
		if owner == nodeID {
			return true
		}
	}
	return false
}

// AssignSlot assigns a slot to an owner node, overwriting any previous owner.
//
// Use cases:
//   - Hand-editing a blueprint before provisioning
//   - Modelling the layout after a planned slot move
//
// Parameters:
//   - s: The slot to assign (must be in [0, 16383])
//   - nodeID: A known owner node
//
// Returns:
//   - nil on success
//   - ErrInvalidSlot, ErrUnknownNode or ErrNotOwner
//
// Example:
//
//	err := registry.AssignSlot(42, "node-2")
//	if err != nil {
//	    logger.Warn("failed to assign slot", zap.Error(err))
//	}
func (r *SlotRegistry) AssignSlot(s int, nodeID string) error {
	return r.AssignRange(cluster.SlotRange{Start: s, End: s}, nodeID)
}

// AssignRange assigns every slot of an inclusive range to an owner node.
// Either the whole range is assigned or nothing changes.
func (r *SlotRegistry) AssignRange(rng cluster.SlotRange, nodeID string) error {
	if !slot.Valid(rng.Start) || !slot.Valid(rng.End) || rng.End < rng.Start {
		return errors.Wrapf(ErrInvalidSlot, "range %s, must be within [0, %d]", rng, slot.MaxSlot)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkOwnerLocked(nodeID); err != nil {
		return err
	}

	for s := rng.Start; s <= rng.End; s++ {
		r.owners[s] = nodeID
	}

	r.logger.Debug("assigned slots", zap.Stringer("range", rng), zap.String("node_id", nodeID))
	return nil
}

func (r *SlotRegistry) checkOwnerLocked(nodeID string) error {
	if nodeID == "" {
		return errors.Wrap(ErrInvalidNode, "node ID cannot be empty")
	}
	n, ok := r.nodes[nodeID]
	if !ok {
		return errors.Wrapf(ErrUnknownNode, "%s", nodeID)
	}
	if !n.IsOwner() {
		return errors.Wrapf(ErrNotOwner, "%s is a %s", nodeID, n.Role)
	}
	return nil
}

// RemoveSlot leaves a slot without an owner. Lookups for keys in that slot
// fail with ErrSlotUnassigned until it is reassigned.
//
// Returns:
//   - nil on success (even if the slot wasn't assigned)
//   - ErrInvalidSlot if the slot number is out of range
func (r *SlotRegistry) RemoveSlot(s int) error {
	if !slot.Valid(s) {
		return errors.Wrapf(ErrInvalidSlot, "slot %d, must be in range [0, %d]", s, slot.MaxSlot)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.owners[s] = ""
	return nil
}

// GetAssignment returns the current assignment for a slot.
//
// Returns:
//   - Copy of SlotAssignment if the slot is assigned
//   - nil if the slot is unassigned or out of range
//
// Example:
//
//	if a := registry.GetAssignment(5); a != nil {
//	    fmt.Printf("Slot %d is on node %s\n", a.Slot, a.NodeID)
//	}
func (r *SlotRegistry) GetAssignment(s int) *SlotAssignment {
	if !slot.Valid(s) {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.owners[s] == "" {
		return nil
	}
	return &SlotAssignment{Slot: s, NodeID: r.owners[s]}
}

// GetAllAssignments returns the whole table as runs of consecutive slots with
// the same owner, in slot order. Unassigned slots are left out.
//
// A freshly loaded topology yields exactly one run per owner.
func (r *SlotRegistry) GetAllAssignments() []RangeAssignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RangeAssignment, 0)
	for s := 0; s < slot.NumSlots; s++ {
		owner := r.owners[s]
		if owner == "" {
			continue
		}
		if last := len(out) - 1; last >= 0 && out[last].NodeID == owner && out[last].Slots.End == s-1 {
			out[last].Slots.End = s
			continue
		}
		out = append(out, RangeAssignment{NodeID: owner, Slots: cluster.SlotRange{Start: s, End: s}})
	}
	return out
}

// GetSlotForKey returns the hash slot of a key. Pure computation; no lock.
func (r *SlotRegistry) GetSlotForKey(key string) int {
	return slot.KeySlot(key)
}

// GetNodeForKey finds the owner node serving a key.
//
// Routing process:
//   - Key → CRC16 → Slot → Owner ID → Node
//   - Example: "user:123" → 0x325D → 12893 → "node-3"
//
// Returns:
//   - The owner node for the key's slot
//   - ErrSlotUnassigned if no owner serves the slot
//
// Example:
//
//	node, err := registry.GetNodeForKey("user:123")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(node.Addr)
func (r *SlotRegistry) GetNodeForKey(key string) (cluster.Node, error) {
	s := slot.KeySlot(key)

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.ownerLocked(s)
}

func (r *SlotRegistry) ownerLocked(s int) (cluster.Node, error) {
	id := r.owners[s]
	if id == "" {
		return cluster.Node{}, errors.Wrapf(ErrSlotUnassigned, "slot %d", s)
	}
	return r.nodes[id], nil
}

// Location describes where a key lives: its slot, the owner serving it and
// the owner's replica when one is known.
type Location struct {
	Key     string        `json:"key" yaml:"key"`
	HashTag string        `json:"hash_tag,omitempty" yaml:"hash_tag,omitempty"`
	Slot    int           `json:"slot" yaml:"slot"`
	Owner   cluster.Node  `json:"owner" yaml:"owner"`
	Replica *cluster.Node `json:"replica,omitempty" yaml:"replica,omitempty"`
}

// Locate resolves a key to its slot, owner and replica.
//
// Returns:
//   - The key's Location
//   - ErrSlotUnassigned if no owner serves the key's slot
func (r *SlotRegistry) Locate(key string) (Location, error) {
	a := slot.AnalyzeKey(key)
	loc := Location{Key: key, HashTag: a.HashTag, Slot: a.Slot}

	owner, err := r.GetNodeForKey(key)
	if err != nil {
		return loc, err
	}
	loc.Owner = owner
	if replica, ok := r.GetReplica(owner.ID); ok {
		loc.Replica = &replica
	}
	return loc, nil
}

// CheckKeys verifies that a multi-key request can be served by a single node
// and returns that slot and owner.
//
// Returns:
//   - The common slot and its owner
//   - slot.ErrNoKeys for an empty request
//   - ErrCrossSlot when the keys span several slots
//   - ErrSlotUnassigned when the common slot has no owner
func (r *SlotRegistry) CheckKeys(keys []string) (int, cluster.Node, error) {
	analysis, err := slot.AnalyzeKeys(keys)
	if err != nil {
		return slot.NoSlot, cluster.Node{}, err
	}
	if !analysis.SameSlot {
		return slot.NoSlot, cluster.Node{}, errors.Wrapf(ErrCrossSlot, "%d keys", len(keys))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	owner, err := r.ownerLocked(analysis.Slot)
	if err != nil {
		return analysis.Slot, cluster.Node{}, err
	}
	return analysis.Slot, owner, nil
}

// GetReplica returns the replica mirroring an owner, if the loaded topology
// has one.
func (r *SlotRegistry) GetReplica(ownerID string) (cluster.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.replicas[ownerID]
	if !ok {
		return cluster.Node{}, false
	}
	return r.nodes[id], true
}

// GetNodeSlots returns the slot ranges currently owned by a node, in slot
// order. Empty if the node owns nothing or is unknown.
func (r *SlotRegistry) GetNodeSlots(nodeID string) []cluster.SlotRange {
	var ranges []cluster.SlotRange
	for _, a := range r.GetAllAssignments() {
		if a.NodeID == nodeID {
			ranges = append(ranges, a.Slots)
		}
	}
	return ranges
}

// Unassigned returns how many slots currently have no owner.
func (r *SlotRegistry) Unassigned() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, owner := range r.owners {
		if owner == "" {
			n++
		}
	}
	return n
}

// NumSlots returns the total number of slots, always 16384.
func (r *SlotRegistry) NumSlots() int {
	return slot.NumSlots
}

// Rebalance redistributes all slots across the given owners in contiguous,
// near-equal ranges, in the order the IDs are given.
//
// Rebalancing algorithm:
//   - Same split as the topology planner (sizes differ by at most one)
//   - Owner i receives the i-th range
//   - Previous assignments are overwritten
//
// Parameters:
//   - nodeIDs: Known owner IDs, no duplicates
//
// Returns:
//   - nil on success
//   - Error if the list is empty, has duplicates, or names a non-owner;
//     the table is unchanged in that case
func (r *SlotRegistry) Rebalance(nodeIDs []string) error {
	if len(nodeIDs) == 0 {
		return errors.Wrap(topology.ErrInvalidOwnerCount, "cannot rebalance with no nodes")
	}
	sorted := slices.Clone(nodeIDs)
	slices.Sort(sorted)
	if len(slices.Compact(sorted)) != len(nodeIDs) {
		return errors.Wrapf(ErrDuplicateNode, "%v", nodeIDs)
	}

	ranges, err := topology.SplitSlots(len(nodeIDs))
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range nodeIDs {
		if err := r.checkOwnerLocked(id); err != nil {
			return err
		}
	}

	for i, rng := range ranges {
		for s := rng.Start; s <= rng.End; s++ {
			r.owners[s] = nodeIDs[i]
		}
	}

	r.logger.Info("rebalanced slots", zap.Int("owners", len(nodeIDs)))
	return nil
}
