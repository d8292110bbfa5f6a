package cluster

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/dreamware/keyslot/internal/slot"
)

// ErrInvalidTopology is wrapped by every Validate failure.
var ErrInvalidTopology = errors.New("invalid topology")

// ErrSlotOutOfRange is returned for slot numbers outside [0, 16383].
var ErrSlotOutOfRange = errors.New("slot out of range")

// ErrSlotNotCovered is returned by OwnerForSlot when no owner serves the slot.
var ErrSlotNotCovered = errors.New("slot not covered by any owner")

// Role is the part a node plays for its slot range.
type Role string

const (
	// RoleOwner serves reads and writes for its slot range.
	RoleOwner Role = "owner"
	// RoleReplica mirrors the slot range of one owner.
	RoleReplica Role = "replica"
)

// SlotRange is an inclusive range of hash slots.
type SlotRange struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// Len returns the number of slots in the range.
func (r SlotRange) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Contains reports whether s falls inside the range.
func (r SlotRange) Contains(s int) bool {
	return s >= r.Start && s <= r.End
}

func (r SlotRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Node is one member of a planned cluster. ReplicaOf names the owner a replica
// mirrors; it is a lookup key only and empty for owners.
type Node struct {
	ID        string    `json:"id" yaml:"id"`
	Addr      string    `json:"addr" yaml:"addr"`
	Role      Role      `json:"role" yaml:"role"`
	ReplicaOf string    `json:"replica_of,omitempty" yaml:"replica_of,omitempty"`
	Slots     SlotRange `json:"slots" yaml:"slots"`
}

// IsOwner reports whether the node owns its slot range.
func (n Node) IsOwner() bool {
	return n.Role == RoleOwner
}

// Topology is a complete slot-to-node layout. Nodes lists every owner in
// ascending slot order followed by the replicas in the same order.
type Topology struct {
	Nodes        []Node `json:"nodes" yaml:"nodes"`
	TotalNodes   int    `json:"total_nodes" yaml:"total_nodes"`
	OwnerCount   int    `json:"owner_count" yaml:"owner_count"`
	ReplicaCount int    `json:"replica_count" yaml:"replica_count"`
	TotalSlots   int    `json:"total_slots" yaml:"total_slots"`
}

// Owners returns the owner nodes sorted by slot range start.
func (t *Topology) Owners() []Node {
	owners := t.filter(RoleOwner)
	sort.Slice(owners, func(i, j int) bool {
		return owners[i].Slots.Start < owners[j].Slots.Start
	})
	return owners
}

// Replicas returns the replica nodes in topology order.
func (t *Topology) Replicas() []Node {
	return t.filter(RoleReplica)
}

func (t *Topology) filter(role Role) []Node {
	var out []Node
	for _, n := range t.Nodes {
		if n.Role == role {
			out = append(out, n)
		}
	}
	return out
}

// Node looks up a node by ID.
func (t *Topology) Node(id string) (Node, bool) {
	idx := slices.IndexFunc(t.Nodes, func(n Node) bool { return n.ID == id })
	if idx < 0 {
		return Node{}, false
	}
	return t.Nodes[idx], true
}

// ReplicaOf returns the replica mirroring the given owner.
func (t *Topology) ReplicaOf(ownerID string) (Node, bool) {
	idx := slices.IndexFunc(t.Nodes, func(n Node) bool {
		return n.Role == RoleReplica && n.ReplicaOf == ownerID
	})
	if idx < 0 {
		return Node{}, false
	}
	return t.Nodes[idx], true
}

// OwnerForSlot returns the owner whose range contains s.
func (t *Topology) OwnerForSlot(s int) (Node, error) {
	if !slot.Valid(s) {
		return Node{}, errors.Wrapf(ErrSlotOutOfRange, "slot %d not in [0, %d]", s, slot.MaxSlot)
	}
	owners := t.Owners()
	idx := sort.Search(len(owners), func(i int) bool {
		return owners[i].Slots.End >= s
	})
	if idx == len(owners) || !owners[idx].Slots.Contains(s) {
		return Node{}, errors.Wrapf(ErrSlotNotCovered, "slot %d", s)
	}
	return owners[idx], nil
}

// Validate checks that the topology is a complete blueprint: the counters
// agree with the node list, owner ranges tile every slot exactly once, each
// owner has exactly one replica with the same range, and node IDs and
// addresses are unique.
func (t *Topology) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.Wrapf(ErrInvalidTopology, format, args...)
	}

	if t.TotalSlots != slot.NumSlots {
		return invalid("total slots is %d, want %d", t.TotalSlots, slot.NumSlots)
	}
	if t.TotalNodes != len(t.Nodes) {
		return invalid("total nodes is %d but %d nodes are listed", t.TotalNodes, len(t.Nodes))
	}

	ids := make(map[string]struct{}, len(t.Nodes))
	addrs := make(map[string]struct{}, len(t.Nodes))
	for _, n := range t.Nodes {
		if n.ID == "" {
			return invalid("node with address %q has no id", n.Addr)
		}
		if n.Addr == "" {
			return invalid("node %s has no address", n.ID)
		}
		if _, dup := ids[n.ID]; dup {
			return invalid("duplicate node id %s", n.ID)
		}
		if _, dup := addrs[n.Addr]; dup {
			return invalid("duplicate node address %s", n.Addr)
		}
		ids[n.ID] = struct{}{}
		addrs[n.Addr] = struct{}{}

		if n.Role != RoleOwner && n.Role != RoleReplica {
			return invalid("node %s has unknown role %q", n.ID, n.Role)
		}
	}

	owners := t.Owners()
	replicas := t.Replicas()
	if len(owners) == 0 {
		return invalid("no owners")
	}
	if t.OwnerCount != len(owners) {
		return invalid("owner count is %d but %d owners are listed", t.OwnerCount, len(owners))
	}
	if t.ReplicaCount != len(replicas) {
		return invalid("replica count is %d but %d replicas are listed", t.ReplicaCount, len(replicas))
	}

	next := 0
	for _, o := range owners {
		if o.ReplicaOf != "" {
			return invalid("owner %s references owner %s", o.ID, o.ReplicaOf)
		}
		if o.Slots.Start > next {
			return invalid("slots %d-%d are not covered", next, o.Slots.Start-1)
		}
		if o.Slots.Start < next {
			return invalid("owner %s range %s overlaps slot %d", o.ID, o.Slots, o.Slots.Start)
		}
		if o.Slots.Len() == 0 {
			return invalid("owner %s has empty range %s", o.ID, o.Slots)
		}
		next = o.Slots.End + 1
	}
	if next != slot.NumSlots {
		return invalid("slots %d-%d are not covered", next, slot.MaxSlot)
	}

	byID := make(map[string]Node, len(owners))
	for _, o := range owners {
		byID[o.ID] = o
	}
	mirrored := make(map[string]int, len(owners))
	for _, r := range replicas {
		owner, ok := byID[r.ReplicaOf]
		if !ok {
			return invalid("replica %s references unknown owner %q", r.ID, r.ReplicaOf)
		}
		if r.Slots != owner.Slots {
			return invalid("replica %s range %s differs from owner %s range %s", r.ID, r.Slots, owner.ID, owner.Slots)
		}
		mirrored[owner.ID]++
	}
	for _, o := range owners {
		if mirrored[o.ID] != 1 {
			return invalid("owner %s has %d replicas, want 1", o.ID, mirrored[o.ID])
		}
	}

	return nil
}
