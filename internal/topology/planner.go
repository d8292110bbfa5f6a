package topology

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dreamware/keyslot/internal/cluster"
	"github.com/dreamware/keyslot/internal/slot"
)

const (
	// RecommendedOwners is the smallest owner count that still leaves a
	// majority when one owner fails.
	RecommendedOwners = 3

	// MaxOwners is the largest owner count for which every owner gets a slot.
	MaxOwners = slot.NumSlots

	// DefaultHost is the address nodes are placed on when none is given.
	DefaultHost = "127.0.0.1"
	// DefaultBasePort is the port of the first owner when none is given.
	DefaultBasePort = 7000

	maxPort = 65535
)

var (
	// ErrInvalidOwnerCount is returned for owner counts outside [1, MaxOwners].
	ErrInvalidOwnerCount = errors.New("invalid owner count")
	// ErrPortRange is returned when the last replica's port would pass 65535.
	ErrPortRange = errors.New("node ports exceed the valid port range")
	// ErrDuplicateNodeID is returned when the ID generator repeats itself.
	ErrDuplicateNodeID = errors.New("duplicate node id")
)

// PlannerOptions configures a Planner. The zero value is usable.
type PlannerOptions struct {
	// Host is the address every node is placed on. Defaults to DefaultHost.
	Host string

	// BasePort is the port of the first owner. Owners take BasePort..BasePort+n-1
	// and replicas BasePort+n..BasePort+2n-1. Defaults to DefaultBasePort.
	BasePort int

	// IDs issues node identifiers. Defaults to UUIDGenerator.
	IDs IDGenerator

	Logger *zap.Logger
}

// Planner lays out slot ranges, owners and replicas for a new cluster.
type Planner struct {
	host     string
	basePort int
	ids      IDGenerator
	logger   *zap.Logger
}

// NewPlanner returns a Planner with defaults filled in for unset options.
func NewPlanner(opts PlannerOptions) *Planner {
	p := &Planner{
		host:     opts.Host,
		basePort: opts.BasePort,
		ids:      opts.IDs,
		logger:   opts.Logger,
	}
	if p.host == "" {
		p.host = DefaultHost
	}
	if p.basePort == 0 {
		p.basePort = DefaultBasePort
	}
	if p.ids == nil {
		p.ids = UUIDGenerator{}
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

var defaultPlanner = NewPlanner(PlannerOptions{})

// Plan lays out ownerCount owners with the default planner.
func Plan(ownerCount int) (*cluster.Topology, error) {
	return defaultPlanner.Plan(ownerCount)
}

// Recommended is Plan(RecommendedOwners) with the default planner.
func Recommended() (*cluster.Topology, error) {
	return defaultPlanner.Recommended()
}

// Recommended is equivalent to Plan(RecommendedOwners).
func (p *Planner) Recommended() (*cluster.Topology, error) {
	return p.Plan(RecommendedOwners)
}

// Plan builds a topology of ownerCount owners, each mirrored by one replica.
// Owner ranges are contiguous from slot 0 and differ in size by at most one
// slot; the first 16384 % ownerCount owners carry the extra slot.
//
// Nodes are returned owners first, in slot order, then replicas in the same
// order. Either a complete topology or an error is returned.
func (p *Planner) Plan(ownerCount int) (*cluster.Topology, error) {
	ranges, err := SplitSlots(ownerCount)
	if err != nil {
		return nil, err
	}

	if p.basePort < 1 || p.basePort+2*ownerCount-1 > maxPort {
		return nil, errors.Wrapf(ErrPortRange, "base port %d with %d nodes", p.basePort, 2*ownerCount)
	}

	seen := make(map[string]struct{}, 2*ownerCount)
	nextID := func() (string, error) {
		id := p.ids.NextID()
		if _, dup := seen[id]; dup || id == "" {
			return "", errors.Wrapf(ErrDuplicateNodeID, "generator returned %q", id)
		}
		seen[id] = struct{}{}
		return id, nil
	}

	nodes := make([]cluster.Node, 0, 2*ownerCount)
	for i, r := range ranges {
		id, err := nextID()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, cluster.Node{
			ID:    id,
			Addr:  p.addr(i),
			Role:  cluster.RoleOwner,
			Slots: r,
		})
	}
	for i := 0; i < ownerCount; i++ {
		id, err := nextID()
		if err != nil {
			return nil, err
		}
		owner := nodes[i]
		nodes = append(nodes, cluster.Node{
			ID:        id,
			Addr:      p.addr(ownerCount + i),
			Role:      cluster.RoleReplica,
			ReplicaOf: owner.ID,
			Slots:     owner.Slots,
		})
	}

	p.logger.Debug("planned topology",
		zap.Int("owners", ownerCount),
		zap.Int("nodes", len(nodes)),
		zap.String("first_range", ranges[0].String()),
		zap.String("last_range", ranges[len(ranges)-1].String()))

	return &cluster.Topology{
		Nodes:        nodes,
		TotalNodes:   len(nodes),
		OwnerCount:   ownerCount,
		ReplicaCount: ownerCount,
		TotalSlots:   slot.NumSlots,
	}, nil
}

func (p *Planner) addr(index int) string {
	return net.JoinHostPort(p.host, strconv.Itoa(p.basePort+index))
}

// SplitSlots divides all slots into n contiguous ranges whose sizes differ by
// at most one.
func SplitSlots(n int) ([]cluster.SlotRange, error) {
	if n < 1 || n > MaxOwners {
		return nil, errors.Wrapf(ErrInvalidOwnerCount, "%d not in [1, %d]", n, MaxOwners)
	}

	base := slot.NumSlots / n
	extra := slot.NumSlots % n

	ranges := make([]cluster.SlotRange, n)
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		ranges[i] = cluster.SlotRange{Start: start, End: start + size - 1}
		start += size
	}
	return ranges, nil
}
