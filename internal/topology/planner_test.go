package topology

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/keyslot/internal/cluster"
	"github.com/dreamware/keyslot/internal/slot"
)

// assertTiles checks that sorted owner ranges cover every slot exactly once
func assertTiles(t *testing.T, topo *cluster.Topology) {
	t.Helper()

	owners := topo.Owners()
	require.NotEmpty(t, owners)
	assert.Equal(t, 0, owners[0].Slots.Start, "first range must start at 0")
	assert.Equal(t, slot.MaxSlot, owners[len(owners)-1].Slots.End, "last range must end at 16383")
	for i := 1; i < len(owners); i++ {
		assert.Equal(t, owners[i-1].Slots.End+1, owners[i].Slots.Start,
			"range %d must start right after range %d", i, i-1)
	}
}

// TestPlanSizing tests node counts and coverage for a spread of owner counts
func TestPlanSizing(t *testing.T) {
	counts := []int{1, 2, 3, 5, 7, 10, 100, 1000, 16383, 16384}

	for _, n := range counts {
		t.Run(fmt.Sprintf("%d owners", n), func(t *testing.T) {
			topo, err := NewPlanner(PlannerOptions{IDs: NewSequentialGenerator("n")}).Plan(n)
			require.NoError(t, err)

			assert.Equal(t, 2*n, topo.TotalNodes)
			assert.Len(t, topo.Nodes, 2*n)
			assert.Equal(t, n, topo.OwnerCount)
			assert.Equal(t, n, topo.ReplicaCount)
			assert.Equal(t, slot.NumSlots, topo.TotalSlots)

			assertTiles(t, topo)
			require.NoError(t, topo.Validate())
		})
	}
}

// TestPlanFiveOwners tests the near-equal split for five owners
func TestPlanFiveOwners(t *testing.T) {
	topo, err := Plan(5)
	require.NoError(t, err)

	assert.Equal(t, 10, topo.TotalNodes)
	assert.Len(t, topo.Owners(), 5)
	assert.Len(t, topo.Replicas(), 5)

	// 16384 = 5*3276 + 4: the first four owners take 3277 slots
	expected := []cluster.SlotRange{
		{Start: 0, End: 3276},
		{Start: 3277, End: 6553},
		{Start: 6554, End: 9830},
		{Start: 9831, End: 13107},
		{Start: 13108, End: 16383},
	}
	minLen, maxLen := slot.NumSlots, 0
	for i, o := range topo.Owners() {
		assert.Equal(t, expected[i], o.Slots)
		minLen = min(minLen, o.Slots.Len())
		maxLen = max(maxLen, o.Slots.Len())
	}
	assert.LessOrEqual(t, maxLen-minLen, 1)
}

// TestRecommended tests that the recommended layout equals Plan(3)
func TestRecommended(t *testing.T) {
	rec, err := Recommended()
	require.NoError(t, err)

	three, err := Plan(3)
	require.NoError(t, err)

	assert.Equal(t, 6, rec.TotalNodes)
	assert.Equal(t, 3, rec.OwnerCount)
	assert.Equal(t, 3, rec.ReplicaCount)
	assert.Equal(t, three.TotalSlots, rec.TotalSlots)

	for i := range rec.Nodes {
		assert.Equal(t, three.Nodes[i].Addr, rec.Nodes[i].Addr)
		assert.Equal(t, three.Nodes[i].Role, rec.Nodes[i].Role)
		assert.Equal(t, three.Nodes[i].Slots, rec.Nodes[i].Slots)
	}

	owners := rec.Owners()
	assert.Equal(t, cluster.SlotRange{Start: 0, End: 5461}, owners[0].Slots)
	assert.Equal(t, cluster.SlotRange{Start: 5462, End: 10922}, owners[1].Slots)
	assert.Equal(t, cluster.SlotRange{Start: 10923, End: 16383}, owners[2].Slots)
}

// TestPlanInvalidOwnerCount tests rejection of out-of-range owner counts
func TestPlanInvalidOwnerCount(t *testing.T) {
	for _, n := range []int{0, -1, -100, MaxOwners + 1} {
		t.Run(fmt.Sprintf("%d owners", n), func(t *testing.T) {
			topo, err := Plan(n)
			assert.ErrorIs(t, err, ErrInvalidOwnerCount)
			assert.Nil(t, topo)
		})
	}
}

// TestPlanReplicas tests replica pairing
func TestPlanReplicas(t *testing.T) {
	topo, err := NewPlanner(PlannerOptions{}).Plan(4)
	require.NoError(t, err)

	for _, owner := range topo.Owners() {
		assert.Equal(t, cluster.RoleOwner, owner.Role)
		assert.Empty(t, owner.ReplicaOf)

		replica, ok := topo.ReplicaOf(owner.ID)
		require.True(t, ok, "owner %s has no replica", owner.ID)
		assert.Equal(t, cluster.RoleReplica, replica.Role)
		assert.Equal(t, owner.Slots, replica.Slots)
		assert.NotEqual(t, owner.ID, replica.ID)
		assert.NotEqual(t, owner.Addr, replica.Addr)
	}
}

// TestPlanAddresses tests deterministic, disjoint port assignment
func TestPlanAddresses(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		topo, err := Plan(3)
		require.NoError(t, err)

		addrs := make([]string, len(topo.Nodes))
		for i, n := range topo.Nodes {
			addrs[i] = n.Addr
		}
		assert.Equal(t, []string{
			"127.0.0.1:7000", "127.0.0.1:7001", "127.0.0.1:7002",
			"127.0.0.1:7003", "127.0.0.1:7004", "127.0.0.1:7005",
		}, addrs)
	})

	t.Run("custom host and port", func(t *testing.T) {
		topo, err := NewPlanner(PlannerOptions{Host: "::1", BasePort: 30000}).Plan(2)
		require.NoError(t, err)

		assert.Equal(t, "[::1]:30000", topo.Nodes[0].Addr)
		assert.Equal(t, "[::1]:30001", topo.Nodes[1].Addr)
		assert.Equal(t, "[::1]:30002", topo.Nodes[2].Addr)
		assert.Equal(t, "[::1]:30003", topo.Nodes[3].Addr)
	})

	t.Run("ports past 65535 are rejected", func(t *testing.T) {
		topo, err := NewPlanner(PlannerOptions{BasePort: 65531}).Plan(3)
		assert.ErrorIs(t, err, ErrPortRange)
		assert.Nil(t, topo)

		_, err = NewPlanner(PlannerOptions{BasePort: -5}).Plan(1)
		assert.ErrorIs(t, err, ErrPortRange)
	})

	t.Run("last port exactly 65535", func(t *testing.T) {
		topo, err := NewPlanner(PlannerOptions{BasePort: 65532}).Plan(2)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:65535", topo.Nodes[3].Addr)
	})
}

// TestPlanUniqueIDs tests identifier uniqueness across the topology
func TestPlanUniqueIDs(t *testing.T) {
	generators := map[string]IDGenerator{
		"uuid":       UUIDGenerator{},
		"sequential": NewSequentialGenerator("node"),
	}

	for name, gen := range generators {
		t.Run(name, func(t *testing.T) {
			topo, err := NewPlanner(PlannerOptions{IDs: gen}).Plan(50)
			require.NoError(t, err)

			ids := make(map[string]bool)
			for _, n := range topo.Nodes {
				assert.False(t, ids[n.ID], "duplicate id %s", n.ID)
				ids[n.ID] = true
			}
			assert.Len(t, ids, 100)
		})
	}
}

type constantGenerator string

func (g constantGenerator) NextID() string { return string(g) }

// TestPlanDuplicateIDs tests that a colliding generator fails the whole plan
func TestPlanDuplicateIDs(t *testing.T) {
	topo, err := NewPlanner(PlannerOptions{IDs: constantGenerator("same")}).Plan(2)
	assert.ErrorIs(t, err, ErrDuplicateNodeID)
	assert.Nil(t, topo)

	_, err = NewPlanner(PlannerOptions{IDs: constantGenerator("")}).Plan(1)
	assert.ErrorIs(t, err, ErrDuplicateNodeID)
}

// TestSequentialGenerator tests sequential identifiers
func TestSequentialGenerator(t *testing.T) {
	gen := NewSequentialGenerator("")
	assert.Equal(t, "node-1", gen.NextID())
	assert.Equal(t, "node-2", gen.NextID())

	topo, err := NewPlanner(PlannerOptions{IDs: NewSequentialGenerator("m")}).Plan(2)
	require.NoError(t, err)
	assert.Equal(t, "m-1", topo.Nodes[0].ID)
	assert.Equal(t, "m-2", topo.Nodes[1].ID)
	assert.Equal(t, "m-3", topo.Nodes[2].ID)
	assert.Equal(t, "m-1", topo.Nodes[2].ReplicaOf)
}

// TestSplitSlots tests the distribution step on its own
func TestSplitSlots(t *testing.T) {
	ranges, err := SplitSlots(1)
	require.NoError(t, err)
	assert.Equal(t, []cluster.SlotRange{{Start: 0, End: 16383}}, ranges)

	ranges, err = SplitSlots(3)
	require.NoError(t, err)
	assert.Equal(t, 5462, ranges[0].Len())
	assert.Equal(t, 5461, ranges[1].Len())
	assert.Equal(t, 5461, ranges[2].Len())

	ranges, err = SplitSlots(16384)
	require.NoError(t, err)
	for i, r := range ranges {
		require.Equal(t, cluster.SlotRange{Start: i, End: i}, r)
	}

	_, err = SplitSlots(0)
	assert.ErrorIs(t, err, ErrInvalidOwnerCount)
}

// TestConcurrentPlan tests sharing one planner between goroutines
func TestConcurrentPlan(t *testing.T) {
	planner := NewPlanner(PlannerOptions{IDs: NewSequentialGenerator("c")})

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			topo, err := planner.Plan(n)
			if err == nil {
				err = topo.Validate()
			}
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
