package claims

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tylerbuilds/scrum-mcp/internal/clock"
	"github.com/tylerbuilds/scrum-mcp/internal/eventbus"
	"github.com/tylerbuilds/scrum-mcp/internal/kernelerr"
	"github.com/tylerbuilds/scrum-mcp/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *clock.Fake, *eventbus.Bus) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fake := clock.NewFake(1_700_000_000_000)
	bus := eventbus.New(fake)
	return New(st, fake, bus, nil, nil), fake, bus
}

func TestCreateGrantsClaim(t *testing.T) {
	engine, fake, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.Create(ctx, "agent-a", []string{"b.go", "a.go", "a.go"}, 300)
	require.NoError(t, err)
	require.Empty(t, result.ConflictsWith)
	require.Equal(t, []string{"a.go", "b.go"}, result.Claim.Files)
	require.Equal(t, fake.NowMillis()+300_000, result.Claim.ExpiresAt)

	active, err := engine.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "agent-a", active[0].AgentID)
	require.Equal(t, []string{"a.go", "b.go"}, active[0].Files)
}

func TestCreateConflictIsNoOp(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Create(ctx, "agent-a", []string{"shared.go"}, 300)
	require.NoError(t, err)

	result, err := engine.Create(ctx, "agent-b", []string{"shared.go", "other.go"}, 300)
	require.NoError(t, err)
	require.Equal(t, []string{"agent-a"}, result.ConflictsWith)

	// Nothing was written for agent-b, not even the non-overlapping file.
	files, err := engine.AgentFiles(ctx, "agent-b")
	require.NoError(t, err)
	require.Empty(t, files)

	active, err := engine.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestOwnClaimsNeverConflict(t *testing.T) {
	engine, fake, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Create(ctx, "agent-a", []string{"a.go"}, 300)
	require.NoError(t, err)

	// Re-claiming own files refreshes the lease instead of conflicting.
	fake.Advance(100 * time.Second)
	result, err := engine.Create(ctx, "agent-a", []string{"a.go", "b.go"}, 600)
	require.NoError(t, err)
	require.Empty(t, result.ConflictsWith)

	files, err := engine.AgentFiles(ctx, "agent-a")
	require.NoError(t, err)
	require.Equal(t, []string{"a.go", "b.go"}, files)
}

func TestTTLClamp(t *testing.T) {
	engine, fake, _ := newTestEngine(t)
	ctx := context.Background()

	low, err := engine.Create(ctx, "agent-a", []string{"a.go"}, 1)
	require.NoError(t, err)
	require.Equal(t, fake.NowMillis()+int64(MinTTLSeconds)*1000, low.Claim.ExpiresAt)

	high, err := engine.Create(ctx, "agent-b", []string{"b.go"}, 999_999)
	require.NoError(t, err)
	require.Equal(t, fake.NowMillis()+int64(MaxTTLSeconds)*1000, high.Claim.ExpiresAt)
}

func TestLazyExpiry(t *testing.T) {
	engine, fake, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Create(ctx, "agent-a", []string{"a.go"}, 60)
	require.NoError(t, err)

	// Advancing the clock alone changes nothing observable until the next
	// claim-touching operation prunes.
	fake.Advance(61 * time.Second)

	result, err := engine.Create(ctx, "agent-b", []string{"a.go"}, 60)
	require.NoError(t, err)
	require.Empty(t, result.ConflictsWith)

	active, err := engine.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "agent-b", active[0].AgentID)
}

func TestReleaseAllAndSubset(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Create(ctx, "agent-a", []string{"a.go", "b.go", "c.go"}, 300)
	require.NoError(t, err)

	n, err := engine.Release(ctx, "agent-a", []string{"b.go"})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	files, err := engine.AgentFiles(ctx, "agent-a")
	require.NoError(t, err)
	require.Equal(t, []string{"a.go", "c.go"}, files)

	n, err = engine.Release(ctx, "agent-a", nil)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	files, err = engine.AgentFiles(ctx, "agent-a")
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestExtendPushesExpiry(t *testing.T) {
	engine, fake, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.Create(ctx, "agent-a", []string{"a.go"}, 60)
	require.NoError(t, err)

	n, err := engine.Extend(ctx, "agent-a", 120, nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// The lease now outlives the original expiry.
	fake.Advance(90 * time.Second)
	require.Greater(t, fake.NowMillis(), created.Claim.ExpiresAt)

	files, err := engine.AgentFiles(ctx, "agent-a")
	require.NoError(t, err)
	require.Equal(t, []string{"a.go"}, files)
}

func TestExtendClampsAdditionalSeconds(t *testing.T) {
	engine, fake, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Create(ctx, "agent-a", []string{"a.go"}, 60)
	require.NoError(t, err)

	// 1 second clamps up to the 30s minimum: after 80s the claim is still
	// live (60 + 30 > 80).
	_, err = engine.Extend(ctx, "agent-a", 1, nil)
	require.NoError(t, err)

	fake.Advance(80 * time.Second)
	files, err := engine.AgentFiles(ctx, "agent-a")
	require.NoError(t, err)
	require.Equal(t, []string{"a.go"}, files)
}

func TestCreateValidation(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Create(ctx, "", []string{"a.go"}, 300)
	require.True(t, kernelerr.IsValidation(err))

	_, err = engine.Create(ctx, "agent-a", nil, 300)
	require.True(t, kernelerr.IsValidation(err))
}

func TestConflictPublishesEvent(t *testing.T) {
	engine, _, bus := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Create(ctx, "agent-a", []string{"a.go"}, 300)
	require.NoError(t, err)
	_, err = engine.Create(ctx, "agent-b", []string{"a.go"}, 300)
	require.NoError(t, err)

	events := bus.Recent(0)
	require.Len(t, events, 2)
	require.Equal(t, eventbus.TypeClaimCreated, events[0].Type)
	require.Equal(t, eventbus.TypeClaimConflict, events[1].Type)
}

// TestInterleavedOpsKeepSingleHolder hammers the engine with a randomized but
// reproducible mix of creates, releases, extends, and clock jumps, checking
// after every step that no file path ever has more than one live holder.
func TestInterleavedOpsKeepSingleHolder(t *testing.T) {
	engine, fake, _ := newTestEngine(t)
	ctx := context.Background()

	agents := []string{"agent-a", "agent-b", "agent-c", "agent-d"}
	paths := []string{"a.go", "b.go", "c.go", "d.go", "e.go"}
	rng := rand.New(rand.NewSource(1))

	somePaths := func() []string {
		n := 1 + rng.Intn(3)
		out := make([]string, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, paths[rng.Intn(len(paths))])
		}
		return out
	}

	for step := 0; step < 400; step++ {
		agent := agents[rng.Intn(len(agents))]
		switch rng.Intn(5) {
		case 0, 1:
			_, err := engine.Create(ctx, agent, somePaths(), 5+rng.Intn(120))
			require.NoError(t, err)
		case 2:
			_, err := engine.Release(ctx, agent, nil)
			require.NoError(t, err)
		case 3:
			_, err := engine.Extend(ctx, agent, 30+rng.Intn(300), nil)
			require.NoError(t, err)
		case 4:
			fake.Advance(time.Duration(rng.Intn(45)) * time.Second)
		}

		active, err := engine.ListActive(ctx)
		require.NoError(t, err)
		holders := make(map[string][]string)
		for _, claim := range active {
			for _, f := range claim.Files {
				holders[f] = append(holders[f], claim.AgentID)
			}
		}
		for path, who := range holders {
			require.Lenf(t, who, 1, "step %d: %s live-held by %v", step, path, who)
		}
	}
}
