package coordinator

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tylerbuilds/scrum-mcp/internal/clock"
	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/eventbus"
	"github.com/tylerbuilds/scrum-mcp/internal/gates"
	"github.com/tylerbuilds/scrum-mcp/internal/kernelerr"
	"github.com/tylerbuilds/scrum-mcp/internal/store"
	"github.com/tylerbuilds/scrum-mcp/internal/taskgraph"
)

func newTestCoordinator(t *testing.T, opts ...Option) (*Coordinator, *clock.Fake) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fake := clock.NewFake(1_700_000_000_000)
	bus := eventbus.New(fake)
	return New(st, fake, bus, opts...), fake
}

func statusPtr(s domain.Status) *domain.Status { return &s }

// TestProtocolRoundTrip walks the full agent protocol: task, intent, claim,
// work, evidence, release, compliance, completion.
func TestProtocolRoundTrip(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	task, err := coord.CreateTask(ctx, taskgraph.CreateTaskInput{Title: "Add retry logic"})
	require.NoError(t, err)

	_, err = coord.PostIntent(ctx, PostIntentInput{
		TaskID:             task.ID,
		AgentID:            "agent-a",
		Files:              []string{"pkg/retry.go"},
		AcceptanceCriteria: "retries three times with backoff",
	})
	require.NoError(t, err)

	claim, err := coord.CreateClaim(ctx, "agent-a", []string{"pkg/retry.go"}, 300)
	require.NoError(t, err)
	require.Empty(t, claim.ConflictsWith)

	_, err = coord.UpdateTask(ctx, task.ID,
		taskgraph.TaskUpdates{Status: statusPtr(domain.StatusInProgress)},
		taskgraph.DefaultUpdateOptions())
	require.NoError(t, err)

	_, err = coord.LogChange(ctx, LogChangeInput{
		TaskID:     task.ID,
		Author:     domain.Agent("agent-a"),
		FilePath:   "pkg/retry.go",
		ChangeType: domain.ChangeFileModify,
		Summary:    "add retry helper",
	})
	require.NoError(t, err)

	_, err = coord.AttachEvidence(ctx, AttachEvidenceInput{
		TaskID:  task.ID,
		AgentID: "agent-a",
		Command: "go test ./pkg/...",
		Output:  "ok",
	})
	require.NoError(t, err)

	released, err := coord.ReleaseClaims(ctx, "agent-a", nil)
	require.NoError(t, err)
	require.Equal(t, 1, released)

	report, err := coord.Compliance(ctx, task.ID, "agent-a")
	require.NoError(t, err)
	require.True(t, report.CanComplete)
	require.Equal(t, 1.0, report.Score)

	result, err := coord.UpdateTask(ctx, task.ID,
		taskgraph.TaskUpdates{Status: statusPtr(domain.StatusDone)},
		taskgraph.DefaultUpdateOptions())
	require.NoError(t, err)
	require.Equal(t, domain.StatusDone, result.Task.Status)
	require.NotZero(t, result.Task.CompletedAt)
}

func TestEvidenceOutputClipped(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	task, err := coord.CreateTask(ctx, taskgraph.CreateTaskInput{Title: "Noisy tests"})
	require.NoError(t, err)

	long := strings.Repeat("y", domain.MaxStoredOutputLen+1000)
	ev, err := coord.AttachEvidence(ctx, AttachEvidenceInput{
		TaskID: task.ID, AgentID: "agent-a", Command: "npm test", Output: long,
	})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(ev.Output, domain.ClipSuffix))
	require.Len(t, ev.Output, domain.MaxStoredOutputLen+len(domain.ClipSuffix))

	// Over the submission cap, the request is rejected outright.
	tooLong := strings.Repeat("y", domain.MaxSubmittedOutputLen+1)
	_, err = coord.AttachEvidence(ctx, AttachEvidenceInput{
		TaskID: task.ID, AgentID: "agent-a", Command: "npm test", Output: tooLong,
	})
	require.True(t, kernelerr.IsValidation(err))
}

func TestStrictModeBlocksOnRequiredGate(t *testing.T) {
	coord, _ := newTestCoordinator(t, WithStrictMode(true))
	ctx := context.Background()

	task, err := coord.CreateTask(ctx, taskgraph.CreateTaskInput{Title: "Gated", Status: domain.StatusInProgress})
	require.NoError(t, err)

	gate, err := coord.DefineGate(ctx, gates.DefineInput{
		TaskID:        task.ID,
		GateType:      domain.GateTest,
		Command:       "go test ./...",
		TriggerStatus: domain.StatusReview,
		Required:      true,
	})
	require.NoError(t, err)

	_, err = coord.UpdateTask(ctx, task.ID,
		taskgraph.TaskUpdates{Status: statusPtr(domain.StatusReview)},
		taskgraph.DefaultUpdateOptions())
	require.Equal(t, kernelerr.KindConflict, kernelerr.KindOf(err))

	_, err = coord.RecordGateRun(ctx, gates.RecordRunInput{
		GateID: gate.ID, AgentID: "agent-a", Passed: true, Output: "ok",
	})
	require.NoError(t, err)

	result, err := coord.UpdateTask(ctx, task.ID,
		taskgraph.TaskUpdates{Status: statusPtr(domain.StatusReview)},
		taskgraph.DefaultUpdateOptions())
	require.NoError(t, err)
	require.Equal(t, domain.StatusReview, result.Task.Status)
}

func TestLenientModeWarnsOnRequiredGate(t *testing.T) {
	coord, _ := newTestCoordinator(t, WithStrictMode(false))
	ctx := context.Background()

	task, err := coord.CreateTask(ctx, taskgraph.CreateTaskInput{Title: "Gated", Status: domain.StatusInProgress})
	require.NoError(t, err)
	_, err = coord.DefineGate(ctx, gates.DefineInput{
		TaskID:        task.ID,
		GateType:      domain.GateTest,
		Command:       "go test ./...",
		TriggerStatus: domain.StatusReview,
		Required:      true,
	})
	require.NoError(t, err)

	result, err := coord.UpdateTask(ctx, task.ID,
		taskgraph.TaskUpdates{Status: statusPtr(domain.StatusReview)},
		taskgraph.DefaultUpdateOptions())
	require.NoError(t, err)
	require.NotEmpty(t, result.Warnings)
}

func TestBlockerLifecycle(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	task, err := coord.CreateTask(ctx, taskgraph.CreateTaskInput{Title: "Blocked work"})
	require.NoError(t, err)

	blocker, err := coord.AddBlocker(ctx, task.ID, "agent-a", "waiting on schema review")
	require.NoError(t, err)
	require.False(t, blocker.Resolved)

	resolved, err := coord.ResolveBlocker(ctx, blocker.ID)
	require.NoError(t, err)
	require.True(t, resolved.Resolved)
	require.NotZero(t, resolved.ResolvedAt)

	_, err = coord.ResolveBlocker(ctx, blocker.ID)
	require.Equal(t, kernelerr.KindConflict, kernelerr.KindOf(err))
}

func TestAgentRegistrationAndHeartbeat(t *testing.T) {
	coord, fake := newTestCoordinator(t)
	ctx := context.Background()

	agent, err := coord.RegisterAgent(ctx, "agent-a", "Refactorer", []string{"go"})
	require.NoError(t, err)
	require.Equal(t, fake.NowMillis(), agent.LastSeenAt)

	fake.Set(fake.NowMillis() + 5_000)
	require.NoError(t, coord.Heartbeat(ctx, "agent-a"))

	agents, err := coord.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	require.Equal(t, fake.NowMillis(), agents[0].LastSeenAt)

	require.True(t, kernelerr.IsNotFound(coord.Heartbeat(ctx, "agent-ghost")))
}

func TestStatusSnapshot(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.CreateTask(ctx, taskgraph.CreateTaskInput{Title: "one"})
	require.NoError(t, err)
	_, err = coord.CreateTask(ctx, taskgraph.CreateTaskInput{Title: "two", Status: domain.StatusInProgress})
	require.NoError(t, err)
	_, err = coord.CreateClaim(ctx, "agent-a", []string{"a.go"}, 300)
	require.NoError(t, err)
	_, err = coord.RegisterAgent(ctx, "agent-a", "", nil)
	require.NoError(t, err)

	snap, err := coord.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, snap.TotalTasks)
	require.Equal(t, 1, snap.Tasks[domain.StatusBacklog])
	require.Equal(t, 1, snap.Tasks[domain.StatusInProgress])
	require.Equal(t, 1, snap.ActiveClaims)
	require.Equal(t, 1, snap.Agents)
}

func TestFeedReflectsOperations(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	task, err := coord.CreateTask(ctx, taskgraph.CreateTaskInput{Title: "feed me"})
	require.NoError(t, err)
	_, err = coord.AddComment(ctx, task.ID, "agent-a", "looks good")
	require.NoError(t, err)

	feed := coord.Feed(0)
	require.Len(t, feed, 2)
	require.Equal(t, eventbus.TypeTaskCreated, feed[0].Type)
	require.Equal(t, eventbus.TypeCommentAdded, feed[1].Type)
}

func TestCreateClaimRejectsOutOfRangeTTL(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	for _, ttl := range []int{0, -60, domain.MaxTTLSeconds + 1} {
		_, err := coord.CreateClaim(ctx, "agent-a", []string{"a.go"}, ttl)
		require.Truef(t, kernelerr.IsValidation(err), "ttl=%d", ttl)
	}

	// In range, even below the engine's clamp floor, is accepted.
	claim, err := coord.CreateClaim(ctx, "agent-a", []string{"a.go"}, 1)
	require.NoError(t, err)
	require.Empty(t, claim.ConflictsWith)
}

func TestProtocolInputsRejectMalformedTaskID(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.PostIntent(ctx, PostIntentInput{
		TaskID: "abc", AgentID: "agent-a", Files: []string{"a.go"},
	})
	require.True(t, kernelerr.IsValidation(err))

	_, err = coord.AttachEvidence(ctx, AttachEvidenceInput{
		TaskID: "abc", AgentID: "agent-a", Command: "go test", Output: "ok",
	})
	require.True(t, kernelerr.IsValidation(err))
}

func TestGateStatusScopedToTrigger(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	task, err := coord.CreateTask(ctx, taskgraph.CreateTaskInput{Title: "Gated"})
	require.NoError(t, err)
	gate, err := coord.DefineGate(ctx, gates.DefineInput{
		TaskID: task.ID, GateType: domain.GateLint, Command: "eslint .",
		TriggerStatus: domain.StatusReview, Required: false,
	})
	require.NoError(t, err)
	_, err = coord.RecordGateRun(ctx, gates.RecordRunInput{
		GateID: gate.ID, AgentID: "agent-a", Passed: false, Output: "2 warnings",
	})
	require.NoError(t, err)

	// A failing optional gate is visible but never blocking.
	status, err := coord.GateStatus(ctx, task.ID, domain.StatusReview)
	require.NoError(t, err)
	require.Len(t, status.Gates, 1)
	require.True(t, status.AllPassed)
	require.Empty(t, status.BlockedBy)

	// Other trigger statuses see no gates at all.
	status, err = coord.GateStatus(ctx, task.ID, domain.StatusDone)
	require.NoError(t, err)
	require.Empty(t, status.Gates)
	require.True(t, status.AllPassed)
}

func TestLogChangeRejectsUnknownTaskAndType(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.LogChange(ctx, LogChangeInput{
		TaskID: "task-nope", Author: domain.Kernel(),
		FilePath: "x.go", ChangeType: domain.ChangeFileModify,
	})
	require.True(t, kernelerr.IsNotFound(err))

	_, err = coord.LogChange(ctx, LogChangeInput{
		Author: domain.Kernel(), FilePath: "x.go", ChangeType: "weird",
	})
	require.True(t, kernelerr.IsValidation(err))
}
