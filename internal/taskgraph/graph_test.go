package taskgraph

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tylerbuilds/scrum-mcp/internal/clock"
	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/eventbus"
	"github.com/tylerbuilds/scrum-mcp/internal/kernelerr"
	"github.com/tylerbuilds/scrum-mcp/internal/store"
)

func newTestGraph(t *testing.T) (*Graph, *store.Store, *clock.Fake, *eventbus.Bus) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fake := clock.NewFake(1_700_000_000_000)
	bus := eventbus.New(fake)
	return New(st, fake, bus, nil, nil), st, fake, bus
}

func mustCreate(t *testing.T, g *Graph, in CreateTaskInput) *domain.Task {
	t.Helper()
	task, err := g.CreateTask(context.Background(), in)
	require.NoError(t, err)
	return task
}

func statusPtr(s domain.Status) *domain.Status { return &s }

func TestCreateTaskDefaults(t *testing.T) {
	g, _, fake, bus := newTestGraph(t)

	task := mustCreate(t, g, CreateTaskInput{Title: "Implement parser"})
	require.Equal(t, domain.StatusBacklog, task.Status)
	require.Equal(t, domain.PriorityMedium, task.Priority)
	require.NotNil(t, task.Labels)
	require.Empty(t, task.Labels)
	require.Equal(t, fake.NowMillis(), task.CreatedAt)
	require.Zero(t, task.StartedAt)
	require.Zero(t, task.CompletedAt)

	events := bus.Recent(0)
	require.Len(t, events, 1)
	require.Equal(t, eventbus.TypeTaskCreated, events[0].Type)
}

func TestCreateTaskInProgressStampsStartedAt(t *testing.T) {
	g, _, fake, _ := newTestGraph(t)

	task := mustCreate(t, g, CreateTaskInput{Title: "Hotfix", Status: domain.StatusInProgress})
	require.Equal(t, fake.NowMillis(), task.StartedAt)
	require.Zero(t, task.CompletedAt)
}

func TestCreateTaskValidation(t *testing.T) {
	g, _, _, _ := newTestGraph(t)
	ctx := context.Background()

	_, err := g.CreateTask(ctx, CreateTaskInput{Title: ""})
	require.True(t, kernelerr.IsValidation(err))

	_, err = g.CreateTask(ctx, CreateTaskInput{Title: "x", Status: "wat"})
	require.True(t, kernelerr.IsValidation(err))

	_, err = g.CreateTask(ctx, CreateTaskInput{Title: "x", StoryPoints: 99})
	require.True(t, kernelerr.IsValidation(err))
}

func TestUpdateTaskTimestampsFirstEntryOnly(t *testing.T) {
	g, _, fake, _ := newTestGraph(t)
	ctx := context.Background()

	task := mustCreate(t, g, CreateTaskInput{Title: "Work"})

	fake.Advance(time.Minute)
	result, err := g.UpdateTask(ctx, task.ID, TaskUpdates{Status: statusPtr(domain.StatusInProgress)}, DefaultUpdateOptions())
	require.NoError(t, err)
	startedAt := result.Task.StartedAt
	require.Equal(t, fake.NowMillis(), startedAt)

	// Bouncing out and back in must not rewrite startedAt.
	fake.Advance(time.Minute)
	_, err = g.UpdateTask(ctx, task.ID, TaskUpdates{Status: statusPtr(domain.StatusTodo)}, DefaultUpdateOptions())
	require.NoError(t, err)
	fake.Advance(time.Minute)
	result, err = g.UpdateTask(ctx, task.ID, TaskUpdates{Status: statusPtr(domain.StatusInProgress)}, DefaultUpdateOptions())
	require.NoError(t, err)
	require.Equal(t, startedAt, result.Task.StartedAt)

	fake.Advance(time.Minute)
	result, err = g.UpdateTask(ctx, task.ID, TaskUpdates{Status: statusPtr(domain.StatusDone)}, DefaultUpdateOptions())
	require.NoError(t, err)
	require.Equal(t, fake.NowMillis(), result.Task.CompletedAt)
}

func TestUpdateTaskNotFound(t *testing.T) {
	g, _, _, _ := newTestGraph(t)
	_, err := g.UpdateTask(context.Background(), "task-missing", TaskUpdates{}, DefaultUpdateOptions())
	require.True(t, kernelerr.IsNotFound(err))
}

func TestUpdateTaskWritesChangelog(t *testing.T) {
	g, st, _, _ := newTestGraph(t)
	ctx := context.Background()

	task := mustCreate(t, g, CreateTaskInput{Title: "Audit me"})
	agent := "agent-a"
	prio := domain.PriorityCritical
	_, err := g.UpdateTask(ctx, task.ID, TaskUpdates{
		Status:        statusPtr(domain.StatusInProgress),
		AssignedAgent: &agent,
		Priority:      &prio,
	}, DefaultUpdateOptions())
	require.NoError(t, err)

	entries, err := st.ListChangelog(ctx, store.ChangelogFilter{TaskID: task.ID})
	require.NoError(t, err)

	types := map[domain.ChangeType]bool{}
	for _, e := range entries {
		types[e.ChangeType] = true
		require.Equal(t, domain.SystemAgentID, e.AgentID)
		require.Equal(t, domain.TaskFilePath(task.ID), e.FilePath)
	}
	require.True(t, types[domain.ChangeTaskCreated])
	require.True(t, types[domain.ChangeTaskStatus])
	require.True(t, types[domain.ChangeTaskAssign])
	require.True(t, types[domain.ChangeTaskPrio])
}

func TestCompletionUsesTaskCompletedChangeType(t *testing.T) {
	g, st, _, bus := newTestGraph(t)
	ctx := context.Background()

	task := mustCreate(t, g, CreateTaskInput{Title: "Finish"})
	_, err := g.UpdateTask(ctx, task.ID, TaskUpdates{Status: statusPtr(domain.StatusDone)}, DefaultUpdateOptions())
	require.NoError(t, err)

	entries, err := st.ListChangelog(ctx, store.ChangelogFilter{TaskID: task.ID})
	require.NoError(t, err)
	require.Equal(t, domain.ChangeTaskDone, entries[0].ChangeType)

	var sawCompleted bool
	for _, e := range bus.Recent(0) {
		if e.Type == eventbus.TypeTaskCompleted {
			sawCompleted = true
		}
	}
	require.True(t, sawCompleted)
}

func TestDependencyReadinessBlocksInProgress(t *testing.T) {
	g, _, _, _ := newTestGraph(t)
	ctx := context.Background()

	dep := mustCreate(t, g, CreateTaskInput{Title: "Foundation"})
	task := mustCreate(t, g, CreateTaskInput{Title: "Tower"})
	require.NoError(t, g.AddDependency(ctx, task.ID, dep.ID))

	_, err := g.UpdateTask(ctx, task.ID, TaskUpdates{Status: statusPtr(domain.StatusInProgress)}, DefaultUpdateOptions())
	require.True(t, kernelerr.IsValidation(err))

	// With enforcement off the transition goes through with a warning.
	opts := UpdateOptions{EnforceDependencies: false}
	result, err := g.UpdateTask(ctx, task.ID, TaskUpdates{Status: statusPtr(domain.StatusInProgress)}, opts)
	require.NoError(t, err)
	require.NotEmpty(t, result.Warnings)

	// Finishing the dependency unblocks readiness.
	_, err = g.UpdateTask(ctx, dep.ID, TaskUpdates{Status: statusPtr(domain.StatusDone)}, DefaultUpdateOptions())
	require.NoError(t, err)
	ready, err := g.IsReady(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, ready.Ready)
}

func TestTransitiveReadiness(t *testing.T) {
	g, _, _, _ := newTestGraph(t)
	ctx := context.Background()

	a := mustCreate(t, g, CreateTaskInput{Title: "a"})
	b := mustCreate(t, g, CreateTaskInput{Title: "b"})
	c := mustCreate(t, g, CreateTaskInput{Title: "c"})
	require.NoError(t, g.AddDependency(ctx, a.ID, b.ID))
	require.NoError(t, g.AddDependency(ctx, b.ID, c.ID))

	ready, err := g.IsReady(ctx, a.ID)
	require.NoError(t, err)
	require.False(t, ready.Ready)
	require.ElementsMatch(t, []string{b.ID, c.ID}, ready.BlockingTasks)

	// Only the leaf done: still blocked by the middle task.
	_, err = g.UpdateTask(ctx, c.ID, TaskUpdates{Status: statusPtr(domain.StatusDone)}, DefaultUpdateOptions())
	require.NoError(t, err)
	ready, err = g.IsReady(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, []string{b.ID}, ready.BlockingTasks)
}

func TestDependencyRejections(t *testing.T) {
	g, _, _, _ := newTestGraph(t)
	ctx := context.Background()

	a := mustCreate(t, g, CreateTaskInput{Title: "a"})
	b := mustCreate(t, g, CreateTaskInput{Title: "b"})
	c := mustCreate(t, g, CreateTaskInput{Title: "c"})

	require.True(t, kernelerr.IsValidation(g.AddDependency(ctx, a.ID, a.ID)))
	require.True(t, kernelerr.IsNotFound(g.AddDependency(ctx, a.ID, "task-nope")))

	require.NoError(t, g.AddDependency(ctx, a.ID, b.ID))
	require.True(t, kernelerr.IsValidation(g.AddDependency(ctx, a.ID, b.ID)))

	// a -> b -> c, closing c -> a would be a cycle.
	require.NoError(t, g.AddDependency(ctx, b.ID, c.ID))
	require.True(t, kernelerr.IsValidation(g.AddDependency(ctx, c.ID, a.ID)))
}

func TestRemoveDependency(t *testing.T) {
	g, _, _, _ := newTestGraph(t)
	ctx := context.Background()

	a := mustCreate(t, g, CreateTaskInput{Title: "a"})
	b := mustCreate(t, g, CreateTaskInput{Title: "b"})
	require.NoError(t, g.AddDependency(ctx, a.ID, b.ID))
	require.NoError(t, g.RemoveDependency(ctx, a.ID, b.ID))
	require.True(t, kernelerr.IsNotFound(g.RemoveDependency(ctx, a.ID, b.ID)))

	ready, err := g.IsReady(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, ready.Ready)
}

func TestWipLimit(t *testing.T) {
	g, _, _, _ := newTestGraph(t)
	ctx := context.Background()

	require.NoError(t, g.SetWipLimit(ctx, domain.StatusInProgress, 1))

	first := mustCreate(t, g, CreateTaskInput{Title: "first"})
	second := mustCreate(t, g, CreateTaskInput{Title: "second"})
	_, err := g.UpdateTask(ctx, first.ID, TaskUpdates{Status: statusPtr(domain.StatusInProgress)}, DefaultUpdateOptions())
	require.NoError(t, err)

	check, err := g.CheckWipLimit(ctx, domain.StatusInProgress)
	require.NoError(t, err)
	require.False(t, check.Allowed)
	require.Equal(t, 1, check.Count)

	// Default options only warn.
	result, err := g.UpdateTask(ctx, second.ID, TaskUpdates{Status: statusPtr(domain.StatusInProgress)}, DefaultUpdateOptions())
	require.NoError(t, err)
	require.NotEmpty(t, result.Warnings)

	// Enforced, the same transition is rejected.
	third := mustCreate(t, g, CreateTaskInput{Title: "third"})
	opts := UpdateOptions{EnforceDependencies: true, EnforceWipLimits: true}
	_, err = g.UpdateTask(ctx, third.ID, TaskUpdates{Status: statusPtr(domain.StatusInProgress)}, opts)
	require.True(t, kernelerr.IsValidation(err))

	// Cancelled is never capped.
	check, err = g.CheckWipLimit(ctx, domain.StatusCancelled)
	require.NoError(t, err)
	require.True(t, check.Allowed)
}

func TestBoardOrderingAndExclusion(t *testing.T) {
	g, _, fake, _ := newTestGraph(t)
	ctx := context.Background()

	older := mustCreate(t, g, CreateTaskInput{Title: "older medium", Priority: domain.PriorityMedium})
	fake.Advance(time.Second)
	critical := mustCreate(t, g, CreateTaskInput{Title: "late critical", Priority: domain.PriorityCritical})
	fake.Advance(time.Second)
	newer := mustCreate(t, g, CreateTaskInput{Title: "newer medium", Priority: domain.PriorityMedium})
	fake.Advance(time.Second)
	cancelled := mustCreate(t, g, CreateTaskInput{Title: "gone"})
	_, err := g.UpdateTask(ctx, cancelled.ID, TaskUpdates{Status: statusPtr(domain.StatusCancelled)}, DefaultUpdateOptions())
	require.NoError(t, err)

	board, err := g.Board(ctx, BoardFilter{})
	require.NoError(t, err)

	backlog := board[domain.StatusBacklog]
	require.Len(t, backlog, 3)
	require.Equal(t, critical.ID, backlog[0].ID)
	require.Equal(t, older.ID, backlog[1].ID)
	require.Equal(t, newer.ID, backlog[2].ID)

	for _, column := range board {
		for _, task := range column {
			require.NotEqual(t, domain.StatusCancelled, task.Status)
		}
	}
}
