package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/kernelerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedTask(t *testing.T, st *Store, id string) *domain.Task {
	t.Helper()
	task := &domain.Task{
		ID:        id,
		Title:     "seed " + id,
		Status:    domain.StatusBacklog,
		Priority:  domain.PriorityMedium,
		Labels:    []string{},
		CreatedAt: 1000,
		UpdatedAt: 1000,
	}
	require.NoError(t, st.InsertTask(context.Background(), task))
	return task
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	st, err := Open(ctx, path)
	require.NoError(t, err)
	seedTask(t, st, "task-1")
	require.NoError(t, st.Close())

	st2, err := Open(ctx, path)
	require.NoError(t, err)
	defer st2.Close()
	task, err := st2.GetTask(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, "seed task-1", task.Title)
}

func TestKanbanColumnMigration(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.db")

	// A pre-kanban database: tasks without board columns.
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `CREATE TABLE tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		`INSERT INTO tasks (id, title, created_at, updated_at) VALUES ('task-old', 'legacy', 1, 1)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	st, err := Open(ctx, path)
	require.NoError(t, err)
	defer st.Close()

	task, err := st.GetTask(ctx, "task-old")
	require.NoError(t, err)
	require.Equal(t, domain.StatusBacklog, task.Status)
	require.Equal(t, domain.PriorityMedium, task.Priority)
	require.Empty(t, task.Labels)
}

func TestGetTaskNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetTask(context.Background(), "task-nope")
	require.True(t, kernelerr.IsNotFound(err))
}

func TestDeleteTaskCascades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	task := seedTask(t, st, "task-1")

	require.NoError(t, st.InsertIntent(ctx, &domain.Intent{
		ID: "intent-1", TaskID: task.ID, AgentID: "agent-a",
		Files: []string{"a.go"}, CreatedAt: 1000,
	}))
	require.NoError(t, st.InsertEvidence(ctx, &domain.Evidence{
		ID: "evidence-1", TaskID: task.ID, AgentID: "agent-a",
		Command: "go test", CreatedAt: 1000,
	}))
	require.NoError(t, st.InsertChangelog(ctx, &domain.ChangelogEntry{
		ID: "change-1", TaskID: task.ID, AgentID: "agent-a",
		FilePath: "a.go", ChangeType: domain.ChangeFileModify,
		Summary: "edit", CreatedAt: 1000,
	}))

	require.NoError(t, st.DeleteTask(ctx, task.ID))

	intents, err := st.ListIntentsByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Empty(t, intents)
	evidence, err := st.ListEvidenceByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Empty(t, evidence)

	// Changelog survives with the task reference nulled.
	entries, err := st.ListChangelog(ctx, ChangelogFilter{AgentID: "agent-a"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Empty(t, entries[0].TaskID)
}

func TestListTasksFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := seedTask(t, st, "task-a")
	a.Status = domain.StatusInProgress
	a.AssignedAgent = "agent-a"
	require.NoError(t, st.UpdateTask(ctx, a))
	seedTask(t, st, "task-b")

	byStatus, err := st.ListTasks(ctx, TaskFilter{Status: domain.StatusInProgress})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	require.Equal(t, "task-a", byStatus[0].ID)

	byAgent, err := st.ListTasks(ctx, TaskFilter{AssignedAgent: "agent-a"})
	require.NoError(t, err)
	require.Len(t, byAgent, 1)

	limited, err := st.ListTasks(ctx, TaskFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	count, err := st.CountTasksInStatus(ctx, domain.StatusBacklog)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestClaimRowLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertClaims(ctx, "agent-a", []string{"a.go", "b.go"}, 5000, 1000))
	require.NoError(t, st.UpsertClaims(ctx, "agent-b", []string{"c.go"}, 2000, 1000))

	conflicts, err := st.ConflictingAgents(ctx, "agent-b", []string{"a.go", "z.go"}, 1500)
	require.NoError(t, err)
	require.Equal(t, []string{"agent-a"}, conflicts)

	// Expired rows do not conflict.
	conflicts, err = st.ConflictingAgents(ctx, "agent-a", []string{"c.go"}, 3000)
	require.NoError(t, err)
	require.Empty(t, conflicts)

	pruned, err := st.PruneClaims(ctx, 3000)
	require.NoError(t, err)
	require.Equal(t, 1, pruned)

	rows, err := st.ListClaimRows(ctx, 1500)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestTouchedFilesIgnoresLifecycleEntries(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	task := seedTask(t, st, "task-1")

	require.NoError(t, st.InsertChangelog(ctx, &domain.ChangelogEntry{
		ID: "change-1", TaskID: task.ID, AgentID: "agent-a",
		FilePath: "a.go", ChangeType: domain.ChangeFileModify,
		Summary: "edit", CreatedAt: 1000,
	}))
	require.NoError(t, st.InsertChangelog(ctx, &domain.ChangelogEntry{
		ID: "change-2", TaskID: task.ID, AgentID: "agent-a",
		FilePath: domain.TaskFilePath(task.ID), ChangeType: domain.ChangeTaskStatus,
		Summary: "status", CreatedAt: 1001,
	}))

	touched, err := st.TouchedFiles(ctx, task.ID, "agent-a")
	require.NoError(t, err)
	require.Equal(t, []string{"a.go"}, touched)
}

func TestWipLimitRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	limit, err := st.GetWipLimit(ctx, domain.StatusInProgress)
	require.NoError(t, err)
	require.Zero(t, limit)

	require.NoError(t, st.SetWipLimit(ctx, domain.StatusInProgress, 3))
	require.NoError(t, st.SetWipLimit(ctx, domain.StatusInProgress, 5))
	limit, err = st.GetWipLimit(ctx, domain.StatusInProgress)
	require.NoError(t, err)
	require.Equal(t, 5, limit)

	require.NoError(t, st.ClearWipLimit(ctx, domain.StatusInProgress))
	limit, err = st.GetWipLimit(ctx, domain.StatusInProgress)
	require.NoError(t, err)
	require.Zero(t, limit)
}
