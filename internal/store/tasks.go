package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/kernelerr"
)

const taskColumns = `id, title, description, status, priority, assigned_agent,
	due_date, labels_json, story_points, created_at, updated_at, started_at, completed_at`

func scanTask(row interface{ Scan(...any) error }) (*domain.Task, error) {
	var (
		t           domain.Task
		description sql.NullString
		assigned    sql.NullString
		dueDate     sql.NullInt64
		labels      string
		storyPoints sql.NullInt64
		startedAt   sql.NullInt64
		completedAt sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.Title, &description, &t.Status, &t.Priority, &assigned,
		&dueDate, &labels, &storyPoints, &t.CreatedAt, &t.UpdatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	t.Description = strOrEmpty(description)
	t.AssignedAgent = strOrEmpty(assigned)
	t.DueDate = intOrZero(dueDate)
	t.Labels = unmarshalList(labels)
	if t.Labels == nil {
		t.Labels = []string{}
	}
	t.StoryPoints = int(intOrZero(storyPoints))
	t.StartedAt = intOrZero(startedAt)
	t.CompletedAt = intOrZero(completedAt)
	return &t, nil
}

// InsertTask persists a new task row.
func (s *Store) InsertTask(ctx context.Context, t *domain.Task) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (`+taskColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, nullStr(t.Description), t.Status, t.Priority, nullStr(t.AssignedAgent),
		nullInt(t.DueDate), marshalList(t.Labels), nullInt(int64(t.StoryPoints)),
		t.CreatedAt, t.UpdatedAt, nullInt(t.StartedAt), nullInt(t.CompletedAt))
	if err != nil {
		return kernelerr.Internal(err, "insert task %s", t.ID)
	}
	return nil
}

// GetTask loads one task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kernelerr.NotFound("task %s not found", id)
	}
	if err != nil {
		return nil, kernelerr.Internal(err, "get task %s", id)
	}
	return t, nil
}

// UpdateTask overwrites all mutable columns of an existing task row.
func (s *Store) UpdateTask(ctx context.Context, t *domain.Task) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?, assigned_agent = ?,
	due_date = ?, labels_json = ?, story_points = ?, updated_at = ?, started_at = ?, completed_at = ?
WHERE id = ?`,
		t.Title, nullStr(t.Description), t.Status, t.Priority, nullStr(t.AssignedAgent),
		nullInt(t.DueDate), marshalList(t.Labels), nullInt(int64(t.StoryPoints)),
		t.UpdatedAt, nullInt(t.StartedAt), nullInt(t.CompletedAt), t.ID)
	if err != nil {
		return kernelerr.Internal(err, "update task %s", t.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return kernelerr.NotFound("task %s not found", t.ID)
	}
	return nil
}

// DeleteTask removes a task; dependent rows cascade, changelog survives with
// a nulled task_id.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return kernelerr.Internal(err, "delete task %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return kernelerr.NotFound("task %s not found", id)
	}
	return nil
}

// TaskExists reports whether the task id references a row.
func (s *Store) TaskExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, kernelerr.Internal(err, "task exists %s", id)
	}
	return true, nil
}

// TaskFilter narrows ListTasks results; zero values match everything.
type TaskFilter struct {
	Status        domain.Status
	AssignedAgent string
	Limit         int
}

// ListTasks returns tasks newest first, optionally filtered.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, `status = ?`)
		args = append(args, filter.Status)
	}
	if filter.AssignedAgent != "" {
		where = append(where, `assigned_agent = ?`)
		args = append(args, filter.AssignedAgent)
	}
	for i, clause := range where {
		if i == 0 {
			query += ` WHERE ` + clause
		} else {
			query += ` AND ` + clause
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kernelerr.Internal(err, "list tasks")
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, kernelerr.Internal(err, "scan task")
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, kernelerr.Internal(err, "list tasks")
	}
	return tasks, nil
}

// CountTasksInStatus counts tasks currently in the given status.
func (s *Store) CountTasksInStatus(ctx context.Context, status domain.Status) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, kernelerr.Internal(err, "count tasks in %s", status)
	}
	return count, nil
}

// CountTasks returns the total task count.
func (s *Store) CountTasks(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&count); err != nil {
		return 0, kernelerr.Internal(err, "count tasks")
	}
	return count, nil
}
