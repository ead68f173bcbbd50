package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/kernelerr"
)

// InsertDependency writes one edge; the caller has already checked self-loops,
// duplicates, and cycles.
func (s *Store) InsertDependency(ctx context.Context, dep *domain.Dependency) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dependencies (task_id, depends_on_task_id, created_at) VALUES (?, ?, ?)`,
		dep.TaskID, dep.DependsOnTaskID, dep.CreatedAt)
	if err != nil {
		return kernelerr.Internal(err, "insert dependency %s -> %s", dep.TaskID, dep.DependsOnTaskID)
	}
	return nil
}

// DeleteDependency removes one edge; reports whether it existed.
func (s *Store) DeleteDependency(ctx context.Context, taskID, dependsOnTaskID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dependencies WHERE task_id = ? AND depends_on_task_id = ?`, taskID, dependsOnTaskID)
	if err != nil {
		return false, kernelerr.Internal(err, "delete dependency %s -> %s", taskID, dependsOnTaskID)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DependencyExists reports whether the exact edge already exists.
func (s *Store) DependencyExists(ctx context.Context, taskID, dependsOnTaskID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM dependencies WHERE task_id = ? AND depends_on_task_id = ?`,
		taskID, dependsOnTaskID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, kernelerr.Internal(err, "dependency exists")
	}
	return true, nil
}

// DependenciesOf returns the ids the given task directly depends on.
func (s *Store) DependenciesOf(ctx context.Context, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT depends_on_task_id FROM dependencies WHERE task_id = ? ORDER BY depends_on_task_id`, taskID)
	if err != nil {
		return nil, kernelerr.Internal(err, "dependencies of %s", taskID)
	}
	defer rows.Close()
	return collectIDs(rows)
}

// DependentsOf returns the ids of tasks that directly depend on the given task.
func (s *Store) DependentsOf(ctx context.Context, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id FROM dependencies WHERE depends_on_task_id = ? ORDER BY task_id`, taskID)
	if err != nil {
		return nil, kernelerr.Internal(err, "dependents of %s", taskID)
	}
	defer rows.Close()
	return collectIDs(rows)
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, kernelerr.Internal(err, "scan id")
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, kernelerr.Internal(err, "collect ids")
	}
	return out, nil
}
