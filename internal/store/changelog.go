package store

import (
	"context"
	"database/sql"

	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/kernelerr"
)

// InsertChangelog appends one audit record.
func (s *Store) InsertChangelog(ctx context.Context, e *domain.ChangelogEntry) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO changelog (id, task_id, agent_id, file_path, change_type, summary, diff_snippet, commit_hash, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullStr(e.TaskID), e.AgentID, e.FilePath, e.ChangeType, e.Summary,
		nullStr(e.DiffSnippet), nullStr(e.CommitHash), e.CreatedAt)
	if err != nil {
		return kernelerr.Internal(err, "insert changelog %s", e.ID)
	}
	return nil
}

const changelogColumns = `id, task_id, agent_id, file_path, change_type, summary, diff_snippet, commit_hash, created_at`

func scanChangelog(rows *sql.Rows) (*domain.ChangelogEntry, error) {
	var (
		e       domain.ChangelogEntry
		taskID  sql.NullString
		snippet sql.NullString
		commit  sql.NullString
	)
	if err := rows.Scan(&e.ID, &taskID, &e.AgentID, &e.FilePath, &e.ChangeType,
		&e.Summary, &snippet, &commit, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.TaskID = strOrEmpty(taskID)
	e.DiffSnippet = strOrEmpty(snippet)
	e.CommitHash = strOrEmpty(commit)
	return &e, nil
}

// ChangelogFilter narrows changelog queries; zero values match everything.
type ChangelogFilter struct {
	TaskID  string
	AgentID string
	Limit   int
}

// ListChangelog returns audit entries newest first.
func (s *Store) ListChangelog(ctx context.Context, filter ChangelogFilter) ([]*domain.ChangelogEntry, error) {
	query := `SELECT ` + changelogColumns + ` FROM changelog`
	var (
		where []string
		args  []any
	)
	if filter.TaskID != "" {
		where = append(where, `task_id = ?`)
		args = append(args, filter.TaskID)
	}
	if filter.AgentID != "" {
		where = append(where, `agent_id = ?`)
		args = append(args, filter.AgentID)
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
		return nil, kernelerr.Internal(err, "list changelog")
	}
	defer rows.Close()

	var out []*domain.ChangelogEntry
	for rows.Next() {
		e, err := scanChangelog(rows)
		if err != nil {
			return nil, kernelerr.Internal(err, "scan changelog entry")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, kernelerr.Internal(err, "list changelog")
	}
	return out, nil
}

// TouchedFiles returns the distinct file paths from file-change entries for
// one (task, agent) pair. This is the compliance signal for "files touched".
func (s *Store) TouchedFiles(ctx context.Context, taskID, agentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT file_path FROM changelog
WHERE task_id = ? AND agent_id = ? AND change_type IN ('create', 'modify', 'delete')
ORDER BY file_path`, taskID, agentID)
	if err != nil {
		return nil, kernelerr.Internal(err, "touched files for task %s agent %s", taskID, agentID)
	}
	defer rows.Close()

	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, kernelerr.Internal(err, "scan touched file")
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, kernelerr.Internal(err, "touched files")
	}
	return files, nil
}
