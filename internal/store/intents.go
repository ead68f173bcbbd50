package store

import (
	"context"
	"database/sql"

	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/kernelerr"
)

// InsertIntent persists one immutable intent record.
func (s *Store) InsertIntent(ctx context.Context, in *domain.Intent) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO intents (id, task_id, agent_id, files_json, boundaries_json, acceptance_criteria, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.TaskID, in.AgentID, marshalList(in.Files), marshalList(in.Boundaries),
		nullStr(in.AcceptanceCriteria), in.CreatedAt)
	if err != nil {
		return kernelerr.Internal(err, "insert intent %s", in.ID)
	}
	return nil
}

func scanIntent(rows *sql.Rows) (*domain.Intent, error) {
	var (
		in         domain.Intent
		files      string
		boundaries string
		criteria   sql.NullString
	)
	if err := rows.Scan(&in.ID, &in.TaskID, &in.AgentID, &files, &boundaries, &criteria, &in.CreatedAt); err != nil {
		return nil, err
	}
	in.Files = unmarshalList(files)
	in.Boundaries = unmarshalList(boundaries)
	in.AcceptanceCriteria = strOrEmpty(criteria)
	return &in, nil
}

const intentColumns = `id, task_id, agent_id, files_json, boundaries_json, acceptance_criteria, created_at`

// ListIntentsByTask returns intents for a task, oldest first.
func (s *Store) ListIntentsByTask(ctx context.Context, taskID string) ([]*domain.Intent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+intentColumns+` FROM intents WHERE task_id = ? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, kernelerr.Internal(err, "list intents for task %s", taskID)
	}
	defer rows.Close()
	return collectIntents(rows)
}

// ListIntentsByTaskAgent returns intents for one (task, agent) pair, oldest first.
func (s *Store) ListIntentsByTaskAgent(ctx context.Context, taskID, agentID string) ([]*domain.Intent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+intentColumns+` FROM intents WHERE task_id = ? AND agent_id = ? ORDER BY created_at ASC, id ASC`,
		taskID, agentID)
	if err != nil {
		return nil, kernelerr.Internal(err, "list intents for task %s agent %s", taskID, agentID)
	}
	defer rows.Close()
	return collectIntents(rows)
}

func collectIntents(rows *sql.Rows) ([]*domain.Intent, error) {
	var out []*domain.Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, kernelerr.Internal(err, "scan intent")
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, kernelerr.Internal(err, "collect intents")
	}
	return out, nil
}
