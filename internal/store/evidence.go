package store

import (
	"context"
	"database/sql"

	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/kernelerr"
)

// InsertEvidence persists one immutable evidence record. Output is stored as
// given; the caller clips before insert.
func (s *Store) InsertEvidence(ctx context.Context, ev *domain.Evidence) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO evidence (id, task_id, agent_id, command, output, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.TaskID, ev.AgentID, ev.Command, nullStr(ev.Output), ev.CreatedAt)
	if err != nil {
		return kernelerr.Internal(err, "insert evidence %s", ev.ID)
	}
	return nil
}

const evidenceColumns = `id, task_id, agent_id, command, output, created_at`

func scanEvidence(rows *sql.Rows) (*domain.Evidence, error) {
	var (
		ev     domain.Evidence
		output sql.NullString
	)
	if err := rows.Scan(&ev.ID, &ev.TaskID, &ev.AgentID, &ev.Command, &output, &ev.CreatedAt); err != nil {
		return nil, err
	}
	ev.Output = strOrEmpty(output)
	return &ev, nil
}

// ListEvidenceByTask returns evidence for a task, oldest first.
func (s *Store) ListEvidenceByTask(ctx context.Context, taskID string) ([]*domain.Evidence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+evidenceColumns+` FROM evidence WHERE task_id = ? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, kernelerr.Internal(err, "list evidence for task %s", taskID)
	}
	defer rows.Close()
	return collectEvidence(rows)
}

// ListEvidenceByTaskAgent returns evidence for one (task, agent) pair.
func (s *Store) ListEvidenceByTaskAgent(ctx context.Context, taskID, agentID string) ([]*domain.Evidence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+evidenceColumns+` FROM evidence WHERE task_id = ? AND agent_id = ? ORDER BY created_at ASC, id ASC`,
		taskID, agentID)
	if err != nil {
		return nil, kernelerr.Internal(err, "list evidence for task %s agent %s", taskID, agentID)
	}
	defer rows.Close()
	return collectEvidence(rows)
}

func collectEvidence(rows *sql.Rows) ([]*domain.Evidence, error) {
	var out []*domain.Evidence
	for rows.Next() {
		ev, err := scanEvidence(rows)
		if err != nil {
			return nil, kernelerr.Internal(err, "scan evidence")
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, kernelerr.Internal(err, "collect evidence")
	}
	return out, nil
}
