package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/kernelerr"
)

// InsertGate persists one gate definition.
func (s *Store) InsertGate(ctx context.Context, g *domain.Gate) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO gates (id, task_id, gate_type, command, trigger_status, required, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.TaskID, g.GateType, g.Command, g.TriggerStatus, boolToInt(g.Required), g.CreatedAt)
	if err != nil {
		return kernelerr.Internal(err, "insert gate %s", g.ID)
	}
	return nil
}

const gateColumns = `id, task_id, gate_type, command, trigger_status, required, created_at`

func scanGate(row interface{ Scan(...any) error }) (*domain.Gate, error) {
	var (
		g        domain.Gate
		required int
	)
	if err := row.Scan(&g.ID, &g.TaskID, &g.GateType, &g.Command, &g.TriggerStatus, &required, &g.CreatedAt); err != nil {
		return nil, err
	}
	g.Required = required != 0
	return &g, nil
}

// GetGate loads one gate by id.
func (s *Store) GetGate(ctx context.Context, id string) (*domain.Gate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+gateColumns+` FROM gates WHERE id = ?`, id)
	g, err := scanGate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kernelerr.NotFound("gate %s not found", id)
	}
	if err != nil {
		return nil, kernelerr.Internal(err, "get gate %s", id)
	}
	return g, nil
}

// ListGatesByTask returns all gates for a task, oldest first.
func (s *Store) ListGatesByTask(ctx context.Context, taskID string) ([]*domain.Gate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+gateColumns+` FROM gates WHERE task_id = ? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, kernelerr.Internal(err, "list gates for task %s", taskID)
	}
	defer rows.Close()
	return collectGates(rows)
}

// ListGatesByTrigger returns gates for a task bound to one trigger status.
func (s *Store) ListGatesByTrigger(ctx context.Context, taskID string, trigger domain.Status) ([]*domain.Gate, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+gateColumns+` FROM gates WHERE task_id = ? AND trigger_status = ?
ORDER BY created_at ASC, id ASC`, taskID, trigger)
	if err != nil {
		return nil, kernelerr.Internal(err, "list gates for task %s trigger %s", taskID, trigger)
	}
	defer rows.Close()
	return collectGates(rows)
}

func collectGates(rows *sql.Rows) ([]*domain.Gate, error) {
	var out []*domain.Gate
	for rows.Next() {
		g, err := scanGate(rows)
		if err != nil {
			return nil, kernelerr.Internal(err, "scan gate")
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, kernelerr.Internal(err, "collect gates")
	}
	return out, nil
}

// InsertGateRun persists one immutable run record.
func (s *Store) InsertGateRun(ctx context.Context, r *domain.GateRun) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO gate_runs (id, gate_id, task_id, agent_id, passed, output, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.GateID, r.TaskID, r.AgentID, boolToInt(r.Passed), nullStr(r.Output),
		nullInt(r.DurationMs), r.CreatedAt)
	if err != nil {
		return kernelerr.Internal(err, "insert gate run %s", r.ID)
	}
	return nil
}

// LastGateRun returns the most recent run for a gate, or nil when none exists.
func (s *Store) LastGateRun(ctx context.Context, gateID string) (*domain.GateRun, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, gate_id, task_id, agent_id, passed, output, duration_ms, created_at
FROM gate_runs WHERE gate_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, gateID)
	var (
		r        domain.GateRun
		passed   int
		output   sql.NullString
		duration sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.GateID, &r.TaskID, &r.AgentID, &passed, &output, &duration, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, kernelerr.Internal(err, "last gate run for %s", gateID)
	}
	r.Passed = passed != 0
	r.Output = strOrEmpty(output)
	r.DurationMs = intOrZero(duration)
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
