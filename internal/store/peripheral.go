package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/kernelerr"
)

// UpsertAgent registers an agent or refreshes its record on re-register.
func (s *Store) UpsertAgent(ctx context.Context, a *domain.AgentInfo) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO agents (id, name, capabilities_json, registered_at, last_seen_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	name = excluded.name,
	capabilities_json = excluded.capabilities_json,
	last_seen_at = excluded.last_seen_at`,
		a.ID, nullStr(a.Name), marshalList(a.Capabilities), a.RegisteredAt, a.LastSeenAt)
	if err != nil {
		return kernelerr.Internal(err, "upsert agent %s", a.ID)
	}
	return nil
}

// TouchAgent updates last_seen_at for a heartbeat; reports whether the agent
// exists.
func (s *Store) TouchAgent(ctx context.Context, agentID string, now int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET last_seen_at = ? WHERE id = ?`, now, agentID)
	if err != nil {
		return false, kernelerr.Internal(err, "heartbeat agent %s", agentID)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListAgents returns all registered agents, most recently seen first.
func (s *Store) ListAgents(ctx context.Context) ([]*domain.AgentInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, capabilities_json, registered_at, last_seen_at
FROM agents ORDER BY last_seen_at DESC, id ASC`)
	if err != nil {
		return nil, kernelerr.Internal(err, "list agents")
	}
	defer rows.Close()

	var out []*domain.AgentInfo
	for rows.Next() {
		var (
			a    domain.AgentInfo
			name sql.NullString
			caps string
		)
		if err := rows.Scan(&a.ID, &name, &caps, &a.RegisteredAt, &a.LastSeenAt); err != nil {
			return nil, kernelerr.Internal(err, "scan agent")
		}
		a.Name = strOrEmpty(name)
		a.Capabilities = unmarshalList(caps)
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, kernelerr.Internal(err, "list agents")
	}
	return out, nil
}

// InsertComment persists one comment.
func (s *Store) InsertComment(ctx context.Context, c *domain.Comment) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO comments (id, task_id, agent_id, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.TaskID, c.AgentID, c.Body, c.CreatedAt)
	if err != nil {
		return kernelerr.Internal(err, "insert comment %s", c.ID)
	}
	return nil
}

// ListCommentsByTask returns comments for a task, oldest first.
func (s *Store) ListCommentsByTask(ctx context.Context, taskID string) ([]*domain.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, task_id, agent_id, body, created_at
FROM comments WHERE task_id = ? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, kernelerr.Internal(err, "list comments for task %s", taskID)
	}
	defer rows.Close()

	var out []*domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AgentID, &c.Body, &c.CreatedAt); err != nil {
			return nil, kernelerr.Internal(err, "scan comment")
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, kernelerr.Internal(err, "list comments")
	}
	return out, nil
}

// InsertBlocker persists one blocker.
func (s *Store) InsertBlocker(ctx context.Context, b *domain.Blocker) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO blockers (id, task_id, agent_id, description, resolved, created_at, resolved_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.TaskID, b.AgentID, b.Description, boolToInt(b.Resolved), b.CreatedAt, nullInt(b.ResolvedAt))
	if err != nil {
		return kernelerr.Internal(err, "insert blocker %s", b.ID)
	}
	return nil
}

// GetBlocker loads one blocker by id.
func (s *Store) GetBlocker(ctx context.Context, id string) (*domain.Blocker, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, task_id, agent_id, description, resolved, created_at, resolved_at
FROM blockers WHERE id = ?`, id)
	var (
		b          domain.Blocker
		resolved   int
		resolvedAt sql.NullInt64
	)
	err := row.Scan(&b.ID, &b.TaskID, &b.AgentID, &b.Description, &resolved, &b.CreatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kernelerr.NotFound("blocker %s not found", id)
	}
	if err != nil {
		return nil, kernelerr.Internal(err, "get blocker %s", id)
	}
	b.Resolved = resolved != 0
	b.ResolvedAt = intOrZero(resolvedAt)
	return &b, nil
}

// ResolveBlocker marks a blocker resolved; reports whether it was open.
func (s *Store) ResolveBlocker(ctx context.Context, id string, now int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE blockers SET resolved = 1, resolved_at = ? WHERE id = ? AND resolved = 0`, now, id)
	if err != nil {
		return false, kernelerr.Internal(err, "resolve blocker %s", id)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListBlockersByTask returns blockers for a task, oldest first.
func (s *Store) ListBlockersByTask(ctx context.Context, taskID string) ([]*domain.Blocker, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, task_id, agent_id, description, resolved, created_at, resolved_at
FROM blockers WHERE task_id = ? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, kernelerr.Internal(err, "list blockers for task %s", taskID)
	}
	defer rows.Close()

	var out []*domain.Blocker
	for rows.Next() {
		var (
			b          domain.Blocker
			resolved   int
			resolvedAt sql.NullInt64
		)
		if err := rows.Scan(&b.ID, &b.TaskID, &b.AgentID, &b.Description, &resolved, &b.CreatedAt, &resolvedAt); err != nil {
			return nil, kernelerr.Internal(err, "scan blocker")
		}
		b.Resolved = resolved != 0
		b.ResolvedAt = intOrZero(resolvedAt)
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, kernelerr.Internal(err, "list blockers")
	}
	return out, nil
}

// SetWipLimit sets or replaces the cap for one status column.
func (s *Store) SetWipLimit(ctx context.Context, status domain.Status, limit int) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO wip_limits (status, limit_count) VALUES (?, ?)
ON CONFLICT (status) DO UPDATE SET limit_count = excluded.limit_count`, status, limit)
	if err != nil {
		return kernelerr.Internal(err, "set wip limit for %s", status)
	}
	return nil
}

// ClearWipLimit removes the cap for one status column.
func (s *Store) ClearWipLimit(ctx context.Context, status domain.Status) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM wip_limits WHERE status = ?`, status); err != nil {
		return kernelerr.Internal(err, "clear wip limit for %s", status)
	}
	return nil
}

// GetWipLimit returns the cap for a status, or 0 when uncapped.
func (s *Store) GetWipLimit(ctx context.Context, status domain.Status) (int, error) {
	var limit int
	err := s.db.QueryRowContext(ctx, `SELECT limit_count FROM wip_limits WHERE status = ?`, status).Scan(&limit)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, kernelerr.Internal(err, "get wip limit for %s", status)
	}
	return limit, nil
}

// ListWipLimits returns all configured caps.
func (s *Store) ListWipLimits(ctx context.Context) ([]domain.WipLimit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, limit_count FROM wip_limits ORDER BY status`)
	if err != nil {
		return nil, kernelerr.Internal(err, "list wip limits")
	}
	defer rows.Close()

	var out []domain.WipLimit
	for rows.Next() {
		var w domain.WipLimit
		if err := rows.Scan(&w.Status, &w.Limit); err != nil {
			return nil, kernelerr.Internal(err, "scan wip limit")
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, kernelerr.Internal(err, "list wip limits")
	}
	return out, nil
}

// InsertWebhook persists one webhook registration.
func (s *Store) InsertWebhook(ctx context.Context, w *domain.Webhook) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO webhooks (id, url, events_json, created_at) VALUES (?, ?, ?, ?)`,
		w.ID, w.URL, marshalList(w.Events), w.CreatedAt)
	if err != nil {
		return kernelerr.Internal(err, "insert webhook %s", w.ID)
	}
	return nil
}

// DeleteWebhook removes a webhook registration.
func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	if err != nil {
		return kernelerr.Internal(err, "delete webhook %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return kernelerr.NotFound("webhook %s not found", id)
	}
	return nil
}

// ListWebhooks returns all registered webhooks.
func (s *Store) ListWebhooks(ctx context.Context) ([]*domain.Webhook, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, url, events_json, created_at FROM webhooks ORDER BY created_at ASC`)
	if err != nil {
		return nil, kernelerr.Internal(err, "list webhooks")
	}
	defer rows.Close()

	var out []*domain.Webhook
	for rows.Next() {
		var (
			w      domain.Webhook
			events string
		)
		if err := rows.Scan(&w.ID, &w.URL, &events, &w.CreatedAt); err != nil {
			return nil, kernelerr.Internal(err, "scan webhook")
		}
		w.Events = unmarshalList(events)
		out = append(out, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, kernelerr.Internal(err, "list webhooks")
	}
	return out, nil
}

// InsertWebhookDelivery records one delivery attempt.
func (s *Store) InsertWebhookDelivery(ctx context.Context, d *domain.WebhookDelivery) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO webhook_deliveries (id, webhook_id, event_type, status_code, error, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.WebhookID, d.EventType, nullInt(int64(d.StatusCode)), nullStr(d.Error), d.CreatedAt)
	if err != nil {
		return kernelerr.Internal(err, "insert webhook delivery %s", d.ID)
	}
	return nil
}
