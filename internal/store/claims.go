package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/kernelerr"
)

// PruneClaims deletes rows whose lease expired at or before now. Expiry is
// lazy: this is the only place a lease stops being visible.
func (s *Store) PruneClaims(ctx context.Context, now int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM claims WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, kernelerr.Internal(err, "prune claims")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ConflictingAgents returns the distinct other agents holding a live lease on
// any of the given files.
func (s *Store) ConflictingAgents(ctx context.Context, agentID string, files []string, now int64) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(files))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(files)+2)
	args = append(args, agentID, now)
	for _, f := range files {
		args = append(args, f)
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT agent_id FROM claims
WHERE agent_id != ? AND expires_at > ? AND file_path IN (`+placeholders+`)
ORDER BY agent_id`, args...)
	if err != nil {
		return nil, kernelerr.Internal(err, "claim conflict scan")
	}
	defer rows.Close()

	var agents []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, kernelerr.Internal(err, "scan conflicting agent")
		}
		agents = append(agents, id)
	}
	if err := rows.Err(); err != nil {
		return nil, kernelerr.Internal(err, "claim conflict scan")
	}
	return agents, nil
}

// UpsertClaims writes one lease row per file in a single transaction. A
// same-agent re-claim overwrites the prior row, extending the lease.
func (s *Store) UpsertClaims(ctx context.Context, agentID string, files []string, expiresAt, createdAt int64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO claims (agent_id, file_path, expires_at, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (agent_id, file_path) DO UPDATE SET expires_at = excluded.expires_at, created_at = excluded.created_at`)
		if err != nil {
			return kernelerr.Internal(err, "prepare claim upsert")
		}
		defer stmt.Close()
		for _, f := range files {
			if _, err := stmt.ExecContext(ctx, agentID, f, expiresAt, createdAt); err != nil {
				return kernelerr.Internal(err, "upsert claim %s", f)
			}
		}
		return nil
	})
}

// DeleteClaims removes rows for an agent. With an empty file list every row
// for the agent goes. Returns the number of rows released.
func (s *Store) DeleteClaims(ctx context.Context, agentID string, files []string) (int, error) {
	if len(files) == 0 {
		res, err := s.db.ExecContext(ctx, `DELETE FROM claims WHERE agent_id = ?`, agentID)
		if err != nil {
			return 0, kernelerr.Internal(err, "release claims for %s", agentID)
		}
		n, _ := res.RowsAffected()
		return int(n), nil
	}
	placeholders := strings.Repeat("?,", len(files))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(files)+1)
	args = append(args, agentID)
	for _, f := range files {
		args = append(args, f)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM claims WHERE agent_id = ? AND file_path IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, kernelerr.Internal(err, "release claims for %s", agentID)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ExtendClaims adds additionalMs to every live targeted row for the agent.
// Returns the number of rows extended.
func (s *Store) ExtendClaims(ctx context.Context, agentID string, files []string, additionalMs, now int64) (int, error) {
	query := `UPDATE claims SET expires_at = expires_at + ? WHERE agent_id = ? AND expires_at > ?`
	args := []any{additionalMs, agentID, now}
	if len(files) > 0 {
		placeholders := strings.Repeat("?,", len(files))
		placeholders = placeholders[:len(placeholders)-1]
		query += ` AND file_path IN (` + placeholders + `)`
		for _, f := range files {
			args = append(args, f)
		}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, kernelerr.Internal(err, "extend claims for %s", agentID)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListClaimRows returns every live lease row.
func (s *Store) ListClaimRows(ctx context.Context, now int64) ([]domain.ClaimRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT agent_id, file_path, expires_at, created_at FROM claims
WHERE expires_at > ? ORDER BY agent_id, file_path`, now)
	if err != nil {
		return nil, kernelerr.Internal(err, "list claims")
	}
	defer rows.Close()

	var out []domain.ClaimRow
	for rows.Next() {
		var r domain.ClaimRow
		if err := rows.Scan(&r.AgentID, &r.FilePath, &r.ExpiresAt, &r.CreatedAt); err != nil {
			return nil, kernelerr.Internal(err, "scan claim row")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, kernelerr.Internal(err, "list claims")
	}
	return out, nil
}

// AgentClaimFiles returns the live file paths held by one agent, sorted.
func (s *Store) AgentClaimFiles(ctx context.Context, agentID string, now int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT file_path FROM claims WHERE agent_id = ? AND expires_at > ? ORDER BY file_path`,
		agentID, now)
	if err != nil {
		return nil, kernelerr.Internal(err, "agent claims for %s", agentID)
	}
	defer rows.Close()

	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, kernelerr.Internal(err, "scan claim file")
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, kernelerr.Internal(err, "agent claims for %s", agentID)
	}
	return files, nil
}
