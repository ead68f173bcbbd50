package store

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA foreign_keys=ON;`,
	`CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL DEFAULT 'backlog',
	priority TEXT NOT NULL DEFAULT 'medium',
	assigned_agent TEXT,
	due_date INTEGER,
	labels_json TEXT NOT NULL DEFAULT '[]',
	story_points INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER
);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_assigned_agent ON tasks(assigned_agent);`,
	`CREATE TABLE IF NOT EXISTS intents (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	agent_id TEXT NOT NULL,
	files_json TEXT NOT NULL,
	boundaries_json TEXT NOT NULL DEFAULT '[]',
	acceptance_criteria TEXT,
	created_at INTEGER NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS idx_intents_task_id ON intents(task_id);`,
	`CREATE TABLE IF NOT EXISTS claims (
	agent_id TEXT NOT NULL,
	file_path TEXT NOT NULL,
	expires_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (agent_id, file_path)
);`,
	`CREATE INDEX IF NOT EXISTS idx_claims_file_path ON claims(file_path);`,
	`CREATE INDEX IF NOT EXISTS idx_claims_expires_at ON claims(expires_at);`,
	`CREATE TABLE IF NOT EXISTS evidence (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	agent_id TEXT NOT NULL,
	command TEXT NOT NULL,
	output TEXT,
	created_at INTEGER NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS idx_evidence_task_id ON evidence(task_id);`,
	`CREATE TABLE IF NOT EXISTS changelog (
	id TEXT PRIMARY KEY,
	task_id TEXT REFERENCES tasks(id) ON DELETE SET NULL,
	agent_id TEXT NOT NULL,
	file_path TEXT NOT NULL,
	change_type TEXT NOT NULL,
	summary TEXT NOT NULL,
	diff_snippet TEXT,
	commit_hash TEXT,
	created_at INTEGER NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS idx_changelog_task_id ON changelog(task_id);`,
	`CREATE INDEX IF NOT EXISTS idx_changelog_agent_id ON changelog(agent_id);`,
	`CREATE INDEX IF NOT EXISTS idx_changelog_created_at ON changelog(created_at);`,
	`CREATE TABLE IF NOT EXISTS dependencies (
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	depends_on_task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (task_id, depends_on_task_id)
);`,
	`CREATE INDEX IF NOT EXISTS idx_dependencies_task_id ON dependencies(task_id);`,
	`CREATE INDEX IF NOT EXISTS idx_dependencies_depends_on ON dependencies(depends_on_task_id);`,
	`CREATE TABLE IF NOT EXISTS gates (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	gate_type TEXT NOT NULL,
	command TEXT NOT NULL,
	trigger_status TEXT NOT NULL,
	required INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS idx_gates_task_id ON gates(task_id);`,
	`CREATE TABLE IF NOT EXISTS gate_runs (
	id TEXT PRIMARY KEY,
	gate_id TEXT NOT NULL REFERENCES gates(id) ON DELETE CASCADE,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	agent_id TEXT NOT NULL,
	passed INTEGER NOT NULL,
	output TEXT,
	duration_ms INTEGER,
	created_at INTEGER NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS idx_gate_runs_gate_id ON gate_runs(gate_id);`,
	`CREATE INDEX IF NOT EXISTS idx_gate_runs_task_id ON gate_runs(task_id);`,
	`CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	name TEXT,
	capabilities_json TEXT NOT NULL DEFAULT '[]',
	registered_at INTEGER NOT NULL,
	last_seen_at INTEGER NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS comments (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	agent_id TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at INTEGER NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS idx_comments_task_id ON comments(task_id);`,
	`CREATE TABLE IF NOT EXISTS blockers (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	agent_id TEXT NOT NULL,
	description TEXT NOT NULL,
	resolved INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	resolved_at INTEGER
);`,
	`CREATE INDEX IF NOT EXISTS idx_blockers_task_id ON blockers(task_id);`,
	`CREATE TABLE IF NOT EXISTS wip_limits (
	status TEXT PRIMARY KEY,
	limit_count INTEGER NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS webhooks (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	events_json TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id TEXT PRIMARY KEY,
	webhook_id TEXT NOT NULL REFERENCES webhooks(id) ON DELETE CASCADE,
	event_type TEXT NOT NULL,
	status_code INTEGER,
	error TEXT,
	created_at INTEGER NOT NULL
);`,
}

// kanbanColumns were added after the first release; legacy databases carry a
// tasks table without them. The migration is additive only.
var kanbanColumns = map[string]string{
	"status":         `ALTER TABLE tasks ADD COLUMN status TEXT NOT NULL DEFAULT 'backlog'`,
	"priority":       `ALTER TABLE tasks ADD COLUMN priority TEXT NOT NULL DEFAULT 'medium'`,
	"assigned_agent": `ALTER TABLE tasks ADD COLUMN assigned_agent TEXT`,
	"due_date":       `ALTER TABLE tasks ADD COLUMN due_date INTEGER`,
	"labels_json":    `ALTER TABLE tasks ADD COLUMN labels_json TEXT NOT NULL DEFAULT '[]'`,
	"story_points":   `ALTER TABLE tasks ADD COLUMN story_points INTEGER`,
	"started_at":     `ALTER TABLE tasks ADD COLUMN started_at INTEGER`,
	"completed_at":   `ALTER TABLE tasks ADD COLUMN completed_at INTEGER`,
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return s.migrateKanbanColumns(ctx)
}

func (s *Store) migrateKanbanColumns(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(tasks)`)
	if err != nil {
		return err
	}
	existing := map[string]bool{}
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for column, stmt := range kanbanColumns {
		if existing[column] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate tasks.%s: %w", column, err)
		}
	}
	return nil
}
