// Package domain defines the entity types shared by the coordination kernel.
//
// All timestamps are integer milliseconds since the Unix epoch; zero means
// unset. Every object handed out by the kernel is a value copy.
package domain

// Status is the lifecycle state of a task on the board.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists all task statuses in board order.
var Statuses = []Status{StatusBacklog, StatusTodo, StatusInProgress, StatusReview, StatusDone, StatusCancelled}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusBacklog, StatusTodo, StatusInProgress, StatusReview, StatusDone, StatusCancelled:
		return true
	default:
		return false
	}
}

// Priority orders tasks within a board column.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Rank returns the sort weight for board ordering; lower sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// ChangeType classifies a changelog entry.
type ChangeType string

const (
	ChangeFileCreate  ChangeType = "create"
	ChangeFileModify  ChangeType = "modify"
	ChangeFileDelete  ChangeType = "delete"
	ChangeTaskCreated ChangeType = "task_created"
	ChangeTaskStatus  ChangeType = "task_status_change"
	ChangeTaskAssign  ChangeType = "task_assigned"
	ChangeTaskPrio    ChangeType = "task_priority_change"
	ChangeTaskDone    ChangeType = "task_completed"
	ChangeBlockerAdd  ChangeType = "blocker_added"
	ChangeBlockerFix  ChangeType = "blocker_resolved"
	ChangeDepAdded    ChangeType = "dependency_added"
	ChangeDepRemoved  ChangeType = "dependency_removed"
	ChangeCommentAdd  ChangeType = "comment_added"
)

// Valid reports whether c is a known change type.
func (c ChangeType) Valid() bool {
	switch c {
	case ChangeFileCreate, ChangeFileModify, ChangeFileDelete,
		ChangeTaskCreated, ChangeTaskStatus, ChangeTaskAssign, ChangeTaskPrio,
		ChangeTaskDone, ChangeBlockerAdd, ChangeBlockerFix,
		ChangeDepAdded, ChangeDepRemoved, ChangeCommentAdd:
		return true
	default:
		return false
	}
}

// IsFileChange reports whether c describes a file edit rather than a
// task-lifecycle event. Compliance uses file changes as the "touched files"
// signal.
func (c ChangeType) IsFileChange() bool {
	switch c {
	case ChangeFileCreate, ChangeFileModify, ChangeFileDelete:
		return true
	default:
		return false
	}
}

// GateType names the category of a gate check.
type GateType string

const (
	GateLint   GateType = "lint"
	GateTest   GateType = "test"
	GateBuild  GateType = "build"
	GateReview GateType = "review"
	GateCustom GateType = "custom"
)

// Valid reports whether g is a known gate type.
func (g GateType) Valid() bool {
	switch g {
	case GateLint, GateTest, GateBuild, GateReview, GateCustom:
		return true
	default:
		return false
	}
}

// GateRunStatus is the derived per-gate state from its most recent run.
type GateRunStatus string

const (
	GateNotRun GateRunStatus = "not_run"
	GatePassed GateRunStatus = "passed"
	GateFailed GateRunStatus = "failed"
)

// SystemAgentID is the sentinel author persisted for kernel-initiated
// changelog entries.
const SystemAgentID = "system"

// AuthorKind distinguishes kernel-authored records from agent-authored ones.
type AuthorKind int

const (
	AuthorKernel AuthorKind = iota
	AuthorAgent
)

// Author tags who performed an action. The kernel author persists as the
// "system" sentinel for wire compatibility.
type Author struct {
	Kind    AuthorKind
	AgentID string
}

// Kernel returns the kernel author.
func Kernel() Author {
	return Author{Kind: AuthorKernel}
}

// Agent returns an agent author.
func Agent(agentID string) Author {
	return Author{Kind: AuthorAgent, AgentID: agentID}
}

// String renders the persisted agent id form.
func (a Author) String() string {
	if a.Kind == AuthorKernel {
		return SystemAgentID
	}
	return a.AgentID
}

// Task is the unit of work on the board.
type Task struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Status        Status   `json:"status"`
	Priority      Priority `json:"priority"`
	AssignedAgent string   `json:"assignedAgent,omitempty"`
	DueDate       int64    `json:"dueDate,omitempty"`
	Labels        []string `json:"labels"`
	StoryPoints   int      `json:"storyPoints,omitempty"`
	CreatedAt     int64    `json:"createdAt"`
	UpdatedAt     int64    `json:"updatedAt"`
	StartedAt     int64    `json:"startedAt,omitempty"`
	CompletedAt   int64    `json:"completedAt,omitempty"`
}

// Clone returns a deep copy so no shared mutable state escapes the kernel.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Labels = append([]string(nil), t.Labels...)
	return &cp
}

// Intent is an agent's immutable declaration that it will edit files for a task.
type Intent struct {
	ID                 string   `json:"id"`
	TaskID             string   `json:"taskId"`
	AgentID            string   `json:"agentId"`
	Files              []string `json:"files"`
	Boundaries         []string `json:"boundaries,omitempty"`
	AcceptanceCriteria string   `json:"acceptanceCriteria,omitempty"`
	CreatedAt          int64    `json:"createdAt"`
}

// ClaimRow is one persisted (agent, file) lease row.
type ClaimRow struct {
	AgentID   string `json:"agentId"`
	FilePath  string `json:"filePath"`
	ExpiresAt int64  `json:"expiresAt"`
	CreatedAt int64  `json:"createdAt"`
}

// Claim is the caller-facing aggregate: all current rows for one agent.
// Files are sorted; ExpiresAt is the max and CreatedAt the min across rows.
type Claim struct {
	AgentID   string   `json:"agentId"`
	Files     []string `json:"files"`
	ExpiresAt int64    `json:"expiresAt"`
	CreatedAt int64    `json:"createdAt"`
}

// Evidence is an immutable (command, output) proof record for a task.
type Evidence struct {
	ID        string `json:"id"`
	TaskID    string `json:"taskId"`
	AgentID   string `json:"agentId"`
	Command   string `json:"command"`
	Output    string `json:"output,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// ChangelogEntry is one append-only audit record. TaskID may be empty for
// file events not attributed to a task; FilePath is the synthetic
// "task:<id>" form for task-lifecycle entries.
type ChangelogEntry struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"taskId,omitempty"`
	AgentID     string     `json:"agentId"`
	FilePath    string     `json:"filePath"`
	ChangeType  ChangeType `json:"changeType"`
	Summary     string     `json:"summary"`
	DiffSnippet string     `json:"diffSnippet,omitempty"`
	CommitHash  string     `json:"commitHash,omitempty"`
	CreatedAt   int64      `json:"createdAt"`
}

// TaskFilePath returns the synthetic changelog file path for a task event.
func TaskFilePath(taskID string) string {
	return "task:" + taskID
}

// Dependency is a directed "taskId depends on dependsOnTaskId" edge.
type Dependency struct {
	TaskID          string `json:"taskId"`
	DependsOnTaskID string `json:"dependsOnTaskId"`
	CreatedAt       int64  `json:"createdAt"`
}

// Gate is a named check bound to a task and a trigger status.
type Gate struct {
	ID            string   `json:"id"`
	TaskID        string   `json:"taskId"`
	GateType      GateType `json:"gateType"`
	Command       string   `json:"command"`
	TriggerStatus Status   `json:"triggerStatus"`
	Required      bool     `json:"required"`
	CreatedAt     int64    `json:"createdAt"`
}

// GateRun is one immutable execution record for a gate.
type GateRun struct {
	ID         string `json:"id"`
	GateID     string `json:"gateId"`
	TaskID     string `json:"taskId"`
	AgentID    string `json:"agentId"`
	Passed     bool   `json:"passed"`
	Output     string `json:"output,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
}

// GateState pairs a gate with its derived last-run status.
type GateState struct {
	Gate    Gate          `json:"gate"`
	Status  GateRunStatus `json:"status"`
	LastRun *GateRun      `json:"lastRun,omitempty"`
}

// Agent is a registered worker.
type AgentInfo struct {
	ID           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	RegisteredAt int64    `json:"registeredAt"`
	LastSeenAt   int64    `json:"lastSeenAt"`
}

// Comment is a free-form note attached to a task.
type Comment struct {
	ID        string `json:"id"`
	TaskID    string `json:"taskId"`
	AgentID   string `json:"agentId"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"createdAt"`
}

// Blocker flags a task as blocked until resolved.
type Blocker struct {
	ID          string `json:"id"`
	TaskID      string `json:"taskId"`
	AgentID     string `json:"agentId"`
	Description string `json:"description"`
	Resolved    bool   `json:"resolved"`
	CreatedAt   int64  `json:"createdAt"`
	ResolvedAt  int64  `json:"resolvedAt,omitempty"`
}

// WipLimit caps concurrent tasks in one status column.
type WipLimit struct {
	Status Status `json:"status"`
	Limit  int    `json:"limit"`
}

// Webhook is a registered event sink.
type Webhook struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	Events    []string `json:"events,omitempty"`
	CreatedAt int64    `json:"createdAt"`
}

// WebhookDelivery records one best-effort delivery attempt.
type WebhookDelivery struct {
	ID         string `json:"id"`
	WebhookID  string `json:"webhookId"`
	EventType  string `json:"eventType"`
	StatusCode int    `json:"statusCode,omitempty"`
	Error      string `json:"error,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
}
