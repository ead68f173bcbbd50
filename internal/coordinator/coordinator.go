// Package coordinator is the single public entry point to the kernel.
//
// Every write operation runs under one mutex: validate preconditions, mutate
// the store, append audit entries, publish events, release. Reads take the
// read lock. The claim conflict scan is only correct because of this
// serialization.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/tylerbuilds/scrum-mcp/internal/claims"
	"github.com/tylerbuilds/scrum-mcp/internal/clock"
	"github.com/tylerbuilds/scrum-mcp/internal/compliance"
	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/eventbus"
	"github.com/tylerbuilds/scrum-mcp/internal/gates"
	"github.com/tylerbuilds/scrum-mcp/internal/ids"
	"github.com/tylerbuilds/scrum-mcp/internal/kernelerr"
	"github.com/tylerbuilds/scrum-mcp/internal/logging"
	"github.com/tylerbuilds/scrum-mcp/internal/observability"
	"github.com/tylerbuilds/scrum-mcp/internal/store"
	"github.com/tylerbuilds/scrum-mcp/internal/taskgraph"
)

// Coordinator composes the kernel engines behind one lock.
type Coordinator struct {
	mu sync.RWMutex

	store      *store.Store
	clock      clock.Clock
	bus        *eventbus.Bus
	claims     *claims.Engine
	graph      *taskgraph.Graph
	gates      *gates.Evaluator
	compliance *compliance.Checker

	logger     logging.Logger
	metrics    *observability.MetricsCollector
	strictMode bool
	startedAt  int64
}

// Option configures the coordinator.
type Option func(*Coordinator)

// WithLogger attaches a logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Coordinator) { c.logger = logging.OrNop(logger) }
}

// WithMetrics attaches the metrics collector.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(c *Coordinator) { c.metrics = metrics }
}

// WithStrictMode toggles enforcement of required gates on status transitions.
// When off, unmet gates produce warnings instead of rejections.
func WithStrictMode(strict bool) Option {
	return func(c *Coordinator) { c.strictMode = strict }
}

// New wires the engines over a shared store, clock, and bus.
func New(st *store.Store, clk clock.Clock, bus *eventbus.Bus, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      st,
		clock:      clk,
		bus:        bus,
		logger:     logging.Nop(),
		strictMode: true,
		startedAt:  clk.NowMillis(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.claims = claims.New(st, clk, bus, c.logger, c.metrics)
	c.graph = taskgraph.New(st, clk, bus, c.logger, c.metrics)
	c.gates = gates.New(st, clk, bus, c.logger)
	c.compliance = compliance.New(st, clk, c.logger)
	return c
}

// Bus exposes the event bus for transports that stream events.
func (c *Coordinator) Bus() *eventbus.Bus {
	return c.bus
}

func (c *Coordinator) timeOp(op string) func() {
	start := time.Now()
	return func() {
		c.metrics.RecordOpLatency(op, float64(time.Since(start).Microseconds())/1000.0)
	}
}

// --- Tasks ---

// CreateTask creates a task on the board.
func (c *Coordinator) CreateTask(ctx context.Context, in taskgraph.CreateTaskInput) (*domain.Task, error) {
	defer c.timeOp("task.create")()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.CreateTask(ctx, in)
}

// UpdateTask applies field updates. In strict mode, entering a status that
// has unmet required gates is rejected; otherwise the result carries warnings.
func (c *Coordinator) UpdateTask(ctx context.Context, taskID string, updates taskgraph.TaskUpdates, opts taskgraph.UpdateOptions) (*taskgraph.UpdateResult, error) {
	defer c.timeOp("task.update")()
	c.mu.Lock()
	defer c.mu.Unlock()

	var gateWarnings []string
	if updates.Status != nil {
		blocked, err := c.unmetRequiredGates(ctx, taskID, *updates.Status)
		if err != nil {
			return nil, err
		}
		if len(blocked) > 0 {
			if c.strictMode {
				return nil, kernelerr.Conflict("required gates not passed for %s: %v", *updates.Status, blocked)
			}
			for _, id := range blocked {
				gateWarnings = append(gateWarnings, "required gate not passed: "+id)
			}
		}
	}

	result, err := c.graph.UpdateTask(ctx, taskID, updates, opts)
	if err != nil {
		return nil, err
	}
	result.Warnings = append(result.Warnings, gateWarnings...)
	return result, nil
}

// unmetRequiredGates returns required gate ids bound to the trigger status
// whose latest run did not pass.
func (c *Coordinator) unmetRequiredGates(ctx context.Context, taskID string, trigger domain.Status) ([]string, error) {
	bound, err := c.gates.ForTrigger(ctx, taskID, trigger)
	if err != nil {
		return nil, err
	}
	var blocked []string
	for _, gate := range bound {
		if !gate.Required {
			continue
		}
		last, err := c.store.LastGateRun(ctx, gate.ID)
		if err != nil {
			return nil, err
		}
		if last == nil || !last.Passed {
			blocked = append(blocked, gate.ID)
		}
	}
	return blocked, nil
}

// GetTask returns one task.
func (c *Coordinator) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.graph.GetTask(ctx, taskID)
}

// ListTasks returns tasks newest first.
func (c *Coordinator) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.graph.ListTasks(ctx, filter)
}

// Board returns the kanban view.
func (c *Coordinator) Board(ctx context.Context, filter taskgraph.BoardFilter) (map[domain.Status][]*domain.Task, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.graph.Board(ctx, filter)
}

// AddDependency inserts a dependency edge.
func (c *Coordinator) AddDependency(ctx context.Context, taskID, dependsOnTaskID string) error {
	defer c.timeOp("dependency.add")()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.AddDependency(ctx, taskID, dependsOnTaskID)
}

// RemoveDependency deletes a dependency edge.
func (c *Coordinator) RemoveDependency(ctx context.Context, taskID, dependsOnTaskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.RemoveDependency(ctx, taskID, dependsOnTaskID)
}

// IsReady reports dependency readiness for a task.
func (c *Coordinator) IsReady(ctx context.Context, taskID string) (*taskgraph.Readiness, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.graph.IsReady(ctx, taskID)
}

// CheckWipLimit evaluates the WIP cap for a status.
func (c *Coordinator) CheckWipLimit(ctx context.Context, status domain.Status) (*taskgraph.WipCheck, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.graph.CheckWipLimit(ctx, status)
}

// SetWipLimit configures a column cap.
func (c *Coordinator) SetWipLimit(ctx context.Context, status domain.Status, limit int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.SetWipLimit(ctx, status, limit)
}

// ClearWipLimit removes a column cap.
func (c *Coordinator) ClearWipLimit(ctx context.Context, status domain.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.ClearWipLimit(ctx, status)
}

// ListWipLimits returns all configured caps.
func (c *Coordinator) ListWipLimits(ctx context.Context) ([]domain.WipLimit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.graph.ListWipLimits(ctx)
}

// --- Claims ---

// CreateClaim attempts to lease files for an agent.
func (c *Coordinator) CreateClaim(ctx context.Context, agentID string, files []string, ttlSeconds int) (*claims.CreateResult, error) {
	defer c.timeOp("claim.create")()
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := domain.ValidateTTLSeconds(ttlSeconds); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}
	return c.claims.Create(ctx, agentID, files, ttlSeconds)
}

// ReleaseClaims releases leases; all of the agent's when files is empty.
func (c *Coordinator) ReleaseClaims(ctx context.Context, agentID string, files []string) (int, error) {
	defer c.timeOp("claim.release")()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claims.Release(ctx, agentID, files)
}

// ExtendClaims pushes lease expiry forward.
func (c *Coordinator) ExtendClaims(ctx context.Context, agentID string, additionalSeconds int, files []string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claims.Extend(ctx, agentID, additionalSeconds, files)
}

// ListClaims returns one aggregate claim per agent. It takes the write lock
// because it prunes first.
func (c *Coordinator) ListClaims(ctx context.Context) ([]domain.Claim, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claims.ListActive(ctx)
}

// AgentClaimFiles returns the live file paths one agent holds.
func (c *Coordinator) AgentClaimFiles(ctx context.Context, agentID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claims.AgentFiles(ctx, agentID)
}

// --- Intents ---

// PostIntentInput declares an agent's planned edit set for a task.
type PostIntentInput struct {
	TaskID             string
	AgentID            string
	Files              []string
	Boundaries         []string
	AcceptanceCriteria string
}

// PostIntent records an immutable intent declaration.
func (c *Coordinator) PostIntent(ctx context.Context, in PostIntentInput) (*domain.Intent, error) {
	defer c.timeOp("intent.post")()
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := domain.ValidateTaskID(in.TaskID); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}
	if err := domain.ValidateAgentID(in.AgentID); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}
	if err := domain.ValidateFiles(in.Files); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}
	if err := domain.ValidateAcceptanceCriteria(in.AcceptanceCriteria); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}
	ok, err := c.store.TaskExists(ctx, in.TaskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, kernelerr.NotFound("task %s not found", in.TaskID)
	}

	intent := &domain.Intent{
		ID:                 ids.NewIntent(),
		TaskID:             in.TaskID,
		AgentID:            in.AgentID,
		Files:              append([]string{}, in.Files...),
		Boundaries:         append([]string{}, in.Boundaries...),
		AcceptanceCriteria: in.AcceptanceCriteria,
		CreatedAt:          c.clock.NowMillis(),
	}
	if err := c.store.InsertIntent(ctx, intent); err != nil {
		return nil, err
	}
	c.bus.Publish(eventbus.TypeIntentPosted, map[string]any{
		"intentId": intent.ID,
		"taskId":   intent.TaskID,
		"agentId":  intent.AgentID,
		"files":    intent.Files,
	})
	return intent, nil
}

// ListIntents returns intents for a task, oldest first.
func (c *Coordinator) ListIntents(ctx context.Context, taskID string) ([]*domain.Intent, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.ListIntentsByTask(ctx, taskID)
}

// --- Evidence ---

// AttachEvidenceInput carries one proof record.
type AttachEvidenceInput struct {
	TaskID  string
	AgentID string
	Command string
	Output  string
}

// AttachEvidence stores one immutable (command, output) record; output is
// clipped at the stored maximum.
func (c *Coordinator) AttachEvidence(ctx context.Context, in AttachEvidenceInput) (*domain.Evidence, error) {
	defer c.timeOp("evidence.attach")()
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := domain.ValidateTaskID(in.TaskID); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}
	if err := domain.ValidateAgentID(in.AgentID); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}
	if err := domain.ValidateCommand(in.Command); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}
	if err := domain.ValidateOutput(in.Output); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}
	ok, err := c.store.TaskExists(ctx, in.TaskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, kernelerr.NotFound("task %s not found", in.TaskID)
	}

	ev := &domain.Evidence{
		ID:        ids.NewEvidence(),
		TaskID:    in.TaskID,
		AgentID:   in.AgentID,
		Command:   in.Command,
		Output:    domain.ClipOutput(in.Output),
		CreatedAt: c.clock.NowMillis(),
	}
	if err := c.store.InsertEvidence(ctx, ev); err != nil {
		return nil, err
	}
	c.bus.Publish(eventbus.TypeEvidenceAttached, map[string]any{
		"evidenceId": ev.ID,
		"taskId":     ev.TaskID,
		"agentId":    ev.AgentID,
		"command":    ev.Command,
	})
	return ev, nil
}

// ListEvidence returns evidence for a task, oldest first.
func (c *Coordinator) ListEvidence(ctx context.Context, taskID string) ([]*domain.Evidence, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.ListEvidenceByTask(ctx, taskID)
}

// --- Changelog ---

// LogChangeInput carries one audit entry. Author defaults to the kernel.
type LogChangeInput struct {
	TaskID      string
	Author      domain.Author
	FilePath    string
	ChangeType  domain.ChangeType
	Summary     string
	DiffSnippet string
	CommitHash  string
}

// LogChange appends to the audit log. File-change entries also publish the
// matching file event for live consumers.
func (c *Coordinator) LogChange(ctx context.Context, in LogChangeInput) (*domain.ChangelogEntry, error) {
	defer c.timeOp("changelog.log")()
	c.mu.Lock()
	defer c.mu.Unlock()

	if !in.ChangeType.Valid() {
		return nil, kernelerr.Validation("unknown change type %q", in.ChangeType)
	}
	if in.FilePath == "" {
		return nil, kernelerr.Validation("filePath is required")
	}
	if in.TaskID != "" {
		ok, err := c.store.TaskExists(ctx, in.TaskID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, kernelerr.NotFound("task %s not found", in.TaskID)
		}
	}

	entry := &domain.ChangelogEntry{
		ID:          ids.NewChange(),
		TaskID:      in.TaskID,
		AgentID:     in.Author.String(),
		FilePath:    in.FilePath,
		ChangeType:  in.ChangeType,
		Summary:     in.Summary,
		DiffSnippet: in.DiffSnippet,
		CommitHash:  in.CommitHash,
		CreatedAt:   c.clock.NowMillis(),
	}
	if err := c.store.InsertChangelog(ctx, entry); err != nil {
		return nil, err
	}

	c.bus.Publish(eventbus.TypeChangelogLogged, map[string]any{
		"changeId":   entry.ID,
		"taskId":     entry.TaskID,
		"filePath":   entry.FilePath,
		"changeType": string(entry.ChangeType),
	})
	if in.ChangeType.IsFileChange() {
		c.bus.Publish(fileEventType(in.ChangeType), map[string]any{
			"filePath": entry.FilePath,
			"agentId":  entry.AgentID,
		})
	}
	return entry, nil
}

func fileEventType(ct domain.ChangeType) string {
	switch ct {
	case domain.ChangeFileCreate:
		return eventbus.TypeFileAdded
	case domain.ChangeFileDelete:
		return eventbus.TypeFileDeleted
	default:
		return eventbus.TypeFileChanged
	}
}

// Changelog returns audit entries newest first.
func (c *Coordinator) Changelog(ctx context.Context, filter store.ChangelogFilter) ([]*domain.ChangelogEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.ListChangelog(ctx, filter)
}

// --- Gates ---

// DefineGate registers a quality gate on a task.
func (c *Coordinator) DefineGate(ctx context.Context, in gates.DefineInput) (*domain.Gate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gates.Define(ctx, in)
}

// RecordGateRun stores an agent-reported gate execution.
func (c *Coordinator) RecordGateRun(ctx context.Context, in gates.RecordRunInput) (*domain.GateRun, error) {
	defer c.timeOp("gate.run")()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gates.RecordRun(ctx, in)
}

// GateStatus derives the gate view for a task's gates bound to one trigger
// status.
func (c *Coordinator) GateStatus(ctx context.Context, taskID string, forStatus domain.Status) (*gates.TaskGateStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gates.Status(ctx, taskID, forStatus)
}

// --- Compliance ---

// Compliance evaluates the protocol checks for one (task, agent) pair. The
// result is advisory; callers decide whether to block completion on it.
func (c *Coordinator) Compliance(ctx context.Context, taskID, agentID string) (*compliance.Report, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.compliance.Evaluate(ctx, taskID, agentID)
}

// --- Agents ---

// RegisterAgent registers or refreshes an agent record.
func (c *Coordinator) RegisterAgent(ctx context.Context, agentID, name string, capabilities []string) (*domain.AgentInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := domain.ValidateAgentID(agentID); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}
	now := c.clock.NowMillis()
	agent := &domain.AgentInfo{
		ID:           agentID,
		Name:         name,
		Capabilities: append([]string{}, capabilities...),
		RegisteredAt: now,
		LastSeenAt:   now,
	}
	if err := c.store.UpsertAgent(ctx, agent); err != nil {
		return nil, err
	}
	c.bus.Publish(eventbus.TypeAgentRegistered, map[string]any{
		"agentId": agentID,
		"name":    name,
	})
	return agent, nil
}

// Heartbeat refreshes an agent's last-seen timestamp.
func (c *Coordinator) Heartbeat(ctx context.Context, agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok, err := c.store.TouchAgent(ctx, agentID, c.clock.NowMillis())
	if err != nil {
		return err
	}
	if !ok {
		return kernelerr.NotFound("agent %s not registered", agentID)
	}
	c.bus.Publish(eventbus.TypeAgentHeartbeat, map[string]any{"agentId": agentID})
	return nil
}

// ListAgents returns registered agents, most recently seen first.
func (c *Coordinator) ListAgents(ctx context.Context) ([]*domain.AgentInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.ListAgents(ctx)
}

// --- Comments ---

// AddComment attaches a note to a task.
func (c *Coordinator) AddComment(ctx context.Context, taskID, agentID, body string) (*domain.Comment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := domain.ValidateAgentID(agentID); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}
	if body == "" {
		return nil, kernelerr.Validation("body is required")
	}
	ok, err := c.store.TaskExists(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, kernelerr.NotFound("task %s not found", taskID)
	}

	comment := &domain.Comment{
		ID:        ids.NewComment(),
		TaskID:    taskID,
		AgentID:   agentID,
		Body:      body,
		CreatedAt: c.clock.NowMillis(),
	}
	if err := c.store.InsertComment(ctx, comment); err != nil {
		return nil, err
	}
	if err := c.appendTaskChangelog(ctx, taskID, domain.Agent(agentID), domain.ChangeCommentAdd, "Comment added"); err != nil {
		return nil, err
	}
	c.bus.Publish(eventbus.TypeCommentAdded, map[string]any{
		"commentId": comment.ID,
		"taskId":    taskID,
		"agentId":   agentID,
	})
	return comment, nil
}

// ListComments returns comments for a task, oldest first.
func (c *Coordinator) ListComments(ctx context.Context, taskID string) ([]*domain.Comment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.ListCommentsByTask(ctx, taskID)
}

// --- Blockers ---

// AddBlocker flags a task as blocked.
func (c *Coordinator) AddBlocker(ctx context.Context, taskID, agentID, description string) (*domain.Blocker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := domain.ValidateAgentID(agentID); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}
	if description == "" {
		return nil, kernelerr.Validation("description is required")
	}
	ok, err := c.store.TaskExists(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, kernelerr.NotFound("task %s not found", taskID)
	}

	blocker := &domain.Blocker{
		ID:          ids.NewBlocker(),
		TaskID:      taskID,
		AgentID:     agentID,
		Description: description,
		CreatedAt:   c.clock.NowMillis(),
	}
	if err := c.store.InsertBlocker(ctx, blocker); err != nil {
		return nil, err
	}
	if err := c.appendTaskChangelog(ctx, taskID, domain.Agent(agentID), domain.ChangeBlockerAdd,
		"Blocker: "+description); err != nil {
		return nil, err
	}
	c.bus.Publish(eventbus.TypeBlockerAdded, map[string]any{
		"blockerId": blocker.ID,
		"taskId":    taskID,
		"agentId":   agentID,
	})
	return blocker, nil
}

// ResolveBlocker marks a blocker resolved. Resolving twice is a conflict.
func (c *Coordinator) ResolveBlocker(ctx context.Context, blockerID string) (*domain.Blocker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	blocker, err := c.store.GetBlocker(ctx, blockerID)
	if err != nil {
		return nil, err
	}
	resolved, err := c.store.ResolveBlocker(ctx, blockerID, c.clock.NowMillis())
	if err != nil {
		return nil, err
	}
	if !resolved {
		return nil, kernelerr.Conflict("blocker %s already resolved", blockerID)
	}
	if err := c.appendTaskChangelog(ctx, blocker.TaskID, domain.Kernel(), domain.ChangeBlockerFix,
		"Blocker resolved: "+blocker.Description); err != nil {
		return nil, err
	}
	c.bus.Publish(eventbus.TypeBlockerResolved, map[string]any{
		"blockerId": blockerID,
		"taskId":    blocker.TaskID,
	})
	return c.store.GetBlocker(ctx, blockerID)
}

// ListBlockers returns blockers for a task, oldest first.
func (c *Coordinator) ListBlockers(ctx context.Context, taskID string) ([]*domain.Blocker, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.ListBlockersByTask(ctx, taskID)
}

// --- Feed / events ---

// Feed returns up to limit recent events from the ring, oldest first.
func (c *Coordinator) Feed(limit int) []eventbus.Event {
	return c.bus.Recent(limit)
}

// Subscribe attaches a live event subscriber.
func (c *Coordinator) Subscribe(buffer int) *eventbus.Subscriber {
	c.metrics.SubscriberConnected()
	return c.bus.Subscribe(buffer)
}

// Unsubscribe detaches a subscriber.
func (c *Coordinator) Unsubscribe(sub *eventbus.Subscriber) {
	c.bus.Unsubscribe(sub)
	c.metrics.SubscriberDisconnected()
}

// --- Status ---

// StatusSnapshot is the aggregate server view.
type StatusSnapshot struct {
	Now          int64                 `json:"now"`
	UptimeMs     int64                 `json:"uptimeMs"`
	Tasks        map[domain.Status]int `json:"tasks"`
	TotalTasks   int                   `json:"totalTasks"`
	ActiveClaims int                   `json:"activeClaims"`
	Agents       int                   `json:"agents"`
	Subscribers  int                   `json:"subscribers"`
	StrictMode   bool                  `json:"strictMode"`
}

// Status returns the aggregate snapshot. It takes the write lock because the
// claim count prunes first.
func (c *Coordinator) Status(ctx context.Context) (*StatusSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.NowMillis()
	snap := &StatusSnapshot{
		Now:         now,
		UptimeMs:    now - c.startedAt,
		Tasks:       map[domain.Status]int{},
		Subscribers: c.bus.SubscriberCount(),
		StrictMode:  c.strictMode,
	}
	for _, status := range domain.Statuses {
		n, err := c.store.CountTasksInStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		snap.Tasks[status] = n
		snap.TotalTasks += n
	}
	active, err := c.claims.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	snap.ActiveClaims = len(active)
	agents, err := c.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	snap.Agents = len(agents)
	return snap, nil
}

func (c *Coordinator) appendTaskChangelog(ctx context.Context, taskID string, author domain.Author, changeType domain.ChangeType, summary string) error {
	entry := &domain.ChangelogEntry{
		ID:         ids.NewChange(),
		TaskID:     taskID,
		AgentID:    author.String(),
		FilePath:   domain.TaskFilePath(taskID),
		ChangeType: changeType,
		Summary:    summary,
		CreatedAt:  c.clock.NowMillis(),
	}
	return c.store.InsertChangelog(ctx, entry)
}
