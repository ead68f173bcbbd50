// Package taskgraph owns tasks, dependency edges, WIP limits, and readiness.
//
// Mutations append to the changelog and publish events; the coordinator
// serializes calls under the kernel write lock.
package taskgraph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tylerbuilds/scrum-mcp/internal/clock"
	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/eventbus"
	"github.com/tylerbuilds/scrum-mcp/internal/ids"
	"github.com/tylerbuilds/scrum-mcp/internal/kernelerr"
	"github.com/tylerbuilds/scrum-mcp/internal/logging"
	"github.com/tylerbuilds/scrum-mcp/internal/observability"
	"github.com/tylerbuilds/scrum-mcp/internal/store"
)

// Graph is the task, dependency, and WIP-limit evaluator.
type Graph struct {
	store   *store.Store
	clock   clock.Clock
	bus     *eventbus.Bus
	logger  logging.Logger
	metrics *observability.MetricsCollector
}

// New creates a task graph.
func New(st *store.Store, clk clock.Clock, bus *eventbus.Bus, logger logging.Logger, metrics *observability.MetricsCollector) *Graph {
	return &Graph{store: st, clock: clk, bus: bus, logger: logging.OrNop(logger), metrics: metrics}
}

// CreateTaskInput carries the caller-settable task fields.
type CreateTaskInput struct {
	Title         string
	Description   string
	Status        domain.Status
	Priority      domain.Priority
	AssignedAgent string
	DueDate       int64
	Labels        []string
	StoryPoints   int
}

// CreateTask assigns an id, applies defaults, persists, audits, publishes.
func (g *Graph) CreateTask(ctx context.Context, in CreateTaskInput) (*domain.Task, error) {
	if err := domain.ValidateTitle(in.Title); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}
	if err := domain.ValidateDescription(in.Description); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}
	if err := domain.ValidateStoryPoints(in.StoryPoints); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}
	status := in.Status
	if status == "" {
		status = domain.StatusBacklog
	}
	if !status.Valid() {
		return nil, kernelerr.Validation("unknown status %q", in.Status)
	}
	priority := in.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	if !priority.Valid() {
		return nil, kernelerr.Validation("unknown priority %q", in.Priority)
	}

	now := g.clock.NowMillis()
	task := &domain.Task{
		ID:            ids.NewTask(),
		Title:         in.Title,
		Description:   in.Description,
		Status:        status,
		Priority:      priority,
		AssignedAgent: in.AssignedAgent,
		DueDate:       in.DueDate,
		Labels:        append([]string{}, in.Labels...),
		StoryPoints:   in.StoryPoints,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if status == domain.StatusInProgress {
		task.StartedAt = now
	}
	if status == domain.StatusDone {
		task.StartedAt = now
		task.CompletedAt = now
	}

	if err := g.store.InsertTask(ctx, task); err != nil {
		return nil, err
	}
	if err := g.appendChangelog(ctx, task.ID, domain.ChangeTaskCreated,
		fmt.Sprintf("Task created: %s", task.Title)); err != nil {
		return nil, err
	}
	g.bus.Publish(eventbus.TypeTaskCreated, map[string]any{
		"taskId": task.ID,
		"title":  task.Title,
		"status": string(task.Status),
	})
	return task.Clone(), nil
}

// TaskUpdates carries optional field changes; nil means leave unchanged.
type TaskUpdates struct {
	Title         *string
	Description   *string
	Status        *domain.Status
	Priority      *domain.Priority
	AssignedAgent *string
	DueDate       *int64
	Labels        *[]string
	StoryPoints   *int
}

// UpdateOptions tunes precondition enforcement.
type UpdateOptions struct {
	EnforceDependencies bool
	EnforceWipLimits    bool
}

// DefaultUpdateOptions matches the kernel defaults: dependency readiness is
// enforced, WIP limits only warn.
func DefaultUpdateOptions() UpdateOptions {
	return UpdateOptions{EnforceDependencies: true, EnforceWipLimits: false}
}

// UpdateResult pairs the updated task with any soft-constraint warnings.
type UpdateResult struct {
	Task     *domain.Task `json:"task"`
	Warnings []string     `json:"warnings,omitempty"`
}

// UpdateTask applies field updates with the transition rules: dependency
// readiness on entry to in_progress, WIP limit on any status change,
// first-entry-only startedAt/completedAt stamps, changelog lines for status,
// assignment and priority changes.
func (g *Graph) UpdateTask(ctx context.Context, taskID string, updates TaskUpdates, opts UpdateOptions) (*UpdateResult, error) {
	existing, err := g.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var warnings []string
	statusChanging := updates.Status != nil && *updates.Status != existing.Status
	if statusChanging && !updates.Status.Valid() {
		return nil, kernelerr.Validation("unknown status %q", *updates.Status)
	}

	if statusChanging && *updates.Status == domain.StatusInProgress {
		ready, err := g.IsReady(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if !ready.Ready {
			msg := fmt.Sprintf("task %s is blocked by unfinished dependencies: %s",
				taskID, strings.Join(ready.BlockingTasks, ", "))
			if opts.EnforceDependencies {
				return nil, kernelerr.Validation("%s", msg)
			}
			warnings = append(warnings, msg)
		}
	}

	if statusChanging {
		wip, err := g.CheckWipLimit(ctx, *updates.Status)
		if err != nil {
			return nil, err
		}
		if !wip.Allowed {
			msg := fmt.Sprintf("WIP limit reached for %s: %d/%d", *updates.Status, wip.Count, wip.Limit)
			if opts.EnforceWipLimits {
				return nil, kernelerr.Validation("%s", msg)
			}
			warnings = append(warnings, msg)
		}
	}

	now := g.clock.NowMillis()
	prevStatus := existing.Status
	prevAssigned := existing.AssignedAgent
	prevPriority := existing.Priority

	if updates.Title != nil {
		if err := domain.ValidateTitle(*updates.Title); err != nil {
			return nil, kernelerr.Validation("%v", err)
		}
		existing.Title = *updates.Title
	}
	if updates.Description != nil {
		if err := domain.ValidateDescription(*updates.Description); err != nil {
			return nil, kernelerr.Validation("%v", err)
		}
		existing.Description = *updates.Description
	}
	if updates.Priority != nil {
		if !updates.Priority.Valid() {
			return nil, kernelerr.Validation("unknown priority %q", *updates.Priority)
		}
		existing.Priority = *updates.Priority
	}
	if updates.AssignedAgent != nil {
		existing.AssignedAgent = *updates.AssignedAgent
	}
	if updates.DueDate != nil {
		existing.DueDate = *updates.DueDate
	}
	if updates.Labels != nil {
		existing.Labels = append([]string{}, (*updates.Labels)...)
	}
	if updates.StoryPoints != nil {
		if err := domain.ValidateStoryPoints(*updates.StoryPoints); err != nil {
			return nil, kernelerr.Validation("%v", err)
		}
		existing.StoryPoints = *updates.StoryPoints
	}
	if updates.Status != nil {
		existing.Status = *updates.Status
		// First entry only: the stamps are never rewritten.
		if existing.Status == domain.StatusInProgress && existing.StartedAt == 0 {
			existing.StartedAt = now
		}
		if existing.Status == domain.StatusDone && existing.CompletedAt == 0 {
			existing.CompletedAt = now
		}
	}
	existing.UpdatedAt = now

	if err := g.store.UpdateTask(ctx, existing); err != nil {
		return nil, err
	}

	newlyDone := statusChanging && existing.Status == domain.StatusDone
	if statusChanging {
		changeType := domain.ChangeTaskStatus
		if newlyDone {
			changeType = domain.ChangeTaskDone
		}
		if err := g.appendChangelog(ctx, taskID, changeType,
			fmt.Sprintf("Status: %s -> %s", prevStatus, existing.Status)); err != nil {
			return nil, err
		}
		g.metrics.RecordTaskTransition(string(prevStatus), string(existing.Status))
	}
	if updates.AssignedAgent != nil && existing.AssignedAgent != prevAssigned {
		if err := g.appendChangelog(ctx, taskID, domain.ChangeTaskAssign,
			fmt.Sprintf("Assigned: %s -> %s", orUnassigned(prevAssigned), orUnassigned(existing.AssignedAgent))); err != nil {
			return nil, err
		}
	}
	if updates.Priority != nil && existing.Priority != prevPriority {
		if err := g.appendChangelog(ctx, taskID, domain.ChangeTaskPrio,
			fmt.Sprintf("Priority: %s -> %s", prevPriority, existing.Priority)); err != nil {
			return nil, err
		}
	}

	g.bus.Publish(eventbus.TypeTaskUpdated, map[string]any{
		"taskId": taskID,
		"status": string(existing.Status),
	})
	if newlyDone {
		g.bus.Publish(eventbus.TypeTaskCompleted, map[string]any{
			"taskId": taskID,
			"title":  existing.Title,
		})
	}

	return &UpdateResult{Task: existing.Clone(), Warnings: warnings}, nil
}

// GetTask returns a value copy of one task.
func (g *Graph) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	t, err := g.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// ListTasks returns tasks newest first.
func (g *Graph) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	return g.store.ListTasks(ctx, filter)
}

// AddDependency inserts the edge "taskID depends on dependsOnTaskID",
// rejecting self-loops, duplicates, and cycles.
func (g *Graph) AddDependency(ctx context.Context, taskID, dependsOnTaskID string) error {
	if taskID == dependsOnTaskID {
		return kernelerr.Validation("task %s cannot depend on itself", taskID)
	}
	for _, id := range []string{taskID, dependsOnTaskID} {
		ok, err := g.store.TaskExists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return kernelerr.NotFound("task %s not found", id)
		}
	}
	exists, err := g.store.DependencyExists(ctx, taskID, dependsOnTaskID)
	if err != nil {
		return err
	}
	if exists {
		return kernelerr.Validation("dependency %s -> %s already exists", taskID, dependsOnTaskID)
	}
	// Cycle check: the new edge closes a loop iff taskID is already
	// reachable from dependsOnTaskID over depends-on edges.
	reachable, err := g.reachable(ctx, dependsOnTaskID, taskID)
	if err != nil {
		return err
	}
	if reachable {
		return kernelerr.Validation("dependency %s -> %s would create a cycle", taskID, dependsOnTaskID)
	}

	dep := &domain.Dependency{TaskID: taskID, DependsOnTaskID: dependsOnTaskID, CreatedAt: g.clock.NowMillis()}
	if err := g.store.InsertDependency(ctx, dep); err != nil {
		return err
	}
	if err := g.appendChangelog(ctx, taskID, domain.ChangeDepAdded,
		fmt.Sprintf("Depends on %s", dependsOnTaskID)); err != nil {
		return err
	}
	g.bus.Publish(eventbus.TypeDependencyAdded, map[string]any{
		"taskId":          taskID,
		"dependsOnTaskId": dependsOnTaskID,
	})
	return nil
}

// RemoveDependency deletes the edge if present.
func (g *Graph) RemoveDependency(ctx context.Context, taskID, dependsOnTaskID string) error {
	removed, err := g.store.DeleteDependency(ctx, taskID, dependsOnTaskID)
	if err != nil {
		return err
	}
	if !removed {
		return kernelerr.NotFound("dependency %s -> %s not found", taskID, dependsOnTaskID)
	}
	if err := g.appendChangelog(ctx, taskID, domain.ChangeDepRemoved,
		fmt.Sprintf("No longer depends on %s", dependsOnTaskID)); err != nil {
		return err
	}
	g.bus.Publish(eventbus.TypeDependencyRemoved, map[string]any{
		"taskId":          taskID,
		"dependsOnTaskId": dependsOnTaskID,
	})
	return nil
}

// reachable walks depends-on edges from start looking for target.
func (g *Graph) reachable(ctx context.Context, start, target string) (bool, error) {
	visited := map[string]bool{}
	stack := []string{start}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == target {
			return true, nil
		}
		if visited[current] {
			continue
		}
		visited[current] = true
		next, err := g.store.DependenciesOf(ctx, current)
		if err != nil {
			return false, err
		}
		stack = append(stack, next...)
	}
	return false, nil
}

// Readiness reports whether a task's dependency closure is satisfied.
type Readiness struct {
	Ready         bool     `json:"ready"`
	BlockingTasks []string `json:"blockingTasks"`
}

// IsReady walks direct and transitive dependencies; every encountered task
// whose status is not done blocks readiness.
func (g *Graph) IsReady(ctx context.Context, taskID string) (*Readiness, error) {
	ok, err := g.store.TaskExists(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, kernelerr.NotFound("task %s not found", taskID)
	}

	visited := map[string]bool{taskID: true}
	var blocking []string
	stack, err := g.store.DependenciesOf(ctx, taskID)
	if err != nil {
		return nil, err
	}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[current] {
			continue
		}
		visited[current] = true

		dep, err := g.store.GetTask(ctx, current)
		if err != nil {
			if kernelerr.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if dep.Status != domain.StatusDone {
			blocking = append(blocking, current)
		}
		next, err := g.store.DependenciesOf(ctx, current)
		if err != nil {
			return nil, err
		}
		stack = append(stack, next...)
	}
	sort.Strings(blocking)
	if blocking == nil {
		blocking = []string{}
	}
	return &Readiness{Ready: len(blocking) == 0, BlockingTasks: blocking}, nil
}

// WipCheck is the result of a WIP-limit evaluation.
type WipCheck struct {
	Allowed bool `json:"allowed"`
	Count   int  `json:"count"`
	Limit   int  `json:"limit,omitempty"`
}

// CheckWipLimit evaluates the cap for a status. Cancelled is always allowed.
func (g *Graph) CheckWipLimit(ctx context.Context, status domain.Status) (*WipCheck, error) {
	if status == domain.StatusCancelled {
		return &WipCheck{Allowed: true}, nil
	}
	count, err := g.store.CountTasksInStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	limit, err := g.store.GetWipLimit(ctx, status)
	if err != nil {
		return nil, err
	}
	if limit == 0 {
		return &WipCheck{Allowed: true, Count: count}, nil
	}
	return &WipCheck{Allowed: count < limit, Count: count, Limit: limit}, nil
}

// SetWipLimit configures the cap for a status column.
func (g *Graph) SetWipLimit(ctx context.Context, status domain.Status, limit int) error {
	if err := domain.ValidateWipLimit(status, limit); err != nil {
		return kernelerr.Validation("%v", err)
	}
	return g.store.SetWipLimit(ctx, status, limit)
}

// ClearWipLimit removes the cap for a status column.
func (g *Graph) ClearWipLimit(ctx context.Context, status domain.Status) error {
	return g.store.ClearWipLimit(ctx, status)
}

// ListWipLimits returns all configured caps.
func (g *Graph) ListWipLimits(ctx context.Context) ([]domain.WipLimit, error) {
	return g.store.ListWipLimits(ctx)
}

// BoardFilter narrows the board query.
type BoardFilter struct {
	AssignedAgent string
}

// Board returns tasks grouped by status, cancelled excluded. Within a column
// tasks order by priority (critical first) then createdAt ascending.
func (g *Graph) Board(ctx context.Context, filter BoardFilter) (map[domain.Status][]*domain.Task, error) {
	tasks, err := g.store.ListTasks(ctx, store.TaskFilter{AssignedAgent: filter.AssignedAgent})
	if err != nil {
		return nil, err
	}
	board := map[domain.Status][]*domain.Task{
		domain.StatusBacklog:    {},
		domain.StatusTodo:       {},
		domain.StatusInProgress: {},
		domain.StatusReview:     {},
		domain.StatusDone:       {},
	}
	for _, t := range tasks {
		if t.Status == domain.StatusCancelled {
			continue
		}
		board[t.Status] = append(board[t.Status], t)
	}
	for _, column := range board {
		sort.SliceStable(column, func(i, j int) bool {
			if column[i].Priority.Rank() != column[j].Priority.Rank() {
				return column[i].Priority.Rank() < column[j].Priority.Rank()
			}
			return column[i].CreatedAt < column[j].CreatedAt
		})
	}
	return board, nil
}

func (g *Graph) appendChangelog(ctx context.Context, taskID string, changeType domain.ChangeType, summary string) error {
	entry := &domain.ChangelogEntry{
		ID:         ids.NewChange(),
		TaskID:     taskID,
		AgentID:    domain.Kernel().String(),
		FilePath:   domain.TaskFilePath(taskID),
		ChangeType: changeType,
		Summary:    summary,
		CreatedAt:  g.clock.NowMillis(),
	}
	return g.store.InsertChangelog(ctx, entry)
}

func orUnassigned(agent string) string {
	if agent == "" {
		return "unassigned"
	}
	return agent
}
