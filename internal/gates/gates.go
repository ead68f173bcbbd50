// Package gates defines quality gates and evaluates their pass/fail state.
//
// The kernel never executes gate commands. Agents run them and report results;
// the evaluator stores the run records and derives per-gate state from the
// most recent run only.
package gates

import (
	"context"
	"fmt"
	"strings"

	"github.com/tylerbuilds/scrum-mcp/internal/clock"
	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/eventbus"
	"github.com/tylerbuilds/scrum-mcp/internal/ids"
	"github.com/tylerbuilds/scrum-mcp/internal/kernelerr"
	"github.com/tylerbuilds/scrum-mcp/internal/logging"
	"github.com/tylerbuilds/scrum-mcp/internal/store"
)

// allowedCommandPrefixes is the closed set of tool invocations a gate command
// may start with.
var allowedCommandPrefixes = []string{
	"npm ", "pnpm ", "yarn ", "bun ",
	"pytest ", "jest ", "vitest ", "mocha ",
	"eslint ", "tsc ", "prettier ",
	"cargo ", "go ", "make ", "docker ", "kubectl ",
}

// shellMetaChars are rejected anywhere in a gate command. The command is
// recorded verbatim and later shown to humans and agents; none of these have
// a legitimate place in a plain tool invocation.
const shellMetaChars = ";&|`$(){}[]<>\\!\n"

// ValidateCommand enforces the allowlist-prefix and metacharacter rules.
func ValidateCommand(command string) error {
	if err := domain.ValidateCommand(command); err != nil {
		return err
	}
	if strings.ContainsAny(command, shellMetaChars) {
		return fmt.Errorf("command contains forbidden shell characters")
	}
	for _, prefix := range allowedCommandPrefixes {
		if strings.HasPrefix(command, prefix) {
			return nil
		}
	}
	return fmt.Errorf("command must start with an allowed tool (e.g. %q)", "npm test")
}

// Evaluator owns gate definitions and run records.
type Evaluator struct {
	store  *store.Store
	clock  clock.Clock
	bus    *eventbus.Bus
	logger logging.Logger
}

// New creates a gate evaluator.
func New(st *store.Store, clk clock.Clock, bus *eventbus.Bus, logger logging.Logger) *Evaluator {
	return &Evaluator{store: st, clock: clk, bus: bus, logger: logging.OrNop(logger)}
}

// DefineInput carries the caller-settable gate fields.
type DefineInput struct {
	TaskID        string
	GateType      domain.GateType
	Command       string
	TriggerStatus domain.Status
	Required      bool
}

// Define registers a gate on a task.
func (e *Evaluator) Define(ctx context.Context, in DefineInput) (*domain.Gate, error) {
	ok, err := e.store.TaskExists(ctx, in.TaskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, kernelerr.NotFound("task %s not found", in.TaskID)
	}
	if !in.GateType.Valid() {
		return nil, kernelerr.Validation("unknown gate type %q", in.GateType)
	}
	if err := ValidateCommand(in.Command); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}
	trigger := in.TriggerStatus
	if trigger == "" {
		trigger = domain.StatusReview
	}
	if !trigger.Valid() {
		return nil, kernelerr.Validation("unknown trigger status %q", in.TriggerStatus)
	}

	gate := &domain.Gate{
		ID:            ids.NewGate(),
		TaskID:        in.TaskID,
		GateType:      in.GateType,
		Command:       in.Command,
		TriggerStatus: trigger,
		Required:      in.Required,
		CreatedAt:     e.clock.NowMillis(),
	}
	if err := e.store.InsertGate(ctx, gate); err != nil {
		return nil, err
	}
	return gate, nil
}

// RecordRunInput carries an agent's reported gate execution.
type RecordRunInput struct {
	GateID     string
	AgentID    string
	Passed     bool
	Output     string
	DurationMs int64
}

// RecordRun stores an immutable run record. Output is clipped at the stored
// maximum. A newer run fully supersedes older ones for state derivation.
func (e *Evaluator) RecordRun(ctx context.Context, in RecordRunInput) (*domain.GateRun, error) {
	if err := domain.ValidateAgentID(in.AgentID); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}
	if err := domain.ValidateOutput(in.Output); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}
	gate, err := e.store.GetGate(ctx, in.GateID)
	if err != nil {
		return nil, err
	}

	run := &domain.GateRun{
		ID:         ids.NewGateRun(),
		GateID:     gate.ID,
		TaskID:     gate.TaskID,
		AgentID:    in.AgentID,
		Passed:     in.Passed,
		Output:     domain.ClipOutput(in.Output),
		DurationMs: in.DurationMs,
		CreatedAt:  e.clock.NowMillis(),
	}
	if err := e.store.InsertGateRun(ctx, run); err != nil {
		return nil, err
	}

	e.bus.Publish(eventbus.TypeGateRun, map[string]any{
		"gateId":  gate.ID,
		"taskId":  gate.TaskID,
		"agentId": in.AgentID,
		"passed":  in.Passed,
	})
	result := eventbus.TypeGatePassed
	if !in.Passed {
		result = eventbus.TypeGateFailed
	}
	e.bus.Publish(result, map[string]any{
		"gateId":   gate.ID,
		"taskId":   gate.TaskID,
		"gateType": string(gate.GateType),
	})
	return run, nil
}

// TaskGateStatus is the aggregate gate view for one task.
type TaskGateStatus struct {
	Gates     []domain.GateState `json:"gates"`
	AllPassed bool               `json:"allPassed"`
	BlockedBy []string           `json:"blockedBy"`
}

// Status derives per-gate state for the gates bound to one trigger status,
// from each gate's latest run. BlockedBy lists required gates whose latest run
// did not pass (or that never ran); optional gates never block, so AllPassed
// is simply BlockedBy being empty.
func (e *Evaluator) Status(ctx context.Context, taskID string, forStatus domain.Status) (*TaskGateStatus, error) {
	if !forStatus.Valid() {
		return nil, kernelerr.Validation("unknown trigger status %q", forStatus)
	}
	ok, err := e.store.TaskExists(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, kernelerr.NotFound("task %s not found", taskID)
	}
	bound, err := e.store.ListGatesByTrigger(ctx, taskID, forStatus)
	if err != nil {
		return nil, err
	}

	out := &TaskGateStatus{Gates: []domain.GateState{}, BlockedBy: []string{}}
	for _, gate := range bound {
		last, err := e.store.LastGateRun(ctx, gate.ID)
		if err != nil {
			return nil, err
		}
		state := domain.GateState{Gate: *gate, Status: domain.GateNotRun, LastRun: last}
		if last != nil {
			if last.Passed {
				state.Status = domain.GatePassed
			} else {
				state.Status = domain.GateFailed
			}
		}
		if state.Status != domain.GatePassed && gate.Required {
			out.BlockedBy = append(out.BlockedBy, gate.ID)
		}
		out.Gates = append(out.Gates, state)
	}
	out.AllPassed = len(out.BlockedBy) == 0
	return out, nil
}

// ForTrigger returns the task's gates bound to one trigger status.
func (e *Evaluator) ForTrigger(ctx context.Context, taskID string, trigger domain.Status) ([]*domain.Gate, error) {
	return e.store.ListGatesByTrigger(ctx, taskID, trigger)
}
