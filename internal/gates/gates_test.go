package gates

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tylerbuilds/scrum-mcp/internal/clock"
	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/eventbus"
	"github.com/tylerbuilds/scrum-mcp/internal/ids"
	"github.com/tylerbuilds/scrum-mcp/internal/kernelerr"
	"github.com/tylerbuilds/scrum-mcp/internal/store"
)

func TestValidateCommand(t *testing.T) {
	valid := []string{
		"npm test",
		"go test ./...",
		"cargo check --all",
		"make lint",
		"pytest -x tests/",
	}
	for _, cmd := range valid {
		require.NoError(t, ValidateCommand(cmd), cmd)
	}

	invalid := []string{
		"",
		"rm -rf /",
		"python run.py",
		"npm test; rm -rf /",
		"go test $(whoami)",
		"make build && make deploy",
		"npm test | tee out.log",
		"go test `id`",
		"npm test > /dev/null",
		"eslint {src}",
		"npm test\nrm x",
	}
	for _, cmd := range invalid {
		require.Error(t, ValidateCommand(cmd), cmd)
	}
}

func newTestEvaluator(t *testing.T) (*Evaluator, *store.Store, *eventbus.Bus, string) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fake := clock.NewFake(1_700_000_000_000)
	bus := eventbus.New(fake)

	task := &domain.Task{
		ID:        ids.NewTask(),
		Title:     "gated work",
		Status:    domain.StatusInProgress,
		Priority:  domain.PriorityMedium,
		CreatedAt: fake.NowMillis(),
		UpdatedAt: fake.NowMillis(),
	}
	require.NoError(t, st.InsertTask(ctx, task))

	return New(st, fake, bus, nil), st, bus, task.ID
}

func TestDefineGate(t *testing.T) {
	eval, _, _, taskID := newTestEvaluator(t)
	ctx := context.Background()

	gate, err := eval.Define(ctx, DefineInput{
		TaskID:   taskID,
		GateType: domain.GateTest,
		Command:  "npm test",
		Required: true,
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusReview, gate.TriggerStatus)

	_, err = eval.Define(ctx, DefineInput{TaskID: "task-nope", GateType: domain.GateTest, Command: "npm test"})
	require.True(t, kernelerr.IsNotFound(err))

	_, err = eval.Define(ctx, DefineInput{TaskID: taskID, GateType: domain.GateTest, Command: "sudo reboot"})
	require.True(t, kernelerr.IsValidation(err))

	_, err = eval.Define(ctx, DefineInput{TaskID: taskID, GateType: "vibes", Command: "npm test"})
	require.True(t, kernelerr.IsValidation(err))
}

func TestLastRunWins(t *testing.T) {
	eval, _, _, taskID := newTestEvaluator(t)
	ctx := context.Background()

	gate, err := eval.Define(ctx, DefineInput{
		TaskID: taskID, GateType: domain.GateTest, Command: "go test ./...", Required: true,
	})
	require.NoError(t, err)

	status, err := eval.Status(ctx, taskID, domain.StatusReview)
	require.NoError(t, err)
	require.False(t, status.AllPassed)
	require.Equal(t, []string{gate.ID}, status.BlockedBy)
	require.Equal(t, domain.GateNotRun, status.Gates[0].Status)

	_, err = eval.RecordRun(ctx, RecordRunInput{GateID: gate.ID, AgentID: "agent-a", Passed: false, Output: "FAIL"})
	require.NoError(t, err)
	status, err = eval.Status(ctx, taskID, domain.StatusReview)
	require.NoError(t, err)
	require.Equal(t, domain.GateFailed, status.Gates[0].Status)
	require.Equal(t, []string{gate.ID}, status.BlockedBy)

	_, err = eval.RecordRun(ctx, RecordRunInput{GateID: gate.ID, AgentID: "agent-a", Passed: true, Output: "ok"})
	require.NoError(t, err)
	status, err = eval.Status(ctx, taskID, domain.StatusReview)
	require.NoError(t, err)
	require.Equal(t, domain.GatePassed, status.Gates[0].Status)
	require.True(t, status.AllPassed)
	require.Empty(t, status.BlockedBy)
}

func TestOptionalGateNeverBlocks(t *testing.T) {
	eval, _, _, taskID := newTestEvaluator(t)
	ctx := context.Background()

	gate, err := eval.Define(ctx, DefineInput{
		TaskID: taskID, GateType: domain.GateLint, Command: "eslint .", Required: false,
	})
	require.NoError(t, err)

	// Never run: visible, but not blocking.
	status, err := eval.Status(ctx, taskID, domain.StatusReview)
	require.NoError(t, err)
	require.True(t, status.AllPassed)
	require.Empty(t, status.BlockedBy)

	// A failing run on an optional gate still does not block.
	_, err = eval.RecordRun(ctx, RecordRunInput{GateID: gate.ID, AgentID: "agent-a", Passed: false, Output: "3 warnings"})
	require.NoError(t, err)
	status, err = eval.Status(ctx, taskID, domain.StatusReview)
	require.NoError(t, err)
	require.True(t, status.AllPassed)
	require.Empty(t, status.BlockedBy)
	require.Equal(t, domain.GateFailed, status.Gates[0].Status)
}

func TestStatusScopedToTriggerStatus(t *testing.T) {
	eval, _, _, taskID := newTestEvaluator(t)
	ctx := context.Background()

	reviewGate, err := eval.Define(ctx, DefineInput{
		TaskID: taskID, GateType: domain.GateTest, Command: "go test ./...",
		TriggerStatus: domain.StatusReview, Required: true,
	})
	require.NoError(t, err)
	doneGate, err := eval.Define(ctx, DefineInput{
		TaskID: taskID, GateType: domain.GateBuild, Command: "go build ./...",
		TriggerStatus: domain.StatusDone, Required: true,
	})
	require.NoError(t, err)

	_, err = eval.RecordRun(ctx, RecordRunInput{GateID: reviewGate.ID, AgentID: "agent-a", Passed: true, Output: "ok"})
	require.NoError(t, err)

	// The review view only sees the review gate, which has passed.
	status, err := eval.Status(ctx, taskID, domain.StatusReview)
	require.NoError(t, err)
	require.Len(t, status.Gates, 1)
	require.Equal(t, reviewGate.ID, status.Gates[0].Gate.ID)
	require.True(t, status.AllPassed)

	// The done view is still blocked by its own unrun gate.
	status, err = eval.Status(ctx, taskID, domain.StatusDone)
	require.NoError(t, err)
	require.Len(t, status.Gates, 1)
	require.Equal(t, []string{doneGate.ID}, status.BlockedBy)
	require.False(t, status.AllPassed)

	_, err = eval.Status(ctx, taskID, "shipping")
	require.True(t, kernelerr.IsValidation(err))
}

func TestRecordRunClipsOutput(t *testing.T) {
	eval, st, bus, taskID := newTestEvaluator(t)
	ctx := context.Background()

	gate, err := eval.Define(ctx, DefineInput{TaskID: taskID, GateType: domain.GateTest, Command: "npm test"})
	require.NoError(t, err)

	long := strings.Repeat("x", domain.MaxStoredOutputLen+500)
	run, err := eval.RecordRun(ctx, RecordRunInput{GateID: gate.ID, AgentID: "agent-a", Passed: true, Output: long})
	require.NoError(t, err)
	require.Len(t, run.Output, domain.MaxStoredOutputLen+len(domain.ClipSuffix))
	require.True(t, strings.HasSuffix(run.Output, domain.ClipSuffix))

	stored, err := st.LastGateRun(ctx, gate.ID)
	require.NoError(t, err)
	require.Equal(t, run.Output, stored.Output)

	var types []string
	for _, e := range bus.Recent(0) {
		types = append(types, e.Type)
	}
	require.Contains(t, types, eventbus.TypeGateRun)
	require.Contains(t, types, eventbus.TypeGatePassed)
}
