// Package compliance scores how faithfully an agent followed the coordination
// protocol on a task.
//
// Checks are read-only over stored state. A failing optional check lowers the
// score but never blocks completion; only required checks gate canComplete.
package compliance

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tylerbuilds/scrum-mcp/internal/clock"
	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/kernelerr"
	"github.com/tylerbuilds/scrum-mcp/internal/logging"
	"github.com/tylerbuilds/scrum-mcp/internal/store"
)

// Check names.
const (
	CheckIntentPosted        = "intent_posted"
	CheckEvidenceAttached    = "evidence_attached"
	CheckFilesMatchIntent    = "files_match_intent"
	CheckBoundariesRespected = "boundaries_respected"
	CheckClaimsReleased      = "claims_released"
)

// CheckResult is one named check outcome.
type CheckResult struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Required bool   `json:"required"`
	Detail   string `json:"detail,omitempty"`
}

// Report is the aggregate compliance view for one (task, agent) pair.
type Report struct {
	TaskID      string        `json:"taskId"`
	AgentID     string        `json:"agentId"`
	Checks      []CheckResult `json:"checks"`
	Score       float64       `json:"score"`
	CanComplete bool          `json:"canComplete"`
}

// Checker evaluates the protocol checks.
type Checker struct {
	store  *store.Store
	clock  clock.Clock
	logger logging.Logger
}

// New creates a compliance checker.
func New(st *store.Store, clk clock.Clock, logger logging.Logger) *Checker {
	return &Checker{store: st, clock: clk, logger: logging.OrNop(logger)}
}

// Evaluate runs all five checks for the agent's work on the task.
func (c *Checker) Evaluate(ctx context.Context, taskID, agentID string) (*Report, error) {
	if err := domain.ValidateAgentID(agentID); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}
	ok, err := c.store.TaskExists(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, kernelerr.NotFound("task %s not found", taskID)
	}

	intents, err := c.store.ListIntentsByTaskAgent(ctx, taskID, agentID)
	if err != nil {
		return nil, err
	}
	evidence, err := c.store.ListEvidenceByTaskAgent(ctx, taskID, agentID)
	if err != nil {
		return nil, err
	}
	touched, err := c.store.TouchedFiles(ctx, taskID, agentID)
	if err != nil {
		return nil, err
	}
	liveClaims, err := c.store.AgentClaimFiles(ctx, agentID, c.clock.NowMillis())
	if err != nil {
		return nil, err
	}

	report := &Report{
		TaskID:  taskID,
		AgentID: agentID,
		Checks: []CheckResult{
			checkIntentPosted(intents),
			checkEvidenceAttached(evidence),
			checkFilesMatchIntent(intents, touched),
			checkBoundariesRespected(intents, touched),
			checkClaimsReleased(liveClaims, touched),
		},
	}

	passed := 0
	report.CanComplete = true
	for _, check := range report.Checks {
		if check.Passed {
			passed++
		} else if check.Required {
			report.CanComplete = false
		}
	}
	report.Score = float64(passed) / float64(len(report.Checks))
	return report, nil
}

func checkIntentPosted(intents []*domain.Intent) CheckResult {
	r := CheckResult{Name: CheckIntentPosted, Required: true, Passed: len(intents) > 0}
	if !r.Passed {
		r.Detail = "no intent posted for this task"
	}
	return r
}

func checkEvidenceAttached(evidence []*domain.Evidence) CheckResult {
	r := CheckResult{Name: CheckEvidenceAttached, Required: true, Passed: len(evidence) > 0}
	if !r.Passed {
		r.Detail = "no evidence attached for this task"
	}
	return r
}

// checkFilesMatchIntent passes when every touched file was declared in some
// intent. With no recorded file changes it passes vacuously.
func checkFilesMatchIntent(intents []*domain.Intent, touched []string) CheckResult {
	r := CheckResult{Name: CheckFilesMatchIntent, Passed: true}
	if len(touched) == 0 {
		return r
	}
	declared := map[string]bool{}
	for _, intent := range intents {
		for _, f := range intent.Files {
			declared[f] = true
		}
	}
	var undeclared []string
	for _, f := range touched {
		if !declared[f] {
			undeclared = append(undeclared, f)
		}
	}
	if len(undeclared) > 0 {
		sort.Strings(undeclared)
		r.Passed = false
		r.Detail = fmt.Sprintf("files changed without declared intent: %s", strings.Join(undeclared, ", "))
	}
	return r
}

// checkBoundariesRespected fails when a touched file sits under a path any of
// the agent's intents declared as a boundary.
func checkBoundariesRespected(intents []*domain.Intent, touched []string) CheckResult {
	r := CheckResult{Name: CheckBoundariesRespected, Passed: true}
	var boundaries []string
	for _, intent := range intents {
		boundaries = append(boundaries, intent.Boundaries...)
	}
	if len(boundaries) == 0 || len(touched) == 0 {
		return r
	}
	var crossed []string
	for _, f := range touched {
		for _, b := range boundaries {
			if underBoundary(f, b) {
				crossed = append(crossed, f)
				break
			}
		}
	}
	if len(crossed) > 0 {
		sort.Strings(crossed)
		r.Passed = false
		r.Detail = fmt.Sprintf("files inside declared boundaries: %s", strings.Join(crossed, ", "))
	}
	return r
}

func underBoundary(path, boundary string) bool {
	boundary = strings.TrimSuffix(boundary, "/")
	if boundary == "" {
		return false
	}
	return path == boundary || strings.HasPrefix(path, boundary+"/")
}

// checkClaimsReleased fails only when a still-live claim covers a file the
// agent actually touched on this task.
func checkClaimsReleased(liveClaims, touched []string) CheckResult {
	r := CheckResult{Name: CheckClaimsReleased, Passed: true}
	if len(liveClaims) == 0 || len(touched) == 0 {
		return r
	}
	touchedSet := map[string]bool{}
	for _, f := range touched {
		touchedSet[f] = true
	}
	var held []string
	for _, f := range liveClaims {
		if touchedSet[f] {
			held = append(held, f)
		}
	}
	if len(held) > 0 {
		sort.Strings(held)
		r.Passed = false
		r.Detail = fmt.Sprintf("claims still held on touched files: %s", strings.Join(held, ", "))
	}
	return r
}
