// Package claims implements the file-path lease engine: TTL-bounded advisory
// claims with conflict detection, safe extension and release, and lazy
// pruning.
//
// Every operation runs prune -> scan -> write -> publish under the kernel's
// single write lock; the coordinator owns that lock. Without the
// serialization, two agents could each pass the conflict scan and both write.
package claims

import (
	"context"
	"sort"

	"github.com/tylerbuilds/scrum-mcp/internal/clock"
	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/eventbus"
	"github.com/tylerbuilds/scrum-mcp/internal/kernelerr"
	"github.com/tylerbuilds/scrum-mcp/internal/logging"
	"github.com/tylerbuilds/scrum-mcp/internal/observability"
	"github.com/tylerbuilds/scrum-mcp/internal/store"
)

// TTL clamp bounds, in seconds.
const (
	MinTTLSeconds = 5
	MaxTTLSeconds = 3600

	MinExtendSeconds = 30
	MaxExtendSeconds = 3600
)

// CreateResult is what a claim attempt returns. When ConflictsWith is
// non-empty the claim was NOT persisted; the returned Claim is the ephemeral
// shape the caller asked for, and ConflictsWith names the holders.
type CreateResult struct {
	Claim         domain.Claim `json:"claim"`
	ConflictsWith []string     `json:"conflictsWith"`
}

// Engine manages the claim lease lifecycle.
type Engine struct {
	store   *store.Store
	clock   clock.Clock
	bus     *eventbus.Bus
	logger  logging.Logger
	metrics *observability.MetricsCollector
}

// New creates a claim engine.
func New(st *store.Store, clk clock.Clock, bus *eventbus.Bus, logger logging.Logger, metrics *observability.MetricsCollector) *Engine {
	return &Engine{store: st, clock: clk, bus: bus, logger: logging.OrNop(logger), metrics: metrics}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Prune removes expired rows. Expiry is lazy: it becomes observable only
// here, on the next claim-touching operation, never via a background timer.
func (e *Engine) Prune(ctx context.Context) (int, error) {
	n, err := e.store.PruneClaims(ctx, e.clock.NowMillis())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.metrics.RecordClaimsPruned(n)
		e.logger.Debug("pruned %d expired claim rows", n)
	}
	return n, nil
}

// Create attempts to lease the given files for ttlSeconds. On conflict it
// writes nothing and reports who holds the overlap.
func (e *Engine) Create(ctx context.Context, agentID string, files []string, ttlSeconds int) (*CreateResult, error) {
	if err := domain.ValidateAgentID(agentID); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}
	if err := domain.ValidateFiles(files); err != nil {
		return nil, kernelerr.Validation("%v", err)
	}

	if _, err := e.Prune(ctx); err != nil {
		return nil, err
	}

	now := e.clock.NowMillis()
	ttl := clamp(ttlSeconds, MinTTLSeconds, MaxTTLSeconds)
	expiresAt := now + int64(ttl)*1000

	sorted := dedupeSorted(files)
	claim := domain.Claim{
		AgentID:   agentID,
		Files:     sorted,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}

	conflicts, err := e.store.ConflictingAgents(ctx, agentID, sorted, now)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		// The single most important rule: a conflicted attempt is a
		// no-op on state. The caller learns who holds the conflict.
		e.metrics.RecordClaimConflict()
		e.bus.Publish(eventbus.TypeClaimConflict, map[string]any{
			"agentId":       agentID,
			"files":         sorted,
			"conflictsWith": conflicts,
		})
		return &CreateResult{Claim: claim, ConflictsWith: conflicts}, nil
	}

	if err := e.store.UpsertClaims(ctx, agentID, sorted, expiresAt, now); err != nil {
		return nil, err
	}
	e.metrics.RecordClaimGranted(len(sorted))
	e.bus.Publish(eventbus.TypeClaimCreated, map[string]any{
		"agentId":   agentID,
		"files":     sorted,
		"expiresAt": expiresAt,
	})
	return &CreateResult{Claim: claim, ConflictsWith: []string{}}, nil
}

// Release deletes matching rows; with no files given, all rows for the agent.
// Returns the count released.
func (e *Engine) Release(ctx context.Context, agentID string, files []string) (int, error) {
	if err := domain.ValidateAgentID(agentID); err != nil {
		return 0, kernelerr.Validation("%v", err)
	}
	n, err := e.store.DeleteClaims(ctx, agentID, dedupeSorted(files))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.bus.Publish(eventbus.TypeClaimReleased, map[string]any{
			"agentId":  agentID,
			"files":    files,
			"released": n,
		})
	}
	return n, nil
}

// Extend pushes expiresAt forward on every live targeted row.
func (e *Engine) Extend(ctx context.Context, agentID string, additionalSeconds int, files []string) (int, error) {
	if err := domain.ValidateAgentID(agentID); err != nil {
		return 0, kernelerr.Validation("%v", err)
	}
	add := clamp(additionalSeconds, MinExtendSeconds, MaxExtendSeconds)
	now := e.clock.NowMillis()
	n, err := e.store.ExtendClaims(ctx, agentID, dedupeSorted(files), int64(add)*1000, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.bus.Publish(eventbus.TypeClaimExtended, map[string]any{
			"agentId":           agentID,
			"additionalSeconds": add,
			"extended":          n,
		})
	}
	return n, nil
}

// ListActive prunes, then returns one aggregate claim per agent: sorted file
// union, max expiry, min creation. Order is createdAt descending.
func (e *Engine) ListActive(ctx context.Context) ([]domain.Claim, error) {
	if _, err := e.Prune(ctx); err != nil {
		return nil, err
	}
	rows, err := e.store.ListClaimRows(ctx, e.clock.NowMillis())
	if err != nil {
		return nil, err
	}

	byAgent := make(map[string]*domain.Claim)
	for _, r := range rows {
		c, ok := byAgent[r.AgentID]
		if !ok {
			c = &domain.Claim{AgentID: r.AgentID, ExpiresAt: r.ExpiresAt, CreatedAt: r.CreatedAt}
			byAgent[r.AgentID] = c
		}
		c.Files = append(c.Files, r.FilePath)
		if r.ExpiresAt > c.ExpiresAt {
			c.ExpiresAt = r.ExpiresAt
		}
		if r.CreatedAt < c.CreatedAt {
			c.CreatedAt = r.CreatedAt
		}
	}

	out := make([]domain.Claim, 0, len(byAgent))
	for _, c := range byAgent {
		sort.Strings(c.Files)
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out, nil
}

// AgentFiles prunes, then returns the live file paths held by one agent.
func (e *Engine) AgentFiles(ctx context.Context, agentID string) ([]string, error) {
	if _, err := e.Prune(ctx); err != nil {
		return nil, err
	}
	return e.store.AgentClaimFiles(ctx, agentID, e.clock.NowMillis())
}

func dedupeSorted(files []string) []string {
	if len(files) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
