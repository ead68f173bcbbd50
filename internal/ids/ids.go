// Package ids generates collision-resistant identifiers for kernel entities.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New returns a prefixed time-ordered identifier, e.g. "task-019234ab...".
// UUIDv7 keeps ids sortable by creation time; the prefix makes logs and API
// payloads self-describing.
func New(prefix string) string {
	v7, err := uuid.NewV7()
	if err != nil {
		// rand failure is effectively unreachable; fall back to a
		// timestamp + random suffix so callers never see an error.
		buf := make([]byte, 6)
		_, _ = rand.Read(buf)
		return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
	}
	return prefix + "-" + v7.String()
}

// NewTask returns a new task identifier.
func NewTask() string { return New("task") }

// NewIntent returns a new intent identifier.
func NewIntent() string { return New("intent") }

// NewEvidence returns a new evidence identifier.
func NewEvidence() string { return New("evidence") }

// NewChange returns a new changelog entry identifier.
func NewChange() string { return New("change") }

// NewGate returns a new gate identifier.
func NewGate() string { return New("gate") }

// NewGateRun returns a new gate run identifier.
func NewGateRun() string { return New("gaterun") }

// NewComment returns a new comment identifier.
func NewComment() string { return New("comment") }

// NewBlocker returns a new blocker identifier.
func NewBlocker() string { return New("blocker") }

// NewWebhook returns a new webhook identifier.
func NewWebhook() string { return New("webhook") }

// NewDelivery returns a new webhook delivery identifier.
func NewDelivery() string { return New("delivery") }
