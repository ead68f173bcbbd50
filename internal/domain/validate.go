package domain

import (
	"fmt"
	"strings"
)

// Input bounds shared by the kernel and the HTTP edge.
const (
	MaxTitleLen              = 200
	MaxDescriptionLen        = 2000
	MaxAgentIDLen            = 120
	MinTaskIDLen             = 4
	MaxFilesPerIntent        = 200
	MaxCommandLen            = 2000
	MaxStoredOutputLen       = 20000
	MaxSubmittedOutputLen    = 500000
	MinAcceptanceCriteriaLen = 10
	MaxAcceptanceCriteriaLen = 4000
	MinStoryPoints           = 1
	MaxStoryPoints           = 21
	MaxTTLSeconds            = 3600
	MinWipLimit              = 1
	MaxWipLimit              = 100
)

// ClipSuffix is appended to outputs truncated at MaxStoredOutputLen.
const ClipSuffix = "\n[clipped to 20000 chars]"

// ClipOutput truncates output to the stored maximum, appending the literal
// clip suffix when truncation happened.
func ClipOutput(output string) string {
	if len(output) <= MaxStoredOutputLen {
		return output
	}
	return output[:MaxStoredOutputLen] + ClipSuffix
}

// ValidateAgentID checks the 1-120 char agent id bound.
func ValidateAgentID(agentID string) error {
	if agentID == "" {
		return fmt.Errorf("agentId is required")
	}
	if len(agentID) > MaxAgentIDLen {
		return fmt.Errorf("agentId too long (max %d characters)", MaxAgentIDLen)
	}
	return nil
}

// ValidateTaskID checks the minimum task id length.
func ValidateTaskID(taskID string) error {
	if len(taskID) < MinTaskIDLen {
		return fmt.Errorf("taskId must be at least %d characters", MinTaskIDLen)
	}
	return nil
}

// ValidateTitle checks the 1-200 char task title bound.
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("title is required")
	}
	if len(title) > MaxTitleLen {
		return fmt.Errorf("title too long (max %d characters)", MaxTitleLen)
	}
	return nil
}

// ValidateDescription checks the optional description bound.
func ValidateDescription(description string) error {
	if len(description) > MaxDescriptionLen {
		return fmt.Errorf("description too long (max %d characters)", MaxDescriptionLen)
	}
	return nil
}

// ValidateFiles checks a 1-200 entry file list with non-empty paths.
func ValidateFiles(files []string) error {
	if len(files) == 0 {
		return fmt.Errorf("files must not be empty")
	}
	if len(files) > MaxFilesPerIntent {
		return fmt.Errorf("too many files (max %d)", MaxFilesPerIntent)
	}
	for _, f := range files {
		if f == "" {
			return fmt.Errorf("file path must not be empty")
		}
	}
	return nil
}

// ValidateCommand checks the 1-2000 char evidence command bound.
func ValidateCommand(command string) error {
	if command == "" {
		return fmt.Errorf("command is required")
	}
	if len(command) > MaxCommandLen {
		return fmt.Errorf("command too long (max %d characters)", MaxCommandLen)
	}
	return nil
}

// ValidateOutput checks the submitted output bound; storage re-clips.
func ValidateOutput(output string) error {
	if len(output) > MaxSubmittedOutputLen {
		return fmt.Errorf("output too long (max %d characters)", MaxSubmittedOutputLen)
	}
	return nil
}

// ValidateAcceptanceCriteria checks the optional 10-4000 char bound.
func ValidateAcceptanceCriteria(criteria string) error {
	if criteria == "" {
		return nil
	}
	if len(criteria) < MinAcceptanceCriteriaLen {
		return fmt.Errorf("acceptanceCriteria too short (min %d characters)", MinAcceptanceCriteriaLen)
	}
	if len(criteria) > MaxAcceptanceCriteriaLen {
		return fmt.Errorf("acceptanceCriteria too long (max %d characters)", MaxAcceptanceCriteriaLen)
	}
	return nil
}

// ValidateStoryPoints checks the [1,21] bound; zero means unset.
func ValidateStoryPoints(points int) error {
	if points == 0 {
		return nil
	}
	if points < MinStoryPoints || points > MaxStoryPoints {
		return fmt.Errorf("storyPoints must be in [%d,%d]", MinStoryPoints, MaxStoryPoints)
	}
	return nil
}

// ValidateTTLSeconds checks the submitted claim TTL; the claim engine clamps
// further.
func ValidateTTLSeconds(ttl int) error {
	if ttl <= 0 {
		return fmt.Errorf("ttlSeconds must be positive")
	}
	if ttl > MaxTTLSeconds {
		return fmt.Errorf("ttlSeconds must be at most %d", MaxTTLSeconds)
	}
	return nil
}

// ValidateWipLimit checks the [1,100] bound and that status is cappable.
func ValidateWipLimit(status Status, limit int) error {
	if !status.Valid() || status == StatusCancelled {
		return fmt.Errorf("status %q cannot carry a WIP limit", status)
	}
	if limit < MinWipLimit || limit > MaxWipLimit {
		return fmt.Errorf("limit must be in [%d,%d]", MinWipLimit, MaxWipLimit)
	}
	return nil
}
