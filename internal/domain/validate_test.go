package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClipOutput(t *testing.T) {
	short := strings.Repeat("a", MaxStoredOutputLen)
	require.Equal(t, short, ClipOutput(short))

	long := strings.Repeat("a", MaxStoredOutputLen+1)
	clipped := ClipOutput(long)
	require.Len(t, clipped, MaxStoredOutputLen+len(ClipSuffix))
	require.True(t, strings.HasSuffix(clipped, ClipSuffix))
	require.Equal(t, long[:MaxStoredOutputLen], strings.TrimSuffix(clipped, ClipSuffix))
}

func TestStatusAndPriority(t *testing.T) {
	for _, s := range []Status{StatusBacklog, StatusTodo, StatusInProgress, StatusReview, StatusDone, StatusCancelled} {
		require.True(t, s.Valid(), string(s))
	}
	require.False(t, Status("archived").Valid())

	require.Less(t, PriorityCritical.Rank(), PriorityHigh.Rank())
	require.Less(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	require.Less(t, PriorityMedium.Rank(), PriorityLow.Rank())
}

func TestValidateBounds(t *testing.T) {
	require.Error(t, ValidateTitle(""))
	require.Error(t, ValidateTitle("  "))
	require.Error(t, ValidateTitle(strings.Repeat("x", MaxTitleLen+1)))
	require.NoError(t, ValidateTitle("fix the flaky watcher test"))

	require.Error(t, ValidateAgentID(""))
	require.Error(t, ValidateAgentID(strings.Repeat("x", MaxAgentIDLen+1)))

	require.Error(t, ValidateFiles(nil))
	require.Error(t, ValidateFiles([]string{""}))
	require.NoError(t, ValidateFiles([]string{"a.go"}))

	require.Error(t, ValidateStoryPoints(22))
	require.NoError(t, ValidateStoryPoints(0))
	require.NoError(t, ValidateStoryPoints(13))

	require.Error(t, ValidateTTLSeconds(0))
	require.Error(t, ValidateTTLSeconds(MaxTTLSeconds+1))
	require.NoError(t, ValidateTTLSeconds(1))

	require.Error(t, ValidateWipLimit(StatusCancelled, 5))
	require.Error(t, ValidateWipLimit(StatusInProgress, 0))
	require.Error(t, ValidateWipLimit(StatusInProgress, 101))
	require.NoError(t, ValidateWipLimit(StatusInProgress, 3))
}
