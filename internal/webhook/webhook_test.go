package webhook

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	valid := []string{
		"https://hooks.example.com/scrum",
		"https://8.8.8.8/notify",
		"https://example.com:8443/path?x=1",
	}
	for _, u := range valid {
		require.NoError(t, ValidateURL(u), u)
	}

	invalid := []string{
		"",
		"http://example.com/hook",
		"ftp://example.com",
		"https://localhost/hook",
		"https://LOCALHOST/hook",
		"https://127.0.0.1/hook",
		"https://127.9.9.9/hook",
		"https://[::1]/hook",
		"https://10.1.2.3/hook",
		"https://172.16.0.1/hook",
		"https://172.31.255.255/hook",
		"https://192.168.1.1/hook",
		"https://169.254.1.1/hook",
		"https://0.0.0.0/hook",
	}
	for _, u := range invalid {
		require.Error(t, ValidateURL(u), u)
	}

	// 172.32.* is outside the private block.
	require.NoError(t, ValidateURL("https://172.32.0.1/hook"))
}

func TestEventMatching(t *testing.T) {
	require.True(t, matches(nil, "task.created"))
	require.True(t, matches([]string{"task.created"}, "task.created"))
	require.False(t, matches([]string{"task.created"}, "task.updated"))
	require.True(t, matches([]string{"task.*"}, "task.updated"))
	require.False(t, matches([]string{"task.*"}, "claim.created"))
	require.True(t, matches([]string{"claim.conflict", "task.*"}, "task.completed"))
}
