package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// exitCodeError carries a specific process exit code through cobra.
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

// apiClient is a thin wrapper over the server's JSON API.
type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newClientFromFlags(cmd *cobra.Command) *apiClient {
	baseURL, _ := cmd.Flags().GetString("server")
	apiKey, _ := cmd.Flags().GetString("api-key")
	if env := os.Getenv("SCRUM_URL"); baseURL == "" && env != "" {
		baseURL = env
	}
	if baseURL == "" {
		baseURL = "http://127.0.0.1:4177"
	}
	if apiKey == "" {
		apiKey = os.Getenv("SCRUM_API_KEY")
	}
	return &apiClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("server", "", "server base URL (default $SCRUM_URL or http://127.0.0.1:4177)")
	cmd.Flags().String("api-key", "", "API key (default $SCRUM_API_KEY)")
}

type apiEnvelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

// do performs one API call and decodes data into out when non-nil. It returns
// the HTTP status so callers can react to the 409 claim-conflict shape.
func (c *apiClient) do(method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	if !env.OK {
		return resp.StatusCode, fmt.Errorf("%s", env.Error)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode data: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClientFromFlags(cmd)
			var snap struct {
				UptimeMs     int64          `json:"uptimeMs"`
				Tasks        map[string]int `json:"tasks"`
				TotalTasks   int            `json:"totalTasks"`
				ActiveClaims int            `json:"activeClaims"`
				Agents       int            `json:"agents"`
				StrictMode   bool           `json:"strictMode"`
			}
			if _, err := client.do(http.MethodGet, "/api/status", nil, &snap); err != nil {
				return err
			}
			fmt.Printf("%s up %s\n", bold("scrumd"), (time.Duration(snap.UptimeMs) * time.Millisecond).Round(time.Second))
			fmt.Printf("  tasks:  %d total\n", snap.TotalTasks)
			statuses := make([]string, 0, len(snap.Tasks))
			for status := range snap.Tasks {
				statuses = append(statuses, status)
			}
			sort.Strings(statuses)
			for _, status := range statuses {
				if snap.Tasks[status] > 0 {
					fmt.Printf("    %-12s %d\n", status, snap.Tasks[status])
				}
			}
			fmt.Printf("  claims: %d active\n", snap.ActiveClaims)
			fmt.Printf("  agents: %d registered\n", snap.Agents)
			fmt.Printf("  strict: %v\n", snap.StrictMode)
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

type taskView struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Status        string `json:"status"`
	Priority      string `json:"priority"`
	AssignedAgent string `json:"assignedAgent"`
}

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List and create tasks",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClientFromFlags(cmd)
			status, _ := cmd.Flags().GetString("status")
			path := "/api/tasks"
			if status != "" {
				path += "?status=" + status
			}
			var tasks []taskView
			if _, err := client.do(http.MethodGet, path, nil, &tasks); err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println(gray("no tasks"))
				return nil
			}
			for _, t := range tasks {
				assignee := t.AssignedAgent
				if assignee == "" {
					assignee = gray("unassigned")
				}
				fmt.Printf("%s  %-12s %-8s %s  %s\n",
					cyan(t.ID), t.Status, t.Priority, t.Title, assignee)
			}
			return nil
		},
	}
	list.Flags().String("status", "", "filter by status")
	addClientFlags(list)

	create := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClientFromFlags(cmd)
			priority, _ := cmd.Flags().GetString("priority")
			description, _ := cmd.Flags().GetString("description")
			var task taskView
			_, err := client.do(http.MethodPost, "/api/tasks", map[string]any{
				"title":       args[0],
				"description": description,
				"priority":    priority,
			}, &task)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", green("created"), cyan(task.ID))
			return nil
		},
	}
	create.Flags().String("priority", "", "task priority (critical|high|medium|low)")
	create.Flags().String("description", "", "task description")
	addClientFlags(create)

	cmd.AddCommand(list, create)
	return cmd
}

func claimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim <agent-id> <file> [file...]",
		Short: "Claim files for an agent",
		Long:  "Claims files for exclusive work. Exits 2 when another agent holds a conflicting claim.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClientFromFlags(cmd)
			ttl, _ := cmd.Flags().GetInt("ttl")
			var result struct {
				Claim struct {
					ExpiresAt int64 `json:"expiresAt"`
				} `json:"claim"`
				ConflictsWith []string `json:"conflictsWith"`
			}
			status, err := client.do(http.MethodPost, "/api/claims", map[string]any{
				"agentId":    args[0],
				"files":      args[1:],
				"ttlSeconds": ttl,
			}, &result)
			if err != nil {
				return err
			}
			if status == http.StatusConflict || len(result.ConflictsWith) > 0 {
				fmt.Printf("%s held by %s\n", red("conflict:"), strings.Join(result.ConflictsWith, ", "))
				return &exitCodeError{code: 2, msg: "claim conflict"}
			}
			fmt.Printf("%s %d file(s) until %s\n", green("claimed"), len(args)-1,
				time.UnixMilli(result.Claim.ExpiresAt).Format(time.TimeOnly))
			return nil
		},
	}
	cmd.Flags().Int("ttl", 300, "claim TTL in seconds")
	addClientFlags(cmd)
	cmd.SilenceUsage = true
	return cmd
}

func releaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release <agent-id> [file...]",
		Short: "Release claims (all of the agent's when no files given)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClientFromFlags(cmd)
			var result struct {
				Released int `json:"released"`
			}
			_, err := client.do(http.MethodDelete, "/api/claims", map[string]any{
				"agentId": args[0],
				"files":   args[1:],
			}, &result)
			if err != nil {
				return err
			}
			fmt.Printf("%s %d claim(s)\n", green("released"), result.Released)
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

func boardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show the kanban board",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClientFromFlags(cmd)
			var board map[string][]taskView
			if _, err := client.do(http.MethodGet, "/api/board", nil, &board); err != nil {
				return err
			}
			for _, column := range []string{"backlog", "todo", "in_progress", "review", "done"} {
				tasks := board[column]
				fmt.Printf("%s (%d)\n", bold(column), len(tasks))
				for _, t := range tasks {
					marker := " "
					if t.Priority == "critical" {
						marker = red("!")
					} else if t.Priority == "high" {
						marker = yellow("^")
					}
					fmt.Printf("  %s %s  %s\n", marker, cyan(t.ID), t.Title)
				}
			}
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}
