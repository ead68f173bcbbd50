package server

import (
	"github.com/gin-gonic/gin"

	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/gates"
)

func (s *Server) handleStatus(c *gin.Context) {
	snap, err := s.coord.Status(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, snap)
}

func (s *Server) handleFeed(c *gin.Context) {
	limit := queryInt(c, "limit")
	respondOK(c, s.coord.Feed(limit))
}

func (s *Server) handleListAgents(c *gin.Context) {
	agents, err := s.coord.ListAgents(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, agents)
}

type registerAgentRequest struct {
	AgentID      string   `json:"agentId"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

func (s *Server) handleRegisterAgent(c *gin.Context) {
	var req registerAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid JSON body: "+err.Error())
		return
	}
	agent, err := s.coord.RegisterAgent(c.Request.Context(), req.AgentID, req.Name, req.Capabilities)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, agent)
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	if err := s.coord.Heartbeat(c.Request.Context(), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"agentId": c.Param("id")})
}

type addCommentRequest struct {
	TaskID  string `json:"taskId"`
	AgentID string `json:"agentId"`
	Body    string `json:"body"`
}

func (s *Server) handleAddComment(c *gin.Context) {
	var req addCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid JSON body: "+err.Error())
		return
	}
	comment, err := s.coord.AddComment(c.Request.Context(), req.TaskID, req.AgentID, req.Body)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, comment)
}

func (s *Server) handleListComments(c *gin.Context) {
	taskID := c.Query("taskId")
	if taskID == "" {
		respondValidation(c, "taskId query parameter is required")
		return
	}
	comments, err := s.coord.ListComments(c.Request.Context(), taskID)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, comments)
}

type addBlockerRequest struct {
	TaskID      string `json:"taskId"`
	AgentID     string `json:"agentId"`
	Description string `json:"description"`
}

func (s *Server) handleAddBlocker(c *gin.Context) {
	var req addBlockerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid JSON body: "+err.Error())
		return
	}
	blocker, err := s.coord.AddBlocker(c.Request.Context(), req.TaskID, req.AgentID, req.Description)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, blocker)
}

func (s *Server) handleResolveBlocker(c *gin.Context) {
	blocker, err := s.coord.ResolveBlocker(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, blocker)
}

func (s *Server) handleListBlockers(c *gin.Context) {
	taskID := c.Query("taskId")
	if taskID == "" {
		respondValidation(c, "taskId query parameter is required")
		return
	}
	blockers, err := s.coord.ListBlockers(c.Request.Context(), taskID)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, blockers)
}

type defineGateRequest struct {
	TaskID        string `json:"taskId"`
	GateType      string `json:"gateType"`
	Command       string `json:"command"`
	TriggerStatus string `json:"triggerStatus"`
	Required      bool   `json:"required"`
}

func (s *Server) handleDefineGate(c *gin.Context) {
	var req defineGateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid JSON body: "+err.Error())
		return
	}
	gate, err := s.coord.DefineGate(c.Request.Context(), gates.DefineInput{
		TaskID:        req.TaskID,
		GateType:      domain.GateType(req.GateType),
		Command:       req.Command,
		TriggerStatus: domain.Status(req.TriggerStatus),
		Required:      req.Required,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gate)
}

type recordGateRunRequest struct {
	GateID     string `json:"gateId"`
	AgentID    string `json:"agentId"`
	Passed     bool   `json:"passed"`
	Output     string `json:"output"`
	DurationMs int64  `json:"durationMs"`
}

func (s *Server) handleRecordGateRun(c *gin.Context) {
	var req recordGateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid JSON body: "+err.Error())
		return
	}
	run, err := s.coord.RecordGateRun(c.Request.Context(), gates.RecordRunInput{
		GateID:     req.GateID,
		AgentID:    req.AgentID,
		Passed:     req.Passed,
		Output:     req.Output,
		DurationMs: req.DurationMs,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, run)
}

func (s *Server) handleGateStatus(c *gin.Context) {
	forStatus := domain.Status(c.Query("forStatus"))
	if forStatus == "" {
		forStatus = domain.StatusReview
	}
	status, err := s.coord.GateStatus(c.Request.Context(), c.Param("id"), forStatus)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, status)
}

type registerWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

func (s *Server) handleRegisterWebhook(c *gin.Context) {
	var req registerWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid JSON body: "+err.Error())
		return
	}
	hook, err := s.webhooks.Register(c.Request.Context(), req.URL, req.Events)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, hook)
}

func (s *Server) handleListWebhooks(c *gin.Context) {
	hooks, err := s.webhooks.List(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, hooks)
}

func (s *Server) handleUnregisterWebhook(c *gin.Context) {
	if err := s.webhooks.Unregister(c.Request.Context(), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"deleted": true})
}
