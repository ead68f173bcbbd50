package server

import (
	"github.com/gin-gonic/gin"

	"github.com/tylerbuilds/scrum-mcp/internal/coordinator"
	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/store"
)

type postIntentRequest struct {
	TaskID             string   `json:"taskId"`
	AgentID            string   `json:"agentId"`
	Files              []string `json:"files"`
	Boundaries         []string `json:"boundaries"`
	AcceptanceCriteria string   `json:"acceptanceCriteria"`
}

func (s *Server) handlePostIntent(c *gin.Context) {
	var req postIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid JSON body: "+err.Error())
		return
	}
	intent, err := s.coord.PostIntent(c.Request.Context(), coordinator.PostIntentInput{
		TaskID:             req.TaskID,
		AgentID:            req.AgentID,
		Files:              req.Files,
		Boundaries:         req.Boundaries,
		AcceptanceCriteria: req.AcceptanceCriteria,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, intent)
}

func (s *Server) handleListIntents(c *gin.Context) {
	taskID := c.Query("taskId")
	if taskID == "" {
		respondValidation(c, "taskId query parameter is required")
		return
	}
	intents, err := s.coord.ListIntents(c.Request.Context(), taskID)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, intents)
}

type createClaimRequest struct {
	AgentID    string   `json:"agentId"`
	Files      []string `json:"files"`
	TTLSeconds int      `json:"ttlSeconds"`
}

func (s *Server) handleCreateClaim(c *gin.Context) {
	var req createClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid JSON body: "+err.Error())
		return
	}
	result, err := s.coord.CreateClaim(c.Request.Context(), req.AgentID, req.Files, req.TTLSeconds)
	if err != nil {
		respondErr(c, err)
		return
	}
	if len(result.ConflictsWith) > 0 {
		respondConflict(c, result)
		return
	}
	respondOK(c, result)
}

func (s *Server) handleListClaims(c *gin.Context) {
	claims, err := s.coord.ListClaims(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, claims)
}

type releaseClaimsRequest struct {
	AgentID string   `json:"agentId"`
	Files   []string `json:"files"`
}

func (s *Server) handleReleaseClaims(c *gin.Context) {
	var req releaseClaimsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid JSON body: "+err.Error())
		return
	}
	released, err := s.coord.ReleaseClaims(c.Request.Context(), req.AgentID, req.Files)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"released": released})
}

type extendClaimsRequest struct {
	AgentID           string   `json:"agentId"`
	AdditionalSeconds int      `json:"additionalSeconds"`
	Files             []string `json:"files"`
}

func (s *Server) handleExtendClaims(c *gin.Context) {
	var req extendClaimsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid JSON body: "+err.Error())
		return
	}
	extended, err := s.coord.ExtendClaims(c.Request.Context(), req.AgentID, req.AdditionalSeconds, req.Files)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"extended": extended})
}

type attachEvidenceRequest struct {
	TaskID  string `json:"taskId"`
	AgentID string `json:"agentId"`
	Command string `json:"command"`
	Output  string `json:"output"`
}

func (s *Server) handleAttachEvidence(c *gin.Context) {
	var req attachEvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid JSON body: "+err.Error())
		return
	}
	ev, err := s.coord.AttachEvidence(c.Request.Context(), coordinator.AttachEvidenceInput{
		TaskID:  req.TaskID,
		AgentID: req.AgentID,
		Command: req.Command,
		Output:  req.Output,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, ev)
}

func (s *Server) handleListEvidence(c *gin.Context) {
	taskID := c.Query("taskId")
	if taskID == "" {
		respondValidation(c, "taskId query parameter is required")
		return
	}
	evidence, err := s.coord.ListEvidence(c.Request.Context(), taskID)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, evidence)
}

type logChangeRequest struct {
	TaskID      string `json:"taskId"`
	AgentID     string `json:"agentId"`
	FilePath    string `json:"filePath"`
	ChangeType  string `json:"changeType"`
	Summary     string `json:"summary"`
	DiffSnippet string `json:"diffSnippet"`
	CommitHash  string `json:"commitHash"`
}

func (s *Server) handleLogChange(c *gin.Context) {
	var req logChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid JSON body: "+err.Error())
		return
	}
	author := domain.Kernel()
	if req.AgentID != "" && req.AgentID != domain.SystemAgentID {
		author = domain.Agent(req.AgentID)
	}
	entry, err := s.coord.LogChange(c.Request.Context(), coordinator.LogChangeInput{
		TaskID:      req.TaskID,
		Author:      author,
		FilePath:    req.FilePath,
		ChangeType:  domain.ChangeType(req.ChangeType),
		Summary:     req.Summary,
		DiffSnippet: req.DiffSnippet,
		CommitHash:  req.CommitHash,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, entry)
}

func (s *Server) handleListChangelog(c *gin.Context) {
	entries, err := s.coord.Changelog(c.Request.Context(), store.ChangelogFilter{
		TaskID:  c.Query("taskId"),
		AgentID: c.Query("agentId"),
		Limit:   queryInt(c, "limit"),
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, entries)
}

func (s *Server) handleCompliance(c *gin.Context) {
	report, err := s.coord.Compliance(c.Request.Context(), c.Param("taskId"), c.Param("agentId"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, report)
}
