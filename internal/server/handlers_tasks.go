package server

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tylerbuilds/scrum-mcp/internal/domain"
	"github.com/tylerbuilds/scrum-mcp/internal/store"
	"github.com/tylerbuilds/scrum-mcp/internal/taskgraph"
)

type createTaskRequest struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Status        string   `json:"status"`
	Priority      string   `json:"priority"`
	AssignedAgent string   `json:"assignedAgent"`
	DueDate       int64    `json:"dueDate"`
	Labels        []string `json:"labels"`
	StoryPoints   int      `json:"storyPoints"`
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid JSON body: "+err.Error())
		return
	}
	task, err := s.coord.CreateTask(c.Request.Context(), taskgraph.CreateTaskInput{
		Title:         req.Title,
		Description:   req.Description,
		Status:        domain.Status(req.Status),
		Priority:      domain.Priority(req.Priority),
		AssignedAgent: req.AssignedAgent,
		DueDate:       req.DueDate,
		Labels:        req.Labels,
		StoryPoints:   req.StoryPoints,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, task)
}

func (s *Server) handleListTasks(c *gin.Context) {
	filter := store.TaskFilter{
		Status:        domain.Status(c.Query("status")),
		AssignedAgent: c.Query("assignedAgent"),
		Limit:         queryInt(c, "limit"),
	}
	tasks, err := s.coord.ListTasks(c.Request.Context(), filter)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, tasks)
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.coord.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, task)
}

type updateTaskRequest struct {
	Title         *string   `json:"title"`
	Description   *string   `json:"description"`
	Status        *string   `json:"status"`
	Priority      *string   `json:"priority"`
	AssignedAgent *string   `json:"assignedAgent"`
	DueDate       *int64    `json:"dueDate"`
	Labels        *[]string `json:"labels"`
	StoryPoints   *int      `json:"storyPoints"`

	EnforceDependencies *bool `json:"enforceDependencies"`
	EnforceWipLimits    *bool `json:"enforceWipLimits"`
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid JSON body: "+err.Error())
		return
	}

	updates := taskgraph.TaskUpdates{
		Title:         req.Title,
		Description:   req.Description,
		AssignedAgent: req.AssignedAgent,
		DueDate:       req.DueDate,
		Labels:        req.Labels,
		StoryPoints:   req.StoryPoints,
	}
	if req.Status != nil {
		status := domain.Status(*req.Status)
		updates.Status = &status
	}
	if req.Priority != nil {
		priority := domain.Priority(*req.Priority)
		updates.Priority = &priority
	}

	opts := taskgraph.DefaultUpdateOptions()
	if req.EnforceDependencies != nil {
		opts.EnforceDependencies = *req.EnforceDependencies
	}
	if req.EnforceWipLimits != nil {
		opts.EnforceWipLimits = *req.EnforceWipLimits
	}

	result, err := s.coord.UpdateTask(c.Request.Context(), c.Param("id"), updates, opts)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, result)
}

func (s *Server) handleTaskReady(c *gin.Context) {
	ready, err := s.coord.IsReady(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, ready)
}

type addDependencyRequest struct {
	DependsOnTaskID string `json:"dependsOnTaskId"`
}

func (s *Server) handleAddDependency(c *gin.Context) {
	var req addDependencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid JSON body: "+err.Error())
		return
	}
	if err := s.coord.AddDependency(c.Request.Context(), c.Param("id"), req.DependsOnTaskID); err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"taskId": c.Param("id"), "dependsOnTaskId": req.DependsOnTaskID})
}

func (s *Server) handleRemoveDependency(c *gin.Context) {
	if err := s.coord.RemoveDependency(c.Request.Context(), c.Param("id"), c.Param("depId")); err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"removed": true})
}

func (s *Server) handleBoard(c *gin.Context) {
	board, err := s.coord.Board(c.Request.Context(), taskgraph.BoardFilter{
		AssignedAgent: c.Query("assignedAgent"),
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, board)
}

func (s *Server) handleListWipLimits(c *gin.Context) {
	limits, err := s.coord.ListWipLimits(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, limits)
}

type setWipLimitRequest struct {
	Status string `json:"status"`
	Limit  int    `json:"limit"`
}

func (s *Server) handleSetWipLimit(c *gin.Context) {
	var req setWipLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, "invalid JSON body: "+err.Error())
		return
	}
	if err := s.coord.SetWipLimit(c.Request.Context(), domain.Status(req.Status), req.Limit); err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, domain.WipLimit{Status: domain.Status(req.Status), Limit: req.Limit})
}

func (s *Server) handleClearWipLimit(c *gin.Context) {
	if err := s.coord.ClearWipLimit(c.Request.Context(), domain.Status(c.Param("status"))); err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{"cleared": true})
}

func queryInt(c *gin.Context, name string) int {
	raw := c.Query(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
