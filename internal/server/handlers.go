// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/enablerdao/ChirAI/internal/agent"
	"github.com/enablerdao/ChirAI/internal/model"
	"github.com/enablerdao/ChirAI/internal/ollama"
	"github.com/enablerdao/ChirAI/internal/session"
	"github.com/enablerdao/ChirAI/internal/tasks"
)

// ============================================================================
// ERROR RESPONSES
// ============================================================================

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failure.
type ErrorDetail struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
	Code    int    `json:"code"`
}

func writeError(c *gin.Context, status int, kind, msg string) {
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Message: msg, Kind: kind, Code: status}})
}

func abortError(c *gin.Context, status int, kind, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: ErrorDetail{Message: msg, Kind: kind, Code: status}})
}

// writeErr maps domain errors onto HTTP statuses.
func writeErr(c *gin.Context, err error) {
	var ce *ollama.ClientError
	switch {
	case errors.Is(err, session.ErrBusy):
		writeError(c, http.StatusConflict, "busy", err.Error())
	case errors.Is(err, session.ErrClosed), errors.Is(err, session.ErrManagerClosed):
		writeError(c, http.StatusServiceUnavailable, "closed", err.Error())
	case errors.Is(err, session.ErrInvalidChannel):
		writeError(c, http.StatusBadRequest, "invalid_channel", err.Error())
	case errors.Is(err, session.ErrChannelNotFound):
		writeError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, model.ErrMessageNotFound):
		writeError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, agent.ErrEmptyTask):
		writeError(c, http.StatusBadRequest, string(ollama.KindInvalidInput), err.Error())
	case errors.Is(err, tasks.ErrQueueFull):
		writeError(c, http.StatusServiceUnavailable, "queue_full", err.Error())
	case errors.As(err, &ce):
		writeError(c, statusForKind(ce.Kind), string(ce.Kind), ce.Error())
	default:
		writeError(c, http.StatusInternalServerError, string(ollama.KindUnknown), err.Error())
	}
}

func statusForKind(kind ollama.ErrorKind) int {
	switch kind {
	case ollama.KindInvalidInput:
		return http.StatusBadRequest
	case ollama.KindModelNotFound:
		return http.StatusNotFound
	case ollama.KindNetworkUnavailable, ollama.KindServerError, ollama.KindMalformedResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// bind decodes a JSON body, answering 400 (or 413) on failure.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
			return false
		}
		writeError(c, http.StatusBadRequest, string(ollama.KindInvalidInput), "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) channel(c *gin.Context) (*session.Controller, bool) {
	ctrl, err := s.cfg.Manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return nil, false
	}
	return ctrl, true
}

// ============================================================================
// HEALTH, STATS AND MODELS
// ============================================================================

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string   `json:"status"`
	Ollama        bool     `json:"ollama"`
	Models        []string `json:"models"`
	Version       string   `json:"version"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Error         string   `json:"error,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:        "ok",
		Models:        []string{},
		Version:       Version,
		UptimeSeconds: int64(time.Since(s.stats.StartTime).Seconds()),
	}
	models, err := s.cfg.Backend.ListModels(ctx)
	if err != nil {
		resp.Status = "degraded"
		resp.Error = string(ollama.KindOf(err))
	} else {
		resp.Ollama = true
		for _, m := range models {
			resp.Models = append(resp.Models, m.Name)
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStats(c *gin.Context) {
	resp := StatsResponse{
		TotalRequests:  s.stats.TotalRequests.Load(),
		MessagesPosted: s.stats.MessagesPosted.Load(),
		TasksStarted:   s.stats.TasksStarted.Load(),
		Channels:       len(s.cfg.Manager.List()),
		UptimeSeconds:  int64(time.Since(s.stats.StartTime).Seconds()),
	}
	if s.cfg.Cache != nil {
		st := s.cfg.Cache.Stats()
		resp.Cache = &st
		resp.CacheHitRate = st.HitRate()
	}
	if s.cfg.Orchestrator != nil {
		resp.Tasks = s.cfg.Orchestrator.Queue().Summary()
	}
	c.JSON(http.StatusOK, resp)
}

// ModelEntry is one model in the OpenAI-style listing.
type ModelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
	Size    int64  `json:"size,omitempty"`
}

// ModelsResponse is the body of GET /v1/models.
type ModelsResponse struct {
	Object string       `json:"object"`
	Data   []ModelEntry `json:"data"`
}

func (s *Server) handleModels(c *gin.Context) {
	models, err := s.cfg.Backend.ListModels(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	resp := ModelsResponse{Object: "list", Data: make([]ModelEntry, 0, len(models))}
	for _, m := range models {
		resp.Data = append(resp.Data, ModelEntry{ID: m.Name, Object: "model", OwnedBy: "ollama", Size: m.Size})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCacheClear(c *gin.Context) {
	if s.cfg.Cache == nil {
		writeError(c, http.StatusNotFound, "not_found", "cache is disabled")
		return
	}
	if err := s.cfg.Cache.Clear(c.Request.Context()); err != nil {
		s.logger.Warn("cache clear failed", zap.Error(err))
		writeError(c, http.StatusBadGateway, "cache", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// ============================================================================
// CHANNELS
// ============================================================================

func (s *Server) handleListChannels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"default_model": s.cfg.Manager.DefaultModel(),
		"channels":      s.cfg.Manager.List(),
	})
}

func (s *Server) handleRemoveChannel(c *gin.Context) {
	if err := s.cfg.Manager.Remove(c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetMessages(c *gin.Context) {
	ctrl, ok := s.channel(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"channel":  ctrl.ID(),
		"model":    ctrl.Model(),
		"state":    ctrl.State(),
		"messages": ctrl.Transcript(),
	})
}

// PostMessageRequest is the body of POST /channels/:id/messages.
type PostMessageRequest struct {
	Text string `json:"text"`

	// Wait holds the response until the reply arrives.
	Wait bool `json:"wait"`

	// Retry overrides the channel's retry policy when set.
	Retry *bool `json:"retry"`
}

// PostMessageResponse is returned by POST /channels/:id/messages.
type PostMessageResponse struct {
	Channel  string         `json:"channel"`
	State    session.State  `json:"state"`
	Message  model.Message  `json:"message"`
	Reply    *model.Message `json:"reply,omitempty"`
	Attempts int            `json:"attempts,omitempty"`
	Cached   bool           `json:"cached,omitempty"`
	Error    string         `json:"error_kind,omitempty"`
}

func (s *Server) handlePostMessage(c *gin.Context) {
	var req PostMessageRequest
	if !bind(c, &req) {
		return
	}
	if len(req.Text) > MaxTextLength {
		writeError(c, http.StatusRequestEntityTooLarge, "too_large", "text too long")
		return
	}
	ctrl, ok := s.channel(c)
	if !ok {
		return
	}

	policy := ctrl.RetryPolicy()
	if req.Retry != nil {
		if *req.Retry {
			policy = session.DefaultRetryPolicy()
		} else {
			policy = session.NoRetry()
		}
	}

	user, pending, err := ctrl.Submit(c.Request.Context(), req.Text, policy)
	if err != nil {
		writeErr(c, err)
		return
	}
	s.stats.MessagesPosted.Add(1)

	if !req.Wait {
		c.JSON(http.StatusAccepted, PostMessageResponse{Channel: ctrl.ID(), State: ctrl.State(), Message: user})
		return
	}

	out, err := session.Await(c.Request.Context(), pending)
	if err != nil {
		writeError(c, http.StatusGatewayTimeout, "timeout", "request ended before the reply arrived")
		return
	}
	resp := PostMessageResponse{
		Channel:  ctrl.ID(),
		State:    ctrl.State(),
		Message:  out.User,
		Reply:    &out.Reply,
		Attempts: out.Attempts,
		Cached:   out.Cached,
	}
	if out.Err != nil {
		resp.Error = string(ollama.KindOf(out.Err))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleClearMessages(c *gin.Context) {
	ctrl, ok := s.channel(c)
	if !ok {
		return
	}
	if err := ctrl.Clear(); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": ctrl.ID(), "messages": ctrl.Transcript()})
}

type editRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleEditMessage(c *gin.Context) {
	var req editRequest
	if !bind(c, &req) {
		return
	}
	ctrl, ok := s.channel(c)
	if !ok {
		return
	}
	msg, err := ctrl.Edit(c.Param("msg"), req.Content)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

type reactRequest struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"user_id"`
}

func (s *Server) handleReact(c *gin.Context) {
	var req reactRequest
	if !bind(c, &req) {
		return
	}
	if req.UserID == "" {
		req.UserID = c.ClientIP()
	}
	ctrl, ok := s.channel(c)
	if !ok {
		return
	}
	msg, err := ctrl.React(c.Param("msg"), req.Emoji, req.UserID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// SetModelRequest is the body of PUT /channels/:id/model.
type SetModelRequest struct {
	Model string `json:"model"`

	// Validate checks the model is installed before switching.
	Validate bool `json:"validate"`
}

func (s *Server) handleSetModel(c *gin.Context) {
	var req SetModelRequest
	if !bind(c, &req) {
		return
	}
	ctrl, ok := s.channel(c)
	if !ok {
		return
	}
	var err error
	if req.Validate {
		err = ctrl.SelectModel(c.Request.Context(), req.Model)
	} else {
		err = ctrl.ChangeModel(req.Model)
	}
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": ctrl.ID(), "model": ctrl.Model()})
}

func (s *Server) handleSearch(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		writeError(c, http.StatusBadRequest, string(ollama.KindInvalidInput), "query parameter q is required")
		return
	}
	ctrl, ok := s.channel(c)
	if !ok {
		return
	}
	results := ctrl.Search(q)
	c.JSON(http.StatusOK, gin.H{"channel": ctrl.ID(), "query": q, "count": len(results), "messages": results})
}

func (s *Server) handleChannelStats(c *gin.Context) {
	ctrl, ok := s.channel(c)
	if !ok {
		return
	}
	st := ctrl.Stats()
	c.JSON(http.StatusOK, gin.H{
		"channel":           ctrl.ID(),
		"stats":             st,
		"average_response":  session.FormatDuration(st.AverageResponseTime()),
		"error_rate":        st.ErrorRate(),
		"messages_in_store": len(ctrl.Transcript()),
	})
}

// ============================================================================
// AGENT TASKS
// ============================================================================

// CreateTaskRequest is the body of POST /tasks.
type CreateTaskRequest struct {
	Task string `json:"task"`

	// Channel records which conversation the task belongs to.
	Channel string `json:"channel,omitempty"`

	// Wait runs the task before responding.
	Wait bool `json:"wait"`
}

// TaskResponse describes a job, its steps and its result.
type TaskResponse struct {
	Job    *tasks.Task   `json:"job"`
	Steps  []*tasks.Task `json:"steps"`
	Result *agent.Result `json:"result,omitempty"`
}

func (s *Server) orchestrator(c *gin.Context) (*agent.Orchestrator, bool) {
	if s.cfg.Orchestrator == nil {
		writeError(c, http.StatusServiceUnavailable, "unavailable", "agent tasks are disabled")
		return nil, false
	}
	return s.cfg.Orchestrator, true
}

func (s *Server) handleCreateTask(c *gin.Context) {
	orch, ok := s.orchestrator(c)
	if !ok {
		return
	}
	var req CreateTaskRequest
	if !bind(c, &req) {
		return
	}
	if len(req.Task) > MaxTextLength {
		writeError(c, http.StatusRequestEntityTooLarge, "too_large", "task too long")
		return
	}

	if req.Wait {
		res, err := orch.Run(c.Request.Context(), req.Task)
		if res == nil {
			writeErr(c, err)
			return
		}
		s.stats.TasksStarted.Add(1)
		c.JSON(http.StatusOK, s.taskResponse(orch, res.JobID))
		return
	}

	job, err := orch.Submit(req.Task, req.Channel)
	if err != nil {
		writeErr(c, err)
		return
	}
	s.stats.TasksStarted.Add(1)
	c.JSON(http.StatusAccepted, TaskResponse{Job: job, Steps: []*tasks.Task{}})
}

func (s *Server) taskResponse(orch *agent.Orchestrator, id string) TaskResponse {
	resp := TaskResponse{Job: orch.Queue().Get(id), Steps: orch.Queue().Children(id)}
	if resp.Steps == nil {
		resp.Steps = []*tasks.Task{}
	}
	if res, ok := orch.Result(id); ok {
		resp.Result = res
	}
	return resp
}

func (s *Server) handleListTasks(c *gin.Context) {
	orch, ok := s.orchestrator(c)
	if !ok {
		return
	}
	jobs := orch.Queue().Jobs()
	if jobs == nil {
		jobs = []*tasks.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": jobs, "summary": orch.Queue().Summary()})
}

func (s *Server) handleGetTask(c *gin.Context) {
	orch, ok := s.orchestrator(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if orch.Queue().Get(id) == nil {
		writeError(c, http.StatusNotFound, "not_found", "task not found")
		return
	}
	c.JSON(http.StatusOK, s.taskResponse(orch, id))
}

func (s *Server) handleCancelTask(c *gin.Context) {
	orch, ok := s.orchestrator(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if orch.Queue().Get(id) == nil {
		writeError(c, http.StatusNotFound, "not_found", "task not found")
		return
	}
	if !orch.Queue().Cancel(id) {
		writeError(c, http.StatusConflict, "finished", "task already finished")
		return
	}
	c.JSON(http.StatusOK, s.taskResponse(orch, id))
}
