// server/handlers.go
package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/chhz0/webauto/core"
	"github.com/chhz0/webauto/storage"
	"github.com/chhz0/webauto/transport"
	"github.com/chhz0/webauto/types"
)

// 看板消费的 JSON API，界面渲染不在这边
type apiHandler struct {
	scheduler *core.Scheduler
	events    transport.Transport
	log       *logrus.Entry
}

func (h *apiHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// POST /api/v1/tasks
func (h *apiHandler) createTask(c *gin.Context) {
	var req core.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}

	task, err := h.scheduler.Create(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "create task failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, task)
}

// GET /api/v1/tasks?status=&type=&tag=&limit=
func (h *apiHandler) listTasks(c *gin.Context) {
	var f storage.Filter

	if s := c.Query("status"); s != "" {
		status := types.TaskStatus(s)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown status %q", s)})
			return
		}
		f.Status = status
	}
	if s := c.Query("type"); s != "" {
		taskType, err := types.ParseTaskType(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.Type = taskType
	}
	f.Tag = c.Query("tag")
	if s := c.Query("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid limit %q", s)})
			return
		}
		f.Limit = limit
	}

	tasks, err := h.scheduler.List(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list tasks failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

// GET /api/v1/tasks/:id
func (h *apiHandler) getTask(c *gin.Context) {
	task, err := h.scheduler.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.taskError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// GET /api/v1/tasks/:id/logs
func (h *apiHandler) taskLogs(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid limit %q", s)})
			return
		}
		limit = n
	}

	logs, err := h.scheduler.Logs(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.taskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

// POST /api/v1/tasks/:id/cancel
func (h *apiHandler) cancelTask(c *gin.Context) {
	if err := h.scheduler.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		h.taskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// POST /api/v1/tasks/:id/retry
func (h *apiHandler) retryTask(c *gin.Context) {
	if err := h.scheduler.Requeue(c.Request.Context(), c.Param("id")); err != nil {
		h.taskError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "pending"})
}

// GET /api/v1/stats
func (h *apiHandler) stats(c *gin.Context) {
	stats, err := h.scheduler.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "collect stats failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GET /api/v1/tasks/export — CSV 下载
func (h *apiHandler) exportTasks(c *gin.Context) {
	filename := fmt.Sprintf("tasks_export_%s.csv", time.Now().Format("20060102_150405"))
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := h.scheduler.Export(c.Request.Context(), c.Writer); err != nil {
		h.log.WithError(err).Error("csv export")
	}
}

// DELETE /api/v1/tasks
func (h *apiHandler) clearTasks(c *gin.Context) {
	if err := h.scheduler.Clear(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "clear tasks failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// 任务操作的错误分型：不存在 404，状态机不允许 409，其余 500
func (h *apiHandler) taskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.Is(err, core.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
