package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"coach-planner/internal/repository"
	"coach-planner/internal/service"
)

// Handler exposes task gates and manual sweep triggers over HTTP.
type Handler struct {
	tasks     *service.TaskService
	reminders *service.ReminderService
	sweeps    service.Sweeps
	now       func() time.Time
}

func NewHandler(tasks *service.TaskService, reminders *service.ReminderService, sweeps service.Sweeps) *Handler {
	return &Handler{tasks: tasks, reminders: reminders, sweeps: sweeps, now: time.Now}
}

// POST /api/tasks/:id/complete
func (h *Handler) Complete(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}
	var req struct {
		MissedReason string `json:"missed_reason"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Printf("[api][complete][bind][err] %v", err)
			writeError(c, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
	}

	task, err := h.tasks.CompleteTask(c.Request.Context(), id, service.CompleteInput{MissedReason: req.MissedReason}, h.now().UTC())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// POST /api/tasks/:id/reschedule
func (h *Handler) Reschedule(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}
	var req struct {
		NewDueAt string `json:"new_due_at"` // RFC3339
		Reason   string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Printf("[api][reschedule][bind][err] %v", err)
		writeError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	var due time.Time
	if req.NewDueAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.NewDueAt)
		if err != nil {
			writeError(c, http.StatusUnprocessableEntity, service.CodeInvalidDueAt, "new_due_at must be RFC3339")
			return
		}
		due = parsed
	}

	event, err := h.tasks.RescheduleTask(c.Request.Context(), id, service.RescheduleInput{NewDueAt: due, Reason: req.Reason}, h.now().UTC())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

// GET /api/tasks/:id/reschedules
func (h *Handler) ListReschedules(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}
	events, err := h.tasks.ListReschedules(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": events})
}

// DELETE /api/tasks/:id
func (h *Handler) Delete(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}
	if err := h.tasks.DeleteTask(c.Request.Context(), id, h.now().UTC()); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/reminders?at=RFC3339
func (h *Handler) Reminders(c *gin.Context) {
	at := h.now().UTC()
	if raw := c.Query("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "bad_request", "at must be RFC3339")
			return
		}
		at = parsed
	}
	tasks, err := h.reminders.TasksNeedingReminder(c.Request.Context(), at)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"at": at, "items": tasks})
}

// POST /api/sweeps/:name
func (h *Handler) RunSweep(c *gin.Context) {
	name := c.Param("name")
	if _, ok := h.sweeps[name]; !ok {
		writeError(c, http.StatusNotFound, "not_found", "unknown sweep "+name)
		return
	}
	report, err := h.sweeps.Run(c.Request.Context(), name, h.now().UTC())
	if err != nil {
		log.Printf("[api][sweep][err] name=%s: %v", name, err)
		writeError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	log.Printf("[api][sweep] %s", report)
	c.JSON(http.StatusOK, gin.H{
		"name":        report.Name,
		"at":          report.At,
		"processed":   report.Processed,
		"changed":     report.Changed,
		"failed":      report.Failed,
		"skipped":     report.Skipped,
		"duration_ms": report.Duration.Milliseconds(),
	})
}

func taskIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid task id")
		return 0, false
	}
	return uint(id), true
}

func respondError(c *gin.Context, err error) {
	if ve, ok := service.AsValidation(err); ok {
		writeError(c, http.StatusUnprocessableEntity, ve.Code, ve.Message)
		return
	}
	if errors.Is(err, repository.ErrNotFound) {
		writeError(c, http.StatusNotFound, "not_found", "task not found")
		return
	}
	log.Printf("[api][err] %s %s: %v", c.Request.Method, c.FullPath(), err)
	writeError(c, http.StatusInternalServerError, "internal", "internal error")
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}
