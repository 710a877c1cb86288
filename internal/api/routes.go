package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter wires the handler into a gin engine.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		tasks := api.Group("/tasks")
		tasks.POST("/:id/complete", h.Complete)
		tasks.POST("/:id/reschedule", h.Reschedule)
		tasks.GET("/:id/reschedules", h.ListReschedules)
		tasks.DELETE("/:id", h.Delete)

		api.GET("/reminders", h.Reminders)
		api.POST("/sweeps/:name", h.RunSweep)
	}
	return r
}
