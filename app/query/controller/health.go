package controller

import (
	"net/http"

	"go.uber.org/zap"
)

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := c.App.Store.Ping(ctx); err != nil {
		c.App.Logger.Warn("Health check failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "errored", "error": "database connection error"})
		return
	}

	status := map[string]string{"status": "ok", "realtime": "disabled"}
	if c.App.RedisClient != nil {
		status["realtime"] = "ok"
		if err := c.App.RedisClient.Health(ctx); err != nil {
			status["realtime"] = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, status)
}
