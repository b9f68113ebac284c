package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/derek-dv/errand-backend/internal/hub"
)

// MonitorHandler serves hub statistics.
type MonitorHandler interface {
	GetHubStats(c *gin.Context)
}

type monitorHandler struct {
	monitor *hub.MonitorService
}

func NewMonitorHandler(monitor *hub.MonitorService) MonitorHandler {
	return &monitorHandler{monitor: monitor}
}

func (h *monitorHandler) GetHubStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.Stats())
}
