package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cleverschool/edubot/internal/supervisor"
)

type HealthHandler struct {
	supervisor *supervisor.Supervisor
}

func NewHealthHandler(sup *supervisor.Supervisor) *HealthHandler {
	return &HealthHandler{supervisor: sup}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.HEAD("/health", h.HealthHead)
}

// Health reports the bot connection state. It returns 200 whenever the
// process is serving, even if the bot itself is offline, so orchestrators
// do not restart the process on upstream hiccups.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, h.supervisor.Snapshot())
}

func (h *HealthHandler) HealthHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
