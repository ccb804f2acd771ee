package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/cleverschool/edubot/internal/directory"
)

// GuildsHandler exposes the admin surface for linking platform entities to
// the school directory and tuning per-guild bot behavior.
type GuildsHandler struct {
	dir      *directory.Service
	logger   *slog.Logger
	validate *validator.Validate
}

func NewGuildsHandler(log *slog.Logger, dir *directory.Service) *GuildsHandler {
	return &GuildsHandler{
		dir:      dir,
		logger:   log.With(slog.String("handler", "guilds")),
		validate: validator.New(),
	}
}

func (h *GuildsHandler) Register(e *echo.Echo) {
	group := e.Group("/guilds")
	group.GET("/:id/config", h.GetConfig)
	group.PUT("/:id/config", h.PutConfig)
	group.POST("/:id/school", h.LinkSchool)

	e.POST("/channels/:id/class", h.LinkClass)
	e.POST("/users/:id/student", h.LinkStudent)
}

func (h *GuildsHandler) GetConfig(c echo.Context) error {
	cfg, err := h.dir.BotConfig(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, cfg)
}

type putConfigRequest struct {
	AutoResponse    bool     `json:"auto_response"`
	AllowedChannels []string `json:"allowed_channels"`
}

func (h *GuildsHandler) PutConfig(c echo.Context) error {
	var req putConfigRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cfg := directory.GuildBotConfig{
		GuildID:         c.Param("id"),
		AutoResponse:    req.AutoResponse,
		AllowedChannels: req.AllowedChannels,
	}
	if cfg.AllowedChannels == nil {
		cfg.AllowedChannels = []string{}
	}
	if err := h.dir.UpsertBotConfig(c.Request().Context(), cfg); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, cfg)
}

type linkSchoolRequest struct {
	SchoolID string `json:"school_id" validate:"required,uuid"`
}

func (h *GuildsHandler) LinkSchool(c echo.Context) error {
	var req linkSchoolRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.dir.LinkGuildToSchool(c.Request().Context(), c.Param("id"), req.SchoolID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "guild not registered")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type linkClassRequest struct {
	ClassID string `json:"class_id" validate:"required,uuid"`
}

func (h *GuildsHandler) LinkClass(c echo.Context) error {
	var req linkClassRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.dir.LinkChannelToClass(c.Request().Context(), c.Param("id"), req.ClassID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "channel not registered")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type linkStudentRequest struct {
	StudentID string `json:"student_id" validate:"required,uuid"`
}

func (h *GuildsHandler) LinkStudent(c echo.Context) error {
	var req linkStudentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.dir.LinkUserToStudent(c.Request().Context(), c.Param("id"), req.StudentID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "user not registered")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
