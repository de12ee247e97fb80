package schedule

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/easybook/easybook/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("/admin/schedule", auth.RequireRole(auth.RoleAdmin))
	admin.GET("", h.GetSchedule)
	admin.PUT("", h.UpdateSchedule)
	admin.POST("/blackouts", h.AddBlackout)
	admin.DELETE("/blackouts/:date", h.RemoveBlackout)
}

func (h *Handler) GetSchedule(c echo.Context) error {
	cfg, err := h.svc.Current(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) UpdateSchedule(c echo.Context) error {
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cfg, err := h.svc.Update(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) AddBlackout(c echo.Context) error {
	var b Blackout
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cfg, err := h.svc.AddBlackout(c.Request().Context(), b)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, cfg)
}

func (h *Handler) RemoveBlackout(c echo.Context) error {
	cfg, err := h.svc.RemoveBlackout(c.Request().Context(), c.Param("date"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidConfig):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrBlackoutNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "schedule unavailable").SetInternal(err)
	}
}
