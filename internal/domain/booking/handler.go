package booking

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/easybook/easybook/internal/domain/schedule"
	"github.com/easybook/easybook/internal/platform/auth"
	"github.com/easybook/easybook/pkg/pagination"
)

// defaultWindowDays is the availability window when ?end= is omitted.
const defaultWindowDays = 7

type Handler struct {
	svc *Service
	now func() time.Time
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/slots", h.ListSlots)

	appts := api.Group("/appointments", auth.RequireRole(auth.RoleClient))
	appts.POST("", h.Book)
	appts.GET("", h.ListAppointments)
	appts.GET("/:id", h.GetAppointment)
	appts.POST("/:id/cancel", h.CancelAppointment)
}

type SlotsResponse struct {
	Start string          `json:"start"`
	End   string          `json:"end"`
	Slots []schedule.Slot `json:"slots"`
}

func (h *Handler) ListSlots(c echo.Context) error {
	start, err := dateParam(c, "start", h.now())
	if err != nil {
		return err
	}
	end, err := dateParam(c, "end", start.AddDate(0, 0, defaultWindowDays-1))
	if err != nil {
		return err
	}

	slots, err := h.svc.ListAvailableSlots(c.Request().Context(), start, end)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, SlotsResponse{
		Start: start.Format(schedule.DateLayout),
		End:   end.Format(schedule.DateLayout),
		Slots: slots,
	})
}

func dateParam(c echo.Context, name string, fallback time.Time) (time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.Parse(schedule.DateLayout, v)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+": expected YYYY-MM-DD")
	}
	return d, nil
}

func (h *Handler) Book(c echo.Context) error {
	who, err := requester(c)
	if err != nil {
		return err
	}
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.svc.Book(c.Request().Context(), who, req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	who, err := requester(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	appt, err := h.svc.Get(c.Request().Context(), who, id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	who, err := requester(c)
	if err != nil {
		return err
	}
	f := Filter{
		Status: c.QueryParam("status"),
		From:   c.QueryParam("from"),
		To:     c.QueryParam("to"),
	}
	if v := c.QueryParam("client_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid client_id")
		}
		f.ClientID = &id
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), who, f, pg.Limit, pg.Offset)
	if err != nil {
		return toHTTPError(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL))
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	who, err := requester(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	appt, err := h.svc.Cancel(c.Request().Context(), who, id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, appt)
}

// requester builds the caller identity from the authenticated context.
func requester(c echo.Context) (Requester, error) {
	ctx := c.Request().Context()
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return Requester{}, echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid subject")
	}
	return Requester{AccountID: id, Admin: auth.IsAdmin(ctx)}, nil
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidSlotRequest),
		errors.Is(err, ErrInvalidRange),
		errors.Is(err, ErrInvalidFilter),
		errors.Is(err, ErrUnknownClient):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "booking unavailable").SetInternal(err)
	}
}
