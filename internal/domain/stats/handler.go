package stats

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/auth"
)

type Handler struct {
	agg *Aggregator
	now func() time.Time
}

func NewHandler(agg *Aggregator) *Handler {
	return &Handler{agg: agg, now: func() time.Time { return time.Now().UTC() }}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleLabManager, auth.RoleBilling))
	g.GET("/stats/dashboard", h.Dashboard)
	g.GET("/stats/lab", h.LabStats)
	g.GET("/stats/invoices", h.InvoiceStats)
	g.GET("/customers/:id/stats", h.CustomerStats)
}

func (h *Handler) Dashboard(c echo.Context) error {
	d, err := h.agg.Dashboard(c.Request().Context(), h.now())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) LabStats(c echo.Context) error {
	s, err := h.agg.LabStats(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) InvoiceStats(c echo.Context) error {
	s, err := h.agg.InvoiceStats(c.Request().Context(), h.now())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) CustomerStats(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	s, err := h.agg.CustomerStats(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, s)
}
