package customer

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "lab_manager", "billing", "customer_service"))
	read.GET("/customers", h.ListCustomers)
	read.GET("/customers/:id", h.GetCustomer)

	write := api.Group("", auth.RequireRole("admin", "customer_service"))
	write.POST("/customers", h.CreateCustomer)
	write.PUT("/customers/:id", h.UpdateCustomer)
	write.DELETE("/customers/:id", h.DeleteCustomer)
}

func (h *Handler) CreateCustomer(c echo.Context) error {
	var data CreateCustomerData
	if err := c.Bind(&data); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cust, err := h.svc.CreateCustomer(c.Request().Context(), data)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, cust)
}

func (h *Handler) GetCustomer(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cust, err := h.svc.GetCustomer(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, cust)
}

func (h *Handler) ListCustomers(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListCustomers(c.Request().Context(), pg.Take(), pg.Skip())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) UpdateCustomer(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var data UpdateCustomerData
	if err := c.Bind(&data); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cust, err := h.svc.UpdateCustomer(c.Request().Context(), id, data)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, cust)
}

func (h *Handler) DeleteCustomer(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteCustomer(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
