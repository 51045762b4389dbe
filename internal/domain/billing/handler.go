package billing

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lims/lims/internal/domain/lab"
	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/pkg/pagination"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleLabManager, auth.RoleCustomerService))
	read.GET("/invoices", h.ListInvoices)
	read.GET("/invoices/export", h.ExportInvoices)
	read.GET("/invoices/:id", h.GetInvoice)
	read.GET("/test-requests/:id/invoice", h.GetInvoiceByTestRequest)
	read.GET("/customers/:id/invoices", h.ListInvoicesByCustomer)

	write := api.Group("", auth.RequireRole(auth.RoleBilling))
	write.POST("/invoices", h.CreateInvoice)
	write.POST("/test-requests/:id/invoice", h.GenerateInvoice)
	write.PUT("/invoices/:id", h.UpdateInvoice)
	write.POST("/invoices/:id/pay", h.MarkPaid)
	write.POST("/invoices/:id/cancel", h.CancelInvoice)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateInvoice(c echo.Context) error {
	var data CreateInvoiceData
	if err := c.Bind(&data); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.CreateInvoice(c.Request().Context(), data)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) GenerateInvoice(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		IssuedByID *uuid.UUID `json:"issued_by_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.GenerateInvoiceFromTestRequest(c.Request().Context(), id, body.IssuedByID)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) GetInvoiceByTestRequest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.GetInvoiceByTestRequest(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) UpdateInvoice(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var data UpdateInvoiceData
	if err := c.Bind(&data); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.UpdateInvoice(c.Request().Context(), id, data)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) MarkPaid(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		PaymentProofRef *string `json:"payment_proof_ref"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.MarkInvoiceAsPaid(c.Request().Context(), id, body.PaymentProofRef)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) CancelInvoice(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.CancelInvoice(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ListInvoices(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f InvoiceFilter
	if v := c.QueryParam("customer_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid customer_id")
		}
		f.CustomerID = &id
	}
	f.PaymentStatus = PaymentStatus(c.QueryParam("payment_status"))
	if v := c.QueryParam("issued_from"); v != "" {
		t, err := lab.ParseDate(v)
		if err != nil {
			return apperr.HTTPError(err)
		}
		f.IssuedFrom = &t
	}
	if v := c.QueryParam("issued_to"); v != "" {
		t, err := lab.ParseDate(v)
		if err != nil {
			return apperr.HTTPError(err)
		}
		f.IssuedTo = &t
	}
	items, total, err := h.svc.ListInvoices(c.Request().Context(), f, pg.Take(), pg.Skip())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ListInvoicesByCustomer(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListInvoicesByCustomer(c.Request().Context(), id, pg.Take(), pg.Skip())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// ExportInvoices streams ?month=YYYY-MM as an XLSX download.
func (h *Handler) ExportInvoices(c echo.Context) error {
	month, err := time.Parse("2006-01", c.QueryParam("month"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "month must be YYYY-MM")
	}
	var buf bytes.Buffer
	if _, err := h.svc.ExportMonth(c.Request().Context(), month, &buf); err != nil {
		return apperr.HTTPError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="invoices-%s.xlsx"`, month.Format("2006-01")))
	return c.Blob(http.StatusOK, xlsxContentType, buf.Bytes())
}
