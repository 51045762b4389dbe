package lab

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lims/lims/internal/platform/apperr"
	"github.com/lims/lims/internal/platform/auth"
	"github.com/lims/lims/pkg/pagination"
)

type Handler struct {
	registry *Registry
	cases    *CaseEngine
	ledger   *ResultLedger
}

func NewHandler(registry *Registry, cases *CaseEngine, ledger *ResultLedger) *Handler {
	return &Handler{registry: registry, cases: cases, ledger: ledger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleLabManager, auth.RoleLabTech, auth.RoleBilling, auth.RoleCustomerService))
	read.GET("/test-requests", h.ListTestRequests)
	read.GET("/test-requests/search", h.SearchTestRequests)
	read.GET("/test-requests/:id", h.GetTestRequest)
	read.GET("/test-requests/:id/lab-tests", h.ListLabTestsByRequest)
	read.GET("/customers/:id/test-requests", h.ListByCustomer)
	read.GET("/lab-tests/:id", h.GetLabTest)
	read.GET("/lab-tests/:id/results", h.ListResults)
	read.GET("/technicians/:id/lab-tests", h.ListLabTestsByTechnician)

	intake := api.Group("", auth.RequireRole(auth.RoleLabManager, auth.RoleCustomerService))
	intake.POST("/test-requests", h.CreateTestRequest)
	intake.PUT("/test-requests/:id", h.UpdateTestRequest)

	bench := api.Group("", auth.RequireRole(auth.RoleLabManager, auth.RoleLabTech))
	bench.PUT("/samples/:id", h.UpdateSample)
	bench.POST("/samples/:id/receive", h.ReceiveSample)
	bench.POST("/lab-tests/:id/complete", h.CompleteLabTest)
	bench.POST("/lab-results", h.CreateLabResult)
	bench.PUT("/lab-results/:id", h.UpdateLabResult)
	bench.DELETE("/lab-results/:id", h.DeleteLabResult)

	manage := api.Group("", auth.RequireRole(auth.RoleLabManager))
	manage.POST("/samples/:id/assign", h.AssignTechnician)
	manage.POST("/lab-tests", h.CreateLabTest)
	manage.POST("/lab-tests/:id/review", h.ReviewLabTest)
	manage.POST("/lab-tests/:id/approve", h.ApproveLabTest)
	manage.POST("/lab-tests/:id/reject", h.RejectLabTest)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func actor(c echo.Context) (uuid.UUID, error) {
	id, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "unknown actor")
	}
	return id, nil
}

// =========== Test Requests ===========

func (h *Handler) CreateTestRequest(c echo.Context) error {
	var data CreateTestRequestData
	if err := c.Bind(&data); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	tr, err := h.registry.CreateTestRequest(c.Request().Context(), data)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, tr)
}

func (h *Handler) GetTestRequest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	tr, err := h.registry.GetTestRequest(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, tr)
}

func (h *Handler) UpdateTestRequest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var data UpdateTestRequestData
	if err := c.Bind(&data); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	tr, err := h.registry.UpdateTestRequest(c.Request().Context(), id, data)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, tr)
}

func (h *Handler) ListTestRequests(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f ListFilter
	if v := c.QueryParam("customer_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid customer_id")
		}
		f.CustomerID = &id
	}
	f.DocumentStatus = DocumentStatus(c.QueryParam("document_status"))
	f.LabInternalStatus = LabInternalStatus(c.QueryParam("lab_internal_status"))
	if v := c.QueryParam("created_from"); v != "" {
		t, err := ParseDate(v)
		if err != nil {
			return apperr.HTTPError(err)
		}
		f.CreatedFrom = &t
	}
	if v := c.QueryParam("created_to"); v != "" {
		t, err := ParseDate(v)
		if err != nil {
			return apperr.HTTPError(err)
		}
		f.CreatedTo = &t
	}
	items, total, err := h.registry.ListTestRequests(c.Request().Context(), f, pg.Take(), pg.Skip())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) SearchTestRequests(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.registry.Search(c.Request().Context(), c.QueryParam("q"), pg.Take(), pg.Skip())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ListByCustomer(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.registry.ListByCustomer(c.Request().Context(), id, pg.Take(), pg.Skip())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// =========== Samples ===========

func (h *Handler) UpdateSample(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var data UpdateSampleData
	if err := c.Bind(&data); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s, err := h.registry.UpdateSample(c.Request().Context(), id, data)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) ReceiveSample(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var data ReceiveSampleData
	if err := c.Bind(&data); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s, err := h.registry.ReceiveSample(c.Request().Context(), id, data)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) AssignTechnician(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		TechnicianID uuid.UUID `json:"technician_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.cases.AssignTechnicianToSample(c.Request().Context(), id, body.TechnicianID)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, t)
}

// =========== Lab Tests ===========

func (h *Handler) CreateLabTest(c echo.Context) error {
	var data CreateLabTestData
	if err := c.Bind(&data); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.cases.CreateLabTest(c.Request().Context(), data)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetLabTest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.cases.GetLabTest(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListLabTestsByRequest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.cases.ListLabTestsByRequest(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListLabTestsByTechnician(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.cases.ListLabTestsByTechnician(c.Request().Context(), id, pg.Take(), pg.Skip())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) CompleteLabTest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.ledger.CompleteLabTest(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ReviewLabTest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	who, err := actor(c)
	if err != nil {
		return err
	}
	t, err := h.cases.ReviewLabTest(c.Request().Context(), id, who)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ApproveLabTest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	who, err := actor(c)
	if err != nil {
		return err
	}
	t, err := h.cases.ApproveLabTest(c.Request().Context(), id, who)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) RejectLabTest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	who, err := actor(c)
	if err != nil {
		return err
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.cases.RejectLabTest(c.Request().Context(), id, who, body.Reason)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, t)
}

// =========== Lab Results ===========

func (h *Handler) CreateLabResult(c echo.Context) error {
	var data CreateLabResultData
	if err := c.Bind(&data); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.ledger.CreateLabResult(c.Request().Context(), data)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) UpdateLabResult(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var data UpdateLabResultData
	if err := c.Bind(&data); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.ledger.UpdateLabResult(c.Request().Context(), id, data)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteLabResult(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.ledger.DeleteLabResult(c.Request().Context(), id); err != nil {
		return apperr.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListResults(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.ledger.ListResults(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}
