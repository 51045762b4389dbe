package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestProvider_NilSafe(t *testing.T) {
	var p *Provider
	p.DocumentIssued("invoice")
	p.LabEvent("request_created")
	p.InvoiceEvent("PAID")
	p.InvoiceCreated(107)
	p.DomainError("not_found")
}

func TestProvider_Counters(t *testing.T) {
	p := NewProvider(Config{})
	p.DocumentIssued("invoice")
	p.DocumentIssued("invoice")
	p.LabEvent("test_completed")
	p.InvoiceCreated(374.5)
	p.InvoiceEvent("PAID")

	if got := testutil.ToFloat64(p.documents.WithLabelValues("invoice")); got != 2 {
		t.Errorf("expected 2 invoice numbers, got %v", got)
	}
	if got := testutil.ToFloat64(p.labEvents.WithLabelValues("test_completed")); got != 1 {
		t.Errorf("expected 1 completion, got %v", got)
	}
	if got := testutil.ToFloat64(p.invoiceAmount); got != 374.5 {
		t.Errorf("expected 374.5 invoiced, got %v", got)
	}
	if got := testutil.ToFloat64(p.invoiceEvents.WithLabelValues("PENDING")); got != 1 {
		t.Errorf("expected 1 pending invoice event, got %v", got)
	}
}

func TestMetricsMiddleware_RecordsRoute(t *testing.T) {
	p := NewProvider(Config{ServiceName: "lims-test"})
	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/api/v1/invoices/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/boom", func(c echo.Context) error {
		return errors.New("boom")
	})

	for _, path := range []string{"/api/v1/invoices/abc", "/boom"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	if n := testutil.CollectAndCount(p.httpDuration); n != 2 {
		t.Errorf("expected 2 label sets, got %d", n)
	}
	if got := testutil.ToFloat64(p.activeRequests); got != 0 {
		t.Errorf("expected no active requests, got %v", got)
	}
}

func TestPrometheusHandler(t *testing.T) {
	p := NewProvider(Config{})
	p.LabEvent("request_created")
	p.GaugeFunc("db_pool_idle_connections", "Idle pool connections.", func() float64 { return 3 })

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := p.PrometheusHandler()(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`lims_lab_events_total{env="development",event="request_created",service="lims-server"} 1`,
		`lims_build_info{env="development",service="lims-server",version="0.0.0"} 1`,
		"lims_db_pool_idle_connections 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected exposition to contain %q", want)
		}
	}
}
