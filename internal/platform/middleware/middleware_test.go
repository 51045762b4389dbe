package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		rid := c.Get("request_id").(string)
		if rid == "" {
			t.Error("expected request_id to be generated")
		}
		return c.String(http.StatusOK, "ok")
	}

	mw := RequestID()
	h := mw(handler)
	err := h(c)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		rid := c.Get("request_id").(string)
		if rid != "my-custom-id" {
			t.Errorf("expected my-custom-id, got %s", rid)
		}
		return c.String(http.StatusOK, "ok")
	}

	mw := RequestID()
	h := mw(handler)
	h(c)

	if rec.Header().Get(RequestIDHeader) != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func TestLogger_LogsRequest(t *testing.T) {
	logger := zerolog.New(os.Stderr).With().Logger()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	mw := Logger(logger)
	h := mw(handler)
	err := h(c)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	logger := zerolog.New(os.Stderr).With().Logger()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		panic("test panic")
	}

	mw := Recovery(logger)
	h := mw(handler)
	err := h(c)

	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	logger := zerolog.New(os.Stderr).With().Logger()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	mw := Recovery(logger)
	h := mw(handler)
	err := h(c)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAudit_LogsMutation(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	id := uuid.New().String()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices/"+id+"/pay", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-123")

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	if err := Audit(logger)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"resource":"invoices"`, `"resource_id":"` + id + `"`, `"action":"create"`, `"request_id":"req-123"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected audit line to contain %s, got %s", want, out)
		}
	}
}

func TestAudit_SkipsReads(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	Audit(logger)(func(c echo.Context) error { return nil })(c)
	if buf.Len() != 0 {
		t.Errorf("expected no audit line for a read, got %s", buf.String())
	}
}

func TestLogger_ClientErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/x", nil), httptest.NewRecorder())

	err := Logger(logger)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "invoice already exists")
	})(c)
	if err == nil {
		t.Fatal("expected error to be returned")
	}
	if !strings.Contains(buf.String(), `"status":409`) || !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Errorf("unexpected log line %s", buf.String())
	}
}

func TestSplitResource(t *testing.T) {
	id := uuid.New().String()
	tests := []struct {
		path, resource, id string
	}{
		{"/api/v1/lab-tests/" + id + "/complete", "lab-tests", id},
		{"/api/v1/test-requests", "test-requests", ""},
		{"/api/v1/invoices/export", "invoices", ""},
		{"/api/v1/", "unknown", ""},
	}
	for _, tt := range tests {
		r, rid := splitResource(tt.path)
		if r != tt.resource || rid != tt.id {
			t.Errorf("splitResource(%s) = %s,%s want %s,%s", tt.path, r, rid, tt.resource, tt.id)
		}
	}
}
