package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestBodyLimit_AllowsSmallBody(t *testing.T) {
	e := echo.New()
	body := `{"resourceType":"Parameters"}`
	req := httptest.NewRequest(http.MethodPost, "/fhir/ValueSet/$expand", strings.NewReader(body))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		data, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		return c.String(http.StatusOK, string(data))
	}

	if err := BodyLimit(1 << 10)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Body.String() != body {
		t.Errorf("expected the body to pass through, got %q", rec.Body.String())
	}
}

func TestBodyLimit_RejectsByContentLength(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/fhir/ValueSet/$expand", strings.NewReader(strings.Repeat("x", 2048)))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	handler := func(c echo.Context) error {
		called = true
		return nil
	}

	if err := BodyLimit(1 << 10)(handler)(c); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("expected the handler not to run")
	}
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "too-costly") {
		t.Errorf("expected a too-costly issue, got %s", rec.Body.String())
	}
}

func TestBodyLimit_RejectsWhileReading(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/fhir/ValueSet/$expand", strings.NewReader(strings.Repeat("x", 2048)))
	req.ContentLength = -1
	c := e.NewContext(req, httptest.NewRecorder())

	handler := func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	}

	err := BodyLimit(1 << 10)(handler)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected a 413 error, got %v", err)
	}
}

func TestBodyLimit_Disabled(t *testing.T) {
	e := echo.New()
	body := strings.Repeat("x", 4096)
	req := httptest.NewRequest(http.MethodPost, "/fhir/ValueSet/$expand", strings.NewReader(body))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		data, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		return c.String(http.StatusOK, string(data))
	}

	if err := BodyLimit(0)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.Body.String()) != len(body) {
		t.Errorf("expected the full body, got %d bytes", len(rec.Body.String()))
	}
}

func TestBodyLimit_ExactLimit(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/fhir/ValueSet/$expand", strings.NewReader(strings.Repeat("x", 1024)))
	req.ContentLength = -1
	c := e.NewContext(req, httptest.NewRecorder())

	handler := func(c echo.Context) error {
		data, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		if len(data) != 1024 {
			t.Errorf("expected 1024 bytes, got %d", len(data))
		}
		return nil
	}

	if err := BodyLimit(1 << 10)(handler)(c); err != nil {
		t.Errorf("expected a body at the limit to pass, got %v", err)
	}
}
