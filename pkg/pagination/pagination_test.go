package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(target string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return FromContext(e.NewContext(req, rec))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		target string
		want   Params
	}{
		{"/", Params{Count: DefaultCount, Offset: 0}},
		{"/?_count=25&_offset=5", Params{Count: 25, Offset: 5}},
		{"/?_count=1000", Params{Count: MaxCount, Offset: 0}},
		{"/?_count=abc&_offset=-3", Params{Count: DefaultCount, Offset: 0}},
	}
	for _, tt := range tests {
		if got := paramsFor(tt.target); got != tt.want {
			t.Errorf("%s: expected %+v, got %+v", tt.target, tt.want, got)
		}
	}
}

func TestParams_Navigation(t *testing.T) {
	p := Params{Count: 10, Offset: 10}
	if !p.HasNext(25) {
		t.Error("expected a next page")
	}
	if p.HasNext(20) {
		t.Error("expected no next page")
	}
	if !p.HasPrevious() {
		t.Error("expected a previous page")
	}
	if (Params{Count: 10}).HasPrevious() {
		t.Error("expected no previous page at offset 0")
	}
}
