package codesystem

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// -- Mock Repository --

type mockCodeSystemRepo struct {
	store map[string]*CodeSystem
}

func newMockCodeSystemRepo() *mockCodeSystemRepo {
	return &mockCodeSystemRepo{store: make(map[string]*CodeSystem)}
}

func (m *mockCodeSystemRepo) Upsert(_ context.Context, cs *CodeSystem) error {
	if cs.ID == uuid.Nil {
		cs.ID = uuid.New()
	}
	if cs.FHIRID == "" {
		cs.FHIRID = cs.ID.String()
	}
	if existing, ok := m.store[cs.FHIRID]; ok {
		cs.VersionID = existing.VersionID + 1
	} else {
		cs.VersionID = 1
	}
	m.store[cs.FHIRID] = cs
	return nil
}

func (m *mockCodeSystemRepo) GetByFHIRID(_ context.Context, fhirID string) (*CodeSystem, error) {
	cs, ok := m.store[fhirID]
	if !ok {
		return nil, ErrNotFound
	}
	return cs, nil
}

func (m *mockCodeSystemRepo) FindByURL(_ context.Context, url string) ([]*CodeSystem, error) {
	var r []*CodeSystem
	for _, cs := range m.store {
		if cs.URL == url && cs.Supplements == "" {
			r = append(r, cs)
		}
	}
	return r, nil
}

func (m *mockCodeSystemRepo) FindSupplements(_ context.Context, systemURL string) ([]*CodeSystem, error) {
	var r []*CodeSystem
	for _, cs := range m.store {
		if cs.Supplements == systemURL || strings.HasPrefix(cs.Supplements, systemURL+"|") {
			r = append(r, cs)
		}
	}
	return r, nil
}

func (m *mockCodeSystemRepo) Delete(_ context.Context, fhirID string) error {
	if _, ok := m.store[fhirID]; !ok {
		return ErrNotFound
	}
	delete(m.store, fhirID)
	return nil
}

func (m *mockCodeSystemRepo) List(_ context.Context, limit, offset int) ([]*CodeSystem, int, error) {
	var r []*CodeSystem
	for _, cs := range m.store {
		r = append(r, cs)
	}
	return r, len(r), nil
}

func newTestService() *Service {
	return NewService(newMockCodeSystemRepo())
}

const genderJSON = `{"resourceType":"CodeSystem","id":"gender","url":"http://example.org/gender","version":"1.0.0","status":"active","content":"complete","concept":[{"code":"m","display":"Male"}]}`

// -- Service Tests --

func TestImport_Success(t *testing.T) {
	svc := newTestService()
	cs, err := svc.Import(context.Background(), []byte(genderJSON), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs.FHIRID != "gender" {
		t.Errorf("expected fhir id gender, got %s", cs.FHIRID)
	}
	if cs.URL != "http://example.org/gender" || cs.Version != "1.0.0" {
		t.Errorf("unexpected url/version %s|%s", cs.URL, cs.Version)
	}
	if cs.VersionID != 1 {
		t.Errorf("expected version id 1, got %d", cs.VersionID)
	}
}

func TestImport_IDOverride(t *testing.T) {
	svc := newTestService()
	cs, err := svc.Import(context.Background(), []byte(genderJSON), "other")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs.FHIRID != "other" {
		t.Errorf("expected fhir id other, got %s", cs.FHIRID)
	}
}

func TestImport_DefaultStatus(t *testing.T) {
	svc := newTestService()
	cs, err := svc.Import(context.Background(), []byte(`{"resourceType":"CodeSystem","url":"http://x","content":"complete"}`), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs.Status != "draft" {
		t.Errorf("expected default status draft, got %s", cs.Status)
	}
	if cs.FHIRID == "" {
		t.Error("expected FHIRID to be generated")
	}
}

func TestImport_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"wrong type", `{"resourceType":"ValueSet","url":"http://x"}`},
		{"missing url", `{"resourceType":"CodeSystem","content":"complete"}`},
		{"missing content", `{"resourceType":"CodeSystem","url":"http://x"}`},
		{"bad content", `{"resourceType":"CodeSystem","url":"http://x","content":"bogus"}`},
		{"bad status", `{"resourceType":"CodeSystem","url":"http://x","content":"complete","status":"bogus"}`},
		{"supplement without target", `{"resourceType":"CodeSystem","url":"http://x","content":"supplement"}`},
	}
	svc := newTestService()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Import(context.Background(), []byte(tt.body), ""); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestImport_ReplaceBumpsVersion(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if _, err := svc.Import(ctx, []byte(genderJSON), ""); err != nil {
		t.Fatal(err)
	}
	cs, err := svc.Import(ctx, []byte(genderJSON), "")
	if err != nil {
		t.Fatal(err)
	}
	if cs.VersionID != 2 {
		t.Errorf("expected version id 2, got %d", cs.VersionID)
	}
}

func TestFindSupplements(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	supp := `{"resourceType":"CodeSystem","id":"supp","url":"http://example.org/gender-de","content":"supplement","supplements":"http://example.org/gender|1.0.0"}`
	if _, err := svc.Import(ctx, []byte(supp), ""); err != nil {
		t.Fatal(err)
	}
	items, err := svc.FindSupplements(ctx, "http://example.org/gender")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].FHIRID != "supp" {
		t.Errorf("expected the supplement, got %v", items)
	}
}

func TestToFHIR_SetsIDAndMeta(t *testing.T) {
	cs, err := FromResource([]byte(genderJSON))
	if err != nil {
		t.Fatal(err)
	}
	cs.FHIRID = "renamed"
	cs.VersionID = 3
	out := cs.ToFHIR()
	if out["id"] != "renamed" {
		t.Errorf("expected id renamed, got %v", out["id"])
	}
	if out["url"] != "http://example.org/gender" {
		t.Errorf("expected url to survive, got %v", out["url"])
	}
	if _, ok := out["concept"]; !ok {
		t.Error("expected concepts to survive")
	}
	if _, ok := out["meta"]; !ok {
		t.Error("expected meta")
	}
}

// -- Handler Tests --

func TestHandler_GetNotFound(t *testing.T) {
	h := NewHandler(newTestService())
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/fhir/CodeSystem/missing", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("missing")

	if err := h.GetCodeSystemFHIR(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_CreateAndSearch(t *testing.T) {
	h := NewHandler(newTestService())
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/fhir/CodeSystem", strings.NewReader(genderJSON))
	rec := httptest.NewRecorder()
	if err := h.CreateCodeSystemFHIR(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/fhir/CodeSystem/gender" {
		t.Errorf("unexpected Location %q", loc)
	}

	req = httptest.NewRequest(http.MethodGet, "/fhir/CodeSystem?url=http://example.org/gender", nil)
	rec = httptest.NewRecorder()
	if err := h.SearchCodeSystemsFHIR(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("expected one match, got %s", rec.Body.String())
	}
}
