package terminology

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestMemoryStore_ReplacesSameVersion(t *testing.T) {
	s := NewMemoryStore()
	s.AddCodeSystem(&CodeSystem{ID: "a", URL: "http://x", Version: "1", Name: "first"})
	s.AddCodeSystem(&CodeSystem{ID: "a", URL: "http://x", Version: "1", Name: "second"})
	s.AddCodeSystem(&CodeSystem{ID: "b", URL: "http://x", Version: "2"})

	got, err := s.FindCodeSystems(context.Background(), "http://x")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "second" {
		t.Errorf("expected the replacement to keep its slot, got %+v", got)
	}
	if cs, err := s.GetCodeSystem(context.Background(), "a"); err != nil || cs.Name != "second" {
		t.Errorf("expected id lookup to return the replacement, got %v %v", cs, err)
	}
	if _, err := s.GetValueSet(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisterBuiltins(t *testing.T) {
	s := NewMemoryStore()
	RegisterBuiltins(s)
	cs, vs := s.Counts()
	if cs != 6 || vs != 6 {
		t.Errorf("expected 6 code systems and 6 value sets, got %d %d", cs, vs)
	}

	svc := newTestServiceWithStore(s)
	out, err := svc.Expand(context.Background(), &ExpandRequest{URL: "http://hl7.org/fhir/ValueSet/administrative-gender"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := codes(out); !equalStrings(got, []string{"male", "female", "other", "unknown"}) {
		t.Errorf("unexpected codes %v", got)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "colors.json"), `{
		"resourceType": "CodeSystem", "id": "colors", "url": "http://example.org/cs/colors",
		"version": "1", "content": "complete",
		"concept": [{"code": "red", "display": "Red"}, {"code": "blue", "display": "Blue"}]
	}`)
	writeFile(t, filepath.Join(dir, "nested", "bundle.json"), `{
		"resourceType": "Bundle", "type": "collection",
		"entry": [
			{"resource": {"resourceType": "ValueSet", "id": "colors", "url": "http://example.org/vs/colors",
				"compose": {"include": [{"system": "http://example.org/cs/colors"}]}}},
			{"resource": {"resourceType": "CodeSystem", "url": "http://example.org/cs/colors-fr",
				"content": "supplement", "supplements": "http://example.org/cs/colors",
				"concept": [{"code": "red", "designation": [{"language": "fr", "value": "Rouge"}]}]}}
		]
	}`)
	writeFile(t, filepath.Join(dir, "broken.json"), `{`)
	writeFile(t, filepath.Join(dir, "notes.txt"), `not a resource`)

	s := NewMemoryStore()
	n, err := LoadDir(s, dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 resources, got %d", n)
	}

	svc := newTestServiceWithStore(s)
	vs, err := svc.Expand(context.Background(), &ExpandRequest{ValueSetID: "colors", DisplayLanguage: "fr"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := codes(vs); !equalStrings(got, []string{"red", "blue"}) {
		t.Errorf("unexpected codes %v", got)
	}
	if d := entry(vs, "red").Display; d != "Rouge" {
		t.Errorf("expected the supplement display, got %q", d)
	}
}

func TestLoadDir_MissingDir(t *testing.T) {
	if _, err := LoadDir(NewMemoryStore(), filepath.Join(t.TempDir(), "missing"), zerolog.Nop()); err == nil {
		t.Error("expected an error for a missing directory")
	}
}

func TestLoadResources_Errors(t *testing.T) {
	tests := []string{
		`{"resourceType": "CodeSystem", "content": "complete"}`,
		`{"resourceType": "ValueSet"}`,
		`{"resourceType": "Patient"}`,
		`{"resourceType": "Bundle", "entry": [{"resource": {"resourceType": "Observation"}}]}`,
	}
	for _, body := range tests {
		if _, err := LoadResources(NewMemoryStore(), []byte(body)); err == nil {
			t.Errorf("%s: expected an error", body)
		}
	}
}
