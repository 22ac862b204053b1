package terminology

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fhirServer serves the test fixtures through a minimal FHIR search API.
func fhirServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := newTestStore()
	store.AddCodeSystem(animalsSupplement())

	searchset := func(w http.ResponseWriter, resources []interface{}) {
		entries := make([]map[string]interface{}, 0, len(resources))
		for _, r := range resources {
			entries = append(entries, map[string]interface{}{"resource": r})
		}
		w.Header().Set("Content-Type", "application/fhir+json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"resourceType": "Bundle",
			"type":         "searchset",
			"entry":        entries,
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/CodeSystem", func(w http.ResponseWriter, r *http.Request) {
		var found []*CodeSystem
		if u := r.URL.Query().Get("url"); u != "" {
			found, _ = store.FindCodeSystems(r.Context(), u)
		} else {
			found, _ = store.FindSupplements(r.Context(), r.URL.Query().Get("supplements"))
		}
		out := make([]interface{}, len(found))
		for i, cs := range found {
			out[i] = cs
		}
		searchset(w, out)
	})
	mux.HandleFunc("/ValueSet", func(w http.ResponseWriter, r *http.Request) {
		found, _ := store.FindValueSets(r.Context(), r.URL.Query().Get("url"))
		out := make([]interface{}, len(found))
		for i, vs := range found {
			out[i] = vs
		}
		searchset(w, out)
	})
	mux.HandleFunc("/ValueSet/", func(w http.ResponseWriter, r *http.Request) {
		vs, err := store.GetValueSet(r.Context(), strings.TrimPrefix(r.URL.Path, "/ValueSet/"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(vs)
	})
	mux.HandleFunc("/CodeSystem/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newRemoteTestStore(t *testing.T) *RemoteStore {
	srv := fhirServer(t)
	return NewRemoteStore(RemoteConfig{BaseURL: srv.URL + "/", RetryMax: 0, Timeout: 5 * time.Second}, zerolog.Nop())
}

func TestRemoteStore_Expand(t *testing.T) {
	svc := newTestServiceWithStore(newRemoteTestStore(t))
	vs, err := svc.Expand(context.Background(), &ExpandRequest{URL: vsNestedURL, DisplayLanguage: "es"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := codes(vs); !equalStrings(got, []string{"mammal", "dog"}) {
		t.Errorf("unexpected codes %v", got)
	}
	if d := entry(vs, "dog").Display; d != "Perro" {
		t.Errorf("expected the remote supplement to apply, got %q", d)
	}
}

func TestRemoteStore_GetValueSet(t *testing.T) {
	s := newRemoteTestStore(t)
	vs, err := s.GetValueSet(context.Background(), "mammals")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vs.URL != vsMammalsURL {
		t.Errorf("unexpected url %s", vs.URL)
	}
	if _, err := s.GetValueSet(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoteStore_ServerError(t *testing.T) {
	s := newRemoteTestStore(t)
	_, err := s.GetCodeSystem(context.Background(), "animals")
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, ErrNotFound) {
		t.Errorf("expected a transport error, not ErrNotFound: %v", err)
	}

	svc := newTestServiceWithStore(s)
	_, err = svc.ValidateCode(context.Background(), &ValidateRequest{CodeSystemID: "animals", Code: "dog"})
	if !errors.Is(err, ErrInternal) {
		t.Errorf("expected an internal error, got %v", err)
	}
}
