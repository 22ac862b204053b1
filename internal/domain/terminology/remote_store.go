package terminology

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/ehr/txserver/internal/platform/fhir"
)

// RemoteStore reads code systems and value sets from an upstream FHIR server
// using its search API.
type RemoteStore struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// RemoteConfig configures a RemoteStore.
type RemoteConfig struct {
	BaseURL  string
	RetryMax int
	Timeout  time.Duration
}

// zerologAdapter routes retryablehttp's leveled logging to zerolog.
type zerologAdapter struct {
	logger zerolog.Logger
}

func (a zerologAdapter) event(e *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		e = e.Interface(fmt.Sprint(kv[i]), kv[i+1])
	}
	e.Msg(msg)
}

func (a zerologAdapter) Error(msg string, kv ...interface{}) { a.event(a.logger.Error(), msg, kv) }
func (a zerologAdapter) Info(msg string, kv ...interface{})  { a.event(a.logger.Debug(), msg, kv) }
func (a zerologAdapter) Debug(msg string, kv ...interface{}) { a.event(a.logger.Debug(), msg, kv) }
func (a zerologAdapter) Warn(msg string, kv ...interface{})  { a.event(a.logger.Warn(), msg, kv) }

// NewRemoteStore creates a store backed by a FHIR server.
func NewRemoteStore(cfg RemoteConfig, logger zerolog.Logger) *RemoteStore {
	logger = logger.With().Str("component", "remote-store").Logger()

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.Logger = zerologAdapter{logger: logger}
	if cfg.Timeout > 0 {
		retryClient.HTTPClient.Timeout = cfg.Timeout
	}

	return &RemoteStore{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  retryClient.StandardClient(),
		logger:  logger,
	}
}

// get fetches path and decodes the JSON response into out. It returns
// false when the server answers 404.
func (s *RemoteStore) get(ctx context.Context, path string, out interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/fhir+json")

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("request %s failed with status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return true, nil
}

// search runs a search and returns the bundle's resources.
func (s *RemoteStore) search(ctx context.Context, resourceType string, query url.Values) ([]json.RawMessage, error) {
	var b fhir.Bundle
	if _, err := s.get(ctx, "/"+resourceType+"?"+query.Encode(), &b); err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(b.Entry))
	for _, e := range b.Entry {
		if len(e.Resource) > 0 {
			out = append(out, e.Resource)
		}
	}
	return out, nil
}

func (s *RemoteStore) searchCodeSystems(ctx context.Context, query url.Values) ([]*CodeSystem, error) {
	raws, err := s.search(ctx, "CodeSystem", query)
	if err != nil {
		return nil, err
	}
	var out []*CodeSystem
	for _, raw := range raws {
		cs := &CodeSystem{}
		if err := json.Unmarshal(raw, cs); err != nil {
			return nil, fmt.Errorf("failed to decode CodeSystem: %w", err)
		}
		out = append(out, cs)
	}
	return out, nil
}

func (s *RemoteStore) FindCodeSystems(ctx context.Context, systemURL string) ([]*CodeSystem, error) {
	return s.searchCodeSystems(ctx, url.Values{"url": {systemURL}})
}

func (s *RemoteStore) FindValueSets(ctx context.Context, vsURL string) ([]*ValueSet, error) {
	raws, err := s.search(ctx, "ValueSet", url.Values{"url": {vsURL}})
	if err != nil {
		return nil, err
	}
	var out []*ValueSet
	for _, raw := range raws {
		vs := &ValueSet{}
		if err := json.Unmarshal(raw, vs); err != nil {
			return nil, fmt.Errorf("failed to decode ValueSet: %w", err)
		}
		out = append(out, vs)
	}
	return out, nil
}

func (s *RemoteStore) GetCodeSystem(ctx context.Context, id string) (*CodeSystem, error) {
	cs := &CodeSystem{}
	found, err := s.get(ctx, "/CodeSystem/"+url.PathEscape(id), cs)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound("code system %s not found", id)
	}
	return cs, nil
}

func (s *RemoteStore) GetValueSet(ctx context.Context, id string) (*ValueSet, error) {
	vs := &ValueSet{}
	found, err := s.get(ctx, "/ValueSet/"+url.PathEscape(id), vs)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound("value set %s not found", id)
	}
	return vs, nil
}

func (s *RemoteStore) FindSupplements(ctx context.Context, systemURL string) ([]*CodeSystem, error) {
	return s.searchCodeSystems(ctx, url.Values{"supplements": {systemURL}})
}
