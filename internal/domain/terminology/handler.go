package terminology

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes $expand, $lookup and $validate-code.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the terminology operations. Register these before
// the CodeSystem and ValueSet read routes so that $-paths win.
func (h *Handler) RegisterRoutes(fhirGroup *echo.Group) {
	fhirGroup.GET("/ValueSet/$expand", h.Expand)
	fhirGroup.POST("/ValueSet/$expand", h.Expand)
	fhirGroup.GET("/ValueSet/:id/$expand", h.Expand)
	fhirGroup.POST("/ValueSet/:id/$expand", h.Expand)

	fhirGroup.GET("/CodeSystem/$lookup", h.Lookup)
	fhirGroup.POST("/CodeSystem/$lookup", h.Lookup)
	fhirGroup.GET("/CodeSystem/:id/$lookup", h.Lookup)
	fhirGroup.POST("/CodeSystem/:id/$lookup", h.Lookup)

	fhirGroup.GET("/CodeSystem/$validate-code", h.ValidateCodeSystem)
	fhirGroup.POST("/CodeSystem/$validate-code", h.ValidateCodeSystem)
	fhirGroup.GET("/CodeSystem/:id/$validate-code", h.ValidateCodeSystem)
	fhirGroup.POST("/CodeSystem/:id/$validate-code", h.ValidateCodeSystem)

	fhirGroup.GET("/ValueSet/$validate-code", h.ValidateValueSet)
	fhirGroup.POST("/ValueSet/$validate-code", h.ValidateValueSet)
	fhirGroup.GET("/ValueSet/:id/$validate-code", h.ValidateValueSet)
	fhirGroup.POST("/ValueSet/:id/$validate-code", h.ValidateValueSet)
}

// httpStatus maps an error kind to the response status.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidFilter):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrCyclicReference):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c echo.Context, err error) error {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		h.svc.logger.Error().Err(err).Str("path", c.Path()).Msg("terminology operation failed")
	}
	return c.JSON(status, Outcome(err))
}

// params merges a POSTed Parameters body with the query string. Body
// parameters come first.
func params(c echo.Context) (OperationParams, error) {
	query := ParamsFromQuery(c.QueryParams())
	if c.Request().Method != http.MethodPost || c.Request().Body == nil {
		return query, nil
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, invalidRequest("failed to read request body")
	}
	if len(body) == 0 {
		return query, nil
	}
	p, err := ParamsFromBody(body)
	if err != nil {
		return nil, err
	}
	return append(p, query...), nil
}

// Expand handles GET/POST /fhir/ValueSet/$expand and /fhir/ValueSet/:id/$expand
func (h *Handler) Expand(c echo.Context) error {
	p, err := params(c)
	if err != nil {
		return h.fail(c, err)
	}
	req, err := p.ExpandRequest()
	if err != nil {
		return h.fail(c, err)
	}
	req.ValueSetID = c.Param("id")
	vs, err := h.svc.Expand(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, vs)
}

// Lookup handles GET/POST /fhir/CodeSystem/$lookup and /fhir/CodeSystem/:id/$lookup
func (h *Handler) Lookup(c echo.Context) error {
	p, err := params(c)
	if err != nil {
		return h.fail(c, err)
	}
	req, err := p.LookupRequest()
	if err != nil {
		return h.fail(c, err)
	}
	if id := c.Param("id"); id != "" && req.System == "" {
		cs, err := h.svc.finder(req.TxCodeSystems, nil).CodeSystemByID(c.Request().Context(), id)
		if err != nil {
			return h.fail(c, err)
		}
		req.System, req.Version = cs.URL, cs.Version
	}
	result, err := h.svc.Lookup(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, lookupToFHIR(result))
}

// ValidateCodeSystem handles /fhir/CodeSystem/$validate-code and /fhir/CodeSystem/:id/$validate-code
func (h *Handler) ValidateCodeSystem(c echo.Context) error {
	p, err := params(c)
	if err != nil {
		return h.fail(c, err)
	}
	req, err := p.ValidateRequest()
	if err != nil {
		return h.fail(c, err)
	}
	req.ValueSet, req.ValueSetURL, req.ValueSetVersion = nil, "", ""
	if req.System == "" {
		// The url parameter names the code system on this endpoint.
		for _, e := range p {
			if e.Name == "url" {
				req.System = e.String()
			}
		}
	}
	req.CodeSystemID = c.Param("id")
	return h.validate(c, req)
}

// ValidateValueSet handles /fhir/ValueSet/$validate-code and /fhir/ValueSet/:id/$validate-code
func (h *Handler) ValidateValueSet(c echo.Context) error {
	p, err := params(c)
	if err != nil {
		return h.fail(c, err)
	}
	req, err := p.ValidateRequest()
	if err != nil {
		return h.fail(c, err)
	}
	req.ValueSetID = c.Param("id")
	if !req.againstValueSet() {
		return h.fail(c, invalidRequest("url, valueSet or a value set id is required"))
	}
	return h.validate(c, req)
}

func (h *Handler) validate(c echo.Context, req *ValidateRequest) error {
	result, err := h.svc.ValidateCode(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, validateToFHIR(result))
}

func lookupToFHIR(r *LookupResult) map[string]interface{} {
	params := []interface{}{}
	if r.Name != "" {
		params = append(params, map[string]interface{}{"name": "name", "valueString": r.Name})
	}
	if r.Version != "" {
		params = append(params, map[string]interface{}{"name": "version", "valueString": r.Version})
	}
	if r.Display != "" {
		params = append(params, map[string]interface{}{"name": "display", "valueString": r.Display})
	}
	if r.Definition != "" {
		params = append(params, map[string]interface{}{"name": "definition", "valueString": r.Definition})
	}
	params = append(params,
		map[string]interface{}{"name": "abstract", "valueBoolean": r.Abstract},
		map[string]interface{}{"name": "inactive", "valueBoolean": r.Inactive},
	)

	for _, d := range r.Designation {
		parts := []interface{}{}
		if d.Language != "" {
			parts = append(parts, map[string]interface{}{"name": "language", "valueCode": d.Language})
		}
		if d.Use != nil {
			parts = append(parts, map[string]interface{}{"name": "use", "valueCoding": d.Use})
		}
		parts = append(parts, map[string]interface{}{"name": "value", "valueString": d.Value})
		params = append(params, map[string]interface{}{"name": "designation", "part": parts})
	}

	for _, p := range r.Property {
		value := map[string]interface{}{"name": "value"}
		switch {
		case p.ValueCode != nil:
			value["valueCode"] = *p.ValueCode
		case p.ValueBoolean != nil:
			value["valueBoolean"] = *p.ValueBoolean
		case p.ValueInteger != nil:
			value["valueInteger"] = *p.ValueInteger
		case p.ValueCoding != nil:
			value["valueCoding"] = p.ValueCoding
		default:
			value["valueString"] = p.String()
		}
		params = append(params, map[string]interface{}{
			"name": "property",
			"part": []interface{}{
				map[string]interface{}{"name": "code", "valueCode": p.Code},
				value,
			},
		})
	}

	return map[string]interface{}{
		"resourceType": "Parameters",
		"parameter":    params,
	}
}

func validateToFHIR(r *ValidateResult) map[string]interface{} {
	params := []interface{}{
		map[string]interface{}{"name": "result", "valueBoolean": r.Result},
	}
	if r.Code != "" {
		params = append(params, map[string]interface{}{"name": "code", "valueCode": r.Code})
	}
	if r.System != "" {
		params = append(params, map[string]interface{}{"name": "system", "valueUri": r.System})
	}
	if r.Version != "" {
		params = append(params, map[string]interface{}{"name": "version", "valueString": r.Version})
	}
	if r.Display != "" {
		params = append(params, map[string]interface{}{"name": "display", "valueString": r.Display})
	}
	if r.Message != "" {
		params = append(params, map[string]interface{}{"name": "message", "valueString": r.Message})
	}
	return map[string]interface{}{
		"resourceType": "Parameters",
		"parameter":    params,
	}
}
