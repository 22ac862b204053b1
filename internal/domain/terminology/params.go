package terminology

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// Parameters is a FHIR Parameters resource as received in an operation body.
type Parameters struct {
	ResourceType string           `json:"resourceType"`
	Parameter    []ParameterEntry `json:"parameter"`
}

// ParameterEntry is one input parameter. Resources are decoded on demand.
type ParameterEntry struct {
	Name string `json:"name"`
	TypedValue
	Resource json.RawMessage `json:"resource,omitempty"`
}

// OperationParams is the flattened, ordered input of an operation call.
type OperationParams []ParameterEntry

// ParamsFromQuery converts query parameters. Keys are processed in sorted
// order; repeated values keep their order.
func ParamsFromQuery(q url.Values) OperationParams {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var out OperationParams
	for _, k := range keys {
		for _, v := range q[k] {
			out = append(out, ParameterEntry{Name: k, TypedValue: TypedValue{ValueString: strPtr(v)}})
		}
	}
	return out
}

// ParamsFromBody decodes a Parameters resource.
func ParamsFromBody(body []byte) (OperationParams, error) {
	var p Parameters
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, invalidRequest("invalid Parameters body: %v", err)
	}
	if p.ResourceType != "" && p.ResourceType != "Parameters" {
		return nil, invalidRequest("expected a Parameters resource, got %s", p.ResourceType)
	}
	return OperationParams(p.Parameter), nil
}

func parseBool(name, v string) (*bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return nil, invalidRequest("parameter %s must be true or false, got %q", name, v)
	}
	return &b, nil
}

func parseInt(name, v string) (*int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return nil, invalidRequest("parameter %s must be an integer, got %q", name, v)
	}
	return &i, nil
}

type resourceHeader struct {
	ResourceType string `json:"resourceType"`
}

// decodeResource decodes a CodeSystem or ValueSet carried in a parameter.
func decodeResource(name string, raw json.RawMessage) (*CodeSystem, *ValueSet, error) {
	var h resourceHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, nil, invalidRequest("parameter %s: invalid resource: %v", name, err)
	}
	switch h.ResourceType {
	case "CodeSystem":
		cs := &CodeSystem{}
		if err := json.Unmarshal(raw, cs); err != nil {
			return nil, nil, invalidRequest("parameter %s: invalid CodeSystem: %v", name, err)
		}
		return cs, nil, nil
	case "ValueSet":
		vs := &ValueSet{}
		if err := json.Unmarshal(raw, vs); err != nil {
			return nil, nil, invalidRequest("parameter %s: invalid ValueSet: %v", name, err)
		}
		return nil, vs, nil
	}
	return nil, nil, invalidRequest("parameter %s: unsupported resource type %q", name, h.ResourceType)
}

// txResources collects the tx-resource side-channel resources.
func (p OperationParams) txResources() ([]*CodeSystem, []*ValueSet, error) {
	var codeSystems []*CodeSystem
	var valueSets []*ValueSet
	for _, e := range p {
		if e.Name != "tx-resource" || len(e.Resource) == 0 {
			continue
		}
		cs, vs, err := decodeResource(e.Name, e.Resource)
		if err != nil {
			return nil, nil, err
		}
		if cs != nil {
			codeSystems = append(codeSystems, cs)
		}
		if vs != nil {
			valueSets = append(valueSets, vs)
		}
	}
	return codeSystems, valueSets, nil
}

func (p OperationParams) inlineValueSet() (*ValueSet, error) {
	for _, e := range p {
		if e.Name != "valueSet" || len(e.Resource) == 0 {
			continue
		}
		_, vs, err := decodeResource(e.Name, e.Resource)
		if err != nil {
			return nil, err
		}
		if vs == nil {
			return nil, invalidRequest("parameter valueSet must carry a ValueSet")
		}
		return vs, nil
	}
	return nil, nil
}

// ExpandRequest builds an $expand request. Unknown parameters are ignored.
func (p OperationParams) ExpandRequest() (*ExpandRequest, error) {
	req := &ExpandRequest{}
	var err error
	for _, e := range p {
		v := e.String()
		switch e.Name {
		case "url":
			req.URL = v
		case "valueSetVersion":
			req.ValueSetVersion = v
		case "filter":
			req.Filter = v
		case "date":
			req.Date = v
		case "displayLanguage":
			req.DisplayLanguage = v
		case "offset":
			req.Offset, err = parseInt(e.Name, v)
		case "count":
			req.Count, err = parseInt(e.Name, v)
		case "includeDesignations":
			req.IncludeDesignations, err = parseBool(e.Name, v)
		case "includeDefinition":
			req.IncludeDefinition, err = parseBool(e.Name, v)
		case "activeOnly":
			req.ActiveOnly, err = parseBool(e.Name, v)
		case "excludeNested":
			req.ExcludeNested, err = parseBool(e.Name, v)
		case "excludeNotForUI":
			req.ExcludeNotForUI, err = parseBool(e.Name, v)
		case "designation":
			req.Designations = append(req.Designations, v)
		case "property":
			req.Properties = append(req.Properties, v)
		case "exclude-system":
			req.ExcludeSystem = append(req.ExcludeSystem, v)
		case "system-version":
			req.SystemVersion = append(req.SystemVersion, v)
		case "check-system-version":
			req.CheckSystemVersion = append(req.CheckSystemVersion, v)
		case "force-system-version":
			req.ForceSystemVersion = append(req.ForceSystemVersion, v)
		case "default-valueset-version":
			req.DefaultValueSetVersion = append(req.DefaultValueSetVersion, v)
		}
		if err != nil {
			return nil, err
		}
	}
	if req.ValueSet, err = p.inlineValueSet(); err != nil {
		return nil, err
	}
	if req.TxCodeSystems, req.TxValueSets, err = p.txResources(); err != nil {
		return nil, err
	}
	return req, nil
}

// LookupRequest builds a $lookup request.
func (p OperationParams) LookupRequest() (*LookupRequest, error) {
	req := &LookupRequest{}
	for _, e := range p {
		switch e.Name {
		case "code":
			req.Code = e.String()
		case "system":
			req.System = e.String()
		case "version":
			req.Version = e.String()
		case "coding":
			if e.ValueCoding != nil {
				c := *e.ValueCoding
				req.Coding = &c
			}
		case "displayLanguage":
			req.DisplayLanguage = e.String()
		case "property":
			req.Properties = append(req.Properties, e.String())
		}
	}
	var err error
	if req.TxCodeSystems, _, err = p.txResources(); err != nil {
		return nil, err
	}
	return req, nil
}

// ValidateRequest builds a $validate-code request.
func (p OperationParams) ValidateRequest() (*ValidateRequest, error) {
	req := &ValidateRequest{}
	for _, e := range p {
		switch e.Name {
		case "code":
			req.Code = e.String()
		case "system":
			req.System = e.String()
		case "version", "systemVersion":
			req.Version = e.String()
		case "display":
			req.Display = e.String()
		case "url":
			req.ValueSetURL = e.String()
		case "valueSetVersion":
			req.ValueSetVersion = e.String()
		case "displayLanguage":
			req.DisplayLanguage = e.String()
		case "coding":
			if e.ValueCoding != nil {
				req.Code = e.ValueCoding.Code
				req.System = e.ValueCoding.System
				if e.ValueCoding.Version != "" {
					req.Version = e.ValueCoding.Version
				}
				if e.ValueCoding.Display != "" {
					req.Display = e.ValueCoding.Display
				}
			}
		}
	}
	var err error
	if req.ValueSet, err = p.inlineValueSet(); err != nil {
		return nil, err
	}
	if req.TxCodeSystems, req.TxValueSets, err = p.txResources(); err != nil {
		return nil, err
	}
	return req, nil
}
