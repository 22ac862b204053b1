package terminology

import (
	"context"

	"github.com/rs/zerolog"
)

// Finder resolves canonical references. Resources supplied with the request
// take precedence over the store.
type Finder struct {
	store         ResourceStore
	txCodeSystems []*CodeSystem
	txValueSets   []*ValueSet
	logger        zerolog.Logger
}

// NewFinder creates a finder over a store and the request's side-channel resources.
func NewFinder(store ResourceStore, txCodeSystems []*CodeSystem, txValueSets []*ValueSet, logger zerolog.Logger) *Finder {
	return &Finder{
		store:         store,
		txCodeSystems: txCodeSystems,
		txValueSets:   txValueSets,
		logger:        logger,
	}
}

func codeSystemVersion(cs *CodeSystem) string { return cs.Version }
func valueSetVersion(vs *ValueSet) string     { return vs.Version }

// CodeSystem returns the code system for url and version (exact, wildcard or empty).
func (f *Finder) CodeSystem(ctx context.Context, url, version string) (*CodeSystem, error) {
	var tx []*CodeSystem
	for _, cs := range f.txCodeSystems {
		if cs.URL == url && cs.Supplements == "" {
			tx = append(tx, cs)
		}
	}
	if cs, ok := selectVersion(tx, codeSystemVersion, version); ok {
		return cs, nil
	}
	stored, err := f.store.FindCodeSystems(ctx, url)
	if err != nil {
		return nil, storeError(err, "code system "+canonical(url, version))
	}
	if cs, ok := selectVersion(stored, codeSystemVersion, version); ok {
		return cs, nil
	}
	if version != "" {
		return nil, notFound("code system %s version %s not found", url, version)
	}
	return nil, notFound("code system %s not found", url)
}

// ValueSet returns the value set for url and version (exact, wildcard or empty).
func (f *Finder) ValueSet(ctx context.Context, url, version string) (*ValueSet, error) {
	var tx []*ValueSet
	for _, vs := range f.txValueSets {
		if vs.URL == url {
			tx = append(tx, vs)
		}
	}
	if vs, ok := selectVersion(tx, valueSetVersion, version); ok {
		return vs, nil
	}
	stored, err := f.store.FindValueSets(ctx, url)
	if err != nil {
		return nil, storeError(err, "value set "+canonical(url, version))
	}
	if vs, ok := selectVersion(stored, valueSetVersion, version); ok {
		return vs, nil
	}
	if version != "" {
		return nil, notFound("value set %s version %s not found", url, version)
	}
	return nil, notFound("value set %s not found", url)
}

// ValueSetByID returns a stored value set by resource id.
func (f *Finder) ValueSetByID(ctx context.Context, id string) (*ValueSet, error) {
	for _, vs := range f.txValueSets {
		if vs.ID == id {
			return vs, nil
		}
	}
	vs, err := f.store.GetValueSet(ctx, id)
	if err != nil {
		return nil, storeError(err, "value set "+id)
	}
	return vs, nil
}

// CodeSystemByID returns a stored code system by resource id.
func (f *Finder) CodeSystemByID(ctx context.Context, id string) (*CodeSystem, error) {
	for _, cs := range f.txCodeSystems {
		if cs.ID == id {
			return cs, nil
		}
	}
	cs, err := f.store.GetCodeSystem(ctx, id)
	if err != nil {
		return nil, storeError(err, "code system "+id)
	}
	return cs, nil
}

// Supplements returns every supplement targeting systemURL, request resources
// first, de-duplicated by url|version. Store failures are logged and ignored.
func (f *Finder) Supplements(ctx context.Context, systemURL string) []*CodeSystem {
	seen := make(map[string]bool)
	var out []*CodeSystem
	add := func(cs *CodeSystem) {
		if target, _ := SplitCanonical(cs.Supplements); target != systemURL {
			return
		}
		key := cs.URL + "|" + cs.Version
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, cs)
	}
	for _, cs := range f.txCodeSystems {
		add(cs)
	}
	stored, err := f.store.FindSupplements(ctx, systemURL)
	if err != nil {
		f.logger.Warn().Err(err).Str("system", systemURL).Msg("supplement lookup failed")
		return out
	}
	for _, cs := range stored {
		add(cs)
	}
	return out
}
