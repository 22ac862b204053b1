package terminology

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/txserver/internal/platform/fhir"
)

// LoadResources decodes a CodeSystem, ValueSet or Bundle of them into the
// store and returns the number of resources added.
func LoadResources(store *MemoryStore, data []byte) (int, error) {
	var h resourceHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return 0, fmt.Errorf("failed to parse resource: %w", err)
	}
	if h.ResourceType == "Bundle" {
		var b fhir.Bundle
		if err := json.Unmarshal(data, &b); err != nil {
			return 0, fmt.Errorf("failed to parse bundle: %w", err)
		}
		n := 0
		for i, e := range b.Entry {
			if len(e.Resource) == 0 {
				continue
			}
			added, err := LoadResources(store, e.Resource)
			if err != nil {
				return n, fmt.Errorf("bundle entry %d: %w", i, err)
			}
			n += added
		}
		return n, nil
	}

	cs, vs, err := decodeResource("resource", data)
	if err != nil {
		return 0, err
	}
	if cs != nil {
		if cs.URL == "" {
			return 0, fmt.Errorf("code system %q has no url", cs.ID)
		}
		store.AddCodeSystem(cs)
	}
	if vs != nil {
		if vs.URL == "" && vs.ID == "" {
			return 0, fmt.Errorf("value set has neither url nor id")
		}
		store.AddValueSet(vs)
	}
	return 1, nil
}

// LoadDir walks dir and loads every *.json file into the store. Files that
// fail to parse are logged and skipped.
func LoadDir(store *MemoryStore, dir string, logger zerolog.Logger) (int, error) {
	total := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		n, err := LoadResources(store, data)
		if err != nil {
			logger.Error().Err(err).Str("file", path).Msg("failed to load terminology resource")
			return nil
		}
		total += n
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("failed to read directory: %w", err)
	}
	logger.Info().Str("dir", dir).Int("resources", total).Msg("terminology resources loaded")
	return total, nil
}
