package registry

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"newsfeed/internal/domain/entity"
)

//go:embed fallback_catalog.yaml
var fallbackCatalogYAML []byte

// staticSource mirrors entity.Source's persisted shape in a form yaml.v3 can
// unmarshal directly (Source.Config is map[string]any, which yaml.v3 decodes
// natively from a nested mapping node).
type staticSource struct {
	SourceID              string         `yaml:"source_id"`
	Name                  string         `yaml:"name"`
	Description           string         `yaml:"description"`
	Type                  string         `yaml:"type"`
	Category              string         `yaml:"category"`
	Country               string         `yaml:"country"`
	Language              string         `yaml:"language"`
	UpdateIntervalSeconds int            `yaml:"update_interval_seconds"`
	CacheTTLSeconds       int            `yaml:"cache_ttl_seconds"`
	Config                map[string]any `yaml:"config"`
	NeedsProxy            bool           `yaml:"needs_proxy"`
	ProxyGroup            string         `yaml:"proxy_group"`
}

// LoadStaticCatalog parses the compiled-in fallback catalog used when the
// metadata store is unreachable at startup. Every entry loads ACTIVE: a
// stale compiled-in entry is still preferable to serving nothing.
func LoadStaticCatalog() ([]*entity.Source, error) {
	var raw struct {
		Sources []staticSource `yaml:"sources"`
	}
	if err := yaml.Unmarshal(fallbackCatalogYAML, &raw); err != nil {
		return nil, fmt.Errorf("parse fallback catalog: %w", err)
	}

	sources := make([]*entity.Source, 0, len(raw.Sources))
	for _, s := range raw.Sources {
		src := &entity.Source{
			SourceID:              s.SourceID,
			Name:                  s.Name,
			Description:           s.Description,
			Type:                  entity.SourceType(s.Type),
			Category:              s.Category,
			Country:               s.Country,
			Language:              s.Language,
			UpdateIntervalSeconds: s.UpdateIntervalSeconds,
			CacheTTLSeconds:       s.CacheTTLSeconds,
			Status:                entity.SourceStatusActive,
			Config:                s.Config,
			NeedsProxy:            s.NeedsProxy,
			ProxyGroup:            s.ProxyGroup,
		}
		if err := src.Validate(); err != nil {
			return nil, fmt.Errorf("fallback catalog entry %q: %w", s.SourceID, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}
