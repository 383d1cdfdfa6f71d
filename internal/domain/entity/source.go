package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

// SourceType classifies the adapter family a Source is fetched through.
type SourceType string

const (
	SourceTypeHTML    SourceType = "HTML"
	SourceTypeAPI     SourceType = "API"
	SourceTypeRSS     SourceType = "RSS"
	SourceTypeBrowser SourceType = "BROWSER"
	SourceTypeMixed   SourceType = "MIXED"
)

// SourceStatus tracks the operational state of a catalog entry.
type SourceStatus string

const (
	SourceStatusActive   SourceStatus = "ACTIVE"
	SourceStatusInactive SourceStatus = "INACTIVE"
	SourceStatusError    SourceStatus = "ERROR"
	SourceStatusWarning  SourceStatus = "WARNING"
)

// Source is a catalog entry describing one news source. It is mutated only
// by catalog refresh (internal/registry); Source Adapters treat it as
// read-only configuration.
//
// Config is deliberately opaque (selectors, backup URLs, parser flags) at
// the catalog layer; each adapter family decodes the subset of keys it
// recognizes into its own typed configuration record (see
// internal/adapter/{htmladapter,jsonapi,rssadapter,browseradapter}).
type Source struct {
	SourceID              string
	Name                  string
	Description           string
	Type                  SourceType
	Category              string
	Country               string
	Language              string
	UpdateIntervalSeconds int
	CacheTTLSeconds       int
	Status                SourceStatus
	Config                map[string]any
	NeedsProxy            bool
	ProxyGroup            string
	LastUpdated           *time.Time
	LastError             string
	NewsCount             int
}

// Validate enforces the catalog-entry invariant: update_interval_seconds
// must be >= cache_ttl_seconds >= 0.
func (s *Source) Validate() error {
	if s.SourceID == "" {
		return &ValidationError{Field: "source_id", Message: "is required"}
	}
	if s.CacheTTLSeconds < 0 {
		return &ValidationError{Field: "cache_ttl_seconds", Message: "must be non-negative"}
	}
	if s.UpdateIntervalSeconds < s.CacheTTLSeconds {
		return &ValidationError{
			Field:   "update_interval_seconds",
			Message: fmt.Sprintf("must be >= cache_ttl_seconds (%d < %d)", s.UpdateIntervalSeconds, s.CacheTTLSeconds),
		}
	}
	return nil
}

// CacheKey returns the Cache Manager key for this source's item list, in the
// "source:<source_id>" format mandated by §6.
func (s *Source) CacheKey() string {
	return "source:" + s.SourceID
}

// DecodeConfig round-trips the opaque Config map into a typed per-family
// configuration record. It is a thin JSON re-encode: Config values already
// originate as JSONB from the catalog store, so this never needs a
// reflection-based mapping library.
func (s *Source) DecodeConfig(out any) error {
	if s.Config == nil {
		return nil
	}
	raw, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("encode source config: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode source config: %w", err)
	}
	return nil
}
