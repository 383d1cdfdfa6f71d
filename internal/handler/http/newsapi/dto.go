package newsapi

import (
	"time"

	"newsfeed/internal/domain/entity"
)

// SourceDTO is the wire shape for one catalog entry.
type SourceDTO struct {
	SourceID    string     `json:"source_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Type        string     `json:"type"`
	Category    string     `json:"category,omitempty"`
	Country     string     `json:"country,omitempty"`
	Language    string     `json:"language,omitempty"`
	Status      string     `json:"status"`
	NewsCount   int        `json:"news_count"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

func newSourceDTO(s *entity.Source) SourceDTO {
	return SourceDTO{
		SourceID:    s.SourceID,
		Name:        s.Name,
		Description: s.Description,
		Type:        string(s.Type),
		Category:    s.Category,
		Country:     s.Country,
		Language:    s.Language,
		Status:      string(s.Status),
		NewsCount:   s.NewsCount,
		LastUpdated: s.LastUpdated,
		LastError:   s.LastError,
	}
}

func newSourceDTOs(sources []*entity.Source) []SourceDTO {
	out := make([]SourceDTO, len(sources))
	for i, s := range sources {
		out[i] = newSourceDTO(s)
	}
	return out
}

// NewsItemDTO is the wire shape for one news item.
type NewsItemDTO struct {
	ID          string         `json:"id"`
	SourceID    string         `json:"source_id"`
	SourceName  string         `json:"source_name,omitempty"`
	Title       string         `json:"title"`
	URL         string         `json:"url"`
	MobileURL   string         `json:"mobile_url,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	ImageURL    string         `json:"image_url,omitempty"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

func newNewsItemDTO(item entity.NewsItem) NewsItemDTO {
	return NewsItemDTO{
		ID:          item.ID,
		SourceID:    item.SourceID,
		SourceName:  item.SourceName,
		Title:       item.Title,
		URL:         item.URL,
		MobileURL:   item.MobileURL,
		Summary:     item.Summary,
		ImageURL:    item.ImageURL,
		PublishedAt: item.PublishedAt,
		Extra:       item.Extra,
	}
}

func newNewsItemDTOs(items []entity.NewsItem) []NewsItemDTO {
	out := make([]NewsItemDTO, len(items))
	for i, it := range items {
		out[i] = newNewsItemDTO(it)
	}
	return out
}

// ClusterDTO is the wire shape for one aggregated story.
type ClusterDTO struct {
	MainItem     NewsItemDTO   `json:"main_item"`
	RelatedItems []NewsItemDTO `json:"related_items,omitempty"`
	Sources      []string      `json:"sources"`
	Keywords     []string      `json:"keywords,omitempty"`
	Score        float64       `json:"score"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func newClusterDTO(c entity.Cluster) ClusterDTO {
	return ClusterDTO{
		MainItem:     newNewsItemDTO(c.MainItem),
		RelatedItems: newNewsItemDTOs(c.RelatedItems),
		Sources:      c.Sources,
		Keywords:     c.Keywords,
		Score:        c.Score,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func newClusterDTOs(clusters []entity.Cluster) []ClusterDTO {
	out := make([]ClusterDTO, len(clusters))
	for i, c := range clusters {
		out[i] = newClusterDTO(c)
	}
	return out
}

// degraded wraps a response payload with the fallback-mode flag: during
// catalog-store outage, list/get endpoints keep serving
// from the compiled-in source list and last cached items, flagged as such.
type degraded struct {
	Data     any  `json:"data"`
	Degraded bool `json:"degraded"`
}
