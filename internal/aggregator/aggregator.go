// Package aggregator implements the Aggregator: it clusters near-duplicate
// NewsItems into Cluster groups by TF-IDF cosine similarity over title and
// summary text, scores each cluster's hotness, and exposes hot/category/
// search views over the clustered set.
package aggregator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"newsfeed/internal/domain/entity"
)

const (
	// similarityThreshold is the minimum cosine similarity for an item to
	// join an existing cluster rather than start a new one.
	similarityThreshold = 0.6
	// maxClusters bounds memory use; the lowest-scoring cluster is evicted
	// once the cap is exceeded.
	maxClusters = 100
	// updateInterval is the minimum spacing between non-forced Update calls.
	updateInterval = time.Hour
	// keywordCount bounds how many keywords Recompute's caller attaches to
	// a cluster.
	keywordCount = 5
)

// CacheReader is the subset of the Cache Manager the Aggregator reads from.
type CacheReader interface {
	GetEntry(ctx context.Context, key string) (*entity.CacheEntry, bool)
}

// SourceLister is the subset of the Registry the Aggregator reads from.
type SourceLister interface {
	ListActive(ctx context.Context) ([]*entity.Source, error)
}

// Aggregator clusters NewsItems pulled from the Cache Manager's per-source
// lists. It is safe for concurrent use.
type Aggregator struct {
	cache   CacheReader
	sources SourceLister

	mu         sync.Mutex
	clusters   []*entity.Cluster
	lastUpdate time.Time
}

// New builds an Aggregator reading item lists through cache and the active
// source list through sources.
func New(cache CacheReader, sources SourceLister) *Aggregator {
	return &Aggregator{cache: cache, sources: sources}
}

// Update pulls every active source's current cached item list and merges
// each item into the cluster set. Unless force is set, a call within
// updateInterval of the last update is a no-op, matching the original's
// hourly-unless-forced cadence.
func (a *Aggregator) Update(ctx context.Context, force bool) error {
	a.mu.Lock()
	if !force && time.Since(a.lastUpdate) < updateInterval {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	srcs, err := a.sources.ListActive(ctx)
	if err != nil {
		return err
	}

	for _, src := range srcs {
		entry, ok := a.cache.GetEntry(ctx, src.CacheKey())
		if !ok {
			continue
		}
		for _, item := range entry.Items {
			a.AddItem(item)
		}
	}

	a.mu.Lock()
	a.lastUpdate = time.Now()
	a.mu.Unlock()
	return nil
}

// AddItem assigns item to its best-matching cluster, or starts a new one
// when no cluster's similarity reaches similarityThreshold. Cluster count
// above maxClusters triggers eviction of the lowest-scoring cluster.
func (a *Aggregator) AddItem(item entity.NewsItem) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	best, bestSim := a.findBestClusterLocked(item)

	if best != nil && bestSim >= similarityThreshold {
		best.RelatedItems = append(best.RelatedItems, item)
		addSourceOnce(best, item.SourceID)
		best.UpdatedAt = now
		best.Recompute(now)
		best.Keywords = extractKeywords(best)
	} else {
		c := &entity.Cluster{
			MainItem:  item,
			Sources:   []string{item.SourceID},
			CreatedAt: now,
			UpdatedAt: now,
		}
		c.Recompute(now)
		c.Keywords = extractKeywords(c)
		a.clusters = append(a.clusters, c)
	}

	if len(a.clusters) > maxClusters {
		a.evictLowestScoringLocked()
	}
}

func (a *Aggregator) findBestClusterLocked(item entity.NewsItem) (*entity.Cluster, float64) {
	var best *entity.Cluster
	var bestSim float64
	for _, c := range a.clusters {
		sim := similarity(item, c.MainItem)
		if sim > bestSim {
			bestSim = sim
			best = c
		}
	}
	return best, bestSim
}

func (a *Aggregator) evictLowestScoringLocked() {
	sort.SliceStable(a.clusters, func(i, j int) bool {
		return a.clusters[i].Score > a.clusters[j].Score
	})
	a.clusters = a.clusters[:maxClusters]
}

func addSourceOnce(c *entity.Cluster, sourceID string) {
	for _, s := range c.Sources {
		if s == sourceID {
			return
		}
	}
	c.Sources = append(c.Sources, sourceID)
}

// Hot recomputes every cluster's score and returns the top limit clusters,
// highest score first.
func (a *Aggregator) Hot(limit int) []entity.Cluster {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	for _, c := range a.clusters {
		c.Recompute(now)
	}
	ranked := a.sortedCopyLocked()
	return firstN(ranked, limit)
}

// ByCategory returns the top limit clusters whose main item's extra
// "category" field equals category, ranked by each cluster's
// last-computed score.
func (a *Aggregator) ByCategory(category string, limit int) []entity.Cluster {
	a.mu.Lock()
	defer a.mu.Unlock()

	var matching []*entity.Cluster
	for _, c := range a.clusters {
		if cat, _ := c.MainItem.Extra["category"].(string); cat == category {
			matching = append(matching, c)
		}
	}
	sort.SliceStable(matching, func(i, j int) bool { return matching[i].Score > matching[j].Score })

	out := make([]entity.Cluster, 0, limit)
	for i, c := range matching {
		if i >= limit {
			break
		}
		out = append(out, *c)
	}
	return out
}

// SearchFilters narrows Search to items whose extra fields match. A zero
// value field is not filtered on.
type SearchFilters struct {
	Category string
	Country  string
	Language string
	SourceID string
}

// Search scans every cluster's main and related items for a case-
// insensitive match of query against title, summary, or content, further
// narrowed by filters, and returns up to maxResults matches.
func (a *Aggregator) Search(query string, filters SearchFilters, maxResults int) []entity.NewsItem {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	needle := strings.ToLower(query)

	a.mu.Lock()
	defer a.mu.Unlock()

	var results []entity.NewsItem
	for _, c := range a.clusters {
		if matchesCriteria(c.MainItem, needle, filters) {
			results = append(results, c.MainItem)
			if len(results) >= maxResults {
				return results
			}
		}
		for _, item := range c.RelatedItems {
			if matchesCriteria(item, needle, filters) {
				results = append(results, item)
				if len(results) >= maxResults {
					return results
				}
			}
		}
	}
	return results
}

// All returns every cluster's main item matching filters, one representative
// per story, unordered. It backs the unified news operation, which applies
// its own sort and pagination on top.
func (a *Aggregator) All(filters SearchFilters) []entity.NewsItem {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]entity.NewsItem, 0, len(a.clusters))
	for _, c := range a.clusters {
		if matchesCriteria(c.MainItem, "", filters) {
			out = append(out, c.MainItem)
		}
	}
	return out
}

func matchesCriteria(item entity.NewsItem, needle string, f SearchFilters) bool {
	if needle != "" {
		haystack := strings.ToLower(item.Title + " " + item.Summary + " " + item.Content)
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	if f.Category != "" {
		if cat, _ := item.Extra["category"].(string); cat != f.Category {
			return false
		}
	}
	if f.Country != "" {
		if country, _ := item.Extra["country"].(string); country != f.Country {
			return false
		}
	}
	if f.Language != "" {
		if lang, _ := item.Extra["language"].(string); lang != f.Language {
			return false
		}
	}
	if f.SourceID != "" && item.SourceID != f.SourceID {
		return false
	}
	return true
}

func (a *Aggregator) sortedCopyLocked() []entity.Cluster {
	cp := make([]*entity.Cluster, len(a.clusters))
	copy(cp, a.clusters)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Score > cp[j].Score })

	out := make([]entity.Cluster, len(cp))
	for i, c := range cp {
		out[i] = *c
	}
	return out
}

func firstN(clusters []entity.Cluster, n int) []entity.Cluster {
	if n < 0 || n >= len(clusters) {
		return clusters
	}
	return clusters[:n]
}

// Len reports the current cluster count.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.clusters)
}
