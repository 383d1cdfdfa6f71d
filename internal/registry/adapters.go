package registry

import (
	"log/slog"
	"net/http"

	"newsfeed/internal/adapter"
	"newsfeed/internal/adapter/browseradapter"
	"newsfeed/internal/adapter/htmladapter"
	"newsfeed/internal/adapter/jsonapi"
	"newsfeed/internal/adapter/rssadapter"
	"newsfeed/internal/domain/entity"
)

// BuildAdapterTable returns the compile-time SourceType → AdapterBuilder
// table every Registry is constructed with. This is the REDESIGN FLAG
// replacement for dynamic factory discovery: adding a fifth source family
// means adding one entry here, not teaching a registry to introspect types.
func BuildAdapterTable(client *http.Client, store adapter.Store, log *slog.Logger) map[entity.SourceType]AdapterBuilder {
	return map[entity.SourceType]AdapterBuilder{
		entity.SourceTypeRSS: func(source *entity.Source) (Adapter, error) {
			return rssadapter.New(source, client, store, log)
		},
		entity.SourceTypeAPI: func(source *entity.Source) (Adapter, error) {
			return jsonapi.New(source, client, store, log)
		},
		entity.SourceTypeHTML: func(source *entity.Source) (Adapter, error) {
			return htmladapter.New(source, client, store, log)
		},
		entity.SourceTypeBrowser: func(source *entity.Source) (Adapter, error) {
			return browseradapter.New(source, store, log)
		},
	}
}
