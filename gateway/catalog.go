package gateway

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/jonwraymond/tooldiscovery/index"
	"github.com/jonwraymond/tooldiscovery/search"
	"github.com/jonwraymond/tooldiscovery/tooldoc"
	"github.com/jonwraymond/toolfoundation/model"
)

// catalog is the searchable view of every published tool. It is rebuilt
// from scratch on each publication and swapped in atomically, like the
// routing table.
type catalog struct {
	current atomic.Pointer[catalogSnapshot]
}

type catalogSnapshot struct {
	idx  index.Index
	docs tooldoc.Store
}

func newCatalog() *catalog {
	c := &catalog{}
	c.current.Store(emptySnapshot())
	return c
}

func emptySnapshot() *catalogSnapshot {
	idx := index.NewInMemoryIndex(index.IndexOptions{
		Searcher: search.NewBM25Searcher(search.BM25Config{}),
	})
	return &catalogSnapshot{idx: idx, docs: tooldoc.NewInMemoryStore(tooldoc.StoreOptions{Index: idx})}
}

// rebuild indexes tools grouped by server. Servers are indexed in name
// order so the result does not depend on map iteration.
func (c *catalog) rebuild(byServer map[string][]model.Tool) error {
	snap := emptySnapshot()

	servers := make([]string, 0, len(byServer))
	for s := range byServer {
		servers = append(servers, s)
	}
	sort.Strings(servers)

	var firstErr error
	for _, server := range servers {
		if len(byServer[server]) == 0 {
			continue
		}
		tools := make([]model.Tool, 0, len(byServer[server]))
		for _, t := range byServer[server] {
			if t.Namespace == "" {
				t.Namespace = server
			}
			if t.InputSchema == nil {
				t.InputSchema = map[string]any{"type": "object"}
			}
			tools = append(tools, t)
		}
		if err := snap.idx.RegisterToolsFromMCP(server, tools); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("index tools for %s: %w", server, err)
		}
	}

	c.current.Store(snap)
	return firstErr
}

func (c *catalog) search(query string, limit int) ([]index.Summary, error) {
	return c.current.Load().idx.Search(query, limit)
}

func (c *catalog) describe(id string, level tooldoc.DetailLevel) (tooldoc.ToolDoc, error) {
	return c.current.Load().docs.DescribeTool(id, level)
}
