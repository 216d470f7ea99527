package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/kazz187/taskforge/internal/sandbox"
)

// SearchProvider answers search-tool queries. The core ships an offline
// provider; anything networked plugs in behind this interface.
type SearchProvider interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// StaticProvider matches query terms against a fixed result set. It keeps
// the search tool usable offline and deterministic in tests.
type StaticProvider struct {
	entries []SearchResult
}

func NewStaticProvider(entries ...SearchResult) *StaticProvider {
	return &StaticProvider{entries: entries}
}

func (p *StaticProvider) Search(_ context.Context, query string) ([]SearchResult, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}
	var out []SearchResult
	for _, e := range p.entries {
		hay := strings.ToLower(e.Title + " " + e.Snippet)
		for _, term := range terms {
			if strings.Contains(hay, term) {
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}

func (d *Dispatcher) searchQuery(ctx context.Context, req *ActionRequest, workspace string) (*sandbox.ActionResult, error) {
	query, err := requireParam(req, "query")
	if err != nil {
		return nil, err
	}
	handler := func(ctx context.Context) (string, error) {
		results, err := d.search.Search(ctx, query)
		if err != nil {
			return "", err
		}
		if len(results) == 0 {
			return fmt.Sprintf("no results for %q", query), nil
		}
		var b strings.Builder
		for i, r := range results {
			fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
		}
		return b.String(), nil
	}
	return d.runDirect(ctx, req, []string{query}, workspace, handler)
}
