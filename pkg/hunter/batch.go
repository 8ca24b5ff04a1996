package hunter

import (
	"context"
	"fmt"
	"strings"

	"price-scout/pkg/models"
)

// BatchMaxResults is the per-query result count of a batch scrape that
// names none.
const BatchMaxResults = 10

type QueryOutcome struct {
	Query     string `json:"query"`
	Products  int    `json:"products"`
	Persisted int    `json:"persisted"`
	Error     string `json:"error,omitempty"`
}

type BatchResult struct {
	Store         string         `json:"store"`
	Queries       []QueryOutcome `json:"queries"`
	TotalProducts int            `json:"total_products"`
}

// ScrapeQueries scrapes storeID live for each query in turn, stores every
// product found and replaces the cached results of the query. A failing
// query is reported in its outcome and the batch moves on. Blank and
// repeated queries are dropped.
func (o *Orchestrator) ScrapeQueries(ctx context.Context, storeID string, queries []string, maxResults int) (*BatchResult, error) {
	ext, err := o.registry.Get(storeID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(queries))
	var todo []string
	for _, q := range queries {
		q = strings.Join(strings.Fields(q), " ")
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		todo = append(todo, q)
	}
	if len(todo) == 0 {
		return nil, models.ErrEmptyQuery
	}
	if maxResults <= 0 {
		maxResults = BatchMaxResults
	}

	info := ext.Info()
	result := &BatchResult{Store: info.ID, Queries: make([]QueryOutcome, 0, len(todo))}
	for _, q := range todo {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("batch %s: %w", info.ID, err)
		}

		out := o.searchStore(ctx, ext, q, maxResults, true)
		qo := QueryOutcome{Query: q}
		if out.err != nil {
			qo.Error = out.err.Error()
		} else {
			qo.Products = len(out.offers)
			for _, off := range out.offers {
				if off.Persisted {
					qo.Persisted++
				}
			}
		}
		result.TotalProducts += qo.Products
		result.Queries = append(result.Queries, qo)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("batch %s: %w", info.ID, err)
	}
	o.log.Printf("[%s] batch scraped %d products for %d queries", info.ID, result.TotalProducts, len(result.Queries))
	return result, nil
}
