package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const (
	defaultLimit   = 20
	healthInterval = 10 * time.Second
)

var errUnhealthy = errors.New("meilisearch unhealthy")

// collection describes one Meilisearch index and how its hits become
// results.
type collection struct {
	uid        string
	kind       ResultType
	searchable []string
	filterable []string
	result     func(doc hitDocument) Result
}

// hitDocument is the union of the indexed fields of both collections plus
// the highlighted copy Meilisearch returns under _formatted.
type hitDocument struct {
	ID          string            `json:"id"`
	Model       string            `json:"model"`
	Description string            `json:"description"`
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Location    string            `json:"location"`
	Status      string            `json:"status"`
	Formatted   map[string]string `json:"_formatted"`
}

func (d hitDocument) highlighted(key, plain string) string {
	if v := strings.TrimSpace(d.Formatted[key]); v != "" {
		return v
	}
	return plain
}

var collections = []collection{
	{
		uid:        "shopfloor_products",
		kind:       ResultProduct,
		searchable: []string{"model", "description"},
		result: func(d hitDocument) Result {
			return Result{
				Type:    ResultProduct,
				ID:      d.ID,
				Title:   d.highlighted("model", d.Model),
				Snippet: d.highlighted("description", d.Description),
			}
		},
	},
	{
		uid:        "shopfloor_machines",
		kind:       ResultMachine,
		searchable: []string{"name", "type", "location"},
		filterable: []string{"status", "location"},
		result: func(d hitDocument) Result {
			return Result{
				Type:    ResultMachine,
				ID:      d.ID,
				Title:   d.highlighted("name", d.Name),
				Snippet: d.Type + " · " + d.Location,
				Status:  d.Status,
			}
		},
	},
}

func collectionFor(kind ResultType) collection {
	for _, c := range collections {
		if c.kind == kind {
			return c
		}
	}
	panic(fmt.Sprintf("search: no collection for %q", kind))
}

// Meili is the Meilisearch engine. It tracks server health in the
// background and refuses queries while the server is down so the service
// can fall back to scanning.
type Meili struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili connects to url. An unreachable server is not an error.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger.Named("meili").With(zap.String("url", url)),
		done:   make(chan struct{}),
	}
	m.probe()
	go m.watchHealth()
	return m
}

// probe refreshes the health flag and prepares the indexes whenever the
// server comes (back) up.
func (m *Meili) probe() {
	_, err := m.client.Health()
	was := m.healthy.Swap(err == nil)
	switch {
	case err != nil && was:
		m.logger.Warn("meilisearch went away", zap.Error(err))
	case err != nil:
		m.logger.Debug("meilisearch still unavailable", zap.Error(err))
	case !was:
		m.logger.Info("meilisearch available, preparing indexes")
		m.prepareIndexes()
	}
}

func (m *Meili) watchHealth() {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.probe()
		}
	}
}

func (m *Meili) prepareIndexes() {
	for _, c := range collections {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: c.uid, PrimaryKey: "id"}); err != nil {
			m.logger.Debug("create index", zap.String("index", c.uid), zap.Error(err))
		}
		index := m.client.Index(c.uid)
		if _, err := index.UpdateSearchableAttributes(&c.searchable); err != nil {
			m.logger.Warn("searchable attributes", zap.String("index", c.uid), zap.Error(err))
		}
		if len(c.filterable) == 0 {
			continue
		}
		filterable := make([]interface{}, 0, len(c.filterable))
		for _, attr := range c.filterable {
			filterable = append(filterable, attr)
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			m.logger.Warn("filterable attributes", zap.String("index", c.uid), zap.Error(err))
		}
	}
}

func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search runs one multi-search over the selected collections. Total is the
// sum of Meilisearch's estimated hit counts.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.Healthy() {
		return nil, 0, errUnhealthy
	}
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = defaultLimit
	}

	byUID := make(map[string]collection, len(collections))
	req := &meili.MultiSearchRequest{}
	for _, c := range collections {
		if q.FilterType != "" && q.FilterType != c.kind {
			continue
		}
		byUID[c.uid] = c
		req.Queries = append(req.Queries, &meili.SearchRequest{
			IndexUID:              c.uid,
			Query:                 q.Text,
			Limit:                 limit,
			AttributesToHighlight: c.searchable,
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		})
	}
	if len(req.Queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(req)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var (
		results []Result
		total   int
	)
	for _, part := range resp.Results {
		c, ok := byUID[part.IndexUID]
		if !ok {
			continue
		}
		total += int(part.EstimatedTotalHits)
		for _, hit := range part.Hits {
			doc, err := decodeHit(hit)
			if err != nil {
				m.logger.Debug("skip undecodable hit", zap.String("index", c.uid), zap.Error(err))
				continue
			}
			results = append(results, c.result(doc))
		}
	}
	return results, total, nil
}

func decodeHit(hit meili.Hit) (hitDocument, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return hitDocument{}, err
	}
	var doc hitDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return hitDocument{}, err
	}
	return doc, nil
}

func (m *Meili) upsert(kind ResultType, docs any, n int) error {
	if n == 0 {
		return nil
	}
	_, err := m.client.Index(collectionFor(kind).uid).AddDocuments(docs, nil)
	return err
}

func (m *Meili) remove(kind ResultType, id string) error {
	_, err := m.client.Index(collectionFor(kind).uid).DeleteDocument(id, nil)
	return err
}

func (m *Meili) IndexProducts(products []ProductRecord) error {
	return m.upsert(ResultProduct, products, len(products))
}

func (m *Meili) IndexMachines(machines []MachineRecord) error {
	return m.upsert(ResultMachine, machines, len(machines))
}

func (m *Meili) DeleteProduct(id string) error {
	return m.remove(ResultProduct, id)
}

func (m *Meili) DeleteMachine(id string) error {
	return m.remove(ResultMachine, id)
}
