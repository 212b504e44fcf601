package projections

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v7"
	"github.com/rs/zerolog/log"

	"example.com/ordersvc/config"
	"example.com/ordersvc/readmodel"
)

// OrdersIndex is the logical index name for order documents.
const OrdersIndex = "orders"

// NewElasticsearchClient creates a client and verifies connectivity.
func NewElasticsearchClient(cfg *config.Config) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.ElasticSearchURL},
		Username:  cfg.ElasticSearchUsername,
		Password:  cfg.ElasticSearchPassword,
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: 10 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to elasticsearch: %w", err)
	}
	defer res.Body.Close()
	log.Info().Str("url", cfg.ElasticSearchURL).Msg("Connected to Elasticsearch")
	return client, nil
}

// FormatIndex prefixes an index name for the deployment environment.
func FormatIndex(prefix, index string) string {
	return prefix + "-" + index
}

// EnsureIndices creates the search indices if they do not exist.
func EnsureIndices(client *elasticsearch.Client, prefix string) error {
	name := FormatIndex(prefix, OrdersIndex)
	exists, err := indexExists(client, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := createIndex(client, name); err != nil {
		return err
	}
	log.Info().Str("index", name).Msg("Created Elasticsearch index")
	return nil
}

func indexExists(client *elasticsearch.Client, name string) (bool, error) {
	res, err := client.Indices.Exists([]string{name})
	if err != nil {
		return false, fmt.Errorf("failed to check index %s: %w", name, err)
	}
	defer res.Body.Close()
	return res.StatusCode == http.StatusOK, nil
}

func createIndex(client *elasticsearch.Client, name string) error {
	res, err := client.Indices.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to create index %s: %s", name, res.String())
	}
	return nil
}

// OrderIndexer mirrors applied orders into Elasticsearch for search-style
// queries. Indexing happens after the read-model transaction commits and is
// best effort; the relational store is authoritative.
type OrderIndexer struct {
	client *elasticsearch.Client
	store  readmodel.Store
	prefix string
}

// NewOrderIndexer creates an indexer reading fresh rows from store.
func NewOrderIndexer(client *elasticsearch.Client, store readmodel.Store, prefix string) *OrderIndexer {
	return &OrderIndexer{client: client, store: store, prefix: prefix}
}

// IndexOrder reindexes the order's current read-model row.
func (ix *OrderIndexer) IndexOrder(ctx context.Context, orderID string) error {
	order, err := ix.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode order %s for indexing: %w", orderID, err)
	}
	res, err := ix.client.Index(
		FormatIndex(ix.prefix, OrdersIndex),
		bytes.NewReader(doc),
		ix.client.Index.WithDocumentID(order.ID),
		ix.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to index order %s: %w", orderID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to index order %s: %s", orderID, res.String())
	}
	return nil
}
