package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"

	"example.com/ordersvc/models"
	"example.com/ordersvc/projections"
	"example.com/ordersvc/readmodel"
)

var projectorCmd = &cobra.Command{
	Use:   "projector",
	Short: "Run the read-model projection consumer",
	Run:   runProjector,
}

func runProjector(cmd *cobra.Command, args []string) {
	log.Info().Str("group", cfg.ConsumerGroupID).Msg("Starting order projection consumer")

	db := openDatabase(cfg.ReadModelSource)
	if cfg.EnableMigrations {
		if err := db.AutoMigrate(&models.Order{}, &models.OrderItem{}, &models.OrderStatusHistory{}); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate read model schema")
		}
	}
	store := readmodel.NewGormStore(db)

	var cache *readmodel.Cache
	if cfg.RedisAddr != "" {
		var err error
		cache, err = readmodel.NewCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, running without cache")
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	var indexer *projections.OrderIndexer
	if cfg.ElasticSearchURL != "" {
		esClient, err := projections.NewElasticsearchClient(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Elasticsearch")
		}
		if err := projections.EnsureIndices(esClient, cfg.ElasticSearchPrefix); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure Elasticsearch indices")
		}
		indexer = projections.NewOrderIndexer(esClient, store, cfg.ElasticSearchPrefix)
	}

	projector := projections.NewOrderProjector(store, cache, indexer, cfg.ConsumerMaxParked)

	deadletter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.ConsumerBootstrap...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	defer deadletter.Close()

	consumer := projections.NewConsumer(cfg, projector, deadletter)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- consumer.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			// A projection failure that reaches here is fatal by contract
			// (parked-buffer overflow or an unrecoverable fetch error).
			log.Error().Err(err).Msg("Projection consumer failed")
		}
	case <-quit:
		log.Info().Msg("Shutting down")
	}

	cancel()
	if err := consumer.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close projection consumer")
	}
	log.Info().Msg("Projection consumer stopped")
}
