package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/ordersvc/models"
	"example.com/ordersvc/projections"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update all storage schemas and exit",
	Run:   runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) {
	eventsDB := openDatabase(cfg.EventStoreSource)
	if err := eventsDB.AutoMigrate(&models.Event{}, &models.Snapshot{}); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate event store schema")
	}
	log.Info().Msg("Event store schema migrated")

	readDB := openDatabase(cfg.ReadModelSource)
	if err := readDB.AutoMigrate(&models.Order{}, &models.OrderItem{}, &models.OrderStatusHistory{}); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate read model schema")
	}
	log.Info().Msg("Read model schema migrated")

	if cfg.ElasticSearchURL != "" {
		client, err := projections.NewElasticsearchClient(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Elasticsearch")
		}
		if err := projections.EnsureIndices(client, cfg.ElasticSearchPrefix); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure Elasticsearch indices")
		}
		log.Info().Msg("Elasticsearch indices ensured")
	}
}
