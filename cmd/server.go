package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/ordersvc/domain"
	"example.com/ordersvc/eventstore"
	"example.com/ordersvc/handlers"
	"example.com/ordersvc/messaging"
	"example.com/ordersvc/models"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the order command consumer",
	Run:   runServer,
}

func runServer(cmd *cobra.Command, args []string) {
	log.Info().Msg("Starting order service")

	db := openDatabase(cfg.EventStoreSource)
	if cfg.EnableMigrations {
		if err := db.AutoMigrate(&models.Event{}, &models.Snapshot{}); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate event store schema")
		}
	}

	store := eventstore.NewGormEventStore(db, cfg.SnapshotEvery, domain.OrderSnapshotter)
	publisher := buildPublisher()
	handler := handlers.NewOrderHandler(store, publisher, cfg.HandlerMaxRetries)
	processor := messaging.NewProcessor(handler)
	consumer := messaging.NewCommandConsumer(cfg, processor)

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
			log.Error().Err(err).Msg("Command consumer failed")
		}
	case <-quit:
		log.Info().Msg("Shutting down")
	}

	cancel()
	if err := consumer.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close command consumer")
	}
	if err := publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close publisher")
	}
	log.Info().Msg("Order service stopped")
}
