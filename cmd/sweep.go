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
	"example.com/ordersvc/messaging"
)

var sweepOnce bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Republish stored events the event log never received",
	Run:   runSweep,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepOnce, "once", false, "run a single sweep and exit")
}

func runSweep(cmd *cobra.Command, args []string) {
	db := openDatabase(cfg.EventStoreSource)
	store := eventstore.NewGormEventStore(db, cfg.SnapshotEvery, domain.OrderSnapshotter)
	publisher := buildPublisher()
	defer publisher.Close()

	sweeper := messaging.NewSweeper(store, publisher, cfg.SweepBatchSize, cfg.SweepInterval, cfg.SweepGracePeriod)

	if sweepOnce {
		published, err := sweeper.SweepOnce(context.Background())
		if err != nil {
			log.Fatal().Err(err).Msg("Sweep failed")
		}
		log.Info().Int("published", published).Msg("Sweep complete")
		return
	}

	sweeper.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sweeper.Stop()
}
