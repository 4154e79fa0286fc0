package cmd

import (
	"context"
	"fmt"
	"time"

	"rewarder/api"
	"rewarder/config"
	"rewarder/infrastructure"
	"rewarder/infrastructure/observability"

	log "github.com/sirupsen/logrus"
)

// Run starts the HTTP intake, the dispatchers and, when NATS is enabled, the
// message intake. It blocks until ctx is cancelled.
func Run(ctx context.Context) error {
	cfg := config.Get()
	config.ConfigureLogging(cfg)
	log.Printf("Starting rewarder in %s mode...", cfg.Environment)

	if err := observability.InitializeGlobalMetrics(ctx, cfg); err != nil {
		log.WithError(err).Warn("Metrics disabled")
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.nats != nil {
		consumer := infrastructure.NewIntakeConsumer(a.settlements, a.points)
		if err := consumer.Start(a.nats); err != nil {
			return fmt.Errorf("failed to start NATS intake: %w", err)
		}
		log.Println("NATS intake subscribed")
	}

	var stops []func()
	for name, d := range a.dispatchers {
		log.WithField("store", name).Info("Starting dispatcher")
		stops = append(stops, d.Start(ctx))
	}

	queues := make(map[string]api.FailedItemQueue, len(a.dispatchers))
	for name, d := range a.dispatchers {
		queues[name] = d
	}
	server := api.NewServer(cfg.HTTPAddr, api.Dependencies{
		Budget:         a.budget,
		Points:         a.points,
		Settlements:    a.settlements,
		Queues:         queues,
		Health:         a.health,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})
	serverErr := server.Start()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("HTTP intake failed")
		}
	}

	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP intake did not drain cleanly")
	}
	for _, stop := range stops {
		stop()
	}
	if err := observability.ShutdownGlobalMetrics(shutdownCtx); err != nil {
		log.WithError(err).Warn("Failed to flush metrics")
	}

	log.Println("Shutdown completed")
	return nil
}
