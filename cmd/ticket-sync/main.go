package main

import (
	"context"
	"errors"
	"fmt"
	"ms-tiket/internal/catalog"
	"ms-tiket/internal/config"
	"ms-tiket/internal/kafka"
	"ms-tiket/internal/logger"
	"ms-tiket/internal/models"
	"ms-tiket/internal/utils"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
)

// applyEvent feeds the projection and drops events it can never apply.
func applyEvent(projection *catalog.Projection) kafka.EventHandler {
	return func(ctx context.Context, event models.LedgerEvent) error {
		err := projection.Apply(ctx, event)
		if errors.Is(err, catalog.ErrMalformedEvent) {
			return fmt.Errorf("%w: %v", kafka.ErrSkipEvent, err)
		}
		return err
	}
}

func catalogRouter(projection *catalog.Projection) http.Handler {
	r := chi.NewRouter()
	r.Get("/catalog", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("catalog", projection.Entries()))
	})
	r.Get("/catalog/{typeID}", func(w http.ResponseWriter, r *http.Request) {
		typeID, err := strconv.ParseInt(chi.URLParam(r, "typeID"), 10, 64)
		if err != nil {
			utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid ticket type id", err.Error()))
			return
		}
		entry, ok := projection.Entry(typeID)
		if !ok {
			utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("ticket type not synced", fmt.Sprintf("type %d", typeID)))
			return
		}
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("catalog entry", entry))
	})
	return r
}

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()

	log := logger.NewLogger(cfg.Logging.Dir, "ticket-sync")
	defer log.Close()
	log.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if envErr != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		log.Fatal("CONFIG", "KAFKA_BROKERS not set")
	}

	projection := catalog.NewProjection(log)
	topics := []string{cfg.Kafka.Topics.TicketAdded, cfg.Kafka.Topics.TicketPurchased}
	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, topics, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumerDone := make(chan error, 1)
	go func() {
		log.Info("KAFKA", fmt.Sprintf("Syncing catalog from %v as group %s", topics, cfg.Kafka.GroupID))
		consumerDone <- consumer.Run(ctx, applyEvent(projection))
	}()

	server := &http.Server{
		Addr:         cfg.Server.SyncPort,
		Handler:      catalogRouter(projection),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Catalog view on %s", cfg.Server.SyncPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("APP", "Shutdown signal received")
	case err := <-consumerDone:
		log.Error("KAFKA", fmt.Sprintf("Consumer stopped: %v", err))
	}

	cancel()
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
	if err := consumer.Close(); err != nil {
		log.Warn("KAFKA", fmt.Sprintf("Failed to close consumer: %v", err))
	}
	log.Info("APP", "✅ Ticket sync shutdown complete")
}
