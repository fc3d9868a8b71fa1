// Entry point: loads config, wires module services, starts the HTTP server
// and the background jobs (hold sweeper, lifecycle scheduler).
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/diegopirazabal/docproy/internal/clock"
	"github.com/diegopirazabal/docproy/internal/config"
	httptransport "github.com/diegopirazabal/docproy/internal/http"
	"github.com/diegopirazabal/docproy/internal/infra"
	"github.com/diegopirazabal/docproy/internal/metrics"
	"github.com/diegopirazabal/docproy/internal/modules/booking"
	"github.com/diegopirazabal/docproy/internal/modules/fleet"
	"github.com/diegopirazabal/docproy/internal/modules/lifecycle"
	"github.com/diegopirazabal/docproy/internal/modules/place"
	"github.com/diegopirazabal/docproy/internal/modules/pricing"
	"github.com/diegopirazabal/docproy/internal/modules/trip"
	"github.com/diegopirazabal/docproy/internal/notify"
	"github.com/diegopirazabal/docproy/internal/payment"
	"github.com/diegopirazabal/docproy/internal/queue"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.Scheduling.Timezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.Scheduling.Timezone).Msg("load timezone")
	}
	clk := clock.System(loc)

	if cfg.Firebase.ProjectID == "" {
		log.Fatal().Msg("DOCPROY_FIREBASE_PROJECT_ID is required")
	}
	firebaseApp, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("firebase init")
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, firebaseApp)
	if err != nil {
		log.Fatal().Err(err).Msg("firebase auth init")
	}

	var notifier notify.Notifier = notify.Nop{}
	if messagingClient, err := infra.NewMessagingClient(ctx, firebaseApp); err != nil {
		log.Warn().Err(err).Msg("fcm unavailable; push notifications disabled")
	} else {
		notifier = notify.NewFCM(messagingClient)
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()

	var publisher *queue.Publisher
	if conn, ch, err := infra.NewRabbit(cfg.AMQP.URL); err != nil {
		log.Warn().Err(err).Msg("rabbitmq unavailable; domain events disabled")
	} else {
		defer conn.Close()
		publisher, err = queue.NewPublisher(ch)
		if err != nil {
			log.Fatal().Err(err).Msg("declare event queue")
		}
	}

	m := metrics.New()
	payments := payment.NewRESTProvider(cfg.Payment.BaseURL, cfg.Payment.ClientID, cfg.Payment.ClientSecret)

	placeStore := place.NewStore(dbPool)
	placeSvc := place.NewService(placeStore)

	fleetStore := fleet.NewStore(dbPool)
	fleetSvc := fleet.NewService(fleetStore)

	tripStore := trip.NewStore(dbPool)
	tripSvc := trip.NewService(tripStore, placeStore, clk, m, cfg.Scheduling)

	bookingStore := booking.NewStore(dbPool)
	bookingSvc := booking.NewService(bookingStore, pricing.NewService(), payments, eventsOrNil(publisher), notifier, m, clk, cfg.Scheduling)

	lifecycleSvc := lifecycle.NewService(
		tripStore,
		fleetStore,
		bookingStore,
		lifecycle.NewRedisReminders(redisClient),
		notifier,
		eventsOrNil(publisher),
		m,
		clk,
		cfg.Scheduling,
	)

	router := httptransport.NewRouter(httptransport.ServerDeps{
		Places:   placeSvc,
		Fleet:    fleetSvc,
		Trips:    tripSvc,
		Booking:  bookingSvc,
		Verifier: verifier,
		Metrics:  m,
	})
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}

	go bookingSvc.RunSweeper(ctx)
	go lifecycleSvc.Run(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}
	}()

	log.Info().Str("addr", cfg.HTTP.Addr).Msg("listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server")
	}
}

// eventsOrNil keeps a typed-nil *Publisher out of the services' interface
// fields so their nil checks stay meaningful.
func eventsOrNil(p *queue.Publisher) booking.EventPublisher {
	if p == nil {
		return nil
	}
	return p
}
