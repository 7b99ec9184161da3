// README: Entry point; loads config, wires services, starts the HTTP +
// websocket server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"reparto/internal/config"
	httptransport "reparto/internal/http"
	"reparto/internal/infra"
	"reparto/internal/maps"
	"reparto/internal/modules/dispatch"
	"reparto/internal/modules/location"
	"reparto/internal/modules/order"
	"reparto/internal/push"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	log := logrus.NewEntry(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DBDSN)
	if err != nil {
		log.WithError(err).Fatal("postgres init")
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.RedisAddr)

	// Firebase is optional: without it, connections are trusted (dev mode)
	// and push notifications are disabled.
	var verifier infra.TokenVerifier
	var pusher order.Pusher
	if cfg.FirebaseProjectID != "" {
		fb, err := infra.NewFirebase(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentials)
		if err != nil {
			log.WithError(err).Fatal("firebase init")
		}
		verifier = fb
		pusher = push.NewService(fb.Messaging, log.WithField("component", "push"))
	} else {
		log.Warn("firebase disabled; running with unverified connections and no push")
	}

	var eta order.ETAEstimator
	if cfg.MapsAPIKey != "" {
		routeSvc, err := maps.NewRouteService(cfg.MapsAPIKey)
		if err != nil {
			log.WithError(err).Fatal("maps init")
		}
		eta = routeSvc
	}

	hub := dispatch.NewHub(log.WithField("component", "dispatch"))
	dispatchSrv := dispatch.NewServer(hub, verifier)

	locationStore := location.NewStore(dbPool, redisClient, log.WithField("component", "location"))
	locationSvc := location.NewService(locationStore, cfg.MovementThresholdMeters)

	orderStore := order.NewStore(dbPool)
	orderSvc := order.NewService(orderStore, hub, pusher, locationStore, eta, log.WithField("component", "order"))

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Dispatch:        dispatchSrv,
		Order:           orderSvc,
		Location:        locationSvc,
		Verifier:        verifier,
		Log:             log.WithField("component", "http"),
		OfferRadiusKm:   cfg.OfferRadiusKm,
		OfferMaxDrivers: cfg.OfferMaxDrivers,
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	log.WithField("addr", cfg.HTTPAddr).Info("listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server")
	}
}
