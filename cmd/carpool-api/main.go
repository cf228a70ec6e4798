// README: Entry point; loads config, wires services, starts HTTP server and background workers.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carpool/internal/config"
	httptransport "carpool/internal/http"
	"carpool/internal/infra"
	"carpool/internal/modules/events"
	"carpool/internal/modules/ledger"
	"carpool/internal/modules/matching"
	"carpool/internal/modules/trip"
	"carpool/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Firebase.ProjectID == "" {
		log.Fatal("CARPOOL_FIREBASE_PROJECT_ID is required")
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		log.Fatalf("firebase init: %v", err)
	}

	var notifier trip.Notifier = notify.LogNotifier{}
	if messenger, err := infra.NewFirebaseMessenger(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile); err != nil {
		log.Printf("[main] FCM unavailable, using log notifier: %v", err)
	} else {
		notifier = notify.NewFCMNotifier(messenger)
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}
	redisClient := infra.NewRedis(cfg.Redis.Addr)

	tripStore := trip.NewStore(dbPool)
	wallet := ledger.NewStore(dbPool, cfg.Ledger.Currency)

	tripSvc := trip.NewService(tripStore, wallet)
	tripSvc.SetNotifier(notifier)

	hub := events.NewHub(func(ctx context.Context) ([]*trip.Request, error) {
		return tripStore.List(ctx, trip.Filter{})
	})
	tripSvc.SetPublisher(hub)

	matchingStore := matching.NewStore(redisClient)
	matchingSvc := matching.NewService(tripStore, matchingStore, cfg.Matching)
	matchingSvc.SetNotifier(notifier)

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Trip:     tripSvc,
		Matching: matchingSvc,
		Wallet:   wallet,
		Hub:      hub,
		Verifier: verifier,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes()}

	go tripSvc.RunExpiryMonitor(ctx, time.Minute, 15*time.Minute)
	go runDispatcher(ctx, hub, matchingSvc)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		hub.Close()
	}()

	log.Printf("[main] listening on %s", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

// runDispatcher pushes freshly opened trips to nearby drivers. It rides the
// same event feed the WebSocket clients use; dispatch dedupe lives in the
// matching store, so replays after a reconnect are harmless.
func runDispatcher(ctx context.Context, hub *events.Hub, matchingSvc *matching.Service) {
	for {
		sub, err := hub.Subscribe(ctx, events.Filter{Status: trip.StatusOpen})
		if err != nil {
			return
		}
		consumeDispatchFeed(ctx, sub, matchingSvc)
		sub.Cancel()
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
			// Fell behind or the hub dropped us; resubscribe for a fresh
			// snapshot.
		}
	}
}

func consumeDispatchFeed(ctx context.Context, sub *events.Subscription, matchingSvc *matching.Service) {
	for {
		select {
		case r, ok := <-sub.C:
			if !ok {
				return
			}
			if err := matchingSvc.DispatchNewTrip(ctx, r); err != nil {
				log.Printf("[main] dispatch trip=%s: %v", r.ID, err)
			}
		case <-ctx.Done():
			return
		}
	}
}
