package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaypost/relaypost/src/api/config"
	"github.com/relaypost/relaypost/src/api/data"
	"github.com/relaypost/relaypost/src/api/webserver"
	"github.com/relaypost/relaypost/src/notify"
	"github.com/relaypost/relaypost/src/platforms"
	"github.com/relaypost/relaypost/src/publisher"
)

func main() {
	cfg := config.Load()

	db := data.MustMySQL(cfg.MySQLDSN)
	if err := data.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	if err := data.LoadSettings(db); err != nil {
		log.Printf("Failed to load settings: %v", err)
	}
	rdb := data.MustRedis(cfg.RedisURL)

	var sealer *publisher.Sealer
	if cfg.TokenCipherKey != "" {
		var err error
		sealer, err = publisher.NewSealer(cfg.TokenCipherKey)
		if err != nil {
			log.Fatalf("sealer: %v", err)
		}
	} else {
		log.Printf("Warning: TOKEN_CIPHER_KEY not set, tokens stored unsealed")
	}

	states := platforms.NewStateIssuer([]byte(cfg.JWTSecret), time.Duration(cfg.StateTTL)*time.Second)
	apps := make(map[string]platforms.App, len(cfg.Apps))
	for name, a := range cfg.Apps {
		apps[name] = platforms.App{ClientID: a.ClientID, ClientSecret: a.ClientSecret, RedirectURI: a.RedirectURI}
	}
	registry := platforms.BuildRegistry(apps, states, time.Duration(cfg.PublishTimeout)*time.Second)

	store := publisher.NewStore(db)
	tokens := publisher.NewTokenManager(store, registry, rdb, sealer)
	dispatcher := publisher.NewDispatcher(store, registry, tokens, time.Duration(cfg.PublishTimeout)*time.Second)

	var notifier publisher.Notifier
	if discord, err := notify.NewDiscord(cfg.DiscordToken, cfg.DiscordChannelID); err == nil {
		notifier = discord
	} else {
		log.Printf("Warning: discord notifier disabled: %v", err)
	}
	// Worker pool size can be tuned at runtime through the settings table.
	workers := data.GetSettingInt("worker_count", cfg.WorkerCount)
	queue := publisher.NewQueue(store, dispatcher, rdb, workers, notifier)

	ctx, cancel := context.WithCancel(context.Background())

	// Background scheduler alongside the cron endpoint; the publish locks
	// keep the two from double-dispatching.
	go queue.Run(ctx, time.Duration(cfg.PollInterval)*time.Second)

	router := webserver.New(cfg, db, rdb, registry, states, queue, dispatcher, sealer)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()

	log.Printf("RelayPost API listening on %s", cfg.Port)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()
	_ = httpSrv.Shutdown(shutCtx)
}
