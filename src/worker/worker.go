package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaypost/relaypost/src/api/config"
	"github.com/relaypost/relaypost/src/api/data"
	"github.com/relaypost/relaypost/src/notify"
	"github.com/relaypost/relaypost/src/platforms"
	"github.com/relaypost/relaypost/src/publisher"
)

// Standalone queue worker for deployments that keep the API instances
// stateless and let one process own the scheduler.
func main() {
	cfg := config.Load()

	db := data.MustMySQL(cfg.MySQLDSN)
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
	workers := data.GetSettingInt("worker_count", cfg.WorkerCount)
	queue := publisher.NewQueue(store, dispatcher, rdb, workers, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	go queue.Run(ctx, time.Duration(cfg.PollInterval)*time.Second)

	log.Printf("RelayPost worker started (tick every %ds)", cfg.PollInterval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	// Give the in-flight tick a moment to persist its results.
	time.Sleep(2 * time.Second)
	log.Printf("RelayPost worker stopped")
}
