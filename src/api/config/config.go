package config

import (
	"log"
	"os"
	"strconv"
)

// App holds one platform's OAuth application credentials.
type App struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

type Config struct {
	MySQLDSN       string
	RedisURL       string
	JWTSecret      string
	CronSecret     string
	Port           string
	PublicURL      string
	PollInterval   int // seconds between queue ticks
	PublishTimeout int // seconds per platform HTTP call
	WorkerCount    int // bounded fan-out per post
	StateTTL       int // seconds an OAuth state token stays valid
	TokenCipherKey string // 64 hex chars; empty disables token sealing

	DiscordToken     string
	DiscordChannelID string

	Apps map[string]App // keyed by platform identifier
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		if def == "" {
			log.Fatalf("missing env %s", key)
		}
		return def
	}
	return v
}

func getint(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("bad env %s: %v", key, err)
	}
	return n
}

func app(prefix, redirectBase, platform string) App {
	return App{
		ClientID:     os.Getenv(prefix + "_CLIENT_ID"),
		ClientSecret: os.Getenv(prefix + "_CLIENT_SECRET"),
		RedirectURI:  redirectBase + "/v1/social-accounts/oauth/callback?platform=" + platform,
	}
}

func Load() Config {
	publicURL := getenv("PUBLIC_URL", "http://localhost:8080")

	apps := map[string]App{
		"facebook":  app("FACEBOOK", publicURL, "facebook"),
		"instagram": app("FACEBOOK", publicURL, "instagram"), // same Meta app
		"twitter":   app("TWITTER", publicURL, "twitter"),
		"linkedin":  app("LINKEDIN", publicURL, "linkedin"),
		"youtube":   app("GOOGLE", publicURL, "youtube"),
		"threads":   app("THREADS", publicURL, "threads"),
	}

	return Config{
		MySQLDSN:       getenv("MYSQL_DSN", "relaypost:relaypost@tcp(localhost:3306)/relaypost?parseTime=true"),
		RedisURL:       getenv("REDIS_URL", "redis://localhost:6379/0"),
		JWTSecret:      getenv("JWT_SECRET", "dev-only-secret-change-me"),
		CronSecret:     getenv("CRON_SECRET", "dev-cron-secret"),
		Port:           getenv("PORT", "8080"),
		PublicURL:      publicURL,
		PollInterval:   getint("POLL_INTERVAL", 60),
		PublishTimeout: getint("PUBLISH_TIMEOUT", 30),
		WorkerCount:    getint("WORKER_COUNT", 4),
		StateTTL:       getint("STATE_TTL", 3600),
		TokenCipherKey: os.Getenv("TOKEN_CIPHER_KEY"),

		DiscordToken:     os.Getenv("DISCORD_TOKEN"),
		DiscordChannelID: os.Getenv("DISCORD_CHANNEL_ID"),

		Apps: apps,
	}
}
