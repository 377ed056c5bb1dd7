package main

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nexttv/internal/appconfig"
	"nexttv/internal/catalog"
	"nexttv/internal/relay"
	pgdb "nexttv/pkg/db"
	"nexttv/pkg/logger"
)

type config struct {
	DBURL      string
	Interval   time.Duration
	Timeout    time.Duration
	Concurrent int
}

func loadConfig() config {
	interval, err := time.ParseDuration(getenv("CHECK_INTERVAL", "5m"))
	if err != nil {
		interval = 5 * time.Minute
	}
	timeout, err := time.ParseDuration(getenv("CHECK_TIMEOUT", "10s"))
	if err != nil {
		timeout = 10 * time.Second
	}
	return config{
		DBURL:      os.Getenv("DB_URL"),
		Interval:   interval,
		Timeout:    timeout,
		Concurrent: atoiDefault(os.Getenv("CHECK_CONCURRENCY"), 8),
	}
}

func main() {
	log := logger.New()
	cfg := loadConfig()
	if cfg.DBURL == "" {
		log.Fatal().Msg("DB_URL required")
	}

	ctx := context.Background()
	pool, err := pgdb.Connect(ctx, cfg.DBURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer pool.Close()

	store := catalog.NewStore(pool)
	cfgStore := appconfig.NewStore(pool)
	resolver := relay.NewResolver(cfgStore, nil, log)

	client := &http.Client{Timeout: cfg.Timeout}
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", cfg.Interval).Msg("health checker started")
	for {
		runChecks(ctx, store, resolver, client, cfg.Concurrent, log)
		<-ticker.C
	}
}

func runChecks(ctx context.Context, store *catalog.Store, resolver *relay.Resolver, client *http.Client, concurrent int, log zerolog.Logger) {
	channels, err := store.ListAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("load channels")
		return
	}

	sem := make(chan struct{}, concurrent)
	var wg sync.WaitGroup
	for _, ch := range channels {
		if !ch.IsActive {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(ch catalog.Channel) {
			defer wg.Done()
			defer func() { <-sem }()
			working := probe(ctx, resolver, client, ch)
			if err := store.SetChannelHealth(ctx, ch.ID, working); err != nil {
				log.Error().Err(err).Str("channel", ch.ID).Msg("update health")
				return
			}
			if !working {
				log.Warn().Str("channel", ch.ID).Str("name", ch.Name).Msg("channel down")
			}
		}(ch)
	}
	wg.Wait()
}

// probe checks whether a channel's origin answers. Relay-backed channels go
// through resolution first, so relay outages mark them down as well.
func probe(ctx context.Context, resolver *relay.Resolver, client *http.Client, ch catalog.Channel) bool {
	origin := ch.StreamURL
	if origin == "" && ch.ExternalChannelID != "" {
		resolved, err := resolver.Resolve(ctx, ch.ExternalChannelID)
		if err != nil {
			return false
		}
		origin = resolved
	}
	if origin == "" {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	// Liveness only; the body is a stream and must not be read.
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func atoiDefault(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
