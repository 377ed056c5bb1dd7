package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"nexttv/internal/catalog"
	"nexttv/internal/playlist"
	pgdb "nexttv/pkg/db"
	"nexttv/pkg/logger"
)

// importer loads channels from an extended M3U playlist, either a local file
// or a URL, into the catalog. Existing channels are matched by stream URL so
// re-running an import does not duplicate them.
func main() {
	log := logger.New()

	var (
		source   = flag.String("source", "", "playlist file path or http(s) URL")
		category = flag.String("category", "", "override category for all imported channels")
		dryRun   = flag.Bool("dry-run", false, "parse and report without writing")
	)
	flag.Parse()

	if *source == "" {
		log.Fatal().Msg("-source required")
	}
	dbURL := os.Getenv("DB_URL")
	if dbURL == "" && !*dryRun {
		log.Fatal().Msg("DB_URL required")
	}

	text, err := readSource(*source)
	if err != nil {
		log.Fatal().Err(err).Str("source", *source).Msg("read playlist")
	}

	entries := playlist.ParseM3U(text)
	if len(entries) == 0 {
		log.Fatal().Msg("no channels found in playlist")
	}
	log.Info().Int("channels", len(entries)).Msg("playlist parsed")

	if *dryRun {
		for _, e := range entries {
			log.Info().Str("name", e.Name).Str("category", e.Category).Msg("would import")
		}
		return
	}

	ctx := context.Background()
	pool, err := pgdb.Connect(ctx, dbURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer pool.Close()

	store := catalog.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	existing, err := store.ListAll(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("list channels")
	}
	byURL := make(map[string]bool, len(existing))
	for _, ch := range existing {
		if ch.StreamURL != "" {
			byURL[ch.StreamURL] = true
		}
	}

	imported, skipped := 0, 0
	for i, e := range entries {
		if byURL[e.URL] {
			skipped++
			continue
		}
		cat := e.Category
		if *category != "" {
			cat = *category
		}
		ch := catalog.Channel{
			ID:        uuid.NewString(),
			Name:      e.Name,
			Category:  cat,
			LogoURL:   e.LogoURL,
			StreamURL: e.URL,
			EpgID:     e.EpgID,
			SortOrder: i,
			IsActive:  true,
			IsWorking: true,
		}
		if _, err := store.CreateChannel(ctx, ch); err != nil {
			log.Error().Err(err).Str("name", e.Name).Msg("import channel")
			continue
		}
		imported++
	}
	log.Info().Int("imported", imported).Int("skipped", skipped).Msg("import done")
}

func readSource(source string) (string, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		client := &http.Client{Timeout: 30 * time.Second}
		resp, err := client.Get(source)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
