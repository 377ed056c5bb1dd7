package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gocql/gocql"
	"github.com/rs/zerolog"

	"nexttv/internal/activation"
	"nexttv/internal/appconfig"
	"nexttv/internal/auth"
	"nexttv/internal/catalog"
	"nexttv/internal/db"
	"nexttv/internal/relay"
	"nexttv/internal/token"
	pgdb "nexttv/pkg/db"
	"nexttv/pkg/logger"
)

type config struct {
	Port         string
	BaseURL      string
	AppSecret    string
	StreamSecret string
	TokenTTL     time.Duration
	AdminEmail   string
	AdminPass    string

	DBURL       string
	ScyllaHosts []string
	ScyllaPort  int
	Keyspace    string
	Consistency string
	Replication int
}

func loadConfig() (config, error) {
	hosts := strings.Split(os.Getenv("SCYLLA_HOSTS"), ",")
	for i := range hosts {
		hosts[i] = strings.TrimSpace(hosts[i])
	}
	ttl := time.Duration(envDefaultInt("STREAM_TOKEN_EXPIRES", 3600)) * time.Second
	cfg := config{
		Port:         envDefault("API_PORT", envDefault("PORT", "8080")),
		BaseURL:      strings.TrimRight(envDefault("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		AppSecret:    os.Getenv("APP_SECRET"),
		StreamSecret: os.Getenv("STREAM_TOKEN_SECRET"),
		TokenTTL:     ttl,
		AdminEmail:   os.Getenv("ADMIN_EMAIL"),
		AdminPass:    os.Getenv("ADMIN_PASSWORD"),
		DBURL:        os.Getenv("DB_URL"),
		ScyllaHosts:  hosts,
		ScyllaPort:   envDefaultInt("SCYLLA_PORT", 9042),
		Keyspace:     envDefault("SCYLLA_KEYSPACE", "nexttv"),
		Consistency:  envDefault("SCYLLA_CONSISTENCY", "QUORUM"),
		Replication:  envDefaultInt("SCYLLA_RF", 3),
	}
	if cfg.StreamSecret == "" {
		return cfg, fmt.Errorf("STREAM_TOKEN_SECRET is required")
	}
	if cfg.AppSecret == "" {
		return cfg, fmt.Errorf("APP_SECRET is required")
	}
	if cfg.DBURL == "" {
		return cfg, fmt.Errorf("DB_URL is required")
	}
	if len(cfg.ScyllaHosts) == 0 || cfg.ScyllaHosts[0] == "" {
		return cfg, fmt.Errorf("SCYLLA_HOSTS is required")
	}
	return cfg, nil
}

func main() {
	log := logger.New()
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := pgdb.Connect(ctx, cfg.DBURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()

	var session *gocql.Session
	for i := 0; i < 20; i++ {
		s, err := connectScylla(cfg)
		if err != nil {
			log.Warn().Err(err).Int("attempt", i+1).Msg("scylla connect retry")
			time.Sleep(5 * time.Second)
			continue
		}
		if err := db.EnsureSchema(s, cfg.Keyspace); err != nil {
			s.Close()
			log.Warn().Err(err).Int("attempt", i+1).Msg("ensure schema retry")
			time.Sleep(5 * time.Second)
			continue
		}
		if cfg.AdminEmail != "" && cfg.AdminPass != "" {
			if err := db.EnsureAdmin(ctx, s, cfg.Keyspace, cfg.AdminEmail, cfg.AdminPass); err != nil {
				s.Close()
				log.Warn().Err(err).Int("attempt", i+1).Msg("ensure admin retry")
				time.Sleep(5 * time.Second)
				continue
			}
		}
		session = s
		break
	}
	if session == nil {
		log.Fatal().Msg("scylla not ready after retries")
	}
	defer session.Close()

	store := catalog.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("catalog schema failed")
	}
	cfgStore := appconfig.NewStore(pool)

	authSvc := auth.NewService(cfg.AppSecret)
	codec := token.NewCodec(cfg.StreamSecret, cfg.TokenTTL)
	resolver := relay.NewResolver(cfgStore, nil, log)
	registry := activation.NewRegistry(activation.NewScyllaStore(session, cfg.Keyspace))

	api := &server{
		cfg:      cfg,
		log:      log,
		store:    store,
		channels: catalog.NewCache(store, 30*time.Second),
		cfgStore: cfgStore,
		authSvc:  authSvc,
		codec:    codec,
		resolver: resolver,
		registry: registry,
		session:  session,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/auth/login", api.handleLogin())
	r.Post("/auth/refresh", api.handleRefresh())

	// Device-facing endpoints, CORS-open for the TV and mobile apps.
	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With"},
		}))
		r.Post("/api/activation/verify", api.handleActivationVerify())
		r.Get("/api/activation/status/{deviceId}", api.handleActivationStatus())
		r.Get("/api/playlist.m3u", api.handlePlaylist())
		r.Get("/api/channels", api.handleListChannels())
		r.Get("/api/channels/categories", api.handleCategories())
		r.Get("/api/channels/featured", api.handleFeaturedChannels())
		r.Get("/api/channels/{id}", api.handleGetChannel())
		r.Get("/api/channels/{id}/play", api.handleChannelPlay())
		r.Get("/api/stream/{kind}/{id}", api.handleStream())
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(authSvc.RequireRole("admin"))
		r.Get("/channels", api.handleAdminListChannels())
		r.Post("/channels", api.handleAdminCreateChannel())
		r.Put("/channels/{id}", api.handleAdminUpdateChannel())
		r.Delete("/channels/{id}", api.handleAdminDeleteChannel())
		r.Get("/activation-codes", api.handleAdminListCodes())
		r.Post("/activation-codes", api.handleAdminCreateCode())
		r.Put("/activation-codes/{code}", api.handleAdminUpdateCode())
		r.Delete("/activation-codes/{code}", api.handleAdminDeleteCode())
		r.Get("/config", api.handleAdminGetConfig())
		r.Put("/config", api.handleAdminPutConfig())
		r.Post("/relay/test", api.handleAdminRelayTest())
		r.Post("/users", api.handleAdminCreateUser())
		r.Get("/users", api.handleAdminListUsers())
	})

	addr := ":" + cfg.Port
	log.Info().Str("addr", addr).Msg("api listening")
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

// server bundles the handler dependencies.
type server struct {
	cfg      config
	log      zerolog.Logger
	store    *catalog.Store
	channels *catalog.Cache
	cfgStore *appconfig.Store
	authSvc  *auth.Service
	codec    *token.Codec
	resolver *relay.Resolver
	registry *activation.Registry
	session  *gocql.Session
}

func connectScylla(cfg config) (*gocql.Session, error) {
	cluster := gocql.NewCluster(cfg.ScyllaHosts...)
	cluster.Port = cfg.ScyllaPort
	cluster.Timeout = 5 * time.Second
	cluster.Consistency = parseConsistency(cfg.Consistency)

	tmpSession, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}
	defer tmpSession.Close()

	if err := db.EnsureKeyspace(tmpSession, cfg.Keyspace, cfg.Replication); err != nil {
		return nil, fmt.Errorf("ensure keyspace %s: %w", cfg.Keyspace, err)
	}
	cluster.Keyspace = cfg.Keyspace
	return cluster.CreateSession()
}

func parseConsistency(c string) gocql.Consistency {
	switch strings.ToUpper(c) {
	case "ONE":
		return gocql.One
	case "LOCAL_ONE":
		return gocql.LocalOne
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum
	case "ALL":
		return gocql.All
	default:
		return gocql.Quorum
	}
}

func envDefault(key, val string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return val
}

func envDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var out int
		if _, err := fmt.Sscanf(v, "%d", &out); err == nil {
			return out
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// okJSON and failJSON emit the success/message envelope the client apps
// consume.
func okJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{"success": true, "data": data})
}

func failJSON(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "message": msg})
}
