package appconfig

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nexttv/internal/relay"
)

// Keys in the app_config table. Relay settings are runtime-editable from the
// admin dashboard; everything else has env-provided defaults.
const (
	KeyRelayEnabled  = "relay_enabled"
	KeyRelayBaseURL  = "relay_base_url"
	KeyRelayUsername = "relay_username"
	KeyRelayPassword = "relay_password"
	KeyTokenTTL      = "stream_token_ttl"
)

// Store is a key/value app configuration store on Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Get returns the stored value for key, or fallback when unset.
func (s *Store) Get(ctx context.Context, key, fallback string) (string, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM app_config WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// Set upserts a config key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO app_config (key, value, updated_at)
		VALUES ($1,$2,now())
		ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=now()`,
		key, value)
	return err
}

// All returns the full key/value map.
func (s *Store) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM app_config`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// RelaySettings satisfies relay.SettingsProvider, re-reading the store on
// every call so admin edits apply without a restart.
func (s *Store) RelaySettings(ctx context.Context) (relay.Settings, error) {
	enabled, err := s.Get(ctx, KeyRelayEnabled, "false")
	if err != nil {
		return relay.Settings{}, err
	}
	baseURL, err := s.Get(ctx, KeyRelayBaseURL, "")
	if err != nil {
		return relay.Settings{}, err
	}
	username, err := s.Get(ctx, KeyRelayUsername, "")
	if err != nil {
		return relay.Settings{}, err
	}
	password, err := s.Get(ctx, KeyRelayPassword, "")
	if err != nil {
		return relay.Settings{}, err
	}
	return relay.Settings{
		Enabled:  enabled == "true",
		BaseURL:  baseURL,
		Username: username,
		Password: password,
	}, nil
}

// TokenTTL returns the configured stream token lifetime, or fallback.
func (s *Store) TokenTTL(ctx context.Context, fallback time.Duration) (time.Duration, error) {
	raw, err := s.Get(ctx, KeyTokenTTL, "")
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return fallback, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return fallback, nil
	}
	return time.Duration(secs) * time.Second, nil
}
