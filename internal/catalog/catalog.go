package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("catalog: not found")

// Channel is one live channel in the catalog. A channel carries either a
// direct stream URL or an external relay id to resolve at play time.
type Channel struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Category          string    `json:"category"`
	LogoURL           string    `json:"logoUrl"`
	StreamURL         string    `json:"streamUrl,omitempty"`
	ExternalChannelID string    `json:"externalChannelId,omitempty"`
	EpgID             string    `json:"epgId"`
	SortOrder         int       `json:"order"`
	IsActive          bool      `json:"isActive"`
	IsWorking         bool      `json:"isWorking"`
	IsFeatured        bool      `json:"isFeatured"`
	LastChecked       time.Time `json:"lastChecked"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Movie and Episode carry just enough for stream lookup by content kind.
type Movie struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	StreamURL string `json:"streamUrl"`
	IsActive  bool   `json:"isActive"`
}

type Episode struct {
	ID        string `json:"id"`
	SeriesID  string `json:"seriesId"`
	Name      string `json:"name"`
	StreamURL string `json:"streamUrl"`
	IsActive  bool   `json:"isActive"`
}

// Store is the Postgres-backed catalog.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the catalog tables if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS channels (
			id uuid PRIMARY KEY,
			name text NOT NULL,
			category text NOT NULL,
			logo_url text NOT NULL DEFAULT '',
			stream_url text NOT NULL DEFAULT '',
			external_channel_id text NOT NULL DEFAULT '',
			epg_id text NOT NULL DEFAULT '',
			sort_order int NOT NULL DEFAULT 0,
			is_active boolean NOT NULL DEFAULT true,
			is_working boolean NOT NULL DEFAULT true,
			is_featured boolean NOT NULL DEFAULT false,
			last_checked timestamptz NOT NULL DEFAULT now(),
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS channels_category_idx ON channels (category, sort_order, name)`,
		`CREATE TABLE IF NOT EXISTS movies (
			id uuid PRIMARY KEY,
			title text NOT NULL,
			stream_url text NOT NULL DEFAULT '',
			is_active boolean NOT NULL DEFAULT true
		)`,
		`CREATE TABLE IF NOT EXISTS episodes (
			id uuid PRIMARY KEY,
			series_id uuid NOT NULL,
			name text NOT NULL,
			stream_url text NOT NULL DEFAULT '',
			is_active boolean NOT NULL DEFAULT true
		)`,
		`CREATE TABLE IF NOT EXISTS app_config (
			key text PRIMARY KEY,
			value text NOT NULL DEFAULT '',
			updated_at timestamptz NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const channelCols = `id,name,category,logo_url,stream_url,external_channel_id,epg_id,sort_order,is_active,is_working,is_featured,last_checked,created_at`

func scanChannel(row pgx.Row) (Channel, error) {
	var ch Channel
	err := row.Scan(&ch.ID, &ch.Name, &ch.Category, &ch.LogoURL, &ch.StreamURL,
		&ch.ExternalChannelID, &ch.EpgID, &ch.SortOrder, &ch.IsActive,
		&ch.IsWorking, &ch.IsFeatured, &ch.LastChecked, &ch.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ch, ErrNotFound
	}
	return ch, err
}

// ListActive returns playable channels pre-sorted by (category, order, name),
// optionally filtered to one category. Downstream renderers rely on this
// ordering and preserve it verbatim.
func (s *Store) ListActive(ctx context.Context, category string) ([]Channel, error) {
	q := `SELECT ` + channelCols + ` FROM channels WHERE is_active AND is_working`
	var args []interface{}
	if category != "" {
		q += ` AND category=$1`
		args = append(args, category)
	}
	q += ` ORDER BY category, sort_order, name`
	return s.queryChannels(ctx, q, args...)
}

// ListAll returns every channel for the admin dashboard.
func (s *Store) ListAll(ctx context.Context) ([]Channel, error) {
	return s.queryChannels(ctx, `SELECT `+channelCols+` FROM channels ORDER BY category, sort_order, name`)
}

// ListFeatured returns active featured channels in catalog order.
func (s *Store) ListFeatured(ctx context.Context) ([]Channel, error) {
	return s.queryChannels(ctx,
		`SELECT `+channelCols+` FROM channels WHERE is_active AND is_featured ORDER BY category, sort_order, name`)
}

func (s *Store) queryChannels(ctx context.Context, q string, args ...interface{}) ([]Channel, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (s *Store) GetChannel(ctx context.Context, id string) (Channel, error) {
	return scanChannel(s.pool.QueryRow(ctx, `SELECT `+channelCols+` FROM channels WHERE id=$1`, id))
}

func (s *Store) CreateChannel(ctx context.Context, ch Channel) (Channel, error) {
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	if strings.TrimSpace(ch.Category) == "" {
		ch.Category = "Uncategorized"
	}
	now := time.Now()
	ch.LastChecked = now
	ch.CreatedAt = now
	_, err := s.pool.Exec(ctx, `INSERT INTO channels (`+channelCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		ch.ID, ch.Name, ch.Category, ch.LogoURL, ch.StreamURL, ch.ExternalChannelID,
		ch.EpgID, ch.SortOrder, ch.IsActive, ch.IsWorking, ch.IsFeatured,
		ch.LastChecked, ch.CreatedAt)
	return ch, err
}

func (s *Store) UpdateChannel(ctx context.Context, ch Channel) error {
	tag, err := s.pool.Exec(ctx, `UPDATE channels SET
		name=$2, category=$3, logo_url=$4, stream_url=$5, external_channel_id=$6,
		epg_id=$7, sort_order=$8, is_active=$9, is_featured=$10
		WHERE id=$1`,
		ch.ID, ch.Name, ch.Category, ch.LogoURL, ch.StreamURL, ch.ExternalChannelID,
		ch.EpgID, ch.SortOrder, ch.IsActive, ch.IsFeatured)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteChannel(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM channels WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetChannelHealth records a probe result for the health checker.
func (s *Store) SetChannelHealth(ctx context.Context, id string, working bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE channels SET is_working=$2, last_checked=now() WHERE id=$1`, id, working)
	return err
}

// Categories returns the distinct categories of active channels.
func (s *Store) Categories(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT category FROM channels WHERE is_active ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetMovie(ctx context.Context, id string) (Movie, error) {
	var m Movie
	err := s.pool.QueryRow(ctx,
		`SELECT id,title,stream_url,is_active FROM movies WHERE id=$1`, id).
		Scan(&m.ID, &m.Title, &m.StreamURL, &m.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, ErrNotFound
	}
	return m, err
}

func (s *Store) GetEpisode(ctx context.Context, id string) (Episode, error) {
	var e Episode
	err := s.pool.QueryRow(ctx,
		`SELECT id,series_id,name,stream_url,is_active FROM episodes WHERE id=$1`, id).
		Scan(&e.ID, &e.SeriesID, &e.Name, &e.StreamURL, &e.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return e, ErrNotFound
	}
	return e, err
}
