package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrDisabled      = errors.New("relay: disabled")
	ErrMisconfigured = errors.New("relay: missing base url or credentials")
)

// Settings are the relay credentials, read from the app config store on every
// resolve so admin edits take effect without a restart.
type Settings struct {
	Enabled  bool
	BaseURL  string
	Username string
	Password string
}

// SettingsProvider supplies current relay settings.
type SettingsProvider interface {
	RelaySettings(ctx context.Context) (Settings, error)
}

const (
	maxRedirects   = 5
	resolveTimeout = 15 * time.Second
)

// Resolver discovers the real media URL behind an external channel id by
// following the relay's redirect chain. It never reads response payload, so
// live video is not proxied through this process.
type Resolver struct {
	settings SettingsProvider
	client   *http.Client
	log      zerolog.Logger
}

// NewResolver builds a resolver around the given settings source. A nil
// client gets the default redirect-capped, timeout-bounded one.
func NewResolver(settings SettingsProvider, client *http.Client, log zerolog.Logger) *Resolver {
	if client == nil {
		client = &http.Client{
			Timeout: resolveTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		}
	}
	return &Resolver{settings: settings, client: client, log: log}
}

// Resolve returns the post-redirect origin URL for externalID. Disabled or
// incomplete settings short-circuit with no network call. Every failure mode
// comes back as an error; the caller decides the client-visible fallback.
func (r *Resolver) Resolve(ctx context.Context, externalID string) (string, error) {
	cfg, err := r.settings.RelaySettings(ctx)
	if err != nil {
		return "", fmt.Errorf("relay settings: %w", err)
	}
	if !cfg.Enabled {
		return "", ErrDisabled
	}
	if cfg.BaseURL == "" || cfg.Username == "" || cfg.Password == "" {
		return "", ErrMisconfigured
	}

	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	candidate := fmt.Sprintf("%s/%s/%s/%s", base, cfg.Username, cfg.Password, externalID)

	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	// GET, not HEAD: some relays reject HEAD outright.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate, nil)
	if err != nil {
		return "", fmt.Errorf("relay request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Warn().Str("relay_host", safeHost(base)).Str("external_id", externalID).Msg("relay resolve failed")
		// url.Error carries the full candidate URL, credentials included;
		// surface only the underlying cause.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return "", fmt.Errorf("relay resolve %s: %w", externalID, err)
	}
	// The final address is known as soon as headers arrive. Close without
	// reading so no payload bytes are relayed through us.
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return "", fmt.Errorf("relay resolve %s: HTTP %d", externalID, resp.StatusCode)
	}

	resolved := candidate
	if resp.Request != nil && resp.Request.URL != nil {
		resolved = resp.Request.URL.String()
	}
	r.log.Debug().Str("relay_host", safeHost(base)).Str("external_id", externalID).Msg("relay resolved")
	return resolved, nil
}

// safeHost returns only the host portion of the relay URL for log output.
// The full URL embeds credentials and must never be logged.
func safeHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[unparseable]"
	}
	return u.Host
}
