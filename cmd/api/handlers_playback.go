package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"nexttv/internal/catalog"
	"nexttv/internal/playlist"
	"nexttv/internal/token"
)

const playlistTitle = "NextTV Live Channels"

// playlistTokenTTL is the lifetime of tokens embedded in exported playlists;
// they outlive single play requests since players keep the file around.
const playlistTokenTTL = 2 * time.Hour

func (s *server) handlePlaylist() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category := r.URL.Query().Get("category")
		channels, err := s.channels.ListActive(r.Context(), category)
		if err != nil {
			failJSON(w, http.StatusInternalServerError, "could not build playlist")
			return
		}

		entries := make([]playlist.Channel, 0, len(channels))
		for _, ch := range channels {
			entries = append(entries, playlist.Channel{
				ID:       ch.ID,
				Name:     ch.Name,
				Category: ch.Category,
				LogoURL:  ch.LogoURL,
				EpgID:    ch.EpgID,
			})
		}

		title := playlistTitle
		if category != "" {
			title = "NextTV " + category + " Channels"
		}
		renderer := playlist.NewRenderer(s.codec, playlistTokenTTL)
		out, err := renderer.Render(entries, s.cfg.BaseURL, title, s.viewerFromRequest(r))
		if err != nil {
			failJSON(w, http.StatusInternalServerError, "could not build playlist")
			return
		}

		w.Header().Set("Content-Type", "application/x-mpegurl")
		w.Header().Set("Content-Disposition", `attachment; filename="nexttv_playlist.m3u"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(out))
	}
}

// handleChannelPlay resolves a channel's origin (directly or through the
// relay), discovers quality variants when the origin is a master manifest,
// and hands back protected URLs. Origin details never reach the client.
func (s *server) handleChannelPlay() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ch, err := s.store.GetChannel(r.Context(), id)
		if errors.Is(err, catalog.ErrNotFound) {
			failJSON(w, http.StatusNotFound, "channel not found")
			return
		}
		if err != nil {
			failJSON(w, http.StatusInternalServerError, "could not fetch channel")
			return
		}
		if !ch.IsActive {
			failJSON(w, http.StatusNotFound, "channel not found")
			return
		}

		origin := ch.StreamURL
		if origin == "" && ch.ExternalChannelID != "" {
			resolved, err := s.resolver.Resolve(r.Context(), ch.ExternalChannelID)
			if err != nil {
				s.log.Warn().Err(err).Str("channel", id).Msg("relay resolution failed")
			} else {
				origin = resolved
			}
		}
		if origin == "" {
			failJSON(w, http.StatusNotFound, "stream unavailable")
			return
		}

		ref := token.ContentRef{Kind: token.KindChannel, ID: ch.ID}
		ttl, err := s.cfgStore.TokenTTL(r.Context(), s.codec.DefaultTTL())
		if err != nil {
			ttl = s.codec.DefaultTTL()
		}
		streamURL, err := s.codec.ProtectedURL(s.cfg.BaseURL+"/api/stream/channel/"+ch.ID, ref, s.viewerFromRequest(r), ttl)
		if err != nil {
			failJSON(w, http.StatusInternalServerError, "stream unavailable")
			return
		}

		data := map[string]interface{}{
			"streamUrl": streamURL,
			"name":      ch.Name,
		}

		// Best effort: expose per-quality protected URLs when the origin is
		// an ABR master playlist. Parse failures fall back to single quality.
		if strings.Contains(origin, ".m3u8") {
			if master, err := playlist.FetchMaster(r.Context(), nil, origin); err == nil && master.IsMaster {
				variants := map[string]string{}
				for q := range master.Variants {
					u, err := s.codec.ProtectedURL(
						s.cfg.BaseURL+"/api/stream/channel/"+ch.ID+"?quality="+string(q), ref, s.viewerFromRequest(r), ttl)
					if err != nil {
						continue
					}
					variants[string(q)] = u
				}
				if len(variants) > 0 {
					data["variants"] = variants
				}
			}
		}

		okJSON(w, http.StatusOK, data)
	}
}

// handleStream verifies the access token and redirects the player to the
// origin URL. The token must match both the content kind and id it was
// generated for.
func (s *server) handleStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := token.Kind(chi.URLParam(r, "kind"))
		id := chi.URLParam(r, "id")

		tok := r.URL.Query().Get("token")
		if tok == "" {
			failJSON(w, http.StatusUnauthorized, "stream token required")
			return
		}
		payload, err := s.codec.Verify(tok)
		if err != nil {
			failJSON(w, http.StatusUnauthorized, tokenFailureMessage(err))
			return
		}
		if payload.Kind != kind || payload.ContentID != id {
			failJSON(w, http.StatusForbidden, "token not valid for this content")
			return
		}

		origin, err := s.originFor(r, kind, id)
		if err != nil {
			failJSON(w, http.StatusNotFound, "stream unavailable")
			return
		}

		// Per-quality redirect for ABR origins resolved at play time.
		if q := r.URL.Query().Get("quality"); q != "" && strings.Contains(origin, ".m3u8") {
			if master, err := playlist.FetchMaster(r.Context(), nil, origin); err == nil && master.IsMaster {
				if v, ok := master.Variants[playlist.Quality(q)]; ok {
					origin = v.URI
				}
			}
		}

		http.Redirect(w, r, origin, http.StatusFound)
	}
}

func (s *server) originFor(r *http.Request, kind token.Kind, id string) (string, error) {
	ctx := r.Context()
	switch kind {
	case token.KindMovie:
		m, err := s.store.GetMovie(ctx, id)
		if err != nil || !m.IsActive || m.StreamURL == "" {
			return "", errUnavailable(err)
		}
		return m.StreamURL, nil
	case token.KindEpisode:
		e, err := s.store.GetEpisode(ctx, id)
		if err != nil || !e.IsActive || e.StreamURL == "" {
			return "", errUnavailable(err)
		}
		return e.StreamURL, nil
	case token.KindChannel:
		ch, err := s.store.GetChannel(ctx, id)
		if err != nil || !ch.IsActive || !ch.IsWorking {
			return "", errUnavailable(err)
		}
		if ch.StreamURL != "" {
			return ch.StreamURL, nil
		}
		if ch.ExternalChannelID != "" {
			// Each play re-resolves; resolved origins are never cached.
			return s.resolver.Resolve(ctx, ch.ExternalChannelID)
		}
		return "", errUnavailable(nil)
	default:
		return "", errUnavailable(nil)
	}
}

func errUnavailable(err error) error {
	if err != nil {
		return err
	}
	return errors.New("stream unavailable")
}

func tokenFailureMessage(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "token expired"
	case errors.Is(err, token.ErrBadSignature):
		return "invalid signature"
	default:
		return "invalid token format"
	}
}

// viewerFromRequest extracts an optional logged-in user id; playback does
// not require a session, so anonymous requests get unbound tokens.
func (s *server) viewerFromRequest(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	claims, err := s.authSvc.ParseToken(parts[1])
	if err != nil {
		return ""
	}
	return claims.UserID
}
