package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"nexttv/internal/catalog"
	"nexttv/internal/playlist"
)

func (s *server) handleAdminListChannels() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channels, err := s.store.ListAll(r.Context())
		if err != nil {
			failJSON(w, http.StatusInternalServerError, "could not list channels")
			return
		}
		okJSON(w, http.StatusOK, channels)
	}
}

func (s *server) handleAdminCreateChannel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ch catalog.Channel
		if err := json.NewDecoder(r.Body).Decode(&ch); err != nil {
			failJSON(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if ch.Name == "" {
			failJSON(w, http.StatusBadRequest, "name is required")
			return
		}
		if ch.StreamURL == "" && ch.ExternalChannelID == "" {
			failJSON(w, http.StatusBadRequest, "streamUrl or externalChannelId is required")
			return
		}
		if ch.ID == "" {
			ch.ID = uuid.NewString()
		}
		if ch.Category == "" {
			ch.Category = "Uncategorized"
		}

		created, err := s.store.CreateChannel(r.Context(), ch)
		if err != nil {
			s.log.Error().Err(err).Msg("channel create failed")
			failJSON(w, http.StatusInternalServerError, "could not create channel")
			return
		}
		s.channels.Invalidate()
		okJSON(w, http.StatusCreated, created)
	}
}

func (s *server) handleAdminUpdateChannel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		existing, err := s.store.GetChannel(r.Context(), id)
		if errors.Is(err, catalog.ErrNotFound) {
			failJSON(w, http.StatusNotFound, "channel not found")
			return
		}
		if err != nil {
			failJSON(w, http.StatusInternalServerError, "could not fetch channel")
			return
		}

		// Decode over the existing record so omitted fields keep their values.
		ch := existing
		if err := json.NewDecoder(r.Body).Decode(&ch); err != nil {
			failJSON(w, http.StatusBadRequest, "invalid request body")
			return
		}
		ch.ID = id

		if err := s.store.UpdateChannel(r.Context(), ch); err != nil {
			failJSON(w, http.StatusInternalServerError, "could not update channel")
			return
		}
		s.channels.Invalidate()
		okJSON(w, http.StatusOK, ch)
	}
}

func (s *server) handleAdminDeleteChannel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := s.store.DeleteChannel(r.Context(), id)
		if errors.Is(err, catalog.ErrNotFound) {
			failJSON(w, http.StatusNotFound, "channel not found")
			return
		}
		if err != nil {
			failJSON(w, http.StatusInternalServerError, "could not delete channel")
			return
		}
		s.channels.Invalidate()
		okJSON(w, http.StatusOK, map[string]string{"deleted": id})
	}
}

func (s *server) handleAdminGetConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := s.cfgStore.All(r.Context())
		if err != nil {
			failJSON(w, http.StatusInternalServerError, "could not load config")
			return
		}
		// Never echo the relay password back; the dashboard only needs to
		// know whether one is set.
		if _, ok := all["relay_password"]; ok {
			all["relay_password"] = "********"
		}
		okJSON(w, http.StatusOK, all)
	}
}

func (s *server) handleAdminPutConfig() http.HandlerFunc {
	allowed := map[string]bool{
		"relay_enabled":    true,
		"relay_base_url":   true,
		"relay_username":   true,
		"relay_password":   true,
		"stream_token_ttl": true,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var updates map[string]string
		if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
			failJSON(w, http.StatusBadRequest, "invalid request body")
			return
		}
		for key := range updates {
			if !allowed[key] {
				failJSON(w, http.StatusBadRequest, "unknown config key: "+key)
				return
			}
		}
		for key, value := range updates {
			if err := s.cfgStore.Set(r.Context(), key, value); err != nil {
				failJSON(w, http.StatusInternalServerError, "could not save config")
				return
			}
		}
		okJSON(w, http.StatusOK, map[string]int{"updated": len(updates)})
	}
}

// handleAdminRelayTest resolves a probe channel through the relay so
// operators can validate credentials after editing them. The resolved URL is
// reported as reachable/unreachable only; it still embeds credentials.
func (s *server) handleAdminRelayTest() http.HandlerFunc {
	type request struct {
		ExternalChannelID string `json:"externalChannelId"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			failJSON(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.ExternalChannelID == "" {
			failJSON(w, http.StatusBadRequest, "externalChannelId is required")
			return
		}

		resolved, err := s.resolver.Resolve(r.Context(), req.ExternalChannelID)
		if err != nil {
			okJSON(w, http.StatusOK, map[string]interface{}{
				"reachable": false,
				"error":     err.Error(),
			})
			return
		}

		result := map[string]interface{}{"reachable": true}
		if master, err := playlist.FetchMaster(r.Context(), nil, resolved); err == nil && master.IsMaster {
			qualities := make([]string, 0, len(master.Variants))
			for q := range master.Variants {
				qualities = append(qualities, string(q))
			}
			result["qualities"] = qualities
		}
		okJSON(w, http.StatusOK, result)
	}
}
