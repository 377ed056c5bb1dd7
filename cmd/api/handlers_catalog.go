package main

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"nexttv/internal/catalog"
)

func (s *server) handleListChannels() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channels, err := s.channels.ListActive(r.Context(), r.URL.Query().Get("category"))
		if err != nil {
			failJSON(w, http.StatusInternalServerError, "could not list channels")
			return
		}
		okJSON(w, http.StatusOK, map[string]interface{}{
			"channels": publicChannels(channels),
			"total":    len(channels),
		})
	}
}

func (s *server) handleCategories() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cats, err := s.store.Categories(r.Context())
		if err != nil {
			failJSON(w, http.StatusInternalServerError, "could not list categories")
			return
		}
		okJSON(w, http.StatusOK, map[string]interface{}{"categories": cats})
	}
}

func (s *server) handleFeaturedChannels() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channels, err := s.store.ListFeatured(r.Context())
		if err != nil {
			failJSON(w, http.StatusInternalServerError, "could not list channels")
			return
		}
		okJSON(w, http.StatusOK, map[string]interface{}{"channels": publicChannels(channels)})
	}
}

func (s *server) handleGetChannel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := s.store.GetChannel(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, catalog.ErrNotFound) {
			failJSON(w, http.StatusNotFound, "channel not found")
			return
		}
		if err != nil {
			failJSON(w, http.StatusInternalServerError, "could not fetch channel")
			return
		}
		okJSON(w, http.StatusOK, publicChannel(ch))
	}
}

// publicChannel strips origin URLs and relay ids: clients get stream access
// only through the tokenized play and stream endpoints.
func publicChannel(ch catalog.Channel) map[string]interface{} {
	return map[string]interface{}{
		"id":       ch.ID,
		"name":     ch.Name,
		"category": ch.Category,
		"logoUrl":  ch.LogoURL,
		"epgId":    ch.EpgID,
		"order":    ch.SortOrder,
	}
}

func publicChannels(channels []catalog.Channel) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(channels))
	for _, ch := range channels {
		out = append(out, publicChannel(ch))
	}
	return out
}
