package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"nexttv/internal/activation"
)

func (s *server) handleActivationVerify() http.HandlerFunc {
	type request struct {
		Code       string `json:"code"`
		DeviceID   string `json:"deviceId"`
		DeviceName string `json:"deviceName"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			failJSON(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Code == "" || req.DeviceID == "" {
			failJSON(w, http.StatusBadRequest, "code and deviceId are required")
			return
		}

		res, err := s.registry.Verify(r.Context(), req.Code, req.DeviceID, req.DeviceName)
		switch {
		case errors.Is(err, activation.ErrNotFound):
			failJSON(w, http.StatusNotFound, "invalid activation code")
			return
		case errors.Is(err, activation.ErrDeactivated):
			failJSON(w, http.StatusForbidden, "activation code has been deactivated")
			return
		case errors.Is(err, activation.ErrExpired):
			failJSON(w, http.StatusBadRequest, "activation code has expired")
			return
		case errors.Is(err, activation.ErrDeviceLimitReached):
			failJSON(w, http.StatusBadRequest, "device limit reached for this code")
			return
		case err != nil:
			s.log.Error().Err(err).Msg("activation verify failed")
			failJSON(w, http.StatusInternalServerError, "could not verify activation code")
			return
		}

		okJSON(w, http.StatusOK, map[string]interface{}{
			"activated":        true,
			"alreadyActivated": res.AlreadyActivated,
			"activatedAt":      res.ActivatedAt,
			"expiresAt":        res.ExpiresAt,
			"playlistUrl":      s.cfg.BaseURL + "/api/playlist.m3u",
		})
	}
}

func (s *server) handleActivationStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID := chi.URLParam(r, "deviceId")
		st, err := s.registry.Status(r.Context(), deviceID)
		if err != nil {
			s.log.Error().Err(err).Msg("activation status lookup failed")
			failJSON(w, http.StatusInternalServerError, "could not check activation status")
			return
		}
		okJSON(w, http.StatusOK, map[string]interface{}{
			"activated": st.Activated,
			"expired":   st.Expired,
			"expiresAt": st.ExpiresAt,
		})
	}
}

func (s *server) handleAdminListCodes() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		codes, err := s.registry.List(r.Context())
		if err != nil {
			failJSON(w, http.StatusInternalServerError, "could not list activation codes")
			return
		}

		now := time.Now()
		active, totalDevices := 0, 0
		for _, c := range codes {
			if c.IsActive && (c.ExpiresAt == nil || now.Before(*c.ExpiresAt)) {
				active++
			}
			totalDevices += len(c.Devices)
		}

		okJSON(w, http.StatusOK, map[string]interface{}{
			"codes": codes,
			"stats": map[string]int{
				"total":            len(codes),
				"active":           active,
				"activatedDevices": totalDevices,
			},
		})
	}
}

func (s *server) handleAdminCreateCode() http.HandlerFunc {
	type request struct {
		Code       string     `json:"code"`
		MaxDevices int        `json:"maxDevices"`
		ExpiresAt  *time.Time `json:"expiresAt"`
		Notes      string     `json:"notes"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			failJSON(w, http.StatusBadRequest, "invalid request body")
			return
		}

		code, err := s.registry.Create(r.Context(), req.Code, req.MaxDevices, req.ExpiresAt, req.Notes)
		if errors.Is(err, activation.ErrCodeCollision) {
			failJSON(w, http.StatusConflict, "activation code already exists")
			return
		}
		if err != nil {
			s.log.Error().Err(err).Msg("activation code create failed")
			failJSON(w, http.StatusInternalServerError, "could not create activation code")
			return
		}
		okJSON(w, http.StatusCreated, code)
	}
}

func (s *server) handleAdminUpdateCode() http.HandlerFunc {
	type request struct {
		IsActive    *bool      `json:"isActive"`
		MaxDevices  *int       `json:"maxDevices"`
		ExpiresAt   *time.Time `json:"expiresAt"`
		ClearExpiry bool       `json:"clearExpiry"`
		Notes       *string    `json:"notes"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			failJSON(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.MaxDevices != nil && *req.MaxDevices <= 0 {
			failJSON(w, http.StatusBadRequest, "maxDevices must be positive")
			return
		}

		code, err := s.registry.Update(r.Context(), chi.URLParam(r, "code"), activation.Update{
			IsActive:    req.IsActive,
			MaxDevices:  req.MaxDevices,
			ExpiresAt:   req.ExpiresAt,
			ClearExpiry: req.ClearExpiry,
			Notes:       req.Notes,
		})
		if errors.Is(err, activation.ErrNotFound) {
			failJSON(w, http.StatusNotFound, "activation code not found")
			return
		}
		if err != nil {
			failJSON(w, http.StatusInternalServerError, "could not update activation code")
			return
		}
		okJSON(w, http.StatusOK, code)
	}
}

func (s *server) handleAdminDeleteCode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := s.registry.Delete(r.Context(), chi.URLParam(r, "code"))
		if errors.Is(err, activation.ErrNotFound) {
			failJSON(w, http.StatusNotFound, "activation code not found")
			return
		}
		if err != nil {
			failJSON(w, http.StatusInternalServerError, "could not delete activation code")
			return
		}
		okJSON(w, http.StatusOK, map[string]string{"deleted": chi.URLParam(r, "code")})
	}
}
