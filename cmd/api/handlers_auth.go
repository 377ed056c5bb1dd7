package main

import (
	"encoding/json"
	"net/http"

	"nexttv/internal/db"
)

func (s *server) handleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			failJSON(w, http.StatusBadRequest, "invalid body")
			return
		}
		user, err := db.Authenticate(r.Context(), s.session, s.cfg.Keyspace, req.Email, req.Password)
		if err != nil {
			failJSON(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		access, refresh, err := s.authSvc.GenerateTokens(user.ID, user.Role)
		if err != nil {
			failJSON(w, http.StatusInternalServerError, "token error")
			return
		}
		okJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  access,
			"refresh_token": refresh,
			"user": map[string]string{
				"id":       user.ID,
				"email":    user.Email,
				"username": user.Username,
				"role":     user.Role,
			},
		})
	}
}

func (s *server) handleRefresh() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			failJSON(w, http.StatusBadRequest, "invalid body")
			return
		}
		access, refresh, err := s.authSvc.Refresh(req.RefreshToken)
		if err != nil {
			failJSON(w, http.StatusUnauthorized, "invalid token")
			return
		}
		okJSON(w, http.StatusOK, map[string]string{
			"access_token":  access,
			"refresh_token": refresh,
		})
	}
}

func (s *server) handleAdminCreateUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Username string `json:"username"`
			Password string `json:"password"`
			Role     string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			failJSON(w, http.StatusBadRequest, "invalid body")
			return
		}
		if req.Email == "" || req.Password == "" {
			failJSON(w, http.StatusBadRequest, "email and password required")
			return
		}
		if req.Role == "" {
			req.Role = "user"
		}
		if err := db.CreateUser(r.Context(), s.session, s.cfg.Keyspace, req.Email, req.Username, req.Password, req.Role); err != nil {
			failJSON(w, http.StatusInternalServerError, "could not create user")
			return
		}
		okJSON(w, http.StatusCreated, map[string]string{"created": req.Email})
	}
}

func (s *server) handleAdminListUsers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := db.ListUsers(r.Context(), s.session, s.cfg.Keyspace)
		if err != nil {
			failJSON(w, http.StatusInternalServerError, "could not list users")
			return
		}
		out := make([]map[string]interface{}, 0, len(users))
		for _, u := range users {
			out = append(out, map[string]interface{}{
				"id":        u.ID,
				"email":     u.Email,
				"username":  u.Username,
				"role":      u.Role,
				"createdAt": u.CreatedAt,
			})
		}
		okJSON(w, http.StatusOK, map[string]interface{}{"users": out})
	}
}
