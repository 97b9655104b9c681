package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"helpdesk-chat-client/internal/config"
	"helpdesk-chat-client/internal/store"
)

// agentAuth is the OAuth2 boundary in front of the dashboard routes. When
// the provider is not configured the boundary is open, which keeps local
// development working without an identity provider.
type agentAuth struct {
	cfg   *oauth2.Config
	store *store.ChatStore
}

func newAgentAuth(cfg config.Config, st *store.ChatStore) *agentAuth {
	a := &agentAuth{store: st}
	if cfg.OAuthClientID != "" && cfg.OAuthClientSecret != "" &&
		cfg.OAuthAuthURL != "" && cfg.OAuthTokenURL != "" {
		a.cfg = &oauth2.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			RedirectURL:  cfg.OAuthRedirectURL,
			Scopes:       cfg.OAuthScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.OAuthAuthURL,
				TokenURL: cfg.OAuthTokenURL,
			},
		}
	}
	return a
}

func (a *agentAuth) configured() bool { return a.cfg != nil }

// GET /api/auth/status
func (a *agentAuth) handleStatus(w http.ResponseWriter, r *http.Request) {
	sid := getSessionID(r)
	resp := map[string]any{"configured": a.configured()}
	if sid != "" {
		if agent := a.store.GetAgent(sid); agent != "" {
			resp["authenticated"] = true
			resp["agent"] = agent
		} else {
			resp["authenticated"] = false
		}
	} else {
		resp["authenticated"] = false
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// GET /api/auth/login
// Starts the OAuth flow and returns the provider URL to redirect to.
func (a *agentAuth) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.configured() {
		writeError(w, http.StatusBadRequest, "agent oauth not configured")
		return
	}
	sid := getOrCreateSessionID(r, w)
	state := uuid.NewString()
	a.store.SetOAuthState(sid, state)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Session-Id", sid)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"url":       a.cfg.AuthCodeURL(state),
		"sessionId": sid,
	})
}

// GET /api/auth/callback?state=...&code=...
func (a *agentAuth) handleCallback(w http.ResponseWriter, r *http.Request) {
	if !a.configured() {
		writeError(w, http.StatusBadRequest, "agent oauth not configured")
		return
	}
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		writeError(w, http.StatusBadRequest, "state and code are required")
		return
	}
	sid := a.store.GetSessionByOAuthState(state)
	if sid == "" {
		writeError(w, http.StatusBadRequest, "unknown or expired oauth state")
		return
	}
	a.store.ClearOAuthState(sid)

	tok, err := a.cfg.Exchange(r.Context(), code)
	if err != nil {
		log.Printf("[auth] token exchange failed for session %s: %v", sid, err)
		writeError(w, http.StatusBadGateway, "token exchange failed")
		return
	}
	agent, _ := tok.Extra("login").(string)
	agent = strings.TrimSpace(agent)
	if agent == "" {
		agent = "agent"
	}
	a.store.SetAgent(sid, agent)
	SetSessionCookie(w, sid)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"authenticated": true, "agent": agent})
}

// requireAgent guards the dashboard routes once a provider is configured.
func (a *agentAuth) requireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.configured() {
			next.ServeHTTP(w, r)
			return
		}
		sid := getSessionID(r)
		if sid == "" || a.store.GetAgent(sid) == "" {
			writeError(w, http.StatusUnauthorized, "agent authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
