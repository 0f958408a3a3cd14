// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package auth

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/reelfeed/reelfeed/internal/config"
	"github.com/reelfeed/reelfeed/internal/logging"
)

// ViewerIDHeader carries the viewer identity in header auth mode.
const ViewerIDHeader = "X-Viewer-ID"

// Authenticator resolves the viewer identity for each request and stores it
// in the request context.
type Authenticator struct {
	mode string
	jwt  *JWTManager
}

// NewAuthenticator builds the authenticator for the configured mode. In jwt
// mode a JWTManager is required.
func NewAuthenticator(cfg *config.SecurityConfig) (*Authenticator, error) {
	a := &Authenticator{mode: cfg.AuthMode}
	if cfg.AuthMode == "jwt" {
		manager, err := NewJWTManager(cfg)
		if err != nil {
			return nil, err
		}
		a.jwt = manager
	}
	return a, nil
}

// JWTManager returns the token manager, nil in header mode.
func (a *Authenticator) JWTManager() *JWTManager {
	return a.jwt
}

// Middleware authenticates the request and injects the viewer ID into the
// context. Requests without a resolvable identity get 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		viewerID, err := a.resolve(r)
		if err != nil {
			logging.Ctx(r.Context()).Debug().Err(err).Msg("Request rejected by authentication")
			writeUnauthorized(w, err.Error())
			return
		}
		ctx := logging.ContextWithViewerID(r.Context(), viewerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) resolve(r *http.Request) (string, error) {
	if a.mode == "header" {
		viewerID := r.Header.Get(ViewerIDHeader)
		if viewerID == "" {
			return "", errMissingViewerHeader
		}
		if !validViewerID(viewerID) {
			return "", errInvalidViewerID
		}
		return viewerID, nil
	}

	token, err := bearerToken(r)
	if err != nil {
		return "", err
	}
	claims, err := a.jwt.ValidateToken(token)
	if err != nil {
		return "", err
	}
	if !validViewerID(claims.ViewerID) {
		return "", errInvalidViewerID
	}
	return claims.ViewerID, nil
}

// maxViewerIDLength bounds viewer IDs; UUIDs are 36 characters.
const maxViewerIDLength = 128

// validViewerID restricts viewer IDs to [A-Za-z0-9_-]. IDs become segments
// of composite store keys, so the key separator ':' in particular must never
// appear in one.
func validViewerID(id string) bool {
	if id == "" || len(id) > maxViewerIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

var errMissingViewerHeader = &authError{"missing " + ViewerIDHeader + " header"}
var errInvalidViewerID = &authError{"invalid viewer ID"}
var errMissingBearer = &authError{"missing bearer token"}

type authError struct{ msg string }

func (e *authError) Error() string { return e.msg }

// bearerToken extracts the token from the Authorization header, or from the
// access_token query parameter for websocket upgrades, where browsers
// cannot set headers.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer "), nil
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, nil
	}
	return "", errMissingBearer
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error": map[string]string{
			"code":    "UNAUTHORIZED",
			"message": message,
		},
	})
}
