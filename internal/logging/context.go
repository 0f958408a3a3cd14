// Reelfeed - Social Feed Ranking and Synchronization Cache
// Copyright 2026 Reelfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelfeed/reelfeed

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	viewerIDKey  contextKey = "viewer_id"
)

// GenerateRequestID creates a new unique request ID.
func GenerateRequestID() string {
	return uuid.New().String()
}

// ContextWithRequestID returns a new context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithViewerID returns a new context carrying the authenticated viewer ID.
func ContextWithViewerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, viewerIDKey, id)
}

// ViewerIDFromContext retrieves the viewer ID from context.
// Returns empty string if not present.
func ViewerIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(viewerIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns a logger with request_id and viewer_id fields populated from
// the context when present. This is the recommended way to log in handlers.
//
//	logging.Ctx(ctx).Info().Msg("serving feed page")
func Ctx(ctx context.Context) *zerolog.Logger {
	contextLogger := Logger()

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		contextLogger = contextLogger.With().Str("request_id", requestID).Logger()
	}
	if viewerID := ViewerIDFromContext(ctx); viewerID != "" {
		contextLogger = contextLogger.With().Str("viewer_id", viewerID).Logger()
	}

	return &contextLogger
}
