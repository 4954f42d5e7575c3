// Copyright 2026 The Teamplane Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/teamplane/teamplane/internal/observability/logger"
)

// Tenant context resolution:
// - tenant_id is derived EXCLUSIVELY from validated token claims.
// - X-Tenant-ID headers and tenant fields in request bodies are never a
//   trust input and are rejected on authenticated routes.
// - Every handler behind RequireTenant sees exactly one non-empty tenant
//   id, so no downstream code has authority to choose a different tenant.

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			slog.InfoContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// AuthMiddleware validates the bearer token and stores its claims in the
// request context. A missing header, a malformed header and an invalid or
// expired token are deliberately indistinguishable to the client. The
// middleware does no I/O: claims are self-contained.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			respondError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid or expired token")
			return
		}

		claims, err := h.codec.Validate(raw)
		if err != nil {
			respondError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid or expired token")
			return
		}

		// Tenant header spoofing is rejected outright rather than ignored,
		// so a misbehaving client learns immediately.
		if r.Header.Get("X-Tenant-ID") != "" {
			slog.WarnContext(r.Context(), "tenant header spoofing attempt on authenticated route",
				logger.UserID(claims.UserID),
			)
			respondError(w, http.StatusBadRequest, CodeValidationError,
				"X-Tenant-ID header is not allowed; tenant is derived from the token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireTenant binds the tenant id from validated claims into the request
// context and fails closed when it is absent. Everything behind this
// middleware can rely on GetTenantID returning a single non-empty value.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetClaims(r.Context())
		if claims == nil || claims.TenantID == "" {
			respondError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), tenantIDKey, claims.TenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
