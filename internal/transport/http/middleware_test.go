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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamplane/teamplane/internal/token"
)

func newTestCodec(t *testing.T) *token.Codec {
	t.Helper()
	codec, err := token.NewCodec([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)
	return codec
}

func issueTestToken(t *testing.T, codec *token.Codec) string {
	t.Helper()
	signed, err := codec.Issue(token.Claims{
		UserID:       "user-1",
		TenantID:     "tenant-1",
		Email:        "a@acme.test",
		Role:         "admin",
		TokenVersion: 1,
	})
	require.NoError(t, err)
	return signed
}

// protectedProbe builds AuthMiddleware + RequireTenant around a handler that
// echoes what the context resolved.
func protectedProbe(codec *token.Codec, inner http.HandlerFunc) http.Handler {
	h := &Handler{codec: codec}
	return h.AuthMiddleware(RequireTenant(inner))
}

// TestPurpose: Validates that requests without a usable bearer token are rejected uniformly.
// Scope: Unit Test
// Security: Missing, malformed and invalid credentials must be indistinguishable.
// Expected: 401 with the same message for every failure shape.
// Test Case ID: MW-01
func TestAuthMiddleware_RejectsBadCredentials(t *testing.T) {
	codec := newTestCodec(t)
	signed := issueTestToken(t, codec)
	flipped := byte('A')
	if signed[len(signed)-1] == flipped {
		flipped = 'B'
	}
	tampered := signed[:len(signed)-1] + string(flipped)

	handler := protectedProbe(codec, func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without valid credentials")
	})

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"bare token", signed},
		{"empty bearer", "Bearer "},
		{"garbage token", "Bearer not-a-token"},
		{"tampered signature", "Bearer " + tampered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, CodeUnauthorized, env.Error.Code)
			assert.Equal(t, "invalid or expired token", env.Error.Message)
		})
	}
}

// TestPurpose: Validates that a valid token flows claims and the bound tenant into the request context.
// Scope: Unit Test
// Test Case ID: MW-02
func TestAuthMiddleware_BindsClaimsAndTenant(t *testing.T) {
	codec := newTestCodec(t)

	var gotUserID, gotTenantID string
	handler := protectedProbe(codec, func(w http.ResponseWriter, r *http.Request) {
		gotUserID = GetUserID(r.Context())
		gotTenantID = GetTenantID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+issueTestToken(t, codec))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", gotUserID)
	assert.Equal(t, "tenant-1", gotTenantID)
}

// TestPurpose: Validates that a client-supplied tenant header is rejected on authenticated routes.
// Scope: Unit Test
// Security: Tenant context comes only from validated claims, never from headers.
// Test Case ID: MW-03
func TestAuthMiddleware_RejectsTenantHeader(t *testing.T) {
	codec := newTestCodec(t)

	handler := protectedProbe(codec, func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run when the tenant header is spoofed")
	})

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+issueTestToken(t, codec))
	req.Header.Set("X-Tenant-ID", "tenant-other")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeValidationError, env.Error.Code)
}

// TestPurpose: Validates RequireTenant fails closed on claims without a tenant.
// Scope: Unit Test
// Test Case ID: MW-04
func TestRequireTenant_FailsClosed(t *testing.T) {
	codec := newTestCodec(t)
	h := &Handler{codec: codec}

	signed, err := codec.Issue(token.Claims{UserID: "user-1", TokenVersion: 1}) // no tenant id
	require.NoError(t, err)

	handler := h.AuthMiddleware(RequireTenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a bound tenant")
	})))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
