package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapValidator accepts only the tokens it was seeded with
type mapValidator struct {
	tokens map[string]uuid.UUID
}

func (v *mapValidator) ValidateToken(token string) (UserIDGetter, error) {
	id, ok := v.tokens[token]
	if !ok {
		return nil, fmt.Errorf("invalid token")
	}
	return staticClaims{id}, nil
}

type staticClaims struct{ id uuid.UUID }

func (c staticClaims) GetUserID() uuid.UUID { return c.id }

func protect(v TokenValidator, handler http.Handler) http.Handler {
	return AuthMiddleware(v)(handler)
}

func TestAuthMiddleware_ValidTokenReachesHandlerWithUserID(t *testing.T) {
	userID := uuid.New()
	v := &mapValidator{tokens: map[string]uuid.UUID{"good-token": userID}}

	var gotID uuid.UUID
	handler := protect(v, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := GetUserID(r)
		require.NoError(t, err)
		gotID = id
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID, gotID)
}

func TestAuthMiddleware_SchemeIsCaseInsensitive(t *testing.T) {
	userID := uuid.New()
	v := &mapValidator{tokens: map[string]uuid.UUID{"good-token": userID}}

	handler := protect(v, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.Header.Set("Authorization", "bearer good-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_RejectsBadHeaders(t *testing.T) {
	v := &mapValidator{tokens: map[string]uuid.UUID{"good-token": uuid.New()}}

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"no scheme", "good-token"},
		{"scheme only", "Bearer"},
		{"wrong scheme", "Basic good-token"},
		{"unknown token", "Bearer forged-token"},
		{"extra parts", "Bearer good-token trailing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlerCalled := false
			handler := protect(v, http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
				handlerCalled = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/runs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.False(t, handlerCalled, "handler must not run without valid auth")
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestGetUserID_OutsideMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/runs", nil)

	id, err := GetUserID(req)
	assert.Error(t, err)
	assert.Equal(t, uuid.Nil, id)

	// A value of the wrong type does not satisfy the lookup either
	ctx := context.WithValue(req.Context(), userIDKey, "not-a-uuid")
	id, err = GetUserID(req.WithContext(ctx))
	assert.Error(t, err)
	assert.Equal(t, uuid.Nil, id)
}
