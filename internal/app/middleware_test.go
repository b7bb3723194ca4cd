package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avocado-data/avocado/internal/users"
)

type authFunc func(ctx context.Context, username, password string) (*users.User, error)

func (f authFunc) Authenticate(ctx context.Context, username, password string) (*users.User, error) {
	return f(ctx, username, password)
}

func TestViewerMiddlewareSeparatesLookupFailures(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	serve := func(err error) int {
		auth := authFunc(func(context.Context, string, string) (*users.User, error) { return nil, err })
		h := ViewerMiddleware(auth, logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		req := httptest.NewRequest(http.MethodGet, "/api/fields", nil)
		req.SetBasicAuth("user1", "secret")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusUnauthorized, serve(users.ErrInvalidCredentials))
	require.Equal(t, http.StatusInternalServerError, serve(errors.New("connection refused")))
}
