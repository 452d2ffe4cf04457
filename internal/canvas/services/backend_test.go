package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPBackendDecodesWellFormedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/translate", r.URL.Path)
		w.Write([]byte(`{"translated": "hola"}`))
	}))
	defer srv.Close()

	b := &HTTPBackend{BaseURL: srv.URL}
	out, err := b.Translate(context.Background(), "hello", "es", "en")
	require.NoError(t, err)
	assert.Equal(t, "hola", out)
}

func TestHTTPBackendRepairsSloppyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// trailing comma and single quotes, the kind of JSON an LLM-backed
		// service actually emits
		w.Write([]byte(`{'translated': 'bonjour',}`))
	}))
	defer srv.Close()

	b := &HTTPBackend{BaseURL: srv.URL}
	out, err := b.Translate(context.Background(), "hello", "fr", "en")
	require.NoError(t, err)
	assert.Equal(t, "bonjour", out)
}

func TestHTTPBackendRejectsUnrepairableResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>502 Bad Gateway</html>`))
	}))
	defer srv.Close()

	b := &HTTPBackend{BaseURL: srv.URL}
	_, err := b.Translate(context.Background(), "hello", "fr", "en")
	assert.Error(t, err)
}

func TestHTTPBackendErrorsOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := &HTTPBackend{BaseURL: srv.URL}
	_, err := b.Translate(context.Background(), "hello", "fr", "en")
	assert.Error(t, err)
}
