package fetcher_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/A2AReg/a2a-registry/internal/fetcher"
)

func TestFetchOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"agent"}`))
	}))
	defer srv.Close()

	f := fetcher.New()
	res, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"agent"}`, string(res.Body))
	assert.Equal(t, "application/json", res.ContentType)
}

func TestFetchNon2xxIsFetchFailedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := fetcher.New()
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	var fe *fetcher.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "status", fe.Reason)
	assert.Equal(t, http.StatusNotFound, fe.Status)
}

func TestFetchOversizeBodyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", fetcher.MaxResponseBytes+1)))
	}))
	defer srv.Close()

	f := fetcher.New()
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	var fe *fetcher.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "size", fe.Reason)
}

func TestFetchTooManyRedirectsFails(t *testing.T) {
	mux := http.NewServeMux()
	for i := 0; i < 5; i++ {
		i := i
		mux.HandleFunc("/"+strconv.Itoa(i), func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/"+strconv.Itoa(i+1), http.StatusFound)
		})
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := fetcher.New()
	_, err := f.Fetch(context.Background(), srv.URL+"/0")
	require.Error(t, err)
	var fe *fetcher.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "redirects", fe.Reason)
}

func TestFetchRejectsNonHTTPScheme(t *testing.T) {
	f := fetcher.New()
	_, err := f.Fetch(context.Background(), "ftp://example.com/card.json")
	require.Error(t, err)
	var fe *fetcher.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "invalid url", fe.Reason)
}
