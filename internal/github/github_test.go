package github

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/LX-media/orgdash/internal/cache"
	"github.com/LX-media/orgdash/internal/errlog"
)

// newTestClient creates a client pointed at a mock server, with a quiet
// reporter and a fresh cache store.
func newTestClient(t *testing.T, mux *http.ServeMux) (*Client, *cache.Store, *errlog.Reporter) {
	t.Helper()

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	reporter := errlog.New(50, log.New(io.Discard, "", 0))
	cacheStore := cache.New(cache.Options{Reporter: reporter, SweepInterval: -1})
	t.Cleanup(cacheStore.Close)

	client := NewClient("test-token", Options{
		Cache:    cacheStore,
		Reporter: reporter,
	})
	baseURL, err := url.Parse(server.URL + "/")
	if err != nil {
		t.Fatalf("Failed to parse server URL: %v", err)
	}
	client.gh.BaseURL = baseURL

	return client, cacheStore, reporter
}

// setRateHeaders attaches rate-limit telemetry to a mock response.
func setRateHeaders(w http.ResponseWriter, remaining int, reset time.Time) {
	w.Header().Set("X-RateLimit-Limit", "5000")
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
}

// findEntry returns the first reported entry matching category and severity.
func findEntry(entries []errlog.Entry, category errlog.Category, severity errlog.Severity) *errlog.Entry {
	for i := range entries {
		if entries[i].Category == category && entries[i].Severity == severity {
			return &entries[i]
		}
	}
	return nil
}
