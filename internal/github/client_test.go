package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LX-media/orgdash/internal/cache"
	"github.com/LX-media/orgdash/internal/errlog"
)

func TestUserProfileCacheAside(t *testing.T) {
	var requests int32
	mux := http.NewServeMux()
	mux.HandleFunc("/users/alice", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"login":"alice","name":"Alice Adams"}`)
	})

	client, _, _ := newTestClient(t, mux)
	ctx := context.Background()

	first, err := client.UserProfile(ctx, "alice")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if first.DisplayName != "Alice Adams" {
		t.Errorf("Expected display name 'Alice Adams', got %q", first.DisplayName)
	}

	second, err := client.UserProfile(ctx, "alice")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if second != first {
		t.Errorf("Expected cached profile %+v, got %+v", first, second)
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("Expected exactly 1 network request, got %d", n)
	}
}

func TestRateLimitBackPressure(t *testing.T) {
	reset := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	mux := http.NewServeMux()
	mux.HandleFunc("/users/bob", func(w http.ResponseWriter, r *http.Request) {
		setRateHeaders(w, 15, reset)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"login":"bob"}`)
	})

	client, cacheStore, reporter := newTestClient(t, mux)

	basePR := cacheStore.DefaultTTL(cache.PartitionPullRequest)
	baseRepo := cacheStore.DefaultTTL(cache.PartitionRepository)

	var warnedRemaining int
	var warnedReset time.Time
	client.OnRateLimitWarning(func(remaining int, resetAt time.Time) {
		warnedRemaining = remaining
		warnedReset = resetAt
	})

	if _, err := client.UserProfile(context.Background(), "bob"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if got := cacheStore.DefaultTTL(cache.PartitionPullRequest); got != 3*basePR {
		t.Errorf("Expected pull-request TTL %v after 3x back-pressure, got %v", 3*basePR, got)
	}
	if got := cacheStore.DefaultTTL(cache.PartitionRepository); got != 3*baseRepo {
		t.Errorf("Expected repository TTL %v after 3x back-pressure, got %v", 3*baseRepo, got)
	}
	if warnedRemaining != 15 {
		t.Errorf("Expected warning callback with remaining 15, got %d", warnedRemaining)
	}
	if warnedReset.Unix() != reset.Unix() {
		t.Errorf("Expected warning reset time %v, got %v", reset, warnedReset)
	}

	entry := findEntry(reporter.Entries(), errlog.CategoryRateLimit, errlog.SeverityWarning)
	if entry == nil {
		t.Fatal("Expected a RATE_LIMIT/WARNING report")
	}
	if entry.Context["remaining"] != 15 {
		t.Errorf("Expected remaining 15 in report context, got %v", entry.Context["remaining"])
	}
}

func TestRateLimitPressureReleasedAfterReset(t *testing.T) {
	reset := time.Now().Add(time.Hour)
	var remaining int32 = 15
	mux := http.NewServeMux()
	mux.HandleFunc("/users/bob", func(w http.ResponseWriter, r *http.Request) {
		setRateHeaders(w, int(atomic.LoadInt32(&remaining)), reset)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"login":"bob"}`)
	})

	client, cacheStore, _ := newTestClient(t, mux)
	base := cacheStore.DefaultTTL(cache.PartitionPullRequest)
	ctx := context.Background()

	if _, err := client.UserProfile(ctx, "bob"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got := cacheStore.DefaultTTL(cache.PartitionPullRequest); got != 3*base {
		t.Fatalf("Expected TTL %v under pressure, got %v", 3*base, got)
	}

	// The window rolled over: the budget is healthy again.
	atomic.StoreInt32(&remaining, 4800)
	cacheStore.Remove(cache.PartitionUser, userKey("bob"))
	if _, err := client.UserProfile(ctx, "bob"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got := cacheStore.DefaultTTL(cache.PartitionPullRequest); got != base {
		t.Errorf("Expected TTL restored to %v, got %v", base, got)
	}
}

func TestRateLimitExhaustedSurfacesResetTime(t *testing.T) {
	reset := time.Now().Add(42 * time.Minute).Truncate(time.Second)
	mux := http.NewServeMux()
	mux.HandleFunc("/users/carol", func(w http.ResponseWriter, r *http.Request) {
		setRateHeaders(w, 0, reset)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"API rate limit exceeded"}`)
	})

	client, _, reporter := newTestClient(t, mux)

	_, err := client.UserProfile(context.Background(), "carol")
	if err == nil {
		t.Fatal("Expected an error, got none")
	}

	var exceeded *RateLimitExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("Expected RateLimitExceededError, got %v", err)
	}
	if exceeded.ResetAt.Unix() != reset.Unix() {
		t.Errorf("Expected reset time %v, got %v", reset, exceeded.ResetAt)
	}
	if findEntry(reporter.Entries(), errlog.CategoryRateLimit, errlog.SeverityError) == nil {
		t.Error("Expected a RATE_LIMIT/ERROR report")
	}
}

func TestNotFoundClassifiedAsAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/ghost", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found","documentation_url":"https://docs.github.com/rest/users"}`)
	})

	client, _, reporter := newTestClient(t, mux)

	_, err := client.UserProfile(context.Background(), "ghost")
	if err == nil {
		t.Fatal("Expected an error, got none")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.Category != errlog.CategoryAPI {
		t.Errorf("Expected API category for 404, got %s", apiErr.Category)
	}
	if apiErr.DocumentationURL != "https://docs.github.com/rest/users" {
		t.Errorf("Expected documentation URL to be carried, got %q", apiErr.DocumentationURL)
	}
	if findEntry(reporter.Entries(), errlog.CategoryAPI, errlog.SeverityError) == nil {
		t.Error("Expected an API/ERROR report")
	}
}

func TestForbiddenClassifiedAsAuth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/orgs/secret", func(w http.ResponseWriter, r *http.Request) {
		setRateHeaders(w, 4000, time.Now().Add(time.Hour))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"Must have admin rights"}`)
	})

	client, _, _ := newTestClient(t, mux)

	_, err := client.Organization(context.Background(), "secret")
	if err == nil {
		t.Fatal("Expected an error, got none")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.Category != errlog.CategoryAuth {
		t.Errorf("Expected AUTH category for 403, got %s", apiErr.Category)
	}
}

func TestAllRepositoriesPaginatesAndCaches(t *testing.T) {
	var requests int32
	mux := http.NewServeMux()
	mux.HandleFunc("/orgs/acme/repos", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"name":"legacy","archived":true,"pushed_at":"2022-01-01T00:00:00Z"}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<http://%s/orgs/acme/repos?page=2>; rel="next"`, r.Host))
		fmt.Fprint(w, `[{"name":"web","language":"Go","topics":["frontend"],"pushed_at":"2024-03-01T00:00:00Z"},{"name":"api","language":"Go","pushed_at":"2024-04-01T00:00:00Z"}]`)
	})

	client, _, _ := newTestClient(t, mux)
	ctx := context.Background()

	all, err := client.AllRepositories(ctx, "acme")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 repositories across pages, got %d", len(all))
	}
	if !all[2].IsArchived {
		t.Error("Expected the repository from page 2 to be archived")
	}

	active, err := client.ActiveRepositories(ctx, "acme")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(active) != 2 {
		t.Errorf("Expected 2 active repositories, got %d", len(active))
	}

	if n := atomic.LoadInt32(&requests); n != 2 {
		t.Errorf("Expected 2 network requests (one per page, then cache), got %d", n)
	}
}

func TestOrganizationFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/orgs/acme", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"login":"acme","name":"Acme Corp","public_repos":12,"html_url":"https://github.com/acme"}`)
	})

	client, _, _ := newTestClient(t, mux)

	org, err := client.Organization(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if org.Name != "Acme Corp" || org.PublicRepos != 12 {
		t.Errorf("Unexpected organization record: %+v", org)
	}
}
