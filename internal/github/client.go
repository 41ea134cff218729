// Package github is the rate-limited, cached data-access core over the
// GitHub REST API: a client with cache-aside reads, rate-limit back-pressure
// and error classification, plus the pull-request and workflow aggregation
// pipelines built on top of it.
package github

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-github/v39/github"
	"golang.org/x/oauth2"

	"github.com/LX-media/orgdash/internal/cache"
	"github.com/LX-media/orgdash/internal/errlog"
)

// Default tunables, overridable via Options.
const (
	DefaultPageSize        = 50
	DefaultRepoConcurrency = 8
	DefaultPRConcurrency   = 4
	DefaultWarnThreshold   = 100
)

// Remaining-call counts at which cached results are trusted for longer.
const (
	pressureDouble = 50
	pressureTriple = 20
)

// Partitions whose TTLs are stretched under rate-limit pressure.
var pressuredPartitions = []cache.Partition{
	cache.PartitionPullRequest,
	cache.PartitionRepository,
}

// RateLimitWarningFunc is notified when the remaining call budget crosses a
// warning threshold.
type RateLimitWarningFunc func(remaining int, resetAt time.Time)

// MissingScopeFunc is notified at most once per client when a fetch failure
// looks like a missing credential capability. Best-effort: the remote API
// does not expose granted scopes on failure, so this can false-positive on
// genuine not-found conditions.
type MissingScopeFunc func(scope string)

// Options configures a Client.
type Options struct {
	// Cache is the typed cache store. Required.
	Cache *cache.Store

	// Reporter receives every classified failure. Required.
	Reporter *errlog.Reporter

	// PageSize for list endpoints. Defaults to DefaultPageSize.
	PageSize int

	// RepoConcurrency bounds concurrent per-repository fetches.
	RepoConcurrency int

	// PRConcurrency bounds concurrent per-pull-request enrichment.
	PRConcurrency int

	// WarnThreshold is the remaining-call count below which rate-limit
	// warnings are raised. Defaults to DefaultWarnThreshold.
	WarnThreshold int
}

// Client performs authenticated requests against the GitHub API, consulting
// the cache before any network call and inspecting rate-limit telemetry on
// every response.
type Client struct {
	gh       *github.Client
	cache    *cache.Store
	reporter *errlog.Reporter

	pageSize        int
	repoConcurrency int
	prConcurrency   int
	warnThreshold   int

	mu            sync.Mutex
	pressureLevel int
	scopeWarned   bool
	onRateLimit   RateLimitWarningFunc
	onMissing     MissingScopeFunc
}

// NewClient creates a client authenticated with token.
func NewClient(token string, opts Options) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	c := &Client{
		gh:              github.NewClient(tc),
		cache:           opts.Cache,
		reporter:        opts.Reporter,
		pageSize:        opts.PageSize,
		repoConcurrency: opts.RepoConcurrency,
		prConcurrency:   opts.PRConcurrency,
		warnThreshold:   opts.WarnThreshold,
	}
	if c.pageSize <= 0 {
		c.pageSize = DefaultPageSize
	}
	if c.repoConcurrency <= 0 {
		c.repoConcurrency = DefaultRepoConcurrency
	}
	if c.prConcurrency <= 0 {
		c.prConcurrency = DefaultPRConcurrency
	}
	if c.warnThreshold <= 0 {
		c.warnThreshold = DefaultWarnThreshold
	}
	return c
}

// OnRateLimitWarning subscribes to rate-limit warnings.
func (c *Client) OnRateLimitWarning(fn RateLimitWarningFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRateLimit = fn
}

// OnMissingScope subscribes to the one-shot missing-scope advisory.
func (c *Client) OnMissingScope(fn MissingScopeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMissing = fn
}

// observeRate inspects the rate-limit telemetry of a response. Crossing a
// warning threshold emits a RATE_LIMIT warning and stretches the TTLs of the
// busiest partitions: the closer the budget is to exhaustion, the longer
// cached results are trusted. Scaling is against the partitions' base TTLs,
// so repeated low-budget responses do not compound.
func (c *Client) observeRate(resp *github.Response) {
	if resp == nil || resp.Rate.Limit == 0 {
		return
	}
	remaining := resp.Rate.Remaining
	resetAt := resp.Rate.Reset.Time

	level := 0
	switch {
	case remaining < pressureTriple:
		level = 3
	case remaining < pressureDouble:
		level = 2
	case remaining < c.warnThreshold:
		level = 1
	}

	c.mu.Lock()
	prev := c.pressureLevel
	if level == prev {
		c.mu.Unlock()
		return
	}
	c.pressureLevel = level
	onRateLimit := c.onRateLimit
	c.mu.Unlock()

	factor := 1
	switch level {
	case 2:
		factor = 2
	case 3:
		factor = 3
	}
	for _, p := range pressuredPartitions {
		c.cache.ScaleTTL(p, factor)
	}

	if level > prev {
		c.reporter.Record(
			fmt.Sprintf("rate limit budget low: %d calls remaining until %s", remaining, resetAt.Format(time.RFC3339)),
			errlog.Report{
				Category: errlog.CategoryRateLimit,
				Severity: errlog.SeverityWarning,
				Context: map[string]any{
					"remaining": remaining,
					"reset_at":  resetAt,
				},
			})
		if onRateLimit != nil {
			onRateLimit(remaining, resetAt)
		}
	}
}

// classify converts a request failure into a structured, reported error.
// Quota exhaustion becomes RateLimitExceededError; well-formed API errors
// become APIError with the upstream documentation reference; anything else
// is a transport failure.
func (c *Client) classify(op string, err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		exceeded := &RateLimitExceededError{ResetAt: rateErr.Rate.Reset.Time}
		c.reporter.Record(op, errlog.Report{
			Err:      exceeded,
			Category: errlog.CategoryRateLimit,
			Severity: errlog.SeverityError,
			Context:  map[string]any{"reset_at": exceeded.ResetAt},
		})
		return fmt.Errorf("%s: %w", op, exceeded)
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) {
		status := 0
		if respErr.Response != nil {
			status = respErr.Response.StatusCode
		}
		apiErr := &APIError{
			StatusCode:       status,
			Message:          respErr.Message,
			DocumentationURL: respErr.DocumentationURL,
			Category:         categoryForStatus(status),
			cause:            err,
		}
		c.reporter.Record(op, errlog.Report{
			Err:      apiErr,
			Category: apiErr.Category,
			Severity: errlog.SeverityError,
			Context:  map[string]any{"status": status},
		})
		return fmt.Errorf("%s: %w", op, apiErr)
	}

	c.reporter.Record(op, errlog.Report{
		Err:      err,
		Category: errlog.CategoryNetwork,
		Severity: errlog.SeverityError,
	})
	return fmt.Errorf("%s: %w", op, err)
}

// Organization fetches the organization record.
func (c *Client) Organization(ctx context.Context, org string) (Organization, error) {
	key := orgKey(org)
	if v, ok := cache.Value[Organization](c.cache, cache.PartitionOrganization, key); ok {
		return v, nil
	}

	o, resp, err := c.gh.Organizations.Get(ctx, org)
	c.observeRate(resp)
	if err != nil {
		return Organization{}, c.classify(fmt.Sprintf("fetch organization %s", org), err)
	}

	record := Organization{
		Login:       o.GetLogin(),
		Name:        o.GetName(),
		PublicRepos: o.GetPublicRepos(),
		URL:         o.GetHTMLURL(),
	}
	c.cache.Set(cache.PartitionOrganization, key, record)
	return record, nil
}

// UserProfile fetches a user's profile, cached under the USER partition.
func (c *Client) UserProfile(ctx context.Context, login string) (UserProfile, error) {
	key := userKey(login)
	if v, ok := cache.Value[UserProfile](c.cache, cache.PartitionUser, key); ok {
		return v, nil
	}

	u, resp, err := c.gh.Users.Get(ctx, login)
	c.observeRate(resp)
	if err != nil {
		return UserProfile{}, c.classify(fmt.Sprintf("fetch user %s", login), err)
	}

	profile := UserProfile{Login: u.GetLogin(), DisplayName: u.GetName()}
	c.cache.Set(cache.PartitionUser, key, profile)
	return profile, nil
}

// AllRepositories enumerates every repository of an organization, paging
// until the API reports no further page. The full list is cached under the
// REPOSITORY partition.
func (c *Client) AllRepositories(ctx context.Context, org string) ([]Repository, error) {
	key := repoListKey(org)
	if v, ok := cache.Value[[]Repository](c.cache, cache.PartitionRepository, key); ok {
		return v, nil
	}

	opts := &github.RepositoryListByOrgOptions{
		ListOptions: github.ListOptions{PerPage: c.pageSize},
	}
	var all []Repository
	for {
		repos, resp, err := c.gh.Repositories.ListByOrg(ctx, org, opts)
		c.observeRate(resp)
		if err != nil {
			return nil, c.classify(fmt.Sprintf("list repositories for %s", org), err)
		}
		for _, r := range repos {
			all = append(all, Repository{
				Name:       r.GetName(),
				IsArchived: r.GetArchived(),
				PushedAt:   r.GetPushedAt().Time,
				Language:   r.GetLanguage(),
				Topics:     r.Topics,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	c.cache.Set(cache.PartitionRepository, key, all)
	return all, nil
}

// ActiveRepositories returns the organization's non-archived repositories.
func (c *Client) ActiveRepositories(ctx context.Context, org string) ([]Repository, error) {
	repos, err := c.AllRepositories(ctx, org)
	if err != nil {
		return nil, err
	}
	active := make([]Repository, 0, len(repos))
	for _, r := range repos {
		if !r.IsArchived {
			active = append(active, r)
		}
	}
	return active, nil
}

// CacheStats exposes per-partition cache counters for display.
func (c *Client) CacheStats() map[cache.Partition]cache.Stats {
	out := make(map[cache.Partition]cache.Stats)
	for _, p := range cache.Partitions() {
		out[p] = c.cache.Stats(p)
	}
	return out
}

// warnMissingScope raises the one-shot missing-scope advisory.
func (c *Client) warnMissingScope(scope string) {
	c.mu.Lock()
	if c.scopeWarned {
		c.mu.Unlock()
		return
	}
	c.scopeWarned = true
	onMissing := c.onMissing
	c.mu.Unlock()

	c.reporter.Record(
		fmt.Sprintf("token appears to be missing the %s scope", scope),
		errlog.Report{
			Category: errlog.CategoryAuth,
			Severity: errlog.SeverityWarning,
			Context:  map[string]any{"scope": scope},
		})
	if onMissing != nil {
		onMissing(scope)
	}
}
