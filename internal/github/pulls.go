package github

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/go-github/v39/github"
	"golang.org/x/sync/errgroup"

	"github.com/LX-media/orgdash/internal/cache"
	"github.com/LX-media/orgdash/internal/errlog"
)

// OpenPullRequests enumerates the organization's non-archived repositories
// and joins each open pull request with its review history and its author's
// profile. A pull request whose enrichment fails is dropped rather than
// aborting the batch; only a failure to resolve the repository list itself
// propagates. The assembled list is cached as a whole.
func (c *Client) OpenPullRequests(ctx context.Context, org string) ([]PullRequest, error) {
	key := openPRListKey(org)
	if v, ok := cache.Value[[]PullRequest](c.cache, cache.PartitionPullRequest, key); ok {
		return v, nil
	}

	repos, err := c.ActiveRepositories(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("enumerate repositories for %s: %w", org, err)
	}

	perRepo := collectChunks(ctx, repos, c.repoConcurrency, func(ctx context.Context, repo Repository) ([]PullRequest, error) {
		prs, err := c.openPullRequestsForRepo(ctx, org, repo.Name)
		if err != nil {
			// Already reported by classify; the repo contributes nothing.
			return nil, err
		}
		return prs, nil
	})

	var all []PullRequest
	for _, prs := range perRepo {
		all = append(all, prs...)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})

	c.cache.Set(cache.PartitionPullRequest, key, all)
	return all, nil
}

// openPullRequestsForRepo lists a repository's open pull requests and
// enriches each one, bounded by the pull-request concurrency width.
func (c *Client) openPullRequestsForRepo(ctx context.Context, org, repo string) ([]PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: c.pageSize},
	}
	var open []*github.PullRequest
	for {
		prs, resp, err := c.gh.PullRequests.List(ctx, org, repo, opts)
		c.observeRate(resp)
		if err != nil {
			return nil, c.classify(fmt.Sprintf("list open pull requests for %s/%s", org, repo), err)
		}
		open = append(open, prs...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return collectChunks(ctx, open, c.prConcurrency, func(ctx context.Context, pr *github.PullRequest) (PullRequest, error) {
		enriched, err := c.enrichPullRequest(ctx, org, repo, pr)
		if err != nil {
			c.reporter.Record(
				fmt.Sprintf("dropping pull request %s/%s#%d", org, repo, pr.GetNumber()),
				errlog.Report{
					Err:      err,
					Category: errlog.CategoryAPI,
					Severity: errlog.SeverityWarning,
				})
			return PullRequest{}, err
		}
		return enriched, nil
	}), nil
}

// enrichPullRequest fetches a pull request's reviews and its author's
// profile in parallel, then derives the review state.
func (c *Client) enrichPullRequest(ctx context.Context, org, repo string, pr *github.PullRequest) (PullRequest, error) {
	var (
		reviews []ReviewSummary
		author  UserProfile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		reviews, err = c.pullRequestReviews(gctx, org, repo, pr.GetNumber())
		return err
	})
	g.Go(func() error {
		var err error
		author, err = c.UserProfile(gctx, pr.GetUser().GetLogin())
		return err
	})
	if err := g.Wait(); err != nil {
		return PullRequest{}, err
	}

	labels := make([]Label, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, Label{Name: l.GetName(), Color: l.GetColor()})
	}

	return PullRequest{
		Number:      pr.GetNumber(),
		Title:       pr.GetTitle(),
		URL:         pr.GetHTMLURL(),
		CreatedAt:   pr.GetCreatedAt(),
		UpdatedAt:   pr.GetUpdatedAt(),
		RepoName:    repo,
		Author:      author,
		Labels:      labels,
		ReviewState: DeriveReviewState(reviews),
		IsDraft:     pr.GetDraft(),
		Reviews:     reviews,
	}, nil
}

// pullRequestReviews fetches a pull request's full review history.
func (c *Client) pullRequestReviews(ctx context.Context, org, repo string, number int) ([]ReviewSummary, error) {
	raw, resp, err := c.gh.PullRequests.ListReviews(ctx, org, repo, number, nil)
	c.observeRate(resp)
	if err != nil {
		return nil, c.classify(fmt.Sprintf("list reviews for %s/%s#%d", org, repo, number), err)
	}
	reviews := make([]ReviewSummary, 0, len(raw))
	for _, r := range raw {
		reviews = append(reviews, ReviewSummary{
			State:       r.GetState(),
			Reviewer:    r.GetUser().GetLogin(),
			SubmittedAt: r.GetSubmittedAt(),
		})
	}
	return reviews, nil
}

// DeriveReviewState reduces a review history to a single state. Only each
// reviewer's most recently submitted review counts; an earlier approval is
// superseded by a later change request and vice versa. Ties on submission
// time keep the review seen first. CHANGES_REQUESTED dominates APPROVED,
// which dominates PENDING; zero reviews is PENDING.
func DeriveReviewState(reviews []ReviewSummary) ReviewState {
	latest := make(map[string]ReviewSummary)
	for _, r := range reviews {
		current, ok := latest[r.Reviewer]
		if !ok || r.SubmittedAt.After(current.SubmittedAt) {
			latest[r.Reviewer] = r
		}
	}

	state := ReviewPending
	for _, r := range latest {
		switch r.State {
		case string(ReviewChangesRequested):
			return ReviewChangesRequested
		case string(ReviewApproved):
			state = ReviewApproved
		}
	}
	return state
}
