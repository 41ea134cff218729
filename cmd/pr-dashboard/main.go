package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/LX-media/orgdash/internal/cache"
	"github.com/LX-media/orgdash/internal/config"
	"github.com/LX-media/orgdash/internal/errlog"
	"github.com/LX-media/orgdash/internal/github"
	"github.com/LX-media/orgdash/internal/store"
)

func main() {
	orgFlag := flag.String("org", "", "GitHub organization (defaults to ORGDASH_ORG)")
	showStats := flag.Bool("cache-stats", false, "Print cache hit/miss statistics after the run")
	flag.Parse()

	cfg, err := config.Load(config.LoaderOptions{})
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	org := *orgFlag
	if org == "" {
		org = cfg.Org
	}
	if org == "" {
		fmt.Println("Usage: pr-dashboard -org <organization>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if cfg.Token == "" {
		log.Fatal("No token configured. Set ORGDASH_TOKEN or GITHUB_TOKEN")
	}

	kv, err := newKV(cfg)
	if err != nil {
		log.Fatalf("Error creating durable store: %v", err)
	}

	reporter := errlog.New(errlog.DefaultCapacity, nil)
	cacheStore := cache.New(cache.Options{
		Limits:   cfg.CacheLimits(),
		Reporter: reporter,
		Persist:  &cache.PersistOptions{KV: kv},
	})
	defer cacheStore.Close()

	client := github.NewClient(cfg.Token, github.Options{
		Cache:           cacheStore,
		Reporter:        reporter,
		PageSize:        cfg.PageSize,
		RepoConcurrency: cfg.RepoConcurrency,
		PRConcurrency:   cfg.PRConcurrency,
		WarnThreshold:   cfg.RateLimitWarnThreshold,
	})
	client.OnRateLimitWarning(func(remaining int, resetAt time.Time) {
		fmt.Printf("Warning: %d API calls remaining, budget resets at %s\n", remaining, resetAt.Format(time.Kitchen))
	})

	ctx := context.Background()
	fmt.Printf("Fetching open pull requests for %s...\n", org)
	prs, err := client.OpenPullRequests(ctx, org)
	if err != nil {
		log.Fatalf("Error fetching pull requests: %v", err)
	}

	printPullRequests(prs)

	if *showStats {
		printCacheStats(client)
	}
}

func newKV(cfg config.Config) (store.KV, error) {
	if cfg.CacheDir != "" {
		return store.NewFileStoreWithDir(cfg.CacheDir)
	}
	return store.NewFileStore("orgdash")
}

// printPullRequests outputs the pull requests grouped by review state
func printPullRequests(prs []github.PullRequest) {
	if len(prs) == 0 {
		fmt.Println("No open pull requests found")
		return
	}

	fmt.Printf("Found %d open pull requests\n", len(prs))
	for _, state := range []github.ReviewState{github.ReviewChangesRequested, github.ReviewPending, github.ReviewApproved} {
		printed := false
		for _, pr := range prs {
			if pr.ReviewState != state {
				continue
			}
			if !printed {
				fmt.Printf("\n%s:\n", state)
				printed = true
			}
			draft := ""
			if pr.IsDraft {
				draft = " (draft)"
			}
			author := pr.Author.DisplayName
			if author == "" {
				author = pr.Author.Login
			}
			fmt.Printf("  %s#%d: %s%s\n", pr.RepoName, pr.Number, pr.Title, draft)
			fmt.Printf("    by %s, updated %s, %d reviews\n", author, pr.UpdatedAt.Format("2006-01-02 15:04"), len(pr.Reviews))
		}
	}
}

func printCacheStats(client *github.Client) {
	fmt.Println("\nCache statistics:")
	for partition, stats := range client.CacheStats() {
		fmt.Printf("  %-14s %d entries, %d hits, %d misses\n", partition, stats.Entries, stats.Hits, stats.Misses)
	}
}
