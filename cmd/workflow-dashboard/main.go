package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/LX-media/orgdash/internal/cache"
	"github.com/LX-media/orgdash/internal/config"
	"github.com/LX-media/orgdash/internal/errlog"
	"github.com/LX-media/orgdash/internal/github"
	"github.com/LX-media/orgdash/internal/store"
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fmt.Println("Usage: workflow-dashboard owner/repo")
		flag.PrintDefaults()
		os.Exit(1)
	}
	parts := strings.Split(args[0], "/")
	if len(parts) != 2 {
		log.Fatal("Invalid repository format. Use 'owner/repo'")
	}
	org := parts[0]
	repo := parts[1]

	cfg, err := config.Load(config.LoaderOptions{})
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
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
	client.OnMissingScope(func(scope string) {
		fmt.Printf("Warning: the configured token appears to be missing the %s scope; annotations are unavailable\n", scope)
	})

	ctx := context.Background()
	fmt.Printf("Fetching workflows for %s/%s...\n", org, repo)
	workflows, err := client.RepositoryWorkflows(ctx, org, repo)
	if err != nil {
		log.Fatalf("Error fetching workflows: %v", err)
	}

	printWorkflows(workflows)
}

func newKV(cfg config.Config) (store.KV, error) {
	if cfg.CacheDir != "" {
		return store.NewFileStoreWithDir(cfg.CacheDir)
	}
	return store.NewFileStore("orgdash")
}

// printWorkflows outputs each workflow's latest run with failure detail
func printWorkflows(workflows []github.WorkflowSummary) {
	if len(workflows) == 0 {
		fmt.Println("No workflows with runs found")
		return
	}

	for _, wf := range workflows {
		state := "enabled"
		if !wf.IsEnabled {
			state = "disabled"
		}
		run := wf.LastRun
		fmt.Printf("\n%s (%s): %s\n", wf.WorkflowName, state, github.RunSeverity(run.Status, run.Conclusion))
		fmt.Printf("  last run %s, started %s\n", run.URL, run.CreatedAt.Format("2006-01-02 15:04"))

		for _, failure := range run.FailureDetails {
			fmt.Printf("  failed job: %s\n", failure.JobName)
			for _, step := range failure.FailedSteps {
				fmt.Printf("    step %d %q: %s\n", step.Number, step.Name, step.Error)
			}
		}
		for _, a := range run.Annotations {
			location := a.File
			if a.Line > 0 {
				location = fmt.Sprintf("%s:%d", a.File, a.Line)
			}
			fmt.Printf("  [%s] %s %s\n", a.Level, location, a.Message)
		}
	}
}
