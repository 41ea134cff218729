package github

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/go-github/v39/github"

	"github.com/LX-media/orgdash/internal/cache"
	"github.com/LX-media/orgdash/internal/errlog"
)

// errNoRuns marks a workflow that has never run; it contributes no entry and
// is not a failure.
var errNoRuns = errors.New("workflow has no runs")

// RepositoryWorkflows lists a repository's workflows with each workflow's
// most recent run. Failed runs are enriched with per-job failure detail and
// annotations. The assembled list is cached as a whole under WORKFLOW_RUN.
func (c *Client) RepositoryWorkflows(ctx context.Context, org, repo string) ([]WorkflowSummary, error) {
	key := workflowListKey(org, repo)
	if v, ok := cache.Value[[]WorkflowSummary](c.cache, cache.PartitionWorkflowRun, key); ok {
		return v, nil
	}

	opts := &github.ListOptions{PerPage: c.pageSize}
	var workflows []*github.Workflow
	for {
		page, resp, err := c.gh.Actions.ListWorkflows(ctx, org, repo, opts)
		c.observeRate(resp)
		if err != nil {
			return nil, c.classify(fmt.Sprintf("list workflows for %s/%s", org, repo), err)
		}
		workflows = append(workflows, page.Workflows...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	summaries := collectChunks(ctx, workflows, c.prConcurrency, func(ctx context.Context, wf *github.Workflow) (WorkflowSummary, error) {
		summary, err := c.workflowSummary(ctx, org, repo, wf)
		if err != nil {
			if !errors.Is(err, errNoRuns) {
				c.reporter.Record(
					fmt.Sprintf("dropping workflow %q in %s/%s", wf.GetName(), org, repo),
					errlog.Report{
						Err:      err,
						Category: errlog.CategoryAPI,
						Severity: errlog.SeverityWarning,
					})
			}
			return WorkflowSummary{}, err
		}
		return summary, nil
	})

	c.cache.Set(cache.PartitionWorkflowRun, key, summaries)
	return summaries, nil
}

// workflowSummary fetches a workflow's latest run and, when the run failed,
// its job-level failure detail and annotations.
func (c *Client) workflowSummary(ctx context.Context, org, repo string, wf *github.Workflow) (WorkflowSummary, error) {
	runs, resp, err := c.gh.Actions.ListWorkflowRunsByID(ctx, org, repo, wf.GetID(), &github.ListWorkflowRunsOptions{
		ListOptions: github.ListOptions{PerPage: 1},
	})
	c.observeRate(resp)
	if err != nil {
		return WorkflowSummary{}, c.classify(fmt.Sprintf("list runs for workflow %q in %s/%s", wf.GetName(), org, repo), err)
	}
	if len(runs.WorkflowRuns) == 0 {
		return WorkflowSummary{}, errNoRuns
	}

	latest := runs.WorkflowRuns[0]
	run := WorkflowRun{
		ID:         latest.GetID(),
		Status:     latest.GetStatus(),
		Conclusion: latest.GetConclusion(),
		CreatedAt:  latest.GetCreatedAt().Time,
		URL:        latest.GetHTMLURL(),
	}

	if run.Status == StatusCompleted && run.Conclusion == ConclusionFailure {
		c.enrichFailedRun(ctx, org, repo, &run)
	}

	return WorkflowSummary{
		WorkflowName: wf.GetName(),
		IsEnabled:    wf.GetState() == "active",
		LastRun:      &run,
	}, nil
}

// enrichFailedRun attaches per-job failure detail and annotations to a
// failed run. Enrichment is best-effort: a failing sub-fetch leaves the run
// without that detail instead of failing the workflow entry.
func (c *Client) enrichFailedRun(ctx context.Context, org, repo string, run *WorkflowRun) {
	jobs, resp, err := c.gh.Actions.ListWorkflowJobs(ctx, org, repo, run.ID, &github.ListWorkflowJobsOptions{
		ListOptions: github.ListOptions{PerPage: c.pageSize},
	})
	c.observeRate(resp)
	if err != nil {
		c.reporter.Record(
			fmt.Sprintf("list jobs for run %d in %s/%s", run.ID, org, repo),
			errlog.Report{
				Err:      err,
				Category: errlog.CategoryAPI,
				Severity: errlog.SeverityWarning,
			})
		return
	}

	for _, job := range jobs.Jobs {
		if job.GetConclusion() != ConclusionFailure {
			continue
		}
		if failure := c.jobFailureDetail(ctx, org, repo, job.GetID()); failure != nil {
			run.FailureDetails = append(run.FailureDetails, *failure)
		}
	}

	// Annotations cover every job of the run, not just failed ones.
	for _, job := range jobs.Jobs {
		run.Annotations = append(run.Annotations, c.jobAnnotations(ctx, org, repo, job.GetID())...)
	}
}

// jobFailureDetail re-fetches one failed job and extracts its failed steps.
func (c *Client) jobFailureDetail(ctx context.Context, org, repo string, jobID int64) *JobFailure {
	job, resp, err := c.gh.Actions.GetWorkflowJobByID(ctx, org, repo, jobID)
	c.observeRate(resp)
	if err != nil {
		c.reporter.Record(
			fmt.Sprintf("fetch job %d in %s/%s", jobID, org, repo),
			errlog.Report{
				Err:      err,
				Category: errlog.CategoryAPI,
				Severity: errlog.SeverityWarning,
			})
		return nil
	}

	failure := JobFailure{JobName: job.GetName()}
	for _, step := range job.Steps {
		if step.GetConclusion() != ConclusionFailure {
			continue
		}
		failure.FailedSteps = append(failure.FailedSteps, FailedStep{
			Name:   step.GetName(),
			Number: int(step.GetNumber()),
			Error:  fmt.Sprintf("step %q concluded with %s", step.GetName(), step.GetConclusion()),
		})
	}
	return &failure
}

// jobAnnotations fetches the check annotations of one job. A permission- or
// not-found-shaped failure raises the one-shot missing-scope advisory; the
// run is still returned without annotations.
func (c *Client) jobAnnotations(ctx context.Context, org, repo string, jobID int64) []Annotation {
	raw, resp, err := c.gh.Checks.ListCheckRunAnnotations(ctx, org, repo, jobID, &github.ListOptions{PerPage: c.pageSize})
	c.observeRate(resp)
	if err != nil {
		var respErr *github.ErrorResponse
		if errors.As(err, &respErr) && respErr.Response != nil {
			switch respErr.Response.StatusCode {
			case 403, 404:
				c.warnMissingScope("checks:read")
				return nil
			}
		}
		c.reporter.Record(
			fmt.Sprintf("list annotations for job %d in %s/%s", jobID, org, repo),
			errlog.Report{
				Err:      err,
				Category: errlog.CategoryAPI,
				Severity: errlog.SeverityWarning,
			})
		return nil
	}

	annotations := make([]Annotation, 0, len(raw))
	for _, a := range raw {
		annotations = append(annotations, Annotation{
			Level:   a.GetAnnotationLevel(),
			Message: a.GetMessage(),
			Title:   a.GetTitle(),
			File:    a.GetPath(),
			Line:    a.GetStartLine(),
		})
	}
	return annotations
}
