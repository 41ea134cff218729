package github

import "time"

// Repository is a read-only projection of a remote repository.
type Repository struct {
	Name       string    `json:"name"`
	IsArchived bool      `json:"is_archived"`
	PushedAt   time.Time `json:"pushed_at"`
	Language   string    `json:"language,omitempty"`
	Topics     []string  `json:"topics,omitempty"`
}

// Organization is the top-level org record.
type Organization struct {
	Login       string `json:"login"`
	Name        string `json:"name"`
	PublicRepos int    `json:"public_repos"`
	URL         string `json:"url"`
}

// UserProfile is a pull-request author. Cached with a long TTL; profiles
// rarely change.
type UserProfile struct {
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// Label is a pull-request label.
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// ReviewState is the derived review classification of a pull request.
type ReviewState string

const (
	ReviewApproved         ReviewState = "APPROVED"
	ReviewChangesRequested ReviewState = "CHANGES_REQUESTED"
	ReviewPending          ReviewState = "PENDING"
)

// ReviewSummary is one submitted review.
type ReviewSummary struct {
	State       string    `json:"state"`
	Reviewer    string    `json:"reviewer"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// PullRequest is an open pull request joined with its reviews and author.
// Immutable once assembled.
type PullRequest struct {
	Number      int             `json:"number"`
	Title       string          `json:"title"`
	URL         string          `json:"url"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	RepoName    string          `json:"repo_name"`
	Author      UserProfile     `json:"author"`
	Labels      []Label         `json:"labels,omitempty"`
	ReviewState ReviewState     `json:"review_state"`
	IsDraft     bool            `json:"is_draft"`
	Reviews     []ReviewSummary `json:"reviews,omitempty"`
}

// WorkflowSummary is a workflow with its most recent run, if any.
type WorkflowSummary struct {
	WorkflowName string       `json:"workflow_name"`
	IsEnabled    bool         `json:"is_enabled"`
	LastRun      *WorkflowRun `json:"last_run,omitempty"`
}

// WorkflowRun is one run of a workflow, enriched with failure detail and
// annotations when the run failed.
type WorkflowRun struct {
	ID             int64        `json:"id"`
	Status         string       `json:"status"`
	Conclusion     string       `json:"conclusion"`
	CreatedAt      time.Time    `json:"created_at"`
	URL            string       `json:"url"`
	FailureDetails []JobFailure `json:"failure_details,omitempty"`
	Annotations    []Annotation `json:"annotations,omitempty"`
}

// JobFailure lists the failed steps of one job.
type JobFailure struct {
	JobName     string       `json:"job_name"`
	FailedSteps []FailedStep `json:"failed_steps"`
}

// FailedStep is one failed step within a job.
type FailedStep struct {
	Name   string `json:"name"`
	Number int    `json:"number"`
	Error  string `json:"error"`
}

// Annotation is a per-job check annotation.
type Annotation struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Title   string `json:"title"`
	File    string `json:"file"`
	Line    int    `json:"line"`
}

// Run status constants
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Run conclusion constants
const (
	ConclusionSuccess   = "success"
	ConclusionFailure   = "failure"
	ConclusionCancelled = "cancelled"
	ConclusionSkipped   = "skipped"
)

// RunSeverity maps a run's status and conclusion to a presentation severity:
// pending, success, failure or neutral.
func RunSeverity(status, conclusion string) string {
	if status == StatusInProgress {
		return "pending"
	}
	if status != StatusCompleted {
		return "neutral"
	}
	switch conclusion {
	case ConclusionSuccess:
		return "success"
	case ConclusionFailure:
		return "failure"
	default:
		return "neutral"
	}
}
