// Package status translates distribution CI results into commit statuses
// and reports them on the source side.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	syncerrors "distsync.dev/distsync/internal/errors"
	"distsync.dev/distsync/internal/events"
	"distsync.dev/distsync/internal/model"
)

// PipelineCheckName names the status relayed from GitLab pipelines
const PipelineCheckName = "Dist-git MR CI Pipeline"

// pipelineStates covers every GitLab pipeline status
var pipelineStates = map[string]model.CommitState{
	"pending":              model.StatePending,
	"created":              model.StatePending,
	"waiting_for_resource": model.StatePending,
	"preparing":            model.StatePending,
	"scheduled":            model.StatePending,
	"manual":               model.StatePending,
	"running":              model.StateRunning,
	"success":              model.StateSuccess,
	"skipped":              model.StateSuccess,
	"failed":               model.StateFailure,
	"canceled":             model.StateFailure,
}

// flagStates covers every Pagure pull request flag status
var flagStates = map[string]model.CommitState{
	"pending":  model.StatePending,
	"success":  model.StateSuccess,
	"error":    model.StateError,
	"failure":  model.StateFailure,
	"canceled": model.StateFailure,
}

// Translation is a commit status computed from a CI event
type Translation struct {
	status model.CommitStatus
}

// Status returns the commit status to publish
func (t Translation) Status() model.CommitStatus {
	return t.status
}

// FromGitlabPipeline translates a pipeline update. Unknown statuses are
// configuration errors.
func FromGitlabPipeline(event events.PipelineStatus) (Translation, error) {
	state, ok := pipelineStates[event.Status]
	if !ok {
		return Translation{}, syncerrors.NewUnknownStatusError("gitlab pipeline", event.Status)
	}
	return Translation{status: model.CommitStatus{
		State:       state,
		Description: "Changed status to " + event.DetailedStatus,
		CheckName:   PipelineCheckName,
		URL:         event.PipelineURL(),
	}}, nil
}

// FromPagureFlag translates a pull request flag
func FromPagureFlag(event events.PRFlag) (Translation, error) {
	state, ok := flagStates[event.Status]
	if !ok {
		return Translation{}, syncerrors.NewUnknownStatusError("pagure flag", event.Status)
	}
	return Translation{status: model.CommitStatus{
		State:       state,
		Description: event.Comment,
		CheckName:   event.Username,
		URL:         event.URL,
	}}, nil
}

// Target is where statuses are reported: a project and one of its pull requests
type Target interface {
	SetCommitStatus(ctx context.Context, sha string, status model.CommitStatus) error
	Comment(ctx context.Context, number int, body string) error
}

// Reporter publishes commit statuses. When the account may not set a
// status (typically on forks) the status is posted as a pull request
// comment with the same content.
type Reporter struct {
	logger *slog.Logger
}

// NewReporter creates a Reporter
func NewReporter(logger *slog.Logger) *Reporter {
	return &Reporter{logger: logger}
}

// SetStatus reports status for sha, falling back to a comment on pull request prNumber
func (r *Reporter) SetStatus(ctx context.Context, target Target, prNumber int, sha string, status model.CommitStatus) error {
	err := target.SetCommitStatus(ctx, sha, status)
	if err == nil {
		r.logger.Debug("commit status set", "sha", sha, "state", status.State, "check", status.CheckName)
		return nil
	}
	if !errors.Is(err, syncerrors.ErrForbidden) && !errors.Is(err, syncerrors.ErrNotFound) {
		return fmt.Errorf("failed to set commit status: %w", err)
	}

	r.logger.Info("cannot set commit status, adding a comment instead", "sha", sha, "pr", prNumber, "error", err)
	if err := target.Comment(ctx, prNumber, FormatComment(sha, status)); err != nil {
		return fmt.Errorf("failed to comment status: %w", err)
	}
	return nil
}

var stateIcons = map[model.CommitState]string{
	model.StatePending: ":hourglass_flowing_sand:",
	model.StateRunning: ":arrows_counterclockwise:",
	model.StateSuccess: ":white_check_mark:",
	model.StateFailure: ":x:",
	model.StateError:   ":warning:",
}

// FormatComment renders status as a markdown comment
func FormatComment(sha string, status model.CommitStatus) string {
	check := status.CheckName
	if status.URL != "" {
		check = fmt.Sprintf("[%s](%s)", status.CheckName, status.URL)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Commit %s\n\n", sha)
	b.WriteString("| Check | State | Description |\n")
	b.WriteString("| ----- | ----- | ----------- |\n")
	fmt.Fprintf(&b, "| %s | %s %s | %s |\n", check, stateIcons[status.State], status.State, status.Description)
	return b.String()
}
