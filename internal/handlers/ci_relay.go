package handlers

import (
	"context"
	"regexp"
	"strconv"

	"distsync.dev/distsync/internal/events"
	"distsync.dev/distsync/internal/model"
	"distsync.dev/distsync/internal/status"
)

const mergeRequestEventSource = "merge_request_event"

var mergeRequestURL = regexp.MustCompile(`^(\S+)/-/merge_requests/(\d+)$`)

// PipelineToSource reports a distribution merge request pipeline on the source merge request
func (h *Handlers) PipelineToSource(ctx context.Context, event events.PipelineStatus) (Result, error) {
	translation, err := status.FromGitlabPipeline(event)
	if err != nil {
		return Result{}, err
	}
	logger := h.logger.With("handler", "pipeline_to_source", "pipeline", event.PipelineURL())

	if event.Source != mergeRequestEventSource {
		logger.Debug("pipeline not run for a merge request", "source", event.Source)
		return succeeded("not a merge request pipeline"), nil
	}
	m := mergeRequestURL.FindStringSubmatch(event.MergeRequestURL)
	if m == nil {
		logger.Debug("no merge request URL", "merge_request_url", event.MergeRequestURL)
		return succeeded("no merge request URL"), nil
	}
	number, err := strconv.Atoi(m[2])
	if err != nil {
		return succeeded("invalid merge request number"), nil
	}

	// the pipeline project may be the fork, the merge request URL names the target
	dist, err := h.forges.Project(m[1])
	if err != nil {
		return Result{}, err
	}
	return h.publish(ctx, identityOf(dist, number), translation)
}

// FlagToSource reports a Pagure pull request flag on the source merge request
func (h *Handlers) FlagToSource(ctx context.Context, event events.PRFlag) (Result, error) {
	translation, err := status.FromPagureFlag(event)
	if err != nil {
		return Result{}, err
	}
	return h.publish(ctx, event.PRIdentity, translation)
}

// publish sets the translated status on the head commit of the source pull
// request mirrored by the distribution pull request dist
func (h *Handlers) publish(ctx context.Context, dist model.PullRequestIdentity, translation status.Translation) (Result, error) {
	logger := h.logger.With("distribution", dist.String())

	record, found, err := h.relations.FindPR(ctx, dist)
	if err != nil {
		return Result{}, err
	}
	if !found {
		logger.Debug("distribution pull request not known")
		return succeeded("unknown distribution pull request"), nil
	}
	relation, err := h.relations.GetByDistributionID(ctx, record.ID)
	if err != nil {
		return Result{}, err
	}
	if relation == nil {
		logger.Debug("no source pull request for distribution pull request")
		return succeeded("no relation"), nil
	}

	source, err := h.forges.Project(relation.Source.ProjectURL)
	if err != nil {
		return Result{}, err
	}
	sourcePR, err := source.GetPR(ctx, relation.Source.Number)
	if err != nil {
		return Result{}, err
	}

	// a later push may make this report stale until its own pipeline finishes
	commitStatus := translation.Status()
	if err := h.reporter.SetStatus(ctx, source, sourcePR.Number, sourcePR.HeadSHA, commitStatus); err != nil {
		return Result{}, err
	}
	logger.Info("relayed status", "source", sourcePR.URL, "sha", sourcePR.HeadSHA, "state", commitStatus.State)
	return succeeded("reported %s on %s", commitStatus.State, sourcePR.URL), nil
}
