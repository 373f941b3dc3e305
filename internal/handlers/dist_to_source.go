package handlers

import (
	"context"
	"slices"

	"distsync.dev/distsync/internal/events"
	"distsync.dev/distsync/internal/syncengine"
)

// DistToSource proposes a push to a distribution branch as a pull request
// on the equally named source branch
func (h *Handlers) DistToSource(ctx context.Context, event events.Push) (Result, error) {
	branch, ok := event.Branch()
	if !ok {
		return succeeded("not a branch push"), nil
	}

	dist, err := h.forges.Project(event.ProjectURL)
	if err != nil {
		return Result{}, err
	}
	sourceURL := h.SourceURL(dist)
	logger := h.logger.With("handler", "dist_to_source", "distribution", dist.WebURL(), "branch", branch, "source", sourceURL)

	source, err := h.forges.Project(sourceURL)
	if err != nil {
		return Result{}, err
	}
	exists, err := source.Exists(ctx)
	if err != nil {
		return Result{}, err
	}
	if !exists {
		logger.Debug("no source repository")
		return succeeded("no source repository for %s", dist.WebURL()), nil
	}

	branches, err := source.Branches(ctx)
	if err != nil {
		return Result{}, err
	}
	if !slices.Contains(branches, branch) {
		logger.Info("no matching source branch")
		return succeeded("no %s branch in %s", branch, source.WebURL()), nil
	}

	// distribution repositories rarely carry one, the source does
	pkg, err := h.loadPackageConfig(ctx, source, branch)
	if err != nil {
		return Result{}, err
	}

	logger.Debug("syncing distribution to source")
	pr, err := h.engine.SyncReverse(ctx, syncengine.ReverseOptions{
		Distribution:       dist,
		DistributionBranch: branch,
		Source:             source,
		SourceBranch:       branch,
		Title:              SelfSyncTitle,
		Config:             pkg,
	})
	if err != nil {
		return Result{}, err
	}
	if pr == nil {
		logger.Info("source already up to date")
		return succeeded("nothing to sync"), nil
	}
	logger.Info("synced distribution to source", "pr", pr.URL)
	return succeeded("synced to %s", pr.URL), nil
}
