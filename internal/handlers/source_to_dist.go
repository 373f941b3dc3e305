package handlers

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"distsync.dev/distsync/internal/config"
	syncerrors "distsync.dev/distsync/internal/errors"
	"distsync.dev/distsync/internal/events"
	"distsync.dev/distsync/internal/forge"
	"distsync.dev/distsync/internal/model"
	"distsync.dev/distsync/internal/packageconfig"
	"distsync.dev/distsync/internal/syncengine"
)

var bugzillaRef = regexp.MustCompile(`(?m)^Bugzilla: +(https://.+id=)?(\d+)`)

// FixBugzillaRefs rewrites "Bugzilla: <id or link>" lines to "Resolves: bz#<id>"
func FixBugzillaRefs(message string) string {
	return bugzillaRef.ReplaceAllString(message, "Resolves: bz#${2}")
}

// TargetFilter decides which merge request targets are mirrored. An empty
// filter accepts everything.
type TargetFilter struct {
	targets []compiledTarget
}

type compiledTarget struct {
	repo   *regexp.Regexp
	branch *regexp.Regexp
}

// NewTargetFilter compiles targets. Each pattern must match the whole
// value; an empty pattern matches any non-empty value.
func NewTargetFilter(targets []config.MRTarget) (*TargetFilter, error) {
	filter := &TargetFilter{}
	for _, target := range targets {
		repo, err := fullMatch(target.Repo)
		if err != nil {
			return nil, err
		}
		branch, err := fullMatch(target.Branch)
		if err != nil {
			return nil, err
		}
		filter.targets = append(filter.targets, compiledTarget{repo: repo, branch: branch})
	}
	return filter, nil
}

func fullMatch(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = ".+"
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, syncerrors.Configurationf("invalid target pattern %q: %v", pattern, err)
	}
	return re, nil
}

// Handles reports whether a merge request into repo ("namespace/name") and branch is mirrored
func (f *TargetFilter) Handles(repo, branch string) bool {
	if len(f.targets) == 0 {
		return true
	}
	for _, target := range f.targets {
		if target.repo.MatchString(repo) && target.branch.MatchString(branch) {
			return true
		}
	}
	return false
}

// BranchSuffix names the distribution branch of a source pull request
func BranchSuffix(prID int) string {
	return fmt.Sprintf("src-%d", prID)
}

// ProvenanceNote is appended to distribution pull request descriptions
func ProvenanceNote(sourceURL string, stream bool) string {
	note := fmt.Sprintf("###### Info for package maintainer\n"+
		"This MR has been automatically created from\n"+
		"[this source-git MR](%s).", sourceURL)
	if stream {
		note += "\nPlease review the contribution and once you are comfortable with the content,\n" +
			"you should trigger a CI pipeline run via `Pipelines → Run pipeline`."
	}
	return note
}

// DistributionDescription is the description of the distribution pull request
func DistributionDescription(sourceDescription, sourceURL string, stream bool) string {
	return FixBugzillaRefs(sourceDescription) + "\n\n---\n" + ProvenanceNote(sourceURL, stream)
}

// CreatedComment announces a new distribution pull request on the source one
func CreatedComment(pr *forge.PullRequest) string {
	return fmt.Sprintf("[Dist-git MR #%d](%s)\n"+
		"has been created for sake of triggering the downstream checks.\n"+
		"It ensures that your contribution is valid and can be incorporated in\n"+
		"dist-git as it is still the authoritative source for the distribution.\n"+
		"We want to run checks there only so they don't need to be reimplemented in source-git as well.",
		pr.Number, pr.URL)
}

// MissingBranchComment explains why no distribution pull request was created
func MissingBranchComment(branch, targetRepo string) string {
	return fmt.Sprintf("Can't create a dist-git pull/merge request out of this contribution "+
		"because matching %s branch does not exist in dist-git %s repo.", branch, targetRepo)
}

// SourceToDist mirrors a merge request in a source repository to the
// distribution repository and keeps the mirror in step with it.
func (h *Handlers) SourceToDist(ctx context.Context, event events.MergeRequestAction) (Result, error) {
	logger := h.logger.With("handler", "source_to_dist", "mr", event.URL, "action", event.Action)

	if strings.HasPrefix(event.Title, SelfSyncTitle) {
		logger.Debug("merge request opened by a reverse sync")
		return succeeded("opened by distsync"), nil
	}
	if !h.targets.Handles(event.TargetRepo, event.TargetBranch) {
		logger.Debug("target not handled", "repo", event.TargetRepo, "branch", event.TargetBranch)
		return succeeded("target %s:%s not handled", event.TargetRepo, event.TargetBranch), nil
	}

	source, err := h.forges.Project(event.TargetProjectURL)
	if err != nil {
		return Result{}, err
	}
	sourceRecord, err := h.relations.GetOrCreatePR(ctx, identityOf(source, event.PRID))
	if err != nil {
		return Result{}, err
	}
	relation, err := h.relations.GetBySourceID(ctx, sourceRecord.ID)
	if err != nil {
		return Result{}, err
	}
	if relation != nil {
		logger.Info("merge request already mirrored", "distribution", relation.Distribution.String())
		return h.handleExisting(ctx, event, *relation)
	}
	return h.createDistributionPR(ctx, event, source)
}

// handleExisting applies an action to the mirrored distribution pull request
func (h *Handlers) handleExisting(ctx context.Context, event events.MergeRequestAction, relation model.Relation) (Result, error) {
	logger := h.logger.With("handler", "source_to_dist", "mr", event.URL, "action", event.Action)

	dist, err := h.forges.Project(relation.Distribution.ProjectURL)
	if err != nil {
		return Result{}, err
	}
	distPR, err := dist.GetPR(ctx, relation.Distribution.Number)
	if errors.Is(err, syncerrors.ErrNotFound) {
		logger.Warn("mirrored pull request no longer exists", "distribution", relation.Distribution.String())
		return succeeded("distribution pull request is gone"), nil
	}
	if err != nil {
		return Result{}, err
	}

	var message string
	switch event.Action {
	case events.ActionClosed:
		message = fmt.Sprintf("[Source-git MR](%s) has been closed.", event.URL)
		if distPR.State == forge.StateOpen {
			if err := dist.ClosePR(ctx, distPR.Number); err != nil {
				return Result{}, err
			}
		}
	case events.ActionReopen:
		// not every forge can reopen through its API, so this only comments
		message = fmt.Sprintf("[Source-git MR](%s) has been reopened.", event.URL)
	case events.ActionUpdate:
		message = fmt.Sprintf("[Source-git MR](%s) has been updated.", event.URL)
		if event.OldRevision != "" {
			if _, err := h.syncForward(ctx, event, dist); err != nil && !errors.Is(err, syncerrors.ErrNoChanges) {
				return Result{}, err
			}
		}
	case events.ActionOpened:
		logger.Error("merge request opened again but is already mirrored; remove the relation to mirror it anew",
			"distribution", relation.Distribution.String())
		return failed("%s is already mirrored to %s", event.URL, distPR.URL), nil
	default:
		logger.Debug("nothing to do for action")
		return succeeded("action %s ignored", event.Action), nil
	}

	logger.Info(message)
	if err := dist.Comment(ctx, distPR.Number, message); err != nil {
		return Result{}, err
	}
	return succeeded("%s", message), nil
}

// createDistributionPR opens the distribution pull request for a new merge request
func (h *Handlers) createDistributionPR(ctx context.Context, event events.MergeRequestAction, source forge.Project) (Result, error) {
	logger := h.logger.With("handler", "source_to_dist", "mr", event.URL)

	pkg, err := h.packageConfigOf(ctx, event)
	if err != nil {
		return Result{}, err
	}
	if pkg == nil {
		logger.Debug("no package config found")
		return succeeded("no package config"), nil
	}

	dist, err := h.forges.Project(h.DistributionURL(source, pkg))
	if err != nil {
		return Result{}, err
	}
	branches, err := dist.Branches(ctx)
	if err != nil {
		return Result{}, err
	}
	if !slices.Contains(branches, event.TargetBranch) {
		message := MissingBranchComment(event.TargetBranch, event.TargetRepo)
		logger.Info(message)
		if err := source.Comment(ctx, event.PRID, message); err != nil {
			return Result{}, err
		}
		return succeeded("%s", message), nil
	}

	logger.Info("creating distribution pull request", "distribution", dist.WebURL())
	distPR, err := h.syncForwardWith(ctx, event, dist, pkg)
	if errors.Is(err, syncerrors.ErrNoChanges) {
		logger.Info("nothing to mirror")
		return succeeded("no changes to mirror"), nil
	}
	if err != nil {
		return Result{}, err
	}

	// a pull request with the same content may have been opened for another merge request
	distRecord, err := h.relations.GetOrCreatePR(ctx, distPR.Identity())
	if err != nil {
		return Result{}, err
	}
	if existing, err := h.relations.GetByDistributionID(ctx, distRecord.ID); err != nil {
		return Result{}, err
	} else if existing != nil {
		logger.Error("distribution pull request already belongs to another merge request",
			"distribution", distPR.URL, "source", existing.Source.String())
		return failed("%s already mirrors %s", distPR.URL, existing.Source.String()), nil
	}

	// the relation is stored last: a retry after a failed comment finds
	// the open pull request again instead of an existing relation
	if err := source.Comment(ctx, event.PRID, CreatedComment(distPR)); err != nil {
		return Result{}, err
	}

	relation, created, err := h.relations.CreateIfAbsent(ctx, identityOf(source, event.PRID), distPR.Identity())
	if err != nil {
		return Result{}, err
	}
	if !created {
		logger.Error("lost a race creating the relation",
			"source", relation.Source.String(), "distribution", relation.Distribution.String())
		return failed("relation already exists: %s -> %s", relation.Source.String(), relation.Distribution.String()), nil
	}

	logger.Info("mirrored merge request", "distribution", distPR.URL)
	return succeeded("created %s", distPR.URL), nil
}

// syncForward re-runs the sync for a merge request that is already mirrored into dist
func (h *Handlers) syncForward(ctx context.Context, event events.MergeRequestAction, dist forge.Project) (*forge.PullRequest, error) {
	pkg, err := h.packageConfigOf(ctx, event)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		pkg = &packageconfig.PackageConfig{}
	}
	return h.syncForwardWith(ctx, event, dist, pkg)
}

func (h *Handlers) syncForwardWith(ctx context.Context, event events.MergeRequestAction, dist forge.Project, pkg *packageconfig.PackageConfig) (*forge.PullRequest, error) {
	fork, err := h.forges.Project(event.SourceProjectURL)
	if err != nil {
		return nil, err
	}
	return h.engine.SyncForward(ctx, syncengine.ForwardOptions{
		Source:             fork,
		SourceRef:          event.SourceBranch,
		Distribution:       dist,
		DistributionBranch: event.TargetBranch,
		Title:              event.Title,
		Description:        DistributionDescription(event.Description, event.URL, h.cfg.IsStream()),
		BranchSuffix:       BranchSuffix(event.PRID),
		Config:             pkg,
		MarkProvenance:     true,
	})
}

// packageConfigOf reads the package config from the head of the merge request
func (h *Handlers) packageConfigOf(ctx context.Context, event events.MergeRequestAction) (*packageconfig.PackageConfig, error) {
	fork, err := h.forges.Project(event.SourceProjectURL)
	if err != nil {
		return nil, err
	}
	ref := event.CommitSHA
	if ref == "" {
		ref = event.SourceBranch
	}
	return h.loadPackageConfig(ctx, fork, ref)
}
