// Package handlers implements the work distsync performs for an event:
// mirroring source pull requests to the distribution repository, relaying
// distribution CI results back, and syncing distribution pushes to source.
//
// Every handler is safe to run again with the same event. Expected no-ops
// succeed, duplicates and races return a failed Result, and returned errors
// are transient unless they wrap ErrConfiguration.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"distsync.dev/distsync/internal/config"
	"distsync.dev/distsync/internal/forge"
	"distsync.dev/distsync/internal/model"
	"distsync.dev/distsync/internal/packageconfig"
	"distsync.dev/distsync/internal/status"
	"distsync.dev/distsync/internal/syncengine"
)

// SelfSyncTitle starts the title of every pull request opened by a reverse
// sync. Source pull requests with this title are never mirrored back.
const SelfSyncTitle = "[distsync] Update from dist-git"

// Result is the outcome of a handler run
type Result struct {
	Success bool
	Message string
}

func succeeded(format string, args ...any) Result {
	return Result{Success: true, Message: fmt.Sprintf(format, args...)}
}

func failed(format string, args ...any) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

// Relations is the part of the relation store the handlers use
type Relations interface {
	GetOrCreatePR(ctx context.Context, identity model.PullRequestIdentity) (model.PullRequestRecord, error)
	FindPR(ctx context.Context, identity model.PullRequestIdentity) (model.PullRequestRecord, bool, error)
	GetBySourceID(ctx context.Context, id uint) (*model.Relation, error)
	GetByDistributionID(ctx context.Context, id uint) (*model.Relation, error)
	CreateIfAbsent(ctx context.Context, source, distribution model.PullRequestIdentity) (model.Relation, bool, error)
}

// SyncEngine performs the git side of a sync
type SyncEngine interface {
	SyncForward(ctx context.Context, opts syncengine.ForwardOptions) (*forge.PullRequest, error)
	SyncReverse(ctx context.Context, opts syncengine.ReverseOptions) (*forge.PullRequest, error)
}

// Deps are the collaborators of the handlers
type Deps struct {
	Config    *config.Config
	Forges    forge.Service
	Relations Relations
	Engine    SyncEngine
	Reporter  *status.Reporter
	Logger    *slog.Logger
}

// Handlers runs work items
type Handlers struct {
	cfg       *config.Config
	forges    forge.Service
	relations Relations
	engine    SyncEngine
	reporter  *status.Reporter
	targets   *TargetFilter
	logger    *slog.Logger
}

// New creates Handlers. Invalid target patterns are configuration errors.
func New(deps Deps) (*Handlers, error) {
	targets, err := NewTargetFilter(deps.Config.MRTargetsHandled)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reporter := deps.Reporter
	if reporter == nil {
		reporter = status.NewReporter(logger)
	}
	return &Handlers{
		cfg:       deps.Config,
		forges:    deps.Forges,
		relations: deps.Relations,
		engine:    deps.Engine,
		reporter:  reporter,
		targets:   targets,
		logger:    logger,
	}, nil
}

func identityOf(project forge.Project, number int) model.PullRequestIdentity {
	return model.PullRequestIdentity{
		Namespace:  project.Namespace(),
		RepoName:   project.Repo(),
		ProjectURL: project.WebURL(),
		Number:     number,
	}
}

// loadPackageConfig reads the package configuration of project at ref
func (h *Handlers) loadPackageConfig(ctx context.Context, project forge.Project, ref string) (*packageconfig.PackageConfig, error) {
	cfg, err := packageconfig.Load(ctx, project, ref, h.cfg.GetPackageConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load package config of %s: %w", project.WebURL(), err)
	}
	return cfg, nil
}

// swapNamespace replaces every path segment of namespace equal to from with to
func swapNamespace(namespace, from, to string) string {
	segments := strings.Split(namespace, "/")
	for i, segment := range segments {
		if segment == from {
			segments[i] = to
		}
	}
	return strings.Join(segments, "/")
}

// hostBase returns "scheme://host/" of a project web URL
func hostBase(webURL string) string {
	parsed, err := url.Parse(webURL)
	if err != nil || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host + "/"
}

// DistributionURL returns the distribution repository of a source
// repository. The package name, when configured, names the repository.
func (h *Handlers) DistributionURL(source forge.Project, pkg *packageconfig.PackageConfig) string {
	base := h.cfg.GetDistGitBaseURL()
	if base == "" {
		base = hostBase(source.WebURL())
	}
	namespace := h.cfg.DistGit.Namespace
	if namespace == "" {
		namespace = swapNamespace(source.Namespace(), h.cfg.GetSourceGitNamespaceToken(), h.cfg.GetDistGitNamespaceToken())
	}
	repo := source.Repo()
	if pkg != nil && pkg.DownstreamPackageName != "" {
		repo = pkg.DownstreamPackageName
	}
	return base + namespace + "/" + repo
}

// SourceURL returns the clone URL of the source repository matching a
// distribution repository. The repository name is kept.
func (h *Handlers) SourceURL(dist forge.Project) string {
	namespace := h.cfg.SourceGit.Namespace
	if namespace == "" {
		namespace = swapNamespace(dist.Namespace(), h.cfg.GetDistGitNamespaceToken(), h.cfg.GetSourceGitNamespaceToken())
	}
	return fmt.Sprintf("%s%s/%s.git", h.cfg.GetSourceGitBaseURL(), namespace, dist.Repo())
}
