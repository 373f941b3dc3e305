// Package forge provides the forge clients used by the handlers: GitHub,
// GitLab and Pagure projects behind one Project interface.
package forge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"distsync.dev/distsync/internal/config"
	syncerrors "distsync.dev/distsync/internal/errors"
	"distsync.dev/distsync/internal/model"
)

// Pull request states, normalized across forges
const (
	StateOpen   = "open"
	StateClosed = "closed"
	StateMerged = "merged"
)

// PullRequest is a forge pull request (merge request on GitLab)
type PullRequest struct {
	Number       int
	Title        string
	Description  string
	URL          string
	State        string
	SourceBranch string
	TargetBranch string
	HeadSHA      string
	Author       string

	// Project the pull request belongs to (its target)
	Namespace  string
	RepoName   string
	ProjectURL string
}

// Identity returns the stored identity of the pull request
func (p PullRequest) Identity() model.PullRequestIdentity {
	return model.PullRequestIdentity{
		Namespace:  p.Namespace,
		RepoName:   p.RepoName,
		ProjectURL: p.ProjectURL,
		Number:     p.Number,
	}
}

// CreatePROptions contains options for creating a pull request
type CreatePROptions struct {
	Title        string
	Body         string
	SourceBranch string
	TargetBranch string
}

// Project is a repository on a forge
type Project interface {
	Namespace() string
	Repo() string
	WebURL() string
	CloneURL() string
	// Token used for git transport, may be empty
	Token() string

	Exists(ctx context.Context) (bool, error)
	GetPR(ctx context.Context, number int) (*PullRequest, error)
	Branches(ctx context.Context) ([]string, error)
	// FileContent returns ErrNotFound when path does not exist at ref
	FileContent(ctx context.Context, path, ref string) ([]byte, error)
	CreatePR(ctx context.Context, opts CreatePROptions) (*PullRequest, error)
	// FindPR returns the open pull request from sourceBranch into targetBranch, or nil
	FindPR(ctx context.Context, sourceBranch, targetBranch string) (*PullRequest, error)
	ClosePR(ctx context.Context, number int) error
	Comment(ctx context.Context, number int, body string) error
	SetCommitStatus(ctx context.Context, sha string, status model.CommitStatus) error
}

// Service hands out projects by URL
type Service interface {
	Project(rawURL string) (Project, error)
}

// ParseProjectURL splits a web, clone or scp-like URL into host, namespace
// and repository name. The namespace may contain slashes.
func ParseProjectURL(rawURL string) (host, namespace, repo string, err error) {
	var path string
	if strings.HasPrefix(rawURL, "git@") {
		rest := strings.TrimPrefix(rawURL, "git@")
		i := strings.IndexAny(rest, ":/")
		if i < 0 {
			return "", "", "", fmt.Errorf("invalid project URL %q", rawURL)
		}
		host, path = rest[:i], rest[i+1:]
	} else {
		parsed, perr := url.Parse(rawURL)
		if perr != nil || parsed.Host == "" {
			return "", "", "", fmt.Errorf("invalid project URL %q", rawURL)
		}
		host, path = parsed.Host, parsed.Path
	}

	path = strings.Trim(path, "/")
	path = strings.TrimSuffix(path, ".git")
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		return "", "", "", fmt.Errorf("project URL %q has no namespace", rawURL)
	}
	return host, path[:i], path[i+1:], nil
}

// Resolver creates projects from the forge instances in the configuration.
// Clients are built once per host.
type Resolver struct {
	cfg        *config.Config
	httpClient *http.Client

	mu       sync.Mutex
	backends map[string]backend
}

type backend interface {
	project(scheme, host, namespace, repo string) Project
}

// NewResolver creates a resolver. A nil httpClient uses http.DefaultClient.
func NewResolver(cfg *config.Config, httpClient *http.Client) *Resolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Resolver{cfg: cfg, httpClient: httpClient, backends: make(map[string]backend)}
}

// Project returns the project for rawURL
func (r *Resolver) Project(rawURL string) (Project, error) {
	host, namespace, repo, err := ParseProjectURL(rawURL)
	if err != nil {
		return nil, err
	}
	scheme := "https"
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Scheme == "http" {
		scheme = "http"
	}

	b, err := r.backend(rawURL)
	if err != nil {
		return nil, err
	}
	return b.project(scheme, host, namespace, repo), nil
}

func (r *Resolver) backend(rawURL string) (backend, error) {
	instance, ok := r.cfg.ForgeFor(rawURL)
	if !ok {
		return nil, syncerrors.Configurationf("no forge configured for %s", rawURL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.backends[instance.Hostname]; ok {
		return b, nil
	}

	var (
		b   backend
		err error
	)
	switch instance.Type {
	case config.ForgeTypeGitHub:
		b, err = newGitHubBackend(instance, r.httpClient)
	case config.ForgeTypeGitLab:
		b, err = newGitLabBackend(instance, r.httpClient)
	case config.ForgeTypePagure:
		b = newPagureBackend(instance, r.httpClient)
	default:
		return nil, syncerrors.Configurationf("forge %s has unknown type %q", instance.Hostname, instance.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client for %s: %w", instance.Type, instance.Hostname, err)
	}
	r.backends[instance.Hostname] = b
	return b, nil
}

// projectBase carries the naming shared by every backend
type projectBase struct {
	scheme    string
	host      string
	namespace string
	repo      string
	token     string
}

func (p projectBase) Namespace() string { return p.namespace }
func (p projectBase) Repo() string      { return p.repo }
func (p projectBase) Token() string     { return p.token }

func (p projectBase) WebURL() string {
	return fmt.Sprintf("%s://%s/%s/%s", p.scheme, p.host, p.namespace, p.repo)
}

func (p projectBase) CloneURL() string {
	return p.WebURL() + ".git"
}

func (p projectBase) fullPath() string {
	return p.namespace + "/" + p.repo
}

func (p projectBase) forgeError(op string, statusCode int, err error) error {
	return syncerrors.NewForgeError(op, p.WebURL(), statusCode, err)
}
