// Package syncengine mirrors packaging files between a source repository
// and a distribution repository and proposes the result as a pull request.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"distsync.dev/distsync/internal/config"
	syncerrors "distsync.dev/distsync/internal/errors"
	"distsync.dev/distsync/internal/forge"
	"distsync.dev/distsync/internal/packageconfig"
)

// ProvenanceTrailer links a distribution commit to the source commit it came from
const ProvenanceTrailer = "From-source-git-commit"

const sourceRemote = "source"

// ForwardOptions describes a source to distribution sync
type ForwardOptions struct {
	// Source holds SourceRef, usually the fork a pull request comes from
	Source    forge.Project
	SourceRef string

	Distribution       forge.Project
	DistributionBranch string

	Title        string
	Description  string
	BranchSuffix string
	// Config of the source repository, nil means defaults
	Config         *packageconfig.PackageConfig
	MarkProvenance bool
}

// ReverseOptions describes a distribution to source sync
type ReverseOptions struct {
	Distribution       forge.Project
	DistributionBranch string

	Source       forge.Project
	SourceBranch string

	Title  string
	Config *packageconfig.PackageConfig
}

// Engine runs the git side of a sync
type Engine struct {
	workDir string
	author  config.GitAuthor
	logger  *slog.Logger
}

// New creates an Engine cloning below workDir
func New(workDir string, author config.GitAuthor, logger *slog.Logger) *Engine {
	return &Engine{workDir: workDir, author: author, logger: logger}
}

// ForwardBranch is the distribution branch a forward sync pushes to
func ForwardBranch(distributionBranch, suffix string) string {
	return distributionBranch + "-update-" + suffix
}

// ReverseBranch is the source branch a reverse sync pushes to
func ReverseBranch(sourceBranch string) string {
	return sourceBranch + "-sync-from-dist"
}

// SyncForward mirrors the distribution directory of SourceRef into the
// distribution branch and opens (or refreshes) a pull request for it. When
// nothing differs and no pull request is open it returns ErrNoChanges.
func (e *Engine) SyncForward(ctx context.Context, opts ForwardOptions) (*forge.PullRequest, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = &packageconfig.PackageConfig{}
	}
	dist := opts.Distribution
	branch := ForwardBranch(opts.DistributionBranch, opts.BranchSuffix)
	logger := e.logger.With("distribution", dist.WebURL(), "branch", branch)

	checkout, err := e.clone(ctx, dist, opts.DistributionBranch)
	if err != nil {
		return nil, err
	}
	defer checkout.cleanup()

	sourceCommit, err := checkout.fetch(ctx, opts.Source, opts.SourceRef)
	if err != nil {
		return nil, err
	}
	sourceTree, err := sourceCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read source tree: %w", err)
	}
	distributionTree, err := sourceTree.Tree(cfg.DistributionDir())
	if err != nil {
		return nil, syncerrors.Configurationf("%s has no %s directory at %s", opts.Source.WebURL(), cfg.DistributionDir(), opts.SourceRef)
	}

	if err := checkout.branch(branch); err != nil {
		return nil, err
	}
	if err := checkout.mirror(distributionTree, "", cfg.Protected(), cfg.Excluded()); err != nil {
		return nil, err
	}

	message := opts.Title
	if opts.MarkProvenance {
		message += fmt.Sprintf("\n\n%s: %s", ProvenanceTrailer, sourceCommit.Hash)
	}
	committed, err := checkout.commit(message, e.signature())
	if err != nil {
		return nil, err
	}

	if committed {
		pushed, err := checkout.publish(ctx, dist, branch)
		if err != nil {
			return nil, err
		}
		logger.Info("forward sync done", "source_commit", sourceCommit.Hash.String(), "pushed", pushed)
	}

	existing, err := dist.FindPR(ctx, branch, opts.DistributionBranch)
	if err != nil {
		return nil, fmt.Errorf("failed to look up pull request: %w", err)
	}
	if existing != nil {
		return existing, nil
	}
	if !committed {
		logger.Info("nothing to sync")
		return nil, syncerrors.ErrNoChanges
	}

	pr, err := dist.CreatePR(ctx, forge.CreatePROptions{
		Title:        opts.Title,
		Body:         opts.Description,
		SourceBranch: branch,
		TargetBranch: opts.DistributionBranch,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}
	logger.Info("created pull request", "number", pr.Number, "url", pr.URL)
	return pr, nil
}

// SyncReverse mirrors the distribution branch into the distribution
// directory of the source branch. It returns nil when nothing differs and
// no pull request is open.
func (e *Engine) SyncReverse(ctx context.Context, opts ReverseOptions) (*forge.PullRequest, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = &packageconfig.PackageConfig{}
	}
	source := opts.Source
	branch := ReverseBranch(opts.SourceBranch)
	logger := e.logger.With("source", source.WebURL(), "branch", branch)

	checkout, err := e.clone(ctx, source, opts.SourceBranch)
	if err != nil {
		return nil, err
	}
	defer checkout.cleanup()

	distCommit, err := checkout.fetch(ctx, opts.Distribution, opts.DistributionBranch)
	if err != nil {
		return nil, err
	}
	distTree, err := distCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read distribution tree: %w", err)
	}

	if err := checkout.branch(branch); err != nil {
		return nil, err
	}
	// the package config lives next to the mirrored files and must survive
	protected := append(cfg.Protected(), cfg.Excluded()...)
	if err := checkout.mirror(distTree, cfg.DistributionDir(), protected, cfg.Excluded()); err != nil {
		return nil, err
	}

	committed, err := checkout.commit(opts.Title, e.signature())
	if err != nil {
		return nil, err
	}
	if committed {
		pushed, err := checkout.publish(ctx, source, branch)
		if err != nil {
			return nil, err
		}
		logger.Info("reverse sync done", "distribution_commit", distCommit.Hash.String(), "pushed", pushed)
	}

	existing, err := source.FindPR(ctx, branch, opts.SourceBranch)
	if err != nil {
		return nil, fmt.Errorf("failed to look up pull request: %w", err)
	}
	if existing != nil || !committed {
		return existing, nil
	}

	pr, err := source.CreatePR(ctx, forge.CreatePROptions{
		Title:        opts.Title,
		Body:         fmt.Sprintf("Synchronized from %s branch %s.", opts.Distribution.WebURL(), opts.DistributionBranch),
		SourceBranch: branch,
		TargetBranch: opts.SourceBranch,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}
	logger.Info("created pull request", "number", pr.Number, "url", pr.URL)
	return pr, nil
}

func (e *Engine) signature() *object.Signature {
	author := e.author
	return &object.Signature{Name: author.Name, Email: author.Email, When: time.Now()}
}

// checkout is a temporary clone of one branch
type checkout struct {
	dir  string
	repo *gogit.Repository
	wt   *gogit.Worktree
}

func (e *Engine) clone(ctx context.Context, project forge.Project, branch string) (*checkout, error) {
	if err := os.MkdirAll(e.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	dir, err := os.MkdirTemp(e.workDir, "distsync-")
	if err != nil {
		return nil, fmt.Errorf("failed to create clone directory: %w", err)
	}

	repo, err := gogit.PlainCloneContext(ctx, dir, false, &gogit.CloneOptions{
		URL:           project.CloneURL(),
		Auth:          auth(project),
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to clone %s branch %s: %w", project.WebURL(), branch, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	return &checkout{dir: dir, repo: repo, wt: wt}, nil
}

func (c *checkout) cleanup() {
	_ = os.RemoveAll(c.dir)
}

// fetch brings ref of project into the clone and returns its tip
func (c *checkout) fetch(ctx context.Context, project forge.Project, ref string) (*object.Commit, error) {
	remote := plumbing.NewRemoteReferenceName(sourceRemote, ref)
	_, err := c.repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: sourceRemote,
		URLs: []string{project.CloneURL()},
	})
	if err != nil && !errors.Is(err, gogit.ErrRemoteExists) {
		return nil, fmt.Errorf("failed to add remote: %w", err)
	}

	err = c.repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: sourceRemote,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:%s", ref, remote))},
		Auth:       auth(project),
		Tags:       gogit.NoTags,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil, fmt.Errorf("failed to fetch %s from %s: %w", ref, project.WebURL(), err)
	}

	reference, err := c.repo.Reference(remote, true)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", ref, err)
	}
	commit, err := c.repo.CommitObject(reference.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", reference.Hash(), err)
	}
	return commit, nil
}

func (c *checkout) branch(name string) error {
	err := c.wt.Checkout(&gogit.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Create: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create branch %s: %w", name, err)
	}
	return nil
}

// mirror makes dir of the worktree hold exactly the files of tree. Files
// matching protected are never deleted, files matching excluded are never
// copied.
func (c *checkout) mirror(tree *object.Tree, dir string, protected, excluded []string) error {
	head, err := c.repo.Head()
	if err != nil {
		return fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	headCommit, err := c.repo.CommitObject(head.Hash())
	if err != nil {
		return fmt.Errorf("failed to read HEAD commit: %w", err)
	}
	headTree, err := headCommit.Tree()
	if err != nil {
		return fmt.Errorf("failed to read HEAD tree: %w", err)
	}

	err = headTree.Files().ForEach(func(f *object.File) error {
		rel, ok := within(dir, f.Name)
		if !ok || matches(protected, rel) {
			return nil
		}
		if err := os.Remove(filepath.Join(c.dir, filepath.FromSlash(f.Name))); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", f.Name, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return tree.Files().ForEach(func(f *object.File) error {
		if matches(excluded, f.Name) {
			return nil
		}
		return c.write(path.Join(dir, f.Name), f)
	})
}

func (c *checkout) write(name string, f *object.File) error {
	target := filepath.Join(c.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", name, err)
	}
	contents, err := f.Contents()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.Name, err)
	}

	_ = os.Remove(target)
	switch f.Mode {
	case filemode.Symlink:
		err = os.Symlink(contents, target)
	case filemode.Executable:
		err = os.WriteFile(target, []byte(contents), 0o755)
	default:
		err = os.WriteFile(target, []byte(contents), 0o644)
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// commit stages everything and commits. It reports false when the tree is unchanged.
func (c *checkout) commit(message string, signature *object.Signature) (bool, error) {
	if err := c.wt.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return false, fmt.Errorf("failed to stage changes: %w", err)
	}
	status, err := c.wt.Status()
	if err != nil {
		return false, fmt.Errorf("failed to get status: %w", err)
	}
	if status.IsClean() {
		return false, nil
	}
	if _, err := c.wt.Commit(message, &gogit.CommitOptions{Author: signature}); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	return true, nil
}

// publish force-pushes branch unless the remote branch already holds the same tree
func (c *checkout) publish(ctx context.Context, project forge.Project, branch string) (bool, error) {
	same, err := c.sameAsRemote(ctx, project, branch)
	if err != nil {
		return false, err
	}
	if same {
		return false, nil
	}
	return true, c.push(ctx, project, branch)
}

func (c *checkout) sameAsRemote(ctx context.Context, project forge.Project, branch string) (bool, error) {
	remote := plumbing.NewRemoteReferenceName(gogit.DefaultRemoteName, branch)
	err := c.repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: gogit.DefaultRemoteName,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:%s", branch, remote))},
		Auth:       auth(project),
		Tags:       gogit.NoTags,
	})
	var noMatch gogit.NoMatchingRefSpecError
	if errors.As(err, &noMatch) {
		return false, nil
	}
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return false, fmt.Errorf("failed to fetch %s: %w", branch, err)
	}

	theirs, err := c.treeHash(remote)
	if err != nil {
		return false, err
	}
	ours, err := c.treeHash(plumbing.HEAD)
	if err != nil {
		return false, err
	}
	return theirs == ours, nil
}

func (c *checkout) treeHash(name plumbing.ReferenceName) (plumbing.Hash, error) {
	ref, err := c.repo.Reference(name, true)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to resolve %s: %w", name, err)
	}
	commit, err := c.repo.CommitObject(ref.Hash())
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to read commit %s: %w", ref.Hash(), err)
	}
	return commit.TreeHash, nil
}

func (c *checkout) push(ctx context.Context, project forge.Project, branch string) error {
	ref := plumbing.NewBranchReferenceName(branch)
	err := c.repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: gogit.DefaultRemoteName,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(fmt.Sprintf("+%s:%s", ref, ref))},
		Auth:       auth(project),
		Force:      true,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to push %s to %s: %w", branch, project.WebURL(), err)
	}
	return nil
}

func auth(project forge.Project) transport.AuthMethod {
	if project.Token() == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "oauth2", Password: project.Token()}
}

// within reports whether name lies below dir and returns it relative to dir
func within(dir, name string) (string, bool) {
	if dir == "" || dir == "." {
		return name, true
	}
	rel, ok := strings.CutPrefix(name, dir+"/")
	return rel, ok
}

// matches reports whether any pattern matches the path, its first element or its base name
func matches(patterns []string, name string) bool {
	first, _, _ := strings.Cut(name, "/")
	for _, pattern := range patterns {
		pattern = strings.Trim(pattern, "/")
		for _, candidate := range []string{name, first, path.Base(name)} {
			if ok, _ := path.Match(pattern, candidate); ok {
				return true
			}
		}
	}
	return false
}
