package testhelpers

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/require"
)

// GitRemote is a bare repository on disk standing in for a forge-hosted one
type GitRemote struct {
	Dir string
	t   *testing.T
}

// NewGitRemote creates an empty bare repository. The test is skipped when
// git is not installed since local transports shell out to it.
func NewGitRemote(t *testing.T, name string) *GitRemote {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := filepath.Join(t.TempDir(), name+".git")
	_, err := gogit.PlainInit(dir, true)
	require.NoError(t, err)
	return &GitRemote{Dir: dir, t: t}
}

// Commit replaces the content of branch with files and returns the new
// commit hash. The branch is created when missing.
func (r *GitRemote) Commit(branch, message string, files map[string]string) string {
	r.t.Helper()
	dir := r.t.TempDir()
	ref := plumbing.NewBranchReferenceName(branch)

	var repo *gogit.Repository
	var err error
	if r.HasBranch(branch) {
		repo, err = gogit.PlainClone(dir, false, &gogit.CloneOptions{URL: r.Dir, ReferenceName: ref, SingleBranch: true})
		require.NoError(r.t, err)
		entries, err := os.ReadDir(dir)
		require.NoError(r.t, err)
		for _, entry := range entries {
			if entry.Name() != ".git" {
				require.NoError(r.t, os.RemoveAll(filepath.Join(dir, entry.Name())))
			}
		}
	} else {
		repo, err = gogit.PlainInitWithOptions(dir, &gogit.PlainInitOptions{
			InitOptions: gogit.InitOptions{DefaultBranch: ref},
		})
		require.NoError(r.t, err)
		_, err = repo.CreateRemote(&gitconfig.RemoteConfig{Name: gogit.DefaultRemoteName, URLs: []string{r.Dir}})
		require.NoError(r.t, err)
	}

	for name, content := range files {
		target := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(r.t, os.MkdirAll(filepath.Dir(target), 0o755))
		require.NoError(r.t, os.WriteFile(target, []byte(content), 0o644))
	}

	wt, err := repo.Worktree()
	require.NoError(r.t, err)
	require.NoError(r.t, wt.AddWithOptions(&gogit.AddOptions{All: true}))
	hash, err := wt.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(r.t, err)

	err = repo.Push(&gogit.PushOptions{
		RemoteName: gogit.DefaultRemoteName,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec("+" + ref.String() + ":" + ref.String())},
	})
	require.NoError(r.t, err)
	return hash.String()
}

// Branches lists the branches of the remote
func (r *GitRemote) Branches() []string {
	r.t.Helper()
	remote := gogit.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: gogit.DefaultRemoteName,
		URLs: []string{r.Dir},
	})
	refs, err := remote.List(&gogit.ListOptions{})
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return nil
	}
	require.NoError(r.t, err)

	var branches []string
	for _, ref := range refs {
		if ref.Name().IsBranch() {
			branches = append(branches, ref.Name().Short())
		}
	}
	sort.Strings(branches)
	return branches
}

// HasBranch reports whether the remote has branch
func (r *GitRemote) HasBranch(branch string) bool {
	for _, b := range r.Branches() {
		if b == branch {
			return true
		}
	}
	return false
}

// Files returns path to content for every file at the tip of branch
func (r *GitRemote) Files(branch string) map[string]string {
	r.t.Helper()
	commit := r.Head(branch)
	tree, err := commit.Tree()
	require.NoError(r.t, err)

	files := make(map[string]string)
	err = tree.Files().ForEach(func(f *object.File) error {
		content, err := f.Contents()
		if err != nil {
			return err
		}
		files[f.Name] = content
		return nil
	})
	require.NoError(r.t, err)
	return files
}

// Head returns the tip commit of branch
func (r *GitRemote) Head(branch string) *object.Commit {
	r.t.Helper()
	repo, err := gogit.PlainOpen(r.Dir)
	require.NoError(r.t, err)
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	require.NoError(r.t, err)
	commit, err := repo.CommitObject(ref.Hash())
	require.NoError(r.t, err)
	return commit
}
