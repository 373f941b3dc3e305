package syncengine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"distsync.dev/distsync/internal/config"
	syncerrors "distsync.dev/distsync/internal/errors"
	"distsync.dev/distsync/internal/logging"
	"distsync.dev/distsync/internal/packageconfig"
	"distsync.dev/distsync/internal/syncengine"
	"distsync.dev/distsync/testhelpers"
)

const (
	sourceURL = "https://gitlab.com/redhat/centos-stream/src/bash"
	forkURL   = "https://gitlab.com/contributor/bash"
	distURL   = "https://gitlab.com/redhat/centos-stream/rpms/bash"
)

type fixture struct {
	engine *syncengine.Engine
	source *testhelpers.FakeProject
	fork   *testhelpers.FakeProject
	dist   *testhelpers.FakeProject
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := testhelpers.NewFakeForge()
	f := &fixture{
		engine: syncengine.New(t.TempDir(), config.GitAuthor{Name: "distsync", Email: "distsync@example.com"}, logging.Discard()),
		source: fake.AddProject(sourceURL).WithRemote(testhelpers.NewGitRemote(t, "source")),
		fork:   fake.AddProject(forkURL).WithRemote(testhelpers.NewGitRemote(t, "fork")),
		dist:   fake.AddProject(distURL).WithRemote(testhelpers.NewGitRemote(t, "dist")),
	}

	f.dist.Remote.Commit("c9s", "Initial packaging", map[string]string{
		"bash.spec":  "Version: 5.1\n",
		"sources":    "SHA512 (bash-5.1.tar.gz) = abc\n",
		".gitignore": "/bash-*.tar.gz\n",
		"old.patch":  "obsolete\n",
	})
	return f
}

func (f *fixture) sourceContent() map[string]string {
	return map[string]string{
		"src/main.c":              "int main() {}\n",
		".distro/bash.spec":       "Version: 5.2\n",
		".distro/fix.patch":       "--- a\n+++ b\n",
		".distro/source-git.yaml": "specfile_path: .distro/bash.spec\n",
	}
}

func (f *fixture) forwardOptions() syncengine.ForwardOptions {
	return syncengine.ForwardOptions{
		Source:             f.fork,
		SourceRef:          "fix-build",
		Distribution:       f.dist,
		DistributionBranch: "c9s",
		Title:              "Fix the build",
		Description:        "Resolves: bz#123",
		BranchSuffix:       "src-5",
		Config:             &packageconfig.PackageConfig{Path: ".distro/source-git.yaml"},
		MarkProvenance:     true,
	}
}

func TestSyncForward(t *testing.T) {
	ctx := context.Background()

	t.Run("mirrors the distribution directory and opens a pull request", func(t *testing.T) {
		f := newFixture(t)
		sha := f.fork.Remote.Commit("fix-build", "Fix the build", f.sourceContent())

		pr, err := f.engine.SyncForward(ctx, f.forwardOptions())
		require.NoError(t, err)
		require.NotNil(t, pr)
		require.Equal(t, "c9s-update-src-5", pr.SourceBranch)
		require.Equal(t, "c9s", pr.TargetBranch)
		require.Equal(t, "Fix the build", pr.Title)
		require.Equal(t, "Resolves: bz#123", pr.Description)

		require.Equal(t, map[string]string{
			"bash.spec":  "Version: 5.2\n",
			"fix.patch":  "--- a\n+++ b\n",
			"sources":    "SHA512 (bash-5.1.tar.gz) = abc\n",
			".gitignore": "/bash-*.tar.gz\n",
		}, f.dist.Remote.Files("c9s-update-src-5"))

		head := f.dist.Remote.Head("c9s-update-src-5")
		require.Contains(t, head.Message, "Fix the build")
		require.Contains(t, head.Message, "From-source-git-commit: "+sha)
		require.Equal(t, "distsync", head.Author.Name)

		// the distribution branch itself is untouched
		require.Equal(t, "Version: 5.1\n", f.dist.Remote.Files("c9s")["bash.spec"])
	})

	t.Run("re-running on an unchanged source updates the same pull request", func(t *testing.T) {
		f := newFixture(t)
		f.fork.Remote.Commit("fix-build", "Fix the build", f.sourceContent())

		first, err := f.engine.SyncForward(ctx, f.forwardOptions())
		require.NoError(t, err)
		pushed := f.dist.Remote.Head("c9s-update-src-5").Hash

		second, err := f.engine.SyncForward(ctx, f.forwardOptions())
		require.NoError(t, err)
		require.Equal(t, first.Number, second.Number)
		require.Len(t, f.dist.PRs(), 1)
		require.Equal(t, pushed, f.dist.Remote.Head("c9s-update-src-5").Hash)
	})

	t.Run("new source commits are force pushed", func(t *testing.T) {
		f := newFixture(t)
		f.fork.Remote.Commit("fix-build", "Fix the build", f.sourceContent())
		_, err := f.engine.SyncForward(ctx, f.forwardOptions())
		require.NoError(t, err)

		content := f.sourceContent()
		content[".distro/bash.spec"] = "Version: 5.2.1\n"
		f.fork.Remote.Commit("fix-build", "Bump again", content)

		pr, err := f.engine.SyncForward(ctx, f.forwardOptions())
		require.NoError(t, err)
		require.Equal(t, 1, pr.Number)
		require.Len(t, f.dist.PRs(), 1)
		require.Equal(t, "Version: 5.2.1\n", f.dist.Remote.Files("c9s-update-src-5")["bash.spec"])
	})

	t.Run("no changes and no pull request", func(t *testing.T) {
		f := newFixture(t)
		f.fork.Remote.Commit("fix-build", "Same content", map[string]string{
			".distro/bash.spec":  "Version: 5.1\n",
			".distro/old.patch":  "obsolete\n",
			".distro/.gitignore": "/bash-*.tar.gz\n",
		})

		pr, err := f.engine.SyncForward(ctx, f.forwardOptions())
		require.ErrorIs(t, err, syncerrors.ErrNoChanges)
		require.Nil(t, pr)
		require.Empty(t, f.dist.PRs())
		require.False(t, f.dist.Remote.HasBranch("c9s-update-src-5"))
	})

	t.Run("missing distribution directory is a configuration error", func(t *testing.T) {
		f := newFixture(t)
		f.fork.Remote.Commit("fix-build", "No packaging", map[string]string{"README": "hi\n"})

		_, err := f.engine.SyncForward(ctx, f.forwardOptions())
		require.ErrorIs(t, err, syncerrors.ErrConfiguration)
	})

	t.Run("missing source branch fails", func(t *testing.T) {
		f := newFixture(t)
		f.fork.Remote.Commit("main", "Other branch", f.sourceContent())

		_, err := f.engine.SyncForward(ctx, f.forwardOptions())
		require.Error(t, err)
		require.NotErrorIs(t, err, syncerrors.ErrNoChanges)
	})
}

func TestSyncReverse(t *testing.T) {
	ctx := context.Background()

	t.Run("mirrors the distribution branch into the source", func(t *testing.T) {
		f := newFixture(t)
		f.source.Remote.Commit("c9s", "Source tree", f.sourceContent())

		pr, err := f.engine.SyncReverse(ctx, syncengine.ReverseOptions{
			Distribution:       f.dist,
			DistributionBranch: "c9s",
			Source:             f.source,
			SourceBranch:       "c9s",
			Title:              "[distsync] Update from dist-git",
			Config:             &packageconfig.PackageConfig{Path: ".distro/source-git.yaml"},
		})
		require.NoError(t, err)
		require.NotNil(t, pr)
		require.Equal(t, "[distsync] Update from dist-git", pr.Title)
		require.Equal(t, "c9s-sync-from-dist", pr.SourceBranch)
		require.Equal(t, "c9s", pr.TargetBranch)

		files := f.source.Remote.Files("c9s-sync-from-dist")
		require.Equal(t, "int main() {}\n", files["src/main.c"])
		require.Equal(t, "Version: 5.1\n", files[".distro/bash.spec"])
		require.Equal(t, "obsolete\n", files[".distro/old.patch"])
		require.Equal(t, "specfile_path: .distro/bash.spec\n", files[".distro/source-git.yaml"])
		require.NotContains(t, files, ".distro/fix.patch")
	})

	t.Run("nothing to sync", func(t *testing.T) {
		f := newFixture(t)
		f.source.Remote.Commit("c9s", "In sync", map[string]string{
			".distro/bash.spec":       "Version: 5.1\n",
			".distro/sources":         "SHA512 (bash-5.1.tar.gz) = abc\n",
			".distro/.gitignore":      "/bash-*.tar.gz\n",
			".distro/old.patch":       "obsolete\n",
			".distro/source-git.yaml": "specfile_path: .distro/bash.spec\n",
		})

		pr, err := f.engine.SyncReverse(ctx, syncengine.ReverseOptions{
			Distribution:       f.dist,
			DistributionBranch: "c9s",
			Source:             f.source,
			SourceBranch:       "c9s",
			Title:              "[distsync] Update from dist-git",
			Config:             &packageconfig.PackageConfig{Path: ".distro/source-git.yaml"},
		})
		require.NoError(t, err)
		require.Nil(t, pr)
		require.Empty(t, f.source.PRs())
	})
}
