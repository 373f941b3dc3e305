package handlers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"distsync.dev/distsync/internal/config"
	"distsync.dev/distsync/internal/events"
	"distsync.dev/distsync/internal/forge"
	"distsync.dev/distsync/internal/handlers"
	"distsync.dev/distsync/internal/syncengine"
	"distsync.dev/distsync/testhelpers"
)

func push(projectURL, ref string) events.Push {
	return events.Push{
		Forge:      events.ForgeGitlab,
		Repo:       "redhat/centos-stream/rpms/bash",
		ProjectURL: projectURL,
		Ref:        ref,
		CommitSHA:  "9a8b7c6d",
	}
}

func TestSourceURL(t *testing.T) {
	dist := testhelpers.NewFakeForge().Get(distURL)

	t.Run("namespace token swap", func(t *testing.T) {
		f := newFixture(t, nil)
		require.Equal(t, "https://gitlab.com/redhat/centos-stream/src/bash.git", f.handlers.SourceURL(dist))
	})

	t.Run("overrides", func(t *testing.T) {
		f := newFixture(t, &config.Config{SourceGit: config.SourceGitConfig{
			BaseURL:   "https://gitlab.example.com",
			Namespace: "fedora/src",
		}})
		require.Equal(t, "https://gitlab.example.com/fedora/src/bash.git", f.handlers.SourceURL(dist))
	})

	t.Run("only whole namespace segments are swapped", func(t *testing.T) {
		f := newFixture(t, nil)
		other := testhelpers.NewFakeForge().Get("https://gitlab.com/rpmsfusion/rpms/bash")
		require.Equal(t, "https://gitlab.com/rpmsfusion/src/bash.git", f.handlers.SourceURL(other))
	})
}

func TestDistributionURL(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, distURL, f.handlers.DistributionURL(f.source, nil))

	f = newFixture(t, &config.Config{DistGit: config.DistGitConfig{BaseURL: "https://src.fedoraproject.org", Namespace: "rpms"}})
	require.Equal(t, "https://src.fedoraproject.org/rpms/bash", f.handlers.DistributionURL(f.source, nil))
}

func TestDistToSource(t *testing.T) {
	ctx := context.Background()

	t.Run("opens a marked pull request on the source", func(t *testing.T) {
		f := newFixture(t, nil)
		f.source.WithFile("c9s", ".distro/source-git.yaml", packageConfig)

		result, err := f.handlers.DistToSource(ctx, push(distURL, "refs/heads/c9s"))
		require.NoError(t, err)
		require.True(t, result.Success, result.Message)

		calls := f.engine.reverseCalls()
		require.Len(t, calls, 1)
		require.Equal(t, "c9s", calls[0].DistributionBranch)
		require.Equal(t, "c9s", calls[0].SourceBranch)
		require.Equal(t, sourceURL, calls[0].Source.WebURL())
		require.Equal(t, handlers.SelfSyncTitle, calls[0].Title)
		require.NotNil(t, calls[0].Config)
		require.Equal(t, "bash", calls[0].Config.DownstreamPackageName)

		prs := f.source.PRs()
		require.Len(t, prs, 2)
		require.Equal(t, handlers.SelfSyncTitle, prs[1].Title)
	})

	t.Run("the reverse pull request is not mirrored back", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.handlers.DistToSource(ctx, push(distURL, "refs/heads/c9s"))
		require.NoError(t, err)

		created := f.source.PRs()[1]
		result, err := f.handlers.SourceToDist(ctx, events.MergeRequestAction{
			Action:           events.ActionOpened,
			PRID:             created.Number,
			Title:            created.Title,
			URL:              created.URL,
			SourceProjectURL: sourceURL,
			SourceBranch:     created.SourceBranch,
			TargetProjectURL: sourceURL,
			TargetRepo:       "redhat/centos-stream/src/bash",
			TargetBranch:     "c9s",
		})
		require.NoError(t, err)
		require.True(t, result.Success)
		require.Empty(t, f.engine.forwardCalls())
	})

	t.Run("missing source repository", func(t *testing.T) {
		f := newFixture(t, nil)
		orphan := "https://gitlab.com/redhat/centos-stream/rpms/zsh"
		f.forges.AddProject(orphan).WithBranches("c9s")

		result, err := f.handlers.DistToSource(ctx, push(orphan, "refs/heads/c9s"))
		require.NoError(t, err)
		require.True(t, result.Success)
		require.Empty(t, f.engine.reverseCalls())
	})

	t.Run("missing source branch", func(t *testing.T) {
		f := newFixture(t, nil)

		result, err := f.handlers.DistToSource(ctx, push(distURL, "refs/heads/c8s"))
		require.NoError(t, err)
		require.True(t, result.Success)
		require.Empty(t, f.engine.reverseCalls())
	})

	t.Run("tag pushes are ignored", func(t *testing.T) {
		f := newFixture(t, nil)

		result, err := f.handlers.DistToSource(ctx, push(distURL, "refs/tags/v1"))
		require.NoError(t, err)
		require.True(t, result.Success)
		require.Empty(t, f.engine.reverseCalls())
	})

	t.Run("up to date source", func(t *testing.T) {
		f := newFixture(t, nil)
		engine := &noChangeEngine{recordingEngine: f.engine}
		h, err := handlers.New(handlers.Deps{Config: f.cfg, Forges: f.forges, Relations: f.store, Engine: engine})
		require.NoError(t, err)

		result, err := h.DistToSource(ctx, push(distURL, "refs/heads/c9s"))
		require.NoError(t, err)
		require.True(t, result.Success)
		require.Equal(t, "nothing to sync", result.Message)
	})
}

// noChangeEngine reports that the source is already in sync
type noChangeEngine struct {
	*recordingEngine
}

func (e *noChangeEngine) SyncReverse(context.Context, syncengine.ReverseOptions) (*forge.PullRequest, error) {
	return nil, nil
}
