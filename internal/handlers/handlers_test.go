package handlers_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"distsync.dev/distsync/internal/config"
	"distsync.dev/distsync/internal/forge"
	"distsync.dev/distsync/internal/handlers"
	"distsync.dev/distsync/internal/logging"
	"distsync.dev/distsync/internal/model"
	"distsync.dev/distsync/internal/store"
	"distsync.dev/distsync/internal/syncengine"
	"distsync.dev/distsync/testhelpers"
)

const (
	sourceURL = "https://gitlab.com/redhat/centos-stream/src/bash"
	forkURL   = "https://gitlab.com/contributor/bash"
	distURL   = "https://gitlab.com/redhat/centos-stream/rpms/bash"
	headSHA   = "4f2d7a1c9e0b"

	packageConfig = "downstream_package_name: bash\nspecfile_path: .distro/bash.spec\n"
)

// recordingEngine opens pull requests on the forge without touching git
type recordingEngine struct {
	mu      sync.Mutex
	forward []syncengine.ForwardOptions
	reverse []syncengine.ReverseOptions
	err     error
}

func (e *recordingEngine) SyncForward(ctx context.Context, opts syncengine.ForwardOptions) (*forge.PullRequest, error) {
	e.mu.Lock()
	e.forward = append(e.forward, opts)
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	branch := syncengine.ForwardBranch(opts.DistributionBranch, opts.BranchSuffix)
	if pr, err := opts.Distribution.FindPR(ctx, branch, opts.DistributionBranch); err != nil || pr != nil {
		return pr, err
	}
	return opts.Distribution.CreatePR(ctx, forge.CreatePROptions{
		Title:        opts.Title,
		Body:         opts.Description,
		SourceBranch: branch,
		TargetBranch: opts.DistributionBranch,
	})
}

func (e *recordingEngine) SyncReverse(ctx context.Context, opts syncengine.ReverseOptions) (*forge.PullRequest, error) {
	e.mu.Lock()
	e.reverse = append(e.reverse, opts)
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	branch := syncengine.ReverseBranch(opts.SourceBranch)
	if pr, err := opts.Source.FindPR(ctx, branch, opts.SourceBranch); err != nil || pr != nil {
		return pr, err
	}
	return opts.Source.CreatePR(ctx, forge.CreatePROptions{
		Title:        opts.Title,
		SourceBranch: branch,
		TargetBranch: opts.SourceBranch,
	})
}

func (e *recordingEngine) forwardCalls() []syncengine.ForwardOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]syncengine.ForwardOptions(nil), e.forward...)
}

func (e *recordingEngine) reverseCalls() []syncengine.ReverseOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]syncengine.ReverseOptions(nil), e.reverse...)
}

type fixture struct {
	handlers *handlers.Handlers
	cfg      *config.Config
	forges   *testhelpers.FakeForge
	store    *store.Store
	engine   *recordingEngine

	source *testhelpers.FakeProject
	fork   *testhelpers.FakeProject
	dist   *testhelpers.FakeProject
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}

	s, err := store.Open(filepath.Join(t.TempDir(), "relations.db"), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	fake := testhelpers.NewFakeForge()
	f := &fixture{
		cfg:    cfg,
		forges: fake,
		store:  s,
		engine: &recordingEngine{},
		source: fake.AddProject(sourceURL).WithBranches("c9s", "c10s"),
		fork:   fake.AddProject(forkURL).WithFile(headSHA, ".distro/source-git.yaml", packageConfig),
		dist:   fake.AddProject(distURL).WithBranches("c9s"),
	}
	f.source.AddPR(forge.PullRequest{
		Number:       5,
		Title:        "Fix the build",
		SourceBranch: "fix-build",
		TargetBranch: "c9s",
		HeadSHA:      headSHA,
	})

	h, err := handlers.New(handlers.Deps{
		Config:    cfg,
		Forges:    fake,
		Relations: s,
		Engine:    f.engine,
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)
	f.handlers = h
	return f
}

// link stores a relation between source #sourceNumber and distribution #distNumber
func (f *fixture) link(t *testing.T, sourceNumber, distNumber int) {
	t.Helper()
	_, created, err := f.store.CreateIfAbsent(context.Background(),
		model.PullRequestIdentity{Namespace: "redhat/centos-stream/src", RepoName: "bash", ProjectURL: sourceURL, Number: sourceNumber},
		model.PullRequestIdentity{Namespace: "redhat/centos-stream/rpms", RepoName: "bash", ProjectURL: distURL, Number: distNumber},
	)
	require.NoError(t, err)
	require.True(t, created)
}
