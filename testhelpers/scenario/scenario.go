// Package scenario provides a high-level test scenario that runs raw forge
// payloads through the whole distsync pipeline: parsing, dispatch, the
// handlers, the relation store and the git sync engine against local bare
// repositories.
package scenario

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"distsync.dev/distsync/internal/config"
	"distsync.dev/distsync/internal/dispatch"
	"distsync.dev/distsync/internal/events"
	"distsync.dev/distsync/internal/forge"
	"distsync.dev/distsync/internal/handlers"
	"distsync.dev/distsync/internal/jobs"
	"distsync.dev/distsync/internal/logging"
	"distsync.dev/distsync/internal/status"
	"distsync.dev/distsync/internal/store"
	"distsync.dev/distsync/internal/syncengine"
	"distsync.dev/distsync/internal/worker"
	"distsync.dev/distsync/testhelpers"
)

// Project URLs used by every scenario
const (
	SourceURL = "https://gitlab.com/redhat/centos-stream/src/bash"
	ForkURL   = "https://gitlab.com/contributor/bash"
	DistURL   = "https://gitlab.com/redhat/centos-stream/rpms/bash"

	PackageConfigPath = ".distro/source-git.yaml"
	PackageConfig     = "downstream_package_name: bash\nspecfile_path: .distro/bash.spec\n"
)

// Scenario wires a fake forge with git remotes to the real handlers
type Scenario struct {
	T      *testing.T
	Config *config.Config
	Forges *testhelpers.FakeForge
	Store  *store.Store

	Source *testhelpers.FakeProject
	Fork   *testhelpers.FakeProject
	Dist   *testhelpers.FakeProject

	parser *events.Parser
	pool   *worker.Pool
}

// New creates a Scenario. The test is skipped when git is not installed.
func New(t *testing.T) *Scenario {
	t.Helper()

	s := testhelpers.Must(store.Open(filepath.Join(t.TempDir(), "relations.db"), logging.Discard()))
	t.Cleanup(func() { _ = s.Close() })

	fake := testhelpers.NewFakeForge()
	sc := &Scenario{
		T:      t,
		Config: &config.Config{},
		Forges: fake,
		Store:  s,
		Source: fake.AddProject(SourceURL).WithRemote(testhelpers.NewGitRemote(t, "source")),
		Fork:   fake.AddProject(ForkURL).WithRemote(testhelpers.NewGitRemote(t, "fork")),
		Dist:   fake.AddProject(DistURL).WithRemote(testhelpers.NewGitRemote(t, "dist")),
		parser: events.NewParser(""),
	}

	h, err := handlers.New(handlers.Deps{
		Config:    sc.Config,
		Forges:    fake,
		Relations: s,
		Engine:    syncengine.New(t.TempDir(), config.GitAuthor{Name: "distsync", Email: "distsync@example.com"}, logging.Discard()),
		Reporter:  status.NewReporter(logging.Discard()),
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)
	sc.pool = worker.New(jobs.NewRunner(h), worker.Options{RetryLimit: 0}, logging.Discard())
	return sc
}

// WithDistBranch commits files as the content of a distribution branch
func (s *Scenario) WithDistBranch(branch string, files map[string]string) *Scenario {
	s.T.Helper()
	s.Dist.Remote.Commit(branch, "Update "+branch, files)
	return s
}

// WithSourceBranch commits files to a source branch and publishes the
// package config found among them through the forge API
func (s *Scenario) WithSourceBranch(branch string, files map[string]string) *Scenario {
	s.T.Helper()
	s.Source.Remote.Commit(branch, "Update "+branch, files)
	if content, ok := files[PackageConfigPath]; ok {
		s.Source.WithFile(branch, PackageConfigPath, content)
	}
	return s
}

// PushToFork commits files to a fork branch, publishes the package config
// at the new commit and returns its hash
func (s *Scenario) PushToFork(branch, message string, files map[string]string) string {
	s.T.Helper()
	sha := s.Fork.Remote.Commit(branch, message, files)
	if content, ok := files[PackageConfigPath]; ok {
		s.Fork.WithFile(sha, PackageConfigPath, content)
	}
	return sha
}

// OpenSourcePR registers merge request number from the fork branch into
// the source target branch
func (s *Scenario) OpenSourcePR(number int, title, branch, target, headSHA string) *forge.PullRequest {
	s.T.Helper()
	return s.Source.AddPR(forge.PullRequest{
		Number:       number,
		Title:        title,
		SourceBranch: branch,
		TargetBranch: target,
		HeadSHA:      headSHA,
	})
}

// Deliver runs payload through the pipeline and returns the outcome of
// each work item. Payloads that are not understood or fail the pre-check
// produce no outcomes.
func (s *Scenario) Deliver(payload any) []worker.Outcome {
	s.T.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(s.T, err)

	event, err := s.parser.Parse(raw)
	require.NoError(s.T, err)
	if event == nil || !event.PreCheck() {
		return nil
	}

	queue := worker.NewInline(s.pool)
	_, err = dispatch.New(jobs.Registry(), queue, logging.Discard()).Dispatch(context.Background(), event)
	require.NoError(s.T, err)
	return queue.Outcomes()
}

// DeliverOK delivers payload and requires every work item to succeed
func (s *Scenario) DeliverOK(payload any) []worker.Outcome {
	s.T.Helper()
	outcomes := s.Deliver(payload)
	for _, outcome := range outcomes {
		require.NoError(s.T, outcome.Err, "work item %s", outcome.Item.Handler)
		require.True(s.T, outcome.Result.Success, "work item %s: %s", outcome.Item.Handler, outcome.Result.Message)
	}
	return outcomes
}
