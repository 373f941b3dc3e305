package events

import (
	"testing"

	"github.com/stretchr/testify/require"

	"distsync.dev/distsync/internal/model"
)

func TestTypeMatches(t *testing.T) {
	t.Run("concrete selector matches only itself", func(t *testing.T) {
		require.True(t, TypePushGitlab.Matches(TypePushGitlab))
		require.False(t, TypePushGitlab.Matches(TypePushPagure))
		require.False(t, TypePushGitlab.Matches(TypeMergeRequestGitlab))
	})

	t.Run("wildcard forge matches every forge of the kind", func(t *testing.T) {
		anyPush := Type{Kind: KindPush}
		require.True(t, anyPush.Matches(TypePushGitlab))
		require.True(t, anyPush.Matches(TypePushPagure))
		require.False(t, anyPush.Matches(TypePipelineGitlab))
		require.Equal(t, "push:*", anyPush.String())
	})
}

func TestPushPreCheck(t *testing.T) {
	valid := Push{
		Forge:      ForgeGitlab,
		Repo:       "redhat/rpms/bash",
		ProjectURL: "https://gitlab.com/redhat/rpms/bash",
		Ref:        "refs/heads/c9s",
		CommitSHA:  "1234abcd",
	}
	require.True(t, valid.PreCheck())

	branch, ok := valid.Branch()
	require.True(t, ok)
	require.Equal(t, "c9s", branch)

	tag := valid
	tag.Ref = "refs/tags/v1.0"
	require.False(t, tag.PreCheck())

	deleted := valid
	deleted.CommitSHA = zeroSHA
	require.False(t, deleted.PreCheck())

	empty := valid
	empty.Ref = "refs/heads/"
	require.False(t, empty.PreCheck())
}

func TestEventPreChecks(t *testing.T) {
	mr := MergeRequestAction{
		Action:           ActionOpened,
		PRID:             5,
		TargetProjectURL: "https://gitlab.com/ns/repo",
		TargetBranch:     "c9s",
	}
	require.True(t, mr.PreCheck())
	mr.PRID = 0
	require.False(t, mr.PreCheck())

	pipeline := PipelineStatus{Status: "running", ProjectURL: "https://gitlab.com/ns/rpms/bash", PipelineID: 7}
	require.True(t, pipeline.PreCheck())
	require.Equal(t, "https://gitlab.com/ns/rpms/bash/-/pipelines/7", pipeline.PipelineURL())
	pipeline.Status = ""
	require.False(t, pipeline.PreCheck())

	flag := PRFlag{
		Status:     "success",
		PRIdentity: model.PullRequestIdentity{ProjectURL: "https://src.fedoraproject.org/rpms/bash", Number: 3},
	}
	require.True(t, flag.PreCheck())
	flag.PRIdentity.Number = 0
	require.False(t, flag.PreCheck())
}
