package events

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"distsync.dev/distsync/internal/model"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func TestParseGitlabMergeRequest(t *testing.T) {
	parser := NewParser("")

	t.Run("opened merge request", func(t *testing.T) {
		event, err := parser.Parse(readFixture(t, "gitlab_merge_request.json"))
		require.NoError(t, err)

		mr, ok := event.(MergeRequestAction)
		require.True(t, ok, "expected MergeRequestAction, got %T", event)
		require.Equal(t, ActionOpened, mr.Action)
		require.Equal(t, 5, mr.PRID)
		require.Equal(t, "Yet another testing MR", mr.Title)
		require.Equal(t, "https://gitlab.com/contributor/open-vm-tools", mr.SourceProjectURL)
		require.Equal(t, "fix-oob", mr.SourceBranch)
		require.Equal(t, "https://gitlab.com/packit-service/src/open-vm-tools", mr.TargetProjectURL)
		require.Equal(t, "packit-service/src/open-vm-tools", mr.TargetRepo)
		require.Equal(t, "c9s", mr.TargetBranch)
		require.Empty(t, mr.OldRevision)
		require.Equal(t, "bb418c0ee9d9a2f9ab5a5cd6ec6e5c0a8fa83c5c", mr.CommitSHA)
		require.True(t, mr.PreCheck())
		require.Equal(t, TypeMergeRequestGitlab, mr.Type())
	})

	t.Run("update carries the old revision", func(t *testing.T) {
		event, err := parser.Parse(readFixture(t, "gitlab_merge_request_update.json"))
		require.NoError(t, err)

		mr := event.(MergeRequestAction)
		require.Equal(t, ActionUpdate, mr.Action)
		require.Equal(t, "bb418c0ee9d9a2f9ab5a5cd6ec6e5c0a8fa83c5c", mr.OldRevision)
	})

	t.Run("approval actions are ignored", func(t *testing.T) {
		event, err := parser.Parse(readFixture(t, "gitlab_merge_request_approved.json"))
		require.NoError(t, err)
		require.Nil(t, event)
	})
}

func TestParseGitlabPipeline(t *testing.T) {
	event, err := NewParser("").Parse(readFixture(t, "gitlab_pipeline.json"))
	require.NoError(t, err)

	pipeline, ok := event.(PipelineStatus)
	require.True(t, ok)
	require.Equal(t, PipelineStatus{
		Repo:            "redhat/centos-stream/rpms/luksmeta",
		ProjectURL:      "https://gitlab.com/redhat/centos-stream/rpms/luksmeta",
		Source:          "merge_request_event",
		MergeRequestURL: "https://gitlab.com/redhat/centos-stream/rpms/luksmeta/-/merge_requests/2",
		CommitSHA:       "ee58e259da263ecb4c1f0129be7aef8cfd4dedd6",
		Status:          "success",
		DetailedStatus:  "passed",
		PipelineID:      384095584,
	}, pipeline)
}

func TestParseGitlabPush(t *testing.T) {
	event, err := NewParser("").Parse(readFixture(t, "gitlab_push.json"))
	require.NoError(t, err)

	push, ok := event.(Push)
	require.True(t, ok)
	require.Equal(t, TypePushGitlab, push.Type())
	require.Equal(t, "packit-service/rpms/open-vm-tools", push.Repo)
	require.Equal(t, "cb2859505e101785097e082529dced35bbee0c8f", push.CommitSHA)
	require.True(t, push.PreCheck())
}

func TestParsePagure(t *testing.T) {
	parser := NewParser("https://src.fedoraproject.org/")

	t.Run("flag update", func(t *testing.T) {
		event, err := parser.Parse(readFixture(t, "pagure_flag.json"))
		require.NoError(t, err)

		flag, ok := event.(PRFlag)
		require.True(t, ok)
		require.Equal(t, model.PullRequestIdentity{
			Namespace:  "rpms",
			RepoName:   "python-httpretty",
			ProjectURL: "https://src.fedoraproject.org/rpms/python-httpretty",
			Number:     21,
		}, flag.PRIdentity)
		require.Equal(t, "success", flag.Status)
		require.Equal(t, "Jobs result is success", flag.Comment)
		require.Equal(t, "Zuul", flag.Username)
		require.Equal(t, "rpms/python-httpretty", flag.Repo)
		require.True(t, flag.PreCheck())
	})

	t.Run("git receive becomes a push", func(t *testing.T) {
		event, err := parser.Parse(readFixture(t, "pagure_push.json"))
		require.NoError(t, err)

		push, ok := event.(Push)
		require.True(t, ok)
		require.Equal(t, TypePushPagure, push.Type())
		require.Equal(t, "https://src.fedoraproject.org/rpms/python-httpretty", push.ProjectURL)
		branch, ok := push.Branch()
		require.True(t, ok)
		require.Equal(t, "rawhide", branch)
	})
}

func TestParseUnknownAndInvalid(t *testing.T) {
	parser := NewParser("")

	event, err := parser.Parse([]byte(`{"object_kind": "note"}`))
	require.NoError(t, err)
	require.Nil(t, event)

	event, err = parser.Parse([]byte(`{"topic": "org.fedoraproject.prod.bodhi.update.comment", "body": {}}`))
	require.NoError(t, err)
	require.Nil(t, event)

	event, err = parser.Parse([]byte(`{"hello": "world"}`))
	require.NoError(t, err)
	require.Nil(t, event)

	_, err = parser.Parse([]byte(`not json`))
	require.Error(t, err)

	_, err = parser.Parse([]byte(`{"topic": "org.fedoraproject.prod.git.receive"}`))
	require.Error(t, err)
}
