package forge

import (
	"context"
	"fmt"
	"net/http"

	"github.com/xanzy/go-gitlab"

	"distsync.dev/distsync/internal/config"
	"distsync.dev/distsync/internal/model"
)

type gitlabBackend struct {
	client *gitlab.Client
	token  string
}

func newGitLabBackend(instance config.ForgeInstance, httpClient *http.Client) (*gitlabBackend, error) {
	apiURL := instance.APIURL
	if apiURL == "" {
		apiURL = "https://" + instance.Hostname
	}
	client, err := gitlab.NewClient(instance.Token,
		gitlab.WithBaseURL(apiURL),
		gitlab.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, err
	}
	return &gitlabBackend{client: client, token: instance.Token}, nil
}

func (b *gitlabBackend) project(scheme, host, namespace, repo string) Project {
	return &gitlabProject{
		projectBase: projectBase{scheme: scheme, host: host, namespace: namespace, repo: repo, token: b.token},
		client:      b.client,
	}
}

type gitlabProject struct {
	projectBase
	client *gitlab.Client
}

func gitlabStatusCode(resp *gitlab.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}

func (p *gitlabProject) Exists(ctx context.Context) (bool, error) {
	_, resp, err := p.client.Projects.GetProject(p.fullPath(), nil, gitlab.WithContext(ctx))
	if err != nil {
		if gitlabStatusCode(resp) == http.StatusNotFound {
			return false, nil
		}
		return false, p.forgeError("get project", gitlabStatusCode(resp), err)
	}
	return true, nil
}

func (p *gitlabProject) GetPR(ctx context.Context, number int) (*PullRequest, error) {
	mr, resp, err := p.client.MergeRequests.GetMergeRequest(p.fullPath(), number, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, p.forgeError(fmt.Sprintf("get merge request !%d", number), gitlabStatusCode(resp), err)
	}
	return p.toPullRequest(mr), nil
}

func (p *gitlabProject) Branches(ctx context.Context) ([]string, error) {
	var names []string
	opts := &gitlab.ListBranchesOptions{ListOptions: gitlab.ListOptions{PerPage: 100}}
	for {
		branches, resp, err := p.client.Branches.ListBranches(p.fullPath(), opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, p.forgeError("list branches", gitlabStatusCode(resp), err)
		}
		for _, branch := range branches {
			names = append(names, branch.Name)
		}
		if resp.NextPage == 0 {
			return names, nil
		}
		opts.Page = resp.NextPage
	}
}

func (p *gitlabProject) FileContent(ctx context.Context, path, ref string) ([]byte, error) {
	opts := &gitlab.GetRawFileOptions{}
	if ref != "" {
		opts.Ref = gitlab.Ptr(ref)
	}
	content, resp, err := p.client.RepositoryFiles.GetRawFile(p.fullPath(), path, opts, gitlab.WithContext(ctx))
	if err != nil {
		return nil, p.forgeError("get file "+path, gitlabStatusCode(resp), err)
	}
	return content, nil
}

func (p *gitlabProject) CreatePR(ctx context.Context, opts CreatePROptions) (*PullRequest, error) {
	mr, resp, err := p.client.MergeRequests.CreateMergeRequest(p.fullPath(), &gitlab.CreateMergeRequestOptions{
		Title:              gitlab.Ptr(opts.Title),
		Description:        gitlab.Ptr(opts.Body),
		SourceBranch:       gitlab.Ptr(opts.SourceBranch),
		TargetBranch:       gitlab.Ptr(opts.TargetBranch),
		RemoveSourceBranch: gitlab.Ptr(true),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, p.forgeError("create merge request", gitlabStatusCode(resp), err)
	}
	return p.toPullRequest(mr), nil
}

func (p *gitlabProject) FindPR(ctx context.Context, sourceBranch, targetBranch string) (*PullRequest, error) {
	mrs, resp, err := p.client.MergeRequests.ListProjectMergeRequests(p.fullPath(), &gitlab.ListProjectMergeRequestsOptions{
		State:        gitlab.Ptr("opened"),
		SourceBranch: gitlab.Ptr(sourceBranch),
		TargetBranch: gitlab.Ptr(targetBranch),
		ListOptions:  gitlab.ListOptions{PerPage: 1},
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, p.forgeError("list merge requests", gitlabStatusCode(resp), err)
	}
	if len(mrs) == 0 {
		return nil, nil
	}
	return p.toPullRequest(mrs[0]), nil
}

func (p *gitlabProject) ClosePR(ctx context.Context, number int) error {
	_, resp, err := p.client.MergeRequests.UpdateMergeRequest(p.fullPath(), number, &gitlab.UpdateMergeRequestOptions{
		StateEvent: gitlab.Ptr("close"),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return p.forgeError(fmt.Sprintf("close merge request !%d", number), gitlabStatusCode(resp), err)
	}
	return nil
}

func (p *gitlabProject) Comment(ctx context.Context, number int, body string) error {
	_, resp, err := p.client.Notes.CreateMergeRequestNote(p.fullPath(), number, &gitlab.CreateMergeRequestNoteOptions{
		Body: gitlab.Ptr(body),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return p.forgeError(fmt.Sprintf("comment on !%d", number), gitlabStatusCode(resp), err)
	}
	return nil
}

var gitlabBuildStates = map[model.CommitState]gitlab.BuildStateValue{
	model.StatePending: gitlab.Pending,
	model.StateRunning: gitlab.Running,
	model.StateSuccess: gitlab.Success,
	model.StateFailure: gitlab.Failed,
	model.StateError:   gitlab.Failed,
}

func (p *gitlabProject) SetCommitStatus(ctx context.Context, sha string, status model.CommitStatus) error {
	state, ok := gitlabBuildStates[status.State]
	if !ok {
		return fmt.Errorf("unsupported commit state %q", status.State)
	}

	opts := &gitlab.SetCommitStatusOptions{
		State:       state,
		Name:        gitlab.Ptr(status.CheckName),
		Description: gitlab.Ptr(status.Description),
	}
	if status.URL != "" {
		opts.TargetURL = gitlab.Ptr(status.URL)
	}

	_, resp, err := p.client.Commits.SetCommitStatus(p.fullPath(), sha, opts, gitlab.WithContext(ctx))
	if err != nil {
		return p.forgeError("set commit status on "+sha, gitlabStatusCode(resp), err)
	}
	return nil
}

func (p *gitlabProject) toPullRequest(mr *gitlab.MergeRequest) *PullRequest {
	state := mr.State
	if state == "opened" {
		state = StateOpen
	}
	author := ""
	if mr.Author != nil {
		author = mr.Author.Username
	}

	return &PullRequest{
		Number:       mr.IID,
		Title:        mr.Title,
		Description:  mr.Description,
		URL:          mr.WebURL,
		State:        state,
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
		HeadSHA:      mr.SHA,
		Author:       author,
		Namespace:    p.namespace,
		RepoName:     p.repo,
		ProjectURL:   p.WebURL(),
	}
}
