package forge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"distsync.dev/distsync/internal/config"
	"distsync.dev/distsync/internal/model"
)

type githubBackend struct {
	client *github.Client
	token  string
}

func newGitHubBackend(instance config.ForgeInstance, httpClient *http.Client) (*githubBackend, error) {
	tc := httpClient
	if instance.Token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: instance.Token},
		)
		tc = oauth2.NewClient(ctx, ts)
	}
	client := github.NewClient(tc)

	apiURL := instance.APIURL
	if apiURL == "" && instance.Hostname != "github.com" {
		apiURL = fmt.Sprintf("https://%s/api/v3/", instance.Hostname)
	}
	if apiURL != "" {
		baseURL, err := url.Parse(strings.TrimSuffix(apiURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid api_url %q: %w", apiURL, err)
		}
		client.BaseURL = baseURL
		client.UploadURL = baseURL
	}

	return &githubBackend{client: client, token: instance.Token}, nil
}

func (b *githubBackend) project(scheme, host, namespace, repo string) Project {
	return &githubProject{
		projectBase: projectBase{scheme: scheme, host: host, namespace: namespace, repo: repo, token: b.token},
		client:      b.client,
	}
}

type githubProject struct {
	projectBase
	client *github.Client
}

func statusCode(resp *github.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}

func (p *githubProject) Exists(ctx context.Context) (bool, error) {
	_, resp, err := p.client.Repositories.Get(ctx, p.namespace, p.repo)
	if err != nil {
		if statusCode(resp) == http.StatusNotFound {
			return false, nil
		}
		return false, p.forgeError("get project", statusCode(resp), err)
	}
	return true, nil
}

func (p *githubProject) GetPR(ctx context.Context, number int) (*PullRequest, error) {
	pr, resp, err := p.client.PullRequests.Get(ctx, p.namespace, p.repo, number)
	if err != nil {
		return nil, p.forgeError(fmt.Sprintf("get pull request #%d", number), statusCode(resp), err)
	}
	return p.toPullRequest(pr), nil
}

func (p *githubProject) Branches(ctx context.Context) ([]string, error) {
	var names []string
	opts := &github.BranchListOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		branches, resp, err := p.client.Repositories.ListBranches(ctx, p.namespace, p.repo, opts)
		if err != nil {
			return nil, p.forgeError("list branches", statusCode(resp), err)
		}
		for _, branch := range branches {
			names = append(names, branch.GetName())
		}
		if resp.NextPage == 0 {
			return names, nil
		}
		opts.Page = resp.NextPage
	}
}

func (p *githubProject) FileContent(ctx context.Context, path, ref string) ([]byte, error) {
	file, _, resp, err := p.client.Repositories.GetContents(ctx, p.namespace, p.repo, path, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return nil, p.forgeError("get file "+path, statusCode(resp), err)
	}
	if file == nil {
		return nil, p.forgeError("get file "+path, http.StatusNotFound, fmt.Errorf("%s is a directory", path))
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return []byte(content), nil
}

func (p *githubProject) CreatePR(ctx context.Context, opts CreatePROptions) (*PullRequest, error) {
	newPR := &github.NewPullRequest{
		Title: github.String(opts.Title),
		Head:  github.String(opts.SourceBranch),
		Base:  github.String(opts.TargetBranch),
	}
	if opts.Body != "" {
		newPR.Body = github.String(opts.Body)
	}

	pr, resp, err := p.client.PullRequests.Create(ctx, p.namespace, p.repo, newPR)
	if err != nil {
		return nil, p.forgeError("create pull request", statusCode(resp), err)
	}
	return p.toPullRequest(pr), nil
}

func (p *githubProject) FindPR(ctx context.Context, sourceBranch, targetBranch string) (*PullRequest, error) {
	prs, resp, err := p.client.PullRequests.List(ctx, p.namespace, p.repo, &github.PullRequestListOptions{
		Head:  fmt.Sprintf("%s:%s", p.namespace, sourceBranch),
		Base:  targetBranch,
		State: "open",
		ListOptions: github.ListOptions{
			PerPage: 1,
		},
	})
	if err != nil {
		return nil, p.forgeError("list pull requests", statusCode(resp), err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return p.toPullRequest(prs[0]), nil
}

func (p *githubProject) ClosePR(ctx context.Context, number int) error {
	_, resp, err := p.client.PullRequests.Edit(ctx, p.namespace, p.repo, number, &github.PullRequest{State: github.String("closed")})
	if err != nil {
		return p.forgeError(fmt.Sprintf("close pull request #%d", number), statusCode(resp), err)
	}
	return nil
}

func (p *githubProject) Comment(ctx context.Context, number int, body string) error {
	_, resp, err := p.client.Issues.CreateComment(ctx, p.namespace, p.repo, number, &github.IssueComment{Body: github.String(body)})
	if err != nil {
		return p.forgeError(fmt.Sprintf("comment on #%d", number), statusCode(resp), err)
	}
	return nil
}

func (p *githubProject) SetCommitStatus(ctx context.Context, sha string, status model.CommitStatus) error {
	// GitHub has no running state
	state := string(status.State)
	if status.State == model.StateRunning {
		state = string(model.StatePending)
	}

	repoStatus := &github.RepoStatus{
		State:       github.String(state),
		Description: github.String(status.Description),
		Context:     github.String(status.CheckName),
	}
	if status.URL != "" {
		repoStatus.TargetURL = github.String(status.URL)
	}

	_, resp, err := p.client.Repositories.CreateStatus(ctx, p.namespace, p.repo, sha, repoStatus)
	if err != nil {
		return p.forgeError("set commit status on "+sha, statusCode(resp), err)
	}
	return nil
}

func (p *githubProject) toPullRequest(pr *github.PullRequest) *PullRequest {
	if pr == nil {
		return nil
	}

	state := pr.GetState()
	if pr.GetMerged() || pr.MergedAt != nil {
		state = StateMerged
	}

	return &PullRequest{
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		Description:  pr.GetBody(),
		URL:          pr.GetHTMLURL(),
		State:        state,
		SourceBranch: pr.GetHead().GetRef(),
		TargetBranch: pr.GetBase().GetRef(),
		HeadSHA:      pr.GetHead().GetSHA(),
		Author:       pr.GetUser().GetLogin(),
		Namespace:    p.namespace,
		RepoName:     p.repo,
		ProjectURL:   p.WebURL(),
	}
}
