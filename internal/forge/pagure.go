package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"distsync.dev/distsync/internal/config"
	"distsync.dev/distsync/internal/model"
)

// pagureBackend talks to the Pagure REST API (api/0)
type pagureBackend struct {
	apiURL     string
	token      string
	httpClient *http.Client
}

func newPagureBackend(instance config.ForgeInstance, httpClient *http.Client) *pagureBackend {
	apiURL := instance.APIURL
	if apiURL == "" {
		apiURL = "https://" + instance.Hostname
	}
	return &pagureBackend{
		apiURL:     strings.TrimRight(apiURL, "/"),
		token:      instance.Token,
		httpClient: httpClient,
	}
}

func (b *pagureBackend) project(scheme, host, namespace, repo string) Project {
	return &pagureProject{
		projectBase: projectBase{scheme: scheme, host: host, namespace: namespace, repo: repo, token: b.token},
		backend:     b,
	}
}

// pagureAPIError is the error body Pagure returns on non-2xx responses
type pagureAPIError struct {
	Message string `json:"error"`
	Code    string `json:"error_code"`
}

func (e *pagureAPIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("pagure: %s (%s)", e.Message, e.Code)
	}
	return "pagure: " + e.Message
}

type pagurePullRequest struct {
	ID             int    `json:"id"`
	Title          string `json:"title"`
	InitialComment string `json:"initial_comment"`
	Status         string `json:"status"`
	Branch         string `json:"branch"`
	BranchFrom     string `json:"branch_from"`
	CommitStop     string `json:"commit_stop"`
	FullURL        string `json:"full_url"`
	User           struct {
		Name string `json:"name"`
	} `json:"user"`
}

type pagureProject struct {
	projectBase
	backend *pagureBackend
}

// do executes a request against the project API. Form values are sent
// url-encoded, which is what Pagure expects for writes.
func (p *pagureProject) do(ctx context.Context, method, path string, form url.Values, result any) (int, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	target := fmt.Sprintf("%s/api/0/%s%s", p.backend.apiURL, p.fullPath(), path)
	request, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, fmt.Errorf("pagure: creating request: %w", err)
	}
	if p.backend.token != "" {
		request.Header.Set("Authorization", "token "+p.backend.token)
	}
	if form != nil {
		request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	response, err := p.backend.httpClient.Do(request)
	if err != nil {
		return 0, fmt.Errorf("pagure: %s %s: %w", method, target, err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return response.StatusCode, fmt.Errorf("pagure: reading response body: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		apiErr := &pagureAPIError{}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return response.StatusCode, apiErr
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return response.StatusCode, fmt.Errorf("pagure: decoding response: %w", err)
		}
	}
	return response.StatusCode, nil
}

func (p *pagureProject) Exists(ctx context.Context) (bool, error) {
	code, err := p.do(ctx, http.MethodGet, "", nil, nil)
	if err != nil {
		if code == http.StatusNotFound {
			return false, nil
		}
		return false, p.forgeError("get project", code, err)
	}
	return true, nil
}

func (p *pagureProject) GetPR(ctx context.Context, number int) (*PullRequest, error) {
	var pr pagurePullRequest
	code, err := p.do(ctx, http.MethodGet, "/pull-request/"+strconv.Itoa(number), nil, &pr)
	if err != nil {
		return nil, p.forgeError(fmt.Sprintf("get pull request #%d", number), code, err)
	}
	return p.toPullRequest(pr), nil
}

func (p *pagureProject) Branches(ctx context.Context) ([]string, error) {
	var result struct {
		Branches []string `json:"branches"`
	}
	code, err := p.do(ctx, http.MethodGet, "/git/branches", nil, &result)
	if err != nil {
		return nil, p.forgeError("list branches", code, err)
	}
	return result.Branches, nil
}

func (p *pagureProject) FileContent(ctx context.Context, path, ref string) ([]byte, error) {
	if ref == "" {
		ref = "HEAD"
	}
	target := fmt.Sprintf("%s/%s/raw/%s/f/%s", p.backend.apiURL, p.fullPath(), url.PathEscape(ref), strings.TrimLeft(path, "/"))
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("pagure: creating request: %w", err)
	}

	response, err := p.backend.httpClient.Do(request)
	if err != nil {
		return nil, p.forgeError("get file "+path, 0, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, p.forgeError("get file "+path, response.StatusCode, fmt.Errorf("unexpected status %s", response.Status))
	}
	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("pagure: reading %s: %w", path, err)
	}
	return data, nil
}

func (p *pagureProject) CreatePR(ctx context.Context, opts CreatePROptions) (*PullRequest, error) {
	form := url.Values{
		"title":           {opts.Title},
		"branch_to":       {opts.TargetBranch},
		"branch_from":     {opts.SourceBranch},
		"initial_comment": {opts.Body},
	}
	var pr pagurePullRequest
	code, err := p.do(ctx, http.MethodPost, "/pull-request/new", form, &pr)
	if err != nil {
		return nil, p.forgeError("create pull request", code, err)
	}
	return p.toPullRequest(pr), nil
}

func (p *pagureProject) FindPR(ctx context.Context, sourceBranch, targetBranch string) (*PullRequest, error) {
	var result struct {
		Requests []pagurePullRequest `json:"requests"`
	}
	code, err := p.do(ctx, http.MethodGet, "/pull-requests?status=Open&per_page=100", nil, &result)
	if err != nil {
		return nil, p.forgeError("list pull requests", code, err)
	}
	for _, pr := range result.Requests {
		if pr.BranchFrom == sourceBranch && pr.Branch == targetBranch {
			return p.toPullRequest(pr), nil
		}
	}
	return nil, nil
}

func (p *pagureProject) ClosePR(ctx context.Context, number int) error {
	code, err := p.do(ctx, http.MethodPost, fmt.Sprintf("/pull-request/%d/close", number), url.Values{}, nil)
	if err != nil {
		return p.forgeError(fmt.Sprintf("close pull request #%d", number), code, err)
	}
	return nil
}

func (p *pagureProject) Comment(ctx context.Context, number int, body string) error {
	code, err := p.do(ctx, http.MethodPost, fmt.Sprintf("/pull-request/%d/comment", number), url.Values{"comment": {body}}, nil)
	if err != nil {
		return p.forgeError(fmt.Sprintf("comment on #%d", number), code, err)
	}
	return nil
}

// SetCommitStatus flags the commit. Pagure has no running state; the
// check name doubles as the flag uid so repeated reports replace each other.
func (p *pagureProject) SetCommitStatus(ctx context.Context, sha string, status model.CommitStatus) error {
	state := string(status.State)
	if status.State == model.StateRunning {
		state = string(model.StatePending)
	}

	uid := status.CheckName
	if len(uid) > 32 {
		uid = uid[:32]
	}
	form := url.Values{
		"username": {status.CheckName},
		"status":   {state},
		"comment":  {status.Description},
		"url":      {status.URL},
		"uid":      {uid},
	}
	code, err := p.do(ctx, http.MethodPost, "/c/"+sha+"/flag", form, nil)
	if err != nil {
		return p.forgeError("flag commit "+sha, code, err)
	}
	return nil
}

func (p *pagureProject) toPullRequest(pr pagurePullRequest) *PullRequest {
	link := pr.FullURL
	if link == "" {
		link = fmt.Sprintf("%s/pull-request/%d", p.WebURL(), pr.ID)
	}
	return &PullRequest{
		Number:       pr.ID,
		Title:        pr.Title,
		Description:  pr.InitialComment,
		URL:          link,
		State:        strings.ToLower(pr.Status),
		SourceBranch: pr.BranchFrom,
		TargetBranch: pr.Branch,
		HeadSHA:      pr.CommitStop,
		Author:       pr.User.Name,
		Namespace:    p.namespace,
		RepoName:     p.repo,
		ProjectURL:   p.WebURL(),
	}
}
