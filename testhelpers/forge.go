package testhelpers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	syncerrors "distsync.dev/distsync/internal/errors"
	"distsync.dev/distsync/internal/forge"
	"distsync.dev/distsync/internal/model"
)

// FakeForge is an in-memory forge.Service. Projects that were never added
// resolve to projects that do not exist.
type FakeForge struct {
	mu       sync.Mutex
	projects map[string]*FakeProject
}

// NewFakeForge creates an empty FakeForge
func NewFakeForge() *FakeForge {
	return &FakeForge{projects: make(map[string]*FakeProject)}
}

// AddProject registers an existing project at rawURL
func (f *FakeForge) AddProject(rawURL string) *FakeProject {
	p := f.lookup(rawURL)
	p.mu.Lock()
	p.exists = true
	p.mu.Unlock()
	return p
}

// Project implements forge.Service
func (f *FakeForge) Project(rawURL string) (forge.Project, error) {
	if _, _, _, err := forge.ParseProjectURL(rawURL); err != nil {
		return nil, err
	}
	return f.lookup(rawURL), nil
}

// Get returns the project at rawURL, registered or not
func (f *FakeForge) Get(rawURL string) *FakeProject {
	return f.lookup(rawURL)
}

func (f *FakeForge) lookup(rawURL string) *FakeProject {
	host, namespace, repo, err := forge.ParseProjectURL(rawURL)
	if err != nil {
		panic(err)
	}
	key := host + "/" + namespace + "/" + repo

	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.projects[key]; ok {
		return p
	}
	p := &FakeProject{
		host:      host,
		namespace: namespace,
		repo:      repo,
		prs:       make(map[int]*forge.PullRequest),
		files:     make(map[string]string),
		Comments:  make(map[int][]string),
		Statuses:  make(map[string][]model.CommitStatus),
		nextPR:    1,
	}
	f.projects[key] = p
	return p
}

// FakeProject is an in-memory forge.Project. Git transport goes to Remote
// when set.
type FakeProject struct {
	mu        sync.Mutex
	host      string
	namespace string
	repo      string
	exists    bool
	branches  []string
	files     map[string]string
	prs       map[int]*forge.PullRequest
	nextPR    int

	Remote *GitRemote
	// StatusErr is returned by SetCommitStatus when set
	StatusErr error
	// commentErrs are returned by the next Comment calls, one per call
	commentErrs []error

	Comments map[int][]string
	Statuses map[string][]model.CommitStatus
	Closed   []int
}

var _ forge.Project = (*FakeProject)(nil)

// WithBranches sets the branches reported when there is no Remote
func (p *FakeProject) WithBranches(branches ...string) *FakeProject {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.branches = branches
	return p
}

// WithFile stores content at path on ref
func (p *FakeProject) WithFile(ref, path, content string) *FakeProject {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[ref+":"+path] = content
	return p
}

// WithRemote routes git transport to remote
func (p *FakeProject) WithRemote(remote *GitRemote) *FakeProject {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Remote = remote
	return p
}

// FailComments makes the next Comment calls return errs, in order
func (p *FakeProject) FailComments(errs ...error) *FakeProject {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commentErrs = append(p.commentErrs, errs...)
	return p
}

// AddPR stores an open pull request and returns it
func (p *FakeProject) AddPR(pr forge.PullRequest) *forge.PullRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pr.Number == 0 {
		pr.Number = p.nextPR
	}
	if pr.Number >= p.nextPR {
		p.nextPR = pr.Number + 1
	}
	if pr.State == "" {
		pr.State = forge.StateOpen
	}
	if pr.URL == "" {
		pr.URL = fmt.Sprintf("%s/-/merge_requests/%d", p.WebURL(), pr.Number)
	}
	pr.Namespace = p.namespace
	pr.RepoName = p.repo
	pr.ProjectURL = p.WebURL()
	stored := pr
	p.prs[pr.Number] = &stored
	copied := stored
	return &copied
}

// PRs returns the pull requests ordered by number
func (p *FakeProject) PRs() []forge.PullRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	var prs []forge.PullRequest
	for _, pr := range p.prs {
		prs = append(prs, *pr)
	}
	sort.Slice(prs, func(i, j int) bool { return prs[i].Number < prs[j].Number })
	return prs
}

// CommentsOn returns the comments posted on pull request number
func (p *FakeProject) CommentsOn(number int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Comments[number]...)
}

// StatusesOf returns the statuses set on sha
func (p *FakeProject) StatusesOf(sha string) []model.CommitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.CommitStatus(nil), p.Statuses[sha]...)
}

func (p *FakeProject) Namespace() string { return p.namespace }
func (p *FakeProject) Repo() string      { return p.repo }
func (p *FakeProject) Token() string     { return "" }

func (p *FakeProject) WebURL() string {
	return fmt.Sprintf("https://%s/%s/%s", p.host, p.namespace, p.repo)
}

func (p *FakeProject) CloneURL() string {
	if p.Remote != nil {
		return p.Remote.Dir
	}
	return p.WebURL() + ".git"
}

func (p *FakeProject) notFound(op string) error {
	return syncerrors.NewForgeError(op, p.WebURL(), 404, errors.New("404 Not Found"))
}

func (p *FakeProject) Exists(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exists, nil
}

func (p *FakeProject) GetPR(_ context.Context, number int) (*forge.PullRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.prs[number]
	if !ok {
		return nil, p.notFound("get pull request")
	}
	copied := *pr
	return &copied, nil
}

func (p *FakeProject) Branches(context.Context) ([]string, error) {
	p.mu.Lock()
	remote, branches := p.Remote, p.branches
	p.mu.Unlock()
	if remote != nil {
		return remote.Branches(), nil
	}
	return branches, nil
}

func (p *FakeProject) FileContent(_ context.Context, path, ref string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	content, ok := p.files[ref+":"+path]
	if !ok {
		return nil, p.notFound("get file " + path)
	}
	return []byte(content), nil
}

func (p *FakeProject) CreatePR(_ context.Context, opts forge.CreatePROptions) (*forge.PullRequest, error) {
	return p.AddPR(forge.PullRequest{
		Title:        opts.Title,
		Description:  opts.Body,
		SourceBranch: opts.SourceBranch,
		TargetBranch: opts.TargetBranch,
		Author:       "distsync",
	}), nil
}

func (p *FakeProject) FindPR(_ context.Context, sourceBranch, targetBranch string) (*forge.PullRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pr := range p.prs {
		if pr.State == forge.StateOpen && pr.SourceBranch == sourceBranch && pr.TargetBranch == targetBranch {
			copied := *pr
			return &copied, nil
		}
	}
	return nil, nil
}

func (p *FakeProject) ClosePR(_ context.Context, number int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.prs[number]
	if !ok {
		return p.notFound("close pull request")
	}
	pr.State = forge.StateClosed
	p.Closed = append(p.Closed, number)
	return nil
}

func (p *FakeProject) Comment(_ context.Context, number int, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.commentErrs) > 0 {
		err := p.commentErrs[0]
		p.commentErrs = p.commentErrs[1:]
		return err
	}
	p.Comments[number] = append(p.Comments[number], body)
	return nil
}

func (p *FakeProject) SetCommitStatus(_ context.Context, sha string, status model.CommitStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.StatusErr != nil {
		return p.StatusErr
	}
	p.Statuses[sha] = append(p.Statuses[sha], status)
	return nil
}
