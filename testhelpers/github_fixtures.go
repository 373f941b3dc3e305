package testhelpers

import (
	"github.com/google/go-github/v62/github"
)

// SamplePRData provides common PR data for testing
type SamplePRData struct {
	Number  int
	Title   string
	Body    string
	Head    string
	HeadSHA string
	Base    string
	HTMLURL string
	State   string
	Author  string
	Merged  bool
}

// NewSamplePullRequest creates a github.PullRequest from sample data
func NewSamplePullRequest(data SamplePRData) *github.PullRequest {
	pr := &github.PullRequest{
		Number:  github.Int(data.Number),
		Title:   github.String(data.Title),
		Body:    github.String(data.Body),
		Head:    &github.PullRequestBranch{Ref: github.String(data.Head)},
		Base:    &github.PullRequestBranch{Ref: github.String(data.Base)},
		HTMLURL: github.String(data.HTMLURL),
		State:   github.String(data.State),
		Merged:  github.Bool(data.Merged),
	}
	if data.HeadSHA != "" {
		pr.Head.SHA = github.String(data.HeadSHA)
	}
	if data.Author != "" {
		pr.User = &github.User{Login: github.String(data.Author)}
	}
	return pr
}
