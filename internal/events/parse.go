package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"distsync.dev/distsync/internal/model"
)

// DefaultPagureURL is used for message-bus events that carry no project URL
const DefaultPagureURL = "https://src.fedoraproject.org"

// Parser turns raw payloads into events. Payloads are either GitLab webhook
// bodies (identified by object_kind) or message-bus envelopes with a topic
// and a body.
type Parser struct {
	PagureURL string
}

// NewParser creates a parser; an empty pagureURL selects DefaultPagureURL
func NewParser(pagureURL string) *Parser {
	if pagureURL == "" {
		pagureURL = DefaultPagureURL
	}
	return &Parser{PagureURL: strings.TrimSuffix(pagureURL, "/")}
}

type probe struct {
	ObjectKind string          `json:"object_kind"`
	Topic      string          `json:"topic"`
	Body       json.RawMessage `json:"body"`
	Msg        json.RawMessage `json:"msg"`
}

// Parse returns the event described by raw, or nil when the payload is
// valid JSON but not something distsync understands.
func (p *Parser) Parse(raw []byte) (Event, error) {
	var head probe
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	switch {
	case head.ObjectKind != "":
		return parseGitlab(head.ObjectKind, raw)
	case head.Topic != "":
		body := head.Body
		if len(body) == 0 {
			body = head.Msg
		}
		return p.parseBus(head.Topic, body)
	}
	return nil, nil
}

type gitlabProject struct {
	WebURL            string `json:"web_url"`
	PathWithNamespace string `json:"path_with_namespace"`
}

type gitlabMergeRequest struct {
	Project          gitlabProject `json:"project"`
	ObjectAttributes struct {
		IID          int           `json:"iid"`
		Title        string        `json:"title"`
		Description  string        `json:"description"`
		URL          string        `json:"url"`
		Action       string        `json:"action"`
		OldRev       string        `json:"oldrev"`
		SourceBranch string        `json:"source_branch"`
		TargetBranch string        `json:"target_branch"`
		Source       gitlabProject `json:"source"`
		Target       gitlabProject `json:"target"`
		LastCommit   struct {
			ID string `json:"id"`
		} `json:"last_commit"`
	} `json:"object_attributes"`
}

type gitlabPipeline struct {
	Project          gitlabProject `json:"project"`
	ObjectAttributes struct {
		ID             int    `json:"id"`
		SHA            string `json:"sha"`
		Source         string `json:"source"`
		Status         string `json:"status"`
		DetailedStatus string `json:"detailed_status"`
	} `json:"object_attributes"`
	MergeRequest *struct {
		IID int    `json:"iid"`
		URL string `json:"url"`
	} `json:"merge_request"`
}

type gitlabPush struct {
	Ref         string        `json:"ref"`
	After       string        `json:"after"`
	CheckoutSHA string        `json:"checkout_sha"`
	Project     gitlabProject `json:"project"`
}

// gitlabActions maps webhook actions to merge request actions; anything
// else (approvals, label edits without an action) is ignored
var gitlabActions = map[string]Action{
	"open":   ActionOpened,
	"reopen": ActionReopen,
	"update": ActionUpdate,
	"close":  ActionClosed,
	"merge":  ActionMerged,
}

func parseGitlab(kind string, raw []byte) (Event, error) {
	switch kind {
	case "merge_request":
		var payload gitlabMergeRequest
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode merge request payload: %w", err)
		}
		attrs := payload.ObjectAttributes
		action, ok := gitlabActions[attrs.Action]
		if !ok {
			return nil, nil
		}
		target := attrs.Target
		if target.WebURL == "" {
			target = payload.Project
		}
		return MergeRequestAction{
			Action:           action,
			PRID:             attrs.IID,
			Title:            attrs.Title,
			Description:      attrs.Description,
			URL:              attrs.URL,
			SourceProjectURL: attrs.Source.WebURL,
			SourceBranch:     attrs.SourceBranch,
			TargetProjectURL: target.WebURL,
			TargetRepo:       target.PathWithNamespace,
			TargetBranch:     attrs.TargetBranch,
			OldRevision:      attrs.OldRev,
			CommitSHA:        attrs.LastCommit.ID,
		}, nil

	case "pipeline":
		var payload gitlabPipeline
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode pipeline payload: %w", err)
		}
		attrs := payload.ObjectAttributes
		event := PipelineStatus{
			Repo:           payload.Project.PathWithNamespace,
			ProjectURL:     payload.Project.WebURL,
			Source:         attrs.Source,
			CommitSHA:      attrs.SHA,
			Status:         attrs.Status,
			DetailedStatus: attrs.DetailedStatus,
			PipelineID:     attrs.ID,
		}
		if payload.MergeRequest != nil {
			event.MergeRequestURL = payload.MergeRequest.URL
		}
		return event, nil

	case "push":
		var payload gitlabPush
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode push payload: %w", err)
		}
		sha := payload.CheckoutSHA
		if sha == "" {
			sha = payload.After
		}
		return Push{
			Forge:      ForgeGitlab,
			Repo:       payload.Project.PathWithNamespace,
			ProjectURL: payload.Project.WebURL,
			Ref:        payload.Ref,
			CommitSHA:  sha,
		}, nil
	}
	return nil, nil
}

type pagureProject struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	Fullname  string `json:"fullname"`
	FullURL   string `json:"full_url"`
}

type pagureFlag struct {
	PullRequest struct {
		ID         int           `json:"id"`
		CommitStop string        `json:"commit_stop"`
		Project    pagureProject `json:"project"`
	} `json:"pullrequest"`
	Flag struct {
		Status     string `json:"status"`
		Comment    string `json:"comment"`
		Username   string `json:"username"`
		URL        string `json:"url"`
		CommitHash string `json:"commit_hash"`
	} `json:"flag"`
}

type pagureReceive struct {
	Commit struct {
		Repo      string `json:"repo"`
		Namespace string `json:"namespace"`
		Branch    string `json:"branch"`
		Rev       string `json:"rev"`
	} `json:"commit"`
}

func (p *Parser) parseBus(topic string, body json.RawMessage) (Event, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("message %s has no body", topic)
	}
	switch {
	case strings.HasSuffix(topic, "pagure.pull-request.flag.added"),
		strings.HasSuffix(topic, "pagure.pull-request.flag.updated"):
		var payload pagureFlag
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode flag message: %w", err)
		}
		project := payload.PullRequest.Project
		fullname := project.Fullname
		if fullname == "" {
			fullname = joinNonEmpty(project.Namespace, project.Name)
		}
		projectURL := project.FullURL
		if projectURL == "" {
			projectURL = p.PagureURL + "/" + fullname
		}
		sha := payload.Flag.CommitHash
		if sha == "" {
			sha = payload.PullRequest.CommitStop
		}
		return PRFlag{
			Repo: fullname,
			PRIdentity: model.PullRequestIdentity{
				Namespace:  project.Namespace,
				RepoName:   project.Name,
				ProjectURL: strings.TrimSuffix(projectURL, "/"),
				Number:     payload.PullRequest.ID,
			},
			Status:    payload.Flag.Status,
			Comment:   payload.Flag.Comment,
			Username:  payload.Flag.Username,
			URL:       payload.Flag.URL,
			CommitSHA: sha,
		}, nil

	case strings.HasSuffix(topic, "git.receive"):
		var payload pagureReceive
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode git.receive message: %w", err)
		}
		commit := payload.Commit
		repo := joinNonEmpty(commit.Namespace, commit.Repo)
		return Push{
			Forge:      ForgePagure,
			Repo:       repo,
			ProjectURL: p.PagureURL + "/" + repo,
			Ref:        branchRefPrefix + commit.Branch,
			CommitSHA:  commit.Rev,
		}, nil
	}
	return nil, nil
}

func joinNonEmpty(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "/" + name
}
