// Package events defines the typed forge notifications distsync reacts to.
//
// Event is a closed set of variants: only the types in this package
// implement it. Each variant reports a Type made of its Kind (the variant
// tag) and the Forge that produced it.
package events

import (
	"fmt"
	"strings"

	"distsync.dev/distsync/internal/model"
)

// Kind is the variant tag of an event
type Kind string

const (
	KindPush         Kind = "push"
	KindMergeRequest Kind = "merge_request"
	KindPipeline     Kind = "pipeline"
	KindPRFlag       Kind = "pr_flag"
)

// Forge names the service an event originated from
type Forge string

const (
	ForgeGitlab Forge = "gitlab"
	ForgePagure Forge = "pagure"
)

// Type is the runtime type of an event. As a selector, an empty Forge
// matches every forge of the Kind.
type Type struct {
	Kind  Kind
	Forge Forge
}

func (t Type) String() string {
	if t.Forge == "" {
		return string(t.Kind) + ":*"
	}
	return string(t.Kind) + ":" + string(t.Forge)
}

// Matches reports whether an event of type other satisfies selector t
func (t Type) Matches(other Type) bool {
	return t.Kind == other.Kind && (t.Forge == "" || t.Forge == other.Forge)
}

var (
	TypePushGitlab         = Type{Kind: KindPush, Forge: ForgeGitlab}
	TypePushPagure         = Type{Kind: KindPush, Forge: ForgePagure}
	TypeMergeRequestGitlab = Type{Kind: KindMergeRequest, Forge: ForgeGitlab}
	TypePipelineGitlab     = Type{Kind: KindPipeline, Forge: ForgeGitlab}
	TypePRFlagPagure       = Type{Kind: KindPRFlag, Forge: ForgePagure}
)

// AllTypes lists every concrete event type the parser can produce
var AllTypes = []Type{
	TypePushGitlab,
	TypePushPagure,
	TypeMergeRequestGitlab,
	TypePipelineGitlab,
	TypePRFlagPagure,
}

// Event is implemented by Push, MergeRequestAction, PipelineStatus and PRFlag
type Event interface {
	Type() Type
	// PreCheck is a cheap validity filter run before dispatch
	PreCheck() bool
	isEvent()
}

// Action is what happened to a merge request
type Action string

const (
	ActionOpened Action = "opened"
	ActionUpdate Action = "update"
	ActionClosed Action = "closed"
	ActionReopen Action = "reopen"
	ActionMerged Action = "merged"
)

const branchRefPrefix = "refs/heads/"

const zeroSHA = "0000000000000000000000000000000000000000"

// Push is a push to a branch of a repository
type Push struct {
	Forge      Forge
	Repo       string
	ProjectURL string
	Ref        string
	CommitSHA  string
}

func (e Push) Type() Type { return Type{Kind: KindPush, Forge: e.Forge} }

// Branch returns the pushed branch name if Ref names a branch
func (e Push) Branch() (string, bool) {
	if !strings.HasPrefix(e.Ref, branchRefPrefix) {
		return "", false
	}
	return strings.TrimPrefix(e.Ref, branchRefPrefix), true
}

// PreCheck rejects tag pushes and branch deletions
func (e Push) PreCheck() bool {
	branch, ok := e.Branch()
	return ok && branch != "" && e.ProjectURL != "" && e.CommitSHA != "" && e.CommitSHA != zeroSHA
}

func (Push) isEvent() {}

// MergeRequestAction is an action on a merge request in the source repository
type MergeRequestAction struct {
	Action           Action
	PRID             int
	Title            string
	Description      string
	URL              string
	SourceProjectURL string
	SourceBranch     string
	TargetProjectURL string
	// TargetRepo is "namespace/name" of the target project
	TargetRepo   string
	TargetBranch string
	// OldRevision is set only when new commits were pushed
	OldRevision string
	CommitSHA   string
}

func (e MergeRequestAction) Type() Type { return TypeMergeRequestGitlab }

func (e MergeRequestAction) PreCheck() bool {
	return e.PRID > 0 && e.TargetProjectURL != "" && e.TargetBranch != "" && e.Action != ""
}

func (MergeRequestAction) isEvent() {}

// PipelineStatus is a CI pipeline update in a GitLab project
type PipelineStatus struct {
	Repo            string
	ProjectURL      string
	Source          string
	MergeRequestURL string
	CommitSHA       string
	Status          string
	DetailedStatus  string
	PipelineID      int
}

func (e PipelineStatus) Type() Type { return TypePipelineGitlab }

func (e PipelineStatus) PreCheck() bool {
	return e.Status != "" && e.ProjectURL != ""
}

// PipelineURL is the web URL of the pipeline
func (e PipelineStatus) PipelineURL() string {
	return fmt.Sprintf("%s/-/pipelines/%d", e.ProjectURL, e.PipelineID)
}

func (PipelineStatus) isEvent() {}

// PRFlag is a CI flag set on a Pagure pull request
type PRFlag struct {
	Repo       string
	PRIdentity model.PullRequestIdentity
	Status     string
	Comment    string
	Username   string
	URL        string
	CommitSHA  string
}

func (e PRFlag) Type() Type { return TypePRFlagPagure }

func (e PRFlag) PreCheck() bool {
	return e.Status != "" && e.PRIdentity.Number > 0 && e.PRIdentity.ProjectURL != ""
}

func (PRFlag) isEvent() {}
