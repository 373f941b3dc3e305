// Package model holds the value types shared by the store, the forges and the handlers.
package model

import (
	"fmt"
	"time"
)

// PullRequestIdentity identifies a pull request across forges. ProjectURL
// disambiguates forks that share a namespace and name.
type PullRequestIdentity struct {
	Namespace  string
	RepoName   string
	ProjectURL string
	Number     int
}

// Equal reports whether all four fields match
func (p PullRequestIdentity) Equal(other PullRequestIdentity) bool {
	return p == other
}

func (p PullRequestIdentity) String() string {
	return fmt.Sprintf("%s/%s#%d (%s)", p.Namespace, p.RepoName, p.Number, p.ProjectURL)
}

// PullRequestRecord is a stored pull request with its surrogate id
type PullRequestRecord struct {
	ID uint
	PullRequestIdentity
}

// Relation links a source pull request to the distribution pull request
// created from it. The pair never changes once stored.
type Relation struct {
	ID           uint
	Source       PullRequestRecord
	Distribution PullRequestRecord
	CreatedAt    time.Time
}

// CommitState is the normalized state of a commit status report
type CommitState string

const (
	StatePending CommitState = "pending"
	StateRunning CommitState = "running"
	StateSuccess CommitState = "success"
	StateFailure CommitState = "failure"
	StateError   CommitState = "error"
)

// CommitStatus is a status report attached to a commit
type CommitStatus struct {
	State       CommitState
	Description string
	CheckName   string
	URL         string
}
