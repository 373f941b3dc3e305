package store

import (
	"time"

	"distsync.dev/distsync/internal/model"
)

// PullRequest is the surrogate-keyed row for a PullRequestIdentity
type PullRequest struct {
	ID         uint   `gorm:"primaryKey"`
	Namespace  string `gorm:"not null;uniqueIndex:idx_pr_identity"`
	RepoName   string `gorm:"not null;uniqueIndex:idx_pr_identity"`
	ProjectURL string `gorm:"not null;uniqueIndex:idx_pr_identity"`
	Number     int    `gorm:"not null;uniqueIndex:idx_pr_identity"`
	CreatedAt  time.Time
}

// Relation links a source pull request to its distribution counterpart.
// Either side participates in at most one relation.
type Relation struct {
	ID                        uint        `gorm:"primaryKey"`
	SourcePullRequestID       uint        `gorm:"not null;uniqueIndex:idx_relation_source"`
	SourcePullRequest         PullRequest `gorm:"foreignKey:SourcePullRequestID"`
	DistributionPullRequestID uint        `gorm:"not null;uniqueIndex:idx_relation_distribution"`
	DistributionPullRequest   PullRequest `gorm:"foreignKey:DistributionPullRequestID"`
	CreatedAt                 time.Time
}

func (p PullRequest) toRecord() model.PullRequestRecord {
	return model.PullRequestRecord{
		ID: p.ID,
		PullRequestIdentity: model.PullRequestIdentity{
			Namespace:  p.Namespace,
			RepoName:   p.RepoName,
			ProjectURL: p.ProjectURL,
			Number:     p.Number,
		},
	}
}

func (r Relation) toModel() model.Relation {
	return model.Relation{
		ID:           r.ID,
		Source:       r.SourcePullRequest.toRecord(),
		Distribution: r.DistributionPullRequest.toRecord(),
		CreatedAt:    r.CreatedAt,
	}
}
