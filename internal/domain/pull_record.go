package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PullRecord is the audit trail of repository pull requests handled by the
// ops worker. The fetch itself is an external process concern; the record is
// what operators query.
type PullRecord struct {
	ID          string    `bson:"_id" json:"id"`
	RepoID      string    `bson:"repo_id" json:"repoId"`
	Branch      string    `bson:"branch" json:"branch"`
	RequestedAt time.Time `bson:"requested_at" json:"requestedAt"`
}

type PullRecordRepository interface {
	Record(ctx context.Context, rec *PullRecord) error
	ListByRepo(ctx context.Context, repoID string, limit int) ([]PullRecord, error)
}

func NewPullRecord(repoID, branch string) *PullRecord {
	return &PullRecord{
		ID:          uuid.NewString(),
		RepoID:      repoID,
		Branch:      branch,
		RequestedAt: time.Now(),
	}
}
