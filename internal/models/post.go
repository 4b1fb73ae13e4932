package models

import (
	"time"

	"github.com/google/uuid"
)

// Peer-review verdicts.
const (
	ReviewApprove       = "approve"
	ReviewReject        = "reject"
	ReviewNeedsRevision = "needs_revision"
)

type Post struct {
	ID        int64     `json:"id"`
	AuthorID  uuid.UUID `json:"author_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	BountyID  *int64    `json:"bounty_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Submission is a post linked to a bounty, annotated with its vote and review tallies.
type Submission struct {
	Post
	VoteScore     int `json:"vote_score"`
	Approvals     int `json:"approvals"`
	Rejections    int `json:"rejections"`
	NeedsRevision int `json:"needs_revision"`
}

// RankedSubmission is a Submission with the scores used to order it.
type RankedSubmission struct {
	Submission
	ReviewScore int     `json:"review_score"`
	RankScore   float64 `json:"rank_score"`
	IsWinner    bool    `json:"is_winner"`
}
