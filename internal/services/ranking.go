package services

import (
	"sort"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
)

// Ranking weights. rankScore = 0.4*voteScore + 0.6*reviewScore.
const (
	approvalWeight  = 2
	rejectionWeight = 3
	voteWeight      = 0.4
	reviewWeight    = 0.6
)

// ReviewScore is 2 per approval minus 3 per rejection. needs_revision verdicts do not count.
func ReviewScore(s models.Submission) int {
	return s.Approvals*approvalWeight - s.Rejections*rejectionWeight
}

// RankSubmissions orders submissions by rank score, highest first, with the winner pinned to
// the top. Ties fall back to creation time, then id, so the order does not depend on input order.
// The input slice is not modified.
func RankSubmissions(subs []models.Submission, winnerPostID *int64) []models.RankedSubmission {
	out := make([]models.RankedSubmission, len(subs))
	keys := make(map[int64]int, len(subs))
	for i, s := range subs {
		review := ReviewScore(s)
		out[i] = models.RankedSubmission{
			Submission:  s,
			ReviewScore: review,
			RankScore:   voteWeight*float64(s.VoteScore) + reviewWeight*float64(review),
			IsWinner:    winnerPostID != nil && s.ID == *winnerPostID,
		}
		// 10*rankScore as an integer, so equal scores compare equal.
		keys[s.ID] = 4*s.VoteScore + 6*review
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsWinner != b.IsWinner {
			return a.IsWinner
		}
		if ka, kb := keys[a.ID], keys[b.ID]; ka != kb {
			return ka > kb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}
