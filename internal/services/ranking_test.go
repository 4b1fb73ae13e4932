package services

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
)

func sub(id int64, created time.Time, vote, approvals, rejections int) models.Submission {
	return models.Submission{
		Post:       models.Post{ID: id, CreatedAt: created},
		VoteScore:  vote,
		Approvals:  approvals,
		Rejections: rejections,
	}
}

func ids(ranked []models.RankedSubmission) []int64 {
	out := make([]int64, len(ranked))
	for i, r := range ranked {
		out[i] = r.ID
	}
	return out
}

func TestRankSubmissions_Example(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := sub(1, t0, 10, 2, 0)
	b := sub(2, t0.Add(time.Minute), 3, 0, 1)

	ranked := RankSubmissions([]models.Submission{b, a}, nil)

	if got := ids(ranked); got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected [A, B], got %v", got)
	}
	if math.Abs(ranked[0].RankScore-6.4) > 1e-9 {
		t.Errorf("rankScore(A) = %v, want 6.4", ranked[0].RankScore)
	}
	if math.Abs(ranked[1].RankScore-(-0.6)) > 1e-9 {
		t.Errorf("rankScore(B) = %v, want -0.6", ranked[1].RankScore)
	}
	if ranked[0].ReviewScore != 4 || ranked[1].ReviewScore != -3 {
		t.Errorf("review scores = %d, %d; want 4, -3", ranked[0].ReviewScore, ranked[1].ReviewScore)
	}
}

func TestRankSubmissions_WinnerPinnedFirst(t *testing.T) {
	t0 := time.Now()
	subs := []models.Submission{
		sub(1, t0, 50, 5, 0),
		sub(2, t0, -4, 0, 3),
		sub(3, t0, 1, 1, 0),
	}
	winner := int64(2)

	ranked := RankSubmissions(subs, &winner)

	if ranked[0].ID != 2 || !ranked[0].IsWinner {
		t.Fatalf("winner should be first, got %v", ids(ranked))
	}
	if ranked[1].ID != 1 || ranked[2].ID != 3 {
		t.Errorf("remaining order = %v, want [2 1 3]", ids(ranked))
	}
}

func TestRankSubmissions_DeterministicForAnyInputOrder(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	subs := []models.Submission{
		// 3 and 4 tie on score (0.4*3 = 1.2 = 0.6*2) and creation time; id breaks it.
		sub(4, t0, 0, 1, 0),
		sub(3, t0, 3, 0, 0),
		// 5 ties with 3 and 4 on score but was created earlier.
		sub(5, t0.Add(-time.Hour), 3, 0, 0),
		sub(6, t0, 10, 0, 0),
		sub(7, t0, -1, 0, 0),
	}
	want := []int64{6, 5, 3, 4, 7}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		shuffled := append([]models.Submission(nil), subs...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := ids(RankSubmissions(shuffled, nil))
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("run %d: got %v, want %v", i, got, want)
			}
		}
	}
}

func TestRankSubmissions_DoesNotMutateInput(t *testing.T) {
	t0 := time.Now()
	subs := []models.Submission{sub(1, t0, 0, 0, 0), sub(2, t0, 9, 0, 0)}

	RankSubmissions(subs, nil)

	if subs[0].ID != 1 || subs[1].ID != 2 {
		t.Fatalf("input reordered: %v", subs)
	}
}

func TestRankSubmissions_Empty(t *testing.T) {
	if got := RankSubmissions(nil, nil); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}
