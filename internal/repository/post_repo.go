package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
)

type PostRepo struct {
	pool *pgxpool.Pool
}

func NewPostRepo(pool *pgxpool.Pool) *PostRepo {
	return &PostRepo{pool: pool}
}

func (r *PostRepo) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	var p models.Post
	err := r.pool.QueryRow(ctx, `
		SELECT id, author_id, title, body, bounty_id, created_at FROM posts WHERE id = $1
	`, id).Scan(&p.ID, &p.AuthorID, &p.Title, &p.Body, &p.BountyID, &p.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// ListSubmissions returns every post linked to the bounty with its vote score and review counts.
func (r *PostRepo) ListSubmissions(ctx context.Context, bountyID int64) ([]models.Submission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.author_id, p.title, p.body, p.bounty_id, p.created_at,
		       COALESCE((SELECT SUM(v.value) FROM votes v WHERE v.post_id = p.id), 0),
		       COUNT(rv.*) FILTER (WHERE rv.verdict = 'approve'),
		       COUNT(rv.*) FILTER (WHERE rv.verdict = 'reject'),
		       COUNT(rv.*) FILTER (WHERE rv.verdict = 'needs_revision')
		FROM posts p
		LEFT JOIN reviews rv ON rv.post_id = p.id
		WHERE p.bounty_id = $1
		GROUP BY p.id
		ORDER BY p.created_at ASC, p.id ASC
	`, bountyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Submission{}
	for rows.Next() {
		var s models.Submission
		if err := rows.Scan(&s.ID, &s.AuthorID, &s.Title, &s.Body, &s.BountyID, &s.CreatedAt,
			&s.VoteScore, &s.Approvals, &s.Rejections, &s.NeedsRevision); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// LinkToBounty attaches an unlinked post owned by the caller to a bounty that is still open.
func (r *PostRepo) LinkToBounty(ctx context.Context, postID, bountyID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE posts SET bounty_id = $2
		WHERE id = $1 AND bounty_id IS NULL
		  AND EXISTS (SELECT 1 FROM bounties b WHERE b.id = $2 AND b.status = 'open')
	`, postID, bountyID)
	if err != nil {
		return false, translate(err)
	}
	return tag.RowsAffected() == 1, nil
}
