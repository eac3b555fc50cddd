package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"process-calendar-api/internal/model"
)

const MaxFeedLimit = 100

const postCols = `p.id, p.event_id, p.author_id, u.name, p.content, p.created_at, p.updated_at`

func scanPost(row interface{ Scan(...any) error }) (*model.Post, error) {
	p := &model.Post{}
	err := row.Scan(&p.ID, &p.EventID, &p.AuthorID, &p.AuthorName, &p.Content, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	p.Media = []model.Media{}
	return p, nil
}

// CreatePost inserts the post and claims the given media, which must be
// owned by the author and not attached elsewhere.
func (s *Store) CreatePost(ctx context.Context, p *model.Post, mediaIDs []string) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`INSERT INTO posts (id, event_id, author_id, content) VALUES ($1,$2,$3,$4)
			 RETURNING created_at, updated_at`,
			p.ID, p.EventID, p.AuthorID, p.Content,
		).Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
			return err
		}
		if len(mediaIDs) == 0 {
			return nil
		}
		tag, err := tx.Exec(ctx,
			`UPDATE media SET post_id=$1 WHERE id = ANY($2::uuid[]) AND owner_id=$3 AND post_id IS NULL`,
			p.ID, mediaIDs, p.AuthorID)
		if err != nil {
			return err
		}
		if int(tag.RowsAffected()) != len(mediaIDs) {
			return ErrBadReference
		}
		return nil
	})
	if err != nil {
		return mapErr(err)
	}
	created, err := s.Post(ctx, p.ID)
	if err != nil {
		return err
	}
	*p = *created
	return nil
}

func (s *Store) Post(ctx context.Context, id string) (*model.Post, error) {
	p, err := scanPost(s.pool.QueryRow(ctx,
		`SELECT `+postCols+` FROM posts p JOIN users u ON u.id = p.author_id WHERE p.id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := s.attachMedia(ctx, []*model.Post{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) UpdatePost(ctx context.Context, p *model.Post) error {
	return mapErr(s.pool.QueryRow(ctx,
		`UPDATE posts SET content=$1, updated_at=NOW() WHERE id=$2 RETURNING updated_at`,
		p.Content, p.ID,
	).Scan(&p.UpdatedAt))
}

func (s *Store) DeletePost(ctx context.Context, id string) error {
	return affected(s.pool.Exec(ctx, `DELETE FROM posts WHERE id=$1`, id))
}

// Page is a keyset cursor over (created_at, id), newest first. Rows come
// after the cursor row when BeforeID is set; without it, rows strictly older
// than Before.
type Page struct {
	Before   *time.Time
	BeforeID string
	Limit    int
}

func (p Page) beforeID() *string {
	if p.Before == nil || p.BeforeID == "" {
		return nil
	}
	return &p.BeforeID
}

func (p Page) limit() int {
	switch {
	case p.Limit <= 0:
		return 20
	case p.Limit > MaxFeedLimit:
		return MaxFeedLimit
	}
	return p.Limit
}

// Feed returns the user's own posts and posts on events they take part in.
func (s *Store) Feed(ctx context.Context, userID string, page Page) ([]*model.Post, error) {
	return s.queryPosts(ctx,
		`SELECT `+postCols+` FROM posts p JOIN users u ON u.id = p.author_id
		 WHERE (p.author_id = $1 OR p.event_id IN (
		         SELECT event_id FROM event_participants WHERE user_id = $1))
		   AND ($2::timestamptz IS NULL OR p.created_at < $2
		        OR (p.created_at = $2 AND p.id < $3::uuid))
		 ORDER BY p.created_at DESC, p.id DESC
		 LIMIT $4`,
		userID, page.Before, page.beforeID(), page.limit())
}

func (s *Store) EventPosts(ctx context.Context, eventID string, page Page) ([]*model.Post, error) {
	return s.queryPosts(ctx,
		`SELECT `+postCols+` FROM posts p JOIN users u ON u.id = p.author_id
		 WHERE p.event_id = $1
		   AND ($2::timestamptz IS NULL OR p.created_at < $2
		        OR (p.created_at = $2 AND p.id < $3::uuid))
		 ORDER BY p.created_at DESC, p.id DESC
		 LIMIT $4`,
		eventID, page.Before, page.beforeID(), page.limit())
}

func (s *Store) queryPosts(ctx context.Context, sql string, args ...any) ([]*model.Post, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []*model.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := s.attachMedia(ctx, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

func (s *Store) attachMedia(ctx context.Context, posts []*model.Post) error {
	if len(posts) == 0 {
		return nil
	}
	ids := make([]string, len(posts))
	byID := make(map[string]*model.Post, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
		byID[p.ID] = p
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+mediaCols+` FROM media WHERE post_id = ANY($1::uuid[]) ORDER BY created_at`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return err
		}
		if p := byID[*m.PostID]; p != nil {
			p.Media = append(p.Media, *m)
		}
	}
	return rows.Err()
}
