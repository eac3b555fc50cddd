package store

import (
	"context"

	"process-calendar-api/internal/model"
)

type SearchResult struct {
	Events    []*model.Event   `json:"events"`
	Processes []*model.Process `json:"processes"`
	Posts     []*model.Post    `json:"posts"`
	Users     []model.User     `json:"users"`
}

// Search runs a case-insensitive substring match over each requested type,
// restricted to rows the user can see. Admins see every event and post.
func (s *Store) Search(ctx context.Context, userID string, admin bool, q string, types map[string]bool, limit int) (*SearchResult, error) {
	res := &SearchResult{
		Events:    []*model.Event{},
		Processes: []*model.Process{},
		Posts:     []*model.Post{},
		Users:     []model.User{},
	}
	pattern := "%" + escapeLike(q) + "%"

	if types["events"] {
		rows, err := s.pool.Query(ctx,
			`SELECT `+eventCols+` FROM events e
			 WHERE ($2 OR e.creator_id = $1 OR EXISTS (
			         SELECT 1 FROM event_participants p WHERE p.event_id = e.id AND p.user_id = $1))
			   AND (e.title ILIKE $3 OR e.description ILIKE $3 OR e.location ILIKE $3)
			 ORDER BY e.start_time DESC LIMIT $4`,
			userID, admin, pattern, limit)
		if err != nil {
			return nil, err
		}
		if res.Events, err = s.collectEvents(ctx, rows); err != nil {
			return nil, err
		}
	}

	if types["processes"] {
		rows, err := s.pool.Query(ctx,
			`SELECT `+processCols+` FROM processes
			 WHERE ($2 OR owner_id = $1 OR is_template)
			   AND (title ILIKE $3 OR description ILIKE $3)
			 ORDER BY updated_at DESC LIMIT $4`,
			userID, admin, pattern, limit)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			p, err := scanProcess(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			p.Steps = []model.Step{}
			res.Processes = append(res.Processes, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	if types["posts"] {
		posts, err := s.queryPosts(ctx,
			`SELECT `+postCols+` FROM posts p JOIN users u ON u.id = p.author_id
			 WHERE ($2 OR p.author_id = $1 OR p.event_id IN (
			         SELECT event_id FROM event_participants WHERE user_id = $1))
			   AND p.content ILIKE $3
			 ORDER BY p.created_at DESC LIMIT $4`,
			userID, admin, pattern, limit)
		if err != nil {
			return nil, err
		}
		res.Posts = posts
	}

	if types["users"] {
		users, err := s.SearchUsers(ctx, q, limit)
		if err != nil {
			return nil, err
		}
		res.Users = users
	}
	return res, nil
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
