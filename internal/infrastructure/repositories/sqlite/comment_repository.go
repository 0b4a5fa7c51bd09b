package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
)

type CommentRepository struct {
	db *sql.DB
}

func NewCommentRepository(db *sql.DB) ports.CommentRepository {
	return &CommentRepository{db: db}
}

func (r *CommentRepository) AppendComment(ctx context.Context, roomID domain.RoomID, comment domain.Comment) error {
	query := "INSERT INTO comments (id, room_id, author, author_name, content, created_at) VALUES (?, ?, ?, ?, ?, ?)"
	if _, err := r.db.ExecContext(ctx, query,
		comment.ID, string(roomID), string(comment.Author), comment.AuthorName, comment.Text, comment.Timestamp.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert comment for room %s: %w", roomID, err)
	}
	return nil
}

func (r *CommentRepository) LoadComments(ctx context.Context, roomID domain.RoomID) ([]domain.Comment, error) {
	query := "SELECT id, author, author_name, content, created_at FROM comments WHERE room_id = ? ORDER BY seq"
	rows, err := r.db.QueryContext(ctx, query, string(roomID))
	if err != nil {
		return nil, fmt.Errorf("failed to query comments for room %s: %w", roomID, err)
	}
	defer rows.Close()

	comments := []domain.Comment{}
	for rows.Next() {
		var (
			c         domain.Comment
			author    string
			createdAt time.Time
		)
		if err := rows.Scan(&c.ID, &author, &c.AuthorName, &c.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		c.RoomID = roomID
		c.Author = domain.ConnID(author)
		c.Timestamp = createdAt
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over comments for room %s: %w", roomID, err)
	}
	return comments, nil
}
