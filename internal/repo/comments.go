package repo

import (
	"context"

	"taskboard/internal/domain"
)

func (r Repo) InsertComment(ctx context.Context, c domain.Comment) (domain.Comment, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	res, err := r.DB.ExecContext(ctx, `INSERT INTO comments(task_id,author_id,text,created_at) VALUES (?,?,?,?)`,
		c.TaskID, c.AuthorID, c.Text, c.CreatedAt)
	if err != nil {
		return c, storeErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return c, storeErr(err)
	}
	c.ID = id
	return c, nil
}

// ListComments returns a task's comments in insertion order.
func (r Repo) ListComments(ctx context.Context, taskID int64) ([]domain.Comment, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,author_id,text,created_at FROM comments WHERE task_id=? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Text, &c.CreatedAt); err != nil {
			return nil, storeErr(err)
		}
		res = append(res, c)
	}
	return res, storeErr(rows.Err())
}
