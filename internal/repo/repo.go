package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskboard/internal/domain"
)

// Repo is the SQL-backed task store. Timeout bounds every store call;
// deadline hits surface as ErrStoreUnavailable rather than being retried.
type Repo struct {
	DB      *sql.DB
	Timeout time.Duration
}

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrUserNotFound = errors.New("user not found")

	// ErrConflict means a concurrent writer bumped the task version
	// between our read and our write.
	ErrConflict = errors.New("conflicting concurrent update")

	ErrStoreUnavailable = errors.New("store unavailable")
)

func (r Repo) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.Timeout)
}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

const taskColumns = `id,title,description,status,priority,author_id,assignee_id,version,created_at,updated_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var desc sql.NullString
	err := scan(&t.ID, &t.Title, &desc, &t.Status, &t.Priority, &t.AuthorID, &t.AssigneeID, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	if desc.Valid {
		t.Description = desc.String
	}
	return t, nil
}

// InsertTask persists a new task and returns it with the assigned id.
func (r Repo) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	res, err := r.DB.ExecContext(ctx, `INSERT INTO tasks(title,description,status,priority,author_id,assignee_id,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,1,?,?)`,
		t.Title, nullable(t.Description), t.Status, t.Priority, t.AuthorID, t.AssigneeID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return t, storeErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return t, storeErr(err)
	}
	t.ID = id
	t.Version = 1
	return t, nil
}

// GetTask loads a task with its comments in insertion order.
func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return t, ErrTaskNotFound
	}
	if err != nil {
		return t, storeErr(err)
	}
	comments, err := r.ListComments(ctx, t.ID)
	if err != nil {
		return t, err
	}
	t.Comments = comments
	return t, nil
}

// UpdateTask writes t back guarded by its version. A version mismatch on
// an existing row is ErrConflict; a vanished row is ErrTaskNotFound.
func (r Repo) UpdateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, status=?, priority=?, assignee_id=?, version=version+1, updated_at=?
WHERE id=? AND version=?`,
		t.Title, nullable(t.Description), t.Status, t.Priority, t.AssigneeID, t.UpdatedAt, t.ID, t.Version)
	if err != nil {
		return t, storeErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return t, storeErr(err)
	}
	if affected == 0 {
		var n int
		err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id=?`, t.ID).Scan(&n)
		if err == sql.ErrNoRows {
			return t, ErrTaskNotFound
		}
		if err != nil {
			return t, storeErr(err)
		}
		return t, ErrConflict
	}
	t.Version++
	return t, nil
}

// DeleteTask removes a task and its comments in one transaction.
func (r Repo) DeleteTask(ctx context.Context, id int64) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE task_id=?`, id); err != nil {
		return storeErr(err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return storeErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return storeErr(tx.Commit())
}

func (r Repo) FindByAuthor(ctx context.Context, authorID int64) ([]domain.Task, error) {
	return r.findBy(ctx, "author_id", authorID)
}

func (r Repo) FindByAssignee(ctx context.Context, assigneeID int64) ([]domain.Task, error) {
	return r.findBy(ctx, "assignee_id", assigneeID)
}

func (r Repo) findBy(ctx context.Context, column string, id int64) ([]domain.Task, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE `+column+`=? ORDER BY id ASC`, id)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// TaskFilter holds the sparse equality predicates for FindFiltered. A nil
// field imposes no constraint.
type TaskFilter struct {
	Status     *domain.Status
	Priority   *domain.Priority
	AuthorID   *int64
	AssigneeID *int64
}

// Empty reports whether no filter field is set.
func (f TaskFilter) Empty() bool {
	return f.Status == nil && f.Priority == nil && f.AuthorID == nil && f.AssigneeID == nil
}

func (f TaskFilter) clauses() (string, []any) {
	var clauses []string
	var args []any
	if f.Status != nil {
		clauses = append(clauses, "status=?")
		args = append(args, *f.Status)
	}
	if f.Priority != nil {
		clauses = append(clauses, "priority=?")
		args = append(args, *f.Priority)
	}
	if f.AuthorID != nil {
		clauses = append(clauses, "author_id=?")
		args = append(args, *f.AuthorID)
	}
	if f.AssigneeID != nil {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, *f.AssigneeID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// FindFiltered returns the page [page*size, page*size+size) of tasks
// matching every set predicate, plus the total match count. Ordering is
// id ascending, stable across calls absent writes.
func (r Repo) FindFiltered(ctx context.Context, f TaskFilter, page, size int) ([]domain.Task, int64, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	where, args := f.clauses()

	var total int64
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM tasks `+where, args...).Scan(&total); err != nil {
		return nil, 0, storeErr(err)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY id ASC LIMIT ? OFFSET ?`
	args = append(args, size, page*size)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	defer rows.Close()
	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// FindAll is FindFiltered without predicates.
func (r Repo) FindAll(ctx context.Context, page, size int) ([]domain.Task, int64, error) {
	return r.FindFiltered(ctx, TaskFilter{}, page, size)
}

func collectTasks(rows *sql.Rows) ([]domain.Task, error) {
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, storeErr(err)
		}
		res = append(res, t)
	}
	return res, storeErr(rows.Err())
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
