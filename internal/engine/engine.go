package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"taskboard/internal/config"
	"taskboard/internal/domain"
	"taskboard/internal/engine/auth"
	"taskboard/internal/repo"
)

// Sizes accepted for a page request. The upper bound is contractual, not
// tunable.
const (
	PageSizeMin = 1
	PageSizeMax = 100
)

// InvalidRequestError covers malformed filter and pagination input.
type InvalidRequestError struct {
	Reason string
}

func (e InvalidRequestError) Error() string { return e.Reason }

// Engine orchestrates task lifecycle operations: it validates input,
// consults the authorization policy, then delegates to the store. It holds
// no task state between calls.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	timeout := time.Duration(0)
	if cfg != nil {
		timeout = cfg.StoreTimeout()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db, Timeout: timeout},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() string {
	n := e.Now
	if n == nil {
		n = time.Now
	}
	return n().UTC().Format(time.RFC3339)
}

// TaskCreateOptions are parameters for creating a task. Status and
// Priority may be left empty to take the defaults.
type TaskCreateOptions struct {
	Title       string
	Description string
	Status      domain.Status
	Priority    domain.Priority
	AssigneeID  int64
}

// CreateTask persists a new task authored by the acting admin. The
// assignee must resolve in the user directory.
func (e Engine) CreateTask(ctx context.Context, actor auth.Actor, opts TaskCreateOptions) (domain.Task, error) {
	if !auth.Allow(actor, auth.ActionCreate, nil) {
		return domain.Task{}, auth.ForbiddenError{Action: auth.ActionCreate}
	}
	if opts.Title == "" {
		return domain.Task{}, InvalidRequestError{Reason: "title is required"}
	}
	if opts.Status == "" {
		opts.Status = domain.StatusPending
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !opts.Status.Valid() {
		return domain.Task{}, InvalidRequestError{Reason: fmt.Sprintf("unknown status %q", opts.Status)}
	}
	if !opts.Priority.Valid() {
		return domain.Task{}, InvalidRequestError{Reason: fmt.Sprintf("unknown priority %q", opts.Priority)}
	}
	if err := e.resolveUser(ctx, opts.AssigneeID); err != nil {
		return domain.Task{}, err
	}
	now := e.now()
	t := domain.Task{
		Title:       opts.Title,
		Description: opts.Description,
		Status:      opts.Status,
		Priority:    opts.Priority,
		AuthorID:    actor.ID,
		AssigneeID:  opts.AssigneeID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return e.Repo.InsertTask(ctx, t)
}

// TaskPatch is a sparse update: nil fields are left untouched. An explicit
// pointer per field keeps "absent" distinct from a zero value.
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *domain.Status
	Priority    *domain.Priority
	AssigneeID  *int64
}

func (p TaskPatch) apply(t *domain.Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.AssigneeID != nil {
		t.AssigneeID = *p.AssigneeID
	}
}

func (p TaskPatch) validate() error {
	if p.Title != nil && *p.Title == "" {
		return InvalidRequestError{Reason: "title must not be empty"}
	}
	if p.Status != nil && !p.Status.Valid() {
		return InvalidRequestError{Reason: fmt.Sprintf("unknown status %q", *p.Status)}
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return InvalidRequestError{Reason: fmt.Sprintf("unknown priority %q", *p.Priority)}
	}
	return nil
}

// UpdateTask merges the patch into the stored task. Admin only.
func (e Engine) UpdateTask(ctx context.Context, actor auth.Actor, taskID int64, patch TaskPatch) (domain.Task, error) {
	if !auth.Allow(actor, auth.ActionUpdate, nil) {
		return domain.Task{}, auth.ForbiddenError{Action: auth.ActionUpdate}
	}
	if err := patch.validate(); err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if patch.AssigneeID != nil {
		if err := e.resolveUser(ctx, *patch.AssigneeID); err != nil {
			return t, err
		}
	}
	patch.apply(&t)
	t.UpdatedAt = e.now()
	return e.Repo.UpdateTask(ctx, t)
}

// AssignTask reassigns a task once both ids resolve. Any authenticated
// actor may do this; see the policy table.
func (e Engine) AssignTask(ctx context.Context, actor auth.Actor, taskID, assigneeID int64) (domain.Task, error) {
	if !auth.Allow(actor, auth.ActionAssign, nil) {
		return domain.Task{}, auth.ForbiddenError{Action: auth.ActionAssign}
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if err := e.resolveUser(ctx, assigneeID); err != nil {
		return t, err
	}
	t.AssigneeID = assigneeID
	t.UpdatedAt = e.now()
	return e.Repo.UpdateTask(ctx, t)
}

// UpdateTaskStatus changes a task's status. Admins always may; a plain
// user only when they are the assignee. The task is loaded first, so a
// missing task reports not-found rather than forbidden.
func (e Engine) UpdateTaskStatus(ctx context.Context, actor auth.Actor, taskID int64, status domain.Status) (domain.Task, error) {
	if !status.Valid() {
		return domain.Task{}, InvalidRequestError{Reason: fmt.Sprintf("unknown status %q", status)}
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if !auth.Allow(actor, auth.ActionUpdateStatus, &t) {
		return t, auth.ForbiddenError{Action: auth.ActionUpdateStatus}
	}
	t.Status = status
	t.UpdatedAt = e.now()
	return e.Repo.UpdateTask(ctx, t)
}

// UpdateTaskPriority changes a task's priority. Admin only.
func (e Engine) UpdateTaskPriority(ctx context.Context, actor auth.Actor, taskID int64, priority domain.Priority) (domain.Task, error) {
	if !auth.Allow(actor, auth.ActionUpdatePriority, nil) {
		return domain.Task{}, auth.ForbiddenError{Action: auth.ActionUpdatePriority}
	}
	if !priority.Valid() {
		return domain.Task{}, InvalidRequestError{Reason: fmt.Sprintf("unknown priority %q", priority)}
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	t.Priority = priority
	t.UpdatedAt = e.now()
	return e.Repo.UpdateTask(ctx, t)
}

// DeleteTask removes a task and all of its comments. Admin only.
func (e Engine) DeleteTask(ctx context.Context, actor auth.Actor, taskID int64) error {
	if !auth.Allow(actor, auth.ActionDelete, nil) {
		return auth.ForbiddenError{Action: auth.ActionDelete}
	}
	return e.Repo.DeleteTask(ctx, taskID)
}

// AddComment appends a comment to a task. Only the task's author or its
// assignee may comment; anyone else gets UnauthorizedError.
func (e Engine) AddComment(ctx context.Context, actor auth.Actor, taskID int64, text string) (domain.Comment, error) {
	if text == "" {
		return domain.Comment{}, InvalidRequestError{Reason: "text is required"}
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Comment{}, err
	}
	if !auth.Allow(actor, auth.ActionComment, &t) {
		return domain.Comment{}, auth.UnauthorizedError{TaskID: taskID}
	}
	c := domain.Comment{
		TaskID:    t.ID,
		AuthorID:  actor.ID,
		Text:      text,
		CreatedAt: e.now(),
	}
	return e.Repo.InsertComment(ctx, c)
}

// TasksByAuthor returns all tasks created by the given user, empty slice
// when none.
func (e Engine) TasksByAuthor(ctx context.Context, authorID int64) ([]domain.Task, error) {
	tasks, err := e.Repo.FindByAuthor(ctx, authorID)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, nil
}

// TasksByAssignee returns all tasks assigned to the given user, empty
// slice when none.
func (e Engine) TasksByAssignee(ctx context.Context, assigneeID int64) ([]domain.Task, error) {
	tasks, err := e.Repo.FindByAssignee(ctx, assigneeID)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, nil
}

// TaskQuery is a filter request: sparse equality predicates plus offset
// pagination.
type TaskQuery struct {
	Status     *domain.Status
	Priority   *domain.Priority
	AuthorID   *int64
	AssigneeID *int64
	Page       int
	Size       int
}

// TaskPage mirrors the paged listing envelope.
type TaskPage struct {
	Items         []domain.Task
	Page          int
	Size          int
	TotalElements int64
	TotalPages    int
}

func validatePagination(page, size int) error {
	if page < 0 {
		return InvalidRequestError{Reason: "page number must not be less than zero"}
	}
	if size < PageSizeMin || size > PageSizeMax {
		return InvalidRequestError{Reason: fmt.Sprintf("page size must be between %d and %d", PageSizeMin, PageSizeMax)}
	}
	return nil
}

// ListTasks runs the filtered, paginated listing. At least one filter must
// be set. An empty result is reported as ErrTaskNotFound, not as an empty
// page; callers depend on that contract.
func (e Engine) ListTasks(ctx context.Context, q TaskQuery) (TaskPage, error) {
	if err := validatePagination(q.Page, q.Size); err != nil {
		return TaskPage{}, err
	}
	if q.Status != nil && !q.Status.Valid() {
		return TaskPage{}, InvalidRequestError{Reason: fmt.Sprintf("unknown status %q", *q.Status)}
	}
	if q.Priority != nil && !q.Priority.Valid() {
		return TaskPage{}, InvalidRequestError{Reason: fmt.Sprintf("unknown priority %q", *q.Priority)}
	}
	filter := repo.TaskFilter{
		Status:     q.Status,
		Priority:   q.Priority,
		AuthorID:   q.AuthorID,
		AssigneeID: q.AssigneeID,
	}
	if filter.Empty() {
		return TaskPage{}, InvalidRequestError{Reason: "at least one filter parameter must be provided"}
	}
	items, total, err := e.Repo.FindFiltered(ctx, filter, q.Page, q.Size)
	if err != nil {
		return TaskPage{}, err
	}
	if len(items) == 0 {
		return TaskPage{}, fmt.Errorf("no tasks found with the specified filters: %w", repo.ErrTaskNotFound)
	}
	return newTaskPage(items, q.Page, q.Size, total), nil
}

// ListAllTasks pages through every task. Admin only; an empty page is a
// success here, unlike the filtered listing.
func (e Engine) ListAllTasks(ctx context.Context, actor auth.Actor, page, size int) (TaskPage, error) {
	if err := validatePagination(page, size); err != nil {
		return TaskPage{}, err
	}
	if !auth.Allow(actor, auth.ActionListAll, nil) {
		return TaskPage{}, auth.ForbiddenError{Action: auth.ActionListAll}
	}
	items, total, err := e.Repo.FindAll(ctx, page, size)
	if err != nil {
		return TaskPage{}, err
	}
	return newTaskPage(items, page, size, total), nil
}

func newTaskPage(items []domain.Task, page, size int, total int64) TaskPage {
	if items == nil {
		items = []domain.Task{}
	}
	pages := int(total) / size
	if int(total)%size != 0 {
		pages++
	}
	return TaskPage{
		Items:         items,
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    pages,
	}
}

func (e Engine) resolveUser(ctx context.Context, id int64) error {
	ok, err := e.Repo.UserExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("assignee %d: %w", id, repo.ErrUserNotFound)
	}
	return nil
}
