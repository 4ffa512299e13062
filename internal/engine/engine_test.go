package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/engine/auth"
	"taskboard/internal/migrate"
	"taskboard/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context

	Admin auth.Actor
	Bob   auth.Actor
	Carol auth.Actor
}

// newTestEnv opens a fresh database and seeds three directory users:
// id 1 is an admin, ids 2 and 3 are plain users.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	for _, u := range []struct {
		email string
		roles []domain.Role
	}{
		{"alice@example.com", []domain.Role{domain.RoleAdmin}},
		{"bob@example.com", []domain.Role{domain.RoleUser}},
		{"carol@example.com", []domain.Role{domain.RoleUser}},
	} {
		if _, err := eng.CreateUser(ctx, u.email, u.roles); err != nil {
			t.Fatalf("seed user %s: %v", u.email, err)
		}
	}
	return testEnv{
		Engine: eng,
		Ctx:    ctx,
		Admin:  auth.Actor{ID: 1, Roles: []domain.Role{domain.RoleAdmin}},
		Bob:    auth.Actor{ID: 2, Roles: []domain.Role{domain.RoleUser}},
		Carol:  auth.Actor{ID: 3, Roles: []domain.Role{domain.RoleUser}},
	}
}

func (env testEnv) mustCreate(t *testing.T, opts engine.TaskCreateOptions) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, env.Admin, opts)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestCreateTaskDefaults(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreate(t, engine.TaskCreateOptions{Title: "Ship release", AssigneeID: 2})
	if task.Status != domain.StatusPending {
		t.Fatalf("status = %s, want PENDING", task.Status)
	}
	if task.Priority != domain.PriorityMedium {
		t.Fatalf("priority = %s, want MEDIUM", task.Priority)
	}
	if task.AuthorID != env.Admin.ID {
		t.Fatalf("author = %d, want %d", task.AuthorID, env.Admin.ID)
	}
	if task.ID == 0 {
		t.Fatal("expected an assigned id")
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.CreateTask(env.Ctx, env.Bob, engine.TaskCreateOptions{Title: "nope", AssigneeID: 2})
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("non-admin create: got %v, want ForbiddenError", err)
	}

	_, err = env.Engine.CreateTask(env.Ctx, env.Admin, engine.TaskCreateOptions{AssigneeID: 2})
	var ire engine.InvalidRequestError
	if !errors.As(err, &ire) {
		t.Fatalf("empty title: got %v, want InvalidRequestError", err)
	}

	_, err = env.Engine.CreateTask(env.Ctx, env.Admin, engine.TaskCreateOptions{Title: "ghost", AssigneeID: 99})
	if !errors.Is(err, repo.ErrUserNotFound) {
		t.Fatalf("unknown assignee: got %v, want ErrUserNotFound", err)
	}

	_, err = env.Engine.CreateTask(env.Ctx, env.Admin, engine.TaskCreateOptions{Title: "bad", Status: "WAITING", AssigneeID: 2})
	if !errors.As(err, &ire) {
		t.Fatalf("unknown status: got %v, want InvalidRequestError", err)
	}
}

func TestUpdateTaskPatchMerge(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreate(t, engine.TaskCreateOptions{
		Title:       "Original",
		Description: "keep me",
		Priority:    domain.PriorityHigh,
		AssigneeID:  2,
	})

	title := "Renamed"
	status := domain.StatusInProgress
	got, err := env.Engine.UpdateTask(env.Ctx, env.Admin, task.ID, engine.TaskPatch{
		Title:  &title,
		Status: &status,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Title != "Renamed" || got.Status != domain.StatusInProgress {
		t.Fatalf("patched fields not applied: %+v", got)
	}
	if got.Description != "keep me" || got.Priority != domain.PriorityHigh || got.AssigneeID != 2 {
		t.Fatalf("untouched fields changed: %+v", got)
	}

	empty := ""
	_, err = env.Engine.UpdateTask(env.Ctx, env.Admin, task.ID, engine.TaskPatch{Title: &empty})
	var ire engine.InvalidRequestError
	if !errors.As(err, &ire) {
		t.Fatalf("empty title patch: got %v, want InvalidRequestError", err)
	}

	_, err = env.Engine.UpdateTask(env.Ctx, env.Bob, task.ID, engine.TaskPatch{Title: &title})
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("non-admin update: got %v, want ForbiddenError", err)
	}
}

func TestStatusUpdatePermissions(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreate(t, engine.TaskCreateOptions{Title: "Work", AssigneeID: 2})

	// the assignee may move their own task
	got, err := env.Engine.UpdateTaskStatus(env.Ctx, env.Bob, task.ID, domain.StatusInProgress)
	if err != nil {
		t.Fatalf("assignee status update: %v", err)
	}
	if got.Status != domain.StatusInProgress {
		t.Fatalf("status = %s", got.Status)
	}

	// another plain user may not
	_, err = env.Engine.UpdateTaskStatus(env.Ctx, env.Carol, task.ID, domain.StatusDone)
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("non-assignee status update: got %v, want ForbiddenError", err)
	}

	// admins always may
	got, err = env.Engine.UpdateTaskStatus(env.Ctx, env.Admin, task.ID, domain.StatusDone)
	if err != nil || got.Status != domain.StatusDone {
		t.Fatalf("admin status update: %v", err)
	}

	// a missing task reports not-found before any permission verdict
	_, err = env.Engine.UpdateTaskStatus(env.Ctx, env.Carol, 404, domain.StatusDone)
	if !errors.Is(err, repo.ErrTaskNotFound) {
		t.Fatalf("missing task: got %v, want ErrTaskNotFound", err)
	}
}

func TestPriorityUpdateAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreate(t, engine.TaskCreateOptions{Title: "Prio", AssigneeID: 2})

	_, err := env.Engine.UpdateTaskPriority(env.Ctx, env.Bob, task.ID, domain.PriorityHigh)
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("assignee priority update: got %v, want ForbiddenError", err)
	}

	got, err := env.Engine.UpdateTaskPriority(env.Ctx, env.Admin, task.ID, domain.PriorityLow)
	if err != nil || got.Priority != domain.PriorityLow {
		t.Fatalf("admin priority update: %v", err)
	}
}

func TestCommentAuthorization(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreate(t, engine.TaskCreateOptions{Title: "Discuss", AssigneeID: 2})

	// author (the admin who created it) and assignee may comment
	if _, err := env.Engine.AddComment(env.Ctx, env.Admin, task.ID, "author here"); err != nil {
		t.Fatalf("author comment: %v", err)
	}
	c, err := env.Engine.AddComment(env.Ctx, env.Bob, task.ID, "assignee here")
	if err != nil {
		t.Fatalf("assignee comment: %v", err)
	}
	if c.AuthorID != env.Bob.ID || c.TaskID != task.ID {
		t.Fatalf("comment fields: %+v", c)
	}

	// bystanders may not
	_, err = env.Engine.AddComment(env.Ctx, env.Carol, task.ID, "drive-by")
	var ue auth.UnauthorizedError
	if !errors.As(err, &ue) {
		t.Fatalf("bystander comment: got %v, want UnauthorizedError", err)
	}

	_, err = env.Engine.AddComment(env.Ctx, env.Bob, task.ID, "")
	var ire engine.InvalidRequestError
	if !errors.As(err, &ire) {
		t.Fatalf("empty comment: got %v, want InvalidRequestError", err)
	}

	_, err = env.Engine.AddComment(env.Ctx, env.Bob, 404, "ghost")
	if !errors.Is(err, repo.ErrTaskNotFound) {
		t.Fatalf("comment on missing task: got %v, want ErrTaskNotFound", err)
	}
}

func TestDeleteTaskCascadesComments(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreate(t, engine.TaskCreateOptions{Title: "Doomed", AssigneeID: 2})
	if _, err := env.Engine.AddComment(env.Ctx, env.Bob, task.ID, "soon gone"); err != nil {
		t.Fatalf("comment: %v", err)
	}

	_, err := env.Engine.AddComment(env.Ctx, env.Admin, task.ID, "second")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}

	if err := env.Engine.DeleteTask(env.Ctx, env.Bob, task.ID); err == nil {
		t.Fatal("non-admin delete succeeded")
	}
	if err := env.Engine.DeleteTask(env.Ctx, env.Admin, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrTaskNotFound) {
		t.Fatalf("task still readable: %v", err)
	}
	comments, err := env.Engine.Repo.ListComments(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 0 {
		t.Fatalf("expected no comments after delete, got %d", len(comments))
	}
	if err := env.Engine.DeleteTask(env.Ctx, env.Admin, task.ID); !errors.Is(err, repo.ErrTaskNotFound) {
		t.Fatalf("second delete: got %v, want ErrTaskNotFound", err)
	}
}

func TestListTasksValidation(t *testing.T) {
	env := newTestEnv(t)
	status := domain.StatusPending

	var ire engine.InvalidRequestError
	_, err := env.Engine.ListTasks(env.Ctx, engine.TaskQuery{Status: &status, Page: -1, Size: 10})
	if !errors.As(err, &ire) {
		t.Fatalf("negative page: got %v", err)
	}
	_, err = env.Engine.ListTasks(env.Ctx, engine.TaskQuery{Status: &status, Page: 0, Size: 0})
	if !errors.As(err, &ire) {
		t.Fatalf("zero size: got %v", err)
	}
	_, err = env.Engine.ListTasks(env.Ctx, engine.TaskQuery{Status: &status, Page: 0, Size: 101})
	if !errors.As(err, &ire) {
		t.Fatalf("oversized page: got %v", err)
	}
	_, err = env.Engine.ListTasks(env.Ctx, engine.TaskQuery{Page: 0, Size: 10})
	if !errors.As(err, &ire) {
		t.Fatalf("no filters: got %v", err)
	}

	// the upper bound itself is accepted
	env.mustCreate(t, engine.TaskCreateOptions{Title: "boundary", AssigneeID: 2})
	if _, err := env.Engine.ListTasks(env.Ctx, engine.TaskQuery{Status: &status, Page: 0, Size: 100}); err != nil {
		t.Fatalf("size 100: %v", err)
	}
}

func TestListTasksEmptyResultIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, engine.TaskCreateOptions{Title: "only pending", AssigneeID: 2})

	status := domain.StatusDone
	_, err := env.Engine.ListTasks(env.Ctx, engine.TaskQuery{Status: &status, Page: 0, Size: 10})
	if !errors.Is(err, repo.ErrTaskNotFound) {
		t.Fatalf("empty result: got %v, want ErrTaskNotFound", err)
	}
}

func TestListTasksFiltersAndPaging(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.mustCreate(t, engine.TaskCreateOptions{Title: "chore", AssigneeID: 2})
	}
	env.mustCreate(t, engine.TaskCreateOptions{Title: "urgent", Priority: domain.PriorityHigh, AssigneeID: 3})

	assignee := int64(2)
	page, err := env.Engine.ListTasks(env.Ctx, engine.TaskQuery{AssigneeID: &assignee, Page: 0, Size: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.TotalElements != 5 || page.TotalPages != 3 || len(page.Items) != 2 {
		t.Fatalf("page = %+v", page)
	}

	prio := domain.PriorityHigh
	page, err = env.Engine.ListTasks(env.Ctx, engine.TaskQuery{Priority: &prio, Page: 0, Size: 10})
	if err != nil {
		t.Fatalf("priority filter: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Title != "urgent" {
		t.Fatalf("priority filter items = %+v", page.Items)
	}
}

func TestListAllTasks(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Engine.ListAllTasks(env.Ctx, env.Bob, 0, 10)
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("non-admin list all: got %v, want ForbiddenError", err)
	}

	// an empty board is a valid empty page here
	page, err := env.Engine.ListAllTasks(env.Ctx, env.Admin, 0, 10)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(page.Items) != 0 || page.TotalElements != 0 {
		t.Fatalf("expected empty page, got %+v", page)
	}
}

func TestTasksByAuthorAndAssignee(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreate(t, engine.TaskCreateOptions{Title: "one", AssigneeID: 2})
	env.mustCreate(t, engine.TaskCreateOptions{Title: "two", AssigneeID: 3})

	byAuthor, err := env.Engine.TasksByAuthor(env.Ctx, env.Admin.ID)
	if err != nil || len(byAuthor) != 2 {
		t.Fatalf("by author: %v, n=%d", err, len(byAuthor))
	}
	byAssignee, err := env.Engine.TasksByAssignee(env.Ctx, 3)
	if err != nil || len(byAssignee) != 1 {
		t.Fatalf("by assignee: %v, n=%d", err, len(byAssignee))
	}

	// unknown users yield an empty slice, not an error
	none, err := env.Engine.TasksByAuthor(env.Ctx, 99)
	if err != nil {
		t.Fatalf("by unknown author: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("expected empty slice, got %#v", none)
	}
}

func TestAssignTaskConcurrent(t *testing.T) {
	env := newTestEnv(t)
	task := env.mustCreate(t, engine.TaskCreateOptions{Title: "contested", AssigneeID: 2})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, target := range []int64{2, 3} {
		wg.Add(1)
		go func(i int, target int64) {
			defer wg.Done()
			_, errs[i] = env.Engine.AssignTask(env.Ctx, env.Admin, task.ID, target)
		}(i, target)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil && !errors.Is(err, repo.ErrConflict) {
			t.Fatalf("unexpected assign error: %v", err)
		}
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.AssigneeID != 2 && got.AssigneeID != 3 {
		t.Fatalf("assignee = %d, want one of the contenders", got.AssigneeID)
	}
}
