package auth

import (
	"fmt"

	"taskboard/internal/domain"
)

// Action names a task mutation for the policy table.
type Action string

const (
	ActionCreate         Action = "task.create"
	ActionUpdate         Action = "task.update"
	ActionUpdateStatus   Action = "task.update_status"
	ActionUpdatePriority Action = "task.update_priority"
	ActionAssign         Action = "task.assign"
	ActionDelete         Action = "task.delete"
	ActionComment        Action = "task.comment"
	ActionListAll        Action = "task.list_all"
)

// Actor is the already-authenticated identity a request carries.
type Actor struct {
	ID    int64
	Roles []domain.Role
}

func (a Actor) IsAdmin() bool { return a.hasRole(domain.RoleAdmin) }
func (a Actor) IsUser() bool  { return a.hasRole(domain.RoleUser) }

func (a Actor) hasRole(r domain.Role) bool {
	for _, have := range a.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// ForbiddenError indicates a role or ownership violation.
type ForbiddenError struct {
	Action Action
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("no permission for %s", e.Action)
}

// UnauthorizedError indicates a comment-authorship violation: the actor
// is neither the task's author nor its assignee.
type UnauthorizedError struct {
	TaskID int64
}

func (e UnauthorizedError) Error() string {
	return fmt.Sprintf("not authorized to comment on task %d", e.TaskID)
}

// Allow is the whole authorization policy in one place. task may be nil
// for actions whose rule does not depend on the resource (create,
// list-all, and the role-only gates evaluated before a store read).
//
//	action           ADMIN  USER  assignee  author
//	create             y      n       -        -
//	update             y      n       n        n
//	update priority    y      n       n        n
//	update status      y      n       y        n
//	assign             y      y       y        y
//	delete             y      n       n        n
//	comment            -      -       y        y
//
// Assign is deliberately permissive: any authenticated actor may
// reassign. Commenting is tied to the task, not the role: only its
// author or assignee may comment, admin or not.
func Allow(actor Actor, action Action, task *domain.Task) bool {
	if action == ActionComment {
		return task != nil && (task.AuthorID == actor.ID || task.AssigneeID == actor.ID)
	}
	if actor.IsAdmin() {
		return true
	}
	if !actor.IsUser() {
		return false
	}
	switch action {
	case ActionAssign:
		return true
	case ActionUpdateStatus:
		return task != nil && task.AssigneeID == actor.ID
	}
	return false
}
