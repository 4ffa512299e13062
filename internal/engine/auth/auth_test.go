package auth

import (
	"testing"

	"taskboard/internal/domain"
)

func TestAllow(t *testing.T) {
	admin := Actor{ID: 1, Roles: []domain.Role{domain.RoleAdmin}}
	assignee := Actor{ID: 2, Roles: []domain.Role{domain.RoleUser}}
	author := Actor{ID: 3, Roles: []domain.Role{domain.RoleUser}}
	bystander := Actor{ID: 4, Roles: []domain.Role{domain.RoleUser}}
	task := &domain.Task{ID: 10, AuthorID: 3, AssigneeID: 2}

	cases := []struct {
		name   string
		actor  Actor
		action Action
		task   *domain.Task
		want   bool
	}{
		{"admin create", admin, ActionCreate, nil, true},
		{"user create", bystander, ActionCreate, nil, false},
		{"admin delete", admin, ActionDelete, task, true},
		{"user delete", assignee, ActionDelete, task, false},
		{"admin priority", admin, ActionUpdatePriority, task, true},
		{"assignee priority", assignee, ActionUpdatePriority, task, false},
		{"admin status", admin, ActionUpdateStatus, task, true},
		{"assignee status", assignee, ActionUpdateStatus, task, true},
		{"author status", author, ActionUpdateStatus, task, false},
		{"bystander status", bystander, ActionUpdateStatus, task, false},
		{"any user assign", bystander, ActionAssign, task, true},
		{"author comment", author, ActionComment, task, true},
		{"assignee comment", assignee, ActionComment, task, true},
		{"admin bystander comment", admin, ActionComment, task, false},
		{"bystander comment", bystander, ActionComment, task, false},
		{"admin list all", admin, ActionListAll, nil, true},
		{"user list all", assignee, ActionListAll, nil, false},
		{"roleless actor", Actor{ID: 9}, ActionAssign, task, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Allow(tc.actor, tc.action, tc.task); got != tc.want {
				t.Fatalf("Allow(%v, %s) = %v, want %v", tc.actor.ID, tc.action, got, tc.want)
			}
		})
	}
}
