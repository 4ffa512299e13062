package server

import (
	"taskboard/internal/domain"
	"taskboard/internal/engine"
)

// Request payloads

type CreateTaskRequest struct {
	Title       string           `json:"title"`
	Description *string          `json:"description,omitempty"`
	Status      *domain.Status   `json:"status,omitempty" enum:"PENDING,IN_PROGRESS,DONE"`
	Priority    *domain.Priority `json:"priority,omitempty" enum:"LOW,MEDIUM,HIGH"`
	AssigneeID  int64            `json:"assignee_id"`
}

type UpdateTaskRequest struct {
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	Status      *domain.Status   `json:"status,omitempty" enum:"PENDING,IN_PROGRESS,DONE"`
	Priority    *domain.Priority `json:"priority,omitempty" enum:"LOW,MEDIUM,HIGH"`
	AssigneeID  *int64           `json:"assignee_id,omitempty"`
}

type AssignTaskRequest struct {
	AssigneeID int64 `json:"assignee_id"`
}

type UpdateTaskStatusRequest struct {
	Status domain.Status `json:"status" enum:"PENDING,IN_PROGRESS,DONE"`
}

type UpdateTaskPriorityRequest struct {
	Priority domain.Priority `json:"priority" enum:"LOW,MEDIUM,HIGH"`
}

type AddCommentRequest struct {
	Text string `json:"text"`
}

type CreateUserRequest struct {
	Email string        `json:"email" format:"email"`
	Roles []domain.Role `json:"roles,omitempty" enum:"ADMIN,USER"`
}

// Response payloads

type TaskResponse struct {
	ID          int64             `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Status      domain.Status     `json:"status" enum:"PENDING,IN_PROGRESS,DONE"`
	Priority    domain.Priority   `json:"priority" enum:"LOW,MEDIUM,HIGH"`
	AuthorID    int64             `json:"author_id"`
	AssigneeID  int64             `json:"assignee_id"`
	Comments    []CommentResponse `json:"comments,omitempty"`
	CreatedAt   string            `json:"created_at" format:"date-time"`
	UpdatedAt   string            `json:"updated_at" format:"date-time"`
}

type CommentResponse struct {
	ID        int64  `json:"id"`
	TaskID    int64  `json:"task_id"`
	AuthorID  int64  `json:"author_id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type UserResponse struct {
	ID        int64         `json:"id"`
	Email     string        `json:"email"`
	Roles     []domain.Role `json:"roles"`
	CreatedAt string        `json:"created_at" format:"date-time"`
}

// TaskPageResponse is the paged listing envelope.
type TaskPageResponse struct {
	Content       []TaskResponse `json:"content"`
	Page          int            `json:"page"`
	Size          int            `json:"size"`
	TotalElements int64          `json:"total_elements"`
	TotalPages    int            `json:"total_pages"`
}

// Conversion helpers

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		AuthorID:    t.AuthorID,
		AssigneeID:  t.AssigneeID,
		Comments:    mapComments(t.Comments),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func commentResponse(c domain.Comment) CommentResponse {
	return CommentResponse(c)
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Roles:     u.Roles,
		CreatedAt: u.CreatedAt,
	}
}

func mapTasks(tasks []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, taskResponse(t))
	}
	return res
}

func mapComments(comments []domain.Comment) []CommentResponse {
	if len(comments) == 0 {
		return nil
	}
	res := make([]CommentResponse, 0, len(comments))
	for _, c := range comments {
		res = append(res, commentResponse(c))
	}
	return res
}

func mapUsers(users []domain.User) []UserResponse {
	res := make([]UserResponse, 0, len(users))
	for _, u := range users {
		res = append(res, userResponse(u))
	}
	return res
}

func pageResponse(p engine.TaskPage) TaskPageResponse {
	return TaskPageResponse{
		Content:       mapTasks(p.Items),
		Page:          p.Page,
		Size:          p.Size,
		TotalElements: p.TotalElements,
		TotalPages:    p.TotalPages,
	}
}
