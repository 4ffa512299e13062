package engine

import (
	"context"
	"fmt"
	"strings"

	"taskboard/internal/domain"
)

// CreateUser adds a directory entry. Users default to the USER role when
// none is given.
func (e Engine) CreateUser(ctx context.Context, email string, roles []domain.Role) (domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return domain.User{}, InvalidRequestError{Reason: "email is required"}
	}
	if len(roles) == 0 {
		roles = []domain.Role{domain.RoleUser}
	}
	for _, r := range roles {
		if !r.Valid() {
			return domain.User{}, InvalidRequestError{Reason: fmt.Sprintf("unknown role %q", r)}
		}
	}
	return e.Repo.InsertUser(ctx, domain.User{
		Email:     email,
		Roles:     roles,
		CreatedAt: e.now(),
	})
}
