package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"taskboard/internal/domain"
)

// The user directory. Role sets are stored as a JSON array; credential
// material never touches this table.

func (r Repo) InsertUser(ctx context.Context, u domain.User) (domain.User, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	roles, err := marshalRoles(u.Roles)
	if err != nil {
		return u, err
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO users(email,roles,created_at) VALUES (?,?,?)`,
		u.Email, roles, u.CreatedAt)
	if err != nil {
		return u, storeErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return u, storeErr(err)
	}
	u.ID = id
	return u, nil
}

func (r Repo) GetUser(ctx context.Context, id int64) (domain.User, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	var u domain.User
	var roles string
	err := r.DB.QueryRowContext(ctx, `SELECT id,email,roles,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Email, &roles, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrUserNotFound
	}
	if err != nil {
		return u, storeErr(err)
	}
	u.Roles, err = unmarshalRoles(roles)
	return u, err
}

// UserExists is the cheap resolve used when only the id matters.
func (r Repo) UserExists(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id=?`, id).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storeErr(err)
	}
	return true, nil
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	rows, err := r.DB.QueryContext(ctx, `SELECT id,email,roles,created_at FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var roles string
		if err := rows.Scan(&u.ID, &u.Email, &roles, &u.CreatedAt); err != nil {
			return nil, storeErr(err)
		}
		if u.Roles, err = unmarshalRoles(roles); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, storeErr(rows.Err())
}

func marshalRoles(roles []domain.Role) (string, error) {
	if len(roles) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(roles)
	if err != nil {
		return "", fmt.Errorf("marshal roles: %w", err)
	}
	return string(b), nil
}

func unmarshalRoles(raw string) ([]domain.Role, error) {
	var roles []domain.Role
	if err := json.Unmarshal([]byte(raw), &roles); err != nil {
		return nil, fmt.Errorf("unmarshal roles: %w", err)
	}
	return roles, nil
}
