package app

import (
	"context"
	"fmt"
	"strings"

	"manutai/internal/util"
	"manutai/pkg/auth"
	"manutai/pkg/domain"
)

// NewUser is the registration input.
type NewUser struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// ParseRole maps ADMIN/TECNICO (case-insensitive) to a role. Empty is TECNICO.
func ParseRole(role string) (domain.UserRole, bool) {
	switch strings.ToUpper(strings.TrimSpace(role)) {
	case "", string(domain.RoleTechnician):
		return domain.RoleTechnician, true
	case string(domain.RoleAdmin):
		return domain.RoleAdmin, true
	default:
		return "", false
	}
}

// ListUsers returns all users without credentials.
func (a *App) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := a.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	return out, nil
}

// RegisterUser creates a user. Email must be unique.
func (a *App) RegisterUser(ctx context.Context, in NewUser) (domain.User, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)
	if name == "" || email == "" || in.Password == "" {
		return domain.User{}, ErrFieldsRequired
	}
	role, ok := ParseRole(in.Role)
	if !ok {
		return domain.User{}, ErrInvalidRole
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:       util.NewID(),
		Name:     name,
		Email:    email,
		Password: hash,
		Role:     role,
	}
	if err := a.store.RegisterUser(ctx, user); err != nil {
		return domain.User{}, err
	}
	util.LoggerFromContext(ctx).Info("user registered", "user_id", user.ID, "role", user.Role)
	return user.Public(), nil
}

// DeleteUser removes a user. The seed administrator is protected.
func (a *App) DeleteUser(ctx context.Context, id string) error {
	return a.store.DeleteUser(ctx, strings.TrimSpace(id))
}
