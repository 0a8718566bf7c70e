package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"manutai/internal/util"
	"manutai/pkg/auth"
	"manutai/pkg/domain"
)

// LoginResult is returned by Login and ChangePassword. Token is empty while
// the user still has to replace the initial password.
type LoginResult struct {
	Token              string      `json:"token,omitempty"`
	ExpiresAt          *time.Time  `json:"expiresAt,omitempty"`
	User               domain.User `json:"user"`
	MustChangePassword bool        `json:"mustChangePassword"`
}

// Login matches email and password exactly.
func (a *App) Login(ctx context.Context, email, password string) (LoginResult, error) {
	user, err := a.checkCredentials(ctx, email, password)
	if err != nil {
		return LoginResult{}, err
	}
	if user.MustChangePassword {
		return LoginResult{User: user.Public(), MustChangePassword: true}, nil
	}
	return a.issue(user)
}

// ChangePassword replaces the password of a user who logged in with
// email/password, clears the forced-change flag and logs the user in.
func (a *App) ChangePassword(ctx context.Context, email, password, newPassword, confirmPassword string) (LoginResult, error) {
	user, err := a.checkCredentials(ctx, email, password)
	if err != nil {
		return LoginResult{}, err
	}
	if newPassword != confirmPassword {
		return LoginResult{}, ErrPasswordMismatch
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return LoginResult{}, err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return LoginResult{}, fmt.Errorf("hash password: %w", err)
	}
	updated, ok, err := a.store.UpdateUserPassword(ctx, user.ID, hash)
	if err != nil {
		return LoginResult{}, err
	}
	if !ok {
		return LoginResult{}, ErrPasswordUpdate
	}
	util.LoggerFromContext(ctx).Info("password changed", "user_id", updated.ID)
	return a.issue(updated)
}

// Authenticate resolves a bearer token to the stored user.
func (a *App) Authenticate(ctx context.Context, token string) (domain.User, error) {
	userID, err := a.tokens.VerifySubject(token)
	if err != nil {
		return domain.User{}, ErrUnauthorized
	}
	user, ok, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if !ok || user.MustChangePassword {
		return domain.User{}, ErrUnauthorized
	}
	return user.Public(), nil
}

func (a *App) checkCredentials(ctx context.Context, email, password string) (domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return domain.User{}, ErrFieldsRequired
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, err
	}
	if !ok || !auth.CheckPassword(password, user.Password) {
		return domain.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func (a *App) issue(user domain.User) (LoginResult, error) {
	token, exp, err := a.tokens.Issue(user.ID, string(user.Role))
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}
	return LoginResult{Token: token, ExpiresAt: &exp, User: user.Public()}, nil
}
