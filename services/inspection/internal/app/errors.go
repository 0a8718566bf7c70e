package app

import (
	"errors"

	"manutai/pkg/auth"
	"manutai/pkg/store"
)

var (
	ErrFieldsRequired     = errors.New("Preencha todos os campos.")
	ErrInvalidCredentials = errors.New("E-mail ou senha incorretos.")
	ErrPasswordMismatch   = errors.New("As senhas não coincidem.")
	ErrPasswordTooShort   = auth.ErrPasswordTooShort
	ErrPasswordUpdate     = errors.New("Erro ao atualizar senha.")
	ErrEmailTaken         = store.ErrEmailTaken
	ErrInvalidRole        = errors.New("invalid role")
	ErrTitleRequired      = errors.New("Por favor, dê um título ao checklist.")
	ErrItemsRequired      = errors.New("Adicione pelo menos um item ao checklist.")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrProtectedUser      = store.ErrProtectedUser
	ErrUserNotFound       = errors.New("user not found")
	ErrTemplateNotFound   = errors.New("template not found")
	ErrReportNotFound     = errors.New("report not found")
	ErrSessionNotFound    = errors.New("inspection session not found")
	ErrArchiveDisabled    = errors.New("pdf archive not configured")
)
