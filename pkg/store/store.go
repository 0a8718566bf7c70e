package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"manutai/pkg/domain"
)

// Collection keys. The names match the browser storage of the original app so
// exported blobs can be loaded unchanged.
const (
	TemplatesKey = "manutai_templates"
	ReportsKey   = "manutai_reports"
	UsersKey     = "manutai_users"
)

// Seed administrator created when the user collection is empty.
const (
	SeedAdminID       = "admin-1"
	SeedAdminName     = "Administrador"
	SeedAdminEmail    = "admin@manutai.com"
	SeedAdminPassword = "123"
)

var (
	// ErrEmailTaken indicates a registration with an email already in use.
	ErrEmailTaken = errors.New("E-mail já cadastrado.")
	// ErrProtectedUser is returned when deleting the seed administrator.
	ErrProtectedUser = errors.New("seed administrator cannot be deleted")
)

// Store defines persistence operations for templates, reports, and users.
type Store interface {
	// templates
	ListTemplates(ctx context.Context) ([]domain.ChecklistTemplate, error)
	GetTemplate(ctx context.Context, id string) (domain.ChecklistTemplate, bool, error)
	SaveTemplate(ctx context.Context, t domain.ChecklistTemplate) error
	DeleteTemplate(ctx context.Context, id string) error

	// reports
	ListReports(ctx context.Context) ([]domain.InspectionReport, error)
	GetReport(ctx context.Context, id string) (domain.InspectionReport, bool, error)
	SaveReport(ctx context.Context, r domain.InspectionReport) error
	DeleteReport(ctx context.Context, id string) error

	// users
	ListUsers(ctx context.Context) ([]domain.User, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	RegisterUser(ctx context.Context, u domain.User) error
	UpdateUserPassword(ctx context.Context, id, password string) (domain.User, bool, error)
	DeleteUser(ctx context.Context, id string) error
	SeedInitialAdmin(ctx context.Context, admin domain.User) (bool, error)
}

// CollectionStore implements Store as whole-collection read-modify-write over a KV.
// Writes within one process are serialized; across processes the last writer wins.
type CollectionStore struct {
	kv KV
	mu sync.Mutex
}

// NewCollectionStore wraps kv.
func NewCollectionStore(kv KV) *CollectionStore {
	return &CollectionStore{kv: kv}
}

// SeedAdmin returns the default administrator with the given stored password.
func SeedAdmin(password string) domain.User {
	return domain.User{
		ID:                 SeedAdminID,
		Name:               SeedAdminName,
		Email:              SeedAdminEmail,
		Password:           password,
		Role:               domain.RoleAdmin,
		MustChangePassword: true,
	}
}

func load[T any](ctx context.Context, kv KV, key string) ([]T, error) {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok || len(raw) == 0 {
		return []T{}, nil
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func save[T any](ctx context.Context, kv KV, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := kv.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// ListTemplates returns templates in insertion order.
func (s *CollectionStore) ListTemplates(ctx context.Context) ([]domain.ChecklistTemplate, error) {
	return load[domain.ChecklistTemplate](ctx, s.kv, TemplatesKey)
}

// GetTemplate scans for a template by ID.
func (s *CollectionStore) GetTemplate(ctx context.Context, id string) (domain.ChecklistTemplate, bool, error) {
	templates, err := s.ListTemplates(ctx)
	if err != nil {
		return domain.ChecklistTemplate{}, false, err
	}
	for _, t := range templates {
		if t.ID == id {
			return t, true, nil
		}
	}
	return domain.ChecklistTemplate{}, false, nil
}

// SaveTemplate appends a template.
func (s *CollectionStore) SaveTemplate(ctx context.Context, t domain.ChecklistTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	templates, err := s.ListTemplates(ctx)
	if err != nil {
		return err
	}
	return save(ctx, s.kv, TemplatesKey, append(templates, t))
}

// DeleteTemplate removes a template; unknown IDs leave the collection unchanged.
func (s *CollectionStore) DeleteTemplate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	templates, err := s.ListTemplates(ctx)
	if err != nil {
		return err
	}
	filtered := templates[:0]
	for _, t := range templates {
		if t.ID != id {
			filtered = append(filtered, t)
		}
	}
	return save(ctx, s.kv, TemplatesKey, filtered)
}

// ListReports returns reports in insertion order.
func (s *CollectionStore) ListReports(ctx context.Context) ([]domain.InspectionReport, error) {
	return load[domain.InspectionReport](ctx, s.kv, ReportsKey)
}

// GetReport scans for a report by ID.
func (s *CollectionStore) GetReport(ctx context.Context, id string) (domain.InspectionReport, bool, error) {
	reports, err := s.ListReports(ctx)
	if err != nil {
		return domain.InspectionReport{}, false, err
	}
	for _, r := range reports {
		if r.ID == id {
			return r, true, nil
		}
	}
	return domain.InspectionReport{}, false, nil
}

// SaveReport upserts by ID: an existing report is replaced in place, a new one is appended.
func (s *CollectionStore) SaveReport(ctx context.Context, r domain.InspectionReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reports, err := s.ListReports(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i := range reports {
		if reports[i].ID == r.ID {
			reports[i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		reports = append(reports, r)
	}
	return save(ctx, s.kv, ReportsKey, reports)
}

// DeleteReport removes a report; unknown IDs leave the collection unchanged.
func (s *CollectionStore) DeleteReport(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reports, err := s.ListReports(ctx)
	if err != nil {
		return err
	}
	filtered := reports[:0]
	for _, r := range reports {
		if r.ID != id {
			filtered = append(filtered, r)
		}
	}
	return save(ctx, s.kv, ReportsKey, filtered)
}

// ListUsers returns users in registration order.
func (s *CollectionStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	return load[domain.User](ctx, s.kv, UsersKey)
}

// GetUserByID scans for a user by ID.
func (s *CollectionStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return domain.User{}, false, err
	}
	for _, u := range users {
		if u.ID == id {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

// GetUserByEmail scans for a user by exact email.
func (s *CollectionStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return domain.User{}, false, err
	}
	for _, u := range users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

// RegisterUser appends a user unless the email is already registered.
func (s *CollectionStore) RegisterUser(ctx context.Context, u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registerLocked(ctx, u)
}

func (s *CollectionStore) registerLocked(ctx context.Context, u domain.User) error {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, existing := range users {
		if existing.Email == u.Email {
			return ErrEmailTaken
		}
	}
	return save(ctx, s.kv, UsersKey, append(users, u))
}

// UpdateUserPassword stores a new password and clears the forced-change flag.
func (s *CollectionStore) UpdateUserPassword(ctx context.Context, id, password string) (domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.ListUsers(ctx)
	if err != nil {
		return domain.User{}, false, err
	}
	for i := range users {
		if users[i].ID != id {
			continue
		}
		users[i].Password = password
		users[i].MustChangePassword = false
		if err := save(ctx, s.kv, UsersKey, users); err != nil {
			return domain.User{}, false, err
		}
		return users[i], true, nil
	}
	return domain.User{}, false, nil
}

// DeleteUser removes a user; unknown IDs leave the collection unchanged.
// The seed administrator is never removed.
func (s *CollectionStore) DeleteUser(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == SeedAdminID {
		return ErrProtectedUser
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.ListUsers(ctx)
	if err != nil {
		return err
	}
	filtered := users[:0]
	for _, u := range users {
		if u.ID != id {
			filtered = append(filtered, u)
		}
	}
	return save(ctx, s.kv, UsersKey, filtered)
}

// SeedInitialAdmin registers admin when no user exists and reports whether it did.
func (s *CollectionStore) SeedInitialAdmin(ctx context.Context, admin domain.User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.ListUsers(ctx)
	if err != nil {
		return false, err
	}
	if len(users) > 0 {
		return false, nil
	}
	if err := s.registerLocked(ctx, admin); err != nil {
		return false, err
	}
	return true, nil
}
