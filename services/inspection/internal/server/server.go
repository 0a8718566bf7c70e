package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"manutai/internal/util"
	"manutai/pkg/domain"
	"manutai/pkg/inspection"
	"manutai/pkg/report"
	"manutai/pkg/store"
	"manutai/services/inspection/internal/app"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TrustedProxies *util.TrustedProxies
}

// Server exposes the inspection HTTP API.
type Server struct {
	app            *app.App
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	s := &Server{
		app:            cfg.App,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("inspection", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/password", s.handleChangePassword)
	s.mux.Handle("/api/users/me", s.authenticated(s.handleMe))

	// admin
	s.mux.Handle("/api/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("/api/admin/users/", s.adminOnly(s.handleAdminUserByID))

	s.mux.Handle("/api/templates", s.authenticated(s.handleTemplates))
	s.mux.Handle("/api/templates/", s.authenticated(s.handleTemplateByID))
	s.mux.Handle("/api/reports", s.authenticated(s.handleReports))
	s.mux.Handle("/api/reports/", s.authenticated(s.handleReportByID))
	s.mux.Handle("/api/inspections", s.authenticated(s.handleInspections))
	s.mux.Handle("/api/inspections/", s.authenticated(s.handleInspectionByID))
	s.mux.Handle("/api/dashboard", s.authenticated(s.handleDashboard))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if user.Role != domain.RoleAdmin {
			s.audit(r, "inspection.admin.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "inspection.token.verify", "fail", "reason", "missing_token")
		return domain.User{}, false
	}
	user, err := s.app.Authenticate(r.Context(), token)
	if err != nil {
		s.audit(r, "inspection.token.verify", "fail", "reason", err.Error())
		return domain.User{}, false
	}
	return user, true
}

// auth handlers
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		s.audit(r, "inspection.login", "fail", "reason", "invalid_json")
		return
	}
	res, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "inspection.login", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	outcome := "success"
	if res.MustChangePassword {
		outcome = "password_change_required"
	}
	s.audit(r, "inspection.login", outcome, "user_id", res.User.ID)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.app.ChangePassword(r.Context(), req.Email, req.Password, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		s.audit(r, "inspection.password.change", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "inspection.password.change", "success", "user_id", res.User.ID)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// admin handlers
func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		users, err := s.app.ListUsers(r.Context())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": users,
			"count": len(users),
		})
	case http.MethodPost:
		var req app.NewUser
		if !decodeJSON(w, r, &req) {
			return
		}
		created, err := s.app.RegisterUser(r.Context(), req)
		if err != nil {
			s.audit(r, "inspection.admin.user.create", "fail", "user_id", user.ID, "reason", err.Error())
			writeAppError(w, r, err)
			return
		}
		s.audit(r, "inspection.admin.user.create", "success", "user_id", user.ID, "target_user_id", created.ID)
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAdminUserByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/admin/users/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteUser(r.Context(), id); err != nil {
		s.audit(r, "inspection.admin.user.delete", "fail", "user_id", user.ID, "target_user_id", id, "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "inspection.admin.user.delete", "success", "user_id", user.ID, "target_user_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// /api/templates
func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		templates, err := s.app.ListTemplates(r.Context())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": templates,
			"count": len(templates),
		})
	case http.MethodPost:
		if !requireAdmin(w, user) {
			return
		}
		var req app.NewTemplate
		if !decodeJSON(w, r, &req) {
			return
		}
		created, err := s.app.CreateTemplate(r.Context(), req)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w)
	}
}

// /api/templates/{id}
func (s *Server) handleTemplateByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/templates/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		tpl, err := s.app.GetTemplate(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tpl)
	case http.MethodDelete:
		if !requireAdmin(w, user) {
			return
		}
		if err := s.app.DeleteTemplate(r.Context(), id); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// /api/reports
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	reports, err := s.app.ListReports(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": reports,
		"count": len(reports),
	})
}

// /api/reports/{id}, /api/reports/{id}/share, /api/reports/{id}/pdf
func (s *Server) handleReportByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/reports/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		switch parts[1] {
		case "share":
			s.handleShareReport(w, r, id)
		case "pdf":
			s.handleReportPDF(w, r, id)
		default:
			http.NotFound(w, r)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		rep, err := s.app.GetReport(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	case http.MethodDelete:
		if !requireAdmin(w, user) {
			return
		}
		if err := s.app.DeleteReport(r.Context(), id); err != nil {
			writeAppError(w, r, err)
			return
		}
		s.audit(r, "inspection.report.delete", "success", "user_id", user.ID, "report_id", id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleShareReport(w http.ResponseWriter, r *http.Request, id string) {
	share, err := s.app.ShareReport(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, share)
}

func (s *Server) handleReportPDF(w http.ResponseWriter, r *http.Request, id string) {
	archive, _ := strconv.ParseBool(r.URL.Query().Get("archive"))
	export, err := s.app.ExportPDF(r.Context(), id, archive)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if archive {
		writeJSON(w, http.StatusOK, map[string]string{
			"filename": export.Filename,
			"url":      export.URL,
		})
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+strings.ReplaceAll(export.Filename, "\"", "")+"\"")
	w.Header().Set("Content-Length", strconv.Itoa(len(export.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(export.Data)
}

// /api/inspections
func (s *Server) handleInspections(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req startInspectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.TemplateID) == "" {
		writeError(w, http.StatusBadRequest, "templateId is required")
		return
	}
	sess, err := s.app.StartInspection(r.Context(), user, req.TemplateID)
	if err != nil {
		writeSessionResult(w, r, sess, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// /api/inspections/{id}, /api/inspections/{id}/answers, /api/inspections/{id}/finish
func (s *Server) handleInspectionByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/inspections/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		switch parts[1] {
		case "answers":
			var req answerRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			sess, err := s.app.AnswerInspection(r.Context(), user, id, req.Text)
			writeSessionResult(w, r, sess, err)
		case "finish":
			sess, err := s.app.FinishInspection(r.Context(), user, id)
			writeSessionResult(w, r, sess, err)
		default:
			http.NotFound(w, r)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		sess, err := s.app.GetInspection(user, id)
		writeSessionResult(w, r, sess, err)
	case http.MethodDelete:
		if err := s.app.CancelInspection(r.Context(), user, id); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	d, err := s.app.Dashboard(r.Context(), user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func requireAdmin(w http.ResponseWriter, user domain.User) bool {
	if user.Role == domain.RoleAdmin {
		return true
	}
	writeError(w, http.StatusForbidden, "forbidden")
	return false
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type startInspectionRequest struct {
	TemplateID string `json:"templateId"`
}

type answerRequest struct {
	Text string `json:"text"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeSessionResult writes the session on success. A failed report save
// still returns the session so the client can retry /finish.
func writeSessionResult(w http.ResponseWriter, r *http.Request, sess app.Session, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, sess)
		return
	}
	if sess.ID != "" && sess.Phase == inspection.PhaseFinishing {
		util.LoggerFromContext(r.Context()).Error("inspection report not saved", "session_id", sess.ID, "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":   "report could not be saved; retry finish",
			"session": sess,
		})
		return
	}
	writeAppError(w, r, err)
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrFieldsRequired),
		errors.Is(err, app.ErrPasswordMismatch),
		errors.Is(err, app.ErrPasswordTooShort),
		errors.Is(err, app.ErrInvalidRole),
		errors.Is(err, app.ErrTitleRequired),
		errors.Is(err, app.ErrItemsRequired),
		errors.Is(err, inspection.ErrEmptyAnswer):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials), errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrForbidden), errors.Is(err, store.ErrProtectedUser):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrUserNotFound),
		errors.Is(err, app.ErrTemplateNotFound),
		errors.Is(err, app.ErrReportNotFound),
		errors.Is(err, app.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrEmailTaken),
		errors.Is(err, inspection.ErrSessionClosed),
		errors.Is(err, inspection.ErrAlreadyStarted),
		errors.Is(err, inspection.ErrNotAnswering),
		errors.Is(err, inspection.ErrNotFinishing):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrArchiveDisabled):
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, report.ErrRender):
		writeError(w, http.StatusInternalServerError, "Erro ao gerar PDF. Tente novamente.")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}
