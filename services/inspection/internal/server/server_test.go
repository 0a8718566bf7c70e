package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"manutai/internal/usertoken"
	"manutai/pkg/inspection"
	"manutai/pkg/store"
	"manutai/services/inspection/internal/app"
)

type stubLLM struct{}

func (stubLLM) GenerateText(_ context.Context, _, _ string) (string, error) {
	return "Como estão os pneus?", nil
}

func (stubLLM) GenerateJSON(_ context.Context, _, _ string) (string, error) {
	return `{"summary":"Pneus gastos.","whatsappText":"*Pneus gastos*","issuesFound":true}`, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	tokens, err := usertoken.NewManager(usertoken.Config{Secret: "server-test-secret-0123456789"})
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	a, err := app.New(context.Background(), app.Config{
		Store:     store.NewCollectionStore(store.NewMemoryKV()),
		Generator: inspection.NewGenerator(stubLLM{}),
		Tokens:    tokens,
		Now:       func() time.Time { return time.Date(2024, 5, 2, 14, 30, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv, err := New(Config{App: a})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, token string, body any, out any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp
}

type loginResponse struct {
	Token              string `json:"token"`
	MustChangePassword bool   `json:"mustChangePassword"`
	User               struct {
		ID       string `json:"id"`
		Role     string `json:"role"`
		Password string `json:"password"`
	} `json:"user"`
}

type sessionResponse struct {
	ID       string `json:"id"`
	Phase    string `json:"phase"`
	Step     int    `json:"step"`
	Total    int    `json:"total"`
	Messages []struct {
		Sender string `json:"sender"`
		Text   string `json:"text"`
	} `json:"messages"`
	Report *struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		IssuesFound bool   `json:"issuesFound"`
	} `json:"report"`
}

func adminToken(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	var first loginResponse
	resp := doJSON(t, ts, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": store.SeedAdminEmail, "password": store.SeedAdminPassword,
	}, &first)
	if resp.StatusCode != http.StatusOK || !first.MustChangePassword || first.Token != "" {
		t.Fatalf("seed login: status %d %+v", resp.StatusCode, first)
	}

	var changed loginResponse
	resp = doJSON(t, ts, http.MethodPost, "/api/auth/password", "", map[string]string{
		"email":           store.SeedAdminEmail,
		"password":        store.SeedAdminPassword,
		"newPassword":     "admin-pass",
		"confirmPassword": "admin-pass",
	}, &changed)
	if resp.StatusCode != http.StatusOK || changed.Token == "" {
		t.Fatalf("change password: status %d %+v", resp.StatusCode, changed)
	}
	return changed.Token
}

func TestHealthAndHeaders(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]string
	resp := doJSON(t, ts, http.MethodGet, "/healthz", "", nil, &body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz: %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("missing request id header")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing security headers")
	}
}

func TestAuthErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{name: "no token", method: http.MethodGet, path: "/api/users/me", want: http.StatusUnauthorized},
		{name: "garbage token", method: http.MethodGet, path: "/api/templates", token: "nope", want: http.StatusUnauthorized},
		{name: "wrong password", method: http.MethodPost, path: "/api/auth/login", body: map[string]string{"email": store.SeedAdminEmail, "password": "x"}, want: http.StatusUnauthorized},
		{name: "missing fields", method: http.MethodPost, path: "/api/auth/login", body: map[string]string{"email": ""}, want: http.StatusBadRequest},
		{name: "login wrong method", method: http.MethodGet, path: "/api/auth/login", want: http.StatusMethodNotAllowed},
		{name: "password mismatch", method: http.MethodPost, path: "/api/auth/password", body: map[string]string{
			"email": store.SeedAdminEmail, "password": "123", "newPassword": "abcd", "confirmPassword": "abce",
		}, want: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var body map[string]any
			resp := doJSON(t, ts, tc.method, tc.path, tc.token, tc.body, &body)
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d (%v)", resp.StatusCode, tc.want, body)
			}
			if _, ok := body["error"]; !ok {
				t.Fatalf("expected error body, got %v", body)
			}
		})
	}
}

func TestInvalidJSON(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.Client().Post(ts.URL+"/api/auth/login", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestInspectionOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	admin := adminToken(t, ts)

	var tech map[string]any
	resp := doJSON(t, ts, http.MethodPost, "/api/admin/users", admin, app.NewUser{
		Name: "João", Email: "joao@manutai.com", Password: "1234",
	}, &tech)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: %d %v", resp.StatusCode, tech)
	}
	if _, leaked := tech["password"]; leaked {
		t.Fatalf("password leaked in registration response")
	}
	resp = doJSON(t, ts, http.MethodPost, "/api/admin/users", admin, app.NewUser{
		Name: "Outro", Email: "joao@manutai.com", Password: "1234",
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate email: %d, want 409", resp.StatusCode)
	}

	var techLogin loginResponse
	doJSON(t, ts, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "joao@manutai.com", "password": "1234",
	}, &techLogin)
	if techLogin.Token == "" || techLogin.User.Role != "TECNICO" {
		t.Fatalf("technician login: %+v", techLogin)
	}
	techToken := techLogin.Token

	if resp := doJSON(t, ts, http.MethodGet, "/api/admin/users", techToken, nil, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("technician on admin route: %d, want 403", resp.StatusCode)
	}
	if resp := doJSON(t, ts, http.MethodPost, "/api/templates", techToken, app.NewTemplate{Title: "x", Items: []string{"y"}}, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("technician creating template: %d, want 403", resp.StatusCode)
	}
	if resp := doJSON(t, ts, http.MethodDelete, "/api/admin/users/"+store.SeedAdminID, admin, nil, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("deleting seed admin: %d, want 403", resp.StatusCode)
	}

	var tpl struct {
		ID    string `json:"id"`
		Items []struct {
			Text string `json:"text"`
		} `json:"items"`
	}
	resp = doJSON(t, ts, http.MethodPost, "/api/templates", admin, app.NewTemplate{
		Title: "Empilhadeira", Items: []string{"Pneus", "  "},
	}, &tpl)
	if resp.StatusCode != http.StatusCreated || len(tpl.Items) != 1 {
		t.Fatalf("create template: %d %+v", resp.StatusCode, tpl)
	}
	if resp := doJSON(t, ts, http.MethodPost, "/api/templates", admin, app.NewTemplate{Title: "Vazio"}, nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("template without items: %d, want 400", resp.StatusCode)
	}

	var sess sessionResponse
	resp = doJSON(t, ts, http.MethodPost, "/api/inspections", techToken, map[string]string{"templateId": tpl.ID}, &sess)
	if resp.StatusCode != http.StatusCreated || sess.Phase != "IN_PROGRESS" || len(sess.Messages) != 2 {
		t.Fatalf("start: %d %+v", resp.StatusCode, sess)
	}
	if resp := doJSON(t, ts, http.MethodGet, "/api/inspections/"+sess.ID, admin, nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign session: %d, want 404", resp.StatusCode)
	}
	if resp := doJSON(t, ts, http.MethodPost, "/api/inspections/"+sess.ID+"/answers", techToken, map[string]string{"text": "   "}, nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank answer: %d, want 400", resp.StatusCode)
	}

	var done sessionResponse
	resp = doJSON(t, ts, http.MethodPost, "/api/inspections/"+sess.ID+"/answers", techToken, map[string]string{"text": "Pneu traseiro gasto"}, &done)
	if resp.StatusCode != http.StatusOK || done.Phase != "COMPLETED" || done.Report == nil {
		t.Fatalf("answer: %d %+v", resp.StatusCode, done)
	}
	if len(done.Messages) != 4 || !done.Report.IssuesFound || done.Report.Status != "COMPLETED" {
		t.Fatalf("completed session: %+v", done)
	}
	if resp := doJSON(t, ts, http.MethodGet, "/api/inspections/"+sess.ID, techToken, nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("completed session still registered: %d", resp.StatusCode)
	}

	var list struct {
		Count int `json:"count"`
	}
	doJSON(t, ts, http.MethodGet, "/api/reports?q=empilha", techToken, nil, &list)
	if list.Count != 1 {
		t.Fatalf("technician reports = %d, want 1", list.Count)
	}

	var share struct {
		Text string `json:"text"`
		URL  string `json:"url"`
	}
	doJSON(t, ts, http.MethodGet, "/api/reports/"+done.Report.ID+"/share", techToken, nil, &share)
	if !strings.Contains(share.Text, "Empilhadeira") || !strings.HasPrefix(share.URL, "https://wa.me/?text=") {
		t.Fatalf("share: %+v", share)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/reports/"+done.Report.ID+"/pdf", nil)
	req.Header.Set("Authorization", "Bearer "+techToken)
	pdfResp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("pdf: %v", err)
	}
	defer pdfResp.Body.Close()
	var pdfBody bytes.Buffer
	_, _ = pdfBody.ReadFrom(pdfResp.Body)
	if pdfResp.StatusCode != http.StatusOK || pdfResp.Header.Get("Content-Type") != "application/pdf" {
		t.Fatalf("pdf: %d %s", pdfResp.StatusCode, pdfResp.Header.Get("Content-Type"))
	}
	if !strings.HasPrefix(pdfBody.String(), "%PDF") {
		t.Fatalf("body is not a pdf")
	}
	if cd := pdfResp.Header.Get("Content-Disposition"); !strings.Contains(cd, "relatorio_Empilhadeira_") {
		t.Fatalf("content disposition = %q", cd)
	}

	if resp := doJSON(t, ts, http.MethodGet, "/api/reports/"+done.Report.ID+"/pdf?archive=1", techToken, nil, nil); resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("archive without storage: %d, want 501", resp.StatusCode)
	}

	var dash map[string]any
	doJSON(t, ts, http.MethodGet, "/api/dashboard", admin, nil, &dash)
	if dash["withIssues"] != float64(1) {
		t.Fatalf("dashboard: %v", dash)
	}

	if resp := doJSON(t, ts, http.MethodDelete, "/api/reports/"+done.Report.ID, techToken, nil, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("technician deleting report: %d, want 403", resp.StatusCode)
	}
	if resp := doJSON(t, ts, http.MethodDelete, "/api/reports/"+done.Report.ID, admin, nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("admin deleting report: %d", resp.StatusCode)
	}
	if resp := doJSON(t, ts, http.MethodGet, "/api/reports/"+done.Report.ID, admin, nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted report: %d, want 404", resp.StatusCode)
	}
}

func TestCancelInspection(t *testing.T) {
	ts := newTestServer(t)
	admin := adminToken(t, ts)

	var tpl struct {
		ID string `json:"id"`
	}
	doJSON(t, ts, http.MethodPost, "/api/templates", admin, app.NewTemplate{Title: "Compressor", Items: []string{"Óleo", "Correia"}}, &tpl)

	var sess sessionResponse
	doJSON(t, ts, http.MethodPost, "/api/inspections", admin, map[string]string{"templateId": tpl.ID}, &sess)
	if sess.Total != 2 {
		t.Fatalf("total = %d, want 2", sess.Total)
	}
	if resp := doJSON(t, ts, http.MethodDelete, "/api/inspections/"+sess.ID, admin, nil, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: %d", resp.StatusCode)
	}
	if resp := doJSON(t, ts, http.MethodPost, "/api/inspections/"+sess.ID+"/answers", admin, map[string]string{"text": "ok"}, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("answer after cancel: %d, want 404", resp.StatusCode)
	}
	if resp := doJSON(t, ts, http.MethodPost, "/api/inspections", admin, map[string]string{"templateId": "missing"}, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown template: %d, want 404", resp.StatusCode)
	}
}
