package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"kestrel-irp/api"
	"kestrel-irp/config"
	"kestrel-irp/core/actors"
	"kestrel-irp/core/attachments"
	"kestrel-irp/core/auth"
	"kestrel-irp/core/complaints"
	"kestrel-irp/core/rbac"
	"kestrel-irp/core/store"
	"kestrel-irp/core/upstream"
	"kestrel-irp/core/utils"
)

type testEnv struct {
	cfg      *config.AppConfig
	users    store.UsersStore
	sessions store.SessionStore
	audits   store.AuditStore
	server   *httptest.Server
	backend  *fakeBackend
}

// fakeBackend stands in for the legacy complaints service.
type fakeBackend struct {
	complaint map[string]any
	decisions []map[string]any
	assigns   []map[string]any
}

func (b *fakeBackend) handler() http.Handler {
	// chi is used here because the go1.21 stdlib ServeMux lacks
	// method/wildcard patterns.
	mux := chi.NewRouter()
	mux.Get("/complaints", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{b.complaint})
	})
	mux.Get("/complaints/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"complaint": b.complaint})
	})
	mux.Post("/complaints/{id}/decision", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		b.decisions = append(b.decisions, body)
		w.WriteHeader(http.StatusOK)
	})
	mux.Post("/complaints/{id}/assign", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		b.assigns = append(b.assigns, body)
		w.WriteHeader(http.StatusOK)
	})
	mux.Post("/complaints/{id}/resolution", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Get("/lookups/hq-staff", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{})
	})
	mux.Get("/lookups/area-officers", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{})
	})
	return mux
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	backend := &fakeBackend{complaint: map[string]any{
		"id":              101,
		"title":           "Broken gate",
		"workflow_status": "NEW",
		"area_id":         3,
	}}
	backendSrv := httptest.NewServer(backend.handler())
	t.Cleanup(backendSrv.Close)

	cfg := &config.AppConfig{
		DBDriver:   "sqlite",
		DBPath:     filepath.Join(t.TempDir(), "kestrel.db"),
		Pepper:     "pepper",
		SessionTTL: time.Hour,
		Upstream:   config.UpstreamConfig{BaseURL: backendSrv.URL, TimeoutSec: 5},
		Security:   config.SecurityConfig{OnlineWindowSec: 300},
	}
	logger := utils.NewLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.ApplyMigrationsDialect(context.Background(), db, store.GooseDialect(cfg), logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	users := store.NewUsersStore(db)
	sessions := store.NewSessionsStore(db)
	audits := store.NewAuditStore(db)
	policy := rbac.NewPolicy(rbac.DefaultRoles())
	sm := auth.NewSessionManager(sessions, cfg, logger)
	client := upstream.NewClient(cfg.Upstream, logger)
	dir := actors.NewDirectory()
	svc := complaints.NewService(client, dir, attachments.NewResolver(""), audits, logger)

	srv := api.NewServer(api.ServerDeps{
		Cfg:            cfg,
		Logger:         logger,
		Policy:         policy,
		Users:          users,
		Sessions:       sessions,
		Audits:         audits,
		SessionManager: sm,
		Complaints:     svc,
		Directory:      dir,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{cfg: cfg, users: users, sessions: sessions, audits: audits, server: ts, backend: backend}
}

func (e *testEnv) createUser(t *testing.T, username, password, role string, areaID int64) {
	t.Helper()
	hash, err := utils.HashPassword(password, e.cfg.Pepper)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	_, err = e.users.Create(context.Background(), &store.User{
		Username:     username,
		PasswordHash: hash,
		FullName:     username,
		Role:         role,
		AreaID:       areaID,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
}

type clientSession struct {
	sessionCookie *http.Cookie
	csrfCookie    *http.Cookie
	csrfToken     string
}

func (e *testEnv) login(t *testing.T, username, password string) *clientSession {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(e.server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status=%d", resp.StatusCode)
	}
	var payload struct {
		CSRFToken string `json:"csrf_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	cs := &clientSession{csrfToken: payload.CSRFToken}
	for _, c := range resp.Cookies() {
		switch c.Name {
		case "kestrel_session":
			cs.sessionCookie = c
		case "kestrel_csrf":
			cs.csrfCookie = c
		}
	}
	if cs.sessionCookie == nil || cs.csrfCookie == nil {
		t.Fatalf("login cookies missing: %v", resp.Cookies())
	}
	return cs
}

func (e *testEnv) request(t *testing.T, cs *clientSession, method, path string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cs != nil {
		req.AddCookie(cs.sessionCookie)
		req.AddCookie(cs.csrfCookie)
		req.Header.Set("X-CSRF-Token", cs.csrfToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func TestLoginAndWorkflowRoundTrip(t *testing.T) {
	env := setupEnv(t)
	env.createUser(t, "chief", "hq-pass-1", "hq", 0)
	cs := env.login(t, "chief", "hq-pass-1")

	resp := env.request(t, cs, http.MethodGet, "/api/complaints", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status=%d", resp.StatusCode)
	}
	var list struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 {
		t.Fatalf("items=%v", list.Items)
	}

	resp = env.request(t, cs, http.MethodPost, "/api/complaints/101/assign", map[string]any{"officer_id": 42})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("assign status=%d", resp.StatusCode)
	}
	if len(env.backend.assigns) != 1 {
		t.Fatalf("backend assigns=%v", env.backend.assigns)
	}
	var assigned map[string]any
	json.NewDecoder(resp.Body).Decode(&assigned)
	if assigned["workflow_status"] != "ASSIGNED_TO_AREA" {
		t.Fatalf("assigned view=%v", assigned)
	}

	entries, err := env.audits.List(context.Background(), 50)
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	var actions []string
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	wantAudits := map[string]bool{"auth.login_success": false, "complaints.assign": false}
	for _, a := range actions {
		if _, ok := wantAudits[a]; ok {
			wantAudits[a] = true
		}
	}
	for action, seen := range wantAudits {
		if !seen {
			t.Errorf("audit %q missing in %v", action, actions)
		}
	}
}

func TestWorkflowConflictSurfacesI18NKey(t *testing.T) {
	env := setupEnv(t)
	env.backend.complaint["workflow_status"] = "CLOSED"
	env.createUser(t, "chief", "hq-pass-1", "hq", 0)
	cs := env.login(t, "chief", "hq-pass-1")

	resp := env.request(t, cs, http.MethodPost, "/api/complaints/101/assign", map[string]any{"officer_id": 42})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("assign on closed status=%d", resp.StatusCode)
	}
	var payload struct {
		Error struct {
			I18NKey string `json:"i18n_key"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if payload.Error.I18NKey != "complaints.closedReadOnly" {
		t.Fatalf("i18n key=%q", payload.Error.I18NKey)
	}
	if len(env.backend.assigns) != 0 {
		t.Fatal("guard failure must not reach the backend")
	}
}

func TestCSRFRequiredForMutations(t *testing.T) {
	env := setupEnv(t)
	env.createUser(t, "chief", "hq-pass-1", "hq", 0)
	cs := env.login(t, "chief", "hq-pass-1")

	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/api/complaints/101/assign",
		bytes.NewReader([]byte(`{"officer_id":42}`)))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cs.sessionCookie)
	req.AddCookie(cs.csrfCookie)
	// no X-CSRF-Token header
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("mutation without csrf header status=%d", resp.StatusCode)
	}
}

func TestRoleGateBlocksAreaFromDeciding(t *testing.T) {
	env := setupEnv(t)
	env.createUser(t, "officer", "area-pass-1", "area", 3)
	cs := env.login(t, "officer", "area-pass-1")

	resp := env.request(t, cs, http.MethodPost, "/api/complaints/101/close", map[string]any{"text": "done"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("area close status=%d", resp.StatusCode)
	}

	resp = env.request(t, cs, http.MethodGet, "/api/complaints", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("area list status=%d", resp.StatusCode)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	env := setupEnv(t)
	resp, err := http.Get(env.server.URL + "/api/complaints")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous list status=%d", resp.StatusCode)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	env := setupEnv(t)
	env.createUser(t, "chief", "hq-pass-1", "hq", 0)
	body, _ := json.Marshal(map[string]string{"username": "chief", "password": "wrong"})
	resp, err := http.Post(env.server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password status=%d", resp.StatusCode)
	}
}
