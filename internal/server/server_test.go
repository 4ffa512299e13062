package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"

	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

var (
	adminHeaders = map[string]string{"X-Actor-Id": "1", "X-Actor-Roles": "ADMIN"}
	bobHeaders   = map[string]string{"X-Actor-Id": "2", "X-Actor-Roles": "USER"}
	carolHeaders = map[string]string{"X-Actor-Id": "3", "X-Actor-Roles": "USER"}
)

// newTestServer boots the API against a throwaway database seeded with an
// admin (id 1) and two plain users (ids 2 and 3).
func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	e := engine.New(conn, cfg)
	ctx := context.Background()
	for _, u := range []struct {
		email string
		roles []domain.Role
	}{
		{"alice@example.com", []domain.Role{domain.RoleAdmin}},
		{"bob@example.com", []domain.Role{domain.RoleUser}},
		{"carol@example.com", []domain.Role{domain.RoleUser}},
	} {
		if _, err := e.CreateUser(ctx, u.email, u.roles); err != nil {
			t.Fatalf("seed user %s: %v", u.email, err)
		}
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/api",
		Auth:     AuthConfig{AllowActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createTask(t *testing.T, srv *testServer, body map[string]any) TaskResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/tasks", body, adminHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var created TaskResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return created
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	created := createTask(t, srv, map[string]any{
		"title":       "Ship feature",
		"description": "end to end",
		"assignee_id": 2,
	})
	if created.Status != "PENDING" || created.Priority != "MEDIUM" {
		t.Fatalf("unexpected defaults: %+v", created)
	}

	res, data := doJSON(t, client, http.MethodPatch, fmt.Sprintf("%s/api/tasks/%d/assign", srv.URL, created.ID), map[string]any{
		"assignee_id": 3,
	}, bobHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, fmt.Sprintf("%s/api/tasks/%d/status", srv.URL, created.ID), map[string]any{
		"status": "IN_PROGRESS",
	}, carolHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assignee status update %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, fmt.Sprintf("%s/api/tasks/%d/comments", srv.URL, created.ID), map[string]any{
		"text": "on it",
	}, carolHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("comment status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, fmt.Sprintf("%s/api/tasks/%d", srv.URL, created.ID), nil, bobHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get task status %d: %s", res.StatusCode, string(data))
	}
	var got TaskResponse
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != "IN_PROGRESS" || got.AssigneeID != 3 || len(got.Comments) != 1 {
		t.Fatalf("unexpected task state: %+v", got)
	}

	res, data = doJSON(t, client, http.MethodDelete, fmt.Sprintf("%s/api/tasks/%d", srv.URL, created.ID), nil, adminHeaders)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, fmt.Sprintf("%s/api/tasks/%d", srv.URL, created.ID), nil, adminHeaders)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted task status %d", res.StatusCode)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// no identity at all
	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/api/tasks/1", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous request status %d", res.StatusCode)
	}

	// plain users cannot create
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/tasks", map[string]any{
		"title": "nope", "assignee_id": 2,
	}, bobHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("user create status %d: %s", res.StatusCode, string(data))
	}

	// unknown assignee
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/tasks", map[string]any{
		"title": "ghost", "assignee_id": 99,
	}, adminHeaders)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown assignee status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "user_not_found" {
		t.Fatalf("error code %q", envelope.Error.Code)
	}

	// missing title
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/tasks", map[string]any{
		"assignee_id": 2,
	}, adminHeaders)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing title status %d: %s", res.StatusCode, string(data))
	}

	// comment by a bystander
	created := createTask(t, srv, map[string]any{"title": "private", "assignee_id": 2})
	res, data = doJSON(t, client, http.MethodPost, fmt.Sprintf("%s/api/tasks/%d/comments", srv.URL, created.ID), map[string]any{
		"text": "drive-by",
	}, carolHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("bystander comment status %d: %s", res.StatusCode, string(data))
	}
}

func TestFilteredListingOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for i := 0; i < 3; i++ {
		createTask(t, srv, map[string]any{"title": fmt.Sprintf("chore %d", i), "assignee_id": 2})
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/tasks?status=PENDING&page=0&size=2", nil, bobHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var page TaskPageResponse
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if page.TotalElements != 3 || page.TotalPages != 2 || len(page.Content) != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}

	// no filters is a client error
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/tasks?page=0&size=10", nil, bobHeaders)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unfiltered list status %d", res.StatusCode)
	}

	// an empty filtered result is a 404
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/tasks?status=DONE&page=0&size=10", nil, bobHeaders)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("empty result status %d", res.StatusCode)
	}

	// listing everything takes the admin role
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/tasks/all?page=0&size=10", nil, bobHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("user list all status %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/tasks/all?page=0&size=10", nil, adminHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin list all status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/tasks/assignee/2", nil, bobHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("by assignee status %d: %s", res.StatusCode, string(data))
	}
	var tasks []TaskResponse
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatalf("unmarshal tasks: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("by assignee n=%d", len(tasks))
	}
}

func TestUserDirectoryOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/users", map[string]any{
		"email": "dave@example.com",
		"roles": []string{"USER"},
	}, adminHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create user status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/api/users", map[string]any{
		"email": "eve@example.com",
	}, bobHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin create user status %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/users", nil, bobHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list users status %d: %s", res.StatusCode, string(data))
	}
	var users []UserResponse
	if err := json.Unmarshal(data, &users); err != nil {
		t.Fatalf("unmarshal users: %v", err)
	}
	if len(users) != 4 {
		t.Fatalf("expected 4 users, got %d", len(users))
	}
}

func TestHealthIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	if res.Header.Get("X-Request-Id") == "" {
		t.Fatal("missing request id header")
	}
}
