package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mtlprog/taskboard/internal/auth"
	"github.com/mtlprog/taskboard/internal/database"
	"github.com/mtlprog/taskboard/internal/domain"
	"github.com/mtlprog/taskboard/internal/handler"
	"github.com/mtlprog/taskboard/internal/handler/dto"
	"github.com/mtlprog/taskboard/internal/middleware"
)

func newTestMux(t *testing.T, db *database.DB) (*http.ServeMux, *auth.TokenIssuer) {
	t.Helper()

	tokens, err := auth.NewTokenIssuer("handler-test-secret", time.Hour)
	require.NoError(t, err)

	mux := http.NewServeMux()
	handler.New(db, tokens).RegisterRoutes(mux)
	return mux, tokens
}

func doRequest(mux http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

// TestRequestRejection covers requests refused before any service call,
// so it runs without a database.
func TestRequestRejection(t *testing.T) {
	mux, tokens := newTestMux(t, &database.DB{})
	token, err := tokens.Issue(&domain.User{
		ID:    "00000000-0000-0000-0000-000000000011",
		Email: "owner@example.com",
		Role:  domain.UserRoleOwner,
	})
	require.NoError(t, err)

	projectPath := "/api/v1/projects/00000000-0000-0000-0000-000000000001"

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		code   string
		field  string
	}{
		{"missing token", http.MethodGet, "/api/v1/tasks/00000000-0000-0000-0000-000000000001", "", nil,
			http.StatusUnauthorized, "UNAUTHENTICATED", ""},
		{"invalid token", http.MethodGet, "/api/v1/auth/me", "garbage", nil,
			http.StatusUnauthorized, "INVALID_TOKEN", ""},
		{"task id not a uuid", http.MethodGet, "/api/v1/tasks/42", token, nil,
			http.StatusBadRequest, "INVALID_REQUEST", ""},
		{"malformed json", http.MethodPost, "/api/v1/tasks", token, "{",
			http.StatusBadRequest, "INVALID_JSON", ""},
		{"empty body", http.MethodPatch, "/api/v1/tasks/00000000-0000-0000-0000-000000000001/status", token, nil,
			http.StatusBadRequest, "INVALID_JSON", ""},
		{"missing title", http.MethodPost, "/api/v1/tasks", token,
			map[string]any{"project_id": "00000000-0000-0000-0000-000000000001"},
			http.StatusBadRequest, "VALIDATION_ERROR", "title"},
		{"bad priority", http.MethodPost, "/api/v1/tasks", token,
			map[string]any{"project_id": "00000000-0000-0000-0000-000000000001", "title": "t", "priority": "URGENT"},
			http.StatusBadRequest, "VALIDATION_ERROR", "priority"},
		{"bad register email", http.MethodPost, "/api/v1/auth/register", "",
			map[string]any{"email": "nope", "password": "secret1", "name": "N"},
			http.StatusBadRequest, "VALIDATION_ERROR", "email"},
		{"short password", http.MethodPost, "/api/v1/auth/register", "",
			map[string]any{"email": "a@example.com", "password": "123", "name": "N"},
			http.StatusBadRequest, "VALIDATION_ERROR", "password"},
		{"page zero", http.MethodGet, projectPath + "/tasks?page=0", token, nil,
			http.StatusBadRequest, "VALIDATION_ERROR", ""},
		{"page overflows offset", http.MethodGet, "/api/v1/tasks/00000000-0000-0000-0000-000000000002/activity?page=9223372036854775807", token, nil,
			http.StatusBadRequest, "VALIDATION_ERROR", ""},
		{"page overflows offset with limit", http.MethodGet, projectPath + "/tasks?page=461168601842738791&limit=20", token, nil,
			http.StatusBadRequest, "VALIDATION_ERROR", ""},
		{"limit too large", http.MethodGet, projectPath + "/tasks?limit=101", token, nil,
			http.StatusBadRequest, "VALIDATION_ERROR", ""},
		{"bad assignee filter", http.MethodGet, projectPath + "/tasks?assignee=bob", token, nil,
			http.StatusBadRequest, "VALIDATION_ERROR", ""},
		{"bad member id", http.MethodDelete, projectPath + "/members/bob", token, nil,
			http.StatusBadRequest, "INVALID_REQUEST", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(mux, tt.method, tt.path, tt.token, tt.body)

			assert.Equal(t, tt.status, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.code, resp.Error.Code)
			if tt.field != "" {
				require.NotEmpty(t, resp.Error.Details)
				assert.Equal(t, tt.field, resp.Error.Details[0].Field)
			}
		})
	}
}

// HandlerTestSuite drives the REST surface against a real database.
// It is skipped unless DATABASE_URL is set.
type HandlerTestSuite struct {
	suite.Suite
	db     *database.DB
	mux    *http.ServeMux
	tokens *auth.TokenIssuer

	ownerToken  string
	memberToken string
	memberID    string
}

func (s *HandlerTestSuite) SetupSuite() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		s.T().Skip("DATABASE_URL is not set")
	}

	ctx := context.Background()
	db, err := database.New(ctx, databaseURL)
	s.Require().NoError(err)
	s.db = db

	err = database.RunMigrations(ctx, db.Pool())
	s.Require().NoError(err)

	s.mux, s.tokens = newTestMux(s.T(), db)
}

func (s *HandlerTestSuite) SetupTest() {
	ctx := context.Background()

	_, err := s.db.Pool().Exec(ctx, "TRUNCATE activity_logs, tasks, project_members, projects, users CASCADE")
	s.Require().NoError(err)

	owner := s.register("owner@example.com", "Olivia Owner")
	_, err = s.db.Pool().Exec(ctx, "UPDATE users SET role = 'OWNER' WHERE id = $1", owner.User.ID)
	s.Require().NoError(err)

	// Role lives in the token, so log in again after the promotion.
	w := doRequest(s.mux, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"email": "owner@example.com", "password": "secret1"})
	s.Require().Equal(http.StatusOK, w.Code)
	var login dto.AuthResponse
	s.Require().NoError(json.NewDecoder(w.Body).Decode(&login))
	s.Require().Equal("OWNER", login.User.Role)
	s.ownerToken = login.Token

	member := s.register("member@example.com", "Mark Member")
	s.memberToken = member.Token
	s.memberID = member.User.ID
}

func (s *HandlerTestSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerTestSuite))
}

func (s *HandlerTestSuite) register(email, name string) dto.AuthResponse {
	w := doRequest(s.mux, http.MethodPost, "/api/v1/auth/register", "",
		map[string]string{"email": email, "password": "secret1", "name": name})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var resp dto.AuthResponse
	s.Require().NoError(json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func (s *HandlerTestSuite) decode(w *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.NewDecoder(w.Body).Decode(v))
}

func (s *HandlerTestSuite) createProject() dto.ProjectResponse {
	w := doRequest(s.mux, http.MethodPost, "/api/v1/projects", s.ownerToken,
		map[string]string{"name": "Website", "description": "Marketing site"})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var project dto.ProjectResponse
	s.decode(w, &project)
	return project
}

func (s *HandlerTestSuite) createTask(projectID string) dto.TaskResponse {
	w := doRequest(s.mux, http.MethodPost, "/api/v1/tasks", s.ownerToken,
		map[string]string{"project_id": projectID, "title": "Write landing copy"})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var task dto.TaskResponse
	s.decode(w, &task)
	return task
}

func (s *HandlerTestSuite) TestHealthz() {
	w := doRequest(s.mux, http.MethodGet, "/healthz", "", nil)
	s.Equal(http.StatusOK, w.Code)
}

func (s *HandlerTestSuite) TestRegister_DuplicateEmail() {
	w := doRequest(s.mux, http.MethodPost, "/api/v1/auth/register", "",
		map[string]string{"email": "MEMBER@example.com", "password": "secret1", "name": "Again"})
	s.Equal(http.StatusConflict, w.Code)
	s.Equal("EMAIL_TAKEN", decodeError(s.T(), w).Error.Code)
}

func (s *HandlerTestSuite) TestLogin_WrongPassword() {
	w := doRequest(s.mux, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"email": "member@example.com", "password": "wrong-password"})
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Equal("INVALID_CREDENTIALS", decodeError(s.T(), w).Error.Code)
}

func (s *HandlerTestSuite) TestCreateProject_MemberForbidden() {
	w := doRequest(s.mux, http.MethodPost, "/api/v1/projects", s.memberToken,
		map[string]string{"name": "Side project"})
	s.Equal(http.StatusForbidden, w.Code)
	s.Equal("INSUFFICIENT_ACCESS", decodeError(s.T(), w).Error.Code)
}

func (s *HandlerTestSuite) TestTaskLifecycle() {
	project := s.createProject()
	task := s.createTask(project.ID)

	s.Equal("BACKLOG", task.Status)
	s.Equal("MEDIUM", task.Priority)
	s.Nil(task.Assignee)
	s.Equal("Olivia Owner", task.CreatedBy.Name)
	s.Equal([]string{"IN_PROGRESS"}, task.ValidTransitions)

	statusPath := "/api/v1/tasks/" + task.ID + "/status"

	// Skipping a step is rejected and names both statuses.
	w := doRequest(s.mux, http.MethodPatch, statusPath, s.ownerToken, map[string]string{"status": "DONE"})
	s.Equal(http.StatusBadRequest, w.Code)
	resp := decodeError(s.T(), w)
	s.Equal("INVALID_TRANSITION", resp.Error.Code)
	s.Contains(resp.Error.Message, "BACKLOG")
	s.Contains(resp.Error.Message, "DONE")

	// Same status is a conflict.
	w = doRequest(s.mux, http.MethodPatch, statusPath, s.ownerToken, map[string]string{"status": "BACKLOG"})
	s.Equal(http.StatusConflict, w.Code)

	// Unknown status is a validation error.
	w = doRequest(s.mux, http.MethodPatch, statusPath, s.ownerToken, map[string]string{"status": "ARCHIVED"})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal("VALIDATION_ERROR", decodeError(s.T(), w).Error.Code)

	for _, next := range []string{"IN_PROGRESS", "REVIEW", "DONE"} {
		w = doRequest(s.mux, http.MethodPatch, statusPath, s.ownerToken, map[string]string{"status": next})
		s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	}

	var done dto.TaskResponse
	s.decode(w, &done)
	s.Equal("DONE", done.Status)
	s.Empty(done.ValidTransitions)

	w = doRequest(s.mux, http.MethodGet, "/api/v1/tasks/"+task.ID+"/activity?limit=2", s.ownerToken, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var activity dto.ActivityListResponse
	s.decode(w, &activity)
	s.Equal(4, activity.Pagination.Total)
	s.Equal(2, activity.Pagination.Pages)
	s.Require().Len(activity.Logs, 2)
	s.Equal("TASK_STATUS_CHANGED", activity.Logs[0].Action)
	s.Require().NotNil(activity.Logs[0].NewValue)
	s.Equal("DONE", *activity.Logs[0].NewValue)
	s.Equal("Olivia Owner", activity.Logs[0].PerformedBy.Name)
}

func (s *HandlerTestSuite) TestUpdateTask_AssignAndUnassign() {
	project := s.createProject()
	task := s.createTask(project.ID)
	path := "/api/v1/tasks/" + task.ID

	// Not a project member yet.
	w := doRequest(s.mux, http.MethodGet, path, s.memberToken, nil)
	s.Equal(http.StatusForbidden, w.Code)

	w = doRequest(s.mux, http.MethodPost, "/api/v1/projects/"+project.ID+"/invite", s.ownerToken,
		map[string]string{"email": "member@example.com"})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	w = doRequest(s.mux, http.MethodPatch, path, s.memberToken,
		map[string]any{"assignee_id": s.memberID, "priority": "HIGH"})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var updated dto.TaskResponse
	s.decode(w, &updated)
	s.Require().NotNil(updated.Assignee)
	s.Equal("Mark Member", updated.Assignee.Name)
	s.Equal("HIGH", updated.Priority)

	w = doRequest(s.mux, http.MethodPatch, path, s.memberToken, `{"assignee_id": null}`)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.decode(w, &updated)
	s.Nil(updated.Assignee)

	w = doRequest(s.mux, http.MethodGet, path+"/activity", s.ownerToken, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var activity dto.ActivityListResponse
	s.decode(w, &activity)

	actions := make([]string, 0, len(activity.Logs))
	for _, l := range activity.Logs {
		actions = append(actions, l.Action)
	}
	s.Equal([]string{"TASK_REASSIGNED", "TASK_UPDATED", "TASK_ASSIGNED", "TASK_CREATED"}, actions)
	s.Equal("Unassigned", *activity.Logs[0].NewValue)
}

func (s *HandlerTestSuite) TestListTasks_Filters() {
	project := s.createProject()
	first := s.createTask(project.ID)
	s.createTask(project.ID)

	w := doRequest(s.mux, http.MethodPatch, "/api/v1/tasks/"+first.ID+"/status", s.ownerToken,
		map[string]string{"status": "IN_PROGRESS"})
	s.Require().Equal(http.StatusOK, w.Code)

	w = doRequest(s.mux, http.MethodGet,
		fmt.Sprintf("/api/v1/projects/%s/tasks?status=in_progress", project.ID), s.ownerToken, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var list dto.TasksListResponse
	s.decode(w, &list)
	s.Equal(1, list.Pagination.Total)
	s.Require().Len(list.Tasks, 1)
	s.Equal(first.ID, list.Tasks[0].ID)

	w = doRequest(s.mux, http.MethodGet,
		fmt.Sprintf("/api/v1/projects/%s/tasks?assignee=none", project.ID), s.ownerToken, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.decode(w, &list)
	s.Equal(2, list.Pagination.Total)

	w = doRequest(s.mux, http.MethodGet, "/api/v1/projects/"+project.ID+"/stats", s.ownerToken, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var stats dto.ProjectStatsResponse
	s.decode(w, &stats)
	s.Equal(2, stats.TotalTasks)
	s.Equal(1, stats.TasksByStatus["IN_PROGRESS"])
	s.Equal(1, stats.TasksByStatus["BACKLOG"])
}

func (s *HandlerTestSuite) TestDeleteTask() {
	project := s.createProject()
	task := s.createTask(project.ID)

	w := doRequest(s.mux, http.MethodDelete, "/api/v1/tasks/"+task.ID, s.ownerToken, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	w = doRequest(s.mux, http.MethodGet, "/api/v1/tasks/"+task.ID, s.ownerToken, nil)
	s.Equal(http.StatusNotFound, w.Code)
	s.Equal("TASK_NOT_FOUND", decodeError(s.T(), w).Error.Code)

	w = doRequest(s.mux, http.MethodGet, "/api/v1/tasks/"+task.ID+"/activity", s.ownerToken, nil)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *HandlerTestSuite) TestRoleChanges() {
	w := doRequest(s.mux, http.MethodGet, "/api/v1/auth/me", s.ownerToken, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var me dto.UserResponse
	s.decode(w, &me)

	w = doRequest(s.mux, http.MethodPatch, "/api/v1/users/"+me.ID+"/demote", s.ownerToken, nil)
	s.Equal(http.StatusBadRequest, w.Code)

	w = doRequest(s.mux, http.MethodPatch, "/api/v1/users/"+s.memberID+"/promote", s.ownerToken, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var promoted dto.UserResponse
	s.decode(w, &promoted)
	s.Equal("OWNER", promoted.Role)

	// The role is read from the database, so the old token already works.
	w = doRequest(s.mux, http.MethodGet, "/api/v1/users", s.memberToken, nil)
	s.Equal(http.StatusOK, w.Code)

	w = doRequest(s.mux, http.MethodPatch, "/api/v1/users/"+s.memberID+"/demote", s.ownerToken, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	w = doRequest(s.mux, http.MethodGet, "/api/v1/users", s.memberToken, nil)
	s.Equal(http.StatusForbidden, w.Code)
}

// keyCounter allows limit requests per key and remembers the keys it saw.
type keyCounter struct {
	limit  int
	counts map[string]int
}

func (k *keyCounter) Allow(_ context.Context, key string) (bool, int, time.Time, error) {
	k.counts[key]++
	return k.counts[key] <= k.limit, 0, time.Now().Add(time.Minute), nil
}

func TestRateLimitedRoutes(t *testing.T) {
	tokens, err := auth.NewTokenIssuer("handler-test-secret", time.Hour)
	require.NoError(t, err)
	ips, err := middleware.NewClientIP(nil)
	require.NoError(t, err)

	authLimiter := &keyCounter{limit: 2, counts: map[string]int{}}
	generalLimiter := &keyCounter{limit: 100, counts: map[string]int{}}

	mux := http.NewServeMux()
	handler.New(&database.DB{}, tokens).WithRateLimits(handler.RateLimits{
		Auth:    middleware.RateLimit(authLimiter, 2, ips.ByIP),
		General: middleware.RateLimit(generalLimiter, 100, ips.ByActor),
	}).RegisterRoutes(mux)

	login := map[string]any{"email": "nope", "password": "x"}
	for i := range 2 {
		w := doRequest(mux, http.MethodPost, "/api/v1/auth/login", "", login)
		assert.Equal(t, http.StatusBadRequest, w.Code, "attempt %d", i+1)
	}

	w := doRequest(mux, http.MethodPost, "/api/v1/auth/register", "", login)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", decodeError(t, w).Error.Code)

	token, err := tokens.Issue(&domain.User{ID: "00000000-0000-0000-0000-000000000011", Role: domain.UserRoleMember})
	require.NoError(t, err)

	w = doRequest(mux, http.MethodGet, "/api/v1/tasks/42", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, map[string]int{"user:00000000-0000-0000-0000-000000000011": 1}, generalLimiter.counts)

	// Unauthenticated requests are refused before the general limit is counted.
	w = doRequest(mux, http.MethodGet, "/api/v1/tasks/42", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Len(t, generalLimiter.counts, 1)
}
