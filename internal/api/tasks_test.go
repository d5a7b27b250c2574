package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/adikanta321/Secure-Task-Manager-Rest-API/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.User{}, &model.PasswordResetOTP{}, &model.Task{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return &Server{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// newTaskRouter 以固定身份挂载任务路由，绕过 JWT 中间件。
func newTaskRouter(s *Server, userID uint) *gin.Engine {
	r := gin.New()
	g := r.Group("/api", func(c *gin.Context) {
		if userID != 0 {
			c.Set("userID", int(userID))
		}
		c.Next()
	})
	g.GET("/tasks", s.handleListTasks)
	g.POST("/tasks", s.handleCreateTask)
	g.GET("/tasks/:id", s.handleGetTask)
	g.PUT("/tasks/:id", s.handleUpdateTask)
	g.PATCH("/tasks/:id", s.handleUpdateTask)
	g.DELETE("/tasks/:id", s.handleDeleteTask)
	g.POST("/tasks/:id/toggle-favorite", s.handleToggleFavorite)
	return r
}

func doTaskJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func mustCreateTask(t *testing.T, db *gorm.DB, userID uint, title string, status model.TaskStatus, favorite bool, age time.Duration) *model.Task {
	t.Helper()
	task := model.Task{
		UserID:     userID,
		Title:      title,
		Status:     status,
		IsFavorite: favorite,
		CreatedAt:  time.Now().Add(-age),
	}
	if err := db.Create(&task).Error; err != nil {
		t.Fatalf("create task %q: %v", title, err)
	}
	return &task
}

func listTasks(t *testing.T, r http.Handler, query string) []taskResponse {
	t.Helper()
	w := doTaskJSON(t, r, http.MethodGet, "/api/tasks"+query, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list %q status = %d, body %s", query, w.Code, w.Body.String())
	}
	var out []taskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	return out
}

func titles(tasks []taskResponse) []string {
	out := make([]string, len(tasks))
	for i, task := range tasks {
		out[i] = task.Title
	}
	return out
}

func TestCreateAndListOwnedTasks(t *testing.T) {
	s := newTestServer(t)
	r := newTaskRouter(s, 1)

	w := doTaskJSON(t, r, http.MethodPost, "/api/tasks", gin.H{
		"title": "  write report  ",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	var created taskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.Owner != 1 {
		t.Fatalf("owner = %d, want session user", created.Owner)
	}
	if created.Title != "write report" {
		t.Fatalf("title = %q, want trimmed", created.Title)
	}
	if created.Status != string(model.TaskStatusTodo) {
		t.Fatalf("status = %q, want default todo", created.Status)
	}

	mustCreateTask(t, s.db, 2, "someone else's task", model.TaskStatusTodo, false, 0)

	got := listTasks(t, r, "")
	if len(got) != 1 || got[0].ID != created.ID {
		t.Fatalf("list = %v, want only own task", titles(got))
	}

	// 无任务用户拿到空数组而不是 null
	empty := newTaskRouter(s, 3)
	w = doTaskJSON(t, empty, http.MethodGet, "/api/tasks", nil)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("empty list body = %s, want []", w.Body.String())
	}
}

func TestCreateTaskValidation(t *testing.T) {
	s := newTestServer(t)
	r := newTaskRouter(s, 1)

	cases := []struct {
		name string
		body gin.H
	}{
		{"missing title", gin.H{"description": "x"}},
		{"blank title", gin.H{"title": "   "}},
		{"bad status", gin.H{"title": "ok", "status": "archived"}},
	}
	for _, tc := range cases {
		w := doTaskJSON(t, r, http.MethodPost, "/api/tasks", tc.body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", tc.name, w.Code)
		}
	}
}

func TestListTaskFilters(t *testing.T) {
	s := newTestServer(t)
	r := newTaskRouter(s, 1)

	mustCreateTask(t, s.db, 1, "Buy groceries", model.TaskStatusTodo, true, 3*time.Hour)
	mustCreateTask(t, s.db, 1, "Ship release", model.TaskStatusInProgress, false, 2*time.Hour)
	mustCreateTask(t, s.db, 1, "Groom backlog", model.TaskStatusDone, false, time.Hour)

	if got := titles(listTasks(t, r, "?q=GRO")); len(got) != 2 {
		t.Fatalf("q filter = %v, want 2 case-insensitive matches", got)
	}
	if got := titles(listTasks(t, r, "?search=ship")); len(got) != 1 || got[0] != "Ship release" {
		t.Fatalf("search alias = %v", got)
	}
	if got := titles(listTasks(t, r, "?status=pending")); len(got) != 2 {
		t.Fatalf("status=pending = %v, want everything not done", got)
	}
	if got := titles(listTasks(t, r, "?status=completed")); len(got) != 1 || got[0] != "Groom backlog" {
		t.Fatalf("status=completed = %v", got)
	}
	if got := titles(listTasks(t, r, "?status=inprogress")); len(got) != 1 || got[0] != "Ship release" {
		t.Fatalf("status=inprogress = %v", got)
	}
	// 未知状态值被忽略
	if got := titles(listTasks(t, r, "?status=bogus")); len(got) != 3 {
		t.Fatalf("status=bogus = %v, want unfiltered", got)
	}
	if got := titles(listTasks(t, r, "?favorite=1")); len(got) != 1 || got[0] != "Buy groceries" {
		t.Fatalf("favorite=1 = %v", got)
	}
	if got := titles(listTasks(t, r, "?favorite=no")); len(got) != 2 {
		t.Fatalf("favorite=no = %v, want unfavorited tasks", got)
	}
	// 组合条件为 AND
	if got := titles(listTasks(t, r, "?q=gro&status=pending&favorite=true")); len(got) != 1 || got[0] != "Buy groceries" {
		t.Fatalf("combined filters = %v", got)
	}
}

func TestListOrderingAllowList(t *testing.T) {
	s := newTestServer(t)
	r := newTaskRouter(s, 1)

	mustCreateTask(t, s.db, 1, "alpha", model.TaskStatusTodo, false, 3*time.Hour)
	mustCreateTask(t, s.db, 1, "charlie", model.TaskStatusTodo, false, 2*time.Hour)
	mustCreateTask(t, s.db, 1, "bravo", model.TaskStatusTodo, false, time.Hour)

	checks := []struct {
		ordering string
		want     []string
	}{
		{"", []string{"bravo", "charlie", "alpha"}},
		{"newest", []string{"bravo", "charlie", "alpha"}},
		{"oldest", []string{"alpha", "charlie", "bravo"}},
		{"created_at", []string{"alpha", "charlie", "bravo"}},
		{"-created_at", []string{"bravo", "charlie", "alpha"}},
		{"title_asc", []string{"alpha", "bravo", "charlie"}},
		{"title_desc", []string{"charlie", "bravo", "alpha"}},
		{"-title", []string{"charlie", "bravo", "alpha"}},
		// 白名单外的取值回落默认排序，且不会进入 SQL
		{"evil; DROP TABLE tasks", []string{"bravo", "charlie", "alpha"}},
		{"unknown", []string{"bravo", "charlie", "alpha"}},
	}
	for _, tc := range checks {
		query := ""
		if tc.ordering != "" {
			query = "?ordering=" + url.QueryEscape(tc.ordering)
		}
		got := titles(listTasks(t, r, query))
		if !slices.Equal(got, tc.want) {
			t.Fatalf("ordering %q = %v, want %v", tc.ordering, got, tc.want)
		}
	}

	// 表还在
	var count int64
	if err := s.db.Model(&model.Task{}).Count(&count).Error; err != nil {
		t.Fatalf("tasks table gone: %v", err)
	}
}

func TestForeignTaskAccess(t *testing.T) {
	s := newTestServer(t)
	r := newTaskRouter(s, 1)
	theirs := mustCreateTask(t, s.db, 2, "their task", model.TaskStatusTodo, false, 0)
	path := fmt.Sprintf("/api/tasks/%d", theirs.ID)

	// 读按不存在处理
	if w := doTaskJSON(t, r, http.MethodGet, path, nil); w.Code != http.StatusNotFound {
		t.Fatalf("get foreign status = %d, want 404", w.Code)
	}
	// 写明确拒绝
	if w := doTaskJSON(t, r, http.MethodPatch, path, gin.H{"title": "mine now"}); w.Code != http.StatusForbidden {
		t.Fatalf("patch foreign status = %d, want 403", w.Code)
	}
	if w := doTaskJSON(t, r, http.MethodDelete, path, nil); w.Code != http.StatusForbidden {
		t.Fatalf("delete foreign status = %d, want 403", w.Code)
	}
	if w := doTaskJSON(t, r, http.MethodPost, path+"/toggle-favorite", nil); w.Code != http.StatusForbidden {
		t.Fatalf("toggle foreign status = %d, want 403", w.Code)
	}

	var fresh model.Task
	if err := s.db.First(&fresh, theirs.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if fresh.Title != "their task" || fresh.IsFavorite {
		t.Fatal("foreign task must be untouched")
	}
}

func TestUpdateTaskPartial(t *testing.T) {
	s := newTestServer(t)
	r := newTaskRouter(s, 1)
	task := mustCreateTask(t, s.db, 1, "draft notes", model.TaskStatusTodo, false, time.Hour)
	path := fmt.Sprintf("/api/tasks/%d", task.ID)

	w := doTaskJSON(t, r, http.MethodPatch, path, gin.H{"status": "done"})
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body %s", w.Code, w.Body.String())
	}
	var got taskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != string(model.TaskStatusDone) {
		t.Fatalf("status = %q, want done", got.Status)
	}
	if got.Title != "draft notes" {
		t.Fatalf("title = %q, partial update must not clear other fields", got.Title)
	}

	if w := doTaskJSON(t, r, http.MethodPatch, path, gin.H{"title": "  "}); w.Code != http.StatusBadRequest {
		t.Fatalf("blank title status = %d, want 400", w.Code)
	}
	if w := doTaskJSON(t, r, http.MethodPatch, path, gin.H{}); w.Code != http.StatusBadRequest {
		t.Fatalf("empty patch status = %d, want 400", w.Code)
	}
	if w := doTaskJSON(t, r, http.MethodPatch, "/api/tasks/abc", gin.H{"title": "x"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", w.Code)
	}
	if w := doTaskJSON(t, r, http.MethodPatch, "/api/tasks/99999", gin.H{"title": "x"}); w.Code != http.StatusNotFound {
		t.Fatalf("missing id status = %d, want 404", w.Code)
	}
}

func TestDeleteTask(t *testing.T) {
	s := newTestServer(t)
	r := newTaskRouter(s, 1)
	task := mustCreateTask(t, s.db, 1, "obsolete", model.TaskStatusTodo, false, 0)
	path := fmt.Sprintf("/api/tasks/%d", task.ID)

	w := doTaskJSON(t, r, http.MethodDelete, path, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body %s", w.Code, w.Body.String())
	}
	if w := doTaskJSON(t, r, http.MethodGet, path, nil); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", w.Code)
	}
}

func TestToggleFavorite(t *testing.T) {
	s := newTestServer(t)
	r := newTaskRouter(s, 1)
	task := mustCreateTask(t, s.db, 1, "pin me", model.TaskStatusTodo, false, 0)
	path := fmt.Sprintf("/api/tasks/%d/toggle-favorite", task.ID)

	for _, want := range []bool{true, false, true} {
		w := doTaskJSON(t, r, http.MethodPost, path, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("toggle status = %d, body %s", w.Code, w.Body.String())
		}
		var got struct {
			ID         uint `json:"id"`
			IsFavorite bool `json:"is_favorite"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.IsFavorite != want {
			t.Fatalf("is_favorite = %v, want %v", got.IsFavorite, want)
		}
	}
}
