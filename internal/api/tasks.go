package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adikanta321/Secure-Task-Manager-Rest-API/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// taskResponse 任务的响应结构。
type taskResponse struct {
	ID          uint      `json:"id"`
	Owner       uint      `json:"owner"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	IsFavorite  bool      `json:"is_favorite"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// createTaskRequest 创建任务的请求参数。
type createTaskRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Status      string `json:"status"`
	IsFavorite  bool   `json:"is_favorite"`
}

type updateTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	IsFavorite  *bool   `json:"is_favorite"`
}

// orderClauses 排序项白名单。
//
// 客户端传入的排序键只允许映射到这里列出的 (列, 方向) 组合，
// 白名单之外的取值一律回落到默认排序，绝不拼接进 SQL。
var orderClauses = map[string]string{
	"newest":      "created_at DESC",
	"oldest":      "created_at ASC",
	"title_asc":   "title ASC",
	"title_desc":  "title DESC",
	"created_at":  "created_at ASC",
	"-created_at": "created_at DESC",
	"title":       "title ASC",
	"-title":      "title DESC",
}

// defaultOrderClause 默认排序：最新在前。
const defaultOrderClause = "created_at DESC"

// mapOrdering 将排序参数映射为 SQL 排序子句。
func mapOrdering(ordering string) string {
	if clause, ok := orderClauses[strings.TrimSpace(ordering)]; ok {
		return clause
	}
	return defaultOrderClause
}

// applyTaskFilters 按查询参数过滤任务，多个条件为 AND 关系。
//
//   - q / search: 标题子串匹配（不区分大小写），去空白后为空则忽略
//   - status: todo/inprogress/done 精确匹配；pending = 未完成；completed = 已完成；其他取值忽略
//   - favorite: 1/true/yes（不区分大小写）过滤已收藏，其他非空取值过滤未收藏，缺省不过滤
func applyTaskFilters(qs *gorm.DB, c *gin.Context) *gorm.DB {
	q := c.Query("q")
	if q == "" {
		q = c.Query("search")
	}
	q = strings.TrimSpace(q)
	if q != "" {
		qs = qs.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(q)+"%")
	}

	status := strings.ToLower(strings.TrimSpace(c.Query("status")))
	switch status {
	case "todo", "inprogress", "done":
		qs = qs.Where("status = ?", status)
	case "pending":
		qs = qs.Where("status <> ?", model.TaskStatusDone)
	case "completed":
		qs = qs.Where("status = ?", model.TaskStatusDone)
	}

	if fav, ok := c.GetQuery("favorite"); ok {
		switch strings.ToLower(fav) {
		case "1", "true", "yes":
			qs = qs.Where("is_favorite = ?", true)
		default:
			qs = qs.Where("is_favorite = ?", false)
		}
	}

	return qs
}

// handleListTasks 返回当前用户的任务列表。
//
// GET /api/tasks?q=&status=&favorite=&ordering=
func (s *Server) handleListTasks(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		// 未认证请求不触达存储层，直接返回空集
		c.JSON(http.StatusOK, []taskResponse{})
		return
	}

	qs := s.db.Model(&model.Task{}).Where("user_id = ?", userID)
	qs = applyTaskFilters(qs, c)
	qs = qs.Order(mapOrdering(c.Query("ordering")))

	var tasks []model.Task
	if err := qs.Find(&tasks).Error; err != nil {
		s.logger.Error("list tasks failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list tasks failed"})
		return
	}

	out := make([]taskResponse, 0, len(tasks)) // 空结果返回 [] 而不是 null
	for i := range tasks {
		out = append(out, toTaskResponse(&tasks[i]))
	}
	c.JSON(http.StatusOK, out)
}

// handleCreateTask 创建任务，归属强制取自会话身份。
//
// POST /api/tasks
func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid title"})
		return
	}

	status := strings.TrimSpace(req.Status)
	if status == "" {
		status = string(model.TaskStatusTodo)
	}
	if !model.ValidTaskStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	task := model.Task{
		UserID:      getUserID(c),
		Title:       title,
		Description: req.Description,
		Status:      model.TaskStatus(status),
		IsFavorite:  req.IsFavorite,
	}
	if err := s.db.WithContext(c.Request.Context()).Create(&task).Error; err != nil {
		s.logger.Error("create task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create task failed"})
		return
	}

	c.JSON(http.StatusCreated, toTaskResponse(&task))
}

// handleGetTask 返回单个任务，他人任务按不存在处理。
//
// GET /api/tasks/:id
func (s *Server) handleGetTask(c *gin.Context) {
	task, ok := s.loadTask(c)
	if !ok {
		return
	}
	if task.UserID != getUserID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(task))
}

// handleUpdateTask 更新任务字段，时间戳由系统维护。
//
// PUT/PATCH /api/tasks/:id
func (s *Server) handleUpdateTask(c *gin.Context) {
	task, ok := s.loadTask(c)
	if !ok {
		return
	}
	if task.UserID != getUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not the task owner"})
		return
	}

	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid title"})
			return
		}
		updates["title"] = title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Status != nil {
		if !model.ValidTaskStatus(*req.Status) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		updates["status"] = *req.Status
	}
	if req.IsFavorite != nil {
		updates["is_favorite"] = *req.IsFavorite
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no updates"})
		return
	}

	if err := s.db.Model(task).Updates(updates).Error; err != nil {
		s.logger.Error("update task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}

	var fresh model.Task
	if err := s.db.First(&fresh, task.ID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(&fresh))
}

// handleDeleteTask 删除任务。
//
// DELETE /api/tasks/:id
func (s *Server) handleDeleteTask(c *gin.Context) {
	task, ok := s.loadTask(c)
	if !ok {
		return
	}
	if task.UserID != getUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not the task owner"})
		return
	}

	if err := s.db.Delete(&model.Task{}, task.ID).Error; err != nil {
		s.logger.Error("delete task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete task failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": task.ID})
}

// handleToggleFavorite 翻转收藏标记。
//
// POST /api/tasks/:id/toggle-favorite
//
// 翻转在单条 UPDATE 内完成，并发下按存储层原子性取最后写入者。
func (s *Server) handleToggleFavorite(c *gin.Context) {
	task, ok := s.loadTask(c)
	if !ok {
		return
	}
	if task.UserID != getUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not the task owner"})
		return
	}

	if err := s.db.Model(&model.Task{}).
		Where("id = ?", task.ID).
		Update("is_favorite", gorm.Expr("NOT is_favorite")).Error; err != nil {
		s.logger.Error("toggle favorite failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "toggle favorite failed"})
		return
	}

	var fresh model.Task
	if err := s.db.First(&fresh, task.ID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "toggle favorite failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": fresh.ID, "is_favorite": fresh.IsFavorite})
}

// loadTask 按路径参数加载任务，不存在时写好响应并返回 false。
func (s *Server) loadTask(c *gin.Context) (*model.Task, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return nil, false
	}

	var task model.Task
	if err := s.db.First(&task, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return nil, false
		}
		s.logger.Error("load task failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load task failed"})
		return nil, false
	}
	return &task, true
}

func toTaskResponse(t *model.Task) taskResponse {
	return taskResponse{
		ID:          t.ID,
		Owner:       t.UserID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		IsFavorite:  t.IsFavorite,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}
