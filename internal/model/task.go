package model

import "time"

// TaskStatus 任务状态枚举。
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"       // 待办
	TaskStatusInProgress TaskStatus = "inprogress" // 进行中
	TaskStatusDone       TaskStatus = "done"       // 已完成
)

// ValidTaskStatus 判断给定字符串是否为合法的任务状态。
func ValidTaskStatus(s string) bool {
	switch TaskStatus(s) {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusDone:
		return true
	}
	return false
}

// Task 表示一条任务记录。
//
// 任务归属于唯一的用户（owner），创建后归属不可变更。
// 默认按创建时间倒序展示（最新在前）。
type Task struct {
	ID        uint      `gorm:"primaryKey"` // 任务唯一标识
	CreatedAt time.Time // 创建时间（系统赋值）
	UpdatedAt time.Time // 更新时间（保存时自动刷新）

	UserID uint `gorm:"not null;index"`    // 所属用户 ID
	User   User `gorm:"foreignKey:UserID"` // 所属用户

	Title       string     `gorm:"type:varchar(200);not null"`        // 标题（必填）
	Description string     `gorm:"type:text"`                         // 描述（可为空）
	Status      TaskStatus `gorm:"type:varchar(20);default:todo"`     // 状态: todo / inprogress / done
	IsFavorite  bool       `gorm:"column:is_favorite;default:false"`  // 是否收藏
}
