package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/adikanta321/Secure-Task-Manager-Rest-API/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type profileResponse struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	AvatarKey string `json:"avatar_key,omitempty"`
	IsStaff   bool   `json:"is_staff"`
	CreatedAt string `json:"created_at"`
}

type profileUpdateRequest struct {
	Username     *string `json:"username"`
	Email        *string `json:"email"`
	FirstName    *string `json:"first_name"`
	LastName     *string `json:"last_name"`
	CroppedImage *string `json:"cropped_image"`
}

// Profile 返回当前用户资料。
func (h *Handler) Profile(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toProfileResponse(user))
}

// UpdateProfile 更新当前用户资料。
//
// 头像支持两种提交方式：multipart 的 profile_image 文件，或
// cropped_image 字段携带的 base64 数据（data:image/<fmt>;base64,...）。
// 解码失败作为普通校验错误返回，不会中断进程。
func (h *Handler) UpdateProfile(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	var req profileUpdateRequest
	var avatarData []byte
	var avatarType string

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		req = profileUpdateRequestFromForm(c)
		if file, err := c.FormFile("profile_image"); err == nil && file != nil {
			f, err := file.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "read uploaded image failed"})
				return
			}
			data, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "read uploaded image failed"})
				return
			}
			avatarData = data
			avatarType = file.Header.Get("Content-Type")
			if avatarType == "" {
				avatarType = http.DetectContentType(data)
			}
		}
	} else {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	// base64 裁剪图优先于普通文件上传
	if req.CroppedImage != nil && strings.TrimSpace(*req.CroppedImage) != "" {
		data, contentType, err := decodeCroppedImage(*req.CroppedImage)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not decode the cropped image"})
			return
		}
		avatarData = data
		avatarType = contentType
	}

	updates := map[string]interface{}{}
	fieldErrs := gin.H{}

	if req.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*req.Email))
		if email == "" || !strings.Contains(email, "@") {
			fieldErrs["email"] = "invalid email"
		} else if email != user.Email {
			var other model.User
			err := h.db.Where("email = ? AND id <> ?", email, user.ID).First(&other).Error
			if err == nil {
				fieldErrs["email"] = "email already in use"
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
				return
			} else {
				updates["email"] = email
			}
		}
	}
	if req.Username != nil {
		username := strings.TrimSpace(*req.Username)
		if username == "" {
			fieldErrs["username"] = "username cannot be blank"
		} else if username != user.Username {
			var other model.User
			err := h.db.Where("username = ? AND id <> ?", username, user.ID).First(&other).Error
			if err == nil {
				fieldErrs["username"] = "username already taken"
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
				return
			} else {
				updates["username"] = username
			}
		}
	}
	if req.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*req.LastName)
	}
	if len(fieldErrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"errors": fieldErrs})
		return
	}

	if avatarData != nil {
		if h.avatars == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "avatar storage not configured"})
			return
		}
		key := avatarKey(user.ID)
		if err := h.avatars.Put(c.Request.Context(), key, avatarData, avatarType); err != nil {
			h.logger.Error("store avatar failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store avatar failed"})
			return
		}
		updates["avatar_key"] = key
	}

	if len(updates) > 0 {
		if err := h.db.Model(&model.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
			h.logger.Error("update profile failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update profile failed"})
			return
		}
	}

	var fresh model.User
	if err := h.db.First(&fresh, user.ID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}
	c.JSON(http.StatusOK, toProfileResponse(&fresh))
}

// Avatar 返回当前用户头像内容。
func (h *Handler) Avatar(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	if user.AvatarKey == "" || h.avatars == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no avatar"})
		return
	}
	data, contentType, err := h.avatars.Get(c.Request.Context(), user.AvatarKey)
	if err != nil {
		h.logger.Warn("load avatar failed", slog.String("key", user.AvatarKey), slog.String("error", err.Error()))
		c.JSON(http.StatusNotFound, gin.H{"error": "no avatar"})
		return
	}
	if contentType == "" {
		contentType = "image/png"
	}
	c.Data(http.StatusOK, contentType, data)
}

func (h *Handler) currentUser(c *gin.Context) (*model.User, bool) {
	var user model.User
	if err := h.db.First(&user, getUserID(c)).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return nil, false
	}
	return &user, true
}

func profileUpdateRequestFromForm(c *gin.Context) profileUpdateRequest {
	var req profileUpdateRequest
	if v, ok := c.GetPostForm("username"); ok {
		req.Username = &v
	}
	if v, ok := c.GetPostForm("email"); ok {
		req.Email = &v
	}
	if v, ok := c.GetPostForm("first_name"); ok {
		req.FirstName = &v
	}
	if v, ok := c.GetPostForm("last_name"); ok {
		req.LastName = &v
	}
	if v, ok := c.GetPostForm("cropped_image"); ok {
		req.CroppedImage = &v
	}
	return req
}

// decodeCroppedImage 解析 data:image/<fmt>;base64,<payload> 形式的头像数据。
// 没有头部前缀时按裸 base64 处理，默认当作 PNG。
func decodeCroppedImage(s string) ([]byte, string, error) {
	payload := s
	format := "png"
	if i := strings.Index(s, ","); i >= 0 {
		header := s[:i]
		payload = s[i+1:]
		if rest, ok := strings.CutPrefix(header, "data:image/"); ok {
			if j := strings.Index(rest, ";"); j >= 0 {
				format = rest[:j]
			}
		}
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode cropped image: %w", err)
	}
	return data, "image/" + format, nil
}

func avatarKey(userID uint) string {
	name := fmt.Sprintf("avatar_%s.png", strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	return path.Join(fmt.Sprintf("profiles/user_%d", userID), name)
}

func toProfileResponse(u *model.User) profileResponse {
	return profileResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		AvatarKey: u.AvatarKey,
		IsStaff:   u.IsStaff,
		CreatedAt: u.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}
