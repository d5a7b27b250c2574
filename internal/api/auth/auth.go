package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adikanta321/Secure-Task-Manager-Rest-API/internal/model"
	"github.com/adikanta321/Secure-Task-Manager-Rest-API/internal/pkg/blobstore"
	"github.com/adikanta321/Secure-Task-Manager-Rest-API/internal/pkg/metrics"
	"github.com/adikanta321/Secure-Task-Manager-Rest-API/internal/pkg/notify"
	"github.com/adikanta321/Secure-Task-Manager-Rest-API/internal/pkg/session"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Handler 提供注册、登录、密码重置与个人资料接口。
type Handler struct {
	db        *gorm.DB
	jwtSecret []byte
	tokenTTL  time.Duration
	mailer    notify.Mailer
	deny      *session.Denylist
	avatars   blobstore.Store
	logger    *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(db *gorm.DB, jwtSecret string, tokenTTL time.Duration, mailer notify.Mailer, deny *session.Denylist, avatars blobstore.Store, logger *slog.Logger) *Handler {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Handler{
		db:        db,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		mailer:    mailer,
		deny:      deny,
		avatars:   avatars,
		logger:    logger,
	}
}

type signupRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email" binding:"required,email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password1 string `json:"password1" binding:"required,min=6"`
	Password2 string `json:"password2" binding:"required"`
}

type loginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Signup 创建新用户。
func (h *Handler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Password1 != req.Password2 {
		c.JSON(http.StatusBadRequest, gin.H{"errors": gin.H{"password2": "passwords do not match"}})
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	username := strings.TrimSpace(req.Username)
	if username == "" {
		// 未提供用户名时，用邮箱本地部分兜底
		username = strings.SplitN(email, "@", 2)[0]
	}

	fieldErrs := gin.H{}
	var existing model.User
	if err := h.db.Where("email = ?", email).First(&existing).Error; err == nil {
		fieldErrs["email"] = "an account with this email already exists"
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}
	if err := h.db.Where("username = ?", username).First(&existing).Error; err == nil {
		fieldErrs["username"] = "username already taken"
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}
	if len(fieldErrs) > 0 {
		c.JSON(http.StatusConflict, gin.H{"errors": fieldErrs})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password1), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	user := model.User{
		Email:        email,
		Username:     username,
		PasswordHash: string(hash),
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		IsActive:     true,
	}
	if err := h.db.Create(&user).Error; err != nil {
		h.logger.Error("create user failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}

	h.logger.Info("user registered", slog.String("email", email), slog.String("username", username))
	c.JSON(http.StatusCreated, gin.H{"id": user.ID, "message": "account created"})
}

// Login 按邮箱或用户名校验用户并返回 JWT。
//
// 邮箱匹配不区分大小写，用户名匹配区分大小写。任何一种失败
// （用户不存在 / 密码错误 / 账号停用）都返回同一条错误，
// 调用方无法区分具体原因。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := h.findByIdentifier(req.Identifier)
	if user == nil || !user.IsActive ||
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		metrics.LoginFailureTotal.Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := h.issueToken(user.ID)
	if err != nil {
		h.logger.Error("sign token failed", slog.String("email", user.Email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	h.logger.Info("user logged in", slog.String("email", user.Email))
	c.JSON(http.StatusOK, tokenResponse{Token: token})
}

// Logout 吊销当前令牌。
func (h *Handler) Logout(c *gin.Context) {
	jti := c.GetString("jti")
	ttl := h.tokenTTL
	if v, ok := c.Get("tokenExpiresAt"); ok {
		if exp, ok := v.(time.Time); ok {
			ttl = time.Until(exp)
		}
	}
	if err := h.deny.Revoke(c.Request.Context(), jti, ttl); err != nil {
		h.logger.Warn("revoke token failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// findByIdentifier 先按邮箱（小写归一）查找，再按用户名精确查找。
func (h *Handler) findByIdentifier(identifier string) *model.User {
	var user model.User
	email := strings.TrimSpace(strings.ToLower(identifier))
	err := h.db.Where("email = ?", email).First(&user).Error
	if err == nil {
		return &user
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}

	err = h.db.Where("username = ?", identifier).First(&user).Error
	if err != nil {
		return nil
	}
	// MySQL 默认排序规则不区分大小写，这里再做一次精确比对
	if user.Username != identifier {
		return nil
	}
	return &user
}

func (h *Handler) issueToken(userID uint) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		ID:        uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(now.Add(h.tokenTTL)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}

func getUserID(c *gin.Context) uint {
	return uint(c.GetInt("userID"))
}
