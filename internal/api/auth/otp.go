package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/adikanta321/Secure-Task-Manager-Rest-API/internal/model"
	"github.com/adikanta321/Secure-Task-Manager-Rest-API/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var errOTPAlreadyConsumed = errors.New("otp already consumed")

type requestOTPRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type verifyOTPRequest struct {
	Email     string `json:"email" binding:"required,email"`
	OTP       string `json:"otp" binding:"required"`
	Password1 string `json:"password1" binding:"required,min=6"`
	Password2 string `json:"password2" binding:"required"`
}

// RequestOTP 为指定邮箱签发密码重置验证码并发送邮件。
//
// 同一用户允许存在多条未消费验证码，签发时不做碰撞检查，
// 也不做频控。发信失败时记录已落库，请求返回失败。
func (h *Handler) RequestOTP(c *gin.Context) {
	var req requestOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	var user model.User
	if err := h.db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no account found for that email"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}

	code, err := generateOTPCode()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate code failed"})
		return
	}

	otp := model.PasswordResetOTP{
		UserID: user.ID,
		Code:   code,
	}
	if err := h.db.Create(&otp).Error; err != nil {
		h.logger.Error("create otp failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create otp failed"})
		return
	}

	if err := h.mailer.SendResetCode(user.Email, user.ShortName(), code); err != nil {
		h.logger.Warn("send reset email failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "send reset email failed"})
		return
	}

	metrics.OTPIssuedTotal.Inc()
	h.logger.Info("reset otp issued", slog.String("email", email))
	c.JSON(http.StatusOK, gin.H{"message": "otp sent, check inbox and spam (10 min expiry)"})
}

// VerifyOTP 校验验证码并重置密码。
//
// 取该用户匹配验证码且未消费的最新一条记录；过期记录保持未消费，
// 用户可重新申请。密码更新与验证码消费在同一事务内完成，消费使用
// consumed=false 条件更新保证并发下只成功一次。
func (h *Handler) VerifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Password1 != req.Password2 {
		c.JSON(http.StatusBadRequest, gin.H{"errors": gin.H{"password2": "passwords do not match"}})
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	var user model.User
	if err := h.db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no account found for that email"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}

	code := strings.TrimSpace(req.OTP)
	var otp model.PasswordResetOTP
	err := h.db.Where("user_id = ? AND code = ? AND consumed = ?", user.ID, code, false).
		Order("created_at DESC, id DESC").
		First(&otp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.OTPRejectedTotal.WithLabelValues("invalid").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid otp"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query otp failed"})
		return
	}

	if otp.IsExpired(time.Now()) {
		metrics.OTPRejectedTotal.WithLabelValues("expired").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "otp expired, request a new one"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password1), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.User{}).
			Where("id = ?", user.ID).
			Update("password_hash", string(hash)).Error; err != nil {
			return err
		}
		res := tx.Model(&model.PasswordResetOTP{}).
			Where("id = ? AND consumed = ?", otp.ID, false).
			Update("consumed", true)
		if res.Error != nil {
			return res.Error
		}
		// 并发的第二次校验在这里失败并回滚密码更新
		if res.RowsAffected != 1 {
			return errOTPAlreadyConsumed
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errOTPAlreadyConsumed) {
			metrics.OTPRejectedTotal.WithLabelValues("invalid").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid otp"})
			return
		}
		h.logger.Error("reset password failed", slog.String("email", email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset password failed"})
		return
	}

	metrics.OTPConsumedTotal.Inc()
	h.logger.Info("password reset", slog.String("email", email))
	c.JSON(http.StatusOK, gin.H{"message": "password reset successful"})
}

// generateOTPCode 生成 000000–999999 均匀分布的零填充验证码。
func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
