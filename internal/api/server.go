package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/adikanta321/Secure-Task-Manager-Rest-API/internal/api/auth"
	"github.com/adikanta321/Secure-Task-Manager-Rest-API/internal/api/middleware"
	"github.com/adikanta321/Secure-Task-Manager-Rest-API/internal/config"
	"github.com/adikanta321/Secure-Task-Manager-Rest-API/internal/model"
	"github.com/adikanta321/Secure-Task-Manager-Rest-API/internal/pkg/blobstore"
	"github.com/adikanta321/Secure-Task-Manager-Rest-API/internal/pkg/metrics"
	"github.com/adikanta321/Secure-Task-Manager-Rest-API/internal/pkg/notify"
	"github.com/adikanta321/Secure-Task-Manager-Rest-API/internal/pkg/session"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端（登出令牌黑名单）以及 Gin 路由引擎。
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *gorm.DB
	rdb    *redis.Client
	router *gin.Engine
	auth   *auth.Handler
	deny   *session.Denylist
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移
// 2. 连接 Redis
// 3. 连接头像对象存储
// 4. 初始化 Gin 路由引擎
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.User{}, &model.PasswordResetOTP{}, &model.Task{}); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	avatars, err := blobstore.NewMinioStore(ctx, &cfg.Storage)
	if err != nil {
		return nil, err
	}

	mailer := notify.NewEmailNotifier(&cfg.Email, logger)
	deny := session.NewDenylist(rdb)

	metrics.InitMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:    cfg,
		logger: logger,
		db:     db,
		rdb:    rdb,
		router: r,
		deny:   deny,
		auth:   auth.NewHandler(db, cfg.Security.JWTSecret, cfg.App.TokenTTL, mailer, deny, avatars, logger),
	}
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if closeErr := sqlDB.Close(); closeErr != nil {
				if firstErr == nil {
					firstErr = closeErr
				}
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/healthz", s.handleHealthz)

	accounts := s.router.Group("/accounts")
	accounts.POST("/signup", s.auth.Signup)
	accounts.POST("/login", s.auth.Login)
	accounts.POST("/password/request-otp", s.auth.RequestOTP)
	accounts.POST("/password/verify-otp", s.auth.VerifyOTP)

	authedAccounts := accounts.Group("")
	authedAccounts.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret, s.deny))
	authedAccounts.POST("/logout", s.auth.Logout)
	authedAccounts.GET("/profile", s.auth.Profile)
	authedAccounts.PUT("/profile", s.auth.UpdateProfile)
	authedAccounts.PATCH("/profile", s.auth.UpdateProfile)
	authedAccounts.GET("/profile/avatar", s.auth.Avatar)

	api := s.router.Group("/api")
	api.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret, s.deny))
	api.GET("/tasks", s.handleListTasks)
	api.POST("/tasks", s.handleCreateTask)
	api.GET("/tasks/:id", s.handleGetTask)
	api.PUT("/tasks/:id", s.handleUpdateTask)
	api.PATCH("/tasks/:id", s.handleUpdateTask)
	api.DELETE("/tasks/:id", s.handleDeleteTask)
	api.POST("/tasks/:id/toggle-favorite", s.handleToggleFavorite)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func getUserID(c *gin.Context) uint {
	return uint(c.GetInt("userID"))
}
