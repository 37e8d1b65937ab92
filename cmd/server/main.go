package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dbaudit/api"
	"dbaudit/internal/archive"
	"dbaudit/internal/audit"
	"dbaudit/internal/config"
	"dbaudit/internal/infra"
	"dbaudit/internal/logger"
	"dbaudit/internal/query"
	"dbaudit/internal/resource"
	"dbaudit/internal/sqlreview"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	// 0. 统一加载 .env，便于集中管理 APP_* 环境变量
	if err := godotenv.Load(); err == nil {
		fmt.Println("已加载 .env 文件")
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 1. 加载配置
	cfg, err := config.Load(env, "")
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.String("env", env),
		zap.String("mode", cfg.Server.Mode),
	)

	// 3. 初始化数据库
	db, err := infra.InitDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer infra.CloseDatabase()

	// 4. 数据库迁移
	if err := runMigrations(db); err != nil {
		logger.Fatal("数据库迁移失败", zap.Error(err))
	}

	// 5. 装配应用
	gin.SetMode(cfg.Server.Mode)
	app, err := api.SetupApp(db, cfg)
	if err != nil {
		logger.Fatal("装配应用失败", zap.Error(err))
	}
	defer app.Queue.Close()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      app.Router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// 6. 启动 HTTP 服务器
	go func() {
		logger.Info("HTTP 服务器启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器启动失败", zap.Error(err))
		}
	}()

	// 7. 启动后台 Worker
	go func() {
		if err := app.Worker.Run(); err != nil {
			logger.Fatal("Worker 服务器启动失败", zap.Error(err))
		}
	}()

	// 8. 启动归档调度
	if err := app.ArchiveScheduler.Start(); err != nil {
		logger.Fatal("归档调度器启动失败", zap.Error(err))
	}

	gracefulShutdown(server, app)
}

// runMigrations 迁移全部业务与审批流表
func runMigrations(db *gorm.DB) error {
	return infra.AutoMigrate(db,
		// 审批流
		&audit.WorkflowAudit{},
		&audit.WorkflowAuditDetail{},
		&audit.WorkflowAuditSetting{},
		&audit.WorkflowLog{},
		// 资源与成员关系
		&resource.ResourceGroup{},
		&resource.AuthGroup{},
		&resource.Users{},
		&resource.UserResourceGroup{},
		&resource.UserAuthGroup{},
		&resource.Instance{},
		&resource.InstanceTag{},
		// SQL 上线
		&sqlreview.SqlWorkflow{},
		&sqlreview.SqlWorkflowContent{},
		// 查询权限
		&query.QueryPrivilegesApply{},
		&query.QueryPrivilege{},
		// 数据归档
		&archive.ArchiveConfig{},
		&archive.ArchiveLog{},
	)
}

func gracefulShutdown(server *http.Server, app *api.App) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("收到退出信号，开始优雅关闭...")

	app.ArchiveScheduler.Stop()
	app.Worker.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP 服务器关闭失败", zap.Error(err))
	}

	infra.CloseRedis()
	logger.Info("应用已退出")
}
