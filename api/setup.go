package api

import (
	"time"

	"dbaudit/api/handlers"
	"dbaudit/internal/archive"
	"dbaudit/internal/audit"
	"dbaudit/internal/auth"
	"dbaudit/internal/checker"
	"dbaudit/internal/config"
	"dbaudit/internal/infra"
	"dbaudit/internal/infra/queue"
	"dbaudit/internal/logger"
	"dbaudit/internal/notification"
	"dbaudit/internal/query"
	"dbaudit/internal/resource"
	"dbaudit/internal/sqlreview"
	"dbaudit/internal/worker"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// App 装配完成的应用依赖
type App struct {
	Router           *gin.Engine
	Worker           *worker.Server
	ArchiveScheduler *archive.Scheduler
	Queue            queue.Client
}

// SetupApp 装配全部业务依赖：审批引擎、三类工单服务、队列、Worker 与调度器
func SetupApp(db *gorm.DB, cfg *config.Config) (*App, error) {
	// 基础设施
	rdb, err := infra.InitRedis(&cfg.Redis)
	if err != nil {
		return nil, err
	}
	queueClient := queue.NewClient(cfg.Redis)

	// 成员关系解析与审核网关
	resolver := resource.NewResolver(db)
	chk := checker.NewGoInceptionChecker(&cfg.Checker)

	// 审批引擎：自动审核决策只对 SQL 工单生效
	reviewCfg := audit.NewReviewConfig(&cfg.Audit)
	decider := sqlreview.NewDecider(db, resolver, chk)
	engine := audit.NewEngine(db,
		audit.WithGroupDirectory(resolver),
		audit.WithAutoReviewer(decider),
		audit.WithEventBus(audit.NewEventBus(nil)),
	)

	// 三类工单服务
	sqlService := sqlreview.NewService(db, engine, chk, queueClient, resolver)
	queryService := query.NewService(db, engine, queueClient, resolver)
	archiver := archive.NewPtArchiver("")
	archiveService := archive.NewService(db, engine, queueClient, resolver, archiver)

	// 通知
	renderer := notification.NewRenderer(db, engine, cfg.Notify.BaseURL)
	notifier := notification.NewMultiNotifier(cfg.Notify)

	// 后台 Worker
	workerServer := worker.NewServer(cfg.Redis, reviewCfg, sqlService, archiveService, renderer, notifier, logger.Get())

	// 归档定时调度
	scheduler := archive.NewScheduler(db, rdb, queueClient, cfg.Archive.CronSpec,
		time.Duration(cfg.Archive.LeaseSeconds)*time.Second)

	// HTTP 路由
	jwtService := auth.NewJWTService(cfg.Server.JWTSecret, "dbaudit")
	settings := audit.NewSettingsStore(db)

	router := gin.New()
	RegisterRoutes(router, jwtService, &Handlers{
		User:      handlers.NewUserHandler(db, jwtService, resolver),
		Audit:     handlers.NewAuditHandler(engine, settings, resolver),
		SQLReview: handlers.NewSQLReviewHandler(sqlService, reviewCfg),
		Query:     handlers.NewQueryHandler(queryService, reviewCfg),
		Archive:   handlers.NewArchiveHandler(archiveService, reviewCfg),
	})

	return &App{
		Router:           router,
		Worker:           workerServer,
		ArchiveScheduler: scheduler,
		Queue:            queueClient,
	}, nil
}
