package worker

import (
	"context"

	"dbaudit/internal/audit"
	"dbaudit/internal/config"
	"dbaudit/internal/worker/handlers"
	"dbaudit/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

func NewServer(
	cfg config.RedisConfig,
	reviewCfg audit.ReviewConfig,
	executor handlers.WorkflowExecutor,
	archiveRunner handlers.ArchiveRunner,
	renderer handlers.MessageRenderer,
	sender handlers.MessageSender,
	logger *zap.Logger,
) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: 10, // 并发 worker 数
			Queues: map[string]int{
				"sqlreview": 6, // 工单执行优先级高
				"notify":    3,
				"default":   1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()

	// 注册通知处理器
	notifyHandler := handlers.NewNotifyHandler(renderer, sender, logger)
	mux.HandleFunc(tasks.TypeNotifyAudit, notifyHandler.HandleNotifyAudit)

	// 注册工单执行处理器
	executeHandler := handlers.NewExecuteHandler(executor, reviewCfg, logger)
	mux.HandleFunc(tasks.TypeExecuteWorkflow, executeHandler.HandleExecuteWorkflow)

	// 注册归档处理器
	archiveHandler := handlers.NewArchiveHandler(archiveRunner, logger)
	mux.HandleFunc(tasks.TypeRunArchive, archiveHandler.HandleRunArchive)

	return &Server{
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

// Run 启动 Worker 服务器
func (s *Server) Run() error {
	s.logger.Info("Worker 服务器启动中...")
	return s.server.Run(s.mux)
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	return s.server.Start(s.mux)
}

// Shutdown 停止 Worker 服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.server.Shutdown()
}
