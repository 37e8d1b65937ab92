package archive

import (
	"context"
	"fmt"
	"time"

	"dbaudit/internal/infra"
	"dbaudit/internal/infra/queue"
	"dbaudit/internal/logger"
	"dbaudit/internal/worker/tasks"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const leaseKey = "dbaudit:archive:scheduler:lease"

// Scheduler 周期性地把启用中的归档配置投递到执行队列。
// 多实例部署时通过 redis 租约保证同一轮只有一个实例投递。
type Scheduler struct {
	db     *gorm.DB
	rdb    *redis.Client
	queue  queue.Client
	cron   *cron.Cron
	spec   string
	lease  time.Duration
	logger *zap.Logger
}

// NewScheduler 创建归档调度器
func NewScheduler(db *gorm.DB, rdb *redis.Client, q queue.Client, cronSpec string, lease time.Duration) *Scheduler {
	return &Scheduler{
		db:     db,
		rdb:    rdb,
		queue:  q,
		cron:   cron.New(),
		spec:   cronSpec,
		lease:  lease,
		logger: logger.Get(),
	}
}

// Start 注册定时任务并启动调度
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.runOnce(ctx); err != nil {
			s.logger.Error("归档调度执行失败", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("注册归档调度任务失败: %w", err)
	}
	s.cron.Start()
	s.logger.Info("归档调度器已启动", zap.String("cron", s.spec))
	return nil
}

// Stop 停止调度，等待进行中的投递完成
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) runOnce(ctx context.Context) error {
	ok, err := infra.AcquireLease(ctx, s.rdb, leaseKey, s.lease)
	if err != nil {
		return fmt.Errorf("获取调度租约失败: %w", err)
	}
	if !ok {
		// 另一实例已在本轮投递
		return nil
	}

	var configs []ArchiveConfig
	if err := s.db.WithContext(ctx).
		Where("state = ?", true).
		Find(&configs).Error; err != nil {
		return fmt.Errorf("查询启用的归档配置失败: %w", err)
	}

	var enqueued int
	for _, conf := range configs {
		if err := s.queue.EnqueueArchive(tasks.RunArchivePayload{ArchiveID: conf.ID}); err != nil {
			s.logger.Warn("归档任务入队失败",
				zap.Uint("archive_id", conf.ID), zap.Error(err))
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		s.logger.Info("归档任务已入队", zap.Int("count", enqueued))
	}
	return nil
}
