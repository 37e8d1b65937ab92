package sqlreview

import (
	"context"
	"fmt"

	"dbaudit/internal/audit"
	"dbaudit/internal/checker"
	"dbaudit/internal/resource"

	"gorm.io/gorm"
)

// Decider SQL 上线工单的自动审核决策器，实现 audit.AutoReviewer。
// 决策本身是 audit.DecideAutoReview 的纯函数，这里只负责备齐输入：
// 工单正文、目标实例及标签、网关影响行数。
type Decider struct {
	db       *gorm.DB
	resolver *resource.Resolver
	checker  checker.Checker
}

// NewDecider 创建决策器
func NewDecider(db *gorm.DB, resolver *resource.Resolver, chk checker.Checker) *Decider {
	return &Decider{db: db, resolver: resolver, checker: chk}
}

// Decide 判定工单能否自动通过
func (d *Decider) Decide(ctx context.Context, cfg audit.ReviewConfig, p audit.Payload) (bool, error) {
	wf, ok := p.(*SqlWorkflow)
	if !ok {
		return false, nil
	}

	var content SqlWorkflowContent
	if err := d.db.WithContext(ctx).Where("workflow_id = ?", wf.ID).First(&content).Error; err != nil {
		return false, fmt.Errorf("查询工单内容失败: %w", err)
	}
	inst, err := d.resolver.GetInstance(ctx, wf.InstanceID)
	if err != nil {
		return false, err
	}
	tags, err := d.resolver.InstanceTags(ctx, wf.InstanceID)
	if err != nil {
		return false, err
	}

	return audit.DecideAutoReview(ctx, cfg, audit.AutoReviewInput{
		SQLContent:   content.SQLContent,
		DBType:       inst.DBType,
		InstanceTags: tags,
		ManualFlag:   wf.IsManual,
		UpdateAffectedRows: func(ctx context.Context) (int64, error) {
			set, err := d.checker.ExecuteCheck(ctx, inst, wf.DBName, content.SQLContent)
			if err != nil {
				return 0, err
			}
			return set.TotalAffectedRows(true), nil
		},
	})
}
