package sqlreview

import (
	"context"
	"testing"

	"dbaudit/internal/audit"
	"dbaudit/internal/checker"
	"dbaudit/internal/resource"

	"github.com/stretchr/testify/require"
)

func autoReviewCfg() audit.ReviewConfig {
	return audit.ReviewConfig{
		Enabled:         true,
		HighRiskRegex:   "drop|truncate",
		MaxUpdateRows:   100,
		ExcludedDBTypes: []string{"redis"},
		RequiredTag:     "can_auto_review",
	}
}

func TestSubmitWorkflowAutoPass(t *testing.T) {
	env := newTestEnv(t, &fakeChecker{checkSet: cleanSet()})
	ctx := context.Background()
	require.NoError(t, env.db.Create(&resource.InstanceTag{InstanceID: 1, TagName: "can_auto_review"}).Error)

	// 决策器挂到引擎上，提交路径自动决策
	decider := NewDecider(env.db, resource.NewResolver(env.db), &fakeChecker{checkSet: cleanSet()})
	engine := audit.NewEngine(env.db, audit.WithAutoReviewer(decider))
	svc := NewService(env.db, engine, &fakeChecker{checkSet: cleanSet()}, env.queue, resource.NewResolver(env.db))

	wf, err := svc.SubmitWorkflow(ctx, autoReviewCfg(), SubmitRequest{
		WorkflowName: "小变更",
		GroupID:      1,
		GroupName:    "DBA组",
		InstanceID:   1,
		DBName:       "orders",
		SQLContent:   "update orders set state = 1 where id = 3;",
	}, audit.User{Username: "engineer1"})
	require.NoError(t, err)

	// 自动通过直接进入待执行，没有人工环节
	require.Equal(t, StatusReviewPass, wf.Status)
	rec, err := engine.GetAuditByWorkflow(ctx, wf.ID, audit.TypeSQLReview)
	require.NoError(t, err)
	require.Equal(t, audit.StatusPassed, rec.CurrentStatus)
	details, err := engine.ListDetails(ctx, rec.AuditID)
	require.NoError(t, err)
	require.Empty(t, details)
}

func TestDeciderManualFlagBlocksAutoPass(t *testing.T) {
	// 网关给出错误级别结果，工单标记人工，自动审核失效
	env := newTestEnv(t, &fakeChecker{checkSet: &checker.ReviewSet{
		Results:    []checker.ReviewResult{{OrderID: 1, ErrLevel: 2, ErrorMessage: "无法解析"}},
		ErrorCount: 1,
	}})
	ctx := context.Background()
	require.NoError(t, env.db.Create(&resource.InstanceTag{InstanceID: 1, TagName: "can_auto_review"}).Error)

	decider := NewDecider(env.db, resource.NewResolver(env.db), &fakeChecker{checkSet: cleanSet()})
	engine := audit.NewEngine(env.db, audit.WithAutoReviewer(decider))
	svc := NewService(env.db, engine, &fakeChecker{checkSet: &checker.ReviewSet{
		Results:    []checker.ReviewResult{{OrderID: 1, ErrLevel: 2, ErrorMessage: "无法解析"}},
		ErrorCount: 1,
	}}, env.queue, resource.NewResolver(env.db))

	wf, err := svc.SubmitWorkflow(ctx, autoReviewCfg(), SubmitRequest{
		WorkflowName: "可疑变更",
		GroupID:      1,
		GroupName:    "DBA组",
		InstanceID:   1,
		DBName:       "orders",
		SQLContent:   "update orders set state = 1;",
	}, audit.User{Username: "engineer1"})
	require.NoError(t, err)
	require.True(t, wf.IsManual)
	require.Equal(t, StatusManReviewing, wf.Status)
}

func TestDeciderAffectedRowsLimit(t *testing.T) {
	bigSet := &checker.ReviewSet{
		Results: []checker.ReviewResult{
			{OrderID: 1, SQL: "update orders set state = 1", AffectedRows: 5000},
		},
	}
	env := newTestEnv(t, &fakeChecker{checkSet: bigSet})
	ctx := context.Background()
	require.NoError(t, env.db.Create(&resource.InstanceTag{InstanceID: 1, TagName: "can_auto_review"}).Error)

	decider := NewDecider(env.db, resource.NewResolver(env.db), &fakeChecker{checkSet: bigSet})
	engine := audit.NewEngine(env.db, audit.WithAutoReviewer(decider))
	svc := NewService(env.db, engine, &fakeChecker{checkSet: bigSet}, env.queue, resource.NewResolver(env.db))

	wf, err := svc.SubmitWorkflow(ctx, autoReviewCfg(), SubmitRequest{
		WorkflowName: "大批量变更",
		GroupID:      1,
		GroupName:    "DBA组",
		InstanceID:   1,
		DBName:       "orders",
		SQLContent:   "update orders set state = 1;",
	}, audit.User{Username: "engineer1"})
	require.NoError(t, err)

	// 影响行数超限：走人工审批
	require.Equal(t, StatusManReviewing, wf.Status)
	rec, err := engine.GetAuditByWorkflow(ctx, wf.ID, audit.TypeSQLReview)
	require.NoError(t, err)
	require.Equal(t, audit.StatusWaiting, rec.CurrentStatus)
}
